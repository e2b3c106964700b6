// Package main provides the autoload CLI. It runs imports and assessment
// upserts in-process against the configured database and storage.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/greenbuild/autoload/pkg/autoload"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

var version = "dev"

// settings is the resolved configuration of one invocation.
type settings struct {
	Actor   tenancy.Actor
	Output  string
	Migrate bool
	Config  *autoload.Config
	Logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var s *settings

	rootCmd := &cobra.Command{
		Use:   "autoload",
		Short: "Import building data and attach green assessments",
		Long: `autoload imports building files and attaches green assessment records
to the matched property views.

Every command runs against the database and storage named by the flags,
the AUTOLOAD_* environment variables or the --config file, in that order.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			s, err = loadSettings(v, cmd.ErrOrStderr())
			return err
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("db-driver", "", "Database driver: sqlite, postgres or mysql")
	flags.String("db-dsn", "", "Database DSN")
	flags.String("storage-type", "", "Storage backend: local or s3")
	flags.String("media-root", "", "Root directory of the local storage backend")
	flags.String("org", tenancy.DefaultOrganization, "Organization to act in")
	flags.String("user", currentUser(), "User recorded on audit entries")
	flags.StringP("output", "o", "yaml", "Output format: table, json, yaml")
	flags.Bool("migrate", true, "Migrate the database before running")
	flags.BoolP("verbose", "v", false, "Log at debug level")
	bindFlags(v, flags)

	current := func() *settings { return s }
	rootCmd.AddCommand(newCyclesCmd(current))
	rootCmd.AddCommand(newTypesCmd(current))
	rootCmd.AddCommand(newImportCmd(current))
	rootCmd.AddCommand(newAssessCmd(current))
	rootCmd.AddCommand(newHistoryCmd(current))
	rootCmd.AddCommand(newExportCmd(current))
	rootCmd.AddCommand(newHealthcheckCmd())
	return rootCmd
}

// bindFlags binds every flag to viper. Flag names map to AUTOLOAD_* variables
// with dashes turned into underscores.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	v.SetEnvPrefix("AUTOLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

// loadSettings layers flags, environment and config file over the
// environment defaults of each component.
func loadSettings(v *viper.Viper, stderr io.Writer) (*settings, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := autoload.ConfigFromEnv()
	if d := v.GetString("db-driver"); d != "" {
		cfg.Database.Driver = strings.ToLower(d)
	}
	if dsn := v.GetString("db-dsn"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if st := v.GetString("storage-type"); st != "" {
		cfg.Storage.Type = strings.ToLower(st)
	}
	if root := v.GetString("media-root"); root != "" {
		cfg.Storage.MediaRoot = root
	}

	output := strings.ToLower(v.GetString("output"))
	switch output {
	case "table", "json", "yaml":
	default:
		return nil, fmt.Errorf("unsupported output format %q (use table, json or yaml)", output)
	}

	level := slog.LevelWarn
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	s := &settings{
		Actor:   tenancy.Actor{Organization: v.GetString("org"), User: v.GetString("user")},
		Output:  output,
		Migrate: v.GetBool("migrate"),
		Config:  cfg,
		Logger:  logger,
	}
	if err := s.Actor.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// openApp opens the app and migrates it unless --migrate=false.
func openApp(ctx context.Context, s *settings) (*autoload.App, error) {
	app, err := autoload.Open(ctx, s.Config, nil, s.Logger)
	if err != nil {
		return nil, err
	}
	if s.Migrate {
		if err := app.Migrate(ctx, s.Config.Lock); err != nil {
			app.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return app, nil
}

// withWorkers runs fn while an in-process worker pool executes import tasks.
func withWorkers(ctx context.Context, app *autoload.App, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.NewWorkerPool().Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})
	return g.Wait()
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "autoload"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
