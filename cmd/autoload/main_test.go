package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cli runs the root command against one SQLite database and media root.
type cli struct {
	t    *testing.T
	base []string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("AUTOLOAD_MIGRATION_LOCK_ENABLED", "false")
	t.Setenv("AUTOLOAD_DB_LOG_LEVEL", "silent")
	t.Setenv("AUTOLOAD_JOB_POLL_INTERVAL_MS", "10")
	t.Setenv("AUTOLOAD_WAIT_INTERVAL_MS", "500")
	t.Setenv("AUTOLOAD_WAIT_MAX_INTERVAL_MS", "500")
	t.Setenv("AUTOLOAD_WAIT_TIMEOUT_SECONDS", "30")
	dir := t.TempDir()
	return &cli{t: t, base: []string{
		"--db-driver", "sqlite",
		"--db-dsn", filepath.Join(dir, "autoload.db"),
		"--media-root", filepath.Join(dir, "media"),
		"--org", "org-1",
		"--user", "alice",
	}}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(append([]string{}, c.base...), args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) json(out any, args ...string) {
	c.t.Helper()
	stdout, err := c.run(append([]string{"-o", "json"}, args...)...)
	require.NoError(c.t, err, stdout)
	require.NoError(c.t, json.Unmarshal([]byte(stdout), out), stdout)
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("AUTOLOAD_DB_DRIVER", "postgres")
	t.Setenv("AUTOLOAD_DB_DSN", "host=env")
	t.Setenv("AUTOLOAD_ORG", "org-env")

	t.Run("env", func(t *testing.T) {
		cmd := newRootCmd()
		v := viper.New()
		bindFlags(v, cmd.PersistentFlags())
		s, err := loadSettings(v, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, "postgres", s.Config.Database.Driver)
		assert.Equal(t, "host=env", s.Config.Database.DSN)
		assert.Equal(t, "org-env", s.Actor.Organization)
		assert.Equal(t, "yaml", s.Output)
		assert.True(t, s.Migrate)
	})

	t.Run("flags win over env", func(t *testing.T) {
		cmd := newRootCmd()
		v := viper.New()
		bindFlags(v, cmd.PersistentFlags())
		require.NoError(t, cmd.PersistentFlags().Parse([]string{"--db-dsn", "host=flag", "--org", "org-flag", "-o", "JSON"}))
		s, err := loadSettings(v, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, "host=flag", s.Config.Database.DSN)
		assert.Equal(t, "org-flag", s.Actor.Organization)
		assert.Equal(t, "json", s.Output)
	})

	t.Run("config file", func(t *testing.T) {
		t.Setenv("AUTOLOAD_ORG", "")
		path := writeFile(t, "autoload.yaml", "storage-type: s3\nmedia-root: /srv/media\norg: org-file\nmigrate: false\n")
		cmd := newRootCmd()
		v := viper.New()
		bindFlags(v, cmd.PersistentFlags())
		require.NoError(t, cmd.PersistentFlags().Parse([]string{"--config", path}))
		s, err := loadSettings(v, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, "s3", s.Config.Storage.Type)
		assert.Equal(t, "/srv/media", s.Config.Storage.MediaRoot)
		assert.Equal(t, "org-file", s.Actor.Organization)
		assert.False(t, s.Migrate)
	})

	t.Run("bad output", func(t *testing.T) {
		cmd := newRootCmd()
		v := viper.New()
		bindFlags(v, cmd.PersistentFlags())
		require.NoError(t, cmd.PersistentFlags().Parse([]string{"-o", "xml"}))
		_, err := loadSettings(v, io.Discard)
		assert.ErrorContains(t, err, "unsupported output format")
	})
}

func TestCLIImportAssessHistoryExport(t *testing.T) {
	c := newCLI(t)

	var cycle struct {
		ID string `json:"id"`
	}
	c.json(&cycle, "cycles", "create", "2017", "--start", "2017-01-01", "--end", "2017-12-31")
	require.NotEmpty(t, cycle.ID)

	var typ struct {
		ID             string `json:"id"`
		IsNumericScore bool   `json:"isNumericScore"`
	}
	c.json(&typ, "types", "create", "Home Energy Score", "--numeric", "--integer", "--validity-days", "365")
	require.NotEmpty(t, typ.ID)
	assert.True(t, typ.IsNumericScore)

	table, err := c.run("-o", "table", "types", "list")
	require.NoError(t, err)
	assert.Contains(t, table, "Home Energy Score")
	assert.True(t, strings.HasPrefix(table, "ID"))

	data := writeFile(t, "scores.csv", "Address,Score\n123 Test Road,10\n456 Other Street,20\n")
	mappings := writeFile(t, "mappings.yaml", `
- from_field: Address
  to_field: address_line_1
- from_field: Score
  to_field: energy_score
`)
	certs := writeFile(t, "certs.yaml", `
- address: 123 Test Road
  data:
    assessment: `+typ.ID+`
    metric: 10
    date: 2017-07-10
`)

	var imported struct {
		Import struct {
			Status       string `json:"status"`
			ImportFileID string `json:"import_file_id"`
		} `json:"import"`
		Certifications []certificationOutput `json:"certifications"`
		Failed         int                   `json:"failed"`
	}
	c.json(&imported, "import", data, "--cycle", cycle.ID, "--mappings", mappings, "--certifications", certs)
	assert.Equal(t, "success", imported.Import.Status)
	require.Len(t, imported.Certifications, 1)
	assert.Equal(t, "created", imported.Certifications[0].Outcome)
	assert.Zero(t, imported.Failed)

	revise := writeFile(t, "revise.yaml", `
- address: 123 test rd
  data:
    assessment: `+typ.ID+`
    metric: 11
- address: 999 Nowhere Lane
  data:
    assessment: `+typ.ID+`
`)
	out, err := c.run("-o", "json", "assess", revise)
	require.ErrorContains(t, err, "1 of 2 certifications failed")
	var assessed []certificationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &assessed))
	require.Len(t, assessed, 2)
	assert.Equal(t, "updated", assessed[0].Outcome)
	assert.Equal(t, 2, assessed[0].Revision)
	assert.Equal(t, "failed", assessed[1].Outcome)
	assert.Contains(t, assessed[1].Error, "no property")

	var history []struct {
		Entry struct {
			RecordType string `json:"recordType"`
		} `json:"entry"`
		Property *struct {
			Revision int `json:"revision"`
		} `json:"property"`
	}
	c.json(&history, "history", assessed[0].PropertyID)
	require.Len(t, history, 2)
	require.NotNil(t, history[0].Property)
	assert.Equal(t, 2, history[0].Property.Revision)

	var entry struct {
		Description string `json:"description"`
	}
	c.json(&entry, "export", assessed[0].PropertyID, "--target", "hpxml")
	assert.Equal(t, "exported to hpxml", entry.Description)

	c.json(&history, "history", assessed[0].PropertyID)
	assert.Len(t, history, 2)
}

func TestCLIOtherOrganizationSeesNothing(t *testing.T) {
	c := newCLI(t)
	var cycle struct {
		ID string `json:"id"`
	}
	c.json(&cycle, "cycles", "create", "2017", "--start", "2017-01-01", "--end", "2017-12-31")

	var cycles []any
	c.json(&cycles, "--org", "org-2", "cycles", "list")
	assert.Empty(t, cycles)
}

func TestCLIValidation(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("cycles", "create", "2017", "--start", "2017-12-31", "--end", "2017-01-01")
	assert.ErrorContains(t, err, "must not end before")

	_, err = c.run("cycles", "create", "2017", "--start", "2017-01-01")
	assert.ErrorContains(t, err, "required flag")

	_, err = c.run("history", "no-such-property")
	assert.Error(t, err)
}

func TestHealthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	run := func(url string) error {
		cmd := newRootCmd()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"healthcheck", url})
		return cmd.Execute()
	}
	assert.NoError(t, run(srv.URL+"/healthz"))
	assert.ErrorContains(t, run(srv.URL+"/readyz"), "status 503")
}
