package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/greenbuild/autoload/pkg/autoload"
	"github.com/greenbuild/autoload/pkg/pipeline"
)

// certificationOutput is the printable outcome of one certification.
type certificationOutput struct {
	Index      int    `json:"index"`
	Address    string `json:"address"`
	Outcome    string `json:"outcome"`
	PropertyID string `json:"propertyId,omitempty"`
	Revision   int    `json:"revision,omitempty"`
	Error      string `json:"error,omitempty"`
}

type importOutput struct {
	Import         *pipeline.Result      `json:"import"`
	Certifications []certificationOutput `json:"certifications,omitempty"`
	Failed         int                   `json:"failed"`
}

var certificationHeaders = []string{"#", "address", "outcome", "property", "revision", "error"}

func certificationOutputs(certs []autoload.Certification, results []autoload.CertificationResult) []certificationOutput {
	out := make([]certificationOutput, 0, len(results))
	for _, r := range results {
		o := certificationOutput{Index: r.Index, Address: certs[r.Index].Key.Address}
		switch {
		case r.Err != nil:
			o.Outcome = "failed"
			o.Error = r.Err.Error()
		case r.Result.Created:
			o.Outcome = "created"
		default:
			o.Outcome = "updated"
		}
		if r.Result != nil && r.Result.Property != nil {
			o.PropertyID = r.Result.Property.ID
			o.Revision = r.Result.Property.Revision
		}
		out = append(out, o)
	}
	return out
}

func certificationRows(outs []certificationOutput) [][]string {
	rows := make([][]string, 0, len(outs))
	for _, o := range outs {
		rev := ""
		if o.Revision > 0 {
			rev = strconv.Itoa(o.Revision)
		}
		rows = append(rows, []string{strconv.Itoa(o.Index), o.Address, o.Outcome, o.PropertyID, rev, o.Error})
	}
	return rows
}

func newImportCmd(current func() *settings) *cobra.Command {
	var (
		cycleID      string
		dataset      string
		mappingsPath string
		certsPath    string
	)

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a building file and optionally attach certifications",
		Long: `import uploads FILE, maps its columns with the --mappings file and
matches the rows to property views in the cycle. With --certifications it
then upserts each certification in the file; a failed certification is
reported and the rest still run.

Mappings are a YAML or JSON list of {from_field, to_field, to_table_name}.
Certifications are a YAML or JSON list of {address, postalCode, cycleId, data}.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			mappings, err := readMappings(mappingsPath)
			if err != nil {
				return err
			}
			var certs []autoload.Certification
			if certsPath != "" {
				if certs, err = readCertifications(certsPath); err != nil {
					return err
				}
			}
			if dataset == "" {
				dataset = filepath.Base(args[0])
			}

			app, err := openApp(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer app.Close()

			req := pipeline.Request{
				Actor:       s.Actor,
				DatasetName: dataset,
				CycleID:     cycleID,
				Filename:    filepath.Base(args[0]),
				Data:        data,
				Mappings:    mappings,
			}

			var out importOutput
			err = withWorkers(cmd.Context(), app, func(ctx context.Context) error {
				batch, err := app.Service.ImportAndAssess(ctx, req, certs)
				if batch != nil {
					out.Import = batch.Import
					out.Certifications = certificationOutputs(certs, batch.Certifications)
					out.Failed = batch.Failed()
				}
				return err
			})
			if err != nil {
				if out.Import != nil && out.Import.ImportFileID != "" {
					return fmt.Errorf("import %s failed at %s: %w", out.Import.ImportFileID, out.Import.Stage, err)
				}
				return err
			}

			if err := printOutput(cmd.OutOrStdout(), s.Output, out, certificationHeaders, certificationRows(out.Certifications)); err != nil {
				return err
			}
			if out.Failed > 0 {
				return fmt.Errorf("%d of %d certifications failed", out.Failed, len(certs))
			}
			return nil
		},
	}
	f := importCmd.Flags()
	f.StringVar(&cycleID, "cycle", "", "Cycle to import into")
	f.StringVar(&dataset, "dataset", "", "Dataset name (default: the file name)")
	f.StringVar(&mappingsPath, "mappings", "", "Column mappings file (YAML or JSON)")
	f.StringVar(&certsPath, "certifications", "", "Certifications file (YAML or JSON)")
	_ = importCmd.MarkFlagRequired("cycle")
	_ = importCmd.MarkFlagRequired("mappings")
	return importCmd
}
