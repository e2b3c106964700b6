package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greenbuild/autoload/pkg/autoload"
)

func newAssessCmd(current func() *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "assess FILE",
		Short: "Attach certifications to already imported buildings",
		Long: `assess upserts each certification in FILE, a YAML or JSON list of
{address, postalCode, cycleId, data}. data holds the assessment fields:
assessment, source, status, status_date, metric, rating, version, date,
target_date, eligibility, reference_id, urls and measurements.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			certs, err := readCertifications(args[0])
			if err != nil {
				return err
			}

			app, err := openApp(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer app.Close()

			results := make([]autoload.CertificationResult, 0, len(certs))
			failed := 0
			for i, c := range certs {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				res, err := app.Service.UpsertAssessment(cmd.Context(), s.Actor, c.Key, c.Payload)
				if err != nil {
					failed++
				}
				results = append(results, autoload.CertificationResult{Index: i, Result: res, Err: err})
			}

			outs := certificationOutputs(certs, results)
			if err := printOutput(cmd.OutOrStdout(), s.Output, outs, certificationHeaders, certificationRows(outs)); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d certifications failed", failed, len(certs))
			}
			return nil
		},
	}
}
