package main

import (
	"github.com/spf13/cobra"
)

func newExportCmd(current func() *settings) *cobra.Command {
	var target string
	exportCmd := &cobra.Command{
		Use:   "export PROPERTY_ID",
		Short: "Record that an assessment was exported",
		Long: `export appends an export entry to the assessment's audit lineage.
Export entries never become the parent of a later revision.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			app, err := openApp(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer app.Close()

			entry, err := app.Service.Engine().RecordExport(cmd.Context(), s.Actor, args[0], target)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), s.Output, entry,
				[]string{"entry", "subject", "description"},
				[][]string{{entry.ID, entry.SubjectID, entry.Description}})
		},
	}
	exportCmd.Flags().StringVar(&target, "target", "", "Where the assessment was exported to")
	_ = exportCmd.MarkFlagRequired("target")
	return exportCmd
}
