package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newHistoryCmd(current func() *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "history PROPERTY_ID",
		Short: "Show the revision history of an assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			app, err := openApp(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer app.Close()

			revisions, err := app.Service.Engine().History(cmd.Context(), s.Actor, args[0])
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(revisions))
			for _, r := range revisions {
				row := []string{r.Entry.ID, string(r.Entry.RecordType), r.Entry.Actor, r.Entry.CreatedAt.Format("2006-01-02 15:04:05"), strings.Join(r.Entry.ChangedFields, ","), "", ""}
				if r.Property != nil {
					row[5] = r.Property.ID
					row[6] = strconv.Itoa(r.Property.Revision)
				}
				rows = append(rows, row)
			}
			return printOutput(cmd.OutOrStdout(), s.Output, revisions,
				[]string{"entry", "type", "actor", "at", "changed", "property", "revision"}, rows)
		},
	}
}
