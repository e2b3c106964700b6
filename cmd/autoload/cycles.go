package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greenbuild/autoload/pkg/assessment"
)

func newCyclesCmd(current func() *settings) *cobra.Command {
	cyclesCmd := &cobra.Command{
		Use:   "cycles",
		Short: "Manage reporting cycles",
	}

	var start, end string
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a reporting cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			from, err := assessment.ParseDate(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := assessment.ParseDate(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if to.Before(from) {
				return errors.New("a cycle must not end before it starts")
			}

			app, err := openApp(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer app.Close()

			cycle, err := app.Records.CreateCycle(cmd.Context(), s.Actor.Organization, args[0], from, to)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), s.Output, cycle,
				[]string{"id", "name", "start", "end"},
				[][]string{{cycle.ID, cycle.Name, formatDate(cycle.Start), formatDate(cycle.End)}})
		},
	}
	createCmd.Flags().StringVar(&start, "start", "", "First day of the cycle (YYYY-MM-DD)")
	createCmd.Flags().StringVar(&end, "end", "", "Last day of the cycle (YYYY-MM-DD)")
	_ = createCmd.MarkFlagRequired("start")
	_ = createCmd.MarkFlagRequired("end")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List reporting cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			app, err := openApp(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer app.Close()

			cycles, err := app.Records.ListCycles(cmd.Context(), s.Actor.Organization)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(cycles))
			for _, c := range cycles {
				rows = append(rows, []string{c.ID, c.Name, formatDate(c.Start), formatDate(c.End)})
			}
			return printOutput(cmd.OutOrStdout(), s.Output, cycles, []string{"id", "name", "start", "end"}, rows)
		},
	}

	cyclesCmd.AddCommand(createCmd, listCmd)
	return cyclesCmd
}
