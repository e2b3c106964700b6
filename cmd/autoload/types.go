package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/greenbuild/autoload/pkg/assessment"
)

var assessmentTypeHeaders = []string{"id", "name", "award body", "numeric", "integer", "validity days"}

func assessmentTypeRow(a *assessment.GreenAssessment) []string {
	return []string{
		a.ID,
		a.Name,
		a.AwardBody,
		strconv.FormatBool(a.IsNumericScore),
		strconv.FormatBool(a.IsIntegerScore),
		strconv.Itoa(a.ValidityDays),
	}
}

func newTypesCmd(current func() *settings) *cobra.Command {
	typesCmd := &cobra.Command{
		Use:     "types",
		Aliases: []string{"assessment-types"},
		Short:   "Manage green assessment types",
	}

	var a assessment.GreenAssessment
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a green assessment type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			app, err := openApp(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer app.Close()

			typ := a
			typ.OrganizationID = s.Actor.Organization
			typ.Name = args[0]
			if err := app.Service.Engine().Store().CreateAssessmentType(cmd.Context(), &typ); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), s.Output, typ, assessmentTypeHeaders, [][]string{assessmentTypeRow(&typ)})
		},
	}
	f := createCmd.Flags()
	f.StringVar(&a.AwardBody, "award-body", "", "Body awarding the assessment")
	f.StringVar(&a.RecognitionType, "recognition-type", "", "Recognition type, such as SCORE or CERT")
	f.StringVar(&a.Description, "description", "", "Description")
	f.BoolVar(&a.IsNumericScore, "numeric", false, "The metric is a numeric score")
	f.BoolVar(&a.IsIntegerScore, "integer", false, "The numeric score is an integer")
	f.IntVar(&a.ValidityDays, "validity-days", 0, "Days an assessment stays valid after its issue date")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List green assessment types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := current()
			app, err := openApp(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer app.Close()

			types, err := app.Service.Engine().Store().ListAssessmentTypes(cmd.Context(), s.Actor.Organization)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(types))
			for i := range types {
				rows = append(rows, assessmentTypeRow(&types[i]))
			}
			return printOutput(cmd.OutOrStdout(), s.Output, types, assessmentTypeHeaders, rows)
		},
	}

	typesCmd.AddCommand(createCmd, listCmd)
	return typesCmd
}
