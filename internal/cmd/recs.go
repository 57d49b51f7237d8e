package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fraser/firewarden/internal/report"
)

// NewRecsCommand prints the recommendations register for a document.
func NewRecsCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "recs <document-id>",
		Short: "Show the recommendations register for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			reporter := report.New(app.store, app.cat, app.cfg.Report.TopContributors)
			md, err := reporter.RecommendationsRegister(cmd.Context(), args[0], all)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include completed entries")
	return cmd
}
