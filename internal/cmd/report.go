package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fraser/firewarden/internal/report"
)

// NewReportCommand renders the document rollups: executive summary,
// risk-score table and recommendations register.
func NewReportCommand() *cobra.Command {
	var asHTML bool
	var outPath string

	cmd := &cobra.Command{
		Use:   "report <document-id>",
		Short: "Render the document rollup report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			reporter := report.New(app.store, app.cat, app.cfg.Report.TopContributors)

			summary, err := reporter.ExecutiveSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			table, err := reporter.RiskScoreTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			register, err := reporter.RecommendationsRegister(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}

			output := strings.Join([]string{summary, table, register}, "\n")
			if asHTML {
				output, err = report.RenderHTML("Assessment report "+args[0], output)
				if err != nil {
					return err
				}
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, []byte(output), 0644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", outPath)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), output)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asHTML, "html", false, "render HTML instead of markdown")
	cmd.Flags().StringVar(&outPath, "out", "", "write the report to a file")
	return cmd
}
