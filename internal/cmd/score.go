package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fraser/firewarden/internal/score"
	"github.com/fraser/firewarden/internal/session"
)

// NewScoreCommand prints the weighted score breakdown for a rated module.
func NewScoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "score <document-id> <module-key>",
		Short: "Show the weighted score breakdown for a rated module",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := session.Open(cmd.Context(), app.store, app.cat, app.syncer, app.log, args[0], args[1])
			if err != nil {
				return err
			}
			schema := sess.Schema()
			if len(schema.Factors) == 0 {
				return fmt.Errorf("module %s has no rated factors", schema.Key)
			}

			factors := schema.FactorsFrom(sess.Fields())
			result := score.Score(factors)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n\n", schema.Title)
			for _, sf := range result.PerFactor {
				fmt.Fprintf(out, "%-32s rating %d  weight %.1f  score %.1f\n",
					sf.Label, sf.Rating.OrNeutral(), sf.Weight, sf.Score)
			}
			fmt.Fprintf(out, "\nTotal: %.1f\n", result.Total)

			groups, order := score.GroupByPeril(factors)
			for _, group := range order {
				fmt.Fprintf(out, "Pillar %s: %d\n", group, score.Pillar(groups[group]))
			}
			return nil
		},
	}
}
