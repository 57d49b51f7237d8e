package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fraser/firewarden/internal/session"
)

// NewResolveCommand prints the suggested outcome for a module instance
// without saving anything.
func NewResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <document-id> <module-key>",
		Short: "Derive the suggested outcome for a module instance",
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

			suggestion, ok := sess.Suggest()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "No suggestion: not enough answered fields for any rule to apply.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Suggested outcome: %s (rule %s)\n%s\n",
				suggestion.Outcome, suggestion.Rule, suggestion.Rationale)
			return nil
		},
	}
}
