package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fraser/firewarden/internal/catalogue"
	"github.com/fraser/firewarden/internal/fieldset"
	"github.com/fraser/firewarden/internal/session"
)

// NewShowCommand prints a module instance's current answers and the
// suggested outcome.
func NewShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <document-id> <module-key>",
		Short: "Show a module instance's answers and suggested outcome",
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

			out := cmd.OutOrStdout()
			schema := sess.Schema()
			fmt.Fprintf(out, "%s (%s)\n\n", schema.Title, schema.Key)

			fields := sess.Fields()
			if fields.Len() == 0 {
				fmt.Fprintln(out, "No answers recorded yet.")
			}
			for _, f := range schema.Fields {
				if !fields.Has(f.Key) {
					continue
				}
				fmt.Fprintf(out, "%-32s %v\n", f.Label, displayValue(fields, f.Key, f.Kind))
			}

			if suggestion, ok := sess.Suggest(); ok {
				fmt.Fprintf(out, "\nSuggested outcome: %s\n%s\n", suggestion.Outcome, suggestion.Rationale)
			} else {
				fmt.Fprintln(out, "\nNo outcome suggestion yet (insufficient answers).")
			}

			inst := sess.Instance()
			if inst.Outcome != nil {
				fmt.Fprintf(out, "Confirmed outcome: %s\n", *inst.Outcome)
			}
			if inst.AssessorNotes != "" {
				fmt.Fprintf(out, "Assessor notes: %s\n", inst.AssessorNotes)
			}
			return nil
		},
	}
}

// displayValue formats a field's value for terminal output using its
// declared kind.
func displayValue(fs *fieldset.FieldSet, key, kind string) any {
	switch kind {
	case catalogue.KindEnum:
		return fs.Enum(key)
	case catalogue.KindNumber:
		return fs.Num(key)
	case catalogue.KindBool:
		return fs.Bool(key)
	case catalogue.KindList:
		return strings.Join(fs.List(key), ", ")
	case catalogue.KindObject:
		return fmt.Sprintf("(%d nested fields)", fs.Nested(key).Len())
	}
	return fs.Str(key)
}
