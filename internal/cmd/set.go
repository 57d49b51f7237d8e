package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fraser/firewarden/internal/catalogue"
	"github.com/fraser/firewarden/internal/fieldset"
	"github.com/fraser/firewarden/internal/models"
	"github.com/fraser/firewarden/internal/session"
)

// NewSetCommand edits fields of a module instance and saves.
func NewSetCommand() *cobra.Command {
	var outcomeFlag string
	var notesFlag string
	var carryFrom string

	cmd := &cobra.Command{
		Use:   "set <document-id> <module-key> <key=value>...",
		Short: "Set module answers and save",
		Long: `Set one or more answers on a module instance and save the whole
document. Values are parsed against the module schema: enum answers as tags,
numbers (including factor ratings) as integers or decimals, booleans as
true/false, lists as comma-separated values.

The saved outcome defaults to the rule table's suggestion; pass --outcome to
confirm a different verdict.`,
		Args: cobra.MinimumNArgs(3),
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
			if carryFrom != "" {
				if err := sess.CarryForward(cmd.Context(), carryFrom); err != nil {
					return err
				}
			}

			schema := sess.Schema()
			for _, pair := range args[2:] {
				key, raw, found := strings.Cut(pair, "=")
				if !found {
					return fmt.Errorf("argument %q is not key=value", pair)
				}
				value, err := parseValue(schema, key, raw)
				if err != nil {
					return err
				}
				if rating, ok := value.(models.Rating); ok {
					sess.SetRating(key, rating)
					continue
				}
				sess.SetField(key, value)
			}

			outcome, err := resolveOutcome(sess, outcomeFlag)
			if err != nil {
				return err
			}
			if err := sess.Save(cmd.Context(), outcome, notesFlag); err != nil {
				return err
			}
			// Drain the detached rating sync before cleanup closes the store.
			sess.Wait()

			if outcome != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s/%s with outcome %s\n", args[0], args[1], *outcome)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s/%s (outcome not confirmed)\n", args[0], args[1])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outcomeFlag, "outcome", "", "confirmed outcome (defaults to the suggestion)")
	cmd.Flags().StringVar(&notesFlag, "notes", "", "assessor notes")
	cmd.Flags().StringVar(&carryFrom, "carry-from", "", "pre-populate an empty module from this prior document id")
	return cmd
}

// resolveOutcome picks the confirmed outcome: an explicit flag wins, then
// the rule table suggestion, then none. No suggestion never defaults to
// compliant.
func resolveOutcome(sess *session.Session, flag string) (*models.Outcome, error) {
	if flag != "" {
		o := models.Outcome(flag)
		if !o.Valid() {
			return nil, fmt.Errorf("unknown outcome %q", flag)
		}
		return &o, nil
	}
	if suggestion, ok := sess.Suggest(); ok {
		return &suggestion.Outcome, nil
	}
	return nil, nil
}

// parseValue converts a raw CLI value using the schema's field kind.
// Unknown keys are accepted as strings: stored documents may carry fields
// the current schema no longer declares.
func parseValue(schema *catalogue.Schema, key, raw string) (any, error) {
	var def *catalogue.FieldDef
	for i := range schema.Fields {
		if schema.Fields[i].Key == key {
			def = &schema.Fields[i]
			break
		}
	}
	if def == nil {
		return raw, nil
	}

	switch def.Kind {
	case catalogue.KindEnum:
		if len(def.Options) > 0 && raw != fieldset.Unknown && !contains(def.Options, raw) {
			return nil, fmt.Errorf("field %s: %q is not one of %s", key, raw, strings.Join(def.Options, ", "))
		}
		return raw, nil
	case catalogue.KindNumber:
		if isFactor(schema, key) {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("field %s: rating must be an integer: %w", key, err)
			}
			return models.Rating(n), nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: not a number: %w", key, err)
		}
		return f, nil
	case catalogue.KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: not a boolean: %w", key, err)
		}
		return b, nil
	case catalogue.KindList:
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
	return raw, nil
}

func isFactor(schema *catalogue.Schema, key string) bool {
	for _, f := range schema.Factors {
		if f.Key == key {
			return true
		}
	}
	return false
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}
