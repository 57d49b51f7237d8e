// Package rules implements the declarative outcome-suggestion engine: each
// module declares an ordered table of predicate rules over its FieldSet and
// the resolver returns the first match. Evaluation is pure - predicates do
// no I/O and never fail; absent fields read as unknown.
package rules

import (
	"fmt"

	"github.com/fraser/firewarden/internal/fieldset"
	"github.com/fraser/firewarden/internal/models"
)

// Predicate evaluates one rule condition against a FieldSet.
// Implementations must be side-effect-free and total.
type Predicate func(fs *fieldset.FieldSet) bool

// Rationale produces the human-readable explanation shown alongside a
// suggested outcome. It receives the same FieldSet the predicate inspected.
type Rationale func(fs *fieldset.FieldSet) string

// Rule pairs a predicate with its resulting outcome. Rules are declared
// statically per module and evaluated in declaration order.
type Rule struct {
	Name      string
	Predicate Predicate
	Outcome   models.Outcome
	Rationale Rationale
}

// Suggestion is a resolved outcome plus the rationale that produced it.
// A Suggestion is advisory: the assessor confirms or overrides it.
type Suggestion struct {
	Outcome   models.Outcome
	Rationale string
	Rule      string
}

// Table is one module's ordered rule set. First match wins, so severe rules
// must be declared ahead of milder ones.
type Table struct {
	ModuleKey string
	Rules     []Rule
}

// Resolve evaluates the table against fs and returns the first matching
// rule's suggestion. The second return is false when no rule matched;
// callers must not read that as compliant - it means no suggestion.
func (t *Table) Resolve(fs *fieldset.FieldSet) (Suggestion, bool) {
	if fs == nil {
		fs = fieldset.New()
	}
	for _, rule := range t.Rules {
		if rule.Predicate == nil || !rule.Predicate(fs) {
			continue
		}
		s := Suggestion{Outcome: rule.Outcome, Rule: rule.Name}
		if rule.Rationale != nil {
			s.Rationale = rule.Rationale(fs)
		}
		return s, true
	}
	return Suggestion{}, false
}

// Validate checks the table for declaration mistakes: unnamed rules, nil
// predicates, outcomes outside the closed enum, and mild rules declared
// ahead of strictly more severe ones (which the first-match policy would
// silently shadow).
func (t *Table) Validate() error {
	if t.ModuleKey == "" {
		return fmt.Errorf("rule table missing module key")
	}
	maxSeen := models.OutcomeCompliant
	for i, rule := range t.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d in %s has no name", i, t.ModuleKey)
		}
		if rule.Predicate == nil {
			return fmt.Errorf("rule %q in %s has no predicate", rule.Name, t.ModuleKey)
		}
		if !rule.Outcome.Valid() {
			return fmt.Errorf("rule %q in %s has unknown outcome %q", rule.Name, t.ModuleKey, rule.Outcome)
		}
		if i > 0 && rule.Outcome.MoreSevereThan(maxSeen) {
			return fmt.Errorf("rule %q in %s: outcome %s declared after milder rules, earlier matches would shadow it",
				rule.Name, t.ModuleKey, rule.Outcome)
		}
		if rule.Outcome.MoreSevereThan(maxSeen) {
			maxSeen = rule.Outcome
		}
	}
	return nil
}

// CountEqual returns the number of listed keys whose enum value equals want.
func CountEqual(fs *fieldset.FieldSet, keys []string, want string) int {
	n := 0
	for _, key := range keys {
		if fs.Enum(key) == want {
			n++
		}
	}
	return n
}

// CountUnknown returns the number of listed keys still unanswered.
func CountUnknown(fs *fieldset.FieldSet, keys []string) int {
	return CountEqual(fs, keys, fieldset.Unknown)
}

// AllAnswered reports whether every listed key has a non-unknown value.
func AllAnswered(fs *fieldset.FieldSet, keys []string) bool {
	return CountUnknown(fs, keys) == 0
}

// MinEqual builds a predicate matching when at least n of keys equal want.
// Thresholds come from the module schema, never from the resolver.
func MinEqual(keys []string, want string, n int) Predicate {
	return func(fs *fieldset.FieldSet) bool {
		return CountEqual(fs, keys, want) >= n
	}
}

// MinUnknown builds a predicate matching when at least n of keys are
// unanswered.
func MinUnknown(keys []string, n int) Predicate {
	return func(fs *fieldset.FieldSet) bool {
		return CountUnknown(fs, keys) >= n
	}
}

// AnyEqual builds a predicate matching when any listed key equals want.
func AnyEqual(keys []string, want string) Predicate {
	return MinEqual(keys, want, 1)
}

// Complete builds a predicate matching when every listed key is answered.
func Complete(keys []string) Predicate {
	return func(fs *fieldset.FieldSet) bool {
		return AllAnswered(fs, keys)
	}
}

// SiblingRatingAtMost builds a predicate over a required module's data,
// nested in the evaluation FieldSet under its module key: it matches when
// the named factor is rated at or below max. An unrated factor never
// matches.
func SiblingRatingAtMost(module, factor string, max models.Rating) Predicate {
	return func(fs *fieldset.FieldSet) bool {
		r := models.Rating(int(fs.Nested(module).Num(factor)))
		return r.Valid() && r <= max
	}
}
