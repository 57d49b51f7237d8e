// Package catalogue defines assessment modules declaratively: one YAML
// schema per module key carrying its field definitions, checklist rule
// thresholds, risk-engineering factor weights, legacy field aliases and
// cross-module read dependencies. The catalogue replaces per-module
// hand-written outcome heuristics with tables built from these schemas.
package catalogue

import (
	"fmt"

	"github.com/fraser/firewarden/internal/fieldset"
	"github.com/fraser/firewarden/internal/models"
	"github.com/fraser/firewarden/internal/rules"
	"github.com/fraser/firewarden/internal/score"
)

// Field kinds match the FieldSet value kinds.
const (
	KindEnum   = "enum"
	KindString = "string"
	KindNumber = "number"
	KindBool   = "bool"
	KindList   = "list"
	KindObject = "object"
)

// Checklist answers used by the threshold heuristic.
const (
	AnswerYes = "yes"
	AnswerNo  = "no"
)

// FieldDef describes one field of a module schema.
type FieldDef struct {
	Key      string   `yaml:"key"`
	Kind     string   `yaml:"kind"`
	Label    string   `yaml:"label"`
	Options  []string `yaml:"options,omitempty"`
	Required bool     `yaml:"required,omitempty"`
}

// FactorDef describes one risk-engineering factor: a canonical key, its
// display label, scoring weight and peril group for pillar reduction.
type FactorDef struct {
	Key        string  `yaml:"key"`
	Label      string  `yaml:"label"`
	Weight     float64 `yaml:"weight"`
	PerilGroup string  `yaml:"peril_group,omitempty"`
}

// Thresholds are the module-specific constants the standard rule table is
// built from. Zero disables the corresponding rule.
type Thresholds struct {
	// Material is the minimum count of "no" checklist answers for a
	// material deficiency.
	Material int `yaml:"material"`
	// Deficiency is the minimum count of "no" answers for a minor
	// deficiency.
	Deficiency int `yaml:"deficiency"`
	// Unknowns is the minimum count of unanswered required fields for an
	// information gap.
	Unknowns int `yaml:"unknowns"`
}

// SiblingCheck flags this module when a required module's factor rating
// sits at or below a watch level. The module must be declared in Requires;
// its data is nested under the module key at evaluation time.
type SiblingCheck struct {
	Module string `yaml:"module"`
	Factor string `yaml:"factor"`
	AtMost int    `yaml:"at_most"`
}

// Schema is one module's full declarative definition.
type Schema struct {
	Key           string            `yaml:"key"`
	Title         string            `yaml:"title"`
	Fields        []FieldDef        `yaml:"fields"`
	Aliases       map[string]string `yaml:"aliases,omitempty"`
	Checklist     []string          `yaml:"checklist,omitempty"`
	Thresholds    Thresholds        `yaml:"thresholds,omitempty"`
	Factors       []FactorDef       `yaml:"factors,omitempty"`
	Requires      []string          `yaml:"requires,omitempty"`
	SiblingChecks []SiblingCheck    `yaml:"sibling_checks,omitempty"`
}

// Validate checks a schema for declaration mistakes before it enters the
// catalogue.
func (s *Schema) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("module schema missing key")
	}
	if s.Title == "" {
		return fmt.Errorf("module %s missing title", s.Key)
	}

	fieldKeys := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Key == "" {
			return fmt.Errorf("module %s: field %d missing key", s.Key, i)
		}
		if fieldKeys[f.Key] {
			return fmt.Errorf("module %s: duplicate field %q", s.Key, f.Key)
		}
		fieldKeys[f.Key] = true
		switch f.Kind {
		case KindEnum, KindString, KindNumber, KindBool, KindList, KindObject:
		default:
			return fmt.Errorf("module %s: field %q has unknown kind %q", s.Key, f.Key, f.Kind)
		}
		if len(f.Options) > 0 && f.Kind != KindEnum {
			return fmt.Errorf("module %s: field %q declares options but is not an enum", s.Key, f.Key)
		}
	}

	for _, key := range s.Checklist {
		if !fieldKeys[key] {
			return fmt.Errorf("module %s: checklist references unknown field %q", s.Key, key)
		}
	}
	for legacy, canonical := range s.Aliases {
		if !fieldKeys[canonical] {
			return fmt.Errorf("module %s: alias %q targets unknown field %q", s.Key, legacy, canonical)
		}
	}
	if s.Thresholds.Material < 0 || s.Thresholds.Deficiency < 0 || s.Thresholds.Unknowns < 0 {
		return fmt.Errorf("module %s: thresholds must not be negative", s.Key)
	}
	if s.Thresholds.Material > 0 && s.Thresholds.Deficiency > 0 &&
		s.Thresholds.Material <= s.Thresholds.Deficiency {
		return fmt.Errorf("module %s: material threshold must exceed deficiency threshold", s.Key)
	}

	factorKeys := make(map[string]bool, len(s.Factors))
	for i, f := range s.Factors {
		if f.Key == "" {
			return fmt.Errorf("module %s: factor %d missing key", s.Key, i)
		}
		if factorKeys[f.Key] {
			return fmt.Errorf("module %s: duplicate factor %q", s.Key, f.Key)
		}
		factorKeys[f.Key] = true
		if f.Weight <= 0 {
			return fmt.Errorf("module %s: factor %q weight must be positive", s.Key, f.Key)
		}
	}

	for i, sc := range s.SiblingChecks {
		if sc.Module == "" || sc.Factor == "" {
			return fmt.Errorf("module %s: sibling check %d missing module or factor", s.Key, i)
		}
		if !hasString(s.Requires, sc.Module) {
			return fmt.Errorf("module %s: sibling check on %q not declared in requires", s.Key, sc.Module)
		}
		if sc.AtMost < int(models.RatingMin) || sc.AtMost > int(models.RatingMax) {
			return fmt.Errorf("module %s: sibling check %s/%s at_most must be between 1 and 5", s.Key, sc.Module, sc.Factor)
		}
	}
	return nil
}

func hasString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// RequiredKeys returns the keys of required fields in declaration order.
func (s *Schema) RequiredKeys() []string {
	var keys []string
	for _, f := range s.Fields {
		if f.Required {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// FactorLabel returns the display label for a canonical factor key, falling
// back to the key itself.
func (s *Schema) FactorLabel(key string) string {
	for _, f := range s.Factors {
		if f.Key == key {
			return f.Label
		}
	}
	return key
}

// FactorsFrom reads the module's factor ratings out of a FieldSet. By
// convention a factor's rating is stored under its canonical key as a
// number; anything outside 1-5 is carried as-is and scored at the neutral
// midpoint downstream.
func (s *Schema) FactorsFrom(fs *fieldset.FieldSet) []score.Factor {
	factors := make([]score.Factor, 0, len(s.Factors))
	for _, def := range s.Factors {
		factors = append(factors, score.Factor{
			Key:        def.Key,
			Label:      def.Label,
			PerilGroup: def.PerilGroup,
			Rating:     models.Rating(int(fs.Num(def.Key))),
			Weight:     def.Weight,
		})
	}
	return factors
}

// Table builds the module's outcome rule table from its thresholds. Rules
// are declared severe-first so first-match-wins yields the worst applicable
// verdict:
//
//  1. material deficiency when >= Material checklist "no"s
//  2. information gap when >= Unknowns required fields unanswered
//  3. minor deficiency when >= Deficiency checklist "no"s
//  4. minor deficiency per sibling check whose linked factor rating is at
//     or below its watch level
//  5. acceptable when any checklist "no" remains
//  6. compliant when every required field is answered
//
// A module with no thresholds gets only the completion rule; an incomplete
// FieldSet then resolves to no suggestion at all.
func (s *Schema) Table() *rules.Table {
	checklist := s.Checklist
	required := s.RequiredKeys()
	t := &rules.Table{ModuleKey: s.Key}

	if s.Thresholds.Material > 0 && len(checklist) > 0 {
		min := s.Thresholds.Material
		t.Rules = append(t.Rules, rules.Rule{
			Name:      "material-deficiency",
			Predicate: rules.MinEqual(checklist, AnswerNo, min),
			Outcome:   models.OutcomeMaterialDeficiency,
			Rationale: func(fs *fieldset.FieldSet) string {
				n := rules.CountEqual(fs, checklist, AnswerNo)
				return fmt.Sprintf("Multiple checklist items not completed: %d of %d answered no.", n, len(checklist))
			},
		})
	}
	if s.Thresholds.Unknowns > 0 && len(required) > 0 {
		min := s.Thresholds.Unknowns
		t.Rules = append(t.Rules, rules.Rule{
			Name:      "information-gap",
			Predicate: rules.MinUnknown(required, min),
			Outcome:   models.OutcomeInformationGap,
			Rationale: func(fs *fieldset.FieldSet) string {
				n := rules.CountUnknown(fs, required)
				return fmt.Sprintf("Insufficient information to assess: %d required answers outstanding.", n)
			},
		})
	}
	if s.Thresholds.Deficiency > 0 && len(checklist) > 0 {
		min := s.Thresholds.Deficiency
		t.Rules = append(t.Rules, rules.Rule{
			Name:      "minor-deficiency",
			Predicate: rules.MinEqual(checklist, AnswerNo, min),
			Outcome:   models.OutcomeMinorDeficiency,
			Rationale: func(fs *fieldset.FieldSet) string {
				n := rules.CountEqual(fs, checklist, AnswerNo)
				return fmt.Sprintf("Checklist items not completed: %d answered no.", n)
			},
		})
	}
	for _, sc := range s.SiblingChecks {
		sc := sc
		t.Rules = append(t.Rules, rules.Rule{
			Name:      fmt.Sprintf("linked-%s-%s", sc.Module, sc.Factor),
			Predicate: rules.SiblingRatingAtMost(sc.Module, sc.Factor, models.Rating(sc.AtMost)),
			Outcome:   models.OutcomeMinorDeficiency,
			Rationale: func(fs *fieldset.FieldSet) string {
				r := int(fs.Nested(sc.Module).Num(sc.Factor))
				return fmt.Sprintf("Linked module %s rates %s at %d of 5; review this module against that exposure.", sc.Module, sc.Factor, r)
			},
		})
	}
	if len(checklist) > 0 {
		t.Rules = append(t.Rules, rules.Rule{
			Name:      "residual-shortfall",
			Predicate: rules.AnyEqual(checklist, AnswerNo),
			Outcome:   models.OutcomeAcceptable,
			Rationale: func(fs *fieldset.FieldSet) string {
				return "Isolated checklist shortfall; acceptable subject to routine follow-up."
			},
		})
	}
	if len(required) > 0 {
		t.Rules = append(t.Rules, rules.Rule{
			Name:      "all-answered",
			Predicate: rules.Complete(required),
			Outcome:   models.OutcomeCompliant,
			Rationale: func(fs *fieldset.FieldSet) string {
				return "All required items answered with no deficiencies identified."
			},
		})
	}
	return t
}
