// Package models defines the shared domain types for firewarden: the closed
// outcome enum every module resolves to, the 1-5 rating domain used by the
// risk-engineering modules, and the persisted record shapes for module
// instances and recommendation register entries.
package models

import (
	"fmt"
	"time"
)

// Outcome is the compliance verdict for one module instance.
// The enum is closed and stable across every module in the catalogue.
type Outcome string

const (
	OutcomeCompliant          Outcome = "compliant"
	OutcomeAcceptable         Outcome = "acceptable"
	OutcomeMinorDeficiency    Outcome = "minor_deficiency"
	OutcomeMaterialDeficiency Outcome = "material_deficiency"
	OutcomeInformationGap     Outcome = "information_gap"
)

// severityRank orders outcomes from mildest to most severe. Used to verify
// rule tables declare severe rules ahead of mild ones.
var severityRank = map[Outcome]int{
	OutcomeCompliant:          0,
	OutcomeAcceptable:         1,
	OutcomeMinorDeficiency:    2,
	OutcomeMaterialDeficiency: 3,
	OutcomeInformationGap:     3,
}

// Valid reports whether o is a member of the closed outcome enum.
func (o Outcome) Valid() bool {
	_, ok := severityRank[o]
	return ok
}

// MoreSevereThan reports whether o outranks other in severity.
// Information gaps rank alongside material deficiencies: both mean the
// assessment cannot stand as written.
func (o Outcome) MoreSevereThan(other Outcome) bool {
	return severityRank[o] > severityRank[other]
}

// Rating is a risk-engineering factor rating on the closed 1-5 scale.
// 1 is worst, 5 is excellent.
type Rating int

const (
	// RatingMin and RatingMax bound the closed rating domain.
	RatingMin Rating = 1
	RatingMax Rating = 5

	// NeutralRating is substituted for unrated factors so an incomplete
	// assessment neither minimizes nor maximizes the total score.
	NeutralRating Rating = 3

	// AttentionThreshold is the default rating at or below which a factor
	// triggers an auto-generated recommendation.
	AttentionThreshold Rating = 2
)

// Valid reports whether r falls inside the closed 1-5 domain.
func (r Rating) Valid() bool {
	return r >= RatingMin && r <= RatingMax
}

// OrNeutral returns r when valid, NeutralRating otherwise.
func (r Rating) OrNeutral() Rating {
	if r.Valid() {
		return r
	}
	return NeutralRating
}

// Priority is the triage tier of a recommendation register entry.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is a member of the closed priority enum.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// RecStatus is the workflow state of a recommendation register entry.
type RecStatus string

const (
	StatusOpen       RecStatus = "open"
	StatusInProgress RecStatus = "in_progress"
	StatusComplete   RecStatus = "complete"
)

// Valid reports whether s is a member of the closed status enum.
func (s RecStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusComplete:
		return true
	}
	return false
}

// ModuleInstance is the persisted record for one module of one assessment
// document. Data holds the serialized FieldSet; Outcome is the assessor's
// confirmed verdict (nil until confirmed, which is distinct from compliant).
type ModuleInstance struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"documentId"`
	ModuleKey     string     `json:"moduleKey"`
	Data          []byte     `json:"data"`
	Outcome       *Outcome   `json:"outcome"`
	AssessorNotes string     `json:"assessorNotes"`
	CompletedAt   *time.Time `json:"completedAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Validate checks the identity fields and the outcome enum membership.
func (m *ModuleInstance) Validate() error {
	if m.DocumentID == "" {
		return fmt.Errorf("module instance missing document id")
	}
	if m.ModuleKey == "" {
		return fmt.Errorf("module instance missing module key")
	}
	if m.Outcome != nil && !m.Outcome.Valid() {
		return fmt.Errorf("unknown outcome %q", *m.Outcome)
	}
	return nil
}

// Recommendation is one entry in the shared recommendations register.
// Auto-generated entries are keyed by (DocumentID, SourceModuleKey,
// CanonicalKey); once a human edits an entry IsAutoGenerated is cleared and
// the sync machinery stops touching it.
type Recommendation struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"documentId"`
	SourceModuleKey string     `json:"sourceModuleKey"`
	CanonicalKey    string     `json:"canonicalKey"`
	TriggerRating   Rating     `json:"triggerRating"`
	Title           string     `json:"title"`
	Detail          string     `json:"detail"`
	Priority        Priority   `json:"priority"`
	Status          RecStatus  `json:"status"`
	IsAutoGenerated bool       `json:"isAutoGenerated"`
	OwnerID         string     `json:"ownerId,omitempty"`
	TargetDate      *time.Time `json:"targetDate,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Validate checks identity fields and enum membership.
func (r *Recommendation) Validate() error {
	if r.DocumentID == "" {
		return fmt.Errorf("recommendation missing document id")
	}
	if r.SourceModuleKey == "" {
		return fmt.Errorf("recommendation missing source module key")
	}
	if r.CanonicalKey == "" {
		return fmt.Errorf("recommendation missing canonical key")
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", r.Priority)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}
