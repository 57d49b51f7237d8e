// Package recsync pushes low factor ratings into the shared recommendations
// register. Sync runs after the primary save settles and reports failures to
// the log only - a register hiccup must never block or roll back a save.
package recsync

import (
	"context"
	"fmt"

	"github.com/fraser/firewarden/internal/models"
)

// Register is the slice of the store the syncer writes through.
type Register interface {
	GetRecommendation(ctx context.Context, documentID, moduleKey, canonicalKey string) (*models.Recommendation, error)
	UpsertAuto(ctx context.Context, rec *models.Recommendation) error
	MarkComplete(ctx context.Context, documentID, moduleKey, canonicalKey string) error
}

// Logger is the subset of the console logger the syncer needs.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}

// Syncer applies the rating-to-recommendation policy.
type Syncer struct {
	register  Register
	log       Logger
	threshold models.Rating
	autoClose bool
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithThreshold overrides the default needs-attention threshold.
func WithThreshold(r models.Rating) Option {
	return func(s *Syncer) { s.threshold = r }
}

// WithAutoClose marks still-auto-generated entries complete when their
// triggering rating recovers above threshold. Off by default: stale entries
// are left for manual review.
func WithAutoClose(enabled bool) Option {
	return func(s *Syncer) { s.autoClose = enabled }
}

// New creates a Syncer with the default threshold (rating <= 2 needs
// attention).
func New(register Register, log Logger, opts ...Option) *Syncer {
	s := &Syncer{
		register:  register,
		log:       log,
		threshold: models.AttentionThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync reconciles the register entry for one factor rating. Idempotent: the
// same low rating synced twice leaves exactly one entry with unchanged
// content. Errors are logged, never returned - callers fire and forget.
func (s *Syncer) Sync(ctx context.Context, documentID, moduleKey, canonicalKey, label string, rating models.Rating) {
	if !rating.Valid() {
		s.log.LogDebug(fmt.Sprintf("recsync: skipping %s/%s, unrated", moduleKey, canonicalKey))
		return
	}

	if rating > s.threshold {
		if !s.autoClose {
			return
		}
		// Auto-close policy: the entry is marked complete, never deleted,
		// and only while it is still auto-generated.
		if err := s.register.MarkComplete(ctx, documentID, moduleKey, canonicalKey); err != nil {
			s.log.LogWarn(fmt.Sprintf("recsync: auto-close %s/%s failed: %v", moduleKey, canonicalKey, err))
		}
		return
	}

	existing, err := s.register.GetRecommendation(ctx, documentID, moduleKey, canonicalKey)
	if err != nil {
		s.log.LogWarn(fmt.Sprintf("recsync: lookup %s/%s failed: %v", moduleKey, canonicalKey, err))
		return
	}
	if existing != nil && !existing.IsAutoGenerated {
		// A human owns this entry now.
		s.log.LogDebug(fmt.Sprintf("recsync: %s/%s is hand-edited, leaving untouched", moduleKey, canonicalKey))
		return
	}

	rec := &models.Recommendation{
		DocumentID:      documentID,
		SourceModuleKey: moduleKey,
		CanonicalKey:    canonicalKey,
		TriggerRating:   rating,
		Title:           Title(label),
		Detail:          Detail(label, rating),
		Priority:        PriorityFor(rating),
		Status:          models.StatusOpen,
		IsAutoGenerated: true,
	}
	if existing != nil {
		rec.ID = existing.ID
		rec.Status = existing.Status
	}
	if err := s.register.UpsertAuto(ctx, rec); err != nil {
		s.log.LogWarn(fmt.Sprintf("recsync: upsert %s/%s failed: %v", moduleKey, canonicalKey, err))
	}
}

// PriorityFor maps a triggering rating to a register priority tier.
// Critical is reserved for manual triage.
func PriorityFor(rating models.Rating) models.Priority {
	if rating <= models.RatingMin {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}

// Title generates the register title for a factor.
func Title(label string) string {
	return fmt.Sprintf("Improve %s controls", label)
}

// Detail generates the register detail text. Regenerated on every rating
// change while the entry remains auto-generated.
func Detail(label string, rating models.Rating) string {
	return fmt.Sprintf(
		"%s was rated %d of 5 during the risk engineering review. "+
			"Ratings at this level indicate controls below expected standard; "+
			"review the exposure and schedule improvement actions.",
		label, rating)
}
