package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fraser/firewarden/internal/models"
)

// GetRecommendation looks up the register entry for one canonical factor
// key. Returns (nil, nil) when no entry exists, mirroring the offset lookup
// semantics elsewhere in the store.
func (s *Store) GetRecommendation(ctx context.Context, documentID, moduleKey, canonicalKey string) (*models.Recommendation, error) {
	query := recSelect + ` WHERE document_id = ? AND source_module_key = ? AND canonical_key = ?`

	row := s.db.QueryRowContext(ctx, query, documentID, moduleKey, canonicalKey)
	rec, err := scanRecommendation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query recommendation: %w", err)
	}
	return rec, nil
}

// UpsertAuto inserts or refreshes an auto-generated register entry keyed by
// (document, module, canonical key). The refresh only applies while the
// existing row is still auto-generated: a hand-edited entry is left exactly
// as the human wrote it.
func (s *Store) UpsertAuto(ctx context.Context, rec *models.Recommendation) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validate recommendation: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	query := `INSERT INTO recommendations
		(id, document_id, source_module_key, canonical_key, trigger_rating,
		 title, detail, priority, status, is_auto_generated, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(document_id, source_module_key, canonical_key) DO UPDATE SET
			trigger_rating = excluded.trigger_rating,
			title = excluded.title,
			detail = excluded.detail,
			priority = excluded.priority,
			updated_at = excluded.updated_at
		WHERE recommendations.is_auto_generated = 1`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.DocumentID,
		rec.SourceModuleKey,
		rec.CanonicalKey,
		int(rec.TriggerRating),
		rec.Title,
		rec.Detail,
		string(rec.Priority),
		string(rec.Status),
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert recommendation: %w", err)
	}
	return nil
}

// SaveManual records a human-authored or human-edited entry. Any existing
// auto flag is cleared so the sync machinery stops regenerating it.
func (s *Store) SaveManual(ctx context.Context, rec *models.Recommendation) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validate recommendation: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var targetDate any
	if rec.TargetDate != nil {
		targetDate = *rec.TargetDate
	}
	var ownerID any
	if rec.OwnerID != "" {
		ownerID = rec.OwnerID
	}

	now := time.Now().UTC()
	query := `INSERT INTO recommendations
		(id, document_id, source_module_key, canonical_key, trigger_rating,
		 title, detail, priority, status, is_auto_generated, owner_id, target_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(document_id, source_module_key, canonical_key) DO UPDATE SET
			trigger_rating = excluded.trigger_rating,
			title = excluded.title,
			detail = excluded.detail,
			priority = excluded.priority,
			status = excluded.status,
			is_auto_generated = 0,
			owner_id = excluded.owner_id,
			target_date = excluded.target_date,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.DocumentID,
		rec.SourceModuleKey,
		rec.CanonicalKey,
		int(rec.TriggerRating),
		rec.Title,
		rec.Detail,
		string(rec.Priority),
		string(rec.Status),
		ownerID,
		targetDate,
		now,
	)
	if err != nil {
		return fmt.Errorf("save recommendation: %w", err)
	}
	return nil
}

// MarkComplete closes an entry without deleting it. Used by the optional
// auto-close policy when a triggering rating recovers above threshold; only
// still-auto-generated rows are affected.
func (s *Store) MarkComplete(ctx context.Context, documentID, moduleKey, canonicalKey string) error {
	query := `UPDATE recommendations
		SET status = ?, updated_at = ?
		WHERE document_id = ? AND source_module_key = ? AND canonical_key = ?
			AND is_auto_generated = 1`

	_, err := s.db.ExecContext(ctx, query,
		string(models.StatusComplete), time.Now().UTC(),
		documentID, moduleKey, canonicalKey,
	)
	if err != nil {
		return fmt.Errorf("mark recommendation complete: %w", err)
	}
	return nil
}

// ListRecommendations returns a document's register entries ordered by
// module then priority tier. When openOnly is set, completed entries are
// filtered out.
func (s *Store) ListRecommendations(ctx context.Context, documentID string, openOnly bool) ([]*models.Recommendation, error) {
	query := recSelect + ` WHERE document_id = ?`
	args := []any{documentID}
	if openOnly {
		query += ` AND status != ?`
		args = append(args, string(models.StatusComplete))
	}
	query += ` ORDER BY source_module_key,
		CASE priority
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			ELSE 3
		END, canonical_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*models.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recommendation row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendation rows: %w", err)
	}
	return recs, nil
}

const recSelect = `SELECT id, document_id, source_module_key, canonical_key, trigger_rating,
	title, detail, priority, status, is_auto_generated, owner_id, target_date, updated_at
	FROM recommendations`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecommendation(row rowScanner) (*models.Recommendation, error) {
	rec := &models.Recommendation{}
	var trigger int
	var priority, status string
	var ownerID sql.NullString
	var targetDate sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.DocumentID,
		&rec.SourceModuleKey,
		&rec.CanonicalKey,
		&trigger,
		&rec.Title,
		&rec.Detail,
		&priority,
		&status,
		&rec.IsAutoGenerated,
		&ownerID,
		&targetDate,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.TriggerRating = models.Rating(trigger)
	rec.Priority = models.Priority(priority)
	rec.Status = models.RecStatus(status)
	if ownerID.Valid {
		rec.OwnerID = ownerID.String
	}
	if targetDate.Valid {
		rec.TargetDate = &targetDate.Time
	}
	return rec, nil
}
