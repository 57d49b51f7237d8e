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

// LoadInstance retrieves the module instance for (documentID, moduleKey).
// A pair that has never been saved returns a fresh empty instance rather
// than an error: opening a module for the first time is not a failure.
func (s *Store) LoadInstance(ctx context.Context, documentID, moduleKey string) (*models.ModuleInstance, error) {
	query := `SELECT id, document_id, module_key, data, outcome, assessor_notes, completed_at, updated_at
		FROM module_instances
		WHERE document_id = ? AND module_key = ?`

	row := s.db.QueryRowContext(ctx, query, documentID, moduleKey)

	inst := &models.ModuleInstance{}
	var data string
	var outcome sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&inst.ID,
		&inst.DocumentID,
		&inst.ModuleKey,
		&data,
		&outcome,
		&inst.AssessorNotes,
		&completedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ModuleInstance{
				DocumentID: documentID,
				ModuleKey:  moduleKey,
				Data:       []byte("{}"),
			}, nil
		}
		return nil, fmt.Errorf("query module instance: %w", err)
	}

	inst.Data = []byte(data)
	if outcome.Valid {
		o := models.Outcome(outcome.String)
		inst.Outcome = &o
	}
	if completedAt.Valid {
		inst.CompletedAt = &completedAt.Time
	}
	return inst, nil
}

// SaveInstance persists the instance as a whole-document replace keyed by
// (document_id, module_key), bumping updated_at. A missing ID is assigned
// here so first saves and re-saves go through the same upsert.
func (s *Store) SaveInstance(ctx context.Context, inst *models.ModuleInstance) error {
	if err := inst.Validate(); err != nil {
		return fmt.Errorf("validate module instance: %w", err)
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if len(inst.Data) == 0 {
		inst.Data = []byte("{}")
	}

	var outcome any
	if inst.Outcome != nil {
		outcome = string(*inst.Outcome)
	}
	var completedAt any
	if inst.CompletedAt != nil {
		completedAt = *inst.CompletedAt
	}

	now := time.Now().UTC()
	query := `INSERT INTO module_instances
		(id, document_id, module_key, data, outcome, assessor_notes, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, module_key) DO UPDATE SET
			data = excluded.data,
			outcome = excluded.outcome,
			assessor_notes = excluded.assessor_notes,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		inst.ID,
		inst.DocumentID,
		inst.ModuleKey,
		string(inst.Data),
		outcome,
		inst.AssessorNotes,
		completedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("save module instance: %w", err)
	}
	inst.UpdatedAt = now
	return nil
}

// ListInstances returns every saved module instance for a document, ordered
// by module key for stable rollup output.
func (s *Store) ListInstances(ctx context.Context, documentID string) ([]*models.ModuleInstance, error) {
	query := `SELECT id, document_id, module_key, data, outcome, assessor_notes, completed_at, updated_at
		FROM module_instances
		WHERE document_id = ?
		ORDER BY module_key`

	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("query module instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.ModuleInstance
	for rows.Next() {
		inst := &models.ModuleInstance{}
		var data string
		var outcome sql.NullString
		var completedAt sql.NullTime

		if err := rows.Scan(
			&inst.ID,
			&inst.DocumentID,
			&inst.ModuleKey,
			&data,
			&outcome,
			&inst.AssessorNotes,
			&completedAt,
			&inst.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan module instance row: %w", err)
		}

		inst.Data = []byte(data)
		if outcome.Valid {
			o := models.Outcome(outcome.String)
			inst.Outcome = &o
		}
		if completedAt.Valid {
			inst.CompletedAt = &completedAt.Time
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module instance rows: %w", err)
	}
	return instances, nil
}
