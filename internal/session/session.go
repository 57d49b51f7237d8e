// Package session orchestrates one module editing session: load the
// instance through the gateway, surface outcome suggestions from the
// module's rule table, and persist confirmed saves with fire-and-forget
// recommendation sync afterwards.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fraser/firewarden/internal/catalogue"
	"github.com/fraser/firewarden/internal/fieldset"
	"github.com/fraser/firewarden/internal/models"
	"github.com/fraser/firewarden/internal/rules"
)

// ErrSaveInFlight is returned when Save is called while a prior save for
// the same session is still outstanding.
var ErrSaveInFlight = errors.New("save already in flight")

// ErrUnknownModule is returned when the requested module key is not in the
// catalogue.
var ErrUnknownModule = errors.New("unknown module")

// Gateway is the persistence collaborator. Save is a whole-document
// replace; Load of a never-saved pair returns an empty instance.
type Gateway interface {
	LoadInstance(ctx context.Context, documentID, moduleKey string) (*models.ModuleInstance, error)
	SaveInstance(ctx context.Context, inst *models.ModuleInstance) error
}

// RatingSyncer receives factor rating changes after a successful save.
// Implementations must swallow their own errors.
type RatingSyncer interface {
	Sync(ctx context.Context, documentID, moduleKey, canonicalKey, label string, rating models.Rating)
}

// Logger is the subset of the console logger the session needs.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}

// Session is one open module instance being edited. It owns its FieldSet
// exclusively; nothing is shared across sessions.
type Session struct {
	gw     Gateway
	syncer RatingSyncer
	log    Logger

	documentID string
	schema     *catalogue.Schema
	table      *rules.Table

	inst     *models.ModuleInstance
	fields   *fieldset.FieldSet
	siblings map[string]*fieldset.FieldSet

	saving atomic.Bool
	syncWG sync.WaitGroup

	mu           sync.Mutex
	dirtyRatings map[string]models.Rating
}

// Open loads a module instance for editing. The stored FieldSet is
// normalized against the schema's legacy aliases, and any modules the
// schema declares in requires are loaded read-only through the same
// gateway for cross-module rule evaluation.
func Open(ctx context.Context, gw Gateway, cat *catalogue.Catalogue, syncer RatingSyncer, log Logger, documentID, moduleKey string) (*Session, error) {
	schema, ok := cat.Schema(moduleKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, moduleKey)
	}
	table, _ := cat.Table(moduleKey)

	inst, err := gw.LoadInstance(ctx, documentID, moduleKey)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", documentID, moduleKey, err)
	}
	fields, err := fieldset.Decode(inst.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", documentID, moduleKey, err)
	}
	fields.Normalize(schema.Aliases)

	siblings := make(map[string]*fieldset.FieldSet, len(schema.Requires))
	for _, dep := range schema.Requires {
		depInst, err := gw.LoadInstance(ctx, documentID, dep)
		if err != nil {
			return nil, fmt.Errorf("load required module %s: %w", dep, err)
		}
		depFields, err := fieldset.Decode(depInst.Data)
		if err != nil {
			return nil, fmt.Errorf("decode required module %s: %w", dep, err)
		}
		siblings[dep] = depFields
	}

	return &Session{
		gw:           gw,
		syncer:       syncer,
		log:          log,
		documentID:   documentID,
		schema:       schema,
		table:        table,
		inst:         inst,
		fields:       fields,
		siblings:     siblings,
		dirtyRatings: make(map[string]models.Rating),
	}, nil
}

// Schema returns the module schema backing this session.
func (s *Session) Schema() *catalogue.Schema {
	return s.schema
}

// Fields returns the working FieldSet. Mutations through SetField and
// SetRating are preferred; direct Set calls skip rating-change tracking.
func (s *Session) Fields() *fieldset.FieldSet {
	return s.fields
}

// Instance returns the loaded instance record (identity and audit fields).
func (s *Session) Instance() *models.ModuleInstance {
	return s.inst
}

// Sibling returns the read-only FieldSet of a declared dependency module.
func (s *Session) Sibling(moduleKey string) (*fieldset.FieldSet, bool) {
	fs, ok := s.siblings[moduleKey]
	return fs, ok
}

// SetField stores a value. Factor keys set through here are tracked as
// rating changes for post-save sync.
func (s *Session) SetField(key string, value any) {
	s.fields.Set(key, value)
	s.trackRating(key)
}

// SetRating records a factor rating. Out-of-domain ratings are stored
// as-is (the score model neutralizes them) but logged.
func (s *Session) SetRating(key string, rating models.Rating) {
	if !rating.Valid() {
		s.log.LogWarn(fmt.Sprintf("rating %d for %s outside 1-5, will score as neutral", rating, key))
	}
	s.fields.Set(key, int(rating))
	s.trackRating(key)
}

// trackRating marks key dirty when it is one of the module's factors.
func (s *Session) trackRating(key string) {
	for _, f := range s.schema.Factors {
		if f.Key != key {
			continue
		}
		s.mu.Lock()
		s.dirtyRatings[key] = models.Rating(int(s.fields.Num(key)))
		s.mu.Unlock()
		return
	}
}

// Suggest runs the module's rule table over the working FieldSet plus any
// required sibling modules (nested under their module keys). The false
// return means no suggestion, which is not the same as compliant.
func (s *Session) Suggest() (rules.Suggestion, bool) {
	if s.table == nil {
		return rules.Suggestion{}, false
	}
	return s.table.Resolve(s.evalFields())
}

// evalFields builds the evaluation view: the working FieldSet with sibling
// module data nested under each dependency's module key.
func (s *Session) evalFields() *fieldset.FieldSet {
	if len(s.siblings) == 0 {
		return s.fields
	}
	view := s.fields.Clone()
	for _, dep := range s.schema.Requires {
		if sib, ok := s.siblings[dep]; ok {
			view.Set(dep, sib.Clone())
		}
	}
	return view
}

// CarryForward pre-populates an empty working FieldSet from the same module
// of a prior document. A session that already has answers is left alone.
func (s *Session) CarryForward(ctx context.Context, fromDocumentID string) error {
	if s.fields.Len() > 0 {
		return nil
	}
	prior, err := s.gw.LoadInstance(ctx, fromDocumentID, s.schema.Key)
	if err != nil {
		return fmt.Errorf("load carry-forward source: %w", err)
	}
	fields, err := fieldset.Decode(prior.Data)
	if err != nil {
		return fmt.Errorf("decode carry-forward source: %w", err)
	}
	fields.Normalize(s.schema.Aliases)
	s.fields = fields
	return nil
}

// Save persists the working FieldSet with the confirmed outcome and notes.
// Only one save may be in flight at a time; callers seeing ErrSaveInFlight
// should retry after the prior save settles. On gateway failure the working
// FieldSet is untouched so nothing is lost. Rating sync runs after a
// successful save in a detached goroutine and never affects the result;
// Wait blocks until it has settled.
func (s *Session) Save(ctx context.Context, outcome *models.Outcome, notes string) error {
	if !s.saving.CompareAndSwap(false, true) {
		return ErrSaveInFlight
	}
	defer s.saving.Store(false)

	data, err := s.fields.MarshalJSON()
	if err != nil {
		return fmt.Errorf("serialize fieldset: %w", err)
	}

	s.inst.Data = data
	s.inst.Outcome = outcome
	s.inst.AssessorNotes = notes

	if err := s.gw.SaveInstance(ctx, s.inst); err != nil {
		return fmt.Errorf("save %s/%s: %w", s.documentID, s.schema.Key, err)
	}

	s.mu.Lock()
	dirty := s.dirtyRatings
	s.dirtyRatings = make(map[string]models.Rating)
	s.mu.Unlock()

	if s.syncer != nil && len(dirty) > 0 {
		s.syncWG.Add(1)
		go s.syncRatings(dirty)
	}
	return nil
}

// Wait blocks until any in-flight rating sync has finished. The save itself
// never waits; callers that tear down shared resources after a save (the CLI
// closes the store on exit) must drain the sync first or its register writes
// are lost.
func (s *Session) Wait() {
	s.syncWG.Wait()
}

// syncRatings pushes changed ratings into the recommendations register.
// Runs detached from the save that triggered it.
func (s *Session) syncRatings(dirty map[string]models.Rating) {
	defer s.syncWG.Done()
	ctx := context.Background()
	for key, rating := range dirty {
		s.syncer.Sync(ctx, s.documentID, s.schema.Key, key, s.schema.FactorLabel(key), rating)
	}
	s.log.LogDebug(fmt.Sprintf("synced %d rating changes for %s", len(dirty), s.schema.Key))
}
