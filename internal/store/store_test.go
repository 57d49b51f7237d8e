package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraser/firewarden/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "assessments.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, dbPath, s.Path())
}

func TestReopenExistingDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "assessments.db")
	ctx := context.Background()

	s, err := Open(dbPath)
	require.NoError(t, err)
	inst := &models.ModuleInstance{
		DocumentID: "doc-1",
		ModuleKey:  "building_profile",
		Data:       []byte(`{"storeys_exact":4}`),
	}
	require.NoError(t, s.SaveInstance(ctx, inst))
	require.NoError(t, s.Close())

	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	loaded, err := s2.LoadInstance(ctx, "doc-1", "building_profile")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, loaded.ID)
	assert.JSONEq(t, `{"storeys_exact":4}`, string(loaded.Data))
}

func TestLoadInstanceFirstOpenIsEmpty(t *testing.T) {
	s := newTestStore(t)

	inst, err := s.LoadInstance(context.Background(), "doc-1", "occupancy")
	require.NoError(t, err)
	assert.Empty(t, inst.ID)
	assert.Equal(t, "doc-1", inst.DocumentID)
	assert.Equal(t, "occupancy", inst.ModuleKey)
	assert.Equal(t, "{}", string(inst.Data))
	assert.Nil(t, inst.Outcome)
}

func TestSaveInstanceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcome := models.OutcomeMinorDeficiency
	inst := &models.ModuleInstance{
		DocumentID:    "doc-1",
		ModuleKey:     "management_controls",
		Data:          []byte(`{"item_1":"yes","item_2":"no"}`),
		Outcome:       &outcome,
		AssessorNotes: "Housekeeping plan requested.",
	}
	require.NoError(t, s.SaveInstance(ctx, inst))
	assert.NotEmpty(t, inst.ID, "first save assigns an id")

	loaded, err := s.LoadInstance(ctx, "doc-1", "management_controls")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, loaded.ID)
	assert.Equal(t, string(inst.Data), string(loaded.Data))
	require.NotNil(t, loaded.Outcome)
	assert.Equal(t, models.OutcomeMinorDeficiency, *loaded.Outcome)
	assert.Equal(t, "Housekeeping plan requested.", loaded.AssessorNotes)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestSaveInstanceReplacesWholeDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inst := &models.ModuleInstance{
		DocumentID: "doc-1",
		ModuleKey:  "building_profile",
		Data:       []byte(`{"storeys_exact":4,"sprinklered":"yes"}`),
	}
	require.NoError(t, s.SaveInstance(ctx, inst))

	// Second save drops a field; the load must reflect the replace, not a
	// merge of old and new payloads.
	inst.Data = []byte(`{"storeys_exact":6}`)
	require.NoError(t, s.SaveInstance(ctx, inst))

	loaded, err := s.LoadInstance(ctx, "doc-1", "building_profile")
	require.NoError(t, err)
	assert.JSONEq(t, `{"storeys_exact":6}`, string(loaded.Data))
}

func TestSaveInstanceRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveInstance(context.Background(), &models.ModuleInstance{ModuleKey: "m"})
	assert.Error(t, err)
}

func TestListInstancesOrderedByModule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"occupancy", "building_profile", "management_controls"} {
		inst := &models.ModuleInstance{DocumentID: "doc-1", ModuleKey: key, Data: []byte("{}")}
		require.NoError(t, s.SaveInstance(ctx, inst))
	}
	other := &models.ModuleInstance{DocumentID: "doc-2", ModuleKey: "occupancy", Data: []byte("{}")}
	require.NoError(t, s.SaveInstance(ctx, other))

	instances, err := s.ListInstances(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, instances, 3)
	assert.Equal(t, "building_profile", instances[0].ModuleKey)
	assert.Equal(t, "management_controls", instances[1].ModuleKey)
	assert.Equal(t, "occupancy", instances[2].ModuleKey)
}

func autoRec(rating models.Rating) *models.Recommendation {
	return &models.Recommendation{
		DocumentID:      "doc-1",
		SourceModuleKey: "risk_engineering",
		CanonicalKey:    "exposures_flood",
		TriggerRating:   rating,
		Title:           "Improve Flood exposure controls",
		Detail:          "Flood exposure was rated low.",
		Priority:        models.PriorityMedium,
		Status:          models.StatusOpen,
		IsAutoGenerated: true,
	}
}

func TestUpsertAutoIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := autoRec(2)
	require.NoError(t, s.UpsertAuto(ctx, first))
	require.NoError(t, s.UpsertAuto(ctx, autoRec(2)))

	recs, err := s.ListRecommendations(ctx, "doc-1", false)
	require.NoError(t, err)
	require.Len(t, recs, 1, "repeated upserts must collapse to one row")
	assert.Equal(t, first.ID, recs[0].ID)
}

func TestUpsertAutoRefreshesContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAuto(ctx, autoRec(2)))

	worse := autoRec(1)
	worse.Priority = models.PriorityHigh
	worse.Detail = "Flood exposure was rated 1 of 5."
	require.NoError(t, s.UpsertAuto(ctx, worse))

	rec, err := s.GetRecommendation(ctx, "doc-1", "risk_engineering", "exposures_flood")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.Rating(1), rec.TriggerRating)
	assert.Equal(t, models.PriorityHigh, rec.Priority)
	assert.True(t, rec.IsAutoGenerated)
}

func TestUpsertAutoLeavesHandEditedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	manual := autoRec(2)
	manual.Title = "Commission a flood defence survey"
	manual.Priority = models.PriorityCritical
	manual.OwnerID = "assessor-7"
	require.NoError(t, s.SaveManual(ctx, manual))

	require.NoError(t, s.UpsertAuto(ctx, autoRec(1)))

	rec, err := s.GetRecommendation(ctx, "doc-1", "risk_engineering", "exposures_flood")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Commission a flood defence survey", rec.Title)
	assert.Equal(t, models.PriorityCritical, rec.Priority)
	assert.False(t, rec.IsAutoGenerated)
	assert.Equal(t, "assessor-7", rec.OwnerID)
}

func TestSaveManualClearsAutoFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAuto(ctx, autoRec(2)))

	edited := autoRec(2)
	edited.Title = "Reworded"
	require.NoError(t, s.SaveManual(ctx, edited))

	rec, err := s.GetRecommendation(ctx, "doc-1", "risk_engineering", "exposures_flood")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.IsAutoGenerated)
	assert.Equal(t, "Reworded", rec.Title)
}

func TestMarkCompleteOnlyTouchesAutoRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	auto := autoRec(2)
	require.NoError(t, s.UpsertAuto(ctx, auto))

	manual := autoRec(2)
	manual.CanonicalKey = "arson_security"
	require.NoError(t, s.SaveManual(ctx, manual))

	require.NoError(t, s.MarkComplete(ctx, "doc-1", "risk_engineering", "exposures_flood"))
	require.NoError(t, s.MarkComplete(ctx, "doc-1", "risk_engineering", "arson_security"))

	autoRow, err := s.GetRecommendation(ctx, "doc-1", "risk_engineering", "exposures_flood")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, autoRow.Status)

	manualRow, err := s.GetRecommendation(ctx, "doc-1", "risk_engineering", "arson_security")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, manualRow.Status, "manual rows never auto-close")
}

func TestGetRecommendationMissingIsNilNil(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetRecommendation(context.Background(), "doc-1", "risk_engineering", "nothing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListRecommendationsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	high := autoRec(1)
	high.CanonicalKey = "human_element"
	high.SourceModuleKey = "risk_engineering"
	high.Priority = models.PriorityHigh
	require.NoError(t, s.UpsertAuto(ctx, high))

	medium := autoRec(2)
	require.NoError(t, s.UpsertAuto(ctx, medium))

	done := autoRec(2)
	done.CanonicalKey = "exposures_wind"
	require.NoError(t, s.UpsertAuto(ctx, done))
	require.NoError(t, s.MarkComplete(ctx, "doc-1", "risk_engineering", "exposures_wind"))

	all, err := s.ListRecommendations(ctx, "doc-1", false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "human_element", all[0].CanonicalKey, "high priority sorts first within a module")

	open, err := s.ListRecommendations(ctx, "doc-1", true)
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, rec := range open {
		assert.NotEqual(t, models.StatusComplete, rec.Status)
	}
}
