package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fraser/firewarden/internal/catalogue"
	"github.com/fraser/firewarden/internal/models"
	"github.com/fraser/firewarden/internal/recsync"
	"github.com/fraser/firewarden/internal/store"
)

type quietLog struct{}

func (quietLog) LogDebug(string) {}
func (quietLog) LogWarn(string)  {}

// chanSyncer signals each Sync call so tests can observe the detached
// post-save goroutine without racing it.
type chanSyncer struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func newChanSyncer() *chanSyncer {
	return &chanSyncer{done: make(chan struct{}, 16)}
}

func (c *chanSyncer) Sync(ctx context.Context, documentID, moduleKey, canonicalKey, label string, rating models.Rating) {
	c.mu.Lock()
	c.calls = append(c.calls, canonicalKey)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *chanSyncer) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for sync call %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func testEnv(t *testing.T) (*store.Store, *catalogue.Catalogue) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cat, err := catalogue.Builtin()
	if err != nil {
		t.Fatalf("load catalogue: %v", err)
	}
	return s, cat
}

func TestOpenUnknownModule(t *testing.T) {
	s, cat := testEnv(t)

	_, err := Open(context.Background(), s, cat, nil, quietLog{}, "doc-1", "no_such_module")
	if err == nil {
		t.Fatal("expected error for unknown module")
	}
}

func TestOpenFreshInstanceIsEmpty(t *testing.T) {
	s, cat := testEnv(t)

	sess, err := Open(context.Background(), s, cat, nil, quietLog{}, "doc-1", "management_controls")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if sess.Fields().Len() != 0 {
		t.Errorf("fresh session has %d fields, want 0", sess.Fields().Len())
	}
	if sess.Instance().Outcome != nil {
		t.Error("fresh instance should have no confirmed outcome")
	}
}

func TestEditSaveReload(t *testing.T) {
	s, cat := testEnv(t)
	ctx := context.Background()

	sess, err := Open(ctx, s, cat, nil, quietLog{}, "doc-1", "management_controls")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sess.SetField("fire_policy_current", "yes")
	sess.SetField("alarm_tested_weekly", "no")

	outcome := models.OutcomeMinorDeficiency
	if err := sess.Save(ctx, &outcome, "alarm testing lapsed"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := Open(ctx, s, cat, nil, quietLog{}, "doc-1", "management_controls")
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if got := reloaded.Fields().Enum("fire_policy_current"); got != "yes" {
		t.Errorf("fire_policy_current = %q, want yes", got)
	}
	if got := reloaded.Fields().Enum("alarm_tested_weekly"); got != "no" {
		t.Errorf("alarm_tested_weekly = %q, want no", got)
	}
	if reloaded.Instance().Outcome == nil || *reloaded.Instance().Outcome != outcome {
		t.Errorf("outcome = %v, want %s", reloaded.Instance().Outcome, outcome)
	}
	if got := reloaded.Instance().AssessorNotes; got != "alarm testing lapsed" {
		t.Errorf("notes = %q", got)
	}
}

func TestOpenNormalizesLegacyKeys(t *testing.T) {
	s, cat := testEnv(t)
	ctx := context.Background()

	inst := &models.ModuleInstance{
		DocumentID: "doc-1",
		ModuleKey:  "building_profile",
		Data:       []byte(`{"number_of_storeys":4}`),
	}
	if err := s.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	sess, err := Open(ctx, s, cat, nil, quietLog{}, "doc-1", "building_profile")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if sess.Fields().Has("number_of_storeys") {
		t.Error("legacy key should be normalized away on open")
	}
	if got := sess.Fields().Num("storeys_exact"); got != 4 {
		t.Errorf("storeys_exact = %v, want 4", got)
	}
}

func TestSuggest(t *testing.T) {
	s, cat := testEnv(t)

	sess, err := Open(context.Background(), s, cat, nil, quietLog{}, "doc-1", "management_controls")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, key := range sess.Schema().Checklist {
		sess.SetField(key, "yes")
	}
	sess.SetField("drills_conducted", "no")
	sess.SetField("alarm_tested_weekly", "no")

	got, ok := sess.Suggest()
	if !ok {
		t.Fatal("expected a suggestion")
	}
	if got.Outcome != models.OutcomeMinorDeficiency {
		t.Errorf("outcome = %s, want minor_deficiency", got.Outcome)
	}
}

func TestSuggestSeesSiblingModules(t *testing.T) {
	s, cat := testEnv(t)
	ctx := context.Background()

	dep := &models.ModuleInstance{
		DocumentID: "doc-1",
		ModuleKey:  "risk_engineering",
		Data:       []byte(`{"exposures_flood":2}`),
	}
	if err := s.SaveInstance(ctx, dep); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	sess, err := Open(ctx, s, cat, nil, quietLog{}, "doc-1", "occupancy")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sib, ok := sess.Sibling("risk_engineering")
	if !ok {
		t.Fatal("occupancy should load its risk_engineering dependency")
	}
	if got := sib.Num("exposures_flood"); got != 2 {
		t.Errorf("sibling exposures_flood = %v, want 2", got)
	}
}

func TestSuggestFlipsOnSiblingRating(t *testing.T) {
	s, cat := testEnv(t)
	ctx := context.Background()

	answerOccupancy := func(sess *Session) {
		sess.SetField("occupancy_class", "industrial")
		sess.SetField("processes_documented", "yes")
		sess.SetField("housekeeping_standard", "yes")
	}

	// Document without a rated sibling: occupancy stands on its own answers.
	clean, err := Open(ctx, s, cat, nil, quietLog{}, "doc-clean", "occupancy")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	answerOccupancy(clean)
	got, ok := clean.Suggest()
	if !ok || got.Outcome != models.OutcomeCompliant {
		t.Fatalf("Suggest() = %v %v, want compliant without sibling data", got.Outcome, ok)
	}

	// Same answers, but the linked module carries a low security rating.
	dep := &models.ModuleInstance{
		DocumentID: "doc-flagged",
		ModuleKey:  "risk_engineering",
		Data:       []byte(`{"arson_security":2}`),
	}
	if err := s.SaveInstance(ctx, dep); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	flagged, err := Open(ctx, s, cat, nil, quietLog{}, "doc-flagged", "occupancy")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	answerOccupancy(flagged)
	got, ok = flagged.Suggest()
	if !ok {
		t.Fatal("expected a suggestion with sibling data")
	}
	if got.Outcome != models.OutcomeMinorDeficiency {
		t.Errorf("Suggest() = %s, want minor_deficiency from the linked rating", got.Outcome)
	}
	if got.Rule != "linked-risk_engineering-arson_security" {
		t.Errorf("rule = %s, want the sibling check", got.Rule)
	}
}

func TestCarryForward(t *testing.T) {
	s, cat := testEnv(t)
	ctx := context.Background()

	prior := &models.ModuleInstance{
		DocumentID: "doc-2024",
		ModuleKey:  "building_profile",
		Data:       []byte(`{"number_of_storeys":6,"primary_construction":"steel_frame"}`),
	}
	if err := s.SaveInstance(ctx, prior); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	sess, err := Open(ctx, s, cat, nil, quietLog{}, "doc-2025", "building_profile")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := sess.CarryForward(ctx, "doc-2024"); err != nil {
		t.Fatalf("CarryForward() error = %v", err)
	}
	if got := sess.Fields().Num("storeys_exact"); got != 6 {
		t.Errorf("carried storeys_exact = %v, want 6 (normalized)", got)
	}
	if got := sess.Fields().Enum("primary_construction"); got != "steel_frame" {
		t.Errorf("carried primary_construction = %q", got)
	}
}

func TestCarryForwardLeavesExistingAnswers(t *testing.T) {
	s, cat := testEnv(t)
	ctx := context.Background()

	prior := &models.ModuleInstance{
		DocumentID: "doc-2024",
		ModuleKey:  "building_profile",
		Data:       []byte(`{"storeys_exact":6}`),
	}
	if err := s.SaveInstance(ctx, prior); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	sess, err := Open(ctx, s, cat, nil, quietLog{}, "doc-2025", "building_profile")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sess.SetField("storeys_exact", 2)

	if err := sess.CarryForward(ctx, "doc-2024"); err != nil {
		t.Fatalf("CarryForward() error = %v", err)
	}
	if got := sess.Fields().Num("storeys_exact"); got != 2 {
		t.Errorf("carry-forward overwrote existing answer: %v", got)
	}
}

func TestSaveSyncsDirtyRatings(t *testing.T) {
	s, cat := testEnv(t)
	ctx := context.Background()
	syncer := newChanSyncer()

	sess, err := Open(ctx, s, cat, syncer, quietLog{}, "doc-1", "risk_engineering")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sess.SetRating("exposures_flood", 2)
	sess.SetRating("exposures_wind", 4)
	sess.SetField("general_notes", "n/a") // not a factor, must not sync

	if err := sess.Save(ctx, nil, ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	calls := syncer.wait(t, 2)
	seen := map[string]bool{}
	for _, key := range calls {
		seen[key] = true
	}
	if !seen["exposures_flood"] || !seen["exposures_wind"] {
		t.Errorf("synced keys = %v, want both rated factors", calls)
	}
	if seen["general_notes"] {
		t.Error("non-factor field was synced")
	}

	// A second save with no new rating changes must not re-sync.
	if err := sess.Save(ctx, nil, ""); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	select {
	case <-syncer.done:
		t.Error("clean save re-synced ratings")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSaveWaitFlushesRecommendationSync(t *testing.T) {
	s, cat := testEnv(t)
	ctx := context.Background()
	syncer := recsync.New(s, quietLog{})

	sess, err := Open(ctx, s, cat, syncer, quietLog{}, "doc-1", "risk_engineering")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sess.SetRating("exposures_flood", 1)

	if err := sess.Save(ctx, nil, ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	sess.Wait()

	// The register entry must be durable before the caller tears the store
	// down, not left to a goroutine racing process exit.
	rec, err := s.GetRecommendation(ctx, "doc-1", "risk_engineering", "exposures_flood")
	if err != nil {
		t.Fatalf("GetRecommendation() error = %v", err)
	}
	if rec == nil {
		t.Fatal("rating 1 produced no register entry after Wait")
	}
	if rec.Priority != models.PriorityHigh {
		t.Errorf("priority = %s, want high", rec.Priority)
	}
	if !rec.IsAutoGenerated {
		t.Error("entry should be auto-generated")
	}

	// Re-saving the same rating stays idempotent end to end.
	sess.SetRating("exposures_flood", 1)
	if err := sess.Save(ctx, nil, ""); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	sess.Wait()

	recs, err := s.ListRecommendations(ctx, "doc-1", false)
	if err != nil {
		t.Fatalf("ListRecommendations() error = %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d register entries, want exactly 1", len(recs))
	}
}

func TestWaitWithoutSaveReturnsImmediately(t *testing.T) {
	s, cat := testEnv(t)

	sess, err := Open(context.Background(), s, cat, nil, quietLog{}, "doc-1", "management_controls")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sess.Wait() // nothing in flight, must not block
}

func TestSaveInFlightGuard(t *testing.T) {
	s, cat := testEnv(t)
	ctx := context.Background()

	sess, err := Open(ctx, s, cat, nil, quietLog{}, "doc-1", "management_controls")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Hold the save slot manually to simulate an in-flight save.
	sess.saving.Store(true)
	if err := sess.Save(ctx, nil, ""); err != ErrSaveInFlight {
		t.Errorf("Save() error = %v, want ErrSaveInFlight", err)
	}
	sess.saving.Store(false)
	if err := sess.Save(ctx, nil, ""); err != nil {
		t.Errorf("Save() after release error = %v", err)
	}
}
