package phases

import (
	"errors"
	"testing"
	"time"

	"github.com/seraface/seraface/internal/storage"
)

func newTestPhaseStore(t *testing.T) *Store {
	t.Helper()
	backing, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { backing.Close() })
	return NewStore(backing)
}

func TestPhaseNames(t *testing.T) {
	want := []string{"phase1", "phase2", "phase3", "phase4"}
	for i, p := range AllPhases {
		if p.Name() != want[i] {
			t.Errorf("phase %d name = %q, want %q", i+1, p.Name(), want[i])
		}
	}
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	store := newTestPhaseStore(t)
	session := NewSessionID()

	form := IntakeForm{
		SkinType: "combination",
		Budget:   "$45",
		Goals:    []string{"reduce acne", "hydration"},
	}
	if err := store.SavePhase(session, PhaseIntake, form); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}

	var loaded IntakeForm
	if err := store.LoadPhase(session, PhaseIntake, &loaded); err != nil {
		t.Fatalf("LoadPhase: %v", err)
	}
	if loaded.SkinType != "combination" || loaded.Budget != "$45" {
		t.Errorf("loaded = %+v, want original form back", loaded)
	}
	if len(loaded.Goals) != 2 {
		t.Errorf("goals = %v, want 2 entries", loaded.Goals)
	}
}

func TestLoadMissingPhaseReturnsNotFound(t *testing.T) {
	store := newTestPhaseStore(t)

	var form IntakeForm
	err := store.LoadPhase("nope", PhaseIntake, &form)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSavePhaseReplacesPrevious(t *testing.T) {
	store := newTestPhaseStore(t)
	session := NewSessionID()

	if err := store.SavePhase(session, PhaseIntake, IntakeForm{Budget: "$20"}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.SavePhase(session, PhaseIntake, IntakeForm{Budget: "$80"}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	var loaded IntakeForm
	if err := store.LoadPhase(session, PhaseIntake, &loaded); err != nil {
		t.Fatalf("LoadPhase: %v", err)
	}
	if loaded.Budget != "$80" {
		t.Errorf("budget = %q, want latest write", loaded.Budget)
	}

	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions = %v, want exactly one (upsert, not append)", sessions)
	}
}

func TestStatusProgress(t *testing.T) {
	store := newTestPhaseStore(t)
	session := NewSessionID()

	status, err := store.Status(session)
	if err != nil {
		t.Fatalf("Status (empty): %v", err)
	}
	if status.Progress != 0 || status.Completed {
		t.Errorf("empty session status = %+v, want 0%% and not completed", status)
	}
	if status.NextPhase != "phase1" {
		t.Errorf("NextPhase = %q, want phase1", status.NextPhase)
	}

	if err := store.SavePhase(session, PhaseIntake, IntakeForm{Budget: "$30"}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}
	if err := store.SavePhase(session, PhaseAnalysis, SkinAnalysis{SkinType: "oily"}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}

	status, err = store.Status(session)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Progress != 50 {
		t.Errorf("progress = %v, want 50", status.Progress)
	}
	if !status.Phases["phase1"] || !status.Phases["phase2"] || status.Phases["phase3"] {
		t.Errorf("phases = %v", status.Phases)
	}
	if status.NextPhase != "phase3" {
		t.Errorf("NextPhase = %q, want phase3", status.NextPhase)
	}

	for _, p := range []Phase{PhaseRecommendation, PhaseRoutine} {
		if err := store.SavePhase(session, p, map[string]string{"ok": "yes"}); err != nil {
			t.Fatalf("SavePhase(%s): %v", p.Name(), err)
		}
	}
	status, err = store.Status(session)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Completed || status.Progress != 100 || status.NextPhase != "" {
		t.Errorf("status = %+v, want completed", status)
	}
}

func TestDeleteSession(t *testing.T) {
	store := newTestPhaseStore(t)
	session := NewSessionID()

	if err := store.SavePhase(session, PhaseIntake, IntakeForm{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}
	if err := store.SavePhase(session, PhaseAnalysis, SkinAnalysis{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}

	res, err := store.DeleteSession(session)
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if res.TotalDeleted != 2 {
		t.Errorf("TotalDeleted = %d, want 2", res.TotalDeleted)
	}

	exists, err := store.SessionExists(session)
	if err != nil {
		t.Fatalf("SessionExists: %v", err)
	}
	if exists {
		t.Error("session still exists after delete")
	}
}

func TestExpiredPhaseIsAbsent(t *testing.T) {
	store := newTestPhaseStore(t)
	store.ttl = time.Millisecond
	session := NewSessionID()

	if err := store.SavePhase(session, PhaseIntake, IntakeForm{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	ok, err := store.HasPhase(session, PhaseIntake)
	if err != nil {
		t.Fatalf("HasPhase: %v", err)
	}
	if ok {
		t.Error("expired phase still reported present")
	}
}

func TestSweepExpiredCountsPerPhase(t *testing.T) {
	store := newTestPhaseStore(t)
	store.ttl = time.Millisecond

	a, b := NewSessionID(), NewSessionID()
	if err := store.SavePhase(a, PhaseIntake, IntakeForm{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}
	if err := store.SavePhase(b, PhaseIntake, IntakeForm{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}
	if err := store.SavePhase(a, PhaseAnalysis, SkinAnalysis{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// A fresh record must survive the sweep.
	store.ttl = 90 * 24 * time.Hour
	if err := store.SavePhase(b, PhaseAnalysis, SkinAnalysis{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}

	counts, err := store.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if counts["phase1"] != 2 || counts["phase2"] != 1 {
		t.Errorf("counts = %v, want phase1:2 phase2:1", counts)
	}

	ok, err := store.HasPhase(b, PhaseAnalysis)
	if err != nil {
		t.Fatalf("HasPhase: %v", err)
	}
	if !ok {
		t.Error("live record removed by sweep")
	}
}

func TestListSessions(t *testing.T) {
	store := newTestPhaseStore(t)

	if err := store.SavePhase("bbb", PhaseIntake, IntakeForm{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}
	if err := store.SavePhase("aaa", PhaseIntake, IntakeForm{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}
	if err := store.SavePhase("aaa", PhaseAnalysis, SkinAnalysis{}); err != nil {
		t.Fatalf("SavePhase: %v", err)
	}

	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "aaa" || sessions[1] != "bbb" {
		t.Errorf("sessions = %v, want [aaa bbb]", sessions)
	}
}
