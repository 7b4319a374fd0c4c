package sessions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/store"
	"github.com/haasonsaas/switchboard/pkg/models"
)

func newTestRegistry(t *testing.T, inactivity time.Duration) (*Registry, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	r := NewRegistry(st, RegistryOptions{
		InactivityTimeout: inactivity,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(r.Close)
	return r, st
}

func TestRegistryGetOrCreateMintsID(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)

	session, err := r.GetOrCreate(context.Background(), "", "u1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !models.ValidSessionID(session.ID) {
		t.Errorf("minted id %q is not a valid session id", session.ID)
	}
	if session.Status != models.SessionActive {
		t.Errorf("new session should be active, got %s", session.Status)
	}
}

func TestRegistryGetOrCreateRejectsMalformedID(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)

	_, err := r.GetOrCreate(context.Background(), "not-hex!", "u1", "")
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRegistryGetOrCreateIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	id := models.NewSessionID()

	first, err := r.GetOrCreate(context.Background(), id, "u1", "Title")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := r.GetOrCreate(context.Background(), id, "u1", "Title")
	if err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if first.ID != second.ID || second.Title != "Title" {
		t.Errorf("expected the same session back, got %+v and %+v", first, second)
	}
}

func TestRegistryArchivedRefusesTurns(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	id := models.NewSessionID()
	r.GetOrCreate(context.Background(), id, "u1", "")

	if err := r.Archive(context.Background(), id); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := r.GetOrCreate(context.Background(), id, "u1", ""); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("archived session should refuse turns, got %v", err)
	}
	// Still readable.
	if _, err := r.Get(context.Background(), id); err != nil {
		t.Errorf("archived session should stay readable: %v", err)
	}
}

func TestRegistrySoftDeletedHidden(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	id := models.NewSessionID()
	r.GetOrCreate(context.Background(), id, "u1", "")

	if err := r.SoftDelete(context.Background(), id); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := r.Get(context.Background(), id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("soft-deleted session should read as not found, got %v", err)
	}
	if _, err := r.GetOrCreate(context.Background(), id, "u1", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("soft-deleted session should refuse turns, got %v", err)
	}
}

func TestRegistryInactivityTransition(t *testing.T) {
	r, st := newTestRegistry(t, 40*time.Millisecond)
	id := models.NewSessionID()
	session, _ := r.GetOrCreate(context.Background(), id, "u1", "")

	if err := r.Touch(context.Background(), session); err != nil {
		t.Fatalf("touch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := st.GetSession(context.Background(), id)
		if got.Status == models.SessionInactive {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never transitioned to inactive")
}

func TestRegistryTouchDebouncesTimer(t *testing.T) {
	r, st := newTestRegistry(t, 80*time.Millisecond)
	id := models.NewSessionID()
	session, _ := r.GetOrCreate(context.Background(), id, "u1", "")
	r.Touch(context.Background(), session)

	// Keep touching inside the window; the session must stay active.
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		got, _ := st.GetSession(context.Background(), id)
		if got.Status != models.SessionActive {
			t.Fatalf("session went inactive despite activity on touch %d", i)
		}
		r.Touch(context.Background(), got)
	}
}

func TestRegistryTouchReactivatesInactive(t *testing.T) {
	r, st := newTestRegistry(t, time.Minute)
	id := models.NewSessionID()
	r.GetOrCreate(context.Background(), id, "u1", "")

	inactive := models.SessionInactive
	st.UpdateSession(context.Background(), id, store.SessionPatch{Status: &inactive})

	session, _ := st.GetSession(context.Background(), id)
	if err := r.Touch(context.Background(), session); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := st.GetSession(context.Background(), id)
	if got.Status != models.SessionActive {
		t.Errorf("touch should reactivate, got %s", got.Status)
	}
}

func TestRegistryArchiveCancelsInactivityTimer(t *testing.T) {
	r, st := newTestRegistry(t, 40*time.Millisecond)
	id := models.NewSessionID()
	session, _ := r.GetOrCreate(context.Background(), id, "u1", "")
	r.Touch(context.Background(), session)

	if err := r.Archive(context.Background(), id); err != nil {
		t.Fatalf("archive: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	got, _ := st.GetSession(context.Background(), id)
	if got.Status != models.SessionArchived {
		t.Errorf("archived status must not be clobbered by the timer, got %s", got.Status)
	}
}

func TestRegistrySettingsRoundTrip(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	id := models.NewSessionID()
	r.GetOrCreate(context.Background(), id, "u1", "")

	want := models.SessionSettings{
		AgentLock:       true,
		AgentPreference: "technical",
		CrossSession:    true,
	}
	if err := r.UpdateSettings(context.Background(), id, want); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	got, err := r.Settings(context.Background(), id)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if got.AgentLock != want.AgentLock || got.AgentPreference != want.AgentPreference || got.CrossSession != want.CrossSession {
		t.Errorf("settings round trip mismatch: %+v != %+v", got, want)
	}

	if err := r.RecordLastAgent(context.Background(), id, "crm"); err != nil {
		t.Fatalf("record last agent: %v", err)
	}
	got, _ = r.Settings(context.Background(), id)
	if got.LastAgent != "crm" {
		t.Errorf("last agent not recorded, got %+v", got)
	}
	if !got.AgentLock {
		t.Error("recording last agent must not clobber other settings")
	}
}
