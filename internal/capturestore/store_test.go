package capturestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "facetrial.db"), filepath.Join(dir, "captures"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveCapture(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	saved, err := store.SaveCapture(ctx, Capture{
		UserID:       "participant-7",
		ExperimentID: "exp-42",
		MimeType:     "video/webm",
		Duration:     12.346,
	}, []byte("webm-bytes"))
	if err != nil {
		t.Fatalf("save capture: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected an assigned capture id")
	}
	if saved.Size != int64(len("webm-bytes")) {
		t.Fatalf("want size %d, got %d", len("webm-bytes"), saved.Size)
	}
	if filepath.Ext(saved.Path) != ".webm" {
		t.Fatalf("want .webm blob path, got %q", saved.Path)
	}

	blob, err := os.ReadFile(saved.Path)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(blob) != "webm-bytes" {
		t.Fatalf("blob content mismatch: %q", blob)
	}

	got, err := store.GetCapture(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if got.UserID != "participant-7" || got.ExperimentID != "exp-42" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.Duration != 12.346 {
		t.Fatalf("want duration 12.346, got %v", got.Duration)
	}
}

func TestSaveCaptureRequiresUser(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	if _, err := store.SaveCapture(context.Background(), Capture{}, []byte("x")); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestGetCaptureNotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	if _, err := store.GetCapture(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMostRecentCapture(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.MostRecentCapture(ctx, "participant-7"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound with no captures, got %v", err)
	}

	first, err := store.SaveCapture(ctx, Capture{UserID: "participant-7"}, nil)
	if err != nil {
		t.Fatalf("save first capture: %v", err)
	}
	time.Sleep(2 * time.Millisecond) // distinct created_at ordering
	second, err := store.SaveCapture(ctx, Capture{UserID: "participant-7"}, nil)
	if err != nil {
		t.Fatalf("save second capture: %v", err)
	}
	if _, err := store.SaveCapture(ctx, Capture{UserID: "someone-else"}, nil); err != nil {
		t.Fatalf("save other capture: %v", err)
	}

	got, err := store.MostRecentCapture(ctx, "participant-7")
	if err != nil {
		t.Fatalf("most recent capture: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("want newest capture %s, got %s (first was %s)", second.ID, got.ID, first.ID)
	}
}

// created_at is compared as text by ORDER BY, so the stored layout must be
// fixed-width: a truncating format like RFC3339Nano sorts "...0.1Z" after
// "...0.12Z" and returns the older of two captures landing within one second.
func TestMostRecentCaptureSubSecondOrdering(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	insert := func(id string, at time.Time) {
		t.Helper()
		if _, err := store.db.ExecContext(ctx,
			`INSERT INTO captures (id, user_id, created_at) VALUES (?, ?, ?)`,
			id, "participant-7", at.Format(timeFormat),
		); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	insert("older", base.Add(100*time.Millisecond))
	insert("newer", base.Add(120*time.Millisecond))

	got, err := store.MostRecentCapture(ctx, "participant-7")
	if err != nil {
		t.Fatalf("most recent capture: %v", err)
	}
	if got.ID != "newer" {
		t.Fatalf("sub-second ordering picked %q, want %q", got.ID, "newer")
	}
}

func TestSamples(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cap, err := store.SaveCapture(ctx, Capture{UserID: "participant-7"}, nil)
	if err != nil {
		t.Fatalf("save capture: %v", err)
	}

	err = store.SaveSamples(ctx, []SampleRecord{
		{CaptureID: cap.ID, UserID: "participant-7", Timestamp: 0.5, Expressions: map[string]float64{"happy": 0.9}},
		{CaptureID: cap.ID, UserID: "participant-7", Timestamp: 1.0, Expressions: map[string]float64{"happy": 0.7}},
		{UserID: "participant-7", Timestamp: 1.5, Expressions: map[string]float64{"neutral": 0.8}},
	})
	if err != nil {
		t.Fatalf("save samples: %v", err)
	}

	linked, err := store.SamplesForCapture(ctx, cap.ID)
	if err != nil {
		t.Fatalf("samples for capture: %v", err)
	}
	if len(linked) != 2 {
		t.Fatalf("want 2 linked samples, got %d", len(linked))
	}
	if linked[0].Timestamp != 0.5 || linked[1].Timestamp != 1.0 {
		t.Fatalf("samples out of order: %+v", linked)
	}
	if linked[0].Expressions["happy"] != 0.9 {
		t.Fatalf("expressions not preserved: %+v", linked[0].Expressions)
	}

	unlinked, err := store.UnlinkedSamplesForUser(ctx, "participant-7")
	if err != nil {
		t.Fatalf("unlinked samples: %v", err)
	}
	if len(unlinked) != 1 || unlinked[0].Timestamp != 1.5 {
		t.Fatalf("want one unlinked sample at 1.5, got %+v", unlinked)
	}
	if unlinked[0].CaptureID != "" {
		t.Fatalf("unlinked sample carries capture id %q", unlinked[0].CaptureID)
	}
}

func TestSaveSamplesEmpty(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	if err := store.SaveSamples(context.Background(), nil); err != nil {
		t.Fatalf("empty save should be a no-op, got %v", err)
	}
}
