package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/kindtally/internal/db"
	"github.com/dokzlo13/kindtally/internal/tally"
)

func openHistory(t *testing.T) *History {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "history.sqlite"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestHistory_SaveAndRecent(t *testing.T) {
	h := openHistory(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := &Run{
		StartedAt: base,
		Window:    60 * time.Second,
		Elapsed:   60 * time.Second,
		Relays:    []string{"wss://a"},
		Counts:    tally.Snapshot{{Kind: 1, Count: 3}},
	}
	newer := &Run{
		StartedAt: base.Add(time.Hour),
		Window:    30 * time.Second,
		Elapsed:   12 * time.Second,
		Relays:    []string{"wss://a", "wss://b"},
		Counts:    tally.Snapshot{{Kind: 0, Count: 2}, {Kind: 7, Count: 5}, {Kind: 1 << 63, Count: 1}},
	}

	for _, run := range []*Run{older, newer} {
		if err := h.Save(run); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if run.ID == "" {
			t.Error("Save did not assign an ID")
		}
	}

	runs, err := h.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Recent returned %d runs, want 2", len(runs))
	}

	got := runs[0]
	if got.ID != newer.ID {
		t.Errorf("first run = %s, want newest %s", got.ID, newer.ID)
	}
	if !got.StartedAt.Equal(newer.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, newer.StartedAt)
	}
	if got.Elapsed != 12*time.Second || got.Window != 30*time.Second {
		t.Errorf("window/elapsed = %v/%v, want 30s/12s", got.Window, got.Elapsed)
	}
	if len(got.Relays) != 2 {
		t.Errorf("Relays = %v, want 2 entries", got.Relays)
	}
	if got.Total != 8 {
		t.Errorf("Total = %d, want 8", got.Total)
	}

	want := tally.Snapshot{{Kind: 0, Count: 2}, {Kind: 7, Count: 5}, {Kind: 1 << 63, Count: 1}}
	if len(got.Counts) != len(want) {
		t.Fatalf("Counts = %v, want %v", got.Counts, want)
	}
	for i := range want {
		if got.Counts[i] != want[i] {
			t.Errorf("Counts[%d] = %v, want %v", i, got.Counts[i], want[i])
		}
	}
}

func TestHistory_SaveEmptyRun(t *testing.T) {
	h := openHistory(t)

	if err := h.Save(&Run{StartedAt: time.Now(), Window: time.Second}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	runs, err := h.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || len(runs[0].Counts) != 0 || runs[0].Total != 0 {
		t.Errorf("Recent = %+v, want one empty run", runs)
	}
}

func TestHistory_DeleteOlderThan(t *testing.T) {
	h := openHistory(t)
	now := time.Now()

	old := &Run{StartedAt: now.Add(-48 * time.Hour), Counts: tally.Snapshot{{Kind: 1, Count: 1}}}
	recent := &Run{StartedAt: now.Add(-time.Hour), Counts: tally.Snapshot{{Kind: 1, Count: 1}}}
	for _, run := range []*Run{old, recent} {
		if err := h.Save(run); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	deleted, err := h.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	runs, err := h.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != recent.ID {
		t.Errorf("remaining runs = %v, want only %s", runs, recent.ID)
	}
}
