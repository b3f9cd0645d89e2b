package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"speakline/pkg/db"
	"speakline/pkg/model"
)

func TestSQLiteStore(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	// Init DB
	d, err := db.Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}
	defer d.Close()

	store := NewSQLiteStore(d)
	ctx := context.Background()

	testUtterance(t, ctx, store)
	testRecent(t, ctx, store)
	testState(t, ctx, store)
}

func testUtterance(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("Utterance", func(t *testing.T) {
		speaker := int64(3)
		u := model.NewUtterance("Hello there.", "piper")
		u.Speaker = &speaker
		u.Chunks = 1
		u.FailedChunks = 1
		u.Samples = 22050
		u.SampleRate = 22050
		u.Status = model.StatusPlayed
		u.Error = "chunk 1: boom"

		if err := store.SaveUtterance(ctx, u); err != nil {
			t.Fatalf("SaveUtterance failed: %v", err)
		}

		got, err := store.GetUtterance(ctx, u.ID)
		if err != nil {
			t.Fatalf("GetUtterance failed: %v", err)
		}
		if got == nil {
			t.Fatal("GetUtterance returned nil")
		}
		if got.Text != u.Text || got.Engine != "piper" || got.Status != model.StatusPlayed {
			t.Errorf("Mismatch: %+v", got)
		}
		if got.Speaker == nil || *got.Speaker != 3 {
			t.Errorf("Expected speaker 3, got %v", got.Speaker)
		}
		if got.Duration() != time.Second {
			t.Errorf("Expected 1s duration, got %v", got.Duration())
		}
		if got.Error != u.Error {
			t.Errorf("Expected error text %q, got %q", u.Error, got.Error)
		}

		missing, err := store.GetUtterance(ctx, "nope")
		if err != nil || missing != nil {
			t.Errorf("Expected nil, nil for missing id, got %v, %v", missing, err)
		}
	})
}

func testRecent(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("Recent", func(t *testing.T) {
		base := time.Now().Add(time.Hour)
		for i := range 5 {
			u := model.NewUtterance(fmt.Sprintf("line %d", i), "edge-tts")
			u.CreatedAt = base.Add(time.Duration(i) * time.Second)
			if err := store.SaveUtterance(ctx, u); err != nil {
				t.Fatalf("SaveUtterance failed: %v", err)
			}
		}

		recent, err := store.RecentUtterances(ctx, 3)
		if err != nil {
			t.Fatalf("RecentUtterances failed: %v", err)
		}
		if len(recent) != 3 {
			t.Fatalf("Expected 3, got %d", len(recent))
		}
		if recent[0].Text != "line 4" || recent[2].Text != "line 2" {
			t.Errorf("Expected newest first, got %q .. %q", recent[0].Text, recent[2].Text)
		}
		if recent[0].Speaker != nil {
			t.Error("Expected nil speaker when not set")
		}

		n, err := store.CountUtterances(ctx)
		if err != nil {
			t.Fatalf("CountUtterances failed: %v", err)
		}
		if n != 6 {
			t.Errorf("Expected 6 utterances, got %d", n)
		}

		none, err := store.RecentUtterances(ctx, 0)
		if err != nil || len(none) != 0 {
			t.Errorf("Expected empty result for limit 0, got %v, %v", none, err)
		}
	})
}

func testState(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("State", func(t *testing.T) {
		if _, ok := store.GetState(ctx, "k"); ok {
			t.Error("Expected missing state")
		}
		if err := store.SetState(ctx, "k", "v1"); err != nil {
			t.Fatalf("SetState failed: %v", err)
		}
		if err := store.SetState(ctx, "k", "v2"); err != nil {
			t.Fatalf("SetState overwrite failed: %v", err)
		}
		if v, ok := store.GetState(ctx, "k"); !ok || v != "v2" {
			t.Errorf("Expected v2, got %q %v", v, ok)
		}
		if err := store.DeleteState(ctx, "k"); err != nil {
			t.Fatalf("DeleteState failed: %v", err)
		}
		if _, ok := store.GetState(ctx, "k"); ok {
			t.Error("Expected state to be deleted")
		}
	})
}
