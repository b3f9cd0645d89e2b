package maintenance

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"speakline/pkg/db"
	"speakline/pkg/model"
	"speakline/pkg/store"
)

func setup(t *testing.T) (*db.DB, *store.SQLiteStore) {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "maint_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d, store.NewSQLiteStore(d)
}

func TestRun_PrunesOnceADay(t *testing.T) {
	d, s := setup(t)
	ctx := context.Background()

	old := model.NewUtterance("ancient", "piper")
	old.CreatedAt = time.Now().Add(-40 * 24 * time.Hour)
	fresh := model.NewUtterance("recent", "piper")
	for _, u := range []*model.Utterance{old, fresh} {
		if err := s.SaveUtterance(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	if err := Run(ctx, s, d, 30*24*time.Hour); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	n, _ := s.CountUtterances(ctx)
	if n != 1 {
		t.Errorf("Expected 1 utterance after pruning, got %d", n)
	}
	if _, ok := s.GetState(ctx, lastPrunedStateKey); !ok {
		t.Error("Expected prune timestamp to be stored")
	}

	// A second run within the interval must not prune
	again := model.NewUtterance("also ancient", "piper")
	again.CreatedAt = time.Now().Add(-40 * 24 * time.Hour)
	if err := s.SaveUtterance(ctx, again); err != nil {
		t.Fatal(err)
	}
	if err := Run(ctx, s, d, 30*24*time.Hour); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	n, _ = s.CountUtterances(ctx)
	if n != 2 {
		t.Errorf("Expected pruning to be skipped, got %d utterances", n)
	}
}

func TestRun_ZeroRetentionKeepsAll(t *testing.T) {
	d, s := setup(t)
	ctx := context.Background()

	old := model.NewUtterance("ancient", "piper")
	old.CreatedAt = time.Now().Add(-400 * 24 * time.Hour)
	if err := s.SaveUtterance(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := Run(ctx, s, d, 0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n, _ := s.CountUtterances(ctx); n != 1 {
		t.Errorf("Expected history untouched, got %d", n)
	}
}

func TestExportCSV(t *testing.T) {
	_, s := setup(t)
	ctx := context.Background()

	speaker := int64(2)
	u := model.NewUtterance(`She said "hi", twice.`, "piper")
	u.Speaker = &speaker
	u.Status = model.StatusPlayed
	u.Chunks = 1
	u.Samples = 11025
	u.SampleRate = 22050
	if err := s.SaveUtterance(ctx, u); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := ExportCSV(ctx, s, &buf, 10)
	if err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 exported row, got %d", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected header + 1 row, got %d", len(records))
	}
	row := records[1]
	if row[3] != "2" || row[4] != model.StatusPlayed || row[7] != "500" {
		t.Errorf("Unexpected row %v", row)
	}
	if row[8] != u.Text {
		t.Errorf("Text should round-trip through CSV quoting, got %q", row[8])
	}
}
