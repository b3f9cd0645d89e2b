package maintenance

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"speakline/pkg/db"
	"speakline/pkg/store"
)

const lastPrunedStateKey = "history_last_pruned"

// pruneInterval limits pruning to once a day however often the CLI starts.
const pruneInterval = 24 * time.Hour

// Run executes startup maintenance on the history database.
// Failures are logged, never fatal: history is a convenience.
func Run(ctx context.Context, s store.StateStore, d *db.DB, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}

	if last, ok := s.GetState(ctx, lastPrunedStateKey); ok {
		if t, err := time.Parse(time.RFC3339, last); err == nil && time.Since(t) < pruneInterval {
			slog.Debug("History pruning skipped, ran recently", "last", last)
			return nil
		}
	}

	n, err := d.PruneHistory(retention)
	if err != nil {
		slog.Error("History pruning failed", "error", err)
		return nil
	}
	if n > 0 {
		slog.Info("Pruned utterance history", "removed", n, "retention", retention)
	}

	if err := s.SetState(ctx, lastPrunedStateKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return nil
}

var csvHeader = []string{"created_at", "engine", "voice", "speaker", "status", "chunks", "failed_chunks", "duration_ms", "text"}

// ExportCSV writes the newest limit utterances as CSV, newest first.
func ExportCSV(ctx context.Context, s store.HistoryStore, w io.Writer, limit int) (int, error) {
	utterances, err := s.RecentUtterances(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load history: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}

	for _, u := range utterances {
		speaker := ""
		if u.Speaker != nil {
			speaker = strconv.FormatInt(*u.Speaker, 10)
		}
		record := []string{
			u.CreatedAt.UTC().Format(time.RFC3339),
			u.Engine,
			u.Voice,
			speaker,
			u.Status,
			strconv.Itoa(u.Chunks),
			strconv.Itoa(u.FailedChunks),
			strconv.FormatInt(u.Duration().Milliseconds(), 10),
			u.Text,
		}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}

	cw.Flush()
	return len(utterances), cw.Error()
}
