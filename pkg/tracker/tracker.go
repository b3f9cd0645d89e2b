package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker tracks synthesis and playback statistics per engine.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*EngineStats
}

// EngineStats holds counters for a specific engine.
// Fields are accessed atomically.
type EngineStats struct {
	APISuccess     int64 // Successful remote/subprocess calls
	APIFailures    int64 // Failed remote/subprocess calls
	Utterances     int64 // Lines handed to the engine
	SynthFailures  int64 // Lines that failed before producing any chunk
	ChunksOK       int64
	ChunksFailed   int64
	SamplesPlayed  int64
	EmptyUtterance int64 // Lines whose every chunk failed
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*EngineStats),
	}
}

// getStats returns the stats object for an engine, creating it if needed.
func (t *Tracker) getStats(engine string) *EngineStats {
	t.mu.RLock()
	s, ok := t.stats[engine]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[engine]; ok {
		return s
	}
	s = &EngineStats{}
	t.stats[engine] = s
	return s
}

func (t *Tracker) TrackAPISuccess(engine string) {
	atomic.AddInt64(&t.getStats(engine).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(engine string) {
	atomic.AddInt64(&t.getStats(engine).APIFailures, 1)
}

// TrackUtterance counts a line that reached the engine.
func (t *Tracker) TrackUtterance(engine string) {
	atomic.AddInt64(&t.getStats(engine).Utterances, 1)
}

func (t *Tracker) TrackSynthFailure(engine string) {
	atomic.AddInt64(&t.getStats(engine).SynthFailures, 1)
}

// TrackChunks adds the outcome of one aggregated utterance.
func (t *Tracker) TrackChunks(engine string, ok, failed int) {
	s := t.getStats(engine)
	atomic.AddInt64(&s.ChunksOK, int64(ok))
	atomic.AddInt64(&s.ChunksFailed, int64(failed))
	if ok == 0 && failed > 0 {
		atomic.AddInt64(&s.EmptyUtterance, 1)
	}
}

func (t *Tracker) TrackPlayed(engine string, samples int) {
	atomic.AddInt64(&t.getStats(engine).SamplesPlayed, int64(samples))
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]EngineStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]EngineStats)
	for k, v := range t.stats {
		result[k] = EngineStats{
			APISuccess:     atomic.LoadInt64(&v.APISuccess),
			APIFailures:    atomic.LoadInt64(&v.APIFailures),
			Utterances:     atomic.LoadInt64(&v.Utterances),
			SynthFailures:  atomic.LoadInt64(&v.SynthFailures),
			ChunksOK:       atomic.LoadInt64(&v.ChunksOK),
			ChunksFailed:   atomic.LoadInt64(&v.ChunksFailed),
			SamplesPlayed:  atomic.LoadInt64(&v.SamplesPlayed),
			EmptyUtterance: atomic.LoadInt64(&v.EmptyUtterance),
		}
	}
	return result
}

// Reset zeroes all counters but keeps known engines in the map.
func (t *Tracker) Reset() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, v := range t.stats {
		atomic.StoreInt64(&v.APISuccess, 0)
		atomic.StoreInt64(&v.APIFailures, 0)
		atomic.StoreInt64(&v.Utterances, 0)
		atomic.StoreInt64(&v.SynthFailures, 0)
		atomic.StoreInt64(&v.ChunksOK, 0)
		atomic.StoreInt64(&v.ChunksFailed, 0)
		atomic.StoreInt64(&v.SamplesPlayed, 0)
		atomic.StoreInt64(&v.EmptyUtterance, 0)
	}
}
