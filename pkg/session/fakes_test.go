package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"

	"speakline/pkg/model"
	"speakline/pkg/tts"
)

// result is one scripted chunk outcome.
type result struct {
	samples []float32
	err     error
}

func ok(s ...float32) result { return result{samples: s} }
func fail(msg string) result { return result{err: errors.New(msg)} }

func streamOf(results ...result) tts.Stream {
	return func(yield func(tts.Chunk, error) bool) {
		for i, r := range results {
			if !yield(tts.Chunk{Index: i, Samples: r.samples}, r.err) {
				return
			}
		}
	}
}

// eventLog records the interleaving of synthesis and playback.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeSynth yields one chunk per character (value 0.5) unless a script is set.
type fakeSynth struct {
	events  *eventLog
	format  tts.Format
	script  map[string][]result
	failOn  map[string]error
	mu      sync.Mutex
	calls   []string
	options []tts.Options
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) Format() tts.Format { return f.format }

func (f *fakeSynth) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeSynth) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.options = append(f.options, opts)
	f.mu.Unlock()
	if f.events != nil {
		f.events.add("synth:" + text)
	}

	if err, bad := f.failOn[text]; bad {
		return nil, err
	}
	if r, scripted := f.script[text]; scripted {
		return streamOf(r...), nil
	}
	samples := make([]float32, len(text))
	for i := range samples {
		samples[i] = 0.5
	}
	return streamOf(ok(samples...)), nil
}

func (f *fakeSynth) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeSink records every buffer it is asked to play.
type fakeSink struct {
	events  *eventLog
	err     error
	mu      sync.Mutex
	buffers [][]float32
	formats []tts.Format
	played  chan struct{}
}

func (f *fakeSink) PlayBlocking(ctx context.Context, samples []float32, format tts.Format) error {
	if f.err != nil {
		return f.err
	}
	if f.events != nil {
		f.events.add("play:start")
	}
	f.mu.Lock()
	f.buffers = append(f.buffers, append([]float32(nil), samples...))
	f.formats = append(f.formats, format)
	f.mu.Unlock()
	if f.events != nil {
		f.events.add("play:end")
	}
	if f.played != nil {
		f.played <- struct{}{}
	}
	return nil
}

func (f *fakeSink) all() [][]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]float32(nil), f.buffers...)
}

// memHistory is an in-memory store.HistoryStore.
type memHistory struct {
	mu   sync.Mutex
	recs []*model.Utterance
	err  error
}

func (m *memHistory) SaveUtterance(ctx context.Context, u *model.Utterance) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, u)
	return nil
}

func (m *memHistory) GetUtterance(ctx context.Context, id string) (*model.Utterance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.recs {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memHistory) RecentUtterances(ctx context.Context, limit int) ([]*model.Utterance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Utterance
	for i := len(m.recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.recs[i])
	}
	return out, nil
}

func (m *memHistory) CountUtterances(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs), nil
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
