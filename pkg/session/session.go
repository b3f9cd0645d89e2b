// Package session runs the read, synthesize, aggregate, play loop.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"speakline/pkg/logging"
	"speakline/pkg/model"
	"speakline/pkg/store"
	"speakline/pkg/tracker"
	"speakline/pkg/tts"
)

// Banner is logged once the session is ready for input. It and the closing
// "Done." are notices, shown whatever the configured log level.
const Banner = "Ready. Type lines (one utterance per line). Ctrl-D (Unix) / Ctrl-Z (Windows) to finish."

// Sink plays a buffer and returns once it has finished.
type Sink interface {
	PlayBlocking(ctx context.Context, samples []float32, format tts.Format) error
}

// Session wires one synthesizer to one sink for the life of the process.
type Session struct {
	Synth   tts.Synthesizer
	Sink    Sink
	Options tts.Options

	History store.HistoryStore // optional
	Tracker *tracker.Tracker   // optional
	Logger  *slog.Logger       // defaults to slog.Default()
}

type readResult struct {
	line string
	err  error
}

// Run processes in line by line until EOF, a read error or ctx cancellation.
// Each non-blank line is synthesized, aggregated and played to completion
// before the next line is read. Cancellation is only observed between lines.
// A non-nil error means playback could not be queued and the session is unusable.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	log := s.logger()

	// Reads happen on their own goroutine so cancellation can interrupt a
	// blocked read, but only one line is read per request.
	reqs := make(chan struct{})
	results := make(chan readResult, 1)
	go func() {
		r := bufio.NewReader(in)
		for range reqs {
			line, err := r.ReadString('\n')
			results <- readResult{line: line, err: err}
		}
	}()
	defer close(reqs)

	logging.Notice(log, Banner)
	defer logging.Notice(log, "Done.")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Session cancelled", "reason", ctx.Err())
			return nil
		case reqs <- struct{}{}:
		}

		var res readResult
		select {
		case <-ctx.Done():
			log.Debug("Session cancelled while waiting for input", "reason", ctx.Err())
			return nil
		case res = <-results:
		}

		if res.err != nil && !errors.Is(res.err, io.EOF) {
			log.Error("Error reading input", "error", res.err)
			return nil
		}

		if text := strings.TrimSpace(res.line); text != "" {
			// A started utterance always finishes
			if err := s.speak(context.WithoutCancel(ctx), text); err != nil {
				return err
			}
		}

		if res.err != nil {
			return nil
		}
	}
}

func (s *Session) speak(ctx context.Context, text string) error {
	log := s.logger()
	engine := s.Synth.Name()

	rec := model.NewUtterance(text, engine)
	rec.Voice = s.Options.Voice
	rec.Speaker = s.Options.Speaker
	if s.Tracker != nil {
		s.Tracker.TrackUtterance(engine)
	}

	stream, err := s.Synth.Synthesize(ctx, text, s.Options)
	if err != nil {
		log.Error("Synthesis error", "error", err)
		rec.Status = model.StatusSynthFailed
		rec.Error = err.Error()
		if s.Tracker != nil {
			s.Tracker.TrackSynthFailure(engine)
		}
		s.record(ctx, rec)
		return nil
	}

	buf := Aggregate(stream, log)
	format := s.Synth.Format().OrDefault()

	rec.Chunks = buf.Chunks
	rec.FailedChunks = buf.Failed
	rec.Samples = len(buf.Samples)
	rec.SampleRate = format.SampleRate
	if buf.Err != nil {
		rec.Error = buf.Err.Error()
	}
	if s.Tracker != nil {
		s.Tracker.TrackChunks(engine, buf.Chunks, buf.Failed)
	}

	if err := s.Sink.PlayBlocking(ctx, buf.Samples, format); err != nil {
		return fmt.Errorf("playback: %w", err)
	}

	if len(buf.Samples) > 0 {
		rec.Status = model.StatusPlayed
		if s.Tracker != nil {
			s.Tracker.TrackPlayed(engine, len(buf.Samples))
		}
	} else {
		rec.Status = model.StatusSilent
	}
	log.Debug("Utterance finished",
		"chunks", buf.Chunks,
		"failed", buf.Failed,
		"duration", rec.Duration())

	s.record(ctx, rec)
	return nil
}

// record saves history; failures never affect playback.
func (s *Session) record(ctx context.Context, rec *model.Utterance) {
	if s.History == nil {
		return
	}
	if err := s.History.SaveUtterance(ctx, rec); err != nil {
		s.logger().Warn("Failed to save utterance history", "error", err)
	}
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
