package session

import (
	"errors"
	"log/slog"

	"speakline/pkg/logging"
	"speakline/pkg/tts"
)

// Buffer is the concatenation of every successful chunk of one utterance.
type Buffer struct {
	Samples []float32
	Chunks  int   // chunks that contributed samples
	Failed  int   // chunks that errored and were omitted
	Err     error // joined chunk errors, nil when none failed
}

// Aggregate drains stream completely. Successful chunks are appended in the
// order produced; failed chunks are logged with their index and skipped,
// leaving no gap. Nothing is retried.
func Aggregate(stream tts.Stream, logger *slog.Logger) Buffer {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		buf  Buffer
		errs []error
	)
	for chunk, err := range stream {
		if err != nil {
			logger.Warn("Chunk error", "chunk", chunk.Index, "error", err)
			buf.Failed++
			errs = append(errs, err)
			continue
		}
		logging.Trace(logger, "Chunk", "chunk", chunk.Index, "samples", len(chunk.Samples))
		buf.Samples = append(buf.Samples, chunk.Samples...)
		buf.Chunks++
	}
	buf.Err = errors.Join(errs...)
	return buf
}
