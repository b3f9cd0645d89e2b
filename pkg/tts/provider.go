// Package tts defines the contract between the session loop and the speech
// synthesis engines, plus helpers shared by the engine adapters.
package tts

import (
	"context"
	"iter"
)

// Default output format, used whenever an engine does not report its own.
const (
	DefaultSampleRate = 22050
	DefaultChannels   = 1
)

// Format describes the PCM layout of the samples an engine produces.
type Format struct {
	SampleRate int
	Channels   int
}

// OrDefault fills zero fields with the default mono 22050 Hz layout.
func (f Format) OrDefault() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = DefaultChannels
	}
	return f
}

// Chunk is one increment of synthesized audio, usually one sentence.
// Index is the position of the chunk within its utterance and is set even
// when the chunk failed, so failures can be traced back to their sentence.
type Chunk struct {
	Index   int
	Samples []float32
}

// Stream is a lazy, finite, ordered sequence of chunk results.
// A non-nil error means that chunk failed; later chunks are still produced.
type Stream = iter.Seq2[Chunk, error]

// Options configures a synthesis call. It is owned by the session and passed
// on every call instead of being stored as shared engine state.
type Options struct {
	Voice   string // Engine voice name (edge-tts, gemini, sapi)
	Speaker *int64 // Speaker index for multi-speaker models (piper)
}

// Synthesizer converts text into a stream of sample chunks.
type Synthesizer interface {
	// Name identifies the engine in logs and statistics.
	Name() string
	// Format reports the sample rate and channel count of produced chunks.
	Format() Format
	// Synthesize splits text into chunks and returns them lazily.
	// An error here means the whole utterance failed and nothing will be produced.
	Synthesize(ctx context.Context, text string, opts Options) (Stream, error)
	// HealthCheck verifies the engine can be used (binary present, credentials set).
	HealthCheck(ctx context.Context) error
}

// VoiceLister is implemented by engines that can enumerate their voices.
type VoiceLister interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// Voice represents an available TTS voice.
type Voice struct {
	ID       string
	Name     string
	Language string
	IsNeural bool
}

// FatalError marks an engine-level failure (auth, quota, missing binary)
// as opposed to a problem with one particular sentence.
type FatalError struct {
	StatusCode int
	Message    string
}

func (e *FatalError) Error() string {
	return e.Message
}

// NewFatalError creates a new FatalError with the given status code and message.
func NewFatalError(statusCode int, message string) *FatalError {
	return &FatalError{StatusCode: statusCode, Message: message}
}

// IsFatalError checks if an error is an engine-level fatal error.
func IsFatalError(err error) bool {
	_, ok := err.(*FatalError)
	return ok
}
