package model

import (
	"time"

	"github.com/google/uuid"
)

// Utterance status values.
const (
	StatusPlayed      = "played"       // At least one chunk reached the speaker
	StatusSilent      = "silent"       // Every chunk failed; nothing was played
	StatusSynthFailed = "synth_failed" // The engine rejected the whole line
)

// Utterance records one line handed to the synthesizer.
// Audio is never stored, only what was said and how it went.
type Utterance struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Engine  string `json:"engine"`
	Voice   string `json:"voice"`
	Speaker *int64 `json:"speaker,omitempty"`

	Chunks       int `json:"chunks"`        // Chunks that produced audio
	FailedChunks int `json:"failed_chunks"` // Chunks that errored
	Samples      int `json:"samples"`       // Aggregated sample count
	SampleRate   int `json:"sample_rate"`

	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUtterance creates an utterance with a fresh ID and timestamp.
func NewUtterance(text, engine string) *Utterance {
	return &Utterance{
		ID:        uuid.New().String(),
		Text:      text,
		Engine:    engine,
		CreatedAt: time.Now().UTC(),
	}
}

// Duration is the playback length of the aggregated audio.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(u.Samples) * time.Second / time.Duration(u.SampleRate)
}
