// Package audio provides blocking playback of synthesized sample buffers.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"

	"speakline/pkg/config"
	"speakline/pkg/tts"
)

var (
	// ErrAlreadyOpen is returned when the output device is opened twice.
	ErrAlreadyOpen = errors.New("audio output already open")
	// ErrQueue is returned when a playback queue cannot be attached to the output.
	ErrQueue = errors.New("cannot create playback queue")
	// ErrFormat is returned for audio that is not mono at the output's sample rate.
	ErrFormat = errors.New("unsupported audio format")
)

// fadeIn smooths the first few milliseconds of each utterance to avoid a click.
const fadeIn = 5 * time.Millisecond

// Manager owns the audio output and plays one buffer at a time.
// The output runs mono at the engine's sample rate; nothing is resampled.
type Manager struct {
	mu     sync.Mutex
	queue  sync.Mutex // held for the whole of a PlayBlocking call
	dev    Device
	cfg    config.AudioConfig
	open   bool
	closed bool
	format tts.Format
	volume float64

	ctrl *beep.Ctrl // current buffer, nil when idle
}

// New creates a Manager. A nil device plays through the system speaker.
func New(cfg config.AudioConfig, dev Device) *Manager {
	if dev == nil {
		dev = speakerDevice{}
	}
	vol := cfg.Volume
	if vol < 0 {
		vol = 0
	} else if vol > 1 {
		vol = 1
	}
	return &Manager{dev: dev, cfg: cfg, volume: vol}
}

// Open initializes the output device once, at the engine's sample rate.
func (m *Manager) Open(format tts.Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return ErrAlreadyOpen
	}
	if m.closed {
		return fmt.Errorf("audio output was closed")
	}

	format = format.OrDefault()
	if format.Channels != 1 {
		return fmt.Errorf("%w: %d channels, only mono is supported", ErrFormat, format.Channels)
	}
	sr := beep.SampleRate(format.SampleRate)

	buffer := m.cfg.Buffer.Std()
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}

	if err := m.dev.Init(sr, sr.N(buffer)); err != nil {
		slog.Error("Failed to initialize audio output", "error", err)
		return fmt.Errorf("failed to open audio output: %w", err)
	}

	m.open = true
	m.format = format
	slog.Debug("Audio output opened", "sample_rate", format.SampleRate, "buffer", buffer)
	return nil
}

// PlayBlocking queues samples on the output and returns once they have
// finished playing. Empty buffers return immediately. Cancelling ctx stops
// playback early and returns ctx.Err().
func (m *Manager) PlayBlocking(ctx context.Context, samples []float32, format tts.Format) error {
	if len(samples) == 0 {
		return nil
	}

	m.queue.Lock()
	defer m.queue.Unlock()

	done, err := m.enqueue(samples, format.OrDefault())
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.stop()
		return ctx.Err()
	}
}

func (m *Manager) enqueue(samples []float32, format tts.Format) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open || m.closed {
		return nil, fmt.Errorf("%w: output not open", ErrQueue)
	}
	if format != m.format {
		return nil, fmt.Errorf("%w: %w: buffer is %d Hz/%d ch, output is %d Hz/%d ch",
			ErrQueue, ErrFormat, format.SampleRate, format.Channels, m.format.SampleRate, m.format.Channels)
	}

	rate := float64(m.format.SampleRate)
	var s beep.Streamer = newSamplesStreamer(samples)
	if m.cfg.Effects.Headset {
		s = NewHeadsetFilter(s, rate, m.cfg.Effects.LowCutoff, m.cfg.Effects.HighCutoff)
	}
	s = newFadeIn(s, rate, fadeIn)

	// Map 0-1 linear volume to Beep logic (Base 2)
	vol := &effects.Volume{
		Streamer: s,
		Base:     2,
		Volume:   volumeToPower(m.volume),
		Silent:   m.volume <= 0.01,
	}
	ctrl := &beep.Ctrl{Streamer: vol}
	m.ctrl = ctrl

	done := make(chan struct{})
	m.dev.Play(beep.Seq(ctrl, beep.Callback(func() {
		// Runs on the output goroutine; cleanup must not block it
		go func() {
			m.mu.Lock()
			if m.ctrl == ctrl {
				m.ctrl = nil
			}
			m.mu.Unlock()
			close(done)
		}()
	})))

	slog.Debug("Audio: playing buffer", "samples", len(samples), "rate", m.format.SampleRate)
	return done, nil
}

// stop aborts the current buffer, if any.
func (m *Manager) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctrl != nil {
		m.dev.Clear()
		m.ctrl = nil
	}
}

// Close stops playback and releases the output. Later plays fail with ErrQueue.
func (m *Manager) Close() {
	m.stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open && !m.closed {
		m.dev.Close()
		slog.Debug("Audio output closed")
	}
	m.closed = true
}
