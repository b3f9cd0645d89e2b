package probe

import (
	"context"
	"fmt"
	"time"

	"speakline/pkg/store"
	"speakline/pkg/tts"
)

// Engine checks that the synthesizer can run (binary, model, credentials).
// Remote engines get a longer budget for their network round trip.
func Engine(s tts.Synthesizer) Probe {
	return Probe{
		Name:     "engine:" + s.Name(),
		Check:    s.HealthCheck,
		Critical: true,
		Timeout:  15 * time.Second,
	}
}

// Format checks that the engine reports a playable layout: mono, at a rate
// the output can open.
func Format(s tts.Synthesizer) Probe {
	return Probe{
		Name: "format",
		Check: func(ctx context.Context) error {
			f := s.Format().OrDefault()
			if f.Channels != 1 {
				return fmt.Errorf("unsupported channel count %d", f.Channels)
			}
			if f.SampleRate < 8000 || f.SampleRate > 192000 {
				return fmt.Errorf("unsupported sample rate %d", f.SampleRate)
			}
			return nil
		},
		Critical: true,
	}
}

// History checks the history database answers queries. Never critical.
func History(h store.HistoryStore) Probe {
	return Probe{
		Name: "history",
		Check: func(ctx context.Context) error {
			_, err := h.CountUtterances(ctx)
			return err
		},
	}
}
