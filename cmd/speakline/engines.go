package main

import (
	"context"
	"fmt"
	"log/slog"

	"speakline/pkg/config"
	"speakline/pkg/tracker"
	"speakline/pkg/tts"
	"speakline/pkg/tts/edgetts"
	"speakline/pkg/tts/gemini"
	"speakline/pkg/tts/piper"
	"speakline/pkg/tts/sapi"
)

// piperRunner replaces the piper subprocess in tests; nil runs the real binary.
var piperRunner piper.Runner

// newSynthesizer builds the configured engine. Speaker validation happens here
// so a bad speaker id fails before the device is opened.
func newSynthesizer(ctx context.Context, cfg *config.Config, opts *options, so *tts.Options, tr *tracker.Tracker) (tts.Synthesizer, error) {
	sc := cfg.Synth

	if sc.Engine != config.EnginePiper && so.Speaker != nil {
		slog.Warn("Speaker id only applies to piper voices, ignoring", "engine", sc.Engine, "speaker", *so.Speaker)
		so.Speaker = nil
	}

	switch sc.Engine {
	case config.EnginePiper:
		if opts.modelConfig == "" {
			return nil, fmt.Errorf("%w: <model_config_path> is required for the piper engine", errUsage)
		}
		p, err := piper.Load(piper.Config{
			Binary:      sc.Piper.Binary,
			ConfigPath:  config.ExpandPath(opts.modelConfig),
			Model:       sc.Piper.Model,
			Parallelism: sc.Parallelism,
			Timeout:     sc.Timeout.Std(),
			Runner:      piperRunner,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load piper voice: %w", err)
		}
		speaker, err := p.CheckSpeaker(so.Speaker)
		if err != nil {
			return nil, err
		}
		so.Speaker = speaker
		return p, nil

	case config.EngineEdgeTTS:
		return edgetts.NewProvider(sc.EdgeTTS, sc.Parallelism, sc.Timeout.Std(), tr), nil

	case config.EngineGemini:
		return gemini.NewProvider(ctx, sc.Gemini, sc.Parallelism, sc.Timeout.Std(), tr)

	case config.EngineSAPI:
		return sapi.NewProvider(sc.SAPI.VoiceID), nil

	default:
		return nil, fmt.Errorf("unknown engine %q", sc.Engine)
	}
}
