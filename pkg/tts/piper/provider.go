// Package piper drives the piper neural TTS binary as a subprocess.
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"speakline/pkg/tts"
)

// ErrSpeakerRange is returned when a speaker index does not exist in a multi-speaker voice.
var ErrSpeakerRange = errors.New("speaker id out of range")

// VoiceConfig is the subset of a piper voice's .onnx.json file speakline needs.
type VoiceConfig struct {
	Audio struct {
		SampleRate int    `json:"sample_rate"`
		Quality    string `json:"quality"`
	} `json:"audio"`
	Espeak struct {
		Voice string `json:"voice"`
	} `json:"espeak"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	NumSpeakers  int              `json:"num_speakers"`
	SpeakerIDMap map[string]int64 `json:"speaker_id_map"`
}

// Runner executes the piper binary with text on stdin and returns raw stdout.
type Runner interface {
	Run(ctx context.Context, binary string, args []string, stdin string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, binary string, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("piper failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Config holds the settings needed to load a piper voice.
type Config struct {
	Binary      string        // piper executable; default "piper"
	ConfigPath  string        // voice .onnx.json (required)
	Model       string        // voice .onnx; default ConfigPath without ".json"
	Parallelism int           // concurrent piper processes; 0 = number of CPUs
	Timeout     time.Duration // per-sentence limit; 0 = none
	Runner      Runner        // nil = real subprocess
}

// Provider implements tts.Synthesizer on top of the piper CLI.
type Provider struct {
	binary     string
	configPath string
	model      string
	voice      VoiceConfig
	workers    int
	timeout    time.Duration
	runner     Runner
}

// Load reads the voice configuration and prepares a provider.
// A missing or malformed voice file is a startup error.
func Load(cfg Config) (*Provider, error) {
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("piper voice config path is required")
	}

	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice config: %w", err)
	}

	var voice VoiceConfig
	if err := json.Unmarshal(data, &voice); err != nil {
		return nil, fmt.Errorf("failed to parse voice config %s: %w", cfg.ConfigPath, err)
	}

	p := &Provider{
		binary:     cfg.Binary,
		configPath: cfg.ConfigPath,
		model:      cfg.Model,
		voice:      voice,
		workers:    cfg.Parallelism,
		timeout:    cfg.Timeout,
		runner:     cfg.Runner,
	}
	if p.binary == "" {
		p.binary = "piper"
	}
	if p.model == "" {
		p.model = strings.TrimSuffix(cfg.ConfigPath, ".json")
	}
	if p.workers <= 0 {
		p.workers = runtime.NumCPU()
	}
	if p.runner == nil {
		p.runner = execRunner{}
	}

	slog.Debug("Piper voice loaded",
		"config", cfg.ConfigPath,
		"model", p.model,
		"sample_rate", p.Format().SampleRate,
		"speakers", voice.NumSpeakers,
		"workers", p.workers)

	return p, nil
}

// Name implements tts.Synthesizer.
func (p *Provider) Name() string { return "piper" }

// Format reports the voice's sample rate, falling back to 22050 Hz mono.
func (p *Provider) Format() tts.Format {
	return tts.Format{SampleRate: p.voice.Audio.SampleRate, Channels: 1}.OrDefault()
}

// CheckSpeaker validates a speaker index against the voice.
// Single-speaker voices ignore the index (nil is returned with a warning).
func (p *Provider) CheckSpeaker(speaker *int64) (*int64, error) {
	if speaker == nil {
		return nil, nil
	}
	if p.voice.NumSpeakers <= 1 {
		slog.Warn("Piper: voice has a single speaker, ignoring speaker id", "speaker", *speaker)
		return nil, nil
	}
	if *speaker < 0 || *speaker >= int64(p.voice.NumSpeakers) {
		return nil, fmt.Errorf("%w: %d (voice has %d speakers)", ErrSpeakerRange, *speaker, p.voice.NumSpeakers)
	}
	return speaker, nil
}

// Synthesize splits text into sentences and renders them with up to
// Parallelism concurrent piper processes, yielding chunks in order.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Stream, error) {
	sentences := tts.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("nothing to synthesize")
	}

	speaker, err := p.CheckSpeaker(opts.Speaker)
	if err != nil {
		return nil, err
	}
	args := p.args(speaker)

	return tts.Parallel(ctx, sentences, p.workers, func(ctx context.Context, i int, sentence string) ([]float32, error) {
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		start := time.Now()
		raw, err := p.runner.Run(ctx, p.binary, args, sentence)
		if err != nil {
			tts.Log("PIPER", sentence, 0, err)
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}

		samples, err := tts.PCM16ToFloat32(raw)
		if err != nil {
			tts.Log("PIPER", sentence, 0, err)
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}
		if len(samples) == 0 {
			err := fmt.Errorf("sentence %d: piper produced no audio", i)
			tts.Log("PIPER", sentence, 0, err)
			return nil, err
		}

		tts.Log("PIPER", sentence, 200, nil)
		slog.Debug("Piper: sentence rendered", "index", i, "samples", len(samples), "elapsed", time.Since(start))
		return samples, nil
	}), nil
}

func (p *Provider) args(speaker *int64) []string {
	args := []string{"--model", p.model, "--config", p.configPath, "--output-raw", "--quiet"}
	if speaker != nil {
		args = append(args, "--speaker", strconv.FormatInt(*speaker, 10))
	}
	return args
}

// HealthCheck verifies that the binary can be found and the model file exists.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, ok := p.runner.(execRunner); ok {
		if _, err := exec.LookPath(p.binary); err != nil {
			return tts.NewFatalError(0, fmt.Sprintf("piper binary %q not found: %v", p.binary, err))
		}
	}
	if _, err := os.Stat(p.model); err != nil {
		return tts.NewFatalError(0, fmt.Sprintf("piper model not found: %v", err))
	}
	return nil
}

// Voices lists the speakers of a multi-speaker voice, ordered by index.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	lang := p.voice.Language.Code
	if lang == "" {
		lang = p.voice.Espeak.Voice
	}
	if len(p.voice.SpeakerIDMap) == 0 {
		return []tts.Voice{{ID: "0", Name: p.model, Language: lang, IsNeural: true}}, nil
	}

	voices := make([]tts.Voice, 0, len(p.voice.SpeakerIDMap))
	for name, id := range p.voice.SpeakerIDMap {
		voices = append(voices, tts.Voice{
			ID:       strconv.FormatInt(id, 10),
			Name:     name,
			Language: lang,
			IsNeural: true,
		})
	}
	sort.Slice(voices, func(i, j int) bool {
		a, _ := strconv.Atoi(voices[i].ID)
		b, _ := strconv.Atoi(voices[j].ID)
		return a < b
	})
	return voices, nil
}
