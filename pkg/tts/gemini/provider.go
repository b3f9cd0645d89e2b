// Package gemini synthesizes speech with the Gemini native TTS models.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"speakline/pkg/backoff"
	"speakline/pkg/config"
	"speakline/pkg/tracker"
	"speakline/pkg/tts"
)

const (
	engineName     = "gemini"
	sampleRate     = 24000
	defaultWorkers = 2
)

// generator is the part of genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements tts.Synthesizer for Gemini speech generation.
type Provider struct {
	client  *genai.Client
	gen     generator
	cfg     config.GeminiConfig
	tracker *tracker.Tracker
	workers int
	timeout time.Duration
	backoff *backoff.Backoff
}

// NewProvider creates a Gemini TTS provider. A missing key is not an error
// here; HealthCheck reports it so startup probes can surface it.
func NewProvider(ctx context.Context, cfg config.GeminiConfig, parallelism int, timeout time.Duration, t *tracker.Tracker) (*Provider, error) {
	if parallelism <= 0 {
		parallelism = defaultWorkers
	}
	p := &Provider{
		cfg:     cfg,
		tracker: t,
		workers: parallelism,
		timeout: timeout,
		backoff: backoff.New(time.Second, 30*time.Second),
	}
	if p.cfg.Model == "" {
		p.cfg.Model = "gemini-2.5-flash-preview-tts"
	}
	if cfg.Key == "" {
		return p, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	p.client = client
	p.gen = client.Models
	return p, nil
}

// Name implements tts.Synthesizer.
func (p *Provider) Name() string { return engineName }

// Format is the fixed output of the Gemini TTS models (24 kHz mono L16).
func (p *Provider) Format() tts.Format {
	return tts.Format{SampleRate: sampleRate, Channels: 1}
}

// HealthCheck verifies the key is set and the model is reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if p.gen == nil {
		return tts.NewFatalError(401, "gemini: API key not configured (set synth.gemini.key or GEMINI_API_KEY)")
	}
	if p.client == nil {
		return nil
	}
	if _, err := p.client.Models.Get(ctx, p.cfg.Model, nil); err != nil {
		return fmt.Errorf("gemini: model %s unavailable: %w", p.cfg.Model, err)
	}
	return nil
}

// Synthesize requests audio for each sentence and yields them in order.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Stream, error) {
	if p.gen == nil {
		return nil, tts.NewFatalError(401, "gemini client not configured")
	}

	sentences := tts.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("nothing to synthesize")
	}

	voice := opts.Voice
	if voice == "" {
		voice = p.cfg.VoiceID
	}
	genCfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	return tts.Parallel(ctx, sentences, p.workers, func(ctx context.Context, i int, sentence string) ([]float32, error) {
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		if err := p.backoff.Wait(ctx, p.cfg.Model); err != nil {
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}
		resp, err := p.gen.GenerateContent(ctx, p.cfg.Model, genai.Text(sentence), genCfg)
		if err != nil {
			delay := p.backoff.Failure(p.cfg.Model)
			slog.Debug("Gemini: request failed, backing off", "model", p.cfg.Model, "delay", delay)
			p.fail(sentence, err)
			return nil, fmt.Errorf("sentence %d: generate audio: %w", i, err)
		}

		p.backoff.Success(p.cfg.Model)

		samples, err := extractAudio(resp)
		if err != nil {
			p.fail(sentence, err)
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}

		tts.Log("GEMINI", sentence, 200, nil)
		if p.tracker != nil {
			p.tracker.TrackAPISuccess(engineName)
		}
		return samples, nil
	}), nil
}

func (p *Provider) fail(sentence string, err error) {
	tts.Log("GEMINI", sentence, 0, err)
	if p.tracker != nil {
		p.tracker.TrackAPIFailure(engineName)
	}
}

// extractAudio pulls the first inline audio part out of a response and
// converts it to float samples. Audio at a rate other than 24 kHz is rejected.
func extractAudio(resp *genai.GenerateContentResponse) ([]float32, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return nil, fmt.Errorf("candidate has no content (finish reason %q)", cand.FinishReason)
	}

	for _, part := range cand.Content.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}
		rate, err := parseRate(part.InlineData.MIMEType)
		if err != nil {
			return nil, err
		}
		if rate != sampleRate {
			return nil, fmt.Errorf("unexpected sample rate %d (want %d)", rate, sampleRate)
		}
		samples, err := tts.PCM16ToFloat32(part.InlineData.Data)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			return nil, fmt.Errorf("empty audio part")
		}
		return samples, nil
	}
	return nil, fmt.Errorf("no audio part in response")
}

// parseRate reads the rate parameter of an "audio/L16;codec=pcm;rate=24000" MIME type.
// A missing rate is taken to be the model default.
func parseRate(mimeType string) (int, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, fmt.Errorf("bad audio mime type %q: %w", mimeType, err)
	}
	if !strings.HasPrefix(strings.ToLower(mediaType), "audio/l16") && mediaType != "audio/pcm" {
		return 0, fmt.Errorf("unsupported audio mime type %q", mimeType)
	}
	r, ok := params["rate"]
	if !ok {
		slog.Debug("Gemini: audio mime type without rate, assuming default", "mime", mimeType)
		return sampleRate, nil
	}
	rate, err := strconv.Atoi(r)
	if err != nil {
		return 0, fmt.Errorf("bad sample rate %q: %w", r, err)
	}
	return rate, nil
}

// Voices returns a selection of the prebuilt Gemini voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	names := []string{"Kore", "Puck", "Charon", "Fenrir", "Aoede", "Leda", "Orus", "Zephyr"}
	voices := make([]tts.Voice, 0, len(names))
	for _, n := range names {
		voices = append(voices, tts.Voice{ID: n, Name: n, Language: "multi", IsNeural: true})
	}
	return voices, nil
}
