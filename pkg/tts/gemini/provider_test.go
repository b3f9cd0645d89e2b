package gemini

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"speakline/pkg/backoff"
	"speakline/pkg/config"
	"speakline/pkg/tracker"
	"speakline/pkg/tts"
)

func audioResponse(mimeType string, data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
				},
			},
		}},
	}
}

func TestExtractAudio(t *testing.T) {
	pcm := []byte{0x00, 0x40, 0x00, 0xC0} // 0.5, -0.5

	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    []float32
		wantErr bool
	}{
		{"Valid", audioResponse("audio/L16;codec=pcm;rate=24000", pcm), []float32{0.5, -0.5}, false},
		{"NoRateAssumesDefault", audioResponse("audio/L16", pcm), []float32{0.5, -0.5}, false},
		{"WrongRate", audioResponse("audio/L16;codec=pcm;rate=16000", pcm), nil, true},
		{"WrongType", audioResponse("audio/mpeg", pcm), nil, true},
		{"OddLength", audioResponse("audio/L16;rate=24000", []byte{0x01}), nil, true},
		{"Empty", audioResponse("audio/L16;rate=24000", nil), nil, true},
		{"NoCandidates", &genai.GenerateContentResponse{}, nil, true},
		{"Nil", nil, nil, true},
		{"NoContent", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}, nil, true},
		{"TextOnly", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("hi", genai.RoleModel)}}}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractAudio(tt.resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-6)
		})
	}
}

type fakeGen struct {
	mu      sync.Mutex
	prompts []string
	voices  []string
	fail    string
}

func (f *fakeGen) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	text := contents[0].Parts[0].Text
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	f.voices = append(f.voices, cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	f.mu.Unlock()

	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != "AUDIO" {
		return nil, errors.New("audio modality not requested")
	}
	if text == f.fail {
		return nil, errors.New("quota exceeded")
	}
	return audioResponse("audio/L16;codec=pcm;rate=24000", []byte{0x00, 0x40}), nil
}

func TestSynthesize(t *testing.T) {
	gen := &fakeGen{fail: "Second."}
	tr := tracker.New()
	p := &Provider{
		gen:     gen,
		cfg:     config.GeminiConfig{Model: "m", VoiceID: "Kore"},
		tracker: tr,
		workers: 2,
		backoff: backoff.New(time.Millisecond, time.Millisecond),
	}

	stream, err := p.Synthesize(context.Background(), "First. Second. Third.", tts.Options{Voice: "Puck"})
	require.NoError(t, err)

	var ok, failed []int
	for chunk, err := range stream {
		if err != nil {
			failed = append(failed, chunk.Index)
			continue
		}
		ok = append(ok, chunk.Index)
	}
	assert.Equal(t, []int{0, 2}, ok)
	assert.Equal(t, []int{1}, failed)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.Len(t, gen.prompts, 3)
	for _, v := range gen.voices {
		assert.Equal(t, "Puck", v)
	}

	stats := tr.Snapshot()[engineName]
	assert.Equal(t, int64(2), stats.APISuccess)
	assert.Equal(t, int64(1), stats.APIFailures)
}

func TestWithoutKey(t *testing.T) {
	p, err := NewProvider(context.Background(), config.GeminiConfig{}, 0, 0, nil)
	require.NoError(t, err)

	assert.True(t, tts.IsFatalError(p.HealthCheck(context.Background())))

	_, err = p.Synthesize(context.Background(), "Hello.", tts.Options{})
	assert.True(t, tts.IsFatalError(err))
	assert.True(t, strings.Contains(err.Error(), "not configured"))
}

func TestParseRate(t *testing.T) {
	rate, err := parseRate("audio/L16;codec=pcm;rate=24000")
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)

	_, err = parseRate("audio/L16;rate=fast")
	assert.Error(t, err)
}
