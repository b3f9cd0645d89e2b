package piper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speakline/pkg/tts"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]bool
}

func (f *fakeRunner) Run(ctx context.Context, binary string, args []string, stdin string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{binary, stdin}, args...))
	f.mu.Unlock()

	if f.fail[stdin] {
		return nil, errors.New("boom")
	}
	// One sample per input byte, value 0x4000 (0.5)
	out := make([]byte, 0, len(stdin)*2)
	for range stdin {
		out = append(out, 0x00, 0x40)
	}
	return out, nil
}

func writeVoice(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "en_US-test-medium.onnx.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("ReadsSampleRateAndModel", func(t *testing.T) {
		path := writeVoice(t, `{"audio":{"sample_rate":16000},"num_speakers":1}`)
		p, err := Load(Config{ConfigPath: path, Runner: &fakeRunner{}})
		require.NoError(t, err)
		assert.Equal(t, tts.Format{SampleRate: 16000, Channels: 1}, p.Format())
		assert.Equal(t, strings.TrimSuffix(path, ".json"), p.model)
		assert.Equal(t, "piper", p.binary)
		assert.Greater(t, p.workers, 0)
	})

	t.Run("DefaultsRate", func(t *testing.T) {
		path := writeVoice(t, `{}`)
		p, err := Load(Config{ConfigPath: path, Runner: &fakeRunner{}})
		require.NoError(t, err)
		assert.Equal(t, 22050, p.Format().SampleRate)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(Config{ConfigPath: filepath.Join(t.TempDir(), "nope.json")})
		assert.Error(t, err)
	})

	t.Run("Malformed", func(t *testing.T) {
		path := writeVoice(t, `{not json`)
		_, err := Load(Config{ConfigPath: path})
		assert.Error(t, err)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := Load(Config{})
		assert.Error(t, err)
	})
}

func TestCheckSpeaker(t *testing.T) {
	multi := writeVoice(t, `{"num_speakers":3,"speaker_id_map":{"a":0,"b":1,"c":2}}`)
	single := writeVoice(t, `{"num_speakers":1}`)

	pm, err := Load(Config{ConfigPath: multi, Runner: &fakeRunner{}})
	require.NoError(t, err)
	ps, err := Load(Config{ConfigPath: single, Runner: &fakeRunner{}})
	require.NoError(t, err)

	id := func(v int64) *int64 { return &v }

	tests := []struct {
		name    string
		p       *Provider
		speaker *int64
		want    *int64
		wantErr bool
	}{
		{"Nil", pm, nil, nil, false},
		{"InRange", pm, id(2), id(2), false},
		{"TooHigh", pm, id(3), nil, true},
		{"Negative", pm, id(-1), nil, true},
		{"SingleSpeakerIgnored", ps, id(7), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.p.CheckSpeaker(tt.speaker)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSpeakerRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSynthesize(t *testing.T) {
	path := writeVoice(t, `{"audio":{"sample_rate":22050},"num_speakers":2}`)
	runner := &fakeRunner{fail: map[string]bool{"Bad one.": true}}
	p, err := Load(Config{Binary: "/opt/piper", ConfigPath: path, Parallelism: 2, Runner: runner})
	require.NoError(t, err)

	speaker := int64(1)
	stream, err := p.Synthesize(context.Background(), "Hi. Bad one. Okay!", tts.Options{Speaker: &speaker})
	require.NoError(t, err)

	var (
		indices []int
		lengths []int
		errs    int
	)
	for chunk, err := range stream {
		if err != nil {
			errs++
			continue
		}
		indices = append(indices, chunk.Index)
		lengths = append(lengths, len(chunk.Samples))
		assert.InDelta(t, 0.5, chunk.Samples[0], 1e-6)
	}

	assert.Equal(t, 1, errs)
	assert.Equal(t, []int{0, 2}, indices)
	assert.Equal(t, []int{len("Hi."), len("Okay!")}, lengths)

	require.Len(t, runner.calls, 3)
	for _, call := range runner.calls {
		assert.Equal(t, "/opt/piper", call[0])
		assert.Contains(t, call, "--output-raw")
		assert.Contains(t, call, "--speaker")
		assert.Contains(t, call, "1")
	}
}

func TestSynthesize_Errors(t *testing.T) {
	path := writeVoice(t, `{"num_speakers":2}`)
	p, err := Load(Config{ConfigPath: path, Runner: &fakeRunner{}})
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "   ", tts.Options{})
	assert.Error(t, err)

	bad := int64(5)
	_, err = p.Synthesize(context.Background(), "Hello.", tts.Options{Speaker: &bad})
	assert.ErrorIs(t, err, ErrSpeakerRange)
}

func TestHealthCheck(t *testing.T) {
	path := writeVoice(t, `{}`)
	p, err := Load(Config{ConfigPath: path, Runner: &fakeRunner{}})
	require.NoError(t, err)

	err = p.HealthCheck(context.Background())
	assert.True(t, tts.IsFatalError(err), "missing model should be fatal")

	require.NoError(t, os.WriteFile(p.model, []byte("onnx"), 0o644))
	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestVoices(t *testing.T) {
	path := writeVoice(t, `{"language":{"code":"en_US"},"num_speakers":3,"speaker_id_map":{"zed":2,"amy":0,"bob":1}}`)
	p, err := Load(Config{ConfigPath: path, Runner: &fakeRunner{}})
	require.NoError(t, err)

	voices, err := p.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 3)
	assert.Equal(t, "amy", voices[0].Name)
	assert.Equal(t, "bob", voices[1].Name)
	assert.Equal(t, "2", voices[2].ID)
	assert.Equal(t, "en_US", voices[2].Language)
}
