// Package edgetts synthesizes speech through the Microsoft Edge read-aloud websocket.
package edgetts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gorilla/websocket"

	"speakline/pkg/backoff"
	"speakline/pkg/config"
	"speakline/pkg/tracker"
	"speakline/pkg/tts"
)

const (
	engineName = "edge-tts"
	sampleRate = 24000
	// Remote calls are cheap on CPU; keep a small window in flight.
	defaultWorkers = 2
	dialAttempts   = 3
)

// Provider implements tts.Synthesizer for Microsoft Edge TTS.
type Provider struct {
	cfg     config.EdgeTTSConfig
	tracker *tracker.Tracker
	workers int
	timeout time.Duration
	dialer  *websocket.Dialer
	backoff *backoff.Backoff
}

// NewProvider creates a new Edge TTS provider.
func NewProvider(cfg config.EdgeTTSConfig, parallelism int, timeout time.Duration, t *tracker.Tracker) *Provider {
	if parallelism <= 0 {
		parallelism = defaultWorkers
	}
	return &Provider{
		cfg:     cfg,
		tracker: t,
		workers: parallelism,
		timeout: timeout,
		dialer:  websocket.DefaultDialer,
		backoff: backoff.New(500*time.Millisecond, 10*time.Second),
	}
}

// Name implements tts.Synthesizer.
func (p *Provider) Name() string { return engineName }

// Format is fixed by the requested output format (24 kHz mono mp3).
func (p *Provider) Format() tts.Format {
	return tts.Format{SampleRate: sampleRate, Channels: 1}
}

// HealthCheck verifies the connection settings are present.
func (p *Provider) HealthCheck(ctx context.Context) error {
	missing := []string{}
	for name, v := range map[string]string{
		"base_url":             p.cfg.BaseURL,
		"origin":               p.cfg.Origin,
		"user_agent":           p.cfg.UserAgent,
		"trusted_client_token": p.cfg.TrustedClientToken,
		"sec_ms_gec_version":   p.cfg.SecMSGecVersion,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return tts.NewFatalError(0, fmt.Sprintf("edge-tts: missing settings %s", strings.Join(missing, ", ")))
	}
	return nil
}

// Synthesize renders each sentence over its own websocket session and
// yields decoded mono samples in sentence order.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Stream, error) {
	voice := opts.Voice
	if voice == "" {
		voice = p.cfg.VoiceID
	}
	if voice == "" {
		return nil, fmt.Errorf("voice ID is required")
	}

	sentences := tts.SplitSentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("nothing to synthesize")
	}

	return tts.Parallel(ctx, sentences, p.workers, func(ctx context.Context, i int, sentence string) ([]float32, error) {
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		samples, err := p.synthesizeSentence(ctx, voice, sentence)
		if err != nil {
			tts.Log("EDGETTS", sentence, 0, err)
			if p.tracker != nil {
				p.tracker.TrackAPIFailure(engineName)
			}
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}
		tts.Log("EDGETTS", sentence, 200, nil)
		if p.tracker != nil {
			p.tracker.TrackAPISuccess(engineName)
		}
		return samples, nil
	}), nil
}

func (p *Provider) synthesizeSentence(ctx context.Context, voice, text string) ([]float32, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := p.sendConfig(conn); err != nil {
		return nil, err
	}

	requestID := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := p.sendSSML(conn, voice, text, requestID); err != nil {
		return nil, err
	}

	var audio bytes.Buffer
	if err := p.consumeResponses(ctx, conn, &audio); err != nil {
		return nil, err
	}
	if audio.Len() == 0 {
		return nil, fmt.Errorf("edge-tts returned no audio")
	}

	return decodeMP3(audio.Bytes(), sampleRate)
}

func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	if p.cfg.BaseURL == "" {
		return nil, fmt.Errorf("edge-tts base_url is required")
	}
	if p.cfg.TrustedClientToken == "" {
		return nil, fmt.Errorf("edge-tts trusted_client_token is required")
	}

	header := http.Header{}
	if p.cfg.Origin != "" {
		header.Set("Origin", p.cfg.Origin)
	}
	if p.cfg.UserAgent != "" {
		header.Set("User-Agent", p.cfg.UserAgent)
	}
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	header.Set("Accept-Language", "en-US,en;q=0.9")

	// MUID Cookie
	muid := strings.ReplaceAll(uuid.New().String(), "-", "")
	header.Set("Cookie", fmt.Sprintf("muid=%s", muid))

	token := generateSecMSGec(p.cfg.TrustedClientToken, time.Now())
	url := fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		p.cfg.BaseURL, p.cfg.TrustedClientToken, token, p.cfg.SecMSGecVersion)

	// Sentence workers share the backoff for this endpoint
	var conn *websocket.Conn
	var dialErr error
	for range dialAttempts {
		if err := p.backoff.Wait(ctx, p.cfg.BaseURL); err != nil {
			return nil, err
		}
		var resp *http.Response
		conn, resp, dialErr = p.dialer.DialContext(ctx, url, header)
		if dialErr == nil {
			p.backoff.Success(p.cfg.BaseURL)
			return conn, nil
		}
		if resp != nil {
			slog.Warn("EdgeTTS: handshake failure", "status", resp.Status, "status_code", resp.StatusCode)
			if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
				return nil, tts.NewFatalError(resp.StatusCode, fmt.Sprintf("edge-tts rejected handshake: %s", resp.Status))
			}
		}
		delay := p.backoff.Failure(p.cfg.BaseURL)
		slog.Debug("EdgeTTS: dial failed, backing off", "error", dialErr, "delay", delay)
	}
	return nil, fmt.Errorf("websocket dial failed after retries: %w", dialErr)
}

// generateSecMSGec derives the Sec-MS-GEC token: Windows file-time ticks
// rounded down to five minutes, concatenated with the client token, SHA-256, upper hex.
func generateSecMSGec(trustedClientToken string, now time.Time) string {
	ticks := now.Unix() + 11644473600
	ticks -= ticks % 300

	strToHash := fmt.Sprintf("%d0000000%s", ticks, trustedClientToken)

	hash := sha256.Sum256([]byte(strToHash))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

func (p *Provider) sendConfig(conn *websocket.Conn) error {
	configMsg := "Content-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n{\"context\":{\"synthesis\":{\"audio\":{\"metadataoptions\":{\"sentenceBoundaryEnabled\":\"false\",\"wordBoundaryEnabled\":\"false\"},\"outputFormat\":\"audio-24khz-48kbitrate-mono-mp3\"}}}}"
	if err := conn.WriteMessage(websocket.TextMessage, []byte(configMsg)); err != nil {
		return fmt.Errorf("failed to send speech.config: %w", err)
	}
	return nil
}

func (p *Provider) sendSSML(conn *websocket.Conn, voice, text, requestID string) error {
	ssml := buildSSML(voice, text)

	ssmlMsg := fmt.Sprintf("X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nPath:ssml\r\n\r\n%s", requestID, ssml)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssmlMsg)); err != nil {
		return fmt.Errorf("failed to send ssml: %w", err)
	}
	return nil
}

func buildSSML(voice, text string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	escapedText := replacer.Replace(text)
	return fmt.Sprintf("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'><voice name='%s'>%s</voice></speak>", voice, escapedText)
}

func (p *Provider) consumeResponses(ctx context.Context, conn *websocket.Conn, w io.Writer) error {
	stop := context.AfterFunc(ctx, func() {
		// Unblock ReadMessage on cancellation
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message failed: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				return nil
			}
		case websocket.BinaryMessage:
			if err := handleBinaryMessage(data, w); err != nil {
				return err
			}
		}
	}
}

// handleBinaryMessage strips the big-endian length-prefixed header and writes the audio payload.
func handleBinaryMessage(data []byte, w io.Writer) error {
	if len(data) < 2 {
		return nil
	}
	headerLength := int(uint16(data[0])<<8 | uint16(data[1]))
	if len(data) < 2+headerLength {
		return nil
	}
	audioData := data[2+headerLength:]
	if len(audioData) > 0 {
		if _, err := w.Write(audioData); err != nil {
			return fmt.Errorf("write audio data failed: %w", err)
		}
	}
	return nil
}

// decodeMP3 decodes an in-memory mp3 into mono float samples at the target rate.
func decodeMP3(data []byte, targetRate int) ([]float32, error) {
	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if int(format.SampleRate) != targetRate {
		src = beep.Resample(4, format.SampleRate, beep.SampleRate(targetRate), streamer)
	}

	var out []float32
	buf := make([][2]float64, 4096)
	for {
		n, ok := src.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, float32((buf[i][0]+buf[i][1])/2))
		}
		if !ok {
			break
		}
	}
	if err := src.Err(); err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("decode mp3: no samples")
	}
	return out, nil
}

// Voices returns a list of high-quality neural voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{
		{ID: "en-US-AvaMultilingualNeural", Name: "Ava (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-US-AndrewMultilingualNeural", Name: "Andrew (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-GB-SoniaNeural", Name: "Sonia (UK)", Language: "en-GB", IsNeural: true},
		{ID: "fr-FR-VivienneNeural", Name: "Vivienne (France)", Language: "fr-FR", IsNeural: true},
		{ID: "de-DE-SeraphinaNeural", Name: "Seraphina (Germany)", Language: "de-DE", IsNeural: true},
	}, nil
}
