package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported synthesis engines.
const (
	EnginePiper   = "piper"
	EngineEdgeTTS = "edge-tts"
	EngineGemini  = "gemini"
	EngineSAPI    = "windows-sapi"
)

// Config holds the application configuration.
type Config struct {
	Synth   SynthConfig   `yaml:"synth"`
	Audio   AudioConfig   `yaml:"audio"`
	Log     LogConfig     `yaml:"log"`
	History HistoryConfig `yaml:"history"`
}

// SynthConfig holds settings for the speech synthesis engine.
type SynthConfig struct {
	Engine      string        `yaml:"engine"`
	Parallelism int           `yaml:"parallelism"` // Concurrent sentence jobs (0 = number of CPUs)
	Timeout     Duration      `yaml:"timeout"`     // Per-sentence synthesis timeout
	Piper       PiperConfig   `yaml:"piper"`
	EdgeTTS     EdgeTTSConfig `yaml:"edge_tts"`
	Gemini      GeminiConfig  `yaml:"gemini"`
	SAPI        SAPIConfig    `yaml:"sapi"`
}

// PiperConfig holds settings for the local piper binary.
type PiperConfig struct {
	Binary string `yaml:"binary"` // Path or name of the piper executable
	Model  string `yaml:"model"`  // .onnx model; empty = voice config path without ".json"
}

// EdgeTTSConfig holds settings for Edge TTS.
type EdgeTTSConfig struct {
	VoiceID            string `yaml:"voice"` // e.g. "en-US-AvaMultilingualNeural"
	BaseURL            string `yaml:"base_url"`
	Origin             string `yaml:"origin"`
	UserAgent          string `yaml:"user_agent"`
	TrustedClientToken string `yaml:"trusted_client_token"`
	SecMSGecVersion    string `yaml:"sec_ms_gec_version"`
}

// GeminiConfig holds settings for Gemini speech generation.
type GeminiConfig struct {
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
	VoiceID string `yaml:"voice"` // Prebuilt voice name, e.g. "Kore"
}

// SAPIConfig holds settings for Windows SAPI5.
type SAPIConfig struct {
	VoiceID string `yaml:"voice"` // Token ID; empty = system default voice
}

// AudioConfig holds playback settings. The output always runs mono at the
// engine's sample rate.
type AudioConfig struct {
	Buffer  Duration           `yaml:"buffer"` // Device buffer length
	Volume  float64            `yaml:"volume"` // 0.0 to 1.0
	Effects AudioEffectsConfig `yaml:"effects"`
}

// AudioEffectsConfig holds optional post-processing applied at playback.
type AudioEffectsConfig struct {
	Headset    bool    `yaml:"headset"`
	LowCutoff  float64 `yaml:"low_cutoff"`
	HighCutoff float64 `yaml:"high_cutoff"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server LogSettings    `yaml:"server"`
	TTS    TTSLogSettings `yaml:"tts"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// TTSLogSettings configures the per-sentence synthesis log. It has no level:
// every sentence is written. An empty path disables it.
type TTSLogSettings struct {
	Path string `yaml:"path"`
}

// HistoryConfig holds settings for the utterance history database.
type HistoryConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Path      string   `yaml:"path"`
	Retention Duration `yaml:"retention"` // Older entries are pruned at startup; 0 keeps everything
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Synth: SynthConfig{
			Engine:      EnginePiper,
			Parallelism: 0,
			Timeout:     Duration(60 * time.Second),
			Piper: PiperConfig{
				Binary: "piper",
			},
			EdgeTTS: EdgeTTSConfig{
				VoiceID: "en-US-AvaMultilingualNeural",
			},
			Gemini: GeminiConfig{
				Model:   "gemini-2.5-flash-preview-tts",
				VoiceID: "Kore",
			},
		},
		Audio: AudioConfig{
			Buffer: Duration(100 * time.Millisecond),
			Volume: 1.0,
			Effects: AudioEffectsConfig{
				Headset:    false,
				LowCutoff:  400,
				HighCutoff: 3500,
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/speakline.log",
				Level: "INFO",
			},
			TTS: TTSLogSettings{
				Path: "./logs/tts.log",
			},
		},
		History: HistoryConfig{
			Enabled:   true,
			Path:      "./data/history.db",
			Retention: Duration(30 * Day),
		},
	}
}

// Load loads the configuration from the given path.
// A missing file yields the defaults; the file is never written back so user formatting and comments survive.
// Secrets and connection settings left empty in the file are taken from the environment (and a local .env file).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	applyEnv(cfg)
	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	fromEnv(&cfg.Synth.Gemini.Key, "GEMINI_API_KEY")
	fromEnv(&cfg.Synth.Piper.Binary, "SPEAKLINE_PIPER_BIN")
	fromEnv(&cfg.Synth.EdgeTTS.BaseURL, "EDGE_TTS_BASE_URL")
	fromEnv(&cfg.Synth.EdgeTTS.Origin, "EDGE_TTS_ORIGIN")
	fromEnv(&cfg.Synth.EdgeTTS.UserAgent, "EDGE_TTS_USER_AGENT")
	fromEnv(&cfg.Synth.EdgeTTS.TrustedClientToken, "EDGE_TTS_TRUSTED_CLIENT_TOKEN")
	fromEnv(&cfg.Synth.EdgeTTS.SecMSGecVersion, "EDGE_TTS_SEC_MS_GEC_VERSION")
}

// fromEnv fills dst from the environment only when the file left it empty.
// SPEAKLINE_PIPER_BIN always wins because the default binary name is never empty.
func fromEnv(dst *string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if *dst == "" || key == "SPEAKLINE_PIPER_BIN" {
		*dst = v
	}
}

var windowsVarRegex = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// ExpandPath expands $VAR, ${VAR} and %VAR% references in a filesystem path.
func ExpandPath(p string) string {
	p = windowsVarRegex.ReplaceAllStringFunc(p, func(m string) string {
		return os.Getenv(m[1 : len(m)-1])
	})
	return os.ExpandEnv(p)
}

func expandPaths(cfg *Config) {
	cfg.Synth.Piper.Model = ExpandPath(cfg.Synth.Piper.Model)
	cfg.Synth.Piper.Binary = ExpandPath(cfg.Synth.Piper.Binary)
	cfg.Log.Server.Path = ExpandPath(cfg.Log.Server.Path)
	cfg.Log.TTS.Path = ExpandPath(cfg.Log.TTS.Path)
	cfg.History.Path = ExpandPath(cfg.History.Path)
}

// Validate checks value ranges and enum fields.
func (c *Config) Validate() error {
	switch c.Synth.Engine {
	case EnginePiper, EngineEdgeTTS, EngineGemini, EngineSAPI:
	default:
		return fmt.Errorf("invalid synth.engine '%s': must be one of %s, %s, %s, %s",
			c.Synth.Engine, EnginePiper, EngineEdgeTTS, EngineGemini, EngineSAPI)
	}
	if c.Synth.Parallelism < 0 {
		return fmt.Errorf("invalid synth.parallelism %d: must be >= 0", c.Synth.Parallelism)
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("invalid history.retention %v: must be >= 0", c.History.Retention.Std())
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return fmt.Errorf("invalid audio.volume %.2f: must be within [0, 1]", c.Audio.Volume)
	}
	if c.Audio.Effects.Headset && c.Audio.Effects.LowCutoff >= c.Audio.Effects.HighCutoff {
		return fmt.Errorf("invalid audio.effects: low_cutoff (%.0f) must be below high_cutoff (%.0f)",
			c.Audio.Effects.LowCutoff, c.Audio.Effects.HighCutoff)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# speakline configuration
# ----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Secrets (gemini key, edge_tts connection settings) may be left empty and
# supplied through the environment or a .env file instead.

`)
	data = append(header, data...)

	reEngine := regexp.MustCompile(`(?m)^(\s+)engine:`)
	data = reEngine.ReplaceAll(data, []byte("${1}# Options: piper, edge-tts, gemini, windows-sapi\n${1}engine:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
