package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the Rhodes client.
type Config struct {
	ServerURL         string
	FallbackServerURL string
	IgnoreSavedServer bool
	HTTPBaseURL       string
	StatusAddr        string
	MetricsNamespace  string
	ShutdownTimeout   time.Duration

	StoreBackend string
	StoreFile    string
	RedisAddr    string
	RedisPrefix  string
	DatabaseURL  string

	OpenTimeout          time.Duration
	AuthTimeout          time.Duration
	ReconnectBase        time.Duration
	ReconnectGrowth      float64
	ReconnectCap         time.Duration
	ReconnectGiveUpAfter int
	RequestTimeout       time.Duration
	WriteTimeout         time.Duration

	ClientVersion string
	Platform      string

	VoiceEnabled bool
	VoiceMode    string
	VoiceBackend string
	STTProvider  string
	TTSProvider  string

	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsSTTModel        string
	ElevenLabsTTSOutputFormat string

	SampleRate       int
	SilenceThreshold float64
	SilencePeakRatio float64
	SilenceDuration  time.Duration
	SilenceGrace     time.Duration
	RecordCeiling    time.Duration
	PlaybackCeiling  time.Duration
	TTSTimeout       time.Duration
	ResumeCooldown   time.Duration

	CaptureCommand string
	PlayerCommand  string
}

// Load reads the optional RHODES_CONFIG_FILE overlay, then environment
// variables, and applies safe defaults.
func Load() (Config, error) {
	return LoadFile(stringsTrimSpace("RHODES_CONFIG_FILE"))
}

// LoadFile is Load with an explicit overlay path. Environment variables win
// over values from the file.
func LoadFile(path string) (Config, error) {
	e := env{}
	if path != "" {
		file, err := readOverlay(path)
		if err != nil {
			return Config{}, err
		}
		e.file = file
	}

	cfg := Config{
		ServerURL:                 e.orDefault("RHODES_SERVER_URL", "wss://rhodesagi.com/ws"),
		FallbackServerURL:         e.trimmed("RHODES_FALLBACK_SERVER_URL"),
		HTTPBaseURL:               e.trimmed("RHODES_HTTP_BASE_URL"),
		StatusAddr:                e.orDefault("RHODES_STATUS_ADDR", "127.0.0.1:8765"),
		MetricsNamespace:          e.orDefault("RHODES_METRICS_NAMESPACE", "rhodes_client"),
		ShutdownTimeout:           5 * time.Second,
		StoreBackend:              strings.ToLower(e.orDefault("RHODES_STORE_BACKEND", "auto")),
		StoreFile:                 e.orDefault("RHODES_STORE_FILE", defaultStoreFile()),
		RedisAddr:                 e.trimmed("RHODES_REDIS_ADDR"),
		RedisPrefix:               e.orDefault("RHODES_REDIS_PREFIX", "rhodes:"),
		DatabaseURL:               e.trimmed("DATABASE_URL"),
		OpenTimeout:               5 * time.Second,
		AuthTimeout:               10 * time.Second,
		ReconnectBase:             1500 * time.Millisecond,
		ReconnectGrowth:           1.7,
		ReconnectCap:              30 * time.Second,
		ReconnectGiveUpAfter:      10,
		RequestTimeout:            6 * time.Second,
		WriteTimeout:              3 * time.Second,
		ClientVersion:             e.orDefault("RHODES_CLIENT_VERSION", "3.0.0"),
		Platform:                  e.orDefault("RHODES_PLATFORM", "web"),
		VoiceMode:                 strings.ToLower(e.orDefault("RHODES_VOICE_MODE", "push_to_talk")),
		VoiceBackend:              strings.ToLower(e.orDefault("RHODES_VOICE_BACKEND", "auto")),
		STTProvider:               strings.ToLower(e.orDefault("RHODES_STT_PROVIDER", "http")),
		TTSProvider:               strings.ToLower(e.orDefault("RHODES_TTS_PROVIDER", "http")),
		ElevenLabsAPIKey:          e.trimmed("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL:       e.orDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSVoice:        e.orDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel:        e.orDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel:        e.orDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2_realtime"),
		ElevenLabsTTSOutputFormat: e.orDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),
		SampleRate:                16000,
		SilenceThreshold:          0.01,
		SilencePeakRatio:          0.15,
		SilenceDuration:           1800 * time.Millisecond,
		SilenceGrace:              1500 * time.Millisecond,
		RecordCeiling:             20 * time.Second,
		PlaybackCeiling:           120 * time.Second,
		TTSTimeout:                15 * time.Second,
		ResumeCooldown:            2 * time.Second,
		CaptureCommand:            e.orDefault("RHODES_CAPTURE_COMMAND", "arecord -q -f S16_LE -r 16000 -c 1 -t raw"),
		PlayerCommand:             e.orDefault("RHODES_PLAYER_COMMAND", "ffplay -nodisp -autoexit -loglevel quiet -"),
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RHODES_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"RHODES_OPEN_TIMEOUT", &cfg.OpenTimeout},
		{"RHODES_AUTH_TIMEOUT", &cfg.AuthTimeout},
		{"RHODES_RECONNECT_BASE", &cfg.ReconnectBase},
		{"RHODES_RECONNECT_CAP", &cfg.ReconnectCap},
		{"RHODES_REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"RHODES_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"RHODES_SILENCE_DURATION", &cfg.SilenceDuration},
		{"RHODES_SILENCE_GRACE", &cfg.SilenceGrace},
		{"RHODES_RECORD_CEILING", &cfg.RecordCeiling},
		{"RHODES_PLAYBACK_CEILING", &cfg.PlaybackCeiling},
		{"RHODES_TTS_TIMEOUT", &cfg.TTSTimeout},
		{"RHODES_RESUME_COOLDOWN", &cfg.ResumeCooldown},
	}
	for _, d := range durations {
		*d.dst, err = e.duration(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.ReconnectGrowth, err = e.float("RHODES_RECONNECT_GROWTH", cfg.ReconnectGrowth)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceThreshold, err = e.float("RHODES_SILENCE_THRESHOLD", cfg.SilenceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.SilencePeakRatio, err = e.float("RHODES_SILENCE_PEAK_RATIO", cfg.SilencePeakRatio)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectGiveUpAfter, err = e.integer("RHODES_RECONNECT_GIVE_UP_AFTER", cfg.ReconnectGiveUpAfter)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = e.integer("RHODES_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.IgnoreSavedServer, err = e.boolean("RHODES_IGNORE_SAVED_SERVER", cfg.IgnoreSavedServer)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceEnabled, err = e.boolean("RHODES_VOICE_ENABLED", cfg.VoiceEnabled)
	if err != nil {
		return Config{}, err
	}

	if cfg.HTTPBaseURL == "" {
		cfg.HTTPBaseURL = HTTPBaseFromServer(cfg.ServerURL)
	}

	if !strings.HasPrefix(cfg.ServerURL, "ws://") && !strings.HasPrefix(cfg.ServerURL, "wss://") {
		return Config{}, fmt.Errorf("RHODES_SERVER_URL must use ws:// or wss://")
	}
	if cfg.OpenTimeout < 500*time.Millisecond {
		return Config{}, fmt.Errorf("RHODES_OPEN_TIMEOUT must be at least 500ms")
	}
	if cfg.ReconnectBase <= 0 {
		return Config{}, fmt.Errorf("RHODES_RECONNECT_BASE must be positive")
	}
	if cfg.ReconnectGrowth < 1 {
		return Config{}, fmt.Errorf("RHODES_RECONNECT_GROWTH must be >= 1")
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		return Config{}, fmt.Errorf("RHODES_RECONNECT_CAP must be >= RHODES_RECONNECT_BASE")
	}
	if cfg.ReconnectGiveUpAfter <= 0 {
		return Config{}, fmt.Errorf("RHODES_RECONNECT_GIVE_UP_AFTER must be positive")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("RHODES_SAMPLE_RATE must be positive")
	}
	if cfg.SilenceThreshold <= 0 || cfg.SilenceThreshold >= 1 {
		return Config{}, fmt.Errorf("RHODES_SILENCE_THRESHOLD must be in (0,1)")
	}
	switch cfg.StoreBackend {
	case "auto", "memory", "file", "redis", "postgres":
	default:
		return Config{}, fmt.Errorf("RHODES_STORE_BACKEND must be one of auto, memory, file, redis, postgres")
	}
	switch cfg.VoiceMode {
	case "push_to_talk", "hands_free":
	default:
		return Config{}, fmt.Errorf("RHODES_VOICE_MODE must be push_to_talk or hands_free")
	}
	switch cfg.VoiceBackend {
	case "auto", "recognizer", "record":
	default:
		return Config{}, fmt.Errorf("RHODES_VOICE_BACKEND must be auto, recognizer or record")
	}
	for _, p := range []struct{ key, value string }{
		{"RHODES_STT_PROVIDER", cfg.STTProvider},
		{"RHODES_TTS_PROVIDER", cfg.TTSProvider},
	} {
		switch p.value {
		case "http", "mock":
		case "elevenlabs":
			if cfg.ElevenLabsAPIKey == "" {
				return Config{}, fmt.Errorf("%s=elevenlabs requires ELEVENLABS_API_KEY", p.key)
			}
		default:
			return Config{}, fmt.Errorf("%s must be http, elevenlabs or mock", p.key)
		}
	}

	return cfg, nil
}

// HTTPBaseFromServer maps wss://host/ws to https://host.
func HTTPBaseFromServer(server string) string {
	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "https"
	if u.Scheme == "ws" {
		scheme = "http"
	}
	return scheme + "://" + u.Host
}

func defaultStoreFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".rhodes/state.json"
	}
	return filepath.Join(home, ".rhodes", "state.json")
}

func readOverlay(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("RHODES_CONFIG_FILE read error: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("RHODES_CONFIG_FILE parse error: %w", err)
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		if v == nil {
			continue
		}
		out[strings.ToUpper(trimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

// env resolves keys from the process environment first, then the overlay.
type env struct {
	file map[string]string
}

func (e env) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return e.file[key]
}

func (e env) orDefault(key, fallback string) string {
	v := e.get(key)
	if v == "" {
		return fallback
	}
	return v
}

func (e env) trimmed(key string) string {
	return trimSpace(e.get(key))
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	return strings.Trim(v, " \n\t\r")
}

func (e env) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := e.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (e env) integer(key string, fallback int) (int, error) {
	v := e.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (e env) float(key string, fallback float64) (float64, error) {
	v := e.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func (e env) boolean(key string, fallback bool) (bool, error) {
	v := strings.ToLower(e.trimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
