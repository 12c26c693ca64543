package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "wss://rhodesagi.com/ws" {
		t.Fatalf("ServerURL = %q, want default", cfg.ServerURL)
	}
	if cfg.HTTPBaseURL != "https://rhodesagi.com" {
		t.Fatalf("HTTPBaseURL = %q, want %q", cfg.HTTPBaseURL, "https://rhodesagi.com")
	}
	if cfg.OpenTimeout != 5*time.Second {
		t.Fatalf("OpenTimeout = %v, want 5s", cfg.OpenTimeout)
	}
	if cfg.ReconnectBase != 1500*time.Millisecond || cfg.ReconnectGrowth != 1.7 || cfg.ReconnectCap != 30*time.Second {
		t.Fatalf("reconnect = %v/%v/%v, want 1.5s/1.7/30s", cfg.ReconnectBase, cfg.ReconnectGrowth, cfg.ReconnectCap)
	}
	if cfg.StoreBackend != "auto" {
		t.Fatalf("StoreBackend = %q, want auto", cfg.StoreBackend)
	}
	if cfg.VoiceMode != "push_to_talk" {
		t.Fatalf("VoiceMode = %q, want push_to_talk", cfg.VoiceMode)
	}
}

func TestLoadOverlayFileAndEnvPrecedence(t *testing.T) {
	setCoreEnvEmpty(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "rhodes.yaml")
	body := "RHODES_SERVER_URL: ws://file.example/ws\nRHODES_RECONNECT_GROWTH: 2\nrhodes_voice_mode: hands_free\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("RHODES_CONFIG_FILE", path)
	t.Setenv("RHODES_RECONNECT_GROWTH", "1.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "ws://file.example/ws" {
		t.Fatalf("ServerURL = %q, want file value", cfg.ServerURL)
	}
	if cfg.HTTPBaseURL != "http://file.example" {
		t.Fatalf("HTTPBaseURL = %q, want http://file.example", cfg.HTTPBaseURL)
	}
	if cfg.ReconnectGrowth != 1.5 {
		t.Fatalf("ReconnectGrowth = %v, want env override 1.5", cfg.ReconnectGrowth)
	}
	if cfg.VoiceMode != "hands_free" {
		t.Fatalf("VoiceMode = %q, want hands_free", cfg.VoiceMode)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"RHODES_SERVER_URL", "https://rhodesagi.com"},
		{"RHODES_OPEN_TIMEOUT", "10ms"},
		{"RHODES_RECONNECT_GROWTH", "0.5"},
		{"RHODES_RECONNECT_CAP", "1s"},
		{"RHODES_STORE_BACKEND", "sqlite"},
		{"RHODES_VOICE_MODE", "always"},
		{"RHODES_VOICE_ENABLED", "maybe"},
		{"RHODES_SILENCE_THRESHOLD", "2"},
		{"RHODES_STT_PROVIDER", "whisper"},
		{"RHODES_TTS_PROVIDER", "elevenlabs"},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", tc.key, tc.value)
			}
		})
	}
}

func TestLoadMissingOverlayFails(t *testing.T) {
	setCoreEnvEmpty(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadFile(missing) error = nil, want error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"RHODES_CONFIG_FILE",
		"RHODES_SERVER_URL",
		"RHODES_FALLBACK_SERVER_URL",
		"RHODES_HTTP_BASE_URL",
		"RHODES_IGNORE_SAVED_SERVER",
		"RHODES_STATUS_ADDR",
		"RHODES_METRICS_NAMESPACE",
		"RHODES_SHUTDOWN_TIMEOUT",
		"RHODES_STORE_BACKEND",
		"RHODES_STORE_FILE",
		"RHODES_REDIS_ADDR",
		"RHODES_REDIS_PREFIX",
		"DATABASE_URL",
		"RHODES_OPEN_TIMEOUT",
		"RHODES_AUTH_TIMEOUT",
		"RHODES_RECONNECT_BASE",
		"RHODES_RECONNECT_GROWTH",
		"RHODES_RECONNECT_CAP",
		"RHODES_RECONNECT_GIVE_UP_AFTER",
		"RHODES_REQUEST_TIMEOUT",
		"RHODES_WRITE_TIMEOUT",
		"RHODES_CLIENT_VERSION",
		"RHODES_PLATFORM",
		"RHODES_VOICE_ENABLED",
		"RHODES_VOICE_MODE",
		"RHODES_VOICE_BACKEND",
		"RHODES_STT_PROVIDER",
		"RHODES_TTS_PROVIDER",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_TTS_VOICE_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_STT_MODEL_ID",
		"ELEVENLABS_TTS_OUTPUT_FORMAT",
		"RHODES_SAMPLE_RATE",
		"RHODES_SILENCE_THRESHOLD",
		"RHODES_SILENCE_PEAK_RATIO",
		"RHODES_SILENCE_DURATION",
		"RHODES_SILENCE_GRACE",
		"RHODES_RECORD_CEILING",
		"RHODES_PLAYBACK_CEILING",
		"RHODES_TTS_TIMEOUT",
		"RHODES_RESUME_COOLDOWN",
		"RHODES_CAPTURE_COMMAND",
		"RHODES_PLAYER_COMMAND",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
