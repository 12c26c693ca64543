package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ent0n29/rhodes-client/internal/connection"
)

func TestLaunchFromFlags(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--new-session", "--resume", "abc", "--view-only", "--room", "r1"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	var f flags
	f.newSession, _ = cmd.Flags().GetBool("new-session")
	f.resumeID, _ = cmd.Flags().GetString("resume")
	f.viewOnly, _ = cmd.Flags().GetBool("view-only")
	f.room, _ = cmd.Flags().GetString("room")

	want := connection.Launch{NewSession: true, ResumeID: "abc", ViewOnly: true, Room: "r1"}
	if got := launchFrom(f); got != want {
		t.Fatalf("launchFrom() = %+v, want %+v", got, want)
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rhodes.yaml")
	if err := os.WriteFile(path, []byte("RHODES_SERVER_URL: ws://overlay.example/ws\n"), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("RHODES_SERVER_URL", "")
	t.Setenv("RHODES_VOICE_MODE", "")
	t.Setenv("RHODES_VOICE_ENABLED", "")

	tests := []struct {
		name        string
		f           flags
		wantMode    string
		wantEnabled bool
	}{
		{"defaults", flags{configFile: path}, "push_to_talk", false},
		{"voice", flags{configFile: path, voice: true}, "push_to_talk", true},
		{"hands-free", flags{configFile: path, handsFree: true}, "hands_free", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := loadConfig(tc.f)
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}
			if cfg.ServerURL != "ws://overlay.example/ws" {
				t.Fatalf("ServerURL = %q, want overlay value", cfg.ServerURL)
			}
			if cfg.VoiceMode != tc.wantMode || cfg.VoiceEnabled != tc.wantEnabled {
				t.Fatalf("voice = %q/%v, want %q/%v", cfg.VoiceMode, cfg.VoiceEnabled, tc.wantMode, tc.wantEnabled)
			}
		})
	}
}
