package voice

import (
	"encoding/binary"
	"testing"
	"time"
)

// frame100ms is 100ms of constant-amplitude PCM16LE at 16kHz.
func frame100ms(amplitude int16) []byte {
	buf := make([]byte, 3200)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(amplitude))
	}
	return buf
}

func feedUntilStop(d *SilenceDetector, frame []byte, limit int) int {
	for i := 1; i <= limit; i++ {
		if d.Feed(frame) {
			return i
		}
	}
	return -1
}

func TestSilenceDetectorStopsAfterSpeechThenSilence(t *testing.T) {
	d := NewSilenceDetector(DefaultSilenceConfig(), 16000)
	if n := feedUntilStop(d, frame100ms(16384), 20); n != -1 {
		t.Fatalf("stopped during speech at frame %d", n)
	}
	if n := feedUntilStop(d, frame100ms(0), 100); n != 20 {
		t.Fatalf("stopped after %d silent frames, want 20", n)
	}
	if !d.Spoken() {
		t.Fatalf("Spoken() = false, want true")
	}
	if d.Elapsed() != 4*time.Second {
		t.Fatalf("Elapsed() = %s, want 4s", d.Elapsed())
	}
}

func TestSilenceDetectorGraceAndPeakRatio(t *testing.T) {
	d := NewSilenceDetector(DefaultSilenceConfig(), 16000)
	feedUntilStop(d, frame100ms(16384), 5)
	// 0.05 RMS is above the floor but below 15% of the 0.5 peak.
	if n := feedUntilStop(d, frame100ms(1638), 100); n != 30 {
		t.Fatalf("stopped after %d soft frames, want 30", n)
	}
}

func TestSilenceDetectorCeilingWithoutSpeech(t *testing.T) {
	d := NewSilenceDetector(DefaultSilenceConfig(), 16000)
	if n := feedUntilStop(d, frame100ms(0), 300); n != 200 {
		t.Fatalf("stopped at frame %d, want 200", n)
	}
	if d.Spoken() {
		t.Fatalf("Spoken() = true, want false")
	}
}
