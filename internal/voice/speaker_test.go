package voice

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ent0n29/rhodes-client/internal/audio"
)

type recordingSink struct {
	clips [][]byte
	err   error
}

func (s *recordingSink) Play(_ context.Context, clip []byte) error {
	s.clips = append(s.clips, clip)
	return s.err
}

type staticSynth struct {
	clip []byte
	err  error
}

func (s staticSynth) Synthesize(context.Context, string, string) ([]byte, error) {
	return s.clip, s.err
}

func TestSpeechPlayerPlaysAfterStarted(t *testing.T) {
	sink := &recordingSink{}
	p := &SpeechPlayer{Synth: staticSynth{clip: []byte("clip")}, Sink: sink}
	started := false
	if err := p.Speak(context.Background(), "hello", "", func() { started = true }); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if !started || len(sink.clips) != 1 || string(sink.clips[0]) != "clip" {
		t.Fatalf("started/clips = %v/%q, want one clip after start", started, sink.clips)
	}
}

func TestSpeechPlayerFailures(t *testing.T) {
	cases := []struct {
		name  string
		synth staticSynth
		want  error
	}{
		{"synthesis error", staticSynth{err: errors.New("tts down")}, nil},
		{"empty clip", staticSynth{}, ErrEmptyAudio},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordingSink{}
			p := &SpeechPlayer{Synth: tc.synth, Sink: sink}
			started := false
			err := p.Speak(context.Background(), "hello", "", func() { started = true })
			if err == nil || (tc.want != nil && !errors.Is(err, tc.want)) {
				t.Fatalf("Speak() error = %v, want %v", err, tc.want)
			}
			if started || len(sink.clips) != 0 {
				t.Fatalf("playback started despite failure")
			}
		})
	}
}

func TestStreamSynthesizerWithMockProvider(t *testing.T) {
	s := &StreamSynthesizer{Provider: NewMockProvider(), VoiceID: "v", ModelID: "m"}
	clip, err := s.Synthesize(context.Background(), "hello there", "")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(clip) != "hello there " {
		t.Fatalf("clip = %q, want echoed text", clip)
	}

	s.PCMSampleRate = 16000
	wav, err := s.Synthesize(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Synthesize(wav) error = %v", err)
	}
	want, _ := audio.EncodeWAVPCM16LE([]byte("hi "), 16000)
	if !bytes.Equal(wav, want) {
		t.Fatalf("wav = %q, want header-wrapped pcm", wav)
	}
}

type failingTTS struct{}

func (failingTTS) StartStream(context.Context, string, string, TTSSettings) (TTSStream, error) {
	s := &mockTTSStream{events: make(chan TTSEvent, 4)}
	s.events <- TTSEvent{Type: TTSEventError, Code: "quota_exceeded", Detail: "out of credits"}
	return s, nil
}

func TestStreamSynthesizerReportsProviderError(t *testing.T) {
	s := &StreamSynthesizer{Provider: failingTTS{}}
	_, err := s.Synthesize(context.Background(), "hello", "")
	if err == nil || err.Error() != "tts quota_exceeded: out of credits" {
		t.Fatalf("Synthesize() error = %v, want provider error", err)
	}
}
