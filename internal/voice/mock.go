package voice

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
)

// MockProvider is an offline STT/TTS pair. The STT side commits a fixed
// phrase for the audio heard since the last commit, every eight chunks or on
// commit. The TTS side echoes text bytes as audio.
type MockProvider struct {
	Phrase string
}

func NewMockProvider() *MockProvider { return &MockProvider{Phrase: "simulated voice input"} }

func (p *MockProvider) StartSession(_ context.Context, _ string) (STTSession, <-chan STTEvent, error) {
	s := &mockSTTSession{phrase: p.Phrase, events: make(chan STTEvent, 64)}
	return s, s.events, nil
}

func (p *MockProvider) StartStream(_ context.Context, _ string, _ string, _ TTSSettings) (TTSStream, error) {
	return &mockTTSStream{events: make(chan TTSEvent, 128)}, nil
}

type mockSTTSession struct {
	mu     sync.Mutex
	phrase string
	events chan STTEvent
	chunks int
	heard  bool
	closed bool
}

func (s *mockSTTSession) SendAudioChunk(_ context.Context, audioBase64 string, _ int, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.chunks++
	if audioBase64 != "" {
		s.heard = true
	}
	if !commit && s.chunks%8 != 0 {
		return nil
	}
	text := ""
	if s.heard {
		text = s.phrase
		s.heard = false
	}
	s.events <- STTEvent{Type: STTEventCommitted, Text: text}
	return nil
}

func (s *mockSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

type mockTTSStream struct {
	mu     sync.Mutex
	events chan TTSEvent
	closed bool
}

func (s *mockTTSStream) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || strings.TrimSpace(text) == "" {
		return nil
	}
	s.events <- TTSEvent{Type: TTSEventAudio, AudioBase64: base64.StdEncoding.EncodeToString([]byte(text))}
	return nil
}

func (s *mockTTSStream) CloseInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- TTSEvent{Type: TTSEventFinal}
	}
	return nil
}

func (s *mockTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *mockTTSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
