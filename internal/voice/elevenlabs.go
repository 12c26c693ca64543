package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ent0n29/rhodes-client/internal/reliability"
	"github.com/gorilla/websocket"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	STTModelID   string
	OutputFormat string
}

// ElevenLabsProvider speaks the ElevenLabs realtime speech-to-text and
// text-to-speech websocket protocols.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v1"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	return &ElevenLabsProvider{cfg: cfg, dialer: websocket.DefaultDialer}
}

// elevenFrame covers every server frame either stream sends.
type elevenFrame struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Error       string `json:"error"`
	Audio       string `json:"audio"`
	IsFinal     bool   `json:"isFinal"`
	IsFinalAlt  bool   `json:"is_final"`
}

func (p *ElevenLabsProvider) endpoint(path string, query url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + path)
	if err != nil {
		return "", err
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (p *ElevenLabsProvider) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)
	conn, _, err := p.dialer.DialContext(ctx, target, headers)
	return conn, err
}

func (p *ElevenLabsProvider) StartSession(ctx context.Context, language string) (STTSession, <-chan STTEvent, error) {
	q := url.Values{}
	q.Set("model_id", p.cfg.STTModelID)
	q.Set("commit_strategy", "vad")
	if lang := languagePrefix(language); lang != "" {
		q.Set("language_code", lang)
	}
	target, err := p.endpoint("/v1/speech-to-text/realtime", q)
	if err != nil {
		return nil, nil, err
	}
	conn, err := p.dial(ctx, target)
	if err != nil {
		return nil, nil, fmt.Errorf("dial stt websocket: %w", err)
	}
	s := &elevenSTTSession{conn: conn, events: make(chan STTEvent, 256)}
	go s.readLoop()
	return s, s.events, nil
}

func (p *ElevenLabsProvider) StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "eleven_multilingual_v2"
	}
	q := url.Values{}
	q.Set("model_id", modelID)
	q.Set("output_format", p.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	target, err := p.endpoint("/v1/text-to-speech/"+url.PathEscape(voiceID)+"/stream-input", q)
	if err != nil {
		return nil, err
	}
	conn, err := p.dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}

	s := &elevenTTSStream{conn: conn, events: make(chan TTSEvent, 512)}
	go s.readLoop()
	// The first frame carries the voice settings and a single space.
	_ = s.writeJSON(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        clampFloat(defaultFloat(settings.Stability, 0.42), 0, 1),
			"similarity_boost": clampFloat(defaultFloat(settings.SimilarityBoost, 0.85), 0, 1),
			"speed":            clampFloat(defaultFloat(settings.Speed, 1.0), 0.7, 1.2),
		},
	})
	return s, nil
}

type elevenSTTSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan STTEvent
}

func (s *elevenSTTSession) SendAudioChunk(_ context.Context, audioBase64 string, sampleRate int, commit bool) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": audioBase64,
		"commit":        commit,
		"sample_rate":   sampleRate,
	})
}

func (s *elevenSTTSession) readLoop() {
	defer close(s.events)
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var f elevenFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.MessageType {
		case "partial_transcript":
			s.events <- STTEvent{Type: STTEventPartial, Text: f.Text}
		case "committed_transcript", "committed_transcript_with_timestamps":
			s.events <- STTEvent{Type: STTEventCommitted, Text: f.Text}
		case "", "session_started", "input_audio_chunk":
		default:
			s.events <- STTEvent{
				Type:      STTEventError,
				Code:      f.MessageType,
				Detail:    f.Error,
				Retryable: reliability.IsRetryableRealtimeMessageType(f.MessageType),
			}
		}
	}
}

// Close shuts the socket; readLoop then closes the event channel.
func (s *elevenSTTSession) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

type elevenTTSStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan TTSEvent
}

func (s *elevenTTSStream) SendText(_ context.Context, text string, flush bool) error {
	return s.writeJSON(map[string]any{
		"text":                   text,
		"try_trigger_generation": flush,
	})
}

func (s *elevenTTSStream) CloseInput(_ context.Context) error {
	return s.writeJSON(map[string]any{"text": ""})
}

func (s *elevenTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *elevenTTSStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

func (s *elevenTTSStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *elevenTTSStream) readLoop() {
	defer close(s.events)
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var f elevenFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Audio != "" {
			s.events <- TTSEvent{Type: TTSEventAudio, AudioBase64: f.Audio}
		}
		if f.IsFinal || f.IsFinalAlt {
			s.events <- TTSEvent{Type: TTSEventFinal}
		}
		if f.Error != "" {
			s.events <- TTSEvent{Type: TTSEventError, Code: f.MessageType, Detail: f.Error}
		}
	}
}

func defaultFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// languagePrefix reduces a tag like "es-MX" to "es".
func languagePrefix(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
