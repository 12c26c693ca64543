package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/rhodes-client/internal/reliability"
)

// HTTPServices calls the speech endpoints served next to the chat socket:
// /api/transcribe, /api/thought-complete and /api/tts/stream.
type HTTPServices struct {
	baseURL string
	client  *http.Client
}

func NewHTTPServices(baseURL string, timeout time.Duration) *HTTPServices {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPServices{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type transcribeResponse struct {
	Success      bool    `json:"success"`
	Transcript   string  `json:"transcript"`
	NoSpeechProb float64 `json:"no_speech_prob"`
	Error        string  `json:"error"`
}

// Transcribe uploads one WAV clip. A language tag is reduced to its
// primary subtag.
func (s *HTTPServices) Transcribe(ctx context.Context, wav []byte, language string) (Transcript, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return Transcript{}, err
	}
	if _, err := part.Write(wav); err != nil {
		return Transcript{}, err
	}
	if lang := languagePrefix(language); lang != "" {
		if err := form.WriteField("language", lang); err != nil {
			return Transcript{}, err
		}
	}
	if err := form.Close(); err != nil {
		return Transcript{}, err
	}

	raw, err := s.do(ctx, "/api/transcribe", form.FormDataContentType(), body.Bytes())
	if err != nil {
		return Transcript{}, err
	}
	var res transcribeResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return Transcript{}, fmt.Errorf("decode transcribe response: %w", err)
	}
	if !res.Success {
		if res.Error == "" {
			res.Error = "unsuccessful"
		}
		return Transcript{}, fmt.Errorf("transcribe: %s", res.Error)
	}
	return Transcript{Text: strings.TrimSpace(res.Transcript), NoSpeechProb: res.NoSpeechProb}, nil
}

// Complete asks whether a spoken thought sounds finished.
func (s *HTTPServices) Complete(ctx context.Context, text string) (bool, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return false, err
	}
	raw, err := s.do(ctx, "/api/thought-complete", "application/json", payload)
	if err != nil {
		return false, err
	}
	var res struct {
		Complete bool `json:"complete"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, fmt.Errorf("decode thought-complete response: %w", err)
	}
	return res.Complete, nil
}

// Synthesize returns the audio for text. An empty body is ErrEmptyAudio.
func (s *HTTPServices) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text, "language": language})
	if err != nil {
		return nil, err
	}
	clip, err := s.do(ctx, "/api/tts/stream", "application/json", payload)
	if err != nil {
		return nil, err
	}
	if len(clip) == 0 {
		return nil, ErrEmptyAudio
	}
	return clip, nil
}

// do posts body and returns the response payload, retrying once on a
// retryable status.
func (s *HTTPServices) do(ctx context.Context, path, contentType string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		res, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("post %s: %w", path, err)
		}
		raw, readErr := io.ReadAll(io.LimitReader(res.Body, 32<<20))
		res.Body.Close()
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			if readErr != nil {
				return nil, fmt.Errorf("read %s: %w", path, readErr)
			}
			return raw, nil
		}
		lastErr = &StatusError{Path: path, Code: res.StatusCode, Body: strings.TrimSpace(string(truncate(raw, 256)))}
		if !reliability.IsRetryableHTTPStatus(res.StatusCode) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// StatusError is a non-2xx answer from a speech endpoint.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Path, e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
