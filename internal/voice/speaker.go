package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ent0n29/rhodes-client/internal/audio"
	"github.com/ent0n29/rhodes-client/internal/observability"
)

// SpeechPlayer synthesizes a reply and plays it through an audio sink.
type SpeechPlayer struct {
	Synth Synthesizer
	Sink  audio.Sink
	// Timeout bounds synthesis, not playback.
	Timeout time.Duration
	Metrics *observability.Metrics
}

func (p *SpeechPlayer) Speak(ctx context.Context, text, language string, started func()) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	synthCtx, cancel := context.WithTimeout(ctx, timeout)
	begin := time.Now()
	clip, err := p.Synth.Synthesize(synthCtx, text, language)
	cancel()
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if len(clip) == 0 {
		return ErrEmptyAudio
	}
	p.Metrics.ObserveStage(observability.StageSpeechReady, time.Since(begin))
	if started != nil {
		started()
	}
	return p.Sink.Play(ctx, clip)
}

// StreamSynthesizer collects a realtime TTS stream into one clip.
type StreamSynthesizer struct {
	Provider TTSProvider
	VoiceID  string
	ModelID  string
	Settings TTSSettings
	// PCMSampleRate, when set, wraps raw PCM output in a WAV header.
	PCMSampleRate int
}

func (s *StreamSynthesizer) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	stream, err := s.Provider.StartStream(ctx, s.VoiceID, s.ModelID, s.Settings)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.SendText(ctx, text+" ", true); err != nil {
		return nil, fmt.Errorf("send tts text: %w", err)
	}
	if err := stream.CloseInput(ctx); err != nil {
		return nil, fmt.Errorf("close tts input: %w", err)
	}

	var clip bytes.Buffer
collect:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case evt, ok := <-stream.Events():
			if !ok {
				break collect
			}
			switch evt.Type {
			case TTSEventAudio:
				chunk, err := base64.StdEncoding.DecodeString(evt.AudioBase64)
				if err != nil {
					return nil, fmt.Errorf("decode tts audio: %w", err)
				}
				clip.Write(chunk)
			case TTSEventFinal:
				break collect
			case TTSEventError:
				return nil, fmt.Errorf("tts %s: %s", evt.Code, evt.Detail)
			}
		}
	}
	if clip.Len() == 0 {
		return nil, ErrEmptyAudio
	}
	if s.PCMSampleRate > 0 {
		return audio.EncodeWAVPCM16LE(clip.Bytes(), s.PCMSampleRate)
	}
	return clip.Bytes(), nil
}
