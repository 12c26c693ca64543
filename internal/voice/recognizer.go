package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/rhodes-client/internal/audio"
)

// Recognizer streams microphone audio to a realtime STT provider and reports
// the growing transcript as EventPartial.
type Recognizer struct {
	Provider   STTProvider
	Source     audio.Source
	SampleRate int
	// FinalWait bounds how long a graceful Stop waits for the last
	// committed transcript.
	FinalWait time.Duration

	mu  sync.Mutex
	run *recognizerRun
}

type recognizerRun struct {
	cancel    context.CancelFunc
	mic       io.ReadCloser
	session   STTSession
	committed chan struct{}
}

func NewRecognizer(provider STTProvider, source audio.Source, sampleRate int) *Recognizer {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Recognizer{Provider: provider, Source: source, SampleRate: sampleRate, FinalWait: 1500 * time.Millisecond}
}

func (r *Recognizer) Name() string { return "recognizer" }

func (r *Recognizer) Start(ctx context.Context, language string, sink func(Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		return errors.New("voice: recognizer already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	session, events, err := r.Provider.StartSession(runCtx, language)
	if err != nil {
		cancel()
		return fmt.Errorf("start stt session: %w", err)
	}
	mic, err := r.Source.Open(runCtx)
	if err != nil {
		_ = session.Close()
		cancel()
		return fmt.Errorf("open microphone: %w", err)
	}

	run := &recognizerRun{cancel: cancel, mic: mic, session: session, committed: make(chan struct{}, 1)}
	r.run = run
	go r.pump(runCtx, run)
	go r.listen(run, events, sink)
	return nil
}

// Stop closes the microphone before returning. A graceful stop then flushes
// the provider so the final transcript still reaches the sink.
func (r *Recognizer) Stop(abort bool) {
	r.mu.Lock()
	run := r.run
	r.run = nil
	r.mu.Unlock()
	if run == nil {
		return
	}

	_ = run.mic.Close()
	if abort {
		_ = run.session.Close()
		run.cancel()
		return
	}
	go func() {
		defer run.cancel()
		select {
		case <-run.committed:
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.FinalWait)
		defer cancel()
		if err := run.session.SendAudioChunk(ctx, "", r.SampleRate, true); err == nil {
			select {
			case <-run.committed:
			case <-ctx.Done():
			}
		}
		_ = run.session.Close()
	}()
}

// pump forwards 100ms frames until the microphone closes.
func (r *Recognizer) pump(ctx context.Context, run *recognizerRun) {
	frame := make([]byte, r.SampleRate/10*2)
	for {
		n, err := io.ReadFull(run.mic, frame)
		if n > 0 {
			chunk := base64.StdEncoding.EncodeToString(frame[:n])
			if sendErr := run.session.SendAudioChunk(ctx, chunk, r.SampleRate, false); sendErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (r *Recognizer) listen(run *recognizerRun, events <-chan STTEvent, sink func(Event)) {
	var committed []string
	partial := ""
	for evt := range events {
		switch evt.Type {
		case STTEventPartial:
			partial = strings.TrimSpace(evt.Text)
		case STTEventCommitted:
			if text := strings.TrimSpace(evt.Text); text != "" {
				committed = append(committed, text)
			}
			partial = ""
			select {
			case run.committed <- struct{}{}:
			default:
			}
		case STTEventError:
			if evt.Retryable {
				log.Printf("[voice] recognizer transient error code=%s detail=%s", evt.Code, evt.Detail)
				continue
			}
			sink(Event{Kind: EventError, Err: fmt.Errorf("stt %s: %s", evt.Code, evt.Detail)})
			continue
		}
		if text := joinTranscript(committed, partial); text != "" {
			sink(Event{Kind: EventPartial, Text: text})
		}
	}
	sink(Event{Kind: EventEnded, Text: joinTranscript(committed, partial)})
}

func joinTranscript(committed []string, partial string) string {
	parts := committed
	if partial != "" {
		parts = append(parts[:len(parts):len(parts)], partial)
	}
	return strings.Join(parts, " ")
}
