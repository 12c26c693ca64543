package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/rhodes-client/internal/audio"
	"github.com/ent0n29/rhodes-client/internal/observability"
)

// ErrTranscription wraps failures of the transcription service.
var ErrTranscription = errors.New("voice: transcription failed")

// Recorder records until silence, then transcribes the clip in one request
// and reports it as EventClip.
type Recorder struct {
	Source      audio.Source
	Transcriber Transcriber
	Silence     SilenceConfig
	SampleRate  int
	Metrics     *observability.Metrics

	// StallTimeout bounds a recording in wall-clock time, for capture
	// commands that stop producing audio. Zero means the silence ceiling
	// plus stallSlack.
	StallTimeout time.Duration

	mu  sync.Mutex
	run *recorderRun
}

const stallSlack = 2 * time.Second

type recorderRun struct {
	cancel  context.CancelFunc
	mic     io.ReadCloser
	aborted atomic.Bool
}

func NewRecorder(source audio.Source, transcriber Transcriber, silence SilenceConfig, sampleRate int) *Recorder {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Recorder{Source: source, Transcriber: transcriber, Silence: silence, SampleRate: sampleRate}
}

func (r *Recorder) Name() string { return "record" }

func (r *Recorder) Start(ctx context.Context, language string, sink func(Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		return errors.New("voice: recorder already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	mic, err := r.Source.Open(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("open microphone: %w", err)
	}
	run := &recorderRun{cancel: cancel, mic: mic}
	r.run = run
	go r.record(runCtx, run, language, sink)
	return nil
}

// Stop releases the microphone. Without abort the audio recorded so far is
// still transcribed.
func (r *Recorder) Stop(abort bool) {
	r.mu.Lock()
	run := r.run
	r.run = nil
	r.mu.Unlock()
	if run == nil {
		return
	}
	if abort {
		run.aborted.Store(true)
		run.cancel()
	}
	_ = run.mic.Close()
}

func (r *Recorder) stallLimit() time.Duration {
	if r.StallTimeout > 0 {
		return r.StallTimeout
	}
	if r.Silence.Ceiling > 0 {
		return r.Silence.Ceiling + stallSlack
	}
	return 0
}

func (r *Recorder) record(ctx context.Context, run *recorderRun, language string, sink func(Event)) {
	defer run.cancel()

	if limit := r.stallLimit(); limit > 0 {
		timer := time.AfterFunc(limit, func() {
			log.Printf("[voice] no end of recording after %s, closing capture", limit)
			_ = run.mic.Close()
		})
		defer timer.Stop()
	}

	detector := NewSilenceDetector(r.Silence, r.SampleRate)
	var pcm bytes.Buffer
	frame := make([]byte, r.SampleRate/10*2)
	for {
		n, err := io.ReadFull(run.mic, frame)
		if n > 0 {
			pcm.Write(frame[:n])
			if detector.Feed(frame[:n]) {
				break
			}
		}
		if err != nil {
			break
		}
	}
	_ = run.mic.Close()

	r.mu.Lock()
	if r.run == run {
		r.run = nil
	}
	r.mu.Unlock()

	if run.aborted.Load() {
		return
	}
	if pcm.Len() == 0 || !detector.Spoken() {
		sink(Event{Kind: EventClip, NoSpeechProb: 1})
		return
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm.Bytes(), r.SampleRate)
	if err != nil {
		sink(Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrTranscription, err)})
		return
	}
	started := time.Now()
	transcript, err := r.Transcriber.Transcribe(ctx, wav, language)
	r.Metrics.ObserveStage(observability.StageTranscribe, time.Since(started))
	if run.aborted.Load() {
		return
	}
	if err != nil {
		sink(Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrTranscription, err)})
		return
	}
	sink(Event{Kind: EventClip, Text: transcript.Text, NoSpeechProb: transcript.NoSpeechProb})
}
