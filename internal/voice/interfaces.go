// Package voice turns speech into user messages and replies into speech.
// A single Machine owns the microphone and the speaker so the two are never
// active at once.
package voice

import (
	"context"
	"errors"
)

var (
	// ErrEmptyAudio is returned when synthesis produced no audio.
	ErrEmptyAudio = errors.New("voice: speech service returned empty audio")
	// ErrNoSpeech marks a clip the transcriber judged to be noise.
	ErrNoSpeech = errors.New("voice: no speech in clip")
)

// EventKind classifies what a capture backend reports.
type EventKind string

const (
	// EventPartial carries the full transcript heard so far.
	EventPartial EventKind = "partial"
	// EventClip carries the transcript of one recorded clip.
	EventClip  EventKind = "clip"
	EventError EventKind = "error"
	// EventEnded is the last event of a capture run.
	EventEnded EventKind = "ended"
)

type Event struct {
	Kind         EventKind
	Text         string
	NoSpeechProb float64
	Err          error
}

// Capture is one microphone backend. Start returns once the microphone is
// open and reports through sink from its own goroutines. Stop releases the
// microphone before returning; with abort=false a backend may still deliver
// its final transcript afterwards.
type Capture interface {
	Name() string
	Start(ctx context.Context, language string, sink func(Event)) error
	Stop(abort bool)
}

// Transcript is the result of transcribing one clip.
type Transcript struct {
	Text         string
	NoSpeechProb float64
}

type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (Transcript, error)
}

// CompletenessChecker judges whether a spoken thought sounds finished.
type CompletenessChecker interface {
	Complete(ctx context.Context, text string) (bool, error)
}

// Synthesizer turns text into one playable clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Speaker synthesizes and plays text. started runs right before audio
// begins; Speak returns when playback ends or ctx is done.
type Speaker interface {
	Speak(ctx context.Context, text, language string, started func()) error
}

type STTEventType string

const (
	STTEventPartial   STTEventType = "partial"
	STTEventCommitted STTEventType = "committed"
	STTEventError     STTEventType = "error"
)

type STTEvent struct {
	Type      STTEventType
	Text      string
	Code      string
	Detail    string
	Retryable bool
}

// STTSession is a realtime transcription stream fed with base64 PCM chunks.
type STTSession interface {
	SendAudioChunk(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error
	Close() error
}

type STTProvider interface {
	StartSession(ctx context.Context, language string) (STTSession, <-chan STTEvent, error)
}

type TTSEventType string

const (
	TTSEventAudio TTSEventType = "audio"
	TTSEventFinal TTSEventType = "final"
	TTSEventError TTSEventType = "error"
)

type TTSEvent struct {
	Type        TTSEventType
	AudioBase64 string
	Code        string
	Detail      string
}

type TTSSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// TTSStream is a realtime synthesis stream.
type TTSStream interface {
	SendText(ctx context.Context, text string, flush bool) error
	CloseInput(ctx context.Context) error
	Events() <-chan TTSEvent
	Close() error
}

type TTSProvider interface {
	StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error)
}
