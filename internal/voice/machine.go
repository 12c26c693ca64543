package voice

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/rhodes-client/internal/observability"
	"github.com/ent0n29/rhodes-client/internal/policy"
	"github.com/ent0n29/rhodes-client/internal/render"
	"github.com/ent0n29/rhodes-client/internal/scheduler"
)

type State string

const (
	StateIdle          State = "idle"
	StateCapturing     State = "capturing"
	StatePendingSubmit State = "pending_submit"
	StateAwaitingReply State = "awaiting_reply"
	StateSpeaking      State = "speaking"
)

type Mode string

const (
	ModePushToTalk Mode = "push_to_talk"
	ModeHandsFree  Mode = "hands_free"
)

// ParseMode accepts the config spellings of a mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "push_to_talk", "ptt", "push-to-talk":
		return ModePushToTalk, true
	case "hands_free", "handsfree", "hands-free":
		return ModeHandsFree, true
	}
	return "", false
}

// Conversation is the part of the connection the voice machine drives.
type Conversation interface {
	SubmitVoice(text string, handsFree bool) error
	SetVoiceFailure(reason string)
}

const (
	submitGuard          = 5 * time.Second
	misheardRepeatWindow = 3 * time.Second
	emptyRestartDelay    = time.Second
	failedRestartDelay   = 1500 * time.Millisecond
	notReadyRestartDelay = 2 * time.Second
	playbackStopWait     = 3 * time.Second
	completenessTimeout  = 4 * time.Second
	minCompletenessLen   = 10
	noSpeechThreshold    = 0.5

	voiceFailedNotice = "Voice unavailable - switched to text"
	voiceApology      = "Sorry, I seem to be having trouble with my voice. Switching to text."
	reconnectNotice   = "Connection lost - reconnecting..."
)

type Options struct {
	Mode         Mode
	VoiceEnabled bool
	// Backend is "auto", "recognizer" or "record".
	Backend    string
	Recognizer Capture
	Recorder   Capture
	Speaker    Speaker
	// Completeness is optional; without it hands-free submits after the
	// pause.
	Completeness CompletenessChecker
	Renderer     render.Renderer
	Clock        scheduler.Clock
	Metrics      *observability.Metrics
	Endpointing  Endpointing
	// ResumeCooldown separates the end of playback from hands-free capture.
	ResumeCooldown  time.Duration
	PlaybackCeiling time.Duration
	// Spawn runs follow-up work after the machine lock is released.
	Spawn func(func())
}

// Snapshot is a point-in-time view of the machine.
type Snapshot struct {
	State        State  `json:"state"`
	Mode         Mode   `json:"mode"`
	VoiceEnabled bool   `json:"voice_enabled"`
	Language     string `json:"language,omitempty"`
	Backend      string `json:"backend,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
	Listening    bool   `json:"listening"`
	Playing      bool   `json:"playing"`
}

// Machine owns the microphone and the speaker. Transitions happen under mu;
// media work is queued and runs after mu is released, so capture is always
// stopped before playback starts and playback has ended before capture
// starts.
type Machine struct {
	conv       Conversation
	checker    CompletenessChecker
	recognizer Capture
	recorder   Capture
	speaker    Speaker
	renderer   render.Renderer
	clock      scheduler.Clock
	metrics    *observability.Metrics
	endpoint   Endpointing
	spawn      func(func())

	resumeCooldown  time.Duration
	playbackCeiling time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	media  mediaQueue

	debounce *scheduler.Slot
	guard    *scheduler.Slot
	resume   *scheduler.Slot
	safety   *scheduler.Slot

	mu       sync.Mutex
	deferred []func()

	state      State
	mode       Mode
	enabled    bool
	suppressed bool
	language   string
	backend    string
	closed     bool

	gen        uint64
	live       bool
	transcript string
	checkSeq   uint64

	lastSubmitted string
	misheard      string
	misheardAt    time.Time

	playGen    uint64
	playing    bool
	playCancel context.CancelFunc
	playDone   chan struct{}

	// owned by media ops
	activeCapture Capture
}

func NewMachine(conv Conversation, opts Options) *Machine {
	clock := opts.Clock
	if clock == nil {
		clock = scheduler.Real{}
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = func(f func()) { go f() }
	}
	endpoint := opts.Endpointing
	if endpoint.Pause <= 0 {
		endpoint = DefaultEndpointing()
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModePushToTalk
	}
	if opts.ResumeCooldown <= 0 {
		opts.ResumeCooldown = 2 * time.Second
	}
	if opts.PlaybackCeiling <= 0 {
		opts.PlaybackCeiling = 120 * time.Second
	}
	done := make(chan struct{})
	close(done)

	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		conv:            conv,
		checker:         opts.Completeness,
		recognizer:      opts.Recognizer,
		recorder:        opts.Recorder,
		speaker:         opts.Speaker,
		renderer:        opts.Renderer,
		clock:           clock,
		metrics:         opts.Metrics,
		endpoint:        endpoint,
		spawn:           spawn,
		resumeCooldown:  opts.ResumeCooldown,
		playbackCeiling: opts.PlaybackCeiling,
		ctx:             ctx,
		cancel:          cancel,
		debounce:        scheduler.NewSlot(clock),
		guard:           scheduler.NewSlot(clock),
		resume:          scheduler.NewSlot(clock),
		safety:          scheduler.NewSlot(clock),
		state:           StateIdle,
		mode:            mode,
		enabled:         opts.VoiceEnabled || mode == ModeHandsFree,
		backend:         strings.ToLower(strings.TrimSpace(opts.Backend)),
		playDone:        done,
	}
}

// unlock releases mu, then runs deferred calls and queued media work.
func (v *Machine) unlock() {
	deferred := v.deferred
	v.deferred = nil
	v.mu.Unlock()
	for _, f := range deferred {
		v.spawn(f)
	}
	v.spawn(v.media.drain)
}

// Start begins listening in hands-free mode; in push-to-talk it is a no-op.
func (v *Machine) Start() {
	v.mu.Lock()
	defer v.unlock()
	if v.mode == ModeHandsFree && v.state == StateIdle && !v.playing {
		v.startCaptureLocked()
	}
}

// StartCapture opens the microphone. Playback in progress is cut off.
func (v *Machine) StartCapture() {
	v.mu.Lock()
	defer v.unlock()
	if v.closed || v.state == StateCapturing || (v.state == StatePendingSubmit && v.live) {
		return
	}
	v.resume.Cancel()
	v.startCaptureLocked()
}

// Release ends a push-to-talk capture; the transcript is submitted once
// the backend delivers it.
func (v *Machine) Release() {
	v.mu.Lock()
	defer v.unlock()
	if v.mode != ModePushToTalk || v.state != StateCapturing {
		return
	}
	v.debounce.Cancel()
	v.setStateLocked(StatePendingSubmit)
	v.media.push(func() { v.stopActiveCapture(false) })
}

// Stop resets the machine to Idle, dropping any capture and playback.
func (v *Machine) Stop() {
	v.mu.Lock()
	defer v.unlock()
	v.resetLocked()
}

// SetMode switches between push-to-talk and hands-free. Hands-free turns
// voiced replies on; leaving it turns them off.
func (v *Machine) SetMode(mode Mode) {
	v.mu.Lock()
	defer v.unlock()
	if v.closed || mode == v.mode {
		return
	}
	log.Printf("[voice] mode %s -> %s", v.mode, mode)
	v.mode = mode
	switch mode {
	case ModeHandsFree:
		v.enabled = true
		if v.state == StateIdle && !v.playing {
			v.startCaptureLocked()
		}
	default:
		v.enabled = false
		v.resetLocked()
	}
}

// SetVoiceEnabled turns voiced replies on or off. Turning them off ends
// hands-free mode.
func (v *Machine) SetVoiceEnabled(enabled bool) {
	v.mu.Lock()
	defer v.unlock()
	v.enabled = enabled
	if enabled {
		return
	}
	if v.mode == ModeHandsFree {
		v.mode = ModePushToTalk
		v.resetLocked()
		return
	}
	if v.playing {
		v.stopPlaybackLocked()
		v.afterPlaybackLocked()
	}
}

// Interrupt cuts off the reply being spoken. Hands-free listens again
// right away.
func (v *Machine) Interrupt() {
	v.mu.Lock()
	defer v.unlock()
	if v.closed {
		return
	}
	v.stopPlaybackLocked()
	if v.state != StateSpeaking && v.state != StateAwaitingReply {
		return
	}
	v.setStateLocked(StateIdle)
	if v.mode == ModeHandsFree {
		v.startCaptureLocked()
	}
}

// VoiceEnabled reports whether replies are spoken.
func (v *Machine) VoiceEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

// SetLanguage sets the active tutoring language; empty clears it.
func (v *Machine) SetLanguage(language string) {
	v.mu.Lock()
	defer v.unlock()
	v.language = strings.TrimSpace(language)
}

// SuppressSpeech mutes ReplyArrived, used while a backlog is replayed.
func (v *Machine) SuppressSpeech(suppressed bool) {
	v.mu.Lock()
	defer v.unlock()
	v.suppressed = suppressed
}

func (v *Machine) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Machine) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	snap := Snapshot{
		State:        v.state,
		Mode:         v.mode,
		VoiceEnabled: v.enabled,
		Language:     v.language,
		Transcript:   v.transcript,
		Listening:    v.live,
		Playing:      v.playing,
	}
	if c := v.captureLocked(); c != nil {
		snap.Backend = c.Name()
	}
	return snap
}

// Close stops all media. The machine ignores calls afterwards.
func (v *Machine) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.resetLocked()
	v.closed = true
	v.guard.Cancel()
	v.unlock()
	v.media.drain()
	v.cancel()
}

// captureLocked picks the backend. Tutoring uses the record backend, which
// honours the language hint.
func (v *Machine) captureLocked() Capture {
	switch v.backend {
	case "recognizer":
		if v.recognizer != nil {
			return v.recognizer
		}
	case "record":
		if v.recorder != nil {
			return v.recorder
		}
	}
	if v.language != "" && v.recorder != nil {
		return v.recorder
	}
	if v.recognizer != nil {
		return v.recognizer
	}
	return v.recorder
}

func (v *Machine) setStateLocked(to State) {
	if v.state == to {
		return
	}
	log.Printf("[voice] %s -> %s", v.state, to)
	v.metrics.VoiceTransition(string(v.state), string(to))
	v.state = to
}

func (v *Machine) resetLocked() {
	v.stopPlaybackLocked()
	v.stopCaptureLocked(true)
	v.resume.Cancel()
	v.transcript = ""
	v.setStateLocked(StateIdle)
}

func (v *Machine) startCaptureLocked() {
	if v.closed {
		return
	}
	c := v.captureLocked()
	if c == nil {
		v.renderer.Notify("Voice input unavailable")
		return
	}
	v.stopPlaybackLocked()
	v.debounce.Cancel()
	v.resume.Cancel()
	v.checkSeq++
	v.gen++
	gen := v.gen
	v.live = true
	v.transcript = ""
	v.setStateLocked(StateCapturing)

	done := v.playDone
	language := v.language
	v.media.push(func() { waitPlayback(done) })
	v.media.push(func() { v.stopActiveCapture(true) })
	v.media.push(func() { v.startActiveCapture(gen, c, language) })
}

// stopCaptureLocked invalidates the current capture so its late events are
// ignored, and queues the microphone release.
func (v *Machine) stopCaptureLocked(abort bool) {
	v.gen++
	v.checkSeq++
	v.debounce.Cancel()
	v.live = false
	v.media.push(func() { v.stopActiveCapture(abort) })
}

func (v *Machine) stopPlaybackLocked() {
	if !v.playing {
		return
	}
	v.playCancel()
	v.playGen++
	v.playing = false
	v.playCancel = nil
	v.safety.Cancel()
}

func waitPlayback(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(playbackStopWait):
		log.Printf("[voice] playback did not stop within %s", playbackStopWait)
	}
}

func (v *Machine) startActiveCapture(gen uint64, c Capture, language string) {
	v.mu.Lock()
	current := gen == v.gen && !v.closed
	v.mu.Unlock()
	if !current {
		return
	}
	err := c.Start(v.ctx, language, func(evt Event) { v.onCaptureEvent(gen, evt) })
	if err != nil {
		v.captureFailed(gen, err)
		return
	}
	v.activeCapture = c
}

func (v *Machine) stopActiveCapture(abort bool) {
	if v.activeCapture == nil {
		return
	}
	v.activeCapture.Stop(abort)
	v.activeCapture = nil
}

func (v *Machine) captureFailed(gen uint64, err error) {
	v.mu.Lock()
	defer v.unlock()
	if gen != v.gen {
		return
	}
	log.Printf("[voice] capture start failed: %v", err)
	v.metrics.VoiceError("capture_start")
	v.live = false
	v.gen++
	v.renderer.Notify("Microphone unavailable: " + err.Error())
	v.setStateLocked(StateIdle)
}

func (v *Machine) onCaptureEvent(gen uint64, evt Event) {
	v.mu.Lock()
	defer v.unlock()
	if gen != v.gen || v.closed {
		return
	}
	switch evt.Kind {
	case EventPartial:
		v.onPartialLocked(gen, evt.Text)
	case EventEnded:
		v.onEndedLocked(evt.Text)
	case EventClip:
		v.onClipLocked(evt)
	case EventError:
		v.onCaptureErrorLocked(evt.Err)
	}
}

func (v *Machine) onPartialLocked(gen uint64, raw string) {
	text := CleanTranscript(raw)
	if text == "" {
		return
	}
	v.transcript = text
	if v.mode != ModeHandsFree || (v.state != StateCapturing && v.state != StatePendingSubmit) {
		return
	}

	hint := v.endpoint.hint(text)
	v.transcript = hint.Text
	v.debounce.Cancel()
	v.checkSeq++
	if hint.Immediate {
		v.setStateLocked(StatePendingSubmit)
		v.acceptLocked(hint.Text)
		return
	}
	if hint.Reason == "continue" {
		v.setStateLocked(StatePendingSubmit)
	} else {
		v.setStateLocked(StateCapturing)
	}
	v.debounce.Arm(hint.Hold, func() { v.onPause(gen, hint) })
}

func (v *Machine) onPause(gen uint64, hint endpointHint) {
	v.mu.Lock()
	defer v.unlock()
	if gen != v.gen || (v.state != StateCapturing && v.state != StatePendingSubmit) {
		return
	}
	v.setStateLocked(StatePendingSubmit)
	v.considerLocked(gen, hint)
}

// considerLocked runs the pre-submit checks on a paused utterance.
func (v *Machine) considerLocked(gen uint64, hint endpointHint) {
	text := hint.Text
	if IsFillerOnly(text) {
		log.Printf("[voice] filler only, still listening: %q", text)
		v.setStateLocked(StateCapturing)
		return
	}
	if !hint.Unchecked && v.language != "" && IsMisheardWord(text) {
		word := strings.ToLower(text)
		now := v.clock.Now()
		if v.misheard != word || now.Sub(v.misheardAt) >= misheardRepeatWindow {
			log.Printf("[voice] possible misheard word, waiting for repeat: %q", text)
			v.misheard = word
			v.misheardAt = now
			v.setStateLocked(StateCapturing)
			return
		}
		v.misheard = ""
	}
	if !hint.Unchecked && v.mode == ModeHandsFree && v.checker != nil &&
		len(text) > minCompletenessLen && v.acceptableLocked(text) {
		v.checkSeq++
		seq := v.checkSeq
		ctx := v.ctx
		checker := v.checker
		v.deferred = append(v.deferred, func() {
			checkCtx, cancel := context.WithTimeout(ctx, completenessTimeout)
			complete, err := checker.Complete(checkCtx, text)
			cancel()
			v.onCompleteness(gen, seq, text, complete, err)
		})
		return
	}
	v.acceptLocked(text)
}

func (v *Machine) onCompleteness(gen, seq uint64, text string, complete bool, err error) {
	v.mu.Lock()
	defer v.unlock()
	if gen != v.gen || seq != v.checkSeq || v.state != StatePendingSubmit {
		return
	}
	if err != nil {
		log.Printf("[voice] completeness check failed, submitting: %v", err)
	} else if !complete {
		log.Printf("[voice] thought incomplete, still listening")
		v.setStateLocked(StateCapturing)
		return
	}
	v.acceptLocked(text)
}

func (v *Machine) acceptableLocked(text string) bool {
	return len([]rune(text)) >= 2 && text != v.lastSubmitted && !IsFillerOnly(text)
}

// acceptLocked submits text, or goes back to listening when the text is
// too short, filler, or a repeat of the last submission.
func (v *Machine) acceptLocked(text string) {
	text = strings.TrimSpace(text)
	if !v.acceptableLocked(text) {
		v.resumeListeningLocked()
		return
	}
	v.lastSubmitted = text
	v.guard.Arm(submitGuard, v.clearSubmitted)
	if v.live {
		v.stopCaptureLocked(true)
	}
	v.transcript = ""
	v.setStateLocked(StateAwaitingReply)

	log.Printf("[voice] submit %q", policy.ForLog(text))
	handsFree := v.mode == ModeHandsFree
	gen := v.gen
	conv := v.conv
	v.deferred = append(v.deferred, func() {
		if err := conv.SubmitVoice(text, handsFree); err != nil {
			v.submitFailed(gen, err)
		}
	})
}

func (v *Machine) clearSubmitted() {
	v.mu.Lock()
	defer v.unlock()
	v.lastSubmitted = ""
}

func (v *Machine) submitFailed(gen uint64, err error) {
	v.mu.Lock()
	defer v.unlock()
	log.Printf("[voice] submit failed: %v", err)
	v.metrics.VoiceError("submit")
	v.lastSubmitted = ""
	v.guard.Cancel()
	v.renderer.Notify(reconnectNotice)
	if gen != v.gen || v.state != StateAwaitingReply {
		return
	}
	v.setStateLocked(StateIdle)
	if v.mode == ModeHandsFree {
		v.resume.Arm(notReadyRestartDelay, v.resumeCapture)
	}
}

// resumeListeningLocked keeps or restarts listening in hands-free and goes
// Idle in push-to-talk.
func (v *Machine) resumeListeningLocked() {
	if v.mode == ModeHandsFree {
		if v.live {
			v.setStateLocked(StateCapturing)
			return
		}
		v.startCaptureLocked()
		return
	}
	if v.live {
		v.stopCaptureLocked(true)
	}
	v.setStateLocked(StateIdle)
}

func (v *Machine) onEndedLocked(raw string) {
	v.live = false
	if v.mode == ModePushToTalk {
		_, text := TrailingKeyword(CleanTranscript(raw))
		v.setStateLocked(StatePendingSubmit)
		v.acceptLocked(text)
		return
	}
	if v.state == StateCapturing {
		v.setStateLocked(StateIdle)
		v.resume.Arm(v.resumeCooldown, v.resumeCapture)
	}
}

func (v *Machine) onClipLocked(evt Event) {
	v.live = false
	if evt.NoSpeechProb > noSpeechThreshold {
		log.Printf("[voice] clip is likely noise (no_speech_prob=%.2f)", evt.NoSpeechProb)
		v.resumeListeningLocked()
		return
	}
	text := CleanTranscript(evt.Text)
	if text == "" {
		v.setStateLocked(StateIdle)
		if v.mode == ModeHandsFree {
			v.resume.Arm(emptyRestartDelay, v.resumeCapture)
		}
		return
	}
	v.transcript = text
	v.setStateLocked(StatePendingSubmit)
	v.acceptLocked(text)
}

func (v *Machine) onCaptureErrorLocked(err error) {
	if errors.Is(err, ErrTranscription) {
		log.Printf("[voice] %v", err)
		v.metrics.VoiceError("transcribe")
		v.live = false
		v.setStateLocked(StateIdle)
		if v.mode == ModeHandsFree {
			v.resume.Arm(failedRestartDelay, v.resumeCapture)
		} else {
			v.renderer.Notify("Transcription failed")
		}
		return
	}
	log.Printf("[voice] capture error: %v", err)
	v.metrics.VoiceError("capture")
	v.renderer.Notify("Voice input error: " + err.Error())
	v.stopCaptureLocked(true)
	v.setStateLocked(StateIdle)
}

func (v *Machine) resumeCapture() {
	v.mu.Lock()
	defer v.unlock()
	if v.closed || v.mode != ModeHandsFree || v.state != StateIdle || v.playing {
		return
	}
	v.startCaptureLocked()
}

// ReplyArrived speaks an assistant reply when voiced replies are on.
// Capture is stopped first.
func (v *Machine) ReplyArrived(text string) {
	v.mu.Lock()
	defer v.unlock()
	if v.closed {
		return
	}
	speech := SpeechText(text)
	if !v.enabled || v.suppressed || len([]rune(speech)) < 2 {
		if v.state == StateAwaitingReply {
			v.setStateLocked(StateIdle)
			if v.mode == ModeHandsFree {
				v.resume.Arm(v.resumeCooldown, v.resumeCapture)
			}
		}
		return
	}
	if v.playing {
		return
	}

	v.stopCaptureLocked(true)
	v.resume.Cancel()
	v.playGen++
	playGen := v.playGen
	ctx, cancel := context.WithCancel(v.ctx)
	done := make(chan struct{})
	v.playing = true
	v.playCancel = cancel
	v.playDone = done
	v.setStateLocked(StateAwaitingReply)
	v.safety.Arm(v.playbackCeiling, func() { v.playbackTimedOut(playGen) })

	language := v.language
	speaker := v.speaker
	v.media.push(func() {
		go func() {
			err := speaker.Speak(ctx, speech, language, func() { v.playbackStarted(playGen) })
			cancel()
			close(done)
			v.playbackDone(playGen, err)
		}()
	})
}

func (v *Machine) playbackStarted(playGen uint64) {
	v.mu.Lock()
	defer v.unlock()
	if playGen == v.playGen && v.playing {
		v.setStateLocked(StateSpeaking)
	}
}

func (v *Machine) playbackTimedOut(playGen uint64) {
	v.mu.Lock()
	defer v.unlock()
	if playGen != v.playGen || !v.playing {
		return
	}
	log.Printf("[voice] playback exceeded %s, stopping", v.playbackCeiling)
	v.stopPlaybackLocked()
	v.afterPlaybackLocked()
}

func (v *Machine) playbackDone(playGen uint64, err error) {
	v.mu.Lock()
	defer v.unlock()
	if playGen != v.playGen {
		return
	}
	v.playing = false
	v.playCancel = nil
	v.safety.Cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[voice] playback failed: %v", err)
		v.metrics.VoiceError("tts")
		if v.mode == ModeHandsFree {
			v.mode = ModePushToTalk
			v.enabled = false
			v.renderer.Notify(voiceFailedNotice)
			v.renderer.AppendEntry(render.RoleAI, voiceApology)
			reason := err.Error()
			conv := v.conv
			v.deferred = append(v.deferred, func() { conv.SetVoiceFailure(reason) })
			v.setStateLocked(StateIdle)
			return
		}
		v.renderer.Notify("Voice playback failed")
	}
	v.afterPlaybackLocked()
}

func (v *Machine) afterPlaybackLocked() {
	if v.state != StateSpeaking && v.state != StateAwaitingReply {
		return
	}
	v.setStateLocked(StateIdle)
	if v.mode == ModeHandsFree {
		v.resume.Arm(v.resumeCooldown, v.resumeCapture)
	}
}
