// Package dispatch routes decoded server messages to the renderer and the
// live session: streaming assembly, tool progress, dedup and request-id
// correlation all live here.
package dispatch

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/rhodes-client/internal/dedup"
	"github.com/ent0n29/rhodes-client/internal/observability"
	"github.com/ent0n29/rhodes-client/internal/policy"
	"github.com/ent0n29/rhodes-client/internal/protocol"
	"github.com/ent0n29/rhodes-client/internal/render"
	"github.com/ent0n29/rhodes-client/internal/session"
	"github.com/ent0n29/rhodes-client/internal/store"
)

const (
	chunkWindow = 150 * time.Millisecond
	finalWindow = 2 * time.Second
	toolWindow  = 2 * time.Second
)

// Host handles the responses the connection manager owns.
type Host interface {
	HandleAuthResponse(protocol.AuthResponse)
	HandleSessionList(protocol.SessionListResponse)
	// SignedIn runs after a login or registration succeeded.
	SignedIn()
}

// Hooks are optional side effects of dispatched messages. They run after
// the dispatcher has released its own lock.
type Hooks struct {
	// Reply receives every assistant entry that should be spoken.
	Reply func(text string)
	// GuestLimit runs when the server reports the guest quota is spent.
	GuestLimit func()
	// LanguageHint switches voice recognition language.
	LanguageHint func(language string)
	// Persist stores a key; an empty value deletes it.
	Persist func(key, value string)
}

type Options struct {
	Session  *session.Manager
	Renderer render.Renderer
	Host     Host
	Hooks    Hooks
	Metrics  *observability.Metrics
	Now      func() time.Time
}

type stream struct {
	handle render.Handle
	text   string
}

type Dispatcher struct {
	session  *session.Manager
	renderer render.Renderer
	host     Host
	hooks    Hooks
	metrics  *observability.Metrics
	now      func() time.Time
	seen     *dedup.Window

	mu        sync.Mutex
	stream    *stream
	reasoning *stream
	tools     map[string]*toolEntry
	toolStart map[string]time.Time
	roomSeen  map[string]struct{}
	quiet     bool
	turnStart time.Time
	firstSeen bool
	deferred  []func()
}

func New(opts Options) *Dispatcher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		session:   opts.Session,
		renderer:  opts.Renderer,
		host:      opts.Host,
		hooks:     opts.Hooks,
		metrics:   opts.Metrics,
		now:       now,
		seen:      dedup.New(now),
		tools:     make(map[string]*toolEntry),
		toolStart: make(map[string]time.Time),
		roomSeen:  make(map[string]struct{}),
	}
}

// SetHost attaches the connection-owned handler after construction.
func (d *Dispatcher) SetHost(h Host) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.host = h
}

// SetHooks replaces the side-effect hooks.
func (d *Dispatcher) SetHooks(h Hooks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = h
}

// DispatchRaw decodes one frame and dispatches it. Malformed frames are
// logged and dropped.
func (d *Dispatcher) DispatchRaw(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		log.Printf("[dispatch] dropping frame: %v", err)
		d.metrics.DecodeError()
		return
	}
	d.Dispatch(msg)
}

// Dispatch routes one decoded message.
func (d *Dispatcher) Dispatch(msg protocol.Inbound) {
	d.metrics.Frame("in", string(msg.Type()))
	switch m := msg.(type) {
	case protocol.AuthResponse:
		if h := d.currentHost(); h != nil {
			h.HandleAuthResponse(m)
		}
	case protocol.SessionListResponse:
		if h := d.currentHost(); h != nil {
			h.HandleSessionList(m)
		}
	case protocol.Chunk:
		d.locked(func() { d.chunkLocked(m) })
	case protocol.Final:
		d.locked(func() { d.finalLocked(m) })
	case protocol.ToolCall:
		d.locked(func() { d.toolLocked(m) })
	case protocol.ReasoningChunk:
		d.locked(func() { d.reasoningLocked(m) })
	case protocol.GuestStatus:
		d.locked(func() { d.guestStatusLocked(m) })
	case protocol.RegisterResponse:
		d.locked(func() { d.registerLocked(m) })
	case protocol.LoginResponse:
		d.locked(func() { d.loginLocked(m) })
	case protocol.SessionResumeResponse:
		d.locked(func() { d.resumeLocked(m) })
	case protocol.SessionNewResponse:
		d.locked(func() { d.newSessionLocked(m) })
	case protocol.ModelSetResponse:
		d.locked(func() { d.modelSetLocked(m) })
	case protocol.SessionRotated:
		d.locked(func() { d.rotatedLocked(m) })
	case protocol.InterruptAck:
		d.locked(func() {
			d.collapseToolsLocked()
			d.renderer.Notify("Interrupted")
		})
	case protocol.ErrorMessage:
		d.locked(func() { d.errorLocked(m) })
	case protocol.UserMessageSync:
		d.locked(func() { d.userSyncLocked(m) })
	case protocol.RoomResponse:
		d.locked(func() { d.roomResponseLocked(m) })
	case protocol.RoomMessage:
		d.locked(func() { d.roomMessageLocked(m) })
	case protocol.VoiceLanguageHint:
		d.locked(func() { d.languageHintLocked(m) })
	case protocol.SystemMessage:
		d.locked(func() {
			if strings.TrimSpace(m.Content) != "" {
				d.appendAILocked(m.Content)
			}
		})
	case protocol.Unknown:
		d.metrics.Drop("unknown", string(m.Kind))
	}
}

// BeginTurn starts a new user turn: the tool map is cleared and latency
// tracking restarts.
func (d *Dispatcher) BeginTurn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools = make(map[string]*toolEntry)
	d.toolStart = make(map[string]time.Time)
	d.turnStart = d.now()
	d.firstSeen = false
}

// CollapseTools finalizes the current tool log so later entries render
// below it.
func (d *Dispatcher) CollapseTools() {
	d.locked(d.collapseToolsLocked)
}

// InvalidateStream keeps whatever was streamed so far as a finished entry
// and forgets the stream. It reports whether a stream was active.
func (d *Dispatcher) InvalidateStream() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeReasoningLocked()
	if d.stream == nil {
		return false
	}
	d.renderer.FinalizeEntry(d.stream.handle, d.stream.text)
	d.stream = nil
	return true
}

// StreamActive reports whether a reply is currently streaming.
func (d *Dispatcher) StreamActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

// RenderBacklog renders a conversation history. Tool entries and empty
// assistant entries are skipped, user text is masked, and nothing is spoken.
func (d *Dispatcher) RenderBacklog(messages []protocol.ConversationMessage) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backlogLocked(messages)
}

// ClearRoomHistory forgets room message ids seen so far.
func (d *Dispatcher) ClearRoomHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roomSeen = make(map[string]struct{})
}

func (d *Dispatcher) currentHost() Host {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.host
}

// locked runs f under the dispatcher lock, then runs any hooks f queued.
func (d *Dispatcher) locked(f func()) {
	d.mu.Lock()
	f()
	after := d.deferred
	d.deferred = nil
	d.mu.Unlock()
	for _, fn := range after {
		fn()
	}
}

func (d *Dispatcher) after(f func()) {
	d.deferred = append(d.deferred, f)
}

func (d *Dispatcher) persistLocked(key, value string) {
	if d.hooks.Persist == nil {
		return
	}
	persist := d.hooks.Persist
	d.after(func() { persist(key, value) })
}

// appendAILocked renders an assistant entry and queues it for speech.
func (d *Dispatcher) appendAILocked(text string) render.Handle {
	h := d.renderer.AppendEntry(render.RoleAI, text)
	if !d.quiet && d.hooks.Reply != nil {
		reply := d.hooks.Reply
		d.after(func() { reply(text) })
	}
	return h
}

func (d *Dispatcher) backlogLocked(messages []protocol.ConversationMessage) int {
	d.quiet = true
	defer func() { d.quiet = false }()
	n := 0
	for _, m := range messages {
		switch {
		case m.Role == "tool":
			continue
		case m.Role == "assistant" && strings.TrimSpace(m.Content) == "":
			continue
		case m.Role == "user":
			d.renderer.AppendEntry(render.RoleUser, policy.MaskPasswords(m.Content))
		default:
			d.appendAILocked(m.Content)
		}
		n++
	}
	return n
}

func (d *Dispatcher) closeReasoningLocked() {
	if d.reasoning == nil {
		return
	}
	d.renderer.FinalizeEntry(d.reasoning.handle, d.reasoning.text)
	d.reasoning = nil
}

func (d *Dispatcher) dropLocked(reason string, t protocol.MessageType) {
	d.metrics.Drop(reason, string(t))
}

func validSessionID(id string) bool {
	return id != "" && !strings.Contains(id, "split-")
}

func (d *Dispatcher) adoptSessionLocked(id string) {
	if !validSessionID(id) {
		return
	}
	d.session.SetSessionID(id)
	d.persistLocked(store.KeySessionID, id)
}
