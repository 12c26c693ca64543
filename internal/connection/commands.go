package connection

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ent0n29/rhodes-client/internal/policy"
	"github.com/ent0n29/rhodes-client/internal/protocol"
	"github.com/ent0n29/rhodes-client/internal/render"
	"github.com/ent0n29/rhodes-client/internal/store"
)

// transmitter adapts the manager to outbound.Transmitter. It is only used
// with m.mu held.
type transmitter struct{ m *Manager }

func (t transmitter) Ready() bool {
	return t.m.ch != nil && t.m.sess.Ready()
}

func (t transmitter) Transmit(cmd protocol.Command) error {
	return t.m.transmitLocked(cmd)
}

func (m *Manager) transmitLocked(cmd protocol.Command) error {
	if m.ch == nil {
		return ErrNotConnected
	}
	if err := m.ch.Send(cmd); err != nil {
		return err
	}
	m.metrics.Frame("out", string(cmd.Type))
	return nil
}

// transmitOrLogLocked sends on the open channel, bypassing the readiness
// gate. Used for the handshake commands that must precede the queue.
func (m *Manager) transmitOrLogLocked(cmd protocol.Command) {
	if err := m.transmitLocked(cmd); err != nil {
		log.Printf("[connection] send %s failed: %v", cmd.Type, err)
	}
}

// sendLocked appends cmd behind anything already queued and drains the
// queue if the channel is ready. A failed transmit stays at the head.
func (m *Manager) sendLocked(cmd protocol.Command) {
	m.queue.Enqueue(cmd)
	m.flushLocked()
}

func (m *Manager) flushLocked() {
	sent, err := m.queue.Flush(transmitter{m})
	if sent > 0 {
		log.Printf("[connection] flushed %d queued commands", sent)
	}
	if err != nil {
		log.Printf("[connection] flush stopped: %v", err)
	}
	m.metrics.SetQueueDepth(m.queue.Len())
}

// SendText routes one line of user input: interrupts, room messages, model
// switches, and plain chat messages.
func (m *Manager) SendText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if reason, ok := protocol.IsInterruptCommand(text); ok {
		m.Interrupt(reason)
		return
	}

	m.mu.Lock()
	defer m.unlock()

	if room := m.sess.Room(); room != "" {
		m.sendRoomLocked(room, text)
		return
	}
	if sw, ok := protocol.ParseModelSwitch(text); ok {
		m.sendLocked(protocol.NewCommand(protocol.TypeModelSetRequest, protocol.ModelSetRequest{Model: sw.Model}))
		if !m.sess.Ready() {
			m.connectLocked()
		}
		if sw.Rest == "" {
			return
		}
		text = sw.Rest
	}
	m.sendUserLocked(text, false, false)
}

func (m *Manager) sendRoomLocked(room, text string) {
	payload, personal := protocol.ParseRoomText(text)
	if payload == "" {
		return
	}
	t := protocol.TypeRoomMessageRequest
	if personal {
		t = protocol.TypeRoomPersonalAIRequest
	}
	m.sendLocked(protocol.NewCommand(t, protocol.RoomMessageRequest{RoomID: room, Content: payload}))
}

func (m *Manager) sendUserLocked(text string, voice, handsFree bool) {
	m.renderer.AppendEntry(render.RoleUser, policy.MaskPasswords(text))
	m.dispatcher.BeginTurn()

	content := text
	if m.voiceFailure != "" {
		content = fmt.Sprintf("[Voice/TTS failed: %s. User was switched to text mode.]\n\n%s", m.voiceFailure, text)
		m.voiceFailure = ""
	}
	audio := voice
	if m.hooks.VoiceEnabled != nil {
		audio = audio || m.hooks.VoiceEnabled()
	}
	cmd := protocol.NewUserMessage(protocol.UserMessage{
		Content:     content,
		AudioOutput: audio,
		VoiceMode:   voice,
		HandsFree:   handsFree,
	})
	m.sess.StartRequest(cmd.ID)

	if !m.sess.Ready() {
		m.sendLocked(cmd)
		m.renderer.Notify("Disconnected, queued message and reconnecting...")
		m.connectLocked()
		return
	}
	m.sendLocked(cmd)
}

// SubmitVoice sends a finished voice transcript. Unlike typed text it is
// not queued while disconnected.
func (m *Manager) SubmitVoice(text string, handsFree bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.sess.Ready() {
		return ErrNotReady
	}
	m.sendUserLocked(text, true, handsFree)
	m.after(func() { m.persist(store.KeyVoiceUsed, "1") })
	return nil
}

// Interrupt cancels the active reply. The request id rotates even when the
// interrupt cannot be sent, so late events for the old turn are dropped.
func (m *Manager) Interrupt(reason string) {
	m.mu.Lock()
	ready := m.sess.Ready() && m.ch != nil
	if ready {
		m.transmitOrLogLocked(protocol.NewInterrupt(reason))
	}
	m.sess.Interrupt()
	m.dispatcher.InvalidateStream()
	if ready {
		m.renderer.Notify("Interrupt sent")
	} else {
		m.renderer.Notify("Not connected")
	}
	if hook := m.hooks.Interrupted; hook != nil {
		m.after(hook)
	}
	m.unlock()
}

// Login sends credentials on the open channel.
func (m *Manager) Login(username, password string) error {
	return m.direct(protocol.NewCommand(protocol.TypeLoginRequest, protocol.LoginRequest{Username: username, Password: password}))
}

func (m *Manager) Register(username, email, password string) error {
	return m.direct(protocol.NewCommand(protocol.TypeRegisterRequest, protocol.RegisterRequest{Username: username, Email: email, Password: password}))
}

func (m *Manager) direct(cmd protocol.Command) error {
	m.mu.Lock()
	defer m.unlock()
	if m.ch == nil {
		return ErrNotConnected
	}
	return m.transmitLocked(cmd)
}

// ResumeSession switches to a saved session. After a session-limit
// rejection it reconnects with the session as the resume hint instead.
func (m *Manager) ResumeSession(id string) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return
	}
	if m.sessionLimited && !m.sess.Ready() {
		log.Printf("[connection] resuming %s after session limit", id)
		m.sess.SetSessionID(id)
		m.newSessionMode = false
		m.halted = false
		m.attempts = 0
		m.restartLocked()
		return
	}
	m.sendLocked(protocol.NewCommand(protocol.TypeSessionResumeRequest, protocol.SessionResumeRequest{SessionID: id}))
}

// SetModel takes a model flag ("alpha") or a full server model name.
func (m *Manager) SetModel(model string) {
	if sw, ok := protocol.ParseModelSwitch("/" + model); ok {
		model = sw.Model
	}
	m.send(protocol.NewCommand(protocol.TypeModelSetRequest, protocol.ModelSetRequest{Model: model}))
}

func (m *Manager) JoinRoom(id string) {
	m.send(protocol.NewCommand(protocol.TypeRoomJoinRequest, protocol.RoomRequest{RoomID: id}))
}

func (m *Manager) LeaveRoom() {
	m.send(protocol.NewCommand(protocol.TypeRoomLeaveRequest, protocol.RoomRequest{RoomID: m.sess.Room()}))
}

// CreateRoom asks for a new room. An empty name lets the server pick one.
func (m *Manager) CreateRoom(name string) {
	var n *string
	if name != "" {
		n = &name
	}
	m.send(protocol.NewCommand(protocol.TypeRoomCreateRequest, protocol.RoomCreateRequest{Name: n}))
}

func (m *Manager) send(cmd protocol.Command) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return
	}
	m.sendLocked(cmd)
}

// ListSessions asks the server for the user's saved sessions. Concurrent
// callers share one request. It also works on a channel that was refused a
// session because of the session limit.
func (m *Manager) ListSessions(ctx context.Context) ([]protocol.SessionSummary, error) {
	m.mu.Lock()
	if m.ch == nil || (!m.sess.Ready() && !m.sessionLimited) {
		m.unlock()
		return nil, ErrNotConnected
	}
	if m.sess.Snapshot().IsGuest {
		m.unlock()
		return nil, ErrGuestUnsupported
	}
	w, err := m.requestListLocked()
	if err != nil {
		m.unlock()
		return nil, err
	}
	w.waiters++
	m.unlock()

	select {
	case <-w.done:
		return w.sessions, w.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
