// Package session owns the single live client session. Every mutation is a
// named method so the epoch and readiness invariants stay in one place.
package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Session is a point-in-time copy of the live session.
type Session struct {
	Epoch             uint64 `json:"epoch"`
	ClientID          string `json:"client_id"`
	TabID             string `json:"tab_id"`
	UserToken         string `json:"-"`
	GuestToken        string `json:"-"`
	IsGuest           bool   `json:"is_guest"`
	IsAdmin           bool   `json:"is_admin"`
	SessionID         string `json:"session_id,omitempty"`
	Username          string `json:"username,omitempty"`
	Server            string `json:"server"`
	Status            Status `json:"status"`
	Ready             bool   `json:"ready"`
	WasEverReady      bool   `json:"was_ever_ready"`
	ActiveReqID       string `json:"active_req_id,omitempty"`
	RoomID            string `json:"room_id,omitempty"`
	GuestRemaining    int    `json:"guest_remaining"`
	PendingGeneration bool   `json:"pending_generation"`
	NeedsContinuation bool   `json:"needs_continuation"`
	InterruptionCount int    `json:"interruption_count"`
}

type Manager struct {
	mu sync.RWMutex
	s  Session
}

func NewManager(seed Seed) *Manager {
	return &Manager{s: Session{
		ClientID:   seed.ClientID,
		TabID:      seed.TabID,
		UserToken:  seed.UserToken,
		GuestToken: seed.GuestToken,
		SessionID:  seed.SessionID,
		Username:   seed.Username,
		Server:     seed.Server,
		Status:     StatusIdle,
	}}
}

func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s
}

// BeginAttempt starts a new channel epoch. Readiness is always cleared.
func (m *Manager) BeginAttempt(server string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Epoch++
	m.s.Ready = false
	m.s.Server = server
	m.s.Status = StatusConnecting
	return m.s.Epoch
}

// Invalidate bumps the epoch without opening anything, so every callback
// bound to the current channel becomes inert.
func (m *Manager) Invalidate() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Epoch++
	m.s.Ready = false
	return m.s.Epoch
}

func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Epoch
}

// IsCurrent reports whether epoch still names the live channel.
func (m *Manager) IsCurrent(epoch uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Epoch == epoch
}

func (m *Manager) SetStatus(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Status = status
}

func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Ready
}

func (m *Manager) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Ready = ready
	if ready {
		m.s.WasEverReady = true
	}
}

// ApplyAuth records a successful authentication.
func (m *Manager) ApplyAuth(r AuthResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.IsGuest = r.IsGuest
	m.s.IsAdmin = r.IsAdmin
	if r.SessionID != "" {
		m.s.SessionID = r.SessionID
	}
	if r.GuestToken != "" {
		m.s.GuestToken = r.GuestToken
	}
	if r.IsGuest {
		m.s.Username = ""
		m.s.GuestRemaining = r.GuestRemaining
		m.s.Status = StatusGuest
		return
	}
	m.s.Username = strings.ToLower(r.Username)
	m.s.Status = StatusConnected
}

// SetUserToken records a login/registration token; the user is no longer a guest.
func (m *Manager) SetUserToken(token, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.UserToken = token
	m.s.IsGuest = false
	if username != "" {
		m.s.Username = strings.ToLower(username)
	}
}

// ClearCredentials forgets every token and the resume id, used for the guest
// fallback and logout.
func (m *Manager) ClearCredentials() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.UserToken = ""
	m.s.GuestToken = ""
	m.s.SessionID = ""
	m.s.Username = ""
	m.s.IsAdmin = false
}

func (m *Manager) SetSessionID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.SessionID = id
}

func (m *Manager) SetRoom(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.RoomID = roomID
}

func (m *Manager) Room() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.RoomID
}

// StartRequest makes id the active request and marks a generation pending.
func (m *Manager) StartRequest(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.ActiveReqID = id
	m.s.PendingGeneration = true
}

// Interrupt rotates the active request id so late events for the
// interrupted turn are discarded.
func (m *Manager) Interrupt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.ActiveReqID = uuid.NewString()
	m.s.PendingGeneration = false
	m.s.InterruptionCount++
	return m.s.ActiveReqID
}

// IsStale reports an event tagged with a request id other than the active one.
func (m *Manager) IsStale(reqID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ActiveReqID != "" && reqID != "" && reqID != m.s.ActiveReqID
}

// FinishGeneration clears the pending flag when a final reply arrives.
func (m *Manager) FinishGeneration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.PendingGeneration = false
}

// MarkContinuation flags a cut reply for server-side continuation.
func (m *Manager) MarkContinuation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.NeedsContinuation = true
	m.s.PendingGeneration = false
}

// TakeContinuation returns and clears the continuation flag.
func (m *Manager) TakeContinuation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	needs := m.s.NeedsContinuation
	m.s.NeedsContinuation = false
	return needs
}

// ConsumeGuestMessage decrements the guest quota and returns what is left.
func (m *Manager) ConsumeGuestMessage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.IsGuest && m.s.GuestRemaining > 0 {
		m.s.GuestRemaining--
	}
	return m.s.GuestRemaining
}

func (m *Manager) SetGuestRemaining(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.GuestRemaining = n
}
