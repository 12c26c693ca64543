package connection

import (
	"fmt"
	"log"
	"runtime"
	"strings"

	"github.com/ent0n29/rhodes-client/internal/observability"
	"github.com/ent0n29/rhodes-client/internal/protocol"
	"github.com/ent0n29/rhodes-client/internal/render"
	"github.com/ent0n29/rhodes-client/internal/session"
	"github.com/ent0n29/rhodes-client/internal/store"
)

const defaultGuestQuota = 3

// minTokenLen filters out placeholder tokens left by older clients.
const minTokenLen = 10

func (m *Manager) authRequestLocked() protocol.Command {
	snap := m.sess.Snapshot()
	req := protocol.AuthRequest{
		ClientID:      snap.ClientID,
		TabID:         snap.TabID,
		ClientVersion: m.cfg.ClientVersion,
		Platform:      m.cfg.Platform,
		Hostname:      m.hostname,
		System: protocol.SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Runtime: runtime.Version(),
		},
	}
	if len(snap.GuestToken) > minTokenLen {
		req.Token = snap.GuestToken
	}
	if len(snap.UserToken) > minTokenLen {
		req.UserToken = snap.UserToken
	}
	if !m.newSessionMode && snap.SessionID != "" && !strings.HasPrefix(snap.SessionID, "split-") {
		req.ResumeSession = snap.SessionID
	}
	return protocol.NewCommand(protocol.TypeAuthRequest, req)
}

// handleAuthLocked runs on the pump with m.mu held.
func (m *Manager) handleAuthLocked(r protocol.AuthResponse) {
	m.authSlot.Cancel()
	if !r.Success {
		m.authFailedLocked(r)
		return
	}

	remaining := defaultGuestQuota
	if r.GuestMessagesRemaining != nil && *r.GuestMessagesRemaining != 0 {
		remaining = *r.GuestMessagesRemaining
	}
	username := ""
	if r.User != nil {
		username = r.User.Username
	}
	m.sess.ApplyAuth(session.AuthResult{
		IsGuest:        r.IsGuest,
		IsAdmin:        r.IsAdmin,
		SessionID:      r.SessionID,
		Username:       username,
		GuestToken:     r.Token,
		GuestRemaining: remaining,
	})
	snap := m.sess.Snapshot()

	persistSession := snap.SessionID != "" && !strings.HasPrefix(snap.SessionID, "split-")
	m.after(func() {
		if persistSession {
			m.persist(store.KeySessionID, snap.SessionID)
		}
		if snap.Username != "" {
			m.persist(store.KeyUsername, snap.Username)
		}
		m.persist(store.KeyServer, snap.Server)
		if snap.IsGuest && snap.GuestToken != "" {
			m.persist(store.KeyGuestToken, snap.GuestToken)
		}
	})

	m.attempts = 0
	m.givenUp = false
	m.metrics.ConnectAttempt("authenticated")
	m.metrics.ObserveStage(observability.StageAuth, m.clock.Now().Sub(m.openedAt))
	log.Printf("[connection] authenticated session=%s guest=%t", snap.SessionID, snap.IsGuest)

	firstAuth := !m.authedOnce
	m.authedOnce = true
	m.newSessionMode = false

	backlog := 0
	if firstAuth || snap.SessionID != m.backlogSession {
		backlog = m.dispatcher.RenderBacklog(r.Conversation)
		m.backlogSession = snap.SessionID
	}
	if !snap.IsGuest && !m.greeted {
		m.greeted = true
		if backlog == 0 {
			m.renderer.AppendEntry(render.RoleAI, greeting(snap.Username, m.launch.NewSession))
		}
	}
	if snap.IsGuest {
		m.renderer.Notify(fmt.Sprintf("Guest mode: %d free messages left. Sign in to keep chatting.", snap.GuestRemaining))
	}

	if m.launch.ResumeID != "" && !m.resumeSent {
		m.resumeSent = true
		m.transmitOrLogLocked(protocol.NewCommand(protocol.TypeSessionResumeRequest, protocol.SessionResumeRequest{SessionID: m.launch.ResumeID}))
	}

	m.sess.SetReady(true)
	m.metrics.SetReady(true)
	m.flushLocked()

	if m.sess.TakeContinuation() {
		log.Printf("[connection] requesting continuation of interrupted reply")
		m.sendLocked(protocol.NewContinuation())
	}
	if room := m.sess.Room(); room != "" && !snap.IsGuest {
		m.sendLocked(protocol.NewCommand(protocol.TypeRoomJoinRequest, protocol.RoomRequest{RoomID: room}))
	}
}

func (m *Manager) authFailedLocked(r protocol.AuthResponse) {
	reason := firstNonEmpty(r.Message, r.Error, "unknown error")
	log.Printf("[connection] auth failed: %s", reason)
	m.metrics.ConnectAttempt("auth_failed")

	// The channel stays open without a session so the saved sessions can be
	// listed and one resumed.
	if r.Error == "rate_limit" {
		m.halted = true
		m.sessionLimited = true
		m.sess.SetStatus(session.StatusSessionLimit)
		m.renderer.Notify("Session limit reached. Resume a saved session with /resume <id>.")
		m.offerSlot.Arm(sessionOfferDelay, func() {
			m.mu.Lock()
			defer m.unlock()
			m.offerSessionsLocked()
		})
		return
	}

	m.sess.SetStatus(session.StatusAuthFailed)
	m.renderer.AppendEntry(render.RoleSystem, "AUTH FAILED: "+reason)

	snap := m.sess.Snapshot()
	hasTokens := snap.UserToken != "" || snap.GuestToken != ""
	if !hasTokens && !m.guestTried {
		m.guestTried = true
		m.sess.ClearCredentials()
		m.teardownLocked()
		m.renderer.Notify("Continuing as guest")
		m.reconnectSlot.Arm(guestFallbackDelay, func() {
			m.mu.Lock()
			defer m.unlock()
			if m.closed {
				return
			}
			m.restartLocked()
		})
		return
	}
	// Credentials were rejected. Keep the channel so /login or /register can
	// go out on it; a successful sign-in reconnects with the new token.
	m.halted = true
	m.renderer.Notify("Sign in to continue: /login <username> <password>")
}

// signedInLocked runs after a login or registration succeeded. When the
// channel was left open by a failed authentication it reconnects with the
// fresh token.
func (m *Manager) signedInLocked() {
	if m.closed || m.sess.Ready() {
		return
	}
	log.Printf("[connection] signed in, authenticating again")
	m.halted = false
	m.attempts = 0
	m.restartLocked()
}

func greeting(username string, fresh bool) string {
	name := username
	if name == "" {
		name = "there"
	}
	if fresh {
		return fmt.Sprintf("Hi, %s! What can I help you with today?", name)
	}
	return fmt.Sprintf("Welcome back, %s! What can I help you with?", name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
