package dispatch

import (
	"fmt"
	"strings"

	"github.com/ent0n29/rhodes-client/internal/policy"
	"github.com/ent0n29/rhodes-client/internal/protocol"
	"github.com/ent0n29/rhodes-client/internal/render"
	"github.com/ent0n29/rhodes-client/internal/store"
)

func (d *Dispatcher) guestStatusLocked(g protocol.GuestStatus) {
	if g.Remaining != nil {
		d.session.SetGuestRemaining(*g.Remaining)
	}
	if !g.LimitReached {
		return
	}
	msg := g.Message
	if msg == "" {
		msg = "Guest message limit reached. Sign in to keep chatting."
	}
	d.renderer.Notify(msg)
	if d.hooks.GuestLimit != nil {
		d.after(d.hooks.GuestLimit)
	}
}

func (d *Dispatcher) registerLocked(r protocol.RegisterResponse) {
	if !r.Success {
		d.renderer.Notify(firstNonEmpty(r.Message, r.Error, "Registration failed"))
		return
	}
	d.session.SetUserToken(r.Token, r.Username)
	d.persistLocked(store.KeyUserToken, r.Token)
	d.persistLocked(store.KeyUsername, strings.ToLower(r.Username))
	d.appendAILocked(fmt.Sprintf("Welcome %s! Your account is ready.", r.Username))
	d.signedInLocked()
}

func (d *Dispatcher) loginLocked(r protocol.LoginResponse) {
	if !r.Success {
		d.renderer.Notify(firstNonEmpty(r.Message, r.Error, "Login failed"))
		return
	}
	d.session.SetUserToken(r.Token, r.Username)
	d.persistLocked(store.KeyUserToken, r.Token)
	d.persistLocked(store.KeyUsername, strings.ToLower(r.Username))
	// The server merges the guest session into the account and may hand
	// back a new id.
	d.adoptSessionLocked(r.SessionID)
	d.appendAILocked(fmt.Sprintf("Welcome back, %s!", r.Username))
	d.signedInLocked()
}

func (d *Dispatcher) signedInLocked() {
	if h := d.host; h != nil {
		d.after(h.SignedIn)
	}
}

func (d *Dispatcher) resumeLocked(r protocol.SessionResumeResponse) {
	if !r.Success {
		d.appendAILocked("Failed to resume session: " + r.Error)
		return
	}
	d.backlogLocked(r.Conversation)
	sid := firstNonEmpty(r.SessionID, r.RhodesID)
	d.adoptSessionLocked(sid)
	note := ""
	if label := protocol.ModelLabel(r.Model); label != "" {
		note = fmt.Sprintf(" (%s mode)", label)
	}
	d.appendAILocked(fmt.Sprintf("Session %s resumed. %d messages loaded.%s", firstNonEmpty(sid, "(unknown)"), r.MessageCount, note))
}

func (d *Dispatcher) newSessionLocked(r protocol.SessionNewResponse) {
	if !r.Success {
		d.renderer.Notify("Failed to create session: " + firstNonEmpty(r.Error, "Unknown error"))
		return
	}
	d.adoptSessionLocked(r.SessionID)
	d.renderer.Notify("New session created")
	d.appendAILocked("Started a fresh session. How can I help you?")
}

func (d *Dispatcher) modelSetLocked(r protocol.ModelSetResponse) {
	if !r.Success {
		d.renderer.Notify("Mode switch failed")
		return
	}
	label := protocol.ModelLabel(r.Model)
	if label == "" {
		label = "MODEL"
	}
	plan := ""
	if strings.HasSuffix(strings.ToLower(r.Model), "ep") {
		plan = " [PLAN]"
	}
	d.renderer.Notify("Mode switched to " + label + plan)
}

func (d *Dispatcher) rotatedLocked(r protocol.SessionRotated) {
	sid := firstNonEmpty(r.NewSessionID, r.RhodesID)
	if sid == "" {
		return
	}
	d.adoptSessionLocked(sid)
	if r.Reason != "" {
		d.renderer.Notify("Session rotated: " + r.Reason)
	}
}

func (d *Dispatcher) errorLocked(e protocol.ErrorMessage) {
	msg := firstNonEmpty(e.Error, e.Message)
	if msg == "" {
		return
	}
	d.renderer.AppendEntry(render.RoleSystem, "[System] "+msg)
}

// userSyncLocked mirrors a user message typed in another tab of the same
// session.
func (d *Dispatcher) userSyncLocked(u protocol.UserMessageSync) {
	if !u.Sync {
		return
	}
	if u.OriginTabID != "" && u.OriginTabID == d.session.Snapshot().TabID {
		return
	}
	text := strings.TrimSpace(u.Content)
	if text == "" {
		return
	}
	d.renderer.AppendEntry(render.RoleUser, policy.MaskPasswords(text))
}

func (d *Dispatcher) roomResponseLocked(r protocol.RoomResponse) {
	if r.Kind == protocol.TypeRoomLeaveResponse {
		d.session.SetRoom("")
		d.roomSeen = make(map[string]struct{})
		d.renderer.Notify("Left room")
		return
	}
	if !r.Success {
		d.renderer.Notify("Room error: " + firstNonEmpty(r.Error, "unknown error"))
		return
	}
	d.session.SetRoom(r.RoomID)
	d.roomSeen = make(map[string]struct{})
	names := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		names = append(names, m.Username)
	}
	line := "Joined room " + r.RoomID
	if len(names) > 0 {
		line += " (members: " + strings.Join(names, ", ") + ")"
	}
	d.renderer.AppendEntry(render.RoleSystem, line)
	if r.Kind != protocol.TypeRoomJoinResponse {
		return
	}
	for _, m := range r.Messages {
		if !d.markRoomSeenLocked(m.MsgID) {
			continue
		}
		if m.Role == "ai" || m.Role == "assistant" {
			d.renderer.AppendEntry(render.RoleAI, firstNonEmpty(m.Username, "Rhodes")+": "+m.Content)
			continue
		}
		d.renderer.AppendEntry(render.RoleUser, m.Username+": "+policy.MaskPasswords(m.Content))
	}
}

func (d *Dispatcher) roomMessageLocked(m protocol.RoomMessage) {
	if m.RoomID == "" || m.RoomID != d.session.Room() {
		d.dropLocked("other_room", m.Type())
		return
	}
	if !d.markRoomSeenLocked(m.MsgID) {
		d.dropLocked("duplicate", m.Type())
		return
	}
	d.renderer.AppendEntry(render.RoleUser, m.Username+": "+policy.MaskPasswords(m.Content))
}

// markRoomSeenLocked records a room message id and reports whether it was new.
// Messages without an id are always new.
func (d *Dispatcher) markRoomSeenLocked(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := d.roomSeen[id]; ok {
		return false
	}
	d.roomSeen[id] = struct{}{}
	return true
}

func (d *Dispatcher) languageHintLocked(h protocol.VoiceLanguageHint) {
	if h.Language == "" {
		return
	}
	name := protocol.LanguageName(h.Language)
	d.renderer.Notify("Voice switched to " + name + ", speak " + name + " phrases clearly")
	if d.hooks.LanguageHint != nil {
		hint := d.hooks.LanguageHint
		d.after(func() { hint(h.Language) })
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
