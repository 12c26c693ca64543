package connection

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ent0n29/rhodes-client/internal/protocol"
)

type listWaiter struct {
	done     chan struct{}
	waiters  int
	sessions []protocol.SessionSummary
	err      error
	// offer renders the result as a notice when it arrives.
	offer bool
}

// requestListLocked returns the pending list request, sending a new one if
// none is in flight.
func (m *Manager) requestListLocked() (*listWaiter, error) {
	if w := m.pendingList; w != nil {
		return w, nil
	}
	w := &listWaiter{done: make(chan struct{})}
	m.pendingList = w
	if err := m.transmitLocked(protocol.NewSessionListRequest()); err != nil {
		m.rejectListLocked(err)
		return nil, err
	}
	m.listSlot.Arm(m.cfg.RequestTimeout, func() {
		m.mu.Lock()
		defer m.unlock()
		if m.pendingList == w {
			m.rejectListLocked(ErrRequestTimeout)
		}
	})
	return w, nil
}

// offerSessionsLocked lists the saved sessions on screen so one can be
// resumed after the server refused a new one.
func (m *Manager) offerSessionsLocked() {
	if m.closed || m.ch == nil || !m.sessionLimited || m.sess.Snapshot().IsGuest {
		return
	}
	w, err := m.requestListLocked()
	if err != nil {
		log.Printf("[connection] session list request failed: %v", err)
		return
	}
	w.offer = true
}

func (m *Manager) handleSessionListLocked(r protocol.SessionListResponse) {
	w := m.pendingList
	if w == nil {
		return
	}
	m.pendingList = nil
	m.listSlot.Cancel()
	if !r.Success {
		w.err = errors.New("connection: session list failed: " + firstNonEmpty(r.Error, "unknown error"))
	} else {
		w.sessions = r.Sessions
	}
	close(w.done)
	if w.offer && w.err == nil {
		m.renderer.Notify(sessionOffer(w.sessions))
	}
}

func sessionOffer(sessions []protocol.SessionSummary) string {
	if len(sessions) == 0 {
		return "No saved sessions to resume."
	}
	var b strings.Builder
	b.WriteString("Saved sessions (/resume <id>):")
	for _, s := range sessions {
		fmt.Fprintf(&b, "\n  %s  %s", s.SessionID, firstNonEmpty(s.Title, "(untitled)"))
	}
	return b.String()
}

func (m *Manager) rejectListLocked(err error) {
	w := m.pendingList
	if w == nil {
		return
	}
	m.pendingList = nil
	m.listSlot.Cancel()
	w.err = err
	close(w.done)
}
