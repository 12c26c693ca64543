// Package connection owns the channel lifecycle: connect, authenticate,
// resume, reconnect with backoff, and the outbound command path.
package connection

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ent0n29/rhodes-client/internal/config"
	"github.com/ent0n29/rhodes-client/internal/dispatch"
	"github.com/ent0n29/rhodes-client/internal/observability"
	"github.com/ent0n29/rhodes-client/internal/outbound"
	"github.com/ent0n29/rhodes-client/internal/protocol"
	"github.com/ent0n29/rhodes-client/internal/reliability"
	"github.com/ent0n29/rhodes-client/internal/render"
	"github.com/ent0n29/rhodes-client/internal/scheduler"
	"github.com/ent0n29/rhodes-client/internal/session"
	"github.com/ent0n29/rhodes-client/internal/store"
	"github.com/ent0n29/rhodes-client/internal/transport"
)

var (
	ErrNotConnected     = errors.New("connection: not connected")
	ErrNotReady         = errors.New("connection: not ready for commands")
	ErrClosed           = errors.New("connection: manager closed")
	ErrRetryThrottled   = errors.New("connection: retry throttled")
	ErrRequestTimeout   = errors.New("connection: request timed out")
	ErrGuestUnsupported = errors.New("connection: not available in guest mode")
)

const (
	guestFallbackDelay = 500 * time.Millisecond

	// sessionOfferDelay separates the session-limit notice from the list.
	sessionOfferDelay = 500 * time.Millisecond
)

// Launch carries the per-process options that would otherwise come from
// the page URL.
type Launch struct {
	NewSession bool
	ResumeID   string
	ViewOnly   bool
	Room       string
}

// Hooks connect the manager to the voice side.
type Hooks struct {
	// VoiceEnabled reports whether replies should carry audio.
	VoiceEnabled func() bool
	// Interrupted runs after an interrupt is issued.
	Interrupted func()
}

type Options struct {
	Config        config.Config
	Launch        Launch
	Session       *session.Manager
	Store         store.Store
	Dialer        transport.Dialer
	Renderer      render.Renderer
	Clock         scheduler.Clock
	Metrics       *observability.Metrics
	Hooks         Hooks
	DispatchHooks dispatch.Hooks
	// Spawn runs the dial. Defaults to a new goroutine.
	Spawn    func(func())
	Hostname string
}

type Manager struct {
	cfg      config.Config
	launch   Launch
	sess     *session.Manager
	store    store.Store
	dialer   transport.Dialer
	renderer render.Renderer
	clock    scheduler.Clock
	metrics  *observability.Metrics
	hooks    Hooks
	spawn    func(func())
	hostname string

	dispatcher *dispatch.Dispatcher
	queue      *outbound.Queue
	retry      *rate.Limiter

	openSlot      *scheduler.Slot
	authSlot      *scheduler.Slot
	reconnectSlot *scheduler.Slot
	listSlot      *scheduler.Slot
	offerSlot     *scheduler.Slot

	mu             sync.Mutex
	deferred       []func()
	ch             transport.Channel
	dialing        bool
	cancelDial     context.CancelFunc
	cancelPump     context.CancelFunc
	server         string
	usedFallback   bool
	attempts       int
	givenUp        bool
	halted         bool
	sessionLimited bool
	closed         bool
	guestTried     bool
	newSessionMode bool
	authedOnce     bool
	greeted        bool
	resumeSent     bool
	backlogSession string
	voiceFailure   string
	openedAt       time.Time
	pendingList    *listWaiter
}

func New(opts Options) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = scheduler.Real{}
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = func(f func()) { go f() }
	}
	hostname := opts.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	server := opts.Session.Snapshot().Server
	if server == "" || opts.Config.IgnoreSavedServer {
		server = opts.Config.ServerURL
	}

	m := &Manager{
		cfg:            opts.Config,
		launch:         opts.Launch,
		sess:           opts.Session,
		store:          opts.Store,
		dialer:         opts.Dialer,
		renderer:       opts.Renderer,
		clock:          clock,
		metrics:        opts.Metrics,
		hooks:          opts.Hooks,
		spawn:          spawn,
		hostname:       hostname,
		queue:          outbound.NewQueue(),
		retry:          rate.NewLimiter(rate.Every(2*time.Second), 1),
		openSlot:       scheduler.NewSlot(clock),
		authSlot:       scheduler.NewSlot(clock),
		reconnectSlot:  scheduler.NewSlot(clock),
		listSlot:       scheduler.NewSlot(clock),
		offerSlot:      scheduler.NewSlot(clock),
		server:         server,
		newSessionMode: opts.Launch.NewSession,
	}
	if opts.Launch.Room != "" {
		m.sess.SetRoom(opts.Launch.Room)
	}

	hooks := opts.DispatchHooks
	userPersist := hooks.Persist
	// Dispatched frames run under m.mu; the store write waits for unlock.
	hooks.Persist = func(key, value string) {
		m.after(func() {
			m.persist(key, value)
			if userPersist != nil {
				userPersist(key, value)
			}
		})
	}
	m.dispatcher = dispatch.New(dispatch.Options{
		Session:  opts.Session,
		Renderer: opts.Renderer,
		Host:     dispatchHost{m},
		Hooks:    hooks,
		Metrics:  opts.Metrics,
		Now:      clock.Now,
	})
	return m
}

// Dispatcher exposes the inbound router, mainly for tests and wiring.
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.dispatcher
}

// dispatchHost receives the responses the dispatcher hands back. It is only
// called from handleFrame, which already holds m.mu.
type dispatchHost struct{ m *Manager }

func (h dispatchHost) HandleAuthResponse(r protocol.AuthResponse) {
	h.m.handleAuthLocked(r)
}

func (h dispatchHost) HandleSessionList(r protocol.SessionListResponse) {
	h.m.handleSessionListLocked(r)
}

func (h dispatchHost) SignedIn() {
	h.m.signedInLocked()
}

// unlock releases m.mu and then runs work queued while it was held.
func (m *Manager) unlock() {
	work := m.deferred
	m.deferred = nil
	m.mu.Unlock()
	for _, f := range work {
		f()
	}
}

func (m *Manager) after(f func()) {
	m.deferred = append(m.deferred, f)
}

func (m *Manager) persist(key, value string) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store.Persist(ctx, m.store, key, value)
}

// Connect opens a channel unless an attempt is already in flight or the
// channel is open.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.unlock()
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	if m.closed || m.launch.ViewOnly {
		return
	}
	if m.ch != nil || m.dialing {
		return
	}
	m.reconnectSlot.Cancel()

	server := m.server
	epoch := m.sess.BeginAttempt(server)
	if m.attempts > 0 {
		m.sess.SetStatus(session.StatusReconnecting)
	}
	m.dialing = true
	m.openedAt = m.clock.Now()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.openSlot.Arm(m.cfg.OpenTimeout, func() { m.onOpenTimeout(epoch) })

	dialer := m.dialer
	m.after(func() {
		m.spawn(func() {
			ch, err := dialer.Dial(ctx, server)
			m.onDialResult(epoch, ch, err)
		})
	})
}

func (m *Manager) onDialResult(epoch uint64, ch transport.Channel, err error) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed || !m.sess.IsCurrent(epoch) || !m.dialing {
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	m.dialing = false
	m.cancelDial = nil
	m.openSlot.Cancel()
	if err != nil {
		log.Printf("[connection] dial %s failed: %v", m.server, err)
		m.metrics.ConnectAttempt("dial_error")
		m.teardownLocked()
		m.failAttemptLocked()
		return
	}

	m.metrics.ConnectAttempt("opened")
	m.metrics.ObserveStage(observability.StageOpen, m.clock.Now().Sub(m.openedAt))
	m.openedAt = m.clock.Now()
	m.ch = ch
	m.sess.SetStatus(session.StatusAuthenticating)

	pumpCtx, cancel := context.WithCancel(context.Background())
	m.cancelPump = cancel
	go m.pump(pumpCtx, epoch, ch)

	if err := m.transmitLocked(m.authRequestLocked()); err != nil {
		log.Printf("[connection] auth send failed: %v", err)
		m.teardownLocked()
		m.failAttemptLocked()
		return
	}
	m.authSlot.Arm(m.cfg.AuthTimeout, func() { m.onAuthTimeout(epoch) })
}

func (m *Manager) pump(ctx context.Context, epoch uint64, ch transport.Channel) {
	for {
		data, err := ch.Next(ctx)
		if err != nil {
			m.handleClosed(epoch, err)
			return
		}
		m.handleFrame(epoch, data)
	}
}

// handleFrame dispatches one inbound frame if it belongs to the live epoch.
func (m *Manager) handleFrame(epoch uint64, data []byte) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed || !m.sess.IsCurrent(epoch) {
		return
	}
	m.dispatcher.DispatchRaw(data)
}

func (m *Manager) handleClosed(epoch uint64, err error) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed || !m.sess.IsCurrent(epoch) {
		return
	}
	log.Printf("[connection] channel closed (%s): %v", reliability.ClassifyClose(err), err)

	wasReady := m.sess.Ready()
	if wasReady {
		streamed := m.dispatcher.InvalidateStream()
		if streamed || m.sess.Snapshot().PendingGeneration {
			m.sess.MarkContinuation()
		}
	}
	m.teardownLocked()
	m.rejectListLocked(ErrNotConnected)
	if m.halted {
		return
	}
	m.failAttemptLocked()
}

func (m *Manager) onOpenTimeout(epoch uint64) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed || !m.sess.IsCurrent(epoch) || !m.dialing {
		return
	}
	log.Printf("[connection] open timed out after %s (%s)", m.cfg.OpenTimeout, m.server)
	m.metrics.ConnectAttempt("open_timeout")
	m.teardownLocked()

	if m.cfg.FallbackServerURL != "" && !m.usedFallback && !m.sess.Snapshot().WasEverReady {
		m.usedFallback = true
		m.server = m.cfg.FallbackServerURL
		m.renderer.Notify("Server not responding, trying fallback endpoint")
		m.connectLocked()
		return
	}
	m.failAttemptLocked()
}

func (m *Manager) onAuthTimeout(epoch uint64) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed || !m.sess.IsCurrent(epoch) || m.sess.Ready() {
		return
	}
	log.Printf("[connection] no auth response within %s", m.cfg.AuthTimeout)
	m.metrics.ConnectAttempt("auth_timeout")
	m.teardownLocked()
	m.failAttemptLocked()
}

// teardownLocked closes the live channel and invalidates every callback
// bound to it.
func (m *Manager) teardownLocked() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.cancelPump != nil {
		m.cancelPump()
		m.cancelPump = nil
	}
	if m.ch != nil {
		_ = m.ch.Close()
		m.ch = nil
	}
	m.dialing = false
	m.sessionLimited = false
	m.openSlot.Cancel()
	m.authSlot.Cancel()
	m.offerSlot.Cancel()
	m.sess.Invalidate()
	m.metrics.SetReady(false)
}

// failAttemptLocked counts a failed attempt and either schedules the next
// one or gives up when no session was ever ready.
func (m *Manager) failAttemptLocked() {
	m.attempts++
	snap := m.sess.Snapshot()
	if !snap.WasEverReady && m.attempts > m.cfg.ReconnectGiveUpAfter {
		m.givenUp = true
		m.sess.SetStatus(session.StatusFailed)
		m.renderer.AppendEntry(render.RoleSystem, "Connection failed: the server could not be reached. Retry once it is back.")
		return
	}
	if m.attempts == 1 && !snap.WasEverReady {
		m.renderer.Notify("Connecting is taking longer than usual, retrying")
	}
	m.scheduleReconnectLocked(reliability.Backoff(m.attempts, m.cfg.ReconnectBase, m.cfg.ReconnectGrowth, m.cfg.ReconnectCap))
}

func (m *Manager) scheduleReconnectLocked(delay time.Duration) {
	m.sess.SetStatus(session.StatusReconnecting)
	m.metrics.ReconnectScheduled()
	m.metrics.Indicator("reconnect")
	epoch := m.sess.Epoch()
	m.reconnectSlot.Arm(delay, func() {
		m.mu.Lock()
		defer m.unlock()
		if m.closed || m.givenUp || !m.sess.IsCurrent(epoch) {
			return
		}
		m.connectLocked()
	})
}

// restartLocked drops the current channel and connects again right away.
func (m *Manager) restartLocked() {
	m.teardownLocked()
	m.reconnectSlot.Cancel()
	m.connectLocked()
}

// Retry is the manual retry after a give-up or failure. It is rate limited.
func (m *Manager) Retry() error {
	if !m.retry.Allow() {
		return ErrRetryThrottled
	}
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}
	m.givenUp = false
	m.halted = false
	m.attempts = 0
	if m.sess.Ready() {
		return nil
	}
	m.restartLocked()
	return nil
}

// NewSession reconnects without a resume hint so the server opens a fresh
// session.
func (m *Manager) NewSession() {
	m.mu.Lock()
	defer m.unlock()
	m.newSessionMode = true
	m.sess.SetSessionID("")
	m.after(func() { m.persist(store.KeySessionID, "") })
	m.halted = false
	m.attempts = 0
	m.restartLocked()
}

// Logout forgets every credential and reconnects as a guest.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.unlock()
	m.sess.ClearCredentials()
	m.queue.Drop()
	m.metrics.SetQueueDepth(0)
	m.after(func() {
		for _, key := range []string{store.KeyUserToken, store.KeyGuestToken, store.KeySessionID, store.KeyUsername} {
			m.persist(key, "")
		}
	})
	m.greeted = false
	m.halted = false
	m.attempts = 0
	m.restartLocked()
}

// Close shuts the manager down. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return nil
	}
	m.teardownLocked()
	m.closed = true
	m.reconnectSlot.Cancel()
	m.listSlot.Cancel()
	m.rejectListLocked(ErrClosed)
	m.sess.SetStatus(session.StatusClosed)
	return nil
}

func (m *Manager) Snapshot() session.Session {
	return m.sess.Snapshot()
}

func (m *Manager) Status() session.Status {
	return m.sess.Snapshot().Status
}

func (m *Manager) Ready() bool {
	return m.sess.Ready()
}

// QueueLen reports commands waiting for the readiness gate.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// SetVoiceFailure records a one-shot note prepended to the next user
// message, telling the assistant that speech output failed.
func (m *Manager) SetVoiceFailure(reason string) {
	m.mu.Lock()
	defer m.unlock()
	m.voiceFailure = reason
}
