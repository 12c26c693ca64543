package dispatch

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/rhodes-client/internal/protocol"
	"github.com/ent0n29/rhodes-client/internal/render"
	"github.com/ent0n29/rhodes-client/internal/session"
	"github.com/ent0n29/rhodes-client/internal/store"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingHost struct {
	auth     []protocol.AuthResponse
	lists    []protocol.SessionListResponse
	signedIn int
}

func (h *recordingHost) HandleAuthResponse(r protocol.AuthResponse)       { h.auth = append(h.auth, r) }
func (h *recordingHost) HandleSessionList(r protocol.SessionListResponse) { h.lists = append(h.lists, r) }
func (h *recordingHost) SignedIn()                                        { h.signedIn++ }

type harness struct {
	d        *Dispatcher
	sess     *session.Manager
	tr       *render.Transcript
	clk      *clock
	host     *recordingHost
	mu       sync.Mutex
	spoken   []string
	persists map[string]string
	limits   int
}

func newHarness(t *testing.T, seed session.Seed) *harness {
	t.Helper()
	h := &harness{
		sess:     session.NewManager(seed),
		tr:       render.NewTranscript(),
		clk:      &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		host:     &recordingHost{},
		persists: make(map[string]string),
	}
	h.d = New(Options{
		Session:  h.sess,
		Renderer: h.tr,
		Host:     h.host,
		Now:      h.clk.Now,
		Hooks: Hooks{
			Reply: func(text string) {
				h.mu.Lock()
				defer h.mu.Unlock()
				h.spoken = append(h.spoken, text)
			},
			GuestLimit: func() { h.limits++ },
			Persist:    func(k, v string) { h.persists[k] = v },
		},
	})
	return h
}

func (h *harness) raw(t *testing.T, msgType string, payload any) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"msg_type": msgType, "msg_id": "m", "payload": payload})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	h.d.DispatchRaw(body)
}

func texts(entries []render.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

func TestStreamingThenFinalYieldsOneEntry(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.sess.StartRequest("X")
	h.d.BeginTurn()

	for _, c := range []string{"Hel", "lo wo", "rld"} {
		h.d.Dispatch(protocol.Chunk{ReqID: "X", Content: c})
		h.clk.advance(10 * time.Millisecond)
	}
	ai := h.tr.EntriesByRole(render.RoleAI)
	if len(ai) != 1 || ai[0].Text != "Hello world" {
		t.Fatalf("streaming entries = %v, want [Hello world]", texts(ai))
	}
	streamHandle := ai[0].Handle

	h.d.Dispatch(protocol.Final{ReqID: "X", Content: "Hello world!"})

	ai = h.tr.EntriesByRole(render.RoleAI)
	if len(ai) != 1 || ai[0].Text != "Hello world!" {
		t.Fatalf("entries after final = %v, want [Hello world!]", texts(ai))
	}
	if ai[0].Handle == streamHandle {
		t.Fatalf("final edited the streaming entry in place")
	}
	if e, _ := h.tr.Entry(streamHandle); !e.Removed {
		t.Fatalf("streaming entry not removed")
	}
	if h.d.StreamActive() {
		t.Fatalf("StreamActive() = true after final")
	}
	if len(h.spoken) != 1 || h.spoken[0] != "Hello world!" {
		t.Fatalf("spoken = %v", h.spoken)
	}
	if h.sess.Snapshot().PendingGeneration {
		t.Fatalf("PendingGeneration still set after final")
	}
}

func TestDuplicateFinalsWithinWindow(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.d.Dispatch(protocol.Final{Content: "same answer"})
	h.clk.advance(500 * time.Millisecond)
	h.d.Dispatch(protocol.Final{Content: "same answer"})
	if got := len(h.tr.EntriesByRole(render.RoleAI)); got != 1 {
		t.Fatalf("entries within window = %d, want 1", got)
	}
	h.clk.advance(3 * time.Second)
	h.d.Dispatch(protocol.Final{Content: "same answer"})
	if got := len(h.tr.EntriesByRole(render.RoleAI)); got != 2 {
		t.Fatalf("entries after window = %d, want 2", got)
	}
}

func TestToolEventsUpdateInPlace(t *testing.T) {
	h := newHarness(t, session.Seed{UserToken: "user-token-123456"})
	args := map[string]any{"command": "ls -la"}
	h.d.Dispatch(protocol.ToolCall{Name: "Bash", Round: 1, Status: "running", Arguments: args})
	h.clk.advance(1200 * time.Millisecond)
	h.d.Dispatch(protocol.ToolCall{Name: "Bash", Round: 1, Status: "complete", Arguments: args, Result: json.RawMessage(`"total 0"`)})

	tools := h.tr.EntriesByRole(render.RoleTool)
	if len(tools) != 1 {
		t.Fatalf("tool entries = %v, want 1", texts(tools))
	}
	want := "● Bash: ls -la (1.2s)\n  -> total 0"
	if tools[0].Text != want {
		t.Fatalf("tool text = %q, want %q", tools[0].Text, want)
	}
}

func TestToolDuplicateStatusSuppressed(t *testing.T) {
	h := newHarness(t, session.Seed{})
	ev := protocol.ToolCall{Name: "web_fetch", Round: 2, Status: "running", Arguments: map[string]any{"url": "https://example.com"}}
	h.d.Dispatch(ev)
	h.d.Dispatch(ev)
	tools := h.tr.EntriesByRole(render.RoleTool)
	if len(tools) != 1 || tools[0].Updates != 0 {
		t.Fatalf("tools = %+v, want a single untouched entry", tools)
	}
}

func TestCollapseDetachesCompletedTools(t *testing.T) {
	h := newHarness(t, session.Seed{})
	ev := protocol.ToolCall{Name: "read", Round: 1, Status: "complete", Arguments: map[string]any{"path": "/a"}}
	h.d.Dispatch(ev)
	h.d.Dispatch(protocol.Final{Content: "done"})
	h.clk.advance(3 * time.Second)
	h.d.Dispatch(ev)
	tools := h.tr.EntriesByRole(render.RoleTool)
	if len(tools) != 2 || !tools[0].Final {
		t.Fatalf("tools = %+v, want finalized first entry and a new second entry", tools)
	}
}

func TestPrivilegedToolFilter(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.d.Dispatch(protocol.ToolCall{Name: "think", Status: "complete", Arguments: map[string]any{"thought": "hmm"}})
	h.d.Dispatch(protocol.ToolCall{Name: "claude_search", Status: "complete"})
	if got := len(h.tr.EntriesByRole(render.RoleTool)); got != 0 {
		t.Fatalf("guest saw %d hidden tools", got)
	}

	p := newHarness(t, session.Seed{UserToken: "user-token-123456"})
	p.d.Dispatch(protocol.ToolCall{Name: "think", Status: "complete", Arguments: map[string]any{"thought": "hmm"}})
	tools := p.tr.EntriesByRole(render.RoleTool)
	if len(tools) != 1 || !strings.HasPrefix(tools[0].Text, "● think: hmm...") {
		t.Fatalf("privileged tools = %v", texts(tools))
	}
}

func TestConversationalToolRendersAsMessage(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.d.Dispatch(protocol.ToolCall{Name: "respond", Status: "running", Arguments: map[string]any{"response": "hi"}})
	h.d.Dispatch(protocol.ToolCall{Name: "message", Status: "complete", Result: json.RawMessage(`"{\"message\":\"working on it\"}"`)})
	h.d.Dispatch(protocol.ToolCall{Name: "respond", Status: "complete", Arguments: map[string]any{"response": "all done"}})

	if got := len(h.tr.EntriesByRole(render.RoleTool)); got != 0 {
		t.Fatalf("conversational tools rendered as progress: %d", got)
	}
	ai := texts(h.tr.EntriesByRole(render.RoleAI))
	if len(ai) != 2 || ai[0] != "working on it" || ai[1] != "all done" {
		t.Fatalf("ai entries = %v", ai)
	}
}

func TestInterruptedTurnDropsStaleEvents(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.sess.StartRequest("X")
	h.d.BeginTurn()
	h.sess.Interrupt()

	h.d.Dispatch(protocol.Chunk{ReqID: "X", Content: "late"})
	h.d.Dispatch(protocol.ToolCall{ReqID: "X", Name: "Bash", Status: "running", Arguments: map[string]any{"command": "sleep"}})
	h.d.Dispatch(protocol.Final{ReqID: "X", Content: "late final"})
	if n := len(h.tr.Entries()); n != 0 {
		t.Fatalf("stale events rendered %d entries", n)
	}

	h.sess.StartRequest("Y")
	h.d.BeginTurn()
	h.d.Dispatch(protocol.Chunk{ReqID: "Y", Content: "fresh"})
	h.d.Dispatch(protocol.Final{ReqID: "X", Content: "very late final"})
	if !h.d.StreamActive() {
		t.Fatalf("stale final removed the live stream")
	}
	h.d.Dispatch(protocol.Final{ReqID: "Y", Content: "fresh reply"})
	ai := texts(h.tr.EntriesByRole(render.RoleAI))
	if len(ai) != 1 || ai[0] != "fresh reply" {
		t.Fatalf("ai entries = %v, want [fresh reply]", ai)
	}
}

func TestChunkFiltersAndDedup(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.d.Dispatch(protocol.Chunk{Content: "[RETRACTION] ignore"})
	if h.d.StreamActive() {
		t.Fatalf("filtered chunk opened a stream")
	}
	h.d.Dispatch(protocol.Chunk{Content: "abc"})
	h.d.Dispatch(protocol.Chunk{Content: "abc"})
	h.clk.advance(200 * time.Millisecond)
	h.d.Dispatch(protocol.Chunk{Content: "abc"})
	ai := h.tr.EntriesByRole(render.RoleAI)
	if len(ai) != 1 || ai[0].Text != "abcabc" {
		t.Fatalf("stream = %v, want [abcabc]", texts(ai))
	}
}

func TestFinalStripsMarkersAndConsumesGuestQuota(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.sess.ApplyAuth(session.AuthResult{IsGuest: true, GuestRemaining: 3})
	h.d.Dispatch(protocol.Final{Content: `Here you go [DOWNLOAD_OFFER:{"filename":"a.zip"}]`})
	ai := texts(h.tr.EntriesByRole(render.RoleAI))
	if len(ai) != 1 || ai[0] != "Here you go" {
		t.Fatalf("ai = %v", ai)
	}
	if n := h.tr.Notices(); len(n) != 1 || n[0] != "Download available: a.zip" {
		t.Fatalf("notices = %v", n)
	}
	if got := h.sess.Snapshot().GuestRemaining; got != 2 {
		t.Fatalf("GuestRemaining = %d, want 2", got)
	}
}

func TestInvalidateStreamKeepsPartial(t *testing.T) {
	h := newHarness(t, session.Seed{})
	if h.d.InvalidateStream() {
		t.Fatalf("InvalidateStream() = true with no stream")
	}
	h.d.Dispatch(protocol.Chunk{Content: "partial"})
	if !h.d.InvalidateStream() {
		t.Fatalf("InvalidateStream() = false with a stream")
	}
	ai := h.tr.EntriesByRole(render.RoleAI)
	if len(ai) != 1 || !ai[0].Final || ai[0].Text != "partial" {
		t.Fatalf("ai = %+v", ai)
	}
}

func TestRenderBacklogSkipsToolsAndMasks(t *testing.T) {
	h := newHarness(t, session.Seed{})
	n := h.d.RenderBacklog([]protocol.ConversationMessage{
		{Role: "user", Content: "my password: hunter2"},
		{Role: "tool", Content: "{}"},
		{Role: "assistant", Content: "  "},
		{Role: "assistant", Content: "hello"},
	})
	if n != 2 {
		t.Fatalf("RenderBacklog() = %d, want 2", n)
	}
	all := h.tr.Entries()
	if strings.Contains(all[0].Text, "hunter2") {
		t.Fatalf("backlog user text not masked: %q", all[0].Text)
	}
	if len(h.spoken) != 0 {
		t.Fatalf("backlog was spoken: %v", h.spoken)
	}
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.d.DispatchRaw([]byte(`{not json`))
	h.d.DispatchRaw([]byte(`{"msg_type":"ai_message","payload":"nope"}`))
	h.raw(t, "brand_new_type", map[string]any{"x": 1})
	if n := len(h.tr.Entries()); n != 0 {
		t.Fatalf("entries = %d, want 0", n)
	}
}

func TestHostReceivesAuthAndSessionList(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.raw(t, "auth_response", map[string]any{"success": true, "rhodes_id": "s1"})
	h.raw(t, "session_list_response", map[string]any{"success": true, "sessions": []any{}})
	if len(h.host.auth) != 1 || h.host.auth[0].SessionID != "s1" || len(h.host.lists) != 1 {
		t.Fatalf("host got auth=%v lists=%v", h.host.auth, h.host.lists)
	}
}

func TestSessionResponses(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.raw(t, "session_resume_response", map[string]any{
		"success":       true,
		"session_id":    "sess_9",
		"message_count": 1,
		"model":         "opus",
		"conversation":  []any{map[string]any{"role": "assistant", "content": "earlier"}},
	})
	ai := texts(h.tr.EntriesByRole(render.RoleAI))
	if len(ai) != 2 || ai[1] != "Session sess_9 resumed. 1 messages loaded. (ALPHA mode)" {
		t.Fatalf("ai = %v", ai)
	}
	if h.persists[store.KeySessionID] != "sess_9" || h.sess.Snapshot().SessionID != "sess_9" {
		t.Fatalf("session id not adopted: %v", h.persists)
	}

	h.raw(t, "session_rotated", map[string]any{"new_session_id": "split-abc"})
	if h.sess.Snapshot().SessionID != "sess_9" {
		t.Fatalf("split- session id adopted")
	}

	h.raw(t, "login_response", map[string]any{"success": true, "token": "tok-abcdefghijk", "username": "Ada", "session_id": "user_1"})
	snap := h.sess.Snapshot()
	if snap.UserToken != "tok-abcdefghijk" || snap.Username != "ada" || snap.SessionID != "user_1" {
		t.Fatalf("after login snapshot = %+v", snap)
	}
	if h.persists[store.KeyUserToken] != "tok-abcdefghijk" || h.persists[store.KeyUsername] != "ada" {
		t.Fatalf("persists = %v", h.persists)
	}
	if h.host.signedIn != 1 {
		t.Fatalf("SignedIn calls = %d, want 1", h.host.signedIn)
	}

	h.raw(t, "login_response", map[string]any{"success": false, "error": "bad password"})
	if h.host.signedIn != 1 {
		t.Fatalf("SignedIn calls = %d after failed login, want 1", h.host.signedIn)
	}
}

func TestGuestLimitRunsHook(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.raw(t, "guest_status", map[string]any{"limit_reached": true, "messages_remaining": 0})
	if h.limits != 1 {
		t.Fatalf("GuestLimit hook calls = %d, want 1", h.limits)
	}
	if n := h.tr.Notices(); len(n) != 1 {
		t.Fatalf("notices = %v", n)
	}
}

func TestRoomFlow(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.raw(t, "room_join_response", map[string]any{
		"success":  true,
		"room_id":  "r1",
		"members":  []any{map[string]any{"username": "ada"}, map[string]any{"username": "bob"}},
		"messages": []any{map[string]any{"msg_id": "1", "role": "user", "username": "ada", "content": "hi"}},
	})
	if h.sess.Room() != "r1" {
		t.Fatalf("Room() = %q, want r1", h.sess.Room())
	}
	h.d.Dispatch(protocol.RoomMessage{MsgID: "1", RoomID: "r1", Username: "ada", Content: "hi"})
	h.d.Dispatch(protocol.RoomMessage{MsgID: "2", RoomID: "r1", Username: "bob", Content: "yo"})
	h.d.Dispatch(protocol.RoomMessage{MsgID: "3", RoomID: "r2", Username: "eve", Content: "elsewhere"})
	h.d.Dispatch(protocol.Final{RoomID: "r1", Speaker: "Rhodes", Content: "hello room"})

	want := []string{"Joined room r1 (members: ada, bob)", "ada: hi", "bob: yo", "Rhodes: hello room"}
	got := texts(h.tr.Entries())
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("entries = %v, want %v", got, want)
	}

	h.raw(t, "room_leave_response", map[string]any{"success": true})
	if h.sess.Room() != "" {
		t.Fatalf("Room() = %q after leave", h.sess.Room())
	}
}

func TestUserSyncFromOtherTabOnly(t *testing.T) {
	h := newHarness(t, session.Seed{TabID: "tab_me"})
	h.raw(t, "user_message", map[string]any{"sync": true, "origin_tab_id": "tab_me", "content": "mine"})
	h.raw(t, "user_message", map[string]any{"sync": true, "origin_tab_id": "tab_other", "content": "theirs"})
	got := texts(h.tr.EntriesByRole(render.RoleUser))
	if len(got) != 1 || got[0] != "theirs" {
		t.Fatalf("user entries = %v", got)
	}
}

func TestReasoningIsAdminOnly(t *testing.T) {
	h := newHarness(t, session.Seed{})
	h.d.Dispatch(protocol.ReasoningChunk{Content: "secret"})
	if n := len(h.tr.Entries()); n != 0 {
		t.Fatalf("non-admin saw reasoning")
	}
	h.sess.ApplyAuth(session.AuthResult{IsAdmin: true, Username: "root"})
	h.d.Dispatch(protocol.ReasoningChunk{Content: "step 1 "})
	h.d.Dispatch(protocol.ReasoningChunk{Content: "step 2"})
	h.d.Dispatch(protocol.Chunk{Content: "answer"})
	r := h.tr.EntriesByRole(render.RoleReasoning)
	if len(r) != 1 || r[0].Text != "step 1 step 2" || !r[0].Final {
		t.Fatalf("reasoning = %+v", r)
	}
}
