package render

import "sync"

// Entry is one recorded conversation entry.
type Entry struct {
	Handle  Handle `json:"handle"`
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	Final   bool   `json:"final"`
	Removed bool   `json:"-"`
	Updates int    `json:"updates"`
}

// Transcript records everything rendered. It backs the status API and is
// the renderer used in tests.
type Transcript struct {
	mu      sync.Mutex
	next    Handle
	entries []Entry
	index   map[Handle]int
	notices []string
}

func NewTranscript() *Transcript {
	return &Transcript{index: make(map[Handle]int)}
}

func (t *Transcript) AppendEntry(role Role, text string) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.index[t.next] = len(t.entries)
	t.entries = append(t.entries, Entry{Handle: t.next, Role: role, Text: text})
	return t.next
}

func (t *Transcript) UpdateEntry(h Handle, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.entryLocked(h); e != nil {
		e.Text = text
		e.Updates++
	}
}

func (t *Transcript) FinalizeEntry(h Handle, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.entryLocked(h); e != nil {
		e.Text = text
		e.Final = true
	}
}

func (t *Transcript) RemoveEntry(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.entryLocked(h); e != nil {
		e.Removed = true
	}
}

func (t *Transcript) Notify(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notices = append(t.notices, message)
}

// Entries returns the visible entries in order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if !e.Removed {
			out = append(out, e)
		}
	}
	return out
}

// EntriesByRole returns visible entries with the given role.
func (t *Transcript) EntriesByRole(role Role) []Entry {
	var out []Entry
	for _, e := range t.Entries() {
		if e.Role == role {
			out = append(out, e)
		}
	}
	return out
}

// Entry returns the entry for h, including removed ones.
func (t *Transcript) Entry(h Handle) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.entryLocked(h); e != nil {
		return *e, true
	}
	return Entry{}, false
}

func (t *Transcript) Notices() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.notices...)
}

func (t *Transcript) entryLocked(h Handle) *Entry {
	i, ok := t.index[h]
	if !ok {
		return nil
	}
	return &t.entries[i]
}
