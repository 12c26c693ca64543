package render

import "sync"

// Tee fans every call out to several renderers, mapping its own handles to
// each child's.
type Tee struct {
	children []Renderer

	mu      sync.Mutex
	next    Handle
	handles map[Handle][]Handle
}

func NewTee(children ...Renderer) *Tee {
	return &Tee{children: children, handles: make(map[Handle][]Handle)}
}

func (t *Tee) AppendEntry(role Role, text string) Handle {
	hs := make([]Handle, len(t.children))
	for i, c := range t.children {
		hs[i] = c.AppendEntry(role, text)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.handles[t.next] = hs
	return t.next
}

func (t *Tee) UpdateEntry(h Handle, text string) {
	for i, ch := range t.lookup(h) {
		t.children[i].UpdateEntry(ch, text)
	}
}

func (t *Tee) FinalizeEntry(h Handle, text string) {
	for i, ch := range t.lookup(h) {
		t.children[i].FinalizeEntry(ch, text)
	}
}

func (t *Tee) RemoveEntry(h Handle) {
	hs := t.lookup(h)
	t.mu.Lock()
	delete(t.handles, h)
	t.mu.Unlock()
	for i, ch := range hs {
		t.children[i].RemoveEntry(ch)
	}
}

func (t *Tee) Notify(message string) {
	for _, c := range t.children {
		c.Notify(message)
	}
}

func (t *Tee) lookup(h Handle) []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handles[h]
}
