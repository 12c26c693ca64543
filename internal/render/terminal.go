package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Terminal renders entries as styled lines on a writer. Streaming updates
// are written as deltas when the new text extends what is already on
// screen; a delta is held back while it would split a code span. With
// Erase set, the most recent entry can be redrawn or removed in place
// using ANSI cursor movement. Without it a removed entry is marked as
// withdrawn instead.
type Terminal struct {
	mu    sync.Mutex
	w     io.Writer
	erase bool

	next    Handle
	printed map[Handle]string
	shown   map[Handle]int
	lines   map[Handle]int
	roles   map[Handle]Role
	last    Handle
	open    bool

	labels map[Role]lipgloss.Style
	body   map[Role]lipgloss.Style
	code   lipgloss.Style
	notice lipgloss.Style
}

func NewTerminal(w io.Writer, erase bool) *Terminal {
	r := lipgloss.NewRenderer(w)
	return &Terminal{
		w:       w,
		erase:   erase,
		printed: make(map[Handle]string),
		shown:   make(map[Handle]int),
		lines:   make(map[Handle]int),
		roles:   make(map[Handle]Role),
		labels: map[Role]lipgloss.Style{
			RoleUser:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
			RoleAI:        r.NewStyle().Bold(true).Foreground(lipgloss.Color("213")),
			RoleTool:      r.NewStyle().Foreground(lipgloss.Color("214")),
			RoleReasoning: r.NewStyle().Italic(true).Foreground(lipgloss.Color("244")),
			RoleSystem:    r.NewStyle().Foreground(lipgloss.Color("203")),
		},
		body: map[Role]lipgloss.Style{
			RoleReasoning: r.NewStyle().Faint(true),
			RoleTool:      r.NewStyle().Faint(true),
		},
		code:   r.NewStyle().Foreground(lipgloss.Color("150")),
		notice: r.NewStyle().Faint(true).Italic(true),
	}
}

func labelFor(role Role) string {
	switch role {
	case RoleUser:
		return "you"
	case RoleAI:
		return "rhodes"
	case RoleTool:
		return "tool"
	case RoleReasoning:
		return "thinking"
	default:
		return "system"
	}
}

func (t *Terminal) AppendEntry(role Role, text string) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	t.closeOpenLocked()
	label := t.labels[role].Render(labelFor(role) + ">")
	t.writeLocked(label + " ")
	t.lines[h] = 0
	t.roles[h] = role
	t.printBodyLocked(h, role, text, false)
	t.last = h
	t.open = true
	return h
}

func (t *Terminal) UpdateEntry(h Handle, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.redrawLocked(h, text, false)
}

func (t *Terminal) FinalizeEntry(h Handle, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.redrawLocked(h, text, true)
	t.forgetLocked(h)
}

func (t *Terminal) RemoveEntry(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.printed[h]; !ok {
		return
	}
	switch {
	case t.erase && h == t.last:
		t.eraseLocked(h)
		t.open = false
	default:
		t.closeOpenLocked()
		t.writeLocked(t.notice.Render("· "+labelFor(t.roles[h])+" draft withdrawn") + "\n")
		t.last = 0
	}
	t.forgetLocked(h)
}

func (t *Terminal) forgetLocked(h Handle) {
	delete(t.printed, h)
	delete(t.shown, h)
	delete(t.lines, h)
	delete(t.roles, h)
}

func (t *Terminal) Notify(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeOpenLocked()
	t.writeLocked(t.notice.Render("· "+message) + "\n")
	t.last = 0
}

func (t *Terminal) redrawLocked(h Handle, text string, final bool) {
	prev, ok := t.printed[h]
	if !ok {
		return
	}
	role := t.roles[h]
	switch {
	case h == t.last && t.open && strings.HasPrefix(text, prev):
		t.printBodyLocked(h, role, text, final)
	case h == t.last && t.erase:
		t.eraseLocked(h)
		t.writeLocked(t.labels[role].Render(labelFor(role)+">") + " ")
		t.printBodyLocked(h, role, text, final)
	default:
		t.closeOpenLocked()
		t.writeLocked(t.labels[role].Render(labelFor(role)+"~") + " ")
		t.lines[h] = 0
		t.shown[h] = 0
		t.printBodyLocked(h, role, text, final)
		t.last = h
	}
	t.open = true
	if final {
		t.closeOpenLocked()
	}
}

// printBodyLocked writes the part of text past what is already shown. Unless
// final, it stops short of an unterminated code span.
func (t *Terminal) printBodyLocked(h Handle, role Role, text string, final bool) {
	rest := text[t.shown[h]:]
	if !final {
		rest = rest[:closedPrefix(rest)]
	}
	t.printed[h] = text
	if rest == "" {
		return
	}
	style, styled := t.body[role]
	var b strings.Builder
	for _, seg := range FormatInline(rest) {
		switch {
		case seg.Block:
			b.WriteString("\n")
			b.WriteString(t.code.Render(seg.Text))
			b.WriteString("\n")
		case seg.Code:
			b.WriteString(t.code.Render(seg.Text))
		case styled:
			b.WriteString(style.Render(seg.Text))
		default:
			b.WriteString(seg.Text)
		}
	}
	out := b.String()
	t.writeLocked(out)
	t.lines[h] += strings.Count(out, "\n")
	t.shown[h] += len(rest)
}

// closedPrefix returns the length of the longest prefix of s that ends
// outside any backtick span.
func closedPrefix(s string) int {
	cut, open := 0, false
	for i := 0; i < len(s); i++ {
		if s[i] != '`' {
			if !open {
				cut = i + 1
			}
			continue
		}
		if i+1 < len(s) && s[i+1] == '`' {
			continue
		}
		open = !open
		if !open {
			cut = i + 1
		}
	}
	return cut
}

// closeOpenLocked ends the open entry, writing out any text held back.
func (t *Terminal) closeOpenLocked() {
	if !t.open {
		return
	}
	if text, ok := t.printed[t.last]; ok && t.shown[t.last] < len(text) {
		t.printBodyLocked(t.last, t.roles[t.last], text, true)
	}
	t.writeLocked("\n")
	t.open = false
}

func (t *Terminal) eraseLocked(h Handle) {
	// Return to column 0 of the entry's first line and clear to screen end.
	n := t.lines[h]
	if n > 0 {
		t.writeLocked(fmt.Sprintf("\x1b[%dF", n))
	} else {
		t.writeLocked("\r")
	}
	t.writeLocked("\x1b[J")
	t.lines[h] = 0
	t.shown[h] = 0
}

func (t *Terminal) writeLocked(s string) {
	_, _ = io.WriteString(t.w, s)
}
