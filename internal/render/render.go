// Package render is the boundary between the protocol engine and whatever
// presents the conversation. The engine only ever talks to a Renderer.
package render

import (
	"regexp"
	"strings"
)

// Role is who an entry belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAI        Role = "ai"
	RoleTool      Role = "tool"
	RoleReasoning Role = "reasoning"
	RoleSystem    Role = "system"
)

// Handle identifies a rendered entry. Zero is never issued.
type Handle uint64

// Renderer appends and edits conversation entries and shows transient
// notices. Implementations must be safe for concurrent use.
type Renderer interface {
	AppendEntry(role Role, text string) Handle
	UpdateEntry(h Handle, text string)
	FinalizeEntry(h Handle, text string)
	RemoveEntry(h Handle)
	Notify(message string)
}

var (
	fencePattern      = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n?(.*?)```")
	inlineCodePattern = regexp.MustCompile("`([^`\n]+)`")
	blankRunPattern   = regexp.MustCompile(`\n{3,}`)
)

// Segment is one piece of inline-formatted text.
type Segment struct {
	Text string
	Code bool
	// Block is set for fenced code; Lang is the fence language tag.
	Block bool
	Lang  string
}

// FormatInline splits text into plain, inline-code and fenced-code segments
// and normalizes line breaks. It is reapplied to the whole accumulated text
// on every streaming update; an unterminated fence stays plain until its
// closing fence arrives.
func FormatInline(text string) []Segment {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")

	var out []Segment
	last := 0
	for _, loc := range fencePattern.FindAllStringSubmatchIndex(text, -1) {
		out = appendInline(out, text[last:loc[0]])
		out = append(out, Segment{
			Text:  strings.TrimRight(text[loc[4]:loc[5]], "\n"),
			Code:  true,
			Block: true,
			Lang:  text[loc[2]:loc[3]],
		})
		last = loc[1]
	}
	return appendInline(out, text[last:])
}

func appendInline(out []Segment, text string) []Segment {
	if text == "" {
		return out
	}
	last := 0
	for _, loc := range inlineCodePattern.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > last {
			out = append(out, Segment{Text: text[last:loc[0]]})
		}
		out = append(out, Segment{Text: text[loc[2]:loc[3]], Code: true})
		last = loc[1]
	}
	if last < len(text) {
		out = append(out, Segment{Text: text[last:]})
	}
	return out
}

// PlainText joins segments back into text without markup.
func PlainText(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		if s.Block {
			b.WriteString("\n")
			b.WriteString(s.Text)
			b.WriteString("\n")
			continue
		}
		b.WriteString(s.Text)
	}
	return b.String()
}
