package render

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormatInlineSegments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Segment
	}{
		{
			name: "plain",
			in:   "hello world",
			want: []Segment{{Text: "hello world"}},
		},
		{
			name: "inline code",
			in:   "run `go test` now",
			want: []Segment{{Text: "run "}, {Text: "go test", Code: true}, {Text: " now"}},
		},
		{
			name: "fenced block",
			in:   "see\n```go\nfmt.Println(1)\n```\ndone",
			want: []Segment{{Text: "see\n"}, {Text: "fmt.Println(1)", Code: true, Block: true, Lang: "go"}, {Text: "\ndone"}},
		},
		{
			name: "unterminated fence stays plain",
			in:   "```py\nprint(",
			want: []Segment{{Text: "```py\nprint("}},
		},
		{
			name: "blank runs collapse",
			in:   "a\r\n\r\n\r\n\r\nb",
			want: []Segment{{Text: "a\n\nb"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FormatInline(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("FormatInline(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("segment %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestTranscriptLifecycle(t *testing.T) {
	tr := NewTranscript()
	u := tr.AppendEntry(RoleUser, "hi")
	a := tr.AppendEntry(RoleAI, "Hel")
	tr.UpdateEntry(a, "Hello")
	tr.FinalizeEntry(a, "Hello!")
	s := tr.AppendEntry(RoleAI, "stream")
	tr.RemoveEntry(s)
	tr.Notify("Interrupted")

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(Entries()) = %d, want 2", len(entries))
	}
	if entries[0].Handle != u || entries[1].Text != "Hello!" || !entries[1].Final {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[1].Updates != 1 {
		t.Fatalf("Updates = %d, want 1", entries[1].Updates)
	}
	if e, ok := tr.Entry(s); !ok || !e.Removed {
		t.Fatalf("Entry(removed) = %+v, %v", e, ok)
	}
	if got := tr.Notices(); len(got) != 1 || got[0] != "Interrupted" {
		t.Fatalf("Notices() = %v", got)
	}
	// Unknown handles are ignored.
	tr.UpdateEntry(999, "x")
	tr.RemoveEntry(999)
}

func TestTeeMapsHandles(t *testing.T) {
	a := NewTranscript()
	b := NewTranscript()
	b.AppendEntry(RoleSystem, "offset")
	tee := NewTee(a, b)

	h := tee.AppendEntry(RoleAI, "x")
	tee.UpdateEntry(h, "xy")
	tee.FinalizeEntry(h, "xyz")
	tee.Notify("n")

	if got := a.EntriesByRole(RoleAI); len(got) != 1 || got[0].Text != "xyz" {
		t.Fatalf("a entries = %+v", got)
	}
	if got := b.EntriesByRole(RoleAI); len(got) != 1 || got[0].Text != "xyz" || !got[0].Final {
		t.Fatalf("b entries = %+v", got)
	}

	r := tee.AppendEntry(RoleAI, "gone")
	tee.RemoveEntry(r)
	if len(a.EntriesByRole(RoleAI)) != 1 || len(b.EntriesByRole(RoleAI)) != 1 {
		t.Fatalf("removed entry still visible")
	}
}

func TestTerminalStreamsDeltas(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, false)
	h := term.AppendEntry(RoleAI, "Hel")
	term.UpdateEntry(h, "Hello")
	term.FinalizeEntry(h, "Hello world")
	term.Notify("done")

	out := buf.String()
	if strings.Count(out, "Hel") != 1 {
		t.Fatalf("output repeats streamed text: %q", out)
	}
	if !strings.Contains(out, "lo world") || !strings.Contains(out, "done") {
		t.Fatalf("output = %q", out)
	}
}

func TestTerminalStreamedCodeSpansAreFormatted(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, false)
	h := term.AppendEntry(RoleAI, "Run `go")
	term.UpdateEntry(h, "Run `go test` now")
	term.FinalizeEntry(h, "Run `go test` now, then `go vet")

	out := buf.String()
	if strings.Contains(out, "`go test`") {
		t.Fatalf("output = %q, want the code span formatted", out)
	}
	if strings.Count(out, "Run ") != 1 || !strings.Contains(out, "go test") {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(out, "go vet") {
		t.Fatalf("output = %q, want the unterminated tail written on finalize", out)
	}
}

func TestTerminalMarksWithdrawnDraftWithoutErase(t *testing.T) {
	tests := []struct {
		name   string
		erase  bool
		notify bool
	}{
		{name: "plain output", erase: false},
		{name: "notice in between", erase: true, notify: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			term := NewTerminal(&buf, tt.erase)
			h := term.AppendEntry(RoleAI, "draft reply")
			if tt.notify {
				term.Notify("reconnected")
			}
			term.RemoveEntry(h)
			term.AppendEntry(RoleAI, "final reply")

			out := buf.String()
			withdrawn := strings.Index(out, "draft withdrawn")
			final := strings.Index(out, "final reply")
			if withdrawn < 0 || withdrawn > final {
				t.Fatalf("output = %q, want the draft marked withdrawn before the final", out)
			}
			if strings.Contains(out, "\x1b[J") {
				t.Fatalf("output = %q, want no erase sequence", out)
			}
		})
	}
}

func TestTerminalEraseRemovesLastEntry(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, true)
	h := term.AppendEntry(RoleAI, "line one\nline two")
	term.RemoveEntry(h)
	if !strings.HasSuffix(buf.String(), "\x1b[1F\x1b[J") {
		t.Fatalf("output = %q, want cursor-up erase suffix", buf.String())
	}
}
