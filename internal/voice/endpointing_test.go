package voice

import (
	"testing"
	"time"
)

func TestEndpointHint(t *testing.T) {
	e := DefaultEndpointing()
	cases := []struct {
		partial   string
		reason    string
		text      string
		hold      time.Duration
		immediate bool
		unchecked bool
	}{
		{"what time is it", "neutral", "what time is it", 1200 * time.Millisecond, false, false},
		{"I was thinking um", "hesitation", "I was thinking um", 2500 * time.Millisecond, false, false},
		{"it is kind of like", "hesitation", "it is kind of like", 2500 * time.Millisecond, false, false},
		{"book a table for two and", "continuation", "book a table for two and", 2500 * time.Millisecond, false, false},
		{"we need milk, eggs,", "continuation", "we need milk, eggs,", 2500 * time.Millisecond, false, false},
		{"there are reasons, for example", "continuation", "there are reasons, for example", 2500 * time.Millisecond, false, false},
		{"send the report over", "finish", "send the report", 0, true, false},
		{"Call mom. Over.", "finish", "Call mom.", 0, true, false},
		{"hold on wait", "continue", "hold on", 20 * time.Second, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.partial, func(t *testing.T) {
			hint := e.hint(tc.partial)
			if hint.Reason != tc.reason {
				t.Fatalf("Reason = %q, want %q", hint.Reason, tc.reason)
			}
			if hint.Text != tc.text {
				t.Fatalf("Text = %q, want %q", hint.Text, tc.text)
			}
			if hint.Hold != tc.hold {
				t.Fatalf("Hold = %s, want %s", hint.Hold, tc.hold)
			}
			if hint.Immediate != tc.immediate || hint.Unchecked != tc.unchecked {
				t.Fatalf("Immediate/Unchecked = %v/%v, want %v/%v", hint.Immediate, hint.Unchecked, tc.immediate, tc.unchecked)
			}
		})
	}
}
