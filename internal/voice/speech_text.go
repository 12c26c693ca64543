package voice

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxSpeechRunes caps how much of a reply is read aloud.
const MaxSpeechRunes = 500

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechDownloadPattern     = regexp.MustCompile(`\[DOWNLOAD:[^\]]+\]`)
	speechMarkdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	speechBracketPattern      = regexp.MustCompile(`\[[^\]]*\]`)
	speechHeaderPattern       = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	speechStopNewlinePattern  = regexp.MustCompile(`([.!?:;])\s*\n+\s*`)
	speechNewlinesPattern     = regexp.MustCompile(`\s*\n+\s*`)
	speechSpacePunctPattern   = regexp.MustCompile(`\s+([.,!?;:])`)
)

// SpeechText turns a reply into text worth speaking: code, links, markers
// and markdown are removed, line breaks become sentence breaks, and the
// result is capped at MaxSpeechRunes.
func SpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechDownloadPattern.ReplaceAllString(raw, "Download available")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechBracketPattern.ReplaceAllString(raw, "")
	raw = speechURLPattern.ReplaceAllString(raw, " ")
	raw = speechHeaderPattern.ReplaceAllString(raw, "")
	raw = speechStopNewlinePattern.ReplaceAllString(strings.TrimSpace(raw), "$1 ")
	raw = speechNewlinesPattern.ReplaceAllString(raw, ". ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"/", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// emoji and symbols
			continue
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	out := speechSpacePunctPattern.ReplaceAllString(strings.TrimSpace(b.String()), "$1")
	out = strings.TrimLeft(out, ". ")
	if utf8.RuneCountInString(out) > MaxSpeechRunes {
		out = string([]rune(out)[:MaxSpeechRunes]) + "..."
	}
	return out
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}
