package voice

import (
	"regexp"
	"strings"
)

type correction struct {
	re   *regexp.Regexp
	with string
}

// Multi-word corrections run before the single-word ones they contain.
var speechCorrections = []correction{
	{regexp.MustCompile(`(?i)\broads\s*a\s*g\s*i\b`), "Rhodes AGI"},
	{regexp.MustCompile(`(?i)\broads\s*agi\b`), "Rhodes AGI"},
	{regexp.MustCompile(`(?i)\broads\s*ai\b`), "Rhodes AGI"},
	{regexp.MustCompile(`(?i)\btu[dt]or\s*mayonnaise\b`), "tutor me on it"},
	{regexp.MustCompile(`(?i)\btutor\s*me\s*on\s*is\b`), "tutor me on it"},
	{regexp.MustCompile(`(?i)\broads?\b`), "Rhodes"},
	{regexp.MustCompile(`(?i)\brhoads?\b`), "Rhodes"},
	{regexp.MustCompile(`(?i)\b(rose|robes|rogues)\b`), "Rhodes"},
}

// Phrases recognizers invent from silence or background noise.
var hallucinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)learn\s+english\s+(for\s+)?free\s+www\.engvid\.com`),
	regexp.MustCompile(`(?i)www\.[a-z]+\.(com|org|net)`),
	regexp.MustCompile(`(?i)https?://`),
	regexp.MustCompile(`(?i)subscribe\s+(to|for)\s+(my|our|the)\s+channel`),
	regexp.MustCompile(`(?i)click\s+(the\s+)?subscribe`),
	regexp.MustCompile(`(?i)like\s+and\s+subscribe`),
	regexp.MustCompile(`(?i)thank\s+you\s+for\s+watching`),
	regexp.MustCompile(`(?i)please\s+subscribe`),
	regexp.MustCompile(`(?i)transcribe.*exactly.*said`),
	regexp.MustCompile(`^[\s\d.]+$`),
}

var (
	fillerOnlyPattern    = regexp.MustCompile(`(?i)^(uh+m*|um+|er+m*|ah+|hmm+|the|a|an|i|is|it|so|and|but|like|well|you know)$`)
	misheardWordPattern  = regexp.MustCompile(`(?i)^(you|do|to|go|no|so|we|he|she|me|be|the|a|i|oh|ah)$`)
	continueKeywordTail  = regexp.MustCompile(`(?i)\bwait\.?\s*$`)
	finishKeywordTail    = regexp.MustCompile(`(?i)\bover\.?\s*$`)
	hesitationTailSearch = regexp.MustCompile(`(?i)\b(uh+m*|um+|er+m*|ah+|hmm+|like|so|well|you know)\b`)
)

// CorrectSpeech fixes words recognizers reliably get wrong.
func CorrectSpeech(text string) string {
	for _, c := range speechCorrections {
		text = c.re.ReplaceAllString(text, c.with)
	}
	return text
}

func IsHallucination(text string) bool {
	for _, re := range hallucinationPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// CleanTranscript applies corrections and returns "" for hallucinations.
func CleanTranscript(text string) string {
	text = strings.TrimSpace(CorrectSpeech(text))
	if text == "" || IsHallucination(text) {
		return ""
	}
	return text
}

// IsFillerOnly reports text that is a lone hesitation or function word.
func IsFillerOnly(text string) bool {
	return fillerOnlyPattern.MatchString(strings.TrimSpace(text))
}

// IsMisheardWord reports single short words a recognizer often produces
// for foreign speech.
func IsMisheardWord(text string) bool {
	return misheardWordPattern.MatchString(strings.TrimSpace(text))
}

// Keyword is a spoken control word at the end of an utterance.
type Keyword int

const (
	KeywordNone Keyword = iota
	// KeywordContinue ("wait") asks for a long pause before submitting.
	KeywordContinue
	// KeywordFinish ("over") submits immediately.
	KeywordFinish
)

// TrailingKeyword detects a control word and returns the text without it.
func TrailingKeyword(text string) (Keyword, string) {
	switch {
	case continueKeywordTail.MatchString(text):
		return KeywordContinue, strings.TrimSpace(continueKeywordTail.ReplaceAllString(text, ""))
	case finishKeywordTail.MatchString(text):
		return KeywordFinish, strings.TrimSpace(finishKeywordTail.ReplaceAllString(text, ""))
	}
	return KeywordNone, text
}

// EndsWithHesitation reports a filler in the last twenty characters.
func EndsWithHesitation(text string) bool {
	if r := []rune(text); len(r) > 20 {
		text = string(r[len(r)-20:])
	}
	return hesitationTailSearch.MatchString(text)
}
