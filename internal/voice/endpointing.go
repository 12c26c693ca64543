package voice

import (
	"regexp"
	"strings"
	"time"
)

// Endpointing decides how long to wait after the last recognized words
// before treating an utterance as finished.
type Endpointing struct {
	Pause           time.Duration
	HesitationPause time.Duration
	ContinueWait    time.Duration
}

func DefaultEndpointing() Endpointing {
	return Endpointing{
		Pause:           1200 * time.Millisecond,
		HesitationPause: 2500 * time.Millisecond,
		ContinueWait:    20 * time.Second,
	}
}

type endpointHint struct {
	Reason string
	// Text is the utterance with any control keyword removed.
	Text string
	Hold time.Duration
	// Immediate skips the hold and every pre-submit check except dedup.
	Immediate bool
	// Unchecked skips the misheard-word and completeness checks.
	Unchecked bool
}

var (
	continuationTailRe   = regexp.MustCompile(`(?i)\b(and|but|because|then|which|that|if|when|while|as|to|for)\s*$`)
	continuationPhraseRe = regexp.MustCompile(`(?i)\b(i mean|for example|for instance|in order to)\s*$`)
	openTailRe           = regexp.MustCompile(`[,;:\-…]\s*$`)
)

func (e Endpointing) hint(partial string) endpointHint {
	keyword, text := TrailingKeyword(strings.TrimSpace(partial))
	switch keyword {
	case KeywordFinish:
		return endpointHint{Reason: "finish", Text: text, Immediate: true}
	case KeywordContinue:
		return endpointHint{Reason: "continue", Text: text, Hold: e.ContinueWait, Unchecked: true}
	}
	switch {
	case EndsWithHesitation(text):
		return endpointHint{Reason: "hesitation", Text: text, Hold: e.HesitationPause}
	case hasContinuationCue(text):
		return endpointHint{Reason: "continuation", Text: text, Hold: e.HesitationPause}
	}
	return endpointHint{Reason: "neutral", Text: text, Hold: e.Pause}
}

func hasContinuationCue(text string) bool {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return false
	}
	return openTailRe.MatchString(normalized) ||
		continuationTailRe.MatchString(normalized) ||
		continuationPhraseRe.MatchString(normalized)
}
