package protocol

import "strings"

// modelAliases maps a switch flag to the server model name.
var modelAliases = map[string]string{
	"alpha":   "rhodes-alpha-format-3",
	"beta":    "rhodes-beta-format-3",
	"ada":     "rhodes-ada-format-3",
	"delta":   "deepseek",
	"epsilon": "kimi",
	"kimi":    "kimi",
	"zeta":    "grok",
	"grok":    "grok",
}

// ModelSwitch is a parsed "/alpha rest of text" or "--alpha rest" input.
type ModelSwitch struct {
	Flag  string
	Model string
	Rest  string
}

// ParseModelSwitch recognizes a leading model flag. Rest is the remaining
// text, which is still sent as a normal message when non-empty.
func ParseModelSwitch(text string) (ModelSwitch, bool) {
	s := strings.TrimSpace(text)
	var body string
	switch {
	case strings.HasPrefix(s, "--"):
		body = s[2:]
	case strings.HasPrefix(s, "/"):
		body = s[1:]
	default:
		return ModelSwitch{}, false
	}
	flag, rest, _ := strings.Cut(body, " ")
	flag = strings.ToLower(flag)
	model, ok := modelAliases[flag]
	if !ok {
		return ModelSwitch{}, false
	}
	return ModelSwitch{Flag: flag, Model: model, Rest: strings.TrimSpace(rest)}, true
}

var personalAIPrefixes = []string{"/rhodes ", "/myrhodes ", "/myai "}

// ParseRoomText splits room input into the text to send and whether it is
// addressed to the sender's personal AI rather than the room.
func ParseRoomText(text string) (payload string, personal bool) {
	lower := strings.ToLower(text)
	for _, prefix := range personalAIPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(text[len(prefix):]), true
		}
	}
	return strings.TrimSpace(text), false
}

// IsInterruptCommand reports "/stop" or "/interrupt" and the reason to send.
func IsInterruptCommand(text string) (reason string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/stop":
		return "stop", true
	case "/interrupt":
		return "interrupt", true
	}
	return "", false
}

var modelLabels = map[string]string{
	"opus":     "ALPHA",
	"sonnet":   "BETA",
	"deepseek": "DELTA",
	"haiku":    "ADA",
	"kimi":     "EPSILON",
	"grok":     "ZETA",
}

// ModelLabel is the user-facing mode name for a server model id.
func ModelLabel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if label, ok := modelLabels[m]; ok {
		return label
	}
	for _, flag := range []string{"alpha", "beta", "ada", "delta"} {
		if strings.Contains(m, flag) {
			return strings.ToUpper(flag)
		}
	}
	return strings.ToUpper(m)
}

var languageNames = map[string]string{
	"de-DE": "German",
	"fr-FR": "French",
	"es-ES": "Spanish",
	"it-IT": "Italian",
	"ru-RU": "Russian",
	"en-US": "English",
}

// LanguageName returns a display name for a BCP 47 tag, or the tag itself.
func LanguageName(tag string) string {
	if name, ok := languageNames[tag]; ok {
		return name
	}
	return tag
}
