package dispatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ent0n29/rhodes-client/internal/dedup"
	"github.com/ent0n29/rhodes-client/internal/protocol"
	"github.com/ent0n29/rhodes-client/internal/render"
)

// Tools whose output is conversation rather than progress.
var conversationalTools = map[string]bool{
	"message":        true,
	"respond":        true,
	"offer_download": true,
}

type toolEntry struct {
	handle render.Handle
	text   string
	status string
}

func hiddenTool(name string) bool {
	return strings.Contains(name, "think") || name == "claude_search" || name == "mark_insight"
}

func (d *Dispatcher) toolLocked(t protocol.ToolCall) {
	if d.session.IsStale(t.ReqID) {
		d.dropLocked("stale", t.Type())
		return
	}
	snap := d.session.Snapshot()
	if hiddenTool(t.Name) && (snap.IsGuest || snap.UserToken == "") {
		d.dropLocked("hidden", t.Type())
		return
	}
	fp := fmt.Sprintf("tool:%s:%d:%s:%s", t.Name, t.Round, t.Status, dedup.Prefix(fingerprintSource(t), 180))
	if d.seen.Seen(fp, toolWindow) {
		d.dropLocked("duplicate", t.Type())
		return
	}
	if conversationalTools[t.Name] {
		d.conversationalToolLocked(t)
		return
	}

	preview := toolPreview(t)
	key := fmt.Sprintf("%s|%d|%s", t.Name, t.Round, dedup.Prefix(preview, 50))
	now := d.now()

	var took time.Duration
	switch t.Status {
	case "starting", "running":
		if _, ok := d.toolStart[key]; !ok {
			d.toolStart[key] = now
		}
	case "complete":
		if t.DurationMS != nil && *t.DurationMS > 0 {
			took = time.Duration(*t.DurationMS) * time.Millisecond
		} else if start, ok := d.toolStart[key]; ok {
			took = now.Sub(start)
		}
	}

	text := toolLine(t, preview, took)
	if e, ok := d.tools[key]; ok {
		e.text = text
		e.status = t.Status
		d.renderer.UpdateEntry(e.handle, text)
		return
	}
	d.tools[key] = &toolEntry{
		handle: d.renderer.AppendEntry(render.RoleTool, text),
		text:   text,
		status: t.Status,
	}
}

func (d *Dispatcher) conversationalToolLocked(t protocol.ToolCall) {
	if t.Status != "complete" {
		return
	}
	text := conversationalText(t)
	if text == "" {
		return
	}
	if d.seen.Seen("toolmsg:"+dedup.Prefix(text, 240), toolWindow) {
		d.dropLocked("duplicate", t.Type())
		return
	}
	d.collapseToolsLocked()
	if t.Name == "offer_download" {
		raw, _ := json.Marshal(t.Arguments)
		d.renderer.Notify(offerNotice("Download available", string(raw)))
		return
	}
	d.appendAILocked(text)
}

// collapseToolsLocked finalizes completed tool entries and detaches them,
// so a later event with the same key starts a new entry. Running entries
// stay attached and keep updating in place.
func (d *Dispatcher) collapseToolsLocked() {
	for key, e := range d.tools {
		if e.status != "complete" {
			continue
		}
		d.renderer.FinalizeEntry(e.handle, e.text)
		delete(d.tools, key)
		delete(d.toolStart, key)
	}
}

func toolLine(t protocol.ToolCall, preview string, took time.Duration) string {
	indicator := "○"
	if t.Status == "complete" {
		indicator = "●"
	}
	var b strings.Builder
	b.WriteString(indicator)
	b.WriteString(" ")
	b.WriteString(t.Name)
	if preview != "" {
		short := preview
		if len([]rune(short)) > 40 {
			short = dedup.Prefix(short, 40) + "..."
		}
		b.WriteString(": ")
		b.WriteString(short)
	}
	if took > 0 {
		b.WriteString(" (")
		b.WriteString(formatDuration(took))
		b.WriteString(")")
	}
	if t.Status == "complete" {
		if result := firstLine(t.ResultText()); result != "" {
			b.WriteString("\n  -> ")
			b.WriteString(dedup.Prefix(result, 120))
		}
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// toolPreview is the short description shown next to the tool name.
func toolPreview(t protocol.ToolCall) string {
	args := t.Arguments
	if thought := argString(args, "thought"); strings.Contains(t.Name, "think") && thought != "" {
		return strings.ReplaceAll(dedup.Prefix(thought, 80), "\n", " ") + "..."
	}
	if cmd := argString(args, "command"); cmd != "" {
		return dedup.Prefix(cmd, 60)
	}
	path := argString(args, "file_path")
	if path == "" {
		path = argString(args, "path")
	}
	if path != "" {
		return path
	}
	if u := argString(args, "url"); u != "" {
		return u
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 3 {
		keys = keys[:3]
	}
	return strings.Join(keys, ", ")
}

// fingerprintSource picks the argument that best identifies one tool
// invocation for duplicate suppression.
func fingerprintSource(t protocol.ToolCall) string {
	for _, key := range []string{"command", "path", "thought"} {
		if v := argString(t.Arguments, key); v != "" {
			return v
		}
	}
	if s, ok := resultString(t); ok && s != "" {
		return s
	}
	raw, _ := json.Marshal(t.Arguments)
	return dedup.Prefix(string(raw), 200)
}

// resultString returns the result when it was sent as a JSON string.
func resultString(t protocol.ToolCall) (string, bool) {
	if len(t.Result) == 0 || t.Result[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(t.Result, &s); err != nil {
		return "", false
	}
	return s, true
}

// conversationalText extracts the message a conversational tool carries:
// the result's message/response field, the raw result string, or the
// arguments' message/response.
func conversationalText(t protocol.ToolCall) string {
	var text string
	var obj map[string]any
	if s, ok := resultString(t); ok {
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			obj = nil
			text = s
		}
	} else if len(t.Result) > 0 {
		_ = json.Unmarshal(t.Result, &obj)
	}
	if obj != nil {
		text = argString(obj, "message")
		if text == "" {
			text = argString(obj, "response")
		}
	}
	if text == "" {
		text = argString(t.Arguments, "message")
	}
	if text == "" {
		text = argString(t.Arguments, "response")
	}
	return strings.TrimSpace(text)
}
