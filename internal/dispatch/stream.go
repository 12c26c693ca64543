package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ent0n29/rhodes-client/internal/dedup"
	"github.com/ent0n29/rhodes-client/internal/protocol"
	"github.com/ent0n29/rhodes-client/internal/render"
)

// Internal server notices that must never reach the conversation view.
var filteredChunkMarkers = []string{
	"[Response regenerated",
	"[RETRACTION",
	"CRITICAL SCIENTIFIC INTEGRITY WARNING",
	"[CONTEXT COMPACTION NOTICE]",
}

var (
	downloadOfferPattern     = regexp.MustCompile(`\[DOWNLOAD_OFFER:(\{[^}]+\})\]`)
	credentialRequestPattern = regexp.MustCompile(`\[CREDENTIAL_REQUEST:(\{[^}]+\})\]`)
)

func (d *Dispatcher) chunkLocked(c protocol.Chunk) {
	d.closeReasoningLocked()
	if d.session.IsStale(c.ReqID) {
		d.dropLocked("stale", c.Type())
		return
	}
	if c.Content == "" {
		return
	}
	if d.seen.Seen("chunk:"+dedup.Prefix(c.Content, 64), chunkWindow) {
		d.dropLocked("duplicate", c.Type())
		return
	}
	for _, marker := range filteredChunkMarkers {
		if strings.Contains(c.Content, marker) {
			d.dropLocked("filtered", c.Type())
			return
		}
	}

	if d.stream == nil {
		d.collapseToolsLocked()
		d.stream = &stream{handle: d.renderer.AppendEntry(render.RoleAI, "")}
		if !d.firstSeen && !d.turnStart.IsZero() {
			d.firstSeen = true
			d.metrics.ObserveFirstChunk(d.now().Sub(d.turnStart))
		}
	}
	d.stream.text += c.Content
	d.renderer.UpdateEntry(d.stream.handle, d.stream.text)
}

func (d *Dispatcher) finalLocked(f protocol.Final) {
	if f.RoomID != "" {
		d.roomFinalLocked(f)
		return
	}
	// A stale final must not take down the stream of the turn that replaced it.
	if d.session.IsStale(f.ReqID) {
		d.dropLocked("stale", f.Type())
		return
	}
	if d.stream != nil {
		d.renderer.RemoveEntry(d.stream.handle)
		d.stream = nil
	}
	d.closeReasoningLocked()
	d.session.FinishGeneration()

	content := d.stripOffersLocked(f.Content)
	if strings.TrimSpace(content) == "" {
		return
	}
	if d.seen.Seen("ai:"+f.ReqID+":"+dedup.Prefix(content, 240), finalWindow) {
		d.dropLocked("duplicate", f.Type())
		return
	}
	d.collapseToolsLocked()
	d.appendAILocked(content)
	if !d.turnStart.IsZero() {
		d.metrics.ObserveReply(d.now().Sub(d.turnStart))
		d.turnStart = time.Time{}
	}
	d.session.ConsumeGuestMessage()
}

func (d *Dispatcher) roomFinalLocked(f protocol.Final) {
	if f.RoomID != d.session.Room() {
		d.dropLocked("other_room", f.Type())
		return
	}
	if strings.TrimSpace(f.Content) == "" {
		return
	}
	speaker := f.Speaker
	if speaker == "" {
		speaker = "Rhodes"
	}
	if d.seen.Seen("ai_room:"+speaker+":"+dedup.Prefix(f.Content, 200), finalWindow) {
		d.dropLocked("duplicate", f.Type())
		return
	}
	d.renderer.AppendEntry(render.RoleAI, speaker+": "+f.Content)
}

// stripOffersLocked removes download-offer and credential-request markers,
// surfacing each as a notice.
func (d *Dispatcher) stripOffersLocked(content string) string {
	if m := downloadOfferPattern.FindStringSubmatch(content); m != nil {
		d.renderer.Notify(offerNotice("Download available", m[1]))
		content = strings.TrimSpace(downloadOfferPattern.ReplaceAllString(content, ""))
	}
	if m := credentialRequestPattern.FindStringSubmatch(content); m != nil {
		d.renderer.Notify(offerNotice("Credentials requested", m[1]))
		content = strings.TrimSpace(credentialRequestPattern.ReplaceAllString(content, ""))
	}
	return content
}

func offerNotice(prefix, raw string) string {
	var opts map[string]any
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return prefix
	}
	for _, key := range []string{"filename", "name", "service", "url"} {
		if v, ok := opts[key].(string); ok && v != "" {
			return fmt.Sprintf("%s: %s", prefix, v)
		}
	}
	return prefix
}

func (d *Dispatcher) reasoningLocked(r protocol.ReasoningChunk) {
	if !d.session.Snapshot().IsAdmin {
		return
	}
	if d.session.IsStale(r.ReqID) {
		d.dropLocked("stale", r.Type())
		return
	}
	if r.Content == "" {
		return
	}
	if d.reasoning == nil {
		d.reasoning = &stream{handle: d.renderer.AppendEntry(render.RoleReasoning, "")}
	}
	d.reasoning.text += r.Content
	d.renderer.UpdateEntry(d.reasoning.handle, d.reasoning.text)
}
