package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Latency stages recorded by the client.
const (
	StageOpen        = "connect_to_open"
	StageAuth        = "open_to_ready"
	StageFirstChunk  = "send_to_first_chunk"
	StageReply       = "send_to_reply"
	StageTranscribe  = "clip_to_transcript"
	StageSpeechReady = "reply_to_speech"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// LatencyWindow keeps the most recent samples per stage in a ring buffer
// and counts named indicators (reconnects, interrupts, voice failovers).
type LatencyWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*ring
	indicators map[string]int
}

type ring struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 256
	}
	return &LatencyWindow{
		size:       size,
		rings:      make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

func (w *LatencyWindow) Observe(stage string, ms float64) {
	if w == nil || stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.rings[stage]
	if !ok {
		r = &ring{values: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.values[r.next] = ms
	r.last = ms
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.filled = true
	}
}

func (w *LatencyWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *LatencyWindow) Snapshot() LatencySnapshot {
	snap := LatencySnapshot{GeneratedAt: time.Now().UTC()}
	if w == nil {
		return snap
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap.WindowSize = w.size

	names := make([]string, 0, len(w.rings))
	for name := range w.rings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := w.rings[name]
		n := r.next
		if r.filled {
			n = len(r.values)
		}
		if n == 0 {
			continue
		}
		samples := append([]float64(nil), r.values[:n]...)
		sort.Float64s(samples)
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       name,
			Samples:     n,
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			TargetP95MS: targetP95(name),
		})
	}

	keys := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	for _, name := range keys {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func targetP95(stage string) float64 {
	switch stage {
	case StageOpen:
		return 1500
	case StageAuth:
		return 800
	case StageFirstChunk:
		return 2500
	case StageSpeechReady:
		return 1500
	default:
		return 0
	}
}
