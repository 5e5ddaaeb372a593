package observability

import (
	"sync"
	"time"
)

// latencyBuckets are the fixed distribution buckets reported by the
// read-only status endpoint.
var latencyBuckets = []struct {
	label string
	upper time.Duration
}{
	{"<100ms", 100 * time.Millisecond},
	{"100-500ms", 500 * time.Millisecond},
	{"500ms-1s", time.Second},
	{"1s-2s", 2 * time.Second},
	{">2s", 1<<63 - 1},
}

// CharacterUsage accumulates per-character synthesis statistics.
type CharacterUsage struct {
	Requests     int64     `json:"requests"`
	Errors       int64     `json:"errors"`
	TotalLatency int64     `json:"total_latency_ms"`
	AvgLatency   float64   `json:"avg_latency_ms"`
	LastUsed     time.Time `json:"last_used"`
}

// UsageTracker keeps an in-memory view of synthesis traffic for the admin
// status endpoint. Prometheus carries the same signals for scraping; this
// tracker exists so the snapshot can be served back as JSON.
type UsageTracker struct {
	mu sync.Mutex

	totalRequests int64
	totalErrors   int64
	totalLatency  int64
	fallbacks     int64
	distribution  map[string]int64
	perCharacter  map[string]*CharacterUsage
	startedAt     time.Time
}

// UsageSnapshot is the JSON shape returned by the status endpoint.
type UsageSnapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	TotalErrors   int64                     `json:"total_errors"`
	ErrorRate     float64                   `json:"error_rate"`
	AvgLatencyMS  float64                   `json:"avg_latency_ms"`
	Fallbacks     int64                     `json:"fallbacks"`
	Distribution  map[string]int64          `json:"latency_distribution"`
	PerCharacter  map[string]CharacterUsage `json:"character_usage"`
	UptimeSeconds float64                   `json:"uptime_seconds"`
}

func NewUsageTracker() *UsageTracker {
	t := &UsageTracker{
		distribution: make(map[string]int64, len(latencyBuckets)),
		perCharacter: make(map[string]*CharacterUsage),
		startedAt:    time.Now(),
	}
	for _, b := range latencyBuckets {
		t.distribution[b.label] = 0
	}
	return t
}

func (t *UsageTracker) Record(character string, latency time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalRequests++
	t.totalLatency += latency.Milliseconds()
	for _, b := range latencyBuckets {
		if latency < b.upper {
			t.distribution[b.label]++
			break
		}
	}

	u := t.perCharacter[character]
	if u == nil {
		u = &CharacterUsage{}
		t.perCharacter[character] = u
	}
	u.Requests++
	u.TotalLatency += latency.Milliseconds()
	u.AvgLatency = float64(u.TotalLatency) / float64(u.Requests)
	u.LastUsed = time.Now()

	if !success {
		t.totalErrors++
		u.Errors++
	}
}

func (t *UsageTracker) RecordFallback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallbacks++
}

func (t *UsageTracker) Snapshot() UsageSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := UsageSnapshot{
		TotalRequests: t.totalRequests,
		TotalErrors:   t.totalErrors,
		Fallbacks:     t.fallbacks,
		Distribution:  make(map[string]int64, len(t.distribution)),
		PerCharacter:  make(map[string]CharacterUsage, len(t.perCharacter)),
		UptimeSeconds: time.Since(t.startedAt).Seconds(),
	}
	if t.totalRequests > 0 {
		snap.ErrorRate = float64(t.totalErrors) / float64(t.totalRequests)
		snap.AvgLatencyMS = float64(t.totalLatency) / float64(t.totalRequests)
	}
	for label, n := range t.distribution {
		snap.Distribution[label] = n
	}
	for name, u := range t.perCharacter {
		snap.PerCharacter[name] = *u
	}
	return snap
}
