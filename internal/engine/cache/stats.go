package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "epss_cache"

// StatsSnapshot is an immutable view of cache statistics.
type StatsSnapshot struct {
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Evictions int64         `json:"evictions"`
	Sets      int64         `json:"sets"`
	Deletes   int64         `json:"deletes"`
	Errors    int64         `json:"errors"`
	HitRate   float64       `json:"hit_rate"`
	Backend   string        `json:"backend"`
	Enabled   bool          `json:"enabled"`
	TTL       time.Duration `json:"ttl"`
	Uptime    time.Duration `json:"uptime"`
}

// Requests returns hits plus misses.
func (s StatsSnapshot) Requests() int64 {
	return s.Hits + s.Misses
}

// Recorder counts cache outcomes. All methods are safe for concurrent use.
type Recorder struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	errors    atomic.Int64

	mu      sync.RWMutex
	started time.Time
	clock   Clock

	backend string
	descs   recorderDescs
}

type recorderDescs struct {
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	sets      *prometheus.Desc
	deletes   *prometheus.Desc
	errors    *prometheus.Desc
	hitRatio  *prometheus.Desc
}

// NewRecorder creates a Recorder. backend is attached as a constant label
// when the recorder is registered as a Prometheus collector.
func NewRecorder(backend string, clock Clock) *Recorder {
	labels := prometheus.Labels{"backend": backend}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, labels)
	}

	return &Recorder{
		started: clock.now(),
		clock:   clock,
		backend: backend,
		descs: recorderDescs{
			hits:      desc("hits_total", "Lookups served from the cache."),
			misses:    desc("misses_total", "Lookups that went to the data source."),
			evictions: desc("evictions_total", "Entries removed by the backend to stay within its size budget."),
			sets:      desc("sets_total", "Entries written to the backend."),
			deletes:   desc("deletes_total", "Entries explicitly invalidated."),
			errors:    desc("errors_total", "Backend reads or writes that failed."),
			hitRatio:  desc("hit_ratio", "Hits divided by hits plus misses since the last reset."),
		},
	}
}

// RecordHit counts a lookup served from the cache.
func (r *Recorder) RecordHit() { r.hits.Add(1) }

// RecordMiss counts a lookup that went to the data source.
func (r *Recorder) RecordMiss() { r.misses.Add(1) }

// RecordEviction counts n entries evicted by the backend.
func (r *Recorder) RecordEviction(n int) {
	if n > 0 {
		r.evictions.Add(int64(n))
	}
}

// RecordSet counts a successful write.
func (r *Recorder) RecordSet() { r.sets.Add(1) }

// RecordDelete counts an explicit invalidation.
func (r *Recorder) RecordDelete() { r.deletes.Add(1) }

// RecordError counts a failed backend read or write.
func (r *Recorder) RecordError() { r.errors.Add(1) }

// Snapshot returns the current counters. Backend, Enabled and TTL are left
// for the caller to fill in.
func (r *Recorder) Snapshot() StatsSnapshot {
	r.mu.RLock()
	started := r.started
	r.mu.RUnlock()

	s := StatsSnapshot{
		Hits:      r.hits.Load(),
		Misses:    r.misses.Load(),
		Evictions: r.evictions.Load(),
		Sets:      r.sets.Load(),
		Deletes:   r.deletes.Load(),
		Errors:    r.errors.Load(),
		Backend:   r.backend,
		Uptime:    r.clock.now().Sub(started),
	}
	s.HitRate = hitRate(s.Hits, s.Misses)
	return s
}

// Reset zeroes every counter and restarts the uptime clock.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hits.Store(0)
	r.misses.Store(0)
	r.evictions.Store(0)
	r.sets.Store(0)
	r.deletes.Store(0)
	r.errors.Store(0)
	r.started = r.clock.now()
}

// Describe implements prometheus.Collector.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.descs.hits
	ch <- r.descs.misses
	ch <- r.descs.evictions
	ch <- r.descs.sets
	ch <- r.descs.deletes
	ch <- r.descs.errors
	ch <- r.descs.hitRatio
}

// Collect implements prometheus.Collector.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	s := r.Snapshot()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	counter(r.descs.hits, s.Hits)
	counter(r.descs.misses, s.Misses)
	counter(r.descs.evictions, s.Evictions)
	counter(r.descs.sets, s.Sets)
	counter(r.descs.deletes, s.Deletes)
	counter(r.descs.errors, s.Errors)
	ch <- prometheus.MustNewConstMetric(r.descs.hitRatio, prometheus.GaugeValue, s.HitRate)
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
