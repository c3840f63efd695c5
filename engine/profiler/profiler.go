// Package profiler reports interval-gated statistics about the batching
// subsystem: ingest and rebuild rates, live batch and fragment counts, and Go
// heap behavior. Reporting goes through the library logger so hosts control
// the sink.
package profiler

import (
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-mesh/logger"
	"go.uber.org/zap"
)

// Profiler accumulates ingest and rebuild counters and logs a statistics line
// once per update interval. Outputs stats to the log at a configurable
// interval.
type Profiler struct {
	mu                sync.Mutex
	fragmentsIngested int
	bucketsRebuilt    int
	lastTime          time.Time
	updateInterval    time.Duration
	memStats          runtime.MemStats
	lastTotalAlloc    uint64
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 5 seconds.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return &Profiler{
		lastTime:       time.Now(),
		updateInterval: 5 * time.Second,
	}
}

// SetUpdateInterval changes how often Tick emits a statistics line.
// Values <= 0 are ignored.
//
// Parameters:
//   - interval: the minimum time between reports
func (p *Profiler) SetUpdateInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateInterval = interval
}

// RecordIngest adds to the fragments-ingested counter for the current
// interval.
//
// Parameters:
//   - fragments: how many fragments were admitted
func (p *Profiler) RecordIngest(fragments int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fragmentsIngested += fragments
}

// RecordRebuild adds to the buckets-rebuilt counter for the current interval.
//
// Parameters:
//   - buckets: how many bucket batches were rebuilt
func (p *Profiler) RecordRebuild(buckets int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bucketsRebuilt += buckets
}

// Tick should be called after each batching operation. Logs accumulated
// statistics when the update interval has elapsed: ingest rate, rebuild
// count, live batch/fragment counts, heap usage, and allocation rate.
//
// Parameters:
//   - liveBatches: the current live batch count
//   - liveFragments: the current geometry store size
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick(liveBatches, liveFragments int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	logger.Log.Info("batching stats",
		zap.Float64("ingestPerSec", float64(p.fragmentsIngested)/elapsed.Seconds()),
		zap.Int("bucketsRebuilt", p.bucketsRebuilt),
		zap.Int("liveBatches", liveBatches),
		zap.Int("liveFragments", liveFragments),
		zap.Float64("heapMB", allocMB),
		zap.Float64("allocRateMBs", allocRateMB),
		zap.Uint32("gcCount", p.memStats.NumGC))

	p.fragmentsIngested = 0
	p.bucketsRebuilt = 0
	p.lastTime = now
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
