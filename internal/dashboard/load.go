package dashboard

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"cryptosignal/internal/channel/feed"
	"cryptosignal/internal/metrics"
	"cryptosignal/logger"
)

// StatsSource reports feature processor counters.
type StatsSource interface {
	Stats() metrics.ProcessorStats
}

// loadSample is one reading of pipeline throughput, buffer pressure and the
// host it runs on. Rates cover the interval since the previous sample.
type loadSample struct {
	Timestamp       time.Time `json:"timestamp"`
	ReplayPerSec    float64   `json:"replay_events_per_sec"`
	EventsPerSec    float64   `json:"processed_events_per_sec"`
	BatchesPerSec   float64   `json:"batches_per_sec"`
	DegradedPct     float64   `json:"degraded_percent"`
	BatchesDropped  int64     `json:"batches_dropped"`
	EventsRejected  int64     `json:"events_rejected"`
	ActivePairs     int       `json:"active_pairs"`
	RawFillPct      float64   `json:"raw_fill_percent"`
	FeatureFillPct  float64   `json:"feature_fill_percent"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPct       float64   `json:"memory_percent"`
	HeapAllocMB     float64   `json:"heap_alloc_mb"`
	Goroutines      int       `json:"goroutines"`
	PipelineWatched bool      `json:"pipeline_watched"`
}

type loadCounters struct {
	at       time.Time
	replayed int64
	events   int64
	batches  int64
}

var (
	cpuPercentFn = func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

type loadSampler struct {
	mu       sync.RWMutex
	items    []loadSample
	limit    int
	interval time.Duration
	proc     StatsSource
	feed     *feed.Channels
	prev     loadCounters

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Log
}

func newLoadSampler(limit int, interval time.Duration, log *logger.Log) *loadSampler {
	if limit <= 0 {
		limit = 200
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &loadSampler{limit: limit, interval: interval, log: log}
}

// watch attaches the running pipeline. Counters restart from the attach
// point so the first rates are not inflated by earlier runs.
func (s *loadSampler) watch(proc StatsSource, ch *feed.Channels) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc, s.feed = proc, ch
	s.prev = loadCounters{}
}

func (s *loadSampler) start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-childCtx.Done():
				return
			case now := <-ticker.C:
				s.record(s.sample(childCtx, now))
			}
		}
	}()
}

func (s *loadSampler) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// sample reads the pipeline counters and host stats at now and advances the
// rate baseline.
func (s *loadSampler) sample(ctx context.Context, now time.Time) loadSample {
	out := loadSample{Timestamp: now, Goroutines: runtime.NumGoroutine()}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out.HeapAllocMB = float64(ms.HeapAlloc) / (1 << 20)

	if pct, err := cpuPercentFn(ctx); err != nil {
		s.log.WithComponent("load_sampler").WithError(err).Debug("failed to sample cpu usage")
	} else if len(pct) > 0 {
		out.CPUPercent = pct[0]
	}
	if vm, err := memoryStatsFn(ctx); err != nil {
		s.log.WithComponent("load_sampler").WithError(err).Debug("failed to sample memory usage")
	} else {
		out.MemoryPct = vm.UsedPercent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return out
	}
	out.PipelineWatched = true

	stats := s.proc.Stats()
	cur := loadCounters{at: now, events: stats.EventsProcessed, batches: stats.BatchesProduced}
	if s.feed != nil {
		cur.replayed = s.feed.GetStats().RawSent
	}

	out.BatchesDropped = stats.BatchesDropped
	out.EventsRejected = stats.EventsRejected
	out.ActivePairs = stats.ActivePairs
	out.RawFillPct = fillPercent(stats.RawChannelLen, stats.RawChannelCap)
	out.FeatureFillPct = fillPercent(stats.NormChannelLen, stats.NormChannelCap)
	if stats.BatchesProduced > 0 {
		out.DegradedPct = 100 * float64(stats.BatchesDegraded) / float64(stats.BatchesProduced)
	}

	if !s.prev.at.IsZero() {
		if elapsed := now.Sub(s.prev.at).Seconds(); elapsed > 0 {
			out.ReplayPerSec = float64(cur.replayed-s.prev.replayed) / elapsed
			out.EventsPerSec = float64(cur.events-s.prev.events) / elapsed
			out.BatchesPerSec = float64(cur.batches-s.prev.batches) / elapsed
		}
	}
	s.prev = cur
	return out
}

func (s *loadSampler) record(sample loadSample) {
	if sample.PipelineWatched {
		fields := logger.Fields{"active_pairs": sample.ActivePairs}
		metrics.EmitMetric(s.log, "pipeline_load", "replay_events_per_sec", sample.ReplayPerSec, "gauge", fields)
		metrics.EmitMetric(s.log, "pipeline_load", "feature_buffer_fill_percent", sample.FeatureFillPct, "gauge", fields)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, sample)
	if len(s.items) > s.limit {
		s.items = append([]loadSample(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *loadSampler) snapshot() []loadSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loadSample, len(s.items))
	copy(out, s.items)
	return out
}

func fillPercent(n, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return 100 * float64(n) / float64(capacity)
}
