package processor

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	appconfig "cryptosignal/config"
	"cryptosignal/internal/channel/feed"
	"cryptosignal/internal/metrics"
	"cryptosignal/logger"
	"cryptosignal/models"
)

const workerBuffer = 64

// FeatureProcessor consumes replayed market events and emits a feature batch
// on every book tick of a pair whose legs are both quoted. Events of a pair
// are always handled by the same worker, so per-pair windows need no locks.
type FeatureProcessor struct {
	config   *appconfig.Config
	channels *feed.Channels
	pairs    map[string]appconfig.PairConfig
	workers  []chan models.MarketEvent
	ctx      context.Context
	wg       sync.WaitGroup
	done     chan struct{}
	mu       sync.Mutex
	running  bool
	log      *logger.Log

	eventsProcessed atomic.Int64
	eventsRejected  atomic.Int64
	batchesProduced atomic.Int64
	batchesDegraded atomic.Int64
	batchesDropped  atomic.Int64
	activePairs     atomic.Int64
}

func NewFeatureProcessor(cfg *appconfig.Config, channels *feed.Channels) *FeatureProcessor {
	pairs := make(map[string]appconfig.PairConfig, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs[p.Name()] = p
	}
	return &FeatureProcessor{
		config:   cfg,
		channels: channels,
		pairs:    pairs,
		done:     make(chan struct{}),
		log:      logger.GetLogger(),
	}
}

// Start launches the dispatcher and workers. The feature channel is closed
// once the raw channel is drained or ctx is cancelled.
func (p *FeatureProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("feature processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("feature_processor").WithFields(logger.Fields{"operation": "start"})

	numWorkers := p.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	p.workers = make([]chan models.MarketEvent, numWorkers)
	for i := range p.workers {
		p.workers[i] = make(chan models.MarketEvent, workerBuffer)
		p.wg.Add(1)
		go p.worker(i, p.workers[i])
	}

	go p.dispatch()
	go func() {
		p.wg.Wait()
		p.channels.CloseNorm()
		close(p.done)
	}()

	if interval := p.config.Processor.ReportInterval; interval > 0 {
		go p.metricsReporter(ctx, interval)
	}

	log.WithFields(logger.Fields{"workers": numWorkers, "pairs": len(p.pairs)}).Info("feature processor started")
	return nil
}

// Done is closed after every worker has returned and the feature channel
// was closed.
func (p *FeatureProcessor) Done() <-chan struct{} { return p.done }

// Stop waits for the workers to finish and reports final counters.
func (p *FeatureProcessor) Stop() {
	p.mu.Lock()
	started := p.running
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("feature_processor").Info("stopping feature processor")
	if started {
		<-p.done
	}
	p.reportMetrics()
	p.log.WithComponent("feature_processor").Info("feature processor stopped")
}

func (p *FeatureProcessor) Stats() metrics.ProcessorStats {
	return metrics.ProcessorStats{
		EventsProcessed: p.eventsProcessed.Load(),
		BatchesProduced: p.batchesProduced.Load(),
		BatchesDegraded: p.batchesDegraded.Load(),
		BatchesDropped:  p.batchesDropped.Load(),
		EventsRejected:  p.eventsRejected.Load(),
		ActivePairs:     int(p.activePairs.Load()),
		RawChannelLen:   len(p.channels.Raw),
		RawChannelCap:   cap(p.channels.Raw),
		NormChannelLen:  len(p.channels.Norm),
		NormChannelCap:  cap(p.channels.Norm),
	}
}

// dispatch routes raw events to the worker owning their pair.
func (p *FeatureProcessor) dispatch() {
	defer func() {
		for _, w := range p.workers {
			close(w)
		}
	}()

	log := p.log.WithComponent("feature_processor").WithFields(logger.Fields{"worker": "dispatcher"})
	for {
		select {
		case <-p.ctx.Done():
			log.Info("dispatcher stopped due to context cancellation")
			return
		case ev, ok := <-p.channels.Raw:
			if !ok {
				log.Info("raw channel closed, dispatcher stopping")
				return
			}
			if _, known := p.pairs[ev.Pair]; !known || ev.Leg < 0 || ev.Leg > 1 {
				p.eventsRejected.Add(1)
				log.WithFields(logger.Fields{"pair": ev.Pair, "leg": ev.Leg, "kind": ev.Kind}).Warn("event for unknown pair or leg")
				continue
			}
			select {
			case p.workers[shard(ev.Pair, len(p.workers))] <- ev:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func shard(pair string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(pair))
	return int(h.Sum32() % uint32(n))
}

func (p *FeatureProcessor) worker(workerID int, in <-chan models.MarketEvent) {
	defer p.wg.Done()

	log := p.log.WithComponent("feature_processor").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "features",
	})
	log.Info("starting feature worker")

	states := make(map[string]*pairState)
	for {
		select {
		case <-p.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case ev, ok := <-in:
			if !ok {
				log.WithFields(logger.Fields{"pairs": len(states)}).Info("input closed, worker stopping")
				return
			}
			st, ok := states[ev.Pair]
			if !ok {
				pair := p.pairs[ev.Pair]
				st = newPairState(pair, newStateOptions(p.config, pair))
				states[ev.Pair] = st
				p.activePairs.Add(1)
			}

			p.eventsProcessed.Add(1)
			if !st.apply(ev) {
				continue
			}

			start := time.Now()
			batch := st.batch(ev.Ts)
			p.emit(log, batch)
			logger.LogPerformanceEntry(log, "feature_processor", "build_batch", time.Since(start), logger.Fields{
				"pair":     batch.Pair,
				"degraded": batch.Degraded,
			})
		}
	}
}

func (p *FeatureProcessor) emit(log *logger.Entry, batch models.FeatureBatch) {
	p.batchesProduced.Add(1)
	if batch.Degraded {
		p.batchesDegraded.Add(1)
	}
	metrics.ObserveFeatureBatch(batch.Pair, batch.LLCA.Z, batch.HalfLife, batch.Degraded)

	if p.channels.SendNorm(p.ctx, batch) {
		logger.LogDataFlowEntry(log, "feature_processor", "feed_norm", 1, "feature_batch")
		return
	}
	if p.ctx.Err() != nil {
		return
	}
	p.batchesDropped.Add(1)
	metrics.EmitDropMetric(p.log, metrics.DropMetricFeatureBatch, "", batch.Pair, "feature_processor")
	log.WithFields(logger.Fields{"pair": batch.Pair, "batch_id": batch.BatchID}).Warn("feature channel is full, batch not sent")
}

func (p *FeatureProcessor) metricsReporter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.reportMetrics()
		}
	}
}

func (p *FeatureProcessor) reportMetrics() {
	metrics.ReportProcessor(p.log, p.Stats())
}
