package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"cryptosignal/internal/metrics"
	"cryptosignal/models"
)

// metricStore keeps the most recent emitted metrics. It is safe for
// concurrent use.
type metricStore struct {
	mu    sync.RWMutex
	items []metrics.Metric
	limit int
}

func newMetricStore(limit int) *metricStore {
	if limit <= 0 {
		limit = 200
	}
	return &metricStore{limit: limit}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, metric)
	if len(s.items) > s.limit {
		// keep the most recent entries only
		s.items = append([]metrics.Metric(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *metricStore) snapshot() []metrics.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Metric, len(s.items))
	copy(out, s.items)
	return out
}

// logRecord is a captured log entry as served by /api/logs.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook keeping the most recent log entries.
type logStore struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{limit: limit}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}

	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}

	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}

			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items = append(s.items, record)
	if len(s.items) > s.limit {
		s.items = append([]logRecord(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *logStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, len(s.items))
	copy(out, s.items)
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}

// featureStore keeps the latest feature batch of every pair.
type featureStore struct {
	mu     sync.RWMutex
	latest map[string]models.FeatureBatch
	seen   map[string]int64
}

func newFeatureStore() *featureStore {
	return &featureStore{
		latest: make(map[string]models.FeatureBatch),
		seen:   make(map[string]int64),
	}
}

func (s *featureStore) observe(batch models.FeatureBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[batch.Pair]++
	if prev, ok := s.latest[batch.Pair]; ok && prev.Ts > batch.Ts {
		return
	}
	s.latest[batch.Pair] = batch
}

// pairFeatures is the /api/features view of one pair.
type pairFeatures struct {
	Batch   models.FeatureBatch `json:"batch"`
	Batches int64               `json:"batches"`
}

func (s *featureStore) snapshot() map[string]pairFeatures {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]pairFeatures, len(s.latest))
	for pair, b := range s.latest {
		out[pair] = pairFeatures{Batch: b, Batches: s.seen[pair]}
	}
	return out
}
