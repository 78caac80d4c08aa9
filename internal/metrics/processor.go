package metrics

import "cryptosignal/logger"

// ProcessorStats holds counters of the feature processor.
type ProcessorStats struct {
	EventsProcessed int64
	BatchesProduced int64
	BatchesDegraded int64
	BatchesDropped  int64
	EventsRejected  int64
	ActivePairs     int
	RawChannelLen   int
	RawChannelCap   int
	NormChannelLen  int
	NormChannelCap  int
}

// ReportProcessor emits the processor counters as metrics and one summary line.
func ReportProcessor(log *logger.Log, stats ProcessorStats) {
	l := log.WithComponent("feature_processor")

	degradedRate := float64(0)
	if stats.BatchesProduced > 0 {
		degradedRate = float64(stats.BatchesDegraded) / float64(stats.BatchesProduced)
	}

	EmitMetric(log, "feature_processor", "events_processed", stats.EventsProcessed, "counter", nil)
	EmitMetric(log, "feature_processor", "batches_produced", stats.BatchesProduced, "counter", nil)
	EmitMetric(log, "feature_processor", "batches_dropped", stats.BatchesDropped, "counter", nil)
	EmitMetric(log, "feature_processor", "events_rejected", stats.EventsRejected, "counter", nil)
	EmitMetric(log, "feature_processor", "degraded_rate", degradedRate, "gauge", logger.Fields{"unit": "none"})

	entry := l.WithFields(logger.Fields{
		"events_processed": stats.EventsProcessed,
		"batches_produced": stats.BatchesProduced,
		"batches_degraded": stats.BatchesDegraded,
		"batches_dropped":  stats.BatchesDropped,
		"events_rejected":  stats.EventsRejected,
		"degraded_rate":    degradedRate,
		"active_pairs":     stats.ActivePairs,
		"raw_channel_len":  stats.RawChannelLen,
		"raw_channel_cap":  stats.RawChannelCap,
		"norm_channel_len": stats.NormChannelLen,
		"norm_channel_cap": stats.NormChannelCap,
	})
	if stats.BatchesDropped > 0 || stats.EventsRejected > 0 {
		entry.Warn("feature processor metrics")
		return
	}
	entry.Info("feature processor metrics")
}
