package metrics

import "cryptosignal/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricMarketEvent records replayed events that never reached the processor.
	DropMetricMarketEvent DropMetric = "market_events_dropped"
	// DropMetricFeatureBatch records feature batches dropped before hand-off.
	DropMetricFeatureBatch DropMetric = "feature_batches_dropped"
	// DropMetricBroadcast records messages not delivered to a slow websocket client.
	DropMetricBroadcast DropMetric = "broadcast_messages_dropped"
)

// EmitDropMetric emits a count of one for a dropped message. Empty metadata
// is left out so aggregation happens per venue, pair and stage only when
// they are known.
func EmitDropMetric(log *logger.Log, metric DropMetric, venue, pair, stage string) {
	fields := logger.Fields{}
	if venue != "" {
		fields["venue"] = venue
	}
	if pair != "" {
		fields["pair"] = pair
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
