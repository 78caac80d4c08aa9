package metrics

import "cryptosignal/logger"

// PublisherStats holds counters of a downstream publisher such as the
// websocket hub.
type PublisherStats struct {
	MessagesPublished int64
	MessagesDropped   int64
	BytesPublished    int64
	Clients           int
}

// ReportPublisher emits publisher counters under the given component name.
func ReportPublisher(log *logger.Log, component string, stats PublisherStats) {
	l := log.WithComponent(component)

	dropRate := float64(0)
	if total := stats.MessagesPublished + stats.MessagesDropped; total > 0 {
		dropRate = float64(stats.MessagesDropped) / float64(total)
	}

	EmitMetric(log, component, "messages_published", stats.MessagesPublished, "counter", nil)
	EmitMetric(log, component, "messages_dropped", stats.MessagesDropped, "counter", nil)
	EmitMetric(log, component, "bytes_published", stats.BytesPublished, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, component, "clients", stats.Clients, "gauge", nil)

	entry := l.WithFields(logger.Fields{
		"messages_published": stats.MessagesPublished,
		"messages_dropped":   stats.MessagesDropped,
		"bytes_published":    stats.BytesPublished,
		"drop_rate":          dropRate,
		"clients":            stats.Clients,
	})
	if stats.MessagesDropped > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
