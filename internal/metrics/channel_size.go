package metrics

import (
	"context"
	"time"

	"cryptosignal/internal/channel"
	"cryptosignal/logger"
)

// StartChannelSizeMetrics emits occupancy gauges for the feed buffers every
// interval until ctx is cancelled. A non-positive interval means one second.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil || channels.Feed == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EmitMetric(log, component, "feed_raw_buffer_length", len(channels.Feed.Raw), "gauge", logger.Fields{
					"buffer": "feed_raw",
				})
				EmitMetric(log, component, "feed_norm_buffer_length", len(channels.Feed.Norm), "gauge", logger.Fields{
					"buffer": "feed_norm",
				})
			}
		}
	}()
}
