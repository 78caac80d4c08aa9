package feed

import (
	"context"
	"sync"

	"cryptosignal/logger"
	"cryptosignal/models"
)

// ChannelStats keeps counters for telemetry.
type ChannelStats struct {
	RawSent     int64
	NormSent    int64
	RawDropped  int64
	NormDropped int64
}

// Channels carries replayed market events (Raw) to the feature processor and
// computed feature batches (Norm) to downstream consumers.
type Channels struct {
	Raw  chan models.MarketEvent
	Norm chan models.FeatureBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	rawOnce    sync.Once
	normOnce   sync.Once
	log        *logger.Log
}

func NewChannels(rawBufferSize, normBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:  make(chan models.MarketEvent, rawBufferSize),
		Norm: make(chan models.FeatureBatch, normBufferSize),
		log:  log,
	}

	log.WithComponent("feed_channels").WithFields(logger.Fields{
		"raw_buffer_size":  rawBufferSize,
		"norm_buffer_size": normBufferSize,
	}).Info("feed channels initialized")

	return c
}

// Close closes both channels. Only the producer side may call it, once all
// senders have returned.
func (c *Channels) Close() {
	c.CloseRaw()
	c.CloseNorm()
	c.log.WithComponent("feed_channels").Info("feed channels closed")
}

// CloseRaw signals the end of the replay to the processor.
func (c *Channels) CloseRaw() {
	c.rawOnce.Do(func() { close(c.Raw) })
}

// CloseNorm signals that no more feature batches will be produced.
func (c *Channels) CloseNorm() {
	c.normOnce.Do(func() { close(c.Norm) })
}

// PublishRaw blocks until the event is queued or ctx is done.
func (c *Channels) PublishRaw(ctx context.Context, ev models.MarketEvent) bool {
	select {
	case c.Raw <- ev:
		c.addRawSent()
		return true
	case <-ctx.Done():
		return false
	}
}

// SendRaw queues an event without blocking; a full buffer drops it.
func (c *Channels) SendRaw(ctx context.Context, ev models.MarketEvent) bool {
	select {
	case c.Raw <- ev:
		c.addRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.RawDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendNorm queues a feature batch without blocking; a full buffer drops it.
func (c *Channels) SendNorm(ctx context.Context, batch models.FeatureBatch) bool {
	select {
	case c.Norm <- batch:
		c.statsMutex.Lock()
		c.stats.NormSent++
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("feed_norm", 1)
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.NormDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) addRawSent() {
	c.statsMutex.Lock()
	c.stats.RawSent++
	c.statsMutex.Unlock()
	logger.RecordChannelMessage("feed_raw", 1)
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
