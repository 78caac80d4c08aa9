package channel

import (
	"cryptosignal/internal/channel/feed"
)

type Channels struct {
	Feed *feed.Channels
}

func NewChannels(rawBufferSize, normBufferSize int) *Channels {
	return &Channels{
		Feed: feed.NewChannels(rawBufferSize, normBufferSize),
	}
}
