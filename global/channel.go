package global

import (
	"sync/atomic"

	"github.com/toolink/appbridge/channel"
)

// channelHolder keeps the stored dynamic type constant for atomic.Value.
type channelHolder struct{ ch channel.Channel }

var globalChannel = &atomic.Value{}

// SetChannel sets the main app's request channel.
func SetChannel(ch channel.Channel) {
	globalChannel.Store(channelHolder{ch: ch})
}

// GetChannel returns the main app's request channel, or nil before
// SetChannel.
func GetChannel() channel.Channel {
	h, _ := globalChannel.Load().(channelHolder)
	return h.ch
}
