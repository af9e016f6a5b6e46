package stream

import (
	"time"

	"github.com/koalatalk/koalatalk-go/internal/model"
)

// Event is a typed occurrence on a live stream. Consumers receive events
// from Manager.Events instead of registering per-event callbacks.
type Event interface{ streamEvent() }

// Connected is emitted on the server's hello; the reconnect backoff has
// been reset to its floor.
type Connected struct{}

// MessageEvent carries a newly pushed message.
type MessageEvent struct{ Message model.Message }

// DeleteEvent carries the id of a deleted message.
type DeleteEvent struct{ ID int64 }

// ChannelListChanged signals that the channel list should be refreshed.
// Channel is the channel that triggered the change when the server included
// one.
type ChannelListChanged struct{ Channel model.Channel }

// SignalEvent carries one call-signaling datagram from a peer.
type SignalEvent struct{ Signal model.Signal }

// MessageUpdateEvent carries a replace-by-id message upsert.
type MessageUpdateEvent struct{ Message model.Message }

// Disconnected reports a transport failure; a reconnect is scheduled after
// Retry. Surfaced only as a transient status indicator.
type Disconnected struct {
	Err   error
	Retry time.Duration
}

func (Connected) streamEvent()          {}
func (MessageEvent) streamEvent()       {}
func (DeleteEvent) streamEvent()        {}
func (ChannelListChanged) streamEvent() {}
func (SignalEvent) streamEvent()        {}
func (MessageUpdateEvent) streamEvent() {}
func (Disconnected) streamEvent()       {}
