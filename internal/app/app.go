// Package app wires the synchronization core together: one event loop
// consumes typed events from both live streams plus user commands, and is
// the only place the message store is mutated.
package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/koalatalk/koalatalk-go/internal/api"
	"github.com/koalatalk/koalatalk-go/internal/call"
	"github.com/koalatalk/koalatalk-go/internal/logger"
	"github.com/koalatalk/koalatalk-go/internal/model"
	"github.com/koalatalk/koalatalk-go/internal/pager"
	"github.com/koalatalk/koalatalk-go/internal/store"
	"github.com/koalatalk/koalatalk-go/internal/stream"
)

// StatusKind classifies a status line.
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusSuccess
	StatusError
)

// StatusSink receives user-visible status strings. Rendering them is
// outside the core.
type StatusSink interface {
	Status(msg string, kind StatusKind)
}

// Renderer receives timeline updates. Rendering is outside the core; the
// Prepended hook exists so a renderer can anchor scroll position around an
// older-history insertion.
type Renderer interface {
	Timeline(entries iter.Seq[store.Entry])
	Prepended(entries []store.Entry)
}

// ErrNotAuthenticated is returned by Run when no server session exists.
var ErrNotAuthenticated = errors.New("not authenticated: run login first")

// App owns the client core's moving parts.
type App struct {
	client     *api.Client
	store      *store.Store
	archive    *store.Archive // nil disables the local cache
	pager      *pager.Pager
	chanStream *stream.Manager
	metaStream *stream.Manager
	calls      *call.Manager
	status     StatusSink
	render     Renderer

	userID         string
	alias          string
	currentChannel string

	chanMu   sync.Mutex
	channels []model.Channel

	cmds chan func(ctx context.Context)
}

// Options configures New.
type Options struct {
	Client     *api.Client
	Store      *store.Store
	Archive    *store.Archive
	Pager      *pager.Pager
	ChanStream *stream.Manager
	MetaStream *stream.Manager
	Calls      *call.Manager
	Status     StatusSink
	Renderer   Renderer
	UserID     string
	Channel    string
}

// New assembles the app from its components.
func New(o Options) *App {
	return &App{
		client:         o.Client,
		store:          o.Store,
		archive:        o.Archive,
		pager:          o.Pager,
		chanStream:     o.ChanStream,
		metaStream:     o.MetaStream,
		calls:          o.Calls,
		status:         o.Status,
		render:         o.Renderer,
		userID:         o.UserID,
		currentChannel: o.Channel,
		cmds:           make(chan func(ctx context.Context), 16),
	}
}

// Alias returns the authenticated alias once Run has resolved it.
func (a *App) Alias() string { return a.alias }

// Channels returns the last refreshed channel list. Safe from any
// goroutine.
func (a *App) Channels() []model.Channel {
	a.chanMu.Lock()
	defer a.chanMu.Unlock()
	return append([]model.Channel(nil), a.channels...)
}

// Run resolves the session, starts both streams, performs the initial
// history load, and then processes events until ctx is cancelled. Stream
// event handlers run to completion before the next event, so store
// mutations are strictly serialized.
func (a *App) Run(ctx context.Context) error {
	alias, err := a.client.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("session check: %w", err)
	}
	if alias == "" {
		return ErrNotAuthenticated
	}
	a.alias = alias
	a.calls.SetIdentity(alias, a.userID)
	a.calls.SetStatus(func(msg string) { a.say(msg, StatusInfo) })

	a.metaStream.Ensure(ctx, alias)

	if err := a.refreshChannels(ctx); err != nil {
		logger.L.Warn("channel refresh failed", "error", err)
	}
	a.switchChannel(ctx, a.currentChannel)

	defer func() {
		a.chanStream.Close()
		a.metaStream.Close()
		if a.calls.Current() != nil {
			hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.calls.HangUp(hctx)
			cancel()
		}
		if a.archive != nil {
			a.archive.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.chanStream.Events():
			a.handleStreamEvent(ctx, ev)
		case ev := <-a.metaStream.Events():
			a.handleMetaEvent(ctx, ev)
		case fn := <-a.cmds:
			fn(ctx)
		}
	}
}

// do queues a command for the event loop.
func (a *App) do(fn func(ctx context.Context)) {
	a.cmds <- fn
}

func (a *App) say(msg string, kind StatusKind) {
	if a.status != nil {
		a.status.Status(msg, kind)
	}
}

func (a *App) redraw() {
	if a.render != nil {
		a.render.Timeline(a.store.Entries())
	}
}

func (a *App) refreshChannels(ctx context.Context) error {
	chans, err := a.client.ListChannels(ctx)
	if err != nil {
		return err
	}
	a.chanMu.Lock()
	a.channels = chans
	a.chanMu.Unlock()
	return nil
}

// switchChannel tears down the old stream, points the single connection at
// the new channel, and replaces the timeline with its initial window. The
// archive preloads cached rows so something renders before the fetch lands.
func (a *App) switchChannel(ctx context.Context, channel string) {
	a.currentChannel = channel
	if a.archive != nil {
		if cached := a.archive.Recent(channel, 200); len(cached) > 0 {
			a.store.Replace(cached)
			a.redraw()
		}
	}
	a.chanStream.Ensure(ctx, channel)
	if err := a.pager.LoadInitial(ctx, channel, time.Now().Unix()); err != nil {
		logger.L.Error("history load failed", "channel", channel, "error", err)
		a.say("could not load history", StatusError)
		return
	}
	a.redraw()
}

func (a *App) handleStreamEvent(ctx context.Context, ev stream.Event) {
	switch e := ev.(type) {
	case stream.Connected:
		a.say("connected", StatusSuccess)
	case stream.Disconnected:
		a.say(fmt.Sprintf("connection lost, retrying in %s", e.Retry), StatusInfo)
	case stream.MessageEvent:
		if a.archive != nil {
			a.archive.Save(e.Message)
		}
		// Events buffered before a channel switch may still carry the old
		// channel. They are cached above but never enter the timeline.
		if e.Message.Channel != a.currentChannel {
			return
		}
		// Dedup across sources: already-loaded history wins.
		if !a.store.Add(e.Message) {
			return
		}
		a.redraw()
		if e.Message.Type == model.TypeCallInvite && !e.Message.Mine(a.userID) {
			if err := a.calls.Ring(e.Message); err != nil && !errors.Is(err, call.ErrBusy) {
				logger.L.Warn("invite not rung", "error", err)
			}
		}
	case stream.DeleteEvent:
		// The delete payload names only the id, so the cache is cleared
		// even when the message is not in the current timeline.
		if a.archive != nil {
			a.archive.Delete(e.ID)
		}
		if a.store.Remove(e.ID) {
			a.redraw()
		}
	}
}

func (a *App) handleMetaEvent(ctx context.Context, ev stream.Event) {
	switch e := ev.(type) {
	case stream.Connected:
		logger.L.Debug("meta stream connected")
	case stream.Disconnected:
		logger.L.Debug("meta stream lost", "retry", e.Retry)
	case stream.ChannelListChanged:
		if err := a.refreshChannels(ctx); err != nil {
			logger.L.Warn("channel refresh failed", "error", err)
		}
	case stream.SignalEvent:
		if err := a.calls.HandleSignal(ctx, e.Signal); err != nil {
			logger.L.Warn("signal not applied", "type", e.Signal.Payload.Type, "error", err)
		}
	case stream.MessageUpdateEvent:
		// The rewrite is cached under the message's own channel even when
		// that channel is not on screen.
		if a.archive != nil {
			a.archive.Save(e.Message)
		}
		if e.Message.Channel != a.currentChannel {
			return
		}
		a.store.Upsert(e.Message)
		a.redraw()
	}
}

// ----- commands (safe to call from any goroutine) -----

// SendText posts a text message to the current channel. The persisted
// message is applied immediately rather than waiting for the stream echo;
// the echo deduplicates against it.
func (a *App) SendText(text string) {
	a.do(func(ctx context.Context) {
		msg, err := a.client.PostMessage(ctx, api.PostMessageRequest{
			Channel: a.currentChannel,
			Alias:   a.alias,
			UserID:  a.userID,
			Type:    model.TypeText,
			Text:    text,
		})
		if err != nil {
			logger.L.Error("send failed", "error", err)
			a.say("send failed", StatusError)
			return
		}
		if a.store.Add(msg) {
			if a.archive != nil {
				a.archive.Save(msg)
			}
			a.redraw()
		}
	})
}

// SwitchChannel makes channel the active one.
func (a *App) SwitchChannel(channel string) {
	a.do(func(ctx context.Context) {
		if channel == a.currentChannel {
			return
		}
		a.switchChannel(ctx, channel)
	})
}

// StartDM creates (or joins) the DM channel with peer and switches to it.
func (a *App) StartDM(peer string) {
	a.do(func(ctx context.Context) {
		ch, err := a.client.CreateDM(ctx, [2]string{a.alias, peer})
		if err != nil {
			logger.L.Error("dm create failed", "peer", peer, "error", err)
			a.say("could not start DM", StatusError)
			return
		}
		if err := a.refreshChannels(ctx); err != nil {
			logger.L.Warn("channel refresh failed", "error", err)
		}
		a.switchChannel(ctx, ch.Key)
	})
}

// LoadOlder pages one more history window into the timeline.
func (a *App) LoadOlder() {
	a.do(func(ctx context.Context) {
		inserted, err := a.pager.LoadOlder(ctx)
		if err != nil {
			logger.L.Error("older load failed", "error", err)
			a.say("could not load older messages", StatusError)
			return
		}
		if len(inserted) == 0 {
			return
		}
		if a.archive != nil {
			for _, e := range inserted {
				if e.Kind == store.EntryMessage {
					a.archive.Save(*e.Message)
				}
			}
		}
		if a.render != nil {
			a.render.Prepended(inserted)
			a.render.Timeline(a.store.Entries())
		}
	})
}

// DeleteMessage deletes one of the user's own messages.
func (a *App) DeleteMessage(id int64) {
	a.do(func(ctx context.Context) {
		if err := a.client.DeleteMessage(ctx, id); err != nil {
			logger.L.Error("delete failed", "id", id, "error", err)
			a.say("delete failed", StatusError)
			return
		}
		if a.store.Remove(id) {
			if a.archive != nil {
				a.archive.Delete(id)
			}
			a.redraw()
		}
	})
}

// StartCall begins an outbound call to peer, creating the DM channel when
// the active channel is not already the one shared with them.
func (a *App) StartCall(peer string) {
	a.do(func(ctx context.Context) {
		channel := a.currentChannel
		cur, found := a.findChannel(channel)
		if !found || !cur.IsDM() || cur.Peer(a.alias) != peer {
			ch, err := a.client.CreateDM(ctx, [2]string{a.alias, peer})
			if err != nil {
				logger.L.Error("dm create failed", "peer", peer, "error", err)
				a.say("could not start call", StatusError)
				return
			}
			channel = ch.Key
		}
		if err := a.calls.StartCall(ctx, channel, peer); err != nil {
			if errors.Is(err, call.ErrBusy) {
				a.say("another call is in progress", StatusError)
				return
			}
			logger.L.Error("call start failed", "peer", peer, "error", err)
			a.say("could not start call", StatusError)
		}
	})
}

// AcceptCall answers the ringing call.
func (a *App) AcceptCall() {
	a.do(func(ctx context.Context) {
		if err := a.calls.Accept(ctx); err != nil {
			logger.L.Error("accept failed", "error", err)
			a.say("could not accept call", StatusError)
		}
	})
}

// DeclineCall rejects the ringing call.
func (a *App) DeclineCall() {
	a.do(func(ctx context.Context) {
		if err := a.calls.Decline(ctx); err != nil {
			logger.L.Warn("decline failed", "error", err)
		}
	})
}

// HangUp ends the current call.
func (a *App) HangUp() {
	a.do(func(ctx context.Context) {
		if err := a.calls.HangUp(ctx); err != nil && !errors.Is(err, call.ErrNoSession) {
			logger.L.Warn("hangup failed", "error", err)
		}
	})
}

func (a *App) findChannel(key string) (model.Channel, bool) {
	a.chanMu.Lock()
	defer a.chanMu.Unlock()
	for _, ch := range a.channels {
		if ch.Key == key {
			return ch, true
		}
	}
	return model.Channel{}, false
}
