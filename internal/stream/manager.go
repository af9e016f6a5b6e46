// Package stream maintains the live server-push connections: one per active
// channel and one per authenticated identity, each with its own backoff
// reconnection policy. Events are surfaced as typed values on a channel;
// consumers receive them in order instead of wiring callbacks.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/koalatalk/koalatalk-go/internal/logger"
	"github.com/koalatalk/koalatalk-go/internal/model"
)

// Policy is the reconnect backoff policy: the scheduled delay is
// min(current, Cap), after which current doubles; a successful hello resets
// current to Floor.
type Policy struct {
	Floor time.Duration
	Cap   time.Duration
}

// DefaultPolicy is a 1s floor with a 30s cap.
var DefaultPolicy = Policy{Floor: time.Second, Cap: 30 * time.Second}

// NextDelay returns the delay to schedule for the current backoff value and
// the successor backoff. Both are clamped to Cap, so doubling stops there
// and an arbitrarily long outage cannot overflow the counter.
func (p Policy) NextDelay(cur time.Duration) (delay, next time.Duration) {
	delay = cur
	if delay > p.Cap {
		delay = p.Cap
	}
	if next = cur * 2; next > p.Cap || next < 0 {
		next = p.Cap
	}
	return delay, next
}

// Manager owns at most one live SSE connection. Ensure is idempotent: while
// a connection for the same target is open or connecting it does nothing;
// otherwise it supersedes any stale handle and opens a fresh one. A
// superseded handle's reconnect path becomes unreachable via its generation.
type Manager struct {
	hc     *http.Client
	urlFor func(target string) string
	decode func(name string, data []byte) (Event, bool)
	policy Policy
	events chan Event

	mu      sync.Mutex
	gen     int
	cancel  context.CancelFunc
	target  string
	running bool
	backoff time.Duration
}

func newManager(hc *http.Client, pol Policy, urlFor func(string) string, decode func(string, []byte) (Event, bool)) *Manager {
	if pol.Floor <= 0 {
		pol = DefaultPolicy
	}
	return &Manager{
		hc:     hc,
		urlFor: urlFor,
		decode: decode,
		policy: pol,
		events: make(chan Event, 64),
	}
}

// NewChannelManager creates the per-channel message stream manager for
// GET /stream/{channel}: events hello, ping, message, delete.
func NewChannelManager(baseURL string, hc *http.Client, pol Policy) *Manager {
	return newManager(hc, pol,
		func(channel string) string {
			return baseURL + "/stream/" + url.PathEscape(channel)
		},
		decodeChannelEvent)
}

// NewMetaManager creates the per-identity meta stream manager for
// GET /stream/meta/{alias}: events hello, ping, channel, webrtc_signal,
// message_update.
func NewMetaManager(baseURL string, hc *http.Client, pol Policy) *Manager {
	return newManager(hc, pol,
		func(alias string) string {
			return baseURL + "/stream/meta/" + url.PathEscape(alias)
		},
		decodeMetaEvent)
}

// Events is the ordered stream of typed events.
func (m *Manager) Events() <-chan Event { return m.events }

// Ensure opens a connection for target unless one is already open or
// connecting for the same target. Switching targets supersedes the old
// connection; tearing down on a channel switch is the caller's call to make.
func (m *Manager) Ensure(ctx context.Context, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running && m.target == target {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	m.target = target
	m.running = true
	m.backoff = m.policy.Floor

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx, m.gen, target)
}

// Close tears down the current connection, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	m.running = false
	m.target = ""
}

func (m *Manager) run(ctx context.Context, gen int, target string) {
	for {
		err := m.connectOnce(ctx, gen, target)
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		if gen != m.gen {
			// Superseded; this handle's error path is dead.
			m.mu.Unlock()
			return
		}
		delay, next := m.policy.NextDelay(m.backoff)
		m.backoff = next
		m.mu.Unlock()

		logger.L.Warn("stream disconnected", "target", target, "retry", delay, "error", err)
		m.emit(ctx, Disconnected{Err: err, Retry: delay})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) connectOnce(ctx context.Context, gen int, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.urlFor(target), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}

	return readSSE(resp.Body, func(name string, data []byte) {
		switch name {
		case "hello":
			m.mu.Lock()
			if gen == m.gen {
				m.backoff = m.policy.Floor
			}
			m.mu.Unlock()
			m.emit(ctx, Connected{})
		case "ping":
			// keepalive
		default:
			if ev, ok := m.decode(name, data); ok {
				m.emit(ctx, ev)
			}
		}
	})
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func decodeChannelEvent(name string, data []byte) (Event, bool) {
	switch name {
	case "message":
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.L.Debug("dropping malformed message event", "error", err)
			return nil, false
		}
		return MessageEvent{Message: msg}, true
	case "delete":
		var del struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(data, &del); err != nil {
			logger.L.Debug("dropping malformed delete event", "error", err)
			return nil, false
		}
		return DeleteEvent{ID: del.ID}, true
	}
	return nil, false
}

func decodeMetaEvent(name string, data []byte) (Event, bool) {
	switch name {
	case "channel":
		var ch model.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			logger.L.Debug("dropping malformed channel event", "error", err)
			return nil, false
		}
		return ChannelListChanged{Channel: ch}, true
	case "webrtc_signal":
		var sig model.Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			logger.L.Debug("dropping malformed signal event", "error", err)
			return nil, false
		}
		return SignalEvent{Signal: sig}, true
	case "message_update":
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.L.Debug("dropping malformed message_update event", "error", err)
			return nil, false
		}
		return MessageUpdateEvent{Message: msg}, true
	}
	return nil, false
}
