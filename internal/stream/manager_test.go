package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicyNextDelay(t *testing.T) {
	p := Policy{Floor: time.Second, Cap: 30 * time.Second}

	cur := p.Floor
	var delays []time.Duration
	for i := 0; i < 7; i++ {
		var d time.Duration
		d, cur = p.NextDelay(cur)
		delays = append(delays, d)
	}

	require.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}, delays)
}

func TestPolicyNextDelayStaysCappedThroughLongOutage(t *testing.T) {
	p := Policy{Floor: time.Second, Cap: 30 * time.Second}

	cur := p.Floor
	for i := 0; i < 100; i++ {
		var d time.Duration
		d, cur = p.NextDelay(cur)
		require.Positive(t, d, "iteration %d", i)
		require.LessOrEqual(t, d, p.Cap, "iteration %d", i)
	}

	d, next := p.NextDelay(cur)
	require.Equal(t, p.Cap, d)
	require.Equal(t, p.Cap, next)
}

func TestReadSSE(t *testing.T) {
	raw := strings.Join([]string{
		": keepalive comment",
		"event: hello",
		"data: {}",
		"",
		"data: no explicit name",
		"",
		"event: message",
		"data: line one",
		"data: line two",
		"",
	}, "\n")

	type rec struct {
		name string
		data string
	}
	var got []rec
	err := readSSE(strings.NewReader(raw), func(name string, data []byte) {
		got = append(got, rec{name, string(data)})
	})
	require.ErrorIs(t, err, io.EOF)

	require.Equal(t, []rec{
		{"hello", "{}"},
		{"message", "no explicit name"}, // default event name
		{"message", "line one\nline two"},
	}, got)
}

func TestDecodeChannelEvent(t *testing.T) {
	ev, ok := decodeChannelEvent("message", []byte(`{"id":7,"channel":"public-1","alias":"koala","type":"text","text":"hi","created_at":100}`))
	require.True(t, ok)
	me, isMsg := ev.(MessageEvent)
	require.True(t, isMsg)
	require.Equal(t, int64(7), me.Message.ID)
	require.Equal(t, "hi", me.Message.Text)

	ev, ok = decodeChannelEvent("delete", []byte(`{"id":7}`))
	require.True(t, ok)
	require.Equal(t, DeleteEvent{ID: 7}, ev)

	// Malformed payloads are dropped, not surfaced.
	_, ok = decodeChannelEvent("message", []byte(`{bad json`))
	require.False(t, ok)
	_, ok = decodeChannelEvent("unknown", []byte(`{}`))
	require.False(t, ok)
}

func TestDecodeMetaEvent(t *testing.T) {
	ev, ok := decodeMetaEvent("webrtc_signal", []byte(`{"from":"bear","payload":{"type":"offer","sdp":"v=0"}}`))
	require.True(t, ok)
	se, isSig := ev.(SignalEvent)
	require.True(t, isSig)
	require.Equal(t, "bear", se.Signal.From)
	require.Equal(t, "offer", se.Signal.Payload.Type)

	ev, ok = decodeMetaEvent("channel", []byte(`{"key":"dm:bear:koala","title":"bear"}`))
	require.True(t, ok)
	ch, isCh := ev.(ChannelListChanged)
	require.True(t, isCh)
	require.Equal(t, "dm:bear:koala", ch.Channel.Key)

	ev, ok = decodeMetaEvent("message_update", []byte(`{"id":3,"channel":"dm:bear:koala","type":"call_invite","text":"call ended","created_at":50}`))
	require.True(t, ok)
	mu, isMU := ev.(MessageUpdateEvent)
	require.True(t, isMU)
	require.Equal(t, "call ended", mu.Message.Text)
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return nil
	}
}

// The first connection delivers a short burst then closes; the manager must
// surface the events, report the drop with the floor delay, and reconnect.
func TestManagerStreamsAndReconnects(t *testing.T) {
	var conns atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stream/public-1", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: hello\ndata: {}\n\n")
		if conns.Add(1) == 1 {
			fmt.Fprint(w, "event: message\ndata: {\"id\":1,\"channel\":\"public-1\",\"alias\":\"koala\",\"type\":\"text\",\"text\":\"hi\",\"created_at\":100}\n\n")
			fmt.Fprint(w, "event: ping\ndata: {}\n\n")
			fmt.Fprint(w, "event: delete\ndata: {\"id\":1}\n\n")
			return // drop the connection
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	pol := Policy{Floor: 10 * time.Millisecond, Cap: 40 * time.Millisecond}
	m := NewChannelManager(srv.URL, srv.Client(), pol)
	defer m.Close()

	m.Ensure(context.Background(), "public-1")

	require.IsType(t, Connected{}, nextEvent(t, m.Events()))
	me, ok := nextEvent(t, m.Events()).(MessageEvent)
	require.True(t, ok)
	require.Equal(t, int64(1), me.Message.ID)
	require.Equal(t, DeleteEvent{ID: 1}, nextEvent(t, m.Events()))

	dc, ok := nextEvent(t, m.Events()).(Disconnected)
	require.True(t, ok)
	require.Equal(t, 10*time.Millisecond, dc.Retry, "hello must have reset backoff to the floor")

	require.IsType(t, Connected{}, nextEvent(t, m.Events()))
	require.GreaterOrEqual(t, conns.Load(), int64(2))
}

// Without a hello the backoff doubles per failed attempt up to the cap.
func TestManagerBackoffDoubles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pol := Policy{Floor: 5 * time.Millisecond, Cap: 20 * time.Millisecond}
	m := NewChannelManager(srv.URL, srv.Client(), pol)
	defer m.Close()

	m.Ensure(context.Background(), "public-1")

	var retries []time.Duration
	for i := 0; i < 4; i++ {
		dc, ok := nextEvent(t, m.Events()).(Disconnected)
		require.True(t, ok)
		require.Error(t, dc.Err)
		retries = append(retries, dc.Retry)
	}
	require.Equal(t, []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		20 * time.Millisecond, // capped
	}, retries)
}

func TestEnsureIdempotentAndSwitches(t *testing.T) {
	var conns atomic.Int64
	var lastPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		lastPath.Store(r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: hello\ndata: {}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	m := NewChannelManager(srv.URL, srv.Client(), Policy{Floor: 10 * time.Millisecond, Cap: 40 * time.Millisecond})
	defer m.Close()

	ctx := context.Background()
	m.Ensure(ctx, "public-1")
	require.IsType(t, Connected{}, nextEvent(t, m.Events()))

	// Same target: no new connection.
	m.Ensure(ctx, "public-1")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(1), conns.Load())

	// New target supersedes the old connection.
	m.Ensure(ctx, "dm:bear:koala")
	require.IsType(t, Connected{}, nextEvent(t, m.Events()))
	require.Equal(t, "/stream/dm:bear:koala", lastPath.Load())
}
