// Package pager fetches fixed-size time windows of channel history and
// merges them into the message store, forward (initial load) and backward
// (older pages).
package pager

import (
	"context"
	"fmt"
	"sort"

	"github.com/koalatalk/koalatalk-go/internal/api"
	"github.com/koalatalk/koalatalk-go/internal/logger"
	"github.com/koalatalk/koalatalk-go/internal/model"
	"github.com/koalatalk/koalatalk-go/internal/store"
)

// Pager pages history windows for one channel at a time. Its window state is
// reset by LoadInitial whenever the active channel changes. All failure
// paths leave hasMore/oldestTs untouched; a batch is merged all-or-nothing.
type Pager struct {
	client     *api.Client
	store      *store.Store
	windowDays int

	channel  string
	before   int64
	hasMore  bool
	oldestTs int64 // 0 until a message has been observed
}

// New creates a pager over the given client and store.
func New(c *api.Client, s *store.Store, windowDays int) *Pager {
	if windowDays <= 0 {
		windowDays = 3
	}
	return &Pager{client: c, store: s, windowDays: windowDays}
}

// HasMore reports whether older history remains on the server.
func (p *Pager) HasMore() bool { return p.hasMore }

// OldestTs returns the oldest created_at merged so far, 0 if none.
func (p *Pager) OldestTs() int64 { return p.oldestTs }

// Channel returns the channel the window state belongs to.
func (p *Pager) Channel() string { return p.channel }

// LoadInitial fetches the window (before - windowDays*86400, before] and
// replaces the store's contents with it. On error the previous window state
// is kept and the store is untouched.
func (p *Pager) LoadInitial(ctx context.Context, channel string, before int64) error {
	page, err := p.client.ListMessages(ctx, channel, p.windowDays, before)
	if err != nil {
		return fmt.Errorf("initial history load: %w", err)
	}

	p.store.Replace(page.Messages)
	p.channel = channel
	p.before = before
	p.hasMore = page.HasMore
	p.oldestTs = 0
	for _, m := range page.Messages {
		if p.oldestTs == 0 || m.CreatedAt < p.oldestTs {
			p.oldestTs = m.CreatedAt
		}
	}
	logger.L.Debug("history window loaded", "channel", channel, "count", len(page.Messages), "has_more", page.HasMore)
	return nil
}

// LoadOlder fetches the next window ending just before the oldest held
// message and merges it by prepend, skipping ids already known. It returns
// the entries that were inserted, oldest-first, with day headers computed
// against the batch's own day transitions, so a caller can anchor scroll
// position around the insertion. A nil slice with nil error means nothing
// to do (no more history, or an empty window).
func (p *Pager) LoadOlder(ctx context.Context) ([]store.Entry, error) {
	if !p.hasMore {
		return nil, nil
	}
	boundary := p.oldestTs
	if boundary == 0 {
		boundary = p.before
	}
	boundary--

	page, err := p.client.ListMessages(ctx, p.channel, p.windowDays, boundary)
	if err != nil {
		return nil, fmt.Errorf("older history load: %w", err)
	}

	batch := make([]model.Message, len(page.Messages))
	copy(batch, page.Messages)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].CreatedAt < batch[j].CreatedAt
	})

	var inserted []store.Entry
	prevKey := ""
	for _, m := range batch {
		if p.store.Has(m.ID) {
			// Overlap at the window edge.
			continue
		}
		if key := p.store.DayKey(m.CreatedAt); key != prevKey {
			inserted = append(inserted, store.Entry{Kind: store.EntryDayHeader, DayKey: key})
			prevKey = key
		}
		p.store.Add(m)
		if p.oldestTs == 0 || m.CreatedAt < p.oldestTs {
			p.oldestTs = m.CreatedAt
		}
		msg := m
		inserted = append(inserted, store.Entry{Kind: store.EntryMessage, Message: &msg})
	}

	p.hasMore = page.HasMore
	p.before = boundary
	logger.L.Debug("older window merged", "channel", p.channel, "inserted", len(inserted), "has_more", page.HasMore)
	return inserted, nil
}
