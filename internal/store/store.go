// Package store holds the client-side message timeline: an ordered,
// deduplicated working set of messages with synthetic day headers.
package store

import (
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/koalatalk/koalatalk-go/internal/model"
)

// EntryKind tags a timeline entry.
type EntryKind int

const (
	// EntryDayHeader marks a change of local calendar day.
	EntryDayHeader EntryKind = iota
	// EntryMessage is an ordinary message entry.
	EntryMessage
)

// Entry is one renderable timeline item.
type Entry struct {
	Kind    EntryKind
	DayKey  string         // set for day headers
	Message *model.Message // set for messages
}

// Store is the ordered, deduplicated message collection. All mutations are
// serialized by the app event loop; the mutex additionally keeps snapshot
// reads safe from other goroutines (renderer, archive writer).
type Store struct {
	mu      sync.Mutex
	loc     *time.Location
	byID    map[int64]*model.Message
	ordered []*model.Message // ascending by CreatedAt, ties in insertion order
	days    map[string]int   // message count per local day key
}

// New creates an empty store bucketing days in loc. A nil loc means the
// system local zone.
func New(loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		loc:  loc,
		byID: make(map[int64]*model.Message),
		days: make(map[string]int),
	}
}

// DayKey returns the local calendar day key for an epoch timestamp.
func (s *Store) DayKey(ts int64) string {
	return time.Unix(ts, 0).In(s.loc).Format("2006-01-02")
}

// Add inserts the message unless its id is already present. Returns false
// for duplicates, which leaves size and order untouched.
func (s *Store) Add(m model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(m)
}

func (s *Store) addLocked(m model.Message) bool {
	if _, dup := s.byID[m.ID]; dup {
		return false
	}
	msg := m
	// Upper bound on CreatedAt: equal timestamps keep insertion order.
	i := sort.Search(len(s.ordered), func(i int) bool {
		return s.ordered[i].CreatedAt > msg.CreatedAt
	})
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = &msg
	s.byID[msg.ID] = &msg
	s.days[s.DayKey(msg.CreatedAt)]++
	return true
}

// Has reports whether a message id is in the working set.
func (s *Store) Has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

// Remove deletes the message by id. Day headers are derived during
// iteration, so an emptied day simply stops producing one.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	for i, m := range s.ordered {
		if m == msg {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	key := s.DayKey(msg.CreatedAt)
	if s.days[key]--; s.days[key] <= 0 {
		delete(s.days, key)
	}
	return true
}

// Upsert replaces the message with the same id, or inserts it when absent.
// Used for message_update events (e.g. a call invite rewritten to "call
// ended").
func (s *Store) Upsert(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[m.ID]; ok {
		if old.CreatedAt == m.CreatedAt {
			*old = m
			return
		}
		// Timestamp changed: reposition.
		delete(s.byID, m.ID)
		for i, cur := range s.ordered {
			if cur == old {
				s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
				break
			}
		}
		key := s.DayKey(old.CreatedAt)
		if s.days[key]--; s.days[key] <= 0 {
			delete(s.days, key)
		}
	}
	s.addLocked(m)
}

// Replace swaps the entire working set for the given batch, used on the
// initial history load and on channel switch.
func (s *Store) Replace(msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[int64]*model.Message, len(msgs))
	s.ordered = s.ordered[:0]
	s.days = make(map[string]int)
	sorted := make([]model.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt < sorted[j].CreatedAt
	})
	for _, m := range sorted {
		s.addLocked(m)
	}
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ordered)
}

// OldestTs returns the oldest created_at held, or 0 when empty.
func (s *Store) OldestTs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ordered) == 0 {
		return 0
	}
	return s.ordered[0].CreatedAt
}

// NewestTs returns the newest created_at held, or 0 when empty.
func (s *Store) NewestTs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ordered) == 0 {
		return 0
	}
	return s.ordered[len(s.ordered)-1].CreatedAt
}

// Get returns a copy of the message by id.
func (s *Store) Get(id int64) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[id]; ok {
		return *m, true
	}
	return model.Message{}, false
}

// Messages returns an ascending snapshot of the working set.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.ordered))
	for i, m := range s.ordered {
		out[i] = *m
	}
	return out
}

// Entries yields the renderable timeline: messages ascending by created_at
// with a day-header entry immediately before the first message of each new
// local calendar day. The sequence is restartable; each iteration works on
// a snapshot.
func (s *Store) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		s.mu.Lock()
		snapshot := make([]model.Message, len(s.ordered))
		for i, m := range s.ordered {
			snapshot[i] = *m
		}
		s.mu.Unlock()

		lastDay := ""
		for i := range snapshot {
			m := &snapshot[i]
			key := s.DayKey(m.CreatedAt)
			if key != lastDay {
				if !yield(Entry{Kind: EntryDayHeader, DayKey: key}) {
					return
				}
				lastDay = key
			}
			if !yield(Entry{Kind: EntryMessage, Message: m}) {
				return
			}
		}
	}
}
