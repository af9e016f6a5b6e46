package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koalatalk/koalatalk-go/internal/model"
)

func msg(id int64, ts int64) model.Message {
	return model.Message{ID: id, Channel: "public-1", Alias: "koala", Type: model.TypeText, Text: "hi", CreatedAt: ts}
}

func ids(s *Store) []int64 {
	var out []int64
	for _, m := range s.Messages() {
		out = append(out, m.ID)
	}
	return out
}

func TestAddOrdersByCreatedAt(t *testing.T) {
	s := New(time.UTC)

	require.True(t, s.Add(msg(2, 200)))
	require.True(t, s.Add(msg(1, 100)))
	require.True(t, s.Add(msg(3, 300)))

	require.Equal(t, []int64{1, 2, 3}, ids(s))
	require.Equal(t, int64(100), s.OldestTs())
	require.Equal(t, int64(300), s.NewestTs())
}

func TestAddDuplicateIsNoOp(t *testing.T) {
	s := New(time.UTC)

	require.True(t, s.Add(msg(1, 100)))
	dup := msg(1, 100)
	dup.Text = "changed"
	require.False(t, s.Add(dup))

	require.Equal(t, 1, s.Len())
	got, ok := s.Get(1)
	require.True(t, ok)
	require.Equal(t, "hi", got.Text, "duplicate add must not alter the stored message")
}

func TestAddEqualTimestampsKeepInsertionOrder(t *testing.T) {
	s := New(time.UTC)

	require.True(t, s.Add(msg(10, 500)))
	require.True(t, s.Add(msg(11, 500)))
	require.True(t, s.Add(msg(12, 500)))

	require.Equal(t, []int64{10, 11, 12}, ids(s))
}

func TestRemove(t *testing.T) {
	s := New(time.UTC)
	s.Add(msg(1, 100))
	s.Add(msg(2, 200))

	require.True(t, s.Remove(1))
	require.False(t, s.Remove(1), "second remove of the same id")
	require.False(t, s.Remove(99), "unknown id")
	require.Equal(t, []int64{2}, ids(s))
	require.False(t, s.Has(1))
}

func TestUpsertReplacesInPlace(t *testing.T) {
	s := New(time.UTC)
	s.Add(msg(1, 100))
	s.Add(msg(2, 200))

	updated := msg(1, 100)
	updated.Type = model.TypeCallInvite
	updated.Text = "call ended"
	s.Upsert(updated)

	require.Equal(t, 2, s.Len())
	got, ok := s.Get(1)
	require.True(t, ok)
	require.Equal(t, "call ended", got.Text)
	require.Equal(t, []int64{1, 2}, ids(s))
}

func TestUpsertRepositionsOnTimestampChange(t *testing.T) {
	s := New(time.UTC)
	s.Add(msg(1, 100))
	s.Add(msg(2, 200))

	moved := msg(1, 300)
	s.Upsert(moved)

	require.Equal(t, []int64{2, 1}, ids(s))
}

func TestUpsertInsertsWhenAbsent(t *testing.T) {
	s := New(time.UTC)
	s.Upsert(msg(7, 700))

	require.True(t, s.Has(7))
	require.Equal(t, 1, s.Len())
}

func TestReplaceSortsBatch(t *testing.T) {
	s := New(time.UTC)
	s.Add(msg(99, 1))

	s.Replace([]model.Message{msg(3, 300), msg(1, 100), msg(2, 200)})

	require.Equal(t, []int64{1, 2, 3}, ids(s))
	require.False(t, s.Has(99), "replace drops the previous working set")
}

// Day headers appear exactly once per local calendar day, immediately before
// that day's first message.
func TestEntriesDayHeaders(t *testing.T) {
	s := New(time.UTC)
	// 1970-01-01 23:59:59 and 1970-01-02 00:00:01 UTC straddle midnight.
	s.Add(msg(1, 86399))
	s.Add(msg(2, 86401))
	s.Add(msg(3, 86402))

	var got []Entry
	for e := range s.Entries() {
		got = append(got, e)
	}

	require.Len(t, got, 5)
	require.Equal(t, EntryDayHeader, got[0].Kind)
	require.Equal(t, "1970-01-01", got[0].DayKey)
	require.Equal(t, int64(1), got[1].Message.ID)
	require.Equal(t, EntryDayHeader, got[2].Kind)
	require.Equal(t, "1970-01-02", got[2].DayKey)
	require.Equal(t, int64(2), got[3].Message.ID)
	require.Equal(t, int64(3), got[4].Message.ID)
}

func TestEntriesHeaderGoneAfterDayEmptied(t *testing.T) {
	s := New(time.UTC)
	s.Add(msg(1, 86399))
	s.Add(msg(2, 86401))
	s.Remove(1)

	var headers []string
	for e := range s.Entries() {
		if e.Kind == EntryDayHeader {
			headers = append(headers, e.DayKey)
		}
	}
	require.Equal(t, []string{"1970-01-02"}, headers)
}

func TestEntriesRestartable(t *testing.T) {
	s := New(time.UTC)
	s.Add(msg(1, 100))
	s.Add(msg(2, 200))

	seq := s.Entries()
	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	require.Equal(t, first, second)
}

func TestDayKeyUsesConfiguredZone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	s := New(tokyo)

	// 1970-01-01 16:00:00 UTC is 01:00 on Jan 2 in Tokyo.
	require.Equal(t, "1970-01-02", s.DayKey(16*3600))
}
