package main

import (
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/koalatalk/koalatalk-go/internal/app"
	"github.com/koalatalk/koalatalk-go/internal/model"
	"github.com/koalatalk/koalatalk-go/internal/store"
)

// formatMessage renders one message as a single terminal line.
func formatMessage(m *model.Message, self string) string {
	who := m.Alias
	if m.Mine(self) {
		who = who + " (you)"
	}
	stamp := m.Time().Format("15:04")

	switch m.Type {
	case model.TypeText:
		return fmt.Sprintf("%s  %s: %s", stamp, who, m.Text)
	case model.TypeVoice:
		return fmt.Sprintf("%s  %s: [voice] %s", stamp, who, m.AudioURL)
	case model.TypeImage:
		return fmt.Sprintf("%s  %s: [image] %s", stamp, who, m.ImageURL)
	case model.TypeFile, model.TypeDocument, model.TypeAttachment:
		name := m.FileName
		if name == "" {
			name = m.FileURL
		}
		return fmt.Sprintf("%s  %s: [file] %s", stamp, who, name)
	case model.TypeCallInvite:
		return fmt.Sprintf("%s  %s: [call]", stamp, who)
	default:
		return fmt.Sprintf("%s  %s: [%s]", stamp, who, m.Type)
	}
}

func formatEntry(e store.Entry, self string) string {
	if e.Kind == store.EntryDayHeader {
		return "--- " + e.DayKey + " ---"
	}
	return formatMessage(e.Message, self)
}

// lineRenderer is the append-only terminal view. A full timeline pass only
// prints messages it has not printed before, so live messages show up as
// new lines instead of a repaint; older-history loads are announced as a
// block above the flow.
type lineRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	self    string
	loc     *time.Location
	printed map[int64]bool
	lastDay string
}

func newLineRenderer(out io.Writer, self string, loc *time.Location) *lineRenderer {
	if loc == nil {
		loc = time.Local
	}
	return &lineRenderer{out: out, self: self, loc: loc, printed: make(map[int64]bool)}
}

var _ app.Renderer = (*lineRenderer)(nil)

func (r *lineRenderer) Timeline(entries iter.Seq[store.Entry]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := range entries {
		if e.Kind != store.EntryMessage || r.printed[e.Message.ID] {
			continue
		}
		if day := e.Message.Time().In(r.loc).Format("2006-01-02"); day != r.lastDay {
			fmt.Fprintln(r.out, "--- "+day+" ---")
			r.lastDay = day
		}
		fmt.Fprintln(r.out, formatMessage(e.Message, r.self))
		r.printed[e.Message.ID] = true
	}
}

func (r *lineRenderer) Prepended(entries []store.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "=== older messages ===")
	for _, e := range entries {
		fmt.Fprintln(r.out, formatEntry(e, r.self))
		if e.Kind == store.EntryMessage {
			r.printed[e.Message.ID] = true
		}
	}
	fmt.Fprintln(r.out, "======================")
}

// Reset clears the printed-id memory, for channel switches.
func (r *lineRenderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printed = make(map[int64]bool)
	r.lastDay = ""
}

// statusLine writes status updates as prefixed lines.
type statusLine struct {
	out io.Writer
}

var _ app.StatusSink = statusLine{}

func (s statusLine) Status(msg string, kind app.StatusKind) {
	prefix := "*"
	if kind == app.StatusError {
		prefix = "!"
	}
	fmt.Fprintf(s.out, "%s %s\n", prefix, msg)
}
