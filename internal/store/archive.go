package store

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/koalatalk/koalatalk-go/internal/logger"
	"github.com/koalatalk/koalatalk-go/internal/model"
)

// Archive mirrors the timeline to a local SQLite file so a restarted client
// can render something before the first history fetch lands. The database is
// opened lazily; if opening or writing fails the archive degrades to an
// in-memory buffer and the client keeps working.
type Archive struct {
	path string

	once    sync.Once
	db      *sql.DB
	initErr error

	mu     sync.Mutex
	fallen []model.Message // in-memory fallback
}

// retention matches the server's 24h message retention, so the cache never
// serves rows the server would no longer return.
const retention = 24 * time.Hour

// fallbackCap bounds the in-memory buffer used when SQLite is unavailable.
// Past the cap the oldest entries are dropped.
const fallbackCap = 512

// NewArchive creates an archive backed by the SQLite file at path.
func NewArchive(path string) *Archive {
	return &Archive{path: path}
}

func (a *Archive) init() {
	db, err := sql.Open("sqlite", "file:"+a.path+"?_busy_timeout=10000")
	if err != nil {
		a.initErr = err
		logger.L.Warn("sqlite open failed; archive falls back to memory", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY,
		channel TEXT,
		alias TEXT,
		user_id TEXT,
		type TEXT,
		text TEXT,
		audio_url TEXT,
		image_url TEXT,
		file_url TEXT,
		file_name TEXT,
		payload TEXT,
		created_at INTEGER
	);`); err != nil {
		a.initErr = err
		logger.L.Warn("sqlite table creation failed; archive falls back to memory", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_channel_created
		ON messages (channel, created_at);`); err != nil {
		a.initErr = err
		return
	}
	cutoff := time.Now().Add(-retention).Unix()
	if _, err = db.Exec(`DELETE FROM messages WHERE created_at < ?;`, cutoff); err != nil {
		logger.L.Warn("archive prune failed", "error", err)
	}
	a.db = db
	logger.L.Info("message archive initialized", "path", a.path)
}

// Save persists one message, replacing any previous row with the same id.
func (a *Archive) Save(m model.Message) {
	a.once.Do(a.init)

	if a.initErr == nil && a.db != nil {
		_, err := a.db.Exec(`INSERT OR REPLACE INTO messages
			(id, channel, alias, user_id, type, text, audio_url, image_url, file_url, file_name, payload, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?);`,
			m.ID, m.Channel, m.Alias, m.UserID, string(m.Type), m.Text,
			m.AudioURL, m.ImageURL, m.FileURL, m.FileName, string(m.Payload), m.CreatedAt)
		if err == nil {
			return
		}
		logger.L.Error("archive write failed; falling back to memory", "error", err)
	}

	a.mu.Lock()
	replaced := false
	for i := range a.fallen {
		if a.fallen[i].ID == m.ID {
			a.fallen[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		a.fallen = append(a.fallen, m)
		if len(a.fallen) > fallbackCap {
			a.fallen = a.fallen[len(a.fallen)-fallbackCap:]
		}
	}
	a.mu.Unlock()
}

// Delete removes a message row, mirroring a server-side delete.
func (a *Archive) Delete(id int64) {
	a.once.Do(a.init)
	if a.initErr == nil && a.db != nil {
		if _, err := a.db.Exec(`DELETE FROM messages WHERE id = ?;`, id); err != nil {
			logger.L.Warn("archive delete failed", "id", id, "error", err)
		}
		return
	}
	a.mu.Lock()
	for i, m := range a.fallen {
		if m.ID == id {
			a.fallen = append(a.fallen[:i], a.fallen[i+1:]...)
			break
		}
	}
	a.mu.Unlock()
}

// Recent returns up to limit messages of a channel in chronological order.
func (a *Archive) Recent(channel string, limit int) []model.Message {
	a.once.Do(a.init)

	if a.initErr == nil && a.db != nil {
		rows, err := a.db.Query(`SELECT id, channel, alias, user_id, type, text,
			audio_url, image_url, file_url, file_name, payload, created_at
			FROM messages WHERE channel = ?
			ORDER BY created_at DESC, id DESC LIMIT ?;`, channel, limit)
		if err == nil {
			defer rows.Close()
			var out []model.Message
			for rows.Next() {
				var m model.Message
				var typ, payload string
				if err := rows.Scan(&m.ID, &m.Channel, &m.Alias, &m.UserID, &typ, &m.Text,
					&m.AudioURL, &m.ImageURL, &m.FileURL, &m.FileName, &payload, &m.CreatedAt); err != nil {
					continue
				}
				m.Type = model.MessageType(typ)
				if payload != "" {
					m.Payload = model.Payload(payload)
				}
				out = append(out, m)
			}
			// Query is newest-first for the LIMIT; flip to chronological.
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
			return out
		}
		logger.L.Warn("archive query failed", "error", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.Message
	for _, m := range a.fallen {
		if m.Channel == channel {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Close releases the database handle.
func (a *Archive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
