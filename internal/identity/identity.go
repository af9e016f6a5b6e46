// Package identity manages the stable per-device user id that lets the
// client tell its own messages apart from everyone else's.
package identity

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	idFileName      = "device_id"
	sessionFileName = "session"
)

// Dir returns the configuration directory, honoring KOALATALK_CONFIG.
func Dir() string {
	if d := os.Getenv("KOALATALK_CONFIG"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".koalatalk")
}

// DeviceID returns the persisted device id, generating and saving a new one
// on first use. The id survives restarts; losing the file only means old
// messages stop rendering as "mine".
func DeviceID() (string, error) {
	dir := Dir()
	path := filepath.Join(dir, idFileName)

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr == nil {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}

// SaveSession persists the server session cookie so subsequent invocations
// stay logged in.
func SaveSession(token string) error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sessionFileName), []byte(token+"\n"), 0o600)
}

// LoadSession returns the saved session cookie, or "" when none exists.
func LoadSession() string {
	data, err := os.ReadFile(filepath.Join(Dir(), sessionFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ClearSession removes the saved session cookie.
func ClearSession() error {
	err := os.Remove(filepath.Join(Dir(), sessionFileName))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
