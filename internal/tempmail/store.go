package tempmail

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shineum/mailhook/internal/mail"
)

// State is what a session persists between runs.
type State struct {
	Address  *mail.Address  `json:"address,omitempty"`
	Messages []mail.Message `json:"messages"`
	SavedAt  time.Time      `json:"saved_at"`
}

// Store persists session state.
type Store interface {
	Load() (State, error)
	Save(State) error
	Clear() error
}

// FileStore keeps the state in one JSON file.
type FileStore struct {
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore at path. The file is created on first
// save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("session file path is empty")
	}
	return &FileStore{path: path, now: time.Now}, nil
}

// DefaultSessionPath returns ~/.tempmail/session.json, or a path under the
// working directory when no home directory is known.
func DefaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tempmail", "session.json")
	}
	return filepath.Join(home, ".tempmail", "session.json")
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state. A missing file is an empty state; an expired or
// unreadable address is discarded and the file removed.
func (s *FileStore) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		_ = s.Clear()
		return State{}, nil
	}
	if st.Address == nil || st.Address.Expired(s.now()) {
		_ = s.Clear()
		return State{}, nil
	}
	return st, nil
}

// Save writes st atomically.
func (s *FileStore) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	st.SavedAt = s.now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear removes the file.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
