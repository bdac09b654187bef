package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kenmeiwatch/kenmeiwatch/internal/chapter"
)

// Snapshot maps a series identifier to the last chapter a notification was sent for.
type Snapshot map[string]chapter.Value

// Store persists a Snapshot as a single JSON object on disk.
type Store struct {
	path string
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the state file.
func (s *Store) Path() string { return s.path }

// Load reads the state file. A missing file yields an empty snapshot and no
// error. An unreadable or malformed file yields an empty snapshot and the
// error, so callers can report it and carry on.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("load state: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil
	}
	out := Snapshot{}
	if err := json.Unmarshal(data, &out); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal state %s: %w", s.path, err)
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out, nil
}

// Save replaces the state file with snap. The data goes to a temporary file in
// the same directory which is synced and then renamed over the target, so a
// crash leaves either the old or the new file, never a torn one.
func (s *Store) Save(snap Snapshot) error {
	b, err := encode(snap)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		cleanup()
		return fmt.Errorf("chmod state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// encode renders the snapshot with sorted keys and 4-space indentation so that
// saving an unchanged snapshot rewrites identical bytes.
func encode(snap Snapshot) ([]byte, error) {
	if snap == nil {
		snap = Snapshot{}
	}
	m := make(map[string]string, len(snap))
	for k, v := range snap {
		m[k] = string(v)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
