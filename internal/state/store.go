// Package state persists per-job supervision state between daemon runs.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/spagmon/internal/supervisor"
)

const currentVersion = 1

// File is the on-disk layout of the state file.
type File struct {
	Version int                         `toml:"version"`
	Jobs    map[string]supervisor.State `toml:"jobs"`
}

// Store keeps job state in a TOML file.
type Store struct {
	path string
	file *File
}

// NewStore creates a store backed by path. Nothing is read until Load.
func NewStore(path string) *Store {
	if path == "" {
		path = "state.toml"
	}
	return &Store{
		path: path,
		file: &File{
			Version: currentVersion,
			Jobs:    make(map[string]supervisor.State),
		},
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state file. A missing file leaves the store empty.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var file File
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if file.Version > currentVersion {
		return fmt.Errorf("state file version %d is newer than supported version %d", file.Version, currentVersion)
	}
	if file.Jobs == nil {
		file.Jobs = make(map[string]supervisor.State)
	}
	file.Version = currentVersion

	s.file = &file
	return nil
}

// Save writes the state file atomically.
func (s *Store) Save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := toml.Marshal(s.file)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set state file permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Get returns the saved state of a job.
func (s *Store) Get(id string) (supervisor.State, bool) {
	st, ok := s.file.Jobs[id]
	return st, ok
}

// Put records the state of a job. Call Save to persist it.
func (s *Store) Put(id string, st supervisor.State) {
	s.file.Jobs[id] = st
}

// Delete forgets a job.
func (s *Store) Delete(id string) {
	delete(s.file.Jobs, id)
}

// IDs returns the ids of every stored job, sorted.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.file.Jobs))
	for id := range s.file.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
