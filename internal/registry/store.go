// ABOUTME: File-backed registry store with atomic replace-on-write semantics.
// ABOUTME: Readers always observe either the fully-old or fully-new document.

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrCorrupt indicates the registry file exists but could not be parsed.
// Callers should fall back to an empty registry baseline and re-run
// discovery; the error is a warning, never fatal to unrelated commands.
var ErrCorrupt = errors.New("registry file corrupt")

// ErrSnapshotSuperseded indicates a write was discarded because the registry
// on disk already carries a newer updated_at than the snapshot being written.
var ErrSnapshotSuperseded = errors.New("registry snapshot superseded by a newer write")

const (
	// DirName is the fixed directory, relative to the working directory,
	// holding the registry file and related state.
	DirName = ".crewmux"
	// FileName is the registry document inside DirName.
	FileName = "registry.json"
)

// Store reads and writes the registry document for one working directory.
// Cross-process safety is delegated to the filesystem's atomic rename; the
// store never modifies the file in place.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore returns a store rooted at the given working directory.
func NewStore(workdir string) *Store {
	return &Store{
		path:   filepath.Join(workdir, DirName, FileName),
		logger: slog.Default().With("component", "registry"),
	}
}

// Path returns the absolute-or-relative path of the registry file.
func (s *Store) Path() string {
	return s.path
}

// Read deserializes the registry file. A missing file yields an empty
// registry and no error. An unparsable file yields an empty registry and
// ErrCorrupt.
func (s *Store) Read() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(""), nil
	}
	if err != nil {
		return New(""), fmt.Errorf("reading registry file: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return New(""), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if reg.Agents == nil {
		reg.Agents = []Agent{}
	}
	reg.normalizeCounter()
	return &reg, nil
}

// Write serializes the registry to a temp file in the target directory and
// renames it into place. Concurrent readers see either the old or the new
// content, never a partial write; any failure before the rename leaves the
// previous file intact.
//
// A snapshot older than the currently persisted updated_at is discarded with
// ErrSnapshotSuperseded so overlapping discovery cycles cannot regress the
// registry (last writer by timestamp wins, not by arrival).
func (s *Store) Write(reg *Registry) error {
	current, err := s.Read()
	if err == nil && current.UpdatedAt.After(reg.UpdatedAt) {
		s.logger.Debug("discarding stale registry snapshot",
			"snapshot", reg.UpdatedAt,
			"on_disk", current.UpdatedAt,
		)
		return ErrSnapshotSuperseded
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp registry file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting registry file mode: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing registry file: %w", err)
	}

	s.logger.Debug("registry written",
		"path", s.path,
		"agents", len(reg.Agents),
		"updated_at", reg.UpdatedAt,
	)
	return nil
}
