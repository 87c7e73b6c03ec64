// Package state persists what the engine last applied: the database
// fingerprint, the applied allow-list, a cached database snapshot for
// network-free boot restore, and the last remote-check timestamp.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"grimm.is/geowall/internal/clock"
	"grimm.is/geowall/internal/logging"
)

const (
	appliedFile   = "applied.json"
	lastCheckFile = "last-check"
	snapshotFile  = "geoip.mmdb"
)

// AppliedState records a successfully converged run.
type AppliedState struct {
	Fingerprint      string    `json:"fingerprint"`
	AppliedAt        time.Time `json:"applied_at"`
	AllowedCountries []string  `json:"allowed_countries"`
}

// Store reads and writes engine state under a state and a cache
// directory. All writes are atomic so a crash never leaves a torn file.
type Store struct {
	stateDir string
	cacheDir string
	logger   *logging.Logger
}

// NewStore creates a Store rooted at the given directories.
func NewStore(stateDir, cacheDir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		stateDir: stateDir,
		cacheDir: cacheDir,
		logger:   logger.WithComponent("state"),
	}
}

// EnsureDirs creates the state and cache directories if missing.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.stateDir, s.cacheDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the run-lock file path inside the state directory.
func (s *Store) LockPath() string {
	return filepath.Join(s.stateDir, "run.lock")
}

// LoadApplied returns the last converged state, or nil if no run has
// converged yet.
func (s *Store) LoadApplied() (*AppliedState, error) {
	data, err := os.ReadFile(filepath.Join(s.stateDir, appliedFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading applied state: %w", err)
	}
	var st AppliedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing applied state: %w", err)
	}
	return &st, nil
}

// SaveApplied records a converged run. Called only after the
// synchronizer reaches Converged.
func (s *Store) SaveApplied(st *AppliedState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding applied state: %w", err)
	}
	path := filepath.Join(s.stateDir, appliedFile)
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing applied state: %w", err)
	}
	s.logger.Debug("applied state recorded", "fingerprint", st.Fingerprint)
	return nil
}

// ClearApplied removes the applied-state record, used by teardown.
func (s *Store) ClearApplied() error {
	err := os.Remove(filepath.Join(s.stateDir, appliedFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// SnapshotPath returns the cached database snapshot location.
func (s *Store) SnapshotPath() string {
	return filepath.Join(s.cacheDir, snapshotFile)
}

// SaveSnapshot caches the decompressed database for boot restore.
func (s *Store) SaveSnapshot(data []byte) error {
	if err := renameio.WriteFile(s.SnapshotPath(), data, 0o600); err != nil {
		return fmt.Errorf("writing database snapshot: %w", err)
	}
	s.logger.Debug("database snapshot cached", "bytes", len(data))
	return nil
}

// LoadSnapshot returns the cached database, or nil if none exists.
func (s *Store) LoadSnapshot() ([]byte, error) {
	data, err := os.ReadFile(s.SnapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading database snapshot: %w", err)
	}
	return data, nil
}

// TouchLastCheck records the time of the most recent remote check,
// successful or not, so schedulers can throttle re-checks.
func (s *Store) TouchLastCheck() error {
	ts := clock.Now().UTC().Format(time.RFC3339) + "\n"
	path := filepath.Join(s.stateDir, lastCheckFile)
	return renameio.WriteFile(path, []byte(ts), 0o644)
}

// LastCheck returns the recorded remote-check time, or ok=false if no
// check has happened yet.
func (s *Store) LastCheck() (time.Time, bool) {
	data, err := os.ReadFile(filepath.Join(s.stateDir, lastCheckFile))
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
