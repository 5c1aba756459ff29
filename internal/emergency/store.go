// Package emergency implements the emergency-persistence path (spec.md
// §4.5, C5): a file-backed store for batches a sink failed to accept,
// recovered on the next process start. Deliberately stdlib-only (see
// DESIGN.md) — spec.md's single-flat-file atomic write/rename/.corrupt
// contract is a file-level primitive no KV engine in the pack exposes
// directly.
package emergency

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"reqlog/internal/pipeline"
)

// entry is the on-disk shape of one recovered batch. BatchID lets a
// future dedup pass (or a diagnostics tool) tell distinct save() calls
// apart even if two happen to share a window_end_timestamp.
type entry struct {
	BatchID   string           `json:"batch_id"`
	WindowEnd int64            `json:"window_end_timestamp"`
	Records   []map[string]any `json:"records"`
}

// Store persists and recovers batches at a single well-known path.
type Store struct {
	path string
}

// DefaultPath mirrors spec.md §4.5's "default derived from process id
// and a well-known directory".
func DefaultPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("reqlog-emergency-%d.json", os.Getpid()))
}

// New returns a Store rooted at path. An empty path selects DefaultPath.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// Save serializes batches and writes them atomically: write to a
// temp file in the same directory, fsync, then rename over the target.
// A concurrent Save from another process (or a crash mid-write) can
// therefore never leave a half-written file at path.
func (s *Store) Save(batches []pipeline.Batch) error {
	entries := make([]entry, 0, len(batches))
	for _, b := range batches {
		entries = append(entries, entry{
			BatchID:   uuid.NewString(),
			WindowEnd: b.WindowEnd,
			Records:   b.Records,
		})
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("emergency: marshal batches: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".reqlog-emergency-*.tmp")
	if err != nil {
		return fmt.Errorf("emergency: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("emergency: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("emergency: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("emergency: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("emergency: rename into place: %w", err)
	}
	return nil
}

// LoadAndClear returns previously saved batches, deleting the file on
// success. If the file is absent, it returns (nil, nil) — there is
// nothing to recover. If the file exists but cannot be parsed, it is
// moved aside with a .corrupt suffix (timestamped, so a second corrupt
// file in the same run doesn't clobber the first) and LoadAndClear
// returns an empty result rather than an error, matching spec.md §4.5.
func (s *Store) LoadAndClear() ([]pipeline.Batch, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("emergency: read store: %w", err)
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		corruptPath := fmt.Sprintf("%s.%d.corrupt", s.path, time.Now().UnixNano())
		if renameErr := os.Rename(s.path, corruptPath); renameErr != nil {
			return nil, fmt.Errorf("emergency: move corrupt store aside: %w", renameErr)
		}
		return nil, nil
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("emergency: clear store after load: %w", err)
	}

	batches := make([]pipeline.Batch, 0, len(entries))
	for _, e := range entries {
		batches = append(batches, pipeline.Batch{WindowEnd: e.WindowEnd, Records: e.Records})
	}
	return batches, nil
}
