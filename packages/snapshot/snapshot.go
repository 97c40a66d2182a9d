// Package snapshot stores response bodies by key and compares later
// responses against them.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
)

// DefaultFile is where snapshots go when a call names no file.
const DefaultFile = "__snapshots__/hitscript.snap.json"

// Store reads snapshot files once and keeps them cached. In update mode a
// missing or different snapshot is written instead of failing.
type Store struct {
	mu     sync.Mutex
	update bool
	files  map[string]map[string]any
}

func NewStore(update bool) *Store {
	return &Store{update: update, files: make(map[string]map[string]any)}
}

// Result is the outcome of one comparison.
type Result struct {
	Passed     bool
	Message    string
	Expected   any
	Actual     any
	IsNew      bool
	WasUpdated bool
}

// Compare checks actual against the snapshot stored under key in file.
// The error is for unreadable or unwritable files, not mismatches.
func (s *Store) Compare(file, key string, actual any) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &Result{Actual: actual}

	snapshots, err := s.load(file)
	if err != nil {
		return nil, fmt.Errorf("loading snapshots: %w", err)
	}

	expected, exists := snapshots[key]
	if !exists {
		if !s.update {
			result.Message = "snapshot does not exist (run with --update-snapshots to create)"
			return result, nil
		}
		snapshots[key] = normalize(actual)
		if err := s.save(file, snapshots); err != nil {
			return nil, fmt.Errorf("saving snapshot: %w", err)
		}
		result.Passed = true
		result.IsNew = true
		result.Expected = actual
		result.Message = "new snapshot created"
		return result, nil
	}

	result.Expected = expected
	if reflect.DeepEqual(normalize(expected), normalize(actual)) {
		result.Passed = true
		return result, nil
	}

	if !s.update {
		result.Message = "snapshot mismatch"
		return result, nil
	}
	snapshots[key] = normalize(actual)
	if err := s.save(file, snapshots); err != nil {
		return nil, fmt.Errorf("updating snapshot: %w", err)
	}
	result.Passed = true
	result.WasUpdated = true
	result.Message = "snapshot updated"
	return result, nil
}

// Key returns name, or a hash of value when name is empty.
func Key(name string, value any) string {
	if name != "" {
		return name
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("%v", value)))
	return "anon_" + hex.EncodeToString(hash[:8])
}

func (s *Store) load(path string) (map[string]any, error) {
	if cached, ok := s.files[path]; ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.files[path] = make(map[string]any)
		return s.files[path], nil
	}
	if err != nil {
		return nil, err
	}

	var snapshots map[string]any
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if snapshots == nil {
		snapshots = make(map[string]any)
	}
	s.files[path] = snapshots
	return snapshots, nil
}

func (s *Store) save(path string, snapshots map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return err
	}
	s.files[path] = snapshots
	return os.WriteFile(path, data, 0o644)
}

// normalize round-trips v through JSON so numbers compare as float64.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
