// Package store persists immutable build and run records as one JSON file
// per record id, plus a single mutable pointers file. Records are append
// only: they are written once and never rewritten or deleted.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/benchsweep/benchsweep/internal/models"
)

const (
	frameworkDir   = "framework"
	applicationDir = "application"
	runsDir        = "runs"
	pointersFile   = "pointers.json"
)

// Store is a file-backed record store. The pointers file is always read and
// rewritten whole; a mutex serializes that read-modify-write within this
// process. Two tool instances sharing one store directory are not protected
// against lost pointer updates — the store is assumed to be externally
// synchronized between machines.
type Store struct {
	dir string

	mu sync.Mutex // guards pointers.json
}

// Open prepares a store rooted at dir, creating the layout if needed.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{frameworkDir, applicationDir, runsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("creating store layout: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) writeRecord(sub, id string, rec any) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", id, err)
	}
	path := filepath.Join(s.dir, sub, id+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing record %s: %w", id, err)
	}
	return nil
}

// readRecord decodes the record with the given id into out. It reports
// found=false when no such record exists. A record that exists but fails to
// parse is a fatal ErrMalformedRecord, never silently skipped.
func (s *Store) readRecord(sub, id string, out any) (bool, error) {
	path := filepath.Join(s.dir, sub, id+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading record %s: %w", id, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", models.ErrMalformedRecord, path, err)
	}
	return true, nil
}

// WriteFrameworkBuild appends a framework build record.
func (s *Store) WriteFrameworkBuild(rec models.FrameworkBuildRecord) error {
	return s.writeRecord(frameworkDir, rec.ID, rec)
}

// ReadFrameworkBuild returns the framework build with the given id, or nil
// when it does not exist.
func (s *Store) ReadFrameworkBuild(id string) (*models.FrameworkBuildRecord, error) {
	var rec models.FrameworkBuildRecord
	found, err := s.readRecord(frameworkDir, id, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// WriteApplicationBuild appends an application build record.
func (s *Store) WriteApplicationBuild(rec models.ApplicationBuildRecord) error {
	return s.writeRecord(applicationDir, rec.ID, rec)
}

// ReadApplicationBuild returns the application build with the given id, or
// nil when it does not exist.
func (s *Store) ReadApplicationBuild(id string) (*models.ApplicationBuildRecord, error) {
	var rec models.ApplicationBuildRecord
	found, err := s.readRecord(applicationDir, id, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// WriteBenchmarkRun appends a benchmark run record.
func (s *Store) WriteBenchmarkRun(rec models.BenchmarkRunRecord) error {
	return s.writeRecord(runsDir, rec.ID, rec)
}

// ReadBenchmarkRun returns the benchmark run with the given id, or nil when
// it does not exist.
func (s *Store) ReadBenchmarkRun(id string) (*models.BenchmarkRunRecord, error) {
	var rec models.BenchmarkRunRecord
	found, err := s.readRecord(runsDir, id, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// ListBenchmarkRuns returns every benchmark run record, ordered by id for
// reproducibility.
func (s *Store) ListBenchmarkRuns() ([]models.BenchmarkRunRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, runsDir))
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)

	runs := make([]models.BenchmarkRunRecord, 0, len(ids))
	for _, id := range ids {
		var rec models.BenchmarkRunRecord
		found, err := s.readRecord(runsDir, id, &rec)
		if err != nil {
			return nil, err
		}
		if found {
			runs = append(runs, rec)
		}
	}
	return runs, nil
}

// ReadPointers returns the pointer set, or its zero value when none has been
// written yet.
func (s *Store) ReadPointers() (models.Pointers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p models.Pointers
	data, err := os.ReadFile(filepath.Join(s.dir, pointersFile))
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("reading pointers: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: pointers: %v", models.ErrMalformedRecord, err)
	}
	return p, nil
}

// WritePointers overwrites the whole pointer set.
func (s *Store) WritePointers(p models.Pointers) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pointers: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, pointersFile), data, 0644); err != nil {
		return fmt.Errorf("writing pointers: %w", err)
	}
	return nil
}
