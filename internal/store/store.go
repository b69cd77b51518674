// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the persisted pipeline catalog (C2): CRUD
// with invariant validation over a JSON snapshot on disk, guarded by a
// single-writer/many-readers lock.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/fyreflow/core/internal/cron"
	"github.com/fyreflow/core/internal/model"
	fyerrors "github.com/fyreflow/core/pkg/errors"
)

const snapshotFileName = "local-db.json"

// snapshot is the on-disk shape of the catalog.
type snapshot struct {
	Pipelines map[string]*model.Pipeline `json:"pipelines"`
	Version   int                        `json:"version"`
}

// ActiveRunChecker reports whether a pipeline currently has an active
// run, consulted by Delete to refuse deleting a pipeline in use.
type ActiveRunChecker interface {
	HasActiveRun(pipelineID string) bool
}

// Store is the pipeline catalog: an in-memory cache backed by an atomic
// JSON snapshot file, reloaded on out-of-band edits via fsnotify.
type Store struct {
	mu   sync.RWMutex
	path string
	data snapshot

	logger    *slog.Logger
	watcher   *fsnotify.Watcher
	activeRun ActiveRunChecker
}

// Open loads (or initializes) the catalog at dataDir/local-db.json and
// starts a filesystem watch for out-of-band edits.
func Open(dataDir string, activeRun ActiveRunChecker, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fyerrors.Wrapf(err, "creating data dir %s", dataDir)
	}

	s := &Store{
		path:      filepath.Join(dataDir, snapshotFileName),
		data:      snapshot{Pipelines: map[string]*model.Pipeline{}, Version: 1},
		logger:    logger,
		activeRun: activeRun,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("pipeline store: fsnotify unavailable, out-of-band edits will not be picked up", "error", err)
	} else {
		if err := watcher.Add(dataDir); err != nil {
			logger.Warn("pipeline store: failed to watch data dir", "error", err)
			watcher.Close()
		} else {
			s.watcher = watcher
			go s.watchLoop()
		}
	}

	return s, nil
}

// Close stops the filesystem watch.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != snapshotFileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn("pipeline store: failed to reload after out-of-band edit", "error", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("pipeline store: fsnotify error", "error", err)
		}
	}
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fyerrors.Wrapf(err, "reading pipeline catalog %s", s.path)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fyerrors.Wrapf(err, "parsing pipeline catalog %s", s.path)
	}
	if snap.Pipelines == nil {
		snap.Pipelines = map[string]*model.Pipeline{}
	}
	s.data = snap
	return nil
}

func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fyerrors.Wrap(err, "marshaling pipeline catalog")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fyerrors.Wrapf(err, "writing temp catalog file %s", tmp)
	}
	return os.Rename(tmp, s.path)
}

// Create validates and inserts a new pipeline, assigning an id if empty.
func (s *Store) Create(p *model.Pipeline) (*model.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := s.data.Pipelines[p.ID]; exists {
		return nil, &fyerrors.ValidationError{Field: "id", Message: "pipeline id already exists"}
	}
	if err := Validate(p); err != nil {
		return nil, err
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.data.Pipelines[p.ID] = p

	if err := s.persistLocked(); err != nil {
		delete(s.data.Pipelines, p.ID)
		return nil, err
	}
	return p, nil
}

// Update validates and replaces an existing pipeline.
func (s *Store) Update(p *model.Pipeline) (*model.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.Pipelines[p.ID]
	if !ok {
		return nil, &fyerrors.NotFoundError{Resource: "pipeline", ID: p.ID}
	}
	if err := Validate(p); err != nil {
		return nil, err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	s.data.Pipelines[p.ID] = p

	if err := s.persistLocked(); err != nil {
		s.data.Pipelines[p.ID] = existing
		return nil, err
	}
	return p, nil
}

// Delete removes a pipeline, refusing if an active run references it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Pipelines[id]; !ok {
		return &fyerrors.NotFoundError{Resource: "pipeline", ID: id}
	}
	if s.activeRun != nil && s.activeRun.HasActiveRun(id) {
		return &fyerrors.ValidationError{Field: "id", Message: "pipeline has an active run and cannot be deleted"}
	}

	removed := s.data.Pipelines[id]
	delete(s.data.Pipelines, id)
	if err := s.persistLocked(); err != nil {
		s.data.Pipelines[id] = removed
		return err
	}
	return nil
}

// Get returns a copy of the pipeline with the given id.
func (s *Store) Get(id string) (*model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data.Pipelines[id]
	if !ok {
		return nil, &fyerrors.NotFoundError{Resource: "pipeline", ID: id}
	}
	cp := *p
	return &cp, nil
}

// List returns all pipelines, ordered by id for determinism.
func (s *Store) List() []*model.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Pipeline, 0, len(s.data.Pipelines))
	for _, p := range s.data.Pipelines {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate checks the §3 pipeline invariants: unique step names, link
// endpoints referring to existing distinct steps, and (when scheduling
// is enabled) a well-formed cron expression with a resolvable timezone.
func Validate(p *model.Pipeline) error {
	if len(p.Name) < 2 || len(p.Name) > 120 {
		return &fyerrors.ValidationError{Field: "name", Message: "name must be 2-120 characters"}
	}

	seenNames := make(map[string]bool, len(p.Steps))
	stepIDs := make(map[string]bool, len(p.Steps))
	for _, st := range p.Steps {
		if seenNames[st.Name] {
			return &fyerrors.ValidationError{Field: "steps", Message: fmt.Sprintf("duplicate step name %q", st.Name)}
		}
		seenNames[st.Name] = true
		stepIDs[st.ID] = true
	}

	for _, l := range p.Links {
		if !stepIDs[l.SourceStepID] {
			return &fyerrors.ValidationError{Field: "links", Message: fmt.Sprintf("link %s references unknown source step %s", l.ID, l.SourceStepID)}
		}
		if !stepIDs[l.TargetStepID] {
			return &fyerrors.ValidationError{Field: "links", Message: fmt.Sprintf("link %s references unknown target step %s", l.ID, l.TargetStepID)}
		}
		if l.SourceStepID == l.TargetStepID {
			return &fyerrors.ValidationError{Field: "links", Message: fmt.Sprintf("link %s has identical source and target step %s", l.ID, l.SourceStepID)}
		}
	}

	if p.Config.MaxLoops < 0 || p.Config.MaxLoops > 12 {
		return &fyerrors.ValidationError{Field: "config.max_loops", Message: "max_loops must be between 0 and 12"}
	}
	if p.Config.MaxStepExecutions < 4 || p.Config.MaxStepExecutions > 120 {
		return &fyerrors.ValidationError{Field: "config.max_step_executions", Message: "max_step_executions must be between 4 and 120"}
	}
	if p.Config.StageTimeoutMs < 10_000 || p.Config.StageTimeoutMs > 1_200_000 {
		return &fyerrors.ValidationError{Field: "config.stage_timeout_ms", Message: "stage_timeout_ms must be between 10000 and 1200000"}
	}

	if p.Schedule != nil && p.Schedule.Enabled {
		if _, err := cron.Parse(p.Schedule.Cron); err != nil {
			return &fyerrors.ValidationError{Field: "schedule.cron", Message: err.Error()}
		}
		if p.Schedule.Timezone == "" {
			return &fyerrors.ValidationError{Field: "schedule.timezone", Message: "timezone is required when schedule is enabled"}
		}
		if err := cron.ValidateTimezone(p.Schedule.Timezone); err != nil {
			return &fyerrors.ValidationError{Field: "schedule.timezone", Message: err.Error()}
		}
	}

	return nil
}
