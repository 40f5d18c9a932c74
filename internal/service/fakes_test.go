package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rentscope/api/internal/model"
	"github.com/rentscope/api/internal/storage"
)

// memJobs is an in-memory JobStore. It stores copies so tests observe only
// what was persisted.
type memJobs struct {
	mu      sync.Mutex
	jobs    map[string]model.Job
	updates int

	// afterFind runs once FindTimedOut has taken its snapshot, standing in
	// for a writer that commits between the read and the sweep's update.
	afterFind func()
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]model.Job)}
}

func (m *memJobs) Create(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobs) Update(_ context.Context, id string, fn storage.JobMutation) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, model.NewNotFoundError("job not found: " + id)
	}
	changed, err := fn(&j)
	if err != nil {
		return nil, err
	}
	if changed {
		m.jobs[id] = j
		m.updates++
	}
	out := j
	return &out, nil
}

func (m *memJobs) Get(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, model.NewNotFoundError("job not found: " + id)
	}
	return &j, nil
}

func (m *memJobs) List(_ context.Context, f storage.JobFilter) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		j := j
		if f.LocationID != "" && j.LocationID != f.LocationID {
			continue
		}
		if f.Status != "" && j.Status() != f.Status {
			continue
		}
		out = append(out, &j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *memJobs) FindTimedOut(_ context.Context, cutoff time.Time) ([]*model.Job, error) {
	m.mu.Lock()
	var out []*model.Job
	for _, j := range m.jobs {
		j := j
		if j.Status() == model.JobStatusInProgress && j.StartedAt().Before(cutoff) {
			out = append(out, &j)
		}
	}
	m.mu.Unlock()

	if m.afterFind != nil {
		m.afterFind()
	}
	return out, nil
}

func (m *memJobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *memJobs) byStatus(s model.JobStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status() == s {
			n++
		}
	}
	return n
}

type memLocations struct {
	locs map[string]*model.Location
}

func newMemLocations(locs ...*model.Location) *memLocations {
	m := &memLocations{locs: make(map[string]*model.Location)}
	for _, l := range locs {
		m.locs[l.ID] = l
	}
	return m
}

func (m *memLocations) Get(_ context.Context, id string) (*model.Location, error) {
	l, ok := m.locs[id]
	if !ok {
		return nil, model.NewNotFoundError("location not found: " + id)
	}
	return l, nil
}

func (m *memLocations) ListAll(_ context.Context) ([]*model.Location, error) {
	var out []*model.Location
	for _, l := range m.locs {
		out = append(out, l)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *memLocations) ListStale(_ context.Context, cutoff time.Time) ([]*model.Location, error) {
	var out []*model.Location
	for _, l := range m.locs {
		if l.LastDataUpdateAt == nil || l.LastDataUpdateAt.Before(cutoff) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// fakeAnnouncer records events and fails those matched by failIf.
type fakeAnnouncer struct {
	mu     sync.Mutex
	events []model.JobCreatedEvent
	failIf func(model.JobCreatedEvent) bool
}

func (f *fakeAnnouncer) Announce(_ context.Context, e model.JobCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIf != nil && f.failIf(e) {
		return model.NewTransportError("failed to publish job "+e.JobID, errors.New("broker unavailable"))
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeAnnouncer) sent() []model.JobCreatedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.JobCreatedEvent(nil), f.events...)
}

type recordingObserver struct {
	mu      sync.Mutex
	updates []model.JobStatus
}

func (r *recordingObserver) JobUpdated(j *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, j.Status())
}
