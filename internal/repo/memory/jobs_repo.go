// Package memory holds the in-memory adapters used by tests and
// single-node development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/jobs"
)

type JobsRepo struct {
	mu           sync.RWMutex
	jobs         map[string]job.Job
	history      map[string][]job.StatusInfo
	events       map[string][]job.Event
	comments     map[string][]jobs.Comment
	shares       map[string]map[string]struct{}
	ensembles    map[string]jobs.Ensemble
	ensembleJobs map[string][]string
}

func NewJobsRepo() *JobsRepo {
	return &JobsRepo{
		jobs:         make(map[string]job.Job),
		history:      make(map[string][]job.StatusInfo),
		events:       make(map[string][]job.Event),
		comments:     make(map[string][]jobs.Comment),
		shares:       make(map[string]map[string]struct{}),
		ensembles:    make(map[string]jobs.Ensemble),
		ensembleJobs: make(map[string][]string),
	}
}

func (r *JobsRepo) Create(_ context.Context, j job.Job) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[j.ID]; exists {
		return job.Job{}, job.ErrJobExists
	}

	r.jobs[j.ID] = j
	return j, nil
}

func (r *JobsRepo) Get(_ context.Context, id string) (job.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]

	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}

	return j, nil
}

func (r *JobsRepo) Update(_ context.Context, j job.Job) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[j.ID]

	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}

	// state transitions only happen through AppendStatus
	j.Status = stored.Status
	j.StatusInfo = stored.StatusInfo
	j.Version = stored.Version
	j.Updated = time.Now().UTC()

	r.jobs[j.ID] = j
	return j, nil
}

func (r *JobsRepo) AppendStatus(_ context.Context, id string, si *job.StatusInfo) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]

	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}

	applied := si.Clone()

	if err := j.ApplyStatusInfo(applied); err != nil {
		return job.Job{}, err
	}

	r.jobs[id] = j
	r.history[id] = append(r.history[id], *applied.Clone())

	si.JobID = applied.JobID
	if si.Type == "" {
		si.Type = applied.Type
	}

	return j, nil
}

func (r *JobsRepo) MarkFailed(ctx context.Context, id, reason, diagnostic string) (job.Job, error) {
	r.mu.Lock()
	j, ok := r.jobs[id]

	if !ok {
		r.mu.Unlock()
		return job.Job{}, job.ErrJobNotFound
	}

	if diagnostic != "" {
		j.Diagnostic = diagnostic
		r.jobs[id] = j
	}
	r.mu.Unlock()

	now := time.Now().UTC()
	fsi := &job.StatusInfo{
		JobID:    id,
		Status:   job.StatusFailed,
		Type:     "process",
		Message:  reason,
		Finished: &now,
		Updated:  &now,
		Links: []job.Link{
			{Href: "/jobs/" + id, Rel: "self", Type: "application/json"},
		},
	}

	return r.AppendStatus(ctx, id, fsi)
}

func (r *JobsRepo) AppendEvent(_ context.Context, id string, ev job.Event) {
	r.mu.Lock()
	r.events[id] = append(r.events[id], ev)
	r.mu.Unlock()
}

func (r *JobsRepo) History(_ context.Context, id string) ([]job.StatusInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.jobs[id]; !ok {
		return nil, job.ErrJobNotFound
	}

	out := make([]job.StatusInfo, len(r.history[id]))
	copy(out, r.history[id])
	return out, nil
}

func (r *JobsRepo) Events(_ context.Context, id string) ([]job.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.jobs[id]; !ok {
		return nil, job.ErrJobNotFound
	}

	out := make([]job.Event, len(r.events[id]))
	copy(out, r.events[id])
	return out, nil
}

func (r *JobsRepo) List(_ context.Context, f jobs.ListFilter) ([]job.Job, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]job.Job, 0)

	for _, j := range r.jobs {
		if f.Provider != "" && j.Provider != f.Provider {
			continue
		}
		if f.ProcessID != "" && j.ProcessID != f.ProcessID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.UserID != "" && !r.visibleLocked(j, f.UserID) {
			continue
		}
		matched = append(matched, j)
	}

	sort.Slice(matched, func(i, k int) bool {
		if matched[i].Created.Equal(matched[k].Created) {
			return matched[i].ID < matched[k].ID
		}
		return matched[i].Created.After(matched[k].Created)
	})

	total := len(matched)

	if f.Limit > 0 {
		page := f.Page
		if page <= 0 {
			page = 1
		}

		start := (page - 1) * f.Limit

		if start >= total {
			return []job.Job{}, total, nil
		}

		end := start + f.Limit
		if end > total {
			end = total
		}

		matched = matched[start:end]
	}

	return matched, total, nil
}

func (r *JobsRepo) FindSuccessfulByHash(_ context.Context, hash, userID string) (job.Job, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, j := range r.jobs {
		if j.Status == job.StatusSuccessful && j.Hash == hash && j.UserID == userID {
			return j, true, nil
		}
	}

	return job.Job{}, false, nil
}

func (r *JobsRepo) AddComment(_ context.Context, c jobs.Comment) (jobs.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[c.JobID]; !ok {
		return jobs.Comment{}, job.ErrJobNotFound
	}

	r.comments[c.JobID] = append(r.comments[c.JobID], c)
	return c, nil
}

func (r *JobsRepo) ListComments(_ context.Context, jobID string) ([]jobs.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]jobs.Comment, len(r.comments[jobID]))
	copy(out, r.comments[jobID])
	return out, nil
}

func (r *JobsRepo) ShareJob(_ context.Context, jobID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return job.ErrJobNotFound
	}

	if r.shares[jobID] == nil {
		r.shares[jobID] = make(map[string]struct{})
	}

	r.shares[jobID][userID] = struct{}{}
	return nil
}

func (r *JobsRepo) SharedWith(_ context.Context, jobID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.shares[jobID]))
	for u := range r.shares[jobID] {
		users = append(users, u)
	}

	sort.Strings(users)
	return users, nil
}

func (r *JobsRepo) IsVisible(_ context.Context, j job.Job, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.visibleLocked(j, userID), nil
}

func (r *JobsRepo) visibleLocked(j job.Job, userID string) bool {
	if j.UserID == "" || j.UserID == userID {
		return true
	}

	_, shared := r.shares[j.ID][userID]
	return shared
}

func (r *JobsRepo) CreateEnsemble(_ context.Context, e jobs.Ensemble) (jobs.Ensemble, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensembles[e.ID] = e
	return e, nil
}

func (r *JobsRepo) GetEnsemble(_ context.Context, id string) (jobs.Ensemble, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.ensembles[id]

	if !ok {
		return jobs.Ensemble{}, job.ErrJobNotFound
	}

	e.JobIDs = append([]string(nil), r.ensembleJobs[id]...)
	return e, nil
}

func (r *JobsRepo) ListEnsembles(_ context.Context, userID string) ([]jobs.Ensemble, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]jobs.Ensemble, 0)

	for id, e := range r.ensembles {
		if userID != "" && e.UserID != "" && e.UserID != userID {
			continue
		}

		e.JobIDs = append([]string(nil), r.ensembleJobs[id]...)
		out = append(out, e)
	}

	sort.Slice(out, func(i, k int) bool {
		return strings.Compare(out[i].Created, out[k].Created) > 0 ||
			(out[i].Created == out[k].Created && out[i].ID < out[k].ID)
	})

	return out, nil
}

func (r *JobsRepo) AddJobToEnsemble(_ context.Context, ensembleID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ensembles[ensembleID]; !ok {
		return job.ErrJobNotFound
	}

	if _, ok := r.jobs[jobID]; !ok {
		return job.ErrJobNotFound
	}

	for _, existing := range r.ensembleJobs[ensembleID] {
		if existing == jobID {
			return nil
		}
	}

	r.ensembleJobs[ensembleID] = append(r.ensembleJobs[ensembleID], jobID)
	return nil
}
