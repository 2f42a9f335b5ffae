package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/ogcerr"
)

// Collaboration operations: comments on jobs, sharing jobs with other
// subjects, and grouping jobs into named ensembles. All of them go
// through the same visibility rules as GetJob.

func (m *Manager) AddComment(ctx context.Context, jobID, userID, body string) (Comment, error) {
	body = strings.TrimSpace(body)

	if body == "" {
		return Comment{}, ogcerr.New(ogcerr.KindInvalidUsage, "comment body is empty")
	}

	if _, err := m.GetJob(ctx, jobID, userID); err != nil {
		return Comment{}, err
	}

	c := Comment{
		ID:      uuid.NewString(),
		JobID:   jobID,
		UserID:  userID,
		Body:    body,
		Created: time.Now().UTC().Format(time.RFC3339),
	}

	saved, err := m.repo.AddComment(ctx, c)

	if err != nil {
		return Comment{}, ogcerr.Wrap(ogcerr.KindInternal, "persist comment", err)
	}

	return saved, nil
}

func (m *Manager) ListComments(ctx context.Context, jobID, userID string) ([]Comment, error) {
	if _, err := m.GetJob(ctx, jobID, userID); err != nil {
		return nil, err
	}

	comments, err := m.repo.ListComments(ctx, jobID)

	if err != nil {
		return nil, ogcerr.Wrap(ogcerr.KindInternal, "list comments", err)
	}

	return comments, nil
}

// ShareJob grants another subject read access. Only the owner shares.
func (m *Manager) ShareJob(ctx context.Context, jobID, ownerID, targetUserID string) error {
	targetUserID = strings.TrimSpace(targetUserID)

	if targetUserID == "" {
		return ogcerr.New(ogcerr.KindInvalidUsage, "target user is empty")
	}

	j, err := m.repo.Get(ctx, jobID)

	if err != nil {
		return ogcerr.Wrap(ogcerr.KindNotFound, fmt.Sprintf("job %q not found", jobID), err)
	}

	if ownerID != "" && j.UserID != "" && j.UserID != ownerID {
		return ogcerr.New(ogcerr.KindNotAuthorized, "only the owner can share a job")
	}

	if err := m.repo.ShareJob(ctx, jobID, targetUserID); err != nil {
		return ogcerr.Wrap(ogcerr.KindInternal, "share job", err)
	}

	m.repo.AppendEvent(ctx, jobID, job.NewEvent("job_shared", map[string]any{
		"with": targetUserID,
	}))

	return nil
}

func (m *Manager) History(ctx context.Context, jobID, userID string) ([]job.StatusInfo, error) {
	if _, err := m.GetJob(ctx, jobID, userID); err != nil {
		return nil, err
	}

	history, err := m.repo.History(ctx, jobID)

	if err != nil {
		return nil, ogcerr.Wrap(ogcerr.KindInternal, "load status history", err)
	}

	return history, nil
}

func (m *Manager) CreateEnsemble(ctx context.Context, name, description, userID string) (Ensemble, error) {
	name = strings.TrimSpace(name)

	if name == "" {
		return Ensemble{}, ogcerr.New(ogcerr.KindInvalidUsage, "ensemble name is empty")
	}

	e := Ensemble{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		UserID:      userID,
		Created:     time.Now().UTC().Format(time.RFC3339),
	}

	saved, err := m.repo.CreateEnsemble(ctx, e)

	if err != nil {
		return Ensemble{}, ogcerr.Wrap(ogcerr.KindInternal, "persist ensemble", err)
	}

	return saved, nil
}

func (m *Manager) GetEnsemble(ctx context.Context, id, userID string) (Ensemble, error) {
	e, err := m.repo.GetEnsemble(ctx, id)

	if err != nil {
		return Ensemble{}, ogcerr.Wrap(ogcerr.KindNotFound, fmt.Sprintf("ensemble %q not found", id), err)
	}

	if userID != "" && e.UserID != "" && e.UserID != userID {
		return Ensemble{}, ogcerr.New(ogcerr.KindNotAuthorized, "ensemble belongs to another user")
	}

	return e, nil
}

func (m *Manager) ListEnsembles(ctx context.Context, userID string) ([]Ensemble, error) {
	ensembles, err := m.repo.ListEnsembles(ctx, userID)

	if err != nil {
		return nil, ogcerr.Wrap(ogcerr.KindInternal, "list ensembles", err)
	}

	return ensembles, nil
}

func (m *Manager) AddJobToEnsemble(ctx context.Context, ensembleID, jobID, userID string) error {
	if _, err := m.GetEnsemble(ctx, ensembleID, userID); err != nil {
		return err
	}

	if _, err := m.GetJob(ctx, jobID, userID); err != nil {
		return err
	}

	if err := m.repo.AddJobToEnsemble(ctx, ensembleID, jobID); err != nil {
		return ogcerr.Wrap(ogcerr.KindInternal, "add job to ensemble", err)
	}

	return nil
}
