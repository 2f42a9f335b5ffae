// Package jobs owns the job state machine and the lifecycle around it:
// forwarding executions to providers, deriving status from their
// responses, polling until terminal, and fanning side effects out to
// observers.
package jobs

import (
	"context"
	"net/http"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/domain/provider"
	"github.com/mapfederate/procgate/internal/httpclient"
)

// HTTPClient is the upstream transport the manager and strategies use.
type HTTPClient interface {
	Get(ctx context.Context, p provider.Descriptor, url string) (*httpclient.Response, error)
	Post(ctx context.Context, p provider.Descriptor, url string, payload any, hdr http.Header) (*httpclient.Response, error)
}

// Providers resolves provider prefixes against the live registry.
type Providers interface {
	Get(name string) (provider.Descriptor, error)
	List() []provider.Descriptor
}

type ListFilter struct {
	Provider  string
	ProcessID string
	Status    job.Status
	// UserID scopes visibility to jobs owned by or shared with the
	// subject. Empty means no scoping (internal callers only).
	UserID string
	Page   int
	Limit  int
}

type Comment struct {
	ID      string `json:"id"`
	JobID   string `json:"jobId"`
	UserID  string `json:"userId"`
	Body    string `json:"body"`
	Created string `json:"created"`
}

type Ensemble struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	UserID      string   `json:"-"`
	JobIDs      []string `json:"jobIds"`
	Created     string   `json:"created"`
}

// Repository stores jobs, their append-only snapshot history, and the
// event stream. AppendStatus is the only way a stored job changes
// state; implementations apply the snapshot through the domain state
// machine so terminal regressions surface as errors.
type Repository interface {
	Create(ctx context.Context, j job.Job) (job.Job, error)
	Get(ctx context.Context, id string) (job.Job, error)
	Update(ctx context.Context, j job.Job) (job.Job, error)
	List(ctx context.Context, f ListFilter) ([]job.Job, int, error)
	MarkFailed(ctx context.Context, id, reason, diagnostic string) (job.Job, error)
	AppendStatus(ctx context.Context, id string, si *job.StatusInfo) (job.Job, error)
	// AppendEvent is best effort and never returns an error.
	AppendEvent(ctx context.Context, id string, ev job.Event)
	History(ctx context.Context, id string) ([]job.StatusInfo, error)
	Events(ctx context.Context, id string) ([]job.Event, error)

	// FindSuccessfulByHash backs the idempotency lookup for
	// deterministic processes.
	FindSuccessfulByHash(ctx context.Context, hash, userID string) (job.Job, bool, error)

	AddComment(ctx context.Context, c Comment) (Comment, error)
	ListComments(ctx context.Context, jobID string) ([]Comment, error)

	ShareJob(ctx context.Context, jobID, userID string) error
	SharedWith(ctx context.Context, jobID string) ([]string, error)
	IsVisible(ctx context.Context, j job.Job, userID string) (bool, error)

	CreateEnsemble(ctx context.Context, e Ensemble) (Ensemble, error)
	GetEnsemble(ctx context.Context, id string) (Ensemble, error)
	ListEnsembles(ctx context.Context, userID string) ([]Ensemble, error)
	AddJobToEnsemble(ctx context.Context, ensembleID, jobID string) error
}

// Observer reacts to lifecycle hooks. Errors inside an observer are
// its own problem: implementations log and swallow, the transition
// never rolls back.
type Observer interface {
	OnJobCreated(ctx context.Context, j job.Job, si *job.StatusInfo)
	OnStatusChanged(ctx context.Context, j job.Job, oldSI, newSI *job.StatusInfo)
	OnJobCompleted(ctx context.Context, j job.Job, finalSI *job.StatusInfo)
}

// Publisher ingests a feature collection into the spatial result store
// and exposes it as a layer named after the job.
type Publisher interface {
	Publish(ctx context.Context, jobID string, featureCollection map[string]any) error
}

// InputsStore keeps execution inputs that are too large to inline on
// the job row, returning a reference URL.
type InputsStore interface {
	Put(ctx context.Context, jobID string, data []byte) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}
