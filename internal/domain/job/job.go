package job

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAccepted   Status = "accepted"
	StatusRunning    Status = "running"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusDismissed  Status = "dismissed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusAccepted, StatusRunning, StatusSuccessful, StatusFailed, StatusDismissed:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusDismissed:
		return true
	default:
		return false
	}
}

type InputsStorage string

const (
	InputsInline      InputsStorage = "inline"
	InputsObject      InputsStorage = "object"
	InputsExternalURL InputsStorage = "external-url"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
	// ErrTerminalTransition is returned when a snapshot would move a job
	// out of a terminal state. The only allowed exception is the explicit
	// successful -> failed verification downgrade.
	ErrTerminalTransition = errors.New("job is in a terminal state")
)

type Link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// StatusInfo is the OGC statusInfo snapshot of a job at one moment.
// Snapshots are immutable once appended to a job's history.
type StatusInfo struct {
	JobID     string     `json:"jobID"`
	Status    Status     `json:"status"`
	Type      string     `json:"type"`
	ProcessID string     `json:"processID,omitempty"`
	Message   string     `json:"message,omitempty"`
	Created   *time.Time `json:"created,omitempty"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
	Updated   *time.Time `json:"updated,omitempty"`
	Progress  *int       `json:"progress,omitempty"`
	Links     []Link     `json:"links,omitempty"`
}

// Clone returns a deep copy so callers can keep an old snapshot around
// while the job moves on.
func (si *StatusInfo) Clone() *StatusInfo {
	if si == nil {
		return nil
	}

	cp := *si

	if si.Progress != nil {
		p := *si.Progress
		cp.Progress = &p
	}

	cp.Created = copyTime(si.Created)
	cp.Started = copyTime(si.Started)
	cp.Finished = copyTime(si.Finished)
	cp.Updated = copyTime(si.Updated)

	if si.Links != nil {
		cp.Links = make([]Link, len(si.Links))
		copy(cp.Links, si.Links)
	}

	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func NewEvent(kind string, payload map[string]any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
	}
}

// Job is the local identity of one execution. The remote identity the
// provider assigned stays in RemoteJobID / RemoteStatusURL and is never
// exposed through the API.
type Job struct {
	ID              string         `json:"id"`
	ProcessID       string         `json:"processId"` // qualified provider:raw_id
	Provider        string         `json:"provider"`
	RemoteJobID     string         `json:"-"`
	RemoteStatusURL string         `json:"-"`
	Status          Status         `json:"status"`
	StatusInfo      *StatusInfo    `json:"statusInfo,omitempty"`
	Inputs          map[string]any `json:"-"`
	InputsURL       string         `json:"-"`
	InputsStorage   InputsStorage  `json:"-"`
	InputsSize      int            `json:"-"`
	InputsChecksum  string         `json:"-"` // sha256 hex
	// Results holds outputs the provider returned inline with the
	// execution response, when there is no remote results endpoint.
	Results         map[string]any `json:"-"`
	Created         time.Time      `json:"created"`
	Updated         time.Time      `json:"updated"`
	Diagnostic      string         `json:"-"`
	Version         int64          `json:"version"`
	UserID          string         `json:"-"`
	Hash            string         `json:"-"` // idempotency key for deterministic processes
}

type CreateRequest struct {
	ProcessID string
	Provider  string
	UserID    string
	Hash      string
}

func New(req CreateRequest) Job {
	now := time.Now().UTC()

	return Job{
		ID:        uuid.NewString(),
		ProcessID: req.ProcessID,
		Provider:  req.Provider,
		Status:    StatusAccepted,
		Created:   now,
		Updated:   now,
		Version:   0,
		UserID:    req.UserID,
		Hash:      req.Hash,
	}
}

func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// ApplyStatusInfo is the single entry point for status transitions.
// It keeps the denormalized status column in sync with the snapshot and
// rejects backward transitions out of terminal states, with the one
// sanctioned exception of downgrading successful to failed when result
// verification discovers the outputs are not actually there.
func (j *Job) ApplyStatusInfo(si *StatusInfo) error {
	if si == nil {
		return errors.New("nil status info")
	}

	if !si.Status.IsValid() {
		return errors.New("invalid status " + string(si.Status))
	}

	if j.Status.IsTerminal() {
		downgrade := j.Status == StatusSuccessful && si.Status == StatusFailed
		if !downgrade {
			return ErrTerminalTransition
		}
	}

	si.JobID = j.ID
	if si.Type == "" {
		si.Type = "process"
	}

	j.Status = si.Status
	j.StatusInfo = si
	j.Updated = time.Now().UTC()
	j.Version++

	return nil
}
