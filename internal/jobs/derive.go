package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/domain/provider"
	"github.com/mapfederate/procgate/internal/httpclient"
)

// Derivation is what a strategy extracts from a provider's execution
// response: the normalized snapshot plus the remote identity needed
// for follow-up polling.
type Derivation struct {
	StatusInfo      *job.StatusInfo
	RemoteJobID     string
	RemoteStatusURL string
	Diagnostic      string
}

type DeriveInput struct {
	Job      job.Job
	Provider provider.Descriptor
	Resp     *httpclient.Response
	Client   HTTPClient
	Now      time.Time
}

type Strategy interface {
	Name() string
	CanHandle(resp *httpclient.Response) bool
	Derive(ctx context.Context, in DeriveInput) Derivation
}

// Orchestrator tries strategies in order and uses the first match.
// The fallback strategy matches everything, so Derive always yields
// a snapshot.
type Orchestrator struct {
	strategies []Strategy
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		strategies: []Strategy{
			directStatusInfo{},
			immediateResults{},
			locationFollowup{},
			fallbackFailed{},
		},
	}
}

func (o *Orchestrator) Derive(ctx context.Context, in DeriveInput) Derivation {
	for _, s := range o.strategies {
		if s.CanHandle(in.Resp) {
			return s.Derive(ctx, in)
		}
	}

	// unreachable while fallbackFailed is registered
	return fallbackFailed{}.Derive(ctx, in)
}

// statusInfo documents need at least these fields to be trusted.
func hasRequiredFields(m map[string]any) bool {
	if _, ok := m["jobID"].(string); !ok {
		return false
	}
	if _, ok := m["status"].(string); !ok {
		return false
	}
	if _, ok := m["type"].(string); !ok {
		return false
	}
	return true
}

func parseStatusInfo(m map[string]any) (*job.StatusInfo, error) {
	raw, err := json.Marshal(m)

	if err != nil {
		return nil, err
	}

	var si job.StatusInfo

	if err := json.Unmarshal(raw, &si); err != nil {
		return nil, err
	}

	if !si.Status.IsValid() {
		return nil, fmt.Errorf("unknown status %q", si.Status)
	}

	return &si, nil
}

// resolveLocation makes the Location header absolute against the
// provider base, never against the local API.
func resolveLocation(base, loc string) string {
	if loc == "" {
		return ""
	}

	baseURL, err := url.Parse(base)

	if err != nil {
		return loc
	}

	ref, err := url.Parse(loc)

	if err != nil {
		return ""
	}

	return baseURL.ResolveReference(ref).String()
}

func remoteStatusURL(p provider.Descriptor, remoteJobID string) string {
	return fmt.Sprintf("%sjobs/%s?f=json", p.URL, remoteJobID)
}

// directStatusInfo handles providers that answer the execution POST
// with a statusInfo document.
type directStatusInfo struct{}

func (directStatusInfo) Name() string { return "direct_status_info" }

func (directStatusInfo) CanHandle(resp *httpclient.Response) bool {
	m, ok := resp.BodyMap()

	if !ok {
		return false
	}

	return hasRequiredFields(m)
}

func (directStatusInfo) Derive(ctx context.Context, in DeriveInput) Derivation {
	m, _ := in.Resp.BodyMap()

	si, err := parseStatusInfo(m)

	if err != nil {
		return failedDerivation(in, fmt.Sprintf("statusinfo_parse_failed: %v", err))
	}

	var remoteID string
	if si.JobID != "" && si.JobID != in.Job.ID {
		remoteID = si.JobID
	}

	// a resolved Location header wins over a synthesized status URL
	statusURL := resolveLocation(in.Provider.URL, in.Resp.Header.Get("Location"))

	if statusURL == "" && remoteID != "" {
		statusURL = remoteStatusURL(in.Provider, remoteID)
	}

	return Derivation{
		StatusInfo:      si,
		RemoteJobID:     remoteID,
		RemoteStatusURL: statusURL,
	}
}

// immediateResults handles providers that execute synchronously and
// answer with the outputs document itself.
type immediateResults struct{}

func (immediateResults) Name() string { return "immediate_results" }

func (immediateResults) CanHandle(resp *httpclient.Response) bool {
	m, ok := resp.BodyMap()

	if !ok {
		return false
	}

	if _, hasOutputs := m["outputs"]; !hasOutputs {
		return false
	}

	return !hasRequiredFields(m)
}

func (immediateResults) Derive(_ context.Context, in DeriveInput) Derivation {
	now := in.Now
	started := in.Job.Created
	progress := 100

	return Derivation{
		StatusInfo: &job.StatusInfo{
			JobID:    in.Job.ID,
			Status:   job.StatusSuccessful,
			Type:     "process",
			Message:  "Completed (immediate results)",
			Created:  &in.Job.Created,
			Started:  &started,
			Finished: &now,
			Updated:  &now,
			Progress: &progress,
		},
	}
}

// locationFollowup handles the async pattern where the POST answers
// with nothing but a Location header; one GET fetches the real status.
type locationFollowup struct{}

func (locationFollowup) Name() string { return "location_followup" }

func (locationFollowup) CanHandle(resp *httpclient.Response) bool {
	if resp.Header.Get("Location") == "" {
		return false
	}

	if m, ok := resp.BodyMap(); ok && hasRequiredFields(m) {
		return false
	}

	return true
}

func (locationFollowup) Derive(ctx context.Context, in DeriveInput) Derivation {
	loc := resolveLocation(in.Provider.URL, in.Resp.Header.Get("Location"))

	fail := func(reason string) Derivation {
		return failedDerivation(in, fmt.Sprintf("location_followup_failed: %s reason=%s", loc, reason))
	}

	resp, err := in.Client.Get(ctx, in.Provider, loc)

	if err != nil {
		return fail(err.Error())
	}

	if resp.Status < 200 || resp.Status >= 300 {
		return fail(fmt.Sprintf("status %d", resp.Status))
	}

	m, ok := resp.BodyMap()

	if !ok || !hasRequiredFields(m) {
		return fail("body is not a statusInfo document")
	}

	si, err := parseStatusInfo(m)

	if err != nil {
		return fail(err.Error())
	}

	var remoteID string
	if si.JobID != "" && si.JobID != in.Job.ID {
		remoteID = si.JobID
	}

	return Derivation{
		StatusInfo:      si,
		RemoteJobID:     remoteID,
		RemoteStatusURL: loc,
	}
}

// fallbackFailed is the terminal catch-all.
type fallbackFailed struct{}

func (fallbackFailed) Name() string { return "fallback_failed" }

func (fallbackFailed) CanHandle(*httpclient.Response) bool { return true }

func (fallbackFailed) Derive(_ context.Context, in DeriveInput) Derivation {
	return failedDerivation(in, fmt.Sprintf("provider_status=%d body_type=%s", in.Resp.Status, bodyType(in.Resp)))
}

func failedDerivation(in DeriveInput, diagnostic string) Derivation {
	now := in.Now

	return Derivation{
		StatusInfo: &job.StatusInfo{
			JobID:    in.Job.ID,
			Status:   job.StatusFailed,
			Type:     "process",
			Message:  "Execution failed",
			Created:  &in.Job.Created,
			Finished: &now,
			Updated:  &now,
		},
		Diagnostic: diagnostic,
	}
}

func bodyType(resp *httpclient.Response) string {
	if resp.Body == nil {
		if len(resp.Raw) == 0 {
			return "none"
		}
		return "non-json"
	}

	switch resp.Body.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	default:
		return "null"
	}
}
