package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/domain/provider"
	"github.com/mapfederate/procgate/internal/observability"
	"github.com/mapfederate/procgate/internal/retry"
)

// StatusHistoryObserver records lifecycle events on the job's event
// stream. The snapshot history itself is appended atomically by the
// repository; events carry the surrounding narrative.
type StatusHistoryObserver struct {
	Repo Repository
}

func (o *StatusHistoryObserver) OnJobCreated(ctx context.Context, j job.Job, si *job.StatusInfo) {
	o.Repo.AppendEvent(ctx, j.ID, job.NewEvent("job_created", map[string]any{
		"status":  string(si.Status),
		"process": j.ProcessID,
	}))
}

func (o *StatusHistoryObserver) OnStatusChanged(ctx context.Context, j job.Job, oldSI, newSI *job.StatusInfo) {
	payload := map[string]any{
		"status":  string(newSI.Status),
		"version": j.Version,
	}

	if oldSI != nil {
		payload["previous"] = string(oldSI.Status)
	}

	o.Repo.AppendEvent(ctx, j.ID, job.NewEvent("status_changed", payload))
}

func (o *StatusHistoryObserver) OnJobCompleted(ctx context.Context, j job.Job, finalSI *job.StatusInfo) {
	o.Repo.AppendEvent(ctx, j.ID, job.NewEvent("job_completed", map[string]any{
		"status": string(finalSI.Status),
	}))
}

// Scheduler is the callback into the manager's poll-task registry.
type Scheduler interface {
	SchedulePoll(jobID string)
}

// PollingSchedulerObserver starts the poll loop once a job is known to
// have a remote status endpoint and is not yet terminal.
type PollingSchedulerObserver struct {
	Scheduler Scheduler
}

func (o *PollingSchedulerObserver) OnJobCreated(context.Context, job.Job, *job.StatusInfo) {}

func (o *PollingSchedulerObserver) OnStatusChanged(_ context.Context, j job.Job, _, newSI *job.StatusInfo) {
	if newSI.Status.IsTerminal() {
		return
	}

	if j.RemoteStatusURL == "" {
		return
	}

	o.Scheduler.SchedulePoll(j.ID)
}

func (o *PollingSchedulerObserver) OnJobCompleted(context.Context, job.Job, *job.StatusInfo) {}

// ResultsVerificationObserver probes the remote results endpoint after
// a success reached through polling. It only reports: a failed probe
// becomes a logged event, never a state change.
type ResultsVerificationObserver struct {
	Log       *slog.Logger
	Client    HTTPClient
	Providers Providers
	Repo      Repository
	Retry     retry.Policy
}

func (o *ResultsVerificationObserver) OnJobCreated(context.Context, job.Job, *job.StatusInfo) {}

func (o *ResultsVerificationObserver) OnStatusChanged(context.Context, job.Job, *job.StatusInfo, *job.StatusInfo) {
}

func (o *ResultsVerificationObserver) OnJobCompleted(ctx context.Context, j job.Job, finalSI *job.StatusInfo) {
	if finalSI.Status != job.StatusSuccessful {
		return
	}

	url := remoteResultsURL(j)

	if url == "" {
		// results arrived inline with the execution response
		return
	}

	p, err := o.Providers.Get(j.Provider)

	if err != nil {
		o.Log.Warn("results_verification_skipped", "job_id", j.ID, "err", err)
		return
	}

	_, err = retry.Do(ctx, o.Retry, func() (struct{}, error) {
		resp, getErr := o.Client.Get(ctx, p, url)

		if getErr != nil {
			return struct{}{}, getErr
		}

		if resp.Status < 200 || resp.Status >= 300 {
			return struct{}{}, fmt.Errorf("results probe returned %d", resp.Status)
		}

		return struct{}{}, nil
	})

	if err != nil {
		o.Log.Warn("results_verification_failed", "job_id", j.ID, "url", url, "err", err)
		o.Repo.AppendEvent(ctx, j.ID, job.NewEvent("verification_failed", map[string]any{
			"url":    url,
			"reason": err.Error(),
		}))
		return
	}

	o.Repo.AppendEvent(ctx, j.ID, job.NewEvent("verification_ok", map[string]any{"url": url}))
}

// GeoserverPublicationObserver pushes a successful job's feature
// collection into the spatial store when the process is configured
// with geoserver result storage.
type GeoserverPublicationObserver struct {
	Log       *slog.Logger
	Client    HTTPClient
	Providers Providers
	Repo      Repository
	Publisher Publisher
	Retry     retry.Policy
	Prom      *observability.Prom
}

func (o *GeoserverPublicationObserver) OnJobCreated(context.Context, job.Job, *job.StatusInfo) {}

func (o *GeoserverPublicationObserver) OnStatusChanged(context.Context, job.Job, *job.StatusInfo, *job.StatusInfo) {
}

func (o *GeoserverPublicationObserver) OnJobCompleted(ctx context.Context, j job.Job, finalSI *job.StatusInfo) {
	if finalSI.Status != job.StatusSuccessful || o.Publisher == nil {
		return
	}

	p, err := o.Providers.Get(j.Provider)

	if err != nil {
		return
	}

	rawID := rawProcessID(j)
	pc, ok := p.Processes[rawID]

	if !ok || pc.ResultStorage != provider.ResultStorageGeoserver {
		o.observe("skipped")
		return
	}

	doc, err := o.fetchResults(ctx, j)

	if err != nil {
		o.publishFailed(ctx, j, err)
		return
	}

	if pc.ResultPath != "" {
		nested, found := navigatePath(doc, pc.ResultPath)

		if !found {
			o.publishFailed(ctx, j, fmt.Errorf("result path %q not found", pc.ResultPath))
			return
		}

		m, isMap := nested.(map[string]any)

		if !isMap {
			o.publishFailed(ctx, j, fmt.Errorf("result path %q is not an object", pc.ResultPath))
			return
		}

		doc = m
	}

	if err := o.Publisher.Publish(ctx, j.ID, doc); err != nil {
		o.publishFailed(ctx, j, err)
		return
	}

	o.observe("ok")
	o.Repo.AppendEvent(ctx, j.ID, job.NewEvent("publication_ok", map[string]any{"layer": j.ID}))
}

func (o *GeoserverPublicationObserver) fetchResults(ctx context.Context, j job.Job) (map[string]any, error) {
	if j.Results != nil {
		return j.Results, nil
	}

	url := remoteResultsURL(j)

	if url == "" {
		return nil, fmt.Errorf("job has no results source")
	}

	p, err := o.Providers.Get(j.Provider)

	if err != nil {
		return nil, err
	}

	return retry.Do(ctx, o.Retry, func() (map[string]any, error) {
		resp, getErr := o.Client.Get(ctx, p, url)

		if getErr != nil {
			return nil, getErr
		}

		if resp.Status < 200 || resp.Status >= 300 {
			return nil, fmt.Errorf("results fetch returned %d", resp.Status)
		}

		m, isMap := resp.BodyMap()

		if !isMap {
			return nil, fmt.Errorf("results body is not a JSON object")
		}

		return m, nil
	})
}

func (o *GeoserverPublicationObserver) publishFailed(ctx context.Context, j job.Job, err error) {
	o.observe("failed")
	o.Log.Error("publication_failed", "job_id", j.ID, "err", err)
	o.Repo.AppendEvent(ctx, j.ID, job.NewEvent("publication_failed", map[string]any{
		"reason": err.Error(),
	}))
}

func (o *GeoserverPublicationObserver) observe(result string) {
	if o.Prom != nil {
		o.Prom.PublicationResults.WithLabelValues("geoserver", result).Inc()
	}
}

func remoteResultsURL(j job.Job) string {
	if j.RemoteStatusURL != "" {
		base := strings.SplitN(j.RemoteStatusURL, "?", 2)[0]
		return strings.TrimSuffix(base, "/") + "/results?f=json"
	}

	return ""
}

func rawProcessID(j job.Job) string {
	_, rest, found := strings.Cut(j.ProcessID, ":")

	if !found {
		return j.ProcessID
	}

	return rest
}

// navigatePath walks a dotted key path into a decoded JSON document.
func navigatePath(doc map[string]any, dotted string) (any, bool) {
	var cur any = doc

	for _, key := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)

		if !ok {
			return nil, false
		}

		cur, ok = m[key]

		if !ok {
			return nil, false
		}
	}

	return cur, true
}
