package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/domain/provider"
	"github.com/mapfederate/procgate/internal/httpclient"
	"github.com/mapfederate/procgate/internal/observability"
	"github.com/mapfederate/procgate/internal/ogcerr"
	"github.com/mapfederate/procgate/internal/procid"
	"github.com/mapfederate/procgate/internal/retry"
)

const (
	defaultPollInterval = 5 * time.Second
	minPollSleep        = 50 * time.Millisecond
	defaultListLimit    = 10
	maxListLimit        = 100
)

type ManagerConfig struct {
	PollInterval time.Duration
	// PollTimeout < 0 disables the poll deadline.
	PollTimeout       time.Duration
	InlineInputsLimit int
	Retry             retry.Policy
}

// Manager owns the job state machine. Every lifecycle mutation flows
// through here: creation, forwarding, the poll loop, and shutdown.
type Manager struct {
	log          *slog.Logger
	repo         Repository
	client       HTTPClient
	providers    Providers
	orchestrator *Orchestrator
	inputs       InputsStore
	prom         *observability.Prom

	observers []Observer

	retry        retry.Policy
	pollInterval time.Duration
	pollTimeout  time.Duration
	inlineLimit  int

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	closed bool

	wg sync.WaitGroup
}

func NewManager(log *slog.Logger, repo Repository, client HTTPClient, prov Providers, inputs InputsStore, prom *observability.Prom, cfg ManagerConfig) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Retry.MaxTries == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		log:          log,
		repo:         repo,
		client:       client,
		providers:    prov,
		orchestrator: NewOrchestrator(),
		inputs:       inputs,
		prom:         prom,
		retry:        cfg.Retry,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		inlineLimit:  cfg.InlineInputsLimit,
		baseCtx:      ctx,
		cancel:       cancel,
		tasks:        make(map[string]context.CancelFunc),
	}
}

// Register appends observers to the fan-out list. Must be called
// before the manager handles traffic; the list is read-only afterward.
func (m *Manager) Register(obs ...Observer) {
	m.observers = append(m.observers, obs...)
}

// CreateResult is what an execution request produces. Body is always
// the initial accepted snapshot (or the cached snapshot on an
// idempotent hit); the derived state is visible via GetJob.
type CreateResult struct {
	Job      job.Job
	Body     *job.StatusInfo
	Location string
	// CacheHit marks an idempotent replay of a deterministic process.
	CacheHit bool
}

func (m *Manager) CreateAndForward(ctx context.Context, processID string, execBody map[string]any, hdr http.Header, userID string) (CreateResult, error) {
	prefix, rawID, prov, err := m.resolveProvider(processID)

	if err != nil {
		return CreateResult{}, err
	}

	qualifiedID := procid.Join(prefix, rawID)
	pc := prov.Processes[rawID]

	if execBody == nil {
		execBody = map[string]any{}
	}

	hash, err := ExecutionHash(execBody, pc.Version, userID)

	if err != nil {
		return CreateResult{}, ogcerr.Wrap(ogcerr.KindInvalidUsage, "execution body is not valid JSON", err)
	}

	if pc.Deterministic {
		existing, found, findErr := m.repo.FindSuccessfulByHash(ctx, hash, userID)

		if findErr != nil {
			m.log.Warn("idempotency_lookup_failed", "process", qualifiedID, "err", findErr)
		} else if found {
			m.log.Info("idempotent_replay", "job_id", existing.ID, "process", qualifiedID)
			return CreateResult{
				Job:      existing,
				Body:     existing.StatusInfo.Clone(),
				Location: selfHref(existing.ID),
				CacheHit: true,
			}, nil
		}
	}

	j := job.New(job.CreateRequest{
		ProcessID: qualifiedID,
		Provider:  prefix,
		UserID:    userID,
		Hash:      hash,
	})

	if err := m.storeInputs(ctx, &j, execBody); err != nil {
		return CreateResult{}, err
	}

	created, err := m.repo.Create(ctx, j)

	if err != nil {
		return CreateResult{}, ogcerr.Wrap(ogcerr.KindInternal, "persist job", err)
	}

	now := time.Now().UTC()
	progress := 0
	acceptedSI := &job.StatusInfo{
		JobID:     created.ID,
		Status:    job.StatusAccepted,
		Type:      "process",
		ProcessID: qualifiedID,
		Message:   "Accepted",
		Created:   &created.Created,
		Updated:   &now,
		Progress:  &progress,
	}
	normalizeLinks(acceptedSI, created.ID)

	created, err = m.repo.AppendStatus(ctx, created.ID, acceptedSI)

	if err != nil {
		return CreateResult{}, ogcerr.Wrap(ogcerr.KindInternal, "persist accepted snapshot", err)
	}

	acceptedBody := acceptedSI.Clone()
	m.fanout(func(o Observer) { o.OnJobCreated(ctx, created, acceptedSI) })

	updated := m.forward(ctx, created, prov, rawID, execBody, hdr)

	return CreateResult{
		Job:      updated,
		Body:     acceptedBody,
		Location: selfHref(created.ID),
	}, nil
}

// resolveProvider turns a (possibly unqualified) process id into a
// provider descriptor and raw process id.
func (m *Manager) resolveProvider(processID string) (string, string, provider.Descriptor, error) {
	prefix, rawID, err := procid.Extract(processID)

	if err != nil {
		// unqualified id: linear search across known providers
		for _, d := range m.providers.List() {
			if _, ok := d.Processes[processID]; ok {
				p, getErr := m.providers.Get(d.Name)

				if getErr != nil {
					continue
				}

				return d.Name, processID, p, nil
			}
		}

		return "", "", provider.Descriptor{}, ogcerr.New(ogcerr.KindNotFound, fmt.Sprintf("no provider offers process %q", processID))
	}

	p, err := m.providers.Get(prefix)

	if err != nil {
		return "", "", provider.Descriptor{}, ogcerr.Wrap(ogcerr.KindNotFound, fmt.Sprintf("unknown provider %q", prefix), err)
	}

	return prefix, rawID, p, nil
}

func (m *Manager) storeInputs(ctx context.Context, j *job.Job, execBody map[string]any) error {
	canonical, err := CanonicalJSON(execBody)

	if err != nil {
		return ogcerr.Wrap(ogcerr.KindInvalidUsage, "execution body is not valid JSON", err)
	}

	j.InputsSize = len(canonical)
	j.InputsChecksum = InputsChecksum(canonical)

	if m.inlineLimit > 0 && len(canonical) > m.inlineLimit {
		if m.inputs == nil {
			m.log.Warn("inputs_offload_unavailable", "job_id", j.ID, "size", len(canonical), "limit", m.inlineLimit)
		} else if url, putErr := m.inputs.Put(ctx, j.ID, canonical); putErr != nil {
			m.log.Warn("inputs_offload_failed", "job_id", j.ID, "err", putErr)
		} else {
			j.InputsURL = url
			j.InputsStorage = job.InputsObject
			return nil
		}
	}

	j.Inputs = execBody
	j.InputsStorage = job.InputsInline
	return nil
}

// forward POSTs the execution to the provider, derives the remote
// state, and persists the resulting transition. Forwarding errors are
// converted into a failed transition; the API call itself succeeds.
func (m *Manager) forward(ctx context.Context, j job.Job, prov provider.Descriptor, rawID string, execBody map[string]any, hdr http.Header) job.Job {
	execURL := fmt.Sprintf("%sprocesses/%s/execution", prov.URL, rawID)

	fwdHdr := http.Header{}
	if prefer := hdr.Get("Prefer"); prefer != "" {
		fwdHdr.Set("Prefer", prefer)
	}

	start := time.Now()
	resp, err := retry.Do(ctx, m.retry, func() (*httpclient.Response, error) {
		r, postErr := m.client.Post(ctx, prov, execURL, execBody, fwdHdr)

		if postErr != nil {
			return nil, postErr
		}

		if statusErr := httpclient.ErrorFromStatus(r, "execution request rejected"); statusErr != nil {
			return nil, statusErr
		}

		return r, nil
	})

	m.observeForward(prov.Name, start, err)

	if err != nil {
		m.log.Error("forward_failed", "job_id", j.ID, "provider", prov.Name, "err", err)
		m.repo.AppendEvent(ctx, j.ID, job.NewEvent("forward_failed", map[string]any{
			"url":    execURL,
			"reason": err.Error(),
		}))

		failed, mErr := m.repo.MarkFailed(ctx, j.ID, "Execution request failed", err.Error())

		if mErr != nil {
			m.log.Error("mark_failed_error", "job_id", j.ID, "err", mErr)
			return j
		}

		m.fanout(func(o Observer) { o.OnStatusChanged(ctx, failed, j.StatusInfo, failed.StatusInfo) })
		m.fanout(func(o Observer) { o.OnJobCompleted(ctx, failed, failed.StatusInfo) })
		return failed
	}

	now := time.Now().UTC()
	d := m.orchestrator.Derive(ctx, DeriveInput{
		Job:      j,
		Provider: prov,
		Resp:     resp,
		Client:   m.client,
		Now:      now,
	})

	si := d.StatusInfo
	oldSI := j.StatusInfo

	j.RemoteJobID = d.RemoteJobID
	j.RemoteStatusURL = d.RemoteStatusURL
	if d.Diagnostic != "" {
		j.Diagnostic = d.Diagnostic
	}

	// keep synchronously delivered outputs for local result serving
	if si.Status == job.StatusSuccessful && d.RemoteStatusURL == "" {
		if body, ok := resp.BodyMap(); ok {
			if _, hasOutputs := body["outputs"]; hasOutputs {
				j.Results = body
			}
		}
	}

	enrich(si, j, now)
	normalizeLinks(si, j.ID)

	updated, err := m.repo.Update(ctx, j)

	if err != nil {
		m.log.Error("job_update_failed", "job_id", j.ID, "err", err)
		return j
	}

	updated, err = m.repo.AppendStatus(ctx, updated.ID, si)

	if err != nil {
		m.log.Error("append_status_failed", "job_id", updated.ID, "err", err)
		return updated
	}

	m.fanout(func(o Observer) { o.OnStatusChanged(ctx, updated, oldSI, si) })

	if si.Status == job.StatusSuccessful {
		return m.verifyImmediateSuccess(ctx, updated, prov, si)
	}

	if si.Status.IsTerminal() {
		m.fanout(func(o Observer) { o.OnJobCompleted(ctx, updated, si) })
	}

	return updated
}

// verifyImmediateSuccess probes the remote results endpoint when the
// provider claims synchronous success. A dead endpoint downgrades the
// job to failed before anyone could have fetched the results link.
func (m *Manager) verifyImmediateSuccess(ctx context.Context, j job.Job, prov provider.Descriptor, si *job.StatusInfo) job.Job {
	url := remoteResultsURL(j)

	if url == "" {
		// outputs arrived inline; nothing remote to verify
		m.fanout(func(o Observer) { o.OnJobCompleted(ctx, j, si) })
		return j
	}

	_, err := retry.Do(ctx, m.retry, func() (struct{}, error) {
		resp, getErr := m.client.Get(ctx, prov, url)

		if getErr != nil {
			return struct{}{}, getErr
		}

		if statusErr := httpclient.ErrorFromStatus(resp, "results probe failed"); statusErr != nil {
			return struct{}{}, statusErr
		}

		return struct{}{}, nil
	})

	if err == nil {
		m.fanout(func(o Observer) { o.OnJobCompleted(ctx, j, si) })
		return j
	}

	m.log.Warn("immediate_success_unverified", "job_id", j.ID, "url", url, "err", err)

	now := time.Now().UTC()
	fsi := &job.StatusInfo{
		Status:   job.StatusFailed,
		Type:     "process",
		Message:  "result fetch failed after remote success",
		Finished: &now,
		Updated:  &now,
		Progress: si.Progress,
	}
	enrich(fsi, j, now)
	normalizeLinks(fsi, j.ID)
	stripResultsLink(fsi)

	if j.Diagnostic != "" {
		j.Diagnostic += " | result fetch failed"
	} else {
		j.Diagnostic = "result fetch failed: " + err.Error()
	}

	updated, uErr := m.repo.Update(ctx, j)

	if uErr != nil {
		m.log.Error("job_update_failed", "job_id", j.ID, "err", uErr)
		updated = j
	}

	downgraded, aErr := m.repo.AppendStatus(ctx, updated.ID, fsi)

	if aErr != nil {
		m.log.Error("append_status_failed", "job_id", updated.ID, "err", aErr)
		return updated
	}

	m.fanout(func(o Observer) { o.OnStatusChanged(ctx, downgraded, si, fsi) })
	m.fanout(func(o Observer) { o.OnJobCompleted(ctx, downgraded, fsi) })
	return downgraded
}

func (m *Manager) GetJob(ctx context.Context, id, userID string) (job.Job, error) {
	j, err := m.repo.Get(ctx, id)

	if err != nil {
		return job.Job{}, ogcerr.Wrap(ogcerr.KindNotFound, fmt.Sprintf("job %q not found", id), err)
	}

	if userID != "" && j.UserID != "" && j.UserID != userID {
		visible, vErr := m.repo.IsVisible(ctx, j, userID)

		if vErr != nil || !visible {
			return job.Job{}, ogcerr.New(ogcerr.KindNotAuthorized, "job belongs to another user")
		}
	}

	return j, nil
}

func (m *Manager) ListJobs(ctx context.Context, f ListFilter) ([]job.Job, int, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}

	return m.repo.List(ctx, f)
}

// Results is a proxied results document.
type Results struct {
	ContentType string
	Raw         []byte
}

func (m *Manager) GetResults(ctx context.Context, id, userID string) (Results, error) {
	j, err := m.GetJob(ctx, id, userID)

	if err != nil {
		return Results{}, err
	}

	if j.Status != job.StatusSuccessful {
		return Results{}, ogcerr.New(ogcerr.KindNotFound, fmt.Sprintf("results for job %q are not ready", id))
	}

	if j.Results != nil {
		raw, mErr := CanonicalJSON(j.Results)

		if mErr != nil {
			return Results{}, ogcerr.Wrap(ogcerr.KindInternal, "encode stored results", mErr)
		}

		return Results{ContentType: "application/json", Raw: raw}, nil
	}

	url := remoteResultsURL(j)

	if url == "" {
		return Results{}, ogcerr.New(ogcerr.KindNotFound, fmt.Sprintf("job %q has no results source", id))
	}

	prov, err := m.providers.Get(j.Provider)

	if err != nil {
		return Results{}, ogcerr.Wrap(ogcerr.KindNotFound, fmt.Sprintf("unknown provider %q", j.Provider), err)
	}

	resp, err := retry.Do(ctx, m.retry, func() (*httpclient.Response, error) {
		r, getErr := m.client.Get(ctx, prov, url)

		if getErr != nil {
			return nil, getErr
		}

		if statusErr := httpclient.ErrorFromStatus(r, "results fetch failed"); statusErr != nil {
			return nil, statusErr
		}

		return r, nil
	})

	if err != nil {
		return Results{}, err
	}

	return Results{ContentType: resp.ContentType(), Raw: resp.Raw}, nil
}

// InputsDoc is the execution payload a job was created with.
type InputsDoc struct {
	ContentType string
	Raw         []byte
}

// GetInputs serves the stored execution payload, fetching it from the
// inputs store when it was offloaded by reference.
func (m *Manager) GetInputs(ctx context.Context, id, userID string) (InputsDoc, error) {
	j, err := m.GetJob(ctx, id, userID)

	if err != nil {
		return InputsDoc{}, err
	}

	if j.InputsStorage == job.InputsObject && j.InputsURL != "" {
		if m.inputs == nil {
			return InputsDoc{}, ogcerr.New(ogcerr.KindInternal, "inputs store not configured")
		}

		raw, fetchErr := m.inputs.Fetch(ctx, j.InputsURL)

		if fetchErr != nil {
			return InputsDoc{}, ogcerr.Wrap(ogcerr.KindInternal, "fetch stored inputs", fetchErr)
		}

		return InputsDoc{ContentType: "application/json", Raw: raw}, nil
	}

	if j.Inputs != nil {
		raw, mErr := CanonicalJSON(j.Inputs)

		if mErr != nil {
			return InputsDoc{}, ogcerr.Wrap(ogcerr.KindInternal, "encode stored inputs", mErr)
		}

		return InputsDoc{ContentType: "application/json", Raw: raw}, nil
	}

	return InputsDoc{}, ogcerr.New(ogcerr.KindNotFound, fmt.Sprintf("job %q has no stored inputs", id))
}

// SchedulePoll registers the background poll task for a job. At most
// one task exists per job id; scheduling after shutdown is a no-op.
func (m *Manager) SchedulePoll(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	if _, exists := m.tasks[jobID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	m.tasks[jobID] = cancel

	m.wg.Add(1)
	go m.pollLoop(ctx, jobID)
}

func (m *Manager) pollLoop(ctx context.Context, jobID string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.tasks, jobID)
		m.mu.Unlock()
	}()

	if m.prom != nil {
		m.prom.PollsInFlight.Inc()
		defer m.prom.PollsInFlight.Dec()
	}

	start := time.Now()
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j, err := m.repo.Get(ctx, jobID)

		if err != nil {
			m.log.Error("poll_job_lookup_failed", "job_id", jobID, "err", err)
			return
		}

		if j.IsTerminal() || j.RemoteStatusURL == "" {
			return
		}

		if m.pollTimeout >= 0 && time.Since(start) >= m.pollTimeout {
			m.failTimedOut(ctx, j)
			return
		}

		prov, err := m.providers.Get(j.Provider)

		if err != nil {
			m.log.Error("poll_provider_missing", "job_id", jobID, "provider", j.Provider)
			m.repo.AppendEvent(ctx, jobID, job.NewEvent("poll_failed", map[string]any{
				"reason": err.Error(),
			}))
			return
		}

		terminal := m.pollOnce(ctx, j, prov)

		if terminal {
			return
		}

		attempt++
		if !m.sleep(ctx, attempt) {
			return
		}
	}
}

// pollOnce fetches one status snapshot and applies it. Returns true
// when the job reached a terminal state.
func (m *Manager) pollOnce(ctx context.Context, j job.Job, prov provider.Descriptor) bool {
	resp, err := retry.Do(ctx, m.retry, func() (*httpclient.Response, error) {
		r, getErr := m.client.Get(ctx, prov, j.RemoteStatusURL)

		if getErr != nil {
			return nil, getErr
		}

		if statusErr := httpclient.ErrorFromStatus(r, "status poll failed"); statusErr != nil {
			return nil, statusErr
		}

		return r, nil
	})

	if err != nil {
		m.observePoll(prov.Name, "error")
		m.repo.AppendEvent(ctx, j.ID, job.NewEvent("poll_failed", map[string]any{
			"url":    j.RemoteStatusURL,
			"reason": err.Error(),
		}))
		return false
	}

	body, ok := resp.BodyMap()

	if !ok || !hasRequiredFields(body) {
		m.observePoll(prov.Name, "error")
		m.repo.AppendEvent(ctx, j.ID, job.NewEvent("poll_decode_failed", map[string]any{
			"url":       j.RemoteStatusURL,
			"body_type": bodyType(resp),
		}))
		return false
	}

	si, err := parseStatusInfo(body)

	if err != nil {
		m.observePoll(prov.Name, "error")
		m.repo.AppendEvent(ctx, j.ID, job.NewEvent("poll_decode_failed", map[string]any{
			"url":    j.RemoteStatusURL,
			"reason": err.Error(),
		}))
		return false
	}

	now := time.Now().UTC()
	oldSI := j.StatusInfo

	enrich(si, j, now)
	normalizeLinks(si, j.ID)

	if !snapshotChanged(oldSI, si) {
		m.observePoll(prov.Name, "pending")
		return false
	}

	updated, err := m.repo.AppendStatus(ctx, j.ID, si)

	if err != nil {
		if errors.Is(err, job.ErrTerminalTransition) {
			return true
		}

		m.log.Error("append_status_failed", "job_id", j.ID, "err", err)
		return false
	}

	m.fanout(func(o Observer) { o.OnStatusChanged(ctx, updated, oldSI, si) })

	if si.Status.IsTerminal() {
		m.observePoll(prov.Name, "terminal")
		m.fanout(func(o Observer) { o.OnJobCompleted(ctx, updated, si) })
		return true
	}

	m.observePoll(prov.Name, "pending")
	return false
}

func (m *Manager) failTimedOut(ctx context.Context, j job.Job) {
	now := time.Now().UTC()

	fsi := &job.StatusInfo{
		Status:   job.StatusFailed,
		Type:     "process",
		Message:  fmt.Sprintf("Timed out after %gs", m.pollTimeout.Seconds()),
		Finished: &now,
		Updated:  &now,
	}

	if j.StatusInfo != nil && j.StatusInfo.Progress != nil {
		p := *j.StatusInfo.Progress
		fsi.Progress = &p
	}

	enrich(fsi, j, now)
	normalizeLinks(fsi, j.ID)

	oldSI := j.StatusInfo
	updated, err := m.repo.AppendStatus(ctx, j.ID, fsi)

	if err != nil {
		m.log.Error("poll_timeout_transition_failed", "job_id", j.ID, "err", err)
		return
	}

	m.observePoll(j.Provider, "timeout")
	m.fanout(func(o Observer) { o.OnStatusChanged(ctx, updated, oldSI, fsi) })
	m.fanout(func(o Observer) { o.OnJobCompleted(ctx, updated, fsi) })
}

// sleep waits between poll iterations with jittered exponential
// backoff bounded by the configured interval. Returns false when the
// context is cancelled.
func (m *Manager) sleep(ctx context.Context, attempt int) bool {
	d := minPollSleep << uint(attempt)

	if d > m.pollInterval || d <= 0 {
		d = m.pollInterval
	}

	// +/- 25% jitter
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	d += jitter

	if d < minPollSleep {
		d = minPollSleep
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Shutdown cancels all poll tasks and waits for them within the
// caller's deadline. Safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("shutdown_grace_exceeded")
	}
}

func snapshotChanged(old, cur *job.StatusInfo) bool {
	if old == nil {
		return true
	}

	if old.Status != cur.Status || old.Message != cur.Message {
		return true
	}

	op, cp := -1, -1
	if old.Progress != nil {
		op = *old.Progress
	}
	if cur.Progress != nil {
		cp = *cur.Progress
	}

	return op != cp
}

func (m *Manager) fanout(fn func(Observer)) {
	for _, o := range m.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("observer_panic", "err", r)
				}
			}()
			fn(o)
		}()
	}
}

func (m *Manager) observeForward(providerName string, start time.Time, err error) {
	if m.prom == nil {
		return
	}

	result := "ok"
	kind := "ok"

	if err != nil {
		result = "error"
		kind = string(ogcerr.KindOf(err))
	}

	m.prom.ForwardDuration.WithLabelValues(providerName, result).Observe(time.Since(start).Seconds())
	m.prom.ForwardResults.WithLabelValues(providerName, kind).Inc()
}

func (m *Manager) observePoll(providerName, result string) {
	if m.prom != nil {
		m.prom.PollCycles.WithLabelValues(providerName, result).Inc()
	}
}
