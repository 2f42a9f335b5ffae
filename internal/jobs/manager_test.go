package jobs_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/domain/provider"
	"github.com/mapfederate/procgate/internal/httpclient"
	"github.com/mapfederate/procgate/internal/jobs"
	"github.com/mapfederate/procgate/internal/ogcerr"
	"github.com/mapfederate/procgate/internal/repo/memory"
	"github.com/mapfederate/procgate/internal/retry"
)

type fakeClient struct {
	mu     sync.Mutex
	posts  int
	gets   []string
	getFn  func(url string) (*httpclient.Response, error)
	postFn func(url string) (*httpclient.Response, error)
}

func (c *fakeClient) Get(_ context.Context, _ provider.Descriptor, url string) (*httpclient.Response, error) {
	c.mu.Lock()
	c.gets = append(c.gets, url)
	c.mu.Unlock()

	if c.getFn != nil {
		return c.getFn(url)
	}
	return &httpclient.Response{Status: 200, Header: http.Header{}}, nil
}

func (c *fakeClient) Post(_ context.Context, _ provider.Descriptor, url string, _ any, _ http.Header) (*httpclient.Response, error) {
	c.mu.Lock()
	c.posts++
	c.mu.Unlock()

	if c.postFn != nil {
		return c.postFn(url)
	}
	return &httpclient.Response{Status: 200, Header: http.Header{}}, nil
}

func (c *fakeClient) postCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.posts
}

type fakeProviders struct {
	m map[string]provider.Descriptor
}

func (f *fakeProviders) Get(name string) (provider.Descriptor, error) {
	p, ok := f.m[name]
	if !ok {
		return provider.Descriptor{}, fmt.Errorf("no provider %q", name)
	}
	return p, nil
}

func (f *fakeProviders) List() []provider.Descriptor {
	out := make([]provider.Descriptor, 0, len(f.m))
	for _, p := range f.m {
		out = append(out, p)
	}
	return out
}

func statusDoc(t *testing.T, status int, doc map[string]any) *httpclient.Response {
	t.Helper()

	raw, err := json.Marshal(doc)

	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	return &httpclient.Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Raw:    raw,
		Body:   decoded,
	}
}

func simProvider(deterministic bool) provider.Descriptor {
	return provider.Descriptor{
		Name:    "sim",
		URL:     "https://sim.example/api/",
		Timeout: 5 * time.Second,
		Processes: map[string]provider.ProcessConfig{
			"flood-model": {
				ID:            "flood-model",
				Version:       "1.0.0",
				Deterministic: deterministic,
			},
		},
	}
}

type fakeInputsStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (s *fakeInputsStore) Put(_ context.Context, jobID string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.docs == nil {
		s.docs = make(map[string][]byte)
	}

	url := "mem://inputs/" + jobID
	s.docs[url] = append([]byte(nil), data...)
	return url, nil
}

func (s *fakeInputsStore) Fetch(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[url]
	if !ok {
		return nil, fmt.Errorf("no inputs at %q", url)
	}
	return d, nil
}

func newTestManager(t *testing.T, client jobs.HTTPClient, prov provider.Descriptor, cfg jobs.ManagerConfig) (*jobs.Manager, *memory.JobsRepo) {
	t.Helper()
	return newTestManagerWithInputs(t, client, prov, nil, cfg)
}

func newTestManagerWithInputs(t *testing.T, client jobs.HTTPClient, prov provider.Descriptor, store jobs.InputsStore, cfg jobs.ManagerConfig) (*jobs.Manager, *memory.JobsRepo) {
	t.Helper()

	if cfg.Retry.MaxTries == 0 {
		cfg.Retry = retry.Policy{MaxTries: 1, BaseInterval: time.Millisecond, MaxInterval: time.Millisecond}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = -1
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewJobsRepo()

	m := jobs.NewManager(log, repo, client, &fakeProviders{m: map[string]provider.Descriptor{prov.Name: prov}}, store, nil, cfg)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})

	return m, repo
}

func waitTerminal(t *testing.T, repo *memory.JobsRepo, id string) job.Job {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		j, err := repo.Get(context.Background(), id)

		if err != nil {
			t.Fatalf("job lookup: %v", err)
		}

		if j.IsTerminal() {
			return j
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("job %s never reached a terminal state", id)
	return job.Job{}
}

func TestCreateAndForward_AsyncAccepted(t *testing.T) {
	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			resp := statusDoc(t, 201, map[string]any{
				"jobID":  "remote-1",
				"status": "accepted",
				"type":   "process",
				"links": []map[string]any{
					{"href": "https://sim.example/api/jobs/remote-1", "rel": "self"},
				},
			})
			resp.Header.Set("Location", "/jobs/remote-1")
			return resp, nil
		},
	}

	m, repo := newTestManager(t, client, simProvider(false), jobs.ManagerConfig{})

	res, err := m.CreateAndForward(context.Background(), "sim:flood-model", map[string]any{"inputs": map[string]any{}}, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("CreateAndForward error: %v", err)
	}

	if res.Body.Status != job.StatusAccepted {
		t.Fatalf("response body must be the accepted snapshot, got %s", res.Body.Status)
	}

	if res.Location != "/jobs/"+res.Job.ID {
		t.Fatalf("location %q", res.Location)
	}

	stored, err := repo.Get(context.Background(), res.Job.ID)

	if err != nil {
		t.Fatalf("stored job lookup: %v", err)
	}

	if stored.RemoteJobID != "remote-1" {
		t.Fatalf("remote job id %q", stored.RemoteJobID)
	}

	if stored.RemoteStatusURL != "https://sim.example/jobs/remote-1" {
		t.Fatalf("remote status url %q", stored.RemoteStatusURL)
	}

	for _, l := range stored.StatusInfo.Links {
		if strings.Contains(l.Href, "://") {
			t.Fatalf("provider href leaked into snapshot: %q", l.Href)
		}
	}

	history, _ := repo.History(context.Background(), res.Job.ID)

	if len(history) != 2 {
		t.Fatalf("expected 2 snapshots (accepted, derived), got %d", len(history))
	}
}

func TestCreateAndForward_ImmediateResults(t *testing.T) {
	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			return statusDoc(t, 200, map[string]any{
				"outputs": map[string]any{"echo": "hello"},
			}), nil
		},
	}

	m, repo := newTestManager(t, client, simProvider(false), jobs.ManagerConfig{})

	res, err := m.CreateAndForward(context.Background(), "sim:flood-model", map[string]any{}, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("CreateAndForward error: %v", err)
	}

	stored, _ := repo.Get(context.Background(), res.Job.ID)

	if stored.Status != job.StatusSuccessful {
		t.Fatalf("expected successful, got %s", stored.Status)
	}

	out, err := m.GetResults(context.Background(), res.Job.ID, "user-1")

	if err != nil {
		t.Fatalf("GetResults error: %v", err)
	}

	if out.ContentType != "application/json" || !strings.Contains(string(out.Raw), `"echo":"hello"`) {
		t.Fatalf("unexpected results payload: %s %s", out.ContentType, out.Raw)
	}
}

func TestCreateAndForward_UpstreamFailureAfterRetries(t *testing.T) {
	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			return &httpclient.Response{Status: 503, Header: http.Header{}, Raw: []byte("overloaded")}, nil
		},
	}

	m, repo := newTestManager(t, client, simProvider(false), jobs.ManagerConfig{
		Retry: retry.Policy{MaxTries: 3, BaseInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	})

	res, err := m.CreateAndForward(context.Background(), "sim:flood-model", map[string]any{}, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("the API call itself must succeed, got %v", err)
	}

	if res.Body.Status != job.StatusAccepted {
		t.Fatalf("response body must stay the accepted snapshot")
	}

	if got := client.postCount(); got != 3 {
		t.Fatalf("expected 3 attempts for a transient 503, got %d", got)
	}

	stored, _ := repo.Get(context.Background(), res.Job.ID)

	if stored.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}

	events, _ := repo.Events(context.Background(), res.Job.ID)

	var sawForwardFailed bool
	for _, ev := range events {
		if ev.Kind == "forward_failed" {
			sawForwardFailed = true
		}
	}

	if !sawForwardFailed {
		t.Fatalf("forward_failed event missing, got %v", events)
	}
}

func TestPollLoop_ReachesSuccess(t *testing.T) {
	statusURL := "https://sim.example/api/jobs/remote-5?f=json"

	var mu sync.Mutex
	polls := 0

	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			return statusDoc(t, 201, map[string]any{
				"jobID":  "remote-5",
				"status": "accepted",
				"type":   "process",
			}), nil
		},
		getFn: func(url string) (*httpclient.Response, error) {
			if strings.Contains(url, "/results") {
				return statusDoc(t, 200, map[string]any{"outputs": map[string]any{}}), nil
			}

			mu.Lock()
			polls++
			n := polls
			mu.Unlock()

			if n == 1 {
				return statusDoc(t, 200, map[string]any{
					"jobID":    "remote-5",
					"status":   "running",
					"type":     "process",
					"progress": 40,
				}), nil
			}

			return statusDoc(t, 200, map[string]any{
				"jobID":  "remote-5",
				"status": "successful",
				"type":   "process",
			}), nil
		},
	}

	m, repo := newTestManager(t, client, simProvider(false), jobs.ManagerConfig{})
	m.Register(&jobs.PollingSchedulerObserver{Scheduler: m})

	res, err := m.CreateAndForward(context.Background(), "sim:flood-model", map[string]any{}, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("CreateAndForward error: %v", err)
	}

	stored, _ := repo.Get(context.Background(), res.Job.ID)

	if stored.RemoteStatusURL != statusURL {
		t.Fatalf("remote status url %q, want %q", stored.RemoteStatusURL, statusURL)
	}

	final := waitTerminal(t, repo, res.Job.ID)

	if final.Status != job.StatusSuccessful {
		t.Fatalf("expected successful, got %s (%s)", final.Status, final.StatusInfo.Message)
	}

	if final.StatusInfo.Progress == nil || *final.StatusInfo.Progress != 100 {
		t.Fatalf("success snapshot must carry progress 100")
	}

	var hasResultsLink bool
	for _, l := range final.StatusInfo.Links {
		if l.Rel == "results" && l.Href == "/jobs/"+final.ID+"/results" {
			hasResultsLink = true
		}
	}

	if !hasResultsLink {
		t.Fatalf("results link missing: %v", final.StatusInfo.Links)
	}
}

func TestPollLoop_ZeroTimeoutFailsImmediately(t *testing.T) {
	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			return statusDoc(t, 201, map[string]any{
				"jobID":  "remote-6",
				"status": "accepted",
				"type":   "process",
			}), nil
		},
		getFn: func(string) (*httpclient.Response, error) {
			t.Errorf("no poll request expected with a zero timeout")
			return nil, ogcerr.New(ogcerr.KindInternal, "unexpected")
		},
	}

	m, repo := newTestManager(t, client, simProvider(false), jobs.ManagerConfig{
		PollTimeout: time.Nanosecond, // effectively zero: expires before the first poll
	})
	m.Register(&jobs.PollingSchedulerObserver{Scheduler: m})

	res, err := m.CreateAndForward(context.Background(), "sim:flood-model", map[string]any{}, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("CreateAndForward error: %v", err)
	}

	final := waitTerminal(t, repo, res.Job.ID)

	if final.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}

	if !strings.HasPrefix(final.StatusInfo.Message, "Timed out after") {
		t.Fatalf("message %q", final.StatusInfo.Message)
	}
}

func TestCreateAndForward_IdempotentReplay(t *testing.T) {
	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			return statusDoc(t, 200, map[string]any{
				"outputs": map[string]any{"echo": "hello"},
			}), nil
		},
	}

	m, _ := newTestManager(t, client, simProvider(true), jobs.ManagerConfig{})

	body := map[string]any{"inputs": map[string]any{"region": "north"}}

	first, err := m.CreateAndForward(context.Background(), "sim:flood-model", body, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("first execution: %v", err)
	}

	second, err := m.CreateAndForward(context.Background(), "sim:flood-model", map[string]any{"inputs": map[string]any{"region": "north"}}, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("second execution: %v", err)
	}

	if !second.CacheHit {
		t.Fatalf("expected a cache hit")
	}

	if second.Job.ID != first.Job.ID {
		t.Fatalf("replay returned a different job: %s vs %s", second.Job.ID, first.Job.ID)
	}

	if got := client.postCount(); got != 1 {
		t.Fatalf("provider contacted %d times, want 1", got)
	}

	// another user never hits the cache
	third, err := m.CreateAndForward(context.Background(), "sim:flood-model", body, http.Header{}, "user-2")

	if err != nil {
		t.Fatalf("third execution: %v", err)
	}

	if third.CacheHit {
		t.Fatalf("cache must be scoped per user")
	}
}

func TestCreateAndForward_OffloadsLargeInputs(t *testing.T) {
	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			return statusDoc(t, 200, map[string]any{
				"outputs": map[string]any{"echo": "ok"},
			}), nil
		},
	}

	store := &fakeInputsStore{}
	m, repo := newTestManagerWithInputs(t, client, simProvider(false), store, jobs.ManagerConfig{
		InlineInputsLimit: 16,
	})

	body := map[string]any{"inputs": map[string]any{"region": strings.Repeat("north ", 32)}}

	res, err := m.CreateAndForward(context.Background(), "sim:flood-model", body, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("CreateAndForward error: %v", err)
	}

	stored, err := repo.Get(context.Background(), res.Job.ID)

	if err != nil {
		t.Fatalf("stored job lookup: %v", err)
	}

	if stored.InputsStorage != job.InputsObject {
		t.Fatalf("inputs storage %q, want %q", stored.InputsStorage, job.InputsObject)
	}

	if stored.InputsURL == "" {
		t.Fatalf("inputs url not set on an offloaded job")
	}

	if stored.Inputs != nil {
		t.Fatalf("inline inputs kept alongside the reference: %v", stored.Inputs)
	}

	if stored.InputsSize <= 16 || stored.InputsChecksum == "" {
		t.Fatalf("size/checksum not recorded: %d %q", stored.InputsSize, stored.InputsChecksum)
	}

	doc, err := m.GetInputs(context.Background(), res.Job.ID, "user-1")

	if err != nil {
		t.Fatalf("GetInputs error: %v", err)
	}

	if doc.ContentType != "application/json" || !strings.Contains(string(doc.Raw), "north") {
		t.Fatalf("fetched inputs payload: %s %s", doc.ContentType, doc.Raw)
	}
}

func TestCreateAndForward_InlineWhenNoStore(t *testing.T) {
	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			return statusDoc(t, 200, map[string]any{
				"outputs": map[string]any{"echo": "ok"},
			}), nil
		},
	}

	m, repo := newTestManager(t, client, simProvider(false), jobs.ManagerConfig{
		InlineInputsLimit: 16,
	})

	body := map[string]any{"inputs": map[string]any{"region": strings.Repeat("north ", 32)}}

	res, err := m.CreateAndForward(context.Background(), "sim:flood-model", body, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("CreateAndForward error: %v", err)
	}

	stored, _ := repo.Get(context.Background(), res.Job.ID)

	// without a store the job still executes, inputs stay inline
	if stored.InputsStorage != job.InputsInline || stored.Inputs == nil {
		t.Fatalf("expected inline fallback, got %q inputs=%v", stored.InputsStorage, stored.Inputs)
	}

	doc, err := m.GetInputs(context.Background(), res.Job.ID, "user-1")

	if err != nil {
		t.Fatalf("GetInputs error: %v", err)
	}

	if !strings.Contains(string(doc.Raw), "north") {
		t.Fatalf("inline inputs not served: %s", doc.Raw)
	}
}

func TestVerificationDowngrade(t *testing.T) {
	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			return statusDoc(t, 200, map[string]any{
				"jobID":  "remote-8",
				"status": "successful",
				"type":   "process",
			}), nil
		},
		getFn: func(url string) (*httpclient.Response, error) {
			return &httpclient.Response{Status: 404, Header: http.Header{}, Raw: []byte("gone")}, nil
		},
	}

	m, repo := newTestManager(t, client, simProvider(false), jobs.ManagerConfig{})

	res, err := m.CreateAndForward(context.Background(), "sim:flood-model", map[string]any{}, http.Header{}, "user-1")

	if err != nil {
		t.Fatalf("CreateAndForward error: %v", err)
	}

	stored, _ := repo.Get(context.Background(), res.Job.ID)

	if stored.Status != job.StatusFailed {
		t.Fatalf("expected verification downgrade to failed, got %s", stored.Status)
	}

	if !strings.Contains(stored.StatusInfo.Message, "result fetch failed") {
		t.Fatalf("message %q", stored.StatusInfo.Message)
	}

	for _, l := range stored.StatusInfo.Links {
		if l.Rel == "results" {
			t.Fatalf("results link must be stripped after downgrade")
		}
	}
}

func TestGetJob_Visibility(t *testing.T) {
	client := &fakeClient{
		postFn: func(string) (*httpclient.Response, error) {
			return statusDoc(t, 200, map[string]any{
				"outputs": map[string]any{},
			}), nil
		},
	}

	m, _ := newTestManager(t, client, simProvider(false), jobs.ManagerConfig{})

	res, err := m.CreateAndForward(context.Background(), "sim:flood-model", map[string]any{}, http.Header{}, "owner")

	if err != nil {
		t.Fatalf("CreateAndForward error: %v", err)
	}

	if _, err := m.GetJob(context.Background(), res.Job.ID, "stranger"); ogcerr.KindOf(err) != ogcerr.KindNotAuthorized {
		t.Fatalf("expected not-authorized, got %v", err)
	}

	if err := m.ShareJob(context.Background(), res.Job.ID, "owner", "stranger"); err != nil {
		t.Fatalf("ShareJob error: %v", err)
	}

	if _, err := m.GetJob(context.Background(), res.Job.ID, "stranger"); err != nil {
		t.Fatalf("shared job must be visible: %v", err)
	}

	if err := m.ShareJob(context.Background(), res.Job.ID, "stranger", "other"); ogcerr.KindOf(err) != ogcerr.KindNotAuthorized {
		t.Fatalf("only the owner shares, got %v", err)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	m, _ := newTestManager(t, &fakeClient{}, simProvider(false), jobs.ManagerConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	m.Shutdown(ctx)
	m.Shutdown(ctx)

	// scheduling after shutdown must be a no-op
	m.SchedulePoll("nope")
}
