package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/domain/provider"
	"github.com/mapfederate/procgate/internal/httpclient"
)

type stubClient struct {
	getFn  func(ctx context.Context, p provider.Descriptor, url string) (*httpclient.Response, error)
	postFn func(ctx context.Context, p provider.Descriptor, url string, payload any, hdr http.Header) (*httpclient.Response, error)
}

func (c *stubClient) Get(ctx context.Context, p provider.Descriptor, url string) (*httpclient.Response, error) {
	if c.getFn != nil {
		return c.getFn(ctx, p, url)
	}
	return &httpclient.Response{Status: 200, Header: http.Header{}}, nil
}

func (c *stubClient) Post(ctx context.Context, p provider.Descriptor, url string, payload any, hdr http.Header) (*httpclient.Response, error) {
	if c.postFn != nil {
		return c.postFn(ctx, p, url, payload, hdr)
	}
	return &httpclient.Response{Status: 200, Header: http.Header{}}, nil
}

func jsonResponse(t *testing.T, status int, doc any) *httpclient.Response {
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

func testProvider() provider.Descriptor {
	return provider.Descriptor{
		Name:    "sim",
		URL:     "https://sim.example/api/",
		Timeout: 5 * time.Second,
	}
}

func deriveInput(t *testing.T, resp *httpclient.Response, client HTTPClient) DeriveInput {
	t.Helper()

	return DeriveInput{
		Job:      job.New(job.CreateRequest{ProcessID: "sim:flood-model", Provider: "sim"}),
		Provider: testProvider(),
		Resp:     resp,
		Client:   client,
		Now:      time.Now().UTC(),
	}
}

func TestHasRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]any
		want bool
	}{
		{name: "all present", doc: map[string]any{"jobID": "a", "status": "running", "type": "process"}, want: true},
		{name: "missing type", doc: map[string]any{"jobID": "a", "status": "running"}, want: false},
		{name: "missing jobID", doc: map[string]any{"status": "running", "type": "process"}, want: false},
		{name: "status not a string", doc: map[string]any{"jobID": "a", "status": 2.0, "type": "process"}, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := hasRequiredFields(tc.doc); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDerive_DirectStatusInfo(t *testing.T) {
	resp := jsonResponse(t, 201, map[string]any{
		"jobID":  "remote-77",
		"status": "running",
		"type":   "process",
	})

	in := deriveInput(t, resp, &stubClient{})
	d := NewOrchestrator().Derive(context.Background(), in)

	if d.StatusInfo.Status != job.StatusRunning {
		t.Fatalf("expected running, got %s", d.StatusInfo.Status)
	}

	if d.RemoteJobID != "remote-77" {
		t.Fatalf("remote job id not captured: %q", d.RemoteJobID)
	}

	want := "https://sim.example/api/jobs/remote-77?f=json"

	if d.RemoteStatusURL != want {
		t.Fatalf("synthesized status url %q, want %q", d.RemoteStatusURL, want)
	}
}

func TestDerive_LocationWinsOverSynthesis(t *testing.T) {
	resp := jsonResponse(t, 201, map[string]any{
		"jobID":  "remote-77",
		"status": "accepted",
		"type":   "process",
	})
	resp.Header.Set("Location", "/jobs/remote-77")

	in := deriveInput(t, resp, &stubClient{})
	d := NewOrchestrator().Derive(context.Background(), in)

	want := "https://sim.example/jobs/remote-77"

	if d.RemoteStatusURL != want {
		t.Fatalf("resolved location %q, want %q", d.RemoteStatusURL, want)
	}
}

func TestDerive_DirectWinsOverImmediateResults(t *testing.T) {
	// a document carrying both outputs and the statusInfo fields is a
	// statusInfo document
	resp := jsonResponse(t, 200, map[string]any{
		"jobID":   "remote-1",
		"status":  "successful",
		"type":    "process",
		"outputs": map[string]any{"echo": "hi"},
	})

	in := deriveInput(t, resp, &stubClient{})
	d := NewOrchestrator().Derive(context.Background(), in)

	if d.RemoteJobID != "remote-1" {
		t.Fatalf("expected statusInfo handling, got remote id %q", d.RemoteJobID)
	}
}

func TestDerive_ImmediateResults(t *testing.T) {
	resp := jsonResponse(t, 200, map[string]any{
		"outputs": map[string]any{"echo": "hi"},
	})

	in := deriveInput(t, resp, &stubClient{})
	d := NewOrchestrator().Derive(context.Background(), in)

	if d.StatusInfo.Status != job.StatusSuccessful {
		t.Fatalf("expected successful, got %s", d.StatusInfo.Status)
	}

	if d.RemoteStatusURL != "" {
		t.Fatalf("immediate results must not produce a remote url: %q", d.RemoteStatusURL)
	}

	if d.StatusInfo.Progress == nil || *d.StatusInfo.Progress != 100 {
		t.Fatalf("expected progress 100")
	}

	if d.StatusInfo.Message != "Completed (immediate results)" {
		t.Fatalf("unexpected message %q", d.StatusInfo.Message)
	}
}

func TestDerive_LocationFollowup(t *testing.T) {
	resp := &httpclient.Response{
		Status: 201,
		Header: http.Header{"Location": []string{"jobs/remote-9"}},
	}

	var fetched string
	client := &stubClient{
		getFn: func(_ context.Context, _ provider.Descriptor, url string) (*httpclient.Response, error) {
			fetched = url
			return jsonResponse(t, 200, map[string]any{
				"jobID":  "remote-9",
				"status": "accepted",
				"type":   "process",
			}), nil
		},
	}

	in := deriveInput(t, resp, client)
	d := NewOrchestrator().Derive(context.Background(), in)

	want := "https://sim.example/api/jobs/remote-9"

	if fetched != want {
		t.Fatalf("followed %q, want %q", fetched, want)
	}

	if d.StatusInfo.Status != job.StatusAccepted {
		t.Fatalf("expected accepted, got %s", d.StatusInfo.Status)
	}

	if d.RemoteStatusURL != want {
		t.Fatalf("remote status url %q, want %q", d.RemoteStatusURL, want)
	}

	if d.RemoteJobID != "remote-9" {
		t.Fatalf("remote job id %q", d.RemoteJobID)
	}
}

func TestDerive_LocationFollowupFails(t *testing.T) {
	resp := &httpclient.Response{
		Status: 201,
		Header: http.Header{"Location": []string{"/jobs/remote-9"}},
	}

	client := &stubClient{
		getFn: func(context.Context, provider.Descriptor, string) (*httpclient.Response, error) {
			return &httpclient.Response{Status: 500, Header: http.Header{}}, nil
		},
	}

	in := deriveInput(t, resp, client)
	d := NewOrchestrator().Derive(context.Background(), in)

	if d.StatusInfo.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", d.StatusInfo.Status)
	}

	if !strings.HasPrefix(d.Diagnostic, "location_followup_failed:") {
		t.Fatalf("diagnostic %q", d.Diagnostic)
	}
}

func TestDerive_FallbackFailed(t *testing.T) {
	resp := &httpclient.Response{
		Status: 200,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Raw:    []byte("<html>busy</html>"),
	}

	in := deriveInput(t, resp, &stubClient{})
	d := NewOrchestrator().Derive(context.Background(), in)

	if d.StatusInfo.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", d.StatusInfo.Status)
	}

	if !strings.Contains(d.Diagnostic, "provider_status=200") || !strings.Contains(d.Diagnostic, "body_type=non-json") {
		t.Fatalf("diagnostic %q", d.Diagnostic)
	}
}

func TestDerive_InvalidStatusRejected(t *testing.T) {
	resp := jsonResponse(t, 200, map[string]any{
		"jobID":  "remote-1",
		"status": "melted",
		"type":   "process",
	})

	in := deriveInput(t, resp, &stubClient{})
	d := NewOrchestrator().Derive(context.Background(), in)

	if d.StatusInfo.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", d.StatusInfo.Status)
	}
}
