package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/mapfederate/procgate/internal/domain/job"
)

func linkRels(links []job.Link) map[string]string {
	out := make(map[string]string, len(links))
	for _, l := range links {
		out[l.Rel] = l.Href
	}
	return out
}

func TestNormalizeLinks_DropsProviderLeaks(t *testing.T) {
	si := &job.StatusInfo{
		Status: job.StatusRunning,
		Links: []job.Link{
			{Href: "https://sim.example/api/jobs/remote-1", Rel: "self"},
			{Href: "https://sim.example/api/jobs/remote-1/results", Rel: "results"},
			{Href: "/processes/flood-model", Rel: "process"},
			{Href: "/jobs/remote-1/logs", Rel: "logs"},
			{Href: "/jobs/REMOTE-42", Rel: "monitor"},
			{Href: "/jobs/local-1/logs", Rel: "logs"},
		},
	}

	normalizeLinks(si, "local-1")

	rels := linkRels(si.Links)

	if rels["self"] != "/jobs/local-1" {
		t.Fatalf("self link %q", rels["self"])
	}

	if _, hasResults := rels["results"]; hasResults {
		t.Fatalf("results link present on non-successful snapshot")
	}

	if _, hasProcess := rels["process"]; hasProcess {
		t.Fatalf("non-/jobs/ link survived normalization")
	}

	if _, hasMonitor := rels["monitor"]; hasMonitor {
		t.Fatalf("remote job id leaked through a relative href: %v", si.Links)
	}

	if rels["logs"] != "/jobs/local-1/logs" {
		t.Fatalf("link under the local job prefix dropped: %v", si.Links)
	}

	for _, l := range si.Links {
		if strings.Contains(l.Href, "remote-1") || strings.Contains(l.Href, "REMOTE-42") {
			t.Fatalf("remote identity leaked: %q", l.Href)
		}
	}
}

func TestNormalizeLinks_ResultsOnSuccess(t *testing.T) {
	si := &job.StatusInfo{Status: job.StatusSuccessful}

	normalizeLinks(si, "local-1")

	rels := linkRels(si.Links)

	if rels["results"] != "/jobs/local-1/results" {
		t.Fatalf("results link missing: %v", si.Links)
	}
}

func TestStripResultsLink(t *testing.T) {
	si := &job.StatusInfo{
		Status: job.StatusSuccessful,
		Links: []job.Link{
			{Href: "/jobs/local-1", Rel: "self"},
			{Href: "/jobs/local-1/results", Rel: "results"},
		},
	}

	stripResultsLink(si)

	rels := linkRels(si.Links)

	if _, has := rels["results"]; has {
		t.Fatalf("results link not stripped")
	}

	if _, has := rels["self"]; !has {
		t.Fatalf("self link lost")
	}
}

func TestEnrich(t *testing.T) {
	now := time.Now().UTC()
	j := job.New(job.CreateRequest{ProcessID: "sim:flood-model", Provider: "sim"})

	t.Run("running defaults", func(t *testing.T) {
		si := &job.StatusInfo{Status: job.StatusRunning}

		enrich(si, j, now)

		if si.Progress == nil || *si.Progress != 0 {
			t.Fatalf("running progress not defaulted")
		}
		if si.Message != "Running" {
			t.Fatalf("message %q", si.Message)
		}
		if si.Started == nil || !si.Started.Equal(j.Created) {
			t.Fatalf("started not set to creation time")
		}
		if si.JobID != j.ID || si.ProcessID != j.ProcessID {
			t.Fatalf("identity fields not filled")
		}
	})

	t.Run("successful forces progress 100", func(t *testing.T) {
		p := 60
		si := &job.StatusInfo{Status: job.StatusSuccessful, Progress: &p}

		enrich(si, j, now)

		if *si.Progress != 100 {
			t.Fatalf("progress %d", *si.Progress)
		}
		if si.Finished == nil {
			t.Fatalf("finished not set")
		}
	})

	t.Run("failed keeps message", func(t *testing.T) {
		si := &job.StatusInfo{Status: job.StatusFailed, Message: "boom"}

		enrich(si, j, now)

		if si.Message != "boom" {
			t.Fatalf("message overwritten: %q", si.Message)
		}
		if si.Finished == nil {
			t.Fatalf("finished not set")
		}
	})
}
