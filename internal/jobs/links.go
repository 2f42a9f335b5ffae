package jobs

import (
	"strings"
	"time"

	"github.com/mapfederate/procgate/internal/domain/job"
)

func selfHref(jobID string) string    { return "/jobs/" + jobID }
func resultsHref(jobID string) string { return "/jobs/" + jobID + "/results" }

// normalizeLinks rewrites a snapshot's links to the local surface.
// Only hrefs under this job's own /jobs/{id} prefix survive; anything
// else (absolute provider URLs, relative paths carrying the remote job
// id) is a leak and gets dropped. The self link is always present, the
// results link exactly when the snapshot is a success.
func normalizeLinks(si *job.StatusInfo, jobID string) {
	local := selfHref(jobID)
	kept := si.Links[:0]

	for _, l := range si.Links {
		if !strings.HasPrefix(l.Href, local+"/") {
			continue
		}
		if l.Rel == "self" || l.Rel == "results" {
			continue
		}
		kept = append(kept, l)
	}

	si.Links = kept

	si.Links = append(si.Links, job.Link{
		Href: selfHref(jobID),
		Rel:  "self",
		Type: "application/json",
	})

	if si.Status == job.StatusSuccessful {
		si.Links = append(si.Links, job.Link{
			Href: resultsHref(jobID),
			Rel:  "results",
			Type: "application/json",
		})
	}
}

func stripResultsLink(si *job.StatusInfo) {
	kept := si.Links[:0]

	for _, l := range si.Links {
		if l.Rel == "results" {
			continue
		}
		kept = append(kept, l)
	}

	si.Links = kept
}

// enrich fills the fields providers routinely omit so every stored
// snapshot is self-describing.
func enrich(si *job.StatusInfo, j job.Job, now time.Time) {
	si.JobID = j.ID
	si.ProcessID = j.ProcessID

	if si.Type == "" {
		si.Type = "process"
	}

	if si.Created == nil {
		created := j.Created
		si.Created = &created
	}

	if si.Updated == nil {
		u := now
		si.Updated = &u
	}

	switch si.Status {
	case job.StatusRunning:
		if si.Progress == nil {
			p := 0
			si.Progress = &p
		}
		if si.Message == "" {
			si.Message = "Running"
		}
		if si.Started == nil {
			started := j.Created
			si.Started = &started
		}

	case job.StatusSuccessful:
		p := 100
		si.Progress = &p
		if si.Message == "" {
			si.Message = "Completed"
		}
		if si.Finished == nil {
			f := now
			si.Finished = &f
		}

	case job.StatusFailed, job.StatusDismissed:
		if si.Finished == nil {
			f := now
			si.Finished = &f
		}
	}
}
