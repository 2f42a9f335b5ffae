// Package processes aggregates the provider catalogs into one process
// list, resolves per-process descriptions, and gates execution behind
// input validation and role checks.
package processes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mapfederate/procgate/internal/auth"
	"github.com/mapfederate/procgate/internal/cache"
	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/domain/provider"
	"github.com/mapfederate/procgate/internal/httpclient"
	"github.com/mapfederate/procgate/internal/jobs"
	"github.com/mapfederate/procgate/internal/ogcerr"
	"github.com/mapfederate/procgate/internal/procid"
	"github.com/mapfederate/procgate/internal/retry"
)

const CatalogTTL = 5 * time.Minute

type Manager struct {
	log       *slog.Logger
	client    jobs.HTTPClient
	providers jobs.Providers
	store     cache.Store
	jm        *jobs.Manager
	retry     retry.Policy
}

func NewManager(log *slog.Logger, client jobs.HTTPClient, prov jobs.Providers, store cache.Store, jm *jobs.Manager) *Manager {
	if store == nil {
		store = cache.NewMemory(CatalogTTL)
	}

	return &Manager{
		log:       log,
		client:    client,
		providers: prov,
		store:     store,
		jm:        jm,
		retry:     retry.DefaultPolicy(),
	}
}

// ListAll fetches every provider's catalog in parallel and merges them
// under prefixed ids. A provider that is down drops out of the list;
// the call only fails when no provider answered at all.
func (m *Manager) ListAll(ctx context.Context, user auth.Subject) ([]map[string]any, error) {
	provs := m.providers.List()

	if len(provs) == 0 {
		return []map[string]any{}, nil
	}

	results := make([][]map[string]any, len(provs))
	errs := make([]error, len(provs))

	g, gctx := errgroup.WithContext(ctx)

	for i, p := range provs {
		i, p := i, p

		g.Go(func() error {
			entries, err := m.providerCatalog(gctx, p)

			if err != nil {
				m.log.Warn("catalog_fetch_failed", "provider", p.Name, "err", err)
				errs[i] = err
				return nil
			}

			results[i] = entries
			return nil
		})
	}

	_ = g.Wait()

	merged := make([]map[string]any, 0)
	failed := 0

	for i, p := range provs {
		if errs[i] != nil {
			failed++
			continue
		}

		for _, entry := range results[i] {
			rawID, _ := entry["id"].(string)

			if rawID == "" {
				continue
			}

			pc := p.Processes[rawID]

			if pc.Exclude {
				continue
			}

			entry["id"] = procid.Join(p.Name, rawID)
			rewriteDescriptionLinks(entry, procid.Join(p.Name, rawID))
			merged = append(merged, entry)
		}
	}

	if failed == len(provs) {
		return nil, ogcerr.New(ogcerr.KindUpstreamConnection, "no provider catalog reachable")
	}

	_ = user // listing is unrestricted; access is enforced on get/execute

	return merged, nil
}

func (m *Manager) providerCatalog(ctx context.Context, p provider.Descriptor) ([]map[string]any, error) {
	key := "catalog:" + p.Name

	if raw, ok := m.store.Get(ctx, key); ok {
		var cached []map[string]any

		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	resp, err := retry.Do(ctx, m.retry, func() (*httpclient.Response, error) {
		r, getErr := m.client.Get(ctx, p, p.URL+"processes")

		if getErr != nil {
			return nil, getErr
		}

		if statusErr := httpclient.ErrorFromStatus(r, "catalog fetch failed"); statusErr != nil {
			return nil, statusErr
		}

		return r, nil
	})

	if err != nil {
		return nil, err
	}

	body, ok := resp.BodyMap()

	if !ok {
		return nil, ogcerr.New(ogcerr.KindUpstreamContent, fmt.Sprintf("provider %q catalog is not a JSON object", p.Name))
	}

	list, _ := body["processes"].([]any)
	entries := make([]map[string]any, 0, len(list))

	for _, item := range list {
		if entry, isMap := item.(map[string]any); isMap {
			entries = append(entries, entry)
		}
	}

	if raw, mErr := json.Marshal(entries); mErr == nil {
		m.store.Set(ctx, key, raw)
	}

	return entries, nil
}

// Get resolves one process description with its links rewritten to the
// local surface.
func (m *Manager) Get(ctx context.Context, processID string, user auth.Subject) (map[string]any, error) {
	prefix, rawID, err := procid.Extract(processID)

	if err != nil {
		return nil, ogcerr.Wrap(ogcerr.KindInvalidUsage, fmt.Sprintf("process id %q is not of the form provider:id", processID), err)
	}

	p, err := m.providers.Get(prefix)

	if err != nil {
		return nil, ogcerr.Wrap(ogcerr.KindNotFound, fmt.Sprintf("unknown provider %q", prefix), err)
	}

	pc, configured := p.Processes[rawID]

	if configured && pc.Exclude {
		return nil, ogcerr.New(ogcerr.KindNotFound, fmt.Sprintf("no such process %q", processID))
	}

	if !hasAccess(user, prefix, rawID, pc, configured) {
		return nil, ogcerr.New(ogcerr.KindNotAuthorized, fmt.Sprintf("no access to process %q", processID))
	}

	return m.description(ctx, p, prefix, rawID)
}

func (m *Manager) description(ctx context.Context, p provider.Descriptor, prefix, rawID string) (map[string]any, error) {
	qualified := procid.Join(prefix, rawID)
	key := "desc:" + qualified

	if raw, ok := m.store.Get(ctx, key); ok {
		var cached map[string]any

		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	resp, err := retry.Do(ctx, m.retry, func() (*httpclient.Response, error) {
		r, getErr := m.client.Get(ctx, p, p.URL+"processes/"+rawID)

		if getErr != nil {
			return nil, getErr
		}

		if r.Status == http.StatusNotFound {
			return nil, ogcerr.New(ogcerr.KindNotFound, fmt.Sprintf("no such process %q", qualified))
		}

		if statusErr := httpclient.ErrorFromStatus(r, "description fetch failed"); statusErr != nil {
			return nil, statusErr
		}

		return r, nil
	})

	if err != nil {
		return nil, err
	}

	desc, ok := resp.BodyMap()

	if !ok {
		return nil, ogcerr.New(ogcerr.KindUpstreamContent, fmt.Sprintf("description for %q is not a JSON object", qualified))
	}

	desc["id"] = qualified
	rewriteDescriptionLinks(desc, qualified)

	if raw, mErr := json.Marshal(desc); mErr == nil {
		m.store.Set(ctx, key, raw)
	}

	return desc, nil
}

// Execute validates the inputs against the process description and
// hands the request to the job manager.
func (m *Manager) Execute(ctx context.Context, processID string, body map[string]any, hdr http.Header, user auth.Subject) (jobs.CreateResult, error) {
	desc, err := m.Get(ctx, processID, user)

	if err != nil {
		return jobs.CreateResult{}, err
	}

	inputs, _ := body["inputs"].(map[string]any)

	if err := ValidateInputs(desc, inputs); err != nil {
		return jobs.CreateResult{}, err
	}

	return m.jm.CreateAndForward(ctx, processID, body, hdr, user.ID)
}

// hasAccess applies the role model: anonymous-access processes are
// open; processes the provider file does not mention are open too;
// everything else needs the provider role or the per-process role.
func hasAccess(user auth.Subject, prefix, rawID string, pc provider.ProcessConfig, configured bool) bool {
	if !configured || pc.AnonymousAccess {
		return true
	}

	if user.Anonymous || user.ID == "" {
		return false
	}

	return user.HasRole(prefix) || user.HasRole(prefix+"_"+rawID)
}

// rewriteDescriptionLinks points the description's own links at the
// local surface and drops everything else.
func rewriteDescriptionLinks(desc map[string]any, qualified string) {
	links := []job.Link{
		{Href: "/processes/" + qualified, Rel: "self", Type: "application/json"},
		{Href: "/processes/" + qualified + "/execution", Rel: "execute", Type: "application/json"},
	}

	out := make([]any, 0, len(links))

	for _, l := range links {
		out = append(out, map[string]any{
			"href": l.Href,
			"rel":  l.Rel,
			"type": l.Type,
		})
	}

	desc["links"] = out
}
