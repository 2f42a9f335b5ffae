// Package geoserver publishes terminal job results into a GeoServer
// instance over its REST API so they are addressable as layers.
package geoserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mapfederate/procgate/internal/ogcerr"
)

type Config struct {
	BaseURL   string
	Workspace string
	User      string
	Password  string
}

type Publisher struct {
	log *slog.Logger
	cfg Config
	hc  *http.Client
}

func NewPublisher(log *slog.Logger, cfg Config) *Publisher {
	return &Publisher{
		log: log,
		cfg: cfg,
		hc:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Publish ensures the workspace and datastore exist, then imports the
// feature collection as a layer named after the job id.
func (p *Publisher) Publish(ctx context.Context, jobID string, featureCollection map[string]any) error {
	if err := p.ensureWorkspace(ctx); err != nil {
		return ogcerr.Wrap(ogcerr.KindPublicationFailed, "ensure workspace", err)
	}

	if err := p.ensureDatastore(ctx, jobID); err != nil {
		return ogcerr.Wrap(ogcerr.KindPublicationFailed, "ensure datastore", err)
	}

	if err := p.importFeatures(ctx, jobID, featureCollection); err != nil {
		return ogcerr.Wrap(ogcerr.KindPublicationFailed, "import features", err)
	}

	p.log.Info("layer_published", "job_id", jobID, "workspace", p.cfg.Workspace)
	return nil
}

func (p *Publisher) ensureWorkspace(ctx context.Context) error {
	url := fmt.Sprintf("%s/rest/workspaces/%s.json", p.cfg.BaseURL, p.cfg.Workspace)

	status, _, err := p.request(ctx, http.MethodGet, url, nil)

	if err != nil {
		return err
	}

	if status == http.StatusOK {
		return nil
	}

	payload := map[string]any{
		"workspace": map[string]any{"name": p.cfg.Workspace},
	}

	status, body, err := p.request(ctx, http.MethodPost, p.cfg.BaseURL+"/rest/workspaces", payload)

	if err != nil {
		return err
	}

	if status >= 300 {
		return fmt.Errorf("create workspace returned %d: %s", status, body)
	}

	return nil
}

func (p *Publisher) ensureDatastore(ctx context.Context, jobID string) error {
	url := fmt.Sprintf("%s/rest/workspaces/%s/datastores/%s.json", p.cfg.BaseURL, p.cfg.Workspace, jobID)

	status, _, err := p.request(ctx, http.MethodGet, url, nil)

	if err != nil {
		return err
	}

	if status == http.StatusOK {
		return nil
	}

	payload := map[string]any{
		"dataStore": map[string]any{
			"name": jobID,
			"connectionParameters": map[string]any{
				"entry": []map[string]any{
					{"@key": "memory", "$": "true"},
				},
			},
		},
	}

	createURL := fmt.Sprintf("%s/rest/workspaces/%s/datastores", p.cfg.BaseURL, p.cfg.Workspace)
	status, body, err := p.request(ctx, http.MethodPost, createURL, payload)

	if err != nil {
		return err
	}

	if status >= 300 {
		return fmt.Errorf("create datastore returned %d: %s", status, body)
	}

	return nil
}

func (p *Publisher) importFeatures(ctx context.Context, jobID string, fc map[string]any) error {
	payload := map[string]any{
		"featureType": map[string]any{
			"name":       jobID,
			"nativeName": jobID,
			"title":      "Job " + jobID,
		},
		"features": fc,
	}

	url := fmt.Sprintf("%s/rest/workspaces/%s/datastores/%s/featuretypes",
		p.cfg.BaseURL, p.cfg.Workspace, jobID)

	status, body, err := p.request(ctx, http.MethodPost, url, payload)

	if err != nil {
		return err
	}

	if status >= 300 {
		return fmt.Errorf("create featuretype returned %d: %s", status, body)
	}

	return nil
}

func (p *Publisher) request(ctx context.Context, method, url string, payload any) (int, string, error) {
	var body io.Reader

	if payload != nil {
		raw, err := json.Marshal(payload)

		if err != nil {
			return 0, "", err
		}

		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)

	if err != nil {
		return 0, "", err
	}

	req.SetBasicAuth(p.cfg.User, p.cfg.Password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.hc.Do(req)

	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if err != nil {
		return resp.StatusCode, "", err
	}

	return resp.StatusCode, string(raw), nil
}
