// Package httpclient talks to upstream OGC API Processes providers.
// It applies the provider's auth and timeout and maps transport
// failures onto the gateway's error taxonomy.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mapfederate/procgate/internal/domain/provider"
	"github.com/mapfederate/procgate/internal/ogcerr"
)

// responses larger than this are treated as content errors rather than
// buffered into memory
const maxResponseBytes = 64 << 20

type Response struct {
	Status int
	Header http.Header
	Raw    []byte
	// Body holds the decoded JSON document when the provider declared a
	// JSON content type, nil otherwise.
	Body any
}

func (r *Response) IsJSON() bool {
	return r.Body != nil
}

// BodyMap returns the body as a JSON object when it is one.
func (r *Response) BodyMap() (map[string]any, bool) {
	m, ok := r.Body.(map[string]any)
	return m, ok
}

func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

type Client struct {
	log *slog.Logger
	hc  *http.Client
}

func New(log *slog.Logger) *Client {
	return &Client{
		log: log,
		// timeouts are per request, taken from the provider descriptor
		hc: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 0,
			},
		},
	}
}

func (c *Client) Get(ctx context.Context, p provider.Descriptor, url string) (*Response, error) {
	return c.do(ctx, p, http.MethodGet, url, nil, nil)
}

// Post forwards a JSON payload. Extra headers (Prefer and friends) are
// copied onto the request before the provider's auth is applied.
func (c *Client) Post(ctx context.Context, p provider.Descriptor, url string, payload any, hdr http.Header) (*Response, error) {
	return c.do(ctx, p, http.MethodPost, url, payload, hdr)
}

func (c *Client) do(ctx context.Context, p provider.Descriptor, method, url string, payload any, hdr http.Header) (*Response, error) {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)

		if err != nil {
			return nil, ogcerr.Wrap(ogcerr.KindInternal, "encode request payload", err)
		}

		body = bytes.NewReader(data)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = provider.DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)

	if err != nil {
		return nil, ogcerr.Wrap(ogcerr.KindInvalidUsage, fmt.Sprintf("build request for %s", url), err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, vals := range hdr {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	applyAuth(req, p.Auth)

	start := time.Now()
	resp, err := c.hc.Do(req)

	if err != nil {
		return nil, classifyTransport(method, url, timeout, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))

	if err != nil {
		return nil, classifyTransport(method, url, timeout, err)
	}

	if len(raw) > maxResponseBytes {
		return nil, ogcerr.New(ogcerr.KindUpstreamContent, fmt.Sprintf("response from %s exceeds %d bytes", url, maxResponseBytes))
	}

	out := &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Raw:    raw,
	}

	if declaresJSON(resp.Header.Get("Content-Type")) && len(raw) > 0 {
		var decoded any

		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, ogcerr.Wrap(ogcerr.KindUpstreamContent, fmt.Sprintf("invalid JSON from %s", url), err)
		}

		out.Body = decoded
	}

	c.log.Debug("upstream_request",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return out, nil
}

func applyAuth(req *http.Request, a provider.AuthConfig) {
	switch a.Type {
	case provider.AuthBasic:
		req.SetBasicAuth(a.User, a.Password)
	case provider.AuthAPIKey:
		req.Header.Set(a.KeyName, a.KeyValue)
	case provider.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
}

func declaresJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)

	if err != nil {
		return false
	}

	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func classifyTransport(method, url string, timeout time.Duration, err error) error {
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return ogcerr.Wrap(ogcerr.KindUpstreamTimeout,
			fmt.Sprintf("%s %s timed out after %s", method, url, timeout), err)
	case errors.Is(err, context.Canceled):
		return ogcerr.Wrap(ogcerr.KindUpstreamConnection, fmt.Sprintf("%s %s canceled", method, url), err)
	default:
		return ogcerr.Wrap(ogcerr.KindUpstreamConnection, fmt.Sprintf("%s %s failed", method, url), err)
	}
}

// ErrorFromStatus converts a non-2xx response into an upstream error
// carrying the provider's status code.
func ErrorFromStatus(resp *Response, detail string) error {
	if resp.Status >= 200 && resp.Status < 300 {
		return nil
	}

	snippet := string(resp.Raw)
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}

	if detail == "" {
		detail = "upstream request failed"
	}

	return ogcerr.Upstream(resp.Status, fmt.Sprintf("%s: %s", detail, strings.TrimSpace(snippet)))
}
