package ogcerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid usage", err: New(KindInvalidUsage, "bad"), want: http.StatusBadRequest},
		{name: "not found", err: New(KindNotFound, "gone"), want: http.StatusNotFound},
		{name: "not authorized", err: New(KindNotAuthorized, "nope"), want: http.StatusForbidden},
		{name: "upstream timeout", err: New(KindUpstreamTimeout, "slow"), want: http.StatusGatewayTimeout},
		{name: "upstream passes status through", err: Upstream(422, "rejected"), want: 422},
		{name: "upstream bogus status collapses", err: &Error{Kind: KindUpstreamHTTP, UpstreamStatus: 200}, want: http.StatusBadGateway},
		{name: "connection", err: New(KindUpstreamConnection, "refused"), want: http.StatusBadGateway},
		{name: "content", err: New(KindUpstreamContent, "garbage"), want: http.StatusBadGateway},
		{name: "publication", err: New(KindPublicationFailed, "geoserver down"), want: http.StatusBadGateway},
		{name: "internal", err: New(KindInternal, "oops"), want: http.StatusInternalServerError},
		{name: "wrapped", err: fmt.Errorf("outer: %w", New(KindNotFound, "inner")), want: http.StatusNotFound},
		{name: "plain error", err: errors.New("plain"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "timeout", err: New(KindUpstreamTimeout, ""), want: true},
		{name: "connection", err: New(KindUpstreamConnection, ""), want: true},
		{name: "502", err: Upstream(502, ""), want: true},
		{name: "503", err: Upstream(503, ""), want: true},
		{name: "504", err: Upstream(504, ""), want: true},
		{name: "500", err: Upstream(500, ""), want: false},
		{name: "404", err: Upstream(404, ""), want: false},
		{name: "invalid usage", err: New(KindInvalidUsage, ""), want: false},
		{name: "content", err: New(KindUpstreamContent, ""), want: false},
		{name: "plain error", err: errors.New("x"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestKindMatchingWithErrorsIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(KindNotFound, "missing"))

	if !errors.Is(err, New(KindNotFound, "")) {
		t.Fatalf("kind match failed through wrapping")
	}

	if errors.Is(err, New(KindInternal, "")) {
		t.Fatalf("kinds must not cross-match")
	}
}

func TestToException(t *testing.T) {
	exc := ToException(Upstream(503, "provider overloaded"), "/jobs/abc")

	if exc.Type != "about:blank" {
		t.Fatalf("type %q", exc.Type)
	}

	if exc.Status != 503 || exc.Title != "Upstream Error" {
		t.Fatalf("status %d title %q", exc.Status, exc.Title)
	}

	if exc.Detail != "provider overloaded" || exc.Instance != "/jobs/abc" {
		t.Fatalf("detail %q instance %q", exc.Detail, exc.Instance)
	}
}
