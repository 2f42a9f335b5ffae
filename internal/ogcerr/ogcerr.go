package ogcerr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidUsage       Kind = "invalid-usage"
	KindNotFound           Kind = "not-found"
	KindNotAuthorized      Kind = "not-authorized"
	KindUpstreamTimeout    Kind = "upstream-timeout"
	KindUpstreamHTTP       Kind = "upstream-http-error"
	KindUpstreamConnection Kind = "upstream-connection-error"
	KindUpstreamContent    Kind = "upstream-content-error"
	KindPublicationFailed  Kind = "publication-failed"
	KindInternal           Kind = "internal-error"
)

// Exception is the OGC API exception document shape.
type Exception struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Error is the single error type crossing component boundaries. Kind
// drives retry classification and the HTTP status mapping; UpstreamStatus
// carries the provider's status for upstream-http-error.
type Error struct {
	Kind           Kind
	Detail         string
	UpstreamStatus int
	cause          error
}

func (e *Error) Error() string {
	if e.UpstreamStatus != 0 {
		return fmt.Sprintf("%s (upstream %d): %s", e.Kind, e.UpstreamStatus, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match on kind via sentinel errors created by New.
func (e *Error) Is(target error) bool {
	var oe *Error
	if errors.As(target, &oe) {
		return e.Kind == oe.Kind
	}
	return false
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

func Upstream(status int, detail string) *Error {
	return &Error{Kind: KindUpstreamHTTP, UpstreamStatus: status, Detail: detail}
}

func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindInternal
}

// IsTransient reports whether the error is worth retrying: timeouts,
// transport failures, and 502/503/504 from the provider. Client errors
// and content errors fail immediately.
func IsTransient(err error) bool {
	var oe *Error
	if !errors.As(err, &oe) {
		return false
	}

	switch oe.Kind {
	case KindUpstreamTimeout, KindUpstreamConnection:
		return true
	case KindUpstreamHTTP:
		switch oe.UpstreamStatus {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}

	return false
}

// HTTPStatus maps the domain taxonomy onto the gateway's response codes.
func HTTPStatus(err error) int {
	var oe *Error
	if !errors.As(err, &oe) {
		return http.StatusInternalServerError
	}

	switch oe.Kind {
	case KindInvalidUsage:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamHTTP:
		// Pass the upstream status through when it is a recognizable
		// server-side code; collapse everything else to 502.
		if oe.UpstreamStatus >= 400 && oe.UpstreamStatus < 600 {
			return oe.UpstreamStatus
		}
		return http.StatusBadGateway
	case KindUpstreamConnection, KindUpstreamContent:
		return http.StatusBadGateway
	case KindPublicationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func titleFor(kind Kind) string {
	switch kind {
	case KindInvalidUsage:
		return "Bad Request"
	case KindNotFound:
		return "Not Found"
	case KindNotAuthorized:
		return "Forbidden"
	case KindUpstreamTimeout:
		return "Upstream Timeout"
	case KindUpstreamHTTP, KindUpstreamConnection, KindUpstreamContent:
		return "Upstream Error"
	case KindPublicationFailed:
		return "Publication Failed"
	default:
		return "Internal Server Error"
	}
}

// ToException renders the error as an OGC exception document.
func ToException(err error, instance string) Exception {
	status := HTTPStatus(err)

	var oe *Error
	detail := err.Error()
	kind := KindInternal

	if errors.As(err, &oe) {
		detail = oe.Detail
		kind = oe.Kind
	}

	return Exception{
		Type:     "about:blank",
		Title:    titleFor(kind),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}
