// Package procid handles the qualified process id form "provider:raw_id".
// The raw id may itself contain colons; only the first one splits.
package procid

import (
	"errors"
	"strings"
)

var ErrUnqualified = errors.New("process id has no provider prefix")

// Extract splits "provider:raw_id" into its parts.
func Extract(processID string) (provider, rawID string, err error) {
	prefix, rest, found := strings.Cut(processID, ":")

	if !found || prefix == "" || rest == "" {
		return "", "", ErrUnqualified
	}

	return prefix, rest, nil
}

// Join builds the qualified id clients see.
func Join(provider, rawID string) string {
	return provider + ":" + rawID
}
