// Package inputstore keeps execution inputs that exceed the inline
// limit outside the job row, referenced by URL.
package inputstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// FS stores one canonical JSON document per job under a base
// directory. The directory is created on first use.
type FS struct {
	dir string
}

func NewFS(dir string) *FS {
	return &FS{dir: dir}
}

func (s *FS) Put(_ context.Context, jobID string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create inputs dir: %w", err)
	}

	path, err := filepath.Abs(filepath.Join(s.dir, jobID+".json"))

	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write inputs for job %s: %w", jobID, err)
	}

	return fileScheme + path, nil
}

func (s *FS) Fetch(_ context.Context, url string) ([]byte, error) {
	path, ok := strings.CutPrefix(url, fileScheme)

	if !ok {
		return nil, fmt.Errorf("unsupported inputs url %q", url)
	}

	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}

	return data, nil
}
