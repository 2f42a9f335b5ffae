// Package providers loads the upstream provider registry from a YAML
// file and keeps it current while the gateway runs. Reload failures
// keep the previous registry in place.
package providers

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mapfederate/procgate/internal/domain/provider"
)

type Service struct {
	log  *slog.Logger
	path string

	mu        sync.RWMutex
	providers map[string]provider.Descriptor
	loadedAt  time.Time
}

var ErrProviderNotFound = fmt.Errorf("provider not found")

func NewService(log *slog.Logger, path string) (*Service, error) {
	s := &Service{
		log:  log,
		path: path,
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// Reload re-reads the registry file and swaps it in atomically. On any
// parse or validation error the previous registry stays active.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.path)

	if err != nil {
		return fmt.Errorf("read providers file: %w", err)
	}

	loaded, err := parse(data)

	if err != nil {
		return err
	}

	s.mu.Lock()
	s.providers = loaded
	s.loadedAt = time.Now().UTC()
	s.mu.Unlock()

	s.log.Info("providers_loaded", "path", s.path, "count", len(loaded))
	return nil
}

func (s *Service) Get(name string) (provider.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.providers[name]

	if !ok {
		return provider.Descriptor{}, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	return d, nil
}

// List returns descriptors sorted by name for stable catalog output.
func (s *Service) List() []provider.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]provider.Descriptor, 0, len(s.providers))
	for _, d := range s.providers {
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// yaml document shapes; timeout is plain seconds in the file.
type fileDoc struct {
	Providers map[string]providerDoc `yaml:"providers"`
}

type providerDoc struct {
	URL       string                            `yaml:"url"`
	Timeout   int                               `yaml:"timeout"`
	Auth      provider.AuthConfig               `yaml:"authentication"`
	Processes map[string]provider.ProcessConfig `yaml:"processes"`
}

func parse(data []byte) (map[string]provider.Descriptor, error) {
	var doc fileDoc

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	if len(doc.Providers) == 0 {
		return nil, fmt.Errorf("providers file declares no providers")
	}

	out := make(map[string]provider.Descriptor, len(doc.Providers))

	for name, pd := range doc.Providers {
		d := provider.Descriptor{
			Name:      name,
			URL:       pd.URL,
			Timeout:   time.Duration(pd.Timeout) * time.Second,
			Auth:      pd.Auth,
			Processes: make(map[string]provider.ProcessConfig, len(pd.Processes)),
		}

		for id, pc := range pd.Processes {
			pc.ID = id
			d.Processes[id] = pc
		}

		if err := d.Normalize(); err != nil {
			return nil, err
		}

		out[name] = d
	}

	return out, nil
}
