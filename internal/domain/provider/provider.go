package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api-key"
	AuthBearer AuthType = "bearer"
)

type AuthConfig struct {
	Type     AuthType `yaml:"type" json:"type"`
	User     string   `yaml:"user,omitempty" json:"-"`
	Password string   `yaml:"password,omitempty" json:"-"`
	KeyName  string   `yaml:"key-name,omitempty" json:"-"`
	KeyValue string   `yaml:"key-value,omitempty" json:"-"`
	Token    string   `yaml:"token,omitempty" json:"-"`
}

type ResultStorage string

const (
	ResultStorageRemote    ResultStorage = "remote"
	ResultStorageGeoserver ResultStorage = "geoserver"
)

// GraphProperties points into a published feature collection for
// client-side charting. Dotted paths, e.g. "result.features".
type GraphProperties struct {
	RootPath string `yaml:"root-path" json:"rootPath"`
	XPath    string `yaml:"x-path" json:"xPath"`
	YPath    string `yaml:"y-path" json:"yPath"`
}

type ProcessConfig struct {
	ID              string           `yaml:"id" json:"id"`
	Description     string           `yaml:"description,omitempty" json:"description,omitempty"`
	Version         string           `yaml:"version,omitempty" json:"version,omitempty"`
	ResultStorage   ResultStorage    `yaml:"result-storage,omitempty" json:"resultStorage"`
	Exclude         bool             `yaml:"exclude,omitempty" json:"exclude"`
	ResultPath      string           `yaml:"result-path,omitempty" json:"resultPath,omitempty"`
	GraphProperties *GraphProperties `yaml:"graph-properties,omitempty" json:"graphProperties,omitempty"`
	AnonymousAccess bool             `yaml:"anonymous-access,omitempty" json:"anonymousAccess"`
	Deterministic   bool             `yaml:"deterministic,omitempty" json:"deterministic"`
}

// Descriptor is the read-only configuration of one upstream provider.
type Descriptor struct {
	Name      string                   `yaml:"name" json:"name"`
	URL       string                   `yaml:"url" json:"url"`
	Timeout   time.Duration            `yaml:"timeout,omitempty" json:"timeout"`
	Auth      AuthConfig               `yaml:"authentication,omitempty" json:"-"`
	Processes map[string]ProcessConfig `yaml:"-" json:"processes"`
}

const DefaultTimeout = 60 * time.Second

// Normalize fills defaults and validates the descriptor. The URL always
// ends with a trailing slash so path joins stay predictable.
func (d *Descriptor) Normalize() error {
	if d.Name == "" {
		return errors.New("provider name is required")
	}

	if d.URL == "" {
		return fmt.Errorf("provider %q: url is required", d.Name)
	}

	if !strings.HasPrefix(d.URL, "http://") && !strings.HasPrefix(d.URL, "https://") {
		return fmt.Errorf("provider %q: url must be http(s)", d.Name)
	}

	if !strings.HasSuffix(d.URL, "/") {
		d.URL += "/"
	}

	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}

	switch d.Auth.Type {
	case "", AuthNone:
		d.Auth.Type = AuthNone
	case AuthBasic:
		if d.Auth.User == "" {
			return fmt.Errorf("provider %q: basic auth requires user", d.Name)
		}
	case AuthAPIKey:
		if d.Auth.KeyName == "" {
			return fmt.Errorf("provider %q: api-key auth requires key-name", d.Name)
		}
	case AuthBearer:
		if d.Auth.Token == "" {
			return fmt.Errorf("provider %q: bearer auth requires token", d.Name)
		}
	default:
		return fmt.Errorf("provider %q: unknown auth type %q", d.Name, d.Auth.Type)
	}

	for id, pc := range d.Processes {
		if pc.ResultStorage == "" {
			pc.ResultStorage = ResultStorageRemote
		}
		if pc.ResultStorage != ResultStorageRemote && pc.ResultStorage != ResultStorageGeoserver {
			return fmt.Errorf("provider %q process %q: unknown result-storage %q", d.Name, id, pc.ResultStorage)
		}
		d.Processes[id] = pc
	}

	return nil
}
