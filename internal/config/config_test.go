package config

import (
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "go duration", value: "45s", want: 45 * time.Second},
		{name: "plain seconds", value: "300", want: 300 * time.Second},
		{name: "fractional seconds", value: "0.5", want: 500 * time.Millisecond},
		{name: "garbage falls back", value: "soon", want: 7 * time.Second},
		{name: "unset falls back", value: "", want: 7 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.value != "" {
				t.Setenv("TEST_DURATION", tc.value)
			}

			if got := getEnvDuration("TEST_DURATION", 7*time.Second); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")

	got := getEnvList("TEST_LIST")

	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("got %v", got)
	}

	if getEnvList("TEST_LIST_UNSET") != nil {
		t.Fatalf("unset list must be nil")
	}
}

func TestLoad_PollTimeoutDefaultsUnbounded(t *testing.T) {
	cfg := Load()

	if cfg.PollTimeout >= 0 {
		t.Fatalf("default poll timeout must be negative (unbounded), got %v", cfg.PollTimeout)
	}

	if cfg.PollInterval <= 0 {
		t.Fatalf("poll interval %v", cfg.PollInterval)
	}
}

func TestBuildDBURL(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_USER", "gw")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "gateway")
	t.Setenv("DB_SSLMODE", "require")

	want := "postgres://gw:pw@db.internal:5433/gateway?sslmode=require"

	if got := buildDBURL(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
