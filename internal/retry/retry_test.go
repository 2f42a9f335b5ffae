package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mapfederate/procgate/internal/ogcerr"
)

func fastPolicy(tries uint) Policy {
	return Policy{MaxTries: tries, BaseInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDo_RetriesTransient(t *testing.T) {
	attempts := 0

	got, err := Do(context.Background(), fastPolicy(3), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", ogcerr.New(ogcerr.KindUpstreamTimeout, "slow")
		}
		return "ok", nil
	})

	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}

	if attempts != 3 {
		t.Fatalf("attempts %d", attempts)
	}
}

func TestDo_PermanentFailsFast(t *testing.T) {
	attempts := 0

	_, err := Do(context.Background(), fastPolicy(5), func() (int, error) {
		attempts++
		return 0, ogcerr.New(ogcerr.KindInvalidUsage, "bad input")
	})

	if err == nil || attempts != 1 {
		t.Fatalf("attempts %d err %v", attempts, err)
	}

	if ogcerr.KindOf(err) != ogcerr.KindInvalidUsage {
		t.Fatalf("error rewrapped: %v", err)
	}
}

func TestDo_ExhaustsBudget(t *testing.T) {
	attempts := 0

	_, err := Do(context.Background(), fastPolicy(3), func() (int, error) {
		attempts++
		return 0, ogcerr.Upstream(503, "overloaded")
	})

	if err == nil {
		t.Fatalf("expected error after budget")
	}

	if attempts != 3 {
		t.Fatalf("attempts %d", attempts)
	}
}

func TestDo_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, fastPolicy(3), func() (int, error) {
		return 0, ogcerr.New(ogcerr.KindUpstreamConnection, "refused")
	})

	if err == nil || !errors.Is(err, context.Canceled) && !errors.Is(err, ogcerr.New(ogcerr.KindUpstreamConnection, "")) {
		t.Fatalf("unexpected error: %v", err)
	}
}
