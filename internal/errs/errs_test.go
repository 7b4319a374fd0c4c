package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf_Classified(t *testing.T) {
	err := New(KindStorage, "insert failed")
	if got := KindOf(err); got != KindStorage {
		t.Errorf("expected storage kind, got %s", got)
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if got := KindOf(wrapped); got != KindStorage {
		t.Errorf("expected storage kind through wrap, got %s", got)
	}
}

func TestKindOf_ContextErrors(t *testing.T) {
	if got := KindOf(context.Canceled); got != KindCancelled {
		t.Errorf("expected cancelled, got %s", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTimeout {
		t.Errorf("expected timeout, got %s", got)
	}
}

func TestKindOf_ContentHeuristics(t *testing.T) {
	cases := map[string]Kind{
		"request timeout after 30s":    KindTimeout,
		"provider returned 429":        KindRateLimited,
		"session not found":            KindNotFound,
		"invalid parameter: count":     KindValidation,
		"connection reset by upstream": KindUpstream,
	}
	for msg, want := range cases {
		if got := KindOf(errors.New(msg)); got != want {
			t.Errorf("%q: expected %s, got %s", msg, want, got)
		}
	}
}

func TestWrap_NilCause(t *testing.T) {
	if err := Wrap(KindStorage, "noop", nil); err != nil {
		t.Errorf("expected nil for nil cause, got %v", err)
	}
}

func TestKind_Fatal(t *testing.T) {
	for _, k := range []Kind{KindTool, KindDegraded} {
		if k.Fatal() {
			t.Errorf("%s should not be fatal", k)
		}
	}
	for _, k := range []Kind{KindTimeout, KindUpstream, KindStorage, KindCancelled} {
		if !k.Fatal() {
			t.Errorf("%s should be fatal", k)
		}
	}
}

func TestKind_HTTPStatus(t *testing.T) {
	if got := KindValidation.HTTPStatus(); got != http.StatusBadRequest {
		t.Errorf("validation: expected 400, got %d", got)
	}
	if got := KindRateLimited.HTTPStatus(); got != http.StatusTooManyRequests {
		t.Errorf("rate limited: expected 429, got %d", got)
	}
	if got := KindTimeout.HTTPStatus(); got != http.StatusGatewayTimeout {
		t.Errorf("timeout: expected 504, got %d", got)
	}
}
