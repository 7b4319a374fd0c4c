package memory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
)

func TestLocalQueryScopedToUser(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	l.AddTurn(ctx, Turn{UserID: "u1", SessionID: "s1", User: "pricing for acme", Assistant: "sent the quote"})
	l.AddTurn(ctx, Turn{UserID: "u2", SessionID: "s2", User: "pricing for acme", Assistant: "sent the quote"})

	entries, err := l.QueryRelevant(ctx, "u1", "acme pricing", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != "s1" {
		t.Errorf("query must be user-scoped, got %+v", entries)
	}
}

func TestLocalDeleteSession(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	l.AddTurn(ctx, Turn{UserID: "u1", SessionID: "s1", User: "alpha topic", Assistant: "noted"})
	l.AddTurn(ctx, Turn{UserID: "u1", SessionID: "s2", User: "alpha topic", Assistant: "noted"})

	if err := l.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, _ := l.QueryRelevant(ctx, "u1", "alpha", 5)
	for _, e := range entries {
		if e.SessionID == "s1" {
			t.Errorf("deleted session still surfaced: %+v", e)
		}
	}
}

func TestBudgetedQueryTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`{"entries":[]}`))
	}))
	defer srv.Close()

	gw := NewBudgeted(NewHTTPGateway(srv.URL, ""), time.Second, 50*time.Millisecond)
	start := time.Now()
	_, err := gw.QueryRelevant(context.Background(), "u1", "anything", 3)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Error("query budget not enforced")
	}
}

func TestHTTPGatewayUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "")
	_, err := gw.QueryRelevant(context.Background(), "u1", "q", 3)
	if errs.KindOf(err) != errs.KindUpstream {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestHTTPGatewayAddTurn(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "tok")
	err := gw.AddTurn(context.Background(), Turn{UserID: "u1", SessionID: "s1", User: "q", Assistant: "a"})
	if err != nil {
		t.Fatalf("add turn: %v", err)
	}
	if gotPath != "/memory/turns" {
		t.Errorf("unexpected path %s", gotPath)
	}
}

func TestNoopGateway(t *testing.T) {
	var gw Gateway = Noop{}
	if err := gw.AddTurn(context.Background(), Turn{}); err != nil {
		t.Errorf("noop add: %v", err)
	}
	entries, err := gw.QueryRelevant(context.Background(), "u", "q", 3)
	if err != nil || entries != nil {
		t.Errorf("noop query: %v %v", entries, err)
	}
}
