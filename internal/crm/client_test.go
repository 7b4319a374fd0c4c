package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/switchboard/internal/errs"
)

func TestSearchContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contacts/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("q") != "acme" {
			t.Errorf("unexpected query %q", r.URL.Query().Get("q"))
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"contacts":[{"id":"c1","name":"Ada","company":"Acme"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok")
	contacts, err := client.SearchContacts(context.Background(), "acme", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ID != "c1" {
		t.Errorf("unexpected contacts: %+v", contacts)
	}
}

func TestGetDealNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.GetDeal(context.Background(), "d404")
	if errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   errs.Kind
	}{
		{http.StatusTooManyRequests, errs.KindRateLimited},
		{http.StatusInternalServerError, errs.KindUpstream},
		{http.StatusBadGateway, errs.KindUpstream},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := NewClient(srv.URL, "")
		_, err := client.SearchDeals(context.Background(), "q", 3)
		if errs.KindOf(err) != tc.kind {
			t.Errorf("status %d: expected %s, got %v", tc.status, tc.kind, err)
		}
		srv.Close()
	}
}

func TestUnreachableServer(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "")
	_, err := client.SearchContacts(context.Background(), "q", 1)
	if errs.KindOf(err) != errs.KindUpstream {
		t.Errorf("expected upstream error, got %v", err)
	}
}
