package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/switchboard/internal/crm"
	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/tools"
)

func TestCalculator(t *testing.T) {
	calc := NewCalculator()
	cases := []struct {
		expr string
		want float64
	}{
		{"1+1", 2},
		{"2*(3+4)", 14},
		{"10/4", 2.5},
		{"-3+1", -2},
		{"10%3", 1},
		{"1.5*2", 3},
	}
	for _, tc := range cases {
		params, _ := json.Marshal(map[string]string{"expression": tc.expr})
		res, err := calc.Execute(context.Background(), params)
		if err != nil {
			t.Errorf("%s: %v", tc.expr, err)
			continue
		}
		var out struct {
			Result float64 `json:"result"`
		}
		json.Unmarshal(res.Content, &out)
		if out.Result != tc.want {
			t.Errorf("%s = %v, want %v", tc.expr, out.Result, tc.want)
		}
	}
}

func TestCalculatorRejectsUnsafeExpressions(t *testing.T) {
	calc := NewCalculator()
	for _, expr := range []string{"1/0", "len(x)", "x + 1", `"a"+"b"`, "func(){}()"} {
		params, _ := json.Marshal(map[string]string{"expression": expr})
		if _, err := calc.Execute(context.Background(), params); err == nil {
			t.Errorf("expression %q should be rejected", expr)
		}
	}
}

func TestCurrentDatetime(t *testing.T) {
	tool := NewCurrentDatetime()
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"timezone":"UTC"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var out struct {
		ISO      string `json:"iso"`
		Timezone string `json:"timezone"`
	}
	json.Unmarshal(res.Content, &out)
	if out.Timezone != "UTC" || out.ISO == "" {
		t.Errorf("unexpected output: %+v", out)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"timezone":"Not/AZone"}`)); err == nil {
		t.Error("bad zone should error")
	}
}

func TestMemorySearchScopesToContextUser(t *testing.T) {
	gw := memory.NewLocal()
	gw.AddTurn(context.Background(), memory.Turn{UserID: "u1", SessionID: "s1", User: "project atlas status", Assistant: "on track"})
	tool := NewMemorySearch(gw)

	// Without a user on the context the tool returns nothing.
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"atlas"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var out struct {
		Entries []memory.Entry `json:"entries"`
	}
	json.Unmarshal(res.Content, &out)
	if len(out.Entries) != 0 {
		t.Errorf("expected no entries without user, got %+v", out.Entries)
	}

	ctx := tools.WithUserID(context.Background(), "u1")
	res, err = tool.Execute(ctx, json.RawMessage(`{"query":"atlas"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	json.Unmarshal(res.Content, &out)
	if len(out.Entries) != 1 {
		t.Errorf("expected 1 entry for u1, got %+v", out.Entries)
	}
}

func TestContactSearchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"contacts":[{"id":"c1","name":"Ada Lovelace"}]}`))
	}))
	defer srv.Close()

	tool := NewContactSearch(crm.NewClient(srv.URL, ""))
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"ada"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var out struct {
		Contacts []crm.Contact `json:"contacts"`
	}
	json.Unmarshal(res.Content, &out)
	if len(out.Contacts) != 1 || out.Contacts[0].ID != "c1" {
		t.Errorf("unexpected contacts: %+v", out.Contacts)
	}
}

func TestDealLookupByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/deals/d1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"d1","name":"Acme expansion","stage":"proposal","amount":50000}`))
	}))
	defer srv.Close()

	tool := NewDealLookup(crm.NewClient(srv.URL, ""))
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"deal_id":"d1"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var out struct {
		Deal crm.Deal `json:"deal"`
	}
	json.Unmarshal(res.Content, &out)
	if out.Deal.Stage != "proposal" {
		t.Errorf("unexpected deal: %+v", out.Deal)
	}
}

func TestBuiltinSchemasRegister(t *testing.T) {
	r := tools.NewRegistry()
	for _, tool := range []tools.Tool{
		NewCalculator(),
		NewCurrentDatetime(),
		NewMemorySearch(memory.Noop{}),
		NewContactSearch(crm.NewClient("http://crm", "")),
		NewDealLookup(crm.NewClient("http://crm", "")),
	} {
		if err := r.Register(tool); err != nil {
			t.Errorf("register %s: %v", tool.Name(), err)
		}
	}
	if got := len(r.Names()); got != 5 {
		t.Errorf("expected 5 tools, got %d", got)
	}
}

func TestMemorySearchDegradedOnGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tool := NewMemorySearch(memory.NewHTTPGateway(srv.URL, ""))
	ctx := tools.WithUserID(context.Background(), "u1")
	_, err := tool.Execute(ctx, json.RawMessage(`{"query":"x"}`))
	if errs.KindOf(err) != errs.KindDegraded {
		t.Errorf("expected degraded, got %v", err)
	}
}
