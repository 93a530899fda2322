package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/davrin/sqlmentor/internal/audit"
	"github.com/davrin/sqlmentor/internal/executor"
	"github.com/davrin/sqlmentor/internal/ingest"
	"github.com/davrin/sqlmentor/internal/loop"
	"github.com/davrin/sqlmentor/internal/memory"
	"github.com/davrin/sqlmentor/internal/provider"
	"github.com/davrin/sqlmentor/internal/retrieve"
	"github.com/davrin/sqlmentor/internal/schema"
	"github.com/davrin/sqlmentor/internal/validate"
)

// fakeProvider replays scripted responses in call order.
type fakeProvider struct {
	script []string
	calls  int
}

func (f *fakeProvider) ID() string   { return "fake" }
func (f *fakeProvider) Name() string { return "Fake" }

func (f *fakeProvider) Chat(context.Context, *provider.ChatRequest) (*provider.ChatResponse, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	return &provider.ChatResponse{Content: f.script[idx]}, nil
}

func (f *fakeProvider) ListModels(context.Context) ([]provider.Model, error) { return nil, nil }
func (f *fakeProvider) HealthCheck(context.Context) error                    { return nil }

type stubExec struct {
	rows *executor.Rows
}

func (s *stubExec) Execute(context.Context, string, time.Duration) (*executor.Rows, error) {
	return s.rows, nil
}

// newTestHandler wires a Handler over in-memory deps and a scripted engine.
func newTestHandler(t *testing.T, script ...string) (http.Handler, memory.Store) {
	t.Helper()
	logger := zap.NewNop()

	catalog := schema.NewCatalog([]schema.Table{
		{Name: "X_SUB", Columns: []schema.Column{
			{Name: "SUB_ID", Type: "bigint"},
			{Name: "EMAIL", Type: "text"},
		}},
		{Name: "UEQ", Columns: []schema.Column{
			{Name: "SUB_ID", Type: "bigint"},
			{Name: "DEVICE_CODE", Type: "text"},
		}},
	})

	router := provider.NewRouter(logger)
	router.Register(&fakeProvider{script: script})

	store := memory.NewInMem(logger)
	retriever := retrieve.New(store, catalog, retrieve.DefaultConfig(), logger)
	ingestor := ingest.New(store, router, catalog, "fake-model", logger)
	exec := &stubExec{rows: &executor.Rows{Columns: []string{"email"}, Values: [][]string{{"a@b.c"}}}}
	validator := validate.New(catalog, exec, time.Second, logger)
	orch := loop.New(catalog, retriever, ingestor, validator, router, audit.NewInMem(0), "fake-model", logger)

	h := NewHandler(orch, store, catalog, logger)
	return h.Router(), store
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t, "")
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestQueryEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t, "SELECT email FROM x_sub")
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/query", map[string]string{"question": "list all emails"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		AttemptID string `json:"attempt_id"`
		Statement string `json:"statement"`
		Rows      struct {
			Columns []string   `json:"columns"`
			Values  [][]string `json:"values"`
		} `json:"rows"`
	}
	decodeJSON(t, resp, &body)
	if body.AttemptID == "" {
		t.Error("missing attempt_id")
	}
	if body.Statement != "SELECT email FROM x_sub" {
		t.Errorf("statement = %q", body.Statement)
	}
	if len(body.Rows.Values) != 1 {
		t.Errorf("rows = %+v", body.Rows)
	}
}

func TestQueryRequiresQuestion(t *testing.T) {
	handler, _ := newTestHandler(t, "")
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/query", map[string]string{"question": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestQuerySchemaMismatchMapsTo422(t *testing.T) {
	handler, _ := newTestHandler(t, "SELECT name FROM customers")
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/query", map[string]string{"question": "who are the customers"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	var body struct {
		AttemptID string `json:"attempt_id"`
		Error     string `json:"error"`
	}
	decodeJSON(t, resp, &body)
	if body.Error == "" {
		t.Error("missing error detail")
	}
	if body.AttemptID == "" {
		t.Error("failed query must still expose attempt_id for feedback")
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	extraction := `[{"kind": "table-mapping", "subject": "customers", "object": "X_SUB"}]`
	handler, store := newTestHandler(t, extraction)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/feedback", map[string]string{
		"text":      "customers are stored in X_SUB",
		"source_id": "mentor-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		KnowledgeIDs []string `json:"knowledge_ids"`
	}
	decodeJSON(t, resp, &body)
	if len(body.KnowledgeIDs) != 1 {
		t.Fatalf("knowledge ids = %v, want 1", body.KnowledgeIDs)
	}

	item, err := store.Active(context.Background(), memory.Key{Kind: memory.KindTableMapping, Subject: "customers"})
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if item.ID != body.KnowledgeIDs[0] {
		t.Error("returned id does not match the stored item")
	}
}

func TestFeedbackParseErrorMapsTo422(t *testing.T) {
	handler, _ := newTestHandler(t, "that is not JSON at all")
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/feedback", map[string]string{"text": "mumble mumble"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFeedbackConflictMapsTo409(t *testing.T) {
	handler, store := newTestHandler(t,
		`[{"kind": "table-mapping", "subject": "customers", "object": "X_SUB"}]`)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	seed := &memory.KnowledgeItem{
		RawText: "customers are in CUST_OLD",
		Rule:    memory.Rule{Kind: memory.KindTableMapping, Subject: "customers", Object: "CUST_OLD"},
	}
	if err := store.Put(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := postJSON(t, ts, "/api/feedback", map[string]string{"text": "customers are in X_SUB"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestKnowledgeEndpoints(t *testing.T) {
	handler, store := newTestHandler(t, "")
	ts := httptest.NewServer(handler)
	defer ts.Close()

	v1 := &memory.KnowledgeItem{
		RawText: "customers are in CUST_OLD",
		Rule:    memory.Rule{Kind: memory.KindTableMapping, Subject: "customers", Object: "CUST_OLD"},
	}
	if err := store.Put(context.Background(), v1); err != nil {
		t.Fatalf("put: %v", err)
	}
	v2 := &memory.KnowledgeItem{
		RawText:    "customers are in X_SUB",
		Rule:       memory.Rule{Kind: memory.KindTableMapping, Subject: "customers", Object: "X_SUB"},
		Supersedes: v1.ID,
	}
	if err := store.Put(context.Background(), v2); err != nil {
		t.Fatalf("put: %v", err)
	}

	resp := getJSON(t, ts, "/api/knowledge")
	var active struct {
		Count int `json:"count"`
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	decodeJSON(t, resp, &active)
	if active.Count != 1 || active.Items[0].ID != v2.ID {
		t.Errorf("active = %+v, want only the chain head", active)
	}

	resp = getJSON(t, ts, "/api/knowledge/history?kind=table-mapping&subject=customers")
	var hist struct {
		Count int `json:"count"`
	}
	decodeJSON(t, resp, &hist)
	if hist.Count != 2 {
		t.Errorf("history count = %d, want 2", hist.Count)
	}

	resp = getJSON(t, ts, "/api/knowledge/history?kind=bogus&subject=customers")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSchemaEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t, "")
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/schema")
	var body struct {
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Tables) != 2 {
		t.Errorf("tables = %d, want 2", len(body.Tables))
	}
}
