package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"stageline/internal/app"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
	"stageline/internal/repo"
)

type testServer struct {
	URL    string
	client *http.Client
	engine *engine.Engine
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.New(conn)
	_, cfg, err := app.ResolveFirmAndConfig(context.Background(), "firm-1", "tester", r)
	if err != nil {
		t.Fatalf("resolve firm: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		engine: e,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"case_number": "GST/2024/001",
		"title":       "Demand under scrutiny",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("open case status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Case
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}

	stateRes, stateBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/"+created.ID+"/state", nil, nil)
	if stateRes.StatusCode != http.StatusOK {
		t.Fatalf("state status %d: %s", stateRes.StatusCode, string(stateBody))
	}
	var st engine.CaseState
	if err := json.Unmarshal(stateBody, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if st.Active == nil || st.Active.StageKey != "assessment" {
		t.Fatalf("expected active assessment stage: %s", string(stateBody))
	}

	advRes, advBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/advance", map[string]any{}, nil)
	if advRes.StatusCode != http.StatusCreated {
		t.Fatalf("advance status %d: %s", advRes.StatusCode, string(advBody))
	}
	var tr domain.StageTransition
	if err := json.Unmarshal(advBody, &tr); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if tr.Type != "forward" {
		t.Fatalf("expected forward transition, got %s", tr.Type)
	}

	stagesRes, stagesBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/"+created.ID+"/stages", nil, nil)
	if stagesRes.StatusCode != http.StatusOK {
		t.Fatalf("stages status %d: %s", stagesRes.StatusCode, string(stagesBody))
	}
}

func TestBlockedClosureReturns422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"case_number": "GST/2024/002",
	}, nil)
	var created domain.Case
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	_, stateBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/"+created.ID+"/state", nil, nil)
	var st engine.CaseState
	if err := json.Unmarshal(stateBody, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	instanceID := st.Active.ID

	for _, step := range []string{"notices", "reply", "hearings"} {
		res, body := doJSON(t, client, http.MethodPost,
			srv.URL+"/v0/stages/"+instanceID+"/workflow/"+step+"/skip",
			map[string]any{"notes": "not applicable"}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("skip %s status %d: %s", step, res.StatusCode, string(body))
		}
	}

	res, body := doJSON(t, client, http.MethodPost,
		srv.URL+"/v0/stages/"+instanceID+"/workflow/closure/complete",
		map[string]any{}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			BlockingReasons []string `json:"blocking_reasons"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Code != "blocked" || len(envelope.Details.BlockingReasons) == 0 {
		t.Fatalf("unexpected error envelope: %s", string(body))
	}
}

func TestDuplicateCaseNumberConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"case_number": "GST/2024/003",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("open case status %d: %s", res.StatusCode, string(data))
	}
	res2, data2 := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"case_number": "GST/2024/003",
	}, nil)
	if res2.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res2.StatusCode, string(data2))
	}
}

func TestUnknownCaseIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(body))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/cases", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// health never requires auth
	healthRes, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	healthRes.Body.Close()
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", healthRes.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	// mint a key directly against the store; the raw value goes on the wire
	raw := "test-api-key-material"
	if err := srv.engine.Repo.CreateAPIKey(context.Background(), domain.APIKey{
		ID:        "key-1",
		ActorID:   "tester",
		Name:      "ci",
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("create api key: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/me", nil)
	req.Header.Set("X-Api-Key", raw)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with api key, got %d", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	var me struct {
		ActorID string `json:"actor_id"`
		Source  string `json:"source"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "tester" {
		t.Fatalf("expected tester principal, got %s", string(body))
	}
}
