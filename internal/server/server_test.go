package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bullseye/internal/config"
	"bullseye/internal/db"
	"bullseye/internal/domain"
	"bullseye/internal/engine"
	"bullseye/internal/migrate"
)

const (
	testSecret = "test-secret"
	owner      = "owner-wallet"
	v1         = "verifier-1"
	v2         = "verifier-2"
	v3         = "verifier-3"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, faucet bool) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Faucet.Enabled = faucet
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacySignerHeader: true},
		Faucet:   cfg.Faucet,
		DevLogin: true,
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
		Engine: e,
		client: &http.Client{},
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

func as(signer string) map[string]string {
	return map[string]string{"X-Signer": signer}
}

func expectStatus(t *testing.T, res *http.Response, data []byte, status int) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("%s %s: status %d, want %d: %s", res.Request.Method, res.Request.URL.Path, res.StatusCode, status, string(data))
	}
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	expectStatus(t, res, data, status)
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v: %s", err, string(data))
	}
	if env.Error.Code != code {
		t.Fatalf("error code %q, want %q (%s)", env.Error.Code, code, env.Error.Message)
	}
}

func createSubmittedGoal(t *testing.T, srv *testServer) (domain.Goal, domain.Verification) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/accounts/"+owner+"/deposit", map[string]any{"lamports": 2 * domain.LamportsPerUnit}, as(owner))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/counters", nil, as(owner))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals", map[string]any{
		"title":       "Ship the release",
		"amount":      domain.LamportsPerUnit,
		"deadline":    time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"fail_action": "burn",
		"verifiers":   []string{v1, v2, v3},
	}, as(owner))
	expectStatus(t, res, data, http.StatusOK)
	var g domain.Goal
	if err := json.Unmarshal(data, &g); err != nil {
		t.Fatalf("decode goal: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/submit", nil, as(owner))
	expectStatus(t, res, data, http.StatusOK)
	var submitted SubmitResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if submitted.Goal.Status != domain.GoalSubmitted || submitted.Verification.GoalID != g.ID {
		t.Fatalf("unexpected submit response: %s", string(data))
	}
	return submitted.Goal, submitted.Verification
}

func TestGoalLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client := srv.Client()
	g, v := createSubmittedGoal(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/actions/vote/"+owner, nil, as(v1))
	expectStatus(t, res, data, http.StatusOK)
	var action VoteActionResponse
	if err := json.Unmarshal(data, &action); err != nil {
		t.Fatalf("decode action: %v", err)
	}
	if !action.CanVote || action.Verification.ID != v.ID || len(action.Actions) != 2 {
		t.Fatalf("unexpected vote action: %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/actions/vote/"+owner, nil, as("outsider"))
	expectStatus(t, res, data, http.StatusOK)
	var outsider VoteActionResponse
	if err := json.Unmarshal(data, &outsider); err != nil {
		t.Fatalf("decode action: %v", err)
	}
	if outsider.CanVote {
		t.Fatalf("non-verifier offered a vote: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/actions/vote/"+owner+"?vote=yes", nil, as(v1))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/verifications/"+v.ID+"/votes", map[string]any{"vote": true}, as(v2))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/verifications/"+v.ID+"/votes", map[string]any{"vote": false}, as(v3))
	expectStatus(t, res, data, http.StatusOK)
	var tally domain.Verification
	if err := json.Unmarshal(data, &tally); err != nil {
		t.Fatalf("decode verification: %v", err)
	}
	if tally.YesVotes != 2 || tally.NoVotes != 1 || tally.Finalized {
		t.Fatalf("unexpected tally: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/verifications/"+v.ID+"/finalize", nil, as("cranker"))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/settle", nil, as("cranker"))
	expectStatus(t, res, data, http.StatusOK)
	var s engine.Settlement
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("decode settlement: %v", err)
	}
	if s.Recipient != owner || s.Result != domain.ResultSuccess || s.Goal.Status != domain.GoalClaimed {
		t.Fatalf("unexpected settlement: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/accounts/"+owner+"/balance", nil, as(owner))
	expectStatus(t, res, data, http.StatusOK)
	var bal BalanceResponse
	if err := json.Unmarshal(data, &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Lamports != 2*domain.LamportsPerUnit || bal.Units != "2" {
		t.Fatalf("unexpected balance: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?goal_id="+g.ID+"&limit=3", nil, as(owner))
	expectStatus(t, res, data, http.StatusOK)
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(page.Items) != 3 || page.Items[0].Type != domain.EventFundsClaimed || page.NextCursor == "" {
		t.Fatalf("unexpected events page: %s", string(data))
	}
	if page.Items[0].Payload["user"] != owner {
		t.Fatalf("claim payload missing user: %v", page.Items[0].Payload)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals?owner="+owner, nil, as(owner))
	expectStatus(t, res, data, http.StatusOK)
	var goals paginatedGoals
	if err := json.Unmarshal(data, &goals); err != nil {
		t.Fatalf("decode goals: %v", err)
	}
	if len(goals.Items) != 1 || goals.Items[0].Status != domain.GoalClaimed {
		t.Fatalf("unexpected goals: %s", string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client := srv.Client()
	g, v := createSubmittedGoal(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals/"+g.ID, nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/verifications/"+v.ID+"/votes", map[string]any{"vote": true}, as(owner))
	expectError(t, res, data, http.StatusForbidden, "not_a_verifier")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/verifications/"+v.ID+"/votes", map[string]any{"vote": true}, as(v1))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/verifications/"+v.ID+"/votes", map[string]any{"vote": true}, as(v1))
	expectError(t, res, data, http.StatusConflict, "already_voted")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/verifications/"+v.ID+"/finalize", nil, as(owner))
	expectError(t, res, data, http.StatusUnprocessableEntity, "verification_not_complete")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/settle", nil, as(owner))
	expectError(t, res, data, http.StatusUnprocessableEntity, "verification_not_finalized")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/submit", nil, as(v1))
	expectError(t, res, data, http.StatusForbidden, "unauthorized")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/submit", nil, as(owner))
	expectError(t, res, data, http.StatusConflict, "invalid_goal_status")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/counters", nil, as(owner))
	expectError(t, res, data, http.StatusConflict, "already_initialized")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals", map[string]any{
		"title":       "second",
		"amount":      domain.LamportsPerUnit,
		"deadline":    time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"fail_action": "burn",
	}, as(owner))
	expectError(t, res, data, http.StatusConflict, "active_goal_exists")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals/does-not-exist", nil, as(owner))
	expectError(t, res, data, http.StatusNotFound, "not_found")
}

func TestCreateGoalValidation(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/accounts/alice/deposit", map[string]any{"lamports": domain.LamportsPerUnit}, as("alice"))
	expectStatus(t, res, data, http.StatusOK)

	base := func() map[string]any {
		return map[string]any{
			"title":       "Read a book",
			"amount":      domain.LamportsPerUnit / 2,
			"deadline":    time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			"fail_action": "company_wallet",
		}
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals", base(), as("alice"))
	expectError(t, res, data, http.StatusConflict, "counter_not_initialized")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/counters", nil, as("alice"))
	expectStatus(t, res, data, http.StatusOK)

	cases := []struct {
		name   string
		edit   func(map[string]any)
		status int
		code   string
	}{
		{"amount low", func(b map[string]any) { b["amount"] = 1 }, http.StatusBadRequest, "amount_too_low"},
		{"deadline past", func(b map[string]any) { b["deadline"] = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339) }, http.StatusBadRequest, "deadline_in_past"},
		{"two verifiers", func(b map[string]any) { b["verifiers"] = []string{v1, v2} }, http.StatusBadRequest, "invalid_verifier_panel"},
		{"insufficient funds", func(b map[string]any) { b["amount"] = 2 * domain.LamportsPerUnit }, http.StatusUnprocessableEntity, "insufficient_funds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := base()
			tc.edit(body)
			res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals", body, as("alice"))
			expectError(t, res, data, tc.status, tc.code)
		})
	}
}

func TestDevLoginBearer(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"address": "carol"}, nil)
	expectStatus(t, res, data, http.StatusOK)
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("decode login: %v: %s", err, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/counters", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	expectStatus(t, res, data, http.StatusOK)
	var c domain.GoalCounter
	if err := json.Unmarshal(data, &c); err != nil || c.Owner != "carol" {
		t.Fatalf("counter owner from token: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/counters", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/accounts/carol/deposit", map[string]any{"lamports": 5}, as("carol"))
	expectError(t, res, data, http.StatusForbidden, "faucet_disabled")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
}

func TestWebhookDispatch(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.Header.Get("X-Bullseye-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	e := srv.Engine
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{domain.EventGoalCreated, domain.EventGoalSubmitted}}}
	d := newWebhookDispatcher(e)
	if d == nil {
		t.Fatalf("expected dispatcher")
	}
	d.cursors[0] = 0

	createSubmittedGoal(t, srv)
	d.dispatchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 || received[0] != domain.EventGoalCreated || received[1] != domain.EventGoalSubmitted {
		t.Fatalf("unexpected deliveries: %v", received)
	}
	last, err := e.Repo.LatestEventID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if d.cursors[0] != last {
		t.Fatalf("cursor %d, want %d", d.cursors[0], last)
	}
}

func TestOpenAPIConcurrentFirstFetch(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()

	const n = 8
	bodies := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/openapi.json", nil)
			if err != nil {
				t.Errorf("new request: %v", err)
				return
			}
			req.Header.Set("X-Signer", owner)
			res, err := srv.Client().Do(req)
			if err != nil {
				t.Errorf("get openapi: %v", err)
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				t.Errorf("status %d", res.StatusCode)
			}
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if !bytes.Equal(bodies[0], bodies[i]) {
			t.Fatalf("openapi document %d differs from the first", i)
		}
	}
	if !bytes.Contains(bodies[0], []byte(`"/v0/goals"`)) {
		t.Fatalf("openapi document missing goal routes")
	}
}
