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

	"github.com/golang-jwt/jwt/v5"

	"collabline/internal/config"
	"collabline/internal/db"
	"collabline/internal/engine"
	"collabline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("collabline")
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
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
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

func actorHeaders(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope %q: %v", string(data), err)
	}
	return envelope.Error.Code
}

func createTestContract(t *testing.T, srv *testServer) ContractResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/contracts", map[string]any{
		"sender_id":   "inf-1",
		"receiver_id": "own-1",
		"price":       5000,
		"deadline":    "2026-06-01",
		"deliverables": []map[string]any{
			{"platform": "instagram", "action_type": "post", "quantity": 2},
		},
	}, actorHeaders("own-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create contract status %d: %s", res.StatusCode, string(data))
	}
	var created ContractResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal contract: %v", err)
	}
	return created
}

func TestContractLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := createTestContract(t, srv)
	if c.Status != "draft" {
		t.Fatalf("new contract status %s", c.Status)
	}

	transitionURL := srv.URL + "/v1/contracts/" + c.ID + "/transition"
	res, data := doJSON(t, client, http.MethodPost, transitionURL,
		map[string]any{"status": "active", "role": "influencer"}, actorHeaders("inf-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activate status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, transitionURL,
		map[string]any{"status": "influencerConfirmed", "role": "influencer"}, actorHeaders("inf-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("influencer confirm status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, transitionURL,
		map[string]any{"status": "ownerConfirmed", "role": "owner"}, actorHeaders("own-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owner confirm status %d: %s", res.StatusCode, string(data))
	}
	var final ContractResponse
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatal(err)
	}
	if final.Status != "completed" || final.CompletedAt == nil {
		t.Fatalf("final contract: %+v", final)
	}
}

func TestTransitionErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := createTestContract(t, srv)
	transitionURL := srv.URL + "/v1/contracts/" + c.ID + "/transition"

	// owner may not activate
	res, data := doJSON(t, client, http.MethodPost, transitionURL,
		map[string]any{"status": "active", "role": "owner"}, actorHeaders("own-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("owner activate status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("owner activate code %s", code)
	}

	// confirmation is unreachable from draft
	res, data = doJSON(t, client, http.MethodPost, transitionURL,
		map[string]any{"status": "ownerConfirmed", "role": "owner"}, actorHeaders("own-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("confirm from draft status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("confirm from draft code %s", code)
	}

	// unknown transition token: completion is derived, never requested, so the
	// token classifies as an invalid transition rather than a malformed request
	res, data = doJSON(t, client, http.MethodPost, transitionURL,
		map[string]any{"status": "completed", "role": "owner"}, actorHeaders("own-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("unknown token status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("unknown token code %s", code)
	}

	// missing contract
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/contracts/nope/transition",
		map[string]any{"status": "active", "role": "influencer"}, actorHeaders("inf-1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing contract status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("missing contract code %s", code)
	}

	// role required with the legacy header
	res, data = doJSON(t, client, http.MethodPost, transitionURL,
		map[string]any{"status": "active"}, actorHeaders("inf-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing role status %d: %s", res.StatusCode, string(data))
	}
}

func TestTerminalContractRejectsTransitions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := createTestContract(t, srv)
	transitionURL := srv.URL + "/v1/contracts/" + c.ID + "/transition"

	res, data := doJSON(t, client, http.MethodPost, transitionURL,
		map[string]any{"status": "terminated", "role": "owner"}, actorHeaders("own-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("terminate status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, transitionURL,
		map[string]any{"status": "active", "role": "influencer"}, actorHeaders("inf-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("activate terminated status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("activate terminated code %s", code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/contracts", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials status %d: %s", res.StatusCode, string(data))
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestJWTRoleDrivesTransition(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := createTestContract(t, srv)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "inf-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "influencer",
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	headers := map[string]string{"Authorization": "Bearer " + signed}

	// no body role needed, the credential carries one
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/contracts/"+c.ID+"/transition",
		map[string]any{"status": "active"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt activate status %d: %s", res.StatusCode, string(data))
	}

	// a body role contradicting the credential is rejected
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/contracts/"+c.ID+"/transition",
		map[string]any{"status": "influencerConfirmed", "role": "owner"}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("mismatched role status %d: %s", res.StatusCode, string(data))
	}

	// bad signature
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/contracts",
		nil, map[string]string{"Authorization": "Bearer " + signed + "x"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := createTestContract(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/apikeys", map[string]any{
		"actor_id": "inf-1",
		"role":     "influencer",
		"name":     "ci",
	}, actorHeaders("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatal(err)
	}
	if key.Key == "" {
		t.Fatal("plaintext key missing from creation response")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/contracts/"+c.ID+"/transition",
		map[string]any{"status": "active"}, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key activate status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/contracts",
		nil, map[string]string{"X-Api-Key": "clk_wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong api key status %d: %s", res.StatusCode, string(data))
	}
}

func TestProposalFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals", map[string]any{
		"job_id":        "job-1",
		"influencer_id": "inf-1",
		"owner_id":      "own-1",
		"price":         7500,
		"deadline":      "2026-07-01",
		"deliverables": []map[string]any{
			{"platform": "tiktok", "action_type": "video", "quantity": 1},
		},
		"message": "two weeks",
	}, actorHeaders("inf-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create proposal status %d: %s", res.StatusCode, string(data))
	}
	var p ProposalResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}

	// influencer may not accept
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals/"+p.ID+"/accept",
		map[string]any{"role": "influencer"}, actorHeaders("inf-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("influencer accept status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/proposals/"+p.ID+"/accept",
		map[string]any{"role": "owner"}, actorHeaders("own-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	var c ContractResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatal(err)
	}
	if c.Status != "draft" || c.SenderID != "inf-1" || c.ReceiverID != "own-1" {
		t.Fatalf("minted contract: %+v", c)
	}

	// accepted proposals cannot be deleted
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/proposals/"+p.ID, nil, actorHeaders("own-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("delete accepted status %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	c := createTestContract(t, srv)
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/contracts/"+c.ID+"/transition",
		map[string]any{"status": "active", "role": "influencer"}, actorHeaders("inf-1"))

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=10", nil, actorHeaders("inf-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) < 2 {
		t.Fatalf("expected created and activated events, got %d", len(page.Items))
	}
}

func TestCreateContractValidationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/contracts", map[string]any{
		"sender_id":   "inf-1",
		"receiver_id": "own-1",
		"price":       100,
		"deadline":    "2026-06-01",
		"deliverables": []map[string]any{
			{"platform": "myspace", "action_type": "post", "quantity": 1},
		},
	}, actorHeaders("own-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown platform status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "bad_request" {
		t.Fatalf("unknown platform code %s", code)
	}
}
