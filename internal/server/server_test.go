package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"cutline/internal/auth"
	"cutline/internal/command"
	"cutline/internal/db"
	"cutline/internal/domain"
	"cutline/internal/events"
	"cutline/internal/migrate"
	"cutline/internal/repo"
	"cutline/internal/session"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	repo   repo.Repo
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type testOptions struct {
	auth   AuthConfig
	policy auth.Policy
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func newTestServer(t *testing.T, opts testOptions) (*testServer, func()) {
	t.Helper()
	conn := openTestDB(t)
	r := repo.Repo{DB: conn}
	d := command.New(command.Options{
		Sessions: session.NewManager(session.ManagerOptions{Config: session.Config{FrameRate: 30}}),
		Journal:  events.Writer{DB: conn},
		Events:   r,
		Policy:   opts.policy,
	})
	handler, err := New(Config{Dispatcher: d, Events: r, Keys: r, BasePath: "/v0", Auth: opts.auth})
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
		repo:   r,
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
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
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

type rpcReply struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *command.Error  `json:"error"`
}

func rpc(t *testing.T, srv *testServer, method string, params map[string]any, headers map[string]string) rpcReply {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/rpc", map[string]any{
		"id":     method,
		"method": method,
		"params": params,
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("%s status %d: %s", method, res.StatusCode, string(data))
	}
	var reply rpcReply
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal %s reply: %v", method, err)
	}
	return reply
}

func mustResult(t *testing.T, reply rpcReply, out any) {
	t.Helper()
	if reply.Error != nil {
		t.Fatalf("unexpected envelope error: %+v", reply.Error)
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
}

func TestRPCEditFlowIsJournaled(t *testing.T) {
	srv, cleanup := newTestServer(t, testOptions{auth: AuthConfig{Disabled: true}})
	defer cleanup()
	headers := map[string]string{"X-Agent-Id": "editor-1"}

	var created command.SessionCreated
	mustResult(t, rpc(t, srv, "session.create", nil, headers), &created)
	if created.SessionID == "" {
		t.Fatalf("expected session id")
	}
	var track command.TrackResult
	mustResult(t, rpc(t, srv, "edit.create_track", map[string]any{
		"session_id": created.SessionID,
		"name":       "V1",
		"kind":       "video",
	}, headers), &track)
	var item command.ItemResult
	mustResult(t, rpc(t, srv, "edit.add_media", map[string]any{
		"session_id": created.SessionID,
		"track_id":   track.Track.ID,
		"source":     "file:///clip.mp4",
		"kind":       "video",
		"start":      0,
		"duration":   90,
	}, headers), &item)
	if !item.Success || item.Item.Duration != 90 {
		t.Fatalf("unexpected add_media result %+v", item)
	}

	var failure command.Failure
	mustResult(t, rpc(t, srv, "edit.delete_clip", map[string]any{
		"session_id": created.SessionID,
		"track_id":   track.Track.ID,
		"item_id":    "missing",
	}, headers), &failure)
	if failure.Success || failure.Reason != "item_not_found" {
		t.Fatalf("expected item_not_found failure, got %+v", failure)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?session_id="+created.SessionID+"&limit=2", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with cursor, got %+v", page)
	}
	if page.Items[0].Type != "edit.add_media" || page.Items[1].Type != "edit.create_track" {
		t.Fatalf("unexpected order %s, %s", page.Items[0].Type, page.Items[1].Type)
	}
	if page.Items[0].ActorID != "editor-1" {
		t.Fatalf("expected actor editor-1, got %s", page.Items[0].ActorID)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?session_id="+created.SessionID+"&limit=2&cursor="+page.NextCursor, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	page = paginatedEvents{}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != "session.create" || page.NextCursor != "" {
		t.Fatalf("unexpected second page %+v", page)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d: %s", res.StatusCode, string(data))
	}
}

func TestRPCEnvelopeErrors(t *testing.T) {
	srv, cleanup := newTestServer(t, testOptions{auth: AuthConfig{Disabled: true}})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/rpc", []byte(`{"method":`), nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d: %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &apiErr); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if apiErr.Error.Code != "parse_error" {
		t.Fatalf("expected parse_error, got %+v", apiErr.Error)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/rpc", []byte(`{"id":3,"method":"session.list"}`), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected envelope error in a 200 body, got %d: %s", res.StatusCode, string(data))
	}
	var numeric rpcReply
	if err := json.Unmarshal(data, &numeric); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if numeric.Error == nil || numeric.Error.Code != command.CodeInvalidRequest {
		t.Fatalf("expected invalid request for a numeric id, got %+v", numeric)
	}

	reply := rpc(t, srv, "edit.explode", nil, nil)
	if reply.Error == nil || reply.Error.Code != command.CodeUnknownMethod {
		t.Fatalf("expected unknown method error, got %+v", reply)
	}
	if reply.ID != "edit.explode" {
		t.Fatalf("expected id to be echoed, got %v", reply.ID)
	}

	reply = rpc(t, srv, "edit.get_timeline", map[string]any{"session_id": "nope"}, nil)
	if reply.Error == nil || reply.Error.Code != command.CodeSessionNotFound {
		t.Fatalf("expected session not found, got %+v", reply)
	}

	reply = rpc(t, srv, "edit.create_track", map[string]any{"session_id": "x", "bogus": 1}, nil)
	if reply.Error == nil || reply.Error.Code != command.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", reply)
	}
}

func TestAuthModes(t *testing.T) {
	srv, cleanup := newTestServer(t, testOptions{auth: AuthConfig{JWTSecret: testSecret, AllowLegacyAgentHeader: true}})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}

	token, err := SignToken(testSecret, "director-1", []string{"director"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with jwt status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.AgentID != "director-1" || who.Source != "jwt" || len(who.Roles) != 1 || who.Roles[0] != "director" {
		t.Fatalf("unexpected principal %+v", who)
	}

	other, err := SignToken("other-secret", "director-1", nil, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + other})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d", res.StatusCode)
	}

	if err := srv.repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:      "key-1",
		AgentID: "music-1",
		KeyHash: repo.HashAPIKey("s3cret"),
		Roles:   []string{"generator"},
	}); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "s3cret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with api key status %d: %s", res.StatusCode, string(data))
	}
	who = WhoAmIResponse{}
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.AgentID != "music-1" || who.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", who)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Agent-Id": "legacy"})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "legacy_header") {
		t.Fatalf("expected legacy header principal, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPolicyAppliesToRPC(t *testing.T) {
	srv, cleanup := newTestServer(t, testOptions{
		auth:   AuthConfig{JWTSecret: testSecret},
		policy: auth.NewPolicy(map[string][]string{"observer": {"session.list", "agent.get_status"}}),
	})
	defer cleanup()

	token, err := SignToken(testSecret, "watcher", []string{"observer"}, 0, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	reply := rpc(t, srv, "session.create", nil, headers)
	if reply.Error == nil || reply.Error.Code != command.CodeForbidden {
		t.Fatalf("expected forbidden, got %+v", reply)
	}
	var list command.Sessions
	mustResult(t, rpc(t, srv, "session.list", nil, headers), &list)
	if len(list.Sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(list.Sessions))
	}
}

func TestPublicEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, testOptions{auth: AuthConfig{JWTSecret: testSecret}})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	if res.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "bearerAuth") {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "cutline_") {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/methods", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("methods should require auth, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"agent_id": "x"}, nil)
	if res.StatusCode == http.StatusOK {
		t.Fatalf("dev login must not be served unless enabled")
	}
}

func TestDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t, testOptions{auth: AuthConfig{JWTSecret: testSecret, DevLogin: true}})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"agent_id": "director-1",
		"roles":    []string{"director"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/methods", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("methods status %d: %s", res.StatusCode, string(data))
	}
	var methods MethodsResponse
	if err := json.Unmarshal(data, &methods); err != nil {
		t.Fatalf("unmarshal methods: %v", err)
	}
	if len(methods.Methods) != 23 {
		t.Fatalf("expected 23 methods, got %d", len(methods.Methods))
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"agent_id": " "}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank agent, got %d", res.StatusCode)
	}
}
