package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tasktrack/internal/broadcast"
	"tasktrack/internal/config"
	"tasktrack/internal/db"
	"tasktrack/internal/domain"
	"tasktrack/internal/engine"
	"tasktrack/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL      string
	Engine   engine.Engine
	Owner    domain.User
	Member   domain.User
	Outsider domain.User
	client   *http.Client
	close    func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	users := make([]domain.User, 0, 3)
	for _, name := range []string{"owner", "member", "outsider"} {
		u, err := e.CreateUser(ctx, name+"@example.com", name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		users = append(users, u)
	}
	logger := log.New(io.Discard, "", 0)
	handler, err := New(Config{
		Engine: e,
		Hub:    broadcast.NewHub(8, logger),
		Auth:   AuthConfig{JWTSecret: testSecret, AllowLegacyUserHeader: true, Logger: logger},
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
		URL:      "http://" + ln.Addr().String(),
		Engine:   e,
		Owner:    users[0],
		Member:   users[1],
		Outsider: users[2],
		client:   &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func as(u domain.User) map[string]string {
	return map[string]string{"X-User-Id": strconv.FormatInt(u.ID, 10)}
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

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v: %s", err, string(data))
	}
	return env
}

// createProject makes a project owned by srv.Owner with srv.Member added.
func createProject(t *testing.T, srv *testServer, level domain.AccessLevel) domain.Project {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title":        "Board",
		"access_level": int(level),
	}, as(srv.Owner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/v1/projects/%d/members", srv.URL, p.ID), map[string]any{
		"user_id": srv.Member.ID,
	}, as(srv.Owner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add member status %d: %s", res.StatusCode, string(data))
	}
	return p
}

func createTask(t *testing.T, srv *testServer, p domain.Project, body map[string]any) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, fmt.Sprintf("%s/v1/projects/%d/tasks", srv.URL, p.ID), body, as(srv.Owner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func taskURL(srv *testServer, p domain.Project, seq int64) string {
	return fmt.Sprintf("%s/v1/projects/%d/tasks/%d", srv.URL, p.ID, seq)
}

func TestUpdateForbiddenBelowThreshold(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessRed)
	task := createTask(t, srv, p, map[string]any{"title": "Ship"})

	res, data := doJSON(t, srv.Client(), http.MethodPatch, taskURL(srv, p, task.SequenceNumber), map[string]any{
		"title": "Renamed",
	}, as(srv.Member))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", env.Error.Code)
	}
	if env.Error.Details["required_level"] != "yellow" {
		t.Fatalf("expected required_level yellow, got %v", env.Error.Details)
	}
	snapshot, ok := env.Error.Details["task"].(map[string]any)
	if !ok {
		t.Fatalf("expected task snapshot in details, got %v", env.Error.Details)
	}
	if seq, _ := snapshot["sequence_number"].(float64); int64(seq) != task.SequenceNumber || snapshot["title"] != "Ship" {
		t.Fatalf("expected snapshot of task %d, got %v", task.SequenceNumber, snapshot)
	}

	// raising the level opens updates to every member
	res, data = doJSON(t, srv.Client(), http.MethodPatch, fmt.Sprintf("%s/v1/projects/%d", srv.URL, p.ID), map[string]any{
		"access_level": int(domain.AccessYellow),
	}, as(srv.Owner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update project status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPatch, taskURL(srv, p, task.SequenceNumber), map[string]any{
		"title": "Renamed",
	}, as(srv.Member))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, string(data))
	}
	var updated domain.Task
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if updated.Title != "Renamed" {
		t.Fatalf("expected renamed task, got %q", updated.Title)
	}
}

func TestUpdateRejectsForeignAssociations(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessGreen)
	task := createTask(t, srv, p, map[string]any{"title": "Ship"})

	cases := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"type", map[string]any{"title": "x", "type_id": 9999}, "type_id"},
		{"performer", map[string]any{"title": "x", "performer_id": srv.Outsider.ID}, "performer_id"},
		{"users", map[string]any{"title": "x", "users": []int64{srv.Member.ID, 9999}}, "users"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, srv.Client(), http.MethodPatch, taskURL(srv, p, task.SequenceNumber), tc.body, as(srv.Member))
			if res.StatusCode != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
			}
			env := decodeError(t, data)
			if env.Error.Details["field"] != tc.field {
				t.Fatalf("expected field %s, got %v", tc.field, env.Error.Details)
			}
		})
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, taskURL(srv, p, task.SequenceNumber), nil, as(srv.Member))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d: %s", res.StatusCode, string(data))
	}
	var got domain.Task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if got.Title != "Ship" {
		t.Fatalf("rejected update leaked a write: %q", got.Title)
	}
}

func TestUpdateBroadcastsToStream(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessGreen)
	task := createTask(t, srv, p, map[string]any{"title": "Ship"})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/v1/projects/%d/tasks/stream", p.ID)
	header := http.Header{}
	header.Set("X-User-Id", strconv.FormatInt(srv.Member.ID, 10))
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()
	if res.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", res.StatusCode)
	}

	resp, data := doJSON(t, srv.Client(), http.MethodPatch, taskURL(srv, p, task.SequenceNumber), map[string]any{
		"performer_id": srv.Member.ID,
		"users":        []int64{srv.Owner.ID},
	}, as(srv.Member))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", resp.StatusCode, string(data))
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg broadcast.TaskUpdate
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if msg.Event != broadcast.EventTaskUpdated || msg.Task.SequenceNumber != task.SequenceNumber {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Task.Performer == nil || msg.Task.Performer.ID != srv.Member.ID {
		t.Fatalf("expected performer in update, got %+v", msg.Task.Performer)
	}
	if len(msg.Task.Users) != 1 || msg.Task.Users[0].ID != srv.Owner.ID {
		t.Fatalf("expected collaborators in update, got %+v", msg.Task.Users)
	}

	// explicit null clears
	resp, data = doJSON(t, srv.Client(), http.MethodPatch, taskURL(srv, p, task.SequenceNumber), map[string]any{
		"performer_id": nil,
		"users":        []int64{},
	}, as(srv.Member))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status %d: %s", resp.StatusCode, string(data))
	}
	var cleared broadcast.TaskUpdate
	if err := conn.ReadJSON(&cleared); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if cleared.Task.Performer != nil || len(cleared.Task.Users) != 0 {
		t.Fatalf("expected cleared associations, got %+v", cleared.Task)
	}
}

func TestStreamRequiresMembership(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessGreen)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/v1/projects/%d/tasks/stream", p.ID)
	header := http.Header{}
	header.Set("X-User-Id", strconv.FormatInt(srv.Outsider.ID, 10))
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("expected dial to fail for a non-member")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %+v", res)
	}
}

func TestMoveAtRedLevel(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessRed)
	task := createTask(t, srv, p, map[string]any{"title": "Ship"})

	res, data := doJSON(t, srv.Client(), http.MethodPost, taskURL(srv, p, task.SequenceNumber)+"/move", map[string]any{
		"status":   domain.StatusInProgress,
		"position": 7,
	}, as(srv.Member))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", res.StatusCode, string(data))
	}
	var moved domain.Task
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if moved.Status != domain.StatusInProgress || moved.Position != 7 {
		t.Fatalf("unexpected moved task %+v", moved)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL(srv, p, task.SequenceNumber)+"/move", map[string]any{}, as(srv.Member))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty move, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDeleteTaskIsSoft(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessGreen)
	task := createTask(t, srv, p, map[string]any{"title": "Ship"})

	res, data := doJSON(t, srv.Client(), http.MethodDelete, taskURL(srv, p, 404), nil, as(srv.Member))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Details["deleted"] != false {
		t.Fatalf("expected deleted=false, got %v", env.Error.Details)
	}

	res, data = doJSON(t, srv.Client(), http.MethodDelete, taskURL(srv, p, task.SequenceNumber), nil, as(srv.Member))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	var out DeleteTaskResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal delete: %v", err)
	}
	if !out.Deleted || out.Task == nil || out.Task.Title != "Ship" {
		t.Fatalf("unexpected delete response %+v", out)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/v1/projects/%d/events?type=task.deleted", srv.URL, p.ID), nil, as(srv.Owner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ActorID != srv.Member.ID {
		t.Fatalf("expected one delete event by member, got %+v", page.Items)
	}
}

func TestListTasksPaginates(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessGreen)
	for i := 0; i < 3; i++ {
		createTask(t, srv, p, map[string]any{"title": fmt.Sprintf("task %d", i)})
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, fmt.Sprintf("%s/v1/projects/%d/tasks?limit=2&offset=1", srv.URL, p.ID), nil, as(srv.Member))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		List  []domain.Task `json:"list"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if out.Total != 3 || len(out.List) != 2 || out.List[0].SequenceNumber != 2 {
		t.Fatalf("unexpected page %+v", out)
	}
}

func TestNonMemberSeesNotFound(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessGreen)
	for _, url := range []string{
		fmt.Sprintf("%s/v1/projects/%d", srv.URL, p.ID),
		fmt.Sprintf("%s/v1/projects/%d/tasks", srv.URL, p.ID),
		fmt.Sprintf("%s/v1/projects/%d/events", srv.URL, p.ID),
	} {
		res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, as(srv.Outsider))
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d: %s", url, res.StatusCode, string(data))
		}
	}
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"email": srv.Member.Email,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via jwt status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.User.ID != srv.Member.ID {
		t.Fatalf("expected member, got %+v", me.User)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/me/api-keys", map[string]any{"name": "ci"}, as(srv.Owner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key status %d: %s", res.StatusCode, string(data))
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal api key: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.User.ID != srv.Owner.ID {
		t.Fatalf("expected owner, got %+v", me.User)
	}
}

func TestSignedTokenRoundTrip(t *testing.T) {
	token, err := SignToken(testSecret, 42, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := authenticateJWT(token, testSecret)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.UserID != 42 || p.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, err := authenticateJWT(token, "other-secret"); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
}

func TestWorkEntriesOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessGreen)
	task := createTask(t, srv, p, map[string]any{"title": "Ship"})

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	res, data := doJSON(t, srv.Client(), http.MethodPost, taskURL(srv, p, task.SequenceNumber)+"/work", map[string]any{
		"description": "pairing",
		"start_at":    start,
		"finish_at":   start.Add(time.Hour),
		"value":       60,
	}, as(srv.Member))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("log work status %d: %s", res.StatusCode, string(data))
	}
	var entry domain.WorkEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal work: %v", err)
	}

	workURL := fmt.Sprintf("%s/v1/projects/%d/work/%d", srv.URL, p.ID, entry.ID)
	res, data = doJSON(t, srv.Client(), http.MethodPatch, workURL, map[string]any{"value": nil}, as(srv.Owner))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-author, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPatch, workURL, map[string]any{"value": nil}, as(srv.Member))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update work status %d: %s", res.StatusCode, string(data))
	}
	var updated domain.WorkEntry
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal work: %v", err)
	}
	if updated.ID != entry.ID || updated.Value != nil {
		t.Fatalf("expected value cleared on entry %d, got %+v", entry.ID, updated)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL(srv, p, task.SequenceNumber)+"/work", map[string]any{
		"start_at":  start,
		"finish_at": start.Add(-time.Hour),
	}, as(srv.Member))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for inverted span, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, taskURL(srv, p, task.SequenceNumber)+"/work", nil, as(srv.Owner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list work status %d: %s", res.StatusCode, string(data))
	}
	var entries []domain.WorkEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal work list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}

	res, data = doJSON(t, srv.Client(), http.MethodDelete, workURL, nil, as(srv.Member))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete work status %d: %s", res.StatusCode, string(data))
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv := newTestServer(t)
	p := createProject(t, srv, domain.AccessGreen)

	var (
		mu       sync.Mutex
		received []webhookEvent
		sigs     []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		sigs = append(sigs, r.Header.Get("X-Tasktrack-Signature")+"|"+signPayload("s3cret", body))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	e := srv.Engine
	cfg := *e.Config
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"task.*"}, Secret: "s3cret"}}
	e.Config = &cfg
	d := newWebhookDispatcher(e, log.New(io.Discard, "", 0))

	ctx := context.Background()
	d.dispatchAll(ctx) // establishes the cursor
	createTask(t, srv, p, map[string]any{"title": "Ship"})
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %d: %+v", len(received), received)
	}
	if received[0].Type != "task.created" || received[0].ProjectID != p.ID {
		t.Fatalf("unexpected delivery %+v", received[0])
	}
	parts := strings.SplitN(sigs[0], "|", 2)
	if parts[0] == "" || parts[0] != parts[1] {
		t.Fatalf("signature mismatch: %q", sigs[0])
	}
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"task.*", "member.added"})
	for evt, want := range map[string]bool{
		"task.updated":      true,
		"task_type.allowed": false,
		"member.added":      true,
		"member.removed":    false,
	} {
		if got := f.match(evt); got != want {
			t.Fatalf("match(%q) = %v, want %v", evt, got, want)
		}
	}
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match everything")
	}
}
