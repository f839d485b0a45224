package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aura-dev/aura/internal/auth"
	"github.com/aura-dev/aura/internal/bus"
	"github.com/aura-dev/aura/internal/config"
	"github.com/aura-dev/aura/internal/gateway"
	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/internal/planner"
	"github.com/aura-dev/aura/internal/store"
	"github.com/aura-dev/aura/internal/workspace"
	"github.com/aura-dev/aura/pkg/models"
)

// scriptedInvoker plays back per-role replies to the planner. Calls beyond
// the script return an error value, which every pipeline stage absorbs.
type scriptedInvoker struct {
	mu      sync.Mutex
	replies map[models.AgentRole][]string
}

func (f *scriptedInvoker) stub(role models.AgentRole, replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replies == nil {
		f.replies = make(map[models.AgentRole][]string)
	}
	f.replies[role] = append(f.replies[role], replies...)
}

func (f *scriptedInvoker) Invoke(ctx context.Context, userCtx *models.UserContext, req gateway.Request) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.replies[req.Role]
	if len(queue) == 0 {
		return fmt.Sprintf("Error: no scripted reply for role '%s'.", req.Role)
	}
	reply := queue[0]
	f.replies[req.Role] = queue[1:]
	return reply
}

// env is a server wired to a real SQLite store, a real workspace and the
// real planning service driven by a scripted invoker. llmURL points the
// gateway at a stub; empty means every gateway call fails fast.
type env struct {
	srv     *Server
	ts      *httptest.Server
	store   store.Store
	cipher  *store.Cipher
	bus     *bus.Bus
	control *bus.MissionControl
	invoker *scriptedInvoker
	dataDir string
}

func newEnv(t *testing.T, llmURL string) *env {
	t.Helper()

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "aura-test"})

	st, err := store.Open(filepath.Join(t.TempDir(), "aura.db"), store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cipher, err := store.NewCipher("unit-test-encryption-secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	cfg := config.Default()
	cfg.Workspace.DataDir = t.TempDir()
	cfg.LLM.DefaultAssignments = map[string]string{
		"coder": "stub/coder-unit",
		"chat":  "stub/chat-unit",
	}

	b := bus.New(logger, metrics)
	control := bus.NewMissionControl()
	invoker := &scriptedInvoker{}

	srv := New(Config{
		Settings:  cfg,
		Store:     st,
		Cipher:    cipher,
		JWT:       auth.NewJWTService("unit-test-jwt-secret", time.Hour),
		Workspace: workspace.NewManager(cfg.Workspace.DataDir, logger),
		Bus:       b,
		Control:   control,
		Gateway:   gateway.New(llmURL, 5*time.Second, b, logger, metrics, tracer),
		Planner:   planner.New(invoker, b, logger),
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.closeVectors)

	return &env{
		srv:     srv,
		ts:      ts,
		store:   st,
		cipher:  cipher,
		bus:     b,
		control: control,
		invoker: invoker,
		dataDir: cfg.Workspace.DataDir,
	}
}

// request performs one API call. A string body is sent verbatim, anything
// else is marshalled to JSON.
func (e *env) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

// detail extracts the error shape every failing endpoint writes.
func detail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, resp, &body)
	return body.Detail
}

func (e *env) registerUser(t *testing.T, email, password string) models.User {
	t.Helper()
	resp := e.request(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": password,
		"name":     "Test User",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d, want 201", resp.StatusCode)
	}
	var user models.User
	decodeBody(t, resp, &user)
	return user
}

func (e *env) login(t *testing.T, email, password string) string {
	t.Helper()
	resp := e.request(t, http.MethodPost, "/auth/token", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token returned %d, want 200", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decodeBody(t, resp, &body)
	if body.TokenType != "bearer" {
		t.Fatalf("token_type = %q, want %q", body.TokenType, "bearer")
	}
	if body.AccessToken == "" {
		t.Fatal("empty access token")
	}
	return body.AccessToken
}

// signup registers one user and returns the record with a valid token.
func (e *env) signup(t *testing.T, email string) (models.User, string) {
	t.Helper()
	user := e.registerUser(t, email, "hunter2!")
	return user, e.login(t, email, "hunter2!")
}

func TestRegisterLoginAndMe(t *testing.T) {
	e := newEnv(t, "")

	user := e.registerUser(t, "ada@example.com", "hunter2!")
	if user.ID == "" {
		t.Fatal("registered user has no id")
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("email = %q, want %q", user.Email, "ada@example.com")
	}

	// Same address, different case: still taken.
	resp := e.request(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "Ada@Example.com",
		"password": "other",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register returned %d, want 400", resp.StatusCode)
	}
	if got := detail(t, resp); got != "Email already registered" {
		t.Fatalf("detail = %q", got)
	}

	resp = e.request(t, http.MethodPost, "/auth/token", "", map[string]string{
		"email":    "ada@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password returned %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate = %q, want %q", got, "Bearer")
	}
	if got := detail(t, resp); got != "Incorrect email or password" {
		t.Fatalf("detail = %q", got)
	}

	token := e.login(t, "ada@example.com", "hunter2!")
	resp = e.request(t, http.MethodGet, "/users/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/users/me returned %d, want 200", resp.StatusCode)
	}
	var me models.User
	decodeBody(t, resp, &me)
	if me.ID != user.ID || me.Email != user.Email || me.Name != "Test User" {
		t.Fatalf("me = %+v, want the registered user", me)
	}
}

func TestRegisterRequiresEmailAndPassword(t *testing.T) {
	e := newEnv(t, "")

	resp := e.request(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "x@example.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if got := detail(t, resp); got != "Email and password are required." {
		t.Fatalf("detail = %q", got)
	}
}

func TestMalformedBodyIsRejected(t *testing.T) {
	e := newEnv(t, "")

	resp := e.request(t, http.MethodPost, "/auth/register", "", "{not json")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if got := detail(t, resp); !strings.HasPrefix(got, "Invalid request body:") {
		t.Fatalf("detail = %q", got)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	e := newEnv(t, "")

	resp := e.request(t, http.MethodGet, "/users/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := detail(t, resp); got != "Not authenticated" {
		t.Fatalf("detail = %q", got)
	}

	resp = e.request(t, http.MethodGet, "/users/me", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := detail(t, resp); got != "Could not validate credentials" {
		t.Fatalf("detail = %q", got)
	}
}

func TestTokenAcceptedAsQueryParameter(t *testing.T) {
	e := newEnv(t, "")
	user, token := e.signup(t, "ws@example.com")

	resp := e.request(t, http.MethodGet, "/users/me?token="+token, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var me models.User
	decodeBody(t, resp, &me)
	if me.ID != user.ID {
		t.Fatalf("me.ID = %q, want %q", me.ID, user.ID)
	}
}

func TestUpdateKeyStoresEncryptedCredential(t *testing.T) {
	e := newEnv(t, "")
	user, token := e.signup(t, "keys@example.com")

	resp := e.request(t, http.MethodPut, "/keys", token, map[string]string{
		"provider": " OpenAI ",
		"api_key":  " sk-unit-1 ",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Message string `json:"message"`
	}
	decodeBody(t, resp, &body)
	if body.Message != "API key updated successfully" {
		t.Fatalf("message = %q", body.Message)
	}

	// Provider was normalized and the key encrypted at rest.
	encrypted, err := e.store.Credential(context.Background(), user.ID, "openai")
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}
	if encrypted == "sk-unit-1" {
		t.Fatal("credential stored in plaintext")
	}
	plain, err := e.cipher.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt credential: %v", err)
	}
	if plain != "sk-unit-1" {
		t.Fatalf("decrypted key = %q, want %q", plain, "sk-unit-1")
	}

	resp = e.request(t, http.MethodPut, "/keys", token, map[string]string{"provider": "openai"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing api_key returned %d, want 400", resp.StatusCode)
	}
	if got := detail(t, resp); got != "Provider and api_key are required." {
		t.Fatalf("detail = %q", got)
	}
}

func TestModelAssignmentsRoundTrip(t *testing.T) {
	e := newEnv(t, "")
	_, token := e.signup(t, "models@example.com")

	resp := e.request(t, http.MethodGet, "/models/assignments", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var listing struct {
		Assignments []models.RoleAssignment `json:"assignments"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Assignments) != 0 {
		t.Fatalf("fresh user has %d assignments, want 0", len(listing.Assignments))
	}

	resp = e.request(t, http.MethodPut, "/models/assignments", token, map[string]any{
		"assignments":  map[string]string{"coder": "openai/gpt-4.1"},
		"temperatures": map[string]float64{"coder": 0.2},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put returned %d, want 200", resp.StatusCode)
	}

	resp = e.request(t, http.MethodGet, "/models/assignments", token, nil)
	decodeBody(t, resp, &listing)
	if len(listing.Assignments) != 1 {
		t.Fatalf("got %d assignments, want 1", len(listing.Assignments))
	}
	a := listing.Assignments[0]
	if a.Role != models.RoleCoder || a.Provider != "openai" || a.Model != "gpt-4.1" || a.Temperature != 0.2 {
		t.Fatalf("assignment = %+v", a)
	}

	resp = e.request(t, http.MethodPut, "/models/assignments", token, map[string]any{
		"assignments": map[string]string{"coder": "gpt4"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid identifier returned %d, want 400", resp.StatusCode)
	}
	want := `Invalid model identifier "gpt4" for role "coder"; expected "provider/model".`
	if got := detail(t, resp); got != want {
		t.Fatalf("detail = %q, want %q", got, want)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, "")

	resp := e.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "ok" {
		t.Fatalf("status = %q, want %q", body.Status, "ok")
	}
}

func TestConfigSchemaServed(t *testing.T) {
	e := newEnv(t, "")
	_, token := e.signup(t, "schema@example.com")

	resp := e.request(t, http.MethodGet, "/config/schema", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var schema map[string]any
	decodeBody(t, resp, &schema)
	defs, ok := schema["$defs"].(map[string]any)
	if !ok {
		t.Fatal("schema has no $defs")
	}
	cfg, ok := defs["Config"].(map[string]any)
	if !ok {
		t.Fatal("schema has no Config definition")
	}
	if _, ok := cfg["properties"]; !ok {
		t.Fatal("Config definition has no properties")
	}
}

func TestWebSocketDeliversEvents(t *testing.T) {
	e := newEnv(t, "")
	user, token := e.signup(t, "socket@example.com")

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws?token=" + token
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for e.bus.ConnectedClients(user.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered on the bus")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.bus.BroadcastToUser(user.ID, models.SystemLog("mission underway", false))

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Type != models.EventSystemLog || event.Content != "mission underway" {
		t.Fatalf("event = %+v", event)
	}
}
