package llmserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aura-dev/aura/internal/observability"
	"github.com/aura-dev/aura/pkg/models"
)

// scriptedProvider plays back a fixed chunk sequence and captures the
// request it was given.
type scriptedProvider struct {
	name   string
	chunks []Chunk

	gotReq *Request
	gotKey string
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Stream(ctx context.Context, req Request) <-chan Chunk {
	r := req
	p.gotReq = &r
	out := make(chan Chunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out
}

func newTestServer(t *testing.T, provider *scriptedProvider) *Server {
	t.Helper()
	return New(Config{
		Addr: ":0",
		Providers: map[string]Factory{
			"test": func(apiKey string) Provider {
				provider.gotKey = apiKey
				return provider
			},
		},
		Logger:  observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard}),
		Metrics: observability.NewMetricsWith(prometheus.NewRegistry()),
	})
}

func invoke(t *testing.T, srv *Server, body string, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Provider-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// decodeRecords parses an NDJSON response body into generic records.
func decodeRecords(t *testing.T, body string) []map[string]any {
	t.Helper()
	var records []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("unparsable record %q: %v", line, err)
		}
		records = append(records, record)
	}
	return records
}

func finalReply(t *testing.T, records []map[string]any) string {
	t.Helper()
	if len(records) == 0 {
		t.Fatal("no records in response")
	}
	last := records[len(records)-1]
	final, ok := last["final_response"].(map[string]any)
	if !ok {
		t.Fatalf("last record is not a final_response: %v", last)
	}
	reply, _ := final["reply"].(string)
	return reply
}

func TestInvokeStreamsChunksAndFinalReply(t *testing.T) {
	provider := &scriptedProvider{name: "test", chunks: []Chunk{
		{Text: "Hello"},
		{Text: ", world"},
	}}
	srv := newTestServer(t, provider)

	rec := invoke(t, srv, `{"provider_name": "test", "model_name": "m1", "messages": [{"role": "user", "content": "hi"}], "temperature": 0.7}`, "sk-key")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	records := decodeRecords(t, rec.Body.String())
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3: %v", len(records), records)
	}
	for i, want := range []string{"Hello", ", world"} {
		if records[i]["type"] != "chunk" || records[i]["content"] != want {
			t.Errorf("record %d = %v, want chunk %q", i, records[i], want)
		}
	}
	if reply := finalReply(t, records); reply != "Hello, world" {
		t.Errorf("final reply = %q", reply)
	}

	if provider.gotKey != "sk-key" {
		t.Errorf("provider key = %q", provider.gotKey)
	}
	if provider.gotReq.Model != "m1" || provider.gotReq.Temperature != 0.7 {
		t.Errorf("provider request = %+v", provider.gotReq)
	}
	if len(provider.gotReq.Messages) != 1 || provider.gotReq.Messages[0].Content != "hi" {
		t.Errorf("provider messages = %+v", provider.gotReq.Messages)
	}
}

func TestInvokeJSONModeEmitsPhases(t *testing.T) {
	provider := &scriptedProvider{name: "test", chunks: []Chunk{
		{Text: `{`},
		{Text: `"draft_blueprint": {"summary": "s"},`},
		{Text: ` "critique": "too big",`},
		{Text: ` "final_blueprint": {"summary": "s2"}`},
		{Text: `}`},
	}}
	srv := newTestServer(t, provider)

	rec := invoke(t, srv, `{"provider_name": "test", "model_name": "m1", "messages": [], "temperature": 0.2, "is_json": true}`, "sk-key")

	records := decodeRecords(t, rec.Body.String())
	var notes []string
	for _, record := range records {
		if record["type"] == "phase" {
			notes = append(notes, record["content"].(string))
		}
		if record["type"] == "chunk" {
			t.Errorf("json mode leaked a chunk record: %v", record)
		}
	}
	want := []string{
		"Drafting initial blueprint...",
		"Critiquing the draft for architectural flaws...",
		"Refining the final blueprint based on the critique...",
	}
	if len(notes) != len(want) {
		t.Fatalf("phase notes = %v, want %v", notes, want)
	}
	for i := range want {
		if notes[i] != want[i] {
			t.Errorf("note %d = %q, want %q", i, notes[i], want[i])
		}
	}

	reply := finalReply(t, records)
	var blueprint map[string]any
	if err := json.Unmarshal([]byte(reply), &blueprint); err != nil {
		t.Fatalf("final reply is not the assembled JSON: %v", err)
	}
	if !provider.gotReq.JSONMode {
		t.Error("provider did not receive JSON mode")
	}
}

func TestInvokeProviderFailureBecomesErrorReply(t *testing.T) {
	provider := &scriptedProvider{name: "test", chunks: []Chunk{
		{Text: "partial"},
		{Err: errors.New("OpenAI API call failed. Status: 401. Details: bad key")},
	}}
	srv := newTestServer(t, provider)

	rec := invoke(t, srv, `{"provider_name": "test", "model_name": "m1", "messages": [], "temperature": 0}`, "sk-key")

	records := decodeRecords(t, rec.Body.String())
	var sawLog bool
	for _, record := range records {
		if record["type"] == "system_log" {
			sawLog = true
			if record["is_error"] != true {
				t.Errorf("system_log not marked as error: %v", record)
			}
			if !strings.Contains(record["content"].(string), "Error during streaming") {
				t.Errorf("system_log content = %v", record["content"])
			}
		}
	}
	if !sawLog {
		t.Error("no system_log record for the failure")
	}

	reply := finalReply(t, records)
	if !strings.HasPrefix(reply, "Error: OpenAI API call failed. Status: 401") {
		t.Errorf("final reply = %q", reply)
	}
}

func TestInvokeRejectsMissingAPIKey(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{name: "test"})

	rec := invoke(t, srv, `{"provider_name": "test", "model_name": "m1", "messages": [], "temperature": 0}`, "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["detail"] != "Provider API key is missing from headers." {
		t.Errorf("detail = %q", body["detail"])
	}
}

func TestInvokeRejectsUnsupportedProvider(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{name: "test"})

	rec := invoke(t, srv, `{"provider_name": "cohere", "model_name": "m1", "messages": [], "temperature": 0}`, "sk-key")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body["detail"], "Provider 'cohere' is not supported") {
		t.Errorf("detail = %q", body["detail"])
	}
	if !strings.Contains(body["detail"], "test") {
		t.Errorf("detail does not list supported providers: %q", body["detail"])
	}
}

func TestInvokeRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{name: "test"})

	rec := invoke(t, srv, `{"provider_name": `, "sk-key")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestInvokeForwardsToolSchemas(t *testing.T) {
	provider := &scriptedProvider{name: "test", chunks: []Chunk{
		{Text: `{"tool_name": "run_shell_command", "arguments": {"command": "ls"}}`},
	}}
	srv := newTestServer(t, provider)

	body := `{
		"provider_name": "test", "model_name": "m1", "temperature": 0,
		"messages": [{"role": "user", "content": "list files"}],
		"tools": [{"name": "run_shell_command", "description": "Runs a command.", "parameters": {"type": "object"}}]
	}`
	rec := invoke(t, srv, body, "sk-key")

	if len(provider.gotReq.Tools) != 1 || provider.gotReq.Tools[0].Name != "run_shell_command" {
		t.Fatalf("provider tools = %+v", provider.gotReq.Tools)
	}

	records := decodeRecords(t, rec.Body.String())
	reply := finalReply(t, records)
	var call struct {
		ToolName  string         `json:"tool_name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(reply), &call); err != nil {
		t.Fatalf("reply is not a tool call: %v", err)
	}
	if call.ToolName != "run_shell_command" || call.Arguments["command"] != "ls" {
		t.Errorf("tool call = %+v", call)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{name: "test"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestPhaseScannerFiresOncePerKeyAtDepthOne(t *testing.T) {
	var s phaseScanner

	if notes := s.feed(`{`); len(notes) != 0 {
		t.Errorf("notes after opening brace: %v", notes)
	}
	notes := s.feed(`"draft_blueprint": {"summary": "s",`)
	if len(notes) != 1 || notes[0] != "Drafting initial blueprint..." {
		t.Fatalf("draft notes = %v", notes)
	}
	// Nothing fires while the stream sits inside the nested draft object.
	if notes := s.feed(`"components": ["src/app.py holds the Flask app"]`); len(notes) != 0 {
		t.Errorf("nested content fired: %v", notes)
	}
	if notes := s.feed(`},`); len(notes) != 0 {
		t.Errorf("closing brace fired: %v", notes)
	}
	notes = s.feed(`"critique": "too big",`)
	if len(notes) != 1 || notes[0] != "Critiquing the draft for architectural flaws..." {
		t.Fatalf("critique notes = %v", notes)
	}
	notes = s.feed(`"final_blueprint": {"summary": "s2"}}`)
	if len(notes) != 1 || notes[0] != "Refining the final blueprint based on the critique..." {
		t.Fatalf("final notes = %v", notes)
	}

	// Keys never fire twice.
	if notes := s.feed(`"draft_blueprint":`); len(notes) != 0 {
		t.Errorf("replayed key fired: %v", notes)
	}
}

func TestRenderToolCall(t *testing.T) {
	tests := []struct {
		name    string
		rawArgs string
		want    string
		wantErr bool
	}{
		{
			name:    "object arguments",
			rawArgs: `{"path": "src/app.py"}`,
			want:    `{"tool_name":"read_file","arguments":{"path":"src/app.py"}}`,
		},
		{
			name:    "empty arguments",
			rawArgs: "",
			want:    `{"tool_name":"read_file","arguments":{}}`,
		},
		{
			name:    "truncated JSON",
			rawArgs: `{"path": "src`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderToolCall("OpenAI", "read_file", tt.rawArgs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), "OpenAI JSON parsing error for tool call") {
					t.Errorf("error = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitSystemPrompt(t *testing.T) {
	system, converted := splitSystemPrompt([]models.ChatMessage{
		{Role: models.ChatRoleSystem, Content: "You are Aura."},
		{Role: models.ChatRoleUser, Content: "hello"},
		{Role: models.ChatRoleAssistant, Content: "hi"},
		{Role: models.ChatRoleUser, Content: ""},
	})

	if system != "You are Aura." {
		t.Errorf("system = %q", system)
	}
	// The empty message is dropped; the API rejects blank content blocks.
	if len(converted) != 2 {
		t.Fatalf("converted %d messages, want 2", len(converted))
	}
}

func TestOpenAIMessagesKeepSystemInline(t *testing.T) {
	msgs := openaiMessages([]models.ChatMessage{
		{Role: models.ChatRoleSystem, Content: "You are Aura."},
		{Role: models.ChatRoleUser, Content: "hello"},
	})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "You are Aura." {
		t.Errorf("system message = %+v", msgs[0])
	}
}

func TestOpenAIToolsTransform(t *testing.T) {
	tools := openaiTools([]ToolSchema{{
		Name:        "write_file",
		Description: "Writes a file.",
		Parameters:  map[string]any{"type": "object"},
	}})
	if len(tools) != 1 {
		t.Fatalf("got %d tools", len(tools))
	}
	if tools[0].Type != "function" {
		t.Errorf("tool type = %q", tools[0].Type)
	}
	if tools[0].Function.Name != "write_file" || tools[0].Function.Description != "Writes a file." {
		t.Errorf("function = %+v", tools[0].Function)
	}
}
