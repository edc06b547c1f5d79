package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ClareAI/astra-sip-bridge/internal/identity"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	replies  []openai.ChatCompletionMessage
}

func (f *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:      "cmpl-1",
		Object:  "chat.completion",
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{Index: 0, Message: reply, FinishReason: openai.FinishReasonStop}},
	})
}

func newTestRuntime(t *testing.T, model *fakeModel, channels ChannelLookup, tools ...Tool) *OpenAIRuntime {
	t.Helper()
	srv := httptest.NewServer(model)
	t.Cleanup(srv.Close)
	return NewOpenAIRuntime(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "test-model"}, channels, tools...)
}

type staticChannels map[string][]string

func (s staticChannels) UserChannels(name string) []string { return s[name] }

type echoTool struct {
	mu   sync.Mutex
	seen []ToolContext
	args []string
}

func (e *echoTool) Name() string        { return "link_identity" }
func (e *echoTool) Description() string { return "link" }
func (e *echoTool) Parameters() any {
	return map[string]any{"type": "object", "properties": map[string]any{"name": map[string]any{"type": "string"}}}
}
func (e *echoTool) Invoke(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, tc)
	e.args = append(e.args, string(args))
	return map[string]any{"ok": true, "identity": "hue"}, nil
}

func TestOpenAIRuntimeKeepsHistoryPerSession(t *testing.T) {
	model := &fakeModel{replies: []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleAssistant, Content: "first"},
		{Role: openai.ChatMessageRoleAssistant, Content: "second"},
		{Role: openai.ChatMessageRoleAssistant, Content: "other"},
	}}
	rt := newTestRuntime(t, model, nil)

	out, err := rt.Query(context.Background(), Request{AgentID: "morpheus", SessionID: "A", Prompt: "hi", Identity: identity.Resolution{IsFirstCall: true}})
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, err = rt.Query(context.Background(), Request{AgentID: "morpheus", SessionID: "A", Prompt: "again"})
	require.NoError(t, err)
	assert.Equal(t, "second", out)

	_, err = rt.Query(context.Background(), Request{AgentID: "morpheus", SessionID: "B", Prompt: "hello"})
	require.NoError(t, err)

	model.mu.Lock()
	require.Len(t, model.requests, 3)
	// system + user, then system + user + assistant + user, then a fresh session.
	assert.Len(t, model.requests[0].Messages, 2)
	assert.Len(t, model.requests[1].Messages, 4)
	assert.Equal(t, "first", model.requests[1].Messages[2].Content)
	assert.Len(t, model.requests[2].Messages, 2)
	assert.Equal(t, "test-model", model.requests[0].Model)
	model.mu.Unlock()

	assert.Equal(t, 2, rt.Sessions())
	rt.EndSession("A")
	assert.Equal(t, 1, rt.Sessions())
}

func TestOpenAIRuntimeRunsTools(t *testing.T) {
	model := &fakeModel{replies: []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "link_identity", Arguments: `{"name":"hue"}`},
			}},
		},
		{Role: openai.ChatMessageRoleAssistant, Content: "Nice to meet you, Hue."},
	}}
	tool := &echoTool{}
	rt := newTestRuntime(t, model, nil, tool)

	out, err := rt.Query(context.Background(), Request{SessionID: "c1", Prompt: "I'm Hue", PeerID: "+15551234567", Device: "9000"})
	require.NoError(t, err)
	assert.Equal(t, "Nice to meet you, Hue.", out)

	require.Len(t, tool.seen, 1)
	assert.Equal(t, ToolContext{SessionID: "c1", PeerID: "+15551234567", Device: "9000"}, tool.seen[0])
	assert.JSONEq(t, `{"name":"hue"}`, tool.args[0])

	model.mu.Lock()
	defer model.mu.Unlock()
	require.Len(t, model.requests, 2)
	require.Len(t, model.requests[0].Tools, 1)
	assert.Equal(t, "link_identity", model.requests[0].Tools[0].Function.Name)
	last := model.requests[1].Messages[len(model.requests[1].Messages)-1]
	assert.Equal(t, openai.ChatMessageRoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.JSONEq(t, `{"ok":true,"identity":"hue"}`, last.Content)
}

func TestOpenAIRuntimeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	rt := NewOpenAIRuntime(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"}, nil)
	_, err := rt.Query(context.Background(), Request{SessionID: "s", Prompt: "hi"})
	assert.Error(t, err)
	assert.Equal(t, 0, rt.Sessions())
}

func TestSystemPrompt(t *testing.T) {
	first := SystemPrompt(Request{AgentID: "morpheus", Identity: identity.Resolution{IsFirstCall: true}, Device: "9000"}, nil)
	assert.Contains(t, first, `"morpheus"`)
	assert.Contains(t, first, "link_identity")
	assert.Contains(t, first, "extension 9000")
	assert.Contains(t, first, "VOICE_RESPONSE")

	known := SystemPrompt(Request{Identity: identity.Resolution{Identity: "hue"}, DevicePrompt: "You are Cephanie."}, []string{"discord:1"})
	assert.Contains(t, known, "The caller is hue.")
	assert.Contains(t, known, "discord:1")
	assert.Contains(t, known, "You are Cephanie.")
	assert.NotContains(t, known, "link_identity")

	noText := SystemPrompt(Request{Identity: identity.Resolution{Identity: "hue"}}, nil)
	assert.Contains(t, noText, "phone callback")
}

func TestQueryUsesChannelLookupForKnownCallers(t *testing.T) {
	model := &fakeModel{replies: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleAssistant, Content: "ok"}}}
	rt := newTestRuntime(t, model, staticChannels{"hue": {"slack:U1"}})

	_, err := rt.Query(context.Background(), Request{SessionID: "s", Prompt: "hi", Identity: identity.Resolution{Identity: "hue"}})
	require.NoError(t, err)

	model.mu.Lock()
	defer model.mu.Unlock()
	assert.Contains(t, model.requests[0].Messages[0].Content, "slack:U1")
}
