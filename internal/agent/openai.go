package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultModel         = openai.GPT4oMini
	defaultMaxToolRounds = 4
	defaultHistoryLimit  = 40
)

var ErrNoChoices = errors.New("no response from model")

// OpenAIConfig configures OpenAIRuntime.
type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxToolRounds int
	HistoryLimit  int
}

// OpenAIRuntime answers prompts with chat completions. History is kept per
// session in memory and dropped by EndSession.
type OpenAIRuntime struct {
	client        *openai.Client
	model         string
	maxToolRounds int
	historyLimit  int

	tools    map[string]Tool
	toolDefs []openai.Tool
	channels ChannelLookup

	mu        sync.Mutex
	histories map[string][]openai.ChatCompletionMessage
}

var _ Runtime = (*OpenAIRuntime)(nil)

func NewOpenAIRuntime(cfg OpenAIConfig, channels ChannelLookup, tools ...Tool) *OpenAIRuntime {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultMaxToolRounds
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	r := &OpenAIRuntime{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         model,
		maxToolRounds: rounds,
		historyLimit:  limit,
		tools:         make(map[string]Tool, len(tools)),
		channels:      channels,
		histories:     make(map[string][]openai.ChatCompletionMessage),
	}
	for _, t := range tools {
		r.tools[t.Name()] = t
		r.toolDefs = append(r.toolDefs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return r
}

func (r *OpenAIRuntime) Query(ctx context.Context, req Request) (string, error) {
	var channels []string
	if r.channels != nil && !req.Identity.IsFirstCall {
		channels = r.channels.UserChannels(req.Identity.Identity)
	}

	history := r.history(req.SessionID)
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt(req, channels),
	})
	messages = append(messages, history...)
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt}
	messages = append(messages, user)

	tc := ToolContext{SessionID: req.SessionID, PeerID: req.PeerID, Device: req.Device}

	for round := 0; ; round++ {
		chatReq := openai.ChatCompletionRequest{
			Model:    r.model,
			Messages: messages,
		}
		if len(r.toolDefs) > 0 && round < r.maxToolRounds {
			chatReq.Tools = r.toolDefs
		}

		resp, err := r.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return "", fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrNoChoices
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			r.remember(req.SessionID, user, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			})
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    r.invoke(ctx, tc, call),
			})
		}
	}
}

func (r *OpenAIRuntime) invoke(ctx context.Context, tc ToolContext, call openai.ToolCall) string {
	tool, ok := r.tools[call.Function.Name]
	if !ok {
		logger.Base().Warn("model requested unknown tool", zap.String("tool", call.Function.Name))
		return `{"error":"unknown tool"}`
	}

	logger.Base().Info("invoking agent tool", zap.String("tool", tool.Name()), zap.String("session_id", tc.SessionID))

	result, err := tool.Invoke(ctx, tc, json.RawMessage(call.Function.Arguments))
	if err != nil {
		logger.Base().Warn("agent tool failed", zap.String("tool", tool.Name()), zap.Error(err))
		result = map[string]any{"ok": false, "error": err.Error()}
	}

	out, err := json.Marshal(result)
	if err != nil {
		return `{"error":"unencodable tool result"}`
	}
	return string(out)
}

func (r *OpenAIRuntime) history(sessionID string) []openai.ChatCompletionMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]openai.ChatCompletionMessage(nil), r.histories[sessionID]...)
}

func (r *OpenAIRuntime) remember(sessionID string, msgs ...openai.ChatCompletionMessage) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h := append(r.histories[sessionID], msgs...)
	if len(h) > r.historyLimit {
		h = h[len(h)-r.historyLimit:]
	}
	r.histories[sessionID] = h
}

// EndSession drops the session's history.
func (r *OpenAIRuntime) EndSession(sessionID string) {
	r.mu.Lock()
	delete(r.histories, sessionID)
	r.mu.Unlock()
}

// Sessions returns the number of sessions with history.
func (r *OpenAIRuntime) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.histories)
}
