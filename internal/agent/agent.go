// Package agent implements the core request loop: model selection,
// tool execution, and response assembly.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autoyou/autoyou-agent/internal/buildinfo"
	"github.com/autoyou/autoyou-agent/internal/llm"
	"github.com/autoyou/autoyou-agent/internal/prompts"
	"github.com/autoyou/autoyou-agent/internal/router"
	"github.com/autoyou/autoyou-agent/internal/session"
	"github.com/autoyou/autoyou-agent/internal/tools"
)

const (
	// Name is reported in every response envelope.
	Name = "AutoYou"

	// DefaultUserID is used when a request has no user identity.
	DefaultUserID = "AutoYou-client"

	// maxIterations bounds the tool loop. A model that keeps calling
	// tools past this gets cut off with a fallback response.
	maxIterations = 8

	// historyLimit caps the per-session conversation history kept in
	// memory. Oldest messages are dropped first.
	historyLimit = 40

	// maxContextMessages caps how many client-supplied prior messages
	// are folded into the conversation.
	maxContextMessages = 20
)

// Request is one inbound chat message. Context carries prior
// conversation turns the client wants replayed, oldest first.
type Request struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Context   []llm.Message  `json:"context,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Response is the agent's reply envelope.
type Response struct {
	Response  string         `json:"response"`
	SessionID string         `json:"session_id"`
	MessageID string         `json:"message_id"`
	Timestamp time.Time      `json:"timestamp"`
	AgentName string         `json:"agent_name"`
	Metadata  map[string]any `json:"metadata"`
}

// Agent routes each request to a model backend, runs the tool loop,
// and tracks per-session conversation history.
type Agent struct {
	logger   *slog.Logger
	registry *tools.Registry
	selector *router.Selector
	local    llm.Client
	cloud    llm.Client
	sessions *session.Store

	mu      sync.Mutex
	history map[string][]llm.Message
}

// New creates an agent. local or cloud may be nil when that backend
// is not configured; the selector decides which one each request uses.
func New(logger *slog.Logger, registry *tools.Registry, selector *router.Selector, local, cloud llm.Client, sessions *session.Store) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		logger:   logger.With("component", "agent"),
		registry: registry,
		selector: selector,
		local:    local,
		cloud:    cloud,
		sessions: sessions,
		history:  make(map[string][]llm.Message),
	}
}

// Process handles one request and returns the complete response.
func (a *Agent) Process(ctx context.Context, req *Request) (*Response, error) {
	return a.process(ctx, req, nil)
}

// ProcessStream handles one request, forwarding tokens and tool
// events to callback as they happen. The returned response carries
// the same final content the callback saw.
func (a *Agent) ProcessStream(ctx context.Context, req *Request, callback llm.StreamCallback) (*Response, error) {
	return a.process(ctx, req, callback)
}

func (a *Agent) process(ctx context.Context, req *Request, callback llm.StreamCallback) (*Response, error) {
	start := time.Now()

	userID := req.UserID
	if userID == "" {
		userID = DefaultUserID
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}

	if _, err := a.sessions.GetOrCreate(ctx, userID, sessionID); err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	choice := a.selector.Select(ctx)
	client, err := a.clientFor(choice.Backend)
	if err != nil {
		return nil, err
	}

	a.logger.Info("processing request",
		"user", userID,
		"session", sessionID,
		"backend", choice.Backend,
		"model", choice.Model,
		"reason", choice.Reason,
	)

	messages := a.buildMessages(userID, sessionID, req)

	content, toolCalls, err := a.runLoop(ctx, client, choice.Model, messages, callback)
	if err != nil {
		return nil, err
	}

	a.appendHistory(userID, sessionID,
		llm.Message{Role: "user", Content: req.Message},
		llm.Message{Role: "assistant", Content: content},
	)

	count, err := a.sessions.RecordExchange(ctx, userID, sessionID)
	if err != nil {
		a.logger.Warn("failed to record exchange", "error", err)
	}

	metadata := map[string]any{
		"session_message_count": count,
		"processing_time_ms":    time.Since(start).Milliseconds(),
		"agent_version":         buildinfo.Version,
		"backend":               string(choice.Backend),
		"model":                 choice.Model,
		"selection_reason":      string(choice.Reason),
		"tool_calls":            toolCalls,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	return &Response{
		Response:  content,
		SessionID: sessionID,
		MessageID: newMessageID(),
		Timestamp: time.Now().UTC(),
		AgentName: Name,
		Metadata:  metadata,
	}, nil
}

func (a *Agent) clientFor(backend router.Backend) (llm.Client, error) {
	switch backend {
	case router.BackendLocal:
		if a.local == nil {
			return nil, &llm.ConfigurationError{Backend: "ollama", Reason: "no local client configured"}
		}
		return a.local, nil
	default:
		if a.cloud == nil {
			return nil, &llm.ConfigurationError{Backend: "gemini", Reason: "no cloud client configured"}
		}
		return a.cloud, nil
	}
}

// buildMessages assembles system prompt, client-supplied context,
// session history, and the current user message.
func (a *Agent) buildMessages(userID, sessionID string, req *Request) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: prompts.System(time.Now())}}

	prior := req.Context
	if len(prior) > maxContextMessages {
		prior = prior[len(prior)-maxContextMessages:]
	}
	for _, m := range prior {
		if m.Content == "" {
			continue
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}

	a.mu.Lock()
	messages = append(messages, a.history[historyKey(userID, sessionID)]...)
	a.mu.Unlock()

	return append(messages, llm.Message{Role: "user", Content: req.Message})
}

// runLoop drives the chat/tool-execution cycle until the model
// produces a plain text answer or the iteration cap is hit.
func (a *Agent) runLoop(ctx context.Context, client llm.Client, model string, messages []llm.Message, callback llm.StreamCallback) (string, int, error) {
	toolDefs := a.registry.List()
	toolCalls := 0
	nudged := false

	for iter := 0; iter < maxIterations; iter++ {
		var resp *llm.ChatResponse
		var err error
		if callback != nil {
			resp, err = client.ChatStream(ctx, model, messages, toolDefs, callback)
		} else {
			resp, err = client.Chat(ctx, model, messages, toolDefs)
		}
		if err != nil {
			return "", toolCalls, fmt.Errorf("model call: %w", err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			if resp.Message.Content != "" {
				return resp.Message.Content, toolCalls, nil
			}
			if nudged {
				a.logger.Warn("empty response after nudge", "model", model)
				return prompts.EmptyResponseFallback, toolCalls, nil
			}
			nudged = true
			messages = append(messages, llm.Message{Role: "user", Content: prompts.EmptyResponseNudge})
			continue
		}

		messages = append(messages, resp.Message)

		for _, tc := range resp.Message.ToolCalls {
			toolCalls++
			if callback != nil {
				call := tc
				callback(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &call})
			}

			result, execErr := a.registry.ExecuteArgs(ctx, tc.Function.Name, tc.Function.Arguments)
			if execErr != nil {
				// Fold the failure into the tool result so the model
				// can explain or recover instead of the loop dying.
				result = "Error: " + execErr.Error()
				a.logger.Warn("tool execution failed", "tool", tc.Function.Name, "error", execErr)
			} else {
				a.logger.Debug("tool executed", "tool", tc.Function.Name)
			}

			if callback != nil {
				event := llm.StreamEvent{Kind: llm.KindToolCallDone, ToolName: tc.Function.Name, ToolResult: result}
				if execErr != nil {
					event.ToolError = execErr.Error()
				}
				callback(event)
			}

			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
			})
		}
	}

	a.logger.Warn("tool loop hit iteration cap", "model", model, "tool_calls", toolCalls)
	return prompts.EmptyResponseFallback, toolCalls, nil
}

func (a *Agent) appendHistory(userID, sessionID string, msgs ...llm.Message) {
	key := historyKey(userID, sessionID)

	a.mu.Lock()
	defer a.mu.Unlock()

	h := append(a.history[key], msgs...)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	a.history[key] = h
}

// History returns a copy of the in-memory conversation history for a
// session.
func (a *Agent) History(userID, sessionID string) []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.history[historyKey(userID, sessionID)]
	out := make([]llm.Message, len(h))
	copy(out, h)
	return out
}

func historyKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
