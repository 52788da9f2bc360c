package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// OpenAIConfig configures a chat-completions compatible endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// OpenAIPolicy calls POST {BaseURL}/chat/completions. It never retries: a
// failed call surfaces as ErrPolicyUnavailable and the next user message is
// the retry.
type OpenAIPolicy struct {
	client *resty.Client
	model  string
	temp   float64
	logger zerolog.Logger
}

func NewOpenAIPolicy(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIPolicy {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &OpenAIPolicy{client: client, model: cfg.Model, temp: cfg.Temperature, logger: logger}
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Arguments   *string         `json:"arguments,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func strPtr(s string) *string { return &s }

func encodeRequest(model string, temp float64, req Request) chatRequest {
	out := chatRequest{Model: model, Temperature: temp}
	out.Messages = append(out.Messages, chatMessage{Role: "system", Content: strPtr(req.System)})
	for _, m := range req.Messages {
		cm := chatMessage{Role: string(m.Role), Content: strPtr(m.Content), ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: chatFunction{Name: tc.Name, Arguments: strPtr(string(tc.Arguments))},
			})
		}
		if len(cm.ToolCalls) > 0 && m.Content == "" {
			cm.Content = nil
		}
		out.Messages = append(out.Messages, cm)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}
	return out
}

func decodeResponse(body chatResponse) (*Response, error) {
	if len(body.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrPolicyUnavailable)
	}
	msg := body.Choices[0].Message
	resp := &Response{}
	if msg.Content != nil {
		resp.Text = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage("{}")
		if tc.Function.Arguments != nil && strings.TrimSpace(*tc.Function.Arguments) != "" {
			args = json.RawMessage(*tc.Function.Arguments)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return resp, nil
}

func (p *OpenAIPolicy) Decide(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	var body chatResponse
	res, err := p.client.R().
		SetContext(ctx).
		SetBody(encodeRequest(p.model, p.temp, req)).
		SetResult(&body).
		SetError(&body).
		Post("/chat/completions")
	if err != nil {
		p.logger.Error().Err(err).Dur("latency", time.Since(start)).Msg("policy call failed")
		return nil, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	if res.IsError() {
		msg := res.Status()
		if body.Error != nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
		p.logger.Error().Int("status_code", res.StatusCode()).Str("error", msg).Msg("policy returned error")
		return nil, fmt.Errorf("%w: %s", ErrPolicyUnavailable, msg)
	}

	out, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().
		Dur("latency", time.Since(start)).
		Int("tool_calls", len(out.ToolCalls)).
		Msg("policy decided")
	return out, nil
}
