package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aura/aura/internal/domain/consultation"
	"github.com/aura/aura/internal/platform/llm"
)

type loopState int

const (
	stateAwaitingPolicy loopState = iota
	stateToolRequested
	stateToolExecuted
	stateTerminal
)

func (s loopState) String() string {
	switch s {
	case stateAwaitingPolicy:
		return "AWAITING_POLICY"
	case stateToolRequested:
		return "TOOL_REQUESTED"
	case stateToolExecuted:
		return "TOOL_EXECUTED"
	case stateTerminal:
		return "TERMINAL"
	}
	return "UNKNOWN"
}

const narrationPrompt = "Explain the results of the actions above to the patient in plain language. Do not call any tools."

// Loop alternates between the policy and the tool registry for one turn.
type Loop struct {
	policy    llm.Policy
	registry  *Registry
	maxRounds int
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewLoop(policy llm.Policy, registry *Registry, maxRounds int, timeout time.Duration, logger zerolog.Logger) *Loop {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Loop{policy: policy, registry: registry, maxRounds: maxRounds, timeout: timeout, logger: logger}
}

type loopResult struct {
	Text         string
	Audit        []consultation.ToolCallRecord
	Rounds       int
	PolicyFailed bool
}

// Run drives the turn to TERMINAL. At most maxRounds tool rounds execute;
// a policy that asks for more gets a fallback reply built from the last
// tool result. The returned text is never empty.
func (l *Loop) Run(ctx context.Context, system string, history []llm.Message, scope *Scope) *loopResult {
	msgs := append([]llm.Message(nil), history...)
	res := &loopResult{Audit: []consultation.ToolCallRecord{}}
	log := l.logger.With().Int64("consultation_id", scope.ConsultationID).Logger()

	var (
		state   = stateAwaitingPolicy
		pending []llm.ToolCall
		last    *executed
	)
	for state != stateTerminal {
		log.Debug().Stringer("state", state).Int("round", res.Rounds).Msg("agent loop")
		switch state {
		case stateAwaitingPolicy:
			resp, err := l.decide(ctx, llm.Request{System: system, Messages: msgs, Tools: l.registry.Specs()})
			if err != nil {
				log.Warn().Err(err).Int("round", res.Rounds).Msg("policy call failed")
				res.PolicyFailed = true
				if last != nil {
					res.Text = fallbackReply(last)
				} else {
					res.Text = TextTechnicalIssue
				}
				state = stateTerminal
				continue
			}

			if len(resp.ToolCalls) > 0 {
				if res.Rounds >= l.maxRounds {
					log.Warn().Int("round", res.Rounds).Msg("tool round limit reached")
					res.Text = fallbackReply(last)
					state = stateTerminal
					continue
				}
				pending = withCallIDs(resp.ToolCalls)
				msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: pending})
				state = stateToolRequested
				continue
			}

			res.Text = strings.TrimSpace(resp.Text)
			if res.Text == "" && last != nil {
				res.Text = l.narrate(ctx, system, msgs, last, log)
			}
			if res.Text == "" {
				res.Text = TextGeneric
			}
			state = stateTerminal

		case stateToolRequested:
			for _, call := range pending {
				ex, record, content := l.execute(ctx, scope, call, log)
				last = ex
				res.Audit = append(res.Audit, record)
				msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: content})
			}
			res.Rounds++
			pending = nil
			state = stateToolExecuted

		case stateToolExecuted:
			state = stateAwaitingPolicy
		}
	}
	return res
}

func (l *Loop) decide(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	resp, err := l.policy.Decide(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, llm.ErrPolicyUnavailable
	}
	return resp, nil
}

// narrate makes the single follow-up call used when the policy ended the
// turn silently after running tools.
func (l *Loop) narrate(ctx context.Context, system string, msgs []llm.Message, last *executed, log zerolog.Logger) string {
	req := llm.Request{
		System:   system,
		Messages: append(append([]llm.Message(nil), msgs...), llm.Message{Role: llm.RoleUser, Content: narrationPrompt}),
	}
	resp, err := l.decide(ctx, req)
	if err == nil && strings.TrimSpace(resp.Text) != "" {
		return strings.TrimSpace(resp.Text)
	}
	log.Warn().Err(err).Msg("narration follow-up produced no text")
	return fallbackReply(last)
}

// execute corrects and runs one call. The content is the JSON handed back
// to the policy as the tool result.
func (l *Loop) execute(ctx context.Context, scope *Scope, call llm.ToolCall, log zerolog.Logger) (*executed, consultation.ToolCallRecord, string) {
	record := consultation.ToolCallRecord{Tool: call.Name, Arguments: rawOrNull(call.Arguments)}
	ex := &executed{tool: ToolName(call.Name)}

	inv, terr := Correct(scope, call.Name, call.Arguments)
	if terr == nil {
		record.CorrectedArguments = inv.Corrected
		result, err := l.registry.Execute(ctx, scope, inv)
		var te *ToolError
		switch {
		case errors.As(err, &te):
			terr = te
		case err != nil:
			log.Error().Err(err).Str("tool", call.Name).Msg("tool execution failed")
			terr = toolErr(CodeToolFailed, "%s could not be completed", call.Name)
		default:
			ex.result = result
		}
	}
	if terr != nil {
		log.Info().Str("tool", call.Name).Str("code", terr.Code).Msg("tool call rejected")
		ex.err = terr
	}

	var payload []byte
	var err error
	if ex.err != nil {
		payload, err = json.Marshal(ex.err)
	} else {
		payload, err = json.Marshal(ex.result)
	}
	if err != nil {
		payload = []byte(`{"success":false,"error":"tool_failed","message":"result could not be encoded"}`)
	}
	record.Result = payload
	if ex.err == nil {
		scope.Observe(ex.tool, payload)
		log.Info().Str("tool", call.Name).Msg("tool executed")
	}
	return ex, record, string(payload)
}

func withCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		out[i] = c
	}
	return out
}

func rawOrNull(b json.RawMessage) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return b
}
