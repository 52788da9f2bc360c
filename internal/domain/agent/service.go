package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aura/aura/internal/domain/consultation"
	"github.com/aura/aura/internal/domain/documents"
	"github.com/aura/aura/internal/platform/db"
	"github.com/aura/aura/internal/platform/events"
	"github.com/aura/aura/internal/platform/llm"
	"github.com/aura/aura/internal/platform/lock"
)

const historySnapshot = 10

type Config struct {
	MaxToolRounds int
	PolicyTimeout time.Duration
	Location      *time.Location
}

// Service processes patient turns and the doctor and admin assistant
// requests. Turns for one consultation are serialised by the locker; turns
// for different consultations run in parallel.
type Service struct {
	consultations consultation.Repository
	tx            db.TxRunner
	history       History
	locker        lock.Locker
	loop          *Loop
	policy        llm.Policy
	scheduler     Scheduler
	publisher     events.Publisher
	timeout       time.Duration
	loc           *time.Location
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(cfg Config, policy llm.Policy, tools ToolDeps, tx db.TxRunner, locker lock.Locker, logger zerolog.Logger) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if tx == nil {
		tx = db.NoTx{}
	}
	if tools.Publisher == nil {
		tools.Publisher = events.NopPublisher{}
	}
	return &Service{
		consultations: tools.Consultations,
		tx:            tx,
		history:       tools.History,
		locker:        locker,
		loop:          NewLoop(policy, NewRegistry(tools), cfg.MaxToolRounds, cfg.PolicyTimeout, logger),
		policy:        policy,
		scheduler:     tools.Scheduler,
		publisher:     tools.Publisher,
		timeout:       cfg.PolicyTimeout,
		loc:           loc,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock replaces the service's notion of now. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type TurnResult struct {
	MessageID      int64                         `json:"message_id"`
	Reply          string                        `json:"reply"`
	RiskAssessment *consultation.RiskAssessment  `json:"risk_assessment"`
	ToolAudit      []consultation.ToolCallRecord `json:"tool_calls"`
}

// ProcessTurn appends the patient's message, runs the agent loop and
// persists the reply. The patient message is committed before any tool runs
// and stays committed whatever happens afterwards. Only persistence
// failures are returned as errors; policy failures become fallback text.
func (s *Service) ProcessTurn(ctx context.Context, consultationID, patientID int64, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	release, err := s.locker.Acquire(ctx, lockKey(consultationID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTurnInProgress, err)
	}
	defer release()

	log := s.logger.With().Int64("consultation_id", consultationID).Int64("patient_id", patientID).Logger()

	cons, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if cons.PatientID != patientID {
		return nil, ErrConsultationNotOwned
	}

	transcript, err := s.consultations.ListMessages(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	if err := s.consultations.AppendMessage(ctx, &consultation.Message{
		ConsultationID: consultationID,
		Role:           consultation.RolePatient,
		Content:        text,
	}); err != nil {
		return nil, fmt.Errorf("persist patient message: %w", err)
	}

	scope := NewScope(consultationID, patientID, s.now(), s.loc)
	history := toPolicyMessages(transcript, scope, log)
	history = append(history, llm.Message{Role: llm.RoleUser, Content: text})

	var docs []*documents.Document
	if s.history != nil {
		docs, _, err = s.history.ListByPatient(ctx, patientID, historySnapshot, 0)
		if err != nil {
			log.Warn().Err(err).Msg("load patient history snapshot")
		}
	}

	out := s.loop.Run(ctx, buildPreamble(scope, docs), history, scope)

	reply, assessment := ExtractAssessment(out.Text)
	if reply == "" {
		reply = TextGeneric
	}

	meta, err := json.Marshal(consultation.MessageMetadata{ToolCalls: out.Audit, RiskAssessment: assessment})
	if err != nil {
		return nil, fmt.Errorf("encode reply metadata: %w", err)
	}
	msg := &consultation.Message{
		ConsultationID: consultationID,
		Role:           consultation.RoleAgent,
		Content:        reply,
		Metadata:       meta,
	}

	// The reply is written even if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	err = s.tx.InTx(persistCtx, func(ctx context.Context) error {
		if err := s.consultations.AppendMessage(ctx, msg); err != nil {
			return err
		}
		if assessment == nil {
			return nil
		}
		if err := s.consultations.SetRiskAssessment(ctx, consultationID, assessment); err != nil {
			return err
		}
		raw, err := json.Marshal(assessment)
		if err != nil {
			return err
		}
		return s.consultations.AppendMessage(ctx, &consultation.Message{
			ConsultationID: consultationID,
			Role:           consultation.RoleRiskAssessment,
			Content:        string(raw),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("persist reply: %w", err)
	}

	log.Info().
		Int("rounds", out.Rounds).
		Int("tool_calls", len(out.Audit)).
		Bool("policy_failed", out.PolicyFailed).
		Bool("risk_assessment", assessment != nil).
		Msg("turn processed")

	return &TurnResult{
		MessageID:      msg.ID,
		Reply:          reply,
		RiskAssessment: assessment,
		ToolAudit:      out.Audit,
	}, nil
}

func lockKey(consultationID int64) string {
	return "consultation:" + strconv.FormatInt(consultationID, 10)
}

// toPolicyMessages turns the stored transcript into policy messages and
// replays earlier tool results into scope so identifiers listed in previous
// turns stay valid.
func toPolicyMessages(transcript []*consultation.Message, scope *Scope, log zerolog.Logger) []llm.Message {
	out := make([]llm.Message, 0, len(transcript))
	for _, m := range transcript {
		switch m.Role {
		case consultation.RolePatient:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case consultation.RoleDoctor:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: "[doctor] " + m.Content})
		case consultation.RoleAgent:
			md, err := m.DecodeMetadata()
			if err != nil {
				log.Warn().Err(err).Int64("message_id", m.ID).Msg("skip unreadable reply metadata")
			}
			for _, call := range md.ToolCalls {
				if succeeded(call.Result) {
					scope.Observe(ToolName(call.Tool), call.Result)
				}
			}
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return out
}

func succeeded(result json.RawMessage) bool {
	var outcome struct {
		Success *bool `json:"success"`
	}
	if json.Unmarshal(result, &outcome) != nil {
		return false
	}
	return outcome.Success == nil || *outcome.Success
}
