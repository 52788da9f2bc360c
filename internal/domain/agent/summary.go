package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aura/aura/internal/domain/consultation"
	"github.com/aura/aura/internal/domain/documents"
	"github.com/aura/aura/internal/domain/scheduling"
	"github.com/aura/aura/internal/platform/auth"
	"github.com/aura/aura/internal/platform/events"
	"github.com/aura/aura/internal/platform/llm"
)

const (
	summaryDocuments = 50
	followUpHorizon  = 7
)

const (
	summarySystem = "You are a medical assistant helping doctors review consultations. Generate a comprehensive summary in JSON format."
	summaryAsk    = "Generate a structured summary in JSON format with fields overallAssessment, patientKeyPoints (list), aiSuggestions (list), relevantHealthMetrics (list of objects with metric and reason fields)."
	adminSystem   = "You are AURA Admin Agent. Answer questions about hospital operations, patient loads, surge predictions, and resource management."
)

const TextCommandHelp = "Unknown command. Available: @aura summarize, @aura schedule follow-up, @aura fetch latest reports"

// Summary is the structured consultation review written to ai_summary.
type Summary struct {
	OverallAssessment     string         `json:"overallAssessment"`
	PatientKeyPoints      []string       `json:"patientKeyPoints"`
	AISuggestions         []string       `json:"aiSuggestions"`
	RelevantHealthMetrics []HealthMetric `json:"relevantHealthMetrics"`
}

type HealthMetric struct {
	Metric string `json:"metric"`
	Reason string `json:"reason"`
}

// Summarize asks the policy for a review of the transcript and the patient's
// documents and stores it on the consultation. It holds the consultation's
// turn lock so the write cannot race a patient turn.
func (s *Service) Summarize(ctx context.Context, consultationID int64, viewer auth.Principal) (*Summary, error) {
	release, err := s.locker.Acquire(ctx, lockKey(consultationID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTurnInProgress, err)
	}
	defer release()

	cons, err := s.loadFor(ctx, consultationID, viewer)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Int64("consultation_id", consultationID).Int64("user_id", viewer.UserID).Logger()

	msgs, err := s.consultations.ListMessages(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	var docs []*documents.Document
	if s.history != nil {
		docs, _, err = s.history.ListByPatient(ctx, cons.PatientID, summaryDocuments, 0)
		if err != nil {
			return nil, fmt.Errorf("load documents: %w", err)
		}
	}

	text, err := s.ask(ctx, summarySystem, summaryPrompt(msgs, docs))
	if err != nil {
		log.Error().Err(err).Msg("summary policy call failed")
		return nil, fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}
	sum, err := parseSummary(text)
	if err != nil {
		log.Warn().Err(err).Msg("summary reply unusable")
		return nil, fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}

	raw, err := json.Marshal(sum)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	stored := string(raw)
	cons.AISummary = &stored
	if err := s.consultations.Update(context.WithoutCancel(ctx), cons); err != nil {
		return nil, fmt.Errorf("persist summary: %w", err)
	}

	log.Info().Int("messages", len(msgs)).Int("documents", len(docs)).Msg("consultation summarised")
	events.PublishBestEffort(ctx, s.publisher, s.logger,
		events.New(events.TypeConsultationSummary, consultationID, map[string]interface{}{
			"consultation_id": consultationID,
			"patient_id":      cons.PatientID,
			"requested_by":    viewer.UserID,
		}))
	return sum, nil
}

func (s *Service) loadFor(ctx context.Context, consultationID int64, viewer auth.Principal) (*consultation.Consultation, error) {
	cons, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if !consultation.CanAccess(viewer, cons) {
		return nil, ErrConsultationNotOwned
	}
	return cons, nil
}

// ask makes a single tool-free policy call and returns its text.
func (s *Service) ask(ctx context.Context, system, prompt string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	resp, err := s.policy.Decide(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("%w: empty reply", llm.ErrPolicyUnavailable)
	}
	return resp.Text, nil
}

func summaryPrompt(msgs []*consultation.Message, docs []*documents.Document) string {
	var b strings.Builder
	b.WriteString("Conversation:\n")
	for _, m := range msgs {
		if m.Role == consultation.RoleRiskAssessment {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nPatient Documents:\n")
	for _, d := range docs {
		summary := ""
		if d.Summary != nil {
			summary = *d.Summary
		}
		fmt.Fprintf(&b, "%s: %s\n", d.Name, summary)
	}
	b.WriteString("\n")
	b.WriteString(summaryAsk)
	return b.String()
}

// parseSummary reads the first JSON object in text. Models sometimes wrap
// it in a code fence.
func parseSummary(text string) (*Summary, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, errors.New("reply has no JSON object")
	}
	var sum Summary
	if err := json.Unmarshal([]byte(text[start:end+1]), &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	sum.OverallAssessment = strings.TrimSpace(sum.OverallAssessment)
	if sum.OverallAssessment == "" {
		return nil, errors.New("summary has no overallAssessment")
	}
	if sum.PatientKeyPoints == nil {
		sum.PatientKeyPoints = []string{}
	}
	if sum.AISuggestions == nil {
		sum.AISuggestions = []string{}
	}
	if sum.RelevantHealthMetrics == nil {
		sum.RelevantHealthMetrics = []HealthMetric{}
	}
	return &sum, nil
}

const (
	CommandSummarize = "summarize"
	CommandFollowUp  = "follow_up"
	CommandReports   = "fetch_reports"
	CommandUnknown   = "unknown"
)

// CommandResult answers an "@aura" command posted by a doctor.
type CommandResult struct {
	Command   string                `json:"command"`
	Message   string                `json:"message"`
	Summary   *Summary              `json:"summary,omitempty"`
	Documents []*documents.Document `json:"documents,omitempty"`
	Date      string                `json:"date,omitempty"`
	Slots     []scheduling.Slot     `json:"available_slots,omitempty"`
}

// ParseCommand maps free command text onto one of the supported commands.
func ParseCommand(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "summar"):
		return CommandSummarize
	case strings.Contains(t, "schedule"), strings.Contains(t, "follow-up"), strings.Contains(t, "follow up"):
		return CommandFollowUp
	case strings.Contains(t, "fetch"), strings.Contains(t, "report"):
		return CommandReports
	}
	return CommandUnknown
}

func (s *Service) DoctorCommand(ctx context.Context, consultationID int64, viewer auth.Principal, text string) (*CommandResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	cmd := ParseCommand(text)
	switch cmd {
	case CommandSummarize:
		sum, err := s.Summarize(ctx, consultationID, viewer)
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: cmd, Message: sum.OverallAssessment, Summary: sum}, nil
	case CommandUnknown:
		return &CommandResult{Command: cmd, Message: TextCommandHelp}, nil
	}

	cons, err := s.loadFor(ctx, consultationID, viewer)
	if err != nil {
		return nil, err
	}
	if cmd == CommandReports {
		return s.latestReports(ctx, cons)
	}
	doctorID := viewer.UserID
	if viewer.Role != auth.RoleDoctor {
		if cons.DoctorID == nil {
			return &CommandResult{Command: cmd, Message: "No doctor is assigned to this consultation yet."}, nil
		}
		doctorID = *cons.DoctorID
	}
	return s.followUp(ctx, doctorID)
}

func (s *Service) latestReports(ctx context.Context, cons *consultation.Consultation) (*CommandResult, error) {
	res := &CommandResult{Command: CommandReports, Documents: []*documents.Document{}}
	if s.history != nil {
		docs, _, err := s.history.ListByPatient(ctx, cons.PatientID, historySnapshot, 0)
		if err != nil {
			return nil, fmt.Errorf("load documents: %w", err)
		}
		if docs != nil {
			res.Documents = docs
		}
	}
	if len(res.Documents) == 0 {
		res.Message = "The patient has no documents on file."
	} else {
		res.Message = fmt.Sprintf("Found %d document(s) for the patient.", len(res.Documents))
	}
	return res, nil
}

// followUp finds the first day after today, within a week, on which the
// doctor has open slots.
func (s *Service) followUp(ctx context.Context, doctorID int64) (*CommandResult, error) {
	res := &CommandResult{Command: CommandFollowUp}
	if s.scheduler == nil {
		res.Message = "Scheduling is not available."
		return res, nil
	}
	today := startOfDay(s.now().In(s.loc))
	for i := 1; i <= followUpHorizon; i++ {
		day := today.AddDate(0, 0, i)
		slots, _, err := s.scheduler.EnumerateSlots(ctx, doctorID, day)
		if err != nil {
			return nil, fmt.Errorf("find follow-up slots: %w", err)
		}
		if len(slots) == 0 {
			continue
		}
		res.Date = formatDay(day)
		res.Slots = slots
		res.Message = fmt.Sprintf("%d open slot(s) for a follow-up on %s.", len(slots), describeDay(day))
		return res, nil
	}
	res.Message = fmt.Sprintf("No open follow-up slots in the next %d days.", followUpHorizon)
	return res, nil
}

type AdminAnswer struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// AdminQuery answers a free-form operations question.
func (s *Service) AdminQuery(ctx context.Context, query string, hospitalID *int64) (*AdminAnswer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyMessage
	}
	system := adminSystem
	if hospitalID != nil {
		system += fmt.Sprintf(" The admin works at hospital %d.", *hospitalID)
	}
	start := time.Now()
	answer, err := s.ask(ctx, system, query)
	if err != nil {
		s.logger.Error().Err(err).Msg("admin query failed")
		return nil, fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}
	s.logger.Info().Dur("latency", time.Since(start)).Int("query_len", len(query)).Msg("admin query answered")
	return &AdminAnswer{Query: query, Answer: strings.TrimSpace(answer)}, nil
}
