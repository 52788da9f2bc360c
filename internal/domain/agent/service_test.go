package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura/aura/internal/domain/consultation"
	"github.com/aura/aura/internal/domain/scheduling"
	"github.com/aura/aura/internal/platform/llm"
)

const assessmentReply = `A doctor has been asked to join right away. Please stay seated and keep your phone nearby.

---RISK_ASSESSMENT---
RISK_LEVEL: red
PHYSICAL_EXAM: yes
DEPARTMENT: Cardiology
DOCTOR_LEVEL: senior
REASONING: Acute chest pain needs urgent cardiac evaluation.
---END_ASSESSMENT---`

func TestProcessTurn_ChestPainEscalates(t *testing.T) {
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){
		callTool("escalate_to_human", `{"consultation_id": 999}`),
		reply(assessmentReply),
	}}
	env := newTestEnv(t, policy, 5)
	c := env.consultationFor(t, 5, 7)
	require.Equal(t, int64(7), c.ID)

	res, err := env.svc.ProcessTurn(context.Background(), 7, 5, "I have chest pain")
	require.NoError(t, err)

	require.Len(t, res.ToolAudit, 1)
	var corrected EscalateArgs
	require.NoError(t, json.Unmarshal(res.ToolAudit[0].CorrectedArguments, &corrected))
	assert.Equal(t, ID(7), corrected.ConsultationID)
	assert.JSONEq(t, `{"consultation_id": 999}`, string(res.ToolAudit[0].Arguments))

	stored, err := env.cons.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusInProgress, stored.Status)
	require.NotNil(t, stored.DoctorID)
	assert.Equal(t, int64(3), *stored.DoctorID)

	assert.NotContains(t, res.Reply, "RISK_ASSESSMENT")
	assert.True(t, strings.HasPrefix(res.Reply, "A doctor has been asked"))
	require.NotNil(t, res.RiskAssessment)
	assert.Equal(t, "red", *res.RiskAssessment.RiskLevel)
	require.NotNil(t, stored.RiskAssessment)
	assert.Equal(t, "Cardiology", *stored.RiskAssessment.Department)

	msgs, _ := env.cons.ListMessages(context.Background(), 7)
	require.Len(t, msgs, 3)
	assert.Equal(t, consultation.RolePatient, msgs[0].Role)
	assert.Equal(t, consultation.RoleAgent, msgs[1].Role)
	assert.Equal(t, consultation.RoleRiskAssessment, msgs[2].Role)

	md, err := msgs[1].DecodeMetadata()
	require.NoError(t, err)
	require.Len(t, md.ToolCalls, 1)
	assert.Equal(t, "escalate_to_human", md.ToolCalls[0].Tool)
	require.NotNil(t, md.RiskAssessment)
}

func TestProcessTurn_EscalateWithoutHospitalDoctor(t *testing.T) {
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){
		callTool("escalate_to_human", `{}`),
		reply("Your case has been escalated."),
	}}
	env := newTestEnv(t, policy, 5)
	c := env.consultationFor(t, 6, 1)

	_, err := env.svc.ProcessTurn(context.Background(), c.ID, 6, "I can't breathe properly")
	require.NoError(t, err)

	stored, _ := env.cons.Get(context.Background(), c.ID)
	assert.Equal(t, consultation.StatusEscalated, stored.Status)
	assert.Nil(t, stored.DoctorID)
}

func TestProcessTurn_EscalateKeepsAssignedDoctor(t *testing.T) {
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){
		callTool("escalate_to_human", `{"consultation_id": 1}`),
	}}
	env := newTestEnv(t, policy, 5)
	c := &consultation.Consultation{PatientID: 5, DoctorID: int64p(4), Status: consultation.StatusInProgress}
	require.NoError(t, env.cons.Create(context.Background(), c))

	res, err := env.svc.ProcessTurn(context.Background(), c.ID, 5, "please get me a doctor")
	require.NoError(t, err)

	result := decodeResult(t, res.ToolAudit[0])
	assert.Equal(t, true, result["already_assigned"])
	stored, _ := env.cons.Get(context.Background(), c.ID)
	assert.Equal(t, int64(4), *stored.DoctorID)
}

func TestProcessTurn_FabricatedDoctorNeverReachesEngine(t *testing.T) {
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){
		callTool("book_appointment", `{"doctor_id": 42, "start_time": "2025-11-30T10:00:00", "mode": "online"}`),
		callTool("list_doctors", `{}`),
		callTool("book_appointment", `{"doctor_id": "42", "start_time": "2025-11-30T10:00:00", "mode": "online"}`),
		reply("Let me check which doctors are available first."),
	}}
	env := newTestEnv(t, policy, 5)
	c := env.consultationFor(t, 5, 1)

	res, err := env.svc.ProcessTurn(context.Background(), c.ID, 5, "book me with doctor 42 tomorrow at 10")
	require.NoError(t, err)
	require.Len(t, res.ToolAudit, 3)

	first := decodeResult(t, res.ToolAudit[0])
	assert.Equal(t, CodeInvalidIdentifier, first["error"])
	assert.Contains(t, first["message"], "valid set is {}")

	third := decodeResult(t, res.ToolAudit[2])
	assert.Equal(t, CodeInvalidIdentifier, third["error"])
	assert.Contains(t, third["message"], "valid set is {3, 4}")

	_, total, _ := env.appts.List(context.Background(), scheduling.Filter{}, 10, 0)
	assert.Zero(t, total)
}

func TestProcessTurn_BookingFlowWithNarration(t *testing.T) {
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){
		callTool("list_doctors", `{}`),
		callTool("check_availability", `{"doctor_id": 3, "date": "30 Nov"}`),
		callTool("book_appointment", `{"doctor_id": 3, "start_time": "2025-11-30T09:30:00", "mode": "in-person"}`),
		reply(""),
		reply("You're booked with Dr. Asha Rao on 30 Nov at 09:30 AM."),
	}}
	env := newTestEnv(t, policy, 5)
	c := env.consultationFor(t, 5, 1)

	res, err := env.svc.ProcessTurn(context.Background(), c.ID, 5, "I'd like to see a cardiologist on 30 Nov")
	require.NoError(t, err)
	assert.Equal(t, "You're booked with Dr. Asha Rao on 30 Nov at 09:30 AM.", res.Reply)

	require.Len(t, res.ToolAudit, 3)
	avail := decodeResult(t, res.ToolAudit[1])
	assert.Equal(t, "2025-11-30", avail["date"])
	booking := decodeResult(t, res.ToolAudit[2])
	assert.Equal(t, true, booking["success"])
	assert.Equal(t, "inperson", booking["mode"])
	assert.Equal(t, "Dr. Asha Rao", booking["doctor_name"])

	appts, _ := env.appts.ListStartingBetween(context.Background(), scheduling.Filter{DoctorID: int64p(3)},
		time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC), time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, appts, 1)
	assert.Equal(t, c.ID, *appts[0].ConsultationID)
	assert.Equal(t, int64(5), appts[0].PatientID)

	stored, _ := env.cons.Get(context.Background(), c.ID)
	assert.Equal(t, int64(3), *stored.DoctorID)
	assert.Equal(t, consultation.StatusInProgress, stored.Status)

	narration := policy.requests[4]
	assert.Empty(t, narration.Tools)
	assert.Equal(t, narrationPrompt, narration.Messages[len(narration.Messages)-1].Content)
}

func TestProcessTurn_BookWithoutAvailabilityCheck(t *testing.T) {
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){
		callTool("list_doctors", `{}`),
		callTool("book_appointment", `{"doctor_id": 3, "start_time": "2025-11-30T10:00:00", "mode": "online"}`),
		reply("Let me check availability first."),
	}}
	env := newTestEnv(t, policy, 5)
	c := env.consultationFor(t, 5, 1)

	res, err := env.svc.ProcessTurn(context.Background(), c.ID, 5, "book Dr Rao 30 Nov 10am")
	require.NoError(t, err)
	result := decodeResult(t, res.ToolAudit[1])
	assert.Equal(t, CodePrecondition, result["error"])

	_, total, _ := env.appts.List(context.Background(), scheduling.Filter{}, 10, 0)
	assert.Zero(t, total)
}

func TestProcessTurn_IdentifiersCarryAcrossTurns(t *testing.T) {
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){
		callTool("list_doctors", `{}`),
		reply("We have Dr. Asha Rao and Dr. Vikram Shah."),
		callTool("check_availability", `{"doctor_id": 4, "date": "2025-11-30"}`),
		reply("Dr. Shah is free from 09:00."),
	}}
	env := newTestEnv(t, policy, 5)
	c := env.consultationFor(t, 5, 1)

	_, err := env.svc.ProcessTurn(context.Background(), c.ID, 5, "which doctors are there?")
	require.NoError(t, err)
	res, err := env.svc.ProcessTurn(context.Background(), c.ID, 5, "Dr Shah on the 30th please")
	require.NoError(t, err)

	result := decodeResult(t, res.ToolAudit[0])
	assert.Nil(t, result["error"])
	assert.EqualValues(t, 10, len(result["available_slots"].([]interface{})))

	// The second turn's policy call sees the whole transcript.
	secondTurn := policy.requests[2]
	require.Len(t, secondTurn.Messages, 3)
	assert.Equal(t, llm.RoleAssistant, secondTurn.Messages[1].Role)
	assert.Contains(t, secondTurn.System, "4 (Vikram Shah)")
}

func TestProcessTurn_PolicyTimeout(t *testing.T) {
	policy := llm.PolicyFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, errors.Join(llm.ErrPolicyUnavailable, ctx.Err())
	})
	env := newTestEnv(t, policy, 5)
	env.svc.loop.timeout = 20 * time.Millisecond
	c := env.consultationFor(t, 5, 1)

	res, err := env.svc.ProcessTurn(context.Background(), c.ID, 5, "hello?")
	require.NoError(t, err)
	assert.Equal(t, TextTechnicalIssue, res.Reply)

	msgs, _ := env.cons.ListMessages(context.Background(), c.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, TextTechnicalIssue, msgs[1].Content)
}

func TestProcessTurn_CancelledCallerStillPersists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := llm.PolicyFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		cancel()
		return nil, llm.ErrPolicyUnavailable
	})
	env := newTestEnv(t, policy, 5)
	c := env.consultationFor(t, 5, 1)

	_, err := env.svc.ProcessTurn(ctx, c.ID, 5, "are you there?")
	require.NoError(t, err)
	msgs, _ := env.cons.ListMessages(context.Background(), c.ID)
	assert.Len(t, msgs, 2)
}

func TestProcessTurn_UserMessageCommittedBeforeTools(t *testing.T) {
	var env *testEnv
	var seen []*consultation.Message
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){
		func(llm.Request) (*llm.Response, error) {
			seen, _ = env.cons.ListMessages(context.Background(), 1)
			return &llm.Response{ToolCalls: []llm.ToolCall{{Name: "fetch_patient_history", Arguments: json.RawMessage(`{"patient_id": 77}`)}}}, nil
		},
		reply("You have an ECG on file."),
	}}
	env = newTestEnv(t, policy, 5)
	env.consultationFor(t, 5, 1)

	res, err := env.svc.ProcessTurn(context.Background(), 1, 5, "what do you have on file?")
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "what do you have on file?", seen[0].Content)

	result := decodeResult(t, res.ToolAudit[0])
	assert.EqualValues(t, 5, result["patient_id"])
	assert.EqualValues(t, 1, result["count"])
}

func TestProcessTurn_PersistenceFailure(t *testing.T) {
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){reply("Hello!")}}
	env := newTestEnv(t, policy, 5)
	c := env.consultationFor(t, 5, 1)
	env.cons.FailAppend = map[string]error{consultation.RoleAgent: errors.New("disk full")}

	_, err := env.svc.ProcessTurn(context.Background(), c.ID, 5, "hi")
	require.Error(t, err)

	msgs, _ := env.cons.ListMessages(context.Background(), c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, consultation.RolePatient, msgs[0].Role)
}

func TestProcessTurn_Ownership(t *testing.T) {
	env := newTestEnv(t, &scriptedPolicy{}, 5)
	c := env.consultationFor(t, 5, 1)

	_, err := env.svc.ProcessTurn(context.Background(), c.ID, 6, "hi")
	assert.ErrorIs(t, err, ErrConsultationNotOwned)
	_, err = env.svc.ProcessTurn(context.Background(), 99, 5, "hi")
	assert.ErrorIs(t, err, consultation.ErrNotFound)
	_, err = env.svc.ProcessTurn(context.Background(), c.ID, 5, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestProcessTurn_SequentialWithinConsultation(t *testing.T) {
	var inFlight, maxInFlight int32
	policy := llm.PolicyFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return &llm.Response{Text: "noted"}, nil
	})
	env := newTestEnv(t, policy, 5)
	c := env.consultationFor(t, 5, 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ProcessTurn(context.Background(), c.ID, 5, "symptom update")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInFlight)
	msgs, _ := env.cons.ListMessages(context.Background(), c.ID)
	require.Len(t, msgs, 8)
	for i, m := range msgs {
		want := consultation.RolePatient
		if i%2 == 1 {
			want = consultation.RoleAgent
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}
}

// bookingPolicy drives list, check and book from the transcript alone, so
// several consultations can share it.
func bookingPolicy(start string) llm.Policy {
	return llm.PolicyFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		tools := 0
		for _, m := range req.Messages {
			if m.Role == llm.RoleTool {
				tools++
			}
		}
		call := func(name, args string) (*llm.Response, error) {
			return &llm.Response{ToolCalls: []llm.ToolCall{{Name: name, Arguments: json.RawMessage(args)}}}, nil
		}
		switch tools {
		case 0:
			return call("list_doctors", `{}`)
		case 1:
			return call("check_availability", `{"doctor_id": 3, "date": "2025-11-30"}`)
		case 2:
			return call("book_appointment", `{"doctor_id": 3, "start_time": "`+start+`", "mode": "online"}`)
		}
		return &llm.Response{Text: "All set."}, nil
	})
}

func TestProcessTurn_ConcurrentBookingsSameSlot(t *testing.T) {
	env := newTestEnv(t, bookingPolicy("2025-11-30T10:00:00"), 5)
	a := &consultation.Consultation{PatientID: 5, Status: consultation.StatusPending}
	b := &consultation.Consultation{PatientID: 6, Status: consultation.StatusPending}
	require.NoError(t, env.cons.Create(context.Background(), a))
	require.NoError(t, env.cons.Create(context.Background(), b))

	results := make([]*TurnResult, 2)
	var wg sync.WaitGroup
	for i, c := range []*consultation.Consultation{a, b} {
		wg.Add(1)
		go func(i int, c *consultation.Consultation) {
			defer wg.Done()
			res, err := env.svc.ProcessTurn(context.Background(), c.ID, c.PatientID, "book 30 Nov 10:00")
			assert.NoError(t, err)
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	var booked, conflicts int
	for _, res := range results {
		require.NotNil(t, res)
		out := decodeResult(t, res.ToolAudit[2])
		switch {
		case out["success"] == true:
			booked++
			assert.NotZero(t, out["appointment_id"])
		case out["error"] == CodeSchedulingConflict:
			conflicts++
			assert.EqualValues(t, 1, out["conflict_count"])
		}
	}
	assert.Equal(t, 1, booked)
	assert.Equal(t, 1, conflicts)

	appts, _ := env.appts.ListStartingBetween(context.Background(), scheduling.Filter{DoctorID: int64p(3)},
		time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC), time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	assert.Len(t, appts, 1)
}
