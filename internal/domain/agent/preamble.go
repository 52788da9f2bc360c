package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/aura/aura/internal/domain/documents"
)

const instructions = `You are Aura, a hospital assistant talking with a patient.

Gather the patient's symptoms with short, focused questions. You are not a doctor and must not diagnose.

Escalation: if the patient describes an emergency or red-flag symptom (chest pain, difficulty breathing, heavy bleeding, loss of consciousness, stroke signs) or asks for a doctor, call escalate_to_human immediately.

Booking, strictly in this order:
1. Call list_doctors and let the patient choose. Use only ids from valid_ids.
2. Call check_availability for the chosen doctor and date.
3. Call book_appointment with a datetime copied from available_slots and mode "online" or "inperson".
Never invent doctor ids, dates or times. If a tool returns an error, explain it and ask the patient how to proceed.

When you have enough information to triage, append this block at the end of your reply:
---RISK_ASSESSMENT---
RISK_LEVEL: red | orange | green
PHYSICAL_EXAM: yes | no | maybe
DEPARTMENT: <department>
DOCTOR_LEVEL: junior | senior
REASONING: <one sentence>
---END_ASSESSMENT---`

// buildPreamble renders the system prompt for one turn.
func buildPreamble(s *Scope, docs []*documents.Document) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nContext:\n")
	fmt.Fprintf(&b, "- consultation_id: %d\n", s.ConsultationID)
	fmt.Fprintf(&b, "- patient_id: %d\n", s.PatientID)
	fmt.Fprintf(&b, "- now: %s (%s)\n", s.Now.Format(time.RFC3339), describeDay(s.Now))

	if known := s.KnownDoctors(); len(known) > 0 {
		b.WriteString("- doctors listed earlier in this conversation:")
		for _, id := range known {
			fmt.Fprintf(&b, " %d (%s);", id, s.DoctorName(id))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nPatient history:\n")
	if len(docs) == 0 {
		b.WriteString("- no documents on file\n")
	}
	for _, d := range docs {
		summary := "no summary"
		if d.Summary != nil && *d.Summary != "" {
			summary = *d.Summary
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", d.Name, d.CreatedAt.Format("2006-01-02"), summary)
	}
	return b.String()
}
