package agent

import (
	"fmt"
	"strings"
)

const (
	TextTechnicalIssue = "I'm experiencing a technical issue. Please try again in a moment."
	TextGeneric        = "I've processed your request. How can I help you further?"
	TextNoDoctors      = "I couldn't find any available doctors at the moment. Please try again later."
)

// executed is one tool call as the loop saw it.
type executed struct {
	tool   ToolName
	result interface{}
	err    *ToolError
}

// fallbackReply renders a reply from the last tool result without the
// policy. It never returns an empty string.
func fallbackReply(last *executed) string {
	if last == nil {
		return TextGeneric
	}
	if last.err != nil {
		return fmt.Sprintf("I apologize, but I encountered an issue: %s. Please try again or select a different option.",
			strings.TrimSuffix(last.err.Message, "."))
	}

	switch r := last.result.(type) {
	case *listDoctorsResult:
		if r.Count == 0 {
			return TextNoDoctors
		}
		var b strings.Builder
		fmt.Fprintf(&b, "I found %d available doctor(s):\n\n", r.Count)
		for _, d := range r.Doctors {
			fmt.Fprintf(&b, "- %s (ID: %d)\n", d.Name, d.ID)
		}
		b.WriteString("\nWhich doctor would you like to schedule an appointment with?")
		return b.String()

	case *availabilityResult:
		who := "The doctor"
		if r.DoctorName != "" {
			who = doctorTitle(r.DoctorName)
		}
		if len(r.AvailableSlots) == 0 {
			return fmt.Sprintf("%s has no available slots on %s. Would you like to try another date?", who, r.Date)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s has %d available slot(s) on %s:\n\n", who, r.TotalSlots, r.Date)
		for _, s := range r.AvailableSlots {
			fmt.Fprintf(&b, "- %s\n", s.Formatted)
		}
		b.WriteString("\nWhich time works best for you?")
		return b.String()

	case *bookingResult:
		who := "your doctor"
		if r.DoctorName != "" {
			who = doctorTitle(r.DoctorName)
		}
		return fmt.Sprintf("Your appointment with %s is confirmed for %s at %s (%s). Your appointment ID is %d.",
			who, describeDay(r.Datetime), r.Datetime.Format("03:04 PM"), r.Mode, r.AppointmentID)

	case *escalationResult:
		return r.Message
	}
	return TextGeneric
}
