package agent

import (
	"strings"

	"github.com/aura/aura/internal/domain/consultation"
)

const (
	assessmentStart = "---RISK_ASSESSMENT---"
	assessmentEnd   = "---END_ASSESSMENT---"
)

// ExtractAssessment removes the first delimited risk-assessment block from
// text and parses its KEY: value lines. Keys are case-insensitive and the
// first occurrence wins. Without a complete block the text is returned
// unchanged and the record is nil.
func ExtractAssessment(text string) (string, *consultation.RiskAssessment) {
	start := strings.Index(text, assessmentStart)
	if start < 0 {
		return text, nil
	}
	bodyStart := start + len(assessmentStart)
	end := strings.Index(text[bodyStart:], assessmentEnd)
	if end < 0 {
		return text, nil
	}
	body := text[bodyStart : bodyStart+end]
	rest := text[bodyStart+end+len(assessmentEnd):]

	ra := &consultation.RiskAssessment{}
	fields := map[string]**string{
		"RISK_LEVEL":    &ra.RiskLevel,
		"PHYSICAL_EXAM": &ra.PhysicalExam,
		"DEPARTMENT":    &ra.Department,
		"DOCTOR_LEVEL":  &ra.DoctorLevel,
		"REASONING":     &ra.Reasoning,
	}
	for _, line := range strings.Split(body, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		dst, known := fields[strings.ToUpper(strings.TrimSpace(key))]
		if !known || *dst != nil {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			*dst = &v
		}
	}

	cleaned := strings.TrimSpace(strings.TrimRight(text[:start], " \t\n") + joinGap(text[:start], rest) + strings.TrimLeft(rest, " \t\n"))
	return cleaned, ra
}

func joinGap(before, after string) string {
	if strings.TrimSpace(before) == "" || strings.TrimSpace(after) == "" {
		return ""
	}
	return "\n\n"
}
