package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAssessment_RoundTrip(t *testing.T) {
	block := "---RISK_ASSESSMENT---\nRISK_LEVEL: orange\nPHYSICAL_EXAM: maybe\nDEPARTMENT: General Medicine\nDOCTOR_LEVEL: junior\nREASONING: Fever for three days without red flags.\n---END_ASSESSMENT---"
	text := "Thanks, I have what I need.\n\n" + block + "\n\nA doctor will review this shortly."

	cleaned, ra := ExtractAssessment(text)
	require.NotNil(t, ra)
	assert.NotContains(t, cleaned, block)
	assert.NotContains(t, cleaned, "RISK_LEVEL")
	assert.Equal(t, "Thanks, I have what I need.\n\nA doctor will review this shortly.", cleaned)

	assert.Equal(t, "orange", *ra.RiskLevel)
	assert.Equal(t, "maybe", *ra.PhysicalExam)
	assert.Equal(t, "General Medicine", *ra.Department)
	assert.Equal(t, "junior", *ra.DoctorLevel)
	assert.Equal(t, "Fever for three days without red flags.", *ra.Reasoning)
}

func TestExtractAssessment_NoBlock(t *testing.T) {
	text := "  How long have you had the cough?  "
	cleaned, ra := ExtractAssessment(text)
	assert.Nil(t, ra)
	assert.Equal(t, text, cleaned)
}

func TestExtractAssessment_UnterminatedBlockIsIgnored(t *testing.T) {
	text := "Noted.\n---RISK_ASSESSMENT---\nRISK_LEVEL: green"
	cleaned, ra := ExtractAssessment(text)
	assert.Nil(t, ra)
	assert.Equal(t, text, cleaned)
}

func TestExtractAssessment_KeysCaseInsensitiveFirstWins(t *testing.T) {
	text := "---RISK_ASSESSMENT---\nrisk_level: green\nRisk_Level: red\n  department :  ENT \nnot a pair\nREASONING: ratio 2:1 noted\n---END_ASSESSMENT---"
	cleaned, ra := ExtractAssessment(text)
	require.NotNil(t, ra)
	assert.Equal(t, "", cleaned)
	assert.Equal(t, "green", *ra.RiskLevel)
	assert.Equal(t, "ENT", *ra.Department)
	assert.Equal(t, "ratio 2:1 noted", *ra.Reasoning)
	assert.Nil(t, ra.PhysicalExam)
	assert.Nil(t, ra.DoctorLevel)
}

func TestExtractAssessment_OnlyFirstBlock(t *testing.T) {
	text := "a\n---RISK_ASSESSMENT---\nRISK_LEVEL: red\n---END_ASSESSMENT---\nb\n---RISK_ASSESSMENT---\nRISK_LEVEL: green\n---END_ASSESSMENT---"
	cleaned, ra := ExtractAssessment(text)
	require.NotNil(t, ra)
	assert.Equal(t, "red", *ra.RiskLevel)
	assert.True(t, strings.HasPrefix(cleaned, "a\n\nb"))
}
