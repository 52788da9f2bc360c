package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura/aura/internal/platform/auth"
	"github.com/aura/aura/internal/platform/llm"
)

func chatRequestFor(body string, patientID int64) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: patientID, Role: auth.RolePatient}))
}

func TestHandler_Chat(t *testing.T) {
	policy := &scriptedPolicy{steps: []func(llm.Request) (*llm.Response, error){reply("How can I help?")}}
	env := newTestEnv(t, policy, 5)
	env.consultationFor(t, 5, 1)
	h := NewHandler(env.svc)

	rec := httptest.NewRecorder()
	err := h.Chat(echo.New().NewContext(chatRequestFor(`{"consultation_id":1,"message":"hello"}`, 5), rec))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var res TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "How can I help?", res.Reply)
	assert.NotZero(t, res.MessageID)
}

func TestHandler_Chat_Errors(t *testing.T) {
	env := newTestEnv(t, &scriptedPolicy{}, 5)
	env.consultationFor(t, 5, 1)
	h := NewHandler(env.svc)

	tests := []struct {
		name    string
		body    string
		patient int64
		code    int
	}{
		{"missing consultation", `{"message":"hi"}`, 5, http.StatusBadRequest},
		{"empty message", `{"consultation_id":1,"message":" "}`, 5, http.StatusBadRequest},
		{"someone else's consultation", `{"consultation_id":1,"message":"hi"}`, 6, http.StatusNotFound},
		{"unknown consultation", `{"consultation_id":42,"message":"hi"}`, 5, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Chat(echo.New().NewContext(chatRequestFor(tt.body, tt.patient), httptest.NewRecorder()))
			var he *echo.HTTPError
			require.True(t, errors.As(err, &he), "expected HTTP error, got %v", err)
			assert.Equal(t, tt.code, he.Code)
		})
	}
}
