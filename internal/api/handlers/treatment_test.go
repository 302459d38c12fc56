package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// Malformed requests must be rejected before the engine is touched, so
// these cases run against a handler with no engine wired at all.
func newValidationHandler() http.Handler {
	return NewTreatmentHandler(nil, nil, zap.NewNop()).Routes()
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdministerDoseRejectsMalformedBody(t *testing.T) {
	rec := postJSON(t, newValidationHandler(), "/schedules/sched-1/doses", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdministerDoseRequiresCaregiver(t *testing.T) {
	rec := postJSON(t, newValidationHandler(), "/schedules/sched-1/doses", `{"note":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "caregiver_id")
}

func TestAdministerDoseRejectsNonPositiveQuantity(t *testing.T) {
	h := newValidationHandler()
	for _, body := range []string{
		`{"caregiver_id":"cg-1","consumed":[{"medicine_id":"med-1","quantity":0}]}`,
		`{"caregiver_id":"cg-1","consumed":[{"medicine_id":"med-1","quantity":-2}]}`,
	} {
		rec := postJSON(t, h, "/schedules/sched-1/doses", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "quantity must be positive")
	}
}

func TestAdministerDoseRejectsMissingMedicineID(t *testing.T) {
	rec := postJSON(t, newValidationHandler(), "/schedules/sched-1/doses",
		`{"caregiver_id":"cg-1","consumed":[{"quantity":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "medicine_id")
}

func TestCompleteTaskRejectsNonPositiveQuantity(t *testing.T) {
	rec := postJSON(t, newValidationHandler(), "/tasks/task-1/complete",
		`{"caregiver_id":"cg-1","consumed":[{"medicine_id":"med-1","quantity":0}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "quantity must be positive")
}
