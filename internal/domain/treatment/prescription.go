// Package treatment implements the treatment fulfillment domain: prescriptions,
// per-medication dose schedules, legacy single-shot tasks, and the dose
// administration state machine.
package treatment

import "time"

// PrescriptionStatus represents the top-level prescription status.
type PrescriptionStatus string

const (
	PrescriptionActive    PrescriptionStatus = "active"
	PrescriptionCompleted PrescriptionStatus = "completed"
	PrescriptionCancelled PrescriptionStatus = "cancelled"
)

// Medication is one ordered line of a prescription. Immutable once the
// prescription is created.
type Medication struct {
	Name            string   `json:"name"`
	Dosage          string   `json:"dosage"`
	Instructions    string   `json:"instructions,omitempty"`
	FrequencyPerDay int      `json:"frequency_per_day"`
	DurationDays    int      `json:"duration_days"`
	Times           []string `json:"times,omitempty"`
	CaregiverID     *string  `json:"caregiver_id,omitempty"`
	Urgent          bool     `json:"urgent,omitempty"`
}

// Prescription is a doctor-issued order listing one or more medications for
// a patient. The fulfillment engine reads prescriptions but never mutates
// them; only the top-level status changes, through clinician action.
type Prescription struct {
	ID          string             `json:"id"`
	PatientID   string             `json:"patient_id"`
	DoctorID    string             `json:"doctor_id"`
	CaregiverID *string            `json:"caregiver_id,omitempty"`
	Status      PrescriptionStatus `json:"status"`
	Medications []Medication       `json:"medications"`
	IssuedAt    time.Time          `json:"issued_at"`
}
