package treatment

import (
	"fmt"
	"time"
)

// Task is a legacy single-shot care order: an urgent or one-off
// administration that carries no dose counter. It shares the worklist and
// the completion pipeline with multi-dose schedules.
type Task struct {
	ID             string     `json:"id"`
	PatientID      string     `json:"patient_id"`
	AdmissionID    *string    `json:"admission_id,omitempty"`
	CaregiverID    *string    `json:"caregiver_id,omitempty"`
	Title          string     `json:"title"`
	MedicationName string     `json:"medication_name,omitempty"`
	MedicineID     *string    `json:"medicine_id,omitempty"`
	Dosage         string     `json:"dosage,omitempty"`
	Urgent         bool       `json:"urgent"`
	Status         Status     `json:"status"`
	DueAt          time.Time  `json:"due_at"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CompletedBy    string     `json:"completed_by,omitempty"`
	Note           string     `json:"note,omitempty"`
}

// Complete moves the task from pending to completed. Any other starting
// state is a conflict. The consumed list is accepted for worklist parity;
// stock consumption itself is the bridge's responsibility.
func (t *Task) Complete(caregiverID, note string, _ []ConsumedMedicine, at time.Time) error {
	if err := t.EnsurePending(); err != nil {
		return err
	}
	t.Status = StatusCompleted
	done := at
	t.CompletedAt = &done
	t.CompletedBy = caregiverID
	t.Note = note
	return nil
}

// EnsurePending reports ErrConflict unless the task is still pending.
func (t *Task) EnsurePending() error {
	if t.Status != StatusPending {
		return fmt.Errorf("task %s is %s: %w", t.ID, t.Status, ErrConflict)
	}
	return nil
}
