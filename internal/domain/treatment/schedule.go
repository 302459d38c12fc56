package treatment

import (
	"fmt"
	"time"
)

// Status represents the lifecycle status of a schedule or task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusCancelled Status = "cancelled"
)

// ConsumedMedicine is one stock consumption line attached to a dose.
// UnitPrice 0 means the medicine's stored price applies.
type ConsumedMedicine struct {
	MedicineID string  `json:"medicine_id"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price,omitempty"`
}

// DoseRecord is one append-only dose history entry. Records are never
// updated or deleted; the history is the audit trail.
type DoseRecord struct {
	DoseNumber     int                `json:"dose_number"`
	CaregiverID    string             `json:"caregiver_id"`
	Note           string             `json:"note,omitempty"`
	AdministeredAt time.Time          `json:"administered_at"`
	Consumed       []ConsumedMedicine `json:"consumed,omitempty"`
}

// Schedule is the dose plan derived from one medication line of a
// prescription. TotalDoses is computed once at creation and never
// recomputed; CompletedDoses is monotonically non-decreasing and bounded
// by TotalDoses.
type Schedule struct {
	ID              string       `json:"id"`
	PrescriptionID  string       `json:"prescription_id"`
	PatientID       string       `json:"patient_id"`
	AdmissionID     *string      `json:"admission_id,omitempty"`
	CaregiverID     *string      `json:"caregiver_id,omitempty"`
	MedicationName  string       `json:"medication_name"`
	Dosage          string       `json:"dosage"`
	Instructions    string       `json:"instructions,omitempty"`
	Times           []string     `json:"times,omitempty"`
	FrequencyPerDay int          `json:"frequency_per_day"`
	DurationDays    int          `json:"duration_days"`
	TotalDoses      int          `json:"total_doses"`
	CompletedDoses  int          `json:"completed_doses"`
	Status          Status       `json:"status"`
	ScheduledTime   time.Time    `json:"scheduled_time"`
	DoseHistory     []DoseRecord `json:"dose_history,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// Administer records one dose against the schedule. It is the only forward
// transition: pending stays pending until the final dose, which moves the
// schedule to completed and stamps the completion time. Completed,
// missed, and cancelled schedules reject further doses with ErrConflict.
func (s *Schedule) Administer(caregiverID, note string, consumed []ConsumedMedicine, at time.Time) (*DoseRecord, error) {
	if err := s.EnsurePending(); err != nil {
		return nil, err
	}

	s.CompletedDoses++
	rec := DoseRecord{
		DoseNumber:     s.CompletedDoses,
		CaregiverID:    caregiverID,
		Note:           note,
		AdministeredAt: at,
		Consumed:       consumed,
	}
	s.DoseHistory = append(s.DoseHistory, rec)

	if s.CompletedDoses == s.TotalDoses {
		s.Status = StatusCompleted
		done := at
		s.CompletedAt = &done
	} else {
		s.ScheduledTime = s.NextDoseTime(at)
	}

	return &rec, nil
}

// EnsurePending reports ErrConflict when the schedule can take no further
// doses. Callers check it before touching stock or billing so a dose
// against a finished schedule always surfaces as a conflict, whatever the
// consumption lines would have done.
func (s *Schedule) EnsurePending() error {
	if s.Status != StatusPending {
		return fmt.Errorf("schedule %s is %s: %w", s.ID, s.Status, ErrConflict)
	}
	if s.CompletedDoses >= s.TotalDoses {
		// A pending schedule with all doses recorded should not exist;
		// treat it as a conflict rather than overrun the counter.
		return fmt.Errorf("schedule %s has no doses remaining: %w", s.ID, ErrConflict)
	}
	return nil
}

// NextDoseTime returns the next clock-time occurrence after the given
// instant. When the schedule carries no parseable clock times the doses are
// spread evenly across the day by frequency.
func (s *Schedule) NextDoseTime(after time.Time) time.Time {
	var candidates []time.Time
	for _, ts := range s.Times {
		parsed, err := time.Parse("15:04", ts)
		if err != nil {
			continue
		}
		y, m, d := after.Date()
		at := time.Date(y, m, d, parsed.Hour(), parsed.Minute(), 0, 0, after.Location())
		if !at.After(after) {
			at = at.Add(24 * time.Hour)
		}
		candidates = append(candidates, at)
	}

	if len(candidates) == 0 {
		freq := s.FrequencyPerDay
		if freq <= 0 {
			freq = 1
		}
		return after.Add(24 * time.Hour / time.Duration(freq))
	}

	next := candidates[0]
	for _, c := range candidates[1:] {
		if c.Before(next) {
			next = c
		}
	}
	return next
}
