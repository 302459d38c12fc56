package treatment

import (
	"time"

	"github.com/google/uuid"
)

// GenerateSchedules expands a prescription into one schedule per medication
// line. Total doses are frequency × duration with a 1×1 default when either
// is unset. The caregiver is resolved per medication first, then from the
// prescription, then from the patient's currently assigned caregiver. An
// unresolved caregiver is not an error: the schedule is created unassigned
// and surfaces in the unassigned queue.
//
// Generation touches neither the prescription nor medicine stock.
func GenerateSchedules(p *Prescription, admissionID, patientCaregiverID *string, now time.Time) []*Schedule {
	schedules := make([]*Schedule, 0, len(p.Medications))

	for _, med := range p.Medications {
		freq := med.FrequencyPerDay
		if freq <= 0 {
			freq = 1
		}
		days := med.DurationDays
		if days <= 0 {
			days = 1
		}

		s := &Schedule{
			ID:              uuid.New().String(),
			PrescriptionID:  p.ID,
			PatientID:       p.PatientID,
			AdmissionID:     admissionID,
			CaregiverID:     resolveCaregiver(med.CaregiverID, p.CaregiverID, patientCaregiverID),
			MedicationName:  med.Name,
			Dosage:          med.Dosage,
			Instructions:    med.Instructions,
			Times:           med.Times,
			FrequencyPerDay: freq,
			DurationDays:    days,
			TotalDoses:      freq * days,
			CompletedDoses:  0,
			Status:          StatusPending,
			CreatedAt:       now,
		}
		s.ScheduledTime = firstDoseTime(s, now)

		schedules = append(schedules, s)
	}

	return schedules
}

func resolveCaregiver(candidates ...*string) *string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return c
		}
	}
	return nil
}

func firstDoseTime(s *Schedule, now time.Time) time.Time {
	if len(s.Times) == 0 {
		return now
	}
	return s.NextDoseTime(now)
}
