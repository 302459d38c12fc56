package fulfillment

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a domain event published through the outbox.
type EventType string

const (
	EventDoseAdministered  EventType = "treatment.dose.administered"
	EventScheduleCompleted EventType = "treatment.schedule.completed"
	EventTaskCompleted     EventType = "treatment.task.completed"
	EventPatientDischarged EventType = "patient.discharged"
	EventStockDepleted     EventType = "inventory.stock.depleted"
)

// Event is a domain event emitted by the engine. Payloads are marshaled by
// the outbox writer and published by the relay after commit.
type Event struct {
	ID          string
	Type        EventType
	AggregateID string
	OccurredAt  time.Time
	Payload     any
}

func newEvent(t EventType, aggregateID string, at time.Time, payload any) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        t,
		AggregateID: aggregateID,
		OccurredAt:  at,
		Payload:     payload,
	}
}

// DoseAdministeredPayload describes one recorded dose.
type DoseAdministeredPayload struct {
	WorkItemID  string `json:"work_item_id"`
	Kind        string `json:"kind"`
	PatientID   string `json:"patient_id"`
	CaregiverID string `json:"caregiver_id"`
	DoseNumber  int    `json:"dose_number,omitempty"`
	TotalDoses  int    `json:"total_doses,omitempty"`
	InvoiceID   string `json:"invoice_id,omitempty"`
}

// PatientDischargedPayload describes an automatic outpatient discharge.
type PatientDischargedPayload struct {
	AdmissionID string `json:"admission_id"`
	PatientID   string `json:"patient_id"`
	TotalDays   int    `json:"total_days"`
	BedID       string `json:"bed_id,omitempty"`
}

// StockDepletedPayload describes a medicine whose quantity reached zero.
type StockDepletedPayload struct {
	MedicineID string `json:"medicine_id"`
	Name       string `json:"name"`
}
