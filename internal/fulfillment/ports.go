// Package fulfillment implements the treatment fulfillment engine: the
// atomic dose-completion unit that advances the dose state machine,
// consumes pharmacy stock, bills the patient, and re-evaluates outpatient
// discharge.
package fulfillment

import (
	"context"

	"github.com/caretrack/fulfillment/internal/domain/billing"
	"github.com/caretrack/fulfillment/internal/domain/inventory"
	"github.com/caretrack/fulfillment/internal/domain/occupancy"
	"github.com/caretrack/fulfillment/internal/domain/treatment"
)

// WorkStore persists prescriptions, schedules, and legacy tasks.
// Transaction-scoped implementations lock rows returned by GetSchedule and
// GetTask for the duration of the transaction.
type WorkStore interface {
	GetPrescription(ctx context.Context, id string) (*treatment.Prescription, error)
	// PatientCaregiver returns the patient's currently assigned caregiver,
	// or nil when the patient has none.
	PatientCaregiver(ctx context.Context, patientID string) (*string, error)
	CreateSchedules(ctx context.Context, schedules []*treatment.Schedule) error
	GetSchedule(ctx context.Context, id string) (*treatment.Schedule, error)
	GetTask(ctx context.Context, id string) (*treatment.Task, error)
	SaveSchedule(ctx context.Context, s *treatment.Schedule) error
	SaveTask(ctx context.Context, t *treatment.Task) error
	// CountPendingByPatient counts the patient's remaining pending
	// schedules and tasks combined.
	CountPendingByPatient(ctx context.Context, patientID string) (int, error)
	ListByCaregiver(ctx context.Context, caregiverID string) ([]treatment.WorkItem, error)
	ListUnassigned(ctx context.Context) ([]*treatment.Schedule, error)
}

// InventoryStore persists medicine stock. Transaction-scoped
// implementations lock the rows returned by GetMedicines, in the id order
// given, for the duration of the transaction.
type InventoryStore interface {
	GetMedicines(ctx context.Context, ids []string) ([]*inventory.Medicine, error)
	SaveMedicine(ctx context.Context, m *inventory.Medicine) error
}

// BillingStore persists invoices and the pharmacy ledger.
type BillingStore interface {
	// NextInvoiceSequence allocates the next invoice sequence number for
	// the given year. Allocation must be race-free under concurrent
	// completions.
	NextInvoiceSequence(ctx context.Context, year int) (int64, error)
	CreateInvoice(ctx context.Context, inv *billing.Invoice) error
	AppendTransactions(ctx context.Context, txns []billing.PharmacyTransaction) error
}

// OccupancyStore persists admissions, beds, and rooms.
type OccupancyStore interface {
	// ActiveAdmission returns the patient's active admission, or nil when
	// the patient is not admitted.
	ActiveAdmission(ctx context.Context, patientID string) (*occupancy.Admission, error)
	SaveAdmission(ctx context.Context, a *occupancy.Admission) error
	GetBed(ctx context.Context, id string) (*occupancy.Bed, error)
	SaveBed(ctx context.Context, b *occupancy.Bed) error
	BedsInRoom(ctx context.Context, roomID string) ([]occupancy.Bed, error)
	GetRoom(ctx context.Context, id string) (*occupancy.Room, error)
	SaveRoom(ctx context.Context, r *occupancy.Room) error
}

// EventStore appends domain events to the transactional outbox so they
// commit or roll back with the unit of work that produced them.
type EventStore interface {
	Append(ctx context.Context, evt Event) error
}

// Stores bundles the persistence ports the engine operates on.
type Stores struct {
	Work      WorkStore
	Inventory InventoryStore
	Billing   BillingStore
	Occupancy OccupancyStore
	Events    EventStore
}

// TxRunner executes a function against transaction-scoped stores. The
// whole function commits or rolls back as one unit.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// TransientError marks an infrastructure failure during the persistence
// step. Callers may retry; the atomicity of the unit of work guarantees no
// partial effect survived.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient store error: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }
