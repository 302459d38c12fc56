package fulfillment

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/domain/treatment"
	"github.com/caretrack/fulfillment/internal/observability/metrics"
)

// Engine coordinates the fulfillment pipeline. All mutations to medicine
// stock and bed/room state flow through it; nothing else writes those
// resources.
type Engine struct {
	db      TxRunner
	stores  Stores
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates an engine. The stores argument is the pool-backed bundle used
// for plain reads; mutations run through the TxRunner. Metrics may be nil.
func New(db TxRunner, stores Stores, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		stores:  stores,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("fulfillment-engine"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GenerateSchedules expands the prescription's medications into one pending
// schedule each and persists them. The prescription itself and medicine
// stock are untouched.
func (e *Engine) GenerateSchedules(ctx context.Context, prescriptionID string) ([]*treatment.Schedule, error) {
	ctx, span := e.tracer.Start(ctx, "generate_schedules",
		trace.WithAttributes(attribute.String("prescription_id", prescriptionID)))
	defer span.End()

	var schedules []*treatment.Schedule
	err := e.db.InTx(ctx, func(ctx context.Context, s Stores) error {
		p, err := s.Work.GetPrescription(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if p.Status != treatment.PrescriptionActive {
			return fmt.Errorf("prescription %s is %s: %w", p.ID, p.Status, treatment.ErrConflict)
		}

		adm, err := s.Occupancy.ActiveAdmission(ctx, p.PatientID)
		if err != nil {
			return err
		}
		var admissionID *string
		if adm != nil {
			admissionID = &adm.ID
		}

		patientCaregiver, err := s.Work.PatientCaregiver(ctx, p.PatientID)
		if err != nil {
			return err
		}

		schedules = treatment.GenerateSchedules(p, admissionID, patientCaregiver, e.now())
		return s.Work.CreateSchedules(ctx, schedules)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.SchedulesGenerated.Add(float64(len(schedules)))
	}
	e.logger.Info("schedules generated",
		zap.String("prescription_id", prescriptionID),
		zap.Int("count", len(schedules)))

	return schedules, nil
}

// Schedule loads one schedule for read-only callers.
func (e *Engine) Schedule(ctx context.Context, id string) (*treatment.Schedule, error) {
	return e.stores.Work.GetSchedule(ctx, id)
}

// PatientPendingCount returns the patient's remaining pending schedules and
// tasks combined. The lifecycle manager consumes it inside the completion
// transaction; this variant serves UI badges.
func (e *Engine) PatientPendingCount(ctx context.Context, patientID string) (int, error) {
	return e.stores.Work.CountPendingByPatient(ctx, patientID)
}

// Worklist returns the caregiver's merged schedules and tasks sorted by
// due time.
func (e *Engine) Worklist(ctx context.Context, caregiverID string) ([]treatment.WorkItem, error) {
	items, err := e.stores.Work.ListByCaregiver(ctx, caregiverID)
	if err != nil {
		return nil, err
	}
	treatment.SortByDue(items)
	return items, nil
}

// UnassignedSchedules returns pending schedules created without a
// resolvable caregiver.
func (e *Engine) UnassignedSchedules(ctx context.Context) ([]*treatment.Schedule, error) {
	return e.stores.Work.ListUnassigned(ctx)
}
