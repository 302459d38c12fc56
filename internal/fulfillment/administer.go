package fulfillment

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/domain/inventory"
	"github.com/caretrack/fulfillment/internal/domain/treatment"
)

// AdministerRequest carries one dose-completion call.
type AdministerRequest struct {
	WorkItemID  string
	CaregiverID string
	Note        string
	Consumed    []treatment.ConsumedMedicine
}

// AdministerDose records one dose against a multi-dose schedule, consuming
// stock and billing the patient in the same transaction, then re-evaluates
// outpatient discharge. Stock validation happens before any mutation, so a
// failed completion leaves the schedule, stock, and invoices untouched.
//
// Errors: treatment.ErrNotFound, treatment.ErrConflict,
// *inventory.InsufficientStockError, *TransientError.
func (e *Engine) AdministerDose(ctx context.Context, req AdministerRequest) (*treatment.Schedule, error) {
	ctx, span := e.tracer.Start(ctx, "administer_dose",
		trace.WithAttributes(
			attribute.String("schedule_id", req.WorkItemID),
			attribute.String("caregiver_id", req.CaregiverID),
		))
	defer span.End()

	start := e.now()

	var out *treatment.Schedule
	err := e.db.InTx(ctx, func(ctx context.Context, s Stores) error {
		sched, err := s.Work.GetSchedule(ctx, req.WorkItemID)
		if err != nil {
			return err
		}

		now := e.now()

		// Status guard first: a dose against a finished schedule is a
		// conflict no matter what the consumption lines would report.
		if err := sched.EnsurePending(); err != nil {
			return err
		}

		// All stock checks and decrements precede the schedule mutation.
		invoice, depleted, err := e.consumeStock(ctx, s, consumption{
			patientID:   sched.PatientID,
			caregiverID: req.CaregiverID,
			workItemID:  sched.ID,
			lines:       req.Consumed,
			at:          now,
		})
		if err != nil {
			return err
		}

		rec, err := sched.Administer(req.CaregiverID, req.Note, req.Consumed, now)
		if err != nil {
			return err
		}
		if err := s.Work.SaveSchedule(ctx, sched); err != nil {
			return err
		}

		payload := DoseAdministeredPayload{
			WorkItemID:  sched.ID,
			Kind:        string(treatment.KindMultiDose),
			PatientID:   sched.PatientID,
			CaregiverID: req.CaregiverID,
			DoseNumber:  rec.DoseNumber,
			TotalDoses:  sched.TotalDoses,
		}
		if invoice != nil {
			payload.InvoiceID = invoice.ID
		}
		if err := s.Events.Append(ctx, newEvent(EventDoseAdministered, sched.ID, now, payload)); err != nil {
			return err
		}
		if sched.Status == treatment.StatusCompleted {
			if err := s.Events.Append(ctx, newEvent(EventScheduleCompleted, sched.ID, now, payload)); err != nil {
				return err
			}
		}
		if err := e.appendDepletionEvents(ctx, s, depleted, now); err != nil {
			return err
		}

		if err := e.reevaluateDischarge(ctx, s, sched.PatientID, now); err != nil {
			return err
		}

		out = sched
		return nil
	})
	if err != nil {
		span.RecordError(err)
		e.countFailure(err)
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.DosesAdministered.Inc()
		e.metrics.CompletionDuration.Observe(e.now().Sub(start).Seconds())
	}
	e.logger.Info("dose administered",
		zap.String("schedule_id", out.ID),
		zap.String("caregiver_id", req.CaregiverID),
		zap.Int("completed_doses", out.CompletedDoses),
		zap.Int("total_doses", out.TotalDoses),
		zap.String("status", string(out.Status)))

	return out, nil
}

// CompleteTask completes a legacy single-shot task through the same
// consumption, billing, and discharge pipeline. When the caller supplies no
// structured quantities and the task names a medicine, the deduction
// quantity is inferred from the free-text dosage as a best-effort fallback
// for unmigrated data.
func (e *Engine) CompleteTask(ctx context.Context, req AdministerRequest) (*treatment.Task, error) {
	ctx, span := e.tracer.Start(ctx, "complete_task",
		trace.WithAttributes(attribute.String("task_id", req.WorkItemID)))
	defer span.End()

	var out *treatment.Task
	err := e.db.InTx(ctx, func(ctx context.Context, s Stores) error {
		task, err := s.Work.GetTask(ctx, req.WorkItemID)
		if err != nil {
			return err
		}

		now := e.now()
		if err := task.EnsurePending(); err != nil {
			return err
		}

		lines := req.Consumed
		if len(lines) == 0 && task.MedicineID != nil {
			lines = []treatment.ConsumedMedicine{{
				MedicineID: *task.MedicineID,
				Quantity:   treatment.InferDoseQuantity(task.Dosage),
			}}
		}

		if _, _, err := e.consumeStock(ctx, s, consumption{
			patientID:   task.PatientID,
			caregiverID: req.CaregiverID,
			workItemID:  task.ID,
			lines:       lines,
			at:          now,
		}); err != nil {
			return err
		}

		if err := task.Complete(req.CaregiverID, req.Note, lines, now); err != nil {
			return err
		}
		if err := s.Work.SaveTask(ctx, task); err != nil {
			return err
		}

		if err := s.Events.Append(ctx, newEvent(EventTaskCompleted, task.ID, now, DoseAdministeredPayload{
			WorkItemID:  task.ID,
			Kind:        string(treatment.KindSingleShot),
			PatientID:   task.PatientID,
			CaregiverID: req.CaregiverID,
		})); err != nil {
			return err
		}

		if err := e.reevaluateDischarge(ctx, s, task.PatientID, now); err != nil {
			return err
		}

		out = task
		return nil
	})
	if err != nil {
		span.RecordError(err)
		e.countFailure(err)
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.DosesAdministered.Inc()
	}
	e.logger.Info("task completed",
		zap.String("task_id", out.ID),
		zap.String("caregiver_id", req.CaregiverID))

	return out, nil
}

func (e *Engine) appendDepletionEvents(ctx context.Context, s Stores, depleted []*inventory.Medicine, at time.Time) error {
	for _, m := range depleted {
		evt := newEvent(EventStockDepleted, m.ID, at, StockDepletedPayload{MedicineID: m.ID, Name: m.Name})
		if err := s.Events.Append(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) countFailure(err error) {
	if e.metrics == nil {
		return
	}
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		e.metrics.InsufficientStock.Inc()
	case errors.Is(err, treatment.ErrConflict):
		e.metrics.DoseConflicts.Inc()
	}
}
