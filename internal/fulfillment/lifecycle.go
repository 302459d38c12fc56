package fulfillment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/domain/occupancy"
)

// reevaluateDischarge runs after every successful completion, inside the
// same transaction. Patients on an active outpatient admission with no
// remaining pending work are discharged, their bed freed and their room's
// availability recomputed. Inpatient discharge is a separate workflow and
// is never triggered here.
func (e *Engine) reevaluateDischarge(ctx context.Context, s Stores, patientID string, at time.Time) error {
	adm, err := s.Occupancy.ActiveAdmission(ctx, patientID)
	if err != nil {
		return err
	}
	if adm == nil || adm.Type != occupancy.Outpatient {
		return nil
	}

	remaining, err := s.Work.CountPendingByPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	if err := adm.Discharge(at); err != nil {
		return err
	}
	if err := s.Occupancy.SaveAdmission(ctx, adm); err != nil {
		return err
	}

	if adm.BedID != nil {
		if err := e.releaseBed(ctx, s, *adm.BedID, at); err != nil {
			return err
		}
	}

	payload := PatientDischargedPayload{
		AdmissionID: adm.ID,
		PatientID:   adm.PatientID,
		TotalDays:   adm.TotalDays,
	}
	if adm.BedID != nil {
		payload.BedID = *adm.BedID
	}
	if err := s.Events.Append(ctx, newEvent(EventPatientDischarged, adm.ID, at, payload)); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.PatientsDischarged.Inc()
	}
	e.logger.Info("outpatient discharged",
		zap.String("admission_id", adm.ID),
		zap.String("patient_id", adm.PatientID),
		zap.Int("total_days", adm.TotalDays))

	return nil
}

func (e *Engine) releaseBed(ctx context.Context, s Stores, bedID string, at time.Time) error {
	bed, err := s.Occupancy.GetBed(ctx, bedID)
	if err != nil {
		return err
	}

	bed.Release(at)
	if err := s.Occupancy.SaveBed(ctx, bed); err != nil {
		return err
	}

	beds, err := s.Occupancy.BedsInRoom(ctx, bed.RoomID)
	if err != nil {
		return err
	}
	if !occupancy.RoomAvailable(beds) {
		return nil
	}

	room, err := s.Occupancy.GetRoom(ctx, bed.RoomID)
	if err != nil {
		return err
	}
	if room.Status == occupancy.ResourceAvailable {
		return nil
	}
	room.Status = occupancy.ResourceAvailable
	return s.Occupancy.SaveRoom(ctx, room)
}
