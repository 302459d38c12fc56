package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/caretrack/fulfillment/internal/domain/occupancy"
	"github.com/caretrack/fulfillment/internal/domain/treatment"
)

// OccupancyStore persists admissions, beds, and rooms.
type OccupancyStore struct {
	q       querier
	locking bool
}

func (s *OccupancyStore) forUpdate() string {
	if s.locking {
		return " FOR UPDATE"
	}
	return ""
}

// ActiveAdmission returns the patient's active admission, nil when the
// patient is not admitted.
func (s *OccupancyStore) ActiveAdmission(ctx context.Context, patientID string) (*occupancy.Admission, error) {
	query := `
		SELECT id, patient_id, type, status, admitted_at, discharged_at, total_days, bed_id, room_id
		FROM admissions
		WHERE patient_id = $1 AND status = 'active'
	` + s.forUpdate()

	var a occupancy.Admission
	err := s.q.QueryRow(ctx, query, patientID).Scan(
		&a.ID, &a.PatientID, &a.Type, &a.Status, &a.AdmittedAt,
		&a.DischargedAt, &a.TotalDays, &a.BedID, &a.RoomID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active admission: %w", err)
	}
	return &a, nil
}

// SaveAdmission persists the mutable part of an admission.
func (s *OccupancyStore) SaveAdmission(ctx context.Context, a *occupancy.Admission) error {
	query := `
		UPDATE admissions
		SET status = $2, discharged_at = $3, total_days = $4
		WHERE id = $1
	`
	_, err := s.q.Exec(ctx, query, a.ID, a.Status, a.DischargedAt, a.TotalDays)
	if err != nil {
		return fmt.Errorf("update admission %s: %w", a.ID, err)
	}
	return nil
}

// GetBed loads one bed, locked inside a transaction.
func (s *OccupancyStore) GetBed(ctx context.Context, id string) (*occupancy.Bed, error) {
	query := `
		SELECT id, room_id, number, status, patient_id, admission_id, released_at
		FROM beds
		WHERE id = $1
	` + s.forUpdate()

	var b occupancy.Bed
	err := s.q.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.RoomID, &b.Number, &b.Status, &b.PatientID, &b.AdmissionID, &b.ReleasedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bed %s: %w", id, treatment.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load bed: %w", err)
	}
	return &b, nil
}

// SaveBed persists the mutable part of a bed.
func (s *OccupancyStore) SaveBed(ctx context.Context, b *occupancy.Bed) error {
	query := `
		UPDATE beds
		SET status = $2, patient_id = $3, admission_id = $4, released_at = $5
		WHERE id = $1
	`
	_, err := s.q.Exec(ctx, query, b.ID, b.Status, b.PatientID, b.AdmissionID, b.ReleasedAt)
	if err != nil {
		return fmt.Errorf("update bed %s: %w", b.ID, err)
	}
	return nil
}

// BedsInRoom lists the room's beds.
func (s *OccupancyStore) BedsInRoom(ctx context.Context, roomID string) ([]occupancy.Bed, error) {
	query := `
		SELECT id, room_id, number, status, patient_id, admission_id, released_at
		FROM beds
		WHERE room_id = $1
		ORDER BY number
	`
	rows, err := s.q.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list beds: %w", err)
	}
	defer rows.Close()

	var beds []occupancy.Bed
	for rows.Next() {
		var b occupancy.Bed
		if err := rows.Scan(&b.ID, &b.RoomID, &b.Number, &b.Status, &b.PatientID, &b.AdmissionID, &b.ReleasedAt); err != nil {
			return nil, fmt.Errorf("scan bed: %w", err)
		}
		beds = append(beds, b)
	}
	return beds, rows.Err()
}

// GetRoom loads one room, locked inside a transaction.
func (s *OccupancyStore) GetRoom(ctx context.Context, id string) (*occupancy.Room, error) {
	query := `SELECT id, number, status FROM rooms WHERE id = $1` + s.forUpdate()

	var r occupancy.Room
	err := s.q.QueryRow(ctx, query, id).Scan(&r.ID, &r.Number, &r.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", id, treatment.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	return &r, nil
}

// SaveRoom persists a room's status.
func (s *OccupancyStore) SaveRoom(ctx context.Context, r *occupancy.Room) error {
	_, err := s.q.Exec(ctx, `UPDATE rooms SET status = $2 WHERE id = $1`, r.ID, r.Status)
	if err != nil {
		return fmt.Errorf("update room %s: %w", r.ID, err)
	}
	return nil
}
