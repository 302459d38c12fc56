package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretrack/fulfillment/internal/notifier"
)

// NotifierStore serves the due-dose scanner's read side and the dedup
// ledger. It runs on the pool directly; the scanner never mutates
// fulfillment state.
type NotifierStore struct {
	pool *pgxpool.Pool
}

// NewNotifierStore creates the scanner's store.
func NewNotifierStore(pool *pgxpool.Pool) *NotifierStore {
	return &NotifierStore{pool: pool}
}

// ListDueDoses returns pending schedules whose next dose falls inside
// [from, until), joined with the assigned caregiver and the patient's
// current bed and room.
func (s *NotifierStore) ListDueDoses(ctx context.Context, from, until time.Time) ([]notifier.DueDose, error) {
	query := `
		SELECT ts.id, ts.patient_id, p.name, ts.medication_name, ts.dosage,
		       ts.scheduled_time,
		       COALESCE(ts.caregiver_id, ''),
		       COALESCE(c.channel, ''), COALESCE(c.channel_address, ''),
		       COALESCE(c.notify_opt_in, false),
		       COALESCE(r.number, ''), COALESCE(b.number, '')
		FROM treatment_schedules ts
		JOIN patients p ON p.id = ts.patient_id
		LEFT JOIN caregivers c ON c.id = ts.caregiver_id
		LEFT JOIN admissions a ON a.patient_id = ts.patient_id AND a.status = 'active'
		LEFT JOIN beds b ON b.id = a.bed_id
		LEFT JOIN rooms r ON r.id = a.room_id
		WHERE ts.status = 'pending'
		  AND ts.scheduled_time >= $1
		  AND ts.scheduled_time < $2
		ORDER BY ts.scheduled_time ASC
	`

	rows, err := s.pool.Query(ctx, query, from, until)
	if err != nil {
		return nil, fmt.Errorf("query due doses: %w", err)
	}
	defer rows.Close()

	var doses []notifier.DueDose
	for rows.Next() {
		var d notifier.DueDose
		err := rows.Scan(
			&d.ScheduleID, &d.PatientID, &d.PatientName, &d.MedicationName,
			&d.Dosage, &d.ScheduledTime, &d.CaregiverID, &d.Channel,
			&d.ChannelAddress, &d.OptedIn, &d.RoomNumber, &d.BedNumber,
		)
		if err != nil {
			return nil, fmt.Errorf("scan due dose: %w", err)
		}
		doses = append(doses, d)
	}
	return doses, rows.Err()
}

// TryMark claims a dedup key for the TTL. The insert wins on a fresh key;
// the conditional update wins only when the previous claim has expired.
// Exactly one concurrent caller sees a row back.
func (s *NotifierStore) TryMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO notification_log (dedup_key, notified_at, expires_at)
		VALUES ($1, NOW(), NOW() + make_interval(secs => $2))
		ON CONFLICT (dedup_key) DO UPDATE
		SET notified_at = NOW(), expires_at = NOW() + make_interval(secs => $2)
		WHERE notification_log.expires_at < NOW()
		RETURNING dedup_key
	`

	var claimed string
	err := s.pool.QueryRow(ctx, query, key, ttl.Seconds()).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim dedup key: %w", err)
	}
	return true, nil
}
