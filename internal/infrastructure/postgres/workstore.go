package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/caretrack/fulfillment/internal/domain/treatment"
)

// WorkStore persists prescriptions, treatment schedules, and legacy care
// tasks.
type WorkStore struct {
	q       querier
	locking bool
}

func (s *WorkStore) forUpdate() string {
	if s.locking {
		return " FOR UPDATE"
	}
	return ""
}

// GetPrescription loads a prescription with its medication lines.
func (s *WorkStore) GetPrescription(ctx context.Context, id string) (*treatment.Prescription, error) {
	query := `
		SELECT id, patient_id, doctor_id, caregiver_id, status, medications, issued_at
		FROM prescriptions
		WHERE id = $1
	`

	var (
		p    treatment.Prescription
		meds []byte
	)
	err := s.q.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.PatientID, &p.DoctorID, &p.CaregiverID, &p.Status, &meds, &p.IssuedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("prescription %s: %w", id, treatment.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load prescription: %w", err)
	}

	if err := json.Unmarshal(meds, &p.Medications); err != nil {
		return nil, fmt.Errorf("decode medications: %w", err)
	}
	return &p, nil
}

// PatientCaregiver returns the patient's assigned caregiver, nil when the
// patient has none or is unknown.
func (s *WorkStore) PatientCaregiver(ctx context.Context, patientID string) (*string, error) {
	var caregiverID *string
	err := s.q.QueryRow(ctx, `SELECT caregiver_id FROM patients WHERE id = $1`, patientID).Scan(&caregiverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load patient caregiver: %w", err)
	}
	return caregiverID, nil
}

// CreateSchedules inserts the generated schedules.
func (s *WorkStore) CreateSchedules(ctx context.Context, schedules []*treatment.Schedule) error {
	query := `
		INSERT INTO treatment_schedules
		(id, prescription_id, patient_id, admission_id, caregiver_id, medication_name,
		 dosage, instructions, times, frequency_per_day, duration_days, total_doses,
		 completed_doses, status, scheduled_time, dose_history, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	for _, sched := range schedules {
		history, err := json.Marshal(sched.DoseHistory)
		if err != nil {
			return fmt.Errorf("encode dose history: %w", err)
		}
		_, err = s.q.Exec(ctx, query,
			sched.ID, sched.PrescriptionID, sched.PatientID, sched.AdmissionID,
			sched.CaregiverID, sched.MedicationName, sched.Dosage, sched.Instructions,
			sched.Times, sched.FrequencyPerDay, sched.DurationDays, sched.TotalDoses,
			sched.CompletedDoses, sched.Status, sched.ScheduledTime, history, sched.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert schedule %s: %w", sched.ID, err)
		}
	}
	return nil
}

const scheduleColumns = `
	id, prescription_id, patient_id, admission_id, caregiver_id, medication_name,
	dosage, instructions, times, frequency_per_day, duration_days, total_doses,
	completed_doses, status, scheduled_time, dose_history, created_at, completed_at
`

// GetSchedule loads one schedule, locking the row inside a transaction so
// completions for the same schedule serialize.
func (s *WorkStore) GetSchedule(ctx context.Context, id string) (*treatment.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM treatment_schedules WHERE id = $1` + s.forUpdate()

	row := s.q.QueryRow(ctx, query, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, treatment.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	return sched, nil
}

func scanSchedule(row pgx.Row) (*treatment.Schedule, error) {
	var (
		sched   treatment.Schedule
		history []byte
	)
	err := row.Scan(
		&sched.ID, &sched.PrescriptionID, &sched.PatientID, &sched.AdmissionID,
		&sched.CaregiverID, &sched.MedicationName, &sched.Dosage, &sched.Instructions,
		&sched.Times, &sched.FrequencyPerDay, &sched.DurationDays, &sched.TotalDoses,
		&sched.CompletedDoses, &sched.Status, &sched.ScheduledTime, &history,
		&sched.CreatedAt, &sched.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &sched.DoseHistory); err != nil {
			return nil, fmt.Errorf("decode dose history: %w", err)
		}
	}
	return &sched, nil
}

// SaveSchedule persists the mutable part of a schedule.
func (s *WorkStore) SaveSchedule(ctx context.Context, sched *treatment.Schedule) error {
	history, err := json.Marshal(sched.DoseHistory)
	if err != nil {
		return fmt.Errorf("encode dose history: %w", err)
	}

	query := `
		UPDATE treatment_schedules
		SET completed_doses = $2, status = $3, scheduled_time = $4,
		    dose_history = $5, completed_at = $6
		WHERE id = $1
	`
	_, err = s.q.Exec(ctx, query,
		sched.ID, sched.CompletedDoses, sched.Status, sched.ScheduledTime,
		history, sched.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule %s: %w", sched.ID, err)
	}
	return nil
}

const taskColumns = `
	id, patient_id, admission_id, caregiver_id, title, medication_name, medicine_id,
	dosage, urgent, status, due_at, created_at, completed_at, completed_by, note
`

// GetTask loads one legacy care task, locked inside a transaction.
func (s *WorkStore) GetTask(ctx context.Context, id string) (*treatment.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM care_tasks WHERE id = $1` + s.forUpdate()

	task, err := scanTask(s.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, treatment.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

func scanTask(row pgx.Row) (*treatment.Task, error) {
	var (
		task        treatment.Task
		completedBy *string
		note        *string
	)
	err := row.Scan(
		&task.ID, &task.PatientID, &task.AdmissionID, &task.CaregiverID, &task.Title,
		&task.MedicationName, &task.MedicineID, &task.Dosage, &task.Urgent, &task.Status,
		&task.DueAt, &task.CreatedAt, &task.CompletedAt, &completedBy, &note,
	)
	if err != nil {
		return nil, err
	}
	if completedBy != nil {
		task.CompletedBy = *completedBy
	}
	if note != nil {
		task.Note = *note
	}
	return &task, nil
}

// SaveTask persists the mutable part of a task.
func (s *WorkStore) SaveTask(ctx context.Context, task *treatment.Task) error {
	query := `
		UPDATE care_tasks
		SET status = $2, completed_at = $3, completed_by = $4, note = $5
		WHERE id = $1
	`
	_, err := s.q.Exec(ctx, query,
		task.ID, task.Status, task.CompletedAt, task.CompletedBy, task.Note,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	return nil
}

// CountPendingByPatient counts remaining pending schedules and tasks
// combined.
func (s *WorkStore) CountPendingByPatient(ctx context.Context, patientID string) (int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM treatment_schedules WHERE patient_id = $1 AND status = 'pending') +
			(SELECT COUNT(*) FROM care_tasks WHERE patient_id = $1 AND status = 'pending')
	`
	var count int
	if err := s.q.QueryRow(ctx, query, patientID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending work: %w", err)
	}
	return count, nil
}

// ListByCaregiver returns the caregiver's pending schedules and tasks as a
// merged worklist.
func (s *WorkStore) ListByCaregiver(ctx context.Context, caregiverID string) ([]treatment.WorkItem, error) {
	var items []treatment.WorkItem

	query := `SELECT ` + scheduleColumns + `
		FROM treatment_schedules
		WHERE caregiver_id = $1 AND status = 'pending'
		ORDER BY scheduled_time ASC`

	rows, err := s.q.Query(ctx, query, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		items = append(items, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	taskQuery := `SELECT ` + taskColumns + `
		FROM care_tasks
		WHERE caregiver_id = $1 AND status = 'pending'
		ORDER BY due_at ASC`

	taskRows, err := s.q.Query(ctx, taskQuery, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		task, err := scanTask(taskRows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, task)
	}
	return items, taskRows.Err()
}

// ListUnassigned returns pending schedules with no resolvable caregiver.
func (s *WorkStore) ListUnassigned(ctx context.Context) ([]*treatment.Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM treatment_schedules
		WHERE caregiver_id IS NULL AND status = 'pending'
		ORDER BY scheduled_time ASC`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unassigned: %w", err)
	}
	defer rows.Close()

	var schedules []*treatment.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}
