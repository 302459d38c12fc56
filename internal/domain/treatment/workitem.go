package treatment

import (
	"sort"
	"time"
)

// Kind distinguishes the two pending-work variants in the caregiver
// worklist.
type Kind string

const (
	KindMultiDose  Kind = "multi_dose"
	KindSingleShot Kind = "single_shot"
)

// WorkItem is the common capability shared by multi-dose schedules and
// legacy single-shot tasks. The fulfillment engine completes work items
// through this interface so billing and discharge logic exists once, not
// per variant.
type WorkItem interface {
	ItemID() string
	ItemKind() Kind
	Patient() string
	Admission() *string
	Caregiver() *string
	Due() time.Time
	IsPending() bool
	// Complete records one administration against the item. For schedules
	// this advances the dose counter; for tasks it is terminal.
	Complete(caregiverID, note string, consumed []ConsumedMedicine, at time.Time) error
}

func (s *Schedule) ItemID() string     { return s.ID }
func (s *Schedule) ItemKind() Kind     { return KindMultiDose }
func (s *Schedule) Patient() string    { return s.PatientID }
func (s *Schedule) Admission() *string { return s.AdmissionID }
func (s *Schedule) Caregiver() *string { return s.CaregiverID }
func (s *Schedule) Due() time.Time     { return s.ScheduledTime }
func (s *Schedule) IsPending() bool    { return s.Status == StatusPending }

// Complete implements WorkItem for schedules by recording one dose.
func (s *Schedule) Complete(caregiverID, note string, consumed []ConsumedMedicine, at time.Time) error {
	_, err := s.Administer(caregiverID, note, consumed, at)
	return err
}

func (t *Task) ItemID() string     { return t.ID }
func (t *Task) ItemKind() Kind     { return KindSingleShot }
func (t *Task) Patient() string    { return t.PatientID }
func (t *Task) Admission() *string { return t.AdmissionID }
func (t *Task) Caregiver() *string { return t.CaregiverID }
func (t *Task) Due() time.Time     { return t.DueAt }
func (t *Task) IsPending() bool    { return t.Status == StatusPending }

// SortByDue orders a merged worklist by due time ascending, earliest first.
func SortByDue(items []WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Due().Before(items[j].Due())
	})
}
