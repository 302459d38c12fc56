package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/domain/billing"
	"github.com/caretrack/fulfillment/internal/domain/inventory"
	"github.com/caretrack/fulfillment/internal/domain/occupancy"
	"github.com/caretrack/fulfillment/internal/domain/treatment"
)

// memState is an in-memory implementation of every store port. Get returns
// copies and Save stores copies, mirroring row semantics, so uncommitted
// mutations never leak into the shared state.
type memState struct {
	prescriptions     map[string]*treatment.Prescription
	patientCaregivers map[string]*string
	schedules         map[string]*treatment.Schedule
	tasks             map[string]*treatment.Task
	medicines         map[string]*inventory.Medicine
	invoices          []*billing.Invoice
	txns              []billing.PharmacyTransaction
	sequences         map[int]int64
	admissions        map[string]*occupancy.Admission
	beds              map[string]*occupancy.Bed
	rooms             map[string]*occupancy.Room
	events            []Event
}

func newMemState() *memState {
	return &memState{
		prescriptions:     map[string]*treatment.Prescription{},
		patientCaregivers: map[string]*string{},
		schedules:         map[string]*treatment.Schedule{},
		tasks:             map[string]*treatment.Task{},
		medicines:         map[string]*inventory.Medicine{},
		sequences:         map[int]int64{},
		admissions:        map[string]*occupancy.Admission{},
		beds:              map[string]*occupancy.Bed{},
		rooms:             map[string]*occupancy.Room{},
	}
}

func (m *memState) clone() *memState {
	c := newMemState()
	for k, v := range m.prescriptions {
		p := *v
		c.prescriptions[k] = &p
	}
	for k, v := range m.patientCaregivers {
		c.patientCaregivers[k] = v
	}
	for k, v := range m.schedules {
		s := *v
		c.schedules[k] = &s
	}
	for k, v := range m.tasks {
		t := *v
		c.tasks[k] = &t
	}
	for k, v := range m.medicines {
		med := *v
		c.medicines[k] = &med
	}
	for k, v := range m.admissions {
		a := *v
		c.admissions[k] = &a
	}
	for k, v := range m.beds {
		b := *v
		c.beds[k] = &b
	}
	for k, v := range m.rooms {
		r := *v
		c.rooms[k] = &r
	}
	for k, v := range m.sequences {
		c.sequences[k] = v
	}
	c.invoices = append(c.invoices, m.invoices...)
	c.txns = append(c.txns, m.txns...)
	c.events = append(c.events, m.events...)
	return c
}

// WorkStore

func (m *memState) GetPrescription(_ context.Context, id string) (*treatment.Prescription, error) {
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, treatment.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memState) PatientCaregiver(_ context.Context, patientID string) (*string, error) {
	return m.patientCaregivers[patientID], nil
}

func (m *memState) CreateSchedules(_ context.Context, schedules []*treatment.Schedule) error {
	for _, s := range schedules {
		cp := *s
		m.schedules[s.ID] = &cp
	}
	return nil
}

func (m *memState) GetSchedule(_ context.Context, id string) (*treatment.Schedule, error) {
	s, ok := m.schedules[id]
	if !ok {
		return nil, treatment.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memState) GetTask(_ context.Context, id string) (*treatment.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, treatment.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memState) SaveSchedule(_ context.Context, s *treatment.Schedule) error {
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *memState) SaveTask(_ context.Context, t *treatment.Task) error {
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memState) CountPendingByPatient(_ context.Context, patientID string) (int, error) {
	count := 0
	for _, s := range m.schedules {
		if s.PatientID == patientID && s.Status == treatment.StatusPending {
			count++
		}
	}
	for _, t := range m.tasks {
		if t.PatientID == patientID && t.Status == treatment.StatusPending {
			count++
		}
	}
	return count, nil
}

func (m *memState) ListByCaregiver(_ context.Context, caregiverID string) ([]treatment.WorkItem, error) {
	var items []treatment.WorkItem
	for _, s := range m.schedules {
		if s.CaregiverID != nil && *s.CaregiverID == caregiverID && s.Status == treatment.StatusPending {
			cp := *s
			items = append(items, &cp)
		}
	}
	for _, t := range m.tasks {
		if t.CaregiverID != nil && *t.CaregiverID == caregiverID && t.Status == treatment.StatusPending {
			cp := *t
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (m *memState) ListUnassigned(_ context.Context) ([]*treatment.Schedule, error) {
	var out []*treatment.Schedule
	for _, s := range m.schedules {
		if s.CaregiverID == nil && s.Status == treatment.StatusPending {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InventoryStore

func (m *memState) GetMedicines(_ context.Context, ids []string) ([]*inventory.Medicine, error) {
	var meds []*inventory.Medicine
	for _, id := range ids {
		if med, ok := m.medicines[id]; ok {
			cp := *med
			meds = append(meds, &cp)
		}
	}
	return meds, nil
}

func (m *memState) SaveMedicine(_ context.Context, med *inventory.Medicine) error {
	cp := *med
	m.medicines[med.ID] = &cp
	return nil
}

// BillingStore

func (m *memState) NextInvoiceSequence(_ context.Context, year int) (int64, error) {
	m.sequences[year]++
	return m.sequences[year], nil
}

func (m *memState) CreateInvoice(_ context.Context, inv *billing.Invoice) error {
	cp := *inv
	m.invoices = append(m.invoices, &cp)
	return nil
}

func (m *memState) AppendTransactions(_ context.Context, txns []billing.PharmacyTransaction) error {
	m.txns = append(m.txns, txns...)
	return nil
}

// OccupancyStore

func (m *memState) ActiveAdmission(_ context.Context, patientID string) (*occupancy.Admission, error) {
	for _, a := range m.admissions {
		if a.PatientID == patientID && a.Status == occupancy.AdmissionActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memState) SaveAdmission(_ context.Context, a *occupancy.Admission) error {
	cp := *a
	m.admissions[a.ID] = &cp
	return nil
}

func (m *memState) GetBed(_ context.Context, id string) (*occupancy.Bed, error) {
	b, ok := m.beds[id]
	if !ok {
		return nil, treatment.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memState) SaveBed(_ context.Context, b *occupancy.Bed) error {
	cp := *b
	m.beds[b.ID] = &cp
	return nil
}

func (m *memState) BedsInRoom(_ context.Context, roomID string) ([]occupancy.Bed, error) {
	var beds []occupancy.Bed
	for _, b := range m.beds {
		if b.RoomID == roomID {
			beds = append(beds, *b)
		}
	}
	return beds, nil
}

func (m *memState) GetRoom(_ context.Context, id string) (*occupancy.Room, error) {
	r, ok := m.rooms[id]
	if !ok {
		return nil, treatment.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memState) SaveRoom(_ context.Context, r *occupancy.Room) error {
	cp := *r
	m.rooms[r.ID] = &cp
	return nil
}

// EventStore

func (m *memState) Append(_ context.Context, evt Event) error {
	m.events = append(m.events, evt)
	return nil
}

func (m *memState) stores() Stores {
	return Stores{Work: m, Inventory: m, Billing: m, Occupancy: m, Events: m}
}

// memDB implements TxRunner with rollback-on-error semantics: fn runs
// against a clone and the clone replaces the shared state only on success.
// Transactions run one at a time, the way row locks serialize concurrent
// completions against the same medicines in the real store.
type memDB struct {
	mu    sync.Mutex
	state *memState
}

func (d *memDB) InTx(_ context.Context, fn func(ctx context.Context, s Stores) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	work := d.state.clone()
	if err := fn(context.Background(), work.stores()); err != nil {
		return err
	}
	*d.state = *work
	return nil
}

func newTestEngine(state *memState) *Engine {
	e := New(&memDB{state: state}, state.stores(), nil, zap.NewNop())
	e.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return e
}

func seedSchedule(state *memState, total, completed int) *treatment.Schedule {
	s := &treatment.Schedule{
		ID:              "sched-1",
		PrescriptionID:  "rx-1",
		PatientID:       "pat-1",
		MedicationName:  "Amoxicillin",
		Dosage:          "500mg",
		FrequencyPerDay: 2,
		DurationDays:    3,
		TotalDoses:      total,
		CompletedDoses:  completed,
		Status:          treatment.StatusPending,
		ScheduledTime:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	state.schedules[s.ID] = s
	return s
}

func seedMedicine(state *memState, id string, qty int, price float64) {
	state.medicines[id] = &inventory.Medicine{
		ID:        id,
		Name:      "Med " + id,
		Quantity:  qty,
		UnitPrice: price,
		Status:    inventory.StatusInStock,
	}
}

func TestAdministerDoseConsumesStockAndInvoices(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 0)
	seedMedicine(state, "med-1", 10, 1.5)
	e := newTestEngine(state)

	sched, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
		Consumed:    []treatment.ConsumedMedicine{{MedicineID: "med-1", Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, sched.CompletedDoses)
	assert.Equal(t, treatment.StatusPending, sched.Status)
	assert.Equal(t, 8, state.medicines["med-1"].Quantity)

	require.Len(t, state.txns, 1)
	assert.Equal(t, billing.TransactionDispense, state.txns[0].Type)
	assert.Equal(t, 2, state.txns[0].Quantity)
	assert.Equal(t, 3.0, state.txns[0].TotalAmount)
	assert.Equal(t, "sched-1", state.txns[0].WorkItemID)

	require.Len(t, state.invoices, 1)
	assert.Equal(t, "INV-2026-000001", state.invoices[0].Number)
	assert.Equal(t, 3.0, state.invoices[0].TotalAmount)
	require.Len(t, state.invoices[0].Items, 1)

	require.Len(t, state.events, 1)
	assert.Equal(t, EventDoseAdministered, state.events[0].Type)
}

func TestAdministerDoseInsufficientStockLeavesNoPartialEffects(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 0)
	seedMedicine(state, "med-1", 10, 1.5)
	seedMedicine(state, "med-2", 1, 2.0)
	e := newTestEngine(state)

	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
		Consumed: []treatment.ConsumedMedicine{
			{MedicineID: "med-1", Quantity: 2},
			{MedicineID: "med-2", Quantity: 3},
		},
	})
	require.Error(t, err)

	var stockErr *inventory.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "med-2", stockErr.MedicineID)

	// Nothing moved: stock, schedule, ledger, invoices, events.
	assert.Equal(t, 10, state.medicines["med-1"].Quantity)
	assert.Equal(t, 1, state.medicines["med-2"].Quantity)
	assert.Equal(t, 0, state.schedules["sched-1"].CompletedDoses)
	assert.Empty(t, state.txns)
	assert.Empty(t, state.invoices)
	assert.Empty(t, state.events)
}

func TestAdministerDoseDuplicateLinesSummedBeforeCheck(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 0)
	seedMedicine(state, "med-1", 3, 1.0)
	e := newTestEngine(state)

	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
		Consumed: []treatment.ConsumedMedicine{
			{MedicineID: "med-1", Quantity: 2},
			{MedicineID: "med-1", Quantity: 2},
		},
	})
	require.Error(t, err)

	var stockErr *inventory.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 4, stockErr.Required)
	assert.Equal(t, 3, state.medicines["med-1"].Quantity)
}

func TestAdministerDoseZeroPricedProducesNoInvoice(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 0)
	seedMedicine(state, "med-1", 10, 0)
	e := newTestEngine(state)

	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
		Consumed:    []treatment.ConsumedMedicine{{MedicineID: "med-1", Quantity: 1}},
	})
	require.NoError(t, err)

	// Ledger still records the movement, but no invoice is issued.
	assert.Len(t, state.txns, 1)
	assert.Empty(t, state.invoices)
	assert.Equal(t, 9, state.medicines["med-1"].Quantity)
}

func TestAdministerDoseDepletionFlipsStatusAndEmitsEvent(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 0)
	seedMedicine(state, "med-1", 2, 1.0)
	e := newTestEngine(state)

	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
		Consumed:    []treatment.ConsumedMedicine{{MedicineID: "med-1", Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, state.medicines["med-1"].Quantity)
	assert.Equal(t, inventory.StatusOutOfStock, state.medicines["med-1"].Status)

	var depletion *Event
	for i := range state.events {
		if state.events[i].Type == EventStockDepleted {
			depletion = &state.events[i]
		}
	}
	require.NotNil(t, depletion)
	assert.Equal(t, "med-1", depletion.AggregateID)
}

func TestAdministerDoseConflictOnCompleted(t *testing.T) {
	state := newMemState()
	s := seedSchedule(state, 6, 6)
	s.Status = treatment.StatusCompleted
	e := newTestEngine(state)

	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, treatment.ErrConflict))
}

func TestAdministerDoseConflictPrecedesStockCheck(t *testing.T) {
	state := newMemState()
	s := seedSchedule(state, 6, 6)
	s.Status = treatment.StatusCompleted
	seedMedicine(state, "med-1", 0, 1.0)
	e := newTestEngine(state)

	// The schedule is finished and the line is unsatisfiable; the finished
	// schedule wins.
	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
		Consumed:    []treatment.ConsumedMedicine{{MedicineID: "med-1", Quantity: 1}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, treatment.ErrConflict))

	var stockErr *inventory.InsufficientStockError
	assert.False(t, errors.As(err, &stockErr))
	assert.Equal(t, 0, state.medicines["med-1"].Quantity)
	assert.Empty(t, state.txns)
}

func TestCompleteTaskConflictPrecedesStockCheck(t *testing.T) {
	state := newMemState()
	medID := "med-1"
	seedMedicine(state, medID, 0, 1.0)
	done := time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)
	state.tasks["task-1"] = &treatment.Task{
		ID:          "task-1",
		PatientID:   "pat-1",
		MedicineID:  &medID,
		Dosage:      "2 dona",
		Status:      treatment.StatusCompleted,
		CompletedAt: &done,
	}
	e := newTestEngine(state)

	_, err := e.CompleteTask(context.Background(), AdministerRequest{
		WorkItemID:  "task-1",
		CaregiverID: "cg-1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, treatment.ErrConflict))

	var stockErr *inventory.InsufficientStockError
	assert.False(t, errors.As(err, &stockErr))
	assert.Empty(t, state.txns)
}

func TestConcurrentDosesNeverOverdrawStock(t *testing.T) {
	const (
		workers  = 5
		perDose  = 2
		stock    = 5 // floor(5/2) = 2 completions can succeed
		expected = stock / perDose
	)

	state := newMemState()
	seedMedicine(state, "med-1", stock, 1.0)
	for i := 0; i < workers; i++ {
		id := fmt.Sprintf("sched-%d", i)
		state.schedules[id] = &treatment.Schedule{
			ID:             id,
			PrescriptionID: "rx-1",
			PatientID:      fmt.Sprintf("pat-%d", i),
			TotalDoses:     6,
			Status:         treatment.StatusPending,
		}
	}
	e := newTestEngine(state)

	var wg sync.WaitGroup
	var successes, rejections atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.AdministerDose(context.Background(), AdministerRequest{
				WorkItemID:  id,
				CaregiverID: "cg-1",
				Consumed:    []treatment.ConsumedMedicine{{MedicineID: "med-1", Quantity: perDose}},
			})
			var stockErr *inventory.InsufficientStockError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &stockErr):
				rejections.Add(1)
			}
		}(fmt.Sprintf("sched-%d", i))
	}
	wg.Wait()

	assert.Equal(t, int32(expected), successes.Load())
	assert.Equal(t, int32(workers-expected), rejections.Load())
	assert.Equal(t, stock-expected*perDose, state.medicines["med-1"].Quantity)
	assert.GreaterOrEqual(t, state.medicines["med-1"].Quantity, 0)
	assert.Len(t, state.txns, expected)
}

func TestFinalDoseCompletesScheduleAndDischargesOutpatient(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 5)

	bedID := "bed-1"
	roomID := "room-1"
	patientID := "pat-1"
	admitted := time.Date(2026, 2, 28, 20, 0, 0, 0, time.UTC)
	state.admissions["adm-1"] = &occupancy.Admission{
		ID:         "adm-1",
		PatientID:  patientID,
		Type:       occupancy.Outpatient,
		Status:     occupancy.AdmissionActive,
		AdmittedAt: admitted,
		BedID:      &bedID,
		RoomID:     &roomID,
	}
	state.beds[bedID] = &occupancy.Bed{
		ID:        bedID,
		RoomID:    roomID,
		Status:    occupancy.ResourceOccupied,
		PatientID: &patientID,
	}
	state.rooms[roomID] = &occupancy.Room{ID: roomID, Status: occupancy.ResourceOccupied}

	e := newTestEngine(state)

	sched, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
	})
	require.NoError(t, err)

	assert.Equal(t, treatment.StatusCompleted, sched.Status)
	require.NotNil(t, sched.CompletedAt)

	adm := state.admissions["adm-1"]
	assert.Equal(t, occupancy.AdmissionDischarged, adm.Status)
	// Admitted 14 hours before discharge: one billed day.
	assert.Equal(t, 1, adm.TotalDays)

	assert.Equal(t, occupancy.ResourceAvailable, state.beds[bedID].Status)
	assert.Nil(t, state.beds[bedID].PatientID)
	assert.Equal(t, occupancy.ResourceAvailable, state.rooms[roomID].Status)

	types := make(map[EventType]int)
	for _, evt := range state.events {
		types[evt.Type]++
	}
	assert.Equal(t, 1, types[EventDoseAdministered])
	assert.Equal(t, 1, types[EventScheduleCompleted])
	assert.Equal(t, 1, types[EventPatientDischarged])
}

func TestInpatientNeverAutoDischarged(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 5)
	state.admissions["adm-1"] = &occupancy.Admission{
		ID:         "adm-1",
		PatientID:  "pat-1",
		Type:       occupancy.Inpatient,
		Status:     occupancy.AdmissionActive,
		AdmittedAt: time.Date(2026, 2, 25, 8, 0, 0, 0, time.UTC),
	}
	e := newTestEngine(state)

	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
	})
	require.NoError(t, err)

	assert.Equal(t, occupancy.AdmissionActive, state.admissions["adm-1"].Status)
}

func TestOutpatientNotDischargedWhileWorkRemains(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 5)
	state.tasks["task-1"] = &treatment.Task{
		ID:        "task-1",
		PatientID: "pat-1",
		Status:    treatment.StatusPending,
	}
	state.admissions["adm-1"] = &occupancy.Admission{
		ID:         "adm-1",
		PatientID:  "pat-1",
		Type:       occupancy.Outpatient,
		Status:     occupancy.AdmissionActive,
		AdmittedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	e := newTestEngine(state)

	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
	})
	require.NoError(t, err)

	assert.Equal(t, occupancy.AdmissionActive, state.admissions["adm-1"].Status)
}

func TestCompleteTaskInfersQuantityFromDosage(t *testing.T) {
	state := newMemState()
	medID := "med-1"
	seedMedicine(state, medID, 10, 1.0)
	state.tasks["task-1"] = &treatment.Task{
		ID:         "task-1",
		PatientID:  "pat-1",
		MedicineID: &medID,
		Dosage:     "2 dona",
		Status:     treatment.StatusPending,
	}
	e := newTestEngine(state)

	task, err := e.CompleteTask(context.Background(), AdministerRequest{
		WorkItemID:  "task-1",
		CaregiverID: "cg-1",
	})
	require.NoError(t, err)

	assert.Equal(t, treatment.StatusCompleted, task.Status)
	assert.Equal(t, 8, state.medicines[medID].Quantity)
	require.Len(t, state.txns, 1)
	assert.Equal(t, 2, state.txns[0].Quantity)
}

func TestCompleteTaskWithoutMedicineConsumesNothing(t *testing.T) {
	state := newMemState()
	state.tasks["task-1"] = &treatment.Task{
		ID:        "task-1",
		PatientID: "pat-1",
		Status:    treatment.StatusPending,
	}
	e := newTestEngine(state)

	task, err := e.CompleteTask(context.Background(), AdministerRequest{
		WorkItemID:  "task-1",
		CaregiverID: "cg-1",
		Note:        "wound dressing",
	})
	require.NoError(t, err)

	assert.Equal(t, treatment.StatusCompleted, task.Status)
	assert.Equal(t, "wound dressing", task.Note)
	assert.Empty(t, state.txns)
	assert.Empty(t, state.invoices)
}

func TestGenerateSchedulesRequiresActivePrescription(t *testing.T) {
	state := newMemState()
	state.prescriptions["rx-1"] = &treatment.Prescription{
		ID:        "rx-1",
		PatientID: "pat-1",
		Status:    treatment.PrescriptionCancelled,
		Medications: []treatment.Medication{
			{Name: "Amoxicillin", FrequencyPerDay: 2, DurationDays: 3},
		},
	}
	e := newTestEngine(state)

	_, err := e.GenerateSchedules(context.Background(), "rx-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, treatment.ErrConflict))
	assert.Empty(t, state.schedules)
}

func TestGenerateSchedulesPersistsPerMedication(t *testing.T) {
	state := newMemState()
	cg := "cg-pat"
	state.patientCaregivers["pat-1"] = &cg
	state.prescriptions["rx-1"] = &treatment.Prescription{
		ID:        "rx-1",
		PatientID: "pat-1",
		Status:    treatment.PrescriptionActive,
		Medications: []treatment.Medication{
			{Name: "Amoxicillin", FrequencyPerDay: 2, DurationDays: 3},
			{Name: "Ibuprofen"},
		},
	}
	e := newTestEngine(state)

	schedules, err := e.GenerateSchedules(context.Background(), "rx-1")
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	assert.Len(t, state.schedules, 2)

	assert.Equal(t, 6, schedules[0].TotalDoses)
	assert.Equal(t, 1, schedules[1].TotalDoses)
	for _, s := range schedules {
		require.NotNil(t, s.CaregiverID)
		assert.Equal(t, "cg-pat", *s.CaregiverID)
	}
}

func TestInvoiceNumbersIncrementPerYear(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 0)
	seedMedicine(state, "med-1", 10, 1.0)
	e := newTestEngine(state)

	for i := 0; i < 2; i++ {
		_, err := e.AdministerDose(context.Background(), AdministerRequest{
			WorkItemID:  "sched-1",
			CaregiverID: "cg-1",
			Consumed:    []treatment.ConsumedMedicine{{MedicineID: "med-1", Quantity: 1}},
		})
		require.NoError(t, err)
	}

	require.Len(t, state.invoices, 2)
	assert.Equal(t, "INV-2026-000001", state.invoices[0].Number)
	assert.Equal(t, "INV-2026-000002", state.invoices[1].Number)
}

func TestExplicitUnitPriceOverridesStored(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 0)
	seedMedicine(state, "med-1", 10, 5.0)
	e := newTestEngine(state)

	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
		Consumed:    []treatment.ConsumedMedicine{{MedicineID: "med-1", Quantity: 2, UnitPrice: 1.25}},
	})
	require.NoError(t, err)

	require.Len(t, state.invoices, 1)
	assert.Equal(t, 2.5, state.invoices[0].TotalAmount)
	require.Len(t, state.txns, 1)
	assert.Equal(t, 1.25, state.txns[0].UnitPrice)
}

func TestUnknownMedicineIsNotFound(t *testing.T) {
	state := newMemState()
	seedSchedule(state, 6, 0)
	e := newTestEngine(state)

	_, err := e.AdministerDose(context.Background(), AdministerRequest{
		WorkItemID:  "sched-1",
		CaregiverID: "cg-1",
		Consumed:    []treatment.ConsumedMedicine{{MedicineID: "missing", Quantity: 1}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, treatment.ErrNotFound))
	assert.Equal(t, 0, state.schedules["sched-1"].CompletedDoses)
}
