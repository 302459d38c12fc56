package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	doses    []DueDose
	err      error
	lastFrom time.Time
	lastTo   time.Time
}

func (f *fakeStore) ListDueDoses(_ context.Context, from, until time.Time) ([]DueDose, error) {
	f.lastFrom, f.lastTo = from, until
	return f.doses, f.err
}

type fakeLedger struct {
	marked map[string]bool
	err    error
}

func (f *fakeLedger) TryMark(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.marked == nil {
		f.marked = map[string]bool{}
	}
	if f.marked[key] {
		return false, nil
	}
	f.marked[key] = true
	return true, nil
}

type fakePublisher struct {
	published []*Notification
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, n *Notification) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, n)
	return nil
}

func dueAt(t time.Time) DueDose {
	return DueDose{
		ScheduleID:     "sched-1",
		PatientID:      "pat-1",
		PatientName:    "Alisher Karimov",
		MedicationName: "Amoxicillin",
		Dosage:         "500mg",
		ScheduledTime:  t,
		CaregiverID:    "cg-1",
		Channel:        "webhook",
		ChannelAddress: "https://gateway.local/cg-1",
		OptedIn:        true,
		RoomNumber:     "204",
		BedNumber:      "B",
	}
}

func newTestNotifier(store Store, ledger Ledger, pub Publisher, at time.Time) *Notifier {
	n := New(DefaultConfig(), store, ledger, pub, nil, zap.NewNop())
	n.now = func() time.Time { return at }
	return n
}

func TestScanQueriesLookaheadWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	n := newTestNotifier(store, &fakeLedger{}, &fakePublisher{}, now)

	n.Scan(context.Background())

	assert.Equal(t, now, store.lastFrom)
	assert.Equal(t, now.Add(5*time.Minute), store.lastTo)
}

func TestScanPublishesDueDose(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	due := now.Add(3 * time.Minute)
	store := &fakeStore{doses: []DueDose{dueAt(due)}}
	pub := &fakePublisher{}
	n := newTestNotifier(store, &fakeLedger{}, pub, now)

	n.Scan(context.Background())

	require.Len(t, pub.published, 1)
	msg := pub.published[0]
	assert.Equal(t, "sched-1", msg.ScheduleID)
	assert.Equal(t, "cg-1", msg.CaregiverID)
	assert.Equal(t, "webhook", msg.Channel)
	assert.Equal(t, due, msg.DueAt)
	assert.Contains(t, msg.Body, "Amoxicillin 500mg")
	assert.Contains(t, msg.Body, "Alisher Karimov")
	assert.Contains(t, msg.Body, "room 204, bed B")
	assert.NotEmpty(t, msg.ID)
}

func TestScanSkipsUnassignedAndNotOptedIn(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	unassigned := dueAt(now.Add(time.Minute))
	unassigned.CaregiverID = ""
	optedOut := dueAt(now.Add(2 * time.Minute))
	optedOut.ScheduleID = "sched-2"
	optedOut.OptedIn = false

	store := &fakeStore{doses: []DueDose{unassigned, optedOut}}
	ledger := &fakeLedger{}
	pub := &fakePublisher{}
	n := newTestNotifier(store, ledger, pub, now)

	n.Scan(context.Background())

	assert.Empty(t, pub.published)
	// Skipped doses never reach the ledger.
	assert.Empty(t, ledger.marked)
}

func TestRepeatScanSuppressedByLedger(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{doses: []DueDose{dueAt(now.Add(3 * time.Minute))}}
	pub := &fakePublisher{}
	n := newTestNotifier(store, &fakeLedger{}, pub, now)

	n.Scan(context.Background())
	n.Scan(context.Background())

	assert.Len(t, pub.published, 1)
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{doses: []DueDose{dueAt(now.Add(time.Minute))}}
	pub := &fakePublisher{err: errors.New("broker down")}
	ledger := &fakeLedger{}
	n := newTestNotifier(store, ledger, pub, now)

	// Must not panic or propagate; the claim stays recorded (at-most-once).
	n.Scan(context.Background())

	assert.Empty(t, pub.published)
	assert.Len(t, ledger.marked, 1)
}

func TestStoreFailureIsSwallowed(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{err: errors.New("connection refused")}
	pub := &fakePublisher{}
	n := newTestNotifier(store, &fakeLedger{}, pub, now)

	n.Scan(context.Background())

	assert.Empty(t, pub.published)
}

func TestLedgerFailureSkipsPublish(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{doses: []DueDose{dueAt(now.Add(time.Minute))}}
	pub := &fakePublisher{}
	n := newTestNotifier(store, &fakeLedger{err: errors.New("timeout")}, pub, now)

	n.Scan(context.Background())

	assert.Empty(t, pub.published)
}

func TestStartStopIdempotent(t *testing.T) {
	store := &fakeStore{}
	n := New(Config{Interval: time.Hour}, store, &fakeLedger{}, &fakePublisher{}, nil, zap.NewNop())

	n.Start()
	n.Start()
	n.Stop()
	n.Stop()
}

func TestDedupKeyStablePerDueTime(t *testing.T) {
	due := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, DedupKey("sched-1", due), DedupKey("sched-1", due))
	assert.NotEqual(t, DedupKey("sched-1", due), DedupKey("sched-1", due.Add(12*time.Hour)))
	assert.NotEqual(t, DedupKey("sched-1", due), DedupKey("sched-2", due))
}
