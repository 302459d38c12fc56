// Package notifier implements the due-dose notifier: a periodic scan over
// pending schedules that alerts assigned caregivers shortly before a dose
// is due.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/observability/metrics"
)

// Config holds notifier configuration.
type Config struct {
	// Interval is how often to scan for due doses.
	Interval time.Duration
	// Lookahead is the forward-looking window a dose must fall into.
	Lookahead time.Duration
	// DedupTTL is how long a (schedule, due time) pair stays suppressed
	// after its first notification.
	DedupTTL time.Duration
}

// DefaultConfig returns the reference scan parameters.
func DefaultConfig() Config {
	return Config{
		Interval:  60 * time.Second,
		Lookahead: 5 * time.Minute,
		DedupTTL:  30 * time.Minute,
	}
}

// DueDose is one pending schedule inside the lookahead window, joined with
// the assigned caregiver and the patient's current bed and room.
type DueDose struct {
	ScheduleID     string
	PatientID      string
	PatientName    string
	MedicationName string
	Dosage         string
	ScheduledTime  time.Time
	CaregiverID    string
	Channel        string
	ChannelAddress string
	OptedIn        bool
	RoomNumber     string
	BedNumber      string
}

// Store queries pending schedules due inside a window.
type Store interface {
	ListDueDoses(ctx context.Context, from, until time.Time) ([]DueDose, error)
}

// Ledger enforces at-most-once delivery per dedup key within a TTL.
type Ledger interface {
	// TryMark records the key and reports true when this caller won the
	// claim; false means the key was already recorded inside its TTL.
	TryMark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Publisher hands a built notification to the delivery pipeline.
// Delivery is fire-and-forget for the scan loop: publish failures are
// logged and never affect schedule state.
type Publisher interface {
	Publish(ctx context.Context, n *Notification) error
}

// Notifier is the long-lived scanner. One instance runs per deployment;
// Start is idempotent and an immediate scan precedes the ticker.
type Notifier struct {
	config    Config
	store     Store
	ledger    Ledger
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a notifier. Metrics may be nil.
func New(cfg Config, store Store, ledger Ledger, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultConfig().Lookahead
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultConfig().DedupTTL
	}
	return &Notifier{
		config:    cfg,
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("due-dose-notifier"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the scan loop: one immediate scan, then one per interval.
// Calling Start on a running notifier is a no-op.
func (n *Notifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		n.logger.Warn("notifier already started")
		return
	}
	n.started = true

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})

	go n.loop(ctx)
	n.logger.Info("due-dose notifier started",
		zap.Duration("interval", n.config.Interval),
		zap.Duration("lookahead", n.config.Lookahead))
}

// Stop halts the scan loop and waits for the in-flight scan to finish.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.started = false
	cancel, done := n.cancel, n.done
	n.mu.Unlock()

	cancel()
	<-done
	n.logger.Info("due-dose notifier stopped")
}

func (n *Notifier) loop(ctx context.Context) {
	defer close(n.done)

	n.Scan(ctx)

	ticker := time.NewTicker(n.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Scan(ctx)
		}
	}
}

// Scan runs one pass: query pending schedules due inside the lookahead
// window, skip caregivers who have not opted in, suppress duplicates via
// the ledger, and publish one notification per remaining schedule.
// Failures are logged and swallowed; they never fail the loop.
func (n *Notifier) Scan(ctx context.Context) {
	ctx, span := n.tracer.Start(ctx, "due_dose_scan")
	defer span.End()

	if n.metrics != nil {
		n.metrics.NotifierScans.Inc()
	}

	from := n.now()
	until := from.Add(n.config.Lookahead)

	doses, err := n.store.ListDueDoses(ctx, from, until)
	if err != nil {
		n.logger.Error("due-dose query failed", zap.Error(err))
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.Int("due_doses", len(doses)))

	for _, d := range doses {
		n.notify(ctx, d)
	}
}

func (n *Notifier) notify(ctx context.Context, d DueDose) {
	if d.CaregiverID == "" {
		n.skip("unassigned")
		return
	}
	if !d.OptedIn {
		n.skip("not_opted_in")
		return
	}

	key := DedupKey(d.ScheduleID, d.ScheduledTime)
	claimed, err := n.ledger.TryMark(ctx, key, n.config.DedupTTL)
	if err != nil {
		n.logger.Error("dedup ledger failed",
			zap.String("schedule_id", d.ScheduleID),
			zap.Error(err))
		return
	}
	if !claimed {
		n.skip("already_notified")
		return
	}

	msg := n.buildNotification(d)
	if err := n.publisher.Publish(ctx, msg); err != nil {
		// Claimed but undelivered: delivery is at-most-once by design, so
		// the alert is lost rather than duplicated.
		n.logger.Error("notification publish failed",
			zap.String("schedule_id", d.ScheduleID),
			zap.String("caregiver_id", d.CaregiverID),
			zap.Error(err))
		return
	}

	if n.metrics != nil {
		n.metrics.NotificationsQueued.Inc()
	}
	n.logger.Debug("notification queued",
		zap.String("schedule_id", d.ScheduleID),
		zap.String("caregiver_id", d.CaregiverID),
		zap.Time("due", d.ScheduledTime))
}

func (n *Notifier) skip(reason string) {
	if n.metrics != nil {
		n.metrics.NotificationsSkipped.WithLabelValues(reason).Inc()
	}
}

// DedupKey derives the ledger key for one (schedule, due time) pair.
func DedupKey(scheduleID string, due time.Time) string {
	return fmt.Sprintf("due-dose:%s:%d", scheduleID, due.Unix())
}
