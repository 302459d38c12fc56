// Package idempotency provides the inbox pattern for exactly-once handling
// of retried dose submissions.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing state of an inbox entry.
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
)

// ErrDuplicate indicates the key was already fully processed.
var ErrDuplicate = errors.New("duplicate request: already processed")

// ErrInProgress indicates another handler currently owns the key.
var ErrInProgress = errors.New("request in progress by another handler")

// Entry is one inbox record.
type Entry struct {
	Key       string
	Handler   string
	Status    Status
	Result    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Config holds inbox tuning.
type Config struct {
	// DefaultTTL bounds how long a processed key suppresses retries.
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	// RecoveryTimeout is when a STARTED entry counts as a crashed handler.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// Inbox deduplicates retried requests by idempotency key.
type Inbox struct {
	pool   *pgxpool.Pool
	config Config
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates an inbox.
func NewInbox(pool *pgxpool.Pool, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("idempotency-inbox"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Result is the outcome of an idempotent execution.
type Result struct {
	// IsNew is false when the stored result was replayed.
	IsNew  bool
	Result json.RawMessage
}

// ProcessFunc runs the guarded operation and returns its serializable
// result.
type ProcessFunc func(ctx context.Context) (json.RawMessage, error)

// Process executes fn at most once per key. A replay returns the stored
// result; a concurrent execution returns ErrInProgress.
func (i *Inbox) Process(ctx context.Context, key, handler string, fn ProcessFunc) (*Result, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handler),
		))
	defer span.End()

	entry, err := i.getEntry(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check inbox: %w", err)
	}

	if entry != nil {
		switch entry.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &Result{IsNew: false, Result: entry.Result}, nil
		case StatusStarted:
			if time.Since(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return nil, ErrInProgress
			}
			if err := i.markRecoverable(ctx, key); err != nil {
				return nil, fmt.Errorf("mark recoverable: %w", err)
			}
		case StatusRecoverable:
			span.SetAttributes(attribute.Bool("recovered", true))
		}
	}

	if err := i.claim(ctx, key, handler); err != nil {
		// Lost the race to another handler: replay its result when it
		// already finished, otherwise report the in-flight execution.
		if errors.Is(err, ErrDuplicate) {
			entry, getErr := i.getEntry(ctx, key)
			if getErr == nil && entry.Status == StatusFinished {
				span.SetAttributes(attribute.Bool("duplicate", true))
				return &Result{IsNew: false, Result: entry.Result}, nil
			}
			return nil, ErrInProgress
		}
		return nil, err
	}

	result, fnErr := fn(ctx)
	if fnErr != nil {
		// Leave the key recoverable so the caller's retry reprocesses.
		if err := i.markRecoverable(ctx, key); err != nil {
			i.logger.Error("mark recoverable failed", zap.Error(err))
		}
		span.RecordError(fnErr)
		return nil, fnErr
	}

	if err := i.markFinished(ctx, key, result); err != nil {
		i.logger.Error("mark finished failed", zap.Error(err))
	}

	return &Result{IsNew: true, Result: result}, nil
}

// GenerateKey derives a deterministic key from a dose submission. The
// timestamp truncates to the minute to tolerate client clock drift on
// retries.
func GenerateKey(caregiverID, workItemID string, at time.Time) string {
	data := strings.Join([]string{
		caregiverID,
		workItemID,
		at.Truncate(time.Minute).UTC().Format(time.RFC3339),
	}, "|")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func (i *Inbox) getEntry(ctx context.Context, key string) (*Entry, error) {
	query := `
		SELECT idempotency_key, handler, status, result, created_at, updated_at, expires_at
		FROM idempotency_inbox
		WHERE idempotency_key = $1
	`
	entry := &Entry{}
	err := i.pool.QueryRow(ctx, query, key).Scan(
		&entry.Key, &entry.Handler, &entry.Status, &entry.Result,
		&entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (i *Inbox) claim(ctx context.Context, key, handler string) error {
	query := `
		INSERT INTO idempotency_inbox (idempotency_key, handler, status, expires_at)
		VALUES ($1, $2, $3, NOW() + make_interval(secs => $4))
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE idempotency_inbox.status = 'RECOVERABLE'
		RETURNING idempotency_key
	`
	var returned string
	err := i.pool.QueryRow(ctx, query, key, handler, StatusStarted, i.config.DefaultTTL.Seconds()).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	return err
}

func (i *Inbox) markFinished(ctx context.Context, key string, result json.RawMessage) error {
	query := `
		UPDATE idempotency_inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3
	`
	_, err := i.pool.Exec(ctx, query, StatusFinished, result, key)
	return err
}

func (i *Inbox) markRecoverable(ctx context.Context, key string) error {
	query := `
		UPDATE idempotency_inbox
		SET status = $1, updated_at = NOW()
		WHERE idempotency_key = $2
	`
	_, err := i.pool.Exec(ctx, query, StatusRecoverable, key)
	return err
}

// StartCleanup launches the expiry sweep.
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop halts the cleanup loop.
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if err := i.cleanup(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) cleanup(ctx context.Context) error {
	result, err := i.pool.Exec(ctx, `DELETE FROM idempotency_inbox WHERE expires_at < NOW()`)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", result.RowsAffected()))
	}
	return nil
}

// RecoverStaleEntries frees STARTED keys whose handler crashed.
func (i *Inbox) RecoverStaleEntries(ctx context.Context) (int64, error) {
	query := `
		UPDATE idempotency_inbox
		SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED'
		  AND updated_at < NOW() - make_interval(secs => $1)
	`
	result, err := i.pool.Exec(ctx, query, i.config.RecoveryTimeout.Seconds())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
