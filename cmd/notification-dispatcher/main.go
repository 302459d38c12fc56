// Package main provides the notification dispatcher entry point. It
// consumes queued caregiver alerts and delivers them through the messaging
// gateway, one circuit breaker per channel.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/infrastructure/redpanda"
	"github.com/caretrack/fulfillment/internal/notifier"
	"github.com/caretrack/fulfillment/internal/observability/metrics"
	"github.com/caretrack/fulfillment/internal/observability/tracing"
	"github.com/caretrack/fulfillment/pkg/circuitbreaker"
	"github.com/caretrack/fulfillment/pkg/workerpool"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	brokers := []string{"localhost:9092"}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = []string{b}
	}
	gatewayURL := os.Getenv("MESSAGING_GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = "http://localhost:8090/notify"
	}

	tracerProvider, err := tracing.Init(context.Background(), tracing.DefaultConfig("notification-dispatcher"))
	if err != nil {
		logger.Warn("tracing init failed, continuing without export", zap.Error(err))
	} else {
		defer tracerProvider.Shutdown(context.Background())
	}

	m := metrics.New()

	// Ensure topics exist before subscribing.
	if admin, err := redpanda.NewAdmin(brokers, logger); err == nil {
		if err := admin.EnsureTopics(context.Background()); err != nil {
			logger.Warn("ensure topics failed", zap.Error(err))
		}
		admin.Close()
	}

	transport := notifier.NewWebhookTransport(gatewayURL, logger)

	breakerState := func(name string, from, to circuitbreaker.State) {
		value := 0.0
		switch to {
		case circuitbreaker.StateOpen:
			value = 1
		case circuitbreaker.StateHalfOpen:
			value = 0.5
		}
		m.CircuitBreakerState.WithLabelValues(name).Set(value)
	}
	breakers := circuitbreaker.NewManager(breakerState, logger)

	poolCfg := workerpool.DefaultConfig()
	pool, err := workerpool.New(poolCfg, func(ctx context.Context, job *workerpool.Job) error {
		return deliver(ctx, job, transport, breakers, m, logger)
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	pool.Start()
	defer pool.Stop()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = brokers
	consumerCfg.GroupID = "notification-dispatcher"
	consumerCfg.Topics = []string{redpanda.TopicCareNotifications}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		return pool.Submit(&workerpool.Job{
			ID:      string(msg.Key),
			Payload: msg.Value,
			Context: ctx,
		})
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("notification dispatcher started")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if !pool.IsHealthy() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		port := os.Getenv("METRICS_PORT")
		if port == "" {
			port = "9092"
		}
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	logger.Info("notification dispatcher stopped")
}

func deliver(ctx context.Context, job *workerpool.Job, transport notifier.Transport, breakers *circuitbreaker.Manager, m *metrics.Metrics, logger *zap.Logger) error {
	raw, ok := job.Payload.([]byte)
	if !ok {
		logger.Error("unexpected payload type", zap.String("job_id", job.ID))
		return nil
	}

	var n notifier.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		// Malformed alerts are dropped, not retried.
		logger.Error("malformed notification", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	channel := n.Channel
	if channel == "" {
		channel = "webhook"
	}

	cb := breakers.GetOrCreate(channel)
	err := cb.Execute(ctx, func() error {
		return transport.Send(ctx, &n)
	})
	if err != nil {
		m.NotificationsFailed.Inc()
		logger.Error("notification delivery failed",
			zap.String("notification_id", n.ID),
			zap.String("caregiver_id", n.CaregiverID),
			zap.String("channel", channel),
			zap.Bool("circuit_open", circuitbreaker.IsOpenError(err)),
			zap.Error(err))
		return err
	}

	m.NotificationsSent.Inc()
	logger.Info("notification delivered",
		zap.String("notification_id", n.ID),
		zap.String("caregiver_id", n.CaregiverID),
		zap.String("channel", channel))
	return nil
}
