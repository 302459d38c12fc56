package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/fulfillment"
	"github.com/caretrack/fulfillment/internal/infrastructure/redpanda"
)

// EventStore appends domain events to the transactional outbox. Entries
// commit with the unit of work that produced them and the relay publishes
// them afterwards.
type EventStore struct {
	q      querier
	logger *zap.Logger
}

// Append writes one event as an outbox entry.
func (s *EventStore) Append(ctx context.Context, evt fulfillment.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	envelope, err := json.Marshal(struct {
		ID          string          `json:"id"`
		Type        string          `json:"type"`
		AggregateID string          `json:"aggregate_id"`
		OccurredAt  string          `json:"occurred_at"`
		Data        json.RawMessage `json:"data"`
	}{
		ID:          evt.ID,
		Type:        string(evt.Type),
		AggregateID: evt.AggregateID,
		OccurredAt:  evt.OccurredAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
		Data:        payload,
	})
	if err != nil {
		return fmt.Errorf("encode event envelope: %w", err)
	}

	query := `
		INSERT INTO outbox (aggregate_id, event_type, payload, topic, partition_key)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.q.Exec(ctx, query,
		evt.AggregateID, string(evt.Type), envelope, eventTopic(evt.Type), evt.AggregateID,
	)
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}

	s.logger.Debug("event staged",
		zap.String("event_type", string(evt.Type)),
		zap.String("aggregate_id", evt.AggregateID))
	return nil
}

func eventTopic(t fulfillment.EventType) string {
	switch t {
	case fulfillment.EventPatientDischarged:
		return redpanda.TopicPatientEvents
	case fulfillment.EventStockDepleted:
		return redpanda.TopicInventoryEvents
	default:
		return redpanda.TopicTreatmentEvents
	}
}
