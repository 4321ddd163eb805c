package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/settleline/recon/internal/logging"
	"github.com/settleline/recon/internal/metrics"
	"github.com/settleline/recon/internal/transaction"
)

// feedMessage is the envelope the ingestion collaborator publishes on the
// normalized-events topic. Exactly one payload field is set per message.
type feedMessage struct {
	Type        string                             `json:"type"` // "transaction" or "settlement"
	Transaction *transaction.NormalizedTransaction `json:"transaction,omitempty"`
	Settlement  *transaction.PspSettlement         `json:"settlement,omitempty"`
}

// Consumer reads normalized events from Kafka and feeds them into the
// pipeline. Messages are committed after processing, giving at-least-once
// delivery; the pipeline's idempotency guard absorbs the replays.
type Consumer struct {
	reader   *kafka.Reader
	pipeline *Pipeline
}

// NewConsumer creates a Kafka consumer for the normalized-events feed.
func NewConsumer(brokers, topic, groupID string, pipeline *Pipeline) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  strings.Split(brokers, ","),
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		}),
		pipeline: pipeline,
	}
}

// Run consumes until ctx is cancelled. Malformed messages are committed and
// counted, never retried; processing failures leave the message uncommitted
// so the broker redelivers it.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("worker: fetch message: %w", err)
		}

		if err := c.handle(ctx, msg.Value); err != nil {
			metrics.KafkaMessagesTotal.WithLabelValues("error").Inc()
			logging.L(ctx).Error("feed message failed",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue // redelivered after rebalance or restart
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("worker: commit message: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var msg feedMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		// Poison pill: count it, commit it, move on.
		metrics.KafkaMessagesTotal.WithLabelValues("malformed").Inc()
		logging.L(ctx).Warn("dropping malformed feed message", "error", err)
		return nil
	}

	switch msg.Type {
	case "transaction":
		if msg.Transaction == nil {
			metrics.KafkaMessagesTotal.WithLabelValues("malformed").Inc()
			return nil
		}
		if err := c.pipeline.ProcessTransaction(ctx, msg.Transaction); err != nil {
			return err
		}
	case "settlement":
		if msg.Settlement == nil {
			metrics.KafkaMessagesTotal.WithLabelValues("malformed").Inc()
			return nil
		}
		if err := c.pipeline.ProcessSettlement(ctx, msg.Settlement); err != nil {
			return err
		}
	default:
		metrics.KafkaMessagesTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	metrics.KafkaMessagesTotal.WithLabelValues("ok").Inc()
	return nil
}
