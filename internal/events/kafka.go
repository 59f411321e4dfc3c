package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go-dataset-pipeline/internal/metrics"
	"go-dataset-pipeline/internal/model"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer used by KafkaEmitter.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes events as JSON messages keyed by dataset id, so
// the events of one dataset stay ordered within a partition.
type KafkaEmitter struct {
	writer      MessageWriter
	logger      *slog.Logger
	interval    time.Duration
	maxInterval time.Duration
}

// NewKafkaWriter returns a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// NewKafkaEmitter wraps w.
func NewKafkaEmitter(w MessageWriter, logger *slog.Logger) *KafkaEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaEmitter{
		writer:      w,
		logger:      logger.With("component", "events", "sink", "kafka"),
		interval:    100 * time.Millisecond,
		maxInterval: 5 * time.Second,
	}
}

// Emit publishes ev, retrying temporary broker errors until ctx is done.
func (k *KafkaEmitter) Emit(ctx context.Context, ev model.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	err = writeWithBackoff(ctx, k.writer, k.logger, k.interval, k.maxInterval, kafka.Message{
		Key:   []byte(ev.DatasetID),
		Value: value,
		Time:  ev.Date,
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.CounterEventsEmitted.WithLabelValues("kafka", result).Inc()
	return err
}

// Close flushes and closes the underlying writer.
func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}

func writeWithBackoff(ctx context.Context, writer MessageWriter, logger *slog.Logger, interval, maxInterval time.Duration, messages ...kafka.Message) error {
	var berr error
	tries := 0
retry:
	for {
		tries++
		err := writer.WriteMessages(ctx, messages...)
		switch err := err.(type) {
		case nil:
			return nil

		case kafka.Error:
			berr = err
			if !err.Temporary() {
				break retry
			}

		case kafka.WriteErrors:
			var remaining []kafka.Message
			for i, m := range messages {
				switch err := err[i].(type) {
				case nil:
					continue

				case kafka.Error:
					if err.Temporary() {
						remaining = append(remaining, m)
						continue
					}
				}

				return errors.Wrap(err, "failed to deliver messages")
			}

			messages = remaining
			berr = err

		default:
			if berr == nil || err != context.DeadlineExceeded {
				berr = err
			}
			break retry
		}

		logger.Warn("temporary write error", "error", err, "try", tries)

		interval *= 2
		if interval > maxInterval {
			interval = maxInterval
		}
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			break retry
		}
	}

	return errors.Wrapf(berr, "failed to deliver messages after %d tries", tries)
}
