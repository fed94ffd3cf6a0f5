// Package events publishes flag change events for downstream consumers
// (analytics, notification fan-out). Publishing is best-effort: a failed
// publish is logged and counted but never fails the mutation, which has
// already committed and invalidated by the time the event goes out.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Event types published by the control plane.
const (
	TypeFlagCreated = "flag.created"
	TypeFlagUpdated = "flag.updated"
	TypeFlagDeleted = "flag.deleted"
	TypeFlagKilled  = "flag.killed"
)

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, topic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers: brokerList,
		Topic:   topic,
	}
}

// FlagEventMessage is a lifecycle event for a flag mutation.
type FlagEventMessage struct {
	Type         string    `json:"type"`
	FlagKey      string    `json:"flag_key"`
	Environments []string  `json:"environments,omitempty"`
	Actor        string    `json:"actor"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Producer handles producing flag events to Kafka
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish publishes a flag event, keyed by flag key so all events for one
// flag land on the same partition in order.
func (p *Producer) Publish(ctx context.Context, evt *FlagEventMessage) error {
	ctx, span := tracing.StartSpan(ctx, "Events.Publish")
	defer span.End()

	if evt == nil {
		return fmt.Errorf("flag event is nil")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal flag event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "flag_key", Value: []byte(evt.FlagKey)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.FlagKey),
		Value:   data,
		Headers: headers,
	}); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(evt.Type, "error").Inc()
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish flag event to Kafka topic %s", p.topic)
		return err
	}

	metrics.EventsPublishedTotal.WithLabelValues(evt.Type, "success").Inc()
	p.logger.WithContext(ctx).Debugf("Published flag event %s for %s", evt.Type, evt.FlagKey)
	return nil
}

// Stats returns producer statistics
func (p *Producer) Stats() kafka.WriterStats {
	return p.writer.Stats()
}
