// Package kafka ships audit events to a Kafka topic, keyed by tenant so one
// tenant's events stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "kycgate/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the store needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Store implements audit.Store on a Kafka topic.
type Store struct {
	producer Producer
	topic    string
}

// New wraps an existing producer.
func New(producer Producer, topic string) *Store {
	return &Store{producer: producer, topic: topic}
}

// NewClient builds a franz-go client for brokers. The caller closes it.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordDeliveryTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// payload is the JSON document published for each event.
type payload struct {
	ID         string         `json:"id"`
	Category   string         `json:"category"`
	Action     string         `json:"action"`
	Severity   string         `json:"severity"`
	Timestamp  string         `json:"timestamp"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	ClientIP   string         `json:"client_ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Append publishes the event and waits for the broker acknowledgement.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(payload{
		ID:         event.ID,
		Category:   string(event.Category),
		Action:     event.Action,
		Severity:   string(event.Severity),
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
		TenantID:   event.TenantID,
		Stage:      event.Stage,
		Reason:     event.Reason,
		RequestID:  event.RequestID,
		ClientIP:   event.ClientIP,
		UserAgent:  event.UserAgent,
		Attributes: event.Attributes,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.TenantID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(event.Category)},
		},
		Timestamp: event.Timestamp,
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
