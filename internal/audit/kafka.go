package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultTopic is the Kafka topic audit events are exported to.
const DefaultTopic = "electorate.audit.v1"

// KafkaSink exports audit events to Kafka for downstream compliance
// consumers. Events are keyed by identity key so one voter's trail stays in
// order within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to the brokers and ensures the topic exists.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.ProduceRequestTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic: %w", resp.Err)
	}
	return nil
}

type kafkaEvent struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	IdentityKey  string    `json:"identity_key,omitempty"`
	CredentialID string    `json:"credential_id,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	ClientIP     string    `json:"client_ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	At           time.Time `json:"at"`
}

// Publish produces one event synchronously. The worker calls this off the
// request path, so the produce latency is invisible to clients.
func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(kafkaEvent{
		ID:           event.ID.String(),
		Action:       string(event.Action),
		IdentityKey:  event.IdentityKey,
		CredentialID: event.CredentialID,
		Outcome:      event.Outcome,
		Detail:       event.Detail,
		RequestID:    event.RequestID,
		ClientIP:     event.ClientIP,
		UserAgent:    event.UserAgent,
		At:           event.At,
	})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.IdentityKey),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() {
	s.client.Close()
}
