package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/warp/credit-engine/lending"
)

// KafkaConfig configures the notification producer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// messageWriter is the part of *kafkago.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink publishes each notification as a JSON message keyed by account
// id, so one account's notifications stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	return &KafkaSink{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafkago.RequireAll,
		},
		topic: cfg.Topic,
	}
}

func (k *KafkaSink) Publish(ctx context.Context, notifications ...lending.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	messages := make([]kafkago.Message, 0, len(notifications))
	for _, n := range notifications {
		value, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode notification %s: %w", n.ID, err)
		}
		messages = append(messages, kafkago.Message{
			Key:   []byte(n.AccountID),
			Value: value,
			Time:  n.OccurredAt,
			Headers: []kafkago.Header{
				{Key: "type", Value: []byte(n.Type)},
				{Key: "notification_id", Value: []byte(n.ID)},
			},
		})
	}
	if err := k.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
