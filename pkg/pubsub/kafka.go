package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/graham924/blog-feng-yu/pkg/log"
)

// channelToTopic converts a Redis-style channel to a Kafka topic.
//
//	"blog:chat:events" → "blog-chat-events"
func channelToTopic(channel string) (string, error) {
	if channel == "" || strings.ContainsAny(channel, "*? ") {
		return "", fmt.Errorf("invalid channel: %q", channel)
	}
	return strings.ReplaceAll(channel, ":", "-"), nil
}

// KafkaPublisher implements Publisher on top of a Kafka producer. Event keys
// become message keys, so events for one record stay on one partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	config   KafkaConfig
	doneCh   chan struct{}
}

// NewKafkaPublisher creates a producer and makes sure the topics for the
// given channels exist.
func NewKafkaPublisher(cfg KafkaConfig, channels ...string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer: p,
		config:   cfg,
		doneCh:   make(chan struct{}),
	}

	go kp.deliveryReportHandler()

	if err := kp.ensureTopics(channels); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to ensure kafka topics (may already exist)")
	}

	return kp, nil
}

func (k *KafkaPublisher) ensureTopics(channels []string) error {
	if len(channels) == 0 {
		return nil
	}

	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	topics := make([]kafka.TopicSpecification, 0, len(channels))
	for _, ch := range channels {
		topic, err := channelToTopic(ch)
		if err != nil {
			return err
		}
		topics = append(topics, kafka.TopicSpecification{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, topics)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			l := log.L()
			l.Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("failed to create kafka topic")
		}
	}

	return nil
}

func (k *KafkaPublisher) deliveryReportHandler() {
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l := log.L()
			l.Warn().Err(m.TopicPartition.Error).Msg("kafka delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish produces the event to the topic derived from channel.
func (k *KafkaPublisher) Publish(ctx context.Context, channel string, event *Event) error {
	topic, err := channelToTopic(channel)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Value: data,
	}
	if event.Key != "" {
		msg.Key = []byte(event.Key)
	}

	if err := k.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Close flushes pending messages and closes the producer.
func (k *KafkaPublisher) Close() error {
	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh
	return nil
}
