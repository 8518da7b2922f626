package writer

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	appconfig "p2pflow/config"
	"p2pflow/logger"
	"p2pflow/models"
)

// KafkaPublisher streams appended records to a Kafka topic for downstream
// analytics consumers. Like the archive writer it runs only after a
// successful append and its failures are not fatal to the cycle.
type KafkaPublisher struct {
	config *appconfig.Config
	writer *kafka.Writer
	log    *logger.Log
}

func NewKafkaPublisher(cfg *appconfig.Config) (*KafkaPublisher, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kp := &KafkaPublisher{
		config: cfg,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:    cfg.Storage.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		log: logger.GetLogger(),
	}
	kp.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka publisher initialized")
	return kp, nil
}

// Publish emits each record of the cycle as one JSON message, keyed by side
// so downstream consumers can partition by direction.
func (kp *KafkaPublisher) Publish(ctx context.Context, result *models.CycleResult) error {
	records := result.Records()
	if len(records) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			kp.log.WithComponent("kafka_publisher").WithError(err).Warn("failed to marshal record")
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Side.Label()),
			Value: data,
		})
	}

	if err := kp.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}

	kp.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"batch_id": result.BatchID,
		"records":  len(msgs),
	}).Debug("cycle batch published")
	return nil
}

func (kp *KafkaPublisher) Close() {
	kp.writer.Close()
	kp.log.WithComponent("kafka_publisher").Debug("kafka publisher closed")
}
