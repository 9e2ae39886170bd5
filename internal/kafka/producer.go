package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// Producer writes to any topic; the topic is set per message.
type Producer struct {
	Writer *kafka.Writer
	logger *logger.Logger
}

// NewProducer builds an async writer. Delivery failures are reported to the
// logger and never to the caller.
func NewProducer(brokers []string, log *logger.Logger) *Producer {
	p := &Producer{logger: log}
	p.Writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				for _, m := range messages {
					log.Error("KAFKA", fmt.Sprintf("Failed to deliver to %s key=%s: %v", m.Topic, string(m.Key), err))
				}
			}
		},
	}
	return p
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// Publisher is satisfied by Producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// SeatEvents publishes seat status changes keyed by trip so that events of
// one trip stay ordered within a partition.
type SeatEvents struct {
	publisher Publisher
	topic     string
	logger    *logger.Logger
}

func NewSeatEvents(publisher Publisher, topic string, log *logger.Logger) *SeatEvents {
	return &SeatEvents{publisher: publisher, topic: topic, logger: log}
}

func (s *SeatEvents) PublishSeatStatus(ctx context.Context, ev models.SeatStatusChangeEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal seat event: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.topic, ev.TripID, value); err != nil {
		return err
	}
	s.logger.LogKafka("SEAT", s.topic, ev.TripID+"/"+strconv.Itoa(ev.SeatNumber)+" "+string(ev.State))
	return nil
}
