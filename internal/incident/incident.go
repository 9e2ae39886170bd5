// Package incident records operational incidents (overbooking attempts,
// abandoned holds, failed bookings). Recording is best effort and never
// affects the booking that triggered it.
package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	"github.com/uptrace/bun"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type Sink interface {
	Record(ctx context.Context, inc models.Incident) error
}

// DBSink stores incidents in the incidents table.
type DBSink struct {
	Bun *bun.DB
}

func (d *DBSink) Record(ctx context.Context, inc models.Incident) error {
	if _, err := d.Bun.NewInsert().Model(&inc).Exec(ctx); err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// KafkaSink publishes incidents as JSON keyed by entity ID.
type KafkaSink struct {
	Writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{Writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func (k *KafkaSink) Record(ctx context.Context, inc models.Incident) error {
	value, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	return k.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(inc.EntityID), Value: value})
}

func (k *KafkaSink) Close() error {
	return k.Writer.Close()
}

// Multi records to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, inc models.Incident) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, inc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async queues incidents for a background worker. Record never blocks: a
// full queue drops the incident and logs it.
type Async struct {
	sink    Sink
	logger  *logger.Logger
	queue   chan models.Incident
	dropped atomic.Int64
	failed  atomic.Int64
	done    chan struct{}
}

func NewAsync(sink Sink, size int, log *logger.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	return &Async{
		sink:   sink,
		logger: log,
		queue:  make(chan models.Incident, size),
		done:   make(chan struct{}),
	}
}

func (a *Async) Record(_ context.Context, inc models.Incident) error {
	select {
	case a.queue <- inc:
	default:
		a.dropped.Add(1)
		a.logger.Warn("INCIDENT", fmt.Sprintf("Incident queue full, dropping %s for %s %s", inc.Type, inc.EntityType, inc.EntityID))
	}
	return nil
}

// Start drains the queue until ctx is cancelled, then flushes what is left.
func (a *Async) Start(ctx context.Context) {
	defer close(a.done)
	a.logger.Info("INCIDENT", "Incident worker started")
	for {
		select {
		case <-ctx.Done():
			a.flush()
			a.logger.Info("INCIDENT", "Incident worker stopped")
			return
		case inc := <-a.queue:
			a.write(context.Background(), inc)
		}
	}
}

// Wait blocks until Start has returned.
func (a *Async) Wait() {
	<-a.done
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }
func (a *Async) Failed() int64  { return a.failed.Load() }

func (a *Async) flush() {
	for {
		select {
		case inc := <-a.queue:
			a.write(context.Background(), inc)
		default:
			return
		}
	}
}

func (a *Async) write(ctx context.Context, inc models.Incident) {
	if err := a.sink.Record(ctx, inc); err != nil {
		a.failed.Add(1)
		a.logger.Error("INCIDENT", fmt.Sprintf("Failed to record %s incident for %s %s: %v", inc.Type, inc.EntityType, inc.EntityID, err))
	}
}
