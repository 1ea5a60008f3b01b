package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Job asks the worker to charge an order.
type Job struct {
	OrderID uuid.UUID `json:"order_id"`
	Card    string    `json:"card"`
}

type Queue interface {
	Publish(ctx context.Context, job Job) error
	// Consume blocks until a job arrives or ctx is done.
	Consume(ctx context.Context) (Job, error)
}

// ChannelQueue is an in-process queue for memory mode and tests.
type ChannelQueue struct {
	jobs chan Job
}

func NewChannelQueue(size int) *ChannelQueue {
	return &ChannelQueue{jobs: make(chan Job, size)}
}

func (q *ChannelQueue) Publish(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Consume(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// KafkaQueue carries payment jobs on a topic, keyed by order id.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

func NewKafkaQueue(topic, groupID string, brokers ...string) *KafkaQueue {
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MaxBytes: 1e6,
		}),
	}
}

func (q *KafkaQueue) Publish(ctx context.Context, job Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal payment job: %w", err)
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.OrderID.String()),
		Value: value,
	})
}

func (q *KafkaQueue) Consume(ctx context.Context) (Job, error) {
	m, err := q.reader.ReadMessage(ctx)
	if err != nil {
		return Job{}, err
	}
	var job Job
	if err := json.Unmarshal(m.Value, &job); err != nil {
		return Job{}, fmt.Errorf("failed to parse payment job at offset %d: %w", m.Offset, err)
	}
	return job, nil
}

func (q *KafkaQueue) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
