package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

// RabbitOpsQueue is an operator task queue on a durable RabbitMQ queue.
type RabbitOpsQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitOpsQueue connects to amqpURL and declares the queue.
func NewRabbitOpsQueue(amqpURL, queue string) (*RabbitOpsQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitOpsQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue publishes a persistent task message.
func (q *RabbitOpsQueue) Enqueue(ctx context.Context, task domain.OpsTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Timestamp:    task.CreatedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Receive waits for the next delivery. Ack settles it, a negative ack requeues it.
func (q *RabbitOpsQueue) Receive(ctx context.Context) (domain.OpsTask, domain.OpsAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.OpsTask{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.OpsTask{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.OpsTask{}, nil, errors.New("rabbitmq: delivery channel closed")
		}
		var task domain.OpsTask
		if err := json.Unmarshal(d.Body, &task); err != nil {
			_ = d.Nack(false, false)
			return domain.OpsTask{}, nil, fmt.Errorf("decode task: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return task, ack, nil
	}
}

func (q *RabbitOpsQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close releases the channel and connection.
func (q *RabbitOpsQueue) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}
