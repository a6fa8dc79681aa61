package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/metrics"
)

// RabbitJobQueue реализует очередь задач через AMQP.
type RabbitJobQueue struct {
	conn  *amqp.Connection
	queue string

	mu         sync.Mutex
	publish    *amqp.Channel
	consume    *amqp.Channel
	deliveries <-chan amqp.Delivery
	prefetch   int
}

var _ domain.JobQueue = (*RabbitJobQueue)(nil)

// NewRabbitJobQueue подключается к брокеру и объявляет долговечную очередь.
func NewRabbitJobQueue(amqpURL, queue string, prefetch int) (*RabbitJobQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitJobQueue{conn: conn, queue: queue, publish: ch, prefetch: prefetch}, nil
}

// Close закрывает соединение с брокером.
func (q *RabbitJobQueue) Close() error {
	return q.conn.Close()
}

// Enqueue публикует задачу в очередь.
func (q *RabbitJobQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	q.mu.Lock()
	err = q.publish.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	q.mu.Unlock()
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RabbitJobQueue) Receive(ctx context.Context) (domain.Job, domain.AckFunc, error) {
	deliveries, err := q.startConsumer()
	if err != nil {
		return domain.Job{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.Job{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			q.resetConsumer()
			return domain.Job{}, nil, errors.New("rabbitmq: канал доставки закрыт")
		}
		var job domain.Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Nack(false, false)
			return domain.Job{}, nil, fmt.Errorf("decode job: %w", err)
		}
		if job.Attempt == 0 {
			job.Attempt = 1
		}
		return job, q.acker(ctx, d, job), nil
	}
}

// acker при неудаче публикует копию с увеличенным номером попытки и подтверждает оригинал.
func (q *RabbitJobQueue) acker(ctx context.Context, d amqp.Delivery, job domain.Job) domain.AckFunc {
	ctx = context.WithoutCancel(ctx)
	return func(success bool) error {
		start := time.Now()
		if success {
			err := d.Ack(false)
			metrics.ObserveNetworkRequest("rabbitmq", "ack", q.queue, start, err)
			return err
		}
		job.Attempt++
		if err := q.Enqueue(ctx, job); err != nil {
			nackErr := d.Nack(false, true)
			metrics.ObserveNetworkRequest("rabbitmq", "nack", q.queue, start, nackErr)
			return errors.Join(err, nackErr)
		}
		err := d.Ack(false)
		metrics.ObserveNetworkRequest("rabbitmq", "nack", q.queue, start, err)
		return err
	}
}

func (q *RabbitJobQueue) startConsumer() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.consume = ch
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitJobQueue) resetConsumer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consume != nil {
		q.consume.Close()
	}
	q.consume = nil
	q.deliveries = nil
}
