package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/infra/metrics"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// RabbitRunQueue реализует очередь прогонов поверх AMQP-канала RabbitMQ.
// Сообщения подтверждаются вручную: Nack с requeue возвращает задачу в
// очередь при сбое обработки. Потребитель на канале регистрируется ровно
// один раз: несколько потребителей на одном канале делят доставки
// round-robin, и сообщение, отданное брошенному потребителю, зависло бы
// неподтверждённым.
type RabbitRunQueue struct {
	conn    *amqp.Connection
	channel amqpChannel
	queue   string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.RunQueue = (*RabbitRunQueue)(nil)

// NewRabbitRunQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitRunQueue(amqpURL, queue string) (*RabbitRunQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := channel.Qos(1, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitRunQueue{conn: conn, channel: channel, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitRunQueue) Enqueue(ctx context.Context, job domain.DigestRunJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// consume лениво регистрирует единственного потребителя и кэширует его канал
// доставок. Повторные вызовы возвращают тот же канал.
func (q *RabbitRunQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume queue %s: %w", q.queue, err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Receive блокирующе читает задачу. Возвращённый ack обязателен к вызову:
// ack(true) подтверждает доставку, ack(false) возвращает сообщение в очередь.
func (q *RabbitRunQueue) Receive(ctx context.Context) (domain.DigestRunJob, domain.RunAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.DigestRunJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.DigestRunJob{}, nil, ctx.Err()
	case delivery, ok := <-deliveries:
		if !ok {
			return domain.DigestRunJob{}, nil, errors.New("rabbitmq: канал доставки закрыт")
		}
		var job domain.DigestRunJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			_ = delivery.Nack(false, false)
			return domain.DigestRunJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return delivery.Ack(false)
			}
			return delivery.Nack(false, true)
		}
		return job, ack, nil
	}
}

// Close закрывает канал и соединение.
func (q *RabbitRunQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
