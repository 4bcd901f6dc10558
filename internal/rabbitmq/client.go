package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoArmGo/MatchApp/internal/config"
	"github.com/GoArmGo/MatchApp/internal/core/ports"
	"github.com/GoArmGo/MatchApp/internal/messaging/payloads"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	_ ports.AvatarReleasePublisher = (*Client)(nil)
	_ ports.AvatarReleaseConsumer  = (*Client)(nil)
)

// publishTimeout ограничивает ожидание брокера при публикации.
const publishTimeout = 5 * time.Second

// Client представляет собой клиент RabbitMQ
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	logger  *slog.Logger
}

// NewClient подключается к RabbitMQ и объявляет очередь задач на удаление аватаров.
func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	client := &Client{logger: logger}

	conn, err := amqp.Dial(cfg.RabbitMQ.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	client.conn = conn
	logger.Info("connected to RabbitMQ")

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	client.channel = ch

	// Воркер берёт по одному сообщению, пока не подтвердит предыдущее.
	if err := ch.Qos(1, 0, false); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set channel qos: %w", err)
	}

	// Идемпотентно: очередь создаётся, только если её ещё нет.
	q, err := ch.QueueDeclare(
		cfg.RabbitMQ.RabbitMQQueueName, // name
		true,                           // durable - очередь будет сохраняться при перезапуске RabbitMQ
		false,                          // delete when unused
		false,                          // exclusive
		false,                          // no-wait
		nil,                            // arguments
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}
	client.queue = q
	logger.Info("queue declared", "queue", q.Name, "messages", q.Messages)

	return client, nil
}

// Close закрывает соединение и канал RabbitMQ
func (c *Client) Close() {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("error closing RabbitMQ channel", "error", err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("error closing RabbitMQ connection", "error", err)
			return
		}
		c.logger.Info("RabbitMQ connection closed")
	}
}

// PublishAvatarRelease публикует задачу на удаление файла аватара.
// Сообщения персистентные, чтобы задача пережила перезапуск брокера.
func (c *Client) PublishAvatarRelease(ctx context.Context, payload payloads.AvatarReleasePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload to JSON: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.channel.PublishWithContext(
		publishCtx,
		"",           // exchange
		c.queue.Name, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    payload.RequestedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}
	c.logger.Info("avatar release published", "queue", c.queue.Name, "key", payload.Ref)
	return nil
}

// StartConsumingAvatarReleases регистрирует потребителя и обрабатывает сообщения
// в отдельной горутине до отмены ctx или закрытия канала.
func (c *Client) StartConsumingAvatarReleases(ctx context.Context, handler func(context.Context, payloads.AvatarReleasePayload) error) error {
	msgs, err := c.channel.Consume(
		c.queue.Name, // queue
		"",           // consumer
		false,        // auto-ack (мы будем подтверждать вручную)
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	c.logger.Info("consumer registered", "queue", c.queue.Name)

	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Info("RabbitMQ channel closed, stopping consumer")
					return
				}
				handleDelivery(ctx, c.logger, msg, handler)
			case <-ctx.Done():
				c.logger.Info("context cancelled, stopping RabbitMQ consumer")
				return
			}
		}
	}()

	return nil
}

// handleDelivery подтверждает успешно обработанное сообщение.
// Битое сообщение отбрасывается без возврата в очередь, сбой обработчика
// возвращает сообщение в очередь.
func handleDelivery(ctx context.Context, logger *slog.Logger, msg amqp.Delivery, handler func(context.Context, payloads.AvatarReleasePayload) error) {
	var payload payloads.AvatarReleasePayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil || payload.Ref == "" {
		logger.Error("dropping malformed message", "error", err, "body", string(msg.Body))
		if err := msg.Nack(false, false); err != nil {
			logger.Error("error NACKing malformed message", "error", err)
		}
		return
	}

	start := time.Now()
	if err := handler(ctx, payload); err != nil {
		logger.Error("error processing message", "error", err, "key", payload.Ref)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("error NACKing message after processing failure", "error", err)
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("error ACKing message", "error", err)
		return
	}
	logger.Info("message processed",
		"key", payload.Ref,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
