package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mvalley/backend/config"
)

// Message 待投递的消息
type Message struct {
	ID        string
	Type      string
	Body      []byte
	Timestamp time.Time
}

// Publisher RabbitMQ 发布者
// 连接断开后下一次 Publish 会自动重连；声明的队列为 durable，消息为 persistent
type Publisher struct {
	url    string
	queue  string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher 创建发布者并建立首次连接
func NewPublisher(cfg *config.BrokerConfig, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{url: cfg.URL, queue: cfg.Queue, logger: logger}
	if err := p.connect(); err != nil {
		return nil, err
	}
	logger.Info("RabbitMQ 连接成功", zap.String("queue", cfg.Queue))
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("RabbitMQ 连接失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("RabbitMQ 打开 channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(
		p.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("RabbitMQ 声明队列失败: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Publish 发布一条持久化 JSON 消息到默认交换机（routing key = 队列名）
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	err := p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         msg.Type,
			Timestamp:    msg.Timestamp,
			Body:         msg.Body,
		},
	)
	if err != nil {
		p.logger.Warn("RabbitMQ 发布失败", zap.String("message_id", msg.ID), zap.Error(err))
		p.closeLocked()
		return fmt.Errorf("RabbitMQ 发布失败: %w", err)
	}
	return nil
}

// Close 关闭 channel 与连接
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
