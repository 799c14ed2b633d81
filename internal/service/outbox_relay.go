package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mvalley/backend/internal/repository"
	"mvalley/backend/pkg/broker"
)

// EventPublisher 事件投递端（生产实现为 broker.Publisher）
type EventPublisher interface {
	Publish(ctx context.Context, msg broker.Message) error
}

// OutboxRelay 轮询 outbox_events 并投递到消息队列
// 投递语义为至少一次：publish 成功但标记失败时，下一轮会重复投递，消费方按 event_id 去重
type OutboxRelay struct {
	tx        repository.TxManager
	publisher EventPublisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewOutboxRelay 创建 OutboxRelay 实例
func NewOutboxRelay(tx repository.TxManager, publisher EventPublisher, interval time.Duration, batchSize int, logger *zap.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxRelay{tx: tx, publisher: publisher, interval: interval, batchSize: batchSize, logger: logger}
}

// Run 阻塞运行，直到 ctx 取消
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay 已启动", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay 已停止")
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("投递发件箱事件失败", zap.Error(err))
			}
		}
	}
}

// RelayOnce 投递一批事件，返回成功投递的数量
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.WithTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		events, err := repo.Outbox.ClaimUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}

		for _, evt := range events {
			msg := broker.Message{
				ID:        evt.EventID,
				Type:      evt.EventType,
				Body:      []byte(evt.Payload),
				Timestamp: evt.CreatedAt,
			}
			if err := r.publisher.Publish(ctx, msg); err != nil {
				r.logger.Warn("事件投递失败，稍后重试",
					zap.String("event_id", evt.EventID),
					zap.Int("attempts", evt.Attempts+1),
					zap.Error(err),
				)
				if err := repo.Outbox.IncrementAttempts(ctx, evt.EventID); err != nil {
					return err
				}
				continue
			}
			if err := repo.Outbox.MarkPublished(ctx, evt.EventID); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		r.logger.Info("发件箱事件已投递", zap.Int("count", published))
	}
	return published, nil
}
