package model

import (
	"time"

	"gorm.io/datatypes"
)

// EventCandidateGroupConfirmed 候选班组确认事件类型
const EventCandidateGroupConfirmed = "candidate_group.confirmed"

// OutboxEvent 事务性发件箱 — 对应 outbox_events
// 与业务变更同一事务写入，由 relay 异步投递到 RabbitMQ
type OutboxEvent struct {
	EventID     string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"event_id"`
	EventType   string         `gorm:"type:varchar(100);not null"                     json:"event_type"`
	AggregateID string         `gorm:"type:uuid;not null"                             json:"aggregate_id"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null"                            json:"payload"`
	Attempts    int            `gorm:"not null;default:0"                             json:"attempts"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
