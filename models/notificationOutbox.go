package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"gorm.io/gorm"
)

// Notification event types carried by the outbox.
const (
	NotifyEventSessionLocked  = "session.locked"
	NotifyEventSessionClosed  = "session.closed"
	NotifyEventProposalClosed = "proposal.closed"
	NotifyEventQuickRunLocked = "quick_run.locked"
	NotifyEventQuickRunClosed = "quick_run.closed"
)

// Publish statuses for NotificationRecord.PublishStatus.
// Keep these as strings (DB values).
const (
	NotifyPublishStatusPending    = "PENDING"
	NotifyPublishStatusProcessing = "PROCESSING"
	NotifyPublishStatusSent       = "SENT"
	NotifyPublishStatusFailed     = "FAILED"
	NotifyPublishStatusDead       = "DEAD"
)

// NotificationRecord is a transactional-outbox row: the lifecycle change and
// its notification commit together, and the dispatcher publishes after
// commit. Rows are never published from inside the owning transaction.
type NotificationRecord struct {
	ID            int       `gorm:"primary_key;index:idx_notify_dispatch,priority:3" json:"id"`
	TenantId      string    `gorm:"size:36;not null;index" json:"tenant_id"`
	ChannelId     string    `gorm:"size:50" json:"channel_id"`
	EventType     string    `gorm:"size:50;not null" json:"event_type"`
	ReferenceId   int       `json:"reference_id"`
	ReferenceType string    `gorm:"size:30;not null" json:"reference_type"`
	OccurredAt    time.Time `gorm:"not null" json:"occurred_at"`
	Payload       string    `gorm:"type:text" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_notify_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_notify_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToNotifyMessage(record NotificationRecord) config.NotifyMessage {
	return config.NotifyMessage{
		ID:            record.ID,
		TenantId:      record.TenantId,
		ChannelId:     record.ChannelId,
		EventType:     record.EventType,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		OccurredAt:    record.OccurredAt,
		Payload:       []byte(record.Payload),
		CorrelationId: record.CorrelationId,
	}
}

// EnqueueNotification stages a notification inside the caller's transaction.
// Tenant and correlation come from the request context; OccurredAt defaults
// to now.
func EnqueueNotification(ctx context.Context, tx *gorm.DB, rec *NotificationRecord) error {
	if rec.TenantId == "" {
		if tenantId, ok := utils.GetTenantIdFromContext(ctx); ok {
			rec.TenantId = tenantId
		}
	}
	if rec.CorrelationId == "" {
		if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
			rec.CorrelationId = correlationId
		}
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	rec.PublishStatus = NotifyPublishStatusPending
	return tx.Create(rec).Error
}
