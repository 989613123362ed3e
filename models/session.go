package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Session is one ordering window for a tenant on a given date + channel.
// Unique on (tenant_id, date, channel_id); never reopened once Closed.
type Session struct {
	ID         int           `gorm:"primary_key" json:"id"`
	TenantId   string        `gorm:"size:36;not null;index;uniqueIndex:uniq_session_day" json:"tenant_id"`
	Date       time.Time     `gorm:"not null;uniqueIndex:uniq_session_day" json:"date"`
	ChannelId  string        `gorm:"size:50;not null;uniqueIndex:uniq_session_day" json:"channel_id"`
	DeadlineAt time.Time     `gorm:"not null;index" json:"deadline_at"`
	Status     SessionStatus `gorm:"size:10;not null;default:Open;index" json:"status"`
	CreatedAt  time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSession struct {
	Date       time.Time `json:"date" binding:"required"`
	ChannelId  string    `json:"channel_id" binding:"required"`
	DeadlineAt time.Time `json:"deadline_at" binding:"required"`
}

// CreateSession is idempotent on (tenant, date, channel): the first call for
// a day+channel creates the session, later calls reuse it, refreshing only
// the deadline when it changed.
func CreateSession(ctx context.Context, input *NewSession) (*Session, error) {
	db := config.GetDB()
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	day := input.Date.Truncate(24 * time.Hour)

	var session Session
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("date = ? AND channel_id = ?", day, input.ChannelId).First(&session).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			session = Session{
				TenantId:   tenantId,
				Date:       day,
				ChannelId:  input.ChannelId,
				DeadlineAt: input.DeadlineAt,
				Status:     SessionStatusOpen,
			}
			cerr := tx.Create(&session).Error
			if cerr == nil {
				return nil
			}
			if !errors.Is(cerr, gorm.ErrDuplicatedKey) {
				return cerr
			}
			// Lost the create race; use the winner's row.
			if err := tx.Where("date = ? AND channel_id = ?", day, input.ChannelId).First(&session).Error; err != nil {
				return err
			}
		}
		if !session.DeadlineAt.Equal(input.DeadlineAt) {
			if err := tx.Model(&Session{}).Where("id = ?", session.ID).
				Update("deadline_at", input.DeadlineAt).Error; err != nil {
				return err
			}
			session.DeadlineAt = input.DeadlineAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func GetSession(ctx context.Context, id int) (*Session, error) {
	db := config.GetDB()
	var session Session
	err := db.WithContext(ctx).First(&session, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &session, nil
}

func GetSessionByDay(ctx context.Context, date time.Time, channelId string) (*Session, error) {
	db := config.GetDB()
	var session Session
	err := db.WithContext(ctx).
		Where("date = ? AND channel_id = ?", date.Truncate(24*time.Hour), channelId).
		First(&session).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &session, nil
}

// CloseSession transitions a session to Closed and cascades every one of its
// proposals to Closed in the same transaction. A session observed Closed
// with an open proposal is a bug, not an eventual-consistency window.
func CloseSession(ctx context.Context, sessionId int) (*Session, error) {
	db := config.GetDB()
	var session Session
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&session, sessionId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if session.Status.IsClosed() {
			return utils.NotOpenError("session %d already closed", sessionId)
		}
		if err := tx.Model(&Session{}).Where("id = ?", session.ID).
			Update("status", SessionStatusClosed).Error; err != nil {
			return err
		}
		if err := tx.Model(&Proposal{}).
			Where("session_id = ? AND status <> ?", session.ID, ProposalStatusClosed).
			Update("status", ProposalStatusClosed).Error; err != nil {
			return err
		}
		session.Status = SessionStatusClosed
		return EnqueueNotification(ctx, tx, &NotificationRecord{
			ChannelId:     session.ChannelId,
			EventType:     NotifyEventSessionClosed,
			ReferenceId:   session.ID,
			ReferenceType: "sessions",
		})
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}
