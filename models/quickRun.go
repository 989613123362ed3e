package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuickRun is an ad-hoc pickup run owned by one runner: "I'm going to the
// bakery, requests until 11:45". Independent of sessions.
type QuickRun struct {
	ID           int            `gorm:"primary_key" json:"id"`
	TenantId     string         `gorm:"size:36;not null;index" json:"tenant_id"`
	RunnerUserId *string        `gorm:"size:50" json:"runner_user_id"`
	Destination  string         `gorm:"size:255;not null" json:"destination"`
	ChannelId    string         `gorm:"size:50" json:"channel_id"`
	DeadlineAt   time.Time      `gorm:"not null;index" json:"deadline_at"`
	Status       QuickRunStatus `gorm:"size:10;not null;default:Open;index" json:"status"`
	Note         string         `gorm:"type:text" json:"note"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// QuickRunRequest is one colleague's ask within a quick run. One request
// per person per run.
type QuickRunRequest struct {
	ID             int              `gorm:"primary_key" json:"id"`
	TenantId       string           `gorm:"size:36;not null;index;uniqueIndex:uniq_run_actor" json:"tenant_id"`
	QuickRunId     int              `gorm:"not null;uniqueIndex:uniq_run_actor" json:"quick_run_id"`
	ActorId        string           `gorm:"size:50;not null;uniqueIndex:uniq_run_actor" json:"actor_id"`
	Description    string           `gorm:"type:text;not null" json:"description"`
	PriceEstimated decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"price_estimated"`
	PriceFinal     *decimal.Decimal `gorm:"type:decimal(12,2)" json:"price_final"`
	Notes          string           `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewQuickRun struct {
	ChannelId    string `json:"channel_id"`
	Destination  string `json:"destination" binding:"required"`
	DelayMinutes int    `json:"delay_minutes" binding:"required"`
	Note         string `json:"note"`
}

type NewQuickRunRequest struct {
	QuickRunId     int    `json:"quick_run_id" binding:"required"`
	Description    string `json:"description" binding:"required"`
	PriceEstimated string `json:"price_estimated" binding:"required"`
	Notes          string `json:"notes"`
}

// QuickRunPriceAdjustment sets a request's final price at close time.
type QuickRunPriceAdjustment struct {
	RequestId  int    `json:"request_id"`
	PriceFinal string `json:"price_final"`
}

// CreateQuickRun opens a run with deadline = now + requested delay.
func CreateQuickRun(ctx context.Context, input *NewQuickRun, actorId string) (*QuickRun, error) {
	db := config.GetDB()
	if input.DelayMinutes <= 0 {
		return nil, errors.New("delay minutes must be positive")
	}
	run := QuickRun{
		RunnerUserId: &actorId,
		Destination:  input.Destination,
		ChannelId:    input.ChannelId,
		DeadlineAt:   time.Now().UTC().Add(time.Duration(input.DelayMinutes) * time.Minute),
		Status:       QuickRunStatusOpen,
		Note:         input.Note,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func GetQuickRun(ctx context.Context, id int) (*QuickRun, error) {
	db := config.GetDB()
	var run QuickRun
	err := db.WithContext(ctx).First(&run, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &run, nil
}

func GetQuickRunRequests(ctx context.Context, quickRunId int) ([]*QuickRunRequest, error) {
	db := config.GetDB()
	var requests []*QuickRunRequest
	err := db.WithContext(ctx).Where("quick_run_id = ?", quickRunId).
		Order("id ASC").Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// AddQuickRunRequest files a colleague's ask. Only while the run is Open;
// the run's own runner may not request on their own run; one request per
// person per run.
func AddQuickRunRequest(ctx context.Context, input *NewQuickRunRequest, actorId string) (*QuickRunRequest, error) {
	db := config.GetDB()

	run, err := GetQuickRun(ctx, input.QuickRunId)
	if err != nil {
		return nil, err
	}
	if !run.Status.IsOpen() {
		return nil, utils.NotOpenError("quick run %d", run.ID)
	}
	if run.RunnerUserId != nil && *run.RunnerUserId == actorId {
		return nil, utils.NotAuthorizedError("runner cannot request on own quick run %d", run.ID)
	}

	price, err := decimal.NewFromString(input.PriceEstimated)
	if err != nil {
		return nil, err
	}
	request := QuickRunRequest{
		QuickRunId:     run.ID,
		ActorId:        actorId,
		Description:    input.Description,
		PriceEstimated: price,
		Notes:          input.Notes,
	}
	if err := db.WithContext(ctx).Create(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, utils.DuplicateError("request by %s on quick run %d", actorId, run.ID)
		}
		return nil, err
	}
	return &request, nil
}

func getQuickRunRequest(ctx context.Context, id int) (*QuickRunRequest, error) {
	db := config.GetDB()
	var request QuickRunRequest
	err := db.WithContext(ctx).First(&request, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &request, nil
}

// UpdateQuickRunRequest edits description/price/notes. Author (or admin)
// only, and only while the run is Open. Requests are not audited; only
// orders carry an audit trail.
func UpdateQuickRunRequest(ctx context.Context, requestId int, input *NewQuickRunRequest, actor Actor) (*QuickRunRequest, error) {
	db := config.GetDB()

	request, err := getQuickRunRequest(ctx, requestId)
	if err != nil {
		return nil, err
	}
	if !CanEditQuickRunRequest(actor, request) {
		return nil, utils.NotAuthorizedError("quick run request %d", requestId)
	}
	run, err := GetQuickRun(ctx, request.QuickRunId)
	if err != nil {
		return nil, err
	}
	if !run.Status.IsOpen() {
		return nil, utils.NotOpenError("quick run %d", run.ID)
	}

	price, err := decimal.NewFromString(input.PriceEstimated)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"description":     input.Description,
		"price_estimated": price,
		"notes":           input.Notes,
	}
	if err := db.WithContext(ctx).Model(request).Updates(updates).Error; err != nil {
		return nil, err
	}
	return request, nil
}

// DeleteQuickRunRequest removes a request. Author only, and only while the
// run is Open (stricter than order deletion, which tolerates a locked
// session).
func DeleteQuickRunRequest(ctx context.Context, requestId int, actor Actor) error {
	db := config.GetDB()

	request, err := getQuickRunRequest(ctx, requestId)
	if err != nil {
		return err
	}
	if !CanDeleteQuickRunRequest(actor, request) {
		return utils.NotAuthorizedError("quick run request %d", requestId)
	}
	run, err := GetQuickRun(ctx, request.QuickRunId)
	if err != nil {
		return err
	}
	if !run.Status.IsOpen() {
		return utils.NotOpenError("quick run %d", run.ID)
	}
	return db.WithContext(ctx).Delete(&QuickRunRequest{}, request.ID).Error
}

// LockQuickRun is the runner's explicit "no more requests". The sweeper
// reaches the same state on deadline.
func LockQuickRun(ctx context.Context, quickRunId int, actor Actor) (*QuickRun, error) {
	db := config.GetDB()

	run, err := GetQuickRun(ctx, quickRunId)
	if err != nil {
		return nil, err
	}
	if !CanManageQuickRun(actor, run) {
		return nil, utils.NotAuthorizedError("quick run %d", quickRunId)
	}
	if !run.Status.IsOpen() {
		return nil, utils.NotOpenError("quick run %d", quickRunId)
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&QuickRun{}).Where("id = ?", run.ID).
			Update("status", QuickRunStatusLocked).Error; err != nil {
			return err
		}
		return EnqueueNotification(ctx, tx, &NotificationRecord{
			ChannelId:     run.ChannelId,
			EventType:     NotifyEventQuickRunLocked,
			ReferenceId:   run.ID,
			ReferenceType: "quick_runs",
		})
	})
	if err != nil {
		return nil, err
	}
	run.Status = QuickRunStatusLocked
	return run, nil
}

// CloseQuickRun settles the run: the batch of final-price adjustments is
// applied to the run's own requests first, then the run goes Closed.
// Adjustments referencing a request outside the run are ignored, not
// errored.
func CloseQuickRun(ctx context.Context, quickRunId int, actor Actor, adjustments []QuickRunPriceAdjustment) (*QuickRun, error) {
	db := config.GetDB()

	var run QuickRun
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&run, quickRunId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if !CanManageQuickRun(actor, &run) {
			return utils.NotAuthorizedError("quick run %d", quickRunId)
		}
		if run.Status.IsClosed() {
			return utils.NotOpenError("quick run %d already closed", quickRunId)
		}

		for _, adj := range adjustments {
			price, err := decimal.NewFromString(adj.PriceFinal)
			if err != nil {
				return err
			}
			// The quick_run_id predicate makes foreign request ids a no-op.
			if err := tx.Model(&QuickRunRequest{}).
				Where("id = ? AND quick_run_id = ?", adj.RequestId, run.ID).
				Update("price_final", price).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&QuickRun{}).Where("id = ?", run.ID).
			Update("status", QuickRunStatusClosed).Error; err != nil {
			return err
		}
		run.Status = QuickRunStatusClosed
		return EnqueueNotification(ctx, tx, &NotificationRecord{
			ChannelId:     run.ChannelId,
			EventType:     NotifyEventQuickRunClosed,
			ReferenceId:   run.ID,
			ReferenceType: "quick_runs",
		})
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}
