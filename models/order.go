package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is one participant's order against a proposal. One order per person
// per proposal; re-submission updates the existing row instead of
// duplicating it.
type Order struct {
	ID             int              `gorm:"primary_key" json:"id"`
	TenantId       string           `gorm:"size:36;not null;index;uniqueIndex:uniq_proposal_actor" json:"tenant_id"`
	ProposalId     int              `gorm:"not null;uniqueIndex:uniq_proposal_actor" json:"proposal_id"`
	ActorId        string           `gorm:"size:50;not null;uniqueIndex:uniq_proposal_actor" json:"actor_id"`
	Description    string           `gorm:"type:text;not null" json:"description"`
	PriceEstimated decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"price_estimated"`
	PriceFinal     *decimal.Decimal `gorm:"type:decimal(12,2)" json:"price_final"`
	Notes          string           `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrder struct {
	ProposalId     int    `json:"proposal_id" binding:"required"`
	Description    string `json:"description" binding:"required"`
	PriceEstimated string `json:"price_estimated" binding:"required"`
	Notes          string `json:"notes"`
}

// CreateOrder upserts the actor's order on a proposal. The owning session
// must be Open unless the actor is an admin; the proposal must not be
// Closed for anyone.
func CreateOrder(ctx context.Context, input *NewOrder, actor Actor) (*Order, error) {
	db := config.GetDB()

	proposal, err := GetProposal(ctx, input.ProposalId)
	if err != nil {
		return nil, err
	}
	if proposal.Status.IsClosed() {
		return nil, utils.NotOpenError("proposal %d", proposal.ID)
	}
	session, err := GetSession(ctx, proposal.SessionId)
	if err != nil {
		return nil, err
	}
	if !session.Status.IsOpen() && !actor.IsAdmin {
		return nil, utils.NotOpenError("session %d", session.ID)
	}

	price, err := decimal.NewFromString(input.PriceEstimated)
	if err != nil {
		return nil, err
	}

	// Re-submission updates the existing order, audited as an update.
	var existing Order
	err = db.WithContext(ctx).
		Where("proposal_id = ? AND actor_id = ?", proposal.ID, actor.Id).
		First(&existing).Error
	if err == nil {
		return UpdateOrder(ctx, existing.ID, &OrderFields{
			Description:    &input.Description,
			PriceEstimated: &input.PriceEstimated,
			Notes:          &input.Notes,
		}, actor)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	order := Order{
		ProposalId:     proposal.ID,
		ActorId:        actor.Id,
		Description:    input.Description,
		PriceEstimated: price,
		Notes:          input.Notes,
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return utils.DuplicateError("order by %s on proposal %d", actor.Id, proposal.ID)
			}
			return err
		}
		return appendOrderCreatedAudit(tx, &order, actor.Id, nil)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	db := config.GetDB()
	var order Order
	err := db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &order, nil
}

// GetActorOrder returns the actor's own order on a proposal, if any.
func GetActorOrder(ctx context.Context, proposalId int, actorId string) (*Order, error) {
	db := config.GetDB()
	var order Order
	err := db.WithContext(ctx).
		Where("proposal_id = ? AND actor_id = ?", proposalId, actorId).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func GetProposalOrders(ctx context.Context, proposalId int) ([]*Order, error) {
	db := config.GetDB()
	var orders []*Order
	err := db.WithContext(ctx).Where("proposal_id = ?", proposalId).
		Order("id ASC").Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateOrder applies a partial payload. A payload identical to the current
// values persists nothing and appends nothing; a real change is written
// together with exactly one audit entry in the same transaction.
func UpdateOrder(ctx context.Context, orderId int, fields *OrderFields, actor Actor) (*Order, error) {
	db := config.GetDB()

	order, err := GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}
	proposal, err := GetProposal(ctx, order.ProposalId)
	if err != nil {
		return nil, err
	}
	if !CanEditOrder(actor, order, proposal) {
		return nil, utils.NotAuthorizedError("order %d", orderId)
	}
	if fields.PriceFinal != nil && !CanEditOrderFinalPrice(actor, proposal) {
		return nil, utils.NotAuthorizedError("order %d final price", orderId)
	}

	changes, err := orderChanges(order, fields)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return order, nil
	}

	updates := orderColumnUpdates(fields, changes)
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Order{}).Where("id = ?", order.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		return appendOrderAudit(tx, order, actor.Id, changes, fields.ChangedAt)
	})
	if err != nil {
		return nil, err
	}
	return GetOrder(ctx, order.ID)
}

// SetOrderFinalPrice records the settled price. Admin, or whichever of the
// proposal's runner/orderer equals the actor.
func SetOrderFinalPrice(ctx context.Context, orderId int, priceFinal string, actor Actor) (*Order, error) {
	return UpdateOrder(ctx, orderId, &OrderFields{PriceFinal: &priceFinal}, actor)
}

// DeleteOrder removes an order. Admin, or the author while the session is
// not Closed (Locked is permitted). The audit trail stays behind.
func DeleteOrder(ctx context.Context, orderId int, actor Actor) error {
	db := config.GetDB()

	order, err := GetOrder(ctx, orderId)
	if err != nil {
		return err
	}
	proposal, err := GetProposal(ctx, order.ProposalId)
	if err != nil {
		return err
	}
	session, err := GetSession(ctx, proposal.SessionId)
	if err != nil {
		return err
	}
	if !CanDeleteOrder(actor, order, session) {
		return utils.NotAuthorizedError("order %d", orderId)
	}
	return db.WithContext(ctx).Delete(&Order{}, order.ID).Error
}
