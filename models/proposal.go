package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"gorm.io/gorm"
)

// Proposal is an offer to order from one vendor within a session. Unique on
// (tenant_id, session_id, vendor_id). Role fields change only through the
// claim/delegation protocol in roleAssignment.go.
type Proposal struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TenantId      string          `gorm:"size:36;not null;index;uniqueIndex:uniq_session_vendor" json:"tenant_id"`
	SessionId     int             `gorm:"not null;uniqueIndex:uniq_session_vendor" json:"session_id"`
	VendorId      int             `gorm:"not null;uniqueIndex:uniq_session_vendor" json:"vendor_id"`
	Fulfillment   FulfillmentType `gorm:"size:10;not null" json:"fulfillment"`
	OrderingMode  OrderingMode    `gorm:"size:20;not null;default:Collective" json:"ordering_mode"`
	RunnerUserId  *string         `gorm:"size:50" json:"runner_user_id"`
	OrdererUserId *string         `gorm:"size:50" json:"orderer_user_id"`
	Status        ProposalStatus  `gorm:"size:10;not null;default:Open;index" json:"status"`
	OrderDeadline *time.Time      `json:"order_deadline"`
	CreatedBy     string          `gorm:"size:50;not null" json:"created_by"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProposal struct {
	SessionId     int             `json:"session_id" binding:"required"`
	VendorId      int             `json:"vendor_id" binding:"required"`
	Fulfillment   FulfillmentType `json:"fulfillment" binding:"required"`
	OrderingMode  OrderingMode    `json:"ordering_mode"`
	OrderDeadline *time.Time      `json:"order_deadline"`
}

// ProposeVendor creates a proposal in an Open session. The proposer
// self-claims the fulfillment-matching role (pickup: runner, delivery:
// orderer), which advances the proposal to Ordering. A second proposal for
// the same vendor in the same session is the "duplicate" failure.
func ProposeVendor(ctx context.Context, input *NewProposal, actorId string) (*Proposal, error) {
	db := config.GetDB()
	if !input.Fulfillment.Valid() {
		return nil, errors.New("invalid fulfillment type")
	}

	session, err := GetSession(ctx, input.SessionId)
	if err != nil {
		return nil, err
	}
	if !session.Status.IsOpen() {
		return nil, utils.NotOpenError("session %d", session.ID)
	}
	if _, err := GetVendor(ctx, input.VendorId); err != nil {
		return nil, err
	}

	mode := input.OrderingMode
	if mode == "" {
		mode = OrderingModeCollective
	}

	proposal := Proposal{
		SessionId:     session.ID,
		VendorId:      input.VendorId,
		Fulfillment:   input.Fulfillment,
		OrderingMode:  mode,
		Status:        ProposalStatusOrdering,
		OrderDeadline: input.OrderDeadline,
		CreatedBy:     actorId,
	}
	switch input.Fulfillment.SelfClaimedRole() {
	case ProposalRoleOrderer:
		proposal.OrdererUserId = &actorId
	default:
		proposal.RunnerUserId = &actorId
	}

	if err := db.WithContext(ctx).Create(&proposal).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, utils.DuplicateError("proposal for vendor %d in session %d", input.VendorId, session.ID)
		}
		return nil, err
	}
	return &proposal, nil
}

// ProposeNewVendor is the convenience path accepting raw vendor attributes:
// the vendor is found-or-created by case-insensitive name first, then the
// proposal goes through ProposeVendor.
func ProposeNewVendor(ctx context.Context, sessionId int, vendorInput *NewVendor, fulfillment FulfillmentType, orderingMode OrderingMode, actorId string) (*Proposal, error) {
	vendor, err := FindOrCreateVendor(ctx, vendorInput, actorId)
	if err != nil {
		return nil, err
	}
	return ProposeVendor(ctx, &NewProposal{
		SessionId:    sessionId,
		VendorId:     vendor.ID,
		Fulfillment:  fulfillment,
		OrderingMode: orderingMode,
	}, actorId)
}

func GetProposal(ctx context.Context, id int) (*Proposal, error) {
	db := config.GetDB()
	var proposal Proposal
	err := db.WithContext(ctx).First(&proposal, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &proposal, nil
}

func GetSessionProposals(ctx context.Context, sessionId int) ([]*Proposal, error) {
	db := config.GetDB()
	var proposals []*Proposal
	err := db.WithContext(ctx).Where("session_id = ?", sessionId).
		Order("id ASC").Find(&proposals).Error
	if err != nil {
		return nil, err
	}
	return proposals, nil
}

func GetOpenSessionProposals(ctx context.Context, sessionId int) ([]*Proposal, error) {
	db := config.GetDB()
	var proposals []*Proposal
	err := db.WithContext(ctx).
		Where("session_id = ? AND status IN ?", sessionId,
			[]ProposalStatus{ProposalStatusOpen, ProposalStatusOrdering}).
		Order("id ASC").Find(&proposals).Error
	if err != nil {
		return nil, err
	}
	return proposals, nil
}

// CloseProposal transitions a proposal to Closed from any non-Closed state.
// Admin or a current role holder only; with no role held, only an admin.
func CloseProposal(ctx context.Context, proposalId int, actor Actor) (*Proposal, error) {
	db := config.GetDB()
	proposal, err := GetProposal(ctx, proposalId)
	if err != nil {
		return nil, err
	}
	if !CanCloseProposal(actor, proposal) {
		return nil, utils.NotAuthorizedError("proposal %d", proposalId)
	}
	if proposal.Status.IsClosed() {
		return nil, utils.NotOpenError("proposal %d already closed", proposalId)
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Proposal{}).Where("id = ?", proposal.ID).
			Update("status", ProposalStatusClosed).Error; err != nil {
			return err
		}
		return EnqueueNotification(ctx, tx, &NotificationRecord{
			EventType:     NotifyEventProposalClosed,
			ReferenceId:   proposal.ID,
			ReferenceType: "proposals",
		})
	})
	if err != nil {
		return nil, err
	}
	proposal.Status = ProposalStatusClosed
	return proposal, nil
}
