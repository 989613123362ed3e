package models

import (
	"context"
	"errors"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Role claims and delegations re-read the row under an exclusive lock
// before deciding; trusting a caller-supplied copy would reintroduce the
// time-of-check/time-of-use race. A lost claim is an expected outcome and
// returns (false, nil), never an error.

// AssignProposalRole atomically claims a vacant role on a proposal. Exactly
// one of N concurrent claimants observes true. Claiming either role on an
// Open proposal advances it to Ordering.
func AssignProposalRole(ctx context.Context, proposalId int, role ProposalRole, userId string) (bool, error) {
	if !role.Valid() {
		return false, errInvalidProposalRole
	}
	if userId == "" {
		return false, errors.New("user id is required")
	}

	db := config.GetDB()
	claimed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var proposal Proposal
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&proposal, proposalId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if proposal.Status.IsClosed() {
			return utils.NotOpenError("proposal %d", proposalId)
		}

		updates := map[string]interface{}{}
		switch role {
		case ProposalRoleRunner:
			if proposal.RunnerUserId != nil {
				return nil
			}
			updates["runner_user_id"] = userId
		case ProposalRoleOrderer:
			if proposal.OrdererUserId != nil {
				return nil
			}
			updates["orderer_user_id"] = userId
		}
		if proposal.Status == ProposalStatusOpen {
			updates["status"] = ProposalStatusOrdering
		}
		if err := tx.Model(&Proposal{}).Where("id = ?", proposal.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// DelegateProposalRole hands a held role to another user. It fails (false)
// unless the role field, re-read under the lock, currently equals
// fromUserId: this rejects both impostors and stale state. Status is not
// touched.
func DelegateProposalRole(ctx context.Context, proposalId int, role ProposalRole, fromUserId, toUserId string) (bool, error) {
	if !role.Valid() {
		return false, errInvalidProposalRole
	}
	if fromUserId == "" || toUserId == "" {
		return false, errors.New("from and to user ids are required")
	}

	db := config.GetDB()
	delegated := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var proposal Proposal
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&proposal, proposalId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}

		var column string
		var holder *string
		switch role {
		case ProposalRoleRunner:
			column, holder = "runner_user_id", proposal.RunnerUserId
		case ProposalRoleOrderer:
			column, holder = "orderer_user_id", proposal.OrdererUserId
		}
		if holder == nil || *holder != fromUserId {
			return nil
		}
		if err := tx.Model(&Proposal{}).Where("id = ?", proposal.ID).
			Update(column, toUserId).Error; err != nil {
			return err
		}
		delegated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return delegated, nil
}

// AssignQuickRunRunner claims a quick run's single runner field under the
// same protocol, without any status side effect.
func AssignQuickRunRunner(ctx context.Context, quickRunId int, userId string) (bool, error) {
	if userId == "" {
		return false, errors.New("user id is required")
	}

	db := config.GetDB()
	claimed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run QuickRun
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&run, quickRunId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if run.Status.IsClosed() {
			return utils.NotOpenError("quick run %d", quickRunId)
		}
		if run.RunnerUserId != nil {
			return nil
		}
		if err := tx.Model(&QuickRun{}).Where("id = ?", run.ID).
			Update("runner_user_id", userId).Error; err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// DelegateQuickRunRunner hands the run to another runner, holder-checked
// under the row lock.
func DelegateQuickRunRunner(ctx context.Context, quickRunId int, fromUserId, toUserId string) (bool, error) {
	if fromUserId == "" || toUserId == "" {
		return false, errors.New("from and to user ids are required")
	}

	db := config.GetDB()
	delegated := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run QuickRun
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&run, quickRunId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if run.RunnerUserId == nil || *run.RunnerUserId != fromUserId {
			return nil
		}
		if err := tx.Model(&QuickRun{}).Where("id = ?", run.ID).
			Update("runner_user_id", toUserId).Error; err != nil {
			return err
		}
		delegated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return delegated, nil
}
