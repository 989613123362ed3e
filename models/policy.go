package models

import (
	"context"

	"github.com/mmdatafocus/lunchops_backend/utils"
)

// Actor is the resolved identity a collaborator attaches to every call.
type Actor struct {
	Id      string
	IsAdmin bool
}

func ActorFromContext(ctx context.Context) Actor {
	id, _ := utils.GetUserIdFromContext(ctx)
	isAdmin, _ := utils.GetIsAdminFromContext(ctx)
	return Actor{Id: id, IsAdmin: isAdmin}
}

// The predicates below are pure: they mutate nothing and must be evaluated
// by every mutating operation before it touches the row.

func (p *Proposal) HoldsRole(userId string) bool {
	if userId == "" {
		return false
	}
	if p.RunnerUserId != nil && *p.RunnerUserId == userId {
		return true
	}
	if p.OrdererUserId != nil && *p.OrdererUserId == userId {
		return true
	}
	return false
}

// ResponsibleUser returns the single user answerable for a proposal. The
// runner takes precedence when both roles are held.
func ResponsibleUser(p *Proposal) (string, bool) {
	if p.RunnerUserId != nil && *p.RunnerUserId != "" {
		return *p.RunnerUserId, true
	}
	if p.OrdererUserId != nil && *p.OrdererUserId != "" {
		return *p.OrdererUserId, true
	}
	return "", false
}

// CanCloseProposal: admin, or a current role holder. With no role held,
// only an admin may act.
func CanCloseProposal(actor Actor, p *Proposal) bool {
	if actor.IsAdmin {
		return true
	}
	return p.HoldsRole(actor.Id)
}

// CanTransferProposalRole mirrors CanCloseProposal; delegation additionally
// requires the caller to hold the specific role being handed over, which
// DelegateProposalRole enforces under the row lock.
func CanTransferProposalRole(actor Actor, p *Proposal) bool {
	return CanCloseProposal(actor, p)
}

// CanEditOrder: admin, or the author while the owning proposal still
// accepts orders.
func CanEditOrder(actor Actor, order *Order, p *Proposal) bool {
	if actor.IsAdmin {
		return true
	}
	return order.ActorId == actor.Id && p.Status.AcceptsOrders()
}

// CanDeleteOrder: admin, or the author while the session is not Closed
// (Locked is permitted).
func CanDeleteOrder(actor Actor, order *Order, session *Session) bool {
	if actor.IsAdmin {
		return true
	}
	return order.ActorId == actor.Id && !session.Status.IsClosed()
}

// CanEditOrderFinalPrice: admin, or whichever of the proposal's
// runner/orderer equals the actor.
func CanEditOrderFinalPrice(actor Actor, p *Proposal) bool {
	if actor.IsAdmin {
		return true
	}
	return p.HoldsRole(actor.Id)
}

func CanCreateVendor(actor Actor) bool {
	return actor.Id != ""
}

// CanEditVendor: admin or the vendor's creator. Also guards deactivation.
func CanEditVendor(actor Actor, v *Vendor) bool {
	if actor.IsAdmin {
		return true
	}
	return v.CreatedBy == actor.Id
}

// CanManageQuickRun: admin or the run's own runner (lock, close, price
// adjustments).
func CanManageQuickRun(actor Actor, run *QuickRun) bool {
	if actor.IsAdmin {
		return true
	}
	return run.RunnerUserId != nil && *run.RunnerUserId == actor.Id
}

// CanEditQuickRunRequest: admin or the request's author.
func CanEditQuickRunRequest(actor Actor, req *QuickRunRequest) bool {
	if actor.IsAdmin {
		return true
	}
	return req.ActorId == actor.Id
}

// CanDeleteQuickRunRequest: the author only. Unlike orders there is no
// admin carve-out; the runner settles prices at close instead.
func CanDeleteQuickRunRequest(actor Actor, req *QuickRunRequest) bool {
	return req.ActorId == actor.Id
}
