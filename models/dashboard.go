package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/lunchops_backend/utils"
)

// DashboardView is everything DeriveDashboardState needs, loaded once. The
// derivation itself stays pure so it can be exercised without a database.
type DashboardView struct {
	Session       *Session
	Proposals     []*Proposal
	OpenProposals []*Proposal
	OwnOrder      *Order
	IsCurrentDay  bool
}

// DashboardFlags carries the two independent signals that can hold at the
// same time. The single-label state picks HasOrder over InCharge; the
// presentation layer may still want both.
type DashboardFlags struct {
	HasOrder bool
	InCharge bool
}

func dashboardFlags(actorId string, view *DashboardView) DashboardFlags {
	flags := DashboardFlags{HasOrder: view.OwnOrder != nil}
	for _, p := range view.Proposals {
		if p.HoldsRole(actorId) {
			flags.InCharge = true
			break
		}
	}
	return flags
}

// DeriveDashboardState maps an actor's relationship to a session onto one of
// the six dashboard labels. Evaluation order is significant: History wins
// over everything, HasOrder is checked before InCharge, and NoProposal
// before OpenProposalsNoOrder.
func DeriveDashboardState(actorId string, view *DashboardView) (DashboardState, DashboardFlags) {
	flags := dashboardFlags(actorId, view)

	if !view.IsCurrentDay {
		return DashboardStateHistory, flags
	}
	if flags.HasOrder {
		return DashboardStateHasOrder, flags
	}
	if flags.InCharge {
		return DashboardStateInCharge, flags
	}
	if len(view.Proposals) == 0 {
		return DashboardStateNoProposal, flags
	}
	if len(view.OpenProposals) > 0 {
		return DashboardStateOpenProposalsNoOrder, flags
	}
	return DashboardStateAllClosed, flags
}

// BuildDashboardView loads the derivation inputs for one session. The
// current-day check is done here, against the tenant's timezone, so the pure
// function never touches the clock.
func BuildDashboardView(ctx context.Context, session *Session, actorId string) (*DashboardView, error) {
	proposals, err := GetSessionProposals(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	open := make([]*Proposal, 0, len(proposals))
	var ownOrder *Order
	for _, p := range proposals {
		if p.Status.AcceptsOrders() {
			open = append(open, p)
		}
		if ownOrder == nil {
			order, err := GetActorOrder(ctx, p.ID, actorId)
			if err != nil {
				return nil, err
			}
			ownOrder = order
		}
	}

	timezone := utils.DefaultTimezone
	if tenantId, ok := utils.GetTenantIdFromContext(ctx); ok {
		if org, err := GetOrganization(ctx, tenantId); err == nil && org.Timezone != "" {
			timezone = org.Timezone
		}
	}
	return &DashboardView{
		Session:       session,
		Proposals:     proposals,
		OpenProposals: open,
		OwnOrder:      ownOrder,
		IsCurrentDay:  utils.SameLocalDay(session.Date, time.Now(), timezone),
	}, nil
}
