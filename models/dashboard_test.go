package models_test

import (
	"testing"

	"github.com/mmdatafocus/lunchops_backend/models"
)

func strPtr(s string) *string { return &s }

func proposalWithRunner(userId string) *models.Proposal {
	return &models.Proposal{
		ID:           1,
		Status:       models.ProposalStatusOrdering,
		RunnerUserId: strPtr(userId),
	}
}

func TestDeriveDashboardStateHistoryOverridesEverything(t *testing.T) {
	view := &models.DashboardView{
		Session:      &models.Session{ID: 1},
		Proposals:    []*models.Proposal{proposalWithRunner("u1")},
		OwnOrder:     &models.Order{ID: 1, ActorId: "u1"},
		IsCurrentDay: false,
	}
	state, flags := models.DeriveDashboardState("u1", view)
	if state != models.DashboardStateHistory {
		t.Fatalf("expected History, got %s", state)
	}
	// Flags still report the underlying relationship for the presentation layer.
	if !flags.HasOrder || !flags.InCharge {
		t.Fatalf("expected both flags set, got %+v", flags)
	}
}

func TestDeriveDashboardStateHasOrderBeatsInCharge(t *testing.T) {
	view := &models.DashboardView{
		Session:      &models.Session{ID: 1},
		Proposals:    []*models.Proposal{proposalWithRunner("u1")},
		OwnOrder:     &models.Order{ID: 1, ActorId: "u1"},
		IsCurrentDay: true,
	}
	state, flags := models.DeriveDashboardState("u1", view)
	if state != models.DashboardStateHasOrder {
		t.Fatalf("expected HasOrder, got %s", state)
	}
	if !flags.InCharge {
		t.Fatal("InCharge flag should still be signalled")
	}
}

func TestDeriveDashboardStateInCharge(t *testing.T) {
	view := &models.DashboardView{
		Session:      &models.Session{ID: 1},
		Proposals:    []*models.Proposal{proposalWithRunner("u1")},
		IsCurrentDay: true,
	}
	state, _ := models.DeriveDashboardState("u1", view)
	if state != models.DashboardStateInCharge {
		t.Fatalf("expected InCharge, got %s", state)
	}
}

func TestDeriveDashboardStateNoProposal(t *testing.T) {
	view := &models.DashboardView{
		Session:      &models.Session{ID: 1},
		IsCurrentDay: true,
	}
	state, flags := models.DeriveDashboardState("u2", view)
	if state != models.DashboardStateNoProposal {
		t.Fatalf("expected NoProposal, got %s", state)
	}
	if flags.HasOrder || flags.InCharge {
		t.Fatalf("expected no flags, got %+v", flags)
	}
}

func TestDeriveDashboardStateOpenProposalsNoOrder(t *testing.T) {
	p := proposalWithRunner("u1")
	view := &models.DashboardView{
		Session:       &models.Session{ID: 1},
		Proposals:     []*models.Proposal{p},
		OpenProposals: []*models.Proposal{p},
		IsCurrentDay:  true,
	}
	state, _ := models.DeriveDashboardState("u2", view)
	if state != models.DashboardStateOpenProposalsNoOrder {
		t.Fatalf("expected OpenProposalsNoOrder, got %s", state)
	}
}

func TestDeriveDashboardStateAllClosed(t *testing.T) {
	closed := &models.Proposal{ID: 2, Status: models.ProposalStatusClosed, RunnerUserId: strPtr("u1")}
	view := &models.DashboardView{
		Session:      &models.Session{ID: 1},
		Proposals:    []*models.Proposal{closed},
		IsCurrentDay: true,
	}
	state, _ := models.DeriveDashboardState("u2", view)
	if state != models.DashboardStateAllClosed {
		t.Fatalf("expected AllClosed, got %s", state)
	}
}
