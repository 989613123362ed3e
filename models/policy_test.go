package models_test

import (
	"testing"

	"github.com/mmdatafocus/lunchops_backend/models"
)

func TestResponsibleUserRunnerPrecedence(t *testing.T) {
	p := &models.Proposal{RunnerUserId: strPtr("runner"), OrdererUserId: strPtr("orderer")}
	user, ok := models.ResponsibleUser(p)
	if !ok || user != "runner" {
		t.Fatalf("expected runner to take precedence, got %q ok=%v", user, ok)
	}

	p = &models.Proposal{OrdererUserId: strPtr("orderer")}
	user, ok = models.ResponsibleUser(p)
	if !ok || user != "orderer" {
		t.Fatalf("expected orderer fallback, got %q ok=%v", user, ok)
	}

	if _, ok := models.ResponsibleUser(&models.Proposal{}); ok {
		t.Fatal("expected no responsible user on vacant proposal")
	}
}

func TestCanCloseProposalAdminOnlyWhenVacant(t *testing.T) {
	vacant := &models.Proposal{}
	if models.CanCloseProposal(models.Actor{Id: "u1"}, vacant) {
		t.Fatal("non-admin must not close a vacant proposal")
	}
	if !models.CanCloseProposal(models.Actor{Id: "u1", IsAdmin: true}, vacant) {
		t.Fatal("admin must be able to close a vacant proposal")
	}

	held := &models.Proposal{OrdererUserId: strPtr("u1")}
	if !models.CanCloseProposal(models.Actor{Id: "u1"}, held) {
		t.Fatal("role holder must be able to close")
	}
	if models.CanCloseProposal(models.Actor{Id: "u2"}, held) {
		t.Fatal("non-holder must not close")
	}
}

func TestCanEditOrderRequiresAuthorAndOpenProposal(t *testing.T) {
	order := &models.Order{ActorId: "u1"}
	ordering := &models.Proposal{Status: models.ProposalStatusOrdering}
	placed := &models.Proposal{Status: models.ProposalStatusPlaced}

	if !models.CanEditOrder(models.Actor{Id: "u1"}, order, ordering) {
		t.Fatal("author must edit own order while proposal accepts orders")
	}
	if models.CanEditOrder(models.Actor{Id: "u2"}, order, ordering) {
		t.Fatal("non-author must not edit")
	}
	if models.CanEditOrder(models.Actor{Id: "u1"}, order, placed) {
		t.Fatal("author must not edit once proposal is Placed")
	}
	if !models.CanEditOrder(models.Actor{Id: "u2", IsAdmin: true}, order, placed) {
		t.Fatal("admin override must hold regardless of status")
	}
}

func TestCanDeleteOrderPermitsLockedSession(t *testing.T) {
	order := &models.Order{ActorId: "u1"}
	locked := &models.Session{Status: models.SessionStatusLocked}
	closed := &models.Session{Status: models.SessionStatusClosed}

	if !models.CanDeleteOrder(models.Actor{Id: "u1"}, order, locked) {
		t.Fatal("author must delete own order while session is merely Locked")
	}
	if models.CanDeleteOrder(models.Actor{Id: "u1"}, order, closed) {
		t.Fatal("author must not delete once session is Closed")
	}
	if !models.CanDeleteOrder(models.Actor{Id: "x", IsAdmin: true}, order, closed) {
		t.Fatal("admin override must hold")
	}
}

func TestCanEditOrderFinalPrice(t *testing.T) {
	p := &models.Proposal{RunnerUserId: strPtr("runner"), OrdererUserId: strPtr("orderer")}
	if !models.CanEditOrderFinalPrice(models.Actor{Id: "runner"}, p) {
		t.Fatal("runner must set final price")
	}
	if !models.CanEditOrderFinalPrice(models.Actor{Id: "orderer"}, p) {
		t.Fatal("orderer must set final price")
	}
	if models.CanEditOrderFinalPrice(models.Actor{Id: "bystander"}, p) {
		t.Fatal("bystander must not set final price")
	}
}

func TestQuickRunRequestDeletionHasNoAdminCarveOut(t *testing.T) {
	req := &models.QuickRunRequest{ActorId: "u1"}
	if !models.CanDeleteQuickRunRequest(models.Actor{Id: "u1"}, req) {
		t.Fatal("author must delete own request")
	}
	if models.CanDeleteQuickRunRequest(models.Actor{Id: "admin", IsAdmin: true}, req) {
		t.Fatal("deletion is author-only, even for admins")
	}
	if !models.CanEditQuickRunRequest(models.Actor{Id: "admin", IsAdmin: true}, req) {
		t.Fatal("editing keeps the admin override")
	}
}

func TestSelfClaimedRoleByFulfillment(t *testing.T) {
	if models.FulfillmentTypePickup.SelfClaimedRole() != models.ProposalRoleRunner {
		t.Fatal("pickup proposer self-claims runner")
	}
	if models.FulfillmentTypeDelivery.SelfClaimedRole() != models.ProposalRoleOrderer {
		t.Fatal("delivery proposer self-claims orderer")
	}
}
