package models

import "errors"

type SessionStatus string

const (
	SessionStatusOpen   SessionStatus = "Open"
	SessionStatusLocked SessionStatus = "Locked"
	SessionStatusClosed SessionStatus = "Closed"
)

func (s SessionStatus) IsOpen() bool   { return s == SessionStatusOpen }
func (s SessionStatus) IsClosed() bool { return s == SessionStatusClosed }

type ProposalStatus string

const (
	ProposalStatusOpen     ProposalStatus = "Open"
	ProposalStatusOrdering ProposalStatus = "Ordering"
	ProposalStatusPlaced   ProposalStatus = "Placed"
	ProposalStatusReceived ProposalStatus = "Received"
	ProposalStatusClosed   ProposalStatus = "Closed"
)

func (s ProposalStatus) IsClosed() bool { return s == ProposalStatusClosed }

// AcceptsOrders reports whether participants may still add or edit orders.
// Placed/Received proposals keep their orders frozen; Closed is terminal.
func (s ProposalStatus) AcceptsOrders() bool {
	return s == ProposalStatusOpen || s == ProposalStatusOrdering
}

type QuickRunStatus string

const (
	QuickRunStatusOpen   QuickRunStatus = "Open"
	QuickRunStatusLocked QuickRunStatus = "Locked"
	QuickRunStatusClosed QuickRunStatus = "Closed"
)

func (s QuickRunStatus) IsOpen() bool   { return s == QuickRunStatusOpen }
func (s QuickRunStatus) IsClosed() bool { return s == QuickRunStatusClosed }

type FulfillmentType string

const (
	FulfillmentTypePickup   FulfillmentType = "Pickup"
	FulfillmentTypeDelivery FulfillmentType = "Delivery"
)

func (t FulfillmentType) Valid() bool {
	return t == FulfillmentTypePickup || t == FulfillmentTypeDelivery
}

// SelfClaimedRole is the role the proposer takes on at creation: whoever
// proposes a pickup goes to fetch it, whoever proposes a delivery phones it
// in.
func (t FulfillmentType) SelfClaimedRole() ProposalRole {
	if t == FulfillmentTypeDelivery {
		return ProposalRoleOrderer
	}
	return ProposalRoleRunner
}

type OrderingMode string

const (
	OrderingModeCollective OrderingMode = "Collective"
	OrderingModeIndividual OrderingMode = "Individual"
)

type ProposalRole string

const (
	ProposalRoleRunner  ProposalRole = "runner"
	ProposalRoleOrderer ProposalRole = "orderer"
)

var errInvalidProposalRole = errors.New("invalid proposal role")

func (r ProposalRole) Valid() bool {
	return r == ProposalRoleRunner || r == ProposalRoleOrderer
}

// DashboardState labels a user's relationship to a session. Consumed by the
// presentation layer to pick what to render.
type DashboardState string

const (
	DashboardStateNoProposal           DashboardState = "NoProposal"
	DashboardStateOpenProposalsNoOrder DashboardState = "OpenProposalsNoOrder"
	DashboardStateHasOrder             DashboardState = "HasOrder"
	DashboardStateInCharge             DashboardState = "InCharge"
	DashboardStateAllClosed            DashboardState = "AllClosed"
	DashboardStateHistory              DashboardState = "History"
)
