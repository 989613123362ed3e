package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/models"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"github.com/mmdatafocus/lunchops_backend/workflow"
)

// setupLifecycleDB boots a throwaway MySQL container, connects the global DB
// and migrates the schema. Redis is deliberately absent: the cache layer
// must degrade to direct DB reads.
func setupLifecycleDB(t *testing.T) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "lunchops_test")
	t.Setenv("REDIS_ADDRESS", "")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
}

// tenantContext resolves (or creates) an organization and returns a request
// context carrying its tenant plus the given actor.
func tenantContext(t *testing.T, teamId, actorId string, isAdmin bool) context.Context {
	t.Helper()
	ctx := context.Background()
	org, err := models.FindOrCreateOrganization(ctx, "slack", teamId, "Team "+teamId)
	if err != nil {
		t.Fatalf("FindOrCreateOrganization: %v", err)
	}
	ctx = utils.SetTenantIdInContext(ctx, org.ID.String())
	ctx = utils.SetUserIdInContext(ctx, actorId)
	ctx = utils.SetIsAdminInContext(ctx, isAdmin)
	return ctx
}

func openSession(t *testing.T, ctx context.Context, channelId string) *models.Session {
	t.Helper()
	session, err := models.CreateSession(ctx, &models.NewSession{
		Date:       time.Now().UTC(),
		ChannelId:  channelId,
		DeadlineAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

func proposePickup(t *testing.T, ctx context.Context, sessionId int, vendorName, actorId string) *models.Proposal {
	t.Helper()
	proposal, err := models.ProposeNewVendor(ctx, sessionId, &models.NewVendor{Name: vendorName},
		models.FulfillmentTypePickup, models.OrderingModeCollective, actorId)
	if err != nil {
		t.Fatalf("ProposeNewVendor: %v", err)
	}
	return proposal
}

func TestConcurrentRoleClaimsExactlyOneWins(t *testing.T) {
	setupLifecycleDB(t)
	ctx := tenantContext(t, "T-claims", "proposer", false)

	session := openSession(t, ctx, "C1")
	// Delivery: the proposer self-claims orderer, leaving runner vacant.
	proposal, err := models.ProposeNewVendor(ctx, session.ID, &models.NewVendor{Name: "Thai Corner"},
		models.FulfillmentTypeDelivery, models.OrderingModeCollective, "proposer")
	if err != nil {
		t.Fatalf("ProposeNewVendor: %v", err)
	}

	const claimants = 8
	var wg sync.WaitGroup
	results := make([]bool, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cctx := tenantContext(t, "T-claims", fmt.Sprintf("user-%d", i), false)
			won, err := models.AssignProposalRole(cctx, proposal.ID, models.ProposalRoleRunner, fmt.Sprintf("user-%d", i))
			if err != nil {
				t.Errorf("AssignProposalRole: %v", err)
				return
			}
			results[i] = won
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range results {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", winners)
	}

	after, err := models.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if after.RunnerUserId == nil {
		t.Fatal("runner must be set after the race")
	}
}

func TestDelegationRejectsImpostor(t *testing.T) {
	setupLifecycleDB(t)
	ctx := tenantContext(t, "T-delegate", "holder", false)

	session := openSession(t, ctx, "C1")
	proposal := proposePickup(t, ctx, session.ID, "Bagel Shop", "holder")

	ok, err := models.DelegateProposalRole(ctx, proposal.ID, models.ProposalRoleRunner, "impostor", "target")
	if err != nil {
		t.Fatalf("DelegateProposalRole: %v", err)
	}
	if ok {
		t.Fatal("impostor delegation must fail")
	}

	ok, err = models.DelegateProposalRole(ctx, proposal.ID, models.ProposalRoleRunner, "holder", "target")
	if err != nil {
		t.Fatalf("DelegateProposalRole: %v", err)
	}
	if !ok {
		t.Fatal("holder delegation must succeed")
	}
	after, _ := models.GetProposal(ctx, proposal.ID)
	if after.RunnerUserId == nil || *after.RunnerUserId != "target" {
		t.Fatalf("runner should be target, got %v", after.RunnerUserId)
	}
	// Delegation never touches status.
	if after.Status != models.ProposalStatusOrdering {
		t.Fatalf("status must stay Ordering, got %s", after.Status)
	}
}

func TestDuplicateProposalForSameVendor(t *testing.T) {
	setupLifecycleDB(t)
	ctx := tenantContext(t, "T-dup", "u1", false)

	session := openSession(t, ctx, "C1")
	proposal := proposePickup(t, ctx, session.ID, "Ramen-ya", "u1")

	_, err := models.ProposeVendor(ctx, &models.NewProposal{
		SessionId:   session.ID,
		VendorId:    proposal.VendorId,
		Fulfillment: models.FulfillmentTypePickup,
	}, "u2")
	if !errors.Is(err, utils.ErrorDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestCloseSessionCascadesToProposals(t *testing.T) {
	setupLifecycleDB(t)
	ctx := tenantContext(t, "T-cascade", "u1", false)

	session := openSession(t, ctx, "C1")
	p1 := proposePickup(t, ctx, session.ID, "Ramen-ya", "u1")
	p2 := proposePickup(t, ctx, session.ID, "Bagel Shop", "u1")

	if _, err := models.CloseSession(ctx, session.ID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	for _, id := range []int{p1.ID, p2.ID} {
		p, err := models.GetProposal(ctx, id)
		if err != nil {
			t.Fatalf("GetProposal: %v", err)
		}
		if p.Status != models.ProposalStatusClosed {
			t.Fatalf("proposal %d should be Closed, got %s", id, p.Status)
		}
	}

	// Closing again is the "not open" failure, not a silent no-op.
	if _, err := models.CloseSession(ctx, session.ID); !errors.Is(err, utils.ErrorNotOpen) {
		t.Fatalf("expected not-open error on double close, got %v", err)
	}
}

func TestDeadlineSweepIsIdempotent(t *testing.T) {
	setupLifecycleDB(t)
	ctx := tenantContext(t, "T-sweep", "u1", false)

	session, err := models.CreateSession(ctx, &models.NewSession{
		Date:       time.Now().UTC(),
		ChannelId:  "C1",
		DeadlineAt: time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	run, err := models.CreateQuickRun(ctx, &models.NewQuickRun{
		Destination:  "Bakery",
		DelayMinutes: 1,
	}, "runner")
	if err != nil {
		t.Fatalf("CreateQuickRun: %v", err)
	}
	// Force the run past its deadline.
	if err := config.GetDB().Model(&models.QuickRun{}).Where("id = ?", run.ID).
		Update("deadline_at", time.Now().UTC().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("backdate quick run: %v", err)
	}

	sweeper := workflow.NewDeadlineSweeper(config.GetDB(), config.GetLogger())
	sessions, err := sweeper.LockExpiredSessions(context.Background(), "")
	if err != nil {
		t.Fatalf("LockExpiredSessions: %v", err)
	}
	runs, err := sweeper.LockExpiredQuickRuns(context.Background())
	if err != nil {
		t.Fatalf("LockExpiredQuickRuns: %v", err)
	}
	if sessions != 1 || runs != 1 {
		t.Fatalf("first sweep should lock 1+1, got %d sessions %d runs", sessions, runs)
	}

	// Second sweep finds nothing left to do.
	sessions, _ = sweeper.LockExpiredSessions(context.Background(), "")
	runs, _ = sweeper.LockExpiredQuickRuns(context.Background())
	if sessions != 0 || runs != 0 {
		t.Fatalf("second sweep must be a no-op, got %d sessions %d runs", sessions, runs)
	}

	locked, _ := models.GetSession(ctx, session.ID)
	if locked.Status != models.SessionStatusLocked {
		t.Fatalf("session should be Locked, got %s", locked.Status)
	}
}

func TestOrderAuditTrail(t *testing.T) {
	setupLifecycleDB(t)
	ctx := tenantContext(t, "T-audit", "runner", false)

	session := openSession(t, ctx, "C1")
	proposal := proposePickup(t, ctx, session.ID, "Ramen-ya", "runner")

	actor := models.Actor{Id: "eater"}
	ectx := tenantContext(t, "T-audit", "eater", false)
	order, err := models.CreateOrder(ectx, &models.NewOrder{
		ProposalId:     proposal.ID,
		Description:    "shoyu ramen",
		PriceEstimated: "12.00",
	}, actor)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	entries, err := models.GetOrderAuditTrail(ectx, order.ID)
	if err != nil {
		t.Fatalf("GetOrderAuditTrail: %v", err)
	}
	if len(entries) != 1 || !strings.Contains(entries[0].Changes, "created") {
		t.Fatalf("expected single created entry, got %+v", entries)
	}

	// No-op update: same values, different spelling of the price.
	desc := "shoyu ramen"
	price := "12.0"
	if _, err := models.UpdateOrder(ectx, order.ID, &models.OrderFields{
		Description:    &desc,
		PriceEstimated: &price,
	}, actor); err != nil {
		t.Fatalf("UpdateOrder (no-op): %v", err)
	}
	entries, _ = models.GetOrderAuditTrail(ectx, order.ID)
	if len(entries) != 1 {
		t.Fatalf("no-op update must not append, got %d entries", len(entries))
	}

	newDesc := "miso ramen"
	if _, err := models.UpdateOrder(ectx, order.ID, &models.OrderFields{Description: &newDesc}, actor); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	entries, _ = models.GetOrderAuditTrail(ectx, order.ID)
	if len(entries) != 2 {
		t.Fatalf("real change must append exactly one entry, got %d", len(entries))
	}
	last := entries[len(entries)-1]
	if !strings.Contains(last.Changes, "shoyu ramen") || !strings.Contains(last.Changes, "miso ramen") {
		t.Fatalf("change entry must carry from/to: %s", last.Changes)
	}
	if last.ActorId != "eater" {
		t.Fatalf("entry actor wrong: %s", last.ActorId)
	}
}

func TestQuickRunLifecycle(t *testing.T) {
	setupLifecycleDB(t)
	rctx := tenantContext(t, "T-qr", "runner", false)

	run, err := models.CreateQuickRun(rctx, &models.NewQuickRun{
		Destination:  "Bakery",
		DelayMinutes: 30,
	}, "runner")
	if err != nil {
		t.Fatalf("CreateQuickRun: %v", err)
	}

	// The runner cannot file a request on their own run.
	_, err = models.AddQuickRunRequest(rctx, &models.NewQuickRunRequest{
		QuickRunId:     run.ID,
		Description:    "croissant",
		PriceEstimated: "3.50",
	}, "runner")
	if !errors.Is(err, utils.ErrorNotAuthorized) {
		t.Fatalf("expected not-authorized for runner self-request, got %v", err)
	}

	ectx := tenantContext(t, "T-qr", "eater", false)
	request, err := models.AddQuickRunRequest(ectx, &models.NewQuickRunRequest{
		QuickRunId:     run.ID,
		Description:    "croissant",
		PriceEstimated: "3.50",
	}, "eater")
	if err != nil {
		t.Fatalf("AddQuickRunRequest: %v", err)
	}

	// One request per person per run.
	_, err = models.AddQuickRunRequest(ectx, &models.NewQuickRunRequest{
		QuickRunId:     run.ID,
		Description:    "another croissant",
		PriceEstimated: "3.50",
	}, "eater")
	if !errors.Is(err, utils.ErrorDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// Close with one real adjustment and one foreign id; the foreign id is
	// silently ignored.
	closed, err := models.CloseQuickRun(rctx, run.ID, models.Actor{Id: "runner"}, []models.QuickRunPriceAdjustment{
		{RequestId: request.ID, PriceFinal: "3.80"},
		{RequestId: request.ID + 999, PriceFinal: "99.99"},
	})
	if err != nil {
		t.Fatalf("CloseQuickRun: %v", err)
	}
	if closed.Status != models.QuickRunStatusClosed {
		t.Fatalf("run should be Closed, got %s", closed.Status)
	}

	requests, err := models.GetQuickRunRequests(rctx, run.ID)
	if err != nil {
		t.Fatalf("GetQuickRunRequests: %v", err)
	}
	if len(requests) != 1 || requests[0].PriceFinal == nil {
		t.Fatalf("expected one settled request, got %+v", requests)
	}
	if requests[0].PriceFinal.StringFixed(2) != "3.80" {
		t.Fatalf("final price wrong: %s", requests[0].PriceFinal.String())
	}

	// Requests are frozen once the run is no longer Open.
	_, err = models.AddQuickRunRequest(ectx, &models.NewQuickRunRequest{
		QuickRunId:     run.ID,
		Description:    "too late",
		PriceEstimated: "1.00",
	}, "latecomer")
	if !errors.Is(err, utils.ErrorNotOpen) {
		t.Fatalf("expected not-open error, got %v", err)
	}
}

func TestTenantIsolationForVendors(t *testing.T) {
	setupLifecycleDB(t)
	ctxA := tenantContext(t, "T-A", "u1", false)
	ctxB := tenantContext(t, "T-B", "u1", false)

	if _, err := models.FindOrCreateVendor(ctxA, &models.NewVendor{Name: "Ramen-ya"}, "u1"); err != nil {
		t.Fatalf("FindOrCreateVendor: %v", err)
	}

	vendorsB, err := models.GetVendors(ctxB)
	if err != nil {
		t.Fatalf("GetVendors: %v", err)
	}
	if len(vendorsB) != 0 {
		t.Fatalf("tenant B must not see tenant A's vendors, got %d", len(vendorsB))
	}

	// Same name in tenant B creates a distinct row instead of adopting A's.
	vb, err := models.FindOrCreateVendor(ctxB, &models.NewVendor{Name: "Ramen-ya"}, "u1")
	if err != nil {
		t.Fatalf("FindOrCreateVendor: %v", err)
	}
	vendorsA, _ := models.GetVendors(ctxA)
	if len(vendorsA) != 1 || vendorsA[0].ID == vb.ID {
		t.Fatal("tenants must own separate vendor rows")
	}
}

func TestOrderOnLockedSessionAdminOnly(t *testing.T) {
	setupLifecycleDB(t)
	ctx := tenantContext(t, "T-locked", "runner", false)

	session := openSession(t, ctx, "C1")
	proposal := proposePickup(t, ctx, session.ID, "Ramen-ya", "runner")

	if err := config.GetDB().Model(&models.Session{}).Where("id = ?", session.ID).
		Update("status", models.SessionStatusLocked).Error; err != nil {
		t.Fatalf("lock session: %v", err)
	}

	_, err := models.CreateOrder(ctx, &models.NewOrder{
		ProposalId:     proposal.ID,
		Description:    "late order",
		PriceEstimated: "9.00",
	}, models.Actor{Id: "eater"})
	if !errors.Is(err, utils.ErrorNotOpen) {
		t.Fatalf("expected not-open for non-admin on locked session, got %v", err)
	}

	if _, err := models.CreateOrder(ctx, &models.NewOrder{
		ProposalId:     proposal.ID,
		Description:    "admin late order",
		PriceEstimated: "9.00",
	}, models.Actor{Id: "admin", IsAdmin: true}); err != nil {
		t.Fatalf("admin must order past the lock: %v", err)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("lunchops-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=lunchops_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
