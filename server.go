package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/middlewares"
	"github.com/mmdatafocus/lunchops_backend/models"
	"github.com/mmdatafocus/lunchops_backend/utils"
	"github.com/mmdatafocus/lunchops_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("lunchops-backend")

// writeError maps the lifecycle failure kinds onto HTTP statuses. The
// wrapped message goes to the client as-is; it never contains internals.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorNotOpen), errors.Is(err, utils.ErrorDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func createSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewSession
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		session, err := models.CreateSession(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func getSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		session, err := models.GetSession(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func getSessionByDayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		channelId := c.Query("channel_id")
		if channelId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id is required"})
			return
		}
		date := time.Now()
		if v := c.Query("date"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
				return
			}
			date = parsed
		}
		session, err := models.GetSessionByDay(c.Request.Context(), date, channelId)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func closeSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		session, err := models.CloseSession(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func sessionProposalsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var (
			proposals []*models.Proposal
			err       error
		)
		if c.Query("open") == "true" {
			proposals, err = models.GetOpenSessionProposals(c.Request.Context(), id)
		} else {
			proposals, err = models.GetSessionProposals(c.Request.Context(), id)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, proposals)
	}
}

func dashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		session, err := models.GetSession(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		actor := models.ActorFromContext(ctx)
		view, err := models.BuildDashboardView(ctx, session, actor.Id)
		if err != nil {
			writeError(c, err)
			return
		}
		state, flags := models.DeriveDashboardState(actor.Id, view)
		c.JSON(http.StatusOK, gin.H{
			"state":     state,
			"has_order": flags.HasOrder,
			"in_charge": flags.InCharge,
			"session":   view.Session,
			"proposals": view.Proposals,
			"own_order": view.OwnOrder,
		})
	}
}

func proposeVendorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProposal
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		proposal, err := models.ProposeVendor(c.Request.Context(), &input, actor.Id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, proposal)
	}
}

type newVendorProposal struct {
	SessionId    int                    `json:"session_id" binding:"required"`
	Vendor       models.NewVendor       `json:"vendor" binding:"required"`
	Fulfillment  models.FulfillmentType `json:"fulfillment" binding:"required"`
	OrderingMode models.OrderingMode    `json:"ordering_mode"`
}

func proposeNewVendorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input newVendorProposal
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		proposal, err := models.ProposeNewVendor(c.Request.Context(), input.SessionId,
			&input.Vendor, input.Fulfillment, input.OrderingMode, actor.Id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, proposal)
	}
}

func getProposalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		proposal, err := models.GetProposal(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, proposal)
	}
}

func closeProposalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		proposal, err := models.CloseProposal(c.Request.Context(), id, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, proposal)
	}
}

type claimRoleInput struct {
	Role models.ProposalRole `json:"role" binding:"required"`
}

func claimProposalRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var input claimRoleInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		claimed, err := models.AssignProposalRole(c.Request.Context(), id, input.Role, actor.Id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"claimed": claimed})
	}
}

type delegateRoleInput struct {
	Role       models.ProposalRole `json:"role" binding:"required"`
	FromUserId string              `json:"from_user_id"`
	ToUserId   string              `json:"to_user_id" binding:"required"`
}

func delegateProposalRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var input delegateRoleInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		from := input.FromUserId
		if from == "" {
			from = actor.Id
		}
		// Only an admin may delegate on another holder's behalf; the holder
		// check itself happens under the row lock.
		if from != actor.Id && !actor.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot delegate another user's role"})
			return
		}
		delegated, err := models.DelegateProposalRole(c.Request.Context(), id, input.Role, from, input.ToUserId)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"delegated": delegated})
	}
}

func proposalOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		orders, err := models.GetProposalOrders(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	}
}

func createOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		order, err := models.CreateOrder(c.Request.Context(), &input, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func updateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var fields models.OrderFields
		if err := c.ShouldBindJSON(&fields); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		order, err := models.UpdateOrder(c.Request.Context(), id, &fields, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

type finalPriceInput struct {
	PriceFinal string `json:"price_final" binding:"required"`
}

func setOrderFinalPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var input finalPriceInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		order, err := models.SetOrderFinalPrice(c.Request.Context(), id, input.PriceFinal, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func deleteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		if err := models.DeleteOrder(c.Request.Context(), id, actor); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func orderAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		entries, err := models.GetOrderAuditTrail(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func createQuickRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewQuickRun
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		run, err := models.CreateQuickRun(c.Request.Context(), &input, actor.Id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func getQuickRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		run, err := models.GetQuickRun(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		requests, err := models.GetQuickRunRequests(c.Request.Context(), run.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"quick_run": run, "requests": requests})
	}
}

func addQuickRunRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewQuickRunRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		request, err := models.AddQuickRunRequest(c.Request.Context(), &input, actor.Id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, request)
	}
}

func updateQuickRunRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var input models.NewQuickRunRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		request, err := models.UpdateQuickRunRequest(c.Request.Context(), id, &input, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, request)
	}
}

func deleteQuickRunRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		if err := models.DeleteQuickRunRequest(c.Request.Context(), id, actor); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func lockQuickRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		run, err := models.LockQuickRun(c.Request.Context(), id, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

type closeQuickRunInput struct {
	Adjustments []models.QuickRunPriceAdjustment `json:"adjustments"`
}

func closeQuickRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var input closeQuickRunInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		run, err := models.CloseQuickRun(c.Request.Context(), id, actor, input.Adjustments)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func claimQuickRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		claimed, err := models.AssignQuickRunRunner(c.Request.Context(), id, actor.Id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"claimed": claimed})
	}
}

type delegateRunnerInput struct {
	FromUserId string `json:"from_user_id"`
	ToUserId   string `json:"to_user_id" binding:"required"`
}

func delegateQuickRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var input delegateRunnerInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		from := input.FromUserId
		if from == "" {
			from = actor.Id
		}
		if from != actor.Id && !actor.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot delegate another user's role"})
			return
		}
		delegated, err := models.DelegateQuickRunRunner(c.Request.Context(), id, from, input.ToUserId)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"delegated": delegated})
	}
}

func listVendorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		vendors, err := models.GetVendors(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendors)
	}
}

func createVendorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewVendor
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		if !models.CanCreateVendor(actor) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
			return
		}
		vendor, err := models.FindOrCreateVendor(c.Request.Context(), &input, actor.Id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendor)
	}
}

func updateVendorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var input models.NewVendor
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		vendor, err := models.UpdateVendor(c.Request.Context(), id, &input, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendor)
	}
}

type vendorActiveInput struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func toggleVendorActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var input vendorActiveInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor := models.ActorFromContext(c.Request.Context())
		vendor, err := models.ToggleVendorActive(c.Request.Context(), id, *input.IsActive, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendor)
	}
}

type orgSettingsInput struct {
	Timezone string `json:"timezone"`
	Settings string `json:"settings"`
}

func updateOrganizationSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input orgSettingsInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		actor := models.ActorFromContext(ctx)
		if !actor.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
			return
		}
		tenantId, _ := utils.GetTenantIdFromContext(ctx)
		org, err := models.UpdateOrganizationSettings(ctx, tenantId, input.Timezone, input.Settings)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

// sweepHandler triggers one sweep pass on demand; the periodic loop is the
// normal path, this exists for ops and tests.
func sweepHandler(sweeper *workflow.DeadlineSweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := models.ActorFromContext(c.Request.Context())
		if !actor.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "sweepOnce")
		defer span.End()
		sessions, err := sweeper.LockExpiredSessions(ctx, c.Query("timezone"))
		if err != nil {
			writeError(c, err)
			return
		}
		runs, err := sweeper.LockExpiredQuickRuns(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions_locked": sessions, "quick_runs_locked": runs})
	}
}

// notifyReplayHandler requeues DEAD/FAILED outbox rows (admin only).
func notifyReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := models.ActorFromContext(c.Request.Context())
		if !actor.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
			return
		}
		db := config.GetDB()
		res := db.WithContext(c.Request.Context()).
			Model(&models.NotificationRecord{}).
			Where("publish_status IN ?", []string{models.NotifyPublishStatusDead, models.NotifyPublishStatusFailed}).
			Updates(map[string]interface{}{
				"publish_status":     models.NotifyPublishStatusPending,
				"publish_attempts":   0,
				"last_publish_error": nil,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			})
		if res.Error != nil {
			writeError(c, res.Error)
			return
		}
		c.JSON(http.StatusOK, gin.H{"requeued": res.RowsAffected})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness. Redis stays optional.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS: explicit allowlist via CORS_ALLOWED_ORIGINS
	// (comma-separated) in production, allow-all otherwise.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "X-Provider", "X-Provider-Team",
		"X-Actor-Id", "X-Actor-Admin", "X-Team-Name", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "X-Correlation-Id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	sweeper := workflow.NewDeadlineSweeper(nil, logger)

	api := r.Group("/", middlewares.TenantMiddleware())
	{
		api.POST("/sessions", createSessionHandler())
		api.GET("/sessions/today", getSessionByDayHandler())
		api.GET("/sessions/:id", getSessionHandler())
		api.POST("/sessions/:id/close", closeSessionHandler())
		api.GET("/sessions/:id/proposals", sessionProposalsHandler())
		api.GET("/sessions/:id/dashboard", dashboardHandler())

		api.POST("/proposals", proposeVendorHandler())
		api.POST("/proposals/new-vendor", proposeNewVendorHandler())
		api.GET("/proposals/:id", getProposalHandler())
		api.POST("/proposals/:id/close", closeProposalHandler())
		api.POST("/proposals/:id/claim", claimProposalRoleHandler())
		api.POST("/proposals/:id/delegate", delegateProposalRoleHandler())
		api.GET("/proposals/:id/orders", proposalOrdersHandler())

		api.POST("/orders", createOrderHandler())
		api.PUT("/orders/:id", updateOrderHandler())
		api.POST("/orders/:id/final-price", setOrderFinalPriceHandler())
		api.DELETE("/orders/:id", deleteOrderHandler())
		api.GET("/orders/:id/audit", orderAuditHandler())

		api.POST("/quick-runs", createQuickRunHandler())
		api.GET("/quick-runs/:id", getQuickRunHandler())
		api.POST("/quick-runs/:id/lock", lockQuickRunHandler())
		api.POST("/quick-runs/:id/close", closeQuickRunHandler())
		api.POST("/quick-runs/:id/claim", claimQuickRunHandler())
		api.POST("/quick-runs/:id/delegate", delegateQuickRunHandler())
		api.POST("/quick-run-requests", addQuickRunRequestHandler())
		api.PUT("/quick-run-requests/:id", updateQuickRunRequestHandler())
		api.DELETE("/quick-run-requests/:id", deleteQuickRunRequestHandler())

		api.GET("/vendors", listVendorsHandler())
		api.POST("/vendors", createVendorHandler())
		api.PUT("/vendors/:id", updateVendorHandler())
		api.POST("/vendors/:id/active", toggleVendorActiveHandler())

		api.PUT("/organization/settings", updateOrganizationSettingsHandler())

		// Ops tooling (admin only).
		api.POST("/internal/ops/sweep", sweepHandler(sweeper))
		api.POST("/internal/ops/outbox/replay", notifyReplayHandler())
	}

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	gormDB := config.GetDB()
	sqlDB, _ := gormDB.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow disabling migrations
	// on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	sweeper.DB = gormDB

	// Background workers: deadline sweep + outbox dispatch (publish AFTER commit).
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go sweeper.Run(workerCtx)
	go workflow.NewNotifyDispatcher(gormDB, logger).Run(workerCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := gormDB.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
