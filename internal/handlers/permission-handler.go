package handlers

import (
	"errors"
	"log"
	"strconv"
	"time"

	"permission_service/internal/middleware"
	"permission_service/internal/models"
	"permission_service/internal/service"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	permissionCheckTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permission_check_total",
		Help: "Total number of permission checks by result and source",
	}, []string{"result", "source"})

	permissionCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "permission_check_duration_seconds",
		Help:    "Latency of permission checks",
		Buckets: prometheus.DefBuckets,
	})

	grantOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permission_grant_operations_total",
		Help: "Total number of grant lifecycle operations by operation and outcome",
	}, []string{"operation", "outcome"})
)

type PermissionHandler struct {
	resolver     *service.PermissionResolver
	grantService *service.GrantService
}

func NewPermissionHandler(resolver *service.PermissionResolver, grantService *service.GrantService) *PermissionHandler {
	return &PermissionHandler{
		resolver:     resolver,
		grantService: grantService,
	}
}

func (h *PermissionHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	permissionGroup := app.Group("/protected/permission")

	permissionGroup.Post("/check", h.CheckPermission)
	permissionGroup.Get("/grants", h.ListGrants)
	permissionGroup.Get("/grants/expiring", h.ListExpiringGrants)
	permissionGroup.Post("/grants", h.GrantPermission)
	permissionGroup.Delete("/grants/:id", h.RevokePermission)
	permissionGroup.Post("/grants/bulk", h.BulkGrant)
	permissionGroup.Post("/grants/bulk-revoke", h.BulkRevoke)
}

// accessContext captures the request metadata recorded alongside audit
// entries for every operation that writes to the access log.
func accessContext(c fiber.Ctx) models.AccessContext {
	return models.AccessContext{
		SessionID: c.Get("X-Session-ID"),
		SourceIP:  c.IP(),
		UserAgent: c.Get("User-Agent"),
		Endpoint:  c.Path(),
		Method:    c.Method(),
	}
}

// writeServiceError maps service-layer errors onto HTTP statuses.
func writeServiceError(c fiber.Ctx, err error) error {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": verr.Error(),
		})
	case errors.Is(err, models.ErrPermissionDenied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have enough permission",
		})
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
}

func requireHeaderPermission(c fiber.Ctx, required string) (tenantID, userID string, ok bool) {
	tenantID = c.Get("X-Tenant-ID")
	userID = c.Get("X-User-ID")

	if tenantID == "" || userID == "" {
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "X-Tenant-ID and X-User-ID headers are required",
		})
		return "", "", false
	}

	if !middleware.HasPermission(c.Get("X-User-Permissions"), required) {
		c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You don't have enough permission",
		})
		return "", "", false
	}

	return tenantID, userID, true
}

type checkPermissionRequest struct {
	ActorID    string `json:"actorId"`
	ResourceID string `json:"resourceId"`
	Level      string `json:"level"`
	AccessType string `json:"accessType"`
}

func (h *PermissionHandler) CheckPermission(c fiber.Ctx) error {
	tenantID, _, ok := requireHeaderPermission(c, middleware.CheckPermissionPermission)
	if !ok {
		return nil
	}

	var req checkPermissionRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	level, err := models.ParseLevel(req.Level)
	if err != nil {
		return writeServiceError(c, err)
	}

	accessType := models.AccessType(req.AccessType)
	if accessType == "" {
		accessType = models.AccessRead
	}

	start := time.Now()
	result, err := h.resolver.CheckLogged(c.Context(), tenantID, req.ActorID, req.ResourceID, level, accessType, accessContext(c))
	permissionCheckDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("Permission check failed for actor %s on resource %s: %v", req.ActorID, req.ResourceID, err)
		return writeServiceError(c, err)
	}

	outcome := "denied"
	if result.Granted {
		outcome = "granted"
	}
	permissionCheckTotal.WithLabelValues(outcome, string(result.Source)).Inc()

	return c.JSON(fiber.Map{
		"data": result,
	})
}

type grantRequest struct {
	ResourceID string             `json:"resourceId"`
	Target     models.GrantTarget `json:"target"`
	Level      string             `json:"level"`
	ValidFrom  int64              `json:"validFrom"`
	ValidUntil int64              `json:"validUntil"`
	Notes      string             `json:"notes"`
}

func (h *PermissionHandler) GrantPermission(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.ManagePermissionsPermission)
	if !ok {
		return nil
	}

	var req grantRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	level, err := models.ParseLevel(req.Level)
	if err != nil {
		return writeServiceError(c, err)
	}

	grant, err := h.grantService.Grant(c.Context(), tenantID, userID, req.ResourceID, req.Target, level, req.ValidFrom, req.ValidUntil, req.Notes, accessContext(c))
	if err != nil {
		grantOperationsTotal.WithLabelValues("grant", "failure").Inc()
		log.Printf("User %s failed to grant %s on resource %s: %v", userID, req.Level, req.ResourceID, err)
		return writeServiceError(c, err)
	}

	grantOperationsTotal.WithLabelValues("grant", "success").Inc()
	log.Printf("User %s granted %s on resource %s to %s %s", userID, grant.Level, grant.ResourceID, grant.Target.Type, grant.Target.ID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"data": grant,
	})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *PermissionHandler) RevokePermission(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.ManagePermissionsPermission)
	if !ok {
		return nil
	}

	grantID := c.Params("id")

	var req revokeRequest
	if err := c.Bind().Body(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	grant, err := h.grantService.Revoke(c.Context(), tenantID, userID, grantID, req.Reason, accessContext(c))
	if err != nil {
		grantOperationsTotal.WithLabelValues("revoke", "failure").Inc()
		log.Printf("User %s failed to revoke grant %s: %v", userID, grantID, err)
		return writeServiceError(c, err)
	}

	grantOperationsTotal.WithLabelValues("revoke", "success").Inc()
	log.Printf("User %s revoked grant %s", userID, grantID)

	return c.JSON(fiber.Map{
		"data": grant,
	})
}

type bulkGrantRequest struct {
	ResourceID string               `json:"resourceId"`
	Level      string               `json:"level"`
	Targets    []models.GrantTarget `json:"targets"`
	ValidFrom  int64                `json:"validFrom"`
	ValidUntil int64                `json:"validUntil"`
}

func (h *PermissionHandler) BulkGrant(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.ManagePermissionsPermission)
	if !ok {
		return nil
	}

	var req bulkGrantRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	level, err := models.ParseLevel(req.Level)
	if err != nil {
		return writeServiceError(c, err)
	}

	result, err := h.grantService.BulkGrant(c.Context(), tenantID, userID, req.ResourceID, level, req.Targets, req.ValidFrom, req.ValidUntil, accessContext(c))
	if err != nil {
		grantOperationsTotal.WithLabelValues("bulk_grant", "failure").Inc()
		return writeServiceError(c, err)
	}

	grantOperationsTotal.WithLabelValues("bulk_grant", "success").Inc()
	log.Printf("User %s bulk granted %s on resource %s: %d succeeded, %d failed",
		userID, req.Level, req.ResourceID, result.Totals.Succeeded, result.Totals.Failed)

	return c.JSON(fiber.Map{
		"data": result,
	})
}

type bulkRevokeRequest struct {
	GrantIDs []string `json:"grantIds"`
	Reason   string   `json:"reason"`
}

func (h *PermissionHandler) BulkRevoke(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.ManagePermissionsPermission)
	if !ok {
		return nil
	}

	var req bulkRevokeRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.grantService.BulkRevoke(c.Context(), tenantID, userID, req.GrantIDs, req.Reason, accessContext(c))
	if err != nil {
		grantOperationsTotal.WithLabelValues("bulk_revoke", "failure").Inc()
		return writeServiceError(c, err)
	}

	grantOperationsTotal.WithLabelValues("bulk_revoke", "success").Inc()
	log.Printf("User %s bulk revoked %d grants: %d succeeded, %d failed",
		userID, len(req.GrantIDs), result.Totals.Succeeded, result.Totals.Failed)

	return c.JSON(fiber.Map{
		"data": result,
	})
}

func (h *PermissionHandler) ListGrants(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.ReadGrantsPermission)
	if !ok {
		return nil
	}

	filter := models.GrantFilter{
		ResourceID:      c.Query("resourceId"),
		ActorID:         c.Query("actorId"),
		IncludeInactive: c.Query("includeInactive") == "true",
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	grants, err := h.grantService.ListGrants(c.Context(), tenantID, filter, page, limit)
	if err != nil {
		log.Printf("User %s failed to list grants: %v", userID, err)
		return writeServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": grants,
		"meta": fiber.Map{
			"page":  page,
			"limit": limit,
			"count": len(grants),
		},
	})
}

func (h *PermissionHandler) ListExpiringGrants(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.ReadGrantsPermission)
	if !ok {
		return nil
	}

	daysAhead, _ := strconv.Atoi(c.Query("daysAhead", "7"))

	grants, err := h.grantService.ListExpiringGrants(c.Context(), tenantID, daysAhead)
	if err != nil {
		log.Printf("User %s failed to list expiring grants: %v", userID, err)
		return writeServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": grants,
		"meta": fiber.Map{
			"daysAhead": daysAhead,
			"count":     len(grants),
		},
	})
}
