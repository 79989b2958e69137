package handlers

import (
	"log"
	"strconv"
	"time"

	"permission_service/internal/middleware"
	"permission_service/internal/models"
	"permission_service/internal/service"

	"github.com/gofiber/fiber/v3"
)

type AuditHandler struct {
	auditService       *service.AuditService
	securityService    *service.SecurityService
	maintenanceService *service.MaintenanceService
}

func NewAuditHandler(auditService *service.AuditService, securityService *service.SecurityService, maintenanceService *service.MaintenanceService) *AuditHandler {
	return &AuditHandler{
		auditService:       auditService,
		securityService:    securityService,
		maintenanceService: maintenanceService,
	}
}

func (h *AuditHandler) RegisterRoutes(app *fiber.App) {
	auditGroup := app.Group("/protected/audit")

	auditGroup.Get("/logs", h.QueryLogs)
	auditGroup.Get("/analytics", h.GetAnalytics)
	auditGroup.Post("/suspicious", h.DetectSuspicious)
	auditGroup.Post("/maintenance/sweep", h.SweepExpiredGrants)
	auditGroup.Post("/maintenance/purge", h.PurgeOldLogEntries)
}

func (h *AuditHandler) QueryLogs(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.ReadAuditLogPermission)
	if !ok {
		return nil
	}

	from, _ := strconv.ParseInt(c.Query("from", "0"), 10, 64)
	to, _ := strconv.ParseInt(c.Query("to", "0"), 10, 64)

	filter := models.AuditLogFilter{
		ResourceID:           c.Query("resourceId"),
		ActorID:              c.Query("actorId"),
		AccessType:           models.AccessType(c.Query("accessType")),
		Result:               models.AccessResult(c.Query("result")),
		From:                 from,
		To:                   to,
		SourceIP:             c.Query("sourceIp"),
		SessionID:            c.Query("sessionId"),
		SecurityRelevantOnly: c.Query("securityRelevantOnly") == "true",
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	entries, err := h.auditService.Query(c.Context(), tenantID, filter, page, limit)
	if err != nil {
		log.Printf("User %s failed to query audit logs: %v", userID, err)
		return writeServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": entries,
		"meta": fiber.Map{
			"page":  page,
			"limit": limit,
			"count": len(entries),
		},
	})
}

func (h *AuditHandler) GetAnalytics(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.ReadAuditAnalyticsPermission)
	if !ok {
		return nil
	}

	from, _ := strconv.ParseInt(c.Query("from", "0"), 10, 64)
	to, _ := strconv.ParseInt(c.Query("to", "0"), 10, 64)
	resourceID := c.Query("resourceId")

	analytics, err := h.auditService.Analytics(c.Context(), tenantID, from, to, resourceID)
	if err != nil {
		log.Printf("User %s failed to get audit analytics: %v", userID, err)
		return writeServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": analytics,
		"meta": fiber.Map{
			"generated_at": time.Now().Unix(),
		},
	})
}

type detectSuspiciousRequest struct {
	WindowMinutes     int `json:"windowMinutes"`
	MaxFailedAttempts int `json:"maxFailedAttempts"`
	MaxDistinctIPs    int `json:"maxDistinctIps"`
}

func (h *AuditHandler) DetectSuspicious(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.ReadSecurityAlertsPermission)
	if !ok {
		return nil
	}

	req := detectSuspiciousRequest{WindowMinutes: 60}
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	thresholds := models.DefaultThresholds()
	if req.MaxFailedAttempts > 0 {
		thresholds.MaxFailedAttempts = req.MaxFailedAttempts
	}
	if req.MaxDistinctIPs > 0 {
		thresholds.MaxDistinctIPs = req.MaxDistinctIPs
	}

	window := time.Duration(req.WindowMinutes) * time.Minute

	alerts, err := h.securityService.DetectSuspicious(c.Context(), tenantID, window, thresholds)
	if err != nil {
		log.Printf("User %s failed to run suspicious activity detection: %v", userID, err)
		return writeServiceError(c, err)
	}

	log.Printf("User %s ran suspicious activity detection for tenant %s: %d alerts", userID, tenantID, len(alerts))

	return c.JSON(fiber.Map{
		"data": alerts,
		"meta": fiber.Map{
			"windowMinutes": req.WindowMinutes,
			"count":         len(alerts),
		},
	})
}

func (h *AuditHandler) SweepExpiredGrants(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.RunMaintenancePermission)
	if !ok {
		return nil
	}

	swept, err := h.maintenanceService.SweepExpiredGrants(c.Context(), tenantID)
	if err != nil {
		log.Printf("User %s failed to sweep expired grants: %v", userID, err)
		return writeServiceError(c, err)
	}

	log.Printf("User %s swept %d expired grants for tenant %s", userID, swept, tenantID)

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"swept": swept,
		},
	})
}

type purgeRequest struct {
	RetentionDays int `json:"retentionDays"`
}

func (h *AuditHandler) PurgeOldLogEntries(c fiber.Ctx) error {
	tenantID, userID, ok := requireHeaderPermission(c, middleware.RunMaintenancePermission)
	if !ok {
		return nil
	}

	var req purgeRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	purged, err := h.maintenanceService.PurgeOldLogEntries(c.Context(), tenantID, req.RetentionDays)
	if err != nil {
		log.Printf("User %s failed to purge audit logs: %v", userID, err)
		return writeServiceError(c, err)
	}

	log.Printf("User %s purged %d audit entries for tenant %s", userID, purged, tenantID)

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"purged": purged,
		},
	})
}
