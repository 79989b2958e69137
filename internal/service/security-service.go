package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"permission_service/internal/models"
)

// SecurityService mines the audit log for suspicious activity. The
// heuristics are stateless: every scan recomputes from stored entries, so
// two scans over the same window and data produce identical alerts.
type SecurityService struct {
	audit  AuditStore
	alerts AlertPublisher
	now    func() time.Time
}

func NewSecurityService(audit AuditStore, alerts AlertPublisher) *SecurityService {
	return &SecurityService{
		audit:  audit,
		alerts: alerts,
		now:    time.Now,
	}
}

func isSensitiveOperation(t models.AccessType) bool {
	return t == models.AccessDelete || t == models.AccessPermissionChange
}

// DetectSuspicious evaluates three independent heuristics over the trailing
// window: excessive denials per actor, source-IP diversity per actor, and
// individual failed sensitive operations. Thresholds belong to the caller so
// the false-positive rate stays tunable.
func (s *SecurityService) DetectSuspicious(ctx context.Context, tenantID string, window time.Duration, thresholds models.SecurityThresholds) ([]models.SecurityAlert, error) {
	if tenantID == "" {
		return nil, &models.ValidationError{Field: "tenantId", Message: "tenant id must not be empty"}
	}
	if window <= 0 {
		return nil, &models.ValidationError{Field: "window", Message: "window must be positive"}
	}

	now := s.now()
	since := now.Add(-window).UnixMilli()
	entries, err := s.audit.RecentEntries(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}

	detectedAt := now.UnixMilli()
	windowSeconds := int64(window.Seconds())

	deniedCounts := make(map[string]int64)
	actorIPs := make(map[string]map[string]struct{})
	var alerts []models.SecurityAlert

	for _, entry := range entries {
		if entry.ActorID == "" {
			continue
		}

		if entry.Result == models.ResultDenied {
			deniedCounts[entry.ActorID]++
		}

		if entry.SourceIP != "" {
			ips, ok := actorIPs[entry.ActorID]
			if !ok {
				ips = make(map[string]struct{})
				actorIPs[entry.ActorID] = ips
			}
			ips[entry.SourceIP] = struct{}{}
		}

		// Failed sensitive operations are reported individually; there is no
		// threshold below which they are tolerated.
		if isSensitiveOperation(entry.AccessType) && (entry.Result == models.ResultDenied || entry.Result == models.ResultError) {
			alerts = append(alerts, models.SecurityAlert{
				Type:          models.AlertSensitiveOperationFailed,
				Severity:      models.SeverityHigh,
				TenantID:      tenantID,
				ActorID:       entry.ActorID,
				ResourceID:    entry.ResourceID,
				Count:         1,
				Message:       fmt.Sprintf("failed %s operation on resource %s", entry.AccessType, entry.ResourceID),
				WindowSeconds: windowSeconds,
				DetectedAt:    detectedAt,
			})
		}
	}

	for _, actorID := range sortedKeys(deniedCounts) {
		count := deniedCounts[actorID]
		if count > int64(thresholds.MaxFailedAttempts) {
			alerts = append(alerts, models.SecurityAlert{
				Type:          models.AlertExcessiveFailedAttempts,
				Severity:      models.SeverityMedium,
				TenantID:      tenantID,
				ActorID:       actorID,
				Count:         count,
				Message:       fmt.Sprintf("%d denied attempts in window", count),
				WindowSeconds: windowSeconds,
				DetectedAt:    detectedAt,
			})
		}
	}

	for _, actorID := range sortedKeys(actorIPs) {
		distinct := int64(len(actorIPs[actorID]))
		if distinct > int64(thresholds.MaxDistinctIPs) {
			alerts = append(alerts, models.SecurityAlert{
				Type:          models.AlertMultipleIPAddresses,
				Severity:      models.SeverityHigh,
				TenantID:      tenantID,
				ActorID:       actorID,
				Count:         distinct,
				Message:       fmt.Sprintf("activity from %d distinct IP addresses in window", distinct),
				WindowSeconds: windowSeconds,
				DetectedAt:    detectedAt,
			})
		}
	}

	if s.alerts != nil {
		for _, alert := range alerts {
			if alert.Severity != models.SeverityHigh {
				continue
			}
			if err := s.alerts.PublishSecurityAlert(ctx, alert); err != nil {
				log.Printf("Failed to publish security alert for actor %s: %v", alert.ActorID, err)
			}
		}
	}

	return alerts, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
