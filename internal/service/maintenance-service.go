package service

import (
	"context"
	"log"
	"time"

	"permission_service/internal/models"
)

// MaintenanceService performs the periodic housekeeping that keeps the grant
// and audit collections honest: deactivating lapsed grants and soft-purging
// aged log entries. Every write it performs is independently idempotent, so
// an interrupted run leaves nothing corrupted, only work for the next run.
type MaintenanceService struct {
	grants        GrantStore
	audit         AuditStore
	sweepInterval time.Duration
	retentionDays int
	now           func() time.Time
}

func NewMaintenanceService(grants GrantStore, audit AuditStore, sweepInterval time.Duration, retentionDays int) *MaintenanceService {
	return &MaintenanceService{
		grants:        grants,
		audit:         audit,
		sweepInterval: sweepInterval,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// SweepExpiredGrants deactivates active grants whose validUntil has passed.
// An empty tenantID sweeps all tenants. The underlying update is conditional
// on each grant still being active, so a racing revoke always wins cleanly.
func (s *MaintenanceService) SweepExpiredGrants(ctx context.Context, tenantID string) (int64, error) {
	return s.grants.DeactivateExpired(ctx, tenantID, s.now().Unix())
}

// PurgeOldLogEntries soft-marks audit entries older than the retention
// horizon. A non-positive retentionDays falls back to the configured
// retention. Entries are not erased; compliance queries keep working through
// the grace period.
func (s *MaintenanceService) PurgeOldLogEntries(ctx context.Context, tenantID string, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = s.retentionDays
	}
	if retentionDays <= 0 {
		return 0, &models.ValidationError{Field: "retentionDays", Message: "retentionDays must be positive"}
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays).UnixMilli()
	return s.audit.PurgeBefore(ctx, tenantID, cutoff)
}

// Run executes the maintenance cycle on a ticker until the context is
// cancelled. Failures are logged and the loop keeps going; one bad cycle
// must not stop maintenance for good.
func (s *MaintenanceService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	log.Printf("Maintenance loop started (interval %s, retention %d days)", s.sweepInterval, s.retentionDays)

	for {
		select {
		case <-ctx.Done():
			log.Println("Maintenance loop stopped")
			return
		case <-ticker.C:
			swept, err := s.SweepExpiredGrants(ctx, "")
			if err != nil {
				log.Printf("Expired grant sweep failed: %v", err)
			} else if swept > 0 {
				log.Printf("Deactivated %d expired grants", swept)
			}

			purged, err := s.PurgeOldLogEntries(ctx, "", s.retentionDays)
			if err != nil {
				log.Printf("Audit retention purge failed: %v", err)
			} else if purged > 0 {
				log.Printf("Purged %d aged audit entries", purged)
			}
		}
	}
}
