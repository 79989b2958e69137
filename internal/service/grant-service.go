package service

import (
	"context"
	"errors"
	"log"
	"time"

	"permission_service/internal/models"
)

// GrantService owns the grant lifecycle: creation, revocation, and the bulk
// variants. Every mutation is gated on the caller holding admin rank on the
// affected resource and leaves a permission_change audit entry behind.
type GrantService struct {
	grants    GrantStore
	resolver  *PermissionResolver
	audit     Recorder
	publisher ChangePublisher
	now       func() time.Time
}

func NewGrantService(grants GrantStore, resolver *PermissionResolver, audit Recorder, publisher ChangePublisher) *GrantService {
	return &GrantService{
		grants:    grants,
		resolver:  resolver,
		audit:     audit,
		publisher: publisher,
		now:       time.Now,
	}
}

// Grant creates a permission grant, or returns the existing one when an
// active, currently-effective grant for the identical target, resource, and
// level is already in place.
func (s *GrantService) Grant(ctx context.Context, tenantID, callerID, resourceID string, target models.GrantTarget, level models.PermissionLevel, validFrom, validUntil int64, notes string, actx models.AccessContext) (*models.PermissionGrant, error) {
	if err := s.requireAdmin(ctx, tenantID, callerID, resourceID, actx); err != nil {
		return nil, err
	}
	return s.grantOne(ctx, tenantID, callerID, resourceID, target, level, validFrom, validUntil, notes, actx)
}

func (s *GrantService) grantOne(ctx context.Context, tenantID, callerID, resourceID string, target models.GrantTarget, level models.PermissionLevel, validFrom, validUntil int64, notes string, actx models.AccessContext) (*models.PermissionGrant, error) {
	grant := &models.PermissionGrant{
		TenantID:   tenantID,
		Target:     target,
		ResourceID: resourceID,
		Level:      level,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		Active:     true,
		GrantedBy:  callerID,
		GrantedAt:  s.now().Unix(),
		Notes:      notes,
	}
	if err := grant.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.grants.FindExisting(ctx, tenantID, target, resourceID, level, s.now().Unix())
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	created, err := s.grants.Insert(ctx, grant)
	if err != nil {
		return nil, err
	}

	s.recordChange(tenantID, callerID, resourceID, models.ResultSuccess, actx, map[string]any{
		"action":     "grant",
		"grantId":    created.ID.Hex(),
		"targetType": string(target.Type),
		"targetId":   target.ID,
		"level":      string(level),
	})

	if s.publisher != nil {
		if err := s.publisher.PublishPermissionGranted(ctx, created); err != nil {
			log.Printf("Failed to publish permission granted event for grant %s: %v", created.ID.Hex(), err)
		}
	}

	return created, nil
}

// Revoke moves a grant to its terminal revoked state. Revoking a grant that
// is already revoked or expired is a no-op success and returns the grant as
// it stands.
func (s *GrantService) Revoke(ctx context.Context, tenantID, callerID, grantID, reason string, actx models.AccessContext) (*models.PermissionGrant, error) {
	grant, err := s.grants.FindByID(ctx, tenantID, grantID)
	if err != nil {
		return nil, err
	}

	if err := s.requireAdmin(ctx, tenantID, callerID, grant.ResourceID, actx); err != nil {
		return nil, err
	}

	if !grant.Active {
		return grant, nil
	}

	notes := grant.Notes
	if reason != "" {
		if notes != "" {
			notes += "; "
		}
		notes += "revoked: " + reason
	}

	committed, err := s.grants.Revoke(ctx, tenantID, grant.ID, callerID, notes, s.now().Unix())
	if err != nil {
		return nil, err
	}

	// Losing the conditional update means a racing revoke or sweep already
	// moved the grant to a terminal state, which is the outcome the caller
	// asked for anyway.
	updated, err := s.grants.FindByID(ctx, tenantID, grantID)
	if err != nil {
		return nil, err
	}

	if committed {
		s.recordChange(tenantID, callerID, grant.ResourceID, models.ResultSuccess, actx, map[string]any{
			"action":  "revoke",
			"grantId": grantID,
			"reason":  reason,
		})

		if s.publisher != nil {
			if err := s.publisher.PublishPermissionRevoked(ctx, updated); err != nil {
				log.Printf("Failed to publish permission revoked event for grant %s: %v", grantID, err)
			}
		}
	}

	return updated, nil
}

// BulkGrant processes each target independently; one bad target never
// aborts the rest, and the result reports every per-item outcome.
func (s *GrantService) BulkGrant(ctx context.Context, tenantID, callerID, resourceID string, level models.PermissionLevel, targets []models.GrantTarget, validFrom, validUntil int64, actx models.AccessContext) (*models.BulkGrantResult, error) {
	if len(targets) == 0 {
		return nil, &models.ValidationError{Field: "targets", Message: "target list must not be empty"}
	}

	if err := s.requireAdmin(ctx, tenantID, callerID, resourceID, actx); err != nil {
		return nil, err
	}

	result := &models.BulkGrantResult{
		Totals: models.BulkTotals{Requested: len(targets)},
	}
	for _, target := range targets {
		grant, err := s.grantOne(ctx, tenantID, callerID, resourceID, target, level, validFrom, validUntil, "", actx)
		if err != nil {
			result.Failed = append(result.Failed, models.BulkGrantFailure{Target: target, Error: err.Error()})
			result.Totals.Failed++
			continue
		}
		result.Succeeded = append(result.Succeeded, grant)
		result.Totals.Succeeded++
	}
	return result, nil
}

// BulkRevoke processes each grant id independently and never raises for
// partial failure.
func (s *GrantService) BulkRevoke(ctx context.Context, tenantID, callerID string, grantIDs []string, reason string, actx models.AccessContext) (*models.BulkRevokeResult, error) {
	if len(grantIDs) == 0 {
		return nil, &models.ValidationError{Field: "grantIds", Message: "grant id list must not be empty"}
	}

	result := &models.BulkRevokeResult{
		Totals: models.BulkTotals{Requested: len(grantIDs)},
	}
	for _, grantID := range grantIDs {
		if _, err := s.Revoke(ctx, tenantID, callerID, grantID, reason, actx); err != nil {
			result.Failed = append(result.Failed, models.BulkRevokeFailure{GrantID: grantID, Error: err.Error()})
			result.Totals.Failed++
			continue
		}
		result.Succeeded = append(result.Succeeded, grantID)
		result.Totals.Succeeded++
	}
	return result, nil
}

func (s *GrantService) ListGrants(ctx context.Context, tenantID string, filter models.GrantFilter, page, limit int) ([]*models.PermissionGrant, error) {
	return s.grants.List(ctx, tenantID, filter, page, limit)
}

// ListExpiringGrants returns active grants whose validity ends within the
// next daysAhead days.
func (s *GrantService) ListExpiringGrants(ctx context.Context, tenantID string, daysAhead int) ([]*models.PermissionGrant, error) {
	if daysAhead <= 0 {
		return nil, &models.ValidationError{Field: "daysAhead", Message: "daysAhead must be positive"}
	}
	now := s.now().Unix()
	until := s.now().AddDate(0, 0, daysAhead).Unix()
	return s.grants.FindExpiring(ctx, tenantID, now, until)
}

// requireAdmin enforces the admin gate on grant mutations. The denial is
// deliberately generic so callers learn nothing about resources they cannot
// see.
func (s *GrantService) requireAdmin(ctx context.Context, tenantID, callerID, resourceID string, actx models.AccessContext) error {
	check, err := s.resolver.Check(ctx, tenantID, callerID, resourceID, models.LevelAdmin)
	if err != nil {
		return err
	}
	if !check.Granted {
		s.recordChange(tenantID, callerID, resourceID, models.ResultDenied, actx, map[string]any{
			"action": "permission_change",
		})
		return models.ErrPermissionDenied
	}
	return nil
}

func (s *GrantService) recordChange(tenantID, callerID, resourceID string, result models.AccessResult, actx models.AccessContext, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(&models.AccessLogEntry{
		TenantID:   tenantID,
		ActorID:    callerID,
		ResourceID: resourceID,
		AccessType: models.AccessPermissionChange,
		Result:     result,
		SessionID:  actx.SessionID,
		SourceIP:   actx.SourceIP,
		UserAgent:  actx.UserAgent,
		Endpoint:   actx.Endpoint,
		Method:     actx.Method,
		Details:    details,
	})
}
