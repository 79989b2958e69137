package service

import (
	"context"

	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// GrantStore is the persistence surface the permission services need from
// the grant collection. Implemented by repository.GrantRepository.
type GrantStore interface {
	Insert(ctx context.Context, grant *models.PermissionGrant) (*models.PermissionGrant, error)
	FindByID(ctx context.Context, tenantID, grantID string) (*models.PermissionGrant, error)
	FindEffective(ctx context.Context, tenantID, resourceID string, targets []models.GrantTarget, now int64) ([]*models.PermissionGrant, error)
	FindExisting(ctx context.Context, tenantID string, target models.GrantTarget, resourceID string, level models.PermissionLevel, now int64) (*models.PermissionGrant, error)
	List(ctx context.Context, tenantID string, filter models.GrantFilter, page, limit int) ([]*models.PermissionGrant, error)
	FindExpiring(ctx context.Context, tenantID string, now, until int64) ([]*models.PermissionGrant, error)
	Revoke(ctx context.Context, tenantID string, grantID bson.ObjectID, revokedBy, notes string, now int64) (bool, error)
	DeactivateExpired(ctx context.Context, tenantID string, now int64) (int64, error)
}

// AuditStore is the persistence surface for the access log. Implemented by
// repository.AuditRepository.
type AuditStore interface {
	Insert(ctx context.Context, entry *models.AccessLogEntry) error
	Query(ctx context.Context, tenantID string, filter models.AuditLogFilter, page, limit int) ([]*models.AccessLogEntry, error)
	RecentEntries(ctx context.Context, tenantID string, since int64) ([]*models.AccessLogEntry, error)
	Analytics(ctx context.Context, tenantID string, from, to int64, resourceID string) (*models.AccessAnalytics, error)
	PurgeBefore(ctx context.Context, tenantID string, cutoff int64) (int64, error)
}

// MembershipProvider supplies the organization/team membership set for an
// actor. The directory service owns this data; this service only consumes
// it.
type MembershipProvider interface {
	Memberships(ctx context.Context, tenantID, actorID string) (*models.ActorMemberships, error)
}

// Recorder accepts audit entries without ever blocking or failing the
// caller's primary flow.
type Recorder interface {
	Record(entry *models.AccessLogEntry)
}

// ChangePublisher fans grant lifecycle changes out to interested services.
// Publication is best-effort; failures never affect the mutation itself.
type ChangePublisher interface {
	PublishPermissionGranted(ctx context.Context, grant *models.PermissionGrant) error
	PublishPermissionRevoked(ctx context.Context, grant *models.PermissionGrant) error
}

// AlertPublisher fans security alerts out for downstream handling.
type AlertPublisher interface {
	PublishSecurityAlert(ctx context.Context, alert models.SecurityAlert) error
}
