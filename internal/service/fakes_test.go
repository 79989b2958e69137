package service

import (
	"context"
	"sort"
	"sync"

	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// fakeGrantStore is an in-memory GrantStore with the same conditional-update
// semantics as the Mongo repository.
type fakeGrantStore struct {
	mu     sync.Mutex
	grants map[string]*models.PermissionGrant
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{grants: make(map[string]*models.PermissionGrant)}
}

func (f *fakeGrantStore) Insert(ctx context.Context, grant *models.PermissionGrant) (*models.PermissionGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := *grant
	stored.ID = bson.NewObjectID()
	f.grants[stored.ID.Hex()] = &stored

	copied := stored
	return &copied, nil
}

func (f *fakeGrantStore) FindByID(ctx context.Context, tenantID, grantID string) (*models.PermissionGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	grant, ok := f.grants[grantID]
	if !ok || grant.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	copied := *grant
	return &copied, nil
}

func (f *fakeGrantStore) FindEffective(ctx context.Context, tenantID, resourceID string, targets []models.GrantTarget, now int64) ([]*models.PermissionGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.PermissionGrant
	for _, id := range f.sortedIDs() {
		grant := f.grants[id]
		if grant.TenantID != tenantID || grant.ResourceID != resourceID || !grant.IsEffective(now) {
			continue
		}
		for _, target := range targets {
			if grant.Target == target {
				copied := *grant
				out = append(out, &copied)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeGrantStore) FindExisting(ctx context.Context, tenantID string, target models.GrantTarget, resourceID string, level models.PermissionLevel, now int64) (*models.PermissionGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range f.sortedIDs() {
		grant := f.grants[id]
		if grant.TenantID == tenantID && grant.Target == target && grant.ResourceID == resourceID && grant.Level == level && grant.IsEffective(now) {
			copied := *grant
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeGrantStore) List(ctx context.Context, tenantID string, filter models.GrantFilter, page, limit int) ([]*models.PermissionGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.PermissionGrant
	for _, id := range f.sortedIDs() {
		grant := f.grants[id]
		if grant.TenantID != tenantID {
			continue
		}
		if !filter.IncludeInactive && !grant.Active {
			continue
		}
		if filter.ResourceID != "" && grant.ResourceID != filter.ResourceID {
			continue
		}
		if filter.ActorID != "" && (grant.Target.Type != models.TargetUser || grant.Target.ID != filter.ActorID) {
			continue
		}
		copied := *grant
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeGrantStore) FindExpiring(ctx context.Context, tenantID string, now, until int64) ([]*models.PermissionGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.PermissionGrant
	for _, id := range f.sortedIDs() {
		grant := f.grants[id]
		if grant.TenantID != tenantID || !grant.Active || grant.ValidUntil == 0 {
			continue
		}
		if grant.ValidUntil > now && grant.ValidUntil <= until {
			copied := *grant
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeGrantStore) Revoke(ctx context.Context, tenantID string, grantID bson.ObjectID, revokedBy, notes string, now int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	grant, ok := f.grants[grantID.Hex()]
	if !ok || grant.TenantID != tenantID || !grant.Active {
		return false, nil
	}
	grant.Active = false
	grant.RevokedBy = revokedBy
	grant.RevokedAt = now
	grant.Notes = notes
	return true, nil
}

func (f *fakeGrantStore) DeactivateExpired(ctx context.Context, tenantID string, now int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, grant := range f.grants {
		if tenantID != "" && grant.TenantID != tenantID {
			continue
		}
		if grant.Active && grant.ValidUntil > 0 && grant.ValidUntil <= now {
			grant.Active = false
			grant.ExpiredAt = now
			count++
		}
	}
	return count, nil
}

func (f *fakeGrantStore) sortedIDs() []string {
	ids := make([]string, 0, len(f.grants))
	for id := range f.grants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// mustSeed inserts a grant directly, bypassing service-level gating. Used to
// arrange preconditions like the caller's own admin grant.
func (f *fakeGrantStore) mustSeed(tenantID string, target models.GrantTarget, resourceID string, level models.PermissionLevel, validFrom, validUntil int64) *models.PermissionGrant {
	grant, _ := f.Insert(context.Background(), &models.PermissionGrant{
		TenantID:   tenantID,
		Target:     target,
		ResourceID: resourceID,
		Level:      level,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		Active:     true,
		GrantedBy:  "seed",
		GrantedAt:  1,
	})
	return grant
}

// fakeAuditStore is an in-memory AuditStore.
type fakeAuditStore struct {
	mu        sync.Mutex
	entries   []*models.AccessLogEntry
	insertErr error
}

func (f *fakeAuditStore) Insert(ctx context.Context, entry *models.AccessLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	copied := *entry
	f.entries = append(f.entries, &copied)
	return nil
}

func (f *fakeAuditStore) Query(ctx context.Context, tenantID string, filter models.AuditLogFilter, page, limit int) ([]*models.AccessLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.AccessLogEntry
	for _, entry := range f.entries {
		if entry.TenantID != tenantID || entry.Purged {
			continue
		}
		if filter.ActorID != "" && entry.ActorID != filter.ActorID {
			continue
		}
		if filter.ResourceID != "" && entry.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Result != "" && entry.Result != filter.Result {
			continue
		}
		if filter.SecurityRelevantOnly && !entry.IsSecurityRelevant() {
			continue
		}
		copied := *entry
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeAuditStore) RecentEntries(ctx context.Context, tenantID string, since int64) ([]*models.AccessLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.AccessLogEntry
	for _, entry := range f.entries {
		if entry.TenantID != tenantID || entry.Purged || entry.Timestamp < since {
			continue
		}
		copied := *entry
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeAuditStore) Analytics(ctx context.Context, tenantID string, from, to int64, resourceID string) (*models.AccessAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	analytics := &models.AccessAnalytics{AccessTypeHistogram: make(map[string]int64)}
	actors := make(map[string]struct{})
	resources := make(map[string]struct{})
	for _, entry := range f.entries {
		if entry.TenantID != tenantID || entry.Purged {
			continue
		}
		if from != 0 && entry.Timestamp < from {
			continue
		}
		if to != 0 && entry.Timestamp > to {
			continue
		}
		if resourceID != "" && entry.ResourceID != resourceID {
			continue
		}
		analytics.TotalEvents++
		switch entry.Result {
		case models.ResultSuccess:
			analytics.SuccessCount++
		case models.ResultDenied:
			analytics.DeniedCount++
		case models.ResultError:
			analytics.ErrorCount++
		}
		actors[entry.ActorID] = struct{}{}
		resources[entry.ResourceID] = struct{}{}
		analytics.AccessTypeHistogram[string(entry.AccessType)]++
	}
	analytics.UniqueActors = int64(len(actors))
	analytics.UniqueResources = int64(len(resources))
	if analytics.TotalEvents > 0 {
		analytics.SuccessRate = float64(analytics.SuccessCount) / float64(analytics.TotalEvents)
	}
	return analytics, nil
}

func (f *fakeAuditStore) PurgeBefore(ctx context.Context, tenantID string, cutoff int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, entry := range f.entries {
		if tenantID != "" && entry.TenantID != tenantID {
			continue
		}
		if !entry.Purged && entry.Timestamp < cutoff {
			entry.Purged = true
			entry.PurgedAt = cutoff
			count++
		}
	}
	return count, nil
}

// fakeMembers serves memberships from a static map.
type fakeMembers struct {
	byActor map[string]*models.ActorMemberships
}

func (f *fakeMembers) Memberships(ctx context.Context, tenantID, actorID string) (*models.ActorMemberships, error) {
	if m, ok := f.byActor[actorID]; ok {
		return m, nil
	}
	return &models.ActorMemberships{}, nil
}

// fakeRecorder captures audit entries synchronously.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []*models.AccessLogEntry
}

func (f *fakeRecorder) Record(entry *models.AccessLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeRecorder) recorded() []*models.AccessLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.AccessLogEntry(nil), f.entries...)
}

// fakePublisher counts published events.
type fakePublisher struct {
	mu      sync.Mutex
	granted int
	revoked int
	alerts  []models.SecurityAlert
}

func (f *fakePublisher) PublishPermissionGranted(ctx context.Context, grant *models.PermissionGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted++
	return nil
}

func (f *fakePublisher) PublishPermissionRevoked(ctx context.Context, grant *models.PermissionGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked++
	return nil
}

func (f *fakePublisher) PublishSecurityAlert(ctx context.Context, alert models.SecurityAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}
