package service

import (
	"context"
	"errors"
	"testing"

	"permission_service/internal/models"
)

func newTestGrantService(store *fakeGrantStore, recorder *fakeRecorder, publisher *fakePublisher) *GrantService {
	resolver := NewPermissionResolver(store, &fakeMembers{}, nil)
	return NewGrantService(store, resolver, recorder, publisher)
}

func seedAdmin(store *fakeGrantStore, tenantID, callerID, resourceID string) {
	store.mustSeed(tenantID, models.GrantTarget{Type: models.TargetUser, ID: callerID}, resourceID, models.LevelAdmin, 0, 0)
}

func TestGrant_CreatesAndPublishes(t *testing.T) {
	store := newFakeGrantStore()
	recorder := &fakeRecorder{}
	publisher := &fakePublisher{}
	svc := newTestGrantService(store, recorder, publisher)
	seedAdmin(store, "tenant-1", "admin-1", "doc-1")

	target := models.GrantTarget{Type: models.TargetUser, ID: "bob"}
	grant, err := svc.Grant(context.Background(), "tenant-1", "admin-1", "doc-1", target, models.LevelWrite, 0, 0, "onboarding", models.AccessContext{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if grant.ID.IsZero() {
		t.Error("Expected the created grant to have an id")
	}
	if !grant.Active || grant.GrantedBy != "admin-1" {
		t.Errorf("Unexpected grant state: %+v", grant)
	}
	if publisher.granted != 1 {
		t.Errorf("Expected 1 granted event, got %d", publisher.granted)
	}

	entries := recorder.recorded()
	if len(entries) != 1 || entries[0].AccessType != models.AccessPermissionChange || entries[0].Result != models.ResultSuccess {
		t.Errorf("Expected one successful permission_change entry, got %+v", entries)
	}
}

func TestGrant_DuplicateIsIdempotent(t *testing.T) {
	store := newFakeGrantStore()
	publisher := &fakePublisher{}
	svc := newTestGrantService(store, &fakeRecorder{}, publisher)
	seedAdmin(store, "tenant-1", "admin-1", "doc-1")

	target := models.GrantTarget{Type: models.TargetUser, ID: "bob"}
	first, err := svc.Grant(context.Background(), "tenant-1", "admin-1", "doc-1", target, models.LevelWrite, 0, 0, "", models.AccessContext{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	second, err := svc.Grant(context.Background(), "tenant-1", "admin-1", "doc-1", target, models.LevelWrite, 0, 0, "", models.AccessContext{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Duplicate grant should return the existing grant, got %s and %s", first.ID.Hex(), second.ID.Hex())
	}
	if publisher.granted != 1 {
		t.Errorf("Duplicate grant must not publish a second event, got %d", publisher.granted)
	}
}

func TestGrant_RequiresAdminOnResource(t *testing.T) {
	store := newFakeGrantStore()
	recorder := &fakeRecorder{}
	svc := newTestGrantService(store, recorder, &fakePublisher{})
	// Caller only holds WRITE, not ADMIN.
	store.mustSeed("tenant-1", models.GrantTarget{Type: models.TargetUser, ID: "writer-1"}, "doc-1", models.LevelWrite, 0, 0)

	target := models.GrantTarget{Type: models.TargetUser, ID: "bob"}
	_, err := svc.Grant(context.Background(), "tenant-1", "writer-1", "doc-1", target, models.LevelRead, 0, 0, "", models.AccessContext{})
	if !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}

	entries := recorder.recorded()
	if len(entries) != 1 || entries[0].Result != models.ResultDenied {
		t.Errorf("Denied mutation should leave a denied audit entry, got %+v", entries)
	}
}

func TestGrant_InvalidWindowRejected(t *testing.T) {
	store := newFakeGrantStore()
	svc := newTestGrantService(store, &fakeRecorder{}, &fakePublisher{})
	seedAdmin(store, "tenant-1", "admin-1", "doc-1")

	target := models.GrantTarget{Type: models.TargetUser, ID: "bob"}
	_, err := svc.Grant(context.Background(), "tenant-1", "admin-1", "doc-1", target, models.LevelRead, 3000, 2000, "", models.AccessContext{})

	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected a validation error, got %v", err)
	}

	// Nothing may be persisted for a rejected request.
	grants, _ := store.List(context.Background(), "tenant-1", models.GrantFilter{ResourceID: "doc-1", ActorID: "bob"}, 1, 10)
	if len(grants) != 0 {
		t.Errorf("Rejected grant must not be persisted, found %d", len(grants))
	}
}

func TestRevoke_TerminalAndIdempotent(t *testing.T) {
	store := newFakeGrantStore()
	publisher := &fakePublisher{}
	svc := newTestGrantService(store, &fakeRecorder{}, publisher)
	seedAdmin(store, "tenant-1", "admin-1", "doc-1")

	target := models.GrantTarget{Type: models.TargetUser, ID: "bob"}
	grant, err := svc.Grant(context.Background(), "tenant-1", "admin-1", "doc-1", target, models.LevelWrite, 0, 0, "", models.AccessContext{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	revoked, err := svc.Revoke(context.Background(), "tenant-1", "admin-1", grant.ID.Hex(), "offboarding", models.AccessContext{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if revoked.Active {
		t.Error("Expected revoked grant to be inactive")
	}
	if revoked.RevokedBy != "admin-1" || revoked.RevokedAt == 0 {
		t.Errorf("Expected revocation metadata, got %+v", revoked)
	}
	if publisher.revoked != 1 {
		t.Errorf("Expected 1 revoked event, got %d", publisher.revoked)
	}

	// Second revoke is a no-op success and publishes nothing.
	again, err := svc.Revoke(context.Background(), "tenant-1", "admin-1", grant.ID.Hex(), "again", models.AccessContext{})
	if err != nil {
		t.Fatalf("Second revoke should succeed, got %v", err)
	}
	if again.Active {
		t.Error("Grant must stay revoked")
	}
	if publisher.revoked != 1 {
		t.Errorf("Second revoke must not publish, got %d events", publisher.revoked)
	}
}

func TestRevoke_UnknownGrant(t *testing.T) {
	store := newFakeGrantStore()
	svc := newTestGrantService(store, &fakeRecorder{}, &fakePublisher{})

	_, err := svc.Revoke(context.Background(), "tenant-1", "admin-1", "64a000000000000000000000", "", models.AccessContext{})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestBulkGrant_PartialFailure(t *testing.T) {
	store := newFakeGrantStore()
	svc := newTestGrantService(store, &fakeRecorder{}, &fakePublisher{})
	seedAdmin(store, "tenant-1", "admin-1", "doc-1")

	targets := []models.GrantTarget{
		{Type: models.TargetUser, ID: "bob"},
		{Type: models.TargetTeam, ID: ""}, // invalid: empty target id
		{Type: models.TargetOrganization, ID: "org-1"},
	}

	result, err := svc.BulkGrant(context.Background(), "tenant-1", "admin-1", "doc-1", models.LevelRead, targets, 0, 0, models.AccessContext{})
	if err != nil {
		t.Fatalf("Bulk grant must not fail outright on per-item errors: %v", err)
	}

	if result.Totals.Requested != 3 || result.Totals.Succeeded != 2 || result.Totals.Failed != 1 {
		t.Errorf("Unexpected totals: %+v", result.Totals)
	}
	if len(result.Failed) != 1 || result.Failed[0].Target.Type != models.TargetTeam {
		t.Errorf("Expected the team target to fail, got %+v", result.Failed)
	}
}

func TestBulkGrant_EmptyTargets(t *testing.T) {
	store := newFakeGrantStore()
	svc := newTestGrantService(store, &fakeRecorder{}, &fakePublisher{})
	seedAdmin(store, "tenant-1", "admin-1", "doc-1")

	_, err := svc.BulkGrant(context.Background(), "tenant-1", "admin-1", "doc-1", models.LevelRead, nil, 0, 0, models.AccessContext{})
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected a validation error for empty target list, got %v", err)
	}
}

func TestBulkRevoke_PartialFailure(t *testing.T) {
	store := newFakeGrantStore()
	svc := newTestGrantService(store, &fakeRecorder{}, &fakePublisher{})
	seedAdmin(store, "tenant-1", "admin-1", "doc-1")

	grant, err := svc.Grant(context.Background(), "tenant-1", "admin-1", "doc-1",
		models.GrantTarget{Type: models.TargetUser, ID: "bob"}, models.LevelRead, 0, 0, "", models.AccessContext{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	result, err := svc.BulkRevoke(context.Background(), "tenant-1", "admin-1",
		[]string{grant.ID.Hex(), "64a000000000000000000000"}, "cleanup", models.AccessContext{})
	if err != nil {
		t.Fatalf("Bulk revoke must not fail outright on per-item errors: %v", err)
	}

	if result.Totals.Succeeded != 1 || result.Totals.Failed != 1 {
		t.Errorf("Unexpected totals: %+v", result.Totals)
	}
	if len(result.Failed) != 1 || result.Failed[0].GrantID != "64a000000000000000000000" {
		t.Errorf("Expected the unknown id to fail, got %+v", result.Failed)
	}
}

func TestListExpiringGrants_Validation(t *testing.T) {
	store := newFakeGrantStore()
	svc := newTestGrantService(store, &fakeRecorder{}, &fakePublisher{})

	if _, err := svc.ListExpiringGrants(context.Background(), "tenant-1", 0); err == nil {
		t.Error("Expected a validation error for daysAhead=0")
	}
}
