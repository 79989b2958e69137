package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"permission_service/internal/models"
)

func entryAt(ts int64, actorID string, result models.AccessResult, accessType models.AccessType, sourceIP string) *models.AccessLogEntry {
	return &models.AccessLogEntry{
		TenantID:   "tenant-1",
		ActorID:    actorID,
		ResourceID: "doc-1",
		AccessType: accessType,
		Result:     result,
		SourceIP:   sourceIP,
		Timestamp:  ts,
	}
}

func newTestSecurityService(store *fakeAuditStore, publisher *fakePublisher, nowSec int64) *SecurityService {
	var alerts AlertPublisher
	if publisher != nil {
		alerts = publisher
	}
	svc := NewSecurityService(store, alerts)
	svc.now = func() time.Time { return time.Unix(nowSec, 0) }
	return svc
}

func alertsOfType(alerts []models.SecurityAlert, alertType models.AlertType) []models.SecurityAlert {
	var out []models.SecurityAlert
	for _, a := range alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

func TestDetectSuspicious_ExcessiveFailedAttempts(t *testing.T) {
	store := &fakeAuditStore{}
	nowMs := int64(1_000_000_000)

	// 6 denials for mallory, 4 for bob; only mallory crosses the threshold.
	for i := 0; i < 6; i++ {
		store.Insert(context.Background(), entryAt(nowMs-int64(i)*1000, "mallory", models.ResultDenied, models.AccessRead, ""))
	}
	for i := 0; i < 4; i++ {
		store.Insert(context.Background(), entryAt(nowMs-int64(i)*1000, "bob", models.ResultDenied, models.AccessRead, ""))
	}

	svc := newTestSecurityService(store, nil, nowMs/1000)
	alerts, err := svc.DetectSuspicious(context.Background(), "tenant-1", time.Hour, models.SecurityThresholds{MaxFailedAttempts: 5, MaxDistinctIPs: 3})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	failed := alertsOfType(alerts, models.AlertExcessiveFailedAttempts)
	if len(failed) != 1 {
		t.Fatalf("Expected exactly 1 excessive-failures alert, got %d", len(failed))
	}
	if failed[0].ActorID != "mallory" || failed[0].Count != 6 {
		t.Errorf("Unexpected alert: %+v", failed[0])
	}
	if failed[0].Severity != models.SeverityMedium {
		t.Errorf("Excessive failures should be medium severity, got %s", failed[0].Severity)
	}
}

func TestDetectSuspicious_IPDiversity(t *testing.T) {
	store := &fakeAuditStore{}
	nowMs := int64(1_000_000_000)

	// 4 distinct IPs for mallory, repeats included; 2 for bob.
	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.1"}
	for i, ip := range ips {
		store.Insert(context.Background(), entryAt(nowMs-int64(i)*1000, "mallory", models.ResultSuccess, models.AccessRead, ip))
	}
	store.Insert(context.Background(), entryAt(nowMs, "bob", models.ResultSuccess, models.AccessRead, "10.0.1.1"))
	store.Insert(context.Background(), entryAt(nowMs, "bob", models.ResultSuccess, models.AccessRead, "10.0.1.2"))

	publisher := &fakePublisher{}
	svc := newTestSecurityService(store, publisher, nowMs/1000)
	alerts, err := svc.DetectSuspicious(context.Background(), "tenant-1", time.Hour, models.DefaultThresholds())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	diversity := alertsOfType(alerts, models.AlertMultipleIPAddresses)
	if len(diversity) != 1 {
		t.Fatalf("Expected exactly 1 IP-diversity alert, got %d", len(diversity))
	}
	if diversity[0].ActorID != "mallory" || diversity[0].Count != 4 {
		t.Errorf("Unexpected alert: %+v", diversity[0])
	}

	// High-severity alerts fan out to the publisher.
	if len(publisher.alerts) != 1 || publisher.alerts[0].Type != models.AlertMultipleIPAddresses {
		t.Errorf("Expected the high-severity alert to be published, got %+v", publisher.alerts)
	}
}

func TestDetectSuspicious_SensitiveOperationFailures(t *testing.T) {
	store := &fakeAuditStore{}
	nowMs := int64(1_000_000_000)

	store.Insert(context.Background(), entryAt(nowMs-1000, "mallory", models.ResultDenied, models.AccessDelete, ""))
	store.Insert(context.Background(), entryAt(nowMs-2000, "mallory", models.ResultError, models.AccessPermissionChange, ""))
	// Successful sensitive op and failed ordinary op must not alert here.
	store.Insert(context.Background(), entryAt(nowMs-3000, "mallory", models.ResultSuccess, models.AccessDelete, ""))
	store.Insert(context.Background(), entryAt(nowMs-4000, "mallory", models.ResultDenied, models.AccessRead, ""))

	svc := newTestSecurityService(store, nil, nowMs/1000)
	alerts, err := svc.DetectSuspicious(context.Background(), "tenant-1", time.Hour, models.DefaultThresholds())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	sensitive := alertsOfType(alerts, models.AlertSensitiveOperationFailed)
	if len(sensitive) != 2 {
		t.Fatalf("Expected one alert per failed sensitive operation, got %d", len(sensitive))
	}
	for _, a := range sensitive {
		if a.Severity != models.SeverityHigh {
			t.Errorf("Sensitive operation failures should be high severity, got %s", a.Severity)
		}
	}
}

func TestDetectSuspicious_WindowExcludesOldEntries(t *testing.T) {
	store := &fakeAuditStore{}
	nowMs := int64(10_000_000_000)

	// All 6 denials sit outside a 1 minute window.
	for i := 0; i < 6; i++ {
		store.Insert(context.Background(), entryAt(nowMs-10*60*1000, "mallory", models.ResultDenied, models.AccessRead, ""))
	}

	svc := newTestSecurityService(store, nil, nowMs/1000)
	alerts, err := svc.DetectSuspicious(context.Background(), "tenant-1", time.Minute, models.DefaultThresholds())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("Entries outside the window must not alert, got %+v", alerts)
	}
}

func TestDetectSuspicious_IsDeterministic(t *testing.T) {
	store := &fakeAuditStore{}
	nowMs := int64(1_000_000_000)

	for i := 0; i < 6; i++ {
		store.Insert(context.Background(), entryAt(nowMs-int64(i)*1000, "mallory", models.ResultDenied, models.AccessRead, "10.0.0.1"))
	}

	svc := newTestSecurityService(store, nil, nowMs/1000)

	first, err := svc.DetectSuspicious(context.Background(), "tenant-1", time.Hour, models.DefaultThresholds())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	second, err := svc.DetectSuspicious(context.Background(), "tenant-1", time.Hour, models.DefaultThresholds())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("Rescanning unchanged data must produce the same alerts: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Type != second[i].Type || first[i].ActorID != second[i].ActorID || first[i].Count != second[i].Count {
			t.Errorf("Alert %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDetectSuspicious_Validation(t *testing.T) {
	svc := NewSecurityService(&fakeAuditStore{}, nil)

	var verr *models.ValidationError
	if _, err := svc.DetectSuspicious(context.Background(), "", time.Hour, models.DefaultThresholds()); !errors.As(err, &verr) {
		t.Errorf("Expected validation error for empty tenant, got %v", err)
	}
	if _, err := svc.DetectSuspicious(context.Background(), "tenant-1", 0, models.DefaultThresholds()); !errors.As(err, &verr) {
		t.Errorf("Expected validation error for zero window, got %v", err)
	}
}
