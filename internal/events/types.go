package events

import (
	"encoding/json"
	"time"

	"permission_service/internal/models"

	"github.com/google/uuid"
)

type EventType string

const (
	// PermissionGranted is published after a grant is created.
	PermissionGranted EventType = "permission.granted"
	// PermissionRevoked is published after a grant is revoked.
	PermissionRevoked EventType = "permission.revoked"
	// SecurityAlertRaised is published for high-severity heuristic findings.
	SecurityAlertRaised EventType = "security.alert"
	// MembershipUpdated is consumed from the directory service when an
	// actor's organization or team memberships change.
	MembershipUpdated EventType = "membership.updated"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Version   string    `json:"version"`
}

type PermissionChangeEvent struct {
	BaseEvent
	TenantID   string `json:"tenant_id"`
	GrantID    string `json:"grant_id"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	ResourceID string `json:"resource_id"`
	Level      string `json:"level"`
	ChangedBy  string `json:"changed_by"`
}

func NewPermissionChangeEvent(eventType EventType, grant *models.PermissionGrant, changedBy string) *PermissionChangeEvent {
	return &PermissionChangeEvent{
		BaseEvent: BaseEvent{
			ID:        generateEventID(),
			Type:      eventType,
			Timestamp: time.Now().Unix(),
			Version:   "1.0",
		},
		TenantID:   grant.TenantID,
		GrantID:    grant.ID.Hex(),
		TargetType: string(grant.Target.Type),
		TargetID:   grant.Target.ID,
		ResourceID: grant.ResourceID,
		Level:      string(grant.Level),
		ChangedBy:  changedBy,
	}
}

func (e *PermissionChangeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

type SecurityAlertEvent struct {
	BaseEvent
	TenantID   string `json:"tenant_id"`
	AlertType  string `json:"alert_type"`
	Severity   string `json:"severity"`
	ActorID    string `json:"actor_id"`
	ResourceID string `json:"resource_id,omitempty"`
	Count      int64  `json:"count,omitempty"`
	Message    string `json:"message"`
}

func NewSecurityAlertEvent(alert models.SecurityAlert) *SecurityAlertEvent {
	return &SecurityAlertEvent{
		BaseEvent: BaseEvent{
			ID:        generateEventID(),
			Type:      SecurityAlertRaised,
			Timestamp: time.Now().Unix(),
			Version:   "1.0",
		},
		TenantID:   alert.TenantID,
		AlertType:  string(alert.Type),
		Severity:   string(alert.Severity),
		ActorID:    alert.ActorID,
		ResourceID: alert.ResourceID,
		Count:      alert.Count,
		Message:    alert.Message,
	}
}

// ToJSON serializes the event to JSON.
func (e *SecurityAlertEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// MembershipUpdatedEvent is the directory service's notification that an
// actor's membership set changed and any cached copy is stale.
type MembershipUpdatedEvent struct {
	BaseEvent
	TenantID string `json:"tenant_id"`
	ActorID  string `json:"actor_id"`
}

func generateEventID() string {
	return uuid.NewString()
}
