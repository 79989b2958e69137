package models

type AlertType string

const (
	AlertExcessiveFailedAttempts  AlertType = "excessive_failed_attempts"
	AlertMultipleIPAddresses      AlertType = "multiple_ip_addresses"
	AlertSensitiveOperationFailed AlertType = "sensitive_operation_failure"
)

type AlertSeverity string

const (
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// SecurityAlert is a finding produced by the suspicious-activity heuristics.
// Alerts are recomputed on every scan and never persisted by this service.
type SecurityAlert struct {
	Type          AlertType     `json:"type"`
	Severity      AlertSeverity `json:"severity"`
	TenantID      string        `json:"tenantId"`
	ActorID       string        `json:"actorId"`
	ResourceID    string        `json:"resourceId,omitempty"`
	Count         int64         `json:"count,omitempty"`
	Message       string        `json:"message"`
	WindowSeconds int64         `json:"windowSeconds"`
	DetectedAt    int64         `json:"detectedAt"`
}

// SecurityThresholds tune the heuristics' false-positive rate. They are
// caller-supplied, never hard-coded into the engine.
type SecurityThresholds struct {
	MaxFailedAttempts int `json:"maxFailedAttempts"`
	MaxDistinctIPs    int `json:"maxDistinctIps"`
}

func DefaultThresholds() SecurityThresholds {
	return SecurityThresholds{
		MaxFailedAttempts: 5,
		MaxDistinctIPs:    3,
	}
}
