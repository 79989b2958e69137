package models

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

type AccessType string

const (
	AccessRead             AccessType = "read"
	AccessWrite            AccessType = "write"
	AccessExecute          AccessType = "execute"
	AccessDelete           AccessType = "delete"
	AccessPermissionChange AccessType = "permission_change"
	AccessShare            AccessType = "share"
	AccessDownload         AccessType = "download"
	AccessCopy             AccessType = "copy"
	AccessTemplateCreate   AccessType = "template_create"
)

type AccessResult string

const (
	ResultSuccess AccessResult = "success"
	ResultDenied  AccessResult = "denied"
	ResultError   AccessResult = "error"
	ResultPartial AccessResult = "partial"
)

// PermissionSource records which grant category satisfied a check.
type PermissionSource string

const (
	SourceDirect       PermissionSource = "direct"
	SourceTeam         PermissionSource = "team"
	SourceOrganization PermissionSource = "organization"
	SourceNone         PermissionSource = "none"
)

// AccessLogEntry is one immutable record of an access attempt or permission
// mutation. Timestamp is Unix milliseconds; Seq is a process-local monotonic
// sequence so entries from the same writer order deterministically even when
// timestamps collide. Entries are never mutated after insert; the retention
// purge soft-marks them instead of erasing.
type AccessLogEntry struct {
	ID               bson.ObjectID    `bson:"_id,omitempty" json:"id"`
	TenantID         string           `bson:"tenantId" json:"tenantId"`
	ActorID          string           `bson:"actorId" json:"actorId"`
	ResourceID       string           `bson:"resourceId" json:"resourceId"`
	AccessType       AccessType       `bson:"accessType" json:"accessType"`
	Result           AccessResult     `bson:"result" json:"result"`
	PermissionSource PermissionSource `bson:"permissionSource,omitempty" json:"permissionSource,omitempty"`
	SessionID        string           `bson:"sessionId,omitempty" json:"sessionId,omitempty"`
	SourceIP         string           `bson:"sourceIp,omitempty" json:"sourceIp,omitempty"`
	UserAgent        string           `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	Endpoint         string           `bson:"endpoint,omitempty" json:"endpoint,omitempty"`
	Method           string           `bson:"method,omitempty" json:"method,omitempty"`
	Details          map[string]any   `bson:"details,omitempty" json:"details,omitempty"`
	Timestamp        int64            `bson:"timestamp" json:"timestamp"`
	Seq              int64            `bson:"seq" json:"seq"`
	Purged           bool             `bson:"purged,omitempty" json:"-"`
	PurgedAt         int64            `bson:"purgedAt,omitempty" json:"-"`
}

// IsSecurityRelevant reports whether the entry belongs to the subset of
// interest for heuristics and compliance review: denials, errors, and
// permission changes.
func (e *AccessLogEntry) IsSecurityRelevant() bool {
	return e.Result == ResultDenied || e.Result == ResultError || e.AccessType == AccessPermissionChange
}

// AccessContext carries the request-scoped context an audit entry records
// alongside the decision itself.
type AccessContext struct {
	SessionID string
	SourceIP  string
	UserAgent string
	Endpoint  string
	Method    string
}

// AuditLogFilter narrows audit queries. Zero values mean "no constraint";
// From/To are Unix milliseconds.
type AuditLogFilter struct {
	ResourceID           string
	ActorID              string
	AccessType           AccessType
	Result               AccessResult
	From                 int64
	To                   int64
	SourceIP             string
	SessionID            string
	SecurityRelevantOnly bool
}

type ActorCount struct {
	ActorID string `bson:"_id" json:"actorId"`
	Count   int64  `bson:"count" json:"count"`
}

type ResourceCount struct {
	ResourceID string `bson:"_id" json:"resourceId"`
	Count      int64  `bson:"count" json:"count"`
}

// AccessAnalytics is an on-demand aggregate over stored entries, consistent
// as of the last committed write.
type AccessAnalytics struct {
	TotalEvents         int64            `json:"totalEvents"`
	SuccessCount        int64            `json:"successCount"`
	DeniedCount         int64            `json:"deniedCount"`
	ErrorCount          int64            `json:"errorCount"`
	SuccessRate         float64          `json:"successRate"`
	UniqueActors        int64            `json:"uniqueActors"`
	UniqueResources     int64            `json:"uniqueResources"`
	TopActors           []ActorCount     `json:"topActors"`
	TopResources        []ResourceCount  `json:"topResources"`
	AccessTypeHistogram map[string]int64 `json:"accessTypeHistogram"`
}
