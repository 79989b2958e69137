package models

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PermissionLevel is the ordered capability tier a grant confers. Higher
// ranks subsume every capability of the ranks below them for the same
// resource.
type PermissionLevel string

const (
	LevelRead    PermissionLevel = "read"
	LevelWrite   PermissionLevel = "write"
	LevelExecute PermissionLevel = "execute"
	LevelAdmin   PermissionLevel = "admin"
)

var levelRanks = map[PermissionLevel]int{
	LevelRead:    1,
	LevelWrite:   2,
	LevelExecute: 3,
	LevelAdmin:   4,
}

// Rank returns the numeric rank of the level, 0 for unknown levels.
func (l PermissionLevel) Rank() int {
	return levelRanks[l]
}

func (l PermissionLevel) IsValid() bool {
	_, ok := levelRanks[l]
	return ok
}

// LevelForRank is the inverse of Rank; it returns "" for ranks outside the
// hierarchy.
func LevelForRank(rank int) PermissionLevel {
	for level, r := range levelRanks {
		if r == rank {
			return level
		}
	}
	return ""
}

func ParseLevel(s string) (PermissionLevel, error) {
	level := PermissionLevel(s)
	if !level.IsValid() {
		return "", &ValidationError{Field: "level", Message: fmt.Sprintf("unknown permission level %q", s)}
	}
	return level, nil
}

type TargetType string

const (
	TargetUser         TargetType = "user"
	TargetOrganization TargetType = "organization"
	TargetTeam         TargetType = "team"
)

// GrantTarget identifies who a grant applies to. Exactly one kind with a
// single non-empty ID, enforced at construction instead of three nullable
// reference fields.
type GrantTarget struct {
	Type TargetType `bson:"type" json:"type"`
	ID   string     `bson:"id" json:"id"`
}

func (t GrantTarget) Validate() error {
	switch t.Type {
	case TargetUser, TargetOrganization, TargetTeam:
	default:
		return &ValidationError{Field: "target.type", Message: fmt.Sprintf("unknown target type %q", t.Type)}
	}
	if t.ID == "" {
		return &ValidationError{Field: "target.id", Message: "target id must not be empty"}
	}
	return nil
}

// PermissionGrant is a persisted statement that a target may act at some
// level on a resource, possibly time-bounded. Grants are never physically
// deleted; revocation and expiration leave the row in place for audit.
//
// Validity bounds are Unix seconds; 0 means unbounded on that side.
type PermissionGrant struct {
	ID           bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	TenantID     string          `bson:"tenantId" json:"tenantId"`
	Target       GrantTarget     `bson:"target" json:"target"`
	ResourceID   string          `bson:"resourceId" json:"resourceId"`
	Level        PermissionLevel `bson:"level" json:"level"`
	ValidFrom    int64           `bson:"validFrom" json:"validFrom,omitempty"`
	ValidUntil   int64           `bson:"validUntil" json:"validUntil,omitempty"`
	Active       bool            `bson:"active" json:"active"`
	GrantedBy    string          `bson:"grantedBy" json:"grantedBy"`
	GrantedAt    int64           `bson:"grantedAt" json:"grantedAt"`
	RevokedBy    string          `bson:"revokedBy,omitempty" json:"revokedBy,omitempty"`
	RevokedAt    int64           `bson:"revokedAt,omitempty" json:"revokedAt,omitempty"`
	ExpiredAt    int64           `bson:"expiredAt,omitempty" json:"expiredAt,omitempty"`
	Notes        string          `bson:"notes,omitempty" json:"notes,omitempty"`
}

// IsEffective reports whether the grant confers access at the given instant:
// still active and inside its validity window.
func (g *PermissionGrant) IsEffective(now int64) bool {
	if !g.Active {
		return false
	}
	if g.ValidFrom != 0 && now < g.ValidFrom {
		return false
	}
	if g.ValidUntil != 0 && now >= g.ValidUntil {
		return false
	}
	return true
}

// Validate checks the creation-time invariants: a well-formed single target,
// a known level, and a coherent validity window.
func (g *PermissionGrant) Validate() error {
	if g.TenantID == "" {
		return &ValidationError{Field: "tenantId", Message: "tenant id must not be empty"}
	}
	if g.ResourceID == "" {
		return &ValidationError{Field: "resourceId", Message: "resource id must not be empty"}
	}
	if err := g.Target.Validate(); err != nil {
		return err
	}
	if !g.Level.IsValid() {
		return &ValidationError{Field: "level", Message: fmt.Sprintf("unknown permission level %q", g.Level)}
	}
	if g.ValidFrom != 0 && g.ValidUntil != 0 && g.ValidFrom >= g.ValidUntil {
		return &ValidationError{Field: "validUntil", Message: "validFrom must be before validUntil"}
	}
	return nil
}

// GrantFilter narrows ListGrants results.
type GrantFilter struct {
	ResourceID      string
	ActorID         string
	IncludeInactive bool
}

// CheckResult is the outcome of a permission resolution.
type CheckResult struct {
	Granted              bool             `json:"granted"`
	EffectiveLevel       PermissionLevel  `json:"effectiveLevel,omitempty"`
	EffectiveRank        int              `json:"effectiveRank"`
	Source               PermissionSource `json:"source"`
	ContributingGrantIDs []string         `json:"contributingGrantIds,omitempty"`
}

// ActorMemberships is the membership set for an actor, supplied by the
// external directory service.
type ActorMemberships struct {
	OrganizationIDs []string `json:"organizationIds"`
	TeamIDs         []string `json:"teamIds"`
}

type BulkTotals struct {
	Requested int `json:"requested"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type BulkGrantFailure struct {
	Target GrantTarget `json:"target"`
	Error  string      `json:"error"`
}

type BulkGrantResult struct {
	Succeeded []*PermissionGrant `json:"succeeded"`
	Failed    []BulkGrantFailure `json:"failed"`
	Totals    BulkTotals         `json:"totals"`
}

type BulkRevokeFailure struct {
	GrantID string `json:"grantId"`
	Error   string `json:"error"`
}

type BulkRevokeResult struct {
	Succeeded []string            `json:"succeeded"`
	Failed    []BulkRevokeFailure `json:"failed"`
	Totals    BulkTotals          `json:"totals"`
}
