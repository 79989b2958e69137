package service

import (
	"context"
	"sort"
	"time"

	"permission_service/internal/models"
)

// sourcePrecedence is the documented tie-break among equal-rank grants from
// different target categories: a direct user grant wins over a team grant,
// which wins over an organization grant. This is a fixed policy, not an
// artifact of iteration order.
var sourcePrecedence = map[models.TargetType]int{
	models.TargetUser:         3,
	models.TargetTeam:         2,
	models.TargetOrganization: 1,
}

func sourceForTarget(t models.TargetType) models.PermissionSource {
	switch t {
	case models.TargetUser:
		return models.SourceDirect
	case models.TargetTeam:
		return models.SourceTeam
	case models.TargetOrganization:
		return models.SourceOrganization
	default:
		return models.SourceNone
	}
}

// PermissionResolver computes effective access levels from the grant set.
// Checks are pure reads and safe under unlimited concurrency.
type PermissionResolver struct {
	grants  GrantStore
	members MembershipProvider
	audit   Recorder
	now     func() time.Time
}

func NewPermissionResolver(grants GrantStore, members MembershipProvider, audit Recorder) *PermissionResolver {
	return &PermissionResolver{
		grants:  grants,
		members: members,
		audit:   audit,
		now:     time.Now,
	}
}

// Check decides whether the actor holds at least the required level on the
// resource. An unknown or empty actor is simply not authorized; an empty
// resource reference is an error-class denial (the caller asked about
// nothing that can exist).
func (r *PermissionResolver) Check(ctx context.Context, tenantID, actorID, resourceID string, required models.PermissionLevel) (*models.CheckResult, error) {
	result := &models.CheckResult{Source: models.SourceNone}

	if resourceID == "" || actorID == "" {
		return result, nil
	}

	targets := []models.GrantTarget{{Type: models.TargetUser, ID: actorID}}

	if r.members != nil {
		memberships, err := r.members.Memberships(ctx, tenantID, actorID)
		if err != nil {
			return nil, err
		}
		if memberships != nil {
			for _, orgID := range memberships.OrganizationIDs {
				targets = append(targets, models.GrantTarget{Type: models.TargetOrganization, ID: orgID})
			}
			for _, teamID := range memberships.TeamIDs {
				targets = append(targets, models.GrantTarget{Type: models.TargetTeam, ID: teamID})
			}
		}
	}

	now := r.now().Unix()
	grants, err := r.grants.FindEffective(ctx, tenantID, resourceID, targets, now)
	if err != nil {
		return nil, err
	}

	maxRank := 0
	for _, g := range grants {
		if rank := g.Level.Rank(); rank > maxRank {
			maxRank = rank
		}
	}
	if maxRank == 0 {
		return result, nil
	}

	// Attribution considers only the grants that supply the effective level.
	source := models.SourceNone
	bestPrecedence := 0
	var contributing []string
	for _, g := range grants {
		if g.Level.Rank() != maxRank {
			continue
		}
		contributing = append(contributing, g.ID.Hex())
		if p := sourcePrecedence[g.Target.Type]; p > bestPrecedence {
			bestPrecedence = p
			source = sourceForTarget(g.Target.Type)
		}
	}
	sort.Strings(contributing)

	result.EffectiveRank = maxRank
	result.EffectiveLevel = models.LevelForRank(maxRank)
	result.Source = source
	result.ContributingGrantIDs = contributing
	result.Granted = maxRank >= required.Rank()
	return result, nil
}

// CheckLogged runs Check and records the attempt in the audit log. The log
// write is fire-and-forget; it can never cause the check itself to fail.
func (r *PermissionResolver) CheckLogged(ctx context.Context, tenantID, actorID, resourceID string, required models.PermissionLevel, accessType models.AccessType, actx models.AccessContext) (*models.CheckResult, error) {
	result, err := r.Check(ctx, tenantID, actorID, resourceID, required)

	if r.audit != nil {
		entry := &models.AccessLogEntry{
			TenantID:   tenantID,
			ActorID:    actorID,
			ResourceID: resourceID,
			AccessType: accessType,
			SessionID:  actx.SessionID,
			SourceIP:   actx.SourceIP,
			UserAgent:  actx.UserAgent,
			Endpoint:   actx.Endpoint,
			Method:     actx.Method,
		}
		switch {
		case err != nil || resourceID == "":
			entry.Result = models.ResultError
		case result.Granted:
			entry.Result = models.ResultSuccess
			entry.PermissionSource = result.Source
		default:
			entry.Result = models.ResultDenied
		}
		r.audit.Record(entry)
	}

	return result, err
}
