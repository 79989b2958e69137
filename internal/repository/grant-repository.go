package repository

import (
	"context"
	"errors"
	"fmt"

	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type GrantRepository struct {
	collection *mongo.Collection
}

func NewGrantRepository(db *mongo.Database) *GrantRepository {
	return &GrantRepository{
		collection: db.Collection("PermissionGrant"),
	}
}

func (r *GrantRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "resourceId", Value: 1},
				{Key: "target.type", Value: 1},
				{Key: "target.id", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "validUntil", Value: 1},
				{Key: "active", Value: 1},
			},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create grant indexes: %w", err)
	}
	return nil
}

func (r *GrantRepository) Insert(ctx context.Context, grant *models.PermissionGrant) (*models.PermissionGrant, error) {
	if grant.ID.IsZero() {
		grant.ID = bson.NewObjectID()
	}

	_, err := r.collection.InsertOne(ctx, grant)
	if err != nil {
		return nil, fmt.Errorf("failed to insert grant: %w", err)
	}
	return grant, nil
}

func (r *GrantRepository) FindByID(ctx context.Context, tenantID, grantID string) (*models.PermissionGrant, error) {
	objectID, err := bson.ObjectIDFromHex(grantID)
	if err != nil {
		return nil, models.ErrNotFound
	}

	var grant models.PermissionGrant
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID, "tenantId": tenantID}).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find grant %s: %w", grantID, err)
	}
	return &grant, nil
}

// FindEffective returns every grant in the tenant that currently confers
// access on the resource for any of the given targets (the actor plus the
// organizations and teams the actor belongs to).
func (r *GrantRepository) FindEffective(ctx context.Context, tenantID, resourceID string, targets []models.GrantTarget, now int64) ([]*models.PermissionGrant, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	targetFilters := make([]bson.M, 0, len(targets))
	for _, t := range targets {
		targetFilters = append(targetFilters, bson.M{"target.type": t.Type, "target.id": t.ID})
	}

	filter := bson.M{
		"tenantId":   tenantID,
		"resourceId": resourceID,
		"active":     true,
		"$or":        targetFilters,
		"$and": []bson.M{
			{"$or": []bson.M{{"validFrom": 0}, {"validFrom": bson.M{"$lte": now}}}},
			{"$or": []bson.M{{"validUntil": 0}, {"validUntil": bson.M{"$gt": now}}}},
		},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query effective grants: %w", err)
	}
	defer cursor.Close(ctx)

	var grants []*models.PermissionGrant
	if err = cursor.All(ctx, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// FindExisting looks for an active, currently-effective grant with the
// identical target, resource, and level. Used to make Grant idempotent.
func (r *GrantRepository) FindExisting(ctx context.Context, tenantID string, target models.GrantTarget, resourceID string, level models.PermissionLevel, now int64) (*models.PermissionGrant, error) {
	filter := bson.M{
		"tenantId":    tenantID,
		"resourceId":  resourceID,
		"target.type": target.Type,
		"target.id":   target.ID,
		"level":       level,
		"active":      true,
		"$and": []bson.M{
			{"$or": []bson.M{{"validFrom": 0}, {"validFrom": bson.M{"$lte": now}}}},
			{"$or": []bson.M{{"validUntil": 0}, {"validUntil": bson.M{"$gt": now}}}},
		},
	}

	var grant models.PermissionGrant
	err := r.collection.FindOne(ctx, filter).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find existing grant: %w", err)
	}
	return &grant, nil
}

func (r *GrantRepository) List(ctx context.Context, tenantID string, filter models.GrantFilter, page, limit int) ([]*models.PermissionGrant, error) {
	query := bson.M{"tenantId": tenantID}
	if filter.ResourceID != "" {
		query["resourceId"] = filter.ResourceID
	}
	if filter.ActorID != "" {
		query["target.type"] = models.TargetUser
		query["target.id"] = filter.ActorID
	}
	if !filter.IncludeInactive {
		query["active"] = true
	}

	opts := options.Find().SetSort(bson.M{"grantedAt": -1})
	if page > 0 && limit > 0 {
		opts.SetSkip(int64((page - 1) * limit))
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer cursor.Close(ctx)

	var grants []*models.PermissionGrant
	if err = cursor.All(ctx, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// FindExpiring returns active grants whose validity window ends in the
// interval (now, until].
func (r *GrantRepository) FindExpiring(ctx context.Context, tenantID string, now, until int64) ([]*models.PermissionGrant, error) {
	filter := bson.M{
		"tenantId":   tenantID,
		"active":     true,
		"validUntil": bson.M{"$gt": now, "$lte": until},
	}

	opts := options.Find().SetSort(bson.M{"validUntil": 1})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring grants: %w", err)
	}
	defer cursor.Close(ctx)

	var grants []*models.PermissionGrant
	if err = cursor.All(ctx, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// Revoke flips a grant to its terminal revoked state. The update is
// conditional on the grant still being active, so a revoke racing the
// expiration sweep can never overwrite a terminal state; the caller learns
// whether this call was the one that committed the transition.
func (r *GrantRepository) Revoke(ctx context.Context, tenantID string, grantID bson.ObjectID, revokedBy, notes string, now int64) (bool, error) {
	filter := bson.M{
		"_id":      grantID,
		"tenantId": tenantID,
		"active":   true,
	}
	update := bson.M{"$set": bson.M{
		"active":    false,
		"revokedBy": revokedBy,
		"revokedAt": now,
		"notes":     notes,
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to revoke grant %s: %w", grantID.Hex(), err)
	}
	return result.ModifiedCount > 0, nil
}

// DeactivateExpired flips every grant whose validity window has lapsed and
// that is still active at the moment of the update. An empty tenantID sweeps
// all tenants. Safe to run concurrently with itself and with Revoke: the
// active=true condition makes each row's transition commit exactly once.
func (r *GrantRepository) DeactivateExpired(ctx context.Context, tenantID string, now int64) (int64, error) {
	filter := bson.M{
		"active":     true,
		"validUntil": bson.M{"$gt": int64(0), "$lte": now},
	}
	if tenantID != "" {
		filter["tenantId"] = tenantID
	}

	update := bson.M{"$set": bson.M{
		"active":    false,
		"expiredAt": now,
	}}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired grants: %w", err)
	}
	return result.ModifiedCount, nil
}
