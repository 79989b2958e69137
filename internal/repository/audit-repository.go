package repository

import (
	"context"
	"fmt"
	"time"

	"permission_service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type AuditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{
		collection: db.Collection("AccessLogEntry"),
	}
}

func (r *AuditRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "resourceId", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "actorId", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

func (r *AuditRepository) Insert(ctx context.Context, entry *models.AccessLogEntry) error {
	if entry.ID.IsZero() {
		entry.ID = bson.NewObjectID()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}

	_, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func securityRelevantFilter() []bson.M {
	return []bson.M{
		{"result": models.ResultDenied},
		{"result": models.ResultError},
		{"accessType": models.AccessPermissionChange},
	}
}

func (r *AuditRepository) buildFilter(tenantID string, filter models.AuditLogFilter) bson.M {
	query := bson.M{
		"tenantId": tenantID,
		"purged":   bson.M{"$ne": true},
	}
	if filter.ResourceID != "" {
		query["resourceId"] = filter.ResourceID
	}
	if filter.ActorID != "" {
		query["actorId"] = filter.ActorID
	}
	if filter.AccessType != "" {
		query["accessType"] = filter.AccessType
	}
	if filter.Result != "" {
		query["result"] = filter.Result
	}
	if filter.SourceIP != "" {
		query["sourceIp"] = filter.SourceIP
	}
	if filter.SessionID != "" {
		query["sessionId"] = filter.SessionID
	}
	if filter.From != 0 || filter.To != 0 {
		timeRange := bson.M{}
		if filter.From != 0 {
			timeRange["$gte"] = filter.From
		}
		if filter.To != 0 {
			timeRange["$lt"] = filter.To
		}
		query["timestamp"] = timeRange
	}
	if filter.SecurityRelevantOnly {
		query["$or"] = securityRelevantFilter()
	}
	return query
}

func (r *AuditRepository) Query(ctx context.Context, tenantID string, filter models.AuditLogFilter, page, limit int) ([]*models.AccessLogEntry, error) {
	query := r.buildFilter(tenantID, filter)

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}})
	if page > 0 && limit > 0 {
		opts.SetSkip(int64((page - 1) * limit))
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*models.AccessLogEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// RecentEntries returns every non-purged entry in the tenant with a
// timestamp at or after since (Unix milliseconds), oldest first. The
// heuristics engine scans these.
func (r *AuditRepository) RecentEntries(ctx context.Context, tenantID string, since int64) ([]*models.AccessLogEntry, error) {
	filter := bson.M{
		"tenantId":  tenantID,
		"purged":    bson.M{"$ne": true},
		"timestamp": bson.M{"$gte": since},
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent audit entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*models.AccessLogEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Analytics computes the reporting aggregates in a single $facet pipeline.
// Results are consistent as of the last committed write.
func (r *AuditRepository) Analytics(ctx context.Context, tenantID string, from, to int64, resourceID string) (*models.AccessAnalytics, error) {
	match := bson.M{
		"tenantId": tenantID,
		"purged":   bson.M{"$ne": true},
	}
	if resourceID != "" {
		match["resourceId"] = resourceID
	}
	if from != 0 || to != 0 {
		timeRange := bson.M{}
		if from != 0 {
			timeRange["$gte"] = from
		}
		if to != 0 {
			timeRange["$lt"] = to
		}
		match["timestamp"] = timeRange
	}

	pipeline := []bson.M{
		{"$match": match},
		{
			"$facet": bson.M{
				"total": []bson.M{
					{"$count": "count"},
				},
				"resultBreakdown": []bson.M{
					{"$group": bson.M{"_id": "$result", "count": bson.M{"$sum": 1}}},
				},
				"uniqueActors": []bson.M{
					{"$group": bson.M{"_id": "$actorId"}},
					{"$count": "count"},
				},
				"uniqueResources": []bson.M{
					{"$group": bson.M{"_id": "$resourceId"}},
					{"$count": "count"},
				},
				"topActors": []bson.M{
					{"$group": bson.M{"_id": "$actorId", "count": bson.M{"$sum": 1}}},
					{"$sort": bson.M{"count": -1}},
					{"$limit": 5},
				},
				"topResources": []bson.M{
					{"$group": bson.M{"_id": "$resourceId", "count": bson.M{"$sum": 1}}},
					{"$sort": bson.M{"count": -1}},
					{"$limit": 5},
				},
				"typeHistogram": []bson.M{
					{"$group": bson.M{"_id": "$accessType", "count": bson.M{"$sum": 1}}},
				},
			},
		},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to compute audit analytics: %w", err)
	}
	defer cursor.Close(ctx)

	var results []analyticsFacets
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode audit analytics: %w", err)
	}

	if len(results) == 0 {
		return &models.AccessAnalytics{AccessTypeHistogram: make(map[string]int64)}, nil
	}
	return buildAnalytics(results[0]), nil
}

// analyticsFacets is the shape of the single document the $facet stage
// emits. Each facet is an array; count-only facets hold at most one row.
type analyticsFacets struct {
	Total           []facetCount           `bson:"total"`
	ResultBreakdown []resultCount          `bson:"resultBreakdown"`
	UniqueActors    []facetCount           `bson:"uniqueActors"`
	UniqueResources []facetCount           `bson:"uniqueResources"`
	TopActors       []models.ActorCount    `bson:"topActors"`
	TopResources    []models.ResourceCount `bson:"topResources"`
	TypeHistogram   []accessTypeCount      `bson:"typeHistogram"`
}

type facetCount struct {
	Count int64 `bson:"count"`
}

type resultCount struct {
	Result models.AccessResult `bson:"_id"`
	Count  int64               `bson:"count"`
}

type accessTypeCount struct {
	AccessType string `bson:"_id"`
	Count      int64  `bson:"count"`
}

func firstCount(rows []facetCount) int64 {
	if len(rows) == 0 {
		return 0
	}
	return rows[0].Count
}

func buildAnalytics(facets analyticsFacets) *models.AccessAnalytics {
	analytics := &models.AccessAnalytics{
		TotalEvents:         firstCount(facets.Total),
		UniqueActors:        firstCount(facets.UniqueActors),
		UniqueResources:     firstCount(facets.UniqueResources),
		TopActors:           facets.TopActors,
		TopResources:        facets.TopResources,
		AccessTypeHistogram: make(map[string]int64),
	}

	for _, row := range facets.ResultBreakdown {
		switch row.Result {
		case models.ResultSuccess:
			analytics.SuccessCount = row.Count
		case models.ResultDenied:
			analytics.DeniedCount = row.Count
		case models.ResultError:
			analytics.ErrorCount = row.Count
		}
	}

	if analytics.TotalEvents > 0 {
		analytics.SuccessRate = float64(analytics.SuccessCount) / float64(analytics.TotalEvents)
	}

	for _, row := range facets.TypeHistogram {
		analytics.AccessTypeHistogram[row.AccessType] = row.Count
	}

	return analytics
}

// PurgeBefore soft-marks entries older than the cutoff (Unix milliseconds)
// as purged. Entries stay in the collection during the retention grace
// period; re-running with no eligible rows changes nothing.
func (r *AuditRepository) PurgeBefore(ctx context.Context, tenantID string, cutoff int64) (int64, error) {
	filter := bson.M{
		"timestamp": bson.M{"$lt": cutoff},
		"purged":    bson.M{"$ne": true},
	}
	if tenantID != "" {
		filter["tenantId"] = tenantID
	}

	update := bson.M{"$set": bson.M{
		"purged":   true,
		"purgedAt": time.Now().UnixMilli(),
	}}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}
	return result.ModifiedCount, nil
}
