package mongo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pricecompare/searchservice/internal/domain"
)

type historyDoc struct {
	ID        string   `bson:"_id"`
	UserID    string   `bson:"userId,omitempty"`
	Query     string   `bson:"query"`
	Keywords  []string `bson:"keywords"`
	Category  string   `bson:"category"`
	CreatedAt int64    `bson:"createdAt"`
}

type HistoryRepository struct {
	collection *mongo.Collection
}

func NewHistoryRepository(client *mongo.Client, dbName string) *HistoryRepository {
	return &HistoryRepository{collection: client.Database(dbName).Collection(historyCollection)}
}

func (r *HistoryRepository) Append(ctx context.Context, record domain.SearchHistoryRecord) error {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, historyDoc{
		ID:        id,
		UserID:    record.UserID,
		Query:     record.Query,
		Keywords:  record.Keywords,
		Category:  record.Category,
		CreatedAt: createdAt.UnixMilli(),
	})
	return err
}

// UserQueries returns distinct queries of userID containing substr, newest first.
func (r *HistoryRepository) UserQueries(ctx context.Context, userID, substr string, limit int) ([]string, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"userId": userID, "query": containsPattern(substr)}}},
		{{Key: "$group", Value: bson.M{"_id": "$query", "lastAt": bson.M{"$max": "$createdAt"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "lastAt", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	return r.aggregateQueries(ctx, pipeline)
}

// PopularQueries ranks queries containing substr by count, skipping excludeUserID's rows.
func (r *HistoryRepository) PopularQueries(ctx context.Context, substr, excludeUserID string, limit int) ([]string, error) {
	match := bson.M{"query": containsPattern(substr)}
	if excludeUserID != "" {
		match["userId"] = bson.M{"$ne": excludeUserID}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$query", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	return r.aggregateQueries(ctx, pipeline)
}

func (r *HistoryRepository) aggregateQueries(ctx context.Context, pipeline mongo.Pipeline) ([]string, error) {
	cursor, err := r.collection.Aggregate(ctx, pipeline, options.Aggregate())
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Query string `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Query)
	}
	return out, nil
}
