package mongo

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"

	"pricecompare/searchservice/internal/cache"
)

const (
	cacheCollection    = "product_cache"
	catalogCollection  = "curated_products"
	historyCollection  = "search_history"
	wishlistCollection = "wishlist_items"
)

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the indexes every repository in this package relies on.
func EnsureIndexes(ctx context.Context, client *mongo.Client, dbName string) error {
	db := client.Database(dbName)
	groups := map[string][]mongo.IndexModel{
		cacheCollection: {
			{Keys: bson.D{{Key: "platform", Value: 1}, {Key: "productId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "platform", Value: 1}, {Key: "searchTerm", Value: 1}, {Key: "cachedAt", Value: -1}}},
		},
		catalogCollection: {
			{Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		historyCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "query", Value: 1}}},
		},
		wishlistCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "productId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, models := range groups {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

func containsPattern(value string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(strings.TrimSpace(value)), "$options": "i"}
}

// classify maps errors meaning the server cannot be reached at all.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mongo.ErrClientDisconnected),
		errors.Is(err, topology.ErrTopologyClosed),
		errors.Is(err, topology.ErrServerSelectionTimeout):
		return errors.Join(cache.ErrStoreUnavailable, err)
	}
	return err
}
