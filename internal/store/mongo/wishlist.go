package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// WishlistRepository reads wishlist membership. Rows are written by the storefront.
type WishlistRepository struct {
	collection *mongo.Collection
}

func NewWishlistRepository(client *mongo.Client, dbName string) *WishlistRepository {
	return &WishlistRepository{collection: client.Database(dbName).Collection(wishlistCollection)}
}

func (r *WishlistRepository) WishlistedIDs(ctx context.Context, userID string, productIDs []string) ([]string, error) {
	if userID == "" || len(productIDs) == 0 {
		return nil, nil
	}
	filter := bson.M{"userId": userID, "productId": bson.M{"$in": productIDs}}
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"productId": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ProductID string `bson:"productId"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ProductID)
	}
	return out, nil
}
