package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pricecompare/searchservice/internal/domain"
)

type cacheDoc struct {
	Platform        string   `bson:"platform"`
	ProductID       string   `bson:"productId"`
	Name            string   `bson:"name"`
	Price           int64    `bson:"price"`
	OriginalPrice   *int64   `bson:"originalPrice,omitempty"`
	DiscountPercent *int     `bson:"discountPercent,omitempty"`
	Rating          *float64 `bson:"rating,omitempty"`
	ReviewCount     int      `bson:"reviewCount"`
	ImageURL        string   `bson:"imageUrl"`
	ProductURL      string   `bson:"productUrl"`
	MallName        string   `bson:"mallName"`
	SearchTerm      string   `bson:"searchTerm"`
	CachedAt        int64    `bson:"cachedAt"`
}

// CacheRepository implements cache.Store over the product_cache collection.
type CacheRepository struct {
	collection *mongo.Collection
}

func NewCacheRepository(client *mongo.Client, dbName string) *CacheRepository {
	return &CacheRepository{collection: client.Database(dbName).Collection(cacheCollection)}
}

func (r *CacheRepository) Find(ctx context.Context, platform, term string, since time.Time, limit int) ([]domain.CachedEntry, error) {
	filter := bson.M{
		"platform":   platform,
		"searchTerm": term,
		"cachedAt":   bson.M{"$gte": since.UnixMilli()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "cachedAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)

	var docs []cacheDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}
	out := make([]domain.CachedEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromCacheDoc(doc))
	}
	return out, nil
}

func (r *CacheRepository) Upsert(ctx context.Context, platform string, entries []domain.CachedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(entries))
	for _, entry := range entries {
		doc := toCacheDoc(platform, entry)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"platform": platform, "productId": doc.ProductID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	_, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	return classify(err)
}

func toCacheDoc(platform string, entry domain.CachedEntry) cacheDoc {
	product := entry.Product
	return cacheDoc{
		Platform:        platform,
		ProductID:       product.ProductID,
		Name:            product.Name,
		Price:           product.Price,
		OriginalPrice:   product.OriginalPrice,
		DiscountPercent: product.DiscountPercent,
		Rating:          product.Rating,
		ReviewCount:     product.ReviewCount,
		ImageURL:        product.ImageURL,
		ProductURL:      product.ProductURL,
		MallName:        product.MallName,
		SearchTerm:      entry.SearchTerm,
		CachedAt:        entry.CachedAt.UnixMilli(),
	}
}

func fromCacheDoc(doc cacheDoc) domain.CachedEntry {
	return domain.CachedEntry{
		Product: domain.ProductResult{
			Platform:        doc.Platform,
			ProductID:       doc.ProductID,
			Name:            doc.Name,
			Price:           doc.Price,
			OriginalPrice:   doc.OriginalPrice,
			DiscountPercent: doc.DiscountPercent,
			Rating:          doc.Rating,
			ReviewCount:     doc.ReviewCount,
			ImageURL:        doc.ImageURL,
			ProductURL:      doc.ProductURL,
			MallName:        doc.MallName,
		},
		SearchTerm: doc.SearchTerm,
		CachedAt:   time.UnixMilli(doc.CachedAt).UTC(),
	}
}
