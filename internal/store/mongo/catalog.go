package mongo

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pricecompare/searchservice/internal/domain"
)

type curatedDoc struct {
	ID           string   `bson:"_id"`
	Name         string   `bson:"name"`
	Price        int64    `bson:"price"`
	ImageURL     string   `bson:"imageUrl"`
	AffiliateURL string   `bson:"affiliateUrl"`
	Category     string   `bson:"category"`
	Keywords     []string `bson:"keywords"`
	IsActive     bool     `bson:"isActive"`
	CreatedAt    int64    `bson:"createdAt"`
	UpdatedAt    int64    `bson:"updatedAt"`
}

type CatalogRepository struct {
	collection *mongo.Collection
}

func NewCatalogRepository(client *mongo.Client, dbName string) *CatalogRepository {
	return &CatalogRepository{collection: client.Database(dbName).Collection(catalogCollection)}
}

// FindActive matches any keyword against name, category or keyword tags, newest first.
func (r *CatalogRepository) FindActive(ctx context.Context, keywords []string, limit int) ([]domain.CuratedProduct, error) {
	clauses := bson.A{}
	for _, keyword := range keywords {
		if strings.TrimSpace(keyword) == "" {
			continue
		}
		pattern := containsPattern(keyword)
		clauses = append(clauses,
			bson.M{"name": pattern},
			bson.M{"category": pattern},
			bson.M{"keywords": pattern},
		)
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{"isActive": true, "$or": clauses}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []curatedDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.CuratedProduct, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.CuratedProduct{
			ProductID:    doc.ID,
			Name:         doc.Name,
			Price:        doc.Price,
			ImageURL:     doc.ImageURL,
			AffiliateURL: doc.AffiliateURL,
			Category:     doc.Category,
			Keywords:     doc.Keywords,
			IsActive:     doc.IsActive,
			CreatedAt:    time.UnixMilli(doc.CreatedAt).UTC(),
			UpdatedAt:    time.UnixMilli(doc.UpdatedAt).UTC(),
		})
	}
	return out, nil
}

// Upsert writes products by id. Used to load the catalog seed file.
func (r *CatalogRepository) Upsert(ctx context.Context, products []domain.CuratedProduct) error {
	if len(products) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(products))
	for _, product := range products {
		doc := curatedDoc{
			ID:           product.ProductID,
			Name:         product.Name,
			Price:        product.Price,
			ImageURL:     product.ImageURL,
			AffiliateURL: product.AffiliateURL,
			Category:     product.Category,
			Keywords:     product.Keywords,
			IsActive:     product.IsActive,
			CreatedAt:    product.CreatedAt.UnixMilli(),
			UpdatedAt:    time.Now().UTC().UnixMilli(),
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	_, err := r.collection.BulkWrite(ctx, models)
	return err
}
