package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCategoryNotFound = errors.New("category not found")
)

// Catalog is the product metadata the engine reads categories from and
// writes the unavailable flag to.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	GetCategory(ctx context.Context, id int64) (domain.Category, error)
	MarkUnavailable(ctx context.Context, productID int64) error
	UpsertProduct(ctx context.Context, product domain.Product) error
	UpsertCategory(ctx context.Context, category domain.Category) error
}

type MongoCatalog struct {
	products   *mongo.Collection
	categories *mongo.Collection
}

func NewMongoCatalog(db *mongo.Database) *MongoCatalog {
	return &MongoCatalog{
		products:   db.Collection("products"),
		categories: db.Collection("categories"),
	}
}

func (m *MongoCatalog) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := m.products.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (m *MongoCatalog) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	cursor, err := m.products.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var p domain.Product
		if err := cursor.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		result[p.ID] = p
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return result, nil
}

func (m *MongoCatalog) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	var c domain.Category
	err := m.categories.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Category{}, ErrCategoryNotFound
		}
		return domain.Category{}, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

// MarkUnavailable hides the product from display. Unknown products are ignored.
func (m *MongoCatalog) MarkUnavailable(ctx context.Context, productID int64) error {
	_, err := m.products.UpdateOne(ctx,
		bson.M{"_id": productID},
		bson.M{"$set": bson.M{"available": false}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark product unavailable: %w", err)
	}
	return nil
}

func (m *MongoCatalog) UpsertProduct(ctx context.Context, product domain.Product) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.products.ReplaceOne(ctx, bson.M{"_id": product.ID}, product, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (m *MongoCatalog) UpsertCategory(ctx context.Context, category domain.Category) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.categories.ReplaceOne(ctx, bson.M{"_id": category.ID}, category, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

func (m *MongoCatalog) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "category_id", Value: 1}}},
		{Keys: bson.D{{Key: "available", Value: 1}}},
	}

	_, err := m.products.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
