package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
)

// seedData is the startup fixture format. Listings and policies keep their ids.
type seedData struct {
	Categories []domain.Category       `json:"categories"`
	Products   []domain.Product        `json:"products"`
	Listings   []domain.Listing        `json:"listings"`
	Policies   []domain.DiscountPolicy `json:"policies"`
}

func loadSeed(ctx context.Context, path string, store repository.Store, cat catalog.Catalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var data seedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, c := range data.Categories {
		if err := cat.UpsertCategory(ctx, c); err != nil {
			return fmt.Errorf("seed category %d: %w", c.ID, err)
		}
	}
	for _, p := range data.Products {
		if err := cat.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %d: %w", p.ID, err)
		}
	}
	for i := range data.Listings {
		if err := store.SaveListing(ctx, &data.Listings[i]); err != nil {
			return fmt.Errorf("seed listing %d: %w", data.Listings[i].ID, err)
		}
	}
	for i := range data.Policies {
		if err := store.SavePolicy(ctx, &data.Policies[i]); err != nil {
			return fmt.Errorf("seed policy %d: %w", data.Policies[i].ID, err)
		}
	}
	return nil
}
