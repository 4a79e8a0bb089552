// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package catalog reads products, reviews, and purchase history from
// Weaviate, and writes back the reviews the survey produces. Similar-product
// lookup is a nearVector search over the product embedding.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a product lookup matches nothing.
var ErrNotFound = errors.New("catalog: not found")

// ErrUnavailable is returned by the degraded catalog used when no vector
// database is configured.
var ErrUnavailable = errors.New("catalog: backend not configured")

// Product is one catalog item.
type Product struct {
	ItemID      string
	Title       string
	Description string
	Category    string
}

// Review is a stored product review, human or generated.
type Review struct {
	ReviewID       string
	ItemID         string
	UserID         string
	Title          string
	Text           string
	Stars          int
	AgentGenerated bool
	CreatedAt      time.Time
}

// Transaction is one purchase record.
type Transaction struct {
	TransactionID string
	UserID        string
	ItemID        string
	OrderDate     string
}

// Catalog is the read/write boundary to the product data plane.
type Catalog interface {
	// ProductByID fetches one product, or ErrNotFound.
	ProductByID(ctx context.Context, itemID string) (*Product, error)

	// ProductReviews lists reviews written for a product.
	ProductReviews(ctx context.Context, itemID string, limit int) ([]Review, error)

	// UserReviews lists reviews a user has written, newest first.
	UserReviews(ctx context.Context, userID string, limit int) ([]Review, error)

	// UserTransactions lists a user's purchases.
	UserTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)

	// SimilarProductReviews finds reviews of products semantically close
	// to the given one, excluding the product itself.
	SimilarProductReviews(ctx context.Context, product *Product, limit int) ([]Review, error)

	// SaveReview persists a finished review.
	SaveReview(ctx context.Context, review Review) error
}

// =============================================================================
// Degraded mode
// =============================================================================

// Unavailable is the catalog used when the service runs without Weaviate.
// Reads come back empty and writes report ErrUnavailable, which callers
// treat as "skip the enrichment".
type Unavailable struct{}

var _ Catalog = Unavailable{}

func (Unavailable) ProductByID(context.Context, string) (*Product, error) {
	return nil, ErrNotFound
}

func (Unavailable) ProductReviews(context.Context, string, int) ([]Review, error) {
	return nil, nil
}

func (Unavailable) UserReviews(context.Context, string, int) ([]Review, error) {
	return nil, nil
}

func (Unavailable) UserTransactions(context.Context, string, int) ([]Transaction, error) {
	return nil, nil
}

func (Unavailable) SimilarProductReviews(context.Context, *Product, int) ([]Review, error) {
	return nil, nil
}

func (Unavailable) SaveReview(context.Context, Review) error {
	return ErrUnavailable
}
