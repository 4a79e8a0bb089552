// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package catalog

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

const maxSimilarProducts = 5

// WeaviateCatalog is the production Catalog backed by Weaviate classes
// Product, Review, and Transaction.
type WeaviateCatalog struct {
	client   *weaviate.Client
	embedder Embedder
}

var _ Catalog = (*WeaviateCatalog)(nil)

// NewWeaviateCatalog wires a catalog over an existing Weaviate client. The
// embedder is only needed for similar-product search; passing nil disables
// that path (it returns no results).
func NewWeaviateCatalog(client *weaviate.Client, embedder Embedder) *WeaviateCatalog {
	return &WeaviateCatalog{client: client, embedder: embedder}
}

var reviewFields = []graphql.Field{
	{Name: "review_id"},
	{Name: "item_id"},
	{Name: "user_id"},
	{Name: "review_title"},
	{Name: "review_text"},
	{Name: "review_stars"},
	{Name: "agent_generated"},
	{Name: "created_at"},
}

func (c *WeaviateCatalog) ProductByID(ctx context.Context, itemID string) (*Product, error) {
	where := filters.Where().
		WithPath([]string{"item_id"}).
		WithOperator(filters.Equal).
		WithValueString(itemID)

	resp, err := c.client.GraphQL().Get().
		WithClassName("Product").
		WithFields(
			graphql.Field{Name: "item_id"},
			graphql.Field{Name: "title"},
			graphql.Field{Name: "description"},
			graphql.Field{Name: "category"},
		).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query product %s: %w", itemID, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ProductQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parse product response: %w", err)
	}
	if len(parsed.Get.Product) == 0 {
		return nil, ErrNotFound
	}

	p := parsed.Get.Product[0]
	return &Product{
		ItemID:      p.ItemID,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
	}, nil
}

func (c *WeaviateCatalog) ProductReviews(ctx context.Context, itemID string, limit int) ([]Review, error) {
	where := filters.Where().
		WithPath([]string{"item_id"}).
		WithOperator(filters.Equal).
		WithValueString(itemID)
	return c.queryReviews(ctx, where, limit)
}

func (c *WeaviateCatalog) UserReviews(ctx context.Context, userID string, limit int) ([]Review, error) {
	where := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)
	return c.queryReviews(ctx, where, limit)
}

func (c *WeaviateCatalog) queryReviews(ctx context.Context, where *filters.WhereBuilder, limit int) ([]Review, error) {
	resp, err := c.client.GraphQL().Get().
		WithClassName("Review").
		WithFields(reviewFields...).
		WithWhere(where).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	return parseReviews(resp)
}

func (c *WeaviateCatalog) UserTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	where := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	resp, err := c.client.GraphQL().Get().
		WithClassName("Transaction").
		WithFields(
			graphql.Field{Name: "transaction_id"},
			graphql.Field{Name: "user_id"},
			graphql.Field{Name: "item_id"},
			graphql.Field{Name: "order_date"},
		).
		WithWhere(where).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query transactions for user %s: %w", userID, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.TransactionQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parse transaction response: %w", err)
	}

	out := make([]Transaction, 0, len(parsed.Get.Transaction))
	for _, t := range parsed.Get.Transaction {
		out = append(out, Transaction{
			TransactionID: t.TransactionID,
			UserID:        t.UserID,
			ItemID:        t.ItemID,
			OrderDate:     t.OrderDate,
		})
	}
	return out, nil
}

// SimilarProductReviews embeds the product's title and description, finds
// the closest other products by vector, and returns their reviews.
func (c *WeaviateCatalog) SimilarProductReviews(ctx context.Context, product *Product, limit int) ([]Review, error) {
	if c.embedder == nil {
		return nil, nil
	}

	vector, err := c.embedder.Embed(ctx, product.Title+"\n"+product.Description)
	if err != nil {
		return nil, fmt.Errorf("embed product %s: %w", product.ItemID, err)
	}

	nearVector := c.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	notSelf := filters.Where().
		WithPath([]string{"item_id"}).
		WithOperator(filters.NotEqual).
		WithValueString(product.ItemID)

	resp, err := c.client.GraphQL().Get().
		WithClassName("Product").
		WithFields(graphql.Field{Name: "item_id"}, graphql.Field{Name: "title"}).
		WithWhere(notSelf).
		WithNearVector(nearVector).
		WithLimit(maxSimilarProducts).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("similar product search: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ProductQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parse similar products: %w", err)
	}
	if len(parsed.Get.Product) == 0 {
		return nil, nil
	}

	itemIDs := make([]string, 0, len(parsed.Get.Product))
	for _, p := range parsed.Get.Product {
		itemIDs = append(itemIDs, p.ItemID)
	}
	slog.Debug("Found similar products", "item_id", product.ItemID, "similar", len(itemIDs))

	anySimilar := filters.Where().
		WithPath([]string{"item_id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(itemIDs...)
	return c.queryReviews(ctx, anySimilar, limit)
}

// SaveReview persists a review object. The object ID is derived from the
// review ID, so retried saves overwrite instead of duplicating.
func (c *WeaviateCatalog) SaveReview(ctx context.Context, review Review) error {
	created := review.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	hash := sha256.Sum256([]byte(review.ReviewID))
	objUUID, _ := uuid.FromBytes(hash[:16])

	obj := &models.Object{
		Class: "Review",
		ID:    strfmt.UUID(objUUID.String()),
		Properties: map[string]interface{}{
			"review_id":       review.ReviewID,
			"item_id":         review.ItemID,
			"user_id":         review.UserID,
			"review_title":    review.Title,
			"review_text":     review.Text,
			"review_stars":    review.Stars,
			"agent_generated": review.AgentGenerated,
			"created_at":      created.Format(time.RFC3339),
		},
	}

	_, err := c.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return fmt.Errorf("save review %s: %w", review.ReviewID, err)
	}
	slog.Info("Saved review", "review_id", review.ReviewID, "item_id", review.ItemID, "stars", review.Stars)
	return nil
}

func parseReviews(resp *models.GraphQLResponse) ([]Review, error) {
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ReviewQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parse review response: %w", err)
	}

	out := make([]Review, 0, len(parsed.Get.Review))
	for _, r := range parsed.Get.Review {
		created, _ := time.Parse(time.RFC3339, r.CreatedAt)
		out = append(out, Review{
			ReviewID:       r.ReviewID,
			ItemID:         r.ItemID,
			UserID:         r.UserID,
			Title:          r.ReviewTitle,
			Text:           r.ReviewText,
			Stars:          int(r.ReviewStars),
			AgentGenerated: r.AgentGenerated,
			CreatedAt:      created,
		})
	}
	return out, nil
}
