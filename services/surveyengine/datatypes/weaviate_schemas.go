// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// GetProductSchema describes a catalog product. Product vectors are
// computed by the embedding client, not by a Weaviate vectorizer module.
func GetProductSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Product",
		Description: "A catalog product with its description embedding.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "item_id",
				DataType:        []string{"text"},
				Description:     "The unique product identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "The product title.",
				Tokenization: "word",
			},
			{
				Name:         "description",
				DataType:     []string{"text"},
				Description:  "The full product description.",
				Tokenization: "word",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "The product category.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// GetReviewSchema describes a product review, manual or agent-generated.
func GetReviewSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Review",
		Description: "A product review written by a shopper or generated by the agent.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "review_id",
				DataType:        []string{"text"},
				Description:     "The unique review identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "item_id",
				DataType:        []string{"text"},
				Description:     "The reviewed product.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "The author of the review.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "review_title",
				DataType:     []string{"text"},
				Description:  "A short review title.",
				Tokenization: "word",
			},
			{
				Name:         "review_text",
				DataType:     []string{"text"},
				Description:  "The full review text.",
				Tokenization: "word",
			},
			{
				Name:            "review_stars",
				DataType:        []string{"int"},
				Description:     "The star rating, 1-5.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "agent_generated",
				DataType:        []string{"boolean"},
				Description:     "True if the review was produced by the survey agent.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds timestamp of review creation.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetTransactionSchema describes a shopper purchase, used for customer
// profiling.
func GetTransactionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Transaction",
		Description: "A shopper purchase of a catalog product.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{IndexTimestamps: true},
		Properties: []*models.Property{
			{
				Name:            "transaction_id",
				DataType:        []string{"text"},
				Description:     "The unique transaction identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "The purchasing shopper.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "item_id",
				DataType:        []string{"text"},
				Description:     "The purchased product.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "order_date",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds timestamp of the order.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetSurveyAuditSchema describes the append-only audit mirror: one object
// per presented question and per selected review. The survey engine only
// ever writes this class; state reconstruction always goes through the
// snapshot store.
func GetSurveyAuditSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "SurveyAuditEntry",
		Description: "Append-only audit record of survey activity for a session.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{IndexTimestamps: true},
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The survey session this entry belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "kind",
				DataType:        []string{"text"},
				Description:     "Entry kind: question_presented, answered, skipped, review_selected.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "question_number",
				DataType:        []string{"int"},
				Description:     "1-indexed question number within the session.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "question",
				DataType:     []string{"text"},
				Description:  "The question text presented to the shopper.",
				Tokenization: "word",
			},
			{
				Name:         "detail",
				DataType:     []string{"text"},
				Description:  "Entry detail: answer text, review id, or option list JSON.",
				Tokenization: "word",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds timestamp of the event.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing survey engine classes. Schema
// creation failure is fatal: running with a partial schema corrupts the
// audit trail silently.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetProductSchema,
		GetReviewSchema,
		GetTransactionSchema,
		GetSurveyAuditSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// The class getter errors when the class does not exist yet.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
