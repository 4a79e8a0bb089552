// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// ProductQueryResponse represents the response from querying the Product class.
type ProductQueryResponse struct {
	Get struct {
		Product []ProductResult `json:"Product"`
	} `json:"Get"`
}

// ProductResult represents a single product from a query.
type ProductResult struct {
	ItemID      string `json:"item_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Additional  struct {
		ID     string    `json:"id"`
		Vector []float32 `json:"vector"`
	} `json:"_additional"`
}

// ReviewQueryResponse represents the response from querying the Review class.
type ReviewQueryResponse struct {
	Get struct {
		Review []ReviewResult `json:"Review"`
	} `json:"Get"`
}

// ReviewResult represents a single review from a query.
type ReviewResult struct {
	ReviewID       string  `json:"review_id"`
	ItemID         string  `json:"item_id"`
	UserID         string  `json:"user_id"`
	ReviewTitle    string  `json:"review_title"`
	ReviewText     string  `json:"review_text"`
	ReviewStars    float64 `json:"review_stars"`
	AgentGenerated bool    `json:"agent_generated"`
	CreatedAt      string  `json:"created_at"`
}

// TransactionQueryResponse represents the response from querying the
// Transaction class.
type TransactionQueryResponse struct {
	Get struct {
		Transaction []TransactionResult `json:"Transaction"`
	} `json:"Get"`
}

// TransactionResult represents a single transaction from a query.
type TransactionResult struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	ItemID        string `json:"item_id"`
	OrderDate     string `json:"order_date"`
}
