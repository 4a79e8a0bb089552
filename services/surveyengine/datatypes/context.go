// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Context type tags describe which data sourced a generated context blob.
const (
	ContextFromDirectReviews = "direct_reviews"
	ContextFromSimilarItems  = "similar_products"
	ContextFromPurchases     = "purchase_history"
	ContextGeneric           = "generic"
)

// ProductContext is the product half of the upstream profiling output.
// It is produced once at session start and treated as an immutable input
// to question and review generation afterwards.
type ProductContext struct {
	MajorConcerns  []string `json:"major_concerns"`
	KeyFeatures    []string `json:"key_features"`
	Pros           []string `json:"pros"`
	Cons           []string `json:"cons"`
	CommonUseCases []string `json:"common_use_cases"`

	// ContextType records which fallback produced this context:
	// direct_reviews, similar_products, or generic.
	ContextType string  `json:"context_type"`
	Confidence  float64 `json:"confidence_score"`
}

// CustomerContext is the shopper half of the upstream profiling output.
type CustomerContext struct {
	MajorConcerns       []string `json:"major_concerns"`
	Expectations        []string `json:"expectations"`
	PurchaseMotivations []string `json:"purchase_motivations"`
	PainPoints          []string `json:"pain_points"`
	UserSegment         string   `json:"user_segment"`

	// PriorReviewTexts carries up to ten of the shopper's previous review
	// texts, used to condition generated reviews on their writing style.
	PriorReviewTexts []string `json:"prior_review_texts,omitempty"`

	ContextType string  `json:"context_type"`
	Confidence  float64 `json:"confidence_score"`
}
