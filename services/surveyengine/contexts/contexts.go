// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contexts builds the product and customer context blobs consumed
// by question and review generation. The two halves are independent and
// run in parallel. Missing data degrades each half along a fallback chain
// (direct data, then similar/purchase data, then a generic profile), but a
// failing fetch from the catalog or model backend aborts the build: a
// session must not start on contexts we could not actually retrieve.
package contexts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/surveysensei/sensei/services/llm"
	"github.com/surveysensei/sensei/services/surveyengine/catalog"
	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

var tracer = otel.Tracer("sensei.surveyengine.contexts")

const (
	maxProductReviews  = 20
	maxSimilarReviews  = 15
	maxUserReviews     = 20
	maxPriorStyleTexts = 10
	maxTransactions    = 25
)

// FormData carries the intake form answers collected before the survey
// starts. Keys follow the client form field names.
type FormData map[string]string

func (f FormData) HasReviews() bool {
	return f["hasReviews"] == "yes"
}

func (f FormData) HasSimilarProductsReviewed() bool {
	return f["hasSimilarProductsReviewed"] == "yes"
}

func (f FormData) HasPurchasedSimilar() bool {
	return f["hasPurchasedSimilar"] == "yes"
}

// Provider builds both context halves for a session.
type Provider interface {
	Build(ctx context.Context, userID, itemID string, form FormData) (*BuildResult, error)
}

// BuildResult bundles the two context halves with the resolved product.
type BuildResult struct {
	Product  *datatypes.ProductContext
	Customer *datatypes.CustomerContext

	// ProductTitle is the catalog title, or the item id when the catalog
	// has no such product.
	ProductTitle string
}

// =============================================================================
// LLM-backed provider
// =============================================================================

const productContextSystemPrompt = `You are a product analysis expert. Analyze product reviews to extract the concerns, features, pros, cons, and use cases that matter to buyers.

Be specific and actionable. Base every point on the supplied material.

Respond with JSON only, shaped as:
{"major_concerns": ["..."], "key_features": ["..."], "pros": ["..."], "cons": ["..."], "common_use_cases": ["..."], "confidence_score": 0.8}`

const customerContextSystemPrompt = `You are a customer analysis expert. Analyze a shopper's review and purchase history to understand their concerns, expectations, motivations, and pain points.

Extract real patterns from their history. Be specific and actionable.

Respond with JSON only, shaped as:
{"major_concerns": ["..."], "expectations": ["..."], "purchase_motivations": ["..."], "pain_points": ["..."], "user_segment": "...", "confidence_score": 0.8}`

// LLMProvider builds contexts from catalog data summarized by an LLM.
type LLMProvider struct {
	catalog catalog.Catalog
	llm     llm.LLMClient
}

var _ Provider = (*LLMProvider)(nil)

func NewLLMProvider(cat catalog.Catalog, client llm.LLMClient) *LLMProvider {
	return &LLMProvider{catalog: cat, llm: client}
}

// Build runs both context halves in parallel. Absent data degrades each
// half toward a generic context; a fetch that errors fails the build.
func (p *LLMProvider) Build(ctx context.Context, userID, itemID string, form FormData) (*BuildResult, error) {
	ctx, span := tracer.Start(ctx, "LLMProvider.Build")
	defer span.End()
	span.SetAttributes(
		attribute.String("survey.item_id", itemID),
		attribute.String("survey.user_id", userID),
	)

	product, err := p.catalog.ProductByID(ctx, itemID)
	if errors.Is(err, catalog.ErrNotFound) {
		slog.Warn("Product not in catalog, continuing with bare item id", "item_id", itemID)
		product = &catalog.Product{ItemID: itemID, Title: itemID}
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("product lookup: %w", err)
	}

	result := &BuildResult{ProductTitle: product.Title}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pc, err := p.buildProductContext(gctx, product, form)
		if err != nil {
			return fmt.Errorf("product context: %w", err)
		}
		result.Product = pc
		return nil
	})
	g.Go(func() error {
		cc, err := p.buildCustomerContext(gctx, userID, product, form)
		if err != nil {
			return fmt.Errorf("customer context: %w", err)
		}
		result.Customer = cc
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("survey.product_context_type", result.Product.ContextType),
		attribute.String("survey.customer_context_type", result.Customer.ContextType),
	)
	return result, nil
}

// buildProductContext walks the fallback chain: direct reviews, then
// reviews of similar products, then a generic profile from the listing.
// Empty lookups step down the chain; a lookup error aborts.
func (p *LLMProvider) buildProductContext(ctx context.Context, product *catalog.Product, form FormData) (*datatypes.ProductContext, error) {
	if form.HasReviews() {
		reviews, err := p.catalog.ProductReviews(ctx, product.ItemID, maxProductReviews)
		if err != nil {
			return nil, fmt.Errorf("product reviews: %w", err)
		}
		if len(reviews) > 0 {
			pc, err := p.summarizeProduct(ctx, product, reviews, datatypes.ContextFromDirectReviews)
			if err != nil {
				return nil, err
			}
			if pc != nil {
				return pc, nil
			}
		}
	}

	if form.HasSimilarProductsReviewed() {
		reviews, err := p.catalog.SimilarProductReviews(ctx, product, maxSimilarReviews)
		if err != nil {
			return nil, fmt.Errorf("similar product reviews: %w", err)
		}
		if len(reviews) > 0 {
			pc, err := p.summarizeProduct(ctx, product, reviews, datatypes.ContextFromSimilarItems)
			if err != nil {
				return nil, err
			}
			if pc != nil {
				return pc, nil
			}
		}
	}

	pc, err := p.summarizeProduct(ctx, product, nil, datatypes.ContextGeneric)
	if err != nil {
		return nil, err
	}
	if pc != nil {
		return pc, nil
	}
	return genericProductContext(product), nil
}

// summarizeProduct asks the model to distill the supplied material. A
// backend failure is an error; a malformed completion returns nil so the
// caller steps down the fallback chain.
func (p *LLMProvider) summarizeProduct(ctx context.Context, product *catalog.Product, reviews []catalog.Review, contextType string) (*datatypes.ProductContext, error) {
	var material strings.Builder
	switch contextType {
	case datatypes.ContextFromDirectReviews:
		material.WriteString("Reviews of this product:\n\n")
	case datatypes.ContextFromSimilarItems:
		material.WriteString("Reviews of similar products (infer likely patterns; these are not direct reviews):\n\n")
	default:
		material.WriteString("No review data is available. Infer a plausible profile from the listing alone.\n")
	}
	for i, r := range reviews {
		fmt.Fprintf(&material, "Review %d (%d stars): %s\n%s\n\n", i+1, r.Stars, r.Title, r.Text)
	}

	prompt := fmt.Sprintf(`Product: %s
Category: %s
Description: %s

%s
Extract the product context.`,
		product.Title, product.Category, product.Description, material.String())

	raw, err := p.llm.Generate(ctx, prompt, llm.GenerationParams{
		SystemPrompt: productContextSystemPrompt,
		ForceJSON:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("product summarization: %w", err)
	}

	var pc datatypes.ProductContext
	if err := json.Unmarshal([]byte(extractJSON(raw)), &pc); err != nil {
		slog.Warn("Product context parse failed", "item_id", product.ItemID, "error", err)
		return nil, nil
	}
	pc.ContextType = contextType
	return &pc, nil
}

// buildCustomerContext prefers the user's own review and purchase history
// and falls back to a generic shopper profile when there is none.
func (p *LLMProvider) buildCustomerContext(ctx context.Context, userID string, product *catalog.Product, form FormData) (*datatypes.CustomerContext, error) {
	reviews, err := p.catalog.UserReviews(ctx, userID, maxUserReviews)
	if err != nil {
		return nil, fmt.Errorf("user reviews: %w", err)
	}

	priorTexts := make([]string, 0, maxPriorStyleTexts)
	for _, r := range reviews {
		if len(priorTexts) == maxPriorStyleTexts {
			break
		}
		if strings.TrimSpace(r.Text) != "" {
			priorTexts = append(priorTexts, r.Text)
		}
	}

	if form.HasPurchasedSimilar() {
		transactions, err := p.catalog.UserTransactions(ctx, userID, maxTransactions)
		if err != nil {
			return nil, fmt.Errorf("user transactions: %w", err)
		}

		contextType := datatypes.ContextFromPurchases
		if len(reviews) > 0 {
			contextType = datatypes.ContextFromDirectReviews
		}
		if len(reviews) > 0 || len(transactions) > 0 {
			cc, err := p.summarizeCustomer(ctx, userID, product, reviews, transactions, contextType)
			if err != nil {
				return nil, err
			}
			if cc != nil {
				cc.PriorReviewTexts = priorTexts
				return cc, nil
			}
		}
	}

	cc := genericCustomerContext()
	cc.PriorReviewTexts = priorTexts
	return cc, nil
}

func (p *LLMProvider) summarizeCustomer(ctx context.Context, userID string, product *catalog.Product, reviews []catalog.Review, transactions []catalog.Transaction, contextType string) (*datatypes.CustomerContext, error) {
	var material strings.Builder
	if len(reviews) > 0 {
		fmt.Fprintf(&material, "Review History (%d reviews):\n", len(reviews))
		for i, r := range reviews {
			if i == 15 {
				break
			}
			fmt.Fprintf(&material, "- (%d stars) %s: %s\n", r.Stars, r.Title, r.Text)
		}
		material.WriteString("\n")
	}
	if len(transactions) > 0 {
		fmt.Fprintf(&material, "Purchase History (%d purchases):\n", len(transactions))
		for _, t := range transactions {
			fmt.Fprintf(&material, "- item %s on %s\n", t.ItemID, t.OrderDate)
		}
	}

	prompt := fmt.Sprintf(`The shopper is about to review: %s

%s
Extract the customer context.`, product.Title, material.String())

	raw, err := p.llm.Generate(ctx, prompt, llm.GenerationParams{
		SystemPrompt: customerContextSystemPrompt,
		ForceJSON:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("customer summarization: %w", err)
	}

	var cc datatypes.CustomerContext
	if err := json.Unmarshal([]byte(extractJSON(raw)), &cc); err != nil {
		slog.Warn("Customer context parse failed", "user_id", userID, "error", err)
		return nil, nil
	}
	cc.ContextType = contextType
	return &cc, nil
}

// =============================================================================
// Generic fallbacks
// =============================================================================

func genericProductContext(product *catalog.Product) *datatypes.ProductContext {
	return &datatypes.ProductContext{
		MajorConcerns:  []string{"quality", "value for money"},
		KeyFeatures:    []string{product.Title},
		CommonUseCases: []string{"everyday use"},
		ContextType:    datatypes.ContextGeneric,
		Confidence:     0.2,
	}
}

func genericCustomerContext() *datatypes.CustomerContext {
	return &datatypes.CustomerContext{
		Expectations:        []string{"product works as described"},
		PurchaseMotivations: []string{"price", "quality"},
		UserSegment:         "general shopper",
		ContextType:         datatypes.ContextGeneric,
		Confidence:          0.2,
	}
}

// extractJSON strips markdown fences from a model completion.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		return strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
