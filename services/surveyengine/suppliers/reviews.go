// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package suppliers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/surveysensei/sensei/services/llm"
	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

// Sentiment bands. The band fixes both how many review options are
// generated and which star ratings they carry.
const (
	BandGood = "good"
	BandOkay = "okay"
	BandBad  = "bad"
)

const sentimentSystemPrompt = `You are a sentiment analysis expert. Analyze survey responses to classify overall user sentiment.

Classify into exactly one band:
- "good": the user is clearly satisfied
- "okay": the user is mixed or lukewarm
- "bad": the user is clearly dissatisfied

Respond with JSON only, shaped as:
{"sentiment_band": "good", "confidence": 0.9, "key_positive_points": ["..."], "key_negative_points": ["..."], "overall_satisfaction": "..."}`

const writingStyleSystemPrompt = `You are a writing style analysis expert. Analyze the user's previous reviews to identify their unique writing patterns.

This analysis will be used to generate new reviews that match the user's natural writing style.

Respond with JSON only, shaped as:
{"avg_review_length": 80, "tone_characteristics": ["casual", "detailed"], "vocabulary_level": "conversational", "common_phrases": ["..."], "writing_style_summary": "..."}`

const reviewBaseSystemPrompt = `You are an expert review writer. Generate authentic, natural product reviews based on survey responses.

CRITICAL RULES:
1. Reviews must sound like real customers wrote them (not AI-generated)
2. Use conversational language and varied sentence structures
3. Include specific details from the survey responses
4. Match the tone to the star rating (5-star should be enthusiastic, 1-star critical)
5. Be honest and balanced - even positive reviews can mention minor drawbacks
6. Each review should have a slightly different focus/tone

Respond with JSON only, shaped as:
{"reviews": [{"review_text": "...", "review_stars": 5, "tone": "...", "highlights": ["..."]}]}`

type sentimentWire struct {
	SentimentBand       string   `json:"sentiment_band"`
	Confidence          float64  `json:"confidence"`
	KeyPositivePoints   []string `json:"key_positive_points"`
	KeyNegativePoints   []string `json:"key_negative_points"`
	OverallSatisfaction string   `json:"overall_satisfaction"`
}

type writingStyleWire struct {
	AvgReviewLength     int      `json:"avg_review_length"`
	ToneCharacteristics []string `json:"tone_characteristics"`
	VocabularyLevel     string   `json:"vocabulary_level"`
	CommonPhrases       []string `json:"common_phrases"`
	WritingStyleSummary string   `json:"writing_style_summary"`
}

type reviewsWire struct {
	Reviews []datatypes.ReviewOption `json:"reviews"`
}

// LLMReviewSupplier generates review options through an LLM backend. It
// runs up to three model calls: sentiment classification, an optional
// writing-style analysis over the user's previous reviews, and the review
// generation itself.
type LLMReviewSupplier struct {
	llm llm.LLMClient
}

var _ ReviewSupplier = (*LLMReviewSupplier)(nil)

func NewLLMReviewSupplier(client llm.LLMClient) *LLMReviewSupplier {
	return &LLMReviewSupplier{llm: client}
}

// starsForBand maps a sentiment band to the fixed star spread of the
// generated options.
func starsForBand(band string) []int {
	switch band {
	case BandGood:
		return []int{5, 4}
	case BandBad:
		return []int{2, 1}
	default:
		return []int{4, 3, 2}
	}
}

// GenerateReviews produces the candidate reviews for a finished survey.
func (s *LLMReviewSupplier) GenerateReviews(ctx context.Context, req ReviewRequest) (ReviewSet, error) {
	ctx, span := tracer.Start(ctx, "LLMReviewSupplier.GenerateReviews")
	defer span.End()
	span.SetAttributes(
		attribute.Int("survey.answered", len(req.QA)),
		attribute.Int("survey.prior_reviews", len(req.PriorReviewTexts)),
	)

	sentiment, err := s.analyzeSentiment(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ReviewSet{}, err
	}
	span.SetAttributes(attribute.String("survey.sentiment_band", sentiment.SentimentBand))

	var style *writingStyleWire
	if len(req.PriorReviewTexts) > 0 {
		style, err = s.analyzeWritingStyle(ctx, req.PriorReviewTexts)
		if err != nil {
			// Style conditioning is best-effort: the reviews are
			// still valid without it.
			slog.Warn("Writing style analysis failed, continuing without it", "error", err)
			style = nil
		}
	}

	options, err := s.generateOptions(ctx, req, sentiment, style)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ReviewSet{}, err
	}

	return ReviewSet{Options: options, SentimentBand: sentiment.SentimentBand}, nil
}

func (s *LLMReviewSupplier) analyzeSentiment(ctx context.Context, req ReviewRequest) (sentimentWire, error) {
	prompt := fmt.Sprintf(`Product: %s

Survey Responses:
%s

Analyze the sentiment and classify into 'good', 'okay', or 'bad' band.`,
		req.ProductTitle, formatQA(req.QA))

	raw, err := s.llm.Generate(ctx, prompt, llm.GenerationParams{
		SystemPrompt: sentimentSystemPrompt,
		ForceJSON:    true,
	})
	if err != nil {
		return sentimentWire{}, &UpstreamError{Op: "sentiment analysis", Err: err}
	}

	var sentiment sentimentWire
	if err := decodeJSON(raw, &sentiment); err != nil {
		return sentimentWire{}, &UpstreamError{Op: "sentiment analysis", Err: err}
	}
	switch sentiment.SentimentBand {
	case BandGood, BandOkay, BandBad:
	default:
		slog.Warn("Model returned unknown sentiment band, treating as okay", "band", sentiment.SentimentBand)
		sentiment.SentimentBand = BandOkay
	}
	return sentiment, nil
}

func (s *LLMReviewSupplier) analyzeWritingStyle(ctx context.Context, priorReviews []string) (*writingStyleWire, error) {
	var b strings.Builder
	for i, text := range priorReviews {
		fmt.Fprintf(&b, "Review %d:\n%s\n\n", i+1, text)
	}
	prompt := fmt.Sprintf("User's Previous Reviews:\n\n%sAnalyze the user's writing style.", b.String())

	raw, err := s.llm.Generate(ctx, prompt, llm.GenerationParams{
		SystemPrompt: writingStyleSystemPrompt,
		ForceJSON:    true,
	})
	if err != nil {
		return nil, &UpstreamError{Op: "writing style analysis", Err: err}
	}

	var style writingStyleWire
	if err := decodeJSON(raw, &style); err != nil {
		return nil, &UpstreamError{Op: "writing style analysis", Err: err}
	}
	return &style, nil
}

func (s *LLMReviewSupplier) generateOptions(ctx context.Context, req ReviewRequest, sentiment sentimentWire, style *writingStyleWire) ([]datatypes.ReviewOption, error) {
	stars := starsForBand(sentiment.SentimentBand)

	styleSection := "User's Writing Style: No previous reviews available"
	styleInstruction := "Use natural, conversational language typical of online reviews"
	if style != nil {
		styleSection = fmt.Sprintf(`User's Writing Style Analysis:
- Average Review Length: %d words
- Tone Characteristics: %s
- Vocabulary Level: %s
- Common Phrases: %s
- Style Summary: %s`,
			style.AvgReviewLength,
			strings.Join(style.ToneCharacteristics, ", "),
			style.VocabularyLevel,
			orNone(style.CommonPhrases),
			style.WritingStyleSummary)
		styleInstruction = "Match the user's unique writing style patterns identified above"
	}

	starsText := make([]string, len(stars))
	for i, n := range stars {
		starsText[i] = fmt.Sprintf("%d stars", n)
	}

	prompt := fmt.Sprintf(`Product: %s

Survey Responses:
%s

Sentiment Analysis:
- Band: %s
- Positive Points: %s
- Negative Points: %s
- Overall: %s

Product Context:
%s

Customer Context:
%s

%s

Generate %d review options with star ratings: %s

Each review should:
1. Be natural and authentic (like a real customer wrote it)
2. Reflect the survey responses accurately
3. Have appropriate length (50-150 words)
4. Match the assigned star rating in tone
5. Incorporate specific details from the survey
6. %s`,
		req.ProductTitle,
		formatQA(req.QA),
		sentiment.SentimentBand,
		orNone(sentiment.KeyPositivePoints),
		orNone(sentiment.KeyNegativePoints),
		sentiment.OverallSatisfaction,
		contextJSON(req.Product),
		contextJSON(req.Customer),
		styleSection,
		len(stars),
		strings.Join(starsText, ", "),
		styleInstruction)

	raw, err := s.llm.Generate(ctx, prompt, llm.GenerationParams{
		SystemPrompt: reviewBaseSystemPrompt,
		ForceJSON:    true,
	})
	if err != nil {
		return nil, &UpstreamError{Op: "review generation", Err: err}
	}

	var wire reviewsWire
	if err := decodeJSON(raw, &wire); err != nil {
		return nil, &UpstreamError{Op: "review generation", Err: err}
	}

	// The band, not the model, decides the star ratings.
	out := make([]datatypes.ReviewOption, 0, len(stars))
	for i, opt := range wire.Reviews {
		if i >= len(stars) {
			break
		}
		opt.Stars = stars[i]
		if strings.TrimSpace(opt.Text) == "" {
			slog.Warn("Dropping empty review option", "index", i)
			continue
		}
		out = append(out, opt)
	}
	slog.Debug("Generated review options", "band", sentiment.SentimentBand, "usable", len(out))
	return out, nil
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "None identified"
	}
	return strings.Join(items, ", ")
}
