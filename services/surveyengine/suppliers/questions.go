// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package suppliers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/surveysensei/sensei/services/llm"
	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

var tracer = otel.Tracer("sensei.surveyengine.suppliers")

const initialQuestionsSystemPrompt = `You are an expert survey designer. Generate personalized survey questions based on:
1. Product context (features, concerns, pros/cons)
2. Customer context (expectations, pain points, motivations)

Create engaging multiple-choice questions that will help understand the user's experience and generate an authentic review.

Guidelines:
- Questions should be specific and actionable
- Options should cover diverse perspectives
- Build on both product and customer insights
- Questions should flow naturally
- Avoid generic questions
- Set allow_multiple=true for questions where multiple options can logically be selected together (e.g., "What features do you use?", "What concerns do you have?")
- Set allow_multiple=false for mutually exclusive questions (e.g., "How satisfied are you?", "Would you recommend?")

Respond with JSON only, shaped as:
{"questions": [{"question_text": "...", "options": ["...", "..."], "allow_multiple": false, "reasoning": "..."}]}`

const followupQuestionsSystemPrompt = `You are an expert survey designer conducting an adaptive survey.
Based on the user's previous answers, generate relevant follow-up questions.

Guidelines:
- Build on previous answers to dig deeper
- Explore interesting angles from their responses
- Keep questions focused and specific
- Ensure questions flow naturally from the conversation
- Help gather insights for an authentic review
- Set allow_multiple=true for questions where multiple options can logically be selected together
- Set allow_multiple=false for mutually exclusive questions

Respond with JSON only, shaped as:
{"questions": [{"question_text": "...", "options": ["...", "..."], "allow_multiple": false, "reasoning": "..."}]}`

// questionnaireWire matches the model's expected output shape.
type questionnaireWire struct {
	Questions []datatypes.Question `json:"questions"`
}

// LLMQuestionSupplier generates questions through an LLM backend.
type LLMQuestionSupplier struct {
	llm llm.LLMClient
}

var _ QuestionSupplier = (*LLMQuestionSupplier)(nil)

func NewLLMQuestionSupplier(client llm.LLMClient) *LLMQuestionSupplier {
	return &LLMQuestionSupplier{llm: client}
}

// InitialQuestions generates the opening batch from the product and
// customer contexts alone.
func (s *LLMQuestionSupplier) InitialQuestions(ctx context.Context, req QuestionRequest) ([]datatypes.Question, error) {
	ctx, span := tracer.Start(ctx, "LLMQuestionSupplier.InitialQuestions")
	defer span.End()
	span.SetAttributes(attribute.Int("survey.question_count", req.Count))

	prompt := fmt.Sprintf(`Product Context:
%s

Customer Context:
%s

Generate %d initial survey questions. Each question should have 4-6 options.`,
		contextJSON(req.Product), contextJSON(req.Customer), req.Count)

	return s.generate(ctx, span, prompt, initialQuestionsSystemPrompt, "initial questions")
}

// FollowupQuestions generates adaptive questions conditioned on the
// answered history.
func (s *LLMQuestionSupplier) FollowupQuestions(ctx context.Context, req QuestionRequest) ([]datatypes.Question, error) {
	ctx, span := tracer.Start(ctx, "LLMQuestionSupplier.FollowupQuestions")
	defer span.End()
	span.SetAttributes(
		attribute.Int("survey.question_count", req.Count),
		attribute.Int("survey.answered", len(req.PreviousQA)),
	)

	prompt := fmt.Sprintf(`Product Context:
%s

Customer Context:
%s

Previous Q&A:
%s

Already asked (do not repeat or rephrase these):
%s

Skipped by the user (avoid these topics entirely):
%s

Generate %d follow-up questions that build on the conversation.`,
		contextJSON(req.Product), contextJSON(req.Customer), formatQA(req.PreviousQA),
		formatList(req.AskedTexts), formatList(req.SkippedTexts), req.Count)

	return s.generate(ctx, span, prompt, followupQuestionsSystemPrompt, "follow-up questions")
}

func (s *LLMQuestionSupplier) generate(ctx context.Context, span trace.Span, prompt, system, op string) ([]datatypes.Question, error) {
	raw, err := s.llm.Generate(ctx, prompt, llm.GenerationParams{
		SystemPrompt: system,
		ForceJSON:    true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &UpstreamError{Op: op, Err: err}
	}

	var wire questionnaireWire
	if err := decodeJSON(raw, &wire); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to parse question batch", "op", op, "error", err)
		return nil, &UpstreamError{Op: op, Err: err}
	}

	// Questions without enough options are dropped here so the engine
	// only ever sees presentable material.
	out := make([]datatypes.Question, 0, len(wire.Questions))
	for _, q := range wire.Questions {
		if err := q.Validate(); err != nil {
			slog.Warn("Dropping generated question", "op", op, "error", err, "question", q.Text)
			continue
		}
		out = append(out, q)
	}
	slog.Debug("Generated question batch", "op", op, "returned", len(wire.Questions), "usable", len(out))
	return out, nil
}

func contextJSON(v any) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return b.String()
}

func formatQA(qa []QA) string {
	var b strings.Builder
	for i, item := range qa {
		fmt.Fprintf(&b, "Q%d: %s\nA: %s\n", i+1, item.Question, item.Answer)
	}
	if b.Len() == 0 {
		return "(no answers yet)"
	}
	return b.String()
}
