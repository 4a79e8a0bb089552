// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package suppliers generates survey questions and review options through
// an LLM backend. Suppliers are the only components that prompt a model;
// the transition engine consumes their validated output and never sees a
// prompt or a raw completion.
package suppliers

import (
	"context"
	"fmt"

	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

// QA is one resolved question/answer pair fed into prompts.
type QA struct {
	Question string
	Answer   string
}

// QuestionRequest carries everything the question supplier conditions on.
type QuestionRequest struct {
	ProductTitle string
	Product      *datatypes.ProductContext
	Customer     *datatypes.CustomerContext

	// PreviousQA is empty for the opening batch and holds the answered
	// history for follow-up batches.
	PreviousQA []QA

	// AskedTexts lists every question text already generated for the
	// session, so the model does not repeat itself. SkippedTexts lists
	// the ones the user declined; those topics are steered away from,
	// not just deduplicated.
	AskedTexts   []string
	SkippedTexts []string

	// Count is how many questions to generate.
	Count int
}

// QuestionSupplier produces survey questions.
type QuestionSupplier interface {
	// InitialQuestions generates the opening batch before any answers
	// exist.
	InitialQuestions(ctx context.Context, req QuestionRequest) ([]datatypes.Question, error)

	// FollowupQuestions generates adaptive questions conditioned on the
	// answered history.
	FollowupQuestions(ctx context.Context, req QuestionRequest) ([]datatypes.Question, error)
}

// ReviewRequest carries everything the review supplier conditions on.
type ReviewRequest struct {
	ProductTitle string
	Product      *datatypes.ProductContext
	Customer     *datatypes.CustomerContext
	QA           []QA

	// PriorReviewTexts holds the user's previous review bodies; when
	// present, the generated reviews are conditioned on the user's own
	// writing style.
	PriorReviewTexts []string
}

// ReviewSet is the review supplier's output: sentiment band plus the
// candidate review options whose star ratings follow the band.
type ReviewSet struct {
	Options       []datatypes.ReviewOption
	SentimentBand string
}

// ReviewSupplier produces candidate review texts from a finished survey.
type ReviewSupplier interface {
	GenerateReviews(ctx context.Context, req ReviewRequest) (ReviewSet, error)
}

// UpstreamError marks a failure of the model backend (or its output
// parsing) as retryable upstream trouble rather than a session fault.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
