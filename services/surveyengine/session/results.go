// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

// TurnKind distinguishes the two outcomes of an event: another question,
// or the generated reviews.
type TurnKind string

const (
	TurnQuestion     TurnKind = "question"
	TurnReviewsReady TurnKind = "reviews_ready"
)

// TurnResult is what the client sees after an answer, skip, or edit.
type TurnResult struct {
	Kind TurnKind `json:"kind"`

	// Question is set when Kind is TurnQuestion. QuestionNumber is
	// 1-based.
	Question       *datatypes.Question `json:"question,omitempty"`
	QuestionNumber int                 `json:"question_number,omitempty"`

	// Reviews and SentimentBand are set when Kind is TurnReviewsReady.
	Reviews       []datatypes.ReviewOption `json:"reviews,omitempty"`
	SentimentBand string                   `json:"sentiment_band,omitempty"`

	Phase      datatypes.Phase `json:"phase"`
	TotalTurns int             `json:"total_turns"`

	// TotalQuestions counts every question generated so far, answered or
	// not. SkippedCount and ConsecutiveSkips mirror the skip policy state.
	TotalQuestions   int `json:"total_questions"`
	SkippedCount     int `json:"skipped_count"`
	ConsecutiveSkips int `json:"consecutive_skips"`
}

// StartResult is the response to starting a survey.
type StartResult struct {
	SessionID      string             `json:"session_id"`
	ProductTitle   string             `json:"product_title"`
	Question       datatypes.Question `json:"question"`
	QuestionNumber int                `json:"question_number"`
	TotalQuestions int                `json:"total_questions"`
}

// ReviewsResult is the response to generating or regenerating reviews.
type ReviewsResult struct {
	Reviews       []datatypes.ReviewOption `json:"reviews"`
	SentimentBand string                   `json:"sentiment_band"`
	Phase         datatypes.Phase          `json:"phase"`
}

// SelectionResult is the response to selecting a review.
type SelectionResult struct {
	ReviewID string                 `json:"review_id"`
	Review   datatypes.ReviewOption `json:"review"`
	Saved    bool                   `json:"saved"`
}
