// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "github.com/surveysensei/sensei/services/surveyengine/datatypes"

// Event is one user action applied to a session snapshot.
type Event interface {
	isEvent()
}

// AnswerEvent resolves the question at the cursor with a selected value.
type AnswerEvent struct {
	Value datatypes.AnswerValue
}

// SkipEvent resolves the question at the cursor without an answer.
type SkipEvent struct{}

// EditEvent rewrites a past answer and discards everything downstream of
// it. QuestionNumber is 1-indexed, the way it is shown to the shopper.
type EditEvent struct {
	QuestionNumber int
	Value          datatypes.AnswerValue
}

func (AnswerEvent) isEvent() {}
func (SkipEvent) isEvent()   {}
func (EditEvent) isEvent()   {}

// EffectKind tells the caller what externally-visible step comes next.
type EffectKind int

const (
	// EffectAskQuestion presents Questions[QuestionIndex] to the shopper.
	EffectAskQuestion EffectKind = iota

	// EffectRequestFollowups means the engine needs more questions before
	// it can continue; the caller invokes the question supplier for up to
	// Count questions and feeds the batch back via AcceptFollowups.
	EffectRequestFollowups

	// EffectGenerateReviews means collecting is over; the caller invokes
	// the review supplier.
	EffectGenerateReviews
)

// Effect is the externally-visible action computed by a transition.
type Effect struct {
	Kind          EffectKind
	QuestionIndex int
	Count         int
}
