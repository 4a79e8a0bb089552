// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements the survey session state machine.
//
// # Description
//
// The engine is a pure transition function over session snapshots: given a
// snapshot and an event (answer, skip, edit), it computes the next snapshot
// and the next externally-visible effect. It never talks to the store or
// the content suppliers itself - the session manager performs those calls
// and feeds results back through AcceptFollowups and AttachReviews. This
// keeps every transition testable without any orchestration scaffolding.
//
// # Thread Safety
//
// Engine carries only immutable limits and is safe for concurrent use.
// Input snapshots are never mutated; every transition clones first.
package engine

import (
	"time"

	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

// =============================================================================
// Limits
// =============================================================================

// Limits holds the question-budget policy for a survey session.
type Limits struct {
	// InitialQuestions is the size of the opening batch requested from the
	// question supplier at session start.
	InitialQuestions int

	// MinQuestions is the turn count below which the survey never
	// completes on its own.
	MinQuestions int

	// MaxQuestions is the hard turn cap; reaching it always moves the
	// session to review generation.
	MaxQuestions int

	// MinAnswered is the minimum number of answered (not skipped)
	// questions; skipping the last remaining question is refused while
	// the count is below it.
	MinAnswered int

	// MaxConsecutiveSkips caps skips in a row.
	MaxConsecutiveSkips int

	// FollowupBatch is how many adaptive questions to request at once.
	FollowupBatch int

	// FollowupCadence requests adaptive follow-ups every Nth turn once
	// MinQuestions is reached.
	FollowupCadence int
}

// DefaultLimits returns the production question budget.
func DefaultLimits() Limits {
	return Limits{
		InitialQuestions:    3,
		MinQuestions:        5,
		MaxQuestions:        10,
		MinAnswered:         3,
		MaxConsecutiveSkips: 3,
		FollowupBatch:       2,
		FollowupCadence:     3,
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine applies events to snapshots under a fixed Limits policy.
type Engine struct {
	limits Limits
}

// New creates an engine. Zero-valued limit fields fall back to defaults.
func New(limits Limits) *Engine {
	def := DefaultLimits()
	if limits.InitialQuestions <= 0 {
		limits.InitialQuestions = def.InitialQuestions
	}
	if limits.MinQuestions <= 0 {
		limits.MinQuestions = def.MinQuestions
	}
	if limits.MaxQuestions <= 0 {
		limits.MaxQuestions = def.MaxQuestions
	}
	if limits.MinAnswered <= 0 {
		limits.MinAnswered = def.MinAnswered
	}
	if limits.MaxConsecutiveSkips <= 0 {
		limits.MaxConsecutiveSkips = def.MaxConsecutiveSkips
	}
	if limits.FollowupBatch <= 0 {
		limits.FollowupBatch = def.FollowupBatch
	}
	if limits.FollowupCadence <= 0 {
		limits.FollowupCadence = def.FollowupCadence
	}
	return &Engine{limits: limits}
}

// Limits returns the active question budget.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Apply computes one transition. The input snapshot is not mutated; on any
// error the returned snapshot is nil and the stored state must be left
// untouched by the caller.
func (e *Engine) Apply(snap *datatypes.Snapshot, ev Event) (*datatypes.Snapshot, Effect, error) {
	var (
		next *datatypes.Snapshot
		err  error
	)
	switch ev := ev.(type) {
	case AnswerEvent:
		next, err = e.applyAnswer(snap, ev)
	case SkipEvent:
		next, err = e.applySkip(snap)
	case EditEvent:
		next, err = e.applyEdit(snap, ev)
	default:
		return nil, Effect{}, &InvariantError{SessionID: snap.SessionID, Reason: "unknown event type"}
	}
	if err != nil {
		return nil, Effect{}, err
	}

	effect := e.route(next)

	if ierr := next.CheckInvariants(); ierr != nil {
		return nil, Effect{}, &InvariantError{SessionID: snap.SessionID, Reason: ierr.Error()}
	}
	return next, effect, nil
}

// =============================================================================
// Transitions
// =============================================================================

func (e *Engine) applyAnswer(snap *datatypes.Snapshot, ev AnswerEvent) (*datatypes.Snapshot, error) {
	if snap.Phase != datatypes.PhaseCollecting {
		return nil, ErrSurveyComplete
	}
	if ev.Value.Empty() {
		return nil, ErrEmptyAnswer
	}
	if snap.Cursor >= len(snap.Questions) {
		return nil, &InvariantError{SessionID: snap.SessionID, Reason: "answer with no pending question"}
	}

	next := snap.Clone()
	next.Answers = append(next.Answers, datatypes.AnswerRecord{
		QuestionIndex: next.Cursor,
		QuestionText:  next.Questions[next.Cursor].Text,
		Value:         ev.Value,
		AnsweredAt:    time.Now().UTC(),
	})
	next.Cursor++
	next.TotalTurns++
	next.ConsecutiveSkips = 0
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

func (e *Engine) applySkip(snap *datatypes.Snapshot) (*datatypes.Snapshot, error) {
	if snap.Phase != datatypes.PhaseCollecting {
		return nil, ErrSurveyComplete
	}
	if snap.Cursor >= len(snap.Questions) {
		return nil, &InvariantError{SessionID: snap.SessionID, Reason: "skip with no pending question"}
	}
	if snap.ConsecutiveSkips >= e.limits.MaxConsecutiveSkips {
		return nil, ErrSkipLimitExceeded
	}
	// Skipping the final remaining question is refused while too few
	// questions have actual answers, otherwise the survey could complete
	// with nothing to generate reviews from.
	if snap.Cursor == len(snap.Questions)-1 && len(snap.Answers) < e.limits.MinAnswered {
		return nil, ErrMinimumNotMet
	}

	next := snap.Clone()
	next.SkippedIndices = append(next.SkippedIndices, next.Cursor)
	next.Cursor++
	next.TotalTurns++
	next.ConsecutiveSkips++
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// applyEdit performs the destructive rebase: the target answer is replaced
// and every answer, skip, and generated review downstream of it is
// discarded. Already-generated later questions stay available for replay.
func (e *Engine) applyEdit(snap *datatypes.Snapshot, ev EditEvent) (*datatypes.Snapshot, error) {
	idx := ev.QuestionNumber - 1
	if idx < 0 {
		return nil, ErrInvalidQuestionNumber
	}
	if ev.Value.Empty() {
		return nil, ErrEmptyAnswer
	}
	// Only an answered question can be edited. A skipped question has no
	// answer record, so it is rejected here too.
	if _, ok := snap.AnswerAt(idx); !ok {
		return nil, ErrInvalidQuestionNumber
	}

	next := snap.Clone()

	kept := next.Answers[:0]
	for _, a := range next.Answers {
		if a.QuestionIndex < idx {
			kept = append(kept, a)
		}
	}
	next.Answers = append(kept, datatypes.AnswerRecord{
		QuestionIndex: idx,
		QuestionText:  next.Questions[idx].Text,
		Value:         ev.Value,
		AnsweredAt:    time.Now().UTC(),
	})

	skips := next.SkippedIndices[:0]
	for _, i := range next.SkippedIndices {
		if i < idx {
			skips = append(skips, i)
		}
	}
	next.SkippedIndices = skips

	next.Cursor = idx + 1
	next.TotalTurns = idx + 1
	next.ConsecutiveSkips = 0
	next.Phase = datatypes.PhaseCollecting
	next.Reviews = nil
	next.SentimentBand = ""
	next.SelectedReviewID = ""
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// =============================================================================
// Routing
// =============================================================================

// route makes the post-mutation routing decision. The max-questions cap is
// checked strictly before the follow-up cadence, so hitting the cap always
// wins even on a cadence turn.
func (e *Engine) route(next *datatypes.Snapshot) Effect {
	if next.Phase != datatypes.PhaseCollecting {
		return Effect{Kind: EffectGenerateReviews}
	}
	if next.TotalTurns >= e.limits.MaxQuestions {
		next.Phase = datatypes.PhaseGeneratingReviews
		return Effect{Kind: EffectGenerateReviews}
	}
	remaining := e.limits.MaxQuestions - next.TotalTurns
	batch := min(e.limits.FollowupBatch, remaining)
	if next.TotalTurns >= e.limits.MinQuestions && next.TotalTurns%e.limits.FollowupCadence == 0 {
		return Effect{Kind: EffectRequestFollowups, Count: batch}
	}
	if next.Cursor == len(next.Questions) {
		return Effect{Kind: EffectRequestFollowups, Count: batch}
	}
	return Effect{Kind: EffectAskQuestion, QuestionIndex: next.Cursor}
}

// AcceptFollowups validates and appends a supplier batch: questions with
// fewer than two options are rejected, questions whose text was already
// asked are rejected, and the remainder is accepted in supplier order up to
// max. A fully-rejected batch is not an error - the session degrades to
// review generation instead of looping on the supplier.
func (e *Engine) AcceptFollowups(snap *datatypes.Snapshot, batch []datatypes.Question, max int) (*datatypes.Snapshot, int, Effect, error) {
	next := snap.Clone()

	accepted := 0
	for _, q := range batch {
		if max > 0 && accepted >= max {
			break
		}
		if err := q.Validate(); err != nil {
			continue
		}
		if next.HasAsked(q.Text) {
			continue
		}
		next.Questions = append(next.Questions, q)
		next.AskedTexts = append(next.AskedTexts, q.Text)
		accepted++
	}
	next.UpdatedAt = time.Now().UTC()

	var effect Effect
	if next.Cursor < len(next.Questions) {
		effect = Effect{Kind: EffectAskQuestion, QuestionIndex: next.Cursor}
	} else {
		// The generator stalled: nothing usable came back and no
		// pre-generated question is left to present.
		next.Phase = datatypes.PhaseGeneratingReviews
		effect = Effect{Kind: EffectGenerateReviews}
	}

	if ierr := next.CheckInvariants(); ierr != nil {
		return nil, 0, Effect{}, &InvariantError{SessionID: snap.SessionID, Reason: ierr.Error()}
	}
	return next, accepted, effect, nil
}

// AttachReviews records the review supplier's output and completes the
// session. At least one valid option is required; otherwise the input
// snapshot stays authoritative and the caller retries the supplier.
func (e *Engine) AttachReviews(snap *datatypes.Snapshot, options []datatypes.ReviewOption, band string) (*datatypes.Snapshot, error) {
	if snap.Phase == datatypes.PhaseCollecting {
		return nil, ErrSurveyNotComplete
	}

	valid := make([]datatypes.ReviewOption, 0, len(options))
	for _, opt := range options {
		if err := opt.Validate(); err != nil {
			continue
		}
		valid = append(valid, opt)
	}
	if len(valid) == 0 {
		return nil, ErrNoUsableReviews
	}

	next := snap.Clone()
	next.Reviews = valid
	next.SentimentBand = band
	next.SelectedReviewID = ""
	next.Phase = datatypes.PhaseCompleted
	next.UpdatedAt = time.Now().UTC()

	if ierr := next.CheckInvariants(); ierr != nil {
		return nil, &InvariantError{SessionID: snap.SessionID, Reason: ierr.Error()}
	}
	return next, nil
}

// SelectReview stamps the chosen option's persisted review id onto the
// snapshot. The session must already be completed.
func (e *Engine) SelectReview(snap *datatypes.Snapshot, index int, reviewID string) (*datatypes.Snapshot, datatypes.ReviewOption, error) {
	if snap.Phase != datatypes.PhaseCompleted {
		return nil, datatypes.ReviewOption{}, ErrSurveyNotComplete
	}
	if index < 0 || index >= len(snap.Reviews) {
		return nil, datatypes.ReviewOption{}, ErrReviewIndexOutOfRange
	}

	next := snap.Clone()
	next.SelectedReviewID = reviewID
	next.UpdatedAt = time.Now().UTC()
	return next, next.Reviews[index], nil
}
