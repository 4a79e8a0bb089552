// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
)

func qn(text string) datatypes.Question {
	return datatypes.Question{
		Text:    text,
		Options: []string{"Yes", "No"},
	}
}

// newSession builds a collecting-phase snapshot seeded with n questions.
func newSession(t *testing.T, e *Engine, n int) *datatypes.Snapshot {
	t.Helper()
	snap := datatypes.NewSnapshot("sess-1", "user-1", "item-1", nil, nil)
	batch := make([]datatypes.Question, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, qn(fmt.Sprintf("Question %d?", i+1)))
	}
	next, accepted, _, err := e.AcceptFollowups(snap, batch, 0)
	require.NoError(t, err)
	require.Equal(t, n, accepted)
	return next
}

func answer(t *testing.T, e *Engine, snap *datatypes.Snapshot, text string) (*datatypes.Snapshot, Effect) {
	t.Helper()
	next, eff, err := e.Apply(snap, AnswerEvent{Value: datatypes.AnswerValue{text}})
	require.NoError(t, err)
	return next, eff
}

func TestApply_Answer_AdvancesCursor(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 3)

	next, eff := answer(t, e, snap, "Quite good")

	assert.Equal(t, 1, next.Cursor)
	assert.Equal(t, 1, next.TotalTurns)
	assert.Equal(t, 0, next.ConsecutiveSkips)
	require.Len(t, next.Answers, 1)
	assert.Equal(t, "Question 1?", next.Answers[0].QuestionText)
	assert.Equal(t, EffectAskQuestion, eff.Kind)
	assert.Equal(t, 1, eff.QuestionIndex)

	// Input snapshot untouched.
	assert.Equal(t, 0, snap.Cursor)
	assert.Empty(t, snap.Answers)
}

func TestApply_Answer_Rejections(t *testing.T) {
	e := New(DefaultLimits())

	t.Run("empty answer", func(t *testing.T) {
		snap := newSession(t, e, 3)
		_, _, err := e.Apply(snap, AnswerEvent{Value: datatypes.AnswerValue{"  "}})
		assert.ErrorIs(t, err, ErrEmptyAnswer)
	})

	t.Run("after completion", func(t *testing.T) {
		snap := newSession(t, e, 3)
		snap.Phase = datatypes.PhaseGeneratingReviews
		_, _, err := e.Apply(snap, AnswerEvent{Value: datatypes.AnswerValue{"late"}})
		assert.ErrorIs(t, err, ErrSurveyComplete)
	})
}

func TestApply_Skip_ConsecutiveLimit(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 8)

	// Three skips in a row are allowed.
	for i := 0; i < 3; i++ {
		next, _, err := e.Apply(snap, SkipEvent{})
		require.NoError(t, err)
		snap = next
	}
	assert.Equal(t, 3, snap.ConsecutiveSkips)

	_, _, err := e.Apply(snap, SkipEvent{})
	assert.ErrorIs(t, err, ErrSkipLimitExceeded)
	assert.True(t, IsPolicyError(err))

	// One answer resets the run.
	snap, _ = answer(t, e, snap, "fine")
	assert.Equal(t, 0, snap.ConsecutiveSkips)
	_, _, err = e.Apply(snap, SkipEvent{})
	assert.NoError(t, err)
}

func TestApply_Skip_MinimumAnswered(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 3)

	snap, _ = answer(t, e, snap, "one")
	var err error
	snap, _, err = e.Apply(snap, SkipEvent{})
	require.NoError(t, err)

	// One question remains and only one has an answer: refusing the skip
	// keeps the survey from finishing with too little material.
	require.Equal(t, 2, snap.TotalTurns)
	require.Equal(t, len(snap.Questions)-1, snap.Cursor)
	_, _, err = e.Apply(snap, SkipEvent{})
	assert.ErrorIs(t, err, ErrMinimumNotMet)

	// Answering it instead is fine.
	_, _, err = e.Apply(snap, AnswerEvent{Value: datatypes.AnswerValue{"ok"}})
	assert.NoError(t, err)
}

func TestApply_Edit_TruncatesDownstream(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 5)

	for i := 1; i <= 5; i++ {
		snap, _ = answer(t, e, snap, fmt.Sprintf("answer %d", i))
	}
	require.Equal(t, 5, snap.TotalTurns)

	next, eff, err := e.Apply(snap, EditEvent{QuestionNumber: 3, Value: datatypes.AnswerValue{"changed"}})
	require.NoError(t, err)

	require.Len(t, next.Answers, 3)
	assert.Equal(t, "answer 1", next.Answers[0].Value.Text())
	assert.Equal(t, "answer 2", next.Answers[1].Value.Text())
	assert.Equal(t, "changed", next.Answers[2].Value.Text())
	assert.Equal(t, 3, next.Cursor)
	assert.Equal(t, 3, next.TotalTurns)
	assert.Equal(t, datatypes.PhaseCollecting, next.Phase)
	// Question 4 was already generated and is replayed, not regenerated.
	assert.Equal(t, EffectAskQuestion, eff.Kind)
	assert.Equal(t, 3, eff.QuestionIndex)
}

func TestApply_Edit_ClearsGeneratedReviews(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 3)
	for i := 0; i < 3; i++ {
		snap, _ = answer(t, e, snap, "a")
	}
	snap.Phase = datatypes.PhaseGeneratingReviews
	var err error
	snap, err = e.AttachReviews(snap, []datatypes.ReviewOption{{Text: "Great product", Stars: 5}}, "good")
	require.NoError(t, err)
	require.Equal(t, datatypes.PhaseCompleted, snap.Phase)

	next, _, err := e.Apply(snap, EditEvent{QuestionNumber: 2, Value: datatypes.AnswerValue{"actually no"}})
	require.NoError(t, err)

	assert.Equal(t, datatypes.PhaseCollecting, next.Phase)
	assert.Empty(t, next.Reviews)
	assert.Empty(t, next.SentimentBand)
	assert.Empty(t, next.SelectedReviewID)
}

func TestApply_Edit_Rejections(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 4)
	snap, _ = answer(t, e, snap, "one")
	var err error
	snap, _, err = e.Apply(snap, SkipEvent{})
	require.NoError(t, err)

	cases := []struct {
		name string
		ev   EditEvent
		want error
	}{
		{"zero", EditEvent{QuestionNumber: 0, Value: datatypes.AnswerValue{"x"}}, ErrInvalidQuestionNumber},
		{"negative", EditEvent{QuestionNumber: -1, Value: datatypes.AnswerValue{"x"}}, ErrInvalidQuestionNumber},
		{"beyond cursor", EditEvent{QuestionNumber: 4, Value: datatypes.AnswerValue{"x"}}, ErrInvalidQuestionNumber},
		{"skipped question", EditEvent{QuestionNumber: 2, Value: datatypes.AnswerValue{"x"}}, ErrInvalidQuestionNumber},
		{"empty value", EditEvent{QuestionNumber: 1, Value: datatypes.AnswerValue{}}, ErrEmptyAnswer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.Apply(snap, tc.ev)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRoute_FollowupCadence(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 10)

	wantFollowups := map[int]bool{6: true, 9: true}
	for turn := 1; turn <= 9; turn++ {
		var eff Effect
		snap, eff = answer(t, e, snap, fmt.Sprintf("turn %d", turn))
		if wantFollowups[turn] {
			assert.Equal(t, EffectRequestFollowups, eff.Kind, "turn %d", turn)
			assert.Equal(t, 2, eff.Count, "turn %d", turn)
		} else {
			assert.Equal(t, EffectAskQuestion, eff.Kind, "turn %d", turn)
		}
	}
}

func TestRoute_CapBeatsCadence(t *testing.T) {
	// MaxQuestions lands on a cadence turn; the cap must win.
	e := New(Limits{MinQuestions: 3, MaxQuestions: 6, FollowupCadence: 3,
		MinAnswered: 1, MaxConsecutiveSkips: 3, FollowupBatch: 2, InitialQuestions: 3})
	snap := newSession(t, e, 6)

	var eff Effect
	for turn := 1; turn <= 6; turn++ {
		snap, eff = answer(t, e, snap, "a")
	}
	assert.Equal(t, EffectGenerateReviews, eff.Kind)
	assert.Equal(t, datatypes.PhaseGeneratingReviews, snap.Phase)
}

func TestRoute_ExhaustedQuestionsRequestsFollowups(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 2)

	snap, _ = answer(t, e, snap, "one")
	_, eff := answer(t, e, snap, "two")
	assert.Equal(t, EffectRequestFollowups, eff.Kind)
	assert.Equal(t, 2, eff.Count)
}

func TestRoute_FollowupBatchClampedNearCap(t *testing.T) {
	e := New(Limits{MinQuestions: 2, MaxQuestions: 7, FollowupCadence: 3,
		MinAnswered: 1, MaxConsecutiveSkips: 3, FollowupBatch: 2, InitialQuestions: 3})
	snap := newSession(t, e, 6)

	var eff Effect
	for turn := 1; turn <= 6; turn++ {
		snap, eff = answer(t, e, snap, "a")
	}
	// One turn of headroom left; only one follow-up should be requested.
	require.Equal(t, EffectRequestFollowups, eff.Kind)
	assert.Equal(t, 1, eff.Count)
}

func TestAcceptFollowups_DedupAndValidation(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 2)

	batch := []datatypes.Question{
		qn("Question 1?"), // already asked
		{Text: "Only one option?", Options: []string{"Yes"}},
		qn("Something new?"),
		qn("Something new?"), // duplicate within the batch
		qn("Another new one?"),
	}
	next, accepted, _, err := e.AcceptFollowups(snap, batch, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)
	assert.Len(t, next.Questions, 4)
	assert.Equal(t, "Something new?", next.Questions[2].Text)
	assert.Equal(t, "Another new one?", next.Questions[3].Text)
}

func TestAcceptFollowups_EmptyBatchDegrades(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 2)
	snap, _ = answer(t, e, snap, "one")
	snap, _ = answer(t, e, snap, "two")

	batch := []datatypes.Question{qn("Question 1?"), qn("Question 2?")}
	next, accepted, eff, err := e.AcceptFollowups(snap, batch, 2)
	require.NoError(t, err)
	assert.Zero(t, accepted)
	assert.Equal(t, EffectGenerateReviews, eff.Kind)
	assert.Equal(t, datatypes.PhaseGeneratingReviews, next.Phase)
}

func TestAttachReviews(t *testing.T) {
	e := New(DefaultLimits())

	completed := func(t *testing.T) *datatypes.Snapshot {
		snap := newSession(t, e, 3)
		for i := 0; i < 3; i++ {
			snap, _ = answer(t, e, snap, "a")
		}
		snap.Phase = datatypes.PhaseGeneratingReviews
		return snap
	}

	t.Run("filters invalid options", func(t *testing.T) {
		snap := completed(t)
		next, err := e.AttachReviews(snap, []datatypes.ReviewOption{
			{Text: "Solid purchase", Stars: 4},
			{Text: "", Stars: 5},
			{Text: "Broke in a week", Stars: 9},
		}, "good")
		require.NoError(t, err)
		require.Len(t, next.Reviews, 1)
		assert.Equal(t, "good", next.SentimentBand)
		assert.Equal(t, datatypes.PhaseCompleted, next.Phase)
	})

	t.Run("all invalid", func(t *testing.T) {
		snap := completed(t)
		_, err := e.AttachReviews(snap, []datatypes.ReviewOption{{Text: "", Stars: 0}}, "okay")
		assert.ErrorIs(t, err, ErrNoUsableReviews)
	})

	t.Run("still collecting", func(t *testing.T) {
		snap := newSession(t, e, 3)
		_, err := e.AttachReviews(snap, []datatypes.ReviewOption{{Text: "x", Stars: 3}}, "okay")
		assert.ErrorIs(t, err, ErrSurveyNotComplete)
	})

	t.Run("regenerate replaces previous set", func(t *testing.T) {
		snap := completed(t)
		snap, err := e.AttachReviews(snap, []datatypes.ReviewOption{{Text: "first", Stars: 3}}, "okay")
		require.NoError(t, err)
		next, err := e.AttachReviews(snap, []datatypes.ReviewOption{
			{Text: "second", Stars: 4}, {Text: "third", Stars: 5},
		}, "good")
		require.NoError(t, err)
		require.Len(t, next.Reviews, 2)
		assert.Equal(t, "second", next.Reviews[0].Text)
	})
}

func TestSelectReview(t *testing.T) {
	e := New(DefaultLimits())
	snap := newSession(t, e, 3)
	for i := 0; i < 3; i++ {
		snap, _ = answer(t, e, snap, "a")
	}
	snap.Phase = datatypes.PhaseGeneratingReviews
	snap, err := e.AttachReviews(snap, []datatypes.ReviewOption{
		{Text: "first", Stars: 4}, {Text: "second", Stars: 5},
	}, "good")
	require.NoError(t, err)

	t.Run("out of range", func(t *testing.T) {
		_, _, err := e.SelectReview(snap, 2, "rev-1")
		assert.ErrorIs(t, err, ErrReviewIndexOutOfRange)
		_, _, err = e.SelectReview(snap, -1, "rev-1")
		assert.ErrorIs(t, err, ErrReviewIndexOutOfRange)
	})

	t.Run("not completed", func(t *testing.T) {
		fresh := newSession(t, e, 3)
		_, _, err := e.SelectReview(fresh, 0, "rev-1")
		assert.ErrorIs(t, err, ErrSurveyNotComplete)
	})

	t.Run("success", func(t *testing.T) {
		next, chosen, err := e.SelectReview(snap, 1, "rev-1")
		require.NoError(t, err)
		assert.Equal(t, "second", chosen.Text)
		assert.Equal(t, "rev-1", next.SelectedReviewID)
	})
}

// TestApply_RandomizedInvariants replays random event streams and checks
// that every accepted transition leaves the snapshot internally consistent.
func TestApply_RandomizedInvariants(t *testing.T) {
	e := New(DefaultLimits())
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		snap := newSession(t, e, 3)
		generated := 3
		for step := 0; step < 40 && snap.Phase == datatypes.PhaseCollecting; step++ {
			var (
				next *datatypes.Snapshot
				eff  Effect
				err  error
			)
			switch rng.Intn(5) {
			case 0:
				next, eff, err = e.Apply(snap, SkipEvent{})
			case 1:
				n := rng.Intn(len(snap.Questions)+2) - 1
				next, eff, err = e.Apply(snap, EditEvent{QuestionNumber: n, Value: datatypes.AnswerValue{"edited"}})
			default:
				next, eff, err = e.Apply(snap, AnswerEvent{Value: datatypes.AnswerValue{fmt.Sprintf("r%d", step)}})
			}
			if err != nil {
				var inv *InvariantError
				require.False(t, errors.As(err, &inv), "run %d step %d: %v", run, step, err)
				continue
			}
			require.NoError(t, next.CheckInvariants(), "run %d step %d", run, step)
			snap = next

			if eff.Kind == EffectRequestFollowups {
				batch := make([]datatypes.Question, 0, eff.Count)
				for i := 0; i < eff.Count; i++ {
					generated++
					batch = append(batch, qn(fmt.Sprintf("Follow-up %d?", generated)))
				}
				snap, _, _, err = e.AcceptFollowups(snap, batch, eff.Count)
				require.NoError(t, err)
			}
		}
		require.LessOrEqual(t, snap.TotalTurns, e.Limits().MaxQuestions)
	}
}
