// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveysensei/sensei/services/surveyengine/audit"
	"github.com/surveysensei/sensei/services/surveyengine/catalog"
	"github.com/surveysensei/sensei/services/surveyengine/contexts"
	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
	"github.com/surveysensei/sensei/services/surveyengine/engine"
	"github.com/surveysensei/sensei/services/surveyengine/store"
	"github.com/surveysensei/sensei/services/surveyengine/suppliers"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeQuestions struct {
	mu          sync.Mutex
	counter     int
	fail        bool
	initial     int
	followup    int
	followupReq suppliers.QuestionRequest
}

func (f *fakeQuestions) batch(n int) []datatypes.Question {
	out := make([]datatypes.Question, 0, n)
	for i := 0; i < n; i++ {
		f.counter++
		out = append(out, datatypes.Question{
			Text:    fmt.Sprintf("Generated question %d?", f.counter),
			Options: []string{"Yes", "No", "Somewhat"},
		})
	}
	return out
}

func (f *fakeQuestions) InitialQuestions(_ context.Context, req suppliers.QuestionRequest) ([]datatypes.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, &suppliers.UpstreamError{Op: "initial questions", Err: errors.New("down")}
	}
	f.initial++
	return f.batch(req.Count), nil
}

func (f *fakeQuestions) FollowupQuestions(_ context.Context, req suppliers.QuestionRequest) ([]datatypes.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, &suppliers.UpstreamError{Op: "follow-up questions", Err: errors.New("down")}
	}
	f.followup++
	f.followupReq = req
	return f.batch(req.Count), nil
}

type fakeReviews struct {
	mu    sync.Mutex
	fail  bool
	calls int
	band  string
}

func (f *fakeReviews) GenerateReviews(_ context.Context, req suppliers.ReviewRequest) (suppliers.ReviewSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return suppliers.ReviewSet{}, &suppliers.UpstreamError{Op: "review generation", Err: errors.New("down")}
	}
	band := f.band
	if band == "" {
		band = suppliers.BandGood
	}
	return suppliers.ReviewSet{
		SentimentBand: band,
		Options: []datatypes.ReviewOption{
			{Text: "Loved it, would buy again.", Stars: 5, Highlights: []string{"great value"}},
			{Text: "Pretty solid overall.", Stars: 4},
		},
	}, nil
}

type fakeProvider struct{}

func (fakeProvider) Build(_ context.Context, _, itemID string, _ contexts.FormData) (*contexts.BuildResult, error) {
	return &contexts.BuildResult{
		Product:      &datatypes.ProductContext{ContextType: datatypes.ContextGeneric},
		Customer:     &datatypes.CustomerContext{ContextType: datatypes.ContextGeneric},
		ProductTitle: "Product " + itemID,
	}, nil
}

type failingProvider struct{}

func (failingProvider) Build(context.Context, string, string, contexts.FormData) (*contexts.BuildResult, error) {
	return nil, errors.New("context store down")
}

type fakeCatalog struct {
	catalog.Unavailable
	mu      sync.Mutex
	product *catalog.Product
	saved   []catalog.Review
}

func (f *fakeCatalog) ProductByID(_ context.Context, itemID string) (*catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.product != nil && f.product.ItemID == itemID {
		return f.product, nil
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeCatalog) SaveReview(_ context.Context, r catalog.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, r)
	return nil
}

type harness struct {
	mgr       *Manager
	questions *fakeQuestions
	reviews   *fakeReviews
	catalog   *fakeCatalog
	store     *store.BadgerStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{
		questions: &fakeQuestions{},
		reviews:   &fakeReviews{},
		catalog:   &fakeCatalog{},
		store:     s,
	}
	h.mgr = NewManager(s, h.questions, h.reviews, fakeProvider{}, h.catalog, audit.NopSink{}, Config{})
	return h
}

func start(t *testing.T, h *harness) string {
	t.Helper()
	res, err := h.mgr.Start(context.Background(), "user-1", "item-1", contexts.FormData{})
	require.NoError(t, err)
	return res.SessionID
}

// =============================================================================
// Tests
// =============================================================================

func TestManager_StartReturnsFirstQuestion(t *testing.T) {
	h := newHarness(t)
	res, err := h.mgr.Start(context.Background(), "user-1", "item-1", contexts.FormData{})
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "Product item-1", res.ProductTitle)
	assert.Equal(t, 1, res.QuestionNumber)
	assert.Equal(t, 3, res.TotalQuestions)
	assert.Equal(t, "Generated question 1?", res.Question.Text)

	snap, err := h.mgr.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PhaseCollecting, snap.Phase)
	assert.Len(t, snap.Questions, 3)
	assert.Zero(t, snap.TotalTurns)
}

func TestManager_StartFailsWhenSupplierDown(t *testing.T) {
	h := newHarness(t)
	h.questions.fail = true

	_, err := h.mgr.Start(context.Background(), "user-1", "item-1", contexts.FormData{})
	var upstream *suppliers.UpstreamError
	assert.ErrorAs(t, err, &upstream)
}

// A failed context fetch aborts session creation before anything is
// persisted, surfacing as retryable upstream trouble.
func TestManager_StartFailsWhenContextFetchFails(t *testing.T) {
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	mgr := NewManager(s, &fakeQuestions{}, &fakeReviews{}, failingProvider{}, nil, nil, Config{})

	_, err = mgr.Start(context.Background(), "user-1", "item-1", contexts.FormData{})
	var upstream *suppliers.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.ErrorContains(t, err, "context store down")
}

func TestManager_FullSurveyReachesReviews(t *testing.T) {
	h := newHarness(t)
	id := start(t, h)
	ctx := context.Background()

	var last *TurnResult
	for turn := 1; ; turn++ {
		res, err := h.mgr.Answer(ctx, id, datatypes.AnswerValue{fmt.Sprintf("answer %d", turn)})
		require.NoError(t, err, "turn %d", turn)
		last = res
		if res.Kind == TurnReviewsReady {
			break
		}
		require.Less(t, turn, 20, "survey never completed")
	}

	assert.Equal(t, 10, last.TotalTurns)
	assert.Equal(t, datatypes.PhaseCompleted, last.Phase)
	assert.Equal(t, suppliers.BandGood, last.SentimentBand)
	require.Len(t, last.Reviews, 2)
	assert.Equal(t, 1, h.reviews.calls)
	// Exhaustion at turns 3 and 5, cadence at 6 and 9.
	assert.Equal(t, 4, h.questions.followup)

	snap, err := h.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.NoError(t, snap.CheckInvariants())
}

func TestManager_SkipPolicySurfaces(t *testing.T) {
	h := newHarness(t)
	id := start(t, h)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.mgr.Skip(ctx, id)
		require.NoError(t, err)
	}
	// Third skip targets the last remaining question with nothing
	// answered yet.
	_, err := h.mgr.Skip(ctx, id)
	assert.ErrorIs(t, err, engine.ErrMinimumNotMet)

	// The refused skip left no trace.
	snap, err := h.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalTurns)
}

func TestManager_TurnResultsCarrySkipCounters(t *testing.T) {
	h := newHarness(t)
	id := start(t, h)
	ctx := context.Background()

	res, err := h.mgr.Skip(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Equal(t, 1, res.ConsecutiveSkips)
	assert.Equal(t, 3, res.TotalQuestions)

	// Answering resets the consecutive counter but not the total.
	res, err = h.mgr.Answer(ctx, id, datatypes.AnswerValue{"fine"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Zero(t, res.ConsecutiveSkips)
	assert.Equal(t, 3, res.TotalQuestions)
}

// The follow-up request must carry the full question history so the model
// neither repeats a question nor revisits a skipped topic, and the prompt
// names the product by its catalog title rather than the raw item id.
func TestManager_FollowupRequestCarriesHistory(t *testing.T) {
	h := newHarness(t)
	h.catalog.product = &catalog.Product{ItemID: "item-1", Title: "Trail Running Shoes"}
	id := start(t, h)
	ctx := context.Background()

	// Answer, skip, answer: the opening batch of three is exhausted on
	// the third turn, which triggers the first follow-up request.
	_, err := h.mgr.Answer(ctx, id, datatypes.AnswerValue{"great"})
	require.NoError(t, err)
	_, err = h.mgr.Skip(ctx, id)
	require.NoError(t, err)
	_, err = h.mgr.Answer(ctx, id, datatypes.AnswerValue{"daily"})
	require.NoError(t, err)
	require.Equal(t, 1, h.questions.followup)

	req := h.questions.followupReq
	assert.Equal(t, "Trail Running Shoes", req.ProductTitle)
	assert.Equal(t, []string{
		"Generated question 1?",
		"Generated question 2?",
		"Generated question 3?",
	}, req.AskedTexts)
	assert.Equal(t, []string{"Generated question 2?"}, req.SkippedTexts)
	require.Len(t, req.PreviousQA, 2)
	assert.Equal(t, "great", req.PreviousQA[0].Answer)
}

func TestManager_EditRebasesAndRegenerates(t *testing.T) {
	h := newHarness(t)
	id := start(t, h)
	ctx := context.Background()

	for turn := 1; turn <= 5; turn++ {
		_, err := h.mgr.Answer(ctx, id, datatypes.AnswerValue{fmt.Sprintf("answer %d", turn)})
		require.NoError(t, err)
	}

	res, err := h.mgr.Edit(ctx, id, 3, datatypes.AnswerValue{"changed my mind"})
	require.NoError(t, err)
	assert.Equal(t, TurnQuestion, res.Kind)
	assert.Equal(t, 4, res.QuestionNumber)

	snap, err := h.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalTurns)
	require.Len(t, snap.Answers, 3)
	assert.Equal(t, "changed my mind", snap.Answers[2].Value.Text())
	assert.NoError(t, snap.CheckInvariants())
}

func TestManager_ReviewFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	id := start(t, h)
	ctx := context.Background()

	h.reviews.fail = true
	var err error
	for turn := 1; turn <= 10; turn++ {
		_, err = h.mgr.Answer(ctx, id, datatypes.AnswerValue{fmt.Sprintf("answer %d", turn)})
		if err != nil {
			break
		}
	}
	var upstream *suppliers.UpstreamError
	require.ErrorAs(t, err, &upstream)

	// The cap transition was persisted, so the client retries through
	// the reviews endpoint instead of replaying the answer.
	snap, err := h.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PhaseGeneratingReviews, snap.Phase)
	assert.Equal(t, 10, snap.TotalTurns)

	h.reviews.fail = false
	res, err := h.mgr.GenerateReviews(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PhaseCompleted, res.Phase)
	require.Len(t, res.Reviews, 2)
}

func TestManager_GenerateReviewsWhileCollecting(t *testing.T) {
	h := newHarness(t)
	id := start(t, h)

	_, err := h.mgr.GenerateReviews(context.Background(), id)
	assert.ErrorIs(t, err, engine.ErrSurveyNotComplete)
}

func TestManager_RegenerateReplacesOptions(t *testing.T) {
	h := newHarness(t)
	id := start(t, h)
	ctx := context.Background()

	for turn := 1; turn <= 10; turn++ {
		_, err := h.mgr.Answer(ctx, id, datatypes.AnswerValue{"a"})
		require.NoError(t, err)
	}

	h.reviews.band = suppliers.BandOkay
	res, err := h.mgr.GenerateReviews(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, suppliers.BandOkay, res.SentimentBand)
	assert.Equal(t, 2, h.reviews.calls)
}

func TestManager_SelectReviewSavesToCatalog(t *testing.T) {
	h := newHarness(t)
	id := start(t, h)
	ctx := context.Background()

	for turn := 1; turn <= 10; turn++ {
		_, err := h.mgr.Answer(ctx, id, datatypes.AnswerValue{"a"})
		require.NoError(t, err)
	}

	sel, err := h.mgr.SelectReview(ctx, id, 1)
	require.NoError(t, err)
	assert.True(t, sel.Saved)
	assert.NotEmpty(t, sel.ReviewID)
	assert.Equal(t, "Pretty solid overall.", sel.Review.Text)

	require.Len(t, h.catalog.saved, 1)
	saved := h.catalog.saved[0]
	assert.Equal(t, sel.ReviewID, saved.ReviewID)
	assert.Equal(t, "item-1", saved.ItemID)
	assert.True(t, saved.AgentGenerated)

	snap, err := h.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sel.ReviewID, snap.SelectedReviewID)
}

func TestManager_SelectReviewWithoutCatalog(t *testing.T) {
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	q := &fakeQuestions{}
	r := &fakeReviews{}
	mgr := NewManager(s, q, r, fakeProvider{}, nil, nil, Config{})

	ctx := context.Background()
	res, err := mgr.Start(ctx, "user-1", "item-1", contexts.FormData{})
	require.NoError(t, err)
	for turn := 1; turn <= 10; turn++ {
		_, err := mgr.Answer(ctx, res.SessionID, datatypes.AnswerValue{"a"})
		require.NoError(t, err)
	}

	sel, err := mgr.SelectReview(ctx, res.SessionID, 0)
	require.NoError(t, err)
	assert.False(t, sel.Saved)
}

func TestManager_UnknownSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Answer(context.Background(), "ghost", datatypes.AnswerValue{"a"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestManager_ConcurrentAnswers fires racing answers at one session. The
// per-session lock serializes them; every success must advance exactly one
// turn and the snapshot must stay consistent.
func TestManager_ConcurrentAnswers(t *testing.T) {
	h := newHarness(t)
	id := start(t, h)
	ctx := context.Background()

	const racers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.mgr.Answer(ctx, id, datatypes.AnswerValue{fmt.Sprintf("racer %d", i)})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	snap, err := h.mgr.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, successes, snap.TotalTurns)
	assert.NoError(t, snap.CheckInvariants())
}
