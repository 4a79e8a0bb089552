// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session orchestrates survey sessions: it serializes events per
// session, drives the transition engine, calls the question and review
// suppliers for the effects the engine requests, and persists the
// resulting snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/surveysensei/sensei/services/surveyengine/audit"
	"github.com/surveysensei/sensei/services/surveyengine/catalog"
	"github.com/surveysensei/sensei/services/surveyengine/contexts"
	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
	"github.com/surveysensei/sensei/services/surveyengine/engine"
	"github.com/surveysensei/sensei/services/surveyengine/store"
	"github.com/surveysensei/sensei/services/surveyengine/suppliers"
)

var tracer = otel.Tracer("sensei.surveyengine.session")

const defaultSupplierTimeout = 90 * time.Second

// Config tunes the session manager.
type Config struct {
	// SupplierTimeout bounds each question or review generation call.
	SupplierTimeout time.Duration

	// Limits is the question budget; zero fields fall back to defaults.
	Limits engine.Limits
}

// Manager coordinates the engine, suppliers, store, and audit trail.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Events on the same session are
// serialized by a per-session lock; the store's version check backstops
// that lock against writers outside this process.
type Manager struct {
	store     store.SessionStore
	engine    *engine.Engine
	questions suppliers.QuestionSupplier
	reviews   suppliers.ReviewSupplier
	contexts  contexts.Provider
	catalog   catalog.Catalog
	audit     audit.Sink
	locks     *sessionLocks
	timeout   time.Duration
}

// NewManager wires a session manager from its collaborators.
func NewManager(
	sessions store.SessionStore,
	questions suppliers.QuestionSupplier,
	reviews suppliers.ReviewSupplier,
	ctxProvider contexts.Provider,
	cat catalog.Catalog,
	sink audit.Sink,
	cfg Config,
) *Manager {
	if cfg.SupplierTimeout <= 0 {
		cfg.SupplierTimeout = defaultSupplierTimeout
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if cat == nil {
		cat = catalog.Unavailable{}
	}
	return &Manager{
		store:     sessions,
		engine:    engine.New(cfg.Limits),
		questions: questions,
		reviews:   reviews,
		contexts:  ctxProvider,
		catalog:   cat,
		audit:     sink,
		locks:     newSessionLocks(),
		timeout:   cfg.SupplierTimeout,
	}
}

// supplierCtx bounds one generation call.
func (m *Manager) supplierCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// =============================================================================
// Start
// =============================================================================

// Start creates a session: builds the two context halves, generates the
// opening question batch, persists the snapshot, and returns the first
// question.
func (m *Manager) Start(ctx context.Context, userID, itemID string, form contexts.FormData) (*StartResult, error) {
	ctx, span := tracer.Start(ctx, "Manager.Start")
	defer span.End()

	sessionID := uuid.NewString()
	span.SetAttributes(attribute.String("survey.session_id", sessionID))

	// A failed context fetch aborts session creation; nothing has been
	// persisted yet, so the client just starts again.
	built, err := m.contexts.Build(ctx, userID, itemID, form)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &suppliers.UpstreamError{Op: "context build", Err: err}
	}

	snap := datatypes.NewSnapshot(sessionID, userID, itemID, built.Product, built.Customer)

	sctx, cancel := m.supplierCtx(ctx)
	defer cancel()
	batch, err := m.questions.InitialQuestions(sctx, suppliers.QuestionRequest{
		ProductTitle: built.ProductTitle,
		Product:      built.Product,
		Customer:     built.Customer,
		Count:        m.engine.Limits().InitialQuestions,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	next, accepted, _, err := m.engine.AcceptFollowups(snap, batch, m.engine.Limits().InitialQuestions)
	if err != nil {
		return nil, err
	}
	if accepted == 0 {
		// A session with no opening question is useless; unlike a
		// mid-survey stall there is nothing to degrade to.
		return nil, &suppliers.UpstreamError{Op: "initial questions", Err: errors.New("no usable questions generated")}
	}

	if err := m.store.Create(ctx, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.record(ctx, audit.Entry{SessionID: sessionID, Kind: audit.KindSessionStarted, Detail: itemID})
	m.record(ctx, audit.Entry{
		SessionID:      sessionID,
		Kind:           audit.KindQuestionAsked,
		QuestionNumber: 1,
		Question:       next.Questions[0].Text,
	})

	slog.Info("Survey session started",
		"session_id", sessionID,
		"item_id", itemID,
		"initial_questions", accepted,
		"product_context", contextType(built.Product),
		"customer_context", customerContextType(built.Customer))

	return &StartResult{
		SessionID:      sessionID,
		ProductTitle:   built.ProductTitle,
		Question:       next.Questions[0],
		QuestionNumber: 1,
		TotalQuestions: len(next.Questions),
	}, nil
}

// =============================================================================
// Events
// =============================================================================

// Answer records an answer to the pending question and returns the next
// step.
func (m *Manager) Answer(ctx context.Context, sessionID string, value datatypes.AnswerValue) (*TurnResult, error) {
	return m.applyEvent(ctx, sessionID, engine.AnswerEvent{Value: value})
}

// Skip skips the pending question, subject to the skip policy.
func (m *Manager) Skip(ctx context.Context, sessionID string) (*TurnResult, error) {
	return m.applyEvent(ctx, sessionID, engine.SkipEvent{})
}

// Edit replaces a previous answer and discards everything downstream of
// it.
func (m *Manager) Edit(ctx context.Context, sessionID string, questionNumber int, value datatypes.AnswerValue) (*TurnResult, error) {
	return m.applyEvent(ctx, sessionID, engine.EditEvent{QuestionNumber: questionNumber, Value: value})
}

func (m *Manager) applyEvent(ctx context.Context, sessionID string, ev engine.Event) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "Manager.applyEvent")
	defer span.End()
	span.SetAttributes(attribute.String("survey.session_id", sessionID))

	release := m.locks.acquire(sessionID)
	defer release()

	snap, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next, effect, err := m.engine.Apply(snap, ev)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Follow-up batches are fetched before anything is persisted: if the
	// supplier fails here the stored session is untouched and the client
	// simply retries the event.
	next, effect, err = m.resolveFollowups(ctx, next, effect)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := m.store.Replace(ctx, next); err != nil {
		span.RecordError(err)
		return nil, err
	}
	m.recordEvent(ctx, ev, snap, next)

	switch effect.Kind {
	case engine.EffectAskQuestion:
		q := next.Questions[effect.QuestionIndex]
		m.record(ctx, audit.Entry{
			SessionID:      sessionID,
			Kind:           audit.KindQuestionAsked,
			QuestionNumber: effect.QuestionIndex + 1,
			Question:       q.Text,
		})
		return &TurnResult{
			Kind:             TurnQuestion,
			Question:         &q,
			QuestionNumber:   effect.QuestionIndex + 1,
			Phase:            next.Phase,
			TotalTurns:       next.TotalTurns,
			TotalQuestions:   len(next.Questions),
			SkippedCount:     len(next.SkippedIndices),
			ConsecutiveSkips: next.ConsecutiveSkips,
		}, nil

	case engine.EffectGenerateReviews:
		// The transition is already durable: a generation failure
		// leaves the session in generating_reviews and the client
		// retries through the reviews endpoint.
		final, err := m.generateAndAttach(ctx, next)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if err := m.store.Replace(ctx, final); err != nil {
			return nil, err
		}
		return &TurnResult{
			Kind:             TurnReviewsReady,
			Reviews:          final.Reviews,
			SentimentBand:    final.SentimentBand,
			Phase:            final.Phase,
			TotalTurns:       final.TotalTurns,
			TotalQuestions:   len(final.Questions),
			SkippedCount:     len(final.SkippedIndices),
			ConsecutiveSkips: final.ConsecutiveSkips,
		}, nil

	default:
		return nil, &engine.InvariantError{SessionID: sessionID, Reason: "unexpected effect"}
	}
}

// resolveFollowups satisfies EffectRequestFollowups by calling the
// question supplier and feeding the batch back to the engine. The engine
// never asks twice in a row, so this runs at most one supplier call.
func (m *Manager) resolveFollowups(ctx context.Context, next *datatypes.Snapshot, effect engine.Effect) (*datatypes.Snapshot, engine.Effect, error) {
	for effect.Kind == engine.EffectRequestFollowups {
		sctx, cancel := m.supplierCtx(ctx)
		batch, err := m.questions.FollowupQuestions(sctx, suppliers.QuestionRequest{
			ProductTitle: m.productTitle(sctx, next.ItemID),
			Product:      next.Product,
			Customer:     next.Customer,
			PreviousQA:   answeredQA(next),
			AskedTexts:   next.AskedTexts,
			SkippedTexts: next.SkippedTexts(),
			Count:        effect.Count,
		})
		cancel()
		if err != nil {
			return nil, engine.Effect{}, err
		}

		var accepted int
		next, accepted, effect, err = m.engine.AcceptFollowups(next, batch, effect.Count)
		if err != nil {
			return nil, engine.Effect{}, err
		}
		if accepted == 0 {
			slog.Info("Follow-up batch fully rejected, moving to review generation",
				"session_id", next.SessionID, "total_turns", next.TotalTurns)
		}
	}
	return next, effect, nil
}

// =============================================================================
// Reviews
// =============================================================================

// GenerateReviews produces (or regenerates) the review options for a
// session that has finished collecting.
func (m *Manager) GenerateReviews(ctx context.Context, sessionID string) (*ReviewsResult, error) {
	ctx, span := tracer.Start(ctx, "Manager.GenerateReviews")
	defer span.End()
	span.SetAttributes(attribute.String("survey.session_id", sessionID))

	release := m.locks.acquire(sessionID)
	defer release()

	snap, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snap.Phase == datatypes.PhaseCollecting {
		return nil, engine.ErrSurveyNotComplete
	}

	final, err := m.generateAndAttach(ctx, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := m.store.Replace(ctx, final); err != nil {
		return nil, err
	}

	return &ReviewsResult{
		Reviews:       final.Reviews,
		SentimentBand: final.SentimentBand,
		Phase:         final.Phase,
	}, nil
}

// generateAndAttach runs the review supplier and attaches its output. The
// caller persists the returned snapshot.
func (m *Manager) generateAndAttach(ctx context.Context, snap *datatypes.Snapshot) (*datatypes.Snapshot, error) {
	title := m.productTitle(ctx, snap.ItemID)

	var priorTexts []string
	if snap.Customer != nil {
		priorTexts = snap.Customer.PriorReviewTexts
	}

	sctx, cancel := m.supplierCtx(ctx)
	defer cancel()
	set, err := m.reviews.GenerateReviews(sctx, suppliers.ReviewRequest{
		ProductTitle:     title,
		Product:          snap.Product,
		Customer:         snap.Customer,
		QA:               answeredQA(snap),
		PriorReviewTexts: priorTexts,
	})
	if err != nil {
		return nil, err
	}

	next, err := m.engine.AttachReviews(snap, set.Options, set.SentimentBand)
	if errors.Is(err, engine.ErrNoUsableReviews) {
		return nil, &suppliers.UpstreamError{Op: "review generation", Err: err}
	}
	if err != nil {
		return nil, err
	}

	m.record(ctx, audit.Entry{
		SessionID: snap.SessionID,
		Kind:      audit.KindReviewsCreated,
		Detail:    fmt.Sprintf("%d options, band %s", len(next.Reviews), next.SentimentBand),
	})
	slog.Info("Generated review options",
		"session_id", snap.SessionID,
		"band", next.SentimentBand,
		"options", len(next.Reviews))
	return next, nil
}

// SelectReview marks one generated option as the user's review and writes
// it to the catalog.
func (m *Manager) SelectReview(ctx context.Context, sessionID string, index int) (*SelectionResult, error) {
	ctx, span := tracer.Start(ctx, "Manager.SelectReview")
	defer span.End()
	span.SetAttributes(
		attribute.String("survey.session_id", sessionID),
		attribute.Int("survey.review_index", index),
	)

	release := m.locks.acquire(sessionID)
	defer release()

	snap, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	reviewID := uuid.NewString()
	next, chosen, err := m.engine.SelectReview(snap, index, reviewID)
	if err != nil {
		return nil, err
	}

	saved := true
	err = m.catalog.SaveReview(ctx, catalog.Review{
		ReviewID:       reviewID,
		ItemID:         snap.ItemID,
		UserID:         snap.UserID,
		Title:          reviewTitle(chosen),
		Text:           chosen.Text,
		Stars:          chosen.Stars,
		AgentGenerated: true,
	})
	if errors.Is(err, catalog.ErrUnavailable) {
		slog.Warn("No catalog configured, keeping selection local", "session_id", sessionID)
		saved = false
	} else if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &suppliers.UpstreamError{Op: "review save", Err: err}
	}

	if err := m.store.Replace(ctx, next); err != nil {
		return nil, err
	}

	m.record(ctx, audit.Entry{
		SessionID: sessionID,
		Kind:      audit.KindReviewSelected,
		Detail:    fmt.Sprintf("review %s, %d stars", reviewID, chosen.Stars),
	})
	return &SelectionResult{ReviewID: reviewID, Review: chosen, Saved: saved}, nil
}

// =============================================================================
// Reads
// =============================================================================

// GetSession returns the current snapshot.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*datatypes.Snapshot, error) {
	return m.store.Load(ctx, sessionID)
}

// GetQuestions returns all generated questions with the pending cursor.
func (m *Manager) GetQuestions(ctx context.Context, sessionID string) ([]datatypes.Question, int, error) {
	snap, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	return snap.Questions, snap.Cursor, nil
}

// =============================================================================
// Helpers
// =============================================================================

// productTitle resolves the catalog display title, falling back to the
// raw item id when the catalog cannot serve it.
func (m *Manager) productTitle(ctx context.Context, itemID string) string {
	if p, err := m.catalog.ProductByID(ctx, itemID); err == nil {
		return p.Title
	}
	return itemID
}

func answeredQA(snap *datatypes.Snapshot) []suppliers.QA {
	out := make([]suppliers.QA, 0, len(snap.Answers))
	for _, a := range snap.Answers {
		out = append(out, suppliers.QA{Question: a.QuestionText, Answer: a.Value.Text()})
	}
	return out
}

// reviewTitle derives a short title from the review body.
func reviewTitle(opt datatypes.ReviewOption) string {
	if len(opt.Highlights) > 0 {
		return opt.Highlights[0]
	}
	words := strings.Fields(opt.Text)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

// record writes an audit entry; failures are logged, never surfaced.
func (m *Manager) record(ctx context.Context, entry audit.Entry) {
	if err := m.audit.Record(ctx, entry); err != nil {
		slog.Warn("Audit record failed", "session_id", entry.SessionID, "kind", entry.Kind, "error", err)
	}
}

func contextType(pc *datatypes.ProductContext) string {
	if pc == nil {
		return ""
	}
	return pc.ContextType
}

func customerContextType(cc *datatypes.CustomerContext) string {
	if cc == nil {
		return ""
	}
	return cc.ContextType
}

// recordEvent audits the applied event itself.
func (m *Manager) recordEvent(ctx context.Context, ev engine.Event, before, after *datatypes.Snapshot) {
	switch ev := ev.(type) {
	case engine.AnswerEvent:
		m.record(ctx, audit.Entry{
			SessionID:      after.SessionID,
			Kind:           audit.KindAnswerRecorded,
			QuestionNumber: before.Cursor + 1,
			Question:       before.Questions[before.Cursor].Text,
			Detail:         ev.Value.Text(),
		})
	case engine.SkipEvent:
		m.record(ctx, audit.Entry{
			SessionID:      after.SessionID,
			Kind:           audit.KindQuestionSkipped,
			QuestionNumber: before.Cursor + 1,
			Question:       before.Questions[before.Cursor].Text,
		})
	case engine.EditEvent:
		m.record(ctx, audit.Entry{
			SessionID:      after.SessionID,
			Kind:           audit.KindAnswerEdited,
			QuestionNumber: ev.QuestionNumber,
			Question:       after.Questions[ev.QuestionNumber-1].Text,
			Detail:         ev.Value.Text(),
		})
	}
}
