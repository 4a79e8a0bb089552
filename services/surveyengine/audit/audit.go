// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package audit records the survey interaction trail: every question
// asked, every answer, skip, and edit, and every generated or selected
// review. The trail is append-only and best-effort; audit failures are
// logged but never fail the user-facing operation.
package audit

import (
	"context"
	"time"
)

// Entry kinds.
const (
	KindSessionStarted  = "session_started"
	KindQuestionAsked   = "question_asked"
	KindAnswerRecorded  = "answer_recorded"
	KindQuestionSkipped = "question_skipped"
	KindAnswerEdited    = "answer_edited"
	KindReviewsCreated  = "reviews_generated"
	KindReviewSelected  = "review_selected"
)

// Entry is one audit record.
type Entry struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`

	// QuestionNumber is 1-based where a question is involved, 0
	// otherwise.
	QuestionNumber int `json:"question_number,omitempty"`

	Question  string    `json:"question,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Sequence is assigned by the file sink; other sinks leave it zero.
	Sequence int64 `json:"sequence,omitempty"`
}

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
	Close() error
}

// =============================================================================
// Nop / Multi
// =============================================================================

// NopSink discards all entries.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) Record(context.Context, Entry) error { return nil }
func (NopSink) Close() error                        { return nil }

// MultiSink fans entries out to several sinks. Record returns the first
// error but still attempts every sink.
type MultiSink struct {
	sinks []Sink
}

var _ Sink = (*MultiSink)(nil)

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Record(ctx context.Context, entry Entry) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
