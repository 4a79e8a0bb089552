// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the persisted data model for the survey engine.
//
// The central type is Snapshot: the complete state of one survey session at
// a point in time. A Snapshot is the unit of persistence - the store reads
// and replaces whole snapshots, never individual fields. Transition logic
// lives in the engine package; this package holds the data plus validation
// helpers that have no policy in them.
package datatypes

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// =============================================================================
// Phase
// =============================================================================

// Phase is the lifecycle state of a survey session.
type Phase string

const (
	// PhaseCollecting means the session is presenting questions and
	// recording answers or skips.
	PhaseCollecting Phase = "collecting"

	// PhaseGeneratingReviews means the question budget is exhausted and the
	// session is waiting for review options to be generated.
	PhaseGeneratingReviews Phase = "generating_reviews"

	// PhaseCompleted means review options are attached. Only an edit can
	// move the session out of this phase.
	PhaseCompleted Phase = "completed"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseCollecting, PhaseGeneratingReviews, PhaseCompleted:
		return true
	}
	return false
}

// =============================================================================
// Question / Answer
// =============================================================================

// Question is one multiple-choice survey question.
type Question struct {
	Text          string   `json:"question_text"`
	Options       []string `json:"options"`
	AllowMultiple bool     `json:"allow_multiple"`
	Rationale     string   `json:"reasoning,omitempty"`
}

// Validate checks that the question is presentable: non-empty text and at
// least two options. Generated questions failing this are rejected before
// they are ever appended to a snapshot.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("question has empty text")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %q has %d options, need at least 2", q.Text, len(q.Options))
	}
	return nil
}

// AnswerValue holds a submitted answer. Single-choice answers arrive as a
// JSON string, multi-select answers as a JSON array; both normalize to a
// slice of selected options.
type AnswerValue []string

// UnmarshalJSON accepts either "option" or ["opt a", "opt b"].
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = AnswerValue{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("answer must be a string or an array of strings")
	}
	*v = AnswerValue(multi)
	return nil
}

// Text renders the value the way it is shown to the generation prompts and
// stored in audit rows.
func (v AnswerValue) Text() string {
	return strings.Join(v, ", ")
}

// Empty reports whether no option was selected.
func (v AnswerValue) Empty() bool {
	for _, s := range v {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

// AnswerRecord is one resolved answer. QuestionText is a denormalized copy
// frozen at answer time, so the record stays meaningful even if the question
// list is later truncated past it by an edit.
type AnswerRecord struct {
	QuestionIndex int         `json:"question_index"`
	QuestionText  string      `json:"question"`
	Value         AnswerValue `json:"answer"`
	AnsweredAt    time.Time   `json:"timestamp"`
}

// =============================================================================
// Review options
// =============================================================================

// ReviewOption is one generated candidate review.
type ReviewOption struct {
	Text       string   `json:"review_text"`
	Stars      int      `json:"review_stars"`
	Tone       string   `json:"tone,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}

// Validate checks the option is usable: non-empty text and a star rating
// inside 1..5.
func (r ReviewOption) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("review option has empty text")
	}
	if r.Stars < 1 || r.Stars > 5 {
		return fmt.Errorf("review option has star rating %d, must be 1-5", r.Stars)
	}
	return nil
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is the complete persisted state of one survey session.
//
// # Ownership
//
// The session manager owns the read-modify-write cycle; the store owns
// durability and the Version field. Transitions never mutate a loaded
// Snapshot in place - they Clone it, change the copy, and replace the
// stored one atomically.
type Snapshot struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`

	// Version is the optimistic concurrency token. It is set by the store
	// on every successful replace; a replace carrying a stale version is
	// rejected instead of silently overwriting.
	Version uint64 `json:"version"`

	Phase Phase `json:"phase"`

	// Questions is append-only except for branch truncation on edit.
	Questions []Question     `json:"all_questions"`
	Answers   []AnswerRecord `json:"answers"`

	// SkippedIndices records which question indices were skipped. Every
	// resolved index below Cursor is either answered or skipped, never both.
	SkippedIndices   []int `json:"skipped_indices,omitempty"`
	ConsecutiveSkips int   `json:"consecutive_skips"`

	// AskedTexts is the dedup guard: every question text ever appended to
	// this session. Grows monotonically, survives edits.
	AskedTexts []string `json:"asked_question_texts"`

	// Cursor is the index of the next question to present.
	Cursor int `json:"current_question_index"`

	// TotalTurns counts presented questions (answered or skipped).
	TotalTurns int `json:"total_turns"`

	Reviews          []ReviewOption `json:"generated_reviews,omitempty"`
	SentimentBand    string         `json:"sentiment_band,omitempty"`
	SelectedReviewID string         `json:"selected_review_id,omitempty"`

	// Upstream profiling output, fetched once at session start and treated
	// as immutable input afterwards.
	Product  *ProductContext  `json:"product_context,omitempty"`
	Customer *CustomerContext `json:"customer_context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSnapshot creates the initial snapshot for a fresh session: collecting
// phase, empty ledger.
func NewSnapshot(sessionID, userID, itemID string, product *ProductContext, customer *CustomerContext) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		SessionID: sessionID,
		UserID:    userID,
		ItemID:    itemID,
		Phase:     PhaseCollecting,
		Product:   product,
		Customer:  customer,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy. Slices are copied; the context blobs are shared
// because they are immutable after session start.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Questions = slices.Clone(s.Questions)
	out.Answers = make([]AnswerRecord, len(s.Answers))
	for i, a := range s.Answers {
		a.Value = slices.Clone(a.Value)
		out.Answers[i] = a
	}
	out.SkippedIndices = slices.Clone(s.SkippedIndices)
	out.AskedTexts = slices.Clone(s.AskedTexts)
	out.Reviews = make([]ReviewOption, len(s.Reviews))
	for i, r := range s.Reviews {
		r.Highlights = slices.Clone(r.Highlights)
		out.Reviews[i] = r
	}
	if len(s.Reviews) == 0 {
		out.Reviews = nil
	}
	return &out
}

// IsSkipped reports whether question index i was skipped.
func (s *Snapshot) IsSkipped(i int) bool {
	return slices.Contains(s.SkippedIndices, i)
}

// HasAsked reports whether a question with exactly this text was already
// appended to the session. Matching is exact string match; there is no
// fuzzy or semantic dedup.
func (s *Snapshot) HasAsked(text string) bool {
	return slices.Contains(s.AskedTexts, text)
}

// AnswerAt returns the answer record for question index i, if one exists.
func (s *Snapshot) AnswerAt(i int) (AnswerRecord, bool) {
	for _, a := range s.Answers {
		if a.QuestionIndex == i {
			return a, true
		}
	}
	return AnswerRecord{}, false
}

// SkippedTexts returns the texts of skipped questions, for supplier
// telemetry.
func (s *Snapshot) SkippedTexts() []string {
	var out []string
	for _, i := range s.SkippedIndices {
		if i >= 0 && i < len(s.Questions) {
			out = append(out, s.Questions[i].Text)
		}
	}
	return out
}

// CheckInvariants verifies the structural invariants that must hold after
// every transition. A violation indicates a concurrency bug or a corrupted
// store, never a user error; callers treat it as fatal to the request.
func (s *Snapshot) CheckInvariants() error {
	if !s.Phase.Valid() {
		return fmt.Errorf("invalid phase %q", s.Phase)
	}
	if s.Cursor < 0 || s.Cursor > len(s.Questions) {
		return fmt.Errorf("cursor %d out of bounds for %d questions", s.Cursor, len(s.Questions))
	}
	if s.TotalTurns != s.Cursor {
		return fmt.Errorf("total turns %d does not match cursor %d", s.TotalTurns, s.Cursor)
	}
	// Every resolved index below the cursor is answered or skipped, exactly
	// one of the two.
	for i := 0; i < s.Cursor; i++ {
		_, answered := s.AnswerAt(i)
		skipped := s.IsSkipped(i)
		if answered == skipped {
			return fmt.Errorf("question index %d: answered=%v skipped=%v, want exactly one", i, answered, skipped)
		}
	}
	if len(s.Answers)+len(s.SkippedIndices) != s.Cursor {
		return fmt.Errorf("resolved count %d+%d does not match cursor %d",
			len(s.Answers), len(s.SkippedIndices), s.Cursor)
	}
	seen := make(map[string]struct{}, len(s.AskedTexts))
	for _, t := range s.AskedTexts {
		if _, dup := seen[t]; dup {
			return fmt.Errorf("duplicate asked question text %q", t)
		}
		seen[t] = struct{}{}
	}
	if s.Phase != PhaseCompleted && s.SelectedReviewID != "" {
		return fmt.Errorf("selected review set in phase %q", s.Phase)
	}
	for _, r := range s.Reviews {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("stored review invalid: %w", err)
		}
	}
	return nil
}
