// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerValue_UnmarshalJSON(t *testing.T) {
	t.Run("single string", func(t *testing.T) {
		var v AnswerValue
		require.NoError(t, json.Unmarshal([]byte(`"Battery life"`), &v))
		assert.Equal(t, AnswerValue{"Battery life"}, v)
		assert.Equal(t, "Battery life", v.Text())
	})

	t.Run("string array", func(t *testing.T) {
		var v AnswerValue
		require.NoError(t, json.Unmarshal([]byte(`["Price","Design"]`), &v))
		assert.Equal(t, AnswerValue{"Price", "Design"}, v)
		assert.Equal(t, "Price, Design", v.Text())
	})

	t.Run("rejects objects", func(t *testing.T) {
		var v AnswerValue
		assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &v))
	})

	t.Run("empty detection", func(t *testing.T) {
		assert.True(t, AnswerValue{}.Empty())
		assert.True(t, AnswerValue{"  "}.Empty())
		assert.False(t, AnswerValue{"x"}.Empty())
	})
}

func TestQuestion_Validate(t *testing.T) {
	valid := Question{Text: "How is it?", Options: []string{"Good", "Bad"}}
	assert.NoError(t, valid.Validate())

	assert.Error(t, Question{Text: "", Options: []string{"a", "b"}}.Validate())
	assert.Error(t, Question{Text: "One option only?", Options: []string{"yes"}}.Validate())
	assert.Error(t, Question{Text: "No options?"}.Validate())
}

func TestReviewOption_Validate(t *testing.T) {
	assert.NoError(t, ReviewOption{Text: "Great product", Stars: 5}.Validate())
	assert.Error(t, ReviewOption{Text: "", Stars: 3}.Validate())
	assert.Error(t, ReviewOption{Text: "x", Stars: 0}.Validate())
	assert.Error(t, ReviewOption{Text: "x", Stars: 6}.Validate())
}

func TestSnapshot_Clone_IsIndependent(t *testing.T) {
	s := NewSnapshot("sess-1", "user-1", "item-1", nil, nil)
	s.Questions = []Question{{Text: "Q1", Options: []string{"a", "b"}}}
	s.Answers = []AnswerRecord{{QuestionIndex: 0, QuestionText: "Q1", Value: AnswerValue{"a"}, AnsweredAt: time.Now()}}
	s.AskedTexts = []string{"Q1"}
	s.SkippedIndices = []int{}
	s.Cursor = 1
	s.TotalTurns = 1

	c := s.Clone()
	c.Questions = append(c.Questions, Question{Text: "Q2", Options: []string{"a", "b"}})
	c.Answers[0].Value[0] = "mutated"
	c.AskedTexts = append(c.AskedTexts, "Q2")

	assert.Len(t, s.Questions, 1)
	assert.Equal(t, "a", s.Answers[0].Value[0])
	assert.Len(t, s.AskedTexts, 1)
}

func TestSnapshot_CheckInvariants(t *testing.T) {
	base := func() *Snapshot {
		s := NewSnapshot("sess-1", "user-1", "item-1", nil, nil)
		s.Questions = []Question{
			{Text: "Q1", Options: []string{"a", "b"}},
			{Text: "Q2", Options: []string{"a", "b"}},
			{Text: "Q3", Options: []string{"a", "b"}},
		}
		s.AskedTexts = []string{"Q1", "Q2", "Q3"}
		s.Answers = []AnswerRecord{
			{QuestionIndex: 0, QuestionText: "Q1", Value: AnswerValue{"a"}},
		}
		s.SkippedIndices = []int{1}
		s.Cursor = 2
		s.TotalTurns = 2
		return s
	}

	t.Run("consistent snapshot passes", func(t *testing.T) {
		assert.NoError(t, base().CheckInvariants())
	})

	t.Run("cursor past question list fails", func(t *testing.T) {
		s := base()
		s.Cursor = 4
		s.TotalTurns = 4
		assert.Error(t, s.CheckInvariants())
	})

	t.Run("turns diverging from cursor fails", func(t *testing.T) {
		s := base()
		s.TotalTurns = 3
		assert.Error(t, s.CheckInvariants())
	})

	t.Run("index both answered and skipped fails", func(t *testing.T) {
		s := base()
		s.SkippedIndices = []int{0, 1}
		assert.Error(t, s.CheckInvariants())
	})

	t.Run("unresolved index below cursor fails", func(t *testing.T) {
		s := base()
		s.SkippedIndices = nil
		assert.Error(t, s.CheckInvariants())
	})

	t.Run("duplicate asked texts fail", func(t *testing.T) {
		s := base()
		s.AskedTexts = append(s.AskedTexts, "Q1")
		assert.Error(t, s.CheckInvariants())
	})

	t.Run("selected review outside completed fails", func(t *testing.T) {
		s := base()
		s.SelectedReviewID = "rev-1"
		assert.Error(t, s.CheckInvariants())
	})
}

func TestSnapshot_SkippedTexts(t *testing.T) {
	s := NewSnapshot("sess-1", "user-1", "item-1", nil, nil)
	s.Questions = []Question{
		{Text: "Q1", Options: []string{"a", "b"}},
		{Text: "Q2", Options: []string{"a", "b"}},
	}
	s.SkippedIndices = []int{1, 99}
	assert.Equal(t, []string{"Q2"}, s.SkippedTexts())
}
