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
)

// Policy errors are user-correctable: the request was well-formed but the
// session's rules reject it. The boundary surfaces them as 4xx responses
// with the triggering reason, and the persisted snapshot is left unchanged.
var (
	// ErrSkipLimitExceeded rejects a skip after the consecutive-skip cap.
	ErrSkipLimitExceeded = errors.New("consecutive skip limit exceeded")

	// ErrMinimumNotMet rejects skipping the last remaining question while
	// the minimum answered-question count is unmet.
	ErrMinimumNotMet = errors.New("minimum answered questions not met")

	// ErrInvalidQuestionNumber rejects an edit that targets a question
	// that was never answered (out of range, or skipped).
	ErrInvalidQuestionNumber = errors.New("invalid question number")

	// ErrSurveyComplete rejects answer/skip events once the session has
	// left the collecting phase. Only an edit reopens it.
	ErrSurveyComplete = errors.New("survey is no longer collecting answers")

	// ErrSurveyNotComplete rejects review generation while the session is
	// still collecting answers.
	ErrSurveyNotComplete = errors.New("survey is still collecting answers")

	// ErrReviewIndexOutOfRange rejects selecting a review option that does
	// not exist.
	ErrReviewIndexOutOfRange = errors.New("review option index out of range")

	// ErrEmptyAnswer rejects an answer with no selected option.
	ErrEmptyAnswer = errors.New("answer has no selected option")

	// ErrNoUsableReviews means the review supplier returned zero valid
	// options; the caller treats it as a retryable upstream failure.
	ErrNoUsableReviews = errors.New("review supplier returned no usable options")
)

// InvariantError reports a snapshot that violates the structural
// invariants. It indicates a concurrency bug or a corrupted store - it is
// never patched over, always surfaced as an internal error.
type InvariantError struct {
	SessionID string
	Reason    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("snapshot invariant violated for session %s: %s", e.SessionID, e.Reason)
}

// IsPolicyError reports whether err is one of the user-correctable policy
// rejections.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrSkipLimitExceeded) ||
		errors.Is(err, ErrMinimumNotMet) ||
		errors.Is(err, ErrInvalidQuestionNumber) ||
		errors.Is(err, ErrSurveyComplete) ||
		errors.Is(err, ErrSurveyNotComplete) ||
		errors.Is(err, ErrReviewIndexOutOfRange) ||
		errors.Is(err, ErrEmptyAnswer)
}
