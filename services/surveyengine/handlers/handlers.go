// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the gin HTTP handlers for the survey engine.
//
// # Description
//
// Each handler is a closure over its collaborators, following a
// constructor-injection pattern. Handlers translate HTTP requests into
// conductor calls and map the error taxonomy onto status codes:
//
//   - policy rejections (skip limit, edit of a skipped question, ...) -> 400
//   - unknown session -> 404
//   - concurrent modification -> 409
//   - invariant violations -> 500
//   - upstream generation failures -> 502 (retryable)
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/surveysensei/sensei/services/surveyengine/contexts"
	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
	"github.com/surveysensei/sensei/services/surveyengine/engine"
	"github.com/surveysensei/sensei/services/surveyengine/session"
	"github.com/surveysensei/sensei/services/surveyengine/store"
	"github.com/surveysensei/sensei/services/surveyengine/suppliers"
)

// Conductor is the surface the HTTP layer needs from the session manager.
// *session.Manager satisfies it; tests substitute a mock.
type Conductor interface {
	Start(ctx context.Context, userID, itemID string, form contexts.FormData) (*session.StartResult, error)
	Answer(ctx context.Context, sessionID string, value datatypes.AnswerValue) (*session.TurnResult, error)
	Skip(ctx context.Context, sessionID string) (*session.TurnResult, error)
	Edit(ctx context.Context, sessionID string, questionNumber int, value datatypes.AnswerValue) (*session.TurnResult, error)
	GenerateReviews(ctx context.Context, sessionID string) (*session.ReviewsResult, error)
	SelectReview(ctx context.Context, sessionID string, index int) (*session.SelectionResult, error)
	GetSession(ctx context.Context, sessionID string) (*datatypes.Snapshot, error)
	GetQuestions(ctx context.Context, sessionID string) ([]datatypes.Question, int, error)
}

var _ Conductor = (*session.Manager)(nil)

// respondError maps a conductor error onto an HTTP status and JSON body.
// Policy rejections carry the sentinel message verbatim so clients can
// show it to the user; internal failures get a generic message.
func respondError(c *gin.Context, err error) {
	var invErr *engine.InvariantError
	var upErr *suppliers.UpstreamError

	switch {
	case engine.IsPolicyError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, store.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "session was modified concurrently, retry the request"})
	case errors.As(err, &invErr):
		slog.Error("session state invariant violated", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal session state error"})
	case errors.As(err, &upErr):
		slog.Error("upstream generation failure", "operation", upErr.Op, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "generation backend is unavailable",
			"retryable": true,
		})
	default:
		slog.Error("unhandled handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// serviceVersion is the reported build version. Overridden at build time:
//
//	go build -ldflags "-X .../handlers.serviceVersion=v1.2.3"
var serviceVersion = "dev"

// HealthCheck reports liveness for load balancers and compose healthchecks.
func HealthCheck() gin.HandlerFunc {
	environment := os.Getenv("SENSEI_ENV")
	if environment == "" {
		environment = "development"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "surveyengine",
			"version":     serviceVersion,
			"environment": environment,
		})
	}
}
