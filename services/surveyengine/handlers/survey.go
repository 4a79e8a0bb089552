// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/surveysensei/sensei/services/surveyengine/contexts"
	"github.com/surveysensei/sensei/services/surveyengine/datatypes"
	"github.com/surveysensei/sensei/services/surveyengine/engine"
	"github.com/surveysensei/sensei/services/surveyengine/observability"
	"github.com/surveysensei/sensei/services/surveyengine/session"
	"github.com/surveysensei/sensei/services/surveyengine/suppliers"
)

// StartSurveyRequest begins a survey for a customer/product pair. FormData
// carries the pre-survey questionnaire ("have you reviewed this before",
// etc.) used to pick context fallbacks.
type StartSurveyRequest struct {
	UserID   string            `json:"user_id" binding:"required"`
	ItemID   string            `json:"item_id" binding:"required"`
	FormData map[string]string `json:"form_data"`
}

// AnswerRequest answers the current question. Multi-select questions send
// one element per selected option.
type AnswerRequest struct {
	SessionID string   `json:"session_id" binding:"required"`
	Answer    []string `json:"answer" binding:"required,dive,maxbytes=4096"`
}

// SkipRequest skips the current question.
type SkipRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// EditRequest replaces the answer to an earlier question. QuestionNumber is
// 1-based. Everything after the edited question is discarded and the survey
// resumes from there.
type EditRequest struct {
	SessionID      string   `json:"session_id" binding:"required"`
	QuestionNumber int      `json:"question_number" binding:"required,min=1"`
	NewAnswer      []string `json:"new_answer" binding:"required,dive,maxbytes=4096"`
}

func StartSurvey(conductor Conductor, metrics *observability.SurveyMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartSurveyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		slog.Info("Received request to start survey", "userId", req.UserID, "itemId", req.ItemID)

		result, err := conductor.Start(c.Request.Context(), req.UserID, req.ItemID, contexts.FormData(req.FormData))
		if err != nil {
			metrics.SessionsStarted.WithLabelValues("error").Inc()
			var upErr *suppliers.UpstreamError
			if errors.As(err, &upErr) {
				metrics.SupplierErrors.WithLabelValues(supplierOpLabel(upErr)).Inc()
			}
			respondError(c, err)
			return
		}
		metrics.SessionsStarted.WithLabelValues("success").Inc()
		c.JSON(http.StatusOK, result)
	}
}

func AnswerQuestion(conductor Conductor, metrics *observability.SurveyMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AnswerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		start := time.Now()
		result, err := conductor.Answer(c.Request.Context(), req.SessionID, datatypes.AnswerValue(req.Answer))
		finishTurn(c, metrics, "answer", start, result, err)
	}
}

func SkipQuestion(conductor Conductor, metrics *observability.SurveyMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SkipRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		start := time.Now()
		result, err := conductor.Skip(c.Request.Context(), req.SessionID)
		finishTurn(c, metrics, "skip", start, result, err)
	}
}

func EditAnswer(conductor Conductor, metrics *observability.SurveyMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		start := time.Now()
		result, err := conductor.Edit(c.Request.Context(), req.SessionID, req.QuestionNumber, datatypes.AnswerValue(req.NewAnswer))
		finishTurn(c, metrics, "edit", start, result, err)
	}
}

// finishTurn records turn metrics and writes either the turn result or the
// mapped error.
func finishTurn(c *gin.Context, metrics *observability.SurveyMetrics, event string, start time.Time, result *session.TurnResult, err error) {
	metrics.TurnDurationSeconds.WithLabelValues(event).Observe(time.Since(start).Seconds())
	if err != nil {
		if engine.IsPolicyError(err) {
			metrics.TurnsTotal.WithLabelValues(event, "policy_rejected").Inc()
		} else {
			metrics.TurnsTotal.WithLabelValues(event, "error").Inc()
			var upErr *suppliers.UpstreamError
			if errors.As(err, &upErr) {
				metrics.SupplierErrors.WithLabelValues(supplierOpLabel(upErr)).Inc()
			}
		}
		respondError(c, err)
		return
	}
	metrics.TurnsTotal.WithLabelValues(event, "success").Inc()
	c.JSON(http.StatusOK, result)
}

// supplierOpLabel buckets an upstream failure into the operation label of
// the supplier-error counter. Review generation can fail mid-turn when the
// survey completes on an answer or skip, so the bucket follows the failed
// operation, not the endpoint.
func supplierOpLabel(err *suppliers.UpstreamError) string {
	if strings.Contains(err.Op, "review") {
		return "reviews"
	}
	return "questions"
}
