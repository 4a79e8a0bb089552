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

	"github.com/gin-gonic/gin"

	"github.com/surveysensei/sensei/services/surveyengine/observability"
	"github.com/surveysensei/sensei/services/surveyengine/suppliers"
)

// GenerateReviewsRequest triggers (or retries) review generation for a
// session whose question phase has ended. The same body serves regenerate:
// a fresh batch replaces the previous options.
type GenerateReviewsRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// SelectReviewRequest picks one of the generated options as the final
// review. ReviewIndex is 0-based into the reviews array of the last
// generation response.
type SelectReviewRequest struct {
	SessionID   string `json:"session_id" binding:"required"`
	ReviewIndex *int   `json:"review_index" binding:"required"`
}

func GenerateReviews(conductor Conductor, metrics *observability.SurveyMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GenerateReviewsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		slog.Info("Received request to generate reviews", "sessionId", req.SessionID)

		result, err := conductor.GenerateReviews(c.Request.Context(), req.SessionID)
		if err != nil {
			var upErr *suppliers.UpstreamError
			if errors.As(err, &upErr) {
				metrics.ReviewsGenerated.WithLabelValues("unknown", "error").Inc()
				metrics.SupplierErrors.WithLabelValues("reviews").Inc()
			}
			respondError(c, err)
			return
		}
		metrics.ReviewsGenerated.WithLabelValues(result.SentimentBand, "success").Inc()
		c.JSON(http.StatusOK, result)
	}
}

func SelectReview(conductor Conductor, metrics *observability.SurveyMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SelectReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		slog.Info("Received request to select review",
			"sessionId", req.SessionID, "reviewIndex", *req.ReviewIndex)

		result, err := conductor.SelectReview(c.Request.Context(), req.SessionID, *req.ReviewIndex)
		if err != nil {
			respondError(c, err)
			return
		}
		metrics.ReviewsSelected.Inc()
		c.JSON(http.StatusOK, result)
	}
}
