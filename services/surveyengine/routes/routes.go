// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surveysensei/sensei/services/surveyengine/handlers"
	"github.com/surveysensei/sensei/services/surveyengine/observability"
)

func SetupRoutes(router *gin.Engine, conductor handlers.Conductor, metrics *observability.SurveyMetrics) {

	router.GET("/health", handlers.HealthCheck())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		survey := api.Group("/survey")
		{
			survey.POST("/start", handlers.StartSurvey(conductor, metrics))
			survey.POST("/answer", handlers.AnswerQuestion(conductor, metrics))
			survey.POST("/skip", handlers.SkipQuestion(conductor, metrics))
			survey.POST("/edit", handlers.EditAnswer(conductor, metrics))
			survey.POST("/review", handlers.SelectReview(conductor, metrics))
			survey.GET("/session/:sessionId", handlers.GetSession(conductor))
			survey.GET("/questions/:sessionId", handlers.GetQuestions(conductor))
		}
		reviews := api.Group("/reviews")
		{
			reviews.POST("/generate", handlers.GenerateReviews(conductor, metrics))
			// Regenerate shares semantics with generate: a fresh batch
			// replaces the stored options.
			reviews.POST("/regenerate", handlers.GenerateReviews(conductor, metrics))
		}
	}
}
