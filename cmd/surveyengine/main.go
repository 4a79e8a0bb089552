// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command surveyengine starts the survey engine HTTP server.
//
// This is the main entry point for the containerized service. It reads
// configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - SURVEYENGINE_PORT: HTTP server port (default: 12300)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: ollama)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: sensei-otel-collector:4317)
//   - SESSION_DATA_DIR: BadgerDB session store directory (default: ./data/sessions)
//   - AUDIT_LOG_PATH: JSONL audit trail file (default: ./logs/survey_audit.log)
//
// # Usage
//
//	# Build
//	go build -o surveyengine ./cmd/surveyengine
//
//	# Run
//	./surveyengine
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/surveysensei/sensei/services/surveyengine"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := surveyengine.Config{
		Port:         getEnvInt("SURVEYENGINE_PORT", 12300),
		LLMBackend:   getEnvString("LLM_BACKEND_TYPE", "ollama"),
		WeaviateURL:  os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "sensei-otel-collector:4317"),
		DataDir:      getEnvString("SESSION_DATA_DIR", "./data/sessions"),
		AuditLogPath: getEnvString("AUDIT_LOG_PATH", "./logs/survey_audit.log"),
	}

	slog.Info("Starting survey engine",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := surveyengine.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create survey engine: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Survey engine error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
