// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the survey engine service.
//
// # Request Correlation
//
// RequestID assigns each request an identifier, honoring one supplied by
// the caller in X-Request-ID. The identifier is stored in the Gin context,
// echoed back in the response header, and is the value to attach to log
// lines and audit entries when correlating a client report with server
// records.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDKey is the context key for the request identifier.
// Using a typed key prevents collisions with other context values.
const requestIDKey = "sensei_request_id"

// RequestIDHeader is the header carrying the request identifier in both
// directions.
const RequestIDHeader = "X-Request-ID"

// GetRequestID retrieves the request identifier set by RequestID.
// Returns "" if the middleware did not run.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// RequestID returns middleware that assigns a request identifier.
// Client-supplied identifiers are kept if they are well-formed UUIDs;
// anything else is replaced, so a hostile client cannot inject log noise.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}
