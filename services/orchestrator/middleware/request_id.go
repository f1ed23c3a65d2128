// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// Every request is stamped with a request id so that log lines, trace spans,
// and SSE streams belonging to one turn can be correlated after the fact.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// Context Keys
// =============================================================================

// RequestIDHeader is the header carrying the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// requestIDKey is the context key for storing the request id.
// Using a typed key prevents collisions with other context values.
const requestIDKey = "tracedeck_request_id"

// =============================================================================
// Middleware
// =============================================================================

// RequestID stamps each request with a UUID v4 request id.
//
// # Description
//
// Honors a client-supplied X-Request-Id header when present (so callers can
// correlate retries), otherwise generates one. The id is stored in the Gin
// context and echoed back on the response.
//
// # Examples
//
//	router := gin.New()
//	router.Use(middleware.RequestID())
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID retrieves the request id from the Gin context.
// Returns an empty string if the middleware did not run.
func GetRequestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
