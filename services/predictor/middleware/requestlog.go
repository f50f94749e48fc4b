// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the predictor service.
//
// # Request Logging Flow
//
//	Request
//	   │
//	   ▼
//	RequestLogger
//	   │
//	   ├─► Assign transaction ID (uuid), expose as X-Transaction-ID
//	   │
//	   ├─► Capture request body (prediction POSTs only)
//	   │
//	   ├─► c.Next() to run the handler chain
//	   │
//	   └─► Append {method, path, status, duration, bodies} to the
//	       log store asynchronously; the request never waits on badger.
//
// Health, metrics, and the log endpoints themselves are excluded from
// capture so that reading logs doesn't generate more logs.
package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pulmolabs/pulmoserve/services/predictor/datatypes"
)

// TransactionIDKey is the gin context key for the request's transaction ID.
const TransactionIDKey = "pulmoserve_transaction_id"

// maxCapturedBody bounds how much of a request or response body is
// persisted per entry.
const maxCapturedBody = 4096

// LogSink is the subset of the log store the middleware needs.
type LogSink interface {
	Append(datatypes.LogEntry) error
}

// TransactionID returns the request's transaction ID, or "" when the
// middleware is not installed.
func TransactionID(c *gin.Context) string {
	if v, ok := c.Get(TransactionIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// responseRecorder tees the response body while it is written.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if w.body.Len() < maxCapturedBody {
		w.body.Write(b[:min(len(b), maxCapturedBody-w.body.Len())])
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger returns the capture middleware. sink may not be nil;
// logger is used only for sink failures.
func RequestLogger(sink LogSink, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		if skipCapture(c.Request.Method, c.Request.URL.Path) {
			c.Next()
			return
		}

		txID := uuid.NewString()
		c.Set(TransactionIDKey, txID)
		c.Header("X-Transaction-ID", txID)

		var requestBody string
		if isPredictionCall(c.Request.Method, c.Request.URL.Path) && c.Request.Body != nil {
			raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCapturedBody))
			if err == nil {
				requestBody = string(raw)
				// Restore the body: handlers still need to bind it. The
				// limit means oversized payloads are truncated in the
				// log, not in the request, so chain the remainder.
				c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), c.Request.Body))
			}
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		entry := datatypes.LogEntry{
			TransactionID: txID,
			Timestamp:     start.UTC().Format(time.RFC3339Nano),
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			Status:        c.Writer.Status(),
			DurationMS:    float64(elapsed.Microseconds()) / 1000.0,
		}
		if isPredictionCall(entry.Method, entry.Path) {
			entry.RequestBody = requestBody
			entry.ResponseBody = recorder.body.String()
		}

		// The handler already answered; persistence is off the hot path.
		go func() {
			if err := sink.Append(entry); err != nil {
				logger.Warn("request log append failed",
					"transaction_id", entry.TransactionID,
					"error", err)
			}
		}()
	}
}

func skipCapture(method, path string) bool {
	switch path {
	case "/health", "/metrics":
		return true
	}
	if strings.HasPrefix(path, "/v1/logs") {
		return true
	}
	_ = method
	return false
}

func isPredictionCall(method, path string) bool {
	return method == "POST" && strings.HasPrefix(path, "/v1/predict")
}
