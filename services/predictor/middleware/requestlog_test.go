// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulmolabs/pulmoserve/services/predictor/datatypes"
)

// chanSink feeds appended entries to a channel so tests can wait for the
// asynchronous write.
type chanSink struct {
	ch chan datatypes.LogEntry
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan datatypes.LogEntry, 8)}
}

func (s *chanSink) Append(e datatypes.LogEntry) error {
	s.ch <- e
	return nil
}

func (s *chanSink) wait(t *testing.T) datatypes.LogEntry {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no log entry appended within 1s")
		return datatypes.LogEntry{}
	}
}

func newTestEngine(sink LogSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestLogger(sink, nil))

	engine.POST("/v1/predict", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"prediction": 1})
	})
	engine.GET("/v1/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pools": gin.H{}})
	})
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/v1/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": []string{}})
	})
	return engine
}

func TestRequestLogger_CapturesPredictionCall(t *testing.T) {
	sink := newChanSink()
	engine := newTestEngine(sink)

	body := `{"AGE": 65, "SMOKING": 1}`
	req := httptest.NewRequest(http.MethodPost, "/v1/predict", strings.NewReader(body))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Transaction-ID"))

	entry := sink.wait(t)
	assert.Equal(t, w.Header().Get("X-Transaction-ID"), entry.TransactionID)
	assert.Equal(t, "POST", entry.Method)
	assert.Equal(t, "/v1/predict", entry.Path)
	assert.Equal(t, http.StatusOK, entry.Status)
	assert.Equal(t, body, entry.RequestBody, "handler input must be captured verbatim")
	assert.Contains(t, entry.ResponseBody, `"prediction":1`)
	assert.GreaterOrEqual(t, entry.DurationMS, 0.0)
}

func TestRequestLogger_BodyStillReadableByHandler(t *testing.T) {
	sink := newChanSink()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestLogger(sink, nil))

	var seen string
	engine.POST("/v1/predict", func(c *gin.Context) {
		raw, err := c.GetRawData()
		require.NoError(t, err)
		seen = string(raw)
		c.Status(http.StatusOK)
	})

	body := `{"AGE": 30}`
	req := httptest.NewRequest(http.MethodPost, "/v1/predict", strings.NewReader(body))
	engine.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, body, seen)
	sink.wait(t)
}

func TestRequestLogger_NonPredictionCallOmitsBodies(t *testing.T) {
	sink := newChanSink()
	engine := newTestEngine(sink)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	entry := sink.wait(t)
	assert.Equal(t, "/v1/stats", entry.Path)
	assert.Empty(t, entry.RequestBody)
	assert.Empty(t, entry.ResponseBody)
}

func TestRequestLogger_SkipsNoisyEndpoints(t *testing.T) {
	sink := newChanSink()
	engine := newTestEngine(sink)

	for _, path := range []string{"/health", "/v1/logs"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("X-Transaction-ID"), "no transaction for %s", path)
	}

	select {
	case e := <-sink.ch:
		t.Fatalf("unexpected entry captured: %s %s", e.Method, e.Path)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransactionID_MissingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, TransactionID(c))
}
