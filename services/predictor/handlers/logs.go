// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pulmolabs/pulmoserve/services/predictor/datatypes"
)

// Pagination bounds for GET /v1/logs.
const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// LogReader is the read side of the request-log store.
type LogReader interface {
	List(limit, offset int) ([]datatypes.LogEntry, error)
	ListPredictions(limit, offset int) ([]datatypes.LogEntry, error)
	Count() (int, error)
}

// LogClearer is the destructive side of the request-log store.
type LogClearer interface {
	Count() (int, error)
	Clear() error
}

// GetLogs handles GET /v1/logs?limit=&offset=&predictions_only=.
func GetLogs(store LogReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := boundedIntQuery(c, "limit", defaultLogLimit, 1, maxLogLimit)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		offset, err := boundedIntQuery(c, "offset", 0, 0, int(^uint(0)>>1))
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		var entries []datatypes.LogEntry
		if c.Query("predictions_only") == "true" {
			entries, err = store.ListPredictions(limit, offset)
		} else {
			entries, err = store.List(limit, offset)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error:  "log store read failed",
				Detail: err.Error(),
			})
			return
		}

		total, err := store.Count()
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error:  "log store count failed",
				Detail: err.Error(),
			})
			return
		}

		if entries == nil {
			entries = []datatypes.LogEntry{}
		}
		c.JSON(http.StatusOK, datatypes.LogsResponse{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			Entries: entries,
		})
	}
}

// ClearLogs handles DELETE /v1/logs, reporting how many entries were
// removed.
func ClearLogs(store LogClearer) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, err := store.Count()
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error:  "log store count failed",
				Detail: err.Error(),
			})
			return
		}
		if err := store.Clear(); err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error:  "log store clear failed",
				Detail: err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cleared": total})
	}
}

func boundedIntQuery(c *gin.Context, name string, def, lo, hi int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, &queryError{name: name, value: raw}
	}
	return v, nil
}

type queryError struct {
	name  string
	value string
}

func (e *queryError) Error() string {
	return "invalid query parameter " + e.name + "=" + e.value
}
