// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the predictor HTTP endpoints.
//
// Handlers are gin.HandlerFunc closures over their dependencies. Error
// responses follow one mapping everywhere: invalid records are 400,
// unknown model families 404, pool exhaustion 503 with Retry-After, and
// model failures 500. The typed errors from the core packages drive the
// mapping via errors.Is / errors.As; handlers never inspect error strings.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pulmolabs/pulmoserve/pkg/features"
	"github.com/pulmolabs/pulmoserve/pkg/inference"
	"github.com/pulmolabs/pulmoserve/pkg/mlmodel"
	"github.com/pulmolabs/pulmoserve/pkg/pool"
	"github.com/pulmolabs/pulmoserve/pkg/router"
	"github.com/pulmolabs/pulmoserve/services/predictor/datatypes"
	"github.com/pulmolabs/pulmoserve/services/predictor/middleware"
	"github.com/pulmolabs/pulmoserve/services/predictor/observability"
)

// ServiceVersion is reported by / and /health.
const ServiceVersion = "1.2.0"

// retryAfterSeconds is the hint sent with 503 responses. Exhaustion is
// transient; replicas come back as in-flight requests finish.
const retryAfterSeconds = 1

func riskMessage(label int) string {
	if label == mlmodel.LabelPositive {
		return "High risk of lung cancer indicated. Clinical follow-up is recommended."
	}
	return "Low risk of lung cancer indicated."
}

// requestFamily resolves the model family for a request. The ?family=
// query parameter wins over the JSON field; empty means the default.
func requestFamily(c *gin.Context, fromBody string) router.Family {
	if q := c.Query("family"); q != "" {
		return router.Family(q)
	}
	return router.Family(fromBody)
}

// Predict handles POST /v1/predict.
func Predict(svc *inference.Service, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req datatypes.PredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.RecordError("predict", observability.ErrorCodeValidation)
			metrics.RecordRequest("predict", "400", time.Since(start).Seconds())
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error:  "invalid request body",
				Detail: err.Error(),
			})
			return
		}

		res, err := svc.Predict(c.Request.Context(), req.ToRaw(), requestFamily(c, req.ModelFamily))
		if err != nil {
			writeInferenceError(c, metrics, "predict", start, err)
			return
		}

		metrics.RecordPrediction(string(res.Family), res.Label)
		metrics.RecordRequest("predict", "200", time.Since(start).Seconds())
		c.JSON(http.StatusOK, datatypes.PredictResponse{
			Prediction:    res.Label,
			Probability:   res.Probability,
			Message:       riskMessage(res.Label),
			ModelFamily:   string(res.Family),
			ModelVersion:  res.Version,
			TransactionID: middleware.TransactionID(c),
		})
	}
}

// PredictProba handles POST /v1/predict_proba.
func PredictProba(svc *inference.Service, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req datatypes.PredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.RecordError("predict_proba", observability.ErrorCodeValidation)
			metrics.RecordRequest("predict_proba", "400", time.Since(start).Seconds())
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error:  "invalid request body",
				Detail: err.Error(),
			})
			return
		}

		res, err := svc.PredictProba(c.Request.Context(), req.ToRaw(), requestFamily(c, req.ModelFamily))
		if err != nil {
			writeInferenceError(c, metrics, "predict_proba", start, err)
			return
		}

		metrics.RecordPrediction(string(res.Family), res.Label)
		metrics.RecordRequest("predict_proba", "200", time.Since(start).Seconds())
		c.JSON(http.StatusOK, datatypes.PredictProbaResponse{
			Prediction:    res.Label,
			Probabilities: res.Probabilities,
			Message:       riskMessage(res.Label),
			ModelFamily:   string(res.Family),
			ModelVersion:  res.Version,
			TransactionID: middleware.TransactionID(c),
		})
	}
}

// writeInferenceError maps core-package errors onto HTTP statuses.
func writeInferenceError(c *gin.Context, metrics *observability.Metrics, endpoint string, start time.Time, err error) {
	var (
		status int
		code   observability.ErrorCode
		body   datatypes.ErrorResponse
	)

	var invalidErr *features.InvalidRecordError
	var unknownErr *router.UnknownFamilyError
	var predErr *mlmodel.PredictionError

	switch {
	case errors.As(err, &invalidErr), errors.Is(err, features.ErrInvalidRecord):
		status = http.StatusBadRequest
		code = observability.ErrorCodeValidation
		body = datatypes.ErrorResponse{Error: "invalid patient record", Detail: err.Error()}

	case errors.As(err, &unknownErr):
		status = http.StatusNotFound
		code = observability.ErrorCodeUnknownFamily
		body = datatypes.ErrorResponse{Error: "unknown model family", Detail: err.Error()}

	case errors.Is(err, pool.ErrExhausted):
		status = http.StatusServiceUnavailable
		code = observability.ErrorCodePoolExhausted
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		body = datatypes.ErrorResponse{
			Error:  "all model replicas are busy",
			Detail: fmt.Sprintf("retry after %d second(s)", retryAfterSeconds),
		}

	case errors.As(err, &predErr):
		status = http.StatusInternalServerError
		code = observability.ErrorCodePrediction
		body = datatypes.ErrorResponse{Error: "model prediction failed", Detail: err.Error()}

	default:
		status = http.StatusInternalServerError
		code = observability.ErrorCodeInternal
		body = datatypes.ErrorResponse{Error: "internal error", Detail: err.Error()}
	}

	slog.Error("inference request failed",
		"endpoint", endpoint,
		"status", status,
		"transaction_id", middleware.TransactionID(c),
		"error", err)

	metrics.RecordError(endpoint, code)
	metrics.RecordRequest(endpoint, strconv.Itoa(status), time.Since(start).Seconds())
	c.JSON(status, body)
}
