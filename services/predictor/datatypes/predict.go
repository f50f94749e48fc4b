// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire types of the predictor API.
//
// Patient fields use pointer ints so gin's binding layer can tell an
// absent field from a legitimate zero; the upper-case JSON keys match
// the training dataset column names the clients already use.
package datatypes

import (
	"github.com/pulmolabs/pulmoserve/pkg/features"
	"github.com/pulmolabs/pulmoserve/pkg/pool"
	"github.com/pulmolabs/pulmoserve/pkg/router"
)

// PredictRequest carries one patient record plus the optional model
// family selector. All clinical fields are required; AGE is bounded to
// [0,120] and every other field is a 0/1 flag.
type PredictRequest struct {
	Age                  *int `json:"AGE" binding:"required,gte=0,lte=120"`
	Gender               *int `json:"GENDER" binding:"required,gte=0,lte=1"`
	Smoking              *int `json:"SMOKING" binding:"required,gte=0,lte=1"`
	AlcoholConsuming     *int `json:"ALCOHOL_CONSUMING" binding:"required,gte=0,lte=1"`
	PeerPressure         *int `json:"PEER_PRESSURE" binding:"required,gte=0,lte=1"`
	YellowFingers        *int `json:"YELLOW_FINGERS" binding:"required,gte=0,lte=1"`
	Anxiety              *int `json:"ANXIETY" binding:"required,gte=0,lte=1"`
	Fatigue              *int `json:"FATIGUE" binding:"required,gte=0,lte=1"`
	Allergy              *int `json:"ALLERGY" binding:"required,gte=0,lte=1"`
	Wheezing             *int `json:"WHEEZING" binding:"required,gte=0,lte=1"`
	Coughing             *int `json:"COUGHING" binding:"required,gte=0,lte=1"`
	ShortnessOfBreath    *int `json:"SHORTNESS_OF_BREATH" binding:"required,gte=0,lte=1"`
	SwallowingDifficulty *int `json:"SWALLOWING_DIFFICULTY" binding:"required,gte=0,lte=1"`
	ChestPain            *int `json:"CHEST_PAIN" binding:"required,gte=0,lte=1"`

	// ModelFamily selects the serving model. Empty means the default
	// family. The ?family= query parameter takes precedence when both
	// are present.
	ModelFamily string `json:"model_family,omitempty"`
}

// ToRaw converts the bound request into the expander's record type.
// Binding guarantees the pointers are non-nil.
func (r *PredictRequest) ToRaw() features.RawRecord {
	return features.RawRecord{
		Age:                  *r.Age,
		Gender:               *r.Gender,
		Smoking:              *r.Smoking,
		AlcoholConsuming:     *r.AlcoholConsuming,
		PeerPressure:         *r.PeerPressure,
		YellowFingers:        *r.YellowFingers,
		Anxiety:              *r.Anxiety,
		Fatigue:              *r.Fatigue,
		Allergy:              *r.Allergy,
		Wheezing:             *r.Wheezing,
		Coughing:             *r.Coughing,
		ShortnessOfBreath:    *r.ShortnessOfBreath,
		SwallowingDifficulty: *r.SwallowingDifficulty,
		ChestPain:            *r.ChestPain,
	}
}

// PredictResponse is the /v1/predict reply.
type PredictResponse struct {
	Prediction    int     `json:"prediction"`
	Probability   float64 `json:"probability"`
	Message       string  `json:"message"`
	ModelFamily   string  `json:"model_family"`
	ModelVersion  string  `json:"model_version"`
	TransactionID string  `json:"transaction_id,omitempty"`
}

// PredictProbaResponse is the /v1/predict_proba reply carrying the full
// class distribution, index 0 = negative, index 1 = positive.
type PredictProbaResponse struct {
	Prediction    int       `json:"prediction"`
	Probabilities []float64 `json:"probabilities"`
	Message       string    `json:"message"`
	ModelFamily   string    `json:"model_family"`
	ModelVersion  string    `json:"model_version"`
	TransactionID string    `json:"transaction_id,omitempty"`
}

// StatsResponse is the /v1/stats reply.
type StatsResponse struct {
	DefaultFamily string                       `json:"default_family"`
	Pools         map[router.Family]pool.Stats `json:"pools"`
	Degraded      bool                         `json:"degraded"`
}

// HealthResponse is the /health reply.
type HealthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	ModelsLoaded  map[string]bool `json:"models_loaded"`
	Degraded      bool            `json:"degraded"`
	LogStoreReady bool            `json:"log_store_ready"`
}

// ErrorResponse is the uniform error body for non-2xx replies.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// LogsResponse is the paginated /v1/logs reply.
type LogsResponse struct {
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	Entries []LogEntry `json:"entries"`
}

// LogEntry is one captured API request.
type LogEntry struct {
	TransactionID string  `json:"transaction_id"`
	Timestamp     string  `json:"timestamp"`
	Method        string  `json:"method"`
	Path          string  `json:"path"`
	Status        int     `json:"status"`
	DurationMS    float64 `json:"duration_ms"`
	RequestBody   string  `json:"request_body,omitempty"`
	ResponseBody  string  `json:"response_body,omitempty"`
}
