// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mlmodel defines the capability contract every served model must
// satisfy, together with the two runtime formats exported by the training
// pipeline: a random-forest classifier and a standardized logistic
// regression.
//
// # Cloning
//
// The replica pool works by deep-copying one loaded base model N times, so
// Clone is part of the model-loading contract, not an optional extra. A
// model that cannot produce an independent copy must return
// ErrCloneUnsupported; pool construction converts that into its own init
// failure and the service can then fall back to single-instance serving.
//
// # Thread Safety
//
// Models are NOT assumed safe for concurrent use. Serialization is the
// replica pool's job; nothing in this package locks.
package mlmodel

import (
	"errors"
	"fmt"

	"github.com/pulmolabs/pulmoserve/pkg/features"
)

// Classification labels produced by every model in this package.
const (
	LabelNegative = 0
	LabelPositive = 1
)

// ErrCloneUnsupported is returned by Clone when a model cannot produce an
// independent deep copy of itself.
var ErrCloneUnsupported = errors.New("model does not support cloning")

// PredictionError wraps a failure inside the underlying model call. It is
// a server-side error: retrying the same input against the same model is
// pointless, so callers should surface it rather than retry.
type PredictionError struct {
	// Family identifies which model family failed.
	Family string

	// Cause is the underlying model error.
	Cause error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed (%s): %v", e.Family, e.Cause)
}

func (e *PredictionError) Unwrap() error { return e.Cause }

// Info describes a loaded model.
type Info struct {
	// Family is the runtime format name ("forest" or "linear").
	Family string

	// Version is the training export version string.
	Version string

	// NumFeatures is the expected input width (always features.VectorSize
	// for current exports).
	NumFeatures int
}

// Model is the minimal capability contract the serving layer requires of a
// loaded model.
type Model interface {
	// Predict returns the class label for the expanded vector.
	Predict(v features.FeatureVector) (int, error)

	// PredictProba returns the class probability distribution, indexed by
	// label: [P(negative), P(positive)].
	PredictProba(v features.FeatureVector) ([]float64, error)

	// Clone produces an independent deep copy sharing no mutable state
	// with the receiver, or ErrCloneUnsupported.
	Clone() (Model, error)

	// Info describes the loaded model.
	Info() Info
}
