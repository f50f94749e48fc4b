// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mlmodel

import (
	"fmt"
	"math"

	"github.com/pulmolabs/pulmoserve/pkg/features"
)

// Logistic is the alternate runtime format: a logistic regression over
// standardized features. The export carries the standardization parameters
// so the serving path reproduces training preprocessing exactly.
type Logistic struct {
	Version string `json:"version"`

	// Coefficients holds one weight per feature column.
	Coefficients []float64 `json:"coefficients"`

	// Intercept is the bias term.
	Intercept float64 `json:"intercept"`

	// Means and Scales standardize each column as (x - mean) / scale
	// before the dot product. A zero scale is rejected at load time.
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`
}

var _ Model = (*Logistic)(nil)

// Predict implements Model.
func (m *Logistic) Predict(v features.FeatureVector) (int, error) {
	probs, err := m.PredictProba(v)
	if err != nil {
		return 0, err
	}
	if probs[LabelPositive] >= 0.5 {
		return LabelPositive, nil
	}
	return LabelNegative, nil
}

// PredictProba implements Model.
func (m *Logistic) PredictProba(v features.FeatureVector) ([]float64, error) {
	if len(m.Coefficients) != features.VectorSize {
		return nil, fmt.Errorf("model has %d coefficients, want %d", len(m.Coefficients), features.VectorSize)
	}
	z := m.Intercept
	for i, w := range m.Coefficients {
		z += w * (v.At(i) - m.Means[i]) / m.Scales[i]
	}
	p := 1.0 / (1.0 + math.Exp(-z))
	return []float64{1 - p, p}, nil
}

// Clone implements Model with a deep copy of all parameter slices.
func (m *Logistic) Clone() (Model, error) {
	return &Logistic{
		Version:      m.Version,
		Coefficients: append([]float64(nil), m.Coefficients...),
		Intercept:    m.Intercept,
		Means:        append([]float64(nil), m.Means...),
		Scales:       append([]float64(nil), m.Scales...),
	}, nil
}

// Info implements Model.
func (m *Logistic) Info() Info {
	return Info{Family: "linear", Version: m.Version, NumFeatures: features.VectorSize}
}

func (m *Logistic) validate() error {
	if len(m.Coefficients) != features.VectorSize {
		return fmt.Errorf("logistic model has %d coefficients, want %d", len(m.Coefficients), features.VectorSize)
	}
	if len(m.Means) != features.VectorSize || len(m.Scales) != features.VectorSize {
		return fmt.Errorf("standardization parameters must have %d entries", features.VectorSize)
	}
	for i, s := range m.Scales {
		if s == 0 {
			return fmt.Errorf("feature %q has zero scale", features.FeatureNames[i])
		}
	}
	return nil
}
