// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package features implements the feature-expansion step that runs before
// every inference call.
//
// # Description
//
// The trained models consume a 28-column vector: the 14 patient attributes
// submitted by the caller plus 14 derived columns computed here. The
// derivation formulas are a versioned contract shared with the training
// pipeline; they must not be changed without retraining and re-exporting
// the model artifacts. Golden-vector tests in this package pin the exact
// outputs.
//
// # Thread Safety
//
// Expand is a pure function of its input. It holds no state and is safe to
// call concurrently from any number of goroutines.
package features

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

// ErrInvalidRecord is the sentinel for all record validation failures.
// Use errors.Is(err, ErrInvalidRecord) to classify; errors.As with
// *InvalidRecordError recovers the offending field.
var ErrInvalidRecord = errors.New("invalid record")

// InvalidRecordError reports a record that fails the input contract.
// It is always the caller's fault and is never retried internally.
type InvalidRecordError struct {
	// Field is the canonical column name that failed validation.
	Field string

	// Reason describes the violation in human-readable form.
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

func (e *InvalidRecordError) Unwrap() error { return ErrInvalidRecord }

// =============================================================================
// Input schema
// =============================================================================

// RawRecord holds the 14 patient attributes submitted with every prediction
// request. AGE is bounded, every other field is a 0/1 flag. The transport
// layer is responsible for rejecting requests with absent fields; Validate
// enforces the value ranges.
type RawRecord struct {
	Age                  int
	Gender               int // 1 = male, 0 = female
	Smoking              int
	AlcoholConsuming     int
	PeerPressure         int
	YellowFingers        int
	Anxiety              int
	Fatigue              int
	Allergy              int
	Wheezing             int
	Coughing             int
	ShortnessOfBreath    int
	SwallowingDifficulty int
	ChestPain            int
}

// MaxAge is the upper bound accepted for the AGE column.
const MaxAge = 120

// flagFields enumerates the 13 binary columns in training order.
// AGE is handled separately because of its different range.
var flagFields = []struct {
	name string
	get  func(*RawRecord) int
}{
	{"GENDER", func(r *RawRecord) int { return r.Gender }},
	{"SMOKING", func(r *RawRecord) int { return r.Smoking }},
	{"ALCOHOL_CONSUMING", func(r *RawRecord) int { return r.AlcoholConsuming }},
	{"PEER_PRESSURE", func(r *RawRecord) int { return r.PeerPressure }},
	{"YELLOW_FINGERS", func(r *RawRecord) int { return r.YellowFingers }},
	{"ANXIETY", func(r *RawRecord) int { return r.Anxiety }},
	{"FATIGUE", func(r *RawRecord) int { return r.Fatigue }},
	{"ALLERGY", func(r *RawRecord) int { return r.Allergy }},
	{"WHEEZING", func(r *RawRecord) int { return r.Wheezing }},
	{"COUGHING", func(r *RawRecord) int { return r.Coughing }},
	{"SHORTNESS_OF_BREATH", func(r *RawRecord) int { return r.ShortnessOfBreath }},
	{"SWALLOWING_DIFFICULTY", func(r *RawRecord) int { return r.SwallowingDifficulty }},
	{"CHEST_PAIN", func(r *RawRecord) int { return r.ChestPain }},
}

// Validate checks the record against the input contract: AGE in [0, MaxAge]
// and every flag in {0, 1}. The first violation is returned as an
// *InvalidRecordError; a valid record returns nil.
func (r *RawRecord) Validate() error {
	if r.Age < 0 || r.Age > MaxAge {
		return &InvalidRecordError{
			Field:  "AGE",
			Reason: fmt.Sprintf("must be between 0 and %d, got %d", MaxAge, r.Age),
		}
	}
	for _, f := range flagFields {
		if v := f.get(r); v != 0 && v != 1 {
			return &InvalidRecordError{
				Field:  f.name,
				Reason: fmt.Sprintf("must be 0 or 1, got %d", v),
			}
		}
	}
	return nil
}

// =============================================================================
// Expanded vector
// =============================================================================

// VectorSize is the number of columns the trained models consume.
const VectorSize = 28

// FeatureNames lists the 28 columns in the exact order the training
// pipeline exported them: the 14 raw attributes followed by the 14 derived
// columns. Model artifacts are validated against this list at load time.
var FeatureNames = []string{
	"AGE", "GENDER", "SMOKING", "ALCOHOL_CONSUMING", "PEER_PRESSURE",
	"YELLOW_FINGERS", "ANXIETY", "FATIGUE", "ALLERGY", "WHEEZING",
	"COUGHING", "SHORTNESS_OF_BREATH", "SWALLOWING_DIFFICULTY", "CHEST_PAIN",
	"SMOKING_x_AGE", "SMOKING_x_ALCOHOL", "RESPIRATORY_SYMPTOMS",
	"TOTAL_SYMPTOMS", "BEHAVIORAL_RISK_SCORE", "SEVERE_SYMPTOMS",
	"AGE_GROUP", "HIGH_RISK_PROFILE", "AGE_SQUARED", "CANCER_TRIAD",
	"SMOKER_WITH_RESP_SYMPTOMS", "ADVANCED_SYMPTOMS", "SYMPTOMS_PER_AGE",
	"RESP_SYMPTOM_RATIO",
}

// Column indices into FeatureVector.Values(). Raw columns come first,
// derived columns follow in training order.
const (
	ColAge = iota
	ColGender
	ColSmoking
	ColAlcoholConsuming
	ColPeerPressure
	ColYellowFingers
	ColAnxiety
	ColFatigue
	ColAllergy
	ColWheezing
	ColCoughing
	ColShortnessOfBreath
	ColSwallowingDifficulty
	ColChestPain
	ColSmokingXAge
	ColSmokingXAlcohol
	ColRespiratorySymptoms
	ColTotalSymptoms
	ColBehavioralRiskScore
	ColSevereSymptoms
	ColAgeGroup
	ColHighRiskProfile
	ColAgeSquared
	ColCancerTriad
	ColSmokerWithRespSymptoms
	ColAdvancedSymptoms
	ColSymptomsPerAge
	ColRespSymptomRatio
)

// FeatureVector is the fully expanded 28-column input consumed by the
// models. Instances are immutable once built by Expand.
type FeatureVector struct {
	values [VectorSize]float64
}

// Values returns a fresh copy of the column values in FeatureNames order.
// Callers may mutate the returned slice freely.
func (v FeatureVector) Values() []float64 {
	out := make([]float64, VectorSize)
	copy(out, v.values[:])
	return out
}

// At returns the value of column i. It panics if i is out of range, the
// same way a slice index would.
func (v FeatureVector) At(i int) float64 {
	return v.values[i]
}

// =============================================================================
// Expansion
// =============================================================================

// Expand validates rec and computes the 14 derived columns.
//
// The formulas reproduce the training pipeline exactly:
//
//   - SMOKING_x_AGE: smoking flag times age
//   - SMOKING_x_ALCOHOL: both substance flags set
//   - RESPIRATORY_SYMPTOMS: wheezing + coughing + dyspnea, clamped to [0,3]
//   - TOTAL_SYMPTOMS: sum over the nine symptom flags
//   - BEHAVIORAL_RISK_SCORE: smoking + alcohol + peer pressure
//   - SEVERE_SYMPTOMS: chest pain + dysphagia + dyspnea
//   - AGE_GROUP: ordinal bucket over bounds (0,50] (50,60] (60,70] (70,∞)
//   - HIGH_RISK_PROFILE: male AND smoker AND age > 60
//   - AGE_SQUARED: age²
//   - CANCER_TRIAD: coughing AND chest pain AND dyspnea
//   - SMOKER_WITH_RESP_SYMPTOMS: smoker with at least one respiratory symptom
//   - ADVANCED_SYMPTOMS: dysphagia AND chest pain
//   - SYMPTOMS_PER_AGE: TOTAL_SYMPTOMS / (age + 1); the +1 floor guards the
//     age-zero edge case the same way training did
//   - RESP_SYMPTOM_RATIO: RESPIRATORY_SYMPTOMS / (TOTAL_SYMPTOMS + 1)
//
// rec is read only; the same record always produces the same vector.
func Expand(rec RawRecord) (FeatureVector, error) {
	if err := rec.Validate(); err != nil {
		return FeatureVector{}, err
	}

	age := float64(rec.Age)
	smoking := float64(rec.Smoking)

	respiratory := clamp(float64(rec.Wheezing+rec.Coughing+rec.ShortnessOfBreath), 0, 3)
	total := float64(rec.YellowFingers + rec.Anxiety + rec.Fatigue + rec.Allergy +
		rec.Wheezing + rec.Coughing + rec.ShortnessOfBreath +
		rec.SwallowingDifficulty + rec.ChestPain)

	var v FeatureVector
	v.values = [VectorSize]float64{
		ColAge:                  age,
		ColGender:               float64(rec.Gender),
		ColSmoking:              smoking,
		ColAlcoholConsuming:     float64(rec.AlcoholConsuming),
		ColPeerPressure:         float64(rec.PeerPressure),
		ColYellowFingers:        float64(rec.YellowFingers),
		ColAnxiety:              float64(rec.Anxiety),
		ColFatigue:              float64(rec.Fatigue),
		ColAllergy:              float64(rec.Allergy),
		ColWheezing:             float64(rec.Wheezing),
		ColCoughing:             float64(rec.Coughing),
		ColShortnessOfBreath:    float64(rec.ShortnessOfBreath),
		ColSwallowingDifficulty: float64(rec.SwallowingDifficulty),
		ColChestPain:            float64(rec.ChestPain),

		ColSmokingXAge:         smoking * age,
		ColSmokingXAlcohol:     boolToFloat(rec.Smoking == 1 && rec.AlcoholConsuming == 1),
		ColRespiratorySymptoms: respiratory,
		ColTotalSymptoms:       total,
		ColBehavioralRiskScore: float64(rec.Smoking + rec.AlcoholConsuming + rec.PeerPressure),
		ColSevereSymptoms:      float64(rec.ChestPain + rec.SwallowingDifficulty + rec.ShortnessOfBreath),
		ColAgeGroup:            float64(ageGroup(rec.Age)),
		ColHighRiskProfile:     boolToFloat(rec.Gender == 1 && rec.Smoking == 1 && rec.Age > 60),
		ColAgeSquared:          age * age,
		ColCancerTriad: boolToFloat(rec.Coughing == 1 &&
			rec.ChestPain == 1 && rec.ShortnessOfBreath == 1),
		ColSmokerWithRespSymptoms: boolToFloat(rec.Smoking == 1 && respiratory > 0),
		ColAdvancedSymptoms:       boolToFloat(rec.SwallowingDifficulty == 1 && rec.ChestPain == 1),
		ColSymptomsPerAge:         total / (age + 1),
		ColRespSymptomRatio:       respiratory / (total + 1),
	}
	return v, nil
}

// ageGroup maps age onto the training buckets: (0,50] -> 0, (50,60] -> 1,
// (60,70] -> 2, above 70 -> 3. Bounds are right-inclusive, matching the
// binning used at training time.
func ageGroup(age int) int {
	switch {
	case age <= 50:
		return 0
	case age <= 60:
		return 1
	case age <= 70:
		return 2
	default:
		return 3
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
