// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// highRiskRecord is the documented example payload: an elderly male smoker
// with most respiratory symptoms present.
func highRiskRecord() RawRecord {
	return RawRecord{
		Age:               65,
		Gender:            1,
		Smoking:           1,
		AlcoholConsuming:  1,
		YellowFingers:     1,
		Fatigue:           1,
		Wheezing:          1,
		Coughing:          1,
		ShortnessOfBreath: 1,
		ChestPain:         1,
	}
}

// TestExpand_LowRiskBaseline pins the golden vector for the low-risk
// baseline: all flags zero, age 30. Values come from the training-time
// feature export and must not drift.
func TestExpand_LowRiskBaseline(t *testing.T) {
	v, err := Expand(RawRecord{Age: 30})
	require.NoError(t, err)

	want := make([]float64, VectorSize)
	want[ColAge] = 30
	want[ColAgeSquared] = 900
	// Every interaction, score, ratio and profile column stays at its
	// low-risk baseline of zero, including both guarded ratios:
	// 0/(30+1) and 0/(0+1).
	assert.Equal(t, want, v.Values())
}

// TestExpand_HighRiskExample pins the golden vector for the documented
// high-risk example payload.
func TestExpand_HighRiskExample(t *testing.T) {
	v, err := Expand(highRiskRecord())
	require.NoError(t, err)

	assert.Equal(t, float64(65), v.At(ColSmokingXAge))
	assert.Equal(t, float64(1), v.At(ColSmokingXAlcohol))
	assert.Equal(t, float64(3), v.At(ColRespiratorySymptoms))
	assert.Equal(t, float64(6), v.At(ColTotalSymptoms))
	assert.Equal(t, float64(2), v.At(ColBehavioralRiskScore))
	assert.Equal(t, float64(2), v.At(ColSevereSymptoms))
	assert.Equal(t, float64(2), v.At(ColAgeGroup))
	assert.Equal(t, float64(1), v.At(ColHighRiskProfile))
	assert.Equal(t, float64(4225), v.At(ColAgeSquared))
	assert.Equal(t, float64(1), v.At(ColCancerTriad))
	assert.Equal(t, float64(1), v.At(ColSmokerWithRespSymptoms))
	assert.Equal(t, float64(0), v.At(ColAdvancedSymptoms))
	assert.InDelta(t, 6.0/66.0, v.At(ColSymptomsPerAge), 1e-12)
	assert.InDelta(t, 3.0/7.0, v.At(ColRespSymptomRatio), 1e-12)
}

// TestExpand_Deterministic verifies expand(r) == expand(r) and that the
// input record is not mutated.
func TestExpand_Deterministic(t *testing.T) {
	rec := highRiskRecord()
	before := rec

	v1, err := Expand(rec)
	require.NoError(t, err)
	v2, err := Expand(rec)
	require.NoError(t, err)

	assert.Equal(t, v1.Values(), v2.Values())
	assert.Equal(t, before, rec, "Expand must not mutate its input")
}

// TestExpand_ValuesReturnsCopy guards the immutability of FeatureVector:
// writing through the returned slice must not affect the vector.
func TestExpand_ValuesReturnsCopy(t *testing.T) {
	v, err := Expand(RawRecord{Age: 30})
	require.NoError(t, err)

	vals := v.Values()
	vals[ColAge] = 999

	assert.Equal(t, float64(30), v.At(ColAge))
}

func TestValidate_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RawRecord)
		field  string
	}{
		{"negative age", func(r *RawRecord) { r.Age = -1 }, "AGE"},
		{"age above bound", func(r *RawRecord) { r.Age = 121 }, "AGE"},
		{"smoking flag out of range", func(r *RawRecord) { r.Smoking = 2 }, "SMOKING"},
		{"gender flag negative", func(r *RawRecord) { r.Gender = -1 }, "GENDER"},
		{"chest pain flag out of range", func(r *RawRecord) { r.ChestPain = 3 }, "CHEST_PAIN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := RawRecord{Age: 40}
			tt.mutate(&rec)

			_, err := Expand(rec)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRecord)

			var invalid *InvalidRecordError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

func TestAgeGroup_Bounds(t *testing.T) {
	// Bucket bounds are right-inclusive, matching the training binning.
	cases := map[int]int{
		0: 0, 30: 0, 50: 0,
		51: 1, 60: 1,
		61: 2, 70: 2,
		71: 3, 90: 3, 120: 3,
	}
	for age, want := range cases {
		if got := ageGroup(age); got != want {
			t.Errorf("ageGroup(%d) = %d, want %d", age, got, want)
		}
	}
}

func TestFeatureNames_MatchesVectorSize(t *testing.T) {
	require.Len(t, FeatureNames, VectorSize)
	assert.Equal(t, "AGE", FeatureNames[ColAge])
	assert.Equal(t, "SMOKING_x_AGE", FeatureNames[ColSmokingXAge])
	assert.Equal(t, "RESP_SYMPTOM_RATIO", FeatureNames[ColRespSymptomRatio])
}
