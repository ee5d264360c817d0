package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhendel/oli-sub001/internal/model"
)

func TestSchemas_Validate(t *testing.T) {
	schemas, err := LoadSchemas()
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    model.Kind
		payload string
		wantErr bool
	}{
		{"weight int", model.KindWeight, `{"value_kg": 80}`, false},
		{"weight float", model.KindWeight, `{"value_kg": 80.5, "body_fat_pct": 21}`, false},
		{"weight missing value", model.KindWeight, `{}`, true},
		{"weight wrong type", model.KindWeight, `{"value_kg": "80"}`, true},
		{"weight unknown field", model.KindWeight, `{"value_kg": 80, "unit": "kg"}`, true},
		{"weight out of range", model.KindWeight, `{"value_kg": -1}`, true},
		{"heart rate", model.KindHeartRate, `{"bpm": 61, "context": "resting"}`, false},
		{"heart rate float bpm", model.KindHeartRate, `{"bpm": 61.5}`, true},
		{"steps", model.KindSteps, `{"count": 1200}`, false},
		{"sleep with stages", model.KindSleep, `{"minutes": 420, "stages": [{"stage": "deep", "minutes": 90}]}`, false},
		{"sleep bad stage", model.KindSleep, `{"minutes": 420, "stages": [{"stage": "nap", "minutes": 90}]}`, true},
		{"blood pressure", model.KindBloodPressure, `{"systolic": 120, "diastolic": 80}`, false},
		{"blood pressure missing diastolic", model.KindBloodPressure, `{"systolic": 120}`, true},
		{"incomplete empty", model.KindIncomplete, `{}`, false},
		{"incomplete with hint", model.KindIncomplete, `{"note": "sensor dropped", "hint_kind": "heart_rate"}`, false},
		{"not json", model.KindWeight, `{value_kg: }`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schemas.Validate(tt.kind, 1, []byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSchemas_UnknownVersion(t *testing.T) {
	schemas, err := LoadSchemas()
	require.NoError(t, err)

	assert.True(t, schemas.Has(model.KindWeight, 1))
	assert.False(t, schemas.Has(model.KindWeight, 2))
	assert.ErrorIs(t, schemas.Validate(model.KindWeight, 2, []byte(`{"value_kg": 80}`)), ErrNoSchema)
}

func TestSchemas_EveryKindHasVersionOne(t *testing.T) {
	schemas, err := LoadSchemas()
	require.NoError(t, err)
	for _, kind := range model.Kinds {
		assert.True(t, schemas.Has(kind, 1), kind)
	}
}
