package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	value := map[string]any{
		"readings": []any{
			map[string]any{"celsius": 21.5},
			map[string]any{"celsius": 30.0},
		},
	}

	got, err := Select(value, []any{"readings", float64(1), "celsius"})
	require.NoError(t, err)
	assert.InDelta(t, 30.0, got, 0.0001)

	got, err = Select(value, nil)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestSelect_Errors(t *testing.T) {
	value := map[string]any{"list": []any{1}}

	tests := []struct {
		name string
		path []any
	}{
		{"missing key", []any{"nope"}},
		{"out of range", []any{"list", 3}},
		{"fractional index", []any{"list", 0.5}},
		{"key on list", []any{"list", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Select(value, tt.path)
			require.ErrorIs(t, err, ErrInvalidSelection)
		})
	}
}
