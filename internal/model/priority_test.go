package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"Low", PriorityLow, false},
		{"medium", PriorityMedium, false},
		{" HIGH ", PriorityHigh, false},
		{"urgent", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPriority)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriority_JSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		P Priority `json:"p"`
	}{PriorityHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":"High"}`, string(raw))

	var decoded struct {
		P Priority `json:"p"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"p":"bogus"}`), &decoded))
}

func TestPriority_OrDefault(t *testing.T) {
	assert.Equal(t, PriorityMedium, Priority("").OrDefault())
	assert.Equal(t, PriorityLow, PriorityLow.OrDefault())
}
