package risk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

func TestLevel_Ordering(t *testing.T) {
	assert.True(t, LevelLow < LevelMedium)
	assert.True(t, LevelMedium < LevelHigh)

	assert.Equal(t, -1, LevelLow.Compare(LevelHigh))
	assert.Equal(t, 0, LevelMedium.Compare(LevelMedium))
	assert.Equal(t, 1, LevelHigh.Compare(LevelMedium))

	assert.True(t, LevelHigh.AtLeast(LevelMedium))
	assert.False(t, LevelLow.AtLeast(LevelMedium))
}

func TestMaxLevel(t *testing.T) {
	for _, a := range AllLevels {
		for _, b := range AllLevels {
			for _, c := range AllLevels {
				got := MaxLevel(a, b, c)
				assert.True(t, got >= a && got >= b && got >= c)
				assert.True(t, got == a || got == b || got == c)
			}
		}
	}
	assert.Equal(t, LevelLow, MaxLevel())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"low", LevelLow, false},
		{"Medium", LevelMedium, false},
		{" HIGH ", LevelHigh, false},
		{"critical", LevelLow, true},
		{"", LevelLow, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, shared.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Risk Level `json:"risk"`
	}{Risk: LevelHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"risk":"high"}`, string(data))

	var decoded struct {
		Risk Level `json:"risk"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"risk":"medium"}`), &decoded))
	assert.Equal(t, LevelMedium, decoded.Risk)

	assert.Error(t, json.Unmarshal([]byte(`{"risk":"severe"}`), &decoded))
}
