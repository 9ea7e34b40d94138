package streamhub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streampilot/streampilot-server/internal/models"
)

func TestNormStatusCode(t *testing.T) {
	tests := []struct {
		name string
		item map[string]any
		want int
	}{
		{"nil item", nil, 0},
		{"missing field", map[string]any{}, 0},
		{"json number", map[string]any{"channelStatus": float64(2)}, 2},
		{"go int", map[string]any{"channelStatus": 3}, 3},
		{"numeric string", map[string]any{"channelStatus": " 1 "}, 1},
		{"label", map[string]any{"channelStatus": "On"}, 2},
		{"channelState fallback", map[string]any{"channelState": float64(1)}, 1},
		{"channelStatus wins over channelState", map[string]any{"channelStatus": float64(2), "channelState": float64(0)}, 2},
		{"garbage string", map[string]any{"channelStatus": "banana"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normStatusCode(tt.item))
		})
	}
}

func TestInputStatus(t *testing.T) {
	assert.Equal(t, models.StatusOff, inputStatus(0))
	assert.Equal(t, models.StatusIdle, inputStatus(1))
	assert.Equal(t, models.StatusOn, inputStatus(2))
	assert.Equal(t, models.StatusError, inputStatus(3))
	assert.Equal(t, models.StatusError, inputStatus(4))
	// Unknown codes degrade to off, never to an invalid value.
	assert.Equal(t, models.StatusOff, inputStatus(99))
	assert.Equal(t, models.StatusOff, inputStatus(-1))
}

func TestLookupEnumFallsBackToFirst(t *testing.T) {
	assert.Equal(t, "running", lookupEnum(recorderByCode, 4, "disabled"))
	assert.Equal(t, "disabled", lookupEnum(recorderByCode, 42, "disabled"))
	assert.Equal(t, "low", lookupEnum(intercomProfileByCode, -7, "low"))
}

func TestSortedNumericKeys(t *testing.T) {
	m := map[string]any{"10": nil, "2": nil, "1": nil, "abc": nil}
	assert.Equal(t, []string{"1", "2", "10", "abc"}, sortedNumericKeys(m))
}

func TestGetIntCoercions(t *testing.T) {
	m := map[string]any{
		"f": float64(7.9),
		"s": "12",
		"b": "not a number",
	}
	assert.Equal(t, 7, getInt(m, "f", -1))
	assert.Equal(t, 12, getInt(m, "s", -1))
	assert.Equal(t, -1, getInt(m, "b", -1))
	assert.Equal(t, -1, getInt(m, "missing", -1))
	assert.Equal(t, -1, getInt(nil, "x", -1))
}
