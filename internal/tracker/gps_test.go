package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streampilot/streampilot-server/internal/models"
)

func TestExtractGPS(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want *models.Position
	}{
		{
			name: "top level floats",
			raw:  map[string]any{"latitude": 48.85, "longitude": 2.35},
			want: &models.Position{Latitude: 48.85, Longitude: 2.35},
		},
		{
			name: "top level short keys",
			raw:  map[string]any{"lat": "48,85", "lng": "2,35"},
			want: &models.Position{Latitude: 48.85, Longitude: 2.35},
		},
		{
			name: "gps container",
			raw:  map[string]any{"gps": map[string]any{"lat": 10.0, "lon": 20.0}},
			want: &models.Position{Latitude: 10, Longitude: 20},
		},
		{
			name: "location container with hemisphere strings",
			raw:  map[string]any{"location": map[string]any{"Latitude": "48.85N", "Longitude": "2.35E"}},
			want: &models.Position{Latitude: 48.85, Longitude: 2.35},
		},
		{
			name: "coordinates array",
			raw:  map[string]any{"coordinates": []any{48.85, 2.35}},
			want: &models.Position{Latitude: 48.85, Longitude: 2.35},
		},
		{
			name: "array nested inside a container",
			raw:  map[string]any{"metadata": map[string]any{"fix": []any{"48.85", "2.35"}}},
			want: &models.Position{Latitude: 48.85, Longitude: 2.35},
		},
		{
			name: "dict nested one level down",
			raw:  map[string]any{"status": map[string]any{"gnss": map[string]any{"lat": 1.0, "lng": 2.0}}},
			want: &models.Position{Latitude: 1, Longitude: 2},
		},
		{
			name: "last known fallback",
			raw:  map[string]any{"last_gps": map[string]any{"lat": 5.0, "lng": 6.0}},
			want: &models.Position{Latitude: 5, Longitude: 6},
		},
		{
			name: "top level beats container",
			raw: map[string]any{
				"latitude": 1.0, "longitude": 2.0,
				"gps": map[string]any{"lat": 9.0, "lng": 9.0},
			},
			want: &models.Position{Latitude: 1, Longitude: 2},
		},
		{
			name: "lat without lng yields nothing",
			raw:  map[string]any{"latitude": 48.85},
			want: nil,
		},
		{
			name: "unparsable values yield nothing",
			raw:  map[string]any{"latitude": "north", "longitude": "east"},
			want: nil,
		},
		{
			name: "short array yields nothing",
			raw:  map[string]any{"coordinates": []any{48.85}},
			want: nil,
		},
		{
			name: "nil record",
			raw:  nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractGPS(tt.raw)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, tt.want.Latitude, got.Latitude, 1e-9)
			assert.InDelta(t, tt.want.Longitude, got.Longitude, 1e-9)
		})
	}
}
