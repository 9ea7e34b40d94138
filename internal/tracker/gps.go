package tracker

import "github.com/streampilot/streampilot-server/internal/models"

// GPS extraction. Field units report coordinates under many shapes: flat
// keys, nested containers, [lat,lng] arrays, string-encoded values. Each
// strategy is a pure function from the raw input record to an optional fix;
// they are tried in order and the first hit wins.

var latKeys = []string{"latitude", "lat", "Latitude", "Lat", "gps_lat", "y"}
var lngKeys = []string{"longitude", "lng", "lon", "long", "Longitude", "Lng", "Lon", "Long", "gps_lng", "gps_lon", "x"}

var gpsContainerKeys = []string{
	"gps", "GPS", "location", "position", "geo", "coordinates", "geolocation", "coord",
	"metadata", "meta", "state", "extra", "status", "status_details",
}

var lastKnownKeys = []string{
	"last_gps", "lastGps", "last_position", "lastPosition", "last_location", "lastLocation",
}

type gpsStrategy func(map[string]any) *models.Position

var gpsStrategies = []gpsStrategy{
	gpsFromTopLevel,
	gpsFromContainers,
	gpsFromLastKnown,
}

// extractGPS runs the strategies against a raw input record. Nil means no
// fix in this observation; callers fall back to the last known one.
func extractGPS(raw map[string]any) *models.Position {
	if raw == nil {
		return nil
	}
	for _, strategy := range gpsStrategies {
		if p := strategy(raw); p != nil {
			return p
		}
	}
	return nil
}

// pairFrom builds a fix from candidate lat/lng fields of one map.
func pairFrom(m map[string]any) *models.Position {
	for _, la := range latKeys {
		latRaw, okLat := m[la]
		if !okLat {
			continue
		}
		for _, lo := range lngKeys {
			lngRaw, okLng := m[lo]
			if !okLng {
				continue
			}
			lat, lng := toFloat(latRaw), toFloat(lngRaw)
			if lat != nil && lng != nil {
				return &models.Position{Latitude: *lat, Longitude: *lng}
			}
		}
	}
	return nil
}

// pairFromList reads an [lat, lng, ...] array form.
func pairFromList(l []any) *models.Position {
	if len(l) < 2 {
		return nil
	}
	lat, lng := toFloat(l[0]), toFloat(l[1])
	if lat == nil || lng == nil {
		return nil
	}
	return &models.Position{Latitude: *lat, Longitude: *lng}
}

func gpsFromTopLevel(raw map[string]any) *models.Position {
	return pairFrom(raw)
}

// gpsFromContainers looks inside known container keys: dicts with lat/lng,
// [lat,lng] arrays, and dicts nested one more level.
func gpsFromContainers(raw map[string]any) *models.Position {
	for _, ckey := range gpsContainerKeys {
		switch g := raw[ckey].(type) {
		case map[string]any:
			if p := pairFrom(g); p != nil {
				return p
			}
			for _, vv := range g {
				switch inner := vv.(type) {
				case []any:
					if p := pairFromList(inner); p != nil {
						return p
					}
				case map[string]any:
					if p := pairFrom(inner); p != nil {
						return p
					}
				}
			}
		case []any:
			if p := pairFromList(g); p != nil {
				return p
			}
		}
	}
	return nil
}

func gpsFromLastKnown(raw map[string]any) *models.Position {
	for _, ckey := range lastKnownKeys {
		if g, ok := raw[ckey].(map[string]any); ok {
			if p := pairFrom(g); p != nil {
				return p
			}
		}
	}
	return nil
}
