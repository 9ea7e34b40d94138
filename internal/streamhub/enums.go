package streamhub

import (
	"strconv"
	"strings"

	"github.com/streampilot/streampilot-server/internal/models"
)

// Fixed code lookups, aligned with the StreamHub REST API. Unknown codes
// fall back to the first listed value of each enumeration.

var statusByCode = map[int]models.InputStatus{
	0: models.StatusOff,
	1: models.StatusIdle,
	2: models.StatusOn,
	3: models.StatusError,
	4: models.StatusError,
}

var statusByLabel = map[string]int{
	"off":   0,
	"idle":  1,
	"on":    2,
	"error": 3,
}

var recorderByCode = map[int]string{
	0: "disabled",
	1: "off",
	2: "on",
	3: "error",
	4: "running",
}

var intercomByCode = map[int]string{
	0: "disabled",
	1: "off",
	2: "on",
	3: "error",
}

var intercomProfileByCode = map[int]string{
	0: "low",
	1: "medium",
	2: "high",
}

var videoReturnPresetByCode = map[int]string{
	0: "off",
	1: "on",
}

var ipOutputStatusByCode = map[int]string{
	1: "idle",
	2: "on",
	3: "error",
}

// normStatusCode resolves the channel status of a raw input item. It accepts
// an int, a numeric string, or a label under either channelStatus or
// channelState, defaulting to 0 (off).
func normStatusCode(item map[string]any) int {
	if item == nil {
		return 0
	}
	v, ok := item["channelStatus"]
	if !ok {
		v = item["channelState"]
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if code, ok := statusByLabel[s]; ok {
			return code
		}
	}
	return 0
}

// inputStatus maps a status code to the four-way enum, unknown codes to off.
func inputStatus(code int) models.InputStatus {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return models.StatusOff
}

func lookupEnum(m map[int]string, code int, first string) string {
	if s, ok := m[code]; ok {
		return s
	}
	return first
}
