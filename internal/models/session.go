package models

import "time"

// Session represents one contiguous interval during which a (device, input)
// pair was actively transmitting. EndedAt is nil while the session is open;
// at most one open session exists per (device_id, input_key).
type Session struct {
	ID               int64      `json:"id" db:"id"`
	DeviceID         string     `json:"device_id" db:"device_id"`
	DeviceHost       string     `json:"device_host" db:"device_host"`
	InputKey         string     `json:"input_key" db:"input_key"`
	InputIndex       int        `json:"input_index" db:"input_index"`
	InputIdentifier  *string    `json:"input_identifier" db:"input_identifier"`
	InputDisplayName *string    `json:"input_display_name" db:"input_display_name"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	EndedAt          *time.Time `json:"ended_at" db:"ended_at"`
	Title            *string    `json:"title" db:"title"`
}

// Open reports whether the session is still running.
func (s *Session) Open() bool {
	return s.EndedAt == nil
}

// Sample is one timestamped observation belonging to a session: either
// session-wide (position, cumulative drop counters) or per-link. Samples are
// append-only. Calendar fields are decomposed for query convenience.
type Sample struct {
	ID        int64     `json:"id" db:"id"`
	SessionID int64     `json:"session_id" db:"session_id"`
	TS        time.Time `json:"ts" db:"ts"`

	Year   int `json:"year" db:"year"`
	Month  int `json:"month" db:"month"`
	Day    int `json:"day" db:"day"`
	Hour   int `json:"hour" db:"hour"`
	Minute int `json:"minute" db:"minute"`
	Second int `json:"second" db:"second"`

	Latitude  *float64 `json:"latitude" db:"latitude"`
	Longitude *float64 `json:"longitude" db:"longitude"`

	DropsVideo *int64 `json:"drops_video" db:"drops_video"`
	DropsTS    *int64 `json:"drops_ts" db:"drops_ts"`

	LinkName        *string `json:"link_name" db:"link_name"`
	OwdR            *int64  `json:"owdR" db:"owdR"`
	RxBitrate       *int64  `json:"rx_bitrate" db:"rx_bitrate"`
	RxPercentLost   *int64  `json:"rx_percent_lost" db:"rx_percent_lost"`
	RxLostNbPackets *int64  `json:"rx_lost_nb_packets" db:"rx_lost_nb_packets"`
}

// NewSample returns a sample stamped with ts and its decomposed calendar
// fields in UTC.
func NewSample(sessionID int64, ts time.Time) *Sample {
	ts = ts.UTC()
	return &Sample{
		SessionID: sessionID,
		TS:        ts,
		Year:      ts.Year(),
		Month:     int(ts.Month()),
		Day:       ts.Day(),
		Hour:      ts.Hour(),
		Minute:    ts.Minute(),
		Second:    ts.Second(),
	}
}
