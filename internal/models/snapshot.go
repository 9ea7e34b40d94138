package models

import (
	"strconv"
	"time"
)

// InputStatus is the four-way status of a device input channel.
type InputStatus string

const (
	StatusOff   InputStatus = "off"
	StatusIdle  InputStatus = "idle"
	StatusOn    InputStatus = "on"
	StatusError InputStatus = "error"
)

// ProtocolSST marks inputs of the SafeStreams transport family. Only SST
// inputs are tracked as live sessions.
const ProtocolSST = "sst"

// LogEvent is an advisory start/stop event derived from recent device logs.
// It never gates session transitions; status stays authoritative.
type LogEvent string

const (
	LogEventNone  LogEvent = "none"
	LogEventStart LogEvent = "start"
	LogEventStop  LogEvent = "stop"
)

// Position is a GPS fix reported by a field unit.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Link is one transmission link of an active input. Raw carries the
// device-reported fields verbatim; encodings vary between firmware
// generations, so numeric extraction happens at sampling time.
type Link struct {
	Name string         `json:"name"`
	Raw  map[string]any `json:"raw,omitempty"`
}

// LinkTotals aggregates per-link bitrates for one input.
type LinkTotals struct {
	ConnectedLinks int   `json:"total_links"`
	RxBitrate      int64 `json:"total_rx_bitrate_from_links"`
	TxBitrate      int64 `json:"total_tx_bitrate_from_links"`
}

// IPOutput describes an IP output bound to an input.
type IPOutput struct {
	Mode        *string `json:"mode"`
	Name        *string `json:"name"`
	Connections any     `json:"connections,omitempty"`
	Status      string  `json:"status"`
}

// Encoder describes an encoder linked to an input, with any streaming
// outputs chained behind it.
type Encoder struct {
	Enabled          bool                       `json:"enable"`
	InputIndex       int                        `json:"input_index_linked"`
	StreamingOutputs map[string]StreamingOutput `json:"streaming_outputs,omitempty"`
}

// StreamingOutput is a streaming output linked to an encoder.
type StreamingOutput struct {
	Name *string `json:"linked_streaming_output_name"`
	Mode *string `json:"linked_streaming_output_mode"`
}

// VideoReturn carries the video-return (IFB) sub-state of an SST input.
type VideoReturn struct {
	PresetStatus   *string `json:"video_ifb_preset_status"`
	DecodingSource *string `json:"video_ifb_decoding_source"`
	Decoder        *string `json:"video_ifb_decoder"`
}

// Input is the normalized state of one input channel. Exactly one status per
// input per snapshot; optional fields are nil when the device did not report
// them.
type Input struct {
	Index  int         `json:"index"`
	Status InputStatus `json:"status"`

	// Protocol is "sst" for SafeStreams inputs, the raw channel type for
	// other families, and empty while unresolved.
	Protocol string `json:"protocol,omitempty"`

	Name       *string `json:"name"`
	Identifier *string `json:"identifier"`
	FamilyName *string `json:"family_name,omitempty"`
	Version    *string `json:"version,omitempty"`
	Message    *string `json:"message,omitempty"`
	Info       *string `json:"info,omitempty"`

	RecorderStatus  string      `json:"recorder_status,omitempty"`
	IntercomStatus  *string     `json:"intercom_status,omitempty"`
	IntercomProfile *string     `json:"intercom_profile,omitempty"`
	VideoReturn     VideoReturn `json:"video_ifb"`

	Thumbnail   *string        `json:"thumbnail,omitempty"`
	AudioLevels map[string]any `json:"audio_levels,omitempty"`

	Links      []Link     `json:"links"`
	LinkTotals LinkTotals `json:"link_totals"`
	TotalData  int64      `json:"total_data"`

	// Liveness heuristics only, not alerting.
	LowRxBitrate bool `json:"low_rx_bitrate"`
	LowTxBitrate bool `json:"low_tx_bitrate"`

	// Cumulative lost-packet counters summed from stream stats.
	DroppedVideo *int64 `json:"drops_video"`
	DroppedTS    *int64 `json:"drops_ts"`

	Position *Position `json:"position,omitempty"`

	SDIOutputs map[string]string   `json:"sdi_outputs,omitempty"`
	IPOutputs  map[string]IPOutput `json:"ip_outputs,omitempty"`
	Encoders   map[string]Encoder  `json:"encoders,omitempty"`

	LogEvent LogEvent `json:"log_event,omitempty"`

	// Raw is the unmodified input document, kept for position extraction:
	// field units report coordinates under wildly different shapes.
	Raw map[string]any `json:"-"`
}

// StatusCounters counts inputs per status across one snapshot.
type StatusCounters struct {
	On    int `json:"on"`
	Idle  int `json:"idle"`
	Off   int `json:"off"`
	Error int `json:"error"`
}

// Snapshot is the normalized view of one device at one polling cycle. It is
// replaced wholesale on every successful poll, never merged.
type Snapshot struct {
	DeviceID   string         `json:"device_id"`
	Host       string         `json:"host"`
	TakenAt    time.Time      `json:"taken_at"`
	NbChannels int            `json:"nb_channels"`
	Inputs     []Input        `json:"inputs"`
	Counters   StatusCounters `json:"counters"`
}

// Input returns the input for a string key ("0".."n-1"), nil when absent.
func (s *Snapshot) Input(key string) *Input {
	for i := range s.Inputs {
		if strconv.Itoa(s.Inputs[i].Index) == key {
			return &s.Inputs[i]
		}
	}
	return nil
}
