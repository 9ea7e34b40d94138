package streamhub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streampilot/streampilot-server/internal/models"
	"github.com/streampilot/streampilot-server/internal/probe"
)

// Liveness thresholds in the device's native rate unit. Totals under these
// raise the low-bitrate flags; they drive display only, not alerting.
const (
	lowRxBitrateThreshold = 1500
	lowTxBitrateThreshold = 1000
)

// channelTypeSST tags SafeStreams inputs in the device's channelType field.
const channelTypeSST = "SAFESTREAMS"

// ErrMissingToken is returned when a device has no API credential configured.
var ErrMissingToken = errors.New("missing api_key token")

// Collector snapshots one StreamHub device: it fetches the raw endpoint
// documents through the shared probe and normalizes them into a Snapshot.
type Collector struct {
	probe           *probe.Client
	logLimit        int
	logPathOverride string
}

// NewCollector creates a collector on top of a shared probe client.
func NewCollector(p *probe.Client, logLimit int, logPathOverride string) *Collector {
	if logLimit <= 0 {
		logLimit = 200
	}
	return &Collector{probe: p, logLimit: logLimit, logPathOverride: logPathOverride}
}

// Snapshot polls the device and returns its normalized state. A failure of
// any mandatory endpoint (characteristics, config, outputs, inputs) fails
// the whole poll; optional sub-resources degrade to empty values.
func (c *Collector) Snapshot(ctx context.Context, device *models.Device) (*models.Snapshot, error) {
	if device.Token == "" {
		return nil, ErrMissingToken
	}
	base := device.BaseURL()

	chars, err := c.fetchDoc(ctx, base, device.Token, "/")
	if err != nil {
		return nil, err
	}
	cfg, err := c.fetchDoc(ctx, base, device.Token, "/config")
	if err != nil {
		return nil, err
	}
	outputs, err := c.fetchDoc(ctx, base, device.Token, "/outputs")
	if err != nil {
		return nil, err
	}
	inputsRes := c.probe.GetJSON(ctx, probe.BuildURL(base, "/inputs", device.Token, nil))
	if !inputsRes.OK {
		return nil, errors.New(inputsRes.Error())
	}

	logsOK, logLines := c.fetchLogs(ctx, base, device.Token)

	snap := &models.Snapshot{
		DeviceID:   resolveDeviceID(chars, cfg),
		Host:       device.Host,
		TakenAt:    time.Now().UTC(),
		NbChannels: getInt(chars, "nbChannel", 0),
	}

	inputsList := inputsAsList(inputsRes.Body)
	outsSDI := asList(outputs["output"])
	outsIP := asList(outputs["IPOutput"])

	snap.Inputs = make([]models.Input, snap.NbChannels)
	for idx := 0; idx < snap.NbChannels; idx++ {
		var raw map[string]any
		if idx < len(inputsList) {
			raw = asMap(inputsList[idx])
		}
		in := c.normalizeInput(ctx, base, device.Token, idx, raw, inputsList, cfg, outsSDI, outsIP)
		if logsOK {
			in.LogEvent = detectLiveEvent(logLines, idx+1, in.Identifier)
		}
		snap.Inputs[idx] = in

		switch in.Status {
		case models.StatusOn:
			snap.Counters.On++
		case models.StatusIdle:
			snap.Counters.Idle++
		case models.StatusOff:
			snap.Counters.Off++
		default:
			snap.Counters.Error++
		}
	}

	return snap, nil
}

// fetchDoc fetches a mandatory endpoint expected to hold a JSON object.
func (c *Collector) fetchDoc(ctx context.Context, base, token, path string) (map[string]any, error) {
	res := c.probe.GetJSON(ctx, probe.BuildURL(base, path, token, nil))
	if !res.OK {
		return nil, errors.New(res.Error())
	}
	return asMap(res.Body), nil
}

// resolveDeviceID picks the stable identifier reported by the device itself,
// preferring characteristics over configuration. Empty when neither reports
// one; the poller then falls back to the configured device id.
func resolveDeviceID(chars, cfg map[string]any) string {
	if id := getString(chars, "identifier"); id != nil && *id != "" {
		return *id
	}
	if id := getString(asMap(cfg["device"]), "Identifier"); id != nil && *id != "" {
		return *id
	}
	return ""
}

// inputsAsList accepts the inputs document in either array or map encoding.
// Map encodings are ordered by numeric key before indexing.
func inputsAsList(doc any) []any {
	raw := doc
	if m := asMap(doc); m != nil {
		if inner, ok := m["inputs"]; ok {
			raw = inner
		}
	}
	switch t := raw.(type) {
	case []any:
		return t
	case map[string]any:
		out := make([]any, 0, len(t))
		for _, k := range sortedNumericKeys(t) {
			out = append(out, t[k])
		}
		return out
	default:
		return nil
	}
}

// normalizeInput builds the typed state of one input channel.
func (c *Collector) normalizeInput(ctx context.Context, base, token string, idx int, raw map[string]any,
	inputsList []any, cfg map[string]any, outsSDI, outsIP []any) models.Input {

	in := models.Input{
		Index:      idx,
		Status:     inputStatus(normStatusCode(raw)),
		Name:       getString(raw, "name"),
		Identifier: getString(raw, "identifier"),
		Raw:        raw,
		Links:      []models.Link{},
		SDIOutputs: map[string]string{},
		IPOutputs:  map[string]models.IPOutput{},
		Encoders:   map[string]models.Encoder{},
		LogEvent:   models.LogEventNone,
	}
	in.RecorderStatus = lookupEnum(recorderByCode, getInt(raw, "recorderStatus", 1), "disabled")

	if raw["locationStatus"] != nil {
		in.Position = positionFromRaw(raw)
	}

	linkEncoders(&in, idx, cfg)

	channelType := ""
	if t := getString(raw, "channelType"); t != nil {
		channelType = *t
	}
	isSST := strings.Contains(channelType, channelTypeSST)

	if in.Status == models.StatusIdle && isSST {
		c.enrichSST(&in, raw, inputsList)
	}

	if in.Status == models.StatusOn {
		in.Info = firstInfoField(raw)
		if isSST {
			c.enrichSST(&in, raw, inputsList)
			c.fetchLiveStats(ctx, base, token, idx, raw, &in)
		} else if channelType != "" {
			in.Protocol = channelType
		}
		linkOutputs(&in, outsSDI, outsIP)
	}

	return in
}

// enrichSST fills in the SafeStreams-specific fields shared by idle and on
// inputs.
func (c *Collector) enrichSST(in *models.Input, raw map[string]any, inputsList []any) {
	in.Protocol = models.ProtocolSST
	in.FamilyName = getString(raw, "familyName")
	in.Message = getString(raw, "message")
	in.Version = getString(raw, "version")

	intercom := lookupEnum(intercomByCode, getInt(raw, "intercomStatus", 1), "disabled")
	in.IntercomStatus = &intercom
	profile := lookupEnum(intercomProfileByCode, getInt(raw, "intercomProfile", 1), "low")
	in.IntercomProfile = &profile

	preset := lookupEnum(videoReturnPresetByCode, getInt(raw, "videoReturnProfile", 0), "off")
	in.VideoReturn.PresetStatus = &preset

	if preset == "off" {
		srcIdx := getInt(raw, "videoReturnSrcIdx", -1)
		if srcIdx >= 0 && srcIdx < len(inputsList) {
			src := asMap(inputsList[srcIdx])
			in.VideoReturn.DecodingSource = getString(src, "identifier")
			decoder := "off"
			if normStatusCode(src) == 2 {
				decoder = "on"
			}
			in.VideoReturn.Decoder = &decoder
		}
	}
}

// fetchLiveStats gathers the preview/streamStats/linkStats sub-resources of
// an active SST input. Missing or failed sub-fetches degrade to empty
// structures; one broken sub-resource never blocks the other inputs.
func (c *Collector) fetchLiveStats(ctx context.Context, base, token string, idx int, raw map[string]any, in *models.Input) {
	ordinal := idx + 1

	if prev := c.fetchSubDoc(ctx, base, token, fmt.Sprintf("/inputs/%d/preview", ordinal)); prev != nil {
		in.Thumbnail = getString(prev, "thumbnail")
		in.AudioLevels = asMap(prev["audioLevels"])
	}

	sstats := c.fetchSubDoc(ctx, base, token, fmt.Sprintf("/inputs/%d/streamStats", ordinal))
	lstats := c.fetchSubDoc(ctx, base, token, fmt.Sprintf("/inputs/%d/linkStats", ordinal))

	linksStats := asList(lstats["links_stats"])

	var totalData, totalRx, totalTx int64
	for _, ls := range linksStats {
		m := asMap(ls)
		totalData += getInt64(m, "recv_bytes") + getInt64(m, "send_bytes")
		totalRx += getInt64(m, "rx_bitrate")
		totalTx += getInt64(m, "tx_bitrate")
	}
	in.TotalData = totalData
	in.LinkTotals = models.LinkTotals{
		ConnectedLinks: getInt(raw, "connectedLinks", 0),
		RxBitrate:      totalRx,
		TxBitrate:      totalTx,
	}
	in.LowRxBitrate = totalRx < lowRxBitrateThreshold
	in.LowTxBitrate = totalTx < lowTxBitrateThreshold

	in.Links = make([]models.Link, 0, len(linksStats))
	for j, ls := range linksStats {
		m := asMap(ls)
		name := ""
		if n := getString(m, "name"); n != nil && *n != "" {
			name = *n
		} else if n := getString(m, "itf_name"); n != nil && *n != "" {
			name = *n
		} else {
			name = fmt.Sprintf("%d", j)
		}
		in.Links = append(in.Links, models.Link{Name: name, Raw: m})
	}

	dropsVideo := sumLostPackets(asList(sstats["video"]))
	dropsTS := sumLostPackets(firstList(sstats, "mpegts-up", "mpegts_up"))
	in.DroppedVideo = &dropsVideo
	in.DroppedTS = &dropsTS
}

// fetchSubDoc fetches an optional per-input sub-resource; failures are
// logged at debug level and return nil.
func (c *Collector) fetchSubDoc(ctx context.Context, base, token, path string) map[string]any {
	res := c.probe.GetJSON(ctx, probe.BuildURL(base, path, token, nil))
	if !res.OK {
		log.Debug().Str("url", res.URL).Str("reason", res.Diagnostic).Msg("Optional sub-resource unavailable")
		return nil
	}
	return asMap(res.Body)
}

// sumLostPackets sums rx_lost_packets over a stream-stats array.
func sumLostPackets(arr []any) int64 {
	var sum int64
	for _, it := range arr {
		sum += getInt64(asMap(it), "rx_lost_packets")
	}
	return sum
}

func firstList(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if l := asList(m[k]); l != nil {
			return l
		}
	}
	return nil
}

// firstInfoField extracts the leading video/audio description from the
// inputInfo blob.
func firstInfoField(raw map[string]any) *string {
	info := getString(raw, "inputInfo")
	if info == nil {
		return nil
	}
	head := strings.SplitN(*info, " -", 2)[0]
	return &head
}

// positionFromRaw reads the plainly-reported coordinates off an input
// document. Exotic encodings are handled at sampling time by the tracker.
func positionFromRaw(raw map[string]any) *models.Position {
	lat, okLat := rawFloat(raw["latitude"])
	lng, okLng := rawFloat(raw["longitude"])
	if !okLat || !okLng {
		return nil
	}
	return &models.Position{Latitude: lat, Longitude: lng}
}

func rawFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

// linkEncoders resolves encoder linkage (and chained streaming outputs) for
// one input from the configuration document.
func linkEncoders(in *models.Input, idx int, cfg map[string]any) {
	encCfg := asMap(cfg["enc"])
	soCfg := asMap(cfg["streamingOutput"])

	for eIdx := 1; eIdx <= len(encCfg); eIdx++ {
		eName := fmt.Sprintf("%d", eIdx)
		enc := asMap(encCfg[eName])
		if enc == nil || !getBool(enc, "enable") || getInt(enc, "inputIndex", -1) != idx {
			continue
		}
		encoder := models.Encoder{
			Enabled:          true,
			InputIndex:       idx,
			StreamingOutputs: map[string]models.StreamingOutput{},
		}
		for soIdx := 1; soIdx <= len(soCfg); soIdx++ {
			soName := fmt.Sprintf("%d", soIdx)
			so := asMap(soCfg[soName])
			if so == nil || !getBool(so, "enable") || getInt(so, "encoderIndex", -1) != eIdx-1 {
				continue
			}
			encoder.StreamingOutputs[soName] = models.StreamingOutput{
				Name: getString(so, "name"),
				Mode: getString(so, "mode"),
			}
		}
		in.Encoders[eName] = encoder
	}
}

// linkOutputs resolves SDI and IP output linkage for an active input.
func linkOutputs(in *models.Input, outsSDI, outsIP []any) {
	name := ""
	if in.Name != nil {
		name = *in.Name
	}
	for j, o := range outsSDI {
		out := asMap(o)
		if out == nil || !getBool(out, "enable") {
			continue
		}
		if bound := getString(out, "input"); bound != nil && *bound == name && name != "" {
			std := ""
			if s := getString(out, "outputStandard"); s != nil {
				std = *s
			}
			in.SDIOutputs[fmt.Sprintf("%d", j+1)] = std
		}
	}
	for j, o := range outsIP {
		out := asMap(o)
		if out == nil || !getBool(out, "enable") {
			continue
		}
		if bound := getString(out, "input"); bound != nil && *bound == name && name != "" {
			in.IPOutputs[fmt.Sprintf("%d", j)] = models.IPOutput{
				Mode:        getString(out, "mode"),
				Name:        getString(out, "name"),
				Connections: out["connections"],
				Status:      lookupEnum(ipOutputStatusByCode, getInt(out, "status", 1), "idle"),
			}
		}
	}
}
