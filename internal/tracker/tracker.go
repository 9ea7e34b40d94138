package tracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streampilot/streampilot-server/internal/models"
	"github.com/streampilot/streampilot-server/internal/storage"
)

// Publisher receives session lifecycle notifications. Implementations must
// not block; a nil Publisher disables notifications.
type Publisher interface {
	SessionStarted(session *models.Session)
	SessionEnded(session *models.Session)
}

// sessionKey identifies one tracked (device, input) pair.
type sessionKey struct {
	DeviceID string
	InputKey string
}

// openSession is the in-memory state of one open session.
type openSession struct {
	session *models.Session
	host    string
	lastGPS *models.Position
}

// AgePoint is one liveness observation: seconds since the last stored
// sample of a host, nil when unknown.
type AgePoint struct {
	At  time.Time `json:"at"`
	Age *int      `json:"age"`
}

// Tracker owns the shared collector state: the per-device snapshot cache,
// the open-session map and the per-host age history, all guarded by one
// lock. The poller feeds it snapshots; its own ticker turns open sessions
// into sample rows. Store writes for the sample batch happen after the lock
// is released.
type Tracker struct {
	store     storage.Store
	events    Publisher
	tick      time.Duration
	ageWindow time.Duration

	mu         sync.Mutex
	snapshots  map[string]*models.Snapshot
	open       map[sessionKey]*openSession
	ages       map[string][]AgePoint
	lastTickAt time.Time
}

// New creates a tracker. events may be nil.
func New(store storage.Store, events Publisher, tick, ageWindow time.Duration) *Tracker {
	if tick <= 0 {
		tick = 2 * time.Second
	}
	if ageWindow <= 0 {
		ageWindow = 120 * time.Second
	}
	return &Tracker{
		store:     store,
		events:    events,
		tick:      tick,
		ageWindow: ageWindow,
		snapshots: make(map[string]*models.Snapshot),
		open:      make(map[sessionKey]*openSession),
		ages:      make(map[string][]AgePoint),
	}
}

// Observe ingests one normalized snapshot: it replaces the cached snapshot
// for the device (keyed by both device id and host, since some installs key
// devices by one or the other) and evaluates session transitions per input.
func (t *Tracker) Observe(ctx context.Context, deviceID, host string, snap *models.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snapshots[deviceID] = snap
	if host != "" {
		t.snapshots[host] = snap
	}

	for i := range snap.Inputs {
		in := &snap.Inputs[i]
		key := sessionKey{DeviceID: deviceID, InputKey: strconv.Itoa(in.Index)}

		proto := strings.ToLower(strings.TrimSpace(in.Protocol))
		isSST := proto != "" && strings.Contains(proto, models.ProtocolSST)
		isOn := in.Status == models.StatusOn

		// Explicitly non-SST inputs are never tracked; close anything
		// left open from before the protocol resolved.
		if proto != "" && !isSST {
			t.closeSession(ctx, key)
			continue
		}

		if isSST && isOn {
			t.openSession(ctx, key, host, in)
		}

		if !isOn {
			t.closeSession(ctx, key)
		}
	}
}

// openSession opens a session unless one is already open for the key.
// Repeated "on" observations are idempotent.
func (t *Tracker) openSession(ctx context.Context, key sessionKey, host string, in *models.Input) {
	if _, ok := t.open[key]; ok {
		return
	}

	identifier := fmt.Sprintf("input %d", in.Index+1)
	if in.Identifier != nil && *in.Identifier != "" {
		identifier = *in.Identifier
	}

	session := &models.Session{
		DeviceID:         key.DeviceID,
		DeviceHost:       host,
		InputKey:         key.InputKey,
		InputIndex:       in.Index + 1,
		InputIdentifier:  &identifier,
		InputDisplayName: in.FamilyName,
		StartedAt:        time.Now().UTC(),
	}
	if err := t.store.CreateSession(ctx, session); err != nil {
		log.Error().Err(err).Str("device", key.DeviceID).Str("input", key.InputKey).
			Msg("Failed to open live session")
		return
	}

	t.open[key] = &openSession{session: session, host: host}

	log.Info().Int64("session", session.ID).Str("device", key.DeviceID).
		Str("input", key.InputKey).Str("identifier", identifier).
		Msg("Live session started")

	if t.events != nil {
		t.events.SessionStarted(session)
	}
}

// closeSession closes the open session for the key, if any.
func (t *Tracker) closeSession(ctx context.Context, key sessionKey) {
	info, ok := t.open[key]
	if !ok {
		return
	}

	endedAt := time.Now().UTC()
	if err := t.store.EndSession(ctx, info.session.ID, endedAt); err != nil {
		log.Error().Err(err).Int64("session", info.session.ID).Msg("Failed to close live session")
		// fall through: the in-memory entry still goes away so the next
		// "on" observation opens a fresh session
	}
	delete(t.open, key)

	info.session.EndedAt = &endedAt

	log.Info().Int64("session", info.session.ID).Str("device", key.DeviceID).
		Str("input", key.InputKey).Msg("Live session ended")

	if t.events != nil {
		t.events.SessionEnded(info.session)
	}
}

// Run drives the sample ticker until the context is cancelled. Errors
// inside a tick are absorbed; the ticker always reaches the next interval.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	log.Info().Dur("interval", t.tick).Msg("Sample ticker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.tickOnce(ctx)
		}
	}
}

// tickOnce builds one batch of sample rows for all open sessions and
// inserts it after releasing the lock.
func (t *Tracker) tickOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Sample tick panicked")
		}
	}()

	t.mu.Lock()
	t.lastTickAt = time.Now()
	batch := t.buildBatch()
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := t.store.InsertSamples(ctx, batch); err != nil {
		// Batch dropped; the next tick supersedes it.
		log.Error().Err(err).Int("rows", len(batch)).Msg("Failed to insert sample batch")
		return
	}
	log.Debug().Int("rows", len(batch)).Msg("Sample batch inserted")
}

// buildBatch assembles sample rows for every open session from the cached
// snapshots. Caller holds the lock.
func (t *Tracker) buildBatch() []*models.Sample {
	now := time.Now().UTC()
	var batch []*models.Sample

	for key, info := range t.open {
		snap := t.snapshots[key.DeviceID]
		if snap == nil && info.host != "" {
			if snap = t.snapshots[info.host]; snap != nil {
				log.Debug().Str("device", key.DeviceID).Str("host", info.host).
					Msg("Ticker fell back to host-keyed snapshot")
			}
		}

		var in *models.Input
		if snap != nil {
			in = snap.Input(key.InputKey)
		}

		var gps *models.Position
		if in != nil {
			gps = extractGPS(in.Raw)
		}
		if gps == nil {
			gps = info.lastGPS
		} else {
			info.lastGPS = gps
		}

		batch = append(batch, sessionRows(info.session.ID, now, gps, in)...)
	}
	return batch
}

// sessionRows builds one row per link, or a single position/drops row when
// the input currently reports no links. One row is always emitted per open
// session per tick.
func sessionRows(sessionID int64, now time.Time, gps *models.Position, in *models.Input) []*models.Sample {
	base := func() *models.Sample {
		s := models.NewSample(sessionID, now)
		if gps != nil {
			lat, lng := gps.Latitude, gps.Longitude
			s.Latitude, s.Longitude = &lat, &lng
		}
		zero := int64(0)
		s.DropsVideo, s.DropsTS = &zero, &zero
		if in != nil {
			if in.DroppedVideo != nil {
				s.DropsVideo = in.DroppedVideo
			}
			if in.DroppedTS != nil {
				s.DropsTS = in.DroppedTS
			}
		}
		return s
	}

	if in == nil || len(in.Links) == 0 {
		return []*models.Sample{base()}
	}

	rows := make([]*models.Sample, 0, len(in.Links))
	for i := range in.Links {
		link := &in.Links[i]
		s := base()

		name := link.Name
		s.LinkName = &name

		if link.Raw != nil {
			s.OwdR = firstInt(link.Raw, "owdR", "owd_r", "owd", "oneway", "rtt")
			s.RxBitrate = linkRxBitrate(link.Raw)
			s.RxPercentLost = firstInt(link.Raw, "rx_percent_lost", "rx_percent_loss", "rx_loss_percent")
			s.RxLostNbPackets = firstInt(link.Raw, "rx_lost_nb_packets", "rx_lost_packets", "rx_lost_nb", "rx_lost")
		}
		rows = append(rows, s)
	}
	return rows
}

// linkRxBitrate resolves the receive bitrate across firmware field
// variants, including the nested {kbits,value} forms.
func linkRxBitrate(raw map[string]any) *int64 {
	if n := firstInt(raw, "rx_bitrate", "rxBitrate", "rx_kbits"); n != nil {
		return n
	}
	for _, key := range []string{"bitrate", "rx"} {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			if n := firstInt(m, "kbits", "value"); n != nil {
				return n
			}
			continue
		}
		if n := toInt(v); n != nil {
			return n
		}
	}
	return nil
}

// RecordAge appends one liveness observation for a host and prunes entries
// older than the age window.
func (t *Tracker) RecordAge(host string, age *int) {
	now := time.Now()
	cutoff := now.Add(-t.ageWindow)

	t.mu.Lock()
	defer t.mu.Unlock()

	points := append(t.ages[host], AgePoint{At: now, Age: age})
	trim := 0
	for trim < len(points) && points[trim].At.Before(cutoff) {
		trim++
	}
	t.ages[host] = points[trim:]
}

// AgeHistory returns a copy of the liveness history per host.
func (t *Tracker) AgeHistory() map[string][]AgePoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string][]AgePoint, len(t.ages))
	for host, points := range t.ages {
		out[host] = append([]AgePoint(nil), points...)
	}
	return out
}

// OpenSessions returns the number of currently open sessions.
func (t *Tracker) OpenSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// LastTickAt returns the ticker heartbeat timestamp.
func (t *Tracker) LastTickAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTickAt
}
