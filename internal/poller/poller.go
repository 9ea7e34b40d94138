package poller

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streampilot/streampilot-server/internal/models"
	"github.com/streampilot/streampilot-server/internal/storage"
	"github.com/streampilot/streampilot-server/internal/streamhub"
	"github.com/streampilot/streampilot-server/internal/tracker"
)

// State is the poller lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// ErrAlreadyRunning is returned by Start when the loop is already up.
var ErrAlreadyRunning = errors.New("poller already running")

// minBreather is slept between cycles when a cycle overran the interval, so
// a slow cycle never compounds into zero-sleep spinning.
const minBreather = 50 * time.Millisecond

// Status is the liveness view consumed by the health surface.
type Status struct {
	Running       bool          `json:"running"`
	Interval      time.Duration `json:"interval"`
	LastCycleSecs *int          `json:"last_cycle_secs"`
	LastError     *string       `json:"last_error"`
}

// Poller runs the single background polling loop: every interval it lists
// configured devices, probes and normalizes each sequentially, and feeds
// the results to the tracker. Per-device failures are recorded and never
// abort the loop.
type Poller struct {
	store     storage.Store
	collector *streamhub.Collector
	tracker   *tracker.Tracker
	interval  time.Duration

	mu          sync.Mutex
	state       State
	lastCycleAt time.Time
	lastError   string

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a poller.
func New(store storage.Store, collector *streamhub.Collector, tr *tracker.Tracker, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		store:     store,
		collector: collector,
		tracker:   tr,
		interval:  interval,
		state:     StateIdle,
	}
}

// Start launches the background loop. Starting a running poller is an error.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning || p.state == StateStopping {
		return ErrAlreadyRunning
	}

	p.state = StateRunning
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.loop(p.stopCh, p.doneCh)

	log.Info().Dur("interval", p.interval).Msg("Background poller started")
	return nil
}

// Stop asks the loop to stop accepting new cycles and waits up to timeout
// for the in-flight cycle to finish. No mid-flight cancellation happens.
func (p *Poller) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopping
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("Poller did not stop within timeout")
	}

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	return nil
}

// Status reports the poller liveness for the health surface.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Running:  p.state == StateRunning,
		Interval: p.interval,
	}
	if !p.lastCycleAt.IsZero() {
		secs := int(time.Since(p.lastCycleAt).Seconds())
		if secs < 0 {
			secs = 0
		}
		st.LastCycleSecs = &secs
	}
	if p.lastError != "" {
		e := p.lastError
		st.LastError = &e
	}
	return st
}

func (p *Poller) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			log.Info().Msg("Background poller stopped")
			return
		default:
		}

		cycleStart := time.Now()
		p.mu.Lock()
		p.lastCycleAt = cycleStart
		p.lastError = ""
		p.mu.Unlock()

		p.cycle(stopCh)

		// Sleep the remainder of the interval so a slow cycle does not
		// compound delay.
		sleep := p.interval - time.Since(cycleStart)
		if sleep <= 0 {
			sleep = minBreather
		}
		select {
		case <-stopCh:
			log.Info().Msg("Background poller stopped")
			return
		case <-time.After(sleep):
		}
	}
}

// cycle polls every configured device sequentially. Sequential on purpose:
// it bounds the load placed on the devices and the store.
func (p *Poller) cycle(stopCh <-chan struct{}) {
	ctx := context.Background()

	devices, err := p.store.ListDevices(ctx)
	if err != nil {
		p.setLastError("list devices: " + err.Error())
		log.Error().Err(err).Msg("Poller failed to list devices")
		return
	}

	for _, device := range devices {
		select {
		case <-stopCh:
			return
		default:
		}

		p.pollDevice(ctx, device)

		// Small random jitter between devices avoids synchronized bursts.
		jitter := time.Duration(rand.Int63n(int64(p.jitterCap()) + 1))
		time.Sleep(jitter)
	}
}

func (p *Poller) jitterCap() time.Duration {
	limit := p.interval / 10
	if limit > 20*time.Millisecond {
		limit = 20 * time.Millisecond
	}
	if limit <= 0 {
		limit = time.Millisecond
	}
	return limit
}

// pollDevice probes one device and feeds the snapshot to the tracker. Any
// failure, panic included, is recorded and confined to this device.
func (p *Poller) pollDevice(ctx context.Context, device *models.Device) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int64("device", device.ID).Msg("Device poll panicked")
		}
	}()

	snap, err := p.collector.Snapshot(ctx, device)
	if err != nil {
		// Recorded and retried next cycle; no partial snapshot published.
		p.setLastError(err.Error())
		log.Warn().Err(err).Int64("device", device.ID).Str("host", device.Host).Msg("Device poll failed")
	} else {
		deviceID := snap.DeviceID
		if deviceID == "" {
			deviceID = strconv.FormatInt(device.ID, 10)
		}
		p.tracker.Observe(ctx, deviceID, device.Host, snap)
	}

	p.recordAge(ctx, device.Host)
}

// recordAge updates the host's liveness history from the last stored sample.
func (p *Poller) recordAge(ctx context.Context, host string) {
	last, err := p.store.LastSampleTime(ctx, host)
	if err != nil {
		log.Error().Err(err).Str("host", host).Msg("Failed to read last sample time")
		return
	}

	var age *int
	if last != nil {
		secs := int(time.Since(*last).Seconds())
		if secs < 0 {
			secs = 0
		}
		age = &secs
	}
	p.tracker.RecordAge(host, age)
}

func (p *Poller) setLastError(msg string) {
	p.mu.Lock()
	p.lastError = msg
	p.mu.Unlock()
}
