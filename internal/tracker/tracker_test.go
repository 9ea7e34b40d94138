package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streampilot/streampilot-server/internal/models"
	"github.com/streampilot/streampilot-server/internal/storage"
)

// memStore is a minimal in-memory Store for tracker tests.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*models.Session
	samples  []*models.Sample
	failNext error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[int64]*models.Session)}
}

func (s *memStore) CreateDevice(ctx context.Context, d *models.Device) error { return nil }
func (s *memStore) GetDevice(ctx context.Context, id int64) (*models.Device, error) {
	return nil, storage.ErrNotFound
}
func (s *memStore) ListDevices(ctx context.Context) ([]*models.Device, error) { return nil, nil }
func (s *memStore) DeleteDevice(ctx context.Context, id int64) error          { return nil }

func (s *memStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.nextID++
	session.ID = s.nextID
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *memStore) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) EndSession(ctx context.Context, id int64, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if sess.EndedAt == nil {
		sess.EndedAt = &endedAt
	}
	return nil
}

func (s *memStore) SetSessionTitle(ctx context.Context, id int64, title string) error { return nil }
func (s *memStore) ListSessions(ctx context.Context) ([]*models.Session, error)       { return nil, nil }
func (s *memStore) DeleteSession(ctx context.Context, id int64) error                 { return nil }

func (s *memStore) InsertSamples(ctx context.Context, samples []*models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *memStore) ListSamples(ctx context.Context, sessionID int64) ([]*models.Sample, error) {
	return nil, nil
}
func (s *memStore) LastSampleTime(ctx context.Context, host string) (*time.Time, error) {
	return nil, nil
}
func (s *memStore) ActiveSessionCount(ctx context.Context, host string) (int, error) { return 0, nil }
func (s *memStore) Close() error                                                     { return nil }

func (s *memStore) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *memStore) sampleRows() []*models.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Sample(nil), s.samples...)
}

// recordingPublisher captures lifecycle notifications.
type recordingPublisher struct {
	mu      sync.Mutex
	started []int64
	ended   []int64
}

func (p *recordingPublisher) SessionStarted(s *models.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, s.ID)
}

func (p *recordingPublisher) SessionEnded(s *models.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = append(p.ended, s.ID)
}

func sstInput(index int, status models.InputStatus) models.Input {
	return models.Input{Index: index, Status: status, Protocol: models.ProtocolSST}
}

func snapWith(host string, inputs ...models.Input) *models.Snapshot {
	return &models.Snapshot{Host: host, TakenAt: time.Now().UTC(), NbChannels: len(inputs), Inputs: inputs}
}

func TestObserveOpensSessionOnTransition(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	tr := New(store, pub, time.Second, time.Minute)
	ctx := context.Background()

	// off -> idle never opens
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOff)))
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusIdle)))
	assert.Equal(t, 0, store.sessionCount())

	// idle -> on opens exactly one
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	assert.Equal(t, 1, store.sessionCount())
	assert.Equal(t, 1, tr.OpenSessions())

	// repeated on is idempotent
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	assert.Equal(t, 1, store.sessionCount())

	pub.mu.Lock()
	assert.Equal(t, []int64{1}, pub.started)
	pub.mu.Unlock()

	sess, err := store.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "HUB-1", sess.DeviceID)
	assert.Equal(t, "0", sess.InputKey)
	assert.Equal(t, 1, sess.InputIndex)
	assert.True(t, sess.Open())
}

func TestObserveClosesSessionOnDrop(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	tr := New(store, pub, time.Second, time.Minute)
	ctx := context.Background()

	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	require.Equal(t, 1, tr.OpenSessions())

	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusIdle)))
	assert.Equal(t, 0, tr.OpenSessions())

	sess, err := store.GetSession(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, sess.EndedAt)

	pub.mu.Lock()
	assert.Equal(t, []int64{1}, pub.ended)
	pub.mu.Unlock()

	// a fresh on opens a new session, not the old one
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	assert.Equal(t, 2, store.sessionCount())
}

func TestObserveIgnoresNonSSTInputs(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, time.Second, time.Minute)
	ctx := context.Background()

	in := models.Input{Index: 0, Status: models.StatusOn, Protocol: "RTMP"}
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", in))
	assert.Equal(t, 0, store.sessionCount())
}

func TestObserveNonSSTClosesLeftoverSession(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, time.Second, time.Minute)
	ctx := context.Background()

	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	require.Equal(t, 1, tr.OpenSessions())

	// protocol resolves to something else while still reporting on
	in := models.Input{Index: 0, Status: models.StatusOn, Protocol: "RTMP"}
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", in))
	assert.Equal(t, 0, tr.OpenSessions())
}

func TestObserveCreateFailureLeavesNothingOpen(t *testing.T) {
	store := newMemStore()
	store.failNext = storage.ErrDuplicateKey
	tr := New(store, nil, time.Second, time.Minute)
	ctx := context.Background()

	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	assert.Equal(t, 0, tr.OpenSessions())

	// next observation retries and succeeds
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	assert.Equal(t, 1, tr.OpenSessions())
}

func TestTickEmitsOneRowPerLink(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, time.Second, time.Minute)
	ctx := context.Background()

	drops := int64(4)
	in := sstInput(0, models.StatusOn)
	in.DroppedVideo = &drops
	in.Raw = map[string]any{"latitude": 48.85, "longitude": 2.35}
	in.Links = []models.Link{
		{Name: "eth0", Raw: map[string]any{"owdR": float64(80), "rx_bitrate": float64(3000), "rx_percent_lost": float64(1), "rx_lost_nb_packets": float64(12)}},
		{Name: "modem1", Raw: map[string]any{"owd": "95 ms", "bitrate": map[string]any{"kbits": float64(1200)}}},
	}
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", in))

	tr.tickOnce(ctx)

	rows := store.sampleRows()
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, int64(1), first.SessionID)
	require.NotNil(t, first.LinkName)
	assert.Equal(t, "eth0", *first.LinkName)
	require.NotNil(t, first.OwdR)
	assert.Equal(t, int64(80), *first.OwdR)
	require.NotNil(t, first.RxBitrate)
	assert.Equal(t, int64(3000), *first.RxBitrate)
	require.NotNil(t, first.RxPercentLost)
	assert.Equal(t, int64(1), *first.RxPercentLost)
	require.NotNil(t, first.RxLostNbPackets)
	assert.Equal(t, int64(12), *first.RxLostNbPackets)
	require.NotNil(t, first.Latitude)
	assert.InDelta(t, 48.85, *first.Latitude, 1e-9)
	require.NotNil(t, first.DropsVideo)
	assert.Equal(t, int64(4), *first.DropsVideo)
	require.NotNil(t, first.DropsTS)
	assert.Equal(t, int64(0), *first.DropsTS)

	second := rows[1]
	require.NotNil(t, second.LinkName)
	assert.Equal(t, "modem1", *second.LinkName)
	require.NotNil(t, second.OwdR)
	assert.Equal(t, int64(95), *second.OwdR)
	require.NotNil(t, second.RxBitrate)
	assert.Equal(t, int64(1200), *second.RxBitrate)
	assert.Nil(t, second.RxPercentLost)
}

func TestTickEmitsBaseRowWithoutLinks(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, time.Second, time.Minute)
	ctx := context.Background()

	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	tr.tickOnce(ctx)

	rows := store.sampleRows()
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].LinkName)
	assert.Nil(t, rows[0].Latitude)
	require.NotNil(t, rows[0].DropsVideo)
	assert.Equal(t, int64(0), *rows[0].DropsVideo)
}

func TestTickReusesLastKnownGPS(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, time.Second, time.Minute)
	ctx := context.Background()

	in := sstInput(0, models.StatusOn)
	in.Raw = map[string]any{"latitude": "48,85", "longitude": "2,35"}
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", in))
	tr.tickOnce(ctx)

	// fix disappears from the next snapshot
	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))
	tr.tickOnce(ctx)

	rows := store.sampleRows()
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.NotNil(t, row.Latitude)
		assert.InDelta(t, 48.85, *row.Latitude, 1e-9)
		require.NotNil(t, row.Longitude)
		assert.InDelta(t, 2.35, *row.Longitude, 1e-9)
	}
}

func TestTickInsertFailureDropsBatch(t *testing.T) {
	store := newMemStore()
	tr := New(store, nil, time.Second, time.Minute)
	ctx := context.Background()

	tr.Observe(ctx, "HUB-1", "10.0.0.5", snapWith("10.0.0.5", sstInput(0, models.StatusOn)))

	store.failNext = context.DeadlineExceeded
	tr.tickOnce(ctx)
	assert.Empty(t, store.sampleRows())

	// next tick works again
	tr.tickOnce(ctx)
	assert.Len(t, store.sampleRows(), 1)
}

func TestRecordAgePrunesWindow(t *testing.T) {
	tr := New(newMemStore(), nil, time.Second, 50*time.Millisecond)

	age := 3
	tr.RecordAge("10.0.0.5", &age)
	tr.RecordAge("10.0.0.5", nil)

	hist := tr.AgeHistory()
	require.Len(t, hist["10.0.0.5"], 2)
	require.NotNil(t, hist["10.0.0.5"][0].Age)
	assert.Equal(t, 3, *hist["10.0.0.5"][0].Age)
	assert.Nil(t, hist["10.0.0.5"][1].Age)

	time.Sleep(60 * time.Millisecond)
	tr.RecordAge("10.0.0.5", &age)

	hist = tr.AgeHistory()
	assert.Len(t, hist["10.0.0.5"], 1)
}
