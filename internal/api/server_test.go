package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streampilot/streampilot-server/internal/config"
	"github.com/streampilot/streampilot-server/internal/models"
	"github.com/streampilot/streampilot-server/internal/poller"
	"github.com/streampilot/streampilot-server/internal/probe"
	"github.com/streampilot/streampilot-server/internal/storage"
	"github.com/streampilot/streampilot-server/internal/streamhub"
	"github.com/streampilot/streampilot-server/internal/tracker"
)

type testEnv struct {
	server  *RESTServer
	store   *storage.SQLiteStore
	tracker *tracker.Tracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 4, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	collector := streamhub.NewCollector(probe.NewClient(time.Second, 4), 200, "")
	tr := tracker.New(store, nil, time.Second, time.Minute)
	p := poller.New(store, collector, tr, time.Second)

	return &testEnv{
		server:  NewRESTServer(cfg, store, p, tr),
		store:   store,
		tracker: tr,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	return doc
}

func TestDeviceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	// creation applies the registry defaults
	w := env.do(t, http.MethodPost, "/api/v1/devices", map[string]any{"host": "10.0.0.5", "token": "secret"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, "StreamHub", created["name"])
	assert.Equal(t, "https", created["protocol"])
	assert.Equal(t, float64(443), created["port"])
	assert.Equal(t, "/rest-api/", created["api_path"])

	// host is mandatory
	w = env.do(t, http.MethodPost, "/api/v1/devices", map[string]any{"name": "hostless"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode(t, w)
	assert.Equal(t, float64(1), listed["total"])

	id := int64(created["id"].(float64))
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/devices/%d", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/devices/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/devices/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func seedSession(t *testing.T, env *testEnv) *models.Session {
	t.Helper()
	identifier := "FIELD-UNIT-A"
	sess := &models.Session{
		DeviceID:        "HUB-1",
		DeviceHost:      "10.0.0.5",
		InputKey:        "0",
		InputIndex:      1,
		InputIdentifier: &identifier,
		StartedAt:       time.Now().UTC(),
	}
	require.NoError(t, env.store.CreateSession(context.Background(), sess))
	return sess
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sess := seedSession(t, env)

	sample := models.NewSample(sess.ID, time.Now().UTC())
	link := "eth0"
	sample.LinkName = &link
	require.NoError(t, env.store.InsertSamples(context.Background(), []*models.Sample{sample}))

	w := env.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d", sess.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "HUB-1", got["device_id"])

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d/samples", sess.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	samples := decode(t, w)
	assert.Equal(t, float64(1), samples["total"])

	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/sessions/%d/title", sess.ID), map[string]any{"title": "match day 3"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d", sess.ID), nil)
	assert.Equal(t, "match day 3", decode(t, w)["title"])

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/sessions/%d", sess.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d", sess.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/sessions/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/sessions/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/sessions/9999/title", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.store.CreateDevice(context.Background(),
		&models.Device{Name: "StreamHub", Protocol: "https", Host: "10.0.0.5", Port: 443, Token: "secret"}))

	sess := seedSession(t, env)
	require.NoError(t, env.store.InsertSamples(context.Background(),
		[]*models.Sample{models.NewSample(sess.ID, time.Now().UTC())}))

	age := 2
	env.tracker.RecordAge("10.0.0.5", &age)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	doc := decode(t, w)

	pollerDoc, ok := doc["poller"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, pollerDoc["running"])
	assert.Nil(t, pollerDoc["last_error"])

	devices, ok := doc["devices"].([]any)
	require.True(t, ok)
	require.Len(t, devices, 1)
	dev := devices[0].(map[string]any)
	assert.Equal(t, "10.0.0.5", dev["host"])
	assert.NotNil(t, dev["last_sample_ts"])
	assert.Equal(t, float64(1), dev["active_sessions"])

	hist, ok := dev["age_history"].([]any)
	require.True(t, ok)
	require.Len(t, hist, 1)
	point := hist[0].(map[string]any)
	assert.Equal(t, float64(2), point["age"])
}
