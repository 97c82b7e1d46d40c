package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/model"
	"Go2NetCapture/internal/store"
	"Go2NetCapture/internal/synth"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type manualTicker struct {
	c chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               {}

type harness struct {
	ctl    *capture.Controller
	ticker *manualTicker
	srv    *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	st, err := store.Open(config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "captures.json"),
		MaxFileSize: datasize.MB,
		SyncTimeout: "1s",
	}, log)
	require.NoError(t, err)

	ticker := &manualTicker{c: make(chan time.Time)}
	ctl := capture.NewController(config.CaptureConfig{
		Backend:          config.BackendNone,
		TickInterval:     "1h",
		SubscribeRetries: 1,
		BackendTimeout:   "1s",
	}, nil, st, log,
		capture.WithGenerator(synth.NewSeeded(7)),
		capture.WithTickerFactory(func(time.Duration) capture.Ticker { return ticker }),
	)

	srv := httptest.NewServer(NewRouter(ctl, log))
	t.Cleanup(func() {
		srv.Close()
		ctl.Close()
		st.Close()
	})
	return &harness{ctl: ctl, ticker: ticker, srv: srv}
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type statusBody struct {
	Session struct {
		State     string   `json:"state"`
		Interface string   `json:"interface"`
		Protocols []string `json:"protocols"`
		Status    string   `json:"status"`
	} `json:"session"`
}

// capturePackets starts a synthetic capture, feeds it n ticks and stops it.
func (h *harness) capturePackets(t *testing.T, n int) {
	t.Helper()
	resp := h.do(t, "POST", "/api/v1/capture/start", capture.StartRequest{Protocols: []model.Protocol{model.ProtocolTCP, model.ProtocolDNS}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for i := 0; i < n; i++ {
		h.ticker.c <- time.Now()
	}
	require.Eventually(t, func() bool { return len(h.ctl.Packets(0)) == n }, time.Second, 5*time.Millisecond)
	resp = h.do(t, "POST", "/api/v1/capture/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCaptureLifecycle(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "GET", "/api/v1/capture", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", decodeBody[statusBody](t, resp).Session.State)

	resp = h.do(t, "POST", "/api/v1/capture/start", capture.StartRequest{Interface: "eth0", Protocols: []model.Protocol{model.ProtocolUDP}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	started := decodeBody[statusBody](t, resp)
	assert.Equal(t, "capturing", started.Session.State)
	assert.Equal(t, "eth0", started.Session.Interface)
	assert.Equal(t, "Capturing on eth0 (UDP) - simulated preview", started.Session.Status)

	h.ticker.c <- time.Now()
	require.Eventually(t, func() bool { return len(h.ctl.Packets(0)) == 1 }, time.Second, 5*time.Millisecond)

	resp = h.do(t, "GET", "/api/v1/capture/packets?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	packets := decodeBody[[]model.PacketRecord](t, resp)
	require.Len(t, packets, 1)
	assert.Equal(t, model.ProtocolUDP, packets[0].Protocol)

	resp = h.do(t, "POST", "/api/v1/capture/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stopped := decodeBody[statusBody](t, resp)
	assert.Equal(t, "stopped", stopped.Session.State)
	assert.Equal(t, "Capture stopped. Saved 1 packets.", stopped.Session.Status)

	resp = h.do(t, "GET", "/api/v1/capture", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := decodeBody[map[string]map[string]any](t, resp)
	require.Contains(t, raw["session"], "durationMs")
	assert.Equal(t, float64(h.ctl.Snapshot().Session.Duration.Milliseconds()), raw["session"]["durationMs"])

	resp = h.do(t, "POST", "/api/v1/capture/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := decodeBody[appliedResponse](t, resp)
	assert.True(t, cleared.Applied)
	assert.Zero(t, cleared.Capture.Session.Duration)
	assert.Empty(t, h.ctl.Packets(0))
}

func TestStart_ValidationErrors(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "POST", "/api/v1/capture/start", capture.StartRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, "POST", "/api/v1/capture/start", capture.StartRequest{Protocols: []model.Protocol{"SCTP"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest("POST", h.srv.URL+"/api/v1/capture/start", bytes.NewBufferString("{broken"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	resp = h.do(t, "GET", "/api/v1/capture/packets?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetFilters(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "PUT", "/api/v1/capture/filters", filtersRequest{Protocols: []model.Protocol{model.ProtocolARP}, TextFilter: " arp "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s := h.ctl.Snapshot().Session
	assert.Equal(t, []model.Protocol{model.ProtocolARP}, s.Protocols)
	assert.Equal(t, "arp", s.TextFilter)

	resp = h.do(t, "PUT", "/api/v1/capture/filters", filtersRequest{Protocols: []model.Protocol{"QUIC"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExport(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "GET", "/api/v1/capture/export?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "No packets to export."}, decodeBody[map[string]string](t, resp))

	h.capturePackets(t, 3)

	resp = h.do(t, "GET", "/api/v1/capture/export?format=pcap", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.tcpdump.pcap", resp.Header.Get("Content-Type"))
	assert.Regexp(t, `^attachment; filename="capture-\d+\.pcap"$`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "Exported capture as pcap.", resp.Header.Get("X-Capture-Status"))

	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 24+3*76, body.Len())

	resp = h.do(t, "GET", "/api/v1/capture/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]model.PacketRecord](t, resp), 3)

	resp = h.do(t, "GET", "/api/v1/capture/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaves(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "POST", "/api/v1/saves", saveRequest{Label: "empty"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	h.capturePackets(t, 2)

	resp = h.do(t, "POST", "/api/v1/saves", saveRequest{Label: "first"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	saved := decodeBody[model.SavedCaptureSummary](t, resp)
	assert.Equal(t, "first", saved.Label)
	assert.Equal(t, 2, saved.PacketCount)

	resp = h.do(t, "GET", "/api/v1/saves", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]model.SavedCaptureSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, saved.ID, list[0].ID)

	resp = h.do(t, "POST", "/api/v1/capture/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, "POST", "/api/v1/saves/"+saved.ID+"/load", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loaded := decodeBody[loadResponse](t, resp)
	assert.Equal(t, "Loaded saved capture: first", loaded.Capture.Session.Status)
	assert.Len(t, h.ctl.Packets(0), 2)

	resp = h.do(t, "GET", "/api/v1/saves/"+saved.ID+"/export?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	resp = h.do(t, "POST", "/api/v1/saves/pcap-missing/load", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, "GET", "/api/v1/saves/pcap-missing/export", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, "DELETE", "/api/v1/saves", deleteRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, "DELETE", "/api/v1/saves", deleteRequest{IDs: []string{saved.ID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"deleted": 1}, decodeBody[map[string]int](t, resp))
	assert.Empty(t, h.ctl.SavedCaptures())
}

func TestLoad_RejectedWhileCapturing(t *testing.T) {
	h := newHarness(t)
	h.capturePackets(t, 1)
	saved, err := h.ctl.Save(context.Background(), "kept")
	require.NoError(t, err)

	resp := h.do(t, "POST", "/api/v1/capture/start", capture.StartRequest{Protocols: []model.Protocol{model.ProtocolTCP}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, "POST", "/api/v1/saves/"+saved.ID+"/load", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInterfacesAndReadiness_WithoutBackend(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "GET", "/api/v1/interfaces", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]model.Interface](t, resp))

	resp = h.do(t, "GET", "/api/v1/backend/readiness", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[model.Readiness](t, resp).Installed)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &model.ValidationError{Field: "x", Reason: "y"}, http.StatusBadRequest},
		{"not found", &model.PersistenceError{Op: "load", Err: model.ErrNotFound}, http.StatusNotFound},
		{"persistence", &model.PersistenceError{Op: "save", Err: assert.AnError}, http.StatusInternalServerError},
		{"backend", &model.BackendError{Op: "start", Err: assert.AnError}, http.StatusBadGateway},
		{"no packets", model.ErrNoPackets, http.StatusConflict},
		{"other", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusCode(tt.err))
		})
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	hs := NewHealthServer(h.ctl)

	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(model.StateError))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(model.StateStopping))
}
