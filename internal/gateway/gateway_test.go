// ABOUTME: End-to-end tests for the gateway: sockets, control API, webhook, health and metrics
// ABOUTME: Runs the real servers on loopback ports against a temporary SQLite database

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/timecard-gateway/internal/config"
	"github.com/2389/timecard-gateway/internal/control"
	"github.com/2389/timecard-gateway/internal/realtime"
	"github.com/2389/timecard-gateway/internal/store"
)

type webhookSink struct {
	mu     sync.Mutex
	bodies []map[string]any
	srv    *httptest.Server
}

func newWebhookSink(t *testing.T) *webhookSink {
	t.Helper()
	s := &webhookSink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *webhookSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
server:
  grpc_addr: "127.0.0.1:0"
  http_addr: "127.0.0.1:0"
database:
  path: "`+filepath.Join(t.TempDir(), "gw.db")+`"
metrics:
  enabled: true
logging:
  level: "debug"
`), false)
	require.NoError(t, err)
	return cfg
}

type running struct {
	gw   *Gateway
	done chan error
	stop context.CancelFunc
}

func startGateway(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	gw, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, gw.store.UpsertDriver(context.Background(), &store.Driver{ID: 7, Name: "Yamada"}))

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{gw: gw, done: make(chan error, 1), stop: cancel}
	go func() { r.done <- gw.Run(ctx) }()

	select {
	case <-gw.Ready():
	case err := <-r.done:
		t.Fatalf("gateway exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not start")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(10 * time.Second):
			t.Error("gateway did not stop")
		}
	})
	return r
}

func dialDevice(t *testing.T, gw *Gateway) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+gw.HTTPAddr()+SocketPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	greeting := readFrame(t, conn)
	require.Equal(t, realtime.EventHello, greeting.Event)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f realtime.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readRelayed returns the JSON text carried in a relayed hello frame.
func readRelayed(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, realtime.EventHello, f.Event)
	var text string
	require.NoError(t, json.Unmarshal(f.Data, &text))
	return text
}

func controlClient(t *testing.T, gw *Gateway) *control.Client {
	t.Helper()
	conn, err := grpc.NewClient(gw.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return control.NewClient(conn)
}

func httpGet(t *testing.T, url string, header http.Header) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestGateway_DeviceEventIsEnrichedAndRelayed(t *testing.T) {
	sink := newWebhookSink(t)
	cfg := testConfig(t)
	cfg.Webhook.URL = sink.srv.URL
	r := startGateway(t, cfg)

	sender := dialDevice(t, r.gw)
	viewer := dialDevice(t, r.gw)
	require.Eventually(t, func() bool { return r.gw.Sessions().Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sender.WriteJSON(map[string]any{
		"event": realtime.EventMessage,
		"data":  map[string]any{"status": "tmp inserted wo pic", "ip": "10.2.0.9", "data": map[string]any{"id": 7, "tmp": 36.5}},
	}))

	for _, conn := range []*websocket.Conn{sender, viewer} {
		text := readRelayed(t, conn)
		assert.JSONEq(t, `{"status":"tmp inserted wo pic","ip":"10.2.0.9","data":{"id":7,"tmp":36.5,"name":"Yamada"}}`, text)
	}

	require.Eventually(t, func() bool { return sink.count() == 1 }, 5*time.Second, 20*time.Millisecond)

	var ips []string
	for _, s := range r.gw.Sessions().List() {
		ips = append(ips, s.IPAddress)
	}
	assert.Contains(t, ips, "10.2.0.9")
}

func TestGateway_ControlAPI(t *testing.T) {
	r := startGateway(t, testConfig(t))
	device := dialDevice(t, r.gw)
	client := controlClient(t, r.gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clients, err := client.ListClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, clients.Total)

	res, err := client.ReserveDirect(ctx, &control.ReserveDirectRequest{CardID: "IC-1", DriverID: 7})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Yamada", res.DriverName)

	pending, err := client.ListPending(ctx, &control.ListPendingRequest{})
	require.NoError(t, err)
	require.Len(t, pending.Items, 1)

	del, err := client.RequestDelete(ctx, &control.RequestDeleteRequest{CardID: "ic-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, del.Sessions)

	var inner string
	require.NoError(t, json.Unmarshal([]byte(readRelayed(t, device)), &inner))
	assert.JSONEq(t, `{"status":"delete_ic","ic":"IC-1"}`, inner)

	done, err := client.CompleteRegistration(ctx, &control.CompleteRegistrationRequest{CardID: "IC-1", DriverID: 7})
	require.NoError(t, err)
	assert.True(t, done.Success)

	res, err = client.ReserveDirect(ctx, &control.ReserveDirectRequest{CardID: "IC-1", DriverID: 7})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, control.ReasonConflict, res.Reason)
}

func TestGateway_StreamEventsSeesDeviceTraffic(t *testing.T) {
	r := startGateway(t, testConfig(t))
	client := controlClient(t, r.gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamEvents(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.gw.hub.Stream().SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	device := dialDevice(t, r.gw)
	require.NoError(t, device.WriteJSON(map[string]any{
		"event": realtime.EventMessage,
		"data":  map[string]any{"status": "insert ic_log", "ip": "unknown"},
	}))

	frame, err := stream.Recv()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"insert ic_log","ip":"unknown"}`, string(frame.Payload))
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	r := startGateway(t, testConfig(t))
	base := "http://" + r.gw.HTTPAddr()

	code, body := httpGet(t, base+"/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, _ = httpGet(t, base+"/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	device := dialDevice(t, r.gw)
	require.Eventually(t, func() bool { return r.gw.Sessions().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	code, body = httpGet(t, base+"/health/ready", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "1 devices")

	require.NoError(t, device.WriteJSON(map[string]any{"event": realtime.EventMessage, "data": map[string]any{"status": "tmp inserted"}}))
	readRelayed(t, device)

	code, body = httpGet(t, base+"/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "timecard_relay_events_total 1")
	assert.Contains(t, body, "timecard_connected_sessions 1")
}

func TestGateway_AuthEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Metrics.RequireAuth = true
	r := startGateway(t, cfg)
	client := controlClient(t, r.gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.ListClients(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, err := r.gw.verifier.Generate("dispatcher", time.Minute)
	require.NoError(t, err)
	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	_, err = client.ListClients(authed)
	assert.NoError(t, err)

	base := "http://" + r.gw.HTTPAddr()
	code, _ := httpGet(t, base+"/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = httpGet(t, base+"/metrics", http.Header{"Authorization": []string{"Bearer " + token}})
	assert.Equal(t, http.StatusOK, code)

	// device sockets never need credentials
	dialDevice(t, r.gw)
}

func TestGateway_RunReturnsNilOnCancel(t *testing.T) {
	gw, err := New(testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()
	<-gw.Ready()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	// a second shutdown is a no-op
	assert.NoError(t, gw.Shutdown(context.Background()))
}
