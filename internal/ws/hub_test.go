package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holderwatch/holderwatch/internal/alerts"
	"github.com/holderwatch/holderwatch/internal/compute"
	"github.com/holderwatch/holderwatch/internal/engine"
	"github.com/holderwatch/holderwatch/internal/ws"
	"github.com/holderwatch/holderwatch/pkg/types"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

type fakeView struct {
	mu      sync.Mutex
	samples []types.Sample
	stats   types.Stats
	subs    []func(engine.Update)
}

func (f *fakeView) Snapshot() []types.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Sample(nil), f.samples...)
}
func (f *fakeView) Aggregate() types.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}
func (f *fakeView) Status() engine.Status { return engine.Status{State: "idle", Health: "healthy"} }
func (f *fakeView) Filter(r compute.Range) compute.View {
	return compute.Filter(f.Snapshot(), r, time.Now())
}
func (f *fakeView) TriggerSync() bool           { return true }
func (f *fakeView) Insight() types.Report       { return types.Report{} }
func (f *fakeView) Feed(int) []engine.FeedEntry { return nil }
func (f *fakeView) Alerts() []alerts.Alert      { return nil }
func (f *fakeView) RefreshInsight(context.Context) (types.Report, error) {
	return types.Report{}, nil
}

func (f *fakeView) Subscribe(fn func(engine.Update)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeView) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs) > 0
}

func (f *fakeView) publish(u engine.Update) {
	f.mu.Lock()
	subs := append(([]func(engine.Update))(nil), f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(u)
	}
}

func (f *fakeView) set(stats types.Stats, samples ...types.Sample) {
	f.mu.Lock()
	f.stats = stats
	f.samples = samples
	f.mu.Unlock()
}

// startHub starts a test HTTP server with the hub as its handler and runs
// the hub loop until the returned cancel is called.
func startHub(t *testing.T, v *fakeView) (wsURL string, hub *ws.Hub, cancel func()) {
	t.Helper()

	hub = ws.New(v, testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)
	require.Eventually(t, v.subscribed, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m ws.Message
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

// readEvent skips messages until one with the given event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) ws.Message {
	t.Helper()
	for i := 0; i < 50; i++ {
		if m := readMessage(t, conn); m.Event == event {
			return m
		}
	}
	t.Fatalf("no %q event received", event)
	return ws.Message{}
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateSnapshot(t *testing.T) {
	v := &fakeView{}
	v.set(types.Stats{Current: 1500, ATH: 1500}, types.Sample{Value: 1500})
	wsURL, _, _ := startHub(t, v)

	m := readMessage(t, dial(t, wsURL))
	assert.Equal(t, ws.EventSnapshot, m.Event)
	assert.Equal(t, int64(1500), m.Data.Stats.Current)
	require.NotNil(t, m.Data.Latest)
	assert.Equal(t, int64(1500), m.Data.Latest.Value)
	assert.Equal(t, "idle", m.Data.Status.State)
}

func TestHub_EmptyHistory_NoLatest(t *testing.T) {
	wsURL, _, _ := startHub(t, &fakeView{})

	m := readMessage(t, dial(t, wsURL))
	assert.Nil(t, m.Data.Latest)
}

func TestHub_PushesEngineUpdates(t *testing.T) {
	v := &fakeView{}
	wsURL, _, _ := startHub(t, v)
	conn := dial(t, wsURL)
	readMessage(t, conn)

	smp := types.Sample{Value: 1520, Delta: 20}
	v.publish(engine.Update{
		Sample:  &smp,
		Outcome: "appended",
		Stats:   types.Stats{Current: 1520},
		Alerts:  []alerts.Alert{{RuleName: "surge", State: alerts.StateFiring}},
	})

	m := readEvent(t, conn, ws.EventUpdate)
	assert.Equal(t, "appended", m.Data.Outcome)
	require.NotNil(t, m.Data.Latest)
	assert.Equal(t, int64(20), m.Data.Latest.Delta)
	require.Len(t, m.Data.Alerts, 1)
	assert.Equal(t, "surge", m.Data.Alerts[0].RuleName)
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	v := &fakeView{}
	wsURL, _, _ := startHub(t, v)
	conn := dial(t, wsURL)
	readMessage(t, conn)

	v.set(types.Stats{Current: 1600}, types.Sample{Value: 1600})

	// The next tick carries the new state.
	for i := 0; ; i++ {
		require.Less(t, i, 50, "no snapshot with the new state")
		m := readEvent(t, conn, ws.EventSnapshot)
		if m.Data.Stats.Current == 1600 {
			break
		}
	}
}

func TestHub_CountClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, &fakeView{})

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
		readMessage(t, conns[i])
	}
	require.Eventually(t, func() bool { return hub.Count() == 3 }, time.Second, 5*time.Millisecond)

	conns[0].Close()
	assert.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, &fakeView{})

	conn := dial(t, wsURL)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := ws.New(&fakeView{}, testInterval)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
