package reader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	appconfig "arbflow/config"
	"arbflow/logger"
	"arbflow/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// stubProtocol decodes frames of the form {"bids":[[p,q]],"asks":[[p,q]]}.
type stubProtocol struct {
	url          string
	subscribeErr error
}

func (p stubProtocol) Venue() models.Venue { return models.VenueOKX }
func (p stubProtocol) Endpoint() string    { return p.url }

func (p stubProtocol) SubscribeRequest(symbol string) ([]byte, error) {
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	return []byte(`{"subscribe":"` + symbol + `"}`), nil
}

func (p stubProtocol) HeartbeatRequest() []byte { return []byte("ping") }

func (p stubProtocol) Decode(frame []byte) ([]models.Level, []models.Level, bool) {
	var msg struct {
		Bids [][2]float64 `json:"bids"`
		Asks [][2]float64 `json:"asks"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, nil, false
	}
	conv := func(in [][2]float64) []models.Level {
		out := make([]models.Level, 0, len(in))
		for _, e := range in {
			out = append(out, models.Level{Price: e[0], Quantity: e[1]})
		}
		return out
	}
	return conv(msg.Bids), conv(msg.Asks), true
}

// chanSink collects feed output.
type chanSink chan models.Event

func (s chanSink) Send(ctx context.Context, ev models.Event) bool {
	select {
	case s <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func minimalReaderConfig() appconfig.ReaderConfig {
	return appconfig.ReaderConfig{
		HeartbeatInterval: time.Hour,
		HandshakeTimeout:  time.Second,
		Backoff:           appconfig.BackoffConfig{Step: 10 * time.Millisecond, MaxAttempts: 5},
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, events <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func startFeed(t *testing.T, cfg appconfig.ReaderConfig, url string) chanSink {
	t.Helper()
	return startProtocolFeed(t, cfg, stubProtocol{url: url}, "BTC-USD-251031-140000-P")
}

func startProtocolFeed(t *testing.T, cfg appconfig.ReaderConfig, protocol Protocol, symbol string) chanSink {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sink := make(chanSink, 64)
	feed := NewFeed(cfg, protocol, symbol, "", sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := feed.Run(ctx); err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("feed did not stop after cancel")
		}
	})
	return sink
}

func TestFeedEmitsBidsThenAsksAndCloseReason(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	var sessions atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if sessions.Add(1) > 1 {
			conn.ReadMessage()
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)

		conn.WriteMessage(websocket.TextMessage, []byte(`not a book`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"bids":[[101,2]],"asks":[[102,3]]}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"))
		conn.ReadMessage()
	}))
	defer srv.Close()

	sink := startFeed(t, minimalReaderConfig(), wsURL(srv))

	select {
	case msg := <-subscribed:
		if msg != `{"subscribe":"BTC-USD-251031-140000-P"}` {
			t.Fatalf("unexpected subscribe request: %s", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe request received")
	}

	bid, ok := next(t, sink).(models.BidLevels)
	if !ok {
		t.Fatalf("expected BidLevels first")
	}
	if bid.Venue != models.VenueOKX || bid.Symbol != "BTC-USD-251031-140000-P" || len(bid.Levels) != 1 || bid.Levels[0] != (models.Level{Price: 101, Quantity: 2}) {
		t.Fatalf("unexpected bids event: %+v", bid)
	}

	ask, ok := next(t, sink).(models.AskLevels)
	if !ok {
		t.Fatalf("expected AskLevels second")
	}
	if len(ask.Levels) != 1 || ask.Levels[0] != (models.Level{Price: 102, Quantity: 3}) {
		t.Fatalf("unexpected asks event: %+v", ask)
	}

	connErr, ok := next(t, sink).(models.ConnectionError)
	if !ok {
		t.Fatalf("expected ConnectionError after close frame")
	}
	if connErr.Message != "maintenance" || connErr.Venue != models.VenueOKX {
		t.Fatalf("unexpected connection error: %+v", connErr)
	}
}

func TestFeedDefaultCloseReasonAndReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sessions atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		sessions.Add(1)
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}))
	defer srv.Close()

	sink := startFeed(t, minimalReaderConfig(), wsURL(srv))

	for i := 0; i < 2; i++ {
		connErr, ok := next(t, sink).(models.ConnectionError)
		if !ok {
			t.Fatalf("expected ConnectionError")
		}
		if connErr.Message != "connection closed by server" {
			t.Fatalf("unexpected reason: %q", connErr.Message)
		}
	}
	if sessions.Load() < 2 {
		t.Fatalf("feed did not reconnect, sessions=%d", sessions.Load())
	}
}

func TestFeedReportsConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	sink := startFeed(t, minimalReaderConfig(), url)

	for i := 0; i < 2; i++ {
		connErr, ok := next(t, sink).(models.ConnectionError)
		if !ok {
			t.Fatalf("expected ConnectionError")
		}
		if !strings.HasPrefix(connErr.Message, "failed to connect: ") {
			t.Fatalf("unexpected message: %q", connErr.Message)
		}
	}
}

func TestFeedReportsReadError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
		// drop the TCP connection without a close frame
		conn.UnderlyingConn().Close()
	}))
	defer srv.Close()

	sink := startFeed(t, minimalReaderConfig(), wsURL(srv))

	connErr, ok := next(t, sink).(models.ConnectionError)
	if !ok {
		t.Fatalf("expected ConnectionError")
	}
	if !strings.HasPrefix(connErr.Message, "websocket error: ") {
		t.Fatalf("unexpected message: %q", connErr.Message)
	}
}

func TestFeedSendsHeartbeat(t *testing.T) {
	upgrader := websocket.Upgrader{}
	heartbeats := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case heartbeats <- string(msg):
			default:
			}
		}
	}))
	defer srv.Close()

	cfg := minimalReaderConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	startFeed(t, cfg, wsURL(srv))

	select {
	case msg := <-heartbeats:
		if msg != "ping" {
			t.Fatalf("unexpected heartbeat: %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

// captureLogs records entries from the shared logger until the test ends.
// Call it before starting a feed so the feed is stopped first on cleanup.
func captureLogs(t *testing.T) *test.Hook {
	t.Helper()
	log := logger.GetLogger()
	prev := make(logrus.LevelHooks, len(log.Hooks))
	for level, hooks := range log.Hooks {
		prev[level] = append([]logrus.Hook(nil), hooks...)
	}
	level := log.GetLevel()
	log.SetLevel(logrus.InfoLevel)
	hook := new(test.Hook)
	log.AddHook(hook)
	t.Cleanup(func() {
		log.ReplaceHooks(prev)
		log.SetLevel(level)
	})
	return hook
}

// reconnectAttempts returns the attempt numbers logged by symbol's feed.
func reconnectAttempts(hook *test.Hook, symbol string) []int {
	var attempts []int
	for _, e := range hook.AllEntries() {
		if e.Message == "reconnecting" && e.Data["symbol"] == symbol {
			attempts = append(attempts, e.Data["attempt"].(int))
		}
	}
	return attempts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeedRedialsImmediatelyWhenSubscribeFails(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sessions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		sessions.Add(1)
		conn.ReadMessage()
	}))
	defer srv.Close()

	const symbol = "BTC-USD-251031-150000-C"
	hook := captureLogs(t)
	cfg := minimalReaderConfig()
	cfg.Backoff.Step = time.Hour
	sink := startProtocolFeed(t, cfg, stubProtocol{url: wsURL(srv), subscribeErr: errors.New("encode failed")}, symbol)

	// a backoff wait of an hour would stall after the first dial
	waitFor(t, "repeated dials", func() bool { return sessions.Load() >= 3 })

	if attempts := reconnectAttempts(hook, symbol); len(attempts) != 0 {
		t.Fatalf("subscribe failure entered backoff: %v", attempts)
	}
	select {
	case ev := <-sink:
		t.Fatalf("subscribe failure emitted an event: %+v", ev)
	default:
	}
}

func TestFeedResetsBackoffAfterSuccessfulConnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}))
	defer srv.Close()

	const symbol = "BTC-USD-251031-160000-P"
	hook := captureLogs(t)
	sink := startProtocolFeed(t, minimalReaderConfig(), stubProtocol{url: wsURL(srv)}, symbol)

	for i := 0; i < 3; i++ {
		if _, ok := next(t, sink).(models.ConnectionError); !ok {
			t.Fatalf("expected ConnectionError")
		}
	}
	waitFor(t, "three reconnects", func() bool { return len(reconnectAttempts(hook, symbol)) >= 3 })

	for _, attempt := range reconnectAttempts(hook, symbol) {
		if attempt != 1 {
			t.Fatalf("attempt counter not reset after connect: %v", reconnectAttempts(hook, symbol))
		}
	}
}

func TestFeedBackoffGrowsWhileConnectFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	const symbol = "BTC-USD-251031-170000-C"
	hook := captureLogs(t)
	startProtocolFeed(t, minimalReaderConfig(), stubProtocol{url: url}, symbol)

	waitFor(t, "three reconnects", func() bool { return len(reconnectAttempts(hook, symbol)) >= 3 })

	attempts := reconnectAttempts(hook, symbol)
	for i, attempt := range attempts[:3] {
		if attempt != i+1 {
			t.Fatalf("attempts = %v, want 1, 2, 3", attempts)
		}
	}
}

func TestFeedSendsHeartbeatRightAfterSubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	messages := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case messages <- string(msg):
			default:
			}
		}
	}))
	defer srv.Close()

	startFeed(t, minimalReaderConfig(), wsURL(srv))

	for i, want := range []string{`{"subscribe":"BTC-USD-251031-140000-P"}`, "ping"} {
		select {
		case msg := <-messages:
			if msg != want {
				t.Fatalf("message %d = %q, want %q", i, msg, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("message %d not received", i)
		}
	}
}
