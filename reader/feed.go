package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	appconfig "arbflow/config"
	"arbflow/internal/metrics"
	"arbflow/logger"
	"arbflow/models"

	"github.com/gorilla/websocket"
)

const closedByServer = "connection closed by server"

// Sink receives the events a feed produces. Delivery is best effort and the
// result is informational.
type Sink interface {
	Send(ctx context.Context, ev models.Event) bool
}

// Feed keeps one websocket session to a venue alive for a single instrument
// and forwards every decoded book update to the sink as a BidLevels event
// followed by an AskLevels event. Session failures are reported as
// ConnectionError events and followed by a backoff delay.
type Feed struct {
	protocol          Protocol
	symbol            string
	localIP           string
	sink              Sink
	backoff           *Backoff
	heartbeatInterval time.Duration
	handshakeTimeout  time.Duration
	log               *logger.Entry
}

// NewFeed creates a feed for symbol. localIP optionally binds the outgoing
// connection to a local address.
func NewFeed(cfg appconfig.ReaderConfig, protocol Protocol, symbol, localIP string, sink Sink) *Feed {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	venue := protocol.Venue()
	return &Feed{
		protocol:          protocol,
		symbol:            symbol,
		localIP:           localIP,
		sink:              sink,
		backoff:           NewBackoff(cfg.Backoff),
		heartbeatInterval: heartbeat,
		handshakeTimeout:  cfg.HandshakeTimeout,
		log: logger.GetLogger().WithComponent(string(venue) + "_feed").WithFields(logger.Fields{
			"venue":  venue.String(),
			"symbol": symbol,
		}),
	}
}

// Run connects, subscribes and streams until ctx is cancelled. It never
// gives up on the venue and only returns on shutdown.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := f.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.WithError(err).Warn("failed to connect websocket")
			f.emitError(ctx, fmt.Sprintf("failed to connect: %v", err))
			if !f.wait(ctx) {
				return nil
			}
			continue
		}
		f.backoff.Reset()
		f.log.WithField("endpoint", f.protocol.Endpoint()).Info("connected")

		if err := f.subscribe(conn); err != nil {
			f.log.WithError(err).Warn("failed to subscribe")
			conn.Close()
			continue
		}
		f.log.Info("subscribed")

		reason := f.session(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		f.log.WithField("reason", reason).Warn("websocket session ended")
		f.emitError(ctx, reason)
		if !f.wait(ctx) {
			return nil
		}
	}
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: f.handshakeTimeout,
	}
	if f.localIP != "" {
		if ip := net.ParseIP(f.localIP); ip != nil {
			dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
		}
	}

	conn, _, err := dialer.DialContext(ctx, f.protocol.Endpoint(), nil)
	return conn, err
}

func (f *Feed) subscribe(conn *websocket.Conn) error {
	req, err := f.protocol.SubscribeRequest(f.symbol)
	if err != nil {
		return fmt.Errorf("build subscribe request: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, req)
}

// session runs the read loop until the connection ends and returns the
// reason to report. The heartbeat goroutine is the only writer once the
// session is subscribed; it sends the first heartbeat right away.
func (f *Feed) session(ctx context.Context, conn *websocket.Conn) string {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		ticker := time.NewTicker(f.heartbeatInterval)
		defer ticker.Stop()
		conn.WriteMessage(websocket.TextMessage, f.protocol.HeartbeatRequest())
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.WriteMessage(websocket.TextMessage, f.protocol.HeartbeatRequest())
			}
		}
	}()

	venue := string(f.protocol.Venue())
	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			// 1006 is synthesized locally for a dropped transport, not sent
			// by the peer.
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
				if closeErr.Text == "" {
					return closedByServer
				}
				return closeErr.Text
			}
			return fmt.Sprintf("websocket error: %v", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		metrics.IncrementFrameReceived(venue)
		logger.IncrementFrameRead(venue, len(frame))

		bids, asks, ok := f.protocol.Decode(frame)
		if !ok {
			metrics.IncrementFrameDropped(venue)
			f.log.WithField("size", len(frame)).Debug("ignoring non book frame")
			continue
		}

		f.sink.Send(ctx, models.BidLevels{Venue: f.protocol.Venue(), Symbol: f.symbol, Levels: bids})
		f.sink.Send(ctx, models.AskLevels{Venue: f.protocol.Venue(), Symbol: f.symbol, Levels: asks})
	}
}

func (f *Feed) emitError(ctx context.Context, message string) {
	f.sink.Send(ctx, models.ConnectionError{Venue: f.protocol.Venue(), Message: message})
}

// wait sleeps for the next backoff delay and reports false when ctx ended
// first.
func (f *Feed) wait(ctx context.Context) bool {
	delay := f.backoff.Next()
	metrics.IncrementReconnect(string(f.protocol.Venue()))
	metrics.EmitVenueMetric(nil, f.protocol.Venue(), "reconnect_delay_seconds", delay.Seconds(), "gauge")
	logger.IncrementReconnect()
	f.log.WithFields(logger.Fields{
		"attempt": f.backoff.Attempt(),
		"delay":   delay.String(),
	}).Info("reconnecting")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
