// Registers:
//
//	#arbflow_feed_reconnects_total
//	#arbflow_frames_received_total
//	#arbflow_frames_dropped_total
//	#arbflow_opportunities_total
//	#go_* and process_* system metrics
//
// Exposes them on <listen_addr>/metrics using the Prometheus HTTP handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbflow/logger"
)

var (
	registry = prometheus.NewRegistry()

	feedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbflow_feed_reconnects_total",
			Help: "Number of times a venue feed entered backoff",
		},
		[]string{"venue"},
	)

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbflow_frames_received_total",
			Help: "Number of websocket text frames read from a venue",
		},
		[]string{"venue"},
	)

	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbflow_frames_dropped_total",
			Help: "Number of frames that did not decode into a book update",
		},
		[]string{"venue"},
	)

	opportunities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbflow_opportunities_total",
			Help: "Number of arbitrage opportunities reported",
		},
		[]string{"buy_venue", "sell_venue"},
	)
)

func init() {
	registry.MustRegister(feedReconnects, framesReceived, framesDropped, opportunities)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the arbflow registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables
// the endpoint.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.GetLogger().WithComponent("metrics").WithField("addr", addr).Info("serving prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// IncrementReconnect counts a feed entering backoff.
func IncrementReconnect(venue string) {
	feedReconnects.WithLabelValues(venue).Inc()
}

// IncrementFrameReceived counts a text frame read from a venue.
func IncrementFrameReceived(venue string) {
	framesReceived.WithLabelValues(venue).Inc()
}

// IncrementFrameDropped counts a frame the venue decoder rejected.
func IncrementFrameDropped(venue string) {
	framesDropped.WithLabelValues(venue).Inc()
}

// IncrementOpportunity counts a reported opportunity.
func IncrementOpportunity(buyVenue, sellVenue string) {
	opportunities.WithLabelValues(buyVenue, sellVenue).Inc()
}
