package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"arbflow/arbitrage"
	"arbflow/internal/metrics"
	"arbflow/logger"
	"arbflow/models"
	"arbflow/orderbook"
)

// Reporter publishes a detected opportunity.
type Reporter interface {
	Report(opp models.Opportunity) error
}

type CoordinatorStats struct {
	EventsProcessed       int64
	ConnectionErrors      int64
	OpportunitiesDetected int64
	OpportunitiesReported int64
}

// Coordinator is the single consumer of the event stream. It owns the book of
// every venue, runs detection after each event once both venues have a book
// and reports an opportunity only when it differs from the last one
// reported.
type Coordinator struct {
	events   <-chan models.Event
	reporter Reporter
	books    map[models.Venue]*orderbook.Book
	last     *models.Fingerprint

	mu      sync.Mutex
	running bool
	log     *logger.Log

	eventsProcessed       int64
	connectionErrors      int64
	opportunitiesDetected int64
	opportunitiesReported int64
}

func NewCoordinator(events <-chan models.Event, reporter Reporter) *Coordinator {
	return &Coordinator{
		events:   events,
		reporter: reporter,
		books:    make(map[models.Venue]*orderbook.Book),
		log:      logger.GetLogger(),
	}
}

// Run drains events until the stream closes or ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.running = true
	c.mu.Unlock()

	log := c.log.WithComponent("coordinator")
	log.Info("coordinator started")
	defer func() {
		log.WithFields(c.statsFields()).Info("coordinator stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.events:
			if !ok {
				return nil
			}
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev models.Event) {
	atomic.AddInt64(&c.eventsProcessed, 1)

	switch e := ev.(type) {
	case models.BidLevels:
		c.book(e.Venue, e.Symbol).ApplyBids(e.Levels)
	case models.AskLevels:
		c.book(e.Venue, e.Symbol).ApplyAsks(e.Levels)
	case models.ConnectionError:
		atomic.AddInt64(&c.connectionErrors, 1)
		c.log.WithComponent("coordinator").WithFields(logger.Fields{
			"venue": e.Venue.String(),
		}).Warn(fmt.Sprintf("Connection error from %s: %s", e.Venue, e.Message))
	default:
		panic(fmt.Sprintf("processor: unhandled event %T", ev))
	}

	c.detect()
}

// book returns the venue's book, creating it with symbol on first use.
func (c *Coordinator) book(venue models.Venue, symbol string) *orderbook.Book {
	b, ok := c.books[venue]
	if !ok {
		b = orderbook.New(venue, symbol)
		c.books[venue] = b
		c.log.WithComponent("coordinator").WithFields(logger.Fields{
			"venue":  venue.String(),
			"symbol": symbol,
		}).Info("order book created")
	}
	return b
}

func (c *Coordinator) detect() {
	okx, hasOKX := c.books[models.VenueOKX]
	deribit, hasDeribit := c.books[models.VenueDeribit]
	if !hasOKX || !hasDeribit {
		return
	}

	opp, ok := arbitrage.Detect(okx, deribit)
	if !ok {
		return
	}
	atomic.AddInt64(&c.opportunitiesDetected, 1)

	fp := opp.Fingerprint()
	if c.last != nil && c.last.Equal(fp) {
		return
	}
	c.last = &fp
	c.report(opp)
}

func (c *Coordinator) report(opp models.Opportunity) {
	atomic.AddInt64(&c.opportunitiesReported, 1)

	fields := logger.Fields{
		"report_id":    uuid.NewString(),
		"symbol":       opp.Symbol,
		"buy_venue":    opp.BuyVenue.String(),
		"sell_venue":   opp.SellVenue.String(),
		"legs":         len(opp.Legs),
		"total_volume": opp.TotalVolume.String(),
		"total_profit": opp.TotalProfit.String(),
	}
	log := c.log.WithComponent("coordinator").WithFields(fields)

	if err := c.reporter.Report(opp); err != nil {
		log.WithError(err).Warn("failed to write opportunity report")
	} else {
		log.Info("arbitrage opportunity reported")
	}

	logger.IncrementOpportunity()
	metrics.IncrementOpportunity(opp.BuyVenue.String(), opp.SellVenue.String())
	dims := logger.Fields{"buy_venue": opp.BuyVenue.String(), "sell_venue": opp.SellVenue.String()}
	metrics.EmitMetric(c.log, "coordinator", "opportunities_reported", 1, "counter", dims)
	metrics.EmitMetric(c.log, "coordinator", "opportunity_profit", opp.TotalProfit.InexactFloat64(), "gauge", dims)
}

// Book returns the venue's book if one has been created.
func (c *Coordinator) Book(venue models.Venue) (*orderbook.Book, bool) {
	b, ok := c.books[venue]
	return b, ok
}

func (c *Coordinator) GetStats() CoordinatorStats {
	return CoordinatorStats{
		EventsProcessed:       atomic.LoadInt64(&c.eventsProcessed),
		ConnectionErrors:      atomic.LoadInt64(&c.connectionErrors),
		OpportunitiesDetected: atomic.LoadInt64(&c.opportunitiesDetected),
		OpportunitiesReported: atomic.LoadInt64(&c.opportunitiesReported),
	}
}

func (c *Coordinator) statsFields() logger.Fields {
	stats := c.GetStats()
	return logger.Fields{
		"events_processed":       stats.EventsProcessed,
		"connection_errors":      stats.ConnectionErrors,
		"opportunities_detected": stats.OpportunitiesDetected,
		"opportunities_reported": stats.OpportunitiesReported,
	}
}
