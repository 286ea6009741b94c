package models

import (
	"github.com/shopspring/decimal"
)

// Venue identifies the exchange a feed, book or event belongs to.
type Venue string

const (
	VenueOKX     Venue = "okx"
	VenueDeribit Venue = "deribit"
)

// String returns the display name used in reports and logs.
func (v Venue) String() string {
	switch v {
	case VenueOKX:
		return "Okex"
	case VenueDeribit:
		return "Deribit"
	default:
		return string(v)
	}
}

// Level is a single price point of resting size. A zero quantity in an update
// means the price has to be removed from the book.
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Event is the closed set of messages flowing from the feeds to the
// coordinator: BidLevels, AskLevels and ConnectionError.
type Event interface {
	EventVenue() Venue
	event()
}

// BidLevels carries bid side updates decoded from one venue frame.
type BidLevels struct {
	Venue  Venue
	Symbol string
	Levels []Level
}

// AskLevels carries ask side updates decoded from one venue frame.
type AskLevels struct {
	Venue  Venue
	Symbol string
	Levels []Level
}

// ConnectionError reports a connect failure or a terminated session.
type ConnectionError struct {
	Venue   Venue
	Message string
}

func (e BidLevels) EventVenue() Venue       { return e.Venue }
func (e AskLevels) EventVenue() Venue       { return e.Venue }
func (e ConnectionError) EventVenue() Venue { return e.Venue }

func (BidLevels) event()       {}
func (AskLevels) event()       {}
func (ConnectionError) event() {}

// TradeLeg is one matched slice of an arbitrage execution plan.
type TradeLeg struct {
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Profit    decimal.Decimal `json:"profit"`
}

// Margin is the per contract price difference captured by the leg.
func (l TradeLeg) Margin() decimal.Decimal {
	return l.SellPrice.Sub(l.BuyPrice)
}

// Opportunity is a crossed spread between two venues together with the
// greedy execution sequence that captures it.
type Opportunity struct {
	BuyVenue    Venue           `json:"buy_venue"`
	SellVenue   Venue           `json:"sell_venue"`
	Symbol      string          `json:"symbol"`
	Legs        []TradeLeg      `json:"legs"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	TotalVolume decimal.Decimal `json:"total_volume"`
}

// Fingerprint identifies an opportunity for report deduplication.
type Fingerprint struct {
	Symbol      string
	TotalProfit decimal.Decimal
}

// Fingerprint returns the (symbol, total profit) pair of the opportunity.
func (o Opportunity) Fingerprint() Fingerprint {
	return Fingerprint{Symbol: o.Symbol, TotalProfit: o.TotalProfit}
}

// Equal compares fingerprints using decimal equality so 1.0 and 1.00 match.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Symbol == other.Symbol && f.TotalProfit.Equal(other.TotalProfit)
}
