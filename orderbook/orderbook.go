// Package orderbook keeps the price ordered bid and ask levels of a single
// venue/instrument pair.
package orderbook

import (
	"math"

	"github.com/google/btree"

	"arbflow/models"
)

const degree = 16

// byPrice is a total order on prices: NaN sorts above every other value and
// equals only itself, so it can never alias a real level in the tree.
func byPrice(a, b models.Level) bool {
	if math.IsNaN(a.Price) {
		return false
	}
	if math.IsNaN(b.Price) {
		return true
	}
	return a.Price < b.Price
}

// Book is an in-memory L2 order book. Every stored quantity is strictly
// positive. A Book is not safe for concurrent use; the coordinator owns it.
type Book struct {
	venue  models.Venue
	symbol string
	bids   *btree.BTreeG[models.Level]
	asks   *btree.BTreeG[models.Level]
}

// New creates an empty book. The symbol is trusted as given and never checked
// against the venue's wire data.
func New(venue models.Venue, symbol string) *Book {
	return &Book{
		venue:  venue,
		symbol: symbol,
		bids:   btree.NewG(degree, byPrice),
		asks:   btree.NewG(degree, byPrice),
	}
}

func (b *Book) Venue() models.Venue { return b.venue }

func (b *Book) Symbol() string { return b.symbol }

// ApplyBids upserts the given bid levels, removing prices whose quantity is
// exactly zero.
func (b *Book) ApplyBids(levels []models.Level) {
	apply(b.bids, levels)
}

// ApplyAsks upserts the given ask levels, removing prices whose quantity is
// exactly zero.
func (b *Book) ApplyAsks(levels []models.Level) {
	apply(b.asks, levels)
}

func apply(side *btree.BTreeG[models.Level], levels []models.Level) {
	for _, l := range levels {
		if l.Quantity == 0 {
			side.Delete(models.Level{Price: l.Price})
			continue
		}
		side.ReplaceOrInsert(l)
	}
}

// BestBid returns the highest bid, or false when there are no bids.
func (b *Book) BestBid() (models.Level, bool) {
	return b.bids.Max()
}

// BestAsk returns the lowest ask, or false when there are no asks.
func (b *Book) BestAsk() (models.Level, bool) {
	return b.asks.Min()
}

// Bids returns all bid levels from the highest price to the lowest.
func (b *Book) Bids() []models.Level {
	out := make([]models.Level, 0, b.bids.Len())
	b.bids.Descend(func(l models.Level) bool {
		out = append(out, l)
		return true
	})
	return out
}

// Asks returns all ask levels from the lowest price to the highest.
func (b *Book) Asks() []models.Level {
	out := make([]models.Level, 0, b.asks.Len())
	b.asks.Ascend(func(l models.Level) bool {
		out = append(out, l)
		return true
	})
	return out
}

// Depth reports the number of price levels on each side.
func (b *Book) Depth() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}
