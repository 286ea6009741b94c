// Package arbitrage detects crossed spreads between two venues' books and
// plans the greedy multi-level execution that captures them.
package arbitrage

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"arbflow/models"
	"arbflow/orderbook"
)

var errNonFinite = errors.New("arbitrage: non-finite value cannot be converted to decimal")

// Detect looks for an opportunity between two books quoting the same
// instrument. Buying on b and selling on a is tried first; the reverse
// direction is only evaluated when the first one yields nothing.
func Detect(a, b *orderbook.Book) (models.Opportunity, bool) {
	if a == nil || b == nil {
		return models.Opportunity{}, false
	}
	directions := [2]struct{ sell, buy *orderbook.Book }{
		{sell: a, buy: b},
		{sell: b, buy: a},
	}
	for _, d := range directions {
		opp, ok, err := Match(d.sell, d.buy)
		if err != nil {
			return models.Opportunity{}, false
		}
		if ok {
			return opp, true
		}
	}
	return models.Opportunity{}, false
}

// Match walks the sell book's bids from the top down against the buy book's
// asks from the bottom up while the prices still cross. A level that is only
// partially consumed carries its remainder into the next step. The returned
// opportunity is only valid when ok is true; a conversion error discards
// every leg computed so far.
func Match(sell, buy *orderbook.Book) (opp models.Opportunity, ok bool, err error) {
	bestBid, hasBid := sell.BestBid()
	bestAsk, hasAsk := buy.BestAsk()
	if !hasBid || !hasAsk || bestBid.Price <= bestAsk.Price {
		return models.Opportunity{}, false, nil
	}

	bids := sell.Bids()
	asks := buy.Asks()

	var (
		legs          []models.TradeLeg
		totalProfit   = decimal.Zero
		totalVolume   = decimal.Zero
		i, j          int
		remainingSell float64
		remainingBuy  float64
	)

	for i < len(bids) && j < len(asks) {
		sellLevel, buyLevel := bids[i], asks[j]
		if sellLevel.Price <= buyLevel.Price {
			break
		}

		availableSell := sellLevel.Quantity
		if remainingSell > 0 {
			availableSell = remainingSell
		}
		availableBuy := buyLevel.Quantity
		if remainingBuy > 0 {
			availableBuy = remainingBuy
		}

		leg, err := newLeg(buyLevel.Price, sellLevel.Price, math.Min(availableSell, availableBuy))
		if err != nil {
			return models.Opportunity{}, false, err
		}
		legs = append(legs, leg)
		totalProfit = totalProfit.Add(leg.Profit)
		totalVolume = totalVolume.Add(leg.Quantity)

		switch {
		case availableSell < availableBuy:
			i++
			remainingSell = 0
			remainingBuy = availableBuy - availableSell
		case availableSell > availableBuy:
			j++
			remainingBuy = 0
			remainingSell = availableSell - availableBuy
		default:
			i++
			j++
			remainingSell = 0
			remainingBuy = 0
		}
	}

	if !totalProfit.IsPositive() {
		return models.Opportunity{}, false, nil
	}

	return models.Opportunity{
		BuyVenue:    buy.Venue(),
		SellVenue:   sell.Venue(),
		Symbol:      sell.Symbol(),
		Legs:        legs,
		TotalProfit: totalProfit,
		TotalVolume: totalVolume,
	}, true, nil
}

// newLeg converts the float inputs to decimals only here so that summing many
// legs does not accumulate binary rounding error.
func newLeg(buyPrice, sellPrice, quantity float64) (models.TradeLeg, error) {
	buy, err := toDecimal(buyPrice)
	if err != nil {
		return models.TradeLeg{}, err
	}
	sell, err := toDecimal(sellPrice)
	if err != nil {
		return models.TradeLeg{}, err
	}
	qty, err := toDecimal(quantity)
	if err != nil {
		return models.TradeLeg{}, err
	}
	return models.TradeLeg{
		BuyPrice:  buy,
		SellPrice: sell,
		Quantity:  qty,
		Profit:    qty.Mul(sell.Sub(buy)),
	}, nil
}

func toDecimal(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, errNonFinite
	}
	return decimal.NewFromFloat(f), nil
}
