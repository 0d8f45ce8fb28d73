package feed

import (
	"github.com/tidwall/btree"

	"marketfeed/internal/schema"
)

type level struct {
	price schema.Price
	size  schema.Quantity
}

// ladder maintains one security's aggregate price levels so BBO updates
// can be derived from order deltas. Both trees order best price first.
type ladder struct {
	asks *btree.BTreeG[level]
	bids *btree.BTreeG[level]
}

func newLadder() *ladder {
	return &ladder{
		asks: btree.NewBTreeG(func(a, b level) bool { return a.price < b.price }),
		bids: btree.NewBTreeG(func(a, b level) bool { return a.price > b.price }),
	}
}

// apply folds a signed quantity delta into the side's level at price and
// reports whether the top of that side may have changed.
func (l *ladder) apply(side schema.Side, price schema.Price, delta schema.Quantity) bool {
	tree := l.bids
	if side == schema.SideAsk {
		tree = l.asks
	}
	probe := level{price: price}
	existing, ok := tree.Get(probe)
	if !ok {
		if delta <= 0 {
			return false
		}
		tree.Set(level{price: price, size: delta})
	} else {
		existing.size += delta
		if existing.size <= 0 {
			tree.Delete(probe)
		} else {
			tree.Set(existing)
		}
	}
	best, ok := tree.Min()
	if !ok {
		return true
	}
	// The touched level affects the BBO only if it sits at the front.
	if side == schema.SideAsk {
		return price <= best.price
	}
	return price >= best.price
}

// bbo snapshots the current best bid and offer; empty sides are zero.
func (l *ladder) bbo(security schema.Security) schema.BboQuote {
	quote := schema.BboQuote{Security: security}
	quote.Bid.Side = schema.SideBid
	quote.Ask.Side = schema.SideAsk
	if best, ok := l.bids.Min(); ok {
		quote.Bid.Price = best.price
		quote.Bid.Size = best.size
	}
	if best, ok := l.asks.Min(); ok {
		quote.Ask.Price = best.price
		quote.Ask.Size = best.size
	}
	return quote
}
