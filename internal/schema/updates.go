package schema

import "time"

// Quote is one half of a two-sided market.
type Quote struct {
	Price Price
	Size  Quantity
	Side  Side
}

// BboQuote is the best bid and offer for a security at a point in time.
type BboQuote struct {
	Security  Security
	Bid       Quote
	Ask       Quote
	Timestamp time.Time
}

// MarketQuote is a single venue's two-sided quote for a security.
type MarketQuote struct {
	Security  Security
	Venue     string
	Bid       Quote
	Ask       Quote
	Timestamp time.Time
}

// BookQuote is a signed depth-of-book delta at a price attributed to a
// market participant. A negative size reduces the level.
type BookQuote struct {
	Security  Security
	Venue     string
	MPID      string
	Side      Side
	Price     Price
	Size      Quantity
	Timestamp time.Time
}

// TimeAndSale is a trade print.
type TimeAndSale struct {
	Security     Security
	Price        Price
	Size         Quantity
	Condition    string
	MarketCenter string
	Timestamp    time.Time
}

// Imbalance reports unmatched auction interest for a security.
type Imbalance struct {
	Security       Security
	Side           Side
	Size           Quantity
	PairedSize     Quantity
	ReferencePrice Price
	Timestamp      time.Time
}

// Update is one element of a published batch.
type Update interface {
	isUpdate()
}

func (BboQuote) isUpdate()     {}
func (MarketQuote) isUpdate()  {}
func (BookQuote) isUpdate()    {}
func (TimeAndSale) isUpdate()  {}
func (Imbalance) isUpdate()    {}
func (SecurityInfo) isUpdate() {}
