// Package dialect defines the decoded event model shared by all exchange
// feed decoders.
package dialect

import (
	"time"

	"marketfeed/internal/schema"
)

// Decoder maps one raw message to at most one event. A nil event with a
// nil error means the message was intentionally dropped: an unknown type
// code, a non-displayable order, or an unknown side.
type Decoder interface {
	Decode(message []byte) (Event, error)
}

// Event is a decoded feed message.
type Event interface {
	isEvent()
}

// AddOrder places a new order on the book.
type AddOrder struct {
	Ref           string
	Security      schema.Security
	Venue         string
	MPID          string
	IsPrimaryMPID bool
	Side          schema.Side
	Price         schema.Price
	Size          schema.Quantity
	Timestamp     time.Time
}

// OrderExecuted reduces a resting order by an executed quantity. Side is
// populated only by dialects that encode it; Price is set when the
// execution carries its own price rather than the resting order's.
type OrderExecuted struct {
	Ref       string
	Security  schema.Security
	Side      schema.Side
	Size      schema.Quantity
	Price     schema.Price
	HasPrice  bool
	Printable bool
	TradeRef  string
	ContraRef string
	Timestamp time.Time
}

// OrderReplaced atomically re-prices and re-sizes a resting order.
type OrderReplaced struct {
	Ref       string
	Security  schema.Security
	Side      schema.Side
	Price     schema.Price
	Size      schema.Quantity
	Timestamp time.Time
}

// OrderCancelled removes a resting order.
type OrderCancelled struct {
	Ref       string
	Security  schema.Security
	Side      schema.Side
	Timestamp time.Time
}

// Trade is a stand-alone trade print. Venue names the market center the
// print is attributed to when the dialect encodes one.
type Trade struct {
	Security  schema.Security
	Venue     string
	Side      schema.Side
	Price     schema.Price
	Size      schema.Quantity
	Condition string
	TradeRef  string
	ContraRef string
	Timestamp time.Time
}

// Quote is a venue's two-sided quote, optionally accompanied by a BBO.
type Quote struct {
	Security  schema.Security
	Venue     string
	Bid       schema.Quote
	Ask       schema.Quote
	Bbo       *schema.BboQuote
	Timestamp time.Time
}

// Imbalance is an auction imbalance report.
type Imbalance struct {
	Security       schema.Security
	Side           schema.Side
	Size           schema.Quantity
	PairedSize     schema.Quantity
	ReferencePrice schema.Price
	Timestamp      time.Time
}

// SecurityUpdate announces an instrument's static reference data.
type SecurityUpdate struct {
	Info schema.SecurityInfo
}

func (AddOrder) isEvent()       {}
func (OrderExecuted) isEvent()  {}
func (OrderReplaced) isEvent()  {}
func (OrderCancelled) isEvent() {}
func (Trade) isEvent()          {}
func (Quote) isEvent()          {}
func (Imbalance) isEvent()      {}
func (SecurityUpdate) isEvent() {}
