// Package mmd decodes the length-prefixed ASCII market-by-order dialect:
// an 8-digit millisecond timestamp and a type byte, where a lower-case
// type marks the long form of the same message.
package mmd

import (
	"strconv"
	"time"

	"marketfeed/internal/cursor"
	"marketfeed/internal/dialect"
	"marketfeed/internal/obs"
	"marketfeed/internal/schema"
)

const (
	refDigits      = 9
	symbolSize     = 6
	shortQtyDigits = 6
	longQtyDigits  = 10
)

// Config identifies the venue the feed disseminates for.
type Config struct {
	// PrimaryVenue is the listing venue stamped on decoded securities.
	PrimaryVenue string
	// DisseminatingVenue attributes book updates to this feed's market.
	DisseminatingVenue string
	// MPID is attributed to quotes and prints from this feed.
	MPID string
	// TimeOrigin is the session midnight used to absolutize timestamps.
	TimeOrigin time.Time
}

// Decoder decodes one feed's messages.
type Decoder struct {
	cfg Config
}

// NewDecoder builds a decoder for one feed session.
func NewDecoder(cfg Config) *Decoder {
	return &Decoder{cfg: cfg}
}

// Decode maps a raw message to at most one event.
func (d *Decoder) Decode(message []byte) (dialect.Event, error) {
	cur := cursor.New(message)
	timestamp := d.cfg.TimeOrigin.Add(time.Duration(cur.Numeric(8)) * time.Millisecond)

	var event dialect.Event
	switch cur.Char() {
	case 'A':
		event = d.addOrder(cur, timestamp, false)
	case 'a':
		event = d.addOrder(cur, timestamp, true)
	case 'E':
		event = d.orderExecuted(cur, timestamp, false)
	case 'e':
		event = d.orderExecuted(cur, timestamp, true)
	case 'X':
		event = d.orderCancelled(cur, timestamp)
	case 'x':
		event = d.orderCancelled(cur, timestamp)
	case 'P', 'M':
		event = d.trade(cur, timestamp, false)
	case 'p', 'm':
		event = d.trade(cur, timestamp, true)
	default:
		return nil, nil
	}

	if cur.Malformed() {
		obs.MalformedFields.Inc()
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return event, nil
}

func (d *Decoder) addOrder(cur *cursor.Cursor, timestamp time.Time, longForm bool) dialect.Event {
	ref := readRef(cur)
	side := cur.Side()
	size := readQuantity(cur, longForm)
	symbol := cur.Alpha(symbolSize)
	price := cur.Price(longForm)
	display := cur.Char()
	if display != 'Y' {
		return nil
	}
	return dialect.AddOrder{
		Ref:       ref,
		Security:  schema.Security{Symbol: symbol, Venue: d.cfg.PrimaryVenue},
		Venue:     d.cfg.DisseminatingVenue,
		MPID:      d.cfg.MPID,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: timestamp,
	}
}

func (d *Decoder) orderExecuted(cur *cursor.Cursor, timestamp time.Time, longForm bool) dialect.Event {
	ref := readRef(cur)
	size := readQuantity(cur, longForm)
	tradeRef := readRef(cur)
	contraRef := readRef(cur)
	return dialect.OrderExecuted{
		Ref:       ref,
		Size:      size,
		Printable: true,
		TradeRef:  tradeRef,
		ContraRef: contraRef,
		Timestamp: timestamp,
	}
}

func (d *Decoder) orderCancelled(cur *cursor.Cursor, timestamp time.Time) dialect.Event {
	return dialect.OrderCancelled{
		Ref:       readRef(cur),
		Timestamp: timestamp,
	}
}

func (d *Decoder) trade(cur *cursor.Cursor, timestamp time.Time, longForm bool) dialect.Event {
	readRef(cur)
	side := cur.Side()
	size := readQuantity(cur, longForm)
	symbol := cur.Alpha(symbolSize)
	price := cur.Price(longForm)
	tradeRef := readRef(cur)
	contraRef := readRef(cur)
	cur.Char()
	if side == schema.SideUnknown {
		return nil
	}
	return dialect.Trade{
		Security:  schema.Security{Symbol: symbol, Venue: d.cfg.PrimaryVenue},
		Venue:     d.cfg.MPID,
		Side:      side,
		Price:     price,
		Size:      size,
		Condition: "@",
		TradeRef:  tradeRef,
		ContraRef: contraRef,
		Timestamp: timestamp,
	}
}

func readRef(cur *cursor.Cursor) string {
	return strconv.FormatInt(cur.Numeric(refDigits), 10)
}

func readQuantity(cur *cursor.Cursor, longForm bool) schema.Quantity {
	if longForm {
		return schema.Quantity(cur.Numeric(longQtyDigits))
	}
	return schema.Quantity(cur.Numeric(shortQtyDigits))
}
