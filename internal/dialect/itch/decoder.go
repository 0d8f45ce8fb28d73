// Package itch decodes a big-endian binary market-by-order dialect. An
// order book directory message announces each instrument and its price
// scale; the directory table is owned by the decoder instance so multiple
// feeds can coexist in one process.
package itch

import (
	"strconv"
	"time"

	"marketfeed/internal/cursor"
	"marketfeed/internal/dialect"
	"marketfeed/internal/obs"
	"marketfeed/internal/schema"
)

// Message type bytes.
const (
	TypeSeconds         = 'T'
	TypeAddOrder        = 'A'
	TypeAddOrderMPID    = 'F'
	TypeOrderExecuted   = 'E'
	TypeExecutedAtPrice = 'C'
	TypeOrderReplace    = 'U'
	TypeOrderDelete     = 'D'
	TypeTrade           = 'P'
	TypeDirectory       = 'R'
)

const (
	mpidSize    = 7
	matchIDSize = 12

	productEquity = 5
)

// Config identifies the venue carried by this feed.
type Config struct {
	// Venue is the market stamped on decoded securities and book updates.
	Venue string
	// AnonymousMPID is attributed to orders added without a participant id.
	AnonymousMPID string
}

type directory struct {
	security      schema.Security
	priceDecimals int
	roundLot      uint32
}

// Decoder decodes one feed's messages. It owns the order book directory
// table and the seconds-message time base.
type Decoder struct {
	cfg         Config
	directories map[uint32]directory
	timeBase    time.Time
}

// NewDecoder builds a decoder for one feed session.
func NewDecoder(cfg Config) *Decoder {
	if cfg.AnonymousMPID == "" {
		cfg.AnonymousMPID = "ANON"
	}
	return &Decoder{
		cfg:         cfg,
		directories: make(map[uint32]directory),
	}
}

// Decode maps a raw message to at most one event. The first payload byte
// is the type code. Messages for book ids without a directory entry are
// dropped.
func (d *Decoder) Decode(message []byte) (dialect.Event, error) {
	if len(message) == 0 {
		return nil, cursor.ErrShortRead
	}
	cur := cursor.New(message[1:])

	var event dialect.Event
	switch message[0] {
	case TypeSeconds:
		d.timeBase = time.Unix(int64(cur.Uint32()), 0).UTC()
	case TypeAddOrder:
		event = d.addOrder(cur, true)
	case TypeAddOrderMPID:
		event = d.addOrder(cur, false)
	case TypeOrderExecuted:
		event = d.orderExecuted(cur)
	case TypeExecutedAtPrice:
		event = d.executedAtPrice(cur)
	case TypeOrderReplace:
		event = d.orderReplace(cur)
	case TypeOrderDelete:
		event = d.orderDelete(cur)
	case TypeTrade:
		event = d.trade(cur)
	case TypeDirectory:
		event = d.bookDirectory(cur)
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

// timestamp reads a nanosecond offset from the last seconds message.
func (d *Decoder) timestamp(cur *cursor.Cursor) time.Time {
	nanos := cur.Uint32()
	if d.timeBase.IsZero() {
		return time.Time{}
	}
	return d.timeBase.Add(time.Duration(nanos))
}

func (d *Decoder) addOrder(cur *cursor.Cursor, anonymous bool) dialect.Event {
	timestamp := d.timestamp(cur)
	orderID := cur.Uint64()
	dir, ok := d.directories[cur.Uint32()]
	if !ok {
		return nil
	}
	side := cur.Side()
	cur.Skip(4) // book position
	size := schema.Quantity(cur.Uint64())
	price := d.price(cur, dir)
	cur.Skip(2) // order type
	cur.Skip(1) // lot type
	mpid := d.cfg.AnonymousMPID
	if !anonymous {
		mpid = cur.Alpha(mpidSize)
	}
	if size <= 0 {
		return nil
	}
	return dialect.AddOrder{
		Ref:       orderKey(dir.security, side, orderID),
		Security:  dir.security,
		Venue:     d.cfg.Venue,
		MPID:      mpid,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: timestamp,
	}
}

func (d *Decoder) orderExecuted(cur *cursor.Cursor) dialect.Event {
	timestamp := d.timestamp(cur)
	orderID := cur.Uint64()
	dir, ok := d.directories[cur.Uint32()]
	if !ok {
		return nil
	}
	side := cur.Side()
	size := schema.Quantity(cur.Uint64())
	return dialect.OrderExecuted{
		Ref:       orderKey(dir.security, side, orderID),
		Security:  dir.security,
		Side:      side,
		Size:      size,
		Printable: true,
		Timestamp: timestamp,
	}
}

func (d *Decoder) executedAtPrice(cur *cursor.Cursor) dialect.Event {
	timestamp := d.timestamp(cur)
	orderID := cur.Uint64()
	dir, ok := d.directories[cur.Uint32()]
	if !ok {
		return nil
	}
	side := cur.Side()
	size := schema.Quantity(cur.Uint64())
	matchID := cur.Alpha(matchIDSize)
	cur.Skip(mpidSize) // owner
	cur.Skip(mpidSize) // counterparty
	price := d.price(cur, dir)
	cur.Skip(1) // cross indicator
	printable := cur.Char()
	return dialect.OrderExecuted{
		Ref:       orderKey(dir.security, side, orderID),
		Security:  dir.security,
		Side:      side,
		Size:      size,
		Price:     price,
		HasPrice:  true,
		Printable: printable == 'Y',
		TradeRef:  matchID,
		Timestamp: timestamp,
	}
}

func (d *Decoder) orderReplace(cur *cursor.Cursor) dialect.Event {
	timestamp := d.timestamp(cur)
	orderID := cur.Uint64()
	dir, ok := d.directories[cur.Uint32()]
	if !ok {
		return nil
	}
	side := cur.Side()
	cur.Skip(4) // book position
	size := schema.Quantity(cur.Uint64())
	price := d.price(cur, dir)
	cur.Skip(2) // order type
	return dialect.OrderReplaced{
		Ref:       orderKey(dir.security, side, orderID),
		Security:  dir.security,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: timestamp,
	}
}

func (d *Decoder) orderDelete(cur *cursor.Cursor) dialect.Event {
	timestamp := d.timestamp(cur)
	orderID := cur.Uint64()
	dir, ok := d.directories[cur.Uint32()]
	if !ok {
		return nil
	}
	side := cur.Side()
	return dialect.OrderCancelled{
		Ref:       orderKey(dir.security, side, orderID),
		Security:  dir.security,
		Side:      side,
		Timestamp: timestamp,
	}
}

func (d *Decoder) trade(cur *cursor.Cursor) dialect.Event {
	timestamp := d.timestamp(cur)
	matchID := cur.Alpha(matchIDSize)
	side := cur.Side()
	size := schema.Quantity(cur.Uint64())
	dir, ok := d.directories[cur.Uint32()]
	if !ok {
		return nil
	}
	price := d.price(cur, dir)
	cur.Skip(mpidSize) // owner
	cur.Skip(mpidSize) // counterparty
	printable := cur.Char()
	cur.Skip(1) // cross indicator
	if printable != 'Y' || side == schema.SideUnknown {
		return nil
	}
	return dialect.Trade{
		Security:  dir.security,
		Venue:     d.cfg.Venue,
		Side:      side,
		Price:     price,
		Size:      size,
		Condition: "@",
		TradeRef:  matchID,
		Timestamp: timestamp,
	}
}

// bookDirectory registers an equity order book and announces its security.
// Non-equity products are dropped.
func (d *Decoder) bookDirectory(cur *cursor.Cursor) dialect.Event {
	d.timestamp(cur)
	bookID := cur.Uint32()
	symbol := cur.Alpha(32)
	name := cur.Alpha(32)
	cur.Skip(12) // ISIN
	productType := cur.Uint8()
	cur.Skip(3) // currency
	priceDecimals := int(cur.Uint16())
	cur.Skip(2) // nominal value decimals
	cur.Skip(4) // odd lot size
	roundLot := cur.Uint32()
	cur.Skip(8) // block lot size
	if cur.Err() != nil || productType != productEquity {
		return nil
	}
	dir := directory{
		security:      schema.Security{Symbol: symbol, Venue: d.cfg.Venue},
		priceDecimals: priceDecimals,
		roundLot:      roundLot,
	}
	d.directories[bookID] = dir
	return dialect.SecurityUpdate{Info: schema.SecurityInfo{
		Security: dir.security,
		Name:     name,
		BoardLot: schema.Quantity(roundLot),
	}}
}

func (d *Decoder) price(cur *cursor.Cursor, dir directory) schema.Price {
	value := int64(int32(cur.Uint32()))
	decimals := dir.priceDecimals
	if decimals < 0 || decimals > schema.PriceDecimalPlaces {
		decimals = schema.PriceDecimalPlaces
	}
	return schema.PriceFromValue(value, decimals)
}

func orderKey(security schema.Security, side schema.Side, orderID uint64) string {
	sideCode := "B"
	if side == schema.SideAsk {
		sideCode = "A"
	}
	return security.Symbol + "-" + sideCode + "-" + strconv.FormatUint(orderID, 10)
}
