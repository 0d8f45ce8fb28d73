// Package utp decodes a consolidated-tape ASCII dialect of quote, trade,
// and imbalance messages. Prices carry a denominator byte naming their
// implied decimal places and sizes are expressed in round lots.
package utp

import (
	"time"

	"marketfeed/internal/cursor"
	"marketfeed/internal/dialect"
	"marketfeed/internal/obs"
	"marketfeed/internal/schema"
)

// Message categories and types.
const (
	CategoryQuote     = 'Q'
	CategoryTrade     = 'T'
	CategoryImbalance = 'I'

	TypeShortQuote    = 'E'
	TypeLongQuote     = 'F'
	TypeShortTrade    = 'A'
	TypeLongTrade     = 'W'
	TypeAuctionStatus = 'S'
)

// BBO appendage indicators on quote messages.
const (
	bboShortAppendage = '2'
	bboLongAppendage  = '3'
	bboIsQuote        = '4'
)

const (
	shortSymbolSize  = 5
	longSymbolSize   = 11
	shortPriceDigits = 6
	longPriceDigits  = 10
	shortLotDigits   = 2
	longLotDigits    = 7
	lotSize          = 100
	shortVolDigits   = 6
	longVolDigits    = 9
	imbalanceDigits  = 9
)

// Config identifies the feed's market and maps market-center identifier
// bytes to venue names.
type Config struct {
	// PrimaryVenue is the listing venue stamped on decoded securities.
	PrimaryVenue string
	// MarketCenters maps the header's originator byte to a venue name.
	MarketCenters map[byte]string
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

// Decode maps a raw message to at most one event. The message header is a
// category byte, a type byte, a market-center originator byte, and an
// 8-digit millisecond timestamp.
func (d *Decoder) Decode(message []byte) (dialect.Event, error) {
	cur := cursor.New(message)
	category := cur.Char()
	msgType := cur.Char()
	venue := d.venue(cur.Char())
	timestamp := d.cfg.TimeOrigin.Add(time.Duration(cur.Numeric(8)) * time.Millisecond)

	var event dialect.Event
	switch {
	case category == CategoryQuote && msgType == TypeShortQuote:
		event = d.quote(cur, venue, timestamp, false)
	case category == CategoryQuote && msgType == TypeLongQuote:
		event = d.quote(cur, venue, timestamp, true)
	case category == CategoryTrade && msgType == TypeShortTrade:
		event = d.trade(cur, venue, timestamp, false)
	case category == CategoryTrade && msgType == TypeLongTrade:
		event = d.trade(cur, venue, timestamp, true)
	case category == CategoryImbalance && msgType == TypeAuctionStatus:
		event = d.imbalance(cur, timestamp)
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

func (d *Decoder) venue(center byte) string {
	if venue, ok := d.cfg.MarketCenters[center]; ok {
		return venue
	}
	return d.cfg.PrimaryVenue
}

func (d *Decoder) quote(cur *cursor.Cursor, venue string, timestamp time.Time, longForm bool) dialect.Event {
	symbolSize, priceDigits, lotDigits := shortSymbolSize, shortPriceDigits, shortLotDigits
	if longForm {
		symbolSize, priceDigits, lotDigits = longSymbolSize, longPriceDigits, longLotDigits
	}
	symbol := cur.Alpha(symbolSize)
	if longForm {
		cur.Skip(5)
	} else {
		cur.Skip(4)
	}
	bid := readQuote(cur, priceDigits, lotDigits, schema.SideBid)
	ask := readQuote(cur, priceDigits, lotDigits, schema.SideAsk)
	if longForm {
		cur.Skip(3)
	}
	indicator := cur.Char()

	security := schema.Security{Symbol: symbol, Venue: d.cfg.PrimaryVenue}
	event := dialect.Quote{
		Security:  security,
		Venue:     venue,
		Bid:       bid,
		Ask:       ask,
		Timestamp: timestamp,
	}
	switch indicator {
	case bboShortAppendage:
		event.Bbo = readBboAppendage(cur, security, timestamp, priceDigits, lotDigits)
	case bboLongAppendage:
		event.Bbo = readBboAppendage(cur, security, timestamp, longPriceDigits, longLotDigits)
	case bboIsQuote:
		event.Bbo = &schema.BboQuote{
			Security:  security,
			Bid:       bid,
			Ask:       ask,
			Timestamp: timestamp,
		}
	}
	return event
}

func readQuote(cur *cursor.Cursor, priceDigits, lotDigits int, side schema.Side) schema.Quote {
	denominator := cur.Char()
	price := cur.DenominatedPrice(priceDigits, denominator)
	size := schema.Quantity(lotSize * cur.Numeric(lotDigits))
	return schema.Quote{Price: price, Size: size, Side: side}
}

func readBboAppendage(cur *cursor.Cursor, security schema.Security, timestamp time.Time, priceDigits, lotDigits int) *schema.BboQuote {
	cur.Skip(4)
	bid := readQuote(cur, priceDigits, lotDigits, schema.SideBid)
	cur.Skip(2)
	ask := readQuote(cur, priceDigits, lotDigits, schema.SideAsk)
	return &schema.BboQuote{
		Security:  security,
		Bid:       bid,
		Ask:       ask,
		Timestamp: timestamp,
	}
}

func (d *Decoder) trade(cur *cursor.Cursor, venue string, timestamp time.Time, longForm bool) dialect.Event {
	var symbol, condition string
	var price schema.Price
	var volume int64
	if longForm {
		symbol = cur.Alpha(longSymbolSize)
		cur.Skip(1)
		condition = cur.Alpha(4)
		cur.Skip(2)
		denominator := cur.Char()
		price = cur.DenominatedPrice(longPriceDigits, denominator)
		cur.Skip(3)
		volume = cur.Numeric(longVolDigits)
	} else {
		symbol = cur.Alpha(shortSymbolSize)
		condition = cur.Alpha(1)
		denominator := cur.Char()
		price = cur.DenominatedPrice(shortPriceDigits, denominator)
		volume = cur.Numeric(shortVolDigits)
	}
	return dialect.Trade{
		Security:  schema.Security{Symbol: symbol, Venue: d.cfg.PrimaryVenue},
		Venue:     venue,
		Price:     price,
		Size:      schema.Quantity(volume),
		Condition: condition,
		Timestamp: timestamp,
	}
}

func (d *Decoder) imbalance(cur *cursor.Cursor, timestamp time.Time) dialect.Event {
	symbol := cur.Alpha(longSymbolSize)
	side := cur.Side()
	paired := cur.Numeric(imbalanceDigits)
	imbalance := cur.Numeric(imbalanceDigits)
	denominator := cur.Char()
	reference := cur.DenominatedPrice(longPriceDigits, denominator)
	if side == schema.SideUnknown {
		return nil
	}
	return dialect.Imbalance{
		Security:       schema.Security{Symbol: symbol, Venue: d.cfg.PrimaryVenue},
		Side:           side,
		Size:           schema.Quantity(imbalance),
		PairedSize:     schema.Quantity(paired),
		ReferencePrice: reference,
		Timestamp:      timestamp,
	}
}
