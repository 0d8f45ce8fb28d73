// Package simfeed generates a synthetic market-by-order feed: random
// walk prices per symbol, emitted as wire-exact ASCII messages wrapped
// in multicast packets. Used for soak testing the pipeline end to end.
package simfeed

import (
	"fmt"
	"math/rand"
	"time"

	"marketfeed/internal/mold"
	"marketfeed/internal/schema"
)

const (
	tickSize     = schema.Price(10_000)
	displayedLot = 100
)

// Config controls the generated feed.
type Config struct {
	Symbols   []string
	BasePrice schema.Price
	Session   string
	Seed      int64
	// MessagesPerPacket caps how many messages one packet carries.
	MessagesPerPacket int
	// TimeOrigin is the session midnight timestamps count from.
	TimeOrigin time.Time
}

func (c Config) withDefaults() Config {
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"SIM"}
	}
	if c.BasePrice <= 0 {
		c.BasePrice = schema.PriceFromValue(100, 0)
	}
	if c.Session == "" {
		c.Session = "SIM"
	}
	if c.MessagesPerPacket <= 0 {
		c.MessagesPerPacket = 4
	}
	return c
}

type book struct {
	symbol string
	mid    schema.Price
	// live holds resting order refs still eligible for execute/cancel.
	live []order
}

type order struct {
	ref  int64
	side schema.Side
	size schema.Quantity
}

// Generator produces a deterministic message stream for a given seed.
type Generator struct {
	cfg      Config
	rng      *rand.Rand
	books    []*book
	nextRef  int64
	nextSeq  uint64
	scratch  [][]byte
	pktBuf   []byte
	tradeRef int64
}

func NewGenerator(cfg Config) *Generator {
	cfg = cfg.withDefaults()
	books := make([]*book, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		books = append(books, &book{symbol: symbol, mid: cfg.BasePrice})
	}
	return &Generator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		books:   books,
		nextRef: 1,
		nextSeq: 1,
	}
}

// NextPacket builds one sequenced packet of generated messages.
func (g *Generator) NextPacket(now time.Time) []byte {
	count := 1 + g.rng.Intn(g.cfg.MessagesPerPacket)
	g.scratch = g.scratch[:0]
	for i := 0; i < count; i++ {
		g.scratch = append(g.scratch, g.NextMessage(now))
	}
	g.pktBuf = mold.EncodePacket(g.pktBuf[:0], g.cfg.Session, g.nextSeq, g.scratch)
	g.nextSeq += uint64(len(g.scratch))
	return g.pktBuf
}

// Sequence returns the sequence number the next packet will carry.
func (g *Generator) Sequence() uint64 { return g.nextSeq }

// NextMessage generates one short-form message. Adds dominate so books
// keep refs alive for executions and cancels to land on.
func (g *Generator) NextMessage(now time.Time) []byte {
	b := g.books[g.rng.Intn(len(g.books))]
	roll := g.rng.Float64()
	switch {
	case roll < 0.50 || len(b.live) == 0:
		return g.addOrder(b, now)
	case roll < 0.75:
		return g.execute(b, now)
	case roll < 0.90:
		return g.cancel(b, now)
	default:
		return g.trade(b, now)
	}
}

func (g *Generator) addOrder(b *book, now time.Time) []byte {
	g.walk(b)
	side := schema.SideBid
	price := b.mid - tickSize
	if g.rng.Intn(2) == 1 {
		side = schema.SideAsk
		price = b.mid + tickSize
	}
	size := schema.Quantity((1 + g.rng.Intn(9)) * displayedLot)
	ref := g.nextRef
	g.nextRef++
	b.live = append(b.live, order{ref: ref, side: side, size: size})

	msg := g.header(now, 'A')
	msg = appendNumeric(msg, ref, 9)
	msg = append(msg, sideChar(side))
	msg = appendNumeric(msg, int64(size), 6)
	msg = appendAlpha(msg, b.symbol, 6)
	msg = appendShortPrice(msg, price)
	return append(msg, 'Y')
}

func (g *Generator) execute(b *book, now time.Time) []byte {
	i := g.rng.Intn(len(b.live))
	o := &b.live[i]
	size := o.size
	if size > displayedLot && g.rng.Intn(2) == 1 {
		size = displayedLot
	}
	o.size -= size
	ref := o.ref
	if o.size <= 0 {
		b.live = append(b.live[:i], b.live[i+1:]...)
	}
	g.tradeRef++

	msg := g.header(now, 'E')
	msg = appendNumeric(msg, ref, 9)
	msg = appendNumeric(msg, int64(size), 6)
	msg = appendNumeric(msg, g.tradeRef, 9)
	msg = appendNumeric(msg, 0, 9)
	return msg
}

func (g *Generator) cancel(b *book, now time.Time) []byte {
	i := g.rng.Intn(len(b.live))
	ref := b.live[i].ref
	b.live = append(b.live[:i], b.live[i+1:]...)

	msg := g.header(now, 'X')
	return appendNumeric(msg, ref, 9)
}

func (g *Generator) trade(b *book, now time.Time) []byte {
	g.walk(b)
	side := schema.SideBid
	if g.rng.Intn(2) == 1 {
		side = schema.SideAsk
	}
	size := schema.Quantity((1 + g.rng.Intn(9)) * displayedLot)
	g.tradeRef++

	msg := g.header(now, 'P')
	msg = appendNumeric(msg, 0, 9)
	msg = append(msg, sideChar(side))
	msg = appendNumeric(msg, int64(size), 6)
	msg = appendAlpha(msg, b.symbol, 6)
	msg = appendShortPrice(msg, b.mid)
	msg = appendNumeric(msg, g.tradeRef, 9)
	msg = appendNumeric(msg, 0, 9)
	return append(msg, 'O')
}

func (g *Generator) walk(b *book) {
	b.mid += schema.Price(g.rng.Intn(3)-1) * tickSize
	if b.mid < tickSize {
		b.mid = tickSize
	}
}

func (g *Generator) header(now time.Time, msgType byte) []byte {
	millis := now.Sub(g.cfg.TimeOrigin).Milliseconds()
	if millis < 0 {
		millis = 0
	}
	msg := appendNumeric(make([]byte, 0, 64), millis%100_000_000, 8)
	return append(msg, msgType)
}

func sideChar(side schema.Side) byte {
	if side == schema.SideAsk {
		return 'S'
	}
	return 'B'
}

func appendNumeric(dst []byte, value int64, width int) []byte {
	return fmt.Appendf(dst, "%0*d", width, value)
}

func appendAlpha(dst []byte, s string, width int) []byte {
	return fmt.Appendf(dst, "%-*s", width, s)
}

// appendShortPrice writes the 10-digit form with 4 implied decimals.
func appendShortPrice(dst []byte, price schema.Price) []byte {
	return appendNumeric(dst, int64(price)/schema.PowerOfTen(2), 10)
}
