// Package feed binds one inbound feed together: a sequenced message
// source, a dialect decoder, and the aggregation engine, driven by a
// dedicated blocking read loop.
package feed

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/dialect"
	"marketfeed/internal/engine"
	"marketfeed/internal/mold"
	"marketfeed/internal/schema"
)

var ErrAlreadyOpen = errors.New("feed client already open")

// MessageSource is the sequenced stream feeding the decoder, normally a
// recovery.Controller.
type MessageSource interface {
	Read(ctx context.Context) ([]byte, uint64, error)
	Close() error
}

// Config selects per-feed behavior.
type Config struct {
	// Name labels the feed in logs.
	Name string
	// BuildBbo derives BBO updates from order deltas via a price ladder.
	BuildBbo bool
	// TimeAndSales publishes trade prints for executions against resting
	// orders, priced at the resting order unless the execution carries
	// its own price.
	TimeAndSales bool
	// MarketCenter attributes prints without an explicit venue.
	MarketCenter string
}

type orderInfo struct {
	security  schema.Security
	venue     string
	mpid      string
	isPrimary bool
	side      schema.Side
	price     schema.Price
	remaining schema.Quantity
}

// Client runs one feed's read-decode-apply loop. The loop, the engine's
// flush timer, and the transports' heartbeats interact only through the
// engine's mutex.
type Client struct {
	cfg     Config
	source  MessageSource
	decoder dialect.Decoder
	engine  *engine.Engine

	// orders and ladders are touched only by the read loop goroutine.
	orders  map[string]orderInfo
	ladders map[schema.Security]*ladder

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	readErr atomic.Value
	started uint32
	closed  uint32
}

// NewClient assembles a feed pipeline.
func NewClient(cfg Config, source MessageSource, decoder dialect.Decoder, eng *engine.Engine) *Client {
	return &Client{
		cfg:     cfg,
		source:  source,
		decoder: decoder,
		engine:  eng,
		orders:  make(map[string]orderInfo),
		ladders: make(map[schema.Security]*ladder),
		done:    make(chan struct{}),
	}
}

// Open starts the read loop.
func (c *Client) Open(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&c.started, 0, 1) {
		return ErrAlreadyOpen
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.readLoop(ctx)
	return nil
}

// Done is closed when the read loop exits, whether the stream ended
// cleanly or failed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that terminated the read loop, if any. A clean
// end of stream leaves it nil; the caller supervises restarts.
func (c *Client) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Close is idempotent: it cancels the loop, closes the source to unblock
// the pending read, and joins the loop goroutine.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	if atomic.LoadUint32(&c.started) == 0 {
		return nil
	}
	c.cancel()
	err := c.source.Close()
	c.wg.Wait()
	return err
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.done)
	for {
		message, _, err := c.source.Read(ctx)
		if err != nil {
			switch {
			case isClean(err) || ctx.Err() != nil:
				logs.Infof("feed %s: stream ended", c.cfg.Name)
			case errors.Is(err, mold.ErrPacketTruncated):
				logs.Warnf("feed %s: truncated packet dropped", c.cfg.Name)
				continue
			default:
				c.readErr.Store(err)
				logs.Errorf("feed %s: read loop terminated: %v", c.cfg.Name, err)
			}
			return
		}
		event, err := c.decoder.Decode(message)
		if err != nil {
			logs.Warnf("feed %s: undecodable message dropped: %v", c.cfg.Name, err)
			continue
		}
		if event != nil {
			c.apply(event)
		}
	}
}

func isClean(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (c *Client) apply(event dialect.Event) {
	switch ev := event.(type) {
	case dialect.AddOrder:
		c.applyAdd(ev)
	case dialect.OrderExecuted:
		c.applyExecuted(ev)
	case dialect.OrderReplaced:
		c.applyReplaced(ev)
	case dialect.OrderCancelled:
		c.applyCancelled(ev)
	case dialect.Trade:
		c.applyTrade(ev)
	case dialect.Quote:
		c.engine.PublishMarketQuote(schema.MarketQuote{
			Security:  ev.Security,
			Venue:     ev.Venue,
			Bid:       ev.Bid,
			Ask:       ev.Ask,
			Timestamp: ev.Timestamp,
		})
		if ev.Bbo != nil {
			c.engine.PublishBbo(*ev.Bbo)
		}
	case dialect.Imbalance:
		c.engine.PublishImbalance(schema.Imbalance{
			Security:       ev.Security,
			Side:           ev.Side,
			Size:           ev.Size,
			PairedSize:     ev.PairedSize,
			ReferencePrice: ev.ReferencePrice,
			Timestamp:      ev.Timestamp,
		})
	case dialect.SecurityUpdate:
		if err := c.engine.Add(ev.Info); err != nil {
			logs.Errorf("feed %s: register security %s failed: %v",
				c.cfg.Name, ev.Info.Security, err)
		}
	}
}

func (c *Client) applyAdd(ev dialect.AddOrder) {
	if ev.Side == schema.SideUnknown {
		return
	}
	c.engine.AddOrder(ev.Security, ev.Venue, ev.MPID, ev.IsPrimaryMPID,
		ev.Ref, ev.Side, ev.Price, ev.Size, ev.Timestamp)
	// Every resting order is remembered: a later replace must carry the
	// original venue and MPID attribution forward.
	c.orders[ev.Ref] = orderInfo{
		security:  ev.Security,
		venue:     ev.Venue,
		mpid:      ev.MPID,
		isPrimary: ev.IsPrimaryMPID,
		side:      ev.Side,
		price:     ev.Price,
		remaining: ev.Size,
	}
	c.updateBbo(ev.Security, ev.Side, ev.Price, ev.Size, ev.Timestamp)
}

func (c *Client) applyExecuted(ev dialect.OrderExecuted) {
	c.engine.OffsetOrderSize(ev.Ref, -ev.Size, ev.Timestamp)
	entry, known := c.orders[ev.Ref]
	if !known {
		return
	}
	entry.remaining -= ev.Size
	if entry.remaining > 0 {
		c.orders[ev.Ref] = entry
	} else {
		delete(c.orders, ev.Ref)
	}
	if ev.Printable && c.cfg.TimeAndSales {
		price := entry.price
		if ev.HasPrice {
			price = ev.Price
		}
		c.engine.PublishTimeAndSale(schema.TimeAndSale{
			Security:     entry.security,
			Price:        price,
			Size:         ev.Size,
			Condition:    "@",
			MarketCenter: c.cfg.MarketCenter,
			Timestamp:    ev.Timestamp,
		})
	}
	c.updateBbo(entry.security, entry.side, entry.price, -ev.Size, ev.Timestamp)
}

func (c *Client) applyReplaced(ev dialect.OrderReplaced) {
	c.engine.DeleteOrder(ev.Ref, ev.Timestamp)
	entry, known := c.orders[ev.Ref]
	if !known {
		// Never-seen ref, e.g. the order predates joining the stream.
		// Re-adding would fabricate an order with blank attribution.
		return
	}
	c.updateBbo(entry.security, entry.side, entry.price, -entry.remaining, ev.Timestamp)
	c.engine.AddOrder(ev.Security, entry.venue, entry.mpid, entry.isPrimary,
		ev.Ref, ev.Side, ev.Price, ev.Size, ev.Timestamp)
	entry.security = ev.Security
	entry.side = ev.Side
	entry.price = ev.Price
	entry.remaining = ev.Size
	c.orders[ev.Ref] = entry
	c.updateBbo(ev.Security, ev.Side, ev.Price, ev.Size, ev.Timestamp)
}

func (c *Client) applyCancelled(ev dialect.OrderCancelled) {
	c.engine.DeleteOrder(ev.Ref, ev.Timestamp)
	entry, known := c.orders[ev.Ref]
	if !known {
		return
	}
	delete(c.orders, ev.Ref)
	c.updateBbo(entry.security, entry.side, entry.price, -entry.remaining, ev.Timestamp)
}

func (c *Client) applyTrade(ev dialect.Trade) {
	marketCenter := ev.Venue
	if marketCenter == "" {
		marketCenter = c.cfg.MarketCenter
	}
	c.engine.PublishTimeAndSale(schema.TimeAndSale{
		Security:     ev.Security,
		Price:        ev.Price,
		Size:         ev.Size,
		Condition:    ev.Condition,
		MarketCenter: marketCenter,
		Timestamp:    ev.Timestamp,
	})
}

// updateBbo folds an order delta into the security's price ladder and
// publishes a fresh BBO whenever the top of either side may have moved.
func (c *Client) updateBbo(security schema.Security, side schema.Side,
	price schema.Price, delta schema.Quantity, timestamp time.Time) {
	if !c.cfg.BuildBbo || delta == 0 || side == schema.SideUnknown {
		return
	}
	book, ok := c.ladders[security]
	if !ok {
		book = newLadder()
		c.ladders[security] = book
	}
	if !book.apply(side, price, delta) {
		return
	}
	bbo := book.bbo(security)
	bbo.Timestamp = timestamp
	c.engine.PublishBbo(bbo)
}
