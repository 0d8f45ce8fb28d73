// Package engine owns the live per-order table and the per-security
// pending-update buffers, coalescing a torrent of per-order deltas into
// sampled book, BBO, and trade batches.
package engine

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/obs"
	"marketfeed/internal/schema"
)

var ErrAlreadyStarted = errors.New("engine already started")

const defaultSamplingInterval = 100 * time.Millisecond

// Sink is the authenticated outbound channel batches are published to.
type Sink interface {
	SetSecurityInfo(info schema.SecurityInfo) error
	SendMessages(batch []schema.Update) error
	Close() error
}

// Config tunes the sampling publisher.
type Config struct {
	SamplingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = defaultSamplingInterval
	}
	return c
}

type orderEntry struct {
	security  schema.Security
	venue     string
	mpid      string
	isPrimary bool
	side      schema.Side
	price     schema.Price
	size      schema.Quantity
}

type pendingUpdates struct {
	bbo          *schema.BboQuote
	marketQuotes map[string]schema.MarketQuote
	asks         []schema.BookQuote
	bids         []schema.BookQuote
	timeAndSales []schema.TimeAndSale
}

// Engine applies order events under a single mutex shared with the
// sampling flush. All mutating operations are safe for concurrent use.
type Engine struct {
	cfg  Config
	sink Sink

	mu         sync.Mutex
	orders     map[string]orderEntry
	pending    map[schema.Security]*pendingUpdates
	imbalances []schema.Imbalance

	stop    chan struct{}
	wg      sync.WaitGroup
	started uint32
	closed  uint32
}

// New builds an engine publishing to the given sink.
func New(cfg Config, sink Sink) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		sink:    sink,
		orders:  make(map[string]orderEntry),
		pending: make(map[schema.Security]*pendingUpdates),
		stop:    make(chan struct{}),
	}
}

// Start runs the sampling flush loop in a new goroutine.
func (e *Engine) Start() error {
	if !atomic.CompareAndSwapUint32(&e.started, 0, 1) {
		return ErrAlreadyStarted
	}
	e.wg.Add(1)
	go e.flushLoop()
	return nil
}

// Close is idempotent: it stops the flush timer, joins the flush
// goroutine, and closes the sink. Pending updates at close are dropped.
func (e *Engine) Close() error {
	if !atomic.CompareAndSwapUint32(&e.closed, 0, 1) {
		return nil
	}
	close(e.stop)
	e.wg.Wait()
	return e.sink.Close()
}

// Add forwards a security's static reference data straight to the sink;
// reference data is never sampled.
func (e *Engine) Add(info schema.SecurityInfo) error {
	return e.sink.SetSecurityInfo(info)
}

// AddOrder inserts an order and folds a positive book delta. A quantity
// of zero or less is a no-op; an existing reference is deleted first so
// the book is never double-counted.
func (e *Engine) AddOrder(security schema.Security, venue, mpid string, isPrimary bool,
	ref string, side schema.Side, price schema.Price, size schema.Quantity, timestamp time.Time) {
	if size <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addLocked(ref, orderEntry{
		security:  security,
		venue:     venue,
		mpid:      mpid,
		isPrimary: isPrimary,
		side:      side,
		price:     price,
		size:      size,
	}, timestamp)
}

// ModifyOrderSize sets an order's remaining quantity.
func (e *Engine) ModifyOrderSize(ref string, size schema.Quantity, timestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.removeLocked(ref, timestamp)
	if !ok {
		return
	}
	entry.size = size
	e.addLocked(ref, entry, timestamp)
}

// OffsetOrderSize adjusts an order's remaining quantity by a signed delta.
func (e *Engine) OffsetOrderSize(ref string, delta schema.Quantity, timestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.removeLocked(ref, timestamp)
	if !ok {
		return
	}
	entry.size += delta
	e.addLocked(ref, entry, timestamp)
}

// ModifyOrderPrice re-prices an order, preserving its quantity.
func (e *Engine) ModifyOrderPrice(ref string, price schema.Price, timestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.removeLocked(ref, timestamp)
	if !ok {
		return
	}
	entry.price = price
	e.addLocked(ref, entry, timestamp)
}

// DeleteOrder removes an order and folds a negative book delta. Unknown
// references are tolerated.
func (e *Engine) DeleteOrder(ref string, timestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(ref, timestamp)
}

// PublishBbo replaces the security's pending BBO.
func (e *Engine) PublishBbo(bbo schema.BboQuote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingFor(bbo.Security).bbo = &bbo
}

// PublishMarketQuote replaces the security's pending quote for its venue.
func (e *Engine) PublishMarketQuote(quote schema.MarketQuote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingFor(quote.Security).marketQuotes[quote.Venue] = quote
}

// PublishBookQuote folds a signed depth delta through the merge path.
func (e *Engine) PublishBookQuote(quote schema.BookQuote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.foldLocked(quote)
}

// PublishTimeAndSale appends a trade print.
func (e *Engine) PublishTimeAndSale(print schema.TimeAndSale) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := e.pendingFor(print.Security)
	pending.timeAndSales = append(pending.timeAndSales, print)
}

// PublishImbalance appends an auction imbalance.
func (e *Engine) PublishImbalance(imbalance schema.Imbalance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.imbalances = append(e.imbalances, imbalance)
}

// addLocked performs the add half of the delete-then-add discipline.
func (e *Engine) addLocked(ref string, entry orderEntry, timestamp time.Time) {
	if entry.size <= 0 {
		return
	}
	if _, exists := e.orders[ref]; exists {
		e.removeLocked(ref, timestamp)
	}
	e.orders[ref] = entry
	e.foldLocked(schema.BookQuote{
		Security:  entry.security,
		Venue:     entry.venue,
		MPID:      entry.mpid,
		Side:      entry.side,
		Price:     entry.price,
		Size:      entry.size,
		Timestamp: timestamp,
	})
}

// removeLocked folds a negative delta for the order and erases it.
func (e *Engine) removeLocked(ref string, timestamp time.Time) (orderEntry, bool) {
	entry, ok := e.orders[ref]
	if !ok {
		return orderEntry{}, false
	}
	delete(e.orders, ref)
	e.foldLocked(schema.BookQuote{
		Security:  entry.security,
		Venue:     entry.venue,
		MPID:      entry.mpid,
		Side:      entry.side,
		Price:     entry.price,
		Size:      -entry.size,
		Timestamp: timestamp,
	})
	return entry, true
}

// foldLocked merges a delta into the security's pending ask or bid array.
// Matching price and participant sum quantity and refresh the timestamp;
// anything else is inserted in price-priority order.
func (e *Engine) foldLocked(quote schema.BookQuote) {
	pending := e.pendingFor(quote.Security)
	if quote.Side == schema.SideAsk {
		pending.asks = mergeQuote(pending.asks, quote, false)
	} else {
		pending.bids = mergeQuote(pending.bids, quote, true)
	}
}

func (e *Engine) pendingFor(security schema.Security) *pendingUpdates {
	pending, ok := e.pending[security]
	if !ok {
		pending = &pendingUpdates{marketQuotes: make(map[string]schema.MarketQuote)}
		e.pending[security] = pending
	}
	return pending
}

func mergeQuote(levels []schema.BookQuote, quote schema.BookQuote, descending bool) []schema.BookQuote {
	position := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price <= quote.Price
		}
		return levels[i].Price >= quote.Price
	})
	for i := position; i < len(levels) && levels[i].Price == quote.Price; i++ {
		if levels[i].MPID == quote.MPID {
			levels[i].Size += quote.Size
			levels[i].Timestamp = quote.Timestamp
			return levels
		}
	}
	levels = append(levels, schema.BookQuote{})
	copy(levels[position+1:], levels[position:])
	levels[position] = quote
	return levels
}

func (e *Engine) flushLoop() {
	defer e.wg.Done()
	timer := time.NewTimer(e.cfg.SamplingInterval)
	defer timer.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-timer.C:
			e.flush()
			timer.Reset(e.cfg.SamplingInterval)
		}
	}
}

// flush swaps out every pending buffer under the lock, then flattens and
// sends outside it so a slow publish never stalls ingestion.
func (e *Engine) flush() {
	e.mu.Lock()
	pending := e.pending
	imbalances := e.imbalances
	e.pending = make(map[schema.Security]*pendingUpdates)
	e.imbalances = nil
	e.mu.Unlock()

	batch := flatten(pending, imbalances)
	if len(batch) == 0 {
		return
	}
	if err := e.sink.SendMessages(batch); err != nil {
		logs.Errorf("publish batch of %d updates failed: %v", len(batch), err)
		return
	}
	obs.BatchesPublished.Inc()
	obs.UpdatesPublished.Add(float64(len(batch)))
}

// flatten orders a swapped-out pending set into one batch: per security
// the BBO, market quotes, non-zero ask deltas, non-zero bid deltas, and
// trade prints, with all imbalances appended at the end. Zero-quantity
// deltas are removals already reflected in the book and are dropped.
func flatten(pending map[schema.Security]*pendingUpdates, imbalances []schema.Imbalance) []schema.Update {
	var batch []schema.Update
	for _, updates := range pending {
		if updates.bbo != nil {
			batch = append(batch, *updates.bbo)
		}
		for _, quote := range updates.marketQuotes {
			batch = append(batch, quote)
		}
		for _, quote := range updates.asks {
			if quote.Size != 0 {
				batch = append(batch, quote)
			}
		}
		for _, quote := range updates.bids {
			if quote.Size != 0 {
				batch = append(batch, quote)
			}
		}
		for _, print := range updates.timeAndSales {
			batch = append(batch, print)
		}
	}
	for _, imbalance := range imbalances {
		batch = append(batch, imbalance)
	}
	return batch
}
