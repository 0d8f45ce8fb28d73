// Package recovery repairs multicast sequence gaps over a secondary
// retransmission session, presenting a gap-free strictly increasing
// message stream.
package recovery

import (
	"context"
	"io"

	"github.com/yanun0323/logs"

	"marketfeed/internal/obs"
	"marketfeed/internal/soup"
)

// Source is the live sequenced message stream, normally a mold.Client.
type Source interface {
	Read() ([]byte, uint64, error)
	Close() error
}

// ReplaySession replays sequenced messages from a requested starting point.
type ReplaySession interface {
	ReadMessage() ([]byte, uint64, error)
	Close() error
}

// ReplayDialer opens a fresh retransmission session replaying from the
// given sequence number.
type ReplayDialer func(ctx context.Context, from uint64) (ReplaySession, error)

// SoupReplayDialer authenticates against a soup retransmission endpoint
// with the configured credentials and the requested resume sequence.
func SoupReplayDialer(cfg soup.Config) ReplayDialer {
	return func(ctx context.Context, from uint64) (ReplaySession, error) {
		cfg := cfg
		cfg.RequestedSequence = from
		client := soup.NewClient(cfg)
		if err := client.Open(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

type queuedMessage struct {
	data []byte
	seq  uint64
}

// Controller wraps a live source with duplicate filtering and gap repair.
// Read must be called from a single goroutine.
type Controller struct {
	source Source
	dial   ReplayDialer
	feed   string

	primed bool
	last   uint64
	queue  []queuedMessage
}

// NewController builds a controller. A nil dialer disables retransmission;
// gaps are then surfaced only as a jump in delivered sequence numbers.
func NewController(feed string, source Source, dial ReplayDialer) *Controller {
	return &Controller{source: source, dial: dial, feed: feed}
}

// Read returns the next message in strictly increasing sequence order.
// Duplicates never surface. A gap blocks the caller for the duration of
// the retransmission round trip; this backpressure is deliberate.
func (c *Controller) Read(ctx context.Context) ([]byte, uint64, error) {
	for {
		if len(c.queue) > 0 {
			next := c.queue[0]
			c.queue = c.queue[1:]
			c.last = next.seq
			obs.MessagesDelivered.Inc()
			return next.data, next.seq, nil
		}
		data, seq, err := c.source.Read()
		if err != nil {
			return nil, 0, err
		}
		if !c.primed {
			c.primed = true
			c.last = seq
			obs.MessagesDelivered.Inc()
			return data, seq, nil
		}
		if seq <= c.last {
			obs.DuplicatesDropped.Inc()
			continue
		}
		if seq == c.last+1 {
			c.last = seq
			obs.MessagesDelivered.Inc()
			return data, seq, nil
		}
		c.recover(ctx, data, seq)
	}
}

// recover requests replay of (last, trigger) and queues whatever the
// retransmission endpoint returns, followed by the trigger message when
// the replay did not already re-serve it. A truncated or holed replay is
// kept, logged, and counted; it is never retried and never an error, so
// delivery resumes with an observable hole.
func (c *Controller) recover(ctx context.Context, trigger []byte, triggerSeq uint64) {
	obs.GapsDetected.Inc()
	from := c.last + 1
	missing := triggerSeq - from
	logs.Warnf("feed %s: gap detected, missing [%d, %d)", c.feed, from, triggerSeq)

	var queued uint64
	var triggerCovered bool
	if c.dial != nil {
		session, err := c.dial(ctx, from)
		if err != nil {
			logs.Errorf("feed %s: retransmission connect failed: %v", c.feed, err)
		} else {
			queued, triggerCovered = c.replay(session, triggerSeq)
			_ = session.Close()
		}
	}

	// Only fills of the missing range count as repairs; a replayed copy
	// of the trigger is not one. Comparing the fill count against the
	// range size catches holes inside the replay, not just a short tail.
	recovered := queued
	if triggerCovered {
		recovered--
	}
	if recovered > 0 {
		obs.MessagesRecovered.Add(float64(recovered))
	}
	if recovered < missing {
		obs.PartialRecoveries.Inc()
		obs.MessagesLost.Add(float64(missing - recovered))
		logs.Warnf("feed %s: partial recovery, replayed %d of %d missing messages",
			c.feed, recovered, missing)
	}
	if !triggerCovered {
		c.queue = append(c.queue, queuedMessage{data: trigger, seq: triggerSeq})
	}
}

// replay drains the retransmission session into the queue, discarding
// sequences at or below the last delivered and stopping once the trigger
// sequence is reached or the stream ends. It returns how many messages
// were queued and whether the trigger itself was among them. End of
// stream is recovery exhaustion, not a failure.
func (c *Controller) replay(session ReplaySession, triggerSeq uint64) (queued uint64, triggerCovered bool) {
	for {
		data, seq, err := session.ReadMessage()
		if err != nil {
			if !isEndOfStream(err) {
				logs.Errorf("feed %s: retransmission read failed: %v", c.feed, err)
			}
			return queued, false
		}
		if seq <= c.last {
			continue
		}
		if seq > triggerSeq {
			return queued, false
		}
		c.queue = append(c.queue, queuedMessage{data: data, seq: seq})
		queued++
		if seq == triggerSeq {
			return queued, true
		}
	}
}

func isEndOfStream(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

// Close closes the live source.
func (c *Controller) Close() error {
	return c.source.Close()
}
