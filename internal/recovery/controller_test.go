package recovery

import (
	"context"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/obs"
)

type scriptedMessage struct {
	data string
	seq  uint64
}

type scriptedSource struct {
	messages []scriptedMessage
	closed   int
}

func (s *scriptedSource) Read() ([]byte, uint64, error) {
	if len(s.messages) == 0 {
		return nil, 0, io.EOF
	}
	next := s.messages[0]
	s.messages = s.messages[1:]
	return []byte(next.data), next.seq, nil
}

func (s *scriptedSource) Close() error {
	s.closed++
	return nil
}

type scriptedReplay struct {
	messages []scriptedMessage
}

func (s *scriptedReplay) ReadMessage() ([]byte, uint64, error) {
	if len(s.messages) == 0 {
		return nil, 0, io.EOF
	}
	next := s.messages[0]
	s.messages = s.messages[1:]
	return []byte(next.data), next.seq, nil
}

func (s *scriptedReplay) Close() error { return nil }

func replayDialer(t *testing.T, expectFrom uint64, messages []scriptedMessage) ReplayDialer {
	return func(_ context.Context, from uint64) (ReplaySession, error) {
		assert.Equal(t, expectFrom, from, "replay should resume after the last delivered sequence")
		return &scriptedReplay{messages: messages}, nil
	}
}

func drain(t *testing.T, controller *Controller) []scriptedMessage {
	t.Helper()
	var delivered []scriptedMessage
	for {
		data, seq, err := controller.Read(t.Context())
		if err == io.EOF {
			return delivered
		}
		require.NoError(t, err)
		delivered = append(delivered, scriptedMessage{data: string(data), seq: seq})
	}
}

func TestInOrderDelivery(t *testing.T) {
	source := &scriptedSource{messages: []scriptedMessage{
		{"a", 5}, {"b", 6}, {"c", 7},
	}}
	controller := NewController("test", source, nil)

	delivered := drain(t, controller)
	assert.Equal(t, []scriptedMessage{{"a", 5}, {"b", 6}, {"c", 7}}, delivered)
}

func TestDuplicatesDropped(t *testing.T) {
	source := &scriptedSource{messages: []scriptedMessage{
		{"a", 5}, {"a", 5}, {"stale", 4}, {"b", 6},
	}}
	controller := NewController("test", source, nil)

	delivered := drain(t, controller)
	assert.Equal(t, []scriptedMessage{{"a", 5}, {"b", 6}}, delivered)
}

func TestGapRecovered(t *testing.T) {
	// Live stream delivers S, S+1 then jumps to S+4: the replay session
	// must fill S+2 and S+3, and the trigger message follows in order.
	source := &scriptedSource{messages: []scriptedMessage{
		{"s0", 10}, {"s1", 11}, {"s4", 14},
	}}
	dial := replayDialer(t, 12, []scriptedMessage{
		{"r2", 12}, {"r3", 13},
	})
	controller := NewController("test", source, dial)

	delivered := drain(t, controller)
	assert.Equal(t, []scriptedMessage{
		{"s0", 10}, {"s1", 11}, {"r2", 12}, {"r3", 13}, {"s4", 14},
	}, delivered)
}

func TestGapRecoveredIncludingTrigger(t *testing.T) {
	// The replay session may re-serve the trigger itself; the live copy
	// is then dropped and the replayed copy delivered exactly once.
	source := &scriptedSource{messages: []scriptedMessage{
		{"s0", 10}, {"s2", 12},
	}}
	dial := replayDialer(t, 11, []scriptedMessage{
		{"r1", 11}, {"r2", 12}, {"r3", 13},
	})
	controller := NewController("test", source, dial)

	delivered := drain(t, controller)
	assert.Equal(t, []scriptedMessage{
		{"s0", 10}, {"r1", 11}, {"r2", 12},
	}, delivered)
}

func TestPartialRecovery(t *testing.T) {
	// The replay session ends before covering the gap. The hole stays,
	// the trigger is still delivered, and the stream keeps going.
	source := &scriptedSource{messages: []scriptedMessage{
		{"s0", 10}, {"s5", 15}, {"s6", 16},
	}}
	dial := replayDialer(t, 11, []scriptedMessage{
		{"r1", 11}, {"r2", 12},
	})
	controller := NewController("test", source, dial)

	delivered := drain(t, controller)
	assert.Equal(t, []scriptedMessage{
		{"s0", 10}, {"r1", 11}, {"r2", 12}, {"s5", 15}, {"s6", 16},
	}, delivered)
}

func TestReplayHoleCounted(t *testing.T) {
	// The replay session itself skips a sequence inside the missing
	// range. The hole must show up in the loss counters even though the
	// replay reached the trigger.
	lostBefore := testutil.ToFloat64(obs.MessagesLost)
	partialBefore := testutil.ToFloat64(obs.PartialRecoveries)
	recoveredBefore := testutil.ToFloat64(obs.MessagesRecovered)

	source := &scriptedSource{messages: []scriptedMessage{
		{"s0", 10}, {"s4", 14},
	}}
	dial := replayDialer(t, 11, []scriptedMessage{
		{"r1", 11}, {"r2", 12}, {"r4", 14},
	})
	controller := NewController("test", source, dial)

	delivered := drain(t, controller)
	assert.Equal(t, []scriptedMessage{
		{"s0", 10}, {"r1", 11}, {"r2", 12}, {"r4", 14},
	}, delivered)
	assert.Equal(t, 2.0, testutil.ToFloat64(obs.MessagesRecovered)-recoveredBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.MessagesLost)-lostBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.PartialRecoveries)-partialBefore)
}

func TestGapWithoutDialer(t *testing.T) {
	source := &scriptedSource{messages: []scriptedMessage{
		{"s0", 10}, {"s3", 13},
	}}
	controller := NewController("test", source, nil)

	delivered := drain(t, controller)
	assert.Equal(t, []scriptedMessage{{"s0", 10}, {"s3", 13}}, delivered)
}

func TestReplayOvershootDiscarded(t *testing.T) {
	// A replay session serving past the trigger stops the drain; the
	// overshooting message is discarded, not delivered twice.
	source := &scriptedSource{messages: []scriptedMessage{
		{"s0", 10}, {"s2", 12}, {"s3", 13},
	}}
	dial := replayDialer(t, 11, []scriptedMessage{
		{"r1", 11}, {"r4", 14},
	})
	controller := NewController("test", source, dial)

	delivered := drain(t, controller)
	assert.Equal(t, []scriptedMessage{
		{"s0", 10}, {"r1", 11}, {"s2", 12}, {"s3", 13},
	}, delivered)
}

func TestCloseClosesSource(t *testing.T) {
	source := &scriptedSource{}
	controller := NewController("test", source, nil)
	require.NoError(t, controller.Close())
	assert.Equal(t, 1, source.closed)
}
