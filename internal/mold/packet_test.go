package mold

import (
	"io"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	messages := [][]byte{[]byte("alpha"), []byte("bravo"), []byte("c")}
	data := EncodePacket(nil, "DAY", 700, messages)

	packet, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("decode packet: %v", err)
	}
	if packet.Session != "DAY" {
		t.Fatalf("session mismatch: got %q", packet.Session)
	}
	if packet.Sequence != 700 {
		t.Fatalf("sequence mismatch: got %d", packet.Sequence)
	}
	if len(packet.Messages) != len(messages) {
		t.Fatalf("message count mismatch: got %d", len(packet.Messages))
	}
	for i, message := range packet.Messages {
		if string(message) != string(messages[i]) {
			t.Fatalf("message %d mismatch: got %q want %q", i, message, messages[i])
		}
	}
}

func TestHeartbeatPacket(t *testing.T) {
	data := EncodePacket(nil, "DAY", 700, nil)
	packet, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("decode heartbeat: %v", err)
	}
	if len(packet.Messages) != 0 {
		t.Fatalf("heartbeat should carry no messages, got %d", len(packet.Messages))
	}
	if packet.Sequence != 700 {
		t.Fatalf("sequence mismatch: got %d", packet.Sequence)
	}
}

func TestDecodeTruncatedPacket(t *testing.T) {
	data := EncodePacket(nil, "DAY", 1, [][]byte{[]byte("alpha")})
	for _, cut := range []int{5, headerSize + 1, len(data) - 1} {
		if _, err := DecodePacket(data[:cut]); err != ErrPacketTruncated {
			t.Fatalf("cut at %d: expected ErrPacketTruncated, got %v", cut, err)
		}
	}
}

// packetQueue feeds pre-built datagrams to the client.
type packetQueue struct {
	packets [][]byte
	closed  int
}

func (q *packetQueue) ReadPacket(buf []byte) (int, error) {
	if len(q.packets) == 0 {
		return 0, io.EOF
	}
	n := copy(buf, q.packets[0])
	q.packets = q.packets[1:]
	return n, nil
}

func (q *packetQueue) Close() error {
	q.closed++
	return nil
}

func TestClientAssignsConsecutiveSequences(t *testing.T) {
	queue := &packetQueue{packets: [][]byte{
		EncodePacket(nil, "DAY", 10, [][]byte{[]byte("m10"), []byte("m11"), []byte("m12")}),
		EncodePacket(nil, "DAY", 13, nil), // heartbeat, skipped
		EncodePacket(nil, "DAY", 13, [][]byte{[]byte("m13")}),
	}}
	client := NewClient(queue)

	expected := []struct {
		payload string
		seq     uint64
	}{
		{"m10", 10}, {"m11", 11}, {"m12", 12}, {"m13", 13},
	}
	for _, want := range expected {
		message, seq, err := client.Read()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(message) != want.payload || seq != want.seq {
			t.Fatalf("got %q/%d want %q/%d", message, seq, want.payload, want.seq)
		}
	}
	if _, _, err := client.Read(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if queue.closed != 1 {
		t.Fatalf("source should be closed exactly once, got %d", queue.closed)
	}
}
