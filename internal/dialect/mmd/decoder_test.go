package mmd

import (
	"testing"
	"time"

	"marketfeed/internal/dialect"
	"marketfeed/internal/schema"
)

var origin = time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)

func newTestDecoder() *Decoder {
	return NewDecoder(Config{
		PrimaryVenue:       "XHKG",
		DisseminatingVenue: "H",
		MPID:               "MMKR",
		TimeOrigin:         origin,
	})
}

func TestDecodeAddOrderShortForm(t *testing.T) {
	// 09:30:00.123 since midnight = 34200123 ms.
	message := []byte("34200123A000000042B000500ACME  0001234500Y")
	event, err := newTestDecoder().Decode(message)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	add, ok := event.(dialect.AddOrder)
	if !ok {
		t.Fatalf("event = %T", event)
	}
	if add.Ref != "42" || add.Side != schema.SideBid || add.Size != 500 {
		t.Fatalf("add = %+v", add)
	}
	if add.Security != (schema.Security{Symbol: "ACME", Venue: "XHKG"}) {
		t.Fatalf("security = %+v", add.Security)
	}
	if add.Venue != "H" || add.MPID != "MMKR" {
		t.Fatalf("attribution = %+v", add)
	}
	// Short form carries 4 implied decimals: 123.45 scales to 123450000.
	if add.Price != 123_450_000 {
		t.Fatalf("price = %d", add.Price)
	}
	want := origin.Add(34200123 * time.Millisecond)
	if !add.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", add.Timestamp, want)
	}
}

func TestDecodeAddOrderLongForm(t *testing.T) {
	message := []byte("34200123a000000042S0000000500ACME  0000000000123450000Y")
	event, err := newTestDecoder().Decode(message)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	add, ok := event.(dialect.AddOrder)
	if !ok {
		t.Fatalf("event = %T", event)
	}
	if add.Side != schema.SideAsk || add.Size != 500 || add.Price != 123_450_000 {
		t.Fatalf("add = %+v", add)
	}
}

func TestDecodeNonDisplayedOrderDropped(t *testing.T) {
	message := []byte("34200123A000000042B000500ACME  0001234500N")
	event, err := newTestDecoder().Decode(message)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if event != nil {
		t.Fatalf("hidden order should decode to nothing, got %+v", event)
	}
}

func TestDecodeOrderExecuted(t *testing.T) {
	message := []byte("34200123E000000042000200000000777000000888")
	event, err := newTestDecoder().Decode(message)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	exec, ok := event.(dialect.OrderExecuted)
	if !ok {
		t.Fatalf("event = %T", event)
	}
	if exec.Ref != "42" || exec.Size != 200 || !exec.Printable {
		t.Fatalf("exec = %+v", exec)
	}
	if exec.TradeRef != "777" || exec.ContraRef != "888" {
		t.Fatalf("refs = %+v", exec)
	}
}

func TestDecodeOrderCancelled(t *testing.T) {
	event, err := newTestDecoder().Decode([]byte("34200123X000000042"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cancel, ok := event.(dialect.OrderCancelled)
	if !ok {
		t.Fatalf("event = %T", event)
	}
	if cancel.Ref != "42" {
		t.Fatalf("cancel = %+v", cancel)
	}
}

func TestDecodeTrade(t *testing.T) {
	message := []byte("34200123P000000000S000300ACME  0001234500000000777000000888O")
	event, err := newTestDecoder().Decode(message)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	trade, ok := event.(dialect.Trade)
	if !ok {
		t.Fatalf("event = %T", event)
	}
	if trade.Size != 300 || trade.Price != 123_450_000 || trade.Condition != "@" {
		t.Fatalf("trade = %+v", trade)
	}
	if trade.Venue != "MMKR" {
		t.Fatalf("trade venue = %q", trade.Venue)
	}
}

func TestDecodeUnknownTypeIgnored(t *testing.T) {
	event, err := newTestDecoder().Decode([]byte("34200123?junk"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if event != nil {
		t.Fatalf("unknown type should decode to nothing, got %+v", event)
	}
}

func TestDecodeTruncatedMessage(t *testing.T) {
	if _, err := newTestDecoder().Decode([]byte("34200123A0000000")); err == nil {
		t.Fatal("expected an error for a truncated message")
	}
}
