package simfeed

import (
	"testing"
	"time"

	"marketfeed/internal/dialect"
	"marketfeed/internal/dialect/mmd"
	"marketfeed/internal/mold"
)

func TestGeneratedMessagesDecode(t *testing.T) {
	origin := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)
	generator := NewGenerator(Config{
		Symbols:    []string{"SIMA", "SIMB"},
		Session:    "SIM",
		Seed:       7,
		TimeOrigin: origin,
	})
	decoder := mmd.NewDecoder(mmd.Config{
		PrimaryVenue: "SIM",
		TimeOrigin:   origin,
	})

	now := origin.Add(9*time.Hour + 30*time.Minute)
	decoded := 0
	for i := 0; i < 200; i++ {
		wantSeq := generator.Sequence()
		raw := generator.NextPacket(now)
		packet, err := mold.DecodePacket(raw)
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if packet.Session != "SIM" {
			t.Fatalf("packet %d session = %q", i, packet.Session)
		}
		if packet.Sequence != wantSeq {
			t.Fatalf("packet %d sequence = %d, want %d", i, packet.Sequence, wantSeq)
		}
		if len(packet.Messages) == 0 {
			t.Fatalf("packet %d carries no messages", i)
		}
		for j, message := range packet.Messages {
			event, err := decoder.Decode(message)
			if err != nil {
				t.Fatalf("packet %d message %d (%q): %v", i, j, message, err)
			}
			if event == nil {
				t.Fatalf("packet %d message %d (%q) decoded to nothing", i, j, message)
			}
			switch ev := event.(type) {
			case dialect.AddOrder:
				if ev.Price <= 0 || ev.Size <= 0 {
					t.Fatalf("add = %+v", ev)
				}
			case dialect.OrderExecuted, dialect.OrderCancelled, dialect.Trade:
			default:
				t.Fatalf("unexpected event %T", event)
			}
			decoded++
		}
		if generator.Sequence() != wantSeq+uint64(len(packet.Messages)) {
			t.Fatalf("sequence did not advance by the message count")
		}
	}
	if decoded == 0 {
		t.Fatal("nothing generated")
	}
}

func TestGeneratorDeterministicForSeed(t *testing.T) {
	cfg := Config{Symbols: []string{"SIMA"}, Seed: 3,
		TimeOrigin: time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)}
	now := cfg.TimeOrigin.Add(time.Hour)

	a, b := NewGenerator(cfg), NewGenerator(cfg)
	for i := 0; i < 50; i++ {
		pa := append([]byte(nil), a.NextPacket(now)...)
		pb := b.NextPacket(now)
		if string(pa) != string(pb) {
			t.Fatalf("packet %d diverged:\n%q\n%q", i, pa, pb)
		}
	}
}
