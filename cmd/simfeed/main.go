// Command simfeed emits a synthetic feed onto UDP multicast, or into a
// capture directory for later replay.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/recorder"
	"marketfeed/internal/schema"
	"marketfeed/internal/simfeed"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("simfeed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	groupFlag := flag.String("group", "239.192.0.1:26400", "destination multicast group")
	symbolsFlag := flag.String("symbols", "SIMA,SIMB,SIMC", "comma-separated symbols")
	sessionFlag := flag.String("session", "SIM", "session identifier carried by packets")
	rateFlag := flag.Int("rate", 100, "packets per second")
	countFlag := flag.Int("count", 0, "packets to send; 0 runs until interrupted")
	seedFlag := flag.Int64("seed", 1, "random walk seed")
	captureFlag := flag.String("capture", "", "write to a capture directory instead of UDP")
	flag.Parse()

	if *rateFlag <= 0 {
		return errors.New("rate must be > 0")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	now := time.Now()
	gen := simfeed.NewGenerator(simfeed.Config{
		Symbols:    strings.Split(*symbolsFlag, ","),
		BasePrice:  schema.PriceFromValue(100, 0),
		Session:    *sessionFlag,
		Seed:       *seedFlag,
		TimeOrigin: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
	})

	emit, cleanup, err := newEmitter(ctx, *groupFlag, *captureFlag)
	if err != nil {
		return err
	}
	defer cleanup()

	ticker := time.NewTicker(time.Second / time.Duration(*rateFlag))
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			logs.Infof("simfeed stopped after %d packets", sent)
			return nil
		case <-ticker.C:
			packet := gen.NextPacket(time.Now())
			if err := emit(packet); err != nil {
				return errors.Wrap(err, "emit packet")
			}
			sent++
			if *countFlag > 0 && sent >= *countFlag {
				logs.Infof("simfeed done: %d packets, next sequence %d", sent, gen.Sequence())
				return nil
			}
		}
	}
}

func newEmitter(ctx context.Context, group, captureDir string) (func([]byte) error, func(), error) {
	if captureDir != "" {
		writer, err := recorder.NewWriter(recorder.Config{
			Dir:        captureDir,
			FilePrefix: "simfeed",
		})
		if err != nil {
			return nil, nil, err
		}
		if err := writer.Start(ctx); err != nil {
			return nil, nil, err
		}
		emit := func(packet []byte) error {
			return writer.TryAppend(packetSequence(packet), packet)
		}
		return emit, func() { _ = writer.Close() }, nil
	}

	conn, err := net.Dial("udp", group)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial group").With("group", group)
	}
	emit := func(packet []byte) error {
		_, err := conn.Write(packet)
		return err
	}
	return emit, func() { _ = conn.Close() }, nil
}

func packetSequence(packet []byte) uint64 {
	if len(packet) < 18 {
		return 0
	}
	return binary.BigEndian.Uint64(packet[10:18])
}
