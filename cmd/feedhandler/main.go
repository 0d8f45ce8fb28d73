package main

import (
	"context"
	"encoding/binary"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/engine"
	"marketfeed/internal/feed"
	"marketfeed/internal/mold"
	"marketfeed/internal/ops"
	"marketfeed/internal/recorder"
	"marketfeed/internal/recovery"
	"marketfeed/internal/registry"
	"marketfeed/internal/soup"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("feedhandler: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "feedhandler.yaml", "configuration file path")
	flag.Parse()

	cfg, err := ops.Load(*configFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.ApplicationName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start profiler")
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if cfg.MetricsAddress != "" {
		go serveMetrics(cfg.MetricsAddress)
	}

	sink := registry.NewClient(registry.Config{
		Address: cfg.Registry.Address,
		Token:   cfg.Registry.Token,
	})
	if err := sink.Open(ctx); err != nil {
		return err
	}

	eng := engine.New(engine.Config{SamplingInterval: cfg.SamplingInterval.Std()}, sink)
	if err := eng.Start(); err != nil {
		sink.Close()
		return err
	}
	defer eng.Close()

	for _, info := range cfg.SecurityInfos() {
		if err := eng.Add(info); err != nil {
			return errors.Wrap(err, "register security").With("symbol", info.Security.Symbol)
		}
	}

	timeOrigin := cfg.SessionTimeOrigin(time.Now())

	var (
		feeds    []*feed.Client
		captures []*recorder.Writer
	)
	defer func() {
		for _, client := range feeds {
			_ = client.Close()
		}
		for _, capture := range captures {
			_ = capture.Close()
		}
	}()

	for _, feedCfg := range cfg.Feeds {
		source, err := mold.OpenUDP(mold.UDPConfig{
			Group:         feedCfg.Group,
			Interface:     feedCfg.Interface,
			ReceiveBuffer: feedCfg.ReceiveBuffer,
		})
		if err != nil {
			return errors.Wrap(err, "open feed").With("feed", feedCfg.Name)
		}

		var packets mold.PacketSource = source
		if cfg.Capture.Enabled {
			capture, err := recorder.NewWriter(recorder.Config{
				Dir:        cfg.Capture.Directory,
				FilePrefix: feedCfg.Name,
			})
			if err != nil {
				source.Close()
				return errors.Wrap(err, "open capture").With("feed", feedCfg.Name)
			}
			if err := capture.Start(ctx); err != nil {
				source.Close()
				return err
			}
			captures = append(captures, capture)
			packets = &capturingSource{src: source, capture: capture}
		}

		var dialer recovery.ReplayDialer
		if retrans := feedCfg.Retransmission; retrans.Address != "" {
			dialer = recovery.SoupReplayDialer(soup.Config{
				Address:  retrans.Address,
				Username: retrans.Username,
				Password: retrans.Password,
				Session:  retrans.Session,
			})
		}
		controller := recovery.NewController(feedCfg.Name, mold.NewClient(packets), dialer)

		client := feed.NewClient(feed.Config{
			Name:         feedCfg.Name,
			BuildBbo:     feedCfg.BuildBbo,
			TimeAndSales: feedCfg.TimeAndSales,
			MarketCenter: feedCfg.MarketCenter,
		}, controller, feed.NewDialectDecoder(feedCfg, timeOrigin), eng)
		if err := client.Open(ctx); err != nil {
			controller.Close()
			return err
		}
		feeds = append(feeds, client)
		logs.Infof("feed %s: listening on %s (%s)", feedCfg.Name, feedCfg.Group, feedCfg.Dialect)
	}

	<-ctx.Done()
	stop()

	for _, client := range feeds {
		_ = client.Close()
		if err := client.Err(); err != nil {
			logs.Warnf("feed terminated with error: %v", err)
		}
	}
	feeds = nil
	return nil
}

func serveMetrics(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(address, mux); err != nil {
		logs.Errorf("metrics server: %v", err)
	}
}

// capturingSource tees every received datagram into the capture writer.
type capturingSource struct {
	src     mold.PacketSource
	capture *recorder.Writer
}

func (s *capturingSource) ReadPacket(buf []byte) (int, error) {
	n, err := s.src.ReadPacket(buf)
	if err != nil {
		return n, err
	}
	if err := s.capture.TryAppend(packetSequence(buf[:n]), buf[:n]); err != nil {
		if !errors.Is(err, recorder.ErrQueueFull) {
			logs.Warnf("capture append failed: %v", err)
		}
	}
	return n, nil
}

func (s *capturingSource) Close() error {
	return s.src.Close()
}

// packetSequence pulls the sequence number out of a raw packet header
// without a full decode.
func packetSequence(packet []byte) uint64 {
	if len(packet) < 18 {
		return 0
	}
	return binary.BigEndian.Uint64(packet[10:18])
}
