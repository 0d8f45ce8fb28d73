// Command replay pushes a recorded packet capture through the normal
// feed pipeline, at original or accelerated pace.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/engine"
	"marketfeed/internal/feed"
	"marketfeed/internal/mold"
	"marketfeed/internal/ops"
	"marketfeed/internal/recorder"
	"marketfeed/internal/recovery"
	"marketfeed/internal/registry"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("replay: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "feedhandler.yaml", "configuration file path")
	feedFlag := flag.String("feed", "", "name of the configured feed to replay")
	dirFlag := flag.String("dir", "", "capture directory (defaults to the configured one)")
	speedFlag := flag.Float64("speed", 0, "pace multiplier; 0 replays as fast as possible")
	flag.Parse()

	cfg, err := ops.Load(*configFlag)
	if err != nil {
		return err
	}
	feedCfg, err := findFeed(cfg, *feedFlag)
	if err != nil {
		return err
	}
	dir := *dirFlag
	if dir == "" {
		dir = cfg.Capture.Directory
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	playback, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:        dir,
		FilePrefix: feedCfg.Name,
		Speed:      *speedFlag,
	})
	if err != nil {
		return err
	}
	source, err := playback.Open(ctx)
	if err != nil {
		return err
	}

	sink := registry.NewClient(registry.Config{
		Address: cfg.Registry.Address,
		Token:   cfg.Registry.Token,
	})
	if err := sink.Open(ctx); err != nil {
		source.Close()
		return err
	}

	eng := engine.New(engine.Config{SamplingInterval: cfg.SamplingInterval.Std()}, sink)
	if err := eng.Start(); err != nil {
		source.Close()
		sink.Close()
		return err
	}
	defer eng.Close()

	for _, info := range cfg.SecurityInfos() {
		if err := eng.Add(info); err != nil {
			return errors.Wrap(err, "register security").With("symbol", info.Security.Symbol)
		}
	}

	// Replays never dial retransmission: gaps in a capture are gaps.
	controller := recovery.NewController(feedCfg.Name, mold.NewClient(source), nil)
	client := feed.NewClient(feed.Config{
		Name:         feedCfg.Name,
		BuildBbo:     feedCfg.BuildBbo,
		TimeAndSales: feedCfg.TimeAndSales,
		MarketCenter: feedCfg.MarketCenter,
	}, controller, feed.NewDialectDecoder(feedCfg, cfg.SessionTimeOrigin(time.Now())), eng)
	if err := client.Open(ctx); err != nil {
		controller.Close()
		return err
	}

	select {
	case <-ctx.Done():
	case <-client.Done():
	}
	_ = client.Close()
	if err := client.Err(); err != nil {
		return err
	}
	logs.Infof("replay finished: %s", feedCfg.Name)
	return nil
}

func findFeed(cfg ops.Config, name string) (ops.FeedConfig, error) {
	if name == "" {
		return cfg.Feeds[0], nil
	}
	for _, feedCfg := range cfg.Feeds {
		if feedCfg.Name == name {
			return feedCfg, nil
		}
	}
	return ops.FeedConfig{}, errors.Errorf("feed not configured: %s", name)
}
