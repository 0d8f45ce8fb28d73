package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PlaybackConfig controls capture playback behavior.
type PlaybackConfig struct {
	Dir             string
	FilePrefix      string
	Speed           float64
	DisableChecksum bool
	MaxPayloadSize  int
}

// Clock allows deterministic playback control.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playback replays capture files in name order as a packet source. A
// Speed of 0 replays as fast as the pipeline can consume; Speed 1
// reproduces the original inter-packet gaps, 2 halves them.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the clock implementation.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid playback config: Dir is empty")
	}
	if c.Speed < 0 {
		return fmt.Errorf("invalid playback config: Speed must be >= 0")
	}
	if c.MaxPayloadSize < 0 {
		return fmt.Errorf("invalid playback config: MaxPayloadSize must be >= 0")
	}
	return nil
}

// Open collects the capture files and returns a packet source that
// replays them. The source satisfies the multicast transport's
// PacketSource, so a replay feeds the normal pipeline.
func (p *Playback) Open(ctx context.Context) (*Source, error) {
	files, err := p.collectFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no capture files in %s", p.cfg.Dir)
	}
	return &Source{p: p, ctx: ctx, files: files}, nil
}

func (p *Playback) collectFiles() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, err
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Source reads captured packets across segment files in order, pacing
// by capture timestamps.
type Source struct {
	p      *Playback
	ctx    context.Context
	files  []string
	file   *os.File
	reader *Reader
	prevTS int64
}

// ReadPacket copies the next captured datagram into buf.
func (s *Source) ReadPacket(buf []byte) (int, error) {
	for {
		if s.reader == nil {
			if len(s.files) == 0 {
				return 0, io.EOF
			}
			file, err := os.Open(s.files[0])
			if err != nil {
				return 0, err
			}
			s.files = s.files[1:]
			s.file = file
			s.reader = NewReader(file, ReaderOptions{
				DisableChecksum: s.p.cfg.DisableChecksum,
				MaxPayloadSize:  s.p.cfg.MaxPayloadSize,
			})
		}

		header, payload, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			s.file.Close()
			s.file, s.reader = nil, nil
			continue
		}
		if err != nil {
			return 0, err
		}
		if err := s.pace(header); err != nil {
			return 0, err
		}
		if len(payload) > len(buf) {
			return 0, ErrPayloadTooLarge
		}
		return copy(buf, payload), nil
	}
}

// Close releases the current segment file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.reader = nil, nil
	return err
}

func (s *Source) pace(header PacketHeader) error {
	if s.p.cfg.Speed <= 0 || header.CapturedAt <= 0 {
		return nil
	}
	if s.prevTS > 0 {
		if delta := header.CapturedAt - s.prevTS; delta > 0 {
			sleep := time.Duration(float64(delta) / s.p.cfg.Speed)
			if err := s.p.clock.Sleep(s.ctx, sleep); err != nil {
				return err
			}
		}
	}
	s.prevTS = header.CapturedAt
	return nil
}
