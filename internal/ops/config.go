// Package ops loads and validates the feed handler's YAML
// configuration and derives per-session values from it.
package ops

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"marketfeed/internal/schema"
)

// Environment overrides for credentials, applied after parsing.
const (
	EnvRetransUsername = "MARKETFEED_RETRANS_USERNAME"
	EnvRetransPassword = "MARKETFEED_RETRANS_PASSWORD"
	EnvRegistryToken   = "MARKETFEED_REGISTRY_TOKEN"
)

// Dialect names accepted in feed entries.
const (
	DialectMmd  = "mmd"
	DialectUtp  = "utp"
	DialectItch = "itch"
)

// Duration parses YAML values such as "100ms" or "1.5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config mirrors the YAML config layout.
type Config struct {
	Registry         RegistryConfig   `yaml:"registry"`
	Feeds            []FeedConfig     `yaml:"feeds"`
	Securities       []SecurityConfig `yaml:"securities"`
	SamplingInterval Duration         `yaml:"samplingInterval"`
	ExchangeTimeZone string           `yaml:"exchangeTimeZone"`
	Capture          CaptureConfig    `yaml:"capture"`
	Profiling        ProfilingConfig  `yaml:"profiling"`
	MetricsAddress   string           `yaml:"metricsAddress"`
}

// RegistryConfig is the outbound channel endpoint.
type RegistryConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
}

// FeedConfig describes one inbound multicast feed.
type FeedConfig struct {
	Name          string `yaml:"name"`
	Dialect       string `yaml:"dialect"`
	Venue         string `yaml:"venue"`
	MarketCenter  string `yaml:"marketCenter"`
	MPID          string `yaml:"mpid"`
	Group         string `yaml:"group"`
	Interface     string `yaml:"interface"`
	ReceiveBuffer int    `yaml:"receiveBuffer"`
	BuildBbo      bool   `yaml:"buildBbo"`
	TimeAndSales  bool   `yaml:"timeAndSales"`
	// MarketCenters maps one-character participant codes to venue
	// names for dialects that stamp a market center byte.
	MarketCenters  map[string]string    `yaml:"marketCenters"`
	Retransmission RetransmissionConfig `yaml:"retransmission"`
}

// RetransmissionConfig holds the session-transport retransmission
// endpoint and credentials. An empty address disables recovery dialing.
type RetransmissionConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Session  string `yaml:"session"`
}

// SecurityConfig is one instrument registered at startup.
type SecurityConfig struct {
	Symbol   string `yaml:"symbol"`
	Venue    string `yaml:"venue"`
	Name     string `yaml:"name"`
	BoardLot int64  `yaml:"boardLot"`
}

// CaptureConfig enables raw packet capture.
type CaptureConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ServerAddress   string `yaml:"serverAddress"`
	ApplicationName string `yaml:"applicationName"`
}

// Load reads a YAML config file, applies env-var credential overrides
// and defaults, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if token := os.Getenv(EnvRegistryToken); token != "" {
		c.Registry.Token = token
	}
	username := os.Getenv(EnvRetransUsername)
	password := os.Getenv(EnvRetransPassword)
	for i := range c.Feeds {
		retrans := &c.Feeds[i].Retransmission
		if username != "" {
			retrans.Username = username
		}
		if password != "" {
			retrans.Password = password
		}
	}
}

func (c *Config) applyDefaults() {
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = Duration(100 * time.Millisecond)
	}
	if c.ExchangeTimeZone == "" {
		c.ExchangeTimeZone = "UTC"
	}
	if c.Profiling.Enabled && c.Profiling.ApplicationName == "" {
		c.Profiling.ApplicationName = "marketfeed"
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Registry.Address == "" {
		return fmt.Errorf("registry address is empty")
	}
	if len(c.Feeds) == 0 {
		return fmt.Errorf("no feeds configured")
	}
	seen := make(map[string]bool, len(c.Feeds))
	for _, feed := range c.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("feed name is empty")
		}
		if seen[feed.Name] {
			return fmt.Errorf("duplicate feed name: %s", feed.Name)
		}
		seen[feed.Name] = true
		switch feed.Dialect {
		case DialectMmd, DialectUtp, DialectItch:
		default:
			return fmt.Errorf("feed %s: unknown dialect %q", feed.Name, feed.Dialect)
		}
		if feed.Group == "" {
			return fmt.Errorf("feed %s: multicast group is empty", feed.Name)
		}
		if feed.Retransmission.Address != "" && feed.Retransmission.Username == "" {
			return fmt.Errorf("feed %s: retransmission username is empty", feed.Name)
		}
	}
	if _, err := time.LoadLocation(c.ExchangeTimeZone); err != nil {
		return fmt.Errorf("exchange time zone: %w", err)
	}
	if c.Capture.Enabled && c.Capture.Directory == "" {
		return fmt.Errorf("capture directory is empty")
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("profiling server address is empty")
	}
	for _, sec := range c.Securities {
		if sec.Symbol == "" {
			return fmt.Errorf("security symbol is empty")
		}
	}
	return nil
}

// SessionTimeOrigin returns midnight of the current trading day in the
// exchange's time zone. Dialect timestamps are offsets from this
// instant.
func (c *Config) SessionTimeOrigin(now time.Time) time.Time {
	location, err := time.LoadLocation(c.ExchangeTimeZone)
	if err != nil {
		location = time.UTC
	}
	local := now.In(location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
}

// SecurityInfos converts configured instruments into schema records.
func (c *Config) SecurityInfos() []schema.SecurityInfo {
	infos := make([]schema.SecurityInfo, 0, len(c.Securities))
	for _, sec := range c.Securities {
		infos = append(infos, schema.SecurityInfo{
			Security: schema.Security{Symbol: sec.Symbol, Venue: sec.Venue},
			Name:     sec.Name,
			BoardLot: schema.Quantity(sec.BoardLot),
		})
	}
	return infos
}
