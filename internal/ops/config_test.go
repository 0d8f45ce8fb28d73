package ops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const configYaml = `
registry:
  address: 127.0.0.1:9400
  token: file-token
feeds:
  - name: primary
    dialect: mmd
    venue: XHKG
    marketCenter: H
    group: 239.192.0.1:26400
    buildBbo: true
    retransmission:
      address: 127.0.0.1:26401
      username: user01
      password: file-pass
      session: DAY1
  - name: trades
    dialect: utp
    group: 239.192.0.2:26400
    timeAndSales: true
    marketCenters:
      Q: NASDAQ
      N: NYSE
securities:
  - symbol: FOO
    venue: XHKG
    name: Foo Corporation
    boardLot: 100
samplingInterval: 250ms
exchangeTimeZone: Asia/Hong_Kong
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedhandler.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, configYaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Registry.Address != "127.0.0.1:9400" || cfg.Registry.Token != "file-token" {
		t.Fatalf("registry = %+v", cfg.Registry)
	}
	if cfg.SamplingInterval.Std() != 250*time.Millisecond {
		t.Fatalf("samplingInterval = %v", cfg.SamplingInterval.Std())
	}
	if len(cfg.Feeds) != 2 {
		t.Fatalf("feeds = %d", len(cfg.Feeds))
	}
	primary := cfg.Feeds[0]
	if primary.Dialect != DialectMmd || !primary.BuildBbo || primary.Retransmission.Session != "DAY1" {
		t.Fatalf("primary feed = %+v", primary)
	}
	if cfg.Feeds[1].MarketCenters["Q"] != "NASDAQ" {
		t.Fatalf("marketCenters = %v", cfg.Feeds[1].MarketCenters)
	}
	infos := cfg.SecurityInfos()
	if len(infos) != 1 || infos[0].Security.Symbol != "FOO" || infos[0].BoardLot != 100 {
		t.Fatalf("securities = %+v", infos)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
registry:
  address: 127.0.0.1:9400
feeds:
  - name: only
    dialect: itch
    group: 239.192.0.1:26400
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SamplingInterval.Std() != 100*time.Millisecond {
		t.Fatalf("default samplingInterval = %v", cfg.SamplingInterval.Std())
	}
	if cfg.ExchangeTimeZone != "UTC" {
		t.Fatalf("default exchangeTimeZone = %q", cfg.ExchangeTimeZone)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvRegistryToken, "env-token")
	t.Setenv(EnvRetransUsername, "env-user")
	t.Setenv(EnvRetransPassword, "env-pass")

	cfg, err := Load(writeConfig(t, configYaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Registry.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Registry.Token)
	}
	retrans := cfg.Feeds[0].Retransmission
	if retrans.Username != "env-user" || retrans.Password != "env-pass" {
		t.Fatalf("retransmission = %+v", retrans)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() Config {
		return Config{
			Registry:         RegistryConfig{Address: "127.0.0.1:9400"},
			Feeds:            []FeedConfig{{Name: "a", Dialect: DialectMmd, Group: "239.0.0.1:26400"}},
			ExchangeTimeZone: "UTC",
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no registry", func(c *Config) { c.Registry.Address = "" }, "registry address"},
		{"no feeds", func(c *Config) { c.Feeds = nil }, "no feeds"},
		{"unnamed feed", func(c *Config) { c.Feeds[0].Name = "" }, "feed name"},
		{"duplicate feed", func(c *Config) { c.Feeds = append(c.Feeds, c.Feeds[0]) }, "duplicate"},
		{"bad dialect", func(c *Config) { c.Feeds[0].Dialect = "fix" }, "unknown dialect"},
		{"no group", func(c *Config) { c.Feeds[0].Group = "" }, "multicast group"},
		{"retrans without user", func(c *Config) { c.Feeds[0].Retransmission.Address = "h:1" }, "username"},
		{"bad time zone", func(c *Config) { c.ExchangeTimeZone = "Mars/Olympus" }, "time zone"},
		{"capture without dir", func(c *Config) { c.Capture.Enabled = true }, "capture directory"},
		{"profiling without addr", func(c *Config) { c.Profiling.Enabled = true }, "profiling server"},
		{"unnamed security", func(c *Config) { c.Securities = []SecurityConfig{{}} }, "security symbol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestBadDurationRejected(t *testing.T) {
	_, err := Load(writeConfig(t, `
registry:
  address: 127.0.0.1:9400
feeds:
  - name: only
    dialect: mmd
    group: 239.192.0.1:26400
samplingInterval: fast
`))
	if err == nil || !strings.Contains(err.Error(), "parse duration") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}

func TestSessionTimeOrigin(t *testing.T) {
	cfg := Config{ExchangeTimeZone: "Asia/Hong_Kong"}
	now := time.Date(2026, 8, 21, 1, 30, 0, 0, time.UTC) // 09:30 in Hong Kong
	origin := cfg.SessionTimeOrigin(now)
	if origin.Hour() != 0 || origin.Minute() != 0 || origin.Day() != 21 {
		t.Fatalf("origin = %v", origin)
	}
	if got := now.Sub(origin); got != 9*time.Hour+30*time.Minute {
		t.Fatalf("offset from origin = %v", got)
	}
}
