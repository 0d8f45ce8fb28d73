package feed

import (
	"time"

	"marketfeed/internal/dialect"
	"marketfeed/internal/dialect/itch"
	"marketfeed/internal/dialect/mmd"
	"marketfeed/internal/dialect/utp"
	"marketfeed/internal/ops"
)

// NewDialectDecoder builds the configured dialect's decoder for one
// feed session.
func NewDialectDecoder(cfg ops.FeedConfig, timeOrigin time.Time) dialect.Decoder {
	switch cfg.Dialect {
	case ops.DialectUtp:
		centers := make(map[byte]string, len(cfg.MarketCenters))
		for code, venue := range cfg.MarketCenters {
			if len(code) == 1 {
				centers[code[0]] = venue
			}
		}
		return utp.NewDecoder(utp.Config{
			PrimaryVenue:  cfg.Venue,
			MarketCenters: centers,
			TimeOrigin:    timeOrigin,
		})
	case ops.DialectItch:
		return itch.NewDecoder(itch.Config{
			Venue:         cfg.Venue,
			AnonymousMPID: cfg.MPID,
		})
	default:
		return mmd.NewDecoder(mmd.Config{
			PrimaryVenue:       cfg.Venue,
			DisseminatingVenue: cfg.MarketCenter,
			MPID:               cfg.MPID,
			TimeOrigin:         timeOrigin,
		})
	}
}
