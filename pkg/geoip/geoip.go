// Package geoip implements aggregator.GeoEnricher (spec §4.7's "%C"
// country substitution) over a MaxMind GeoLite2/GeoIP2 Country or City
// database.
package geoip

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Enricher resolves an IP to its 2-letter ISO country code.
type Enricher struct {
	log *slog.Logger
	db  *geoip2.Reader
}

// Open loads a MaxMind .mmdb file at path. Close must be called when the
// scan finishes.
func Open(path string, log *slog.Logger) (*Enricher, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{log: log, db: db}, nil
}

func (e *Enricher) Close() error {
	return e.db.Close()
}

// Country implements aggregator.GeoEnricher.
func (e *Enricher) Country(ip []byte) (string, bool) {
	if len(ip) == 0 {
		return "", false
	}
	rec, err := e.db.Country(net.IP(ip))
	if err != nil {
		e.log.Debug("geoip lookup failed", "ip", net.IP(ip).String(), "error", err)
		return "", false
	}
	if rec.Country.IsoCode == "" {
		return "", false
	}
	return rec.Country.IsoCode, true
}
