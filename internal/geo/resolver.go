package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Resolver maps an IP address to coordinates.
type Resolver interface {
	Lookup(ip string) (lat, lon float64, ok bool)
}

// cityRecord is the subset of a GeoLite2/GeoIP2 City record we read.
type cityRecord struct {
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// MaxMindResolver resolves coordinates from a memory-mapped MaxMind City database.
type MaxMindResolver struct {
	reader *maxminddb.Reader
}

// OpenMaxMind opens the database at path. Country-only databases are rejected
// because they carry no location block.
func OpenMaxMind(path string) (*MaxMindResolver, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}

	switch reader.Metadata.DatabaseType {
	case "GeoLite2-City", "GeoIP2-City", "GeoIP2-Enterprise", "DBIP-City-Lite", "DBIP-Location (compat=City)":
	default:
		reader.Close()
		return nil, fmt.Errorf("geoip database type %q has no coordinates", reader.Metadata.DatabaseType)
	}

	return &MaxMindResolver{reader: reader}, nil
}

// Lookup returns the coordinates recorded for ip. Private and unknown
// networks, and records without a location, report ok=false.
func (r *MaxMindResolver) Lookup(ip string) (float64, float64, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return 0, 0, false
	}

	var record cityRecord
	_, found, err := r.reader.LookupNetwork(parsed, &record)
	if err != nil || !found {
		return 0, 0, false
	}

	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return 0, 0, false
	}

	return record.Location.Latitude, record.Location.Longitude, true
}

// Close releases the memory map.
func (r *MaxMindResolver) Close() error {
	return r.reader.Close()
}
