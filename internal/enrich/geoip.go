package enrich

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/yasinyaman/sentrel/internal/event"
)

// Location is a resolved geo lookup result.
type Location struct {
	CountryCode string
	CountryName string
	City        string
	Latitude    float64
	Longitude   float64
	HasPoint    bool
}

// GeoResolver looks up geo data for a public IP. Implementations must
// support concurrent reads without locking.
type GeoResolver interface {
	Lookup(ip net.IP) (*Location, bool)
}

// GeoIPStage resolves the event user IP into the reserved geo namespace.
// No-op when the IP is absent, private/loopback, or no resolver is loaded.
type GeoIPStage struct {
	Resolver GeoResolver
}

func (s *GeoIPStage) Name() string { return "geoip" }

func (s *GeoIPStage) Apply(doc event.Document, md Metadata) (event.Document, error) {
	if s.Resolver == nil {
		return doc, nil
	}
	if doc.SubMap("geo") != nil {
		// Already enriched.
		return doc, nil
	}

	raw := ""
	if user := doc.SubMap("user"); user != nil {
		raw, _ = user["ip"].(string)
	}
	if raw == "" {
		raw = md.RemoteIP
	}
	if raw == "" {
		return doc, nil
	}

	ip := net.ParseIP(raw)
	if ip == nil || isPrivateOrLocal(ip) {
		return doc, nil
	}

	loc, ok := s.Resolver.Lookup(ip)
	if !ok {
		return doc, nil
	}

	geo := map[string]any{
		"country_code": loc.CountryCode,
		"country_name": loc.CountryName,
	}
	if loc.City != "" {
		geo["city"] = loc.City
	}
	if loc.HasPoint {
		geo["location"] = map[string]any{
			"lat": loc.Latitude,
			"lon": loc.Longitude,
		}
	}
	doc["geo"] = geo

	return doc, nil
}

func isPrivateOrLocal(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// maxmindResolver reads a MaxMind GeoIP2 city database. The reader is
// loaded once and treated as immutable; it supports concurrent lookups.
type maxmindResolver struct {
	reader *geoip2.Reader
}

// NewMaxMindResolver opens a GeoIP2 database file.
func NewMaxMindResolver(path string) (GeoResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &maxmindResolver{reader: reader}, nil
}

func (r *maxmindResolver) Lookup(ip net.IP) (*Location, bool) {
	record, err := r.reader.City(ip)
	if err != nil || record.Country.IsoCode == "" {
		return nil, false
	}

	loc := &Location{
		CountryCode: record.Country.IsoCode,
		CountryName: record.Country.Names["en"],
		City:        record.City.Names["en"],
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		loc.Latitude = record.Location.Latitude
		loc.Longitude = record.Location.Longitude
		loc.HasPoint = true
	}
	return loc, true
}

// Close releases the underlying database.
func (r *maxmindResolver) Close() error {
	return r.reader.Close()
}
