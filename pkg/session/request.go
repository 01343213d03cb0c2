package session

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
)

// RequestContext is the part of an inbound request that session info is
// built from
type RequestContext struct {
	RemoteIP string
	Header   http.Header
}

// RequestContextFrom extracts the socket address and headers of r
func RequestContextFrom(r *http.Request) RequestContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return RequestContext{RemoteIP: ip, Header: r.Header}
}

// GeoLocator resolves an IP address to a location. A nil result with a
// nil error means the address is unknown.
type GeoLocator interface {
	Locate(ip string) (*GeoIP, error)
}

// MaxMindLocator reads a GeoIP2/GeoLite2 City database
type MaxMindLocator struct {
	db *geoip2.Reader
}

// OpenMaxMind opens the database file at path
func OpenMaxMind(path string) (*MaxMindLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &MaxMindLocator{db: db}, nil
}

// Locate looks up ip
func (m *MaxMindLocator) Locate(ip string) (*GeoIP, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, nil
	}

	record, err := m.db.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup failed: %w", err)
	}
	if record.Country.IsoCode == "" {
		return nil, nil
	}

	geo := &GeoIP{
		Country:   record.Country.IsoCode,
		City:      record.City.Names["en"],
		TimeZone:  record.Location.TimeZone,
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}
	if len(record.Subdivisions) > 0 {
		geo.Region = record.Subdivisions[0].IsoCode
	}
	return geo, nil
}

// Close releases the database
func (m *MaxMindLocator) Close() error {
	return m.db.Close()
}

// InfoBuilder derives session Info from a request. The client IP is taken
// from IPHeader when configured and present, otherwise from the socket.
type InfoBuilder struct {
	IPHeader string
	Geo      GeoLocator
	Logger   logrus.FieldLogger
}

// Build captures the client metadata of rc
func (b *InfoBuilder) Build(ctx context.Context, rc RequestContext) Info {
	header := rc.Header
	if header == nil {
		header = http.Header{}
	}

	var ip string
	if b.IPHeader != "" {
		ip = strings.TrimSpace(header.Get(b.IPHeader))
	}
	if ip == "" {
		ip = rc.RemoteIP
	}

	info := Info{
		IP:           ip,
		ForwardedFor: strings.TrimSpace(header.Get("X-Forwarded-For")),
		UserAgent:    strings.TrimSpace(header.Get("User-Agent")),
	}

	if b.Geo != nil && ip != "" {
		geo, err := b.Geo.Locate(ip)
		if err != nil && b.Logger != nil {
			b.Logger.WithError(err).WithField("ip", ip).Debug("GeoIP lookup failed")
		}
		info.GeoIP = geo
	}
	return info
}
