package session

import (
	"maps"
	"time"
)

// GeoIP is the location resolved for a client address
type GeoIP struct {
	Country   string  `json:"country,omitempty"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	TimeZone  string  `json:"timezone,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Info is the client metadata captured from the last request
type Info struct {
	IP           string `json:"ip"`
	ForwardedFor string `json:"forwarded_for,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	GeoIP        *GeoIP `json:"geoip,omitempty"`
}

// Session correlates a bearer token with a user and client metadata.
// Token is assigned once and never changes; UpdatedAt never moves backwards.
type Session struct {
	ID        int64                  `json:"id"`
	Token     string                 `json:"token"`
	UserID    *int64                 `json:"user_id"`
	Payload   map[string]interface{} `json:"payload"`
	Info      Info                   `json:"info"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Clone returns a copy that shares no top-level state with s. Payload
// values themselves are not deep-copied.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.UserID != nil {
		id := *s.UserID
		c.UserID = &id
	}
	c.Payload = maps.Clone(s.Payload)
	if c.Payload == nil {
		c.Payload = map[string]interface{}{}
	}
	if s.Info.GeoIP != nil {
		geo := *s.Info.GeoIP
		c.Info.GeoIP = &geo
	}
	return &c
}

// Timestamp normalizes t to UTC at microsecond precision, the resolution
// the relational store keeps.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
