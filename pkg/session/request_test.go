package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocator struct {
	geo  map[string]*GeoIP
	err  error
	seen []string
}

func (f *fakeLocator) Locate(ip string) (*GeoIP, error) {
	f.seen = append(f.seen, ip)
	if f.err != nil {
		return nil, f.err
	}
	return f.geo[ip], nil
}

func TestRequestContextFrom(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	r.Header.Set("User-Agent", "probe")

	rc := RequestContextFrom(r)
	assert.Equal(t, "203.0.113.9", rc.RemoteIP)
	assert.Equal(t, "probe", rc.Header.Get("User-Agent"))

	r.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", RequestContextFrom(r).RemoteIP)
}

func TestInfoBuilder_Build(t *testing.T) {
	geo := &fakeLocator{geo: map[string]*GeoIP{
		"198.51.100.7": {Country: "NL", City: "Amsterdam", TimeZone: "Europe/Amsterdam"},
	}}
	b := &InfoBuilder{IPHeader: "X-Real-IP", Geo: geo}

	h := http.Header{}
	h.Set("X-Real-IP", " 198.51.100.7 ")
	h.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.2")
	h.Set("User-Agent", "Mozilla/5.0")

	info := b.Build(context.Background(), RequestContext{RemoteIP: "10.0.0.2", Header: h})
	assert.Equal(t, "198.51.100.7", info.IP, "the configured header wins over the socket address")
	assert.Equal(t, "198.51.100.7, 10.0.0.2", info.ForwardedFor)
	assert.Equal(t, "Mozilla/5.0", info.UserAgent)
	require.NotNil(t, info.GeoIP)
	assert.Equal(t, "NL", info.GeoIP.Country)

	info = b.Build(context.Background(), RequestContext{RemoteIP: "10.0.0.2"})
	assert.Equal(t, "10.0.0.2", info.IP, "falls back to the socket address")
	assert.Nil(t, info.GeoIP)
	assert.Equal(t, []string{"198.51.100.7", "10.0.0.2"}, geo.seen)
}

func TestInfoBuilder_IgnoresHeaderWhenUnconfigured(t *testing.T) {
	h := http.Header{}
	h.Set("X-Real-IP", "198.51.100.7")

	info := (&InfoBuilder{}).Build(context.Background(), RequestContext{RemoteIP: "10.0.0.2", Header: h})
	assert.Equal(t, "10.0.0.2", info.IP)
}

func TestInfoBuilder_GeoFailureIsNotFatal(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	b := &InfoBuilder{Geo: &fakeLocator{err: errors.New("corrupt database")}, Logger: logger}

	info := b.Build(context.Background(), RequestContext{RemoteIP: "10.0.0.2"})
	assert.Equal(t, "10.0.0.2", info.IP)
	assert.Nil(t, info.GeoIP)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "GeoIP lookup failed", hook.LastEntry().Message)
}
