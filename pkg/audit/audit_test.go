package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/storage/storetest"
)

func TestNewEvent(t *testing.T) {
	req := httptest.NewRequest("POST", "/login", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	req.Header.Set("User-Agent", "curl/8")
	req.Header.Set("X-Request-ID", "req-1")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	e := NewEvent(req, EventTypeAuthLogin, EventStatusSuccess, "")
	assert.Equal(t, "198.51.100.7", e.IPAddress)
	assert.Equal(t, "curl/8", e.UserAgent)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "/login", e.Path)
	assert.Nil(t, e.UserID)

	e = NewEvent(req, EventTypeAuthLogin, EventStatusSuccess, "X-Forwarded-For").WithUser(3, "a@example.com")
	assert.Equal(t, "203.0.113.9", e.IPAddress)
	require.NotNil(t, e.UserID)
	assert.Equal(t, int64(3), *e.UserID)

	assert.Nil(t, NewEvent(req, EventTypeAuthLoginFailed, EventStatusFailure, "").WithUser(0, "x@example.com").UserID)
}

func TestLogrusLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	l := NewLogrusLogger(logger)

	id := int64(5)
	require.NoError(t, l.Log(context.Background(), &Event{
		EventType: EventTypeAuthLogin, Status: EventStatusSuccess, UserID: &id,
		Metadata: map[string]interface{}{"session_id": 9},
	}))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "auth.login", entry.Message)
	assert.Equal(t, true, entry.Data["audit"])
	assert.Equal(t, int64(5), entry.Data["user_id"])
	assert.Equal(t, 9, entry.Data["meta_session_id"])

	require.NoError(t, l.Log(context.Background(), &Event{
		EventType: EventTypeAuthLoginFailed, Status: EventStatusFailure, Message: "invalid credentials",
	}))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "invalid credentials", hook.LastEntry().Message)
}

func TestDBLogger(t *testing.T) {
	db := storetest.OpenSQLite(t)
	l, err := NewDBLogger(db)
	require.NoError(t, err)
	ctx := context.Background()

	one, two := int64(1), int64(2)
	base := time.Now().UTC().Add(-time.Hour)
	events := []*Event{
		{Timestamp: base, EventType: EventTypeAuthLogin, Status: EventStatusSuccess, UserID: &one, Email: "one@example.com"},
		{Timestamp: base.Add(time.Minute), EventType: EventTypeAuthLoginFailed, Status: EventStatusFailure, Email: "two@example.com", IPAddress: "192.0.2.1"},
		{Timestamp: base.Add(2 * time.Minute), EventType: EventTypeAuthLogin, Status: EventStatusSuccess, UserID: &two,
			Metadata: map[string]interface{}{"session_id": float64(4)}},
	}
	for _, e := range events {
		require.NoError(t, l.Log(ctx, e))
		assert.NotZero(t, e.ID)
	}

	all, err := l.Recent(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, events[2].ID, all[0].ID, "newest first")
	assert.Equal(t, float64(4), all[0].Metadata["session_id"])
	assert.Equal(t, "192.0.2.1", all[1].IPAddress)
	assert.Nil(t, all[1].UserID)

	logins, err := l.Recent(ctx, Filter{EventType: EventTypeAuthLogin, Limit: 1})
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.Equal(t, two, *logins[0].UserID)

	mine, err := l.Recent(ctx, Filter{UserID: &one})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "one@example.com", mine[0].Email)

	_, err = NewDBLogger(nil)
	assert.ErrorIs(t, err, auth.ErrConfiguration)
}

type failingLogger struct{ calls int }

func (f *failingLogger) Log(context.Context, *Event) error { f.calls++; return errors.New("disk full") }
func (f *failingLogger) Close() error                      { return errors.New("close failed") }

func TestMultiLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	failing := &failingLogger{}
	m := NewMultiLogger(failing, NewLogrusLogger(logger), Nop{})

	err := m.Log(context.Background(), &Event{EventType: EventTypeAuthLogout, Status: EventStatusSuccess})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, failing.calls)
	assert.Len(t, hook.Entries, 1, "later loggers still run")

	assert.Error(t, m.Close())
}

func TestDBLogger_RecentReadsFromReader(t *testing.T) {
	primary := storetest.OpenSQLite(t)
	replica := storetest.OpenSQLite(t)
	ctx := context.Background()

	replicaLog, err := NewDBLogger(replica)
	require.NoError(t, err)
	require.NoError(t, replicaLog.Log(ctx, &Event{Timestamp: time.Now().UTC(), EventType: EventTypeAuthLogin, Status: EventStatusSuccess}))

	log, err := NewDBLogger(primary)
	require.NoError(t, err)
	require.NoError(t, log.Log(ctx, &Event{Timestamp: time.Now().UTC(), EventType: EventTypeAuthLogout, Status: EventStatusSuccess}))

	events, err := log.WithReader(replica).Recent(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeAuthLogin, events[0].EventType)
}
