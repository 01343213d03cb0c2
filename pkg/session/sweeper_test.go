package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

type fakeExpirer struct {
	calls  atomic.Int32
	maxAge time.Duration
	n      int64
	err    error
}

func (f *fakeExpirer) DeleteExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	f.calls.Add(1)
	f.maxAge = maxAge
	return f.n, f.err
}

func TestSweeper_Sweep(t *testing.T) {
	logger, _ := test.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := &fakeExpirer{n: 3}

	s := NewSweeper(store, 24*time.Hour, logger, metrics)
	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 24*time.Hour, store.maxAge)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.SessionsExpiredTotal))

	store.err = errors.New("database is down")
	_, err = s.Sweep(context.Background())
	assert.Error(t, err)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.SessionsExpiredTotal))
}

func TestSweeper_WithStore(t *testing.T) {
	ctx := context.Background()
	store, _, _ := setupStore(t)

	require.NoError(t, store.Save(ctx, newSession("tok-ancient", Timestamp(time.Now().Add(-48*time.Hour)))))
	require.NoError(t, store.Save(ctx, newSession("tok-recent", Timestamp(time.Now()))))

	logger, _ := test.NewNullLogger()
	n, err := NewSweeper(store, 24*time.Hour, logger, nil).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSweeper_Schedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := &fakeExpirer{}

	s := NewSweeper(store, time.Hour, logger, nil)
	assert.Error(t, s.Start("not a schedule"))
	assert.NoError(t, s.Stop(context.Background()), "stopping an unstarted sweeper is a no-op")

	// cron rounds sub-second intervals up to one second
	require.NoError(t, s.Start("@every 1s"))
	require.Eventually(t, func() bool { return store.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
