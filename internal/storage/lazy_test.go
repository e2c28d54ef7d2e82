package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medremind/internal/reminder"
	logx "medremind/pkg/logx"
)

func TestLazyStoreConnectsOnceReachable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "late.db")
	down := unavailable("dial", errors.New("connection refused"))
	reachable := false
	dials := 0
	open := func(ctx context.Context) (Store, error) {
		dials++
		if !reachable {
			return nil, down
		}
		return Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	}

	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	st := newLazyStore(open, down, logx.Nop())
	st.now = func() time.Time { return clock }
	st.lastTry = clock
	defer st.Close()
	ctx := context.Background()

	_, err := st.Upsert(ctx, row("a@x.com", "Aspirin", "08:00"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, dials, "no redial inside the backoff window")

	clock = clock.Add(2 * time.Second)
	_, err = st.ListAll(ctx)
	assert.ErrorIs(t, err, reminder.ErrStoreUnavailable)
	assert.Equal(t, 1, dials)

	reachable = true
	clock = clock.Add(2 * time.Second)
	require.NoError(t, st.Ping(ctx))
	_, err = st.Upsert(ctx, row("a@x.com", "Aspirin", "08:00"))
	require.NoError(t, err)
	all, err := st.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 2, dials, "connected store is reused")

	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.Ping(ctx), ErrUnavailable)
}

func TestOpenLazy(t *testing.T) {
	t.Parallel()
	st, err := OpenLazy(context.Background(), Config{
		Driver:         "mongo",
		URI:            "mongodb://127.0.0.1:1/?directConnection=true",
		ConnectTimeout: 300 * time.Millisecond,
	}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	_, isLazy := st.(*lazyStore)
	assert.True(t, isLazy)
	_, err = st.ListByAddress(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = OpenLazy(context.Background(), Config{Driver: "cassandra"}, logx.Nop())
	assert.ErrorIs(t, err, ErrUnknownDriver, "config errors stay fatal")
}
