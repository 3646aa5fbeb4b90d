package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/metrics"
	dbconfig "gateway/pkg/database"
	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	store, err := Open(dbconfig.DefaultConfig(filepath.Join(t.TempDir(), "audit.db")), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func waitForEvents(t *testing.T, store *Store, n int) []*types.Event {
	t.Helper()
	var events []*types.Event
	require.Eventually(t, func() bool {
		var err error
		events, err = store.Recent(context.Background(), maxRecentLimit)
		return err == nil && len(events) == n
	}, 2*time.Second, 10*time.Millisecond)
	return events
}

func TestStore_RecordFillsIDAndTimestamp(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := openTestStore(t, Options{Clock: mock})

	store.Record(types.Event{Kind: types.EventAuthRejected, Subject: "/api/crm", Detail: "signature", RemoteAddr: "10.0.0.1"})

	events := waitForEvents(t, store, 1)
	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, types.EventAuthRejected, e.Kind)
	assert.Equal(t, "/api/crm", e.Subject)
	assert.Equal(t, "signature", e.Detail)
	assert.Equal(t, "10.0.0.1", e.RemoteAddr)
	assert.True(t, e.CreatedAt.Equal(mock.Now()), "created_at %v", e.CreatedAt)
}

func TestStore_RecentNewestFirst(t *testing.T) {
	mock := clock.NewMock()
	store := openTestStore(t, Options{Clock: mock})

	for _, kind := range []string{types.EventRoomOpened, types.EventRateLimited, types.EventRoomClosed} {
		mock.Add(time.Second)
		store.Record(types.Event{Kind: kind})
	}

	events := waitForEvents(t, store, 3)
	assert.Equal(t, types.EventRoomClosed, events[0].Kind)
	assert.Equal(t, types.EventRateLimited, events[1].Kind)
	assert.Equal(t, types.EventRoomOpened, events[2].Kind)

	limited, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_CloseFlushesQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := Open(dbconfig.DefaultConfig(path), Options{})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		store.Record(types.Event{Kind: types.EventUpstreamUnavailable, Subject: "crm"})
	}
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	reopened, err := Open(dbconfig.DefaultConfig(path), Options{})
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.Recent(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, events, 50)
}

func TestStore_RecordAfterCloseIsDropped(t *testing.T) {
	m := metrics.NewNop()
	store, err := Open(dbconfig.DefaultConfig(filepath.Join(t.TempDir(), "audit.db")), Options{Metrics: m})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.NotPanics(t, func() { store.Record(types.Event{Kind: types.EventRoomOpened}) })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDropped))
	assert.ErrorIs(t, store.HealthCheck(context.Background()), interfaces.ErrStoreClosed)
}

func TestStore_HealthCheck(t *testing.T) {
	store := openTestStore(t, Options{})
	assert.NoError(t, store.HealthCheck(context.Background()))
}

func TestStore_ConcurrentRecord(t *testing.T) {
	store := openTestStore(t, Options{BufferSize: 1000})

	done := make(chan struct{})
	for g := 0; g < 10; g++ {
		go func() {
			for i := 0; i < 20; i++ {
				store.Record(types.Event{Kind: types.EventRateLimited})
			}
			done <- struct{}{}
		}()
	}
	for g := 0; g < 10; g++ {
		<-done
	}

	waitForEvents(t, store, 200)
}

func TestNop(t *testing.T) {
	var store interfaces.AuditStore = Nop{}
	store.Record(types.Event{Kind: types.EventRoomOpened})
	events, err := store.Recent(context.Background(), 10)
	assert.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, store.HealthCheck(context.Background()))
	assert.NoError(t, store.Close())
}
