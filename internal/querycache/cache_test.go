package querycache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/tabconsole/internal/adapter/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	mu     sync.Mutex
	values map[string][]byte
	getErr error
	clears int
}

func newMockBackend() *mockBackend {
	return &mockBackend{values: make(map[string][]byte)}
}

func (m *mockBackend) Get(_ context.Context, tabID, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.values[tabID+"/"+key]
	return v, ok, nil
}

func (m *mockBackend) Set(_ context.Context, tabID, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[tabID+"/"+key] = value
	return nil
}

func (m *mockBackend) Delete(_ context.Context, tabID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, tabID+"/"+key)
	return nil
}

func (m *mockBackend) Clear(_ context.Context, tabID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	for k := range m.values {
		if len(k) > len(tabID) && k[:len(tabID)+1] == tabID+"/" {
			delete(m.values, k)
		}
	}
	return nil
}

type user struct {
	ID   string
	Name string
}

func TestFetch_LoadsOnceThenServesFromMemory(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New("tab-1", 30*time.Second, clock, nil, nil)
	ctx := context.Background()
	loads := 0
	load := func(context.Context) ([]user, error) {
		loads++
		return []user{{ID: "1", Name: "John"}}, nil
	}

	for range 3 {
		users, err := Fetch(ctx, c, "users", load)
		require.NoError(t, err)
		assert.Equal(t, []user{{ID: "1", Name: "John"}}, users)
	}
	assert.Equal(t, 1, loads)

	clock.Advance(31 * time.Second)
	_, err := Fetch(ctx, c, "users", load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestFetch_LoadErrorIsNotCached(t *testing.T) {
	c := New("tab-1", time.Minute, clockwork.NewFakeClock(), nil, nil)
	boom := errors.New("boom")

	_, err := Fetch(context.Background(), c, "users", func(context.Context) ([]user, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestGet_FallsBackToBackendAndPromotes(t *testing.T) {
	backend := newMockBackend()
	m := metrics.NewCacheMetrics(metrics.NewRegistry())
	ctx := context.Background()

	writer := New("tab-1", time.Minute, clockwork.NewFakeClock(), backend, nil)
	require.NoError(t, writer.Set(ctx, "users", []user{{ID: "1"}}))

	reader := New("tab-1", time.Minute, clockwork.NewFakeClock(), backend, m)
	var got []user
	require.True(t, reader.Get(ctx, "users", &got))
	assert.Equal(t, []user{{ID: "1"}}, got)
	assert.Equal(t, 1, reader.Len())
	assert.InDelta(t, 1, testutil.ToFloat64(m.Hits.WithLabelValues("backend")), 0)

	require.True(t, reader.Get(ctx, "users", &got))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Hits.WithLabelValues("memory")), 0)
}

func TestGet_BackendFailureIsAMiss(t *testing.T) {
	backend := newMockBackend()
	backend.getErr = errors.New("redis down")
	c := New("tab-1", time.Minute, clockwork.NewFakeClock(), backend, nil)

	var got []user
	assert.False(t, c.Get(context.Background(), "users", &got))
}

func TestClear_DropsBothLayersForThisTabOnly(t *testing.T) {
	backend := newMockBackend()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	mine := New("tab-1", time.Minute, clock, backend, nil)
	other := New("tab-2", time.Minute, clock, backend, nil)
	require.NoError(t, mine.Set(ctx, "users", []user{{ID: "1"}}))
	require.NoError(t, other.Set(ctx, "users", []user{{ID: "2"}}))

	require.NoError(t, mine.Clear(ctx))

	var got []user
	assert.False(t, mine.Get(ctx, "users", &got))
	assert.True(t, other.Get(ctx, "users", &got))
	assert.Equal(t, 1, backend.clears)
}

func TestInvalidate(t *testing.T) {
	backend := newMockBackend()
	ctx := context.Background()
	c := New("tab-1", time.Minute, clockwork.NewFakeClock(), backend, nil)

	require.NoError(t, c.Set(ctx, "users", []user{{ID: "1"}}))
	require.NoError(t, c.Set(ctx, "viewer", user{ID: "1"}))
	require.NoError(t, c.Invalidate(ctx, "users"))

	var users []user
	var viewer user
	assert.False(t, c.Get(ctx, "users", &users))
	assert.True(t, c.Get(ctx, "viewer", &viewer))
}

func TestEvictExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New("tab-1", time.Minute, clock, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	clock.Advance(30 * time.Second)
	require.NoError(t, c.Set(ctx, "b", 2))
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 1, c.Len())
}

func TestFetch_LoadOverlappingClearIsNotCached(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()
	c := New("tab-1", time.Minute, clockwork.NewFakeClock(), backend, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan []user, 1)
	go func() {
		users, err := Fetch(ctx, c, "users", func(context.Context) ([]user, error) {
			close(started)
			<-release
			return []user{{ID: "1", Name: "stale"}}, nil
		})
		assert.NoError(t, err)
		done <- users
	}()

	<-started
	require.NoError(t, c.Clear(ctx))
	close(release)

	select {
	case users := <-done:
		assert.Equal(t, "stale", users[0].Name, "the caller still gets its own result")
	case <-time.After(time.Second):
		t.Fatal("fetch did not finish")
	}

	assert.Zero(t, c.Len())
	backend.mu.Lock()
	assert.Empty(t, backend.values)
	backend.mu.Unlock()
	var cached []user
	assert.False(t, c.Get(ctx, "users", &cached))

	fresh, err := Fetch(ctx, c, "users", func(context.Context) ([]user, error) {
		return []user{{ID: "1", Name: "fresh"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", fresh[0].Name)
}

func TestSet_AfterClearStillCaches(t *testing.T) {
	ctx := context.Background()
	c := New("tab-1", time.Minute, clockwork.NewFakeClock(), nil, nil)

	require.NoError(t, c.Clear(ctx))
	require.NoError(t, c.Set(ctx, "users", []user{{ID: "1"}}))

	var cached []user
	assert.True(t, c.Get(ctx, "users", &cached))
	assert.Equal(t, uint64(1), c.Generation())
}
