package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tabconsole/internal/adapter/metrics"
	"github.com/pscheid92/tabconsole/internal/credential"
	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/observable"
	"github.com/pscheid92/tabconsole/internal/overlay"
	"github.com/pscheid92/tabconsole/internal/querycache"
	"github.com/pscheid92/tabconsole/internal/session"
	"github.com/pscheid92/tabconsole/internal/toaster"
)

const evictionInterval = time.Minute

// StorageFactory returns the durable credential storage of a tab.
type StorageFactory func(tabID string) domain.TabStorage

// RegistryConfig wires every tab the registry creates. CacheBackend, Metrics and CacheMetrics may be nil.
type RegistryConfig struct {
	Identity     domain.IdentityExchange
	Viewers      domain.ViewerService
	Storage      StorageFactory
	CacheBackend querycache.Backend
	CacheTTL     time.Duration
	IdleTimeout  time.Duration
	Clock        clockwork.Clock
	Metrics      *metrics.ConsoleMetrics
	CacheMetrics *metrics.CacheMetrics
}

// Registry holds the in-memory tab contexts of this process and evicts idle ones.
// An evicted tab is rebuilt from its storage on the next request.
type Registry struct {
	cfg RegistryConfig

	mu   sync.Mutex
	tabs map[string]*Tab

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Storage == nil {
		cfg.Storage = func(string) domain.TabStorage { return credential.NewMemoryStorage() }
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	r := &Registry{
		cfg:    cfg,
		tabs:   make(map[string]*Tab),
		stopCh: make(chan struct{}),
	}
	r.startEvictionTimer()
	return r
}

// Open creates a tab context under a fresh id.
func (r *Registry) Open() *Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(uuid.NewString())
}

// Get returns the tab context for tabID, restoring it from storage if it was evicted.
// Malformed ids yield domain.ErrTabNotFound.
func (r *Registry) Get(tabID string) (*Tab, error) {
	if _, err := uuid.Parse(tabID); err != nil {
		return nil, domain.ErrTabNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(tabID), nil
}

func (r *Registry) getLocked(tabID string) *Tab {
	tab, ok := r.tabs[tabID]
	if !ok {
		tab = r.createLocked(tabID)
	}
	tab.touch(r.cfg.Clock.Now())
	return tab
}

// Acquire is Get for the duration of a request. The tab is not evicted until release is called.
// release may be called more than once.
func (r *Registry) Acquire(tabID string) (tab *Tab, release func(), err error) {
	if _, err := uuid.Parse(tabID); err != nil {
		return nil, nil, domain.ErrTabNotFound
	}

	r.mu.Lock()
	tab = r.getLocked(tabID)
	tab.leases++
	r.mu.Unlock()

	var once sync.Once
	return tab, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			tab.leases--
			tab.touch(r.cfg.Clock.Now())
		})
	}, nil
}

func (r *Registry) createLocked(tabID string) *Tab {
	tab := &Tab{
		ID:     tabID,
		Store:  credential.NewStore(r.cfg.Storage(tabID)),
		Modal:  overlay.NewBus[overlay.Dialog](),
		Toasts: toaster.NewChannel(r.cfg.Clock),
		Cache:  querycache.New(tabID, r.cfg.CacheTTL, r.cfg.Clock, r.cfg.CacheBackend, r.cfg.CacheMetrics),
		events: observable.NewSubject[Event](),
	}

	deps := session.Deps{
		Store:     tab.Store,
		Identity:  r.cfg.Identity,
		Viewers:   r.cfg.Viewers,
		Cache:     tab.Cache,
		Navigator: tab,
		Logger:    slog.Default().With("tab_id", tabID),
	}
	if r.cfg.Metrics != nil {
		deps.Recorder = r.cfg.Metrics
	}
	tab.Session = session.New(deps)
	tab.forward()
	tab.touch(r.cfg.Clock.Now())

	r.tabs[tabID] = tab
	r.setActive(len(r.tabs))
	return tab
}

// Remove drops the in-memory context of a tab. Its storage is left alone.
// Only for tabs no request has acquired yet.
func (r *Registry) Remove(tabID string) {
	r.mu.Lock()
	tab, ok := r.tabs[tabID]
	delete(r.tabs, tabID)
	r.setActive(len(r.tabs))
	r.mu.Unlock()

	if ok {
		tab.close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// InvalidateQuery drops key from the query cache of every tab held by this process.
func (r *Registry) InvalidateQuery(ctx context.Context, key string) {
	r.mu.Lock()
	tabs := make([]*Tab, 0, len(r.tabs))
	for _, tab := range r.tabs {
		tabs = append(tabs, tab)
	}
	r.mu.Unlock()

	for _, tab := range tabs {
		if err := tab.Cache.Invalidate(ctx, key); err != nil {
			slog.WarnContext(ctx, "Failed to invalidate cached query", "tab_id", tab.ID, "key", key, "error", err)
		}
	}
}

// EvictIdle removes tabs not seen for the idle timeout and prunes expired cache entries of the rest.
// Acquired tabs are never idle.
func (r *Registry) EvictIdle() int {
	now := r.cfg.Clock.Now()

	r.mu.Lock()
	var idle []*Tab
	for id, tab := range r.tabs {
		if r.cfg.IdleTimeout > 0 && tab.leases == 0 && tab.idleSince(now) >= r.cfg.IdleTimeout {
			idle = append(idle, tab)
			delete(r.tabs, id)
			continue
		}
		tab.Cache.EvictExpired()
	}
	r.setActive(len(r.tabs))
	r.mu.Unlock()

	for _, tab := range idle {
		tab.close()
		slog.Debug("Evicted idle tab", "tab_id", tab.ID)
	}
	if r.cfg.Metrics != nil && len(idle) > 0 {
		r.cfg.Metrics.EvictedTabs.Add(float64(len(idle)))
	}
	return len(idle)
}

func (r *Registry) setActive(n int) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ActiveTabs.Set(float64(n))
	}
}

func (r *Registry) startEvictionTimer() {
	ticker := r.cfg.Clock.NewTicker(evictionInterval)
	r.wg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if n := r.EvictIdle(); n > 0 {
					slog.Info("Evicted idle tabs", "count", n)
				}
			case <-r.stopCh:
				return
			}
		}
	})
}

// Stop halts eviction and closes every tab context.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()

	r.mu.Lock()
	tabs := r.tabs
	r.tabs = make(map[string]*Tab)
	r.setActive(0)
	r.mu.Unlock()

	for _, tab := range tabs {
		tab.close()
	}
}
