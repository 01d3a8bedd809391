// Package metacache keeps recently built metatiles and makes sure each
// metatile key is built at most once at a time.
package metacache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vtileraster/internal/metatile"
	"vtileraster/internal/metrics"
	"vtileraster/internal/slicer"
	"vtileraster/internal/tileerr"
)

// LoadFunc builds the metatile for key. It runs detached from any single
// requester, so its context is never cancelled by a waiter going away.
type LoadFunc func(ctx context.Context, key metatile.Key) (*slicer.Metatile, error)

type Config struct {
	MaxEntries    int
	MaxAge        time.Duration
	SweepInterval time.Duration
	// RetainBypass keeps bypass builds cached under their own key. When false
	// they are only shared while in flight.
	RetainBypass bool
}

const (
	DefaultMaxEntries    = 16
	DefaultMaxAge        = 15 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

type entry struct {
	key     metatile.Key
	value   *slicer.Metatile
	created time.Time
}

// call is one in-flight build shared by every requester of its key.
type call struct {
	done  chan struct{}
	value *slicer.Metatile
	err   error
}

type Cache struct {
	mu       sync.Mutex
	items    map[metatile.Key]*list.Element
	lruList  *list.List
	inflight map[metatile.Key]*call

	maxEntries   int
	maxAge       time.Duration
	retainBypass bool
	load         LoadFunc
	logger       *zap.Logger
	now          func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a cache and starts its sweeper. Close stops the sweeper.
func New(cfg Config, load LoadFunc, logger *zap.Logger) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		items:        make(map[metatile.Key]*list.Element),
		lruList:      list.New(),
		inflight:     make(map[metatile.Key]*call),
		maxEntries:   cfg.MaxEntries,
		maxAge:       cfg.MaxAge,
		retainBypass: cfg.RetainBypass,
		load:         load,
		logger:       logger,
		now:          time.Now,
		stop:         make(chan struct{}),
	}

	c.wg.Add(1)
	go c.sweepLoop(cfg.SweepInterval)
	return c
}

// Get returns the metatile for key, building it on a miss. Concurrent
// callers for the same key share one build and its outcome. Failed builds
// are not cached. If ctx ends first the caller gets ctx.Err() while the
// build carries on for the others.
func (c *Cache) Get(ctx context.Context, key metatile.Key) (*slicer.Metatile, error) {
	c.mu.Lock()
	if v, ok := c.lookupLocked(key); ok {
		c.mu.Unlock()
		metrics.MetatileCacheHits.Inc()
		return v, nil
	}

	cl, shared := c.inflight[key]
	if !shared {
		cl = &call{done: make(chan struct{})}
		c.inflight[key] = cl
	}
	c.mu.Unlock()

	if shared {
		metrics.MetatileCacheShared.Inc()
	} else {
		metrics.MetatileCacheMisses.Inc()
		go c.build(context.WithoutCancel(ctx), key, cl)
	}

	select {
	case <-cl.done:
		return cl.value, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) build(ctx context.Context, key metatile.Key, cl *call) {
	defer close(cl.done)

	value, err := c.safeLoad(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, key)
	cl.value, cl.err = value, err
	if err != nil {
		c.logger.Debug("metatile build failed", zap.Stringer("key", key), zap.Error(err))
		return
	}
	if key.Bypass.Enabled() && !c.retainBypass {
		return
	}
	c.storeLocked(key, value)
}

// safeLoad runs load, turning a panic into an error for the waiters. The
// build runs on its own goroutine where nothing else would recover it.
func (c *Cache) safeLoad(ctx context.Context, key metatile.Key) (value *slicer.Metatile, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("metatile build panicked", zap.Stringer("key", key), zap.Any("panic", r), zap.Stack("stack"))
			value, err = nil, tileerr.New(tileerr.KindInternalConsistency, "metacache.build", fmt.Errorf("panic building %s: %v", key, r))
		}
	}()
	return c.load(ctx, key)
}

// lookupLocked returns a fresh entry and promotes it. Expired entries are
// dropped.
func (c *Cache) lookupLocked(key metatile.Key) (*slicer.Metatile, bool) {
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*entry)
	if c.expired(ent) {
		c.removeLocked(elem)
		return nil, false
	}
	c.lruList.MoveToFront(elem)
	return ent.value, true
}

func (c *Cache) storeLocked(key metatile.Key, value *slicer.Metatile) {
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.created = c.now()
		c.lruList.MoveToFront(elem)
		return
	}

	for c.lruList.Len() >= c.maxEntries {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}

	elem := c.lruList.PushFront(&entry{key: key, value: value, created: c.now()})
	c.items[key] = elem
	metrics.MetatileCacheEntries.Set(float64(c.lruList.Len()))
}

func (c *Cache) removeLocked(elem *list.Element) {
	delete(c.items, elem.Value.(*entry).key)
	c.lruList.Remove(elem)
	metrics.MetatileCacheEntries.Set(float64(c.lruList.Len()))
}

func (c *Cache) expired(ent *entry) bool {
	return c.now().Sub(ent.created) > c.maxAge
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.lruList.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*entry)) {
			c.removeLocked(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("swept expired metatiles", zap.Int("removed", n))
			}
		case <-c.stop:
			return
		}
	}
}

// Len is the number of cached metatiles, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Purge drops every cached metatile and returns how many there were.
// In-flight builds are unaffected.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.lruList.Len()
	c.items = make(map[metatile.Key]*list.Element)
	c.lruList = list.New()
	metrics.MetatileCacheEntries.Set(0)
	return n
}

func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}
