package metacache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vtileraster/internal/metatile"
	"vtileraster/internal/slicer"
	"vtileraster/internal/tileerr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, cfg Config, load LoadFunc) (*Cache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	c := New(cfg, load, nil)
	c.mu.Lock()
	c.now = clk.Now
	c.mu.Unlock()
	t.Cleanup(c.Close)
	return c, clk
}

func metatileFor(key metatile.Key) *slicer.Metatile {
	m, _ := slicer.NewMetatile(1, map[metatile.Offset]slicer.Tile{{}: {Data: []byte(key.String())}})
	return m
}

func key(z, x, y int, bypass bool) metatile.Key {
	return metatile.Key{Origin: metatile.Coord{Z: z, X: x, Y: y}, Bypass: metatile.BypassFrom(bypass)}
}

func TestConcurrentRequestsShareOneBuild(t *testing.T) {
	var builds atomic.Int32
	release := make(chan struct{})
	c, _ := newTestCache(t, Config{}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
		builds.Add(1)
		<-release
		return metatileFor(k), nil
	})

	k := key(5, 4, 12, false)
	const n = 64
	results := make([]*slicer.Metatile, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := c.Get(context.Background(), k)
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			results[i] = m
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := builds.Load(); got != 1 {
		t.Fatalf("builds = %d, want 1", got)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("requester %d got a different metatile", i)
		}
	}
}

func TestFailedBuildReachesAllWaitersAndIsNotCached(t *testing.T) {
	var builds atomic.Int32
	release := make(chan struct{})
	boom := errors.New("upstream down")
	c, _ := newTestCache(t, Config{}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
		if builds.Add(1) == 1 {
			<-release
			return nil, boom
		}
		return metatileFor(k), nil
	})

	k := key(3, 0, 0, false)
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), k); errors.Is(err, boom) {
				failures.Add(1)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if failures.Load() != 8 {
		t.Fatalf("%d of 8 waiters saw the error", failures.Load())
	}
	if c.Len() != 0 {
		t.Fatalf("failure must not be cached")
	}

	m, err := c.Get(context.Background(), k)
	if err != nil || m == nil {
		t.Fatalf("retry = %v, %v", m, err)
	}
	if builds.Load() != 2 {
		t.Fatalf("builds = %d, want 2", builds.Load())
	}
}

func TestEntryExpires(t *testing.T) {
	var builds atomic.Int32
	c, clk := newTestCache(t, Config{MaxAge: 15 * time.Second}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
		builds.Add(1)
		return metatileFor(k), nil
	})
	k := key(1, 0, 0, false)
	ctx := context.Background()

	first, _ := c.Get(ctx, k)
	clk.Advance(15 * time.Second)
	same, _ := c.Get(ctx, k)
	if same != first || builds.Load() != 1 {
		t.Fatalf("entry at exactly max age must still be served")
	}

	clk.Advance(time.Millisecond)
	fresh, _ := c.Get(ctx, k)
	if fresh == first || builds.Load() != 2 {
		t.Fatalf("expired entry served again (builds = %d)", builds.Load())
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c, clk := newTestCache(t, Config{MaxAge: time.Second}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
		return metatileFor(k), nil
	})
	ctx := context.Background()
	c.Get(ctx, key(2, 0, 0, false))
	clk.Advance(2 * time.Second)
	c.Get(ctx, key(2, 2, 0, false))

	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestSweeperRunsInBackground(t *testing.T) {
	c := New(Config{MaxAge: time.Millisecond, SweepInterval: 5 * time.Millisecond}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
		return metatileFor(k), nil
	}, nil)
	defer c.Close()

	c.Get(context.Background(), key(0, 0, 0, false))
	deadline := time.Now().Add(2 * time.Second)
	for c.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never removed the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLeastRecentlyUsedEviction(t *testing.T) {
	var builds atomic.Int32
	c, _ := newTestCache(t, Config{MaxEntries: 2}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
		builds.Add(1)
		return metatileFor(k), nil
	})
	ctx := context.Background()
	a, b, d := key(4, 0, 0, false), key(4, 4, 0, false), key(4, 8, 0, false)

	c.Get(ctx, a)
	c.Get(ctx, b)
	c.Get(ctx, a)
	c.Get(ctx, d)
	if c.Len() != 2 || builds.Load() != 3 {
		t.Fatalf("Len = %d, builds = %d", c.Len(), builds.Load())
	}

	c.Get(ctx, a)
	if builds.Load() != 3 {
		t.Fatal("a was recently used and should still be cached")
	}
	c.Get(ctx, b)
	if builds.Load() != 4 {
		t.Fatal("b should have been evicted")
	}
}

func TestBypassPartition(t *testing.T) {
	for _, retain := range []bool{true, false} {
		var builds atomic.Int32
		c, _ := newTestCache(t, Config{RetainBypass: retain}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
			builds.Add(1)
			return metatileFor(k), nil
		})
		ctx := context.Background()

		normal, _ := c.Get(ctx, key(5, 4, 12, false))
		bypass, _ := c.Get(ctx, key(5, 4, 12, true))
		if normal == bypass || builds.Load() != 2 {
			t.Fatalf("retain=%v: bypass request must not read the normal entry", retain)
		}

		c.Get(ctx, key(5, 4, 12, true))
		want := int32(3)
		if retain {
			want = 2
		}
		if builds.Load() != want {
			t.Fatalf("retain=%v: builds = %d, want %d", retain, builds.Load(), want)
		}

		again, _ := c.Get(ctx, key(5, 4, 12, false))
		if again != normal {
			t.Fatalf("retain=%v: bypass build leaked into the normal partition", retain)
		}
	}
}

func TestCancelledWaiterDoesNotAbortBuild(t *testing.T) {
	release := make(chan struct{})
	var buildCtxErr atomic.Value
	c, _ := newTestCache(t, Config{}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
		<-release
		if err := ctx.Err(); err != nil {
			buildCtxErr.Store(err)
		}
		return metatileFor(k), nil
	})
	k := key(6, 0, 0, false)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, k)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter got %v", err)
	}

	close(release)
	m, err := c.Get(context.Background(), k)
	if err != nil || m == nil {
		t.Fatalf("build should complete for others: %v", err)
	}
	if buildCtxErr.Load() != nil {
		t.Fatalf("build context was cancelled: %v", buildCtxErr.Load())
	}
}

func TestPurge(t *testing.T) {
	c, _ := newTestCache(t, Config{}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
		return metatileFor(k), nil
	})
	c.Get(context.Background(), key(1, 0, 0, false))
	c.Get(context.Background(), key(1, 1, 0, false))
	if n := c.Purge(); n != 2 {
		t.Fatalf("Purge = %d, want 2", n)
	}
	if c.Len() != 0 {
		t.Fatalf("Len after Purge = %d", c.Len())
	}
}

func TestPanickingBuildFailsWaiters(t *testing.T) {
	var builds atomic.Int32
	c, _ := newTestCache(t, Config{}, func(ctx context.Context, k metatile.Key) (*slicer.Metatile, error) {
		if builds.Add(1) == 1 {
			var divisor int
			_ = 1 / divisor
		}
		return metatileFor(k), nil
	})

	k := key(80, 0, 0, false)
	if _, err := c.Get(context.Background(), k); !errors.Is(err, tileerr.ErrInternalConsistency) {
		t.Fatalf("err = %v, want internal consistency error", err)
	}
	if c.Len() != 0 {
		t.Fatalf("panicked build was cached")
	}

	m, err := c.Get(context.Background(), k)
	if err != nil || m == nil {
		t.Fatalf("retry after panic: %v", err)
	}
}
