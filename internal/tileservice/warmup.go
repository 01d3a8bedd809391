package tileservice

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"vtileraster/internal/metatile"
)

// Warmup builds every metatile from zoom 0 through levels so the upstream
// vector cache is populated before traffic arrives. It returns the number of
// metatiles that failed.
func (s *Service) Warmup(ctx context.Context, levels, workers int) int {
	if s.cache.Load() == nil || levels < 0 {
		return 0
	}
	if workers <= 0 {
		workers = 1
	}

	s.logger.Info("Starting metatile warmup", zap.Int("levels", levels), zap.Int("workers", workers))

	slots := make(chan struct{}, workers)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)

	step := int(s.size)
warm:
	for z := 0; z <= levels; z++ {
		n := 1 << z
		for x := 0; x < n; x += step {
			for y := 0; y < n; y += step {
				select {
				case <-ctx.Done():
					break warm
				case slots <- struct{}{}:
				}
				wg.Add(1)
				go func(c metatile.Coord) {
					defer wg.Done()
					defer func() { <-slots }()

					if _, err := s.GetTile(ctx, c.Z, c.X, c.Y, false); err != nil {
						s.logger.Debug("Warmup metatile failed", zap.Stringer("coord", c), zap.Error(err))
						mu.Lock()
						failed++
						mu.Unlock()
					}
				}(metatile.Coord{Z: z, X: x, Y: y})
			}
		}
	}

	wg.Wait()
	s.logger.Info("Metatile warmup completed", zap.Int("failed", failed))
	return failed
}
