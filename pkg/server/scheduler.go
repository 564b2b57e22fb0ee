package server

import (
	"context"
	"sync"
	"time"

	"github.com/fluviusenergy/fluviusenergy/pkg/coordinator"
)

// schedule refreshes every account once per interval until ctx is done.
func (s *Server) schedule(ctx context.Context) {
	if s.refreshOnStart {
		s.refreshAll(ctx)
	}
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

// refreshAll refreshes the accounts concurrently and waits for all of them.
// A failing account does not affect the others.
func (s *Server) refreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range s.coordinators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.refresh(ctx, c)
		}()
	}
	wg.Wait()
}

func (s *Server) refresh(ctx context.Context, c *coordinator.Coordinator) (*coordinator.Result, error) {
	start := time.Now()
	res, err := c.Refresh(ctx)
	s.metrics.observeRefresh(c.ID(), time.Since(start), res, err)
	return res, err
}
