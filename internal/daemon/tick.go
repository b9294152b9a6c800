package daemon

import (
	"context"
	"time"

	"github.com/vthunder/plexus/internal/logging"
)

// tickLoop runs the maintenance pass every TickInterval until shutdown.
// A pass that overruns the interval causes the next beat to be skipped
// rather than stacked.
func (s *Server) tickLoop() {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			if !s.tickRunning.CompareAndSwap(false, true) {
				logging.Warn("tick", "previous maintenance pass still running, skipping beat")
				continue
			}
			s.tick(time.Now())
			s.tickRunning.Store(false)
		}
	}
}

// tick is one maintenance beat: advance the heartbeat, decay threads and
// bridges, enforce the active quota, retire stale threads, sweep expired
// bridge proposals.
func (s *Server) tick(now time.Time) {
	start := time.Now()
	hb := s.heartbeat.Beat(now)
	cfg := s.Config()

	threadsDecayed := s.manager.DecayAll(now, cfg.Settings.ThreadHalfLifeDays)
	bridgesPruned := s.propagator.DecayAll(now, cfg.Settings.BridgeHalfLifeDays)

	suspended := s.manager.EnforceQuota(cfg.Quota())
	if len(suspended) > 0 {
		logging.Info("tick", "quota %d enforced, suspended %d threads", cfg.Quota(), len(suspended))
	}

	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	archived := s.consolidator.ArchiveStale(ctx, now, TickInterval)
	cancel()

	expired := s.exchange.SweepExpired(now)

	logging.Debug("tick", "beat %d: decayed %d threads, pruned %d bridges, archived %d, %d proposals expired (%s)",
		hb.Beat, threadsDecayed, bridgesPruned, len(archived), expired, time.Since(start).Round(time.Millisecond))
}
