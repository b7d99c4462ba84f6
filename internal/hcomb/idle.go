package hcomb

import (
	"context"
	"time"
)

// DefaultIdleThreshold is the default idle-expiry threshold (spec §4.4.5).
const DefaultIdleThreshold = 120 * time.Second

// WatchIdle runs the 1-second-granularity ticker spec §4.4.5
// describes: once Service has been idle for longer than threshold,
// onExpire is invoked and the watchdog stops. Cancel ctx to stop the
// watchdog without expiring (e.g. on shutdown).
func WatchIdle(ctx context.Context, s *Service, threshold time.Duration, onExpire func()) {
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Duration(s.IdleSeconds())*time.Second > threshold {
				onExpire()
				return
			}
		}
	}
}
