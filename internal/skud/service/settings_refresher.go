package service

import (
	"context"
	"log"
	"time"
)

// SettingsRefresher periodically reloads the settings snapshot so changes
// made by another instance, or directly in the database, take effect without
// a restart. It is safe to stop via its context or the Stop method.
type SettingsRefresher struct {
	svc      *SettingsService
	interval time.Duration
	logger   *log.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSettingsRefresher creates a refresher but does not start it. An
// interval of zero or less disables periodic reloads.
func NewSettingsRefresher(svc *SettingsService, interval time.Duration, logger *log.Logger) *SettingsRefresher {
	return &SettingsRefresher{
		svc:      svc,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start loads once synchronously, then repeats on the interval until ctx is
// cancelled or Stop is called.
func (r *SettingsRefresher) Start(ctx context.Context) {
	r.refresh(ctx)

	if r.interval <= 0 {
		r.logger.Printf("settings refresher disabled (interval=0)")
		close(r.done)
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)

	r.logger.Printf("settings refresher started interval=%s", r.interval)
}

// Stop signals the refresher to exit and waits for it to finish.
func (r *SettingsRefresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *SettingsRefresher) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *SettingsRefresher) refresh(ctx context.Context) {
	// keep serving the previous snapshot on failure
	if err := r.svc.Reload(ctx); err != nil {
		r.logger.Printf("settings refresh error: %v", err)
	}
}
