package reconciler

import (
	"context"
	"log"
	"time"

	"storyreel/internal/service"
)

// Reconciler runs the background hygiene loop: on an interval it sweeps
// processing tasks whose heartbeat went silent and fails them with the
// watchdog code so their dedupe keys free up.
type Reconciler struct {
	svc        *service.TaskService
	interval   time.Duration
	staleAfter time.Duration
	sweepLimit int
}

func New(svc *service.TaskService, interval, staleAfter time.Duration, sweepLimit int) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if sweepLimit <= 0 {
		sweepLimit = 100
	}
	return &Reconciler{
		svc:        svc,
		interval:   interval,
		staleAfter: staleAfter,
		sweepLimit: sweepLimit,
	}
}

// Start begins the sweep loop. Call this in main as a goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	log.Printf("reconciler started (interval=%s staleAfter=%s)", r.interval, r.staleAfter)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler shutting down")
			return
		case <-ticker.C:
			if _, err := r.svc.SweepStaleTasks(ctx, r.staleAfter, r.sweepLimit); err != nil {
				log.Printf("reconciler: sweep failed: %v", err)
			}
		}
	}
}
