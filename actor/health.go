package actor

import (
	"context"
	"errors"
	"time"

	"github.com/Method-Security/bioma/internal/db"
)

// HeartbeatStaleFactor is the number of missed heartbeats after which a
// monitored actor is considered unhealthy. The factor is part of the health
// contract: `now − last_heartbeat ≤ HeartbeatStaleFactor × update_interval`.
const HeartbeatStaleFactor = 3

// HealthConfig enables heartbeat monitoring for a spawned actor.
type HealthConfig struct {
	// UpdateInterval is how often the heartbeat task writes a new
	// timestamp to the actor's health record.
	UpdateInterval time.Duration
}

// CheckHealth applies the staleness predicate to an actor:
//
//   - no actor record: unhealthy
//   - record but no health record: healthy (monitoring disabled)
//   - heartbeat within HeartbeatStaleFactor intervals: healthy
//
// The predicate always consults the store; it is not cached.
func (e *Engine) CheckHealth(ctx context.Context, id ID) (bool, error) {
	_, err := e.store.GetActor(ctx, id.ref())
	switch {
	case errors.Is(err, db.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}

	health, err := e.store.GetHealth(ctx, id.ref())
	switch {
	case errors.Is(err, db.ErrNotFound):
		// Monitoring disabled, assume healthy.
		return true, nil
	case err != nil:
		return false, err
	}

	age := time.Now().UnixNano() - health.LastHeartbeat

	return age <= HeartbeatStaleFactor*health.UpdateInterval, nil
}

// startHealthMonitor launches the heartbeat task for an actor. The task
// writes a first beat immediately, then one per interval, until the
// returned cancel func fires or ctx ends.
func (e *Engine) startHealthMonitor(ctx context.Context, id ID,
	cfg HealthConfig) context.CancelFunc {

	monitorCtx, cancel := context.WithCancel(ctx)

	beat := func() {
		err := e.store.UpsertHealth(monitorCtx, db.HealthRow{
			Ref:            id.ref(),
			LastHeartbeat:  time.Now().UnixNano(),
			UpdateInterval: int64(cfg.UpdateInterval),
		})
		if err != nil {
			if monitorCtx.Err() != nil {
				return
			}

			e.log.WarnContext(monitorCtx, "Heartbeat write failed",
				"id", id, "err", err)

			return
		}

		heartbeats.Inc()
	}

	e.tasks.Submit(func() {
		ticker := time.NewTicker(cfg.UpdateInterval)
		defer ticker.Stop()

		beat()

		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				beat()
			}
		}
	})

	return cancel
}
