package workflow

import (
	"context"
	"time"

	"github.com/safeops/lifecycle-engine/types"
)

// StartSweeper runs a periodic sweep that materializes the derived
// Active -> Expired transition for dashboards and storage consumers that
// read records without going through the engine. The sweep is an
// optimization only: GetRecord already reports Expired lazily. The
// returned function stops the sweeper and waits for the current pass.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := e.SweepExpired(ctx); err != nil {
					e.logger.WithError(err).Warn("expiry sweep failed")
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// SweepExpired transitions every Active record whose expiry has passed.
// Each record is re-checked under its own lock so a sweep never races a
// concurrent extension or stop-work.
func (e *Engine) SweepExpired(ctx context.Context) error {
	records, err := e.storage.ListRecords(ctx, "")
	if err != nil {
		return err
	}

	now := e.now()
	swept := 0
	for _, rec := range records {
		if rec.State != types.StateActive || rec.ExpiresAt == 0 || now <= rec.ExpiresAt {
			continue
		}

		if err := e.sweepOne(ctx, rec.ID); err != nil {
			e.logger.WithError(err).WithField("record", rec.ID).Warn("failed to sweep record")
			continue
		}
		swept++
	}

	if swept > 0 {
		e.logger.WithField("count", swept).Info("expired records swept")
	}
	return nil
}

func (e *Engine) sweepOne(ctx context.Context, recordID uint64) error {
	unlock := e.lockRecord(recordID)
	defer unlock()

	rec, err := e.loadRecord(ctx, recordID)
	if err != nil {
		return err
	}

	now := e.now()
	prevState := rec.State
	normalizeExpiry(&rec, now)
	if rec.State == prevState {
		return nil
	}

	rec.UpdatedAt = now
	if err := e.saveRecord(ctx, rec); err != nil {
		return err
	}
	e.publishEvent(ctx, EventStateChanged, &rec, map[string]interface{}{
		"from":   prevState,
		"state":  rec.State,
		"action": "sweep",
	})
	return nil
}
