// Package retention sweeps finished call sessions out of the store. A
// session whose call reached a terminal state more than the configured
// period ago is deleted together with both of its signal lanes. Thread
// history is never touched.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

var storedCfg *config.RetentionConfig

// SetConfig stores the retention config so tests or admin triggers can
// invoke runs on demand.
func SetConfig(cfg config.RetentionConfig) {
	storedCfg = &cfg
}

// RunImmediate triggers a single sweep using the stored config.
func RunImmediate() (int, error) {
	if storedCfg == nil {
		return 0, fmt.Errorf("no retention config registered")
	}
	return runOnce(context.Background(), *storedCfg)
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	if min := cfg.MinPeriod.Duration(); min > 0 && cfg.Period.Duration() < min {
		return nil, fmt.Errorf("retention period %s below minimum %s", cfg.Period.Duration(), min)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period.Duration())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if n, err := runOnce(ctx, cfg); err != nil {
				logger.Error("retention_run_error", "error", err)
			} else {
				logger.Info("retention_run_complete", "purged", n)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// runOnce scans all sessions and purges terminal ones older than the
// period. Deletions go out in bounded batches with an optional sleep
// between them to keep write amplification flat.
func runOnce(ctx context.Context, cfg config.RetentionConfig) (int, error) {
	period := cfg.Period.Duration()
	if period <= 0 {
		return 0, fmt.Errorf("retention period not set")
	}
	cutoff := time.Now().UTC().Add(-period).UnixNano()

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	kvs, err := store.List(store.SessionPrefix, 0)
	if err != nil {
		return 0, err
	}

	purged := 0
	var batch []models.CallSession
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if cfg.DryRun {
			for _, s := range batch {
				logger.Info("retention_would_purge", "session", s.ID)
			}
			purged += len(batch)
			batch = batch[:0]
			return nil
		}
		err := store.Update(func(tx *store.Tx) error {
			for _, s := range batch {
				lanes, err := store.List(store.SignalSessionPrefix(s.ID), 0)
				if err != nil {
					return err
				}
				for _, kv := range lanes {
					tx.Delete(kv.Key)
				}
				tx.Delete(store.SessionKey(s.ID))
			}
			return nil
		})
		if err != nil {
			return err
		}
		purged += len(batch)
		batch = batch[:0]
		if cfg.BatchSleepMs > 0 {
			select {
			case <-time.After(time.Duration(cfg.BatchSleepMs) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	for _, kv := range kvs {
		select {
		case <-ctx.Done():
			return purged, ctx.Err()
		default:
		}
		var sess models.CallSession
		if err := json.Unmarshal(kv.Value, &sess); err != nil {
			logger.Warn("retention_session_decode_failed", "key", kv.Key, "error", err)
			continue
		}
		if !sess.State.Terminal() || sess.EndedTS == 0 || sess.EndedTS > cutoff {
			continue
		}
		batch = append(batch, sess)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return purged, err
			}
		}
	}
	if err := flush(); err != nil {
		return purged, err
	}
	return purged, nil
}
