package app

import (
	"context"
	"strings"

	"golang.org/x/sync/semaphore"

	"jobboard/internal/config"
	"jobboard/pkg/logx"
)

// reloadLoop applies validated config updates as they arrive. Changes to the
// http, telegram and storage sections are only logged as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	// target first so Apply does not warn about a missing chat
	a.logs.SetTelegramTarget(newCfg.Logging.Telegram.ChatID, newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	if bc, err := mapBroadcastConfig(newCfg); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.bc.SetConfig(bc)
	}
	if maxConcurrent(oldCfg) != maxConcurrent(newCfg) {
		// in-flight publishes keep the semaphore they acquired
		a.sem.Store(semaphore.NewWeighted(maxConcurrent(newCfg)))
	}

	if err := a.digest.Reschedule(mapDigestConfig(newCfg)); err != nil {
		a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
	}

	if err := a.pprof.Apply(ctx, mapPprofConfig(newCfg)); err != nil {
		a.log.Warn("pprof reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
