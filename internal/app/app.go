// Package app wires configuration, storage, the Telegram gateway, the
// broadcast orchestrator and the HTTP API into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"jobboard/internal/broadcast"
	"jobboard/internal/config"
	"jobboard/internal/digest"
	"jobboard/internal/eventbus"
	"jobboard/internal/gateway/telegram"
	"jobboard/internal/httpapi"
	"jobboard/internal/jobs"
	"jobboard/internal/observability/pprof"
	"jobboard/internal/runtime/supervisor"
	"jobboard/internal/storage"
	"jobboard/pkg/logx"
)

// publishPersistGrace covers the record write that follows the last send attempt.
const publishPersistGrace = 5 * time.Second

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	gw     *telegram.Client
	bc     *broadcast.Service
	jobs   *jobs.Service
	api    *httpapi.Server
	digest *digest.Service
	pprof  *pprof.Server

	// sem bounds background publishes; swapped on hot reload.
	sem     atomic.Pointer[semaphore.Weighted]
	pending atomic.Int64

	startedAt time.Time
}

// New loads config from cfgPath (plus JOBBOARD_* environment overrides) and
// builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	gw, err := telegram.New(tgCfg, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram gateway: %w", err)
	}

	// Enable the Telegram sink only after its target is set so Apply does not
	// warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, gw)
	logSvc.SetTelegramTarget(cfg.Logging.Telegram.ChatID, cfg.Logging.Telegram.ThreadID)
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)

	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if sc.Path == ":memory:" {
		appLog.Warn("storage driver none: jobs and delivery records are kept in memory only")
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{
		cfgm:  cfgm,
		log:   appLog,
		logs:  logSvc,
		bus:   eventbus.New(),
		store: store,
		gw:    gw,
	}
	a.sem.Store(semaphore.NewWeighted(maxConcurrent(cfg)))

	bcCfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.bc = broadcast.New(bcCfg, store, gw, log.With(logx.String("comp", "broadcast")), broadcast.WithBus(a.bus))
	a.jobs = jobs.NewService(store, log.With(logx.String("comp", "jobs")), a.dispatchPublish)
	a.digest = digest.New(mapDigestConfig(cfg), store, log.With(logx.String("comp", "digest")))
	a.pprof = pprof.New(log.With(logx.String("comp", "pprof")))

	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.api = httpapi.New(httpCfg, httpapi.Deps{
		Jobs:      a.jobs,
		Broadcast: a.bc,
		Webhook:   gw,
		Audit:     store,
		Health:    a.health,
	}, log.With(logx.String("comp", "http")))

	if !gw.IsEnabled() {
		appLog.Warn("telegram not configured; jobs are stored but not broadcast")
	}
	return a, nil
}

// Handler exposes the HTTP routes without starting a listener.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the HTTP server, the digest, config hot reload and event
// logging under one supervisor. It returns immediately.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.sup.Go("http", a.api.Run)
	a.sup.Go("digest", a.digest.Run)
	a.sup.Go0("eventbus.log", a.logEvents)
	if err := a.pprof.Apply(ctx, mapPprofConfig(a.cfgm.Get())); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.Bool("telegram_enabled", a.gw.IsEnabled()),
	)
	return nil
}

// Stop cancels every goroutine, waits for in-flight publishes and closes the
// store and log sinks.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.Int64("pending_publishes", a.pending.Load()))
	if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("supervisor stop incomplete", logx.Err(err))
	}
	a.waitPublishes()
	a.pprof.Stop(ctx)
	a.log.Info("stopped")
	return a.close()
}

// waitPublishes blocks until no publish is in flight, for at most the
// worst-case send time plus the record write. Publishes ignore cancellation,
// and closing the store under one would lose a posted transition.
func (a *App) waitPublishes() {
	if a.pending.Load() == 0 {
		return
	}
	tc, err := mapTelegramConfig(a.cfgm.Get())
	if err != nil {
		tc = telegram.Config{}
	}
	deadline := time.Now().Add(tc.MaxSendDuration() + publishPersistGrace)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for a.pending.Load() > 0 {
		if time.Now().After(deadline) {
			a.log.Error("stopping with publishes in flight", logx.Int64("pending_publishes", a.pending.Load()))
			return
		}
		<-tick.C
	}
}

func (a *App) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// dispatchPublish runs PublishNewJob in the background so job creation never
// waits on Telegram.
func (a *App) dispatchPublish(_ context.Context, job storage.Job) {
	if a.sup == nil {
		a.log.Warn("publish not dispatched: app not started", logx.String("job_id", job.ID))
		return
	}
	sem := a.sem.Load()
	a.pending.Add(1)
	a.sup.Go0("broadcast.publish", func(c context.Context) {
		defer a.pending.Add(-1)
		if err := sem.Acquire(c, 1); err != nil {
			a.log.Warn("publish abandoned at shutdown", logx.String("job_id", job.ID))
			return
		}
		defer sem.Release(1)

		res := a.bc.PublishNewJob(c, job)
		if res.Err != nil && res.Success {
			a.log.Error("job posted but record not updated", logx.String("job_id", job.ID), logx.Err(res.Err))
		}
	})
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64, "broadcast.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			res, _ := e.Data.(broadcast.PublishResult)
			a.log.Debug("event",
				logx.String("type", e.Type),
				logx.String("job_id", res.JobID),
				logx.String("reason", res.Reason),
			)
		}
	}
}

func (a *App) health(ctx context.Context) map[string]any {
	out := map[string]any{
		"uptime":           time.Since(a.startedAt).Truncate(time.Second).String(),
		"telegram_enabled": a.gw.IsEnabled(),
		"pending":          a.pending.Load(),
		"events_dropped":   a.bus.Dropped(),
		"logs_dropped":     a.logs.Dropped(),
	}
	if a.sup != nil {
		out["tasks"] = a.sup.Counters()
	}
	counts, err := a.store.CountDeliveries(ctx)
	if err != nil {
		out["storage"] = "error: " + strings.TrimSpace(err.Error())
		return out
	}
	out["storage"] = "ok"
	out["deliveries"] = counts
	return out
}
