// Package app assembles the panel: config, logging, state store, event
// hub, feeding tracker, food counter, lists, reminder scheduler, HTTP
// server, and the optional Telegram relay.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"catpanel/internal/alertlog"
	"catpanel/internal/config"
	"catpanel/internal/eventbus"
	"catpanel/internal/feeding"
	"catpanel/internal/history"
	"catpanel/internal/inventory"
	"catpanel/internal/lists"
	"catpanel/internal/relay"
	"catpanel/internal/reminder"
	"catpanel/internal/runtime/supervisor"
	"catpanel/internal/state"
	"catpanel/internal/web"
	logx "catpanel/pkg/logx"
)

// StopReason tags Stop() logs with why the process is going down.
type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *state.Store
	alog  *alertlog.Log
	hist  history.Store // may be nil

	tracker *feeding.Tracker
	food    *inventory.Counter
	lists   *lists.Service
	rem     *reminder.Service
	web     *web.Server
	relay   *relay.Service // nil when disabled
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	dataDir := cfg.Storage.DataDir
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "./data"
	}

	store, err := state.Open(dataDir, log.With(logx.String("comp", "state")))
	if err != nil {
		return nil, err
	}

	alertPath := cfg.Storage.AlertLog
	if strings.TrimSpace(alertPath) == "" {
		alertPath = filepath.Join(dataDir, "alerts.log")
	}
	alog, err := alertlog.New(alertPath, log.With(logx.String("comp", "alertlog")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	listSvc, err := lists.New(store, bus, log.With(logx.String("comp", "lists")))
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Feeding.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("feeding.timezone: %w", err)
		}
	}
	times := cfg.Feeding.Times
	if len(times) == 0 {
		times = config.DefaultFeedTimes
	}
	tracker, err := feeding.New(store, bus, alog, log.With(logx.String("comp", "feeding")), times, loc)
	if err != nil {
		return nil, err
	}

	food, err := inventory.New(inventory.Config{
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		MaxAdjust:         cfg.Inventory.MaxAdjust,
		MaxTotal:          cfg.Inventory.MaxTotal,
		RestockList:       cfg.Inventory.RestockList,
		RestockItem:       cfg.Inventory.RestockItem,
	}, store, bus, listSvc, log.With(logx.String("comp", "inventory")))
	if err != nil {
		return nil, err
	}

	var hist history.Store
	if hc := cfg.Storage.History; hc != nil {
		path := hc.Path
		if strings.TrimSpace(path) == "" {
			path = filepath.Join(dataDir, "history.db")
		}
		hist, err = history.Open(history.Config{Driver: hc.Driver, Path: path},
			log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, err
		}
	}

	remCfg, err := mapReminderConfig(cfg)
	if err != nil {
		return nil, err
	}
	rem := reminder.New(remCfg, tracker, alog, hist, bus, log.With(logx.String("comp", "reminder")))

	heartbeat, err := config.ParseDurationOrDefault("web.heartbeat", cfg.Web.Heartbeat, eventbus.DefaultHeartbeat)
	if err != nil {
		return nil, err
	}
	handlers := web.NewHandlers(tracker, food, listSvc, hist, bus, rem, log.With(logx.String("comp", "web")))
	webSrv := web.NewServer(web.Config{Addr: cfg.Web.Addr, Heartbeat: heartbeat},
		handlers, log.With(logx.String("comp", "web")))

	var relaySvc *relay.Service
	if rc := cfg.Relay; rc != nil && rc.Enabled {
		rcfg, err := mapRelayConfig(rc)
		if err != nil {
			return nil, err
		}
		relaySvc, err = relay.New(rcfg, alog, tracker, food, log.With(logx.String("comp", "relay")))
		if err != nil {
			return nil, err
		}
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		alog:    alog,
		hist:    hist,
		tracker: tracker,
		food:    food,
		lists:   listSvc,
		rem:     rem,
		web:     webSrv,
		relay:   relaySvc,
	}, nil
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.web.Start(a.sup.Context()); err != nil {
		return err
	}
	a.rem.Start(a.sup.Context())
	if a.relay != nil {
		a.relay.Start(a.sup.Context())
	}

	// Debug visibility into hub traffic; components subscribe themselves.
	events := a.bus.Subscribe(128, eventbus.DefaultHeartbeat)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer events.Close()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events.Events():
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Config hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the latest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload applies the live-reloadable sections: logging and the
// reminder cadence. Storage, web, and relay changes need a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	remCfg, err := mapReminderConfig(cfg)
	if err != nil {
		a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
	} else {
		a.rem.Apply(remCfg)
	}
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Warn("panic in stop step", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	if a.relay != nil {
		step("relay", 2*time.Second, func(c context.Context) { a.relay.Stop(c) })
	}
	step("web", 2*time.Second, func(c context.Context) { a.web.Stop(c) })
	step("reminder", 2*time.Second, func(c context.Context) { a.rem.Stop(c) })
	if a.hist != nil {
		step("history", time.Second, func(context.Context) { a.hist.Close() })
	}
	step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	grace, err := config.ParseDurationOrDefault("feeding.grace", cfg.Feeding.Grace, 30*time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	interval, err := config.ParseDurationOrDefault("feeding.reminder_interval", cfg.Feeding.ReminderInterval, 30*time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	tick, err := config.ParseDurationOrDefault("feeding.tick", cfg.Feeding.Tick, time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{Grace: grace, ReminderInterval: interval, Tick: tick}, nil
}

func mapRelayConfig(rc *config.RelayConfig) (relay.Config, error) {
	poll, err := config.ParseDurationOrDefault("relay.poll", rc.Poll, 30*time.Second)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		Enabled:    rc.Enabled,
		Token:      rc.Token,
		ChatID:     rc.ChatID,
		Poll:       poll,
		RatePerSec: float64(rc.RatePerSec),
	}, nil
}
