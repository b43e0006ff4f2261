package cli

import (
	"context"
	"errors"
	"fmt"

	"automacro/internal/config"
	"automacro/internal/controller"
	"automacro/internal/events"
	"automacro/internal/hal"
	"automacro/internal/hal/native"
	"automacro/internal/hal/virtual"
	"automacro/internal/logging"
	"automacro/internal/store"
	"automacro/internal/vision"
)

// Virtual screen size used by --headless.
const headlessWidth, headlessHeight = 1920, 1080

// app is everything one command needs. Commands that only touch storage
// call openStore; the rest call openEngine.
type app struct {
	opts      *RootOptions
	cfg       *config.Manager
	logger    *logging.Logger
	scripts   store.Repository
	templates *store.Templates

	bus    *events.Bus
	mqtt   *events.MQTT
	influx *events.Influx
	ctl    *controller.Controller
}

func newApp(opts *RootOptions) (*app, error) {
	mgr, err := config.NewManager(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}
	cfg := mgr.Get()
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	return &app{opts: opts, cfg: mgr, logger: logging.New(cfg.Logging, opts.Version)}, nil
}

func (a *app) openStore() error {
	cfg := a.cfg.Get().Storage
	repo, err := store.Open(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening script store", err)
	}
	tpl, err := store.NewTemplates(cfg.TemplatesDir)
	if err != nil {
		_ = repo.Close()
		return WrapExitError(ExitCommandError, "opening template store", err)
	}
	a.scripts, a.templates = repo, tpl
	return nil
}

func (a *app) headless() bool {
	return a.opts.Headless || a.cfg.Get().General.Headless
}

func (a *app) binding() (hal.Binding, error) {
	if a.headless() {
		return virtual.New(headlessWidth, headlessHeight), nil
	}
	return native.New()
}

// openEngine builds the bus, its sinks, the HAL and the controller, and
// initializes the HAL. remote enables MQTT and Influx sinks.
func (a *app) openEngine(ctx context.Context, hotkeys, remote bool) error {
	if err := a.openStore(); err != nil {
		return err
	}
	cfg := a.cfg.Get()

	a.bus = events.NewBus(events.DefaultQueueSize, a.logger.Component("events"))
	a.bus.Subscribe(events.LogSink{Logger: a.logger.Component("events").Logger})
	if remote {
		a.connectSinks(cfg)
	}

	b, err := a.binding()
	if err != nil {
		return wrap("no input backend", err)
	}
	h := hal.New(b,
		hal.WithLogger(a.logger.Component("hal")),
		hal.WithVisionOptions(
			vision.WithWorkers(cfg.Recognition.Workers),
			vision.WithDefaultThreshold(cfg.Recognition.DefaultThreshold),
			vision.WithLogger(a.logger.Component("vision")),
		),
		hal.WithHealthReports(func(r hal.HealthCheckResult) {
			a.bus.Publish(events.HALHealth, events.HealthFrom(r))
		}),
	)

	a.ctl, err = controller.New(controller.Deps{
		Config:    a.cfg,
		HAL:       h,
		Scripts:   a.scripts,
		Templates: a.templates,
		Bus:       a.bus,
		Logger:    a.logger,
	})
	if err != nil {
		return wrap("creating controller", err)
	}
	a.ctl.SetOnError(func(err error) { a.logger.Warn("engine error", "error", err) })
	if err := a.ctl.Start(ctx, hotkeys); err != nil {
		return wrap("starting engine", err)
	}
	return nil
}

// connectSinks attaches MQTT and InfluxDB when configured. A broker that is
// down is logged, not fatal.
func (a *app) connectSinks(cfg config.Config) {
	if cfg.MQTT.Enabled {
		m, err := events.ConnectMQTT(cfg.MQTT, a.logger.Component("mqtt"))
		if err != nil {
			a.logger.Warn("mqtt disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			a.mqtt = m
			a.bus.Subscribe(m)
		}
	}
	if cfg.InfluxDB.Enabled {
		i, err := events.ConnectInflux(cfg.InfluxDB, a.logger.Component("influx"))
		if err != nil {
			a.logger.Warn("influxdb disabled", "url", cfg.InfluxDB.URL, "error", err)
		} else {
			a.influx = i
			a.bus.Subscribe(i)
		}
	}
}

func (a *app) Close() error {
	var errList []error
	if a.ctl != nil {
		errList = append(errList, a.ctl.Close())
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.influx != nil {
		a.influx.Close()
	}
	if a.scripts != nil {
		errList = append(errList, a.scripts.Close())
	}
	if err := errors.Join(errList...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
