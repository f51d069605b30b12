// sentineld is the behavioral authentication client daemon. It captures
// typing rhythm and pointer motion for the bound session, ships derived
// feature windows to the collector, tracks the server's trust assessment,
// and executes recommended security actions. Control it with sentinelctl.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sentinel/internal/apiclient"
	"sentinel/internal/capture"
	"sentinel/internal/config"
	"sentinel/internal/dispatch"
	"sentinel/internal/engine"
	"sentinel/internal/health"
	"sentinel/internal/ipc"
	"sentinel/internal/journal"
	"sentinel/internal/livechannel"
	"sentinel/internal/logging"
	"sentinel/internal/security"
	"sentinel/internal/session"
	"sentinel/internal/telemetry"
	"sentinel/internal/trust"
)

// Version is stamped by the build; the default marks dev builds.
var Version = "0.3.0-dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default: platform config dir)")
	showVersion := flag.Bool("version", false, "print version and exit")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sentineld %s\n", Version)
		return
	}

	if *validateOnly {
		if _, err := config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("config ok")
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, created, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := buildLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  logging.DefaultCrashDir(),
		Version:   Version,
		Component: "sentineld",
	})
	logging.SetDefaultCrashHandler(crash)
	defer logging.RecoverPanic()

	if created {
		log.Info("wrote default config", "path", configPath)
	}
	log.Info("starting", "version", Version, "server", cfg.Server.BaseURL)

	if security.WarnIfRoot() {
		log.Warn("running as root; evdev access works without it when the user is in the input group")
	}
	if err := security.DisableCoreDumps(); err != nil {
		log.Warn("could not disable core dumps", "error", err)
	}
	if err := security.SecureEnvironment(); err != nil {
		log.Warn("could not scrub environment", "error", err)
	}

	d, err := buildDaemon(cfg, log)
	if err != nil {
		return err
	}
	d.cfgPath = configPath
	return d.run(context.Background())
}

func buildLogger(lc *config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format := logging.FormatText
	if lc.Format == "json" {
		format = logging.FormatJSON
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     lc.Output,
		FilePath:   lc.FilePath,
		MaxSize:    int64(lc.MaxSizeMB),
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
		Compress:   lc.Compress,
		Component:  "sentineld",
	})
}

// daemon aggregates the long-lived servers around the engine.
type daemon struct {
	cfg     *config.Config
	cfgPath string
	log     *logging.Logger
	engine  *engine.Engine

	shipper *telemetry.Shipper
	monitor *trust.Monitor

	journal   *journal.Journal
	ipcServer *ipc.Server
	health    *health.Server
	checker   *health.Checker
}

func buildDaemon(cfg *config.Config, log *logging.Logger) (*daemon, error) {
	cache, err := session.NewCredentialCache(cfg.Session.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open credential cache: %w", err)
	}
	manager := session.NewManager(cache, log.WithComponent("session"))

	api := apiclient.New(apiclient.Config{
		BaseURL:   cfg.Server.BaseURL,
		Timeout:   cfg.RequestTimeout(),
		UserAgent: cfg.Server.UserAgent,
	}, manager, log.WithComponent("apiclient"))

	buffers := telemetry.NewBuffers(cfg.Telemetry.BufferCapacity)
	shipper := telemetry.NewShipper(buffers, api, log.WithComponent("telemetry"))
	shipper.SetIntervals(cfg.KeystrokeInterval(), cfg.PointerInterval())

	source, err := buildSource(cfg, log)
	if err != nil {
		return nil, err
	}
	collector := capture.New(source, buffers, manager, log.WithComponent("capture"))

	monitor := trust.NewMonitor(api, log.WithComponent("trust"))
	monitor.SetPollInterval(cfg.PollInterval())

	channel := livechannel.New(cfg.Server.BaseURL, manager, log.WithComponent("live"))
	channel.SetReconnectDelay(cfg.ReconnectDelay())

	keepAlive := session.NewKeepAlive(manager, api, log.WithComponent("session"))
	keepAlive.SetInterval(cfg.KeepAliveInterval())

	var j *journal.Journal
	if cfg.Journal.Enabled {
		j, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	eng := engine.New(engine.Deps{
		Config:    cfg,
		Log:       log,
		Session:   manager,
		API:       api,
		Buffers:   buffers,
		Shipper:   shipper,
		Collector: collector,
		Monitor:   monitor,
		Channel:   channel,
		KeepAlive: keepAlive,
		Journal:   j,
		Notifier:  buildNotifier(cfg, log),
	})

	d := &daemon{cfg: cfg, log: log, engine: eng, journal: j, shipper: shipper, monitor: monitor}

	if cfg.IPC.Enabled {
		serverCfg := ipc.ServerConfig{
			SocketPath:     cfg.IPC.SocketPath,
			Version:        Version,
			ReadTimeout:    time.Duration(cfg.IPC.TimeoutSec) * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxConnections: cfg.IPC.MaxConnections,
		}
		d.ipcServer = ipc.NewServer(serverCfg, engine.NewHandler(eng, Version), log.WithComponent("ipc"))
	}

	if cfg.Health.Enabled {
		d.checker = health.NewChecker()
		d.checker.RegisterFunc("capture_source", false, health.CustomCheck(func() error {
			if ok, detail := source.Available(); !ok {
				return fmt.Errorf("%s", detail)
			}
			return nil
		}))
		d.checker.RegisterFunc("session", false, health.ConditionCheck(func() bool {
			_, bound := manager.Token()
			return bound
		}, "no session bound"))
		if j != nil {
			d.checker.RegisterFunc("journal", true, health.CustomCheck(func() error {
				_, err := j.CountActions(time.Time{})
				return err
			}))
		}
		d.health = health.NewServer(cfg.Health.ListenAddr, d.checker, log.WithComponent("health"))
	}

	return d, nil
}

func buildSource(cfg *config.Config, log *logging.Logger) (capture.InputSource, error) {
	switch cfg.Capture.Source {
	case "script":
		events, err := capture.LoadScript(cfg.Capture.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("load capture script: %w", err)
		}
		return capture.NewScriptSource(time.Now(), events).Realtime(), nil
	default:
		source := capture.NewEvdevSource()
		if ok, detail := source.Available(); !ok {
			log.Warn("input source unavailable", "source", cfg.Capture.Source, "detail", detail)
		}
		return source, nil
	}
}

func buildNotifier(cfg *config.Config, log *logging.Logger) dispatch.Notifier {
	if !cfg.Dispatch.Notifications {
		return nil
	}
	if n, err := dispatch.NewDesktopNotifier(log.WithComponent("dispatch")); err == nil {
		return n
	} else {
		log.Warn("desktop notifications unavailable, logging instead", "error", err)
	}
	return dispatch.NewLogNotifier(log.WithComponent("dispatch"))
}

func (d *daemon) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdown := make(chan struct{})
	var once sync.Once
	d.engine.SetShutdownFunc(func() {
		once.Do(func() { close(shutdown) })
	})

	if err := d.engine.Start(runCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if d.ipcServer != nil {
		if err := d.ipcServer.Start(); err != nil {
			d.engine.Stop()
			return fmt.Errorf("start control socket: %w", err)
		}
		d.log.Info("control socket ready", "path", d.ipcServer.SocketPath())
	}

	if d.health != nil {
		if err := d.health.Start(); err != nil {
			d.log.Warn("health listener failed to start", "error", err)
		} else {
			d.checker.SetReady(true)
			d.log.Info("health listener ready", "addr", d.health.Addr())
		}
	}

	d.watchConfig()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		d.log.Info("signal received, shutting down", "signal", sig.String())
	case <-shutdown:
		d.log.Info("shutdown requested over control socket")
	case <-runCtx.Done():
	}

	return d.stop()
}

// watchConfig reloads the config file on change and retunes the cadences
// that are safe to change at runtime. Structural settings (server URL,
// socket paths, capture source) still require a restart.
func (d *daemon) watchConfig() {
	loader := config.NewLoader(d.cfgPath)
	if _, err := loader.Load(); err != nil {
		d.log.Warn("config watch disabled", "error", err)
		return
	}
	loader.OnChange(func(cfg *config.Config) {
		d.log.Info("config reloaded",
			"keystroke_interval", cfg.KeystrokeInterval(),
			"pointer_interval", cfg.PointerInterval(),
			"poll_interval", cfg.PollInterval())
		d.shipper.SetIntervals(cfg.KeystrokeInterval(), cfg.PointerInterval())
		d.monitor.SetPollInterval(cfg.PollInterval())
	})
	if err := loader.Watch(); err != nil {
		d.log.Warn("config watch disabled", "error", err)
		return
	}
	go func() {
		for err := range loader.Errors() {
			d.log.Warn("config reload rejected", "error", err)
		}
	}()
}

func (d *daemon) stop() error {
	if d.checker != nil {
		d.checker.SetReady(false)
	}
	if d.ipcServer != nil {
		if err := d.ipcServer.Stop(); err != nil {
			d.log.Warn("control socket stop failed", "error", err)
		}
	}

	d.engine.Stop()

	if d.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.health.Stop(ctx); err != nil {
			d.log.Warn("health listener stop failed", "error", err)
		}
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.log.Warn("journal close failed", "error", err)
		}
	}

	d.log.Info("stopped")
	return nil
}
