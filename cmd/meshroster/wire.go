package main

import (
	"go.uber.org/zap"

	"meshroster/internal/adapter"
	"meshroster/internal/config"
	"meshroster/internal/engine"
	"meshroster/internal/probe"
	"meshroster/internal/repository/sqlite"
	"meshroster/internal/service"
)

// app is the wired application stack
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	repo   *sqlite.Repository
	bus    *service.EventBus
	svc    *service.RosterService
}

// newApp opens the database and wires probe, validator, scanners and service
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	client := probe.NewClient(buildRunner(cfg, logger), logger,
		probe.WithCommand(cfg.Probe.Command),
		probe.WithFallback(cfg.Probe.FallbackCommand()),
		probe.WithInfoArgs(cfg.Probe.InfoArgs...),
		probe.WithProbeTimeout(cfg.Probe.Timeout.Duration()))
	cache := probe.NewInfoCache(client, cfg.Cache.TTL.Duration(), probe.WithCacheLogger(logger))

	validator := engine.NewValidator(cache, logger, validatorOptions(cfg)...)

	bus := service.NewEventBus()
	opts := []service.Option{service.WithEventBus(bus)}
	if scanner := buildScanner(cfg, logger); scanner.Len() > 0 {
		opts = append(opts, service.WithScanner(scanner))
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		bus:    bus,
		svc:    service.NewRosterService(repo, validator, cache, logger, opts...),
	}, nil
}

// Close releases the database and flushes the logger
func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// buildRunner returns the SSH runner when a remote gateway is configured
func buildRunner(cfg *config.Config, logger *zap.Logger) probe.Runner {
	r := cfg.Probe.Remote
	if r == nil {
		return probe.ExecRunner{}
	}
	return probe.NewSSHRunner(probe.SSHConfig{
		Host:       r.Host,
		Port:       r.Port,
		User:       r.User,
		Password:   r.Password,
		KeyFile:    r.KeyFile,
		Passphrase: r.Passphrase,
		Timeout:    r.Timeout.Duration(),
	}, logger)
}

// validatorOptions maps probe retry and serial check settings. Local serial
// checks are skipped when probes run on a remote gateway.
func validatorOptions(cfg *config.Config) []engine.ValidatorOption {
	opts := []engine.ValidatorOption{
		engine.WithAttempts(cfg.Probe.Attempts),
		engine.WithRetryDelay(cfg.Probe.RetryDelay.Duration()),
	}
	if !cfg.Serial.SkipCheck && cfg.Probe.Remote == nil {
		opts = append(opts,
			engine.WithSerialChecker(adapter.NewSerialPortChecker(cfg.Serial.BaudRate)),
			engine.WithSerialRetry(cfg.Serial.CheckAttempts, cfg.Serial.CheckDelay.Duration()))
	}
	return opts
}

// buildScanner assembles the enabled candidate scanners, static list first
func buildScanner(cfg *config.Config, logger *zap.Logger) *adapter.MultiScanner {
	var scanners []adapter.CandidateScanner
	sc := cfg.Scanners

	if len(sc.Static) > 0 {
		scanners = append(scanners, adapter.NewStaticScanner(sc.Static))
	}
	if sc.Serial {
		scanners = append(scanners, adapter.NewSerialScanner())
	}
	if sc.MDNS.Enabled {
		scanners = append(scanners, adapter.NewMDNSScanner(sc.MDNS.Timeout.Duration(), logger))
	}
	if sc.Nmap.Enabled {
		scanners = append(scanners, adapter.NewNmapScanner(sc.Nmap.Targets, logger,
			adapter.WithPortRange(sc.Nmap.Ports),
			adapter.WithTimeout(sc.Nmap.Timeout.Duration()),
			adapter.WithSkipHostDiscovery(sc.Nmap.SkipHostDiscovery)))
	}
	return adapter.NewMultiScanner(logger, scanners...)
}
