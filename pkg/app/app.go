package app

import (
	"fmt"

	"github.com/easzlab/ezfwd/pkg/availability"
	"github.com/easzlab/ezfwd/pkg/cmdrun"
	"github.com/easzlab/ezfwd/pkg/config"
	"github.com/easzlab/ezfwd/pkg/connectivity"
	"github.com/easzlab/ezfwd/pkg/forward"
	"github.com/easzlab/ezfwd/pkg/ipforward"
	"github.com/easzlab/ezfwd/pkg/persist"
	"github.com/easzlab/ezfwd/pkg/probe"
	"github.com/easzlab/ezfwd/pkg/report"
	"github.com/easzlab/ezfwd/pkg/ruletable"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Deps are the host-facing collaborators of an App.
type Deps struct {
	Backend ruletable.Backend
	Prober  probe.Prober
	Fs      afero.Fs
	Runner  cmdrun.Runner
}

// App wires every module of ezfwd around one validated configuration.
type App struct {
	ConfigMgr  *config.Manager
	Config     *config.Config
	Rules      *ruletable.Adapter
	Prober     probe.Prober
	Resolver   *availability.Resolver
	Allocator  *availability.Allocator
	Forwarding *ipforward.Switch
	Reconciler *forward.Reconciler
	Views      *report.Views
	Tester     *connectivity.Tester
	Store      *persist.Store
	logger     *zap.Logger
}

// New loads the configuration and wires the modules against the local host.
func New(configPath string, logger *zap.Logger) (*App, error) {
	configMgr, err := config.NewManager(configPath, logger.Named("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	backend, err := ruletable.NewBackend(logger.Named("ruletable"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule table backend: %w", err)
	}

	runner := cmdrun.NewExecRunner()
	return NewWithDeps(configMgr, Deps{
		Backend: backend,
		Prober:  probe.NewSystemProber(runner, logger.Named("probe")),
		Fs:      afero.NewOsFs(),
		Runner:  runner,
	}, logger)
}

// NewWithDeps wires the modules with the given collaborators.
// This allows tests to inject in-memory backends.
func NewWithDeps(configMgr *config.Manager, deps Deps, logger *zap.Logger) (*App, error) {
	cfg := configMgr.GetConfig()
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configMgr.Path(), err)
	}

	rules := ruletable.NewAdapter(deps.Backend, cfg.Relay.TargetHost, logger.Named("ruletable"))
	resolver := availability.NewResolver(deps.Prober, rules, logger.Named("availability"))
	allocator := availability.NewAllocator(resolver, cfg.Allocator.ProgressEvery, logger.Named("allocator"))
	forwarding := ipforward.NewSwitch(deps.Fs, cfg.Sysctl.IPForwardPath, cfg.Sysctl.ConfPath, logger.Named("ipforward"))

	wellKnown := make([]uint16, 0, len(cfg.Report.WellKnownPorts))
	for _, port := range cfg.Report.WellKnownPorts {
		wellKnown = append(wellKnown, uint16(port))
	}

	a := &App{
		ConfigMgr:  configMgr,
		Config:     cfg,
		Rules:      rules,
		Prober:     deps.Prober,
		Resolver:   resolver,
		Allocator:  allocator,
		Forwarding: forwarding,
		logger:     logger,
	}
	a.Reconciler = forward.NewReconciler(rules, resolver, allocator, forwarding, forward.Options{
		MaxAttempts:  cfg.Allocator.MaxAttempts,
		MaxRangeSpan: cfg.Range.MaxSpan,
	}, logger.Named("reconciler"))
	a.Views = report.NewViews(rules, resolver, deps.Prober, forwarding, wellKnown, logger.Named("report"))
	a.Tester = connectivity.NewTester(rules, cfg.Connectivity.GetTimeout(), logger.Named("connectivity"))
	a.Store = persist.NewStore(deps.Fs, deps.Runner, cfg.Persist.RulesFile, cfg.Persist.BackupDir, logger.Named("persist"))

	logger.Debug("modules initialized",
		zap.String("target_host", cfg.Relay.TargetHost),
		zap.String("backend", rules.BackendKind()),
	)
	return a, nil
}

// FindAvailablePort searches from start, or from allocator.default_start
// when start is zero, within the configured attempt budget.
func (a *App) FindAvailablePort(start uint16) (uint16, error) {
	if start == 0 {
		start = uint16(a.Config.Allocator.DefaultStart)
	}
	return a.Allocator.FindAvailablePort(start, a.Config.Allocator.MaxAttempts)
}
