// Package orchestrator brings up the local emulator and event gateway and
// deploys a service to them.
//
// A run probes each backend, deploys to any backend that is already
// listening, installs missing binaries, spawns the backends that are not
// running and deploys to them once they report ready. The run then stays in
// the foreground until every spawned process has exited. Each backend is
// deployed to exactly once per run, whichever way it became available.
//
// Both backends are handled concurrently and independently; the first error
// from either side cancels the run, which also terminates any spawned
// process.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/watzon/fnrun/internal/backend"
	"github.com/watzon/fnrun/internal/metrics"
	"github.com/watzon/fnrun/internal/projector"
	"github.com/watzon/fnrun/internal/service"
)

// LivenessChecker reports whether a backend is listening at url.
type LivenessChecker interface {
	IsRunning(ctx context.Context, url string) (bool, error)
}

// Installer checks for and installs backend binaries.
type Installer interface {
	IsInstalled(kind backend.Kind) (bool, error)
	ResolveLatestVersion(ctx context.Context) (string, error)
	Install(ctx context.Context, kind backend.Kind, version string) error
}

// Instance is a spawned backend process.
type Instance interface {
	WaitReady(ctx context.Context) error
	Done() <-chan struct{}
	ExitErr() error
}

// Spawner starts backend processes.
type Spawner interface {
	Spawn(ctx context.Context, kind backend.Kind) (Instance, error)
}

// Deployer deploys one function to the emulator.
type Deployer interface {
	Deploy(ctx context.Context, fn projector.FunctionDeploymentConfig) error
}

// Registrar replaces the gateway configuration.
type Registrar interface {
	Reset(ctx context.Context) error
	Configure(ctx context.Context, cfg projector.GatewayConfiguration) error
}

// Endpoints are the local addresses of both backends.
type Endpoints struct {
	// EmulatorURL is the emulator base URL, also used as the gateway's
	// invocation target.
	EmulatorURL string
	// EmulatorHealthURL is probed to find a running emulator.
	EmulatorHealthURL string
	// GatewayHealthURL is probed to find a running gateway.
	GatewayHealthURL string
}

// Options configures an Orchestrator.
type Options struct {
	Descriptor *service.Descriptor
	Endpoints  Endpoints
	Liveness   LivenessChecker
	Installer  Installer
	Spawner    Spawner
	Deployer   Deployer
	Registrar  Registrar
}

// BackendStatus records what happened to one backend during a run.
type BackendStatus struct {
	// AlreadyRunning is true when the backend was listening before the run.
	AlreadyRunning bool
	// Performed is true once deployment (emulator) or registration (gateway)
	// has succeeded.
	Performed bool
}

type plan struct {
	deployments  []projector.FunctionDeploymentConfig
	registration projector.GatewayConfiguration
}

// Orchestrator runs the local backends for one service.
type Orchestrator struct {
	opts Options

	mu      sync.Mutex
	desc    *service.Descriptor
	plan    *plan
	status  map[backend.Kind]*BackendStatus
	spawned []Instance
	logger  zerolog.Logger

	// applyMu holds one lock per backend, taken for every deployment or
	// registration so a reload never races the first one.
	applyMu map[backend.Kind]*sync.Mutex
	// reloadMu serializes Reload calls.
	reloadMu sync.Mutex
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	applyMu := make(map[backend.Kind]*sync.Mutex, len(backend.All))
	for _, kind := range backend.All {
		applyMu[kind] = &sync.Mutex{}
	}

	return &Orchestrator{
		opts:    opts,
		desc:    opts.Descriptor,
		status:  newStatus(),
		logger:  log.Logger,
		applyMu: applyMu,
	}
}

func newStatus() map[backend.Kind]*BackendStatus {
	status := make(map[backend.Kind]*BackendStatus, len(backend.All))
	for _, kind := range backend.All {
		status[kind] = &BackendStatus{}
	}
	return status
}

// Run brings up both backends and deploys the service to them. It returns
// nil once every spawned process has exited, or the first error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	desc := o.desc
	o.plan = nil
	o.status = newStatus()
	o.spawned = nil
	o.logger = log.With().Str("run_id", uuid.NewString()).Logger()
	o.mu.Unlock()

	if desc == nil {
		return newError(KindContext, 0, ErrNoService)
	}

	p, err := project(desc, o.opts.Endpoints.EmulatorURL)
	if err != nil {
		return err
	}

	// A reload that landed while projecting wins.
	o.mu.Lock()
	if o.plan == nil {
		o.plan = p
	}
	o.mu.Unlock()

	o.logger.Info().
		Str("service", desc.Name).
		Int("functions", len(desc.Functions)).
		Msg("Starting local backends")

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range backend.All {
		g.Go(func() error {
			return o.runBackend(gctx, kind)
		})
	}

	err = g.Wait()
	o.awaitSpawned()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return err
	}

	o.logger.Info().Msg("All local backends stopped")
	return nil
}

func project(desc *service.Descriptor, emulatorURL string) (*plan, error) {
	registration, err := projector.ProjectRegistration(desc, emulatorURL)
	if err != nil {
		return nil, newError(KindProjection, 0, err)
	}
	return &plan{
		deployments:  projector.ProjectDeployment(desc),
		registration: registration,
	}, nil
}

func (o *Orchestrator) runBackend(ctx context.Context, kind backend.Kind) error {
	logger := o.logger.With().Str("backend", kind.String()).Logger()

	url := o.healthURL(kind)
	running, err := o.opts.Liveness.IsRunning(ctx, url)
	metrics.RecordProbe(kind.String(), running, err)
	if err != nil {
		return newError(KindProbe, kind, err)
	}
	o.setAlreadyRunning(kind, running)

	if running {
		logger.Info().Str("url", url).Msg("Backend already running")
		if err := o.perform(ctx, kind); err != nil {
			return err
		}
	}

	if err := o.ensureInstalled(ctx, kind, logger); err != nil {
		return err
	}

	if running {
		return nil
	}

	start := time.Now()
	inst, err := o.opts.Spawner.Spawn(ctx, kind)
	metrics.RecordSpawn(kind.String(), err)
	if err != nil {
		return newError(KindSpawn, kind, err)
	}
	o.trackSpawned(inst)

	if err := inst.WaitReady(ctx); err != nil {
		return newError(KindSpawn, kind, err)
	}
	metrics.RecordReady(kind.String(), time.Since(start))
	logger.Info().Dur("startup", time.Since(start)).Msg("Backend ready")

	if err := o.perform(ctx, kind); err != nil {
		return err
	}

	select {
	case <-inst.Done():
		metrics.RecordExit(kind.String())
		ev := logger.Info()
		if exitErr := inst.ExitErr(); exitErr != nil {
			ev = logger.Warn().Err(exitErr)
		}
		ev.Msg("Backend stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) ensureInstalled(ctx context.Context, kind backend.Kind, logger zerolog.Logger) error {
	installed, err := o.opts.Installer.IsInstalled(kind)
	if err != nil {
		return newError(KindInstall, kind, err)
	}
	if installed {
		return nil
	}

	var version string
	if kind == backend.Gateway {
		version, err = o.opts.Installer.ResolveLatestVersion(ctx)
		if err != nil {
			return newError(KindInstall, kind, fmt.Errorf("resolving latest version: %w", err))
		}
	}

	logger.Info().Str("version", version).Msg("Backend not installed, installing")
	err = o.opts.Installer.Install(ctx, kind, version)
	metrics.RecordInstall(kind.String(), err)
	if err != nil {
		return newError(KindInstall, kind, err)
	}

	logger.Info().Msg("Backend installed")
	return nil
}

// perform deploys the latest plan to the emulator or registers it with the
// gateway, unless that already happened this run.
func (o *Orchestrator) perform(ctx context.Context, kind backend.Kind) error {
	mu := o.applyMu[kind]
	mu.Lock()
	defer mu.Unlock()

	o.mu.Lock()
	done := o.status[kind].Performed
	p := o.plan
	o.mu.Unlock()
	if done {
		return nil
	}

	if err := o.apply(ctx, kind, p); err != nil {
		return err
	}

	o.mu.Lock()
	o.status[kind].Performed = true
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) apply(ctx context.Context, kind backend.Kind, p *plan) error {
	switch kind {
	case backend.Emulator:
		return o.deploy(ctx, p.deployments)
	case backend.Gateway:
		return o.register(ctx, p.registration)
	default:
		return fmt.Errorf("unknown backend: %s", kind)
	}
}

// deploy issues one deployment per function concurrently. The first failure
// is returned; calls already issued are not rolled back.
func (o *Orchestrator) deploy(ctx context.Context, deployments []projector.FunctionDeploymentConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range deployments {
		g.Go(func() error {
			err := o.opts.Deployer.Deploy(gctx, fn)
			metrics.RecordDeployment(err)
			if err != nil {
				return fmt.Errorf("deploying %s: %w", fn.FunctionName, err)
			}
			o.logger.Debug().Str("function", fn.FunctionName).Msg("Function deployed")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return newError(KindDeploy, backend.Emulator, err)
	}

	o.logger.Info().Int("functions", len(deployments)).Msg("Functions deployed to emulator")
	return nil
}

// register resets the gateway and then pushes the full configuration.
func (o *Orchestrator) register(ctx context.Context, cfg projector.GatewayConfiguration) error {
	if err := o.opts.Registrar.Reset(ctx); err != nil {
		metrics.RecordRegistration(err)
		return newError(KindRegister, backend.Gateway, fmt.Errorf("resetting configuration: %w", err))
	}

	err := o.opts.Registrar.Configure(ctx, cfg)
	metrics.RecordRegistration(err)
	if err != nil {
		return newError(KindRegister, backend.Gateway, fmt.Errorf("configuring: %w", err))
	}

	o.logger.Info().
		Int("functions", len(cfg.Functions)).
		Int("subscriptions", len(cfg.Subscriptions)).
		Msg("Functions registered with event gateway")
	return nil
}

// Reload re-projects desc and pushes it to every backend already deployed to
// in the current run. A backend that becomes available later deploys desc
// instead of the descriptor the run started with. Calls are serialized, so
// the last reload is the one that sticks.
func (o *Orchestrator) Reload(ctx context.Context, desc *service.Descriptor) error {
	o.reloadMu.Lock()
	defer o.reloadMu.Unlock()

	p, err := project(desc, o.opts.Endpoints.EmulatorURL)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.desc = desc
	o.plan = p
	o.mu.Unlock()

	for _, kind := range backend.All {
		if err := o.reapply(ctx, kind, p); err != nil {
			return err
		}
	}
	return nil
}

// reapply pushes p to kind if it has already been deployed to. Holding the
// backend's apply lock means a first deployment still in flight finishes
// before the check, and one not yet started reads p itself.
func (o *Orchestrator) reapply(ctx context.Context, kind backend.Kind, p *plan) error {
	mu := o.applyMu[kind]
	mu.Lock()
	defer mu.Unlock()

	o.mu.Lock()
	performed := o.status[kind].Performed
	o.mu.Unlock()
	if !performed {
		return nil
	}
	return o.apply(ctx, kind, p)
}

// Status returns a snapshot of a backend's status in the current run.
func (o *Orchestrator) Status(kind backend.Kind) BackendStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	if st, ok := o.status[kind]; ok {
		return *st
	}
	return BackendStatus{}
}

func (o *Orchestrator) setAlreadyRunning(kind backend.Kind, running bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[kind].AlreadyRunning = running
}

func (o *Orchestrator) trackSpawned(inst Instance) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spawned = append(o.spawned, inst)
}

// awaitSpawned blocks until every spawned process is gone. The errgroup
// context is cancelled by now, so processes still alive have been signalled.
func (o *Orchestrator) awaitSpawned() {
	o.mu.Lock()
	spawned := append([]Instance(nil), o.spawned...)
	o.mu.Unlock()

	for _, inst := range spawned {
		<-inst.Done()
	}
}

func (o *Orchestrator) healthURL(kind backend.Kind) string {
	if kind == backend.Gateway {
		return o.opts.Endpoints.GatewayHealthURL
	}
	return o.opts.Endpoints.EmulatorHealthURL
}

// IsShutdown reports whether err only reflects the run being cancelled.
func IsShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
