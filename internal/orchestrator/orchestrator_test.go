package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/fnrun/internal/backend"
	"github.com/watzon/fnrun/internal/process"
	"github.com/watzon/fnrun/internal/projector"
	"github.com/watzon/fnrun/internal/service"
)

const (
	emulatorURL       = "http://localhost:4002"
	emulatorHealthURL = emulatorURL + "/v0/emulator/api/utils/heartbeat"
	gatewayHealthURL  = "http://localhost:4001/v1/status"
)

type fakeLiveness struct {
	running map[string]bool
	errs    map[string]error
}

func (f *fakeLiveness) IsRunning(_ context.Context, url string) (bool, error) {
	if err := f.errs[url]; err != nil {
		return false, err
	}
	return f.running[url], nil
}

type installCall struct {
	Kind    backend.Kind
	Version string
}

type fakeInstaller struct {
	installed  map[backend.Kind]bool
	latest     string
	resolveErr error
	installErr error

	mu       sync.Mutex
	resolved int
	installs []installCall
}

func (f *fakeInstaller) IsInstalled(kind backend.Kind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed[kind], nil
}

func (f *fakeInstaller) ResolveLatestVersion(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved++
	return f.latest, f.resolveErr
}

func (f *fakeInstaller) Install(_ context.Context, kind backend.Kind, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, installCall{Kind: kind, Version: version})
	return f.installErr
}

func (f *fakeInstaller) calls() []installCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]installCall(nil), f.installs...)
}

type fakeInstance struct {
	readyErr  error
	exitErr   error
	readyGate <-chan struct{}
	done      chan struct{}
}

func (i *fakeInstance) WaitReady(ctx context.Context) error {
	if i.readyErr != nil {
		return i.readyErr
	}
	if i.readyGate != nil {
		select {
		case <-i.readyGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (i *fakeInstance) Done() <-chan struct{} { return i.done }
func (i *fakeInstance) ExitErr() error        { return i.exitErr }

type fakeSpawner struct {
	// stayUp keeps spawned instances alive until the run is cancelled.
	stayUp    bool
	readyErr  error
	spawnErr  error
	readyGate chan struct{}

	mu      sync.Mutex
	spawned []backend.Kind
}

func (f *fakeSpawner) Spawn(ctx context.Context, kind backend.Kind) (Instance, error) {
	f.mu.Lock()
	f.spawned = append(f.spawned, kind)
	f.mu.Unlock()

	if f.spawnErr != nil {
		return nil, f.spawnErr
	}

	inst := &fakeInstance{readyErr: f.readyErr, readyGate: f.readyGate, done: make(chan struct{})}
	if f.stayUp && f.readyErr == nil {
		go func() {
			<-ctx.Done()
			close(inst.done)
		}()
	} else {
		close(inst.done)
	}
	return inst, nil
}

func (f *fakeSpawner) kinds() []backend.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Kind(nil), f.spawned...)
}

type fakeDeployer struct {
	err error

	mu       sync.Mutex
	deployed []string
}

func (f *fakeDeployer) Deploy(_ context.Context, fn projector.FunctionDeploymentConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployed = append(f.deployed, fn.FunctionID)
	return f.err
}

func (f *fakeDeployer) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deployed...)
}

type fakeRegistrar struct {
	resetErr     error
	configureErr error

	mu         sync.Mutex
	calls      []string
	resetDone  bool
	configured []projector.GatewayConfiguration
}

func (f *fakeRegistrar) Reset(context.Context) error {
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "reset")
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resetDone = true
	return nil
}

func (f *fakeRegistrar) Configure(_ context.Context, cfg projector.GatewayConfiguration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resetDone {
		return errors.New("configure before reset completed")
	}
	f.calls = append(f.calls, "configure")
	f.configured = append(f.configured, cfg)
	return f.configureErr
}

func (f *fakeRegistrar) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	liveness  *fakeLiveness
	installer *fakeInstaller
	spawner   *fakeSpawner
	deployer  *fakeDeployer
	registrar *fakeRegistrar
}

func newFixture(emulatorRunning, gatewayRunning bool) *fixture {
	return &fixture{
		liveness: &fakeLiveness{running: map[string]bool{
			emulatorHealthURL: emulatorRunning,
			gatewayHealthURL:  gatewayRunning,
		}},
		installer: &fakeInstaller{
			installed: map[backend.Kind]bool{backend.Emulator: true, backend.Gateway: true},
			latest:    "0.9.1",
		},
		spawner:   &fakeSpawner{},
		deployer:  &fakeDeployer{},
		registrar: &fakeRegistrar{},
	}
}

func (f *fixture) orchestrator(desc *service.Descriptor) *Orchestrator {
	return New(Options{
		Descriptor: desc,
		Endpoints: Endpoints{
			EmulatorURL:       emulatorURL,
			EmulatorHealthURL: emulatorHealthURL,
			GatewayHealthURL:  gatewayHealthURL,
		},
		Liveness:  f.liveness,
		Installer: f.installer,
		Spawner:   f.spawner,
		Deployer:  f.deployer,
		Registrar: f.registrar,
	})
}

func testService() *service.Descriptor {
	return &service.Descriptor{
		Name:     "shop",
		Root:     "/srv/shop",
		Provider: service.Provider{Name: "aws", Runtime: "nodejs8.10"},
		Functions: []service.Function{
			{
				Name:    "foo",
				Handler: "src/foo.handle",
				Events:  []service.Event{{Type: service.EventHTTP, Path: "/foo", Method: "GET"}},
			},
			{
				Name:    "bar",
				Handler: "bar.handle",
				Events:  []service.Event{{Type: service.EventCustom, Name: "myEvent"}},
			},
		},
	}
}

func TestRun_BothAlreadyRunning(t *testing.T) {
	f := newFixture(true, true)
	o := f.orchestrator(testService())

	require.NoError(t, o.Run(context.Background()))

	require.Empty(t, f.spawner.kinds())
	require.Empty(t, f.installer.calls())
	require.ElementsMatch(t, []string{"shop-foo", "shop-bar"}, f.deployer.ids())
	require.Equal(t, []string{"reset", "configure"}, f.registrar.history())

	require.Len(t, f.registrar.configured, 1)
	cfg := f.registrar.configured[0]
	require.Len(t, cfg.Functions, 2)
	require.Len(t, cfg.Subscriptions, 2)
	require.Equal(t, emulatorURL, cfg.Functions[0].Provider.EmulatorURL)

	for _, kind := range backend.All {
		require.Equal(t, BackendStatus{AlreadyRunning: true, Performed: true}, o.Status(kind))
	}
}

func TestRun_ExactlyOnce(t *testing.T) {
	for _, emulatorRunning := range []bool{true, false} {
		for _, gatewayRunning := range []bool{true, false} {
			name := fmt.Sprintf("emulator_running=%t,gateway_running=%t", emulatorRunning, gatewayRunning)
			t.Run(name, func(t *testing.T) {
				f := newFixture(emulatorRunning, gatewayRunning)
				o := f.orchestrator(testService())

				require.NoError(t, o.Run(context.Background()))

				require.Len(t, f.deployer.ids(), 2)
				require.Equal(t, []string{"reset", "configure"}, f.registrar.history())

				var wantSpawned []backend.Kind
				if !emulatorRunning {
					wantSpawned = append(wantSpawned, backend.Emulator)
				}
				if !gatewayRunning {
					wantSpawned = append(wantSpawned, backend.Gateway)
				}
				require.ElementsMatch(t, wantSpawned, f.spawner.kinds())

				require.Equal(t, BackendStatus{AlreadyRunning: emulatorRunning, Performed: true}, o.Status(backend.Emulator))
				require.Equal(t, BackendStatus{AlreadyRunning: gatewayRunning, Performed: true}, o.Status(backend.Gateway))
			})
		}
	}
}

func TestRun_FreshMachine(t *testing.T) {
	f := newFixture(false, false)
	f.installer.installed = map[backend.Kind]bool{}
	o := f.orchestrator(testService())

	require.NoError(t, o.Run(context.Background()))

	require.ElementsMatch(t, []installCall{
		{Kind: backend.Emulator, Version: ""},
		{Kind: backend.Gateway, Version: "0.9.1"},
	}, f.installer.calls())
	require.Equal(t, 1, f.installer.resolved)
	require.ElementsMatch(t, []backend.Kind{backend.Emulator, backend.Gateway}, f.spawner.kinds())
	require.Len(t, f.deployer.ids(), 2)
	require.Equal(t, []string{"reset", "configure"}, f.registrar.history())
}

func TestRun_DeployWaitsForReadiness(t *testing.T) {
	f := newFixture(false, true)
	f.spawner.readyGate = make(chan struct{})
	o := f.orchestrator(testService())

	errc := make(chan error, 1)
	go func() { errc <- o.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return o.Status(backend.Gateway).Performed
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []backend.Kind{backend.Emulator}, f.spawner.kinds())
	require.Empty(t, f.deployer.ids())

	close(f.spawner.readyGate)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not finish")
	}
	require.Len(t, f.deployer.ids(), 2)
	require.Equal(t, []string{"reset", "configure"}, f.registrar.history())
}

func TestRun_RunningButNotInstalled(t *testing.T) {
	f := newFixture(true, false)
	f.installer.installed = map[backend.Kind]bool{backend.Gateway: true}
	o := f.orchestrator(testService())

	require.NoError(t, o.Run(context.Background()))

	require.Equal(t, []installCall{{Kind: backend.Emulator}}, f.installer.calls())
	require.Equal(t, []backend.Kind{backend.Gateway}, f.spawner.kinds())
}

func TestRun_NoService(t *testing.T) {
	f := newFixture(true, true)
	o := f.orchestrator(nil)

	err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrNoService)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindContext, kind)
	require.Empty(t, f.deployer.ids())
}

func TestRun_Errors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		setup func(f *fixture)
		kind  Kind
	}{
		{
			name: "probe failure",
			setup: func(f *fixture) {
				f.liveness.errs = map[string]error{gatewayHealthURL: boom}
			},
			kind: KindProbe,
		},
		{
			name: "version resolution failure",
			setup: func(f *fixture) {
				f.installer.installed = map[backend.Kind]bool{backend.Emulator: true}
				f.installer.resolveErr = boom
			},
			kind: KindInstall,
		},
		{
			name: "install failure",
			setup: func(f *fixture) {
				f.installer.installed = map[backend.Kind]bool{}
				f.installer.installErr = boom
			},
			kind: KindInstall,
		},
		{
			name: "spawn failure",
			setup: func(f *fixture) {
				f.liveness.running = map[string]bool{}
				f.spawner.spawnErr = boom
			},
			kind: KindSpawn,
		},
		{
			name: "exit before ready",
			setup: func(f *fixture) {
				f.liveness.running = map[string]bool{}
				f.spawner.readyErr = process.ErrExitedBeforeReady
			},
			kind: KindSpawn,
		},
		{
			name: "deploy failure",
			setup: func(f *fixture) {
				f.deployer.err = boom
			},
			kind: KindDeploy,
		},
		{
			name: "configure failure",
			setup: func(f *fixture) {
				f.registrar.configureErr = boom
			},
			kind: KindRegister,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(true, true)
			tt.setup(f)
			o := f.orchestrator(testService())

			err := o.Run(context.Background())
			require.Error(t, err)

			kind, ok := KindOf(err)
			require.True(t, ok)
			require.Equal(t, tt.kind, kind)
		})
	}
}

func TestRun_ResetFailureSkipsConfigure(t *testing.T) {
	f := newFixture(true, true)
	f.registrar.resetErr = errors.New("boom")
	o := f.orchestrator(testService())

	err := o.Run(context.Background())

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindRegister, kind)
	require.Equal(t, []string{"reset"}, f.registrar.history())
	require.False(t, o.Status(backend.Gateway).Performed)
}

func TestRun_DuplicateSubscription(t *testing.T) {
	desc := testService()
	desc.Functions[1].Events = []service.Event{{Type: service.EventHTTP, Path: "foo"}}

	f := newFixture(true, true)
	err := f.orchestrator(desc).Run(context.Background())

	require.ErrorIs(t, err, projector.ErrDuplicateSubscription)
	kind, _ := KindOf(err)
	require.Equal(t, KindProjection, kind)
	require.Empty(t, f.deployer.ids())
}

func TestRun_CancelStopsSpawned(t *testing.T) {
	f := newFixture(false, false)
	f.spawner.stayUp = true
	o := f.orchestrator(testService())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- o.Run(ctx) }()

	require.Eventually(t, func() bool {
		return o.Status(backend.Emulator).Performed && o.Status(backend.Gateway).Performed
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-errc:
		require.True(t, IsShutdown(err))
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestReload(t *testing.T) {
	f := newFixture(true, true)
	o := f.orchestrator(testService())
	require.NoError(t, o.Run(context.Background()))

	desc := testService()
	desc.Functions = append(desc.Functions, service.Function{Name: "baz", Handler: "baz.handle"})
	require.NoError(t, o.Reload(context.Background(), desc))

	require.Len(t, f.deployer.ids(), 5)
	require.Equal(t, []string{"reset", "configure", "reset", "configure"}, f.registrar.history())
	require.Len(t, f.registrar.configured[1].Functions, 3)
}

func TestReload_ReachesPendingBackend(t *testing.T) {
	f := newFixture(false, true)
	f.spawner.readyGate = make(chan struct{})
	o := f.orchestrator(testService())

	errc := make(chan error, 1)
	go func() { errc <- o.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return o.Status(backend.Gateway).Performed
	}, time.Second, 5*time.Millisecond)

	desc := testService()
	desc.Functions = append(desc.Functions, service.Function{Name: "baz", Handler: "baz.handle"})
	require.NoError(t, o.Reload(context.Background(), desc))
	require.Empty(t, f.deployer.ids())

	close(f.spawner.readyGate)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not finish")
	}

	require.ElementsMatch(t, []string{"shop-foo", "shop-bar", "shop-baz"}, f.deployer.ids())
	require.Equal(t, []string{"reset", "configure", "reset", "configure"}, f.registrar.history())
	require.Len(t, f.registrar.configured[1].Functions, 3)
}

func TestReload_Serialized(t *testing.T) {
	f := newFixture(true, true)
	o := f.orchestrator(testService())
	require.NoError(t, o.Run(context.Background()))

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() { errs <- o.Reload(context.Background(), testService()) }()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-errs)
	}

	history := f.registrar.history()
	require.Len(t, history, 10)
	for i := 0; i < len(history); i += 2 {
		require.Equal(t, []string{"reset", "configure"}, history[i:i+2])
	}
}

func TestReload_NothingPerformed(t *testing.T) {
	f := newFixture(true, true)
	o := f.orchestrator(testService())

	require.NoError(t, o.Reload(context.Background(), testService()))
	require.Empty(t, f.deployer.ids())
	require.Empty(t, f.registrar.history())
}

func TestCommands(t *testing.T) {
	emu := EmulatorCommand("sle", 4002)
	require.Equal(t, Command{Name: "sle", Args: []string{"--port", "4002"}}, emu)

	gw := GatewayCommand("/home/u/.serverless/event-gateway/event-gateway", 4000, 4001, "debug")
	require.Equal(t, []string{
		"--dev",
		"--log-level", "debug",
		"--api-port", "4000",
		"--config-port", "4001",
	}, gw.Args)
}

func TestError_Message(t *testing.T) {
	err := newError(KindInstall, backend.Gateway, errors.New("boom"))
	require.Equal(t, "installation error (gateway): boom", err.Error())

	err = newError(KindContext, 0, ErrNoService)
	require.Equal(t, "context error: not inside a service root", err.Error())

	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
}
