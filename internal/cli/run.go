package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/watzon/fnrun/internal/backend"
	"github.com/watzon/fnrun/internal/client"
	"github.com/watzon/fnrun/internal/config"
	"github.com/watzon/fnrun/internal/install"
	"github.com/watzon/fnrun/internal/liveness"
	"github.com/watzon/fnrun/internal/logsink"
	"github.com/watzon/fnrun/internal/metrics"
	"github.com/watzon/fnrun/internal/orchestrator"
	"github.com/watzon/fnrun/internal/process"
	"github.com/watzon/fnrun/internal/service"
	"github.com/watzon/fnrun/internal/watch"
)

var (
	runEmulatorPort      string
	runGatewayPort       string
	runGatewayConfigPort string
	runWatch             bool
	runMetricsAddr       string
)

// runFlagKeys maps config keys to the run flags that override them.
var runFlagKeys = map[string]string{
	"emulator.port":       "emulator-port",
	"gateway.api_port":    "gateway-port",
	"gateway.config_port": "gateway-config-port",
	"watch.enabled":       "watch",
	"metrics.addr":        "metrics-addr",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the emulator and event gateway and deploy the service",
	Long: `Run the local function emulator and event gateway for the service in the
current directory.

Backends that are already listening are reused; missing binaries are
installed first. Once a backend is available every function is deployed to
the emulator and registered with the event gateway. The command stays in the
foreground until the started backends exit or it is interrupted.

Use --watch to redeploy whenever serverless.yml changes.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	bindRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func bindRunFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&runEmulatorPort, "emulator-port", "e", config.DefaultEmulatorPort, "Port for the function emulator")
	fs.StringVarP(&runGatewayPort, "gateway-port", "g", config.DefaultGatewayAPIPort, "Port for the event gateway events API")
	fs.StringVarP(&runGatewayConfigPort, "gateway-config-port", "c", config.DefaultGatewayConfigPort, "Port for the event gateway configuration API")
	fs.BoolVarP(&runWatch, "watch", "w", false, "Redeploy when the service file changes")
	fs.StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runRun(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	path, cfg, err := loadSettings(wd, cmd.Flags())
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	desc, err := service.Load(path)
	if err != nil {
		return err
	}

	log.Info().
		Str("service", desc.Name).
		Str("root", desc.Root).
		Str("emulator", cfg.Emulator.URL()).
		Str("gateway", cfg.Gateway.APIURL()).
		Msg("Starting local environment")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	console := logsink.New(os.Stdout, logsink.Options{Color: cfg.Logging.Color})
	orch, err := newOrchestrator(cfg, desc, console)
	if err != nil {
		return err
	}

	if cfg.Watch.Enabled {
		w, watchErr := watch.New(desc.Root, cfg.Watch.Patterns, cfg.Watch.Debounce, reloadOnChange(ctx, orch, path))
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("Failed to set up file watcher, continuing without redeploy")
		} else {
			w.Start(ctx)
			defer func() { _ = w.Stop() }()
			log.Info().Strs("patterns", cfg.Watch.Patterns).Msg("Watching for service changes")
		}
	}

	err = orch.Run(ctx)
	if orchestrator.IsShutdown(err) {
		log.Info().Msg("Shutdown complete")
		return nil
	}
	return err
}

// loadSettings finds the service file in dir and loads the configuration for
// it. A directory without a service file is a context error.
func loadSettings(dir string, flags *pflag.FlagSet) (string, *config.Config, error) {
	path, err := service.Locate(dir)
	if err != nil {
		if errors.Is(err, service.ErrNoServiceFile) {
			return "", nil, &orchestrator.Error{
				Kind: orchestrator.KindContext,
				Err:  fmt.Errorf("%w: no serverless.yml in %s", orchestrator.ErrNoService, dir),
			}
		}
		return "", nil, err
	}

	bound := make(map[string]*pflag.Flag, len(runFlagKeys))
	for key, name := range runFlagKeys {
		if flag := flags.Lookup(name); flag != nil {
			bound[key] = flag
		}
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:  cfgFile,
		ServiceRoot: dir,
		Flags:       bound,
	})
	if err != nil {
		return "", nil, err
	}

	return path, cfg, nil
}

func newOrchestrator(cfg *config.Config, desc *service.Descriptor, console *logsink.Console) (*orchestrator.Orchestrator, error) {
	emulatorPort, err := config.ParsePort(cfg.Emulator.Port)
	if err != nil {
		return nil, err
	}
	apiPort, err := config.ParsePort(cfg.Gateway.APIPort)
	if err != nil {
		return nil, err
	}
	configPort, err := config.ParsePort(cfg.Gateway.ConfigPort)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}

	installer := install.NewManager(install.Config{
		EmulatorCommand: cfg.Emulator.Command,
		EmulatorPackage: cfg.Emulator.Package,
		NPMCommand:      cfg.Emulator.NPMCommand,
		GatewayPath:     cfg.Gateway.BinaryPath,
		ReleaseURL:      cfg.Gateway.ReleaseURL,
		DownloadURL:     cfg.Gateway.DownloadURL,
	}, install.WithHTTPClient(httpClient))

	supervisor := process.NewSupervisor(process.ExecStarter{Dir: desc.Root}, console, cfg.Gateway.ReadyGrace)
	spawner := &orchestrator.SupervisorSpawner{
		Supervisor: supervisor,
		Commands: map[backend.Kind]orchestrator.Command{
			backend.Emulator: orchestrator.EmulatorCommand(cfg.Emulator.Command, emulatorPort),
			backend.Gateway:  orchestrator.GatewayCommand(cfg.Gateway.BinaryPath, apiPort, configPort, cfg.Gateway.LogLevel),
		},
	}

	return orchestrator.New(orchestrator.Options{
		Descriptor: desc,
		Endpoints: orchestrator.Endpoints{
			EmulatorURL:       cfg.Emulator.URL(),
			EmulatorHealthURL: cfg.Emulator.HealthURL(),
			GatewayHealthURL:  cfg.Gateway.HealthURL(),
		},
		Liveness:  liveness.NewChecker(httpClient),
		Installer: installer,
		Spawner:   spawner,
		Deployer:  client.NewEmulator(cfg.Emulator.URL(), cfg.Emulator.DeployPath, httpClient),
		Registrar: client.NewGateway(cfg.Gateway.ConfigURL(), cfg.Gateway.ConfigPath, httpClient),
	}), nil
}

// reloadOnChange re-reads the service file and redeploys it.
func reloadOnChange(ctx context.Context, orch *orchestrator.Orchestrator, path string) watch.Handler {
	return func(event watch.FileEvent) {
		desc, err := service.Load(path)
		if err != nil {
			log.Error().Err(err).Str("file", event.Name).Msg("Failed to reload service file")
			return
		}

		if err := orch.Reload(ctx, desc); err != nil {
			log.Error().Err(err).Msg("Redeploy failed")
			return
		}

		log.Info().
			Str("file", event.Name).
			Int("functions", len(desc.Functions)).
			Msg("Service redeployed")
	}
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}
