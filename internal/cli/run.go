package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/loadstone/internal/chatrelay"
	"github.com/soyeahso/loadstone/internal/config"
	"github.com/soyeahso/loadstone/internal/game"
	"github.com/soyeahso/loadstone/internal/gateway"
	"github.com/soyeahso/loadstone/internal/hooks"
	"github.com/soyeahso/loadstone/internal/logging"
	"github.com/soyeahso/loadstone/internal/packetqueue"
	"github.com/soyeahso/loadstone/internal/plugin"
	"github.com/soyeahso/loadstone/internal/plugin/script"
	"github.com/soyeahso/loadstone/internal/store"
	"github.com/soyeahso/loadstone/internal/ui"
	"github.com/soyeahso/loadstone/internal/version"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	var (
		serverURL string
		port      int
		noGateway bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the game server and run all plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.Game.ServerURL = serverURL
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating directories: %w", err)
			}

			root, closeLog, err := logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return fmt.Errorf("opening log: %w", err)
			}
			defer closeLog()
			log = root

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, !noGateway)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "override game server URL")
	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().BoolVar(&noGateway, "no-gateway", false, "do not start the control gateway")

	return cmd
}

// run wires the host, plugins and gateway together and blocks until ctx is
// cancelled or a component fails.
func run(ctx context.Context, cfg config.Config, withGateway bool) error {
	log.Info().Str("version", version.Version).Msg("starting loadstone")

	db, err := store.Open(cfg.StorePath(paths), log)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	var lookups *game.Lookups
	if cfg.Game.LookupsFile != "" {
		lookups, err = game.LoadLookups(cfg.Game.LookupsFile)
		if err != nil {
			return fmt.Errorf("loading lookups: %w", err)
		}
	}

	loop := game.NewEventLoop(0)
	reg := hooks.NewRegistry(log)
	engine := game.New(reg, log, game.Options{Executor: loop, Lookups: lookups})
	engine.Socket.SetRecorder(store.NewSessionLog(db))

	overlay := ui.NewManager(log)
	plugins := plugin.NewManager(plugin.Deps{
		Hooks: reg,
		Game:  engine,
		UI:    overlay,
		Store: store.NewSQLiteSettings(db),
		Log:   log,
	})

	queue := packetqueue.New(packetqueue.Options{
		Interval:   time.Duration(cfg.PacketQueue.IntervalMs) * time.Millisecond,
		Continuous: cfg.PacketQueue.Coalesce,
	})
	builtins := []plugin.Plugin{queue}
	if cfg.Relay != nil {
		builtins = append(builtins, chatrelay.New(*cfg.Relay, chatrelay.Options{}))
	}

	scripts, err := script.LoadDir(append([]string{paths.Plugins}, cfg.Plugins.Dirs...), script.Options{})
	if err != nil {
		log.Warn().Err(err).Msg("some script plugins failed to load")
	}
	defer func() {
		for _, s := range scripts {
			s.Close()
		}
	}()
	for _, s := range scripts {
		builtins = append(builtins, s)
	}

	for _, p := range builtins {
		if err := plugins.Register(ctx, p); err != nil {
			log.Error().Err(err).Str("plugin", p.Name()).Msg("plugin registration failed")
		}
	}
	log.Info().Int("plugins", plugins.Count()).Msg("plugins registered")

	// The executor and the game connection outlive ctx so that plugins can
	// still send while they stop.
	hostCtx, stopHost := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHost()

	errCh := make(chan error, 3)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(hostCtx)
	}()

	if cfg.Game.ServerURL != "" {
		header := http.Header{"User-Agent": {version.UserAgent()}}
		transport, err := game.Dial(ctx, cfg.Game.ServerURL, header)
		if err != nil {
			return fmt.Errorf("connecting to game server: %w", err)
		}
		defer transport.Close()
		engine.Socket.SetTransport(transport)
		log.Info().Str("url", cfg.Game.ServerURL).Msg("connected to game server")

		go func() {
			if err := engine.Serve(hostCtx); err != nil {
				errCh <- fmt.Errorf("game connection: %w", err)
			}
		}()
	} else {
		log.Warn().Msg("no game server configured; running without a connection")
	}

	go engine.Loop.Run(ctx, cfg.Game.FPS)

	if withGateway && cfg.Gateway.IsEnabled() {
		srv := gateway.New(cfg.Gateway, log,
			gateway.WithPlugins(plugins),
			gateway.WithEngine(engine),
			gateway.WithPacketQueue(queue),
			gateway.WithUI(overlay),
		)
		go func() {
			if err := srv.Start(ctx); err != nil {
				errCh <- fmt.Errorf("gateway: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("component failed; shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = loop.Call(shutdownCtx, func(context.Context) error {
		plugins.Shutdown(shutdownCtx)
		return nil
	})
	if errors.Is(err, game.ErrLoopStopped) {
		plugins.Shutdown(shutdownCtx)
	} else if err != nil {
		log.Warn().Err(err).Msg("plugin shutdown did not complete")
	}

	stopHost()
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("event loop did not stop in time")
	}

	if runErr != nil {
		return runErr
	}
	log.Info().Msg("loadstone stopped")
	return nil
}
