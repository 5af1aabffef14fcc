package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/Iron-Ham/concord/internal/config"
	"github.com/Iron-Ham/concord/internal/contextstore"
	"github.com/Iron-Ham/concord/internal/debate"
	"github.com/Iron-Ham/concord/internal/event"
	"github.com/Iron-Ham/concord/internal/pool"
	"github.com/Iron-Ham/concord/internal/server"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API over HTTP",
	Long: `Serve starts the HTTP run API. Each run gets its own client pool built
from the configuration current when the run starts; edits to the config
file apply to the next run without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default from config)")
}

// liveConfig is the configuration a new run starts with. It follows the
// config file while serving; an invalid edit keeps the previous value.
type liveConfig struct {
	current atomic.Pointer[config.Config]
}

func (l *liveConfig) Get() *config.Config { return l.current.Load() }

func (l *liveConfig) watch(a *app) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := config.Load()
		if err != nil {
			a.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err.Error())
			return
		}
		l.current.Store(cfg)
		a.logger.Info("config reloaded", "file", e.Name)
	})
	viper.WatchConfig()
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if cmd.Flags().Changed("addr") {
		addr, _ = cmd.Flags().GetString("addr")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := contextstore.New(ctx, a.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	live := &liveConfig{}
	live.current.Store(a.cfg)
	live.watch(a)

	factory := func(ctx context.Context) (server.Runner, func(), error) {
		cfg := live.Get()
		bus := event.NewBus(a.logger)
		p, err := a.newPool(ctx, cfg, bus)
		if err != nil {
			return nil, nil, err
		}
		orch := debate.New(p, store, a.debateOptions(cfg, bus)...)
		return orch, func() { _ = p.Close() }, nil
	}

	srv := server.New(factory,
		server.WithHealth(func(ctx context.Context) (map[string]pool.Health, error) {
			return a.checkHealth(ctx, live.Get())
		}),
		server.WithReports(store),
		server.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		server.WithLogger(a.logger),
	)

	fmt.Fprintf(cmd.ErrOrStderr(), "%s listening on %s\n", titleStyle.Render("concord"), addr)
	return srv.ListenAndServe(ctx, addr)
}
