package serve

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lithammer/shortuuid/v4"
	"github.com/spf13/cobra"

	"github.com/OpenSeneca/squadwatch/pkg/alerts"
	"github.com/OpenSeneca/squadwatch/pkg/broadcast"
	"github.com/OpenSeneca/squadwatch/pkg/config"
	"github.com/OpenSeneca/squadwatch/pkg/db"
	"github.com/OpenSeneca/squadwatch/pkg/logger"
	"github.com/OpenSeneca/squadwatch/pkg/metrics"
	"github.com/OpenSeneca/squadwatch/pkg/monitor"
	monitorhttp "github.com/OpenSeneca/squadwatch/pkg/monitor/http"
	"github.com/OpenSeneca/squadwatch/pkg/remote"
	"github.com/OpenSeneca/squadwatch/pkg/vault"
)

const shutdownTimeout = 10 * time.Second

// Command creates the serve command, which runs the monitoring scheduler,
// the vault scanner, and the HTTP API in one process.
func Command(log *logger.Logger) *cobra.Command {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the monitoring server",
		Long: `Start the node monitor and its HTTP API.
For example:
  squadwatch serve --config squadwatch.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("could not load config: %w", err)
			}
			return run(cfg)
		},
	}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "squadwatch.yaml", "path to the configuration file")
	return serveCmd
}

func run(cfg *config.Config) error {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("could not build logger: %w", err)
	}
	// Run ID ties log lines from one process lifetime together across restarts.
	log = log.With("run", shortuuid.New())

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer database.Close()

	store := metrics.NewStore(database, log.Named("metrics"))
	broadcaster := broadcast.New(log.Named("broadcast"), broadcast.DefaultQueueSize)
	defer broadcaster.Close()

	var alerter monitor.Alerter = monitor.NopAlerter{}
	if cfg.Alerts.Enabled {
		alerter = alerts.NewService(cfg.Alerts, log.Named("alerts"))
	}

	executor := remote.NewSSHExecutor(log.Named("ssh"))
	prober := monitor.NewProber(executor, "", cfg.PerNodeTimeout(), log.Named("prober"))

	monitorCfg := monitor.DefaultConfig()
	monitorCfg.RoundInterval = cfg.RoundInterval()
	monitorCfg.PerNodeTimeout = cfg.PerNodeTimeout()
	monitorCfg.FailureThreshold = cfg.Alerts.FailureThreshold

	nodes := make([]monitor.Node, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		nodes = append(nodes, monitor.Node{
			ID:           n.ID,
			Name:         n.Name,
			Address:      n.Address,
			User:         n.User,
			IdentityFile: n.IdentityFile,
		})
	}

	scheduler := monitor.NewScheduler(monitorCfg, nodes, prober, store, broadcaster, alerter, log.Named("scheduler"))

	scanner := vault.NewScanner(cfg.Vault.RecentFiles)
	vaultService := vault.NewService(scanner, cfg.Vault.Paths, cfg.Vault.ScanSchedule, store, broadcaster, log.Named("vault"))
	if err := vaultService.Start(); err != nil {
		return err
	}
	defer vaultService.Stop()

	handler := monitorhttp.NewHandler(store, broadcaster, cfg.MetricsWindow(), log.Named("http"))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Route("/api/v1", handler.RegisterRoutes)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: r,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("monitoring started",
			"nodes", len(nodes),
			"roundInterval", cfg.RoundInterval().String())
		if err := scheduler.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		log.Info("server listening", "address", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errCh:
		log.Error("fatal error, shutting down", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown was not clean", "error", err)
	}

	return runErr
}
