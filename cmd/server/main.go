package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/citytransit/realtime-core/graph"
	"github.com/citytransit/realtime-core/internal/applog"
	"github.com/citytransit/realtime-core/internal/bootstrap"
)

var rootCmd = &cobra.Command{
	Use:          "realtime-core",
	Short:        "City transit realtime core",
	Long:         "Runs the simulated-bus realtime transit core: websocket channels, route planning, and notifications",
	SilenceUsage: true,
}

var (
	postgresConnStr string
	redisAddr       string
	redisPassword   string
	redisDB         int
	jwtSecret       string
	pushHeaders     []string
	simulationSeed  int64
	listenAddr      string
	logLevel        string
	logFormat       string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&postgresConnStr, "postgres", "", "", "Postgres connection string (empty uses an in-memory store)")
	rootCmd.PersistentFlags().StringVarP(&redisAddr, "redis-addr", "", "", "Redis address (empty uses an in-memory cache)")
	rootCmd.PersistentFlags().StringVarP(&redisPassword, "redis-password", "", "", "Redis password")
	rootCmd.PersistentFlags().IntVarP(&redisDB, "redis-db", "", 0, "Redis logical database")
	rootCmd.PersistentFlags().StringVarP(&jwtSecret, "jwt-secret", "", "", "HMAC secret for connection tokens")
	rootCmd.PersistentFlags().StringSliceVarP(&pushHeaders, "push-header", "", []string{}, "Push provider HTTP header, form <key>:<value>")
	rootCmd.PersistentFlags().Int64VarP(&simulationSeed, "simulation-seed", "", 0, "Deterministic RNG seed for the bus simulation")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "", "console", "Log format (console, json)")

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8080", "HTTP/websocket listen address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(graphCmd)
	graphCmd.AddCommand(graphRebuildCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

func config() (bootstrap.Config, error) {
	headers, err := parseHeaders(pushHeaders)
	if err != nil {
		return bootstrap.Config{}, fmt.Errorf("invalid push header: %w", err)
	}
	return bootstrap.Config{
		PostgresConnStr: postgresConnStr,
		RedisAddr:       redisAddr,
		RedisPassword:   redisPassword,
		RedisDB:         redisDB,
		JWTSecret:       jwtSecret,
		PushHeaders:     headers,
		SimulationSeed:  simulationSeed,
		ListenAddr:      listenAddr,
		LogLevel:        logLevel,
		LogFormat:       logFormat,
	}, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the realtime server: simulation tick, websocket channels, route planning HTTP endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config()
		if err != nil {
			return err
		}
		log := applog.New(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

		app, err := bootstrap.Wire(cfg, log)
		if err != nil {
			return fmt.Errorf("wiring app: %w", err)
		}
		if err := app.Start(cmd.Context()); err != nil {
			return fmt.Errorf("starting app: %w", err)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- app.Serve(listenAddr) }()
		log.Info().Str("addr", listenAddr).Msg("serve: listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("serve: shutting down")
			if err := app.Shutdown(); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		}
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Seed simulated buses onto declared routes and print the initial tick",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config()
		if err != nil {
			return err
		}
		log := applog.New(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

		app, err := bootstrap.Wire(cfg, log)
		if err != nil {
			return fmt.Errorf("wiring app: %w", err)
		}
		if err := app.Sim.Seed(); err != nil {
			return fmt.Errorf("seeding simulation: %w", err)
		}
		log.Info().Msg("simulate: seeded simulated buses across declared routes")
		return nil
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Route graph maintenance",
}

var graphRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the stop/edge graph from declared routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config()
		if err != nil {
			return err
		}
		log := applog.New(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

		app, err := bootstrap.Wire(cfg, log)
		if err != nil {
			return fmt.Errorf("wiring app: %w", err)
		}
		routes, err := app.Store.ListRoutes()
		if err != nil {
			return fmt.Errorf("listing routes: %w", err)
		}
		if err := graph.Build(app.Store, routes); err != nil {
			return fmt.Errorf("rebuilding graph: %w", err)
		}
		log.Info().Int("routes", len(routes)).Msg("graph rebuild: done")
		return nil
	},
}
