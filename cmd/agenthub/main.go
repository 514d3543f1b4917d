// cmd/agenthub/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"agenthub/internal/api/handlers"
	"agenthub/internal/api/routes"
	"agenthub/internal/config"
	"agenthub/internal/executor"
	"agenthub/internal/monitor"
	"agenthub/internal/reaper"
	"agenthub/internal/storage"
	"agenthub/internal/storage/leveldb"
	"agenthub/internal/storage/postgres"
	"agenthub/internal/ws"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log := newLogger()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize PostgreSQL client
	db, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Initialize LevelDB cache
	cache, err := leveldb.NewClient(cfg.LevelDB, 24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize cache")
	}
	defer cache.Close()

	store := storage.NewStore(db, cache, log)

	// Observer plumbing
	registry := ws.NewRegistry()
	broadcaster := ws.NewBroadcaster(registry, log)

	// External executor client
	executorClient := executor.NewClient(cfg.Executor, log)

	// Execution monitoring
	supervisor := monitor.NewSupervisor(
		store,
		executorClient,
		broadcaster,
		time.Duration(cfg.Monitor.PollInterval)*time.Second,
		log,
	)

	// baseCtx bounds every monitor's lifetime; cancelling it on
	// shutdown tells live monitors to wind their executions down.
	baseCtx, cancelMonitors := context.WithCancel(context.Background())
	defer cancelMonitors()

	// Orphaned execution sweep
	sweep := reaper.New(
		store,
		broadcaster,
		supervisor,
		cfg.Reaper.Schedule,
		time.Duration(cfg.Reaper.StaleThreshold)*time.Minute,
		log,
	)
	if err := sweep.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start reaper")
	}

	verify := tokenVerifier(store)

	router := routes.SetupRouter(routes.Handlers{
		Agents:     handlers.NewAgentHandler(store, executorClient),
		Tools:      handlers.NewToolHandler(store, executorClient),
		Executions: handlers.NewExecutionHandler(baseCtx, store, supervisor, broadcaster, executorClient),
		WebSocket:  handlers.NewWebSocketHandler(registry, verify, cfg.WebSocket.ReadLimit, log),
		Status:     handlers.NewStatusHandler(supervisor, registry),
		Verify:     verify,
	})

	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// WriteTimeout stays unset: websocket connections are
		// long-lived and must not be severed by the server.
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	sweep.Stop()

	// Ask live monitors to finish, then wait for them.
	cancelMonitors()
	if err := supervisor.Shutdown(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("error during supervisor shutdown")
	}

	log.Info().Msg("shutdown complete")
}

func newLogger() zerolog.Logger {
	hostname, _ := os.Hostname()

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "agenthub").
		Str("hostname", hostname).
		Logger()
}

// tokenVerifier resolves observer and API tokens to user ids. Token
// issuance is owned by the deployment's auth service; this default
// accepts a token that names an existing user, which is enough for
// local development and tests.
func tokenVerifier(store *storage.Store) handlers.TokenVerifier {
	return func(token string) (string, error) {
		if token == "" {
			return "", errors.New("missing token")
		}
		user, err := store.GetUser(context.Background(), token)
		if err != nil {
			return "", errors.New("invalid token")
		}
		return user.ID, nil
	}
}
