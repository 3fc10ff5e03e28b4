/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the procurement server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment (config.Load), apply flag overrides
  2. Initialize SQLite store
  3. Optionally switch request numbering to Redis
  4. Build the notification pipeline (log, optionally RabbitMQ) behind a queue
  5. Create the service, handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain the notification queue
  4. Close database connection

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/utdesign/procurement-engine/api"
	"github.com/utdesign/procurement-engine/config"
	"github.com/utdesign/procurement-engine/notify"
	"github.com/utdesign/procurement-engine/procurement"
	"github.com/utdesign/procurement-engine/store/redis"
	"github.com/utdesign/procurement-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides APP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	log := cfg.Logger(os.Stderr)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	opts := []procurement.Option{
		procurement.WithLogger(log.With().Str("component", "procurement").Logger()),
		procurement.WithPendingPolicy(cfg.PendingPolicy),
	}

	if cfg.RedisAddr != "" {
		client, err := redis.Dial(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TLS:      cfg.RedisTLS,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		seq := redis.NewSequence(client, redis.DefaultKey)
		floor, err := store.MaxRequestNumber(ctx)
		if err != nil {
			return fmt.Errorf("reading request numbers: %w", err)
		}
		if err := seq.Seed(ctx, floor); err != nil {
			return err
		}
		opts = append(opts, procurement.WithSequencer(seq))
		log.Info().Str("addr", cfg.RedisAddr).Int64("floor", floor).Msg("request numbers from redis")
	}

	sinks := notify.Multi{notify.NewLogger(log.With().Str("component", "notify").Logger())}
	if cfg.AMQPURL != "" {
		sinks = append(sinks, notify.NewPublisher(cfg.AMQPURL, cfg.AMQPQueue))
		log.Info().Str("queue", cfg.AMQPQueue).Msg("publishing notifications to rabbitmq")
	}
	queue := notify.NewQueue(sinks, cfg.NotifyBuffer, log)
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		queue.Run(context.Background())
	}()
	opts = append(opts, procurement.WithNotifier(queue))

	svc := procurement.NewService(store, opts...)
	handler := api.NewHandler(svc, log, store.Ping)
	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:   []byte(cfg.JWTSecret),
		CORSOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		queue.Close()
		<-queueDone
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	queue.Close()
	<-queueDone
	log.Info().Msg("server stopped")
	return nil
}
