package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mcdev12/focusroom/internal/config"
	"github.com/mcdev12/focusroom/internal/gateway"
	"github.com/mcdev12/focusroom/internal/reaper"
	"github.com/mcdev12/focusroom/internal/store"
	"github.com/mcdev12/focusroom/internal/store/memstore"
	"github.com/mcdev12/focusroom/internal/store/pgstore"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up store")
	}
	defer cleanup()

	clock := clockwork.NewRealClock()
	handler := gateway.NewHandler(st, clock, gateway.DefaultConfig())

	rp := reaper.New(st, clock, handler.InSession)
	rp.Start(ctx)
	defer rp.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      cors.AllowAll().Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket writes manage their own deadlines
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("backend", cfg.Backend).Msg("focusroom daemon starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	log.Info().Msg("focusroom daemon shutdown complete")
}

// buildStore constructs the configured backend. The returned cleanup
// closes any owned connections.
func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.New(), func() {}, nil

	case config.BackendPostgres:
		db, err := sql.Open("pgx", cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Error().Err(err).Msg("NATS disconnected")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			}),
		)
		if err != nil {
			db.Close()
			return nil, nil, err
		}

		st, err := pgstore.New(ctx, db, nc, pgstore.DefaultConfig())
		if err != nil {
			nc.Close()
			db.Close()
			return nil, nil, err
		}
		cleanup := func() {
			nc.Close()
			db.Close()
		}
		return st, cleanup, nil

	default:
		return memstore.New(), func() {}, nil
	}
}
