// Command server runs the office-hours queue HTTP API.
//
// Startup order matters: configuration and logging first, then storage
// (SQLite + migrations), then in-memory state rebuilt from storage (waiting
// queues and the similarity index), then the HTTP router and the listener.
// Shutdown is the reverse: stop accepting requests, drain in-flight ones,
// flush traces, close the database.
//
// @title        Office Hours Queue API
// @version      1.0
// @description  Ticket lifecycle and per-course help queues for office hours.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/coursekit/go-officehours-backend/docs"
	"github.com/coursekit/go-officehours-backend/internal/config"
	httpapi "github.com/coursekit/go-officehours-backend/internal/http"
	"github.com/coursekit/go-officehours-backend/internal/notify"
	"github.com/coursekit/go-officehours-backend/internal/observability"
	"github.com/coursekit/go-officehours-backend/internal/queue"
	"github.com/coursekit/go-officehours-backend/internal/repo"
	"github.com/coursekit/go-officehours-backend/internal/similarity"
	"github.com/coursekit/go-officehours-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless OTEL_ENABLED).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Storage.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	// Rebuild the in-memory waiting queues from persisted queued tickets.
	// Persisted created_at order reproduces the original call order.
	q := queue.NewManager()
	courses, err := repo.ListQueuedCourses(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("list queued courses failed")
	}
	recovered := 0
	for _, courseID := range courses {
		tickets, err := repo.ListQueuedByCourse(ctx, db, courseID)
		if err != nil {
			log.Fatal().Err(err).Str("course_id", courseID).Msg("queue recovery failed")
		}
		for i := range tickets {
			if err := q.Enqueue(courseID, tickets[i].ID, tickets[i].CreatedAt); err != nil {
				log.Warn().Err(err).Str("ticket_id", tickets[i].ID).Msg("skipping ticket during queue recovery")
				continue
			}
			recovered++
		}
	}

	// Warm the similarity index from closed tickets.
	idx := similarity.NewJaccardIndex(
		similarity.WithMaxResults(cfg.SimilarLimit),
		similarity.WithMinScore(cfg.SimilarMinScore),
	)
	closed, err := repo.ListClosedTickets(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("similarity warm-up failed")
	}
	idx.Warm(closed)

	log.Info().
		Int("queued_tickets", recovered).
		Int("queued_courses", len(courses)).
		Int("indexed_tickets", len(closed)).
		Msg("state recovered")

	broker := notify.NewBroker(cfg.EventBuffer)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, q, idx, broker, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}
