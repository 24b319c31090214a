package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/psegsync/psegsync/internal/engine"
	"github.com/psegsync/psegsync/internal/session"
	"github.com/psegsync/psegsync/internal/statistics"
	"github.com/psegsync/psegsync/pkg/log"
	"github.com/psegsync/psegsync/pkg/models"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled collector with an HTTP trigger API",
	Long: `Runs a backfill of the current day every 15 minutes (configurable via
fetch.interval) and exposes an HTTP API for manual triggers:

  POST /api/backfill  {"days_back": N}  run a backfill
  POST /api/refresh                     refresh the session cookie
  GET  /api/status                      session state and latest statistics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8099", "HTTP listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	eng, mgr, store, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    serveAddr,
		Handler: newRouter(eng, mgr, store),
	}
	go func() {
		log.Ctx(ctx).InfoContext(ctx, "trigger API listening", "addr", serveAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Ctx(ctx).ErrorContext(ctx, "http server failed", "error", err)
		}
	}()

	runTick := func() {
		summary, err := eng.RunBackfill(ctx, 0)
		switch {
		case errors.Is(err, engine.ErrBusy):
			log.Ctx(ctx).WarnContext(ctx, "skipping scheduled backfill, previous one still running")
		case err != nil:
			log.Ctx(ctx).ErrorContext(ctx, "scheduled backfill failed", "error", err)
		default:
			log.Ctx(ctx).InfoContext(ctx, "scheduled backfill done",
				"readings", summary.Readings, "points", summary.PointsWritten)
		}
	}

	interval := cfg.GetInterval()
	log.Ctx(ctx).InfoContext(ctx, "collector started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runTick()
	for {
		select {
		case <-ctx.Done():
			// Let any in-flight fetch finish; writes are transactional so
			// an abort never leaves a partial bucket.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "http shutdown", "error", err)
			}
			log.Ctx(ctx).InfoContext(ctx, "collector stopped")
			return nil
		case <-ticker.C:
			runTick()
		}
	}
}

func newRouter(eng *engine.Engine, mgr *session.Manager, store *statistics.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		latest := make(map[string]*models.StatisticPoint)
		for _, period := range models.Periods {
			statID := period.StatisticID()
			point, err := store.LatestPoint(statID)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			latest[statID] = point
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session":    mgr.Current(),
			"statistics": latest,
		})
	})

	r.Post("/api/backfill", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			DaysBack int `json:"days_back"`
		}
		// An empty body means days_back 0
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.DaysBack < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days_back must be >= 0"})
			return
		}

		summary, err := eng.RunBackfill(req.Context(), body.DaysBack)
		if errors.Is(err, engine.ErrBusy) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a backfill is already running"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	r.Post("/api/refresh", func(w http.ResponseWriter, req *http.Request) {
		sess, err := mgr.Refresh(req.Context(), "http trigger")
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":   err.Error(),
				"session": sess,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
