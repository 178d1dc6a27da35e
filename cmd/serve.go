package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/monitoring"
	"github.com/sells-group/devcarbon/internal/store"
)

var servePort int

const (
	// maxEstimateBody caps POST /v1/estimate request bodies.
	maxEstimateBody = 1 << 20

	statusLookbackHours = 24
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operational HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, cfg, envOptions{mode: "serve", persistViaBus: true})
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the operational endpoints onto a chi router.
func buildRouter(env *carbonEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/breakers", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, env.Breakers.Snapshot())
		})

		r.Get("/cache", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, env.Cache.Stats())
		})

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			snap, err := env.Collector.Collect(r.Context(), statusLookbackHours)
			if err != nil {
				zap.L().Error("collect status failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		r.Get("/factors/{country}", func(w http.ResponseWriter, r *http.Request) {
			region := model.Region{
				Country:       chi.URLParam(r, "country"),
				StateProvince: r.URL.Query().Get("state"),
			}.Normalize()
			if !model.IsCountryCode(region.Country) {
				writeError(w, http.StatusBadRequest, "country must be an ISO-3166 alpha-2 code")
				return
			}
			writeJSON(w, http.StatusOK, env.Resolver.Resolve(r.Context(), region))
		})

		r.Post("/estimate", func(w http.ResponseWriter, r *http.Request) {
			var a model.Activity
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEstimateBody)).Decode(&a); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			result, err := env.Calculator.Calculate(r.Context(), a)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Get("/results/{id}", func(w http.ResponseWriter, r *http.Request) {
			if env.Store == nil {
				writeError(w, http.StatusNotFound, "no store configured")
				return
			}
			result, err := env.Store.GetResult(r.Context(), chi.URLParam(r, "id"))
			switch {
			case eris.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "result not found")
			case err != nil:
				zap.L().Error("get result failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
			default:
				writeJSON(w, http.StatusOK, result)
			}
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
