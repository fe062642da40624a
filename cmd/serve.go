package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/report"
	"github.com/sells-group/extract-cli/internal/schema"
	"github.com/sells-group/extract-cli/internal/store"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored records over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg, err := initRegistry("")
		if err != nil {
			return err
		}
		st, err := openStore(ctx, reg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return startServer(ctx, buildRouter(st, reg), resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// buildRouter wires the read-only API over st.
func buildRouter(st store.Store, reg *schema.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := &apiHandler{store: st, registry: reg}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/schemas", h.listSchemas)
		r.Get("/schemas/{name}", h.getSchema)
		r.Get("/records", h.listRecords)
		r.Get("/records/{id}", h.getRecord)
		r.Get("/failures", h.listFailures)
		r.Get("/stats", h.stats)
	})

	r.Get("/report", h.htmlReport)
	r.Get("/report.xlsx", h.xlsxReport)

	return r
}

type apiHandler struct {
	store    store.Store
	registry *schema.Registry
}

func (h *apiHandler) listSchemas(w http.ResponseWriter, _ *http.Request) {
	names := h.registry.Names()
	variants := make([]schema.Variant, 0, len(names))
	for _, name := range names {
		v, err := h.registry.VariantFor(name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		variants = append(variants, v)
	}
	writeJSON(w, http.StatusOK, variants)
}

func (h *apiHandler) getSchema(w http.ResponseWriter, r *http.Request) {
	v, err := h.registry.VariantFor(chi.URLParam(r, "name"))
	if errors.Is(err, schema.ErrUnknownSchema) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *apiHandler) listRecords(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status := model.Outcome(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, eris.Errorf("unknown status %q", status))
		return
	}
	recs, err := h.store.List(r.Context(), store.RecordFilter{
		SchemaName: r.URL.Query().Get("schema"),
		Outcome:    status,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *apiHandler) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *apiHandler) listFailures(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := model.Outcome(r.URL.Query().Get("kind"))
	if kind != "" && !kind.IsFailure() {
		writeError(w, http.StatusBadRequest, eris.Errorf("unknown failure kind %q", kind))
		return
	}
	failures, err := h.store.ListFailures(r.Context(), store.FailureFilter{
		SchemaName: r.URL.Query().Get("schema"),
		Kind:       kind,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if failures == nil {
		failures = []model.FailureReport{}
	}
	writeJSON(w, http.StatusOK, failures)
}

func (h *apiHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *apiHandler) htmlReport(w http.ResponseWriter, r *http.Request) {
	in, err := loadReportInput(r.Context(), h.store, h.registry, r.URL.Query().Get("schema"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.WriteHTML(w, in); err != nil {
		zap.L().Error("write html report", zap.Error(err))
	}
}

func (h *apiHandler) xlsxReport(w http.ResponseWriter, r *http.Request) {
	in, err := loadReportInput(r.Context(), h.store, h.registry, r.URL.Query().Get("schema"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="extractions.xlsx"`)
	if err := report.WriteXLSX(w, in); err != nil {
		zap.L().Error("write xlsx report", zap.Error(err))
	}
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			return 0, 0, eris.Errorf("invalid limit %q", s)
		}
	}
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, eris.Errorf("invalid offset %q", s)
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
