package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ruleflow/engine/internal/config"
	"github.com/ruleflow/engine/internal/engine"
	"github.com/ruleflow/engine/internal/observability"
	"github.com/ruleflow/engine/internal/resultstore"
	"github.com/ruleflow/engine/pkg/value"
)

// writerOrNil avoids the typed-nil-interface trap: a nil *SQLWriter boxed
// directly into resultstore.Writer would make engine.New's "writer != nil"
// check true even when no result store was configured.
func writerOrNil(w *resultstore.SQLWriter) resultstore.Writer {
	if w == nil {
		return nil
	}
	return w
}

// newServeCmd builds the long-running HTTP surface: POST /v1/decide,
// GET /healthz, POST /v1/reload and GET /metrics, grounded on the teacher's
// stdlib-mux-plus-graceful-shutdown main loop (cmd/betrace-backend/main.go)
// generalized from the span/violation REST surface to the decision engine's
// boundary operations (spec.md §6).
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the decision engine's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

type server struct {
	eng *engine.Engine
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTracing := observability.InitOpenTelemetryOrNoop(ctx, "ruleflow-engine", version)
	defer shutdownTracing(context.Background())

	if err := observability.InitMetrics(); err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	repo, closeRepo, err := buildRepository(ctx, cfg.Repository)
	if err != nil {
		return err
	}
	defer closeRepo()

	featureEngine, closeFeatures, err := buildFeatureEngine(cfg.Features)
	if err != nil {
		return err
	}
	defer closeFeatures()

	lists, err := buildListService(ctx, cfg.Lists)
	if err != nil {
		return err
	}

	llm := buildLLMClient(cfg.LLM)
	svc := buildServiceClient(cfg.Services)

	writer, err := buildResultWriter(ctx, cfg.ResultStore)
	if err != nil {
		return err
	}
	if writer != nil {
		defer writer.Close()
	}

	eng, err := buildEngine(ctx, cfg, repo, featureEngine, lists, llm, svc, writerOrNil(writer))
	if err != nil {
		return err
	}

	srv := &server{eng: eng}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("POST /v1/decide", srv.handleDecide)
	mux.HandleFunc("POST /v1/reload", srv.handleReload)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := withLogging(mux)

	httpSrv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:        handler,
		ReadTimeout:    time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(cfg.HTTP.IdleTimeout) * time.Second,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		observability.Info(ctx, "ruleflow-engine %s listening on %s", version, httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Error(ctx, "http server error: %v", err)
		}
	}()

	<-stop
	observability.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout)*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.eng.State().String(),
	})
}

// decideRequestBody is the wire shape for POST /v1/decide (spec.md §6):
// every namespace DecideRequest accepts up-front, plus the trace opt-in.
type decideRequestBody struct {
	Event       value.Value `json:"event"`
	User        value.Value `json:"user"`
	API         value.Value `json:"api"`
	Vars        value.Value `json:"vars"`
	Environment string      `json:"environment"`
	EnableTrace bool        `json:"enable_trace"`
}

func (s *server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var body decideRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if body.Event.IsNull() {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "event is required"})
		return
	}

	resp, err := s.eng.Decide(r.Context(), engine.DecideRequest{
		Event:       body.Event,
		User:        body.User,
		API:         body.API,
		Vars:        body.Vars,
		Environment: body.Environment,
		EnableTrace: body.EnableTrace,
	})
	if err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Reload(r.Context()); err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "reloaded",
		"state":  s.eng.State().String(),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.LogResponse(r.Context(), r.Method, r.URL.Path, rec.status, time.Since(started))
	})
}
