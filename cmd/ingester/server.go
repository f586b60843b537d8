package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/ohlcv-ingest/internal/config"
	"github.com/rickgao/ohlcv-ingest/internal/ingest"
	"github.com/rickgao/ohlcv-ingest/internal/metrics"
	"github.com/rickgao/ohlcv-ingest/internal/poller"
)

// runDaemon reruns ingestion on the configured schedule and serves health and
// metrics until ctx is cancelled.
func runDaemon(ctx context.Context, cfg *config.Config, orch *ingest.Orchestrator, be *backend, m *metrics.Metrics, logger *slog.Logger) error {
	p := poller.New(
		poller.Config{Interval: cfg.Ingest.ScheduleInterval},
		orch,
		poller.SummaryHandlerFunc(func(s *ingest.Summary) {
			logger.Info("scheduled run complete",
				"run_id", s.RunID,
				"rows_written", s.RowsWritten(),
				"failed", s.Count(ingest.StateFailed),
			)
		}),
		logger,
	)

	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(cfg.Metrics.Path, orch, p, be, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "addr", addr, "metrics_path", cfg.Metrics.Path)
		return serve(gCtx, srv)
	})

	g.Go(func() error {
		if err := p.Start(gCtx); err != nil {
			return err
		}
		<-gCtx.Done()

		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stopErr := p.Stop(shutdownCtx)
		return errors.Join(stopErr, srv.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func serve(ctx context.Context, srv *http.Server) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return err
	}
	if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type pairHealth struct {
	Pair  string       `json:"pair"`
	State ingest.State `json:"state"`
	// Active is true while a run is working on the pair.
	Active bool `json:"active"`
}

type healthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
	Pairs      []pairHealth   `json:"pairs"`
	LastRun    *runHealth     `json:"last_run,omitempty"`
}

type runHealth struct {
	ID          string    `json:"id"`
	Finished    time.Time `json:"finished"`
	RowsWritten int       `json:"rows_written"`
	Failed      int       `json:"failed"`
}

// newHandler serves /healthz and the Prometheus endpoint.
func newHandler(metricsPath string, orch *ingest.Orchestrator, p *poller.Poller, be *backend, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := be.ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["storage"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["storage"] = "connected"
		}

		states := orch.States()
		for _, pair := range orch.Pairs() {
			st := states[pair.Key()]
			health.Pairs = append(health.Pairs, pairHealth{
				Pair:   pair.Key().String(),
				State:  st,
				Active: st != ingest.StateIdle && !st.Terminal(),
			})
		}

		if s := p.LastSummary(); s != nil {
			health.LastRun = &runHealth{
				ID:          s.RunID,
				Finished:    s.Finished,
				RowsWritten: s.RowsWritten(),
				Failed:      s.Count(ingest.StateFailed),
			}
			if health.Status == "healthy" && health.LastRun.Failed > 0 {
				health.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
