package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	worker *worker
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: workerRouter(opts), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}

func workerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()
	w := opts.worker

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(rw http.ResponseWriter, r *http.Request) {
		if w == nil || w.store == nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": "storage not wired"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := w.store.Ping(ctx); err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(rw http.ResponseWriter, r *http.Request) {
		if w == nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "worker not wired"})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{
			"poller":  w.poller.Stats(),
			"sweeper": w.sweeper.Stats(),
		})
	})

	r.Get("/config", func(rw http.ResponseWriter, r *http.Request) {
		if w == nil || w.cfg == nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "config not wired"})
			return
		}
		fb := w.cfg.FlightBox
		feeds := make([]map[string]string, 0, len(fb.Feeds))
		for _, f := range fb.Feeds {
			// URL фида может содержать токен, наружу не отдаём.
			feeds = append(feeds, map[string]string{"receiverId": f.ReceiverID, "kind": f.Kind})
		}
		writeJSON(rw, http.StatusOK, map[string]any{
			"pollIntervalSeconds":  fb.WorkerPollIntervalSeconds,
			"concurrency":          fb.WorkerConcurrency,
			"feedRatePerMinute":    fb.WorkerFeedRatePerMinute,
			"backoffSeconds":       []int{fb.WorkerBackoff1Seconds, fb.WorkerBackoff2Seconds, fb.WorkerBackoff3Seconds, fb.WorkerBackoff4Seconds},
			"sweepIntervalSeconds": fb.WorkerSweepIntervalSeconds,
			"idleTimeoutSeconds":   fb.WorkerIdleTimeoutSeconds,
			"sweepBatchSize":       fb.WorkerSweepBatchSize,
			"completionsPerSecond": fb.WorkerCompletionsPerSecond,
			"repair":               fb.WorkerRepair,
			"feeds":                feeds,
		})
	})

	// target: poller, sweeper or both when empty.
	r.Post("/trigger", func(rw http.ResponseWriter, r *http.Request) {
		if w == nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "worker not wired"})
			return
		}
		target := r.URL.Query().Get("target")
		switch target {
		case "":
			w.poller.Trigger()
			w.sweeper.Trigger()
		case "poller":
			w.poller.Trigger()
		case "sweeper":
			w.sweeper.Trigger()
		default:
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown trigger target %q", target)})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"triggered": true, "target": target})
	})

	r.Get("/swagger.json", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Cache-Control", "no-store")
		http.ServeFile(rw, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
