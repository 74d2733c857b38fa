package main

import (
	"bufio"
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poshub/internal/api"
	"poshub/internal/metrics"
)

func main() {
	srvDeps, err := api.NewServer()
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	mux := http.NewServeMux()

	// Webhook endpoints
	mux.HandleFunc("/v1/webhooks/endpoints", srvDeps.EndpointsHandler)
	mux.HandleFunc("/v1/webhooks/endpoints/", srvDeps.EndpointByIDHandler)

	// Dispatch and retries
	mux.HandleFunc("/v1/webhooks/dispatch", srvDeps.DispatchHandler)
	mux.HandleFunc("/v1/webhooks/retries/sweep", srvDeps.RetrySweepHandler)

	// Deliveries
	mux.HandleFunc("/v1/webhooks/deliveries", srvDeps.DeliveriesHandler)
	mux.HandleFunc("/v1/webhooks/deliveries/stream", srvDeps.DeliveriesStreamHandler)
	mux.HandleFunc("/v1/webhooks/deliveries/", srvDeps.DeliveryByIDHandler) // includes /verify

	// Integration clients
	mux.HandleFunc("/v1/integration-clients", srvDeps.ClientsHandler)
	mux.HandleFunc("/v1/integration-clients/", srvDeps.ClientByIDHandler) // includes /rotate, /kill-switch, /verify-token

	// Admin
	mux.HandleFunc("/v1/admin/flags", srvDeps.FlagsHandler)
	mux.HandleFunc("/v1/admin/audit", srvDeps.AuditHandler)
	mux.HandleFunc("/v1/admin/breakers", srvDeps.BreakersHandler)

	// Health
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.HandleFunc("/v1/admin/debug", srvDeps.DebugJSON)

	// Prometheus
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(api.RateLimitMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", addr)
	startRetrySweeper(srvDeps)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// startRetrySweeper re-attempts due deliveries in the background. Disabled
// when RETRY_SWEEP_INTERVAL is "off"; defaults to 30s.
func startRetrySweeper(s *api.Server) {
	raw := os.Getenv("RETRY_SWEEP_INTERVAL")
	if raw == "off" {
		return
	}
	interval := 30 * time.Second
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			interval = d
		}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			tenants, err := s.Store.ListTenantsWithDueDeliveries(ctx, time.Now())
			if err != nil {
				log.Printf("retry sweep: list tenants: %v", err)
				cancel()
				continue
			}
			for _, t := range tenants {
				if _, err := s.Dispatcher.RetryDue(ctx, t, "sweeper"); err != nil {
					log.Printf("retry sweep: tenant %s: %v", t, err)
				}
			}
			cancel()
		}
	}()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack keeps the WebSocket upgrade working through the wrapper.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
	})
}
