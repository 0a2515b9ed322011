package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/FalcoGer/pmp/internal/obs"
	"github.com/FalcoGer/pmp/internal/relay"
	"github.com/FalcoGer/pmp/internal/store"
	"github.com/FalcoGer/pmp/internal/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsMux serves Prometheus metrics, the session state API, an HTML
// dashboard and the health probes.
func newMetricsMux(reg *relay.Registry, st store.Store) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collectStats(reg, st))
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := web.Render(w, "dashboard", collectStats(reg, st).ToTemplateMap()); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if st.IsClosing() || !st.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

func startMetricsServer(addr string, reg *relay.Registry, st store.Store) *http.Server {
	srv := &http.Server{Addr: addr, Handler: newMetricsMux(reg, st)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
		}
	}()
	return srv
}
