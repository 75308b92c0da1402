// Package metrics exposes optional Prometheus counters and gauges for the
// VPN server: connected-client count and per-outcome packet/byte totals.
// This is additive observability, not part of the wire protocol.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// ConnectedClients tracks the number of active client sessions.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tunserve",
		Name:      "connected_clients",
		Help:      "Number of currently connected VPN client sessions.",
	})

	// PacketsRouted counts packets routed by outcome ("delivered" to a
	// client sink, "forwarded_to_tun" to the local TUN device).
	PacketsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tunserve",
		Name:      "packets_routed_total",
		Help:      "Packets processed by the router, labeled by outcome.",
	}, []string{"outcome"})

	// BytesRouted counts bytes routed by outcome, alongside PacketsRouted.
	BytesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tunserve",
		Name:      "bytes_routed_total",
		Help:      "Bytes processed by the router, labeled by outcome.",
	}, []string{"outcome"})
)

// Serve starts an HTTP server exposing /metrics on addr and returns a
// function that shuts it down.
func Serve(addr string, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))

	return func() {
		_ = srv.Shutdown(context.Background())
	}
}
