package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WatchPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fleetsnipe_watch_polls_total", Help: "Readiness polls issued, by watcher gate"},
		[]string{"gate"},
	)
	RPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fleetsnipe_rpc_errors_total", Help: "Transient RPC errors swallowed by retry loops"},
		[]string{"op"},
	)
	Transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fleetsnipe_transfers_total", Help: "Funding transfers sent, by kind"},
		[]string{"kind"},
	)
	SwapsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fleetsnipe_swaps_submitted_total", Help: "Swap transactions broadcast"},
	)
	SwapsConfirmed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fleetsnipe_swaps_confirmed_total", Help: "Swap transactions mined successfully"},
	)
	Phase = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "fleetsnipe_phase", Help: "Pipeline phase: 0 idle, 1 funding, 2 watching, 3 firing, 4 done"},
	)
)

func init() {
	prometheus.MustRegister(WatchPolls, RPCErrors, Transfers, SwapsSubmitted, SwapsConfirmed, Phase)
}

// Serve exposes /metrics on addr in the background. Callers shut the server
// down themselves; an empty addr should be handled by not calling Serve.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
