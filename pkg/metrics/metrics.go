// Package metrics provides Prometheus instrumentation for the node.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BlocksConnected counts blocks appended to the chain.
	BlocksConnected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ccledger_blocks_connected_total",
		Help: "Total number of blocks connected",
	})

	ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ccledger_chain_height",
		Help: "Height of the last connected block",
	})

	// TxsAccepted counts accepted transactions by eval code and payload func.
	TxsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccledger_txs_accepted_total",
		Help: "Transactions accepted into the mempool or a block",
	}, []string{"eval", "func"})

	// TxsRejected counts rejected transactions by eval code and error kind.
	TxsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccledger_txs_rejected_total",
		Help: "Transactions rejected at admission or block connect",
	}, []string{"eval", "kind"})

	MempoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ccledger_mempool_txs",
		Help: "Pending transactions in the mempool",
	})

	// BetsOpened counts bets opened, partitioned by direction.
	BetsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccledger_prices_bets_opened_total",
		Help: "Bets opened",
	}, []string{"direction"})

	// BetsClosed counts bets closed, partitioned by cashout or rekt.
	BetsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccledger_prices_bets_closed_total",
		Help: "Bets closed",
	}, []string{"kind"})

	PoolFunds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ccledger_prices_pool_funds",
		Help: "Funds held in the pool, base units",
	})

	PoolExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ccledger_prices_pool_exposure",
		Help: "Margin committed to open bets, base units",
	})

	// MarkLatency tracks synthetic mark price computation time.
	MarkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ccledger_prices_mark_seconds",
		Help:    "Synthetic mark price computation latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ccledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ccledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ccledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSince records the time elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)

		// route template keeps label cardinality bounded
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
