// Package metrics exposes the Prometheus collectors the gateway,
// multiplexer, orderer and packet logger update as they run. The SDK
// never starts its own HTTP server; embedding applications mount
// Registry.Handler() wherever they already expose metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the collectors a single MetaApi gateway updates.
type Registry struct {
	gatherer prometheus.Gatherer

	ConnectionsActive *prometheus.GaugeVec
	ReconnectsTotal   prometheus.Counter

	RPCLatencySeconds *prometheus.HistogramVec
	RPCErrorsTotal    *prometheus.CounterVec

	PacketsOrdered   prometheus.Counter
	PacketsBuffered  prometheus.Counter
	PacketsRecovered prometheus.Counter

	LogBucketsActive prometheus.Gauge
}

// NewRegistry builds collectors registered against a private
// *prometheus.Registry, so multiple MetaApi instances in the same
// process never collide over duplicate collector names.
func NewRegistry() *Registry {
	return NewRegistryWith(prometheus.NewRegistry())
}

// NewRegistryWith builds collectors registered against reg. reg must
// also implement prometheus.Gatherer (every concrete Registerer the
// client_golang package ships does) for Handler to serve its metrics.
func NewRegistryWith(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	gatherer, _ := reg.(prometheus.Gatherer)
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Registry{
		gatherer: gatherer,
		ConnectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metaapi_gateway_connections_active",
			Help: "Number of accounts with an authenticated gateway connection.",
		}, []string{"accountId"}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "metaapi_gateway_reconnects_total",
			Help: "Total number of successful socket reconnects.",
		}),
		RPCLatencySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metaapi_gateway_rpc_latency_seconds",
			Help:    "RPC round-trip latency by request type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		RPCErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metaapi_gateway_rpc_errors_total",
			Help: "Total number of RPC failures by error kind.",
		}, []string{"kind"}),
		PacketsOrdered: factory.NewCounter(prometheus.CounterOpts{
			Name: "metaapi_gateway_packets_ordered_total",
			Help: "Total number of synchronization packets delivered to listeners.",
		}),
		PacketsBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "metaapi_gateway_packets_buffered_total",
			Help: "Total number of out-of-order packets buffered by the orderer.",
		}),
		PacketsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "metaapi_gateway_packets_recovered_total",
			Help: "Total number of packet-ordering timeouts that forced a resubscribe.",
		}),
		LogBucketsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "metaapi_gateway_log_buckets_active",
			Help: "Number of hourly packet-log bucket directories currently retained.",
		}),
	}
}

// Handler returns an http.Handler exposing the metrics in Prometheus
// exposition format, for the embedding application to mount.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
