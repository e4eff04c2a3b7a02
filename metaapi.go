// Package metaapi is a client SDK mirroring a remote MetaTrader-style
// terminal's account state (account information, positions, orders,
// history, symbol specifications, streaming prices) into a local
// replica over a single long-lived multiplexed WebSocket connection,
// with RPC request/response and synchronization event fan-out.
package metaapi

import (
	"time"

	"go.uber.org/zap"

	"github.com/metaapi-go/sdk/internal/metrics"
	"github.com/metaapi-go/sdk/internal/tokeninfo"
	"github.com/metaapi-go/sdk/packetlogger"
)

// MetaApi is the SDK entry point: it holds shared options, a metrics
// registry and a logger, and mints one Connection per account.
type MetaApi struct {
	token   string
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Registry
	packets *packetlogger.Logger
}

// New validates opts, applies defaults, and returns a MetaApi ready to
// open account connections. token is the provisioning/account access
// token sent as the `auth-token` query parameter on every connect.
func New(token string, opts Options, logger *zap.Logger) (*MetaApi, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	info := tokeninfo.Inspect(token)
	if info.Valid {
		now := time.Now()
		if info.Expired(now) {
			logger.Warn("metaapi token is already expired")
		} else if info.NearExpiry(now) {
			logger.Warn("metaapi token is close to expiry", zap.Time("expiry", info.Expiry))
		} else {
			logger.Info("metaapi token inspected", zap.Time("expiry", info.Expiry))
		}
	}

	m := &MetaApi{
		token:   token,
		opts:    opts,
		logger:  logger,
		metrics: metrics.NewRegistry(),
	}
	if opts.PacketLogger.Enabled {
		m.packets = packetlogger.New(packetlogger.Options{
			FileNumberLimit:        opts.PacketLogger.FileNumberLimit,
			LogFileSizeInHours:     opts.PacketLogger.LogFileSizeInHours,
			CompressPrices:         opts.PacketLogger.CompressPrices,
			CompressSpecifications: opts.PacketLogger.CompressSpecifications,
			GzipRotatedBuckets:     opts.PacketLogger.GzipRotatedBuckets,
		}, logger, m.metrics)
	}
	return m, nil
}

// Metrics returns the Prometheus registry this MetaApi instance's
// gateways and support components report to.
func (m *MetaApi) Metrics() *metrics.Registry {
	return m.metrics
}

// Connect creates a Connection for accountID without dialing; call
// Connection.Connect to dial the gateway, subscribe and perform the
// initial synchronize.
func (m *MetaApi) Connect(accountID string) *Connection {
	return newConnection(accountID, m.token, m.opts, m.logger, m.metrics, m.packets)
}

// Close releases shared resources (the packet logger's write queue).
// It does not close any open Connection; call Connection.Close for each
// one first.
func (m *MetaApi) Close() {
	if m.packets != nil {
		m.packets.Close()
	}
}
