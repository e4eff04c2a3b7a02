// Package transport dials the MetaApi streaming gateway over a
// WebSocket, restores packet ordering, correlates RPCs, and fans
// synchronization packets out to registered listeners (spec.md S4.4,
// S4.5, S4.6, components C5/C6).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apierrors "github.com/metaapi-go/sdk/errors"
	"github.com/metaapi-go/sdk/internal/metrics"
	"github.com/metaapi-go/sdk/orderer"
	"github.com/metaapi-go/sdk/packetlogger"
	"github.com/metaapi-go/sdk/packets"
	"github.com/metaapi-go/sdk/rpc"
)

// State is the gateway connection's lifecycle stage (spec.md S4.4).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Config configures a single account's gateway connection.
type Config struct {
	Domain      string
	Token       string
	AccountID   string
	Application string

	RequestTimeout        time.Duration
	PacketOrderingTimeout time.Duration
	ReconnectMinDelay     time.Duration
	ReconnectMaxDelay     time.Duration
	// ConnectTimeout bounds a single dial attempt (initial connect and
	// every reconnect); a hung TCP handshake gives up after this and the
	// caller retries rather than blocking forever (spec.md S4.5).
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = rpc.DefaultTimeout
	}
	if c.PacketOrderingTimeout <= 0 {
		c.PacketOrderingTimeout = orderer.DefaultTimeout
	}
	if c.ReconnectMinDelay <= 0 {
		c.ReconnectMinDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 60 * time.Second
	}
	return c
}

// frame is the wire envelope every message, inbound or outbound, is
// wrapped in: {"event": "...", "data": ...}.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// inboundError is the shape of a processingError frame's data.
type inboundError struct {
	RequestID string `json:"requestId"`
	apierrors.WireDescriptor
}

// Gateway owns one account's WebSocket connection, reconnecting with
// backoff until Close is called.
type Gateway struct {
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Registry
	orderer   *orderer.Orderer
	mux       *rpc.Multiplexer
	packetLog *packetlogger.Logger
	dialer    *websocket.Dialer
	limiter   *rate.Limiter

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	listeners []packets.SynchronizationListener

	writeMu sync.Mutex

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}
	recoverCh chan orderer.Recovery
	reconnCh  chan struct{}

	// testScheme overrides the dial scheme in tests, which talk to a
	// plaintext httptest server instead of the real wss:// gateway.
	testScheme string
}

// New creates a Gateway. metricsRegistry and packetLog may be nil.
func New(cfg Config, logger *zap.Logger, metricsRegistry *metrics.Registry, packetLog *packetlogger.Logger) *Gateway {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:       cfg,
		logger:    logger,
		metrics:   metricsRegistry,
		orderer:   orderer.New(cfg.PacketOrderingTimeout, logger, metricsRegistry),
		mux:       rpc.New(cfg.RequestTimeout, logger, metricsRegistry),
		packetLog: packetLog,
		dialer:    websocket.DefaultDialer,
		limiter:   rate.NewLimiter(rate.Every(cfg.ReconnectMinDelay), 1),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
		recoverCh: make(chan orderer.Recovery, 16),
		reconnCh:  make(chan struct{}, 1),
	}
	go g.forwardRecoveries()
	return g
}

// AddListener registers a listener to receive dispatched packets. Not
// safe to call concurrently with packet delivery; register listeners
// before Connect.
func (g *Gateway) AddListener(l packets.SynchronizationListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

// RemoveListener is a documented no-op: the gateway never supports
// detaching a listener mid-stream, since a listener can be in the
// middle of an OnX call on the single read-loop goroutine when the
// request to remove it arrives, and there is no safe point to splice
// the slice without a second lock taken on every dispatch. Callers that
// need to stop reacting to events should make their listener's methods
// check their own "stopped" flag instead.
func (g *Gateway) RemoveListener(packets.SynchronizationListener) {
	g.logger.Debug("RemoveListener is a no-op; listeners live for the gateway's lifetime")
}

// SetTestDialScheme overrides the dial scheme and disables the
// mt-client-api-v1 host prefix, so tests can point a Gateway at a
// plaintext httptest server instead of the real wss:// gateway. Not
// meant for production use.
func (g *Gateway) SetTestDialScheme(scheme string) {
	g.testScheme = scheme
}

// State returns the gateway's current lifecycle stage.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Recovered surfaces per-account packet-ordering recoveries; a Recovery
// should trigger a resubscribe+resynchronize for its AccountID (spec.md
// S9 Open Question, resolved: subscribe and synchronize together).
func (g *Gateway) Recovered() <-chan orderer.Recovery {
	return g.recoverCh
}

// Reconnected fires once each time the socket redials successfully
// after being disconnected (not on the initial Connect). A Connection
// is expected to reissue subscribe then synchronize with a fresh syncId
// on every firing (spec.md S4.8).
func (g *Gateway) Reconnected() <-chan struct{} {
	return g.reconnCh
}

// Connect dials once, blocking until the handshake completes or ctx is
// done, then hands the connection to a background loop that keeps
// reconnecting with backoff until Close is called.
func (g *Gateway) Connect(ctx context.Context) error {
	g.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, g.cfg.ConnectTimeout)
	defer cancel()
	conn, err := g.dial(dialCtx)
	if err != nil {
		g.setState(StateDisconnected)
		return fmt.Errorf("dial gateway: %w", err)
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	g.setState(StateConnected)
	if g.metrics != nil {
		g.metrics.ConnectionsActive.WithLabelValues(g.cfg.AccountID).Set(1)
	}

	go g.runLoop(conn)
	return nil
}

// Close tears down the connection and stops reconnecting.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		close(g.closeCh)
		g.setState(StateClosed)
		g.mu.Lock()
		conn := g.conn
		g.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		g.orderer.Close()
		g.mux.TeardownAll(apierrors.NewConnectionClosed())
		<-g.doneCh
	})
	return nil
}

// Send writes an RPC request frame to the wire.
func (g *Gateway) Send(req rpc.Request) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return apierrors.NewConnectionClosed()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return conn.WriteJSON(frame{Event: "request", Data: data})
}

// RPC sends req and waits for its matching response or error.
func (g *Gateway) RPC(ctx context.Context, req rpc.Request, timeout time.Duration) (json.RawMessage, error) {
	return g.mux.Do(ctx, req, timeout, g.Send)
}

func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, error) {
	scheme := g.testScheme
	if scheme == "" {
		scheme = "wss"
	}
	host := g.cfg.Domain
	if g.testScheme == "" {
		host = fmt.Sprintf("mt-client-api-v1.%s", g.cfg.Domain)
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/ws"}
	q := u.Query()
	q.Set("auth-token", g.cfg.Token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Client-id", uuid.NewString())

	conn, _, err := g.dialer.DialContext(ctx, u.String(), header)
	return conn, err
}

func (g *Gateway) runLoop(conn *websocket.Conn) {
	defer close(g.doneCh)

	reconnectCtx := contextUntilClose(g.closeCh)

	for {
		g.readPump(conn)

		select {
		case <-g.closeCh:
			return
		default:
		}

		g.setState(StateDisconnected)
		if g.metrics != nil {
			g.metrics.ConnectionsActive.WithLabelValues(g.cfg.AccountID).Set(0)
		}
		dispatch(g.listeners, packets.Packet{Type: packets.TypeDisconnected, AccountID: g.cfg.AccountID})

		g.setState(StateReconnecting)
		if err := g.limiter.Wait(reconnectCtx); err != nil {
			return
		}

		select {
		case <-g.closeCh:
			return
		default:
		}

		dialCtx, cancel := context.WithTimeout(reconnectCtx, g.cfg.ConnectTimeout)
		next, err := g.dial(dialCtx)
		cancel()
		if err != nil {
			g.logger.Warn("reconnect failed", zap.Error(err))
			continue
		}

		g.mu.Lock()
		g.conn = next
		g.mu.Unlock()
		if g.metrics != nil {
			g.metrics.ReconnectsTotal.Inc()
			g.metrics.ConnectionsActive.WithLabelValues(g.cfg.AccountID).Set(1)
		}
		g.setState(StateConnected)
		conn = next

		select {
		case g.reconnCh <- struct{}{}:
		default:
		}
	}
}

func (g *Gateway) readPump(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.handleFrame(raw)
	}
}

func (g *Gateway) handleFrame(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		g.logger.Warn("malformed frame", zap.Error(err))
		return
	}

	switch f.Event {
	case "response":
		var resp struct {
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(f.Data, &resp); err != nil {
			g.logger.Warn("malformed response frame", zap.Error(err))
			return
		}
		g.mux.Resolve(resp.RequestID, f.Data)
	case "processingError":
		var ie inboundError
		if err := json.Unmarshal(f.Data, &ie); err != nil {
			g.logger.Warn("malformed processingError frame", zap.Error(err))
			return
		}
		tradeErr := apierrors.FromWire(ie.WireDescriptor)
		g.mux.Reject(ie.RequestID, tradeErr)
		if tradeErr.Kind == apierrors.Unauthorized {
			g.logger.Warn("unauthorized error received, tearing down gateway", zap.String("accountId", g.cfg.AccountID))
			go g.Close()
		}
	case "synchronization":
		var p packets.Packet
		if err := json.Unmarshal(f.Data, &p); err != nil {
			g.logger.Warn("malformed synchronization packet", zap.Error(err))
			return
		}
		for _, ready := range g.orderer.Ingest(p) {
			g.deliver(ready)
		}
	default:
		g.logger.Debug("unrecognized frame event", zap.String("event", f.Event))
	}
}

func (g *Gateway) deliver(p packets.Packet) {
	if g.metrics != nil {
		g.metrics.PacketsOrdered.Inc()
	}
	if g.packetLog != nil {
		g.packetLog.LogPacket(p)
	}
	g.mu.Lock()
	listeners := g.listeners
	g.mu.Unlock()
	dispatch(listeners, p)
}

func (g *Gateway) forwardRecoveries() {
	for {
		select {
		case rec, ok := <-g.orderer.Recovered():
			if !ok {
				return
			}
			for _, p := range rec.Packets {
				g.deliver(p)
			}
			select {
			case g.recoverCh <- rec:
			case <-g.closeCh:
				return
			}
		case <-g.closeCh:
			return
		}
	}
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// contextUntilClose returns a context cancelled when closeCh closes.
func contextUntilClose(closeCh <-chan struct{}) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
