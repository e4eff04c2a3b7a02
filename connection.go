package metaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apierrors "github.com/metaapi-go/sdk/errors"
	"github.com/metaapi-go/sdk/internal/metrics"
	"github.com/metaapi-go/sdk/packetlogger"
	"github.com/metaapi-go/sdk/packets"
	"github.com/metaapi-go/sdk/rpc"
	"github.com/metaapi-go/sdk/terminalstate"
	"github.com/metaapi-go/sdk/transport"
)

// tradeSuccessCodes are the stringCode values a trade RPC succeeds
// with (spec.md S6 Trade response post-processing).
var tradeSuccessCodes = map[string]bool{
	"ERR_NO_ERROR":               true,
	"TRADE_RETCODE_PLACED":       true,
	"TRADE_RETCODE_DONE":         true,
	"TRADE_RETCODE_DONE_PARTIAL": true,
	"TRADE_RETCODE_NO_CHANGES":   true,
}

// Connection is one account's gateway connection plus its Terminal
// State replica (spec.md S4.8, component C8).
type Connection struct {
	accountID   string
	application string
	logger      *zap.Logger

	gw    *transport.Gateway
	state *terminalstate.State
}

func newConnection(accountID, token string, opts Options, logger *zap.Logger, metricsRegistry *metrics.Registry, packetLog *packetlogger.Logger) *Connection {
	gw := transport.New(transport.Config{
		Domain:                opts.Domain,
		Token:                 token,
		AccountID:             accountID,
		Application:           opts.Application,
		RequestTimeout:        opts.RequestTimeout,
		PacketOrderingTimeout: opts.PacketOrderingTimeout,
		ConnectTimeout:        opts.ConnectTimeout,
	}, logger, metricsRegistry, packetLog)

	state := terminalstate.New(opts.DenormalizePrices)
	gw.AddListener(state)

	c := &Connection{
		accountID:   accountID,
		application: opts.Application,
		logger:      logger,
		gw:          gw,
		state:       state,
	}
	go c.watchReconnects()
	go c.watchRecoveries()
	return c
}

// setTestDialScheme points the underlying gateway at a plaintext test
// server instead of the real wss:// gateway. Test-only.
func (c *Connection) setTestDialScheme(scheme string) {
	c.gw.SetTestDialScheme(scheme)
}

// Connect dials the gateway, then subscribes and synchronizes.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.gw.Connect(ctx); err != nil {
		return err
	}
	return c.subscribeAndSynchronize(ctx)
}

// Close tears down the gateway connection and cancels in-flight RPCs.
func (c *Connection) Close() error {
	return c.gw.Close()
}

// AddListener registers an additional observer of the synchronization
// stream, alongside the Terminal State replica Connection already
// maintains.
func (c *Connection) AddListener(l packets.SynchronizationListener) {
	c.gw.AddListener(l)
}

// RemoveListener is a documented no-op (spec.md S9 resolved Open
// Question): once attached, a listener lives for the gateway's
// lifetime.
func (c *Connection) RemoveListener(l packets.SynchronizationListener) {
	c.gw.RemoveListener(l)
}

// TerminalState returns the local replica of account state.
func (c *Connection) TerminalState() *terminalstate.State {
	return c.state
}

func (c *Connection) watchReconnects() {
	for range c.gw.Reconnected() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := c.subscribeAndSynchronize(ctx); err != nil {
			c.logger.Warn("resubscribe after reconnect failed",
				zap.String("accountId", c.accountID), zap.Error(err))
		}
		cancel()
	}
}

// watchRecoveries reissues subscribe+synchronize whenever the orderer
// gives up waiting for a gap to fill (spec.md S4.1 step 6, S9): the
// gateway has already delivered whatever packets it recovered, but the
// remote terminal needs a fresh subscribe to resume streaming from a
// known point.
func (c *Connection) watchRecoveries() {
	for range c.gw.Recovered() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := c.subscribeAndSynchronize(ctx); err != nil {
			c.logger.Warn("resubscribe after packet ordering recovery failed",
				zap.String("accountId", c.accountID), zap.Error(err))
		}
		cancel()
	}
}

func (c *Connection) subscribeAndSynchronize(ctx context.Context) error {
	if _, err := c.gw.RPC(ctx, rpc.NewRequest("subscribe", c.accountID, c.application, nil), 0); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return c.synchronize(ctx, time.Time{}, time.Time{})
}

// synchronize issues a fresh synchronize RPC, keyed by a newly
// generated syncId (spec.md S4.8).
func (c *Connection) synchronize(ctx context.Context, startingHistoryOrderTime, startingDealTime time.Time) error {
	syncID := uuid.NewString()
	args := map[string]any{"requestId": syncID}
	if !startingHistoryOrderTime.IsZero() {
		args["startingHistoryOrderTime"] = startingHistoryOrderTime
	}
	if !startingDealTime.IsZero() {
		args["startingDealTime"] = startingDealTime
	}
	_, err := c.gw.RPC(ctx, rpc.NewRequest("synchronize", c.accountID, c.application, args), 0)
	if err != nil {
		return fmt.Errorf("synchronize: %w", err)
	}
	return nil
}

// WaitSynchronized blocks until the remote terminal reports the
// account fully synchronized, or timeout elapses (spec.md S4.8). A
// zero applicationPattern defaults to ".*"; a zero timeout defaults to
// 300s. The RPC deadline is timeout+1s, per spec.md's client-side
// margin.
func (c *Connection) WaitSynchronized(ctx context.Context, applicationPattern string, timeout time.Duration) error {
	if applicationPattern == "" {
		applicationPattern = ".*"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	args := map[string]any{
		"applicationPattern": applicationPattern,
		"timeoutInSeconds":   int(timeout.Seconds()),
	}
	_, err := c.gw.RPC(ctx, rpc.NewRequest("waitSynchronized", c.accountID, c.application, args), timeout+time.Second)
	return err
}

func (c *Connection) rpc(ctx context.Context, reqType string, args map[string]any) (json.RawMessage, error) {
	return c.gw.RPC(ctx, rpc.NewRequest(reqType, c.accountID, c.application, args), 0)
}

// GetAccountInformation fetches the current account summary.
func (c *Connection) GetAccountInformation(ctx context.Context) (packets.AccountInformation, error) {
	var out packets.AccountInformation
	payload, err := c.rpc(ctx, "getAccountInformation", nil)
	if err != nil {
		return out, err
	}
	err = unmarshalField(payload, "accountInformation", &out)
	return out, err
}

// GetPositions fetches the full open-position set from the terminal.
func (c *Connection) GetPositions(ctx context.Context) ([]packets.Position, error) {
	var out []packets.Position
	payload, err := c.rpc(ctx, "getPositions", nil)
	if err != nil {
		return nil, err
	}
	err = unmarshalField(payload, "positions", &out)
	return out, err
}

// GetPosition fetches a single open position by ID.
func (c *Connection) GetPosition(ctx context.Context, positionID string) (packets.Position, error) {
	var out packets.Position
	payload, err := c.rpc(ctx, "getPosition", map[string]any{"positionId": positionID})
	if err != nil {
		return out, err
	}
	err = unmarshalField(payload, "position", &out)
	return out, err
}

// GetOrders fetches the full pending-order set from the terminal.
func (c *Connection) GetOrders(ctx context.Context) ([]packets.Order, error) {
	var out []packets.Order
	payload, err := c.rpc(ctx, "getOrders", nil)
	if err != nil {
		return nil, err
	}
	err = unmarshalField(payload, "orders", &out)
	return out, err
}

// GetOrder fetches a single pending order by ID.
func (c *Connection) GetOrder(ctx context.Context, orderID string) (packets.Order, error) {
	var out packets.Order
	payload, err := c.rpc(ctx, "getOrder", map[string]any{"orderId": orderID})
	if err != nil {
		return out, err
	}
	err = unmarshalField(payload, "order", &out)
	return out, err
}

// GetHistoryOrdersByTicket fetches history orders matching a ticket.
func (c *Connection) GetHistoryOrdersByTicket(ctx context.Context, ticket string) ([]packets.HistoryOrder, error) {
	return c.historyOrders(ctx, "getHistoryOrdersByTicket", map[string]any{"ticket": ticket})
}

// GetHistoryOrdersByPosition fetches history orders for a position.
func (c *Connection) GetHistoryOrdersByPosition(ctx context.Context, positionID string) ([]packets.HistoryOrder, error) {
	return c.historyOrders(ctx, "getHistoryOrdersByPosition", map[string]any{"positionId": positionID})
}

// GetHistoryOrdersByTimeRange fetches history orders within a window.
func (c *Connection) GetHistoryOrdersByTimeRange(ctx context.Context, start, end time.Time, offset, limit int) ([]packets.HistoryOrder, error) {
	return c.historyOrders(ctx, "getHistoryOrdersByTimeRange", map[string]any{
		"startTime": start, "endTime": end, "offset": offset, "limit": limit,
	})
}

func (c *Connection) historyOrders(ctx context.Context, reqType string, args map[string]any) ([]packets.HistoryOrder, error) {
	var out []packets.HistoryOrder
	payload, err := c.rpc(ctx, reqType, args)
	if err != nil {
		return nil, err
	}
	err = unmarshalField(payload, "historyOrders", &out)
	return out, err
}

// GetDealsByTicket fetches deals matching a ticket.
func (c *Connection) GetDealsByTicket(ctx context.Context, ticket string) ([]packets.Deal, error) {
	return c.deals(ctx, "getDealsByTicket", map[string]any{"ticket": ticket})
}

// GetDealsByPosition fetches deals for a position.
func (c *Connection) GetDealsByPosition(ctx context.Context, positionID string) ([]packets.Deal, error) {
	return c.deals(ctx, "getDealsByPosition", map[string]any{"positionId": positionID})
}

// GetDealsByTimeRange fetches deals within a time window.
func (c *Connection) GetDealsByTimeRange(ctx context.Context, start, end time.Time, offset, limit int) ([]packets.Deal, error) {
	return c.deals(ctx, "getDealsByTimeRange", map[string]any{
		"startTime": start, "endTime": end, "offset": offset, "limit": limit,
	})
}

func (c *Connection) deals(ctx context.Context, reqType string, args map[string]any) ([]packets.Deal, error) {
	var out []packets.Deal
	payload, err := c.rpc(ctx, reqType, args)
	if err != nil {
		return nil, err
	}
	err = unmarshalField(payload, "deals", &out)
	return out, err
}

// RemoveHistory purges the remote terminal's trade history.
func (c *Connection) RemoveHistory(ctx context.Context) error {
	_, err := c.rpc(ctx, "removeHistory", nil)
	return err
}

// RemoveApplication deregisters this application from the account.
func (c *Connection) RemoveApplication(ctx context.Context) error {
	_, err := c.rpc(ctx, "removeApplication", nil)
	return err
}

// SubscribeToMarketData subscribes to price updates for symbol.
func (c *Connection) SubscribeToMarketData(ctx context.Context, symbol string) error {
	_, err := c.rpc(ctx, "subscribeToMarketData", map[string]any{"symbol": symbol})
	return err
}

// GetSymbolSpecification fetches a symbol's trading metadata.
func (c *Connection) GetSymbolSpecification(ctx context.Context, symbol string) (packets.SymbolSpecification, error) {
	var out packets.SymbolSpecification
	payload, err := c.rpc(ctx, "getSymbolSpecification", map[string]any{"symbol": symbol})
	if err != nil {
		return out, err
	}
	err = unmarshalField(payload, "specification", &out)
	return out, err
}

// GetSymbolPrice fetches the latest quote for a symbol.
func (c *Connection) GetSymbolPrice(ctx context.Context, symbol string) (packets.Price, error) {
	var out packets.Price
	payload, err := c.rpc(ctx, "getSymbolPrice", map[string]any{"symbol": symbol})
	if err != nil {
		return out, err
	}
	err = unmarshalField(payload, "price", &out)
	return out, err
}

// tradeResponse is the shape of a trade RPC's response payload before
// post-processing (spec.md S6).
type tradeResponse struct {
	Response    json.RawMessage `json:"response"`
	Description string          `json:"description"`
	Error       string          `json:"error"`
	NumericCode int             `json:"numericCode"`
	StringCode  string          `json:"stringCode"`
	Message     string          `json:"message"`
}

// Trade submits a trade request. trade carries the type-specific
// fields (actionType, symbol, volume, ...) as a plain map, since the
// trade request shape varies by actionType and the SDK does not model
// every variant.
func (c *Connection) Trade(ctx context.Context, trade map[string]any) (json.RawMessage, error) {
	payload, err := c.rpc(ctx, "trade", map[string]any{"trade": trade})
	if err != nil {
		return nil, err
	}

	var resp tradeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode trade response: %w", err)
	}
	if resp.StringCode == "" {
		resp.StringCode = resp.Description
	}
	if resp.NumericCode == 0 {
		if n, convErr := stringToInt(resp.Error); convErr == nil {
			resp.NumericCode = n
		}
	}
	if !tradeSuccessCodes[resp.StringCode] {
		return nil, apierrors.NewTrade(resp.Message, resp.StringCode, resp.NumericCode)
	}
	return resp.Response, nil
}

func unmarshalField(payload json.RawMessage, field string, out any) error {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	raw, ok := wrapper[field]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func stringToInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
