package metaapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/metaapi-go/sdk/internal/metrics"
	"github.com/metaapi-go/sdk/packets"
)

// wireFrame is the {"event": "...", "data": ...} envelope every frame,
// inbound or outbound, is wrapped in.
type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

type scriptedServer struct {
	t    *testing.T
	srv  *httptest.Server
	conn chan *websocket.Conn
}

func newScriptedServer(t *testing.T) *scriptedServer {
	t.Helper()
	s := &scriptedServer{t: t, conn: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.conn <- c
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *scriptedServer) domain() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

// serveRequests answers every request frame read off conn with a
// canned response whose requestId matches, echoing back whatever
// "data" computes for that request's type. It returns once the
// connection errors or is closed, so a second connection (e.g. after a
// reconnect) needs its own call.
func serveRequests(conn *websocket.Conn, data func(reqType string, req map[string]any) map[string]any) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f wireFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return
		}
		var req map[string]any
		_ = json.Unmarshal(f.Data, &req)
		reqType, _ := req["type"].(string)

		resp := data(reqType, req)
		resp["requestId"] = req["requestId"]
		payload, _ := json.Marshal(resp)
		_ = conn.WriteJSON(wireFrame{Event: "response", Data: payload})
	}
}

// respondToRequests answers every request frame on the server's first
// accepted connection with a canned response whose requestId matches,
// echoing back whatever "data" function computes for that request's
// type.
func (s *scriptedServer) respondToRequests(data func(reqType string, req map[string]any) map[string]any) {
	go func() {
		conn := <-s.conn
		serveRequests(conn, data)
	}()
}

func newTestConnection(t *testing.T, srv *scriptedServer) *Connection {
	t.Helper()
	opts := Options{Application: "MetaApi", Domain: srv.domain()}.withDefaults()
	c := newConnection("A", "test-token", opts, zap.NewNop(), metrics.NewRegistry(), nil)
	c.setTestDialScheme("ws")
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnectSubscribesAndSynchronizes(t *testing.T) {
	srv := newScriptedServer(t)
	seenTypes := make(chan string, 4)
	srv.respondToRequests(func(reqType string, req map[string]any) map[string]any {
		seenTypes <- reqType
		return map[string]any{}
	})

	c := newTestConnection(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	first := <-seenTypes
	second := <-seenTypes
	require.Equal(t, "subscribe", first)
	require.Equal(t, "synchronize", second)
}

func TestTradeSuccessReturnsPostProcessedResponse(t *testing.T) {
	srv := newScriptedServer(t)
	srv.respondToRequests(func(reqType string, req map[string]any) map[string]any {
		if reqType == "trade" {
			return map[string]any{
				"response":   map[string]any{"orderId": "123"},
				"stringCode": "TRADE_RETCODE_DONE",
			}
		}
		return map[string]any{}
	})

	c := newTestConnection(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	payload, err := c.Trade(ctx, map[string]any{"actionType": "ORDER_TYPE_BUY", "symbol": "EURUSD", "volume": 0.1})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "123", decoded["orderId"])
}

func TestTradeRejectSurfacesTradeError(t *testing.T) {
	srv := newScriptedServer(t)
	srv.respondToRequests(func(reqType string, req map[string]any) map[string]any {
		if reqType == "trade" {
			return map[string]any{
				"stringCode":  "TRADE_RETCODE_REJECT",
				"numericCode": 10006,
				"message":     "Request rejected",
			}
		}
		return map[string]any{}
	})

	c := newTestConnection(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	_, err := c.Trade(ctx, map[string]any{"actionType": "ORDER_TYPE_BUY"})
	require.Error(t, err, "expected a Trade error for stringCode TRADE_RETCODE_REJECT")
}

// TestReconnectTriggersResubscribe reproduces spec.md scenario S4: once
// the gateway's socket drops and redials, Connection.watchReconnects
// must reissue subscribe and synchronize on the new connection, not
// just the first one.
func TestReconnectTriggersResubscribe(t *testing.T) {
	srv := newScriptedServer(t)
	seenTypes := make(chan string, 8)
	respond := func(reqType string, req map[string]any) map[string]any {
		seenTypes <- reqType
		return map[string]any{}
	}

	go func() {
		first := <-srv.conn
		// Serve exactly the initial subscribe+synchronize pair, then drop
		// the socket to force the gateway into its reconnect path.
		for i := 0; i < 2; i++ {
			_, raw, err := first.ReadMessage()
			if err != nil {
				return
			}
			var f wireFrame
			if json.Unmarshal(raw, &f) != nil {
				return
			}
			var req map[string]any
			_ = json.Unmarshal(f.Data, &req)
			reqType, _ := req["type"].(string)
			resp := respond(reqType, req)
			resp["requestId"] = req["requestId"]
			payload, _ := json.Marshal(resp)
			_ = first.WriteJSON(wireFrame{Event: "response", Data: payload})
		}
		first.Close()

		second := <-srv.conn
		serveRequests(second, respond)
	}()

	c := newTestConnection(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	require.Equal(t, "subscribe", <-seenTypes)
	require.Equal(t, "synchronize", <-seenTypes)

	// The gateway should redial after the drop, and watchReconnects
	// should reissue subscribe+synchronize on the new socket.
	require.Equal(t, "subscribe", <-seenTypes)
	require.Equal(t, "synchronize", <-seenTypes)
}

// TestPacketOrderingRecoveryTriggersResubscribe reproduces spec.md
// scenario S5: once a gap in the synchronization packet sequence goes
// unfilled for packetOrderingTimeout, the orderer gives up and
// Connection.watchRecoveries must reissue subscribe+synchronize.
func TestPacketOrderingRecoveryTriggersResubscribe(t *testing.T) {
	srv := newScriptedServer(t)
	seenTypes := make(chan string, 8)
	connCh := make(chan *websocket.Conn, 1)

	go func() {
		conn := <-srv.conn
		connCh <- conn
		serveRequests(conn, func(reqType string, req map[string]any) map[string]any {
			seenTypes <- reqType
			return map[string]any{}
		})
	}()

	opts := Options{
		Application:           "MetaApi",
		Domain:                srv.domain(),
		PacketOrderingTimeout: 150 * time.Millisecond,
	}.withDefaults()
	c := newConnection("A", "test-token", opts, zap.NewNop(), metrics.NewRegistry(), nil)
	c.setTestDialScheme("ws")
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	require.Equal(t, "subscribe", <-seenTypes)
	require.Equal(t, "synchronize", <-seenTypes)

	conn := <-connCh

	// Establish sequence 1 as "expected", then skip straight to sequence
	// 3: the gap at sequence 2 leaves the later packet buffered instead
	// of delivered.
	seq1 := int64(1)
	require.NoError(t, conn.WriteJSON(wireFrame{Event: "synchronization", Data: mustJSON(t, packets.Packet{
		Type:           packets.TypeSynchronizationStarted,
		AccountID:      "A",
		SequenceNumber: &seq1,
	})}))
	seq3 := int64(3)
	require.NoError(t, conn.WriteJSON(wireFrame{Event: "synchronization", Data: mustJSON(t, packets.Packet{
		Type:           packets.TypePrices,
		AccountID:      "A",
		SequenceNumber: &seq3,
	})}))

	// Once packetOrderingTimeout elapses without sequence 2 arriving,
	// the orderer gives up and watchRecoveries should resubscribe.
	require.Equal(t, "subscribe", <-seenTypes)
	require.Equal(t, "synchronize", <-seenTypes)
}
