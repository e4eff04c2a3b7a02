package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/metaapi-go/sdk/packets"
	"github.com/metaapi-go/sdk/rpc"
)

// testServer is a minimal echo-and-push gateway double: it upgrades the
// connection and hands the caller the raw *websocket.Conn to script.
func testServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialURL(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

type recordingListener struct {
	packets.BaseListener
	prices chan packets.Price
}

func (l *recordingListener) OnSymbolPriceUpdated(p packets.Price) {
	l.prices <- p
}

func TestGatewayDeliversSynchronizationPackets(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		seq := int64(1)
		data, _ := json.Marshal(packets.Packet{
			Type:           packets.TypePrices,
			AccountID:      "A",
			SequenceNumber: &seq,
			Prices:         []packets.Price{{Symbol: "EURUSD", Bid: 1.1}},
		})
		_ = conn.WriteJSON(frame{Event: "synchronization", Data: data})
		time.Sleep(100 * time.Millisecond)
	})

	g := New(Config{Domain: dialURL(srv), AccountID: "A"}, nil, nil, nil)
	g.dialer = websocket.DefaultDialer
	overrideScheme(g, srv)

	listener := &recordingListener{prices: make(chan packets.Price, 1)}
	g.AddListener(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer g.Close()

	select {
	case p := <-listener.prices:
		if p.Symbol != "EURUSD" {
			t.Errorf("expected EURUSD, got %q", p.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched price update")
	}
}

func TestGatewayRPCResolvesOnResponse(t *testing.T) {
	srv := testServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		_ = json.Unmarshal(raw, &f)
		var req rpc.Request
		_ = json.Unmarshal(f.Data, &req)

		resp, _ := json.Marshal(map[string]any{
			"requestId": req["requestId"],
			"balance":   1000,
		})
		_ = conn.WriteJSON(frame{Event: "response", Data: resp})
		time.Sleep(100 * time.Millisecond)
	})

	g := New(Config{Domain: dialURL(srv), AccountID: "A"}, nil, nil, nil)
	overrideScheme(g, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer g.Close()

	req := rpc.NewRequest("getAccountInformation", "A", "MetaApi", nil)
	payload, err := g.RPC(context.Background(), req, time.Second)
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["balance"] != float64(1000) {
		t.Errorf("expected balance 1000, got %v", decoded["balance"])
	}
}

// overrideScheme points the gateway at the plaintext httptest server
// instead of the wss:// scheme it builds by default.
func overrideScheme(g *Gateway, srv *httptest.Server) {
	g.dialer = websocket.DefaultDialer
	g.cfg.Domain = strings.TrimPrefix(srv.URL, "http://")
	g.testScheme = "ws"
}
