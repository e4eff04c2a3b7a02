package terminalstate

import (
	"testing"

	"github.com/metaapi-go/sdk/packets"
)

func TestPositionsReplacedThenIncrementalUpdates(t *testing.T) {
	s := New(false)
	s.OnPositionsReplaced([]packets.Position{
		{ID: "1", Symbol: "EURUSD", Volume: 1},
		{ID: "2", Symbol: "GBPUSD", Volume: 2},
	})
	if len(s.Positions()) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(s.Positions()))
	}

	s.OnPositionUpdated(packets.Position{ID: "1", Symbol: "EURUSD", Volume: 3})
	pos := s.Positions()
	if pos[0].Volume != 3 {
		t.Errorf("expected position 1 volume updated to 3, got %v", pos[0].Volume)
	}

	s.OnPositionRemoved("2")
	if len(s.Positions()) != 1 {
		t.Fatalf("expected 1 position after removal, got %d", len(s.Positions()))
	}
}

func TestOrdersReplacedThenCompleted(t *testing.T) {
	s := New(false)
	s.OnOrdersReplaced([]packets.Order{{ID: "o1", Symbol: "EURUSD"}})
	s.OnOrderCompleted("o1")
	if len(s.Orders()) != 0 {
		t.Fatalf("expected order to be removed on completion, got %d", len(s.Orders()))
	}
}

func TestSynchronizationStartedResetsReplica(t *testing.T) {
	s := New(false)
	s.OnPositionsReplaced([]packets.Position{{ID: "1"}})
	info := packets.AccountInformation{Balance: 1000}
	s.OnAccountInformationUpdated(info)
	s.OnDealSynchronizationFinished("sync1")

	if !s.Synchronized() {
		t.Fatalf("expected replica to be synchronized")
	}

	s.OnSynchronizationStarted()
	if s.Synchronized() {
		t.Errorf("expected synchronized to reset on a new synchronization")
	}
	if s.AccountInformation() != nil {
		t.Errorf("expected account information to be cleared")
	}
	if len(s.Positions()) != 0 {
		t.Errorf("expected positions to be cleared")
	}
}

func TestDenormalizePricesRecomputesProfit(t *testing.T) {
	s := New(true)
	s.OnSymbolSpecificationUpdated(packets.SymbolSpecification{Symbol: "EURUSD", ContractSize: 100000})
	s.OnPositionsReplaced([]packets.Position{
		{ID: "1", Symbol: "EURUSD", Type: "POSITION_TYPE_BUY", Volume: 1, OpenPrice: 1.1000},
	})

	s.OnSymbolPriceUpdated(packets.Price{Symbol: "EURUSD", Bid: 1.1050, Ask: 1.1052})

	pos := s.Positions()
	if pos[0].CurrentPrice != 1.1050 {
		t.Errorf("expected current price updated from bid for a buy position, got %v", pos[0].CurrentPrice)
	}
	want := (1.1050 - 1.1000) * 1 * 100000
	if diff := pos[0].Profit - want; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected recomputed profit %v, got %v", want, pos[0].Profit)
	}
}

func TestDenormalizePricesDisabledByDefault(t *testing.T) {
	s := New(false)
	s.OnPositionsReplaced([]packets.Position{{ID: "1", Symbol: "EURUSD", Profit: 42}})
	s.OnSymbolPriceUpdated(packets.Price{Symbol: "EURUSD", Bid: 1.2, Ask: 1.2002})

	pos := s.Positions()
	if pos[0].Profit != 42 {
		t.Errorf("expected profit untouched when denormalization is disabled, got %v", pos[0].Profit)
	}
}
