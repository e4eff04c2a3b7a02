// Package packets defines the wire envelope and domain value types
// exchanged between the gateway and the remote terminal service, plus
// the SynchronizationListener capability set dispatched events are
// fanned out to.
//
// Field types double as the schema design-note in spec.md S9 asks for:
// any field that should be treated as a platform instant is declared as
// time.Time (encoding/json parses RFC3339/ISO-8601 strings into it for
// free); any field that is a broker-local time string the wire never
// means as an instant (e.g. BrokerTime) is declared as a plain string.
// There is no regex-based coercion anywhere in this package.
package packets

import "time"

// Type is the closed set of synchronization packet discriminants.
type Type string

const (
	TypeAuthenticated                Type = "authenticated"
	TypeDisconnected                 Type = "disconnected"
	TypeSynchronizationStarted       Type = "synchronizationStarted"
	TypeAccountInformation           Type = "accountInformation"
	TypePositions                    Type = "positions"
	TypeOrders                       Type = "orders"
	TypeHistoryOrders                Type = "historyOrders"
	TypeDeals                        Type = "deals"
	TypeUpdate                       Type = "update"
	TypeDealSynchronizationFinished  Type = "dealSynchronizationFinished"
	TypeOrderSynchronizationFinished Type = "orderSynchronizationFinished"
	TypeStatus                       Type = "status"
	TypeSpecifications               Type = "specifications"
	TypePrices                       Type = "prices"
)

// AccountInformation mirrors the remote terminal's account summary.
type AccountInformation struct {
	Broker   string  `json:"broker"`
	Currency string  `json:"currency"`
	Server   string  `json:"server"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Margin   float64 `json:"margin"`
	FreeMargin float64 `json:"freeMargin"`
	Leverage int     `json:"leverage"`
	Login    int64   `json:"login"`
}

// Position is an open market exposure identified by ID.
type Position struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Type         string    `json:"type"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"openPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	StopLoss     float64   `json:"stopLoss,omitempty"`
	TakeProfit   float64   `json:"takeProfit,omitempty"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	Comment      string    `json:"comment,omitempty"`
	OpenTime     time.Time `json:"openTime"`
	UpdateTime   time.Time `json:"updateTime"`
	BrokerTime   string    `json:"brokerTime,omitempty"`
}

// Order is a pending instruction to trade.
type Order struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"`
	State      string    `json:"state"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"openPrice"`
	Comment    string    `json:"comment,omitempty"`
	Time       time.Time `json:"time"`
	BrokerTime string    `json:"brokerTime,omitempty"`
}

// HistoryOrder is a completed/cancelled order moved out of the pending set.
type HistoryOrder struct {
	Order
	DoneTime       time.Time `json:"doneTime"`
	DoneBrokerTime string    `json:"doneBrokerTime,omitempty"`
}

// Deal is an immutable completed transaction leg.
type Deal struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"orderId,omitempty"`
	PositionID string    `json:"positionId,omitempty"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
	Time       time.Time `json:"time"`
	BrokerTime string    `json:"brokerTime,omitempty"`
}

// SymbolSpecification carries the per-symbol metadata needed to
// interpret prices for a symbol.
type SymbolSpecification struct {
	Symbol       string  `json:"symbol"`
	Digits       int     `json:"digits"`
	ContractSize float64 `json:"contractSize"`
	TickSize     float64 `json:"tickSize"`
	TickValue    float64 `json:"tickValue"`
	MinVolume    float64 `json:"minVolume"`
	MaxVolume    float64 `json:"maxVolume"`
	VolumeStep   float64 `json:"volumeStep"`
}

// Price is the latest quote observed for a symbol.
type Price struct {
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Time       time.Time `json:"time"`
	BrokerTime string    `json:"brokerTime,omitempty"`
}

// Packet is the synchronization-stream wire envelope (spec.md S3/S4.6).
// All type-specific payload fields are optional; which ones are
// populated is determined by Type.
type Packet struct {
	Type               Type                  `json:"type"`
	AccountID          string                `json:"accountId"`
	SequenceNumber     *int64                `json:"sequenceNumber,omitempty"`
	SynchronizationID  string                `json:"synchronizationId,omitempty"`
	Connected          *bool                 `json:"connected,omitempty"`
	AccountInformation *AccountInformation   `json:"accountInformation,omitempty"`
	Positions          []Position            `json:"positions,omitempty"`
	Orders             []Order               `json:"orders,omitempty"`
	HistoryOrders      []HistoryOrder        `json:"historyOrders,omitempty"`
	Deals              []Deal                `json:"deals,omitempty"`
	UpdatedPositions   []Position            `json:"updatedPositions,omitempty"`
	RemovedPositionIDs []string              `json:"removedPositionIds,omitempty"`
	UpdatedOrders      []Order               `json:"updatedOrders,omitempty"`
	CompletedOrderIDs  []string              `json:"completedOrderIds,omitempty"`
	Specifications     []SymbolSpecification `json:"specifications,omitempty"`
	Prices             []Price               `json:"prices,omitempty"`
}

// Seq returns the packet's sequence number and whether one was present.
func (p *Packet) Seq() (int64, bool) {
	if p.SequenceNumber == nil {
		return 0, false
	}
	return *p.SequenceNumber, true
}

// SynchronizationListener is the capability set external callers and
// the Terminal State replica implement to observe the gateway's event
// stream (spec.md S4.6). Implementations must return promptly; the
// dispatcher awaits the whole batch of listeners for one packet before
// moving to the next.
type SynchronizationListener interface {
	OnConnected()
	OnDisconnected()
	OnSynchronizationStarted()
	OnAccountInformationUpdated(info AccountInformation)
	OnPositionsReplaced(positions []Position)
	OnPositionUpdated(p Position)
	OnPositionRemoved(id string)
	OnOrdersReplaced(orders []Order)
	OnOrderUpdated(o Order)
	OnOrderCompleted(id string)
	OnHistoryOrderAdded(o HistoryOrder)
	OnDealAdded(d Deal)
	OnDealSynchronizationFinished(syncID string)
	OnOrderSynchronizationFinished(syncID string)
	OnBrokerConnectionStatusChanged(connected bool)
	OnSymbolSpecificationUpdated(s SymbolSpecification)
	OnSymbolPriceUpdated(p Price)
}

// BaseListener implements SynchronizationListener with no-op bodies so
// callers can embed it and override only the methods they care about.
type BaseListener struct{}

func (BaseListener) OnConnected()                                      {}
func (BaseListener) OnDisconnected()                                   {}
func (BaseListener) OnSynchronizationStarted()                         {}
func (BaseListener) OnAccountInformationUpdated(AccountInformation)    {}
func (BaseListener) OnPositionsReplaced([]Position)                    {}
func (BaseListener) OnPositionUpdated(Position)                        {}
func (BaseListener) OnPositionRemoved(string)                          {}
func (BaseListener) OnOrdersReplaced([]Order)                          {}
func (BaseListener) OnOrderUpdated(Order)                              {}
func (BaseListener) OnOrderCompleted(string)                           {}
func (BaseListener) OnHistoryOrderAdded(HistoryOrder)                  {}
func (BaseListener) OnDealAdded(Deal)                                  {}
func (BaseListener) OnDealSynchronizationFinished(string)              {}
func (BaseListener) OnOrderSynchronizationFinished(string)             {}
func (BaseListener) OnBrokerConnectionStatusChanged(bool)              {}
func (BaseListener) OnSymbolSpecificationUpdated(SymbolSpecification)  {}
func (BaseListener) OnSymbolPriceUpdated(Price)                        {}
