package transport

import "github.com/metaapi-go/sdk/packets"

// dispatch fans a single ordered packet out to every registered
// listener, one listener at a time, before the read loop advances to
// the next packet (spec.md S4.6). Listeners that need to do slow work
// are expected to hand it off to their own goroutine; the dispatcher
// never does that on their behalf, so one slow listener cannot starve
// the others indefinitely but does delay the stream while its method
// call is on the stack.
func dispatch(listeners []packets.SynchronizationListener, p packets.Packet) {
	for _, l := range listeners {
		dispatchOne(l, p)
	}
}

func dispatchOne(l packets.SynchronizationListener, p packets.Packet) {
	switch p.Type {
	case packets.TypeAuthenticated:
		l.OnConnected()
	case packets.TypeDisconnected:
		l.OnDisconnected()
	case packets.TypeSynchronizationStarted:
		l.OnSynchronizationStarted()
	case packets.TypeAccountInformation:
		if p.AccountInformation != nil {
			l.OnAccountInformationUpdated(*p.AccountInformation)
		}
	case packets.TypePositions:
		l.OnPositionsReplaced(p.Positions)
		for _, id := range p.RemovedPositionIDs {
			l.OnPositionRemoved(id)
		}
		for _, pos := range p.UpdatedPositions {
			l.OnPositionUpdated(pos)
		}
	case packets.TypeOrders:
		l.OnOrdersReplaced(p.Orders)
		for _, id := range p.CompletedOrderIDs {
			l.OnOrderCompleted(id)
		}
		for _, o := range p.UpdatedOrders {
			l.OnOrderUpdated(o)
		}
	case packets.TypeHistoryOrders:
		for _, o := range p.HistoryOrders {
			l.OnHistoryOrderAdded(o)
		}
	case packets.TypeDeals:
		for _, d := range p.Deals {
			l.OnDealAdded(d)
		}
	case packets.TypeUpdate:
		if p.AccountInformation != nil {
			l.OnAccountInformationUpdated(*p.AccountInformation)
		}
		for _, pos := range p.UpdatedPositions {
			l.OnPositionUpdated(pos)
		}
		for _, id := range p.RemovedPositionIDs {
			l.OnPositionRemoved(id)
		}
		for _, o := range p.UpdatedOrders {
			l.OnOrderUpdated(o)
		}
		for _, id := range p.CompletedOrderIDs {
			l.OnOrderCompleted(id)
		}
		for _, o := range p.HistoryOrders {
			l.OnHistoryOrderAdded(o)
		}
		for _, d := range p.Deals {
			l.OnDealAdded(d)
		}
	case packets.TypeDealSynchronizationFinished:
		l.OnDealSynchronizationFinished(p.SynchronizationID)
	case packets.TypeOrderSynchronizationFinished:
		l.OnOrderSynchronizationFinished(p.SynchronizationID)
	case packets.TypeStatus:
		if p.Connected != nil {
			l.OnBrokerConnectionStatusChanged(*p.Connected)
		}
	case packets.TypeSpecifications:
		for _, s := range p.Specifications {
			l.OnSymbolSpecificationUpdated(s)
		}
	case packets.TypePrices:
		for _, pr := range p.Prices {
			l.OnSymbolPriceUpdated(pr)
		}
	}
}
