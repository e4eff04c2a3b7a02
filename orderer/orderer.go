// Package orderer restores per-account monotone sequence-number
// ordering across a lossy transport (spec.md S4.1, component C1).
package orderer

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metaapi-go/sdk/internal/metrics"
	"github.com/metaapi-go/sdk/packets"
)

// DefaultTimeout is the packetOrderingTimeout default (spec.md S6).
const DefaultTimeout = 60 * time.Second

// Recovery is reported on Orderer.Recovered() when an account's queue
// gives up waiting for a gap to fill. Packets holds whatever had been
// buffered, in sequence order; it may be empty.
type Recovery struct {
	AccountID string
	Packets   []packets.Packet
}

// Orderer reassembles the synchronization packet stream into strictly
// monotone per-account order (spec.md S4.1 algorithm).
type Orderer struct {
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	accounts map[string]*accountQueue
	closed   bool
	closeCh  chan struct{}

	recoverCh chan Recovery
}

// New creates an Orderer with the given packetOrderingTimeout. logger
// and metricsRegistry may be nil.
func New(timeout time.Duration, logger *zap.Logger, metricsRegistry *metrics.Registry) *Orderer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orderer{
		timeout:   timeout,
		logger:    logger,
		metrics:   metricsRegistry,
		accounts:  make(map[string]*accountQueue),
		closeCh:   make(chan struct{}),
		recoverCh: make(chan Recovery, 16),
	}
}

// Recovered delivers out-of-order recoveries as they happen. It is
// meant to have a single reader; each Recovery should trigger a
// resubscribe for AccountID.
func (o *Orderer) Recovered() <-chan Recovery {
	return o.recoverCh
}

// Close stops all pending per-account timers and releases any recovery
// send blocked on Recovered. The Recovered channel itself is not closed.
func (o *Orderer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for _, q := range o.accounts {
		q.stopTimer()
	}
	o.accounts = make(map[string]*accountQueue)
	close(o.closeCh)
}

// Ingest accepts one packet and returns the (possibly empty) sequence
// of packets now ready for dispatch, in order (spec.md S4.1 steps 1-7).
func (o *Orderer) Ingest(p packets.Packet) []packets.Packet {
	seq, ok := p.Seq()
	if !ok {
		return []packets.Packet{p}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return []packets.Packet{p}
	}

	q := o.accounts[p.AccountID]
	if q == nil {
		q = &accountQueue{}
		o.accounts[p.AccountID] = q
	}

	if p.Type == packets.TypeSynchronizationStarted {
		q.expected = seq + 1
		q.hasExpected = true
		q.discardBelow(q.expected)
		out := append([]packets.Packet{p}, q.drainContiguous()...)
		o.resetTimer(p.AccountID, q)
		return out
	}

	if !q.hasExpected {
		q.expected = seq
		q.hasExpected = true
	}

	var out []packets.Packet
	switch {
	case seq == q.expected:
		q.expected++
		out = append([]packets.Packet{p}, q.drainContiguous()...)
	case seq > q.expected:
		heap.Push(&q.buffer, heapItem{seq: seq, packet: p})
		if o.metrics != nil {
			o.metrics.PacketsBuffered.Inc()
		}
	default:
		// seq < expected: already delivered or stale, discard silently.
		return nil
	}

	o.resetTimer(p.AccountID, q)
	return out
}

// accountQueue holds per-account reorder state (spec.md "Ordered queue").
type accountQueue struct {
	expected    int64
	hasExpected bool
	buffer      packetHeap
	timer       *time.Timer
}

func (q *accountQueue) drainContiguous() []packets.Packet {
	var out []packets.Packet
	for len(q.buffer) > 0 && q.buffer[0].seq == q.expected {
		next := heap.Pop(&q.buffer).(heapItem)
		out = append(out, next.packet)
		q.expected++
	}
	return out
}

func (q *accountQueue) discardBelow(floor int64) {
	kept := q.buffer[:0]
	for _, item := range q.buffer {
		if item.seq >= floor {
			kept = append(kept, item)
		}
	}
	q.buffer = kept
	heap.Init(&q.buffer)
}

func (q *accountQueue) drainAll() []packets.Packet {
	out := make([]packets.Packet, 0, len(q.buffer))
	for len(q.buffer) > 0 {
		next := heap.Pop(&q.buffer).(heapItem)
		out = append(out, next.packet)
	}
	return out
}

func (q *accountQueue) stopTimer() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (o *Orderer) resetTimer(accountID string, q *accountQueue) {
	q.stopTimer()
	if len(q.buffer) == 0 {
		return
	}
	q.timer = time.AfterFunc(o.timeout, func() { o.onTimeout(accountID) })
}

func (o *Orderer) onTimeout(accountID string) {
	o.mu.Lock()
	q, ok := o.accounts[accountID]
	if !ok {
		o.mu.Unlock()
		return
	}
	drained := q.drainAll()
	if len(drained) > 0 {
		if lastSeq, ok := drained[len(drained)-1].Seq(); ok {
			q.expected = lastSeq + 1
		}
	}
	delete(o.accounts, accountID)
	closed := o.closed
	o.mu.Unlock()

	if closed {
		return
	}

	if o.metrics != nil {
		o.metrics.PacketsRecovered.Inc()
	}
	o.logger.Warn("packet ordering timeout, recovering account",
		zap.String("accountId", accountID), zap.Int("buffered", len(drained)))

	select {
	case o.recoverCh <- Recovery{AccountID: accountID, Packets: drained}:
	case <-o.closeCh:
	}
}

// heapItem and packetHeap implement a min-heap ordered by sequence number.
type heapItem struct {
	seq    int64
	packet packets.Packet
}

type packetHeap []heapItem

func (h packetHeap) Len() int            { return len(h) }
func (h packetHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h packetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x any)         { *h = append(*h, x.(heapItem)) }
func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
