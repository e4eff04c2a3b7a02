// Package rpc correlates outbound requests with inbound responses by
// requestId and enforces a per-request deadline (spec.md S4.4,
// component C4). It knows nothing about the transport; the caller
// supplies a send function that puts the envelope on the wire.
package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apierrors "github.com/metaapi-go/sdk/errors"
	"github.com/metaapi-go/sdk/internal/metrics"
)

// DefaultTimeout is the requestTimeout default (spec.md S6).
const DefaultTimeout = 60 * time.Second

// Request is an outbound envelope: {requestId, accountId, application,
// type, ...type-specific fields}. Built with NewRequest.
type Request map[string]any

// NewRequest builds an outbound request envelope, merging args with the
// required fields. requestId is left unset; Multiplexer.Do assigns one
// if absent.
func NewRequest(reqType, accountID, application string, args map[string]any) Request {
	req := make(Request, len(args)+4)
	for k, v := range args {
		req[k] = v
	}
	req["type"] = reqType
	if accountID != "" {
		req["accountId"] = accountID
	}
	if application != "" {
		req["application"] = application
	}
	return req
}

type pendingRequest struct {
	reqType string
	resultC chan result
}

type result struct {
	payload json.RawMessage
	err     error
}

// Multiplexer tracks in-flight RPCs keyed by requestId.
type Multiplexer struct {
	defaultTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Registry

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New creates a Multiplexer. logger and metricsRegistry may be nil.
func New(defaultTimeout time.Duration, logger *zap.Logger, metricsRegistry *metrics.Registry) *Multiplexer {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multiplexer{
		defaultTimeout: defaultTimeout,
		logger:         logger,
		metrics:        metricsRegistry,
		pending:        make(map[string]*pendingRequest),
	}
}

// Do assigns a requestId if absent, registers the pending RPC, invokes
// send to put it on the wire, and waits for Resolve/Reject/the deadline
// or ctx cancellation, whichever comes first.
func (m *Multiplexer) Do(ctx context.Context, req Request, timeout time.Duration, send func(Request) error) (json.RawMessage, error) {
	requestID, _ := req["requestId"].(string)
	if requestID == "" {
		requestID = uuid.NewString()
		req["requestId"] = requestID
	}
	reqType, _ := req["type"].(string)
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	pr := &pendingRequest{reqType: reqType, resultC: make(chan result, 1)}
	m.mu.Lock()
	m.pending[requestID] = pr
	m.mu.Unlock()

	cleanup := func() {
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
	}

	start := time.Now()
	if err := send(req); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pr.resultC:
		cleanup()
		m.observeLatency(reqType, time.Since(start))
		if res.err != nil {
			m.observeError(res.err)
		}
		return res.payload, res.err
	case <-timer.C:
		cleanup()
		err := apierrors.NewTimeout(reqType)
		m.observeError(err)
		return nil, err
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// Resolve completes a pending RPC with a response payload.
func (m *Multiplexer) Resolve(requestID string, payload json.RawMessage) {
	m.deliver(requestID, result{payload: payload})
}

// Reject completes a pending RPC with an error, typically mapped from a
// processingError packet via errors.FromWire.
func (m *Multiplexer) Reject(requestID string, err error) {
	m.deliver(requestID, result{err: err})
}

func (m *Multiplexer) deliver(requestID string, res result) {
	m.mu.Lock()
	pr, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case pr.resultC <- res:
	default:
	}
}

// TeardownAll rejects every outstanding RPC, typically called when the
// gateway connection closes (spec.md S4.4, S7).
func (m *Multiplexer) TeardownAll(err error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]*pendingRequest)
	m.mu.Unlock()

	for _, pr := range pending {
		select {
		case pr.resultC <- result{err: err}:
		default:
		}
	}
}

// Pending returns the number of in-flight RPCs, for diagnostics/tests.
func (m *Multiplexer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Multiplexer) observeLatency(reqType string, d time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.RPCLatencySeconds.WithLabelValues(reqType).Observe(d.Seconds())
}

func (m *Multiplexer) observeError(err error) {
	if m.metrics == nil {
		return
	}
	kind := "Internal"
	var te *apierrors.TradingError
	if as, ok := err.(*apierrors.TradingError); ok {
		te = as
	}
	if te != nil {
		kind = te.Kind.String()
	}
	m.metrics.RPCErrorsTotal.WithLabelValues(kind).Inc()
}
