// Package errors maps wire-level error descriptors from the MetaApi
// gateway to a closed set of error kinds callers can switch on.
package errors

import "fmt"

// Kind is a closed taxonomy of error categories a gateway RPC can fail with.
type Kind int

const (
	// Internal covers any wire error string not otherwise recognized.
	Internal Kind = iota
	Validation
	NotFound
	NotSynchronized
	Timeout
	NotConnected
	Trade
	Unauthorized
	// ConnectionClosed is produced locally when the gateway tears down
	// with RPCs still in flight; it never arrives over the wire.
	ConnectionClosed
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "ValidationError"
	case NotFound:
		return "NotFoundError"
	case NotSynchronized:
		return "NotSynchronizedError"
	case Timeout:
		return "TimeoutError"
	case NotConnected:
		return "NotAuthenticatedError"
	case Trade:
		return "TradeError"
	case Unauthorized:
		return "UnauthorizedError"
	case ConnectionClosed:
		return "ConnectionClosedError"
	default:
		return "InternalError"
	}
}

// wireKinds maps the wire `error` discriminant to a Kind. Anything absent
// from this table maps to Internal.
var wireKinds = map[string]Kind{
	"ValidationError":       Validation,
	"NotFoundError":         NotFound,
	"NotSynchronizedError":  NotSynchronized,
	"TimeoutError":          Timeout,
	"NotAuthenticatedError": NotConnected,
	"TradeError":            Trade,
	"UnauthorizedError":     Unauthorized,
}

// TradingError is the single error type the SDK returns to callers. It
// satisfies the standard error interface and carries enough of the wire
// descriptor for callers that need trade-specific codes.
type TradingError struct {
	Kind       Kind
	Message    string
	Details    any
	NumericCode int
	StringCode  string
}

func (e *TradingError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
}

// WireDescriptor is the shape of a `processingError` packet payload.
type WireDescriptor struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	Details     any    `json:"details,omitempty"`
	NumericCode int    `json:"numericCode,omitempty"`
	StringCode  string `json:"stringCode,omitempty"`
}

// FromWire maps a wire error descriptor to a *TradingError (C3).
func FromWire(d WireDescriptor) *TradingError {
	kind, ok := wireKinds[d.Error]
	if !ok {
		kind = Internal
	}
	return &TradingError{
		Kind:        kind,
		Message:     d.Message,
		Details:     d.Details,
		NumericCode: d.NumericCode,
		StringCode:  d.StringCode,
	}
}

// NewTimeout builds the Timeout error an RPC deadline expiry raises,
// naming the request type per spec.md S6.
func NewTimeout(requestType string) *TradingError {
	return &TradingError{
		Kind:    Timeout,
		Message: fmt.Sprintf("request %q timed out waiting for a response", requestType),
	}
}

// NewConnectionClosed builds the error outstanding RPCs are rejected with
// when the gateway tears down.
func NewConnectionClosed() *TradingError {
	return &TradingError{Kind: ConnectionClosed, Message: "gateway connection closed"}
}

// NewTrade builds a Trade error from a trade response's post-processed
// stringCode/numericCode/message fields (spec.md S6).
func NewTrade(message, stringCode string, numericCode int) *TradingError {
	return &TradingError{
		Kind:        Trade,
		Message:     message,
		StringCode:  stringCode,
		NumericCode: numericCode,
	}
}
