package metaapi

import "github.com/metaapi-go/sdk/packets"

// SynchronizationListener observes the account synchronization stream
// (spec.md S4.6). Re-exported from packets so callers that only import
// the root package don't also need to import packets directly.
type SynchronizationListener = packets.SynchronizationListener

// BaseListener implements SynchronizationListener with no-op bodies;
// embed it to override only the methods you care about.
type BaseListener = packets.BaseListener
