package engine

import "errors"

// Command-level failures are typed so callers can tell a local
// validation problem from a venue reject or a transport fault.
var (
	ErrUnknownSymbol   = errors.New("symbol not present in security catalog")
	ErrMissingPrice    = errors.New("limit and stop orders require a price")
	ErrUnknownPosition = errors.New("position not present in ledger")
	ErrUnknownOrder    = errors.New("order not present in ledger")
	ErrAwaitTimeout    = errors.New("timed out waiting for position id")
	ErrOrderRejected   = errors.New("order rejected by venue")
)
