// Package payment gates trading cycles behind x402 compute payments. A cycle
// may only run after the gate authorizes it; denial shuts the loop down.
package payment

import "context"

// Gate authorizes one compute cycle at the given cost. A false return or an
// error is fatal to the trading loop.
type Gate interface {
	AuthorizeComputeCycle(ctx context.Context, cost float64) (bool, error)
}

// NopGate authorizes everything; used in paper mode and tests.
type NopGate struct{}

func (NopGate) AuthorizeComputeCycle(context.Context, float64) (bool, error) {
	return true, nil
}
