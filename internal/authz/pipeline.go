// Package authz is the composable authorization pipeline gating every
// privileged back-office operation. Call sites assemble exactly the guards an
// operation needs; the pipeline evaluates them strictly in order and halts on
// the first failure.
package authz

import (
	"context"

	"rideops.org/internal/obs"
)

// Guard is one composable authorization check.
type Guard interface {
	// Name identifies the guard in metrics and logs.
	Name() string
	// Evaluate returns nil on success or one of the taxonomy errors.
	Evaluate(ctx context.Context, rc *Context) error
}

// Pipeline is an ordered guard chain.
type Pipeline struct {
	guards []Guard
}

// NewPipeline builds a pipeline from guards in evaluation order.
func NewPipeline(guards ...Guard) Pipeline {
	return Pipeline{guards: guards}
}

// Evaluate folds over the guard list. Guards for one request never run
// concurrently with each other; the first failure halts the remainder and the
// protected operation must not execute.
func (p Pipeline) Evaluate(ctx context.Context, rc *Context) error {
	for _, g := range p.guards {
		if err := g.Evaluate(ctx, rc); err != nil {
			obs.AuthzDecision(g.Name(), "deny")
			return err
		}
		obs.AuthzDecision(g.Name(), "allow")
	}
	return nil
}
