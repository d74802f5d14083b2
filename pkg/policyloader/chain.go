package policyloader

import (
	"context"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// Source returns a tenant's active policy, or nil when it has none.
type Source interface {
	ActivePolicy(ctx context.Context, tenantID string) (*contracts.PolicyRecord, error)
}

// Chain consults sources in order and returns the first active policy.
// A source error stops the walk.
type Chain []Source

func (c Chain) ActivePolicy(ctx context.Context, tenantID string) (*contracts.PolicyRecord, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		rec, err := src.ActivePolicy(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}
