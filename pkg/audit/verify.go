package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// ErrChainBroken is wrapped by every BreakError.
var ErrChainBroken = errors.New("audit: hash chain broken")

// BreakError locates the first bad link of a chain.
type BreakError struct {
	Seq     int64  `json:"seq"`
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

func (e *BreakError) Error() string {
	return fmt.Sprintf("audit: chain broken at seq %d (%s): %s", e.Seq, e.EventID, e.Reason)
}

func (e *BreakError) Unwrap() error { return ErrChainBroken }

// Break reasons.
const (
	ReasonSeqGap       = "sequence gap"
	ReasonRootPrevHash = "root event has a prevHash"
	ReasonPrevMismatch = "prevHash does not match predecessor"
	ReasonHashMismatch = "stored hash does not match recomputed hash"
)

// VerifyChain walks events oldest to newest and returns the first broken
// link, or nil for an intact chain. An empty chain is intact.
func VerifyChain(events []contracts.AuditEvent) error {
	prev := ""
	for i := range events {
		e := &events[i]
		fail := func(reason string) error {
			return &BreakError{Seq: e.Seq, EventID: e.ID, Reason: reason}
		}
		if e.Seq != int64(i+1) {
			return fail(ReasonSeqGap)
		}
		if i == 0 && e.PrevHash != "" {
			return fail(ReasonRootPrevHash)
		}
		if e.PrevHash != prev {
			return fail(ReasonPrevMismatch)
		}
		h, err := ComputeHash(e)
		if err != nil {
			return fail(err.Error())
		}
		if h != e.Hash {
			return fail(ReasonHashMismatch)
		}
		prev = e.Hash
	}
	return nil
}

// Report is the outcome of verifying one tenant's chain.
type Report struct {
	TenantID string      `json:"tenant_id"`
	Events   int         `json:"events"`
	Head     string      `json:"head"`
	Valid    bool        `json:"valid"`
	Break    *BreakError `json:"break,omitempty"`
}

// Verify checks the tenant's whole chain. The returned error is only set
// when the chain could not be read; a broken chain is reported in Report.
func (l *Ledger) Verify(ctx context.Context, tenantID string) (Report, error) {
	events, err := l.store.ListEvents(ctx, tenantID)
	if err != nil {
		return Report{}, fmt.Errorf("audit: read chain: %w", err)
	}
	rep := Report{TenantID: tenantID, Events: len(events), Valid: true}
	if len(events) > 0 {
		rep.Head = events[len(events)-1].Hash
	}
	if err := VerifyChain(events); err != nil {
		var be *BreakError
		if !errors.As(err, &be) {
			return Report{}, err
		}
		rep.Valid = false
		rep.Break = be
		l.logger.ErrorContext(ctx, "audit chain broken", "tenant_id", tenantID, "seq", be.Seq, "reason", be.Reason)
	}
	return rep, nil
}
