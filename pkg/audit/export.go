package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/artifacts"
	"github.com/Mindburn-Labs/veridecide/pkg/canonicalize"
	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// ErrNoArtifactStore is returned when export is invoked without a blob store.
var ErrNoArtifactStore = errors.New("audit: artifact store not configured")

// Bundle is a self-contained, verifiable export of a tenant's chain.
type Bundle struct {
	TenantID    string                 `json:"tenant_id"`
	GeneratedAt time.Time              `json:"generated_at"`
	Count       int                    `json:"count"`
	Head        string                 `json:"head"`
	Verified    bool                   `json:"verified"`
	Events      []contracts.AuditEvent `json:"events"`
}

// ExportResult locates a stored bundle.
type ExportResult struct {
	Ref    string                `json:"ref"`
	Count  int                   `json:"count"`
	Head   string                `json:"head"`
	Valid  bool                  `json:"valid"`
	Record *contracts.AuditEvent `json:"record"`
}

// ExportBundle writes the tenant's chain as canonical JSON to blobs and
// appends an AUDIT_BUNDLE_EXPORTED event naming the bundle reference. A
// broken chain is still exported, flagged as unverified.
func (l *Ledger) ExportBundle(ctx context.Context, blobs artifacts.Store, tenantID, actorID string) (*ExportResult, error) {
	if blobs == nil {
		return nil, ErrNoArtifactStore
	}
	events, err := l.store.ListEvents(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("audit: read chain: %w", err)
	}
	b := Bundle{
		TenantID:    tenantID,
		GeneratedAt: l.clock().UTC(),
		Count:       len(events),
		Verified:    VerifyChain(events) == nil,
		Events:      events,
	}
	if len(events) > 0 {
		b.Head = events[len(events)-1].Hash
	}
	data, err := canonicalize.JCS(b)
	if err != nil {
		return nil, fmt.Errorf("audit: encode bundle: %w", err)
	}
	ref, err := blobs.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("audit: store bundle: %w", err)
	}

	rec, err := l.Append(ctx, AppendRequest{
		TenantID:   tenantID,
		ActorID:    actorID,
		Action:     contracts.ActionAuditBundleExported,
		EntityType: contracts.EntityLedger,
		EntityID:   ref,
		Payload:    map[string]any{"ref": ref, "count": b.Count, "head": b.Head, "verified": b.Verified},
	})
	if err != nil {
		return nil, err
	}
	l.logger.InfoContext(ctx, "audit bundle exported", "tenant_id", tenantID, "ref", ref, "events", b.Count)
	return &ExportResult{Ref: ref, Count: b.Count, Head: b.Head, Valid: b.Verified, Record: rec}, nil
}
