// Package audit implements the per-tenant hash-chained governance ledger.
//
// Every event stores the hash of its predecessor, so a tenant's events read
// oldest to newest form a singly linked chain rooted at an event with an
// empty prevHash. The hash of an event is
//
//	sha256(JCS({action, entityType, entityId, payload, actorId, tenantId, prevHash}))
//
// rendered as lowercase hex. Appends for one tenant are serialized by a
// Locker, and the store rejects a second event claiming the same sequence
// number, so concurrent writers in other processes cannot fork the chain.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/veridecide/pkg/canonicalize"
	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/store"
)

var (
	// ErrInvalidRequest is returned for appends missing tenant, action or entity.
	ErrInvalidRequest = errors.New("audit: invalid append request")
	// ErrContention is returned when the tail kept moving for every retry.
	ErrContention = errors.New("audit: chain tail contention")
)

// DefaultMaxAttempts bounds how often Append re-reads a moved tail.
const DefaultMaxAttempts = 5

// Store is the append-only row store behind the ledger. InsertEvent must
// fail with store.ErrConflict when the (tenant, seq) pair is taken.
type Store interface {
	LatestEvent(ctx context.Context, tenantID string) (*contracts.AuditEvent, error)
	InsertEvent(ctx context.Context, e *contracts.AuditEvent) error
	ListEvents(ctx context.Context, tenantID string) ([]contracts.AuditEvent, error)
	RecentEvents(ctx context.Context, tenantID string, limit int) ([]contracts.AuditEvent, error)
}

// AppendRequest describes one governance state transition.
type AppendRequest struct {
	TenantID   string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Payload    any
}

// Ledger appends and verifies hash-chained audit events.
type Ledger struct {
	store       Store
	locker      Locker
	clock       func() time.Time
	maxAttempts int
	logger      *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) Option {
	return func(ld *Ledger) { ld.locker = l }
}

// WithClock injects the event timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(ld *Ledger) { ld.clock = clock }
}

// WithMaxAttempts sets how many times Append retries after a conflict.
func WithMaxAttempts(n int) Option {
	return func(ld *Ledger) {
		if n > 0 {
			ld.maxAttempts = n
		}
	}
}

// NewLedger creates a ledger over s.
func NewLedger(s Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       s,
		locker:      NewLocalLocker(),
		clock:       time.Now,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default().With("component", "audit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records one event and returns it with its hash. Failures are
// returned to the caller, which must treat the triggering step as
// unaudited.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (*contracts.AuditEvent, error) {
	if strings.TrimSpace(req.TenantID) == "" || req.Action == "" || req.EntityType == "" {
		return nil, ErrInvalidRequest
	}
	payload, err := canonicalize.JCS(orEmpty(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalize payload: %w", err)
	}

	unlock, err := l.locker.Lock(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("audit: lock tenant %s: %w", req.TenantID, err)
	}
	defer unlock()

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		tail, err := l.store.LatestEvent(ctx, req.TenantID)
		if err != nil {
			return nil, fmt.Errorf("audit: read chain tail: %w", err)
		}

		e := &contracts.AuditEvent{
			ID:         uuid.NewString(),
			TenantID:   req.TenantID,
			Seq:        1,
			ActorID:    req.ActorID,
			Action:     req.Action,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			Payload:    payload,
			CreatedAt:  l.clock().UTC(),
		}
		if tail != nil {
			e.Seq = tail.Seq + 1
			e.PrevHash = tail.Hash
		}
		if e.Hash, err = ComputeHash(e); err != nil {
			return nil, err
		}

		err = l.store.InsertEvent(ctx, e)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("audit: insert event: %w", err)
		}
		l.logger.WarnContext(ctx, "chain tail moved, retrying append",
			"tenant_id", req.TenantID, "seq", e.Seq, "attempt", attempt)
	}
	return nil, fmt.Errorf("%w: tenant %s after %d attempts", ErrContention, req.TenantID, l.maxAttempts)
}

// hashInput is the hashed view of an event. Field names are part of the
// chain format.
type hashInput struct {
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	ActorID    string          `json:"actorId"`
	TenantID   string          `json:"tenantId"`
	PrevHash   string          `json:"prevHash"`
}

// ComputeHash recomputes the chain hash of e from its stored fields.
func ComputeHash(e *contracts.AuditEvent) (string, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	h, err := canonicalize.CanonicalHash(hashInput{
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Payload:    payload,
		ActorID:    e.ActorID,
		TenantID:   e.TenantID,
		PrevHash:   e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("audit: hash event: %w", err)
	}
	return h, nil
}

// List returns at most limit events, newest first.
func (l *Ledger) List(ctx context.Context, tenantID string, limit int) ([]contracts.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	events, err := l.store.RecentEvents(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	return events, nil
}

func orEmpty(v any) any {
	if v == nil {
		return struct{}{}
	}
	return v
}
