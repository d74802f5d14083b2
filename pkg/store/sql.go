package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// SQLStore implements every record store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps db. Call Migrate before first use on a fresh database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Dialect reports the SQL flavour in use.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

const auditColumns = `id, tenant_id, seq, actor_id, action, entity_type, entity_id, payload, prev_hash, hash, created_at`

// LatestEvent returns the newest event of the tenant's chain, or nil when
// the chain is empty.
func (s *SQLStore) LatestEvent(ctx context.Context, tenantID string) (*contracts.AuditEvent, error) {
	row := s.queryRow(ctx, `SELECT `+auditColumns+` FROM audit_events WHERE tenant_id = ? ORDER BY seq DESC LIMIT 1`, tenantID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest audit event: %w", err)
	}
	return e, nil
}

// InsertEvent appends e. A second event with the same (tenant, seq)
// fails with ErrConflict.
func (s *SQLStore) InsertEvent(ctx context.Context, e *contracts.AuditEvent) error {
	_, err := s.exec(ctx, `INSERT INTO audit_events (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Seq, e.ActorID, e.Action, e.EntityType, e.EntityID, string(e.Payload), e.PrevHash, e.Hash, s.dialect.timeArg(e.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: audit seq %d for tenant %s", ErrConflict, e.Seq, e.TenantID)
	}
	if err != nil {
		return fmt.Errorf("store: insert audit event: %w", err)
	}
	return nil
}

// ListEvents returns the tenant's whole chain, oldest first.
func (s *SQLStore) ListEvents(ctx context.Context, tenantID string) ([]contracts.AuditEvent, error) {
	return s.events(ctx, `SELECT `+auditColumns+` FROM audit_events WHERE tenant_id = ? ORDER BY seq ASC`, tenantID)
}

// RecentEvents returns at most limit events, newest first.
func (s *SQLStore) RecentEvents(ctx context.Context, tenantID string, limit int) ([]contracts.AuditEvent, error) {
	return s.events(ctx, `SELECT `+auditColumns+` FROM audit_events WHERE tenant_id = ? ORDER BY seq DESC LIMIT ?`, tenantID, limit)
}

func (s *SQLStore) events(ctx context.Context, query string, args ...any) ([]contracts.AuditEvent, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []contracts.AuditEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan audit event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*contracts.AuditEvent, error) {
	var (
		e       contracts.AuditEvent
		payload string
		created scanTime
	)
	if err := r.Scan(&e.ID, &e.TenantID, &e.Seq, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &payload, &e.PrevHash, &e.Hash, &created); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.CreatedAt = created.Time
	return &e, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
