package store

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/governance"
)

// SavePolicy stores a versioned rule set. Activating a record deactivates
// every other record of the tenant so at most one is active.
func (s *SQLStore) SavePolicy(ctx context.Context, p *contracts.PolicyRecord) error {
	rules, err := marshalJSON(p.Rules)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin policy save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if p.Active {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`UPDATE policies SET active = ? WHERE tenant_id = ?`), false, p.TenantID); err != nil {
			return fmt.Errorf("store: deactivate policies: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO policies (id, tenant_id, name, version, active, rules, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.TenantID, p.Name, p.Version, p.Active, rules, s.dialect.timeArg(p.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: policy %s@%s", ErrAlreadyExists, p.Name, p.Version)
	}
	if err != nil {
		return fmt.Errorf("store: insert policy: %w", err)
	}
	return tx.Commit()
}

// ActivePolicy returns the tenant's active rule set, or nil when the tenant
// has none. Stored rules are normalized against the defaults.
func (s *SQLStore) ActivePolicy(ctx context.Context, tenantID string) (*contracts.PolicyRecord, error) {
	rows, err := s.query(ctx, `SELECT id, tenant_id, name, version, active, rules, created_at FROM policies WHERE tenant_id = ? AND active = ?`, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("store: query policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []contracts.PolicyRecord
	for rows.Next() {
		var (
			p       contracts.PolicyRecord
			rules   []byte
			created scanTime
		)
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Version, &p.Active, &rules, &created); err != nil {
			return nil, fmt.Errorf("store: scan policy: %w", err)
		}
		if p.Rules, err = governance.ParseRules(rules); err != nil {
			return nil, fmt.Errorf("store: policy %s: %w", p.ID, err)
		}
		p.CreatedAt = created.Time
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return newestPolicy(records), nil
}

// newestPolicy picks the highest semantic version among active records.
// Versions that do not parse sort below every valid one.
func newestPolicy(records []contracts.PolicyRecord) *contracts.PolicyRecord {
	var (
		best    *contracts.PolicyRecord
		bestVer *semver.Version
	)
	for i := range records {
		r := &records[i]
		if !r.Active {
			continue
		}
		v, err := semver.NewVersion(r.Version)
		if err != nil {
			v = nil
		}
		switch {
		case best == nil:
		case v == nil:
			continue
		case bestVer != nil && !v.GreaterThan(bestVer):
			continue
		}
		best, bestVer = r, v
	}
	return best
}
