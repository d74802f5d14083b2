// Package policyloader loads tenant policy bundles from a directory.
//
// A bundle is a YAML or JSON document naming a tenant (or "*" for every
// tenant), a semantic version and a possibly partial rule set. Bundles are
// validated against a JSON schema, their CEL conditions are compiled, and
// their rules are normalized against the default rule set before they can
// be served, so policy changes need no code deployment.
package policyloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/veridecide/pkg/canonicalize"
	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/governance"
)

// AllTenants is the tenant value of a bundle that applies to every tenant.
const AllTenants = "*"

// ErrInvalidBundle wraps every schema, version or condition failure.
var ErrInvalidBundle = errors.New("policyloader: invalid bundle")

const bundleSchemaURL = "https://veridecide.schemas.local/policy-bundle.schema.json"

const bundleSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "rules"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "tenant": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "active": {"type": "boolean"},
    "description": {"type": "string"},
    "rules": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "minEvidenceRatio": {"type": "number", "minimum": 0, "maximum": 1},
        "minConfidence": {"type": "number", "minimum": 0, "maximum": 1},
        "maxRisk": {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH", "low", "medium", "high"]},
        "forbidTopics": {"type": "array", "items": {"type": "string"}},
        "expressions": {"type": "object", "additionalProperties": {"type": "string", "minLength": 1}}
      }
    }
  }
}`

// bundleFile is a bundle as authored.
type bundleFile struct {
	Name        string                   `json:"name"`
	Tenant      string                   `json:"tenant"`
	Version     string                   `json:"version"`
	Active      *bool                    `json:"active"`
	Description string                   `json:"description"`
	Rules       governance.RulesDocument `json:"rules"`
}

// Bundle is a validated, normalized rule set.
type Bundle struct {
	Name     string
	Tenant   string
	Version  *semver.Version
	Active   bool
	Rules    contracts.PolicyRules
	Hash     string
	Source   string
	LoadedAt time.Time
}

// Record returns b as a policy record for tenantID.
func (b *Bundle) Record(tenantID string) *contracts.PolicyRecord {
	return &contracts.PolicyRecord{
		ID:        "bundle:" + b.Name + "@" + b.Version.Original(),
		TenantID:  tenantID,
		Name:      b.Name,
		Version:   b.Version.Original(),
		Active:    b.Active,
		Rules:     b.Rules,
		CreatedAt: b.LoadedAt,
	}
}

// Loader loads and serves policy bundles.
type Loader struct {
	mu        sync.RWMutex
	bundles   map[string]*Bundle // name -> bundle
	bundleDir string
	schema    *jsonschema.Schema
	engine    *governance.PolicyEngine
	onReload  func(bundle *Bundle)
	clock     func() time.Time
	logger    *slog.Logger
}

// NewLoader creates a loader over bundleDir. engine compiles bundle
// conditions; nil skips condition checks.
func NewLoader(bundleDir string, engine *governance.PolicyEngine) (*Loader, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(bundleSchemaURL, strings.NewReader(bundleSchema)); err != nil {
		return nil, fmt.Errorf("policyloader: schema load failed: %w", err)
	}
	schema, err := c.Compile(bundleSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("policyloader: schema compile failed: %w", err)
	}
	return &Loader{
		bundles:   make(map[string]*Bundle),
		bundleDir: bundleDir,
		schema:    schema,
		engine:    engine,
		clock:     time.Now,
		logger:    slog.Default().With("component", "policyloader"),
	}, nil
}

// OnReload registers a callback invoked when a bundle is loaded or reloaded.
func (l *Loader) OnReload(fn func(bundle *Bundle)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = fn
}

// LoadAll loads every .json, .yaml and .yml file in the bundle directory.
// The first invalid bundle aborts the load.
func (l *Loader) LoadAll() error {
	entries, err := os.ReadDir(l.bundleDir)
	if err != nil {
		return fmt.Errorf("policyloader: read dir %s: %w", l.bundleDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isBundleFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.bundleDir, entry.Name())
		if err := l.LoadFile(path); err != nil {
			return fmt.Errorf("policyloader: load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// LoadFile loads a single bundle.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	b, err := l.Parse(data, filepath.Ext(path))
	if err != nil {
		return err
	}
	b.Source = path

	l.mu.Lock()
	l.bundles[b.Name] = b
	callback := l.onReload
	l.mu.Unlock()

	l.logger.Info("policy bundle loaded", "name", b.Name, "tenant", b.Tenant, "version", b.Version.Original(), "hash", b.Hash)
	if callback != nil {
		callback(b)
	}
	return nil
}

// Parse validates a bundle document. ext selects the decoder: ".yaml" and
// ".yml" are YAML, anything else JSON.
func (l *Loader) Parse(data []byte, ext string) (*Bundle, error) {
	raw, err := toJSON(data, ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if err := l.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: schema validation failed: %v", ErrInvalidBundle, err)
	}

	var f bundleFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	ver, err := semver.NewVersion(f.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrInvalidBundle, f.Version, err)
	}
	if l.engine != nil {
		if err := l.engine.Validate(f.Rules.Expressions); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
		}
	}
	hash, err := canonicalize.CanonicalHash(json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	tenant := strings.TrimSpace(f.Tenant)
	if tenant == "" {
		tenant = AllTenants
	}
	return &Bundle{
		Name:     f.Name,
		Tenant:   tenant,
		Version:  ver,
		Active:   f.Active == nil || *f.Active,
		Rules:    governance.NormalizeRules(f.Rules),
		Hash:     hash,
		LoadedAt: l.clock().UTC(),
	}, nil
}

// GetBundle returns a loaded bundle by name.
func (l *Loader) GetBundle(name string) (*Bundle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bundles[name]
	return b, ok
}

// AllBundles returns all loaded bundles ordered by name.
func (l *Loader) AllBundles() []*Bundle {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Bundle, 0, len(l.bundles))
	for _, b := range l.bundles {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ActivePolicy returns the highest-versioned active bundle for tenantID.
// Bundles naming the tenant win over wildcard bundles. It returns nil when
// no bundle applies.
func (l *Loader) ActivePolicy(_ context.Context, tenantID string) (*contracts.PolicyRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var best, wildcard *Bundle
	for _, b := range l.bundles {
		if !b.Active {
			continue
		}
		switch b.Tenant {
		case tenantID:
			best = newer(best, b)
		case AllTenants:
			wildcard = newer(wildcard, b)
		}
	}
	if best == nil {
		best = wildcard
	}
	if best == nil {
		return nil, nil
	}
	return best.Record(tenantID), nil
}

func newer(cur, cand *Bundle) *Bundle {
	if cur == nil || cand.Version.GreaterThan(cur.Version) {
		return cand
	}
	if cand.Version.Equal(cur.Version) && cand.Name < cur.Name {
		return cand
	}
	return cur
}

func isBundleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func toJSON(data []byte, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		return out, nil
	default:
		if !json.Valid(data) {
			return nil, errors.New("parse json: malformed document")
		}
		return data, nil
	}
}
