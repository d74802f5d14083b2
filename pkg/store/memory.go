package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/rag"
)

// MemoryStore keeps every record in process. It enforces the same
// uniqueness rules as the SQL schema.
type MemoryStore struct {
	mu sync.RWMutex

	prompts     map[string]contracts.Prompt
	analyses    map[string]contracts.PromptAnalysis
	bias        []biasRow
	documents   map[string]contracts.Document
	versions    map[string]contracts.DocumentVersion
	chunks      []contracts.EvidenceChunk
	sessions    map[string]contracts.RAGSession
	outputs     map[string]contracts.CandidateOutput
	invocations map[string]contracts.ModelInvocation
	citations   map[string][]contracts.Citation
	validations map[string]contracts.ValidationResult
	decisions   map[string]contracts.PolicyDecision
	reviews     map[string]contracts.Review
	policies    []contracts.PolicyRecord
	events      map[string][]contracts.AuditEvent
}

type biasRow struct {
	TenantID   string
	EntityType string
	EntityID   string
	Analysis   contracts.BiasAnalysis
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prompts:     make(map[string]contracts.Prompt),
		analyses:    make(map[string]contracts.PromptAnalysis),
		documents:   make(map[string]contracts.Document),
		versions:    make(map[string]contracts.DocumentVersion),
		sessions:    make(map[string]contracts.RAGSession),
		outputs:     make(map[string]contracts.CandidateOutput),
		invocations: make(map[string]contracts.ModelInvocation),
		citations:   make(map[string][]contracts.Citation),
		validations: make(map[string]contracts.ValidationResult),
		decisions:   make(map[string]contracts.PolicyDecision),
		reviews:     make(map[string]contracts.Review),
		events:      make(map[string][]contracts.AuditEvent),
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// LatestEvent returns the newest event of the tenant's chain, or nil.
func (m *MemoryStore) LatestEvent(_ context.Context, tenantID string) (*contracts.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.events[tenantID]
	if len(chain) == 0 {
		return nil, nil
	}
	e := chain[len(chain)-1]
	return &e, nil
}

// InsertEvent appends e if its sequence directly follows the tenant's tail.
func (m *MemoryStore) InsertEvent(_ context.Context, e *contracts.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.events[e.TenantID]
	if int64(len(chain))+1 != e.Seq {
		return fmt.Errorf("%w: audit seq %d for tenant %s", ErrConflict, e.Seq, e.TenantID)
	}
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	m.events[e.TenantID] = append(chain, cp)
	return nil
}

// ListEvents returns the tenant's chain, oldest first.
func (m *MemoryStore) ListEvents(_ context.Context, tenantID string) ([]contracts.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]contracts.AuditEvent{}, m.events[tenantID]...), nil
}

// RecentEvents returns at most limit events, newest first.
func (m *MemoryStore) RecentEvents(_ context.Context, tenantID string, limit int) ([]contracts.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.events[tenantID]
	out := make([]contracts.AuditEvent, 0, len(chain))
	for i := len(chain) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, chain[i])
	}
	return out, nil
}

// TamperEvent overwrites a stored event in place. It exists so that
// integrity checks can be exercised; nothing in the pipeline calls it.
func (m *MemoryStore) TamperEvent(tenantID string, seq int64, mutate func(*contracts.AuditEvent)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.events[tenantID]
	if seq < 1 || seq > int64(len(chain)) {
		return false
	}
	mutate(&chain[seq-1])
	return true
}

// InsertDocument registers a trusted source.
func (m *MemoryStore) InsertDocument(_ context.Context, d *contracts.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[d.ID]; ok {
		return fmt.Errorf("%w: document %s", ErrAlreadyExists, d.ID)
	}
	m.documents[d.ID] = *d
	return nil
}

// GetDocument returns one of the tenant's documents.
func (m *MemoryStore) GetDocument(_ context.Context, tenantID, id string) (*contracts.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok || d.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &d, nil
}

// InsertVersion stores an immutable document body reference.
func (m *MemoryStore) InsertVersion(_ context.Context, v *contracts.DocumentVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[v.DocumentID]; !ok {
		return fmt.Errorf("%w: document %s", ErrNotFound, v.DocumentID)
	}
	for _, existing := range m.versions {
		if existing.DocumentID == v.DocumentID && existing.Version == v.Version {
			return fmt.Errorf("%w: version %d of document %s", ErrAlreadyExists, v.Version, v.DocumentID)
		}
	}
	m.versions[v.ID] = *v
	return nil
}

// InsertChunks stores chunks with their embeddings.
func (m *MemoryStore) InsertChunks(_ context.Context, chunks []contracts.EvidenceChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if _, ok := m.versions[c.VersionID]; !ok {
			return fmt.Errorf("%w: version %s", ErrNotFound, c.VersionID)
		}
	}
	for _, c := range chunks {
		c.Embedding = append([]float32(nil), c.Embedding...)
		m.chunks = append(m.chunks, c)
	}
	return nil
}

// QueryTopK ranks the tenant's chunks against vector.
func (m *MemoryStore) QueryTopK(_ context.Context, tenantID string, vector []float32, k int) ([]contracts.ScoredChunk, error) {
	m.mu.RLock()
	var candidates []contracts.ScoredChunk
	for _, c := range m.chunks {
		if c.TenantID != tenantID {
			continue
		}
		doc := m.documents[c.DocumentID]
		candidates = append(candidates, contracts.ScoredChunk{
			Chunk:         c,
			SourceType:    doc.SourceType,
			DocumentTitle: doc.Title,
			SourceURI:     doc.SourceURI,
		})
	}
	m.mu.RUnlock()
	return rag.RankChunks(vector, candidates, k), nil
}

// CreatePrompt stores a submitted prompt.
func (m *MemoryStore) CreatePrompt(_ context.Context, p *contracts.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prompts[p.ID]; ok {
		return fmt.Errorf("%w: prompt %s", ErrAlreadyExists, p.ID)
	}
	m.prompts[p.ID] = *p
	return nil
}

// GetPrompt returns one of the tenant's prompts.
func (m *MemoryStore) GetPrompt(_ context.Context, tenantID, id string) (*contracts.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prompts[id]
	if !ok || p.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &p, nil
}

// SavePromptAnalysis stores the domain classification of a prompt.
func (m *MemoryStore) SavePromptAnalysis(_ context.Context, _ string, a *contracts.PromptAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analyses[a.PromptID]; ok {
		return fmt.Errorf("%w: analysis of prompt %s", ErrAlreadyExists, a.PromptID)
	}
	m.analyses[a.PromptID] = *a
	return nil
}

// SaveBiasAnalysis stores one bias pass.
func (m *MemoryStore) SaveBiasAnalysis(_ context.Context, tenantID, entityType, entityID string, a *contracts.BiasAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bias = append(m.bias, biasRow{TenantID: tenantID, EntityType: entityType, EntityID: entityID, Analysis: *a})
	return nil
}

// BiasAnalyses returns the bias passes recorded for an entity.
func (m *MemoryStore) BiasAnalyses(tenantID, entityID string) []contracts.BiasAnalysis {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []contracts.BiasAnalysis
	for _, b := range m.bias {
		if b.TenantID == tenantID && b.EntityID == entityID {
			out = append(out, b.Analysis)
		}
	}
	return out
}

// SaveRAGSession records what retrieval returned for a prompt.
func (m *MemoryStore) SaveRAGSession(_ context.Context, r *contracts.RAGSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[r.ID] = *r
	return nil
}

// CreateOutput stores a candidate output.
func (m *MemoryStore) CreateOutput(_ context.Context, o *contracts.CandidateOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prompts[o.PromptID]; !ok {
		return fmt.Errorf("%w: prompt %s", ErrNotFound, o.PromptID)
	}
	if _, ok := m.outputs[o.ID]; ok {
		return fmt.Errorf("%w: output %s", ErrAlreadyExists, o.ID)
	}
	m.outputs[o.ID] = *o
	return nil
}

// GetOutput returns one of the tenant's outputs.
func (m *MemoryStore) GetOutput(_ context.Context, tenantID, id string) (*contracts.CandidateOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outputs[id]
	if !ok || o.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &o, nil
}

// ListOutputs returns the tenant's newest outputs, optionally filtered by status.
func (m *MemoryStore) ListOutputs(_ context.Context, tenantID string, status contracts.OutputStatus, limit int) ([]contracts.CandidateOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []contracts.CandidateOutput{}
	for _, o := range m.outputs {
		if o.TenantID != tenantID || (status != "" && o.Status != status) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateOutputScores applies the scoring stage to an output.
func (m *MemoryStore) UpdateOutputScores(_ context.Context, tenantID, outputID string, sc contracts.OutputScores) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outputs[outputID]
	if !ok || o.TenantID != tenantID {
		return ErrNotFound
	}
	conf := sc.Confidence
	o.Confidence = &conf
	o.RiskLevel = sc.RiskLevel
	o.BiasFlags = append([]string{}, sc.BiasFlags...)
	o.BiasRisk = sc.BiasRisk
	o.ConfidenceInternal = sc.ConfidenceInternal
	o.ConfidenceOpenSource = sc.ConfidenceOpenSource
	o.UpdatedAt = time.Now().UTC()
	m.outputs[outputID] = o
	return nil
}

// UpdateOutputStatus moves an output through the governance gate.
func (m *MemoryStore) UpdateOutputStatus(_ context.Context, tenantID, outputID string, status contracts.OutputStatus, governedOutput string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outputs[outputID]
	if !ok || o.TenantID != tenantID {
		return ErrNotFound
	}
	o.Status = status
	o.GovernedOutput = governedOutput
	o.UpdatedAt = time.Now().UTC()
	m.outputs[outputID] = o
	return nil
}

// SaveModelInvocation records the model behind an output.
func (m *MemoryStore) SaveModelInvocation(_ context.Context, inv *contracts.ModelInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations[inv.ID] = *inv
	return nil
}

// SaveCitations stores the [S#] bindings of an output.
func (m *MemoryStore) SaveCitations(_ context.Context, citations []contracts.Citation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range citations {
		m.citations[c.OutputID] = append(m.citations[c.OutputID], c)
	}
	return nil
}

// ListCitations returns an output's citations in tag order.
func (m *MemoryStore) ListCitations(_ context.Context, tenantID, outputID string) ([]contracts.Citation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []contracts.Citation{}
	for _, c := range m.citations[outputID] {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

// SaveValidation writes the output's validation result once.
func (m *MemoryStore) SaveValidation(_ context.Context, v *contracts.ValidationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.validations[v.OutputID]; ok {
		return fmt.Errorf("%w: validation of output %s", ErrAlreadyExists, v.OutputID)
	}
	cp := *v
	cp.Issues = append([]contracts.ClaimIssue{}, v.Issues...)
	m.validations[v.OutputID] = cp
	return nil
}

// GetValidation returns the validation result of an output.
func (m *MemoryStore) GetValidation(_ context.Context, tenantID, outputID string) (*contracts.ValidationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.validations[outputID]
	if !ok || v.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &v, nil
}

// SavePolicyDecision writes the output's gate decision once.
func (m *MemoryStore) SavePolicyDecision(_ context.Context, d *contracts.PolicyDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.decisions[d.OutputID]; ok {
		return fmt.Errorf("%w: policy decision of output %s", ErrAlreadyExists, d.OutputID)
	}
	cp := *d
	cp.Reasons = append([]string{}, d.Reasons...)
	m.decisions[d.OutputID] = cp
	return nil
}

// GetPolicyDecision returns the gate decision of an output.
func (m *MemoryStore) GetPolicyDecision(_ context.Context, tenantID, outputID string) (*contracts.PolicyDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[outputID]
	if !ok || d.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &d, nil
}

// ApplyReview stores a human review and moves the output to the reviewed status.
func (m *MemoryStore) ApplyReview(_ context.Context, r *contracts.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outputs[r.OutputID]
	if !ok || o.TenantID != r.TenantID {
		return ErrNotFound
	}
	if _, ok := m.reviews[r.OutputID]; ok {
		return fmt.Errorf("%w: output %s already reviewed", ErrConflict, r.OutputID)
	}
	m.reviews[r.OutputID] = *r
	o.Status = contracts.OutputStatus(r.Decision)
	if r.ModifiedContent != "" {
		o.GovernedOutput = r.ModifiedContent
		o.ReviewedContent = r.ModifiedContent
	}
	o.UpdatedAt = r.CreatedAt
	m.outputs[r.OutputID] = o
	return nil
}

// HasReview reports whether the output was already reviewed.
func (m *MemoryStore) HasReview(_ context.Context, tenantID, outputID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviews[outputID]
	return ok && r.TenantID == tenantID, nil
}

// SavePolicy stores a versioned rule set, deactivating the tenant's other
// records when p is active.
func (m *MemoryStore) SavePolicy(_ context.Context, p *contracts.PolicyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.policies {
		existing := &m.policies[i]
		if existing.TenantID != p.TenantID {
			continue
		}
		if existing.Name == p.Name && existing.Version == p.Version {
			return fmt.Errorf("%w: policy %s@%s", ErrAlreadyExists, p.Name, p.Version)
		}
	}
	if p.Active {
		for i := range m.policies {
			if m.policies[i].TenantID == p.TenantID {
				m.policies[i].Active = false
			}
		}
	}
	m.policies = append(m.policies, *p)
	return nil
}

// ActivePolicy returns the tenant's active rule set, or nil.
func (m *MemoryStore) ActivePolicy(_ context.Context, tenantID string) (*contracts.PolicyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []contracts.PolicyRecord
	for _, p := range m.policies {
		if p.TenantID == tenantID && p.Active {
			records = append(records, p)
		}
	}
	return newestPolicy(records), nil
}
