package governance

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// Gate reasons. Forbidden topics append the matched topic.
const (
	ReasonEvidenceRatio  = "insufficient evidence ratio"
	ReasonConfidence     = "confidence below threshold"
	ReasonRiskLevel      = "risk level exceeds policy"
	ReasonForbiddenTopic = "forbidden topic detected: "
	ReasonConditionFail  = "policy condition failed: "
	ReasonConditionError = "policy condition error: "
)

// PolicyInput is what the gate evaluates.
type PolicyInput struct {
	EvidenceRatio  float64
	RiskLevel      contracts.RiskLevel
	Confidence     float64
	OutputText     string
	Classification contracts.Classification
	BiasRisk       contracts.RiskLevel
}

// Enforcement is the gate outcome. Allowed is true exactly when Reasons is empty.
type Enforcement struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons"`
}

// Verdict returns the ALLOW/BLOCK form of e.
func (e Enforcement) Verdict() contracts.Verdict {
	if e.Allowed {
		return contracts.VerdictAllow
	}
	return contracts.VerdictBlock
}

// PolicyEngine evaluates a tenant rule set. The fixed threshold checks are
// always evaluated; rule sets may add CEL conditions, compiled once and cached.
type PolicyEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewPolicyEngine initializes the CEL environment.
func NewPolicyEngine() (*PolicyEngine, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("evidence_ratio", types.DoubleType),
			decls.NewVariable("confidence", types.DoubleType),
			decls.NewVariable("risk_level", types.StringType),
			decls.NewVariable("risk_rank", types.IntType),
			decls.NewVariable("bias_risk", types.StringType),
			decls.NewVariable("classification", types.StringType),
			decls.NewVariable("output_text", types.StringType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &PolicyEngine{env: env, programs: make(map[string]cel.Program)}, nil
}

// Enforce evaluates every check without short-circuiting. A nil rules
// pointer means DefaultRules. It never fails: CEL errors become reasons.
func (pe *PolicyEngine) Enforce(rules *contracts.PolicyRules, in PolicyInput) Enforcement {
	r := DefaultRules()
	if rules != nil {
		r = *rules
	}

	reasons := []string{}
	if in.EvidenceRatio < r.MinEvidenceRatio {
		reasons = append(reasons, ReasonEvidenceRatio)
	}
	if in.Confidence < r.MinConfidence {
		reasons = append(reasons, ReasonConfidence)
	}
	if gateRank(in.RiskLevel) > maxRank(r.MaxRisk) {
		reasons = append(reasons, ReasonRiskLevel)
	}

	lower := strings.ToLower(in.OutputText)
	for _, topic := range r.ForbidTopics {
		t := strings.TrimSpace(topic)
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			reasons = append(reasons, ReasonForbiddenTopic+t)
		}
	}

	reasons = append(reasons, pe.evalConditions(r.Expressions, in)...)

	return Enforcement{Allowed: len(reasons) == 0, Reasons: reasons}
}

// Validate compiles every expression and reports the first that does not
// produce a boolean.
func (pe *PolicyEngine) Validate(expressions map[string]string) error {
	for _, name := range sortedKeys(expressions) {
		if _, err := pe.program(expressions[name]); err != nil {
			return fmt.Errorf("condition %q: %w", name, err)
		}
	}
	return nil
}

func (pe *PolicyEngine) evalConditions(expressions map[string]string, in PolicyInput) []string {
	if len(expressions) == 0 {
		return nil
	}
	if pe == nil || pe.env == nil {
		return []string{ReasonConditionError + "engine unavailable"}
	}

	vars := map[string]any{
		"evidence_ratio": in.EvidenceRatio,
		"confidence":     in.Confidence,
		"risk_level":     string(in.RiskLevel),
		"risk_rank":      int64(in.RiskLevel.Rank()),
		"bias_risk":      string(in.BiasRisk),
		"classification": string(in.Classification),
		"output_text":    in.OutputText,
	}

	var reasons []string
	for _, name := range sortedKeys(expressions) {
		prg, err := pe.program(expressions[name])
		if err != nil {
			reasons = append(reasons, ReasonConditionError+name)
			continue
		}
		out, _, err := prg.Eval(vars)
		if err != nil {
			reasons = append(reasons, ReasonConditionError+name)
			continue
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			reasons = append(reasons, ReasonConditionFail+name)
		}
	}
	return reasons
}

func (pe *PolicyEngine) program(source string) (cel.Program, error) {
	pe.mu.RLock()
	prg, ok := pe.programs[source]
	pe.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := pe.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy compilation failed: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(types.BoolType) && !out.IsExactType(types.DynType) {
		return nil, fmt.Errorf("policy condition must return bool, got %s", out)
	}
	prg, err := pe.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program construction failed: %w", err)
	}

	pe.mu.Lock()
	pe.programs[source] = prg
	pe.mu.Unlock()
	return prg, nil
}

// gateRank treats an unrecognized input tier as HIGH so the gate fails closed.
func gateRank(r contracts.RiskLevel) int {
	if n := r.Rank(); n > 0 {
		return n
	}
	return contracts.RiskHigh.Rank()
}

// maxRank treats an unrecognized ceiling as the default MEDIUM.
func maxRank(r contracts.RiskLevel) int {
	if n := r.Rank(); n > 0 {
		return n
	}
	return contracts.RiskMedium.Rank()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
