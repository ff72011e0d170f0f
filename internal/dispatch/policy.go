// Package dispatch routes committed alert transitions to notification
// channels. Routing is driven by CEL policy expressions evaluated against
// each transition event; delivery is retried with backoff and deduplicated
// per (alert, seq) so consumers see at most one notification per
// transition.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/coastwatch/breakwater/internal/domain"
)

// PolicyEngine compiles and evaluates CEL dispatch policies.
type PolicyEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledPolicy
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Policy  *domain.DispatchPolicy
	Program cel.Program
}

// NewPolicyEngine creates a policy engine with the transition-event
// variables in scope.
func NewPolicyEngine() (*PolicyEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("alert", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("category", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("from_status", cel.StringType),
		cel.Variable("to_status", cel.StringType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("seq", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &PolicyEngine{
		env:      env,
		compiled: make(map[string]*CompiledPolicy),
	}, nil
}

// ValidatePolicy compiles a policy without loading it.
func (e *PolicyEngine) ValidatePolicy(p *domain.DispatchPolicy) error {
	if p == nil {
		return fmt.Errorf("policy is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePolicy(p)
	return err
}

// LoadPolicy compiles and loads a single policy.
func (e *PolicyEngine) LoadPolicy(p *domain.DispatchPolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compilePolicy(p)
	if err != nil {
		return err
	}

	e.compiled[p.ID] = compiled
	return nil
}

// ReloadPolicies replaces the loaded set atomically. Disabled policies are
// skipped. This enables hot-reloading from the database.
func (e *PolicyEngine) ReloadPolicies(policies []*domain.DispatchPolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledPolicy)
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		compiled, err := e.compilePolicy(p)
		if err != nil {
			return err
		}
		next[p.ID] = compiled
	}

	e.compiled = next
	return nil
}

// Channels evaluates all loaded policies against a transition event and
// returns the union of channels from matching policies, deduplicated, in
// stable order of first match.
func (e *PolicyEngine) Channels(event *domain.TransitionEvent) []string {
	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiled))
	for _, p := range e.compiled {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	activation := map[string]any{
		"alert": map[string]any{
			"id":         event.AlertID,
			"category":   string(event.Category),
			"severity":   string(event.Severity),
			"risk_score": event.RiskScore,
		},
		"category":    string(event.Category),
		"severity":    string(event.Severity),
		"from_status": string(event.FromStatus),
		"to_status":   string(event.ToStatus),
		"risk_score":  event.RiskScore,
		"seq":         event.Seq,
	}

	seen := make(map[string]bool)
	var channels []string
	for _, p := range policies {
		out, _, err := p.Program.Eval(activation)
		if err != nil {
			continue
		}
		if matched, ok := out.(types.Bool); !ok || !bool(matched) {
			continue
		}
		for _, ch := range p.Policy.Channels {
			if !seen[ch] {
				seen[ch] = true
				channels = append(channels, ch)
			}
		}
	}

	return channels
}

// PoliciesCount returns the number of loaded policies.
func (e *PolicyEngine) PoliciesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedPolicies returns the currently loaded policy configurations.
func (e *PolicyEngine) LoadedPolicies() []*domain.DispatchPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]*domain.DispatchPolicy, 0, len(e.compiled))
	for _, compiled := range e.compiled {
		policies = append(policies, compiled.Policy)
	}
	return policies
}

func (e *PolicyEngine) compilePolicy(p *domain.DispatchPolicy) (*CompiledPolicy, error) {
	ast, issues := e.env.Compile(p.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", p.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", p.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", p.ID, err)
	}

	return &CompiledPolicy{
		Policy:  p,
		Program: program,
	}, nil
}
