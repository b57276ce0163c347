// Package permission strips structured response fields the caller's
// role claims do not permit.
//
// The filter runs exactly once per agent response, after the synthesis
// input is assembled and before anything leaves the core. It touches
// structured payloads only, never narrative text wholesale; the
// capability agent is responsible for not narrating forbidden fields in
// the first place, and this filter is the defense-in-depth backstop.
package permission

import (
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mypetparlor/concierge/internal/registry"
	"github.com/mypetparlor/concierge/pkg/models"
	"github.com/rs/zerolog/log"
)

// Filter evaluates field visibility rules against identity claims.
type Filter struct {
	registry *registry.Registry

	mu       sync.Mutex
	programs map[string]*vm.Program
}

// NewFilter builds a filter over the descriptor registry's field rules.
func NewFilter(reg *registry.Registry) *Filter {
	return &Filter{
		registry: reg,
		programs: make(map[string]*vm.Program),
	}
}

// Apply returns a copy of the response with every field the identity is
// not entitled to removed. The input response is never mutated.
func (f *Filter) Apply(identity models.Identity, resp models.AgentResponse) models.AgentResponse {
	if len(resp.Payload) == 0 {
		return resp
	}

	rules := f.domainRules(resp.Domain)
	if len(rules) == 0 {
		return resp
	}

	payload := deepCopy(resp.Payload)
	for _, rule := range rules {
		if f.permitted(identity, rule) {
			continue
		}
		stripEverywhere(payload, strings.Split(rule.Path, "."))
	}

	out := resp
	out.Payload = payload
	return out
}

// domainRules is the union of field rules across a domain's operations;
// merged payloads can carry fields from any of them.
func (f *Filter) domainRules(d models.Domain) []models.FieldRule {
	var rules []models.FieldRule
	for _, desc := range f.registry.ForDomain(d) {
		rules = append(rules, desc.FieldRules...)
	}
	return rules
}

// permitted reports whether the identity satisfies one rule. A rule
// with both a role set and a condition requires both.
func (f *Filter) permitted(identity models.Identity, rule models.FieldRule) bool {
	if len(rule.Roles) > 0 && !identity.HasAnyRole(rule.Roles) {
		return false
	}
	if rule.Condition != "" && !f.evalCondition(identity, rule.Condition) {
		return false
	}
	return true
}

// evalCondition runs an expression like `"owner" in roles` over the
// identity claims. A condition that fails to compile or evaluate denies
// the field: an unevaluable rule must not leak data.
func (f *Filter) evalCondition(identity models.Identity, condition string) bool {
	program, err := f.compile(condition)
	if err != nil {
		log.Error().Str("condition", condition).Err(err).Msg("field rule condition failed to compile")
		return false
	}

	env := map[string]any{
		"roles":   identity.Roles,
		"subject": identity.Subject,
		"tenant":  identity.TenantID,
		"region":  identity.Region,
	}
	out, err := expr.Run(program, env)
	if err != nil {
		log.Error().Str("condition", condition).Err(err).Msg("field rule condition failed to evaluate")
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (f *Filter) compile(condition string) (*vm.Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.programs[condition]; ok {
		return p, nil
	}
	p, err := expr.Compile(condition, expr.AsBool())
	if err != nil {
		return nil, err
	}
	f.programs[condition] = p
	return p, nil
}

// stripEverywhere removes the dotted path wherever it matches in the
// tree: at the current object and inside every nested object and list
// element. Backstop semantics favor over-removal over leakage.
func stripEverywhere(node any, segments []string) {
	switch v := node.(type) {
	case map[string]any:
		stripAt(v, segments)
		for _, child := range v {
			stripEverywhere(child, segments)
		}
	case []any:
		for _, el := range v {
			stripEverywhere(el, segments)
		}
	}
}

// stripAt removes the path rooted exactly at this object.
func stripAt(obj map[string]any, segments []string) {
	if len(segments) == 1 {
		delete(obj, segments[0])
		return
	}
	child := obj[segments[0]]
	switch c := child.(type) {
	case map[string]any:
		stripAt(c, segments[1:])
	case []any:
		for _, el := range c {
			if m, ok := el.(map[string]any); ok {
				stripAt(m, segments[1:])
			}
		}
	}
}

func deepCopy(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = copyValue(el)
		}
		return out
	default:
		return v
	}
}
