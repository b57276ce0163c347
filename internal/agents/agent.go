// Package agents implements the capability agents: one per business
// domain, each owning a fixed subset of tool operations and a
// response-generation strategy.
//
// Agents are variants over a shared interface dispatched through a
// registry keyed by domain id, not an inheritance hierarchy. Failure is
// contained here: Handle never returns an error; a failed tool call or
// narration produces an AgentResponse with a populated error field, so
// one agent's failure can never abort a sibling dispatch.
package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mypetparlor/concierge/internal/llm"
	"github.com/mypetparlor/concierge/internal/registry"
	"github.com/mypetparlor/concierge/internal/tools"
	"github.com/mypetparlor/concierge/internal/turn"
	"github.com/mypetparlor/concierge/pkg/models"
	"github.com/rs/zerolog/log"
)

// Agent handles one dispatch for its domain.
type Agent interface {
	Domain() models.Domain
	Handle(ctx context.Context, tc turn.Context, intent models.IntentMatch) models.AgentResponse
}

// Analyzer is the extra capability of the data-analysis agent: it
// operates on material already fetched by sibling agents within the
// same turn, so the dispatcher runs it after the others complete.
type Analyzer interface {
	Analyze(ctx context.Context, tc turn.Context, intent models.IntentMatch, siblings map[models.Domain]map[string]any) models.AgentResponse
}

// Registry maps domain ids to their agents, built once at startup.
type Registry struct {
	agents map[models.Domain]Agent
}

// Get returns the agent for a domain.
func (r *Registry) Get(d models.Domain) (Agent, bool) {
	a, ok := r.agents[d]
	return a, ok
}

// Domains lists registered domains in priority order.
func (r *Registry) Domains() []models.Domain {
	out := make([]models.Domain, 0, len(r.agents))
	for _, d := range models.DomainPriority {
		if _, ok := r.agents[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Deps are the collaborators shared by all agents.
type Deps struct {
	Registry *registry.Registry
	Invoker  *tools.Invoker
	Narrator llm.Narrator
	Booking  BookingDeps
}

// NewRegistry wires one agent per capability domain.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{agents: make(map[models.Domain]Agent)}

	register := func(a Agent) { r.agents[a.Domain()] = a }

	register(newBookingAgent(deps))
	register(newToolAgent(deps, models.DomainCustomer, customerPrompt, customerGather))
	register(newToolAgent(deps, models.DomainDocument, documentPrompt, documentGather))
	register(newToolAgent(deps, models.DomainTeam, teamPrompt, teamGather))
	register(newToolAgent(deps, models.DomainTenant, tenantPrompt, tenantGather))
	register(newSetupGuideAgent(deps))
	register(newAnalysisAgent(deps))

	log.Info().Int("agents", len(r.agents)).Msg("capability agents registered")
	return r
}

// ── Shared agent core ────────────────────────────────────────

// base carries the domain-scoped tool subset and shared collaborators.
type base struct {
	domain   models.Domain
	toolSet  map[string]models.ToolDescriptor
	invoker  *tools.Invoker
	narrator llm.Narrator
	prompt   string
}

func newBase(deps Deps, domain models.Domain, prompt string) base {
	set := make(map[string]models.ToolDescriptor)
	for _, d := range deps.Registry.ForDomain(domain) {
		set[d.OperationID] = d
	}
	return base{
		domain:   domain,
		toolSet:  set,
		invoker:  deps.Invoker,
		narrator: deps.Narrator,
		prompt:   prompt,
	}
}

func (b *base) Domain() models.Domain { return b.domain }

// invoke runs one of the agent's own operations. Reaching for an
// operation outside the agent's declared subset is a programming
// contract violation, distinct from any backend failure.
func (b *base) invoke(ctx context.Context, tc turn.Context, operationID string, args map[string]string) (tools.Result, error) {
	desc, ok := b.toolSet[operationID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s has no operation %s", models.ErrDomainMismatch, b.domain, operationID)
	}
	if desc.Domain != b.domain {
		return nil, fmt.Errorf("%w: operation %s belongs to %s", models.ErrDomainMismatch, operationID, desc.Domain)
	}
	return b.invoker.Invoke(ctx, tc, desc, args)
}

// respond builds the AgentResponse from gathered material: payload from
// tool results, narrative from the model. A narration failure degrades
// the response (error field set, payload kept) instead of discarding
// the fetched data.
func (b *base) respond(ctx context.Context, tc turn.Context, payload map[string]any, citations []string) models.AgentResponse {
	resp := models.AgentResponse{
		Domain:    b.domain,
		Payload:   payload,
		Citations: citations,
	}

	narrative, err := b.narrator.Narrate(ctx, b.prompt, narrativeInput(tc.Text, payload))
	if err != nil {
		log.Warn().
			Str("domain", string(b.domain)).
			Str("turn_id", tc.TurnID).
			Err(err).
			Msg("narrative generation failed")
		resp.Err = models.NewAgentError(err)
		return resp
	}
	resp.Narrative = strings.TrimSpace(narrative)
	return resp
}

// fail wraps an error into a failed response for this domain.
func (b *base) fail(tc turn.Context, err error) models.AgentResponse {
	log.Warn().
		Str("domain", string(b.domain)).
		Str("turn_id", tc.TurnID).
		Err(err).
		Msg("dispatch failed")
	return models.AgentResponse{Domain: b.domain, Err: models.NewAgentError(err)}
}

// narrativeInput renders the user question plus a compact, stable view
// of the structured material for the model to narrate over. Keys are
// sorted so identical payloads produce identical prompts.
func narrativeInput(text string, payload map[string]any) string {
	var sb strings.Builder
	sb.WriteString("User request: ")
	sb.WriteString(text)
	if len(payload) > 0 {
		sb.WriteString("\n\nFetched data:")
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("\n- %s: %v", k, payload[k]))
		}
	}
	return sb.String()
}
