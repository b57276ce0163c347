package agents

import (
	"context"
	"strings"

	"github.com/mypetparlor/concierge/internal/turn"
	"github.com/mypetparlor/concierge/pkg/models"
)

// gatherFunc fetches a domain's structured material for a turn.
// It returns the payload and the operation ids consulted.
type gatherFunc func(ctx context.Context, tc turn.Context, b *base) (map[string]any, []string, error)

// toolAgent is the generic variant: gather tool results, then narrate.
// Most domains differ only in their prompt and gather strategy.
type toolAgent struct {
	base
	gather gatherFunc
}

func newToolAgent(deps Deps, domain models.Domain, prompt string, gather gatherFunc) *toolAgent {
	return &toolAgent{base: newBase(deps, domain, prompt), gather: gather}
}

func (a *toolAgent) Handle(ctx context.Context, tc turn.Context, intent models.IntentMatch) models.AgentResponse {
	payload, citations, err := a.gather(ctx, tc, &a.base)
	if err != nil {
		return a.fail(tc, err)
	}
	return a.respond(ctx, tc, payload, citations)
}

// ── Domain strategies ────────────────────────────────────────

const customerPrompt = `You answer questions about the business's customers using only the fetched data.
The canonical customer identifier is the "id" field; never use "userId" or "uid".
Do not repeat the user's question. Do not mention fields absent from the data.`

func customerGather(ctx context.Context, tc turn.Context, b *base) (map[string]any, []string, error) {
	payload := map[string]any{}
	var citations []string

	customers, err := b.invoke(ctx, tc, "customer.list", nil)
	if err != nil {
		return nil, nil, err
	}
	payload["customers"] = customers["items"]
	citations = append(citations, "customer.list")

	// Customer-scoped lookups need the customer id first; pets and
	// addresses are fetched when the question mentions them.
	lower := strings.ToLower(tc.Text)
	if id := firstItemID(customers); id != "" {
		if strings.Contains(lower, "pet") {
			if pets, err := b.invoke(ctx, tc, "customer.pets", map[string]string{"customerId": id}); err == nil {
				payload["pets"] = pets["items"]
				citations = append(citations, "customer.pets")
			}
		}
		if strings.Contains(lower, "address") {
			if addrs, err := b.invoke(ctx, tc, "customer.addresses", map[string]string{"customerId": id}); err == nil {
				payload["addresses"] = addrs["items"]
				citations = append(citations, "customer.addresses")
			}
		}
	}
	return payload, citations, nil
}

const documentPrompt = `You answer questions about the business's legal documents (refund policy, terms) using only the fetched data.
Do not repeat the user's question. Quote document titles exactly.`

func documentGather(ctx context.Context, tc turn.Context, b *base) (map[string]any, []string, error) {
	docs, err := b.invoke(ctx, tc, "document.list", nil)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"documents": docs["items"]}, []string{"document.list"}, nil
}

const teamPrompt = `You answer questions about the business's teams and employees using only the fetched data.
Do not repeat the user's question.`

func teamGather(ctx context.Context, tc turn.Context, b *base) (map[string]any, []string, error) {
	payload := map[string]any{}
	var citations []string

	teams, err := b.invoke(ctx, tc, "team.list", nil)
	if err != nil {
		return nil, nil, err
	}
	payload["teams"] = teams["items"]
	citations = append(citations, "team.list")

	if strings.Contains(strings.ToLower(tc.Text), "employee") || strings.Contains(strings.ToLower(tc.Text), "staff") {
		if emps, err := b.invoke(ctx, tc, "team.employees", nil); err == nil {
			payload["employees"] = emps["items"]
			citations = append(citations, "team.employees")
		}
	}
	return payload, citations, nil
}

const tenantPrompt = `You answer questions about the tenant's own business account using only the fetched data.
Do not repeat the user's question.`

func tenantGather(ctx context.Context, tc turn.Context, b *base) (map[string]any, []string, error) {
	tenant, err := b.invoke(ctx, tc, "tenant.get", map[string]string{"id": tc.Identity.TenantID})
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"tenant": map[string]any(tenant)}, []string{"tenant.get"}, nil
}

// firstItemID pulls the canonical id from the first item of a list
// result. The backend's canonical identifier is always "id".
func firstItemID(res map[string]any) string {
	items, _ := res["items"].([]any)
	if len(items) == 0 {
		return ""
	}
	first, _ := items[0].(map[string]any)
	if id, ok := first["id"].(string); ok {
		return id
	}
	return ""
}

// ── Setup-guide agent ────────────────────────────────────────

const setupGuidePrompt = `You are the onboarding guide for the MyPetParlor assistant.
Explain what the assistant can do and how to phrase requests. Be brief and concrete.
Do not repeat the user's question.`

// setupGuideFallback is returned when the model is unavailable; the
// setup-guide agent is the triage fallback and must never fail a turn.
const setupGuideFallback = `I can help with bookings and scheduling, customers and their pets, legal documents, teams and staff, and your business account. Try asking, for example, "what bookings do we have tomorrow?" or "show me the refund policy".`

type setupGuideAgent struct {
	base
}

func newSetupGuideAgent(deps Deps) *setupGuideAgent {
	return &setupGuideAgent{base: newBase(deps, models.DomainSetupGuide, setupGuidePrompt)}
}

func (a *setupGuideAgent) Handle(ctx context.Context, tc turn.Context, intent models.IntentMatch) models.AgentResponse {
	narrative, err := a.narrator.Narrate(ctx, a.prompt, "User request: "+tc.Text)
	if err != nil {
		// Degrade to the static guide rather than failing the fallback path.
		narrative = setupGuideFallback
	}
	return models.AgentResponse{
		Domain:    a.domain,
		Narrative: strings.TrimSpace(narrative),
	}
}

// ── Data-analysis agent ──────────────────────────────────────

const analysisPrompt = `You are an expert in analyzing business data that was already fetched by other agents in this turn.
Work only from the provided data; never invent numbers. Summarize trends, totals, and comparisons relevant to the question.
Do not repeat the user's question.`

type analysisAgent struct {
	base
}

func newAnalysisAgent(deps Deps) *analysisAgent {
	return &analysisAgent{base: newBase(deps, models.DomainDataAnalysis, analysisPrompt)}
}

// Handle without sibling material can only report that there is nothing
// to analyze; the dispatcher normally calls Analyze instead.
func (a *analysisAgent) Handle(ctx context.Context, tc turn.Context, intent models.IntentMatch) models.AgentResponse {
	return a.Analyze(ctx, tc, intent, nil)
}

// Analyze runs over the structured payloads of the turn's completed
// sibling dispatches.
func (a *analysisAgent) Analyze(ctx context.Context, tc turn.Context, intent models.IntentMatch, siblings map[models.Domain]map[string]any) models.AgentResponse {
	if len(siblings) == 0 {
		return models.AgentResponse{
			Domain:    a.domain,
			Narrative: "There is no fetched data to analyze in this request. Ask for the data first, or combine the request, e.g. \"list this month's bookings and analyze the busiest days\".",
		}
	}

	material := map[string]any{}
	for dom, payload := range siblings {
		material[string(dom)] = payload
	}
	payload := map[string]any{"sources": domainNames(siblings)}

	narrative, err := a.narrator.Narrate(ctx, a.prompt, narrativeInput(tc.Text, material))
	if err != nil {
		return a.fail(tc, err)
	}
	return models.AgentResponse{
		Domain:    a.domain,
		Payload:   payload,
		Narrative: strings.TrimSpace(narrative),
	}
}

func domainNames(siblings map[models.Domain]map[string]any) []string {
	var names []string
	for _, d := range models.DomainPriority {
		if _, ok := siblings[d]; ok {
			names = append(names, string(d))
		}
	}
	return names
}
