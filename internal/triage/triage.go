// Package triage classifies a turn into one or more capability domains
// and decides which agents to dispatch.
//
// Selection policy:
//  1. Every domain at or above the high-confidence threshold is selected.
//  2. Otherwise the single best domain above the low threshold is selected.
//  3. Otherwise the turn falls back to the setup-guide agent. A turn is
//     never silently dropped, and classification uncertainty is not an
//     error.
//
// Ties at identical scores break by the fixed domain priority order so
// identical input always yields identical output.
package triage

import (
	"context"
	"sort"
	"strings"

	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/internal/llm"
	"github.com/mypetparlor/concierge/internal/turn"
	"github.com/mypetparlor/concierge/pkg/models"
	"github.com/rs/zerolog/log"
)

// Router classifies turns against the fixed domain set.
type Router struct {
	scorer  llm.Scorer
	domains []models.Domain
	high    float64
	low     float64
}

// NewRouter builds a triage router over the given dispatchable domains.
func NewRouter(scorer llm.Scorer, domains []models.Domain, cfg config.TriageConfig) *Router {
	return &Router{
		scorer:  scorer,
		domains: domains,
		high:    cfg.HighConfidence,
		low:     cfg.LowConfidence,
	}
}

// Route classifies the turn text and returns the selected intent
// matches, highest confidence first. The setup-guide fallback carries a
// zero confidence so callers can tell it apart from a scored match.
func (r *Router) Route(ctx context.Context, tc turn.Context) []models.IntentMatch {
	scores, err := r.scorer.Score(ctx, tc.Text, r.domains)
	if err != nil {
		log.Warn().
			Str("turn_id", tc.TurnID).
			Err(err).
			Msg("intent scoring failed, falling back to setup guide")
		return []models.IntentMatch{fallback(tc.Text)}
	}

	matches := make([]models.IntentMatch, 0, len(scores))
	for d, s := range scores {
		matches = append(matches, models.IntentMatch{
			Domain:     d,
			Confidence: s,
			Terms:      triggerTerms(d, tc.Text),
		})
	}
	// Deterministic order: score descending, priority order on ties.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return models.PriorityRank(matches[i].Domain) < models.PriorityRank(matches[j].Domain)
	})

	var selected []models.IntentMatch
	for _, m := range matches {
		if m.Confidence >= r.high {
			selected = append(selected, m)
		}
	}
	if len(selected) == 0 && len(matches) > 0 && matches[0].Confidence >= r.low {
		selected = matches[:1]
	}
	if len(selected) == 0 {
		log.Debug().Str("turn_id", tc.TurnID).Msg("no domain cleared the low threshold")
		return []models.IntentMatch{fallback(tc.Text)}
	}
	return selected
}

func fallback(text string) models.IntentMatch {
	return models.IntentMatch{
		Domain: models.DomainSetupGuide,
		Terms:  triggerTerms(models.DomainSetupGuide, text),
	}
}

// domainTriggers are the per-domain vocabulary hits recorded on a match
// for diagnostics. They never influence selection; scoring is the
// model's job.
var domainTriggers = map[models.Domain][]string{
	models.DomainBooking:      {"booking", "appointment", "schedule", "visit", "reschedule"},
	models.DomainCustomer:     {"customer", "client", "pet", "address"},
	models.DomainDocument:     {"document", "policy", "terms", "refund"},
	models.DomainTeam:         {"team", "employee", "staff", "groomer"},
	models.DomainTenant:       {"tenant", "business", "subscription", "billing"},
	models.DomainDataAnalysis: {"analyze", "analysis", "report", "trend", "compare"},
	models.DomainSetupGuide:   {"setup", "guide", "help", "how do i", "getting started"},
}

func triggerTerms(d models.Domain, text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, t := range domainTriggers[d] {
		if strings.Contains(lower, t) {
			hits = append(hits, t)
		}
	}
	return hits
}
