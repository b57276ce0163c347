// Package synthesis merges per-agent outputs into the final turn
// response.
//
// Sections follow the fixed domain priority order regardless of which
// dispatch finished first. Narratives that merely restate the user's
// input (echoes) are suppressed; their structured payloads are kept.
// A turn always produces a response: at worst a partial answer with a
// diagnostic naming the domains that could not complete, and only when
// every selected domain fails a single "unable to complete request"
// answer.
package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/pkg/models"
	"github.com/rs/zerolog/log"
)

// UnableMessage is the whole-turn failure answer.
const UnableMessage = "I was unable to complete your request. Please try again."

// Synthesizer merges agent responses for one turn.
type Synthesizer struct {
	echoThreshold float64
}

// New builds a synthesizer with the configured echo threshold.
func New(cfg config.SynthesisConfig) *Synthesizer {
	return &Synthesizer{echoThreshold: cfg.EchoThreshold}
}

// Synthesize merges the responses. userText is the original turn input
// used for echo detection.
func (s *Synthesizer) Synthesize(userText string, responses []models.AgentResponse) models.SynthesizedResponse {
	ordered := append([]models.AgentResponse(nil), responses...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return models.PriorityRank(ordered[i].Domain) < models.PriorityRank(ordered[j].Domain)
	})

	out := models.SynthesizedResponse{
		Payloads: make(map[models.Domain]map[string]any),
	}

	var sections []string
	failures := 0

	for _, resp := range ordered {
		if resp.Failed() {
			failures++
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("%s: could not complete (%s)", resp.Domain, resp.Err.Class))
		}

		// Payloads are kept even for degraded responses; each domain
		// owns its own key so no agent can overwrite another's data.
		if len(resp.Payload) > 0 {
			out.Payloads[resp.Domain] = resp.Payload
			out.Domains = append(out.Domains, resp.Domain)
		} else if !resp.Failed() {
			out.Domains = append(out.Domains, resp.Domain)
		}

		if resp.Failed() || resp.Narrative == "" {
			continue
		}

		if sim := jaccard(tokens(resp.Narrative), tokens(userText)); sim >= s.echoThreshold {
			log.Debug().
				Str("domain", string(resp.Domain)).
				Float64("similarity", sim).
				Msg("narrative suppressed as echo")
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("%s: narrative suppressed as near-verbatim restatement", resp.Domain))
			continue
		}

		sections = append(sections, sectionHeader(resp.Domain)+resp.Narrative)
	}

	if failures == len(ordered) && len(ordered) > 0 {
		out.Narrative = UnableMessage
		return out
	}

	if len(sections) == 0 {
		// Everything was suppressed or payload-only; never return an
		// empty answer.
		out.Narrative = "I found the requested data; see the structured results."
		if len(out.Payloads) == 0 {
			out.Narrative = UnableMessage
		}
		return out
	}

	// Single-domain answers skip the section label.
	if len(sections) == 1 {
		out.Narrative = strings.TrimSpace(stripHeader(sections[0]))
		return out
	}

	out.Narrative = strings.Join(sections, "\n\n")
	return out
}

func sectionHeader(d models.Domain) string {
	return "[" + strings.ReplaceAll(string(d), "_", " ") + "]\n"
}

func stripHeader(section string) string {
	if strings.HasPrefix(section, "[") {
		if i := strings.Index(section, "]\n"); i >= 0 {
			return section[i+2:]
		}
	}
	return section
}

// ── Echo detection ───────────────────────────────────────────

// jaccard is the token-set similarity of two texts: |A∩B| / |A∪B|.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if f != "" {
			out[f] = struct{}{}
		}
	}
	return out
}
