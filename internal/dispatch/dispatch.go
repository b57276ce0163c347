// Package dispatch is the orchestration engine for one turn: triage,
// concurrent capability-agent fan-out, permission filtering, and
// synthesis.
//
// All selected dispatches run concurrently as independent tasks sharing
// only the immutable turn context and the read-only descriptor
// registry, so no locking is needed between agents. Each dispatch
// carries its own timeout; a timed-out dispatch is treated like a local
// failure and excluded from synthesis with a diagnostic note. A new
// turn on the same session cancels all outstanding dispatches of the
// superseded turn and discards its partial results.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mypetparlor/concierge/internal/agents"
	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/internal/permission"
	"github.com/mypetparlor/concierge/internal/synthesis"
	"github.com/mypetparlor/concierge/internal/triage"
	"github.com/mypetparlor/concierge/internal/turn"
	"github.com/mypetparlor/concierge/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ErrSuperseded reports that a newer turn arrived on the same session
// while this one was still running.
var ErrSuperseded = errors.New("turn superseded by a newer turn")

// Agents resolves a capability agent by domain.
type Agents interface {
	Get(d models.Domain) (agents.Agent, bool)
}

// Dispatcher runs turns end to end.
type Dispatcher struct {
	triage  *triage.Router
	agents  Agents
	filter  *permission.Filter
	synth   *synthesis.Synthesizer
	timeout time.Duration

	mu     sync.Mutex
	active map[string]activeTurn // session id → outstanding turn
}

type activeTurn struct {
	turnID string
	cancel context.CancelFunc
}

// New wires the dispatcher.
func New(tr *triage.Router, reg Agents, filter *permission.Filter, synth *synthesis.Synthesizer, cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		triage:  tr,
		agents:  reg,
		filter:  filter,
		synth:   synth,
		timeout: cfg.Timeout,
		active:  make(map[string]activeTurn),
	}
}

// HandleTurn runs one turn. It always returns a response unless the
// turn was superseded or the caller's context ended.
func (d *Dispatcher) HandleTurn(ctx context.Context, tc turn.Context) (models.SynthesizedResponse, error) {
	tracer := otel.Tracer("dispatch")
	ctx, span := tracer.Start(ctx, "turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("turn.id", tc.TurnID),
		attribute.String("turn.session_id", tc.SessionID),
	)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.supersede(tc.SessionID, tc.TurnID, cancel)
	defer d.release(tc.SessionID, tc.TurnID)

	intents := d.route(turnCtx, tc)

	// The data-analysis agent runs after its siblings: its input is the
	// material they fetched within this turn.
	var analysisIntent *models.IntentMatch
	fanout := intents[:0:len(intents)]
	for _, in := range intents {
		if in.Domain == models.DomainDataAnalysis {
			m := in
			analysisIntent = &m
			continue
		}
		fanout = append(fanout, in)
	}

	responses := d.fanOut(turnCtx, tc, fanout)

	if analysisIntent != nil {
		responses = append(responses, d.analyze(turnCtx, tc, *analysisIntent, responses))
	}

	if err := turnCtx.Err(); err != nil {
		// Superseded or caller gone: partial results are discarded,
		// never merged into a later turn's response.
		if ctx.Err() != nil {
			return models.SynthesizedResponse{}, ctx.Err()
		}
		return models.SynthesizedResponse{}, ErrSuperseded
	}

	resp := d.synth.Synthesize(tc.Text, responses)
	log.Info().
		Str("turn_id", tc.TurnID).
		Int("dispatches", len(responses)).
		Int("diagnostics", len(resp.Diagnostics)).
		Dur("elapsed", time.Since(tc.StartedAt)).
		Msg("turn complete")
	return resp, nil
}

// route classifies under the dispatch timeout; triage itself never
// fails a turn.
func (d *Dispatcher) route(ctx context.Context, tc turn.Context) []models.IntentMatch {
	rctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.triage.Route(rctx, tc)
}

// fanOut dispatches every intent concurrently and collects responses in
// intent order; completion order never affects output order.
func (d *Dispatcher) fanOut(ctx context.Context, tc turn.Context, intents []models.IntentMatch) []models.AgentResponse {
	responses := make([]models.AgentResponse, len(intents))

	g, gctx := errgroup.WithContext(ctx)
	for i, intent := range intents {
		i, intent := i, intent
		g.Go(func() error {
			responses[i] = d.dispatchOne(gctx, tc, intent)
			return nil
		})
	}
	// Agents contain their own failures; the only error surface here is
	// a panic, which Recoverer-style containment is not meant to hide.
	_ = g.Wait()

	filtered := make([]models.AgentResponse, 0, len(responses))
	for _, r := range responses {
		filtered = append(filtered, d.filter.Apply(tc.Identity, r))
	}
	return filtered
}

// dispatchOne runs a single agent under its own timeout. The agent's
// Handle never returns an error; a deadline overrun is converted into a
// timeout failure and the straggler's eventual result is dropped.
func (d *Dispatcher) dispatchOne(ctx context.Context, tc turn.Context, intent models.IntentMatch) models.AgentResponse {
	agent, ok := d.agents.Get(intent.Domain)
	if !ok {
		return models.AgentResponse{
			Domain: intent.Domain,
			Err:    &models.AgentError{Class: models.ErrClassInternal, Message: "no agent registered for domain"},
		}
	}

	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan models.AgentResponse, 1)
	go func() {
		done <- agent.Handle(dctx, tc, intent)
	}()

	select {
	case resp := <-done:
		return resp
	case <-dctx.Done():
		log.Warn().
			Str("domain", string(intent.Domain)).
			Str("turn_id", tc.TurnID).
			Dur("timeout", d.timeout).
			Msg("dispatch timed out")
		return models.AgentResponse{
			Domain: intent.Domain,
			Err:    &models.AgentError{Class: models.ErrClassTimeout, Message: "dispatch timed out"},
		}
	}
}

// analyze runs the data-analysis agent over the filtered payloads of
// the completed sibling dispatches.
func (d *Dispatcher) analyze(ctx context.Context, tc turn.Context, intent models.IntentMatch, siblings []models.AgentResponse) models.AgentResponse {
	agent, ok := d.agents.Get(models.DomainDataAnalysis)
	if !ok {
		return models.AgentResponse{
			Domain: models.DomainDataAnalysis,
			Err:    &models.AgentError{Class: models.ErrClassInternal, Message: "no agent registered for domain"},
		}
	}
	analyzer, ok := agent.(agents.Analyzer)
	if !ok {
		return models.AgentResponse{
			Domain: models.DomainDataAnalysis,
			Err:    &models.AgentError{Class: models.ErrClassInternal, Message: "data-analysis agent lacks analyze capability"},
		}
	}

	material := make(map[models.Domain]map[string]any)
	for _, r := range siblings {
		if len(r.Payload) > 0 {
			material[r.Domain] = r.Payload
		}
	}

	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.filter.Apply(tc.Identity, analyzer.Analyze(dctx, tc, intent, material))
}

// supersede cancels an outstanding turn on the same session and
// registers the new one.
func (d *Dispatcher) supersede(sessionID, turnID string, cancel context.CancelFunc) {
	d.mu.Lock()
	prev, ok := d.active[sessionID]
	d.active[sessionID] = activeTurn{turnID: turnID, cancel: cancel}
	d.mu.Unlock()

	if ok {
		log.Info().
			Str("session_id", sessionID).
			Str("superseded_turn_id", prev.turnID).
			Msg("cancelling superseded turn")
		prev.cancel()
	}
}

// release removes the session entry if this turn still owns it.
func (d *Dispatcher) release(sessionID, turnID string) {
	d.mu.Lock()
	if cur, ok := d.active[sessionID]; ok && cur.turnID == turnID {
		delete(d.active, sessionID)
	}
	d.mu.Unlock()
}
