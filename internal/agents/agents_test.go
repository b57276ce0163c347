package agents_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mypetparlor/concierge/internal/agents"
	"github.com/mypetparlor/concierge/internal/audit"
	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/internal/registry"
	"github.com/mypetparlor/concierge/internal/scheduler"
	"github.com/mypetparlor/concierge/internal/tools"
	"github.com/mypetparlor/concierge/internal/turn"
	"github.com/mypetparlor/concierge/internal/weather"
	"github.com/mypetparlor/concierge/pkg/models"
)

// mockNarrator returns canned text or an error.
type mockNarrator struct {
	text string
	err  error
}

func (m *mockNarrator) Narrate(ctx context.Context, system, input string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

// newBackend serves the fixture responses of the MyPetParlor read APIs.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(path string, v any) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(v)
		})
	}
	serve("/bookings", []any{
		map[string]any{
			"id": "b1", "latitude": 52.38, "longitude": 4.90,
			"duration_minutes": 45, "date": "2025-06-02",
		},
		map[string]any{
			"id": "b2", "latitude": 52.36, "longitude": 4.88,
			"duration_minutes": 30, "date": "2025-06-02",
		},
	})
	serve("/customers", []any{
		map[string]any{"id": "c1", "name": "Ada", "notes": "prefers mornings"},
	})
	serve("/pets", []any{
		map[string]any{"id": "p1", "name": "Rex", "customerId": "c1"},
	})
	serve("/documents", []any{
		map[string]any{"id": "d1", "title": "Refund Policy"},
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newDeps(t *testing.T, backendURL string, narrator *mockNarrator) agents.Deps {
	t.Helper()
	inv := tools.NewInvoker(config.ToolsConfig{
		BaseURL:       backendURL,
		ApplicationID: "mypetparlorapp",
		MaxAttempts:   1,
		BackoffBase:   time.Millisecond,
		Timeout:       time.Second,
	}, audit.NewMemoryRecorder(64))

	return agents.Deps{
		Registry: registry.Builtin(),
		Invoker:  inv,
		Narrator: narrator,
		Booking: agents.BookingDeps{
			Optimizer: scheduler.New(config.SchedulerConfig{
				AverageSpeedKmh:     40,
				TransitBufferMin:    5,
				BlockFactor:         3.0,
				TwoOptMaxIterations: 200,
				DayStartHour:        8,
				DayEndHour:          18,
			}),
			Weather: &weather.StaticSource{},
			Depot:   models.LatLng{Lat: 52.37, Lng: 4.89},
		},
	}
}

func ownerTurn(t *testing.T, text string) turn.Context {
	t.Helper()
	identity := models.Identity{Subject: "u1", Roles: []string{"owner"}, TenantID: "t1", Token: "tok"}
	tc, err := turn.New("s1", identity, text)
	if err != nil {
		t.Fatalf("turn.New() error = %v", err)
	}
	return tc
}

func getAgent(t *testing.T, reg *agents.Registry, d models.Domain) agents.Agent {
	t.Helper()
	a, ok := reg.Get(d)
	if !ok {
		t.Fatalf("no agent registered for %s", d)
	}
	return a
}

func TestRegistry_CoversAllDomains(t *testing.T) {
	backend := newBackend(t)
	reg := agents.NewRegistry(newDeps(t, backend.URL, &mockNarrator{text: "ok"}))

	for _, d := range models.DomainPriority {
		if _, ok := reg.Get(d); !ok {
			t.Errorf("no agent for domain %s", d)
		}
	}
}

func TestSetupGuide_FallsBackWhenModelUnavailable(t *testing.T) {
	backend := newBackend(t)
	reg := agents.NewRegistry(newDeps(t, backend.URL, &mockNarrator{err: errors.New("model down")}))
	a := getAgent(t, reg, models.DomainSetupGuide)

	resp := a.Handle(context.Background(), ownerTurn(t, "how do I use this"), models.IntentMatch{Domain: models.DomainSetupGuide})

	if resp.Failed() {
		t.Fatalf("setup guide failed: %v", resp.Err)
	}
	if resp.Narrative == "" {
		t.Error("fallback narrative is empty")
	}
}

func TestToolAgent_NarrationFailureKeepsPayload(t *testing.T) {
	backend := newBackend(t)
	reg := agents.NewRegistry(newDeps(t, backend.URL, &mockNarrator{err: errors.New("model down")}))
	a := getAgent(t, reg, models.DomainCustomer)

	resp := a.Handle(context.Background(), ownerTurn(t, "list customers"), models.IntentMatch{Domain: models.DomainCustomer})

	if !resp.Failed() {
		t.Fatal("narration failure not reflected in the response")
	}
	if len(resp.Payload) == 0 {
		t.Error("fetched payload discarded on narration failure")
	}
}

func TestToolAgent_BackendFailureIsContained(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := agents.NewRegistry(newDeps(t, srv.URL, &mockNarrator{text: "ok"}))
	a := getAgent(t, reg, models.DomainDocument)

	resp := a.Handle(context.Background(), ownerTurn(t, "show the refund policy"), models.IntentMatch{Domain: models.DomainDocument})

	if !resp.Failed() {
		t.Fatal("backend failure not reflected in the response")
	}
	if resp.Err.Class != models.ErrClassTransient {
		t.Errorf("Err.Class = %q, want %q", resp.Err.Class, models.ErrClassTransient)
	}
}

func TestCustomerAgent_FetchesPetsWhenMentioned(t *testing.T) {
	backend := newBackend(t)
	reg := agents.NewRegistry(newDeps(t, backend.URL, &mockNarrator{text: "Ada has one pet, Rex."}))
	a := getAgent(t, reg, models.DomainCustomer)

	resp := a.Handle(context.Background(), ownerTurn(t, "which pets does my first customer have"), models.IntentMatch{Domain: models.DomainCustomer})

	if resp.Failed() {
		t.Fatalf("dispatch failed: %v", resp.Err)
	}
	if _, found := resp.Payload["pets"]; !found {
		t.Errorf("Payload keys = %v, want pets included", payloadKeys(resp.Payload))
	}
}

func TestBookingAgent_OptimizesWhenScheduleRequested(t *testing.T) {
	backend := newBackend(t)
	reg := agents.NewRegistry(newDeps(t, backend.URL, &mockNarrator{text: "Your optimized route has two visits."}))
	a := getAgent(t, reg, models.DomainBooking)

	resp := a.Handle(context.Background(), ownerTurn(t, "schedule tomorrow's visits efficiently"), models.IntentMatch{Domain: models.DomainBooking})

	if resp.Failed() {
		t.Fatalf("dispatch failed: %v", resp.Err)
	}
	raw, found := resp.Payload["schedule"]
	if !found {
		t.Fatalf("Payload keys = %v, want schedule included", payloadKeys(resp.Payload))
	}
	sol, ok := raw.(models.ScheduleSolution)
	if !ok {
		t.Fatalf("schedule payload is %T, want ScheduleSolution", raw)
	}
	if len(sol.Visits) != 2 {
		t.Errorf("len(Visits) = %d, want both bookings scheduled", len(sol.Visits))
	}
}

func TestBookingAgent_NoOptimizationWithoutScheduleIntent(t *testing.T) {
	backend := newBackend(t)
	reg := agents.NewRegistry(newDeps(t, backend.URL, &mockNarrator{text: "You have two bookings."}))
	a := getAgent(t, reg, models.DomainBooking)

	resp := a.Handle(context.Background(), ownerTurn(t, "list my bookings"), models.IntentMatch{Domain: models.DomainBooking})

	if resp.Failed() {
		t.Fatalf("dispatch failed: %v", resp.Err)
	}
	if _, found := resp.Payload["schedule"]; found {
		t.Error("optimizer ran without scheduling intent")
	}
}

func TestAnalysisAgent_EmptySiblingsIsNotAFailure(t *testing.T) {
	backend := newBackend(t)
	reg := agents.NewRegistry(newDeps(t, backend.URL, &mockNarrator{text: "ok"}))
	a := getAgent(t, reg, models.DomainDataAnalysis)

	analyzer := a.(agents.Analyzer)
	resp := analyzer.Analyze(context.Background(), ownerTurn(t, "analyze trends"), models.IntentMatch{Domain: models.DomainDataAnalysis}, nil)

	if resp.Failed() {
		t.Fatalf("empty-material analysis failed: %v", resp.Err)
	}
	if resp.Narrative == "" {
		t.Error("empty-material analysis produced no guidance")
	}
}

func TestAnalysisAgent_NamesItsSources(t *testing.T) {
	backend := newBackend(t)
	reg := agents.NewRegistry(newDeps(t, backend.URL, &mockNarrator{text: "Bookings are busiest on Mondays."}))
	a := getAgent(t, reg, models.DomainDataAnalysis)

	siblings := map[models.Domain]map[string]any{
		models.DomainBooking: {"bookings": []any{map[string]any{"id": "b1"}}},
	}
	analyzer := a.(agents.Analyzer)
	resp := analyzer.Analyze(context.Background(), ownerTurn(t, "analyze bookings"), models.IntentMatch{Domain: models.DomainDataAnalysis}, siblings)

	if resp.Failed() {
		t.Fatalf("analysis failed: %v", resp.Err)
	}
	sources, _ := resp.Payload["sources"].([]string)
	if len(sources) != 1 || sources[0] != string(models.DomainBooking) {
		t.Errorf("sources = %v, want [booking]", sources)
	}
}

func payloadKeys(p map[string]any) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	return keys
}
