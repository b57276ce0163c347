package handlers_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mypetparlor/concierge/internal/agents"
	"github.com/mypetparlor/concierge/internal/api"
	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/internal/dispatch"
	"github.com/mypetparlor/concierge/internal/permission"
	"github.com/mypetparlor/concierge/internal/registry"
	"github.com/mypetparlor/concierge/internal/synthesis"
	"github.com/mypetparlor/concierge/internal/triage"
	"github.com/mypetparlor/concierge/internal/turn"
	"github.com/mypetparlor/concierge/pkg/models"
)

type stubAgent struct {
	domain models.Domain
	resp   models.AgentResponse
}

func (a *stubAgent) Domain() models.Domain { return a.domain }
func (a *stubAgent) Handle(ctx context.Context, tc turn.Context, intent models.IntentMatch) models.AgentResponse {
	return a.resp
}

type stubAgents map[models.Domain]agents.Agent

func (s stubAgents) Get(d models.Domain) (agents.Agent, bool) {
	a, ok := s[d]
	return a, ok
}

type fixedScorer struct {
	scores map[models.Domain]float64
}

func (f *fixedScorer) Score(ctx context.Context, text string, domains []models.Domain) (map[models.Domain]float64, error) {
	return f.scores, nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	reg := registry.Builtin()
	router := triage.NewRouter(
		&fixedScorer{scores: map[models.Domain]float64{models.DomainBooking: 0.95}},
		models.DomainPriority,
		config.TriageConfig{HighConfidence: 0.8, LowConfidence: 0.4},
	)
	d := dispatch.New(
		router,
		stubAgents{
			models.DomainBooking: &stubAgent{
				domain: models.DomainBooking,
				resp: models.AgentResponse{
					Domain:    models.DomainBooking,
					Narrative: "You have three visits tomorrow.",
					Payload:   map[string]any{"bookings": []any{}},
				},
			},
		},
		permission.NewFilter(reg),
		synthesis.New(config.SynthesisConfig{EchoThreshold: 0.9}),
		config.DispatchConfig{Timeout: 5 * time.Second},
	)
	cfg := config.Load()
	return api.NewRouter(cfg, d, reg)
}

func bearer() string {
	enc := base64.RawURLEncoding.EncodeToString
	payload := `{"sub":"u1","roles":["owner"],"tenant_id":"t1","region":"eu"}`
	return "Bearer " + enc([]byte(`{"alg":"none"}`)) + "." + enc([]byte(payload)) + ".sig"
}

func postTurn(t *testing.T, h http.Handler, body string, authorize bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorize {
		req.Header.Set("Authorization", bearer())
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostTurn_HappyPath(t *testing.T) {
	h := newTestHandler(t)

	rec := postTurn(t, h, `{"text": "list my bookings", "session_id": "s1"}`, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp models.SynthesizedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.Narrative, "three visits") {
		t.Errorf("Narrative = %q, want the agent's answer", resp.Narrative)
	}
}

func TestPostTurn_MissingIdentity(t *testing.T) {
	h := newTestHandler(t)

	rec := postTurn(t, h, `{"text": "hello"}`, false)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestPostTurn_EmptyText(t *testing.T) {
	h := newTestHandler(t)

	rec := postTurn(t, h, `{"text": "   "}`, true)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostTurn_InvalidBody(t *testing.T) {
	h := newTestHandler(t)

	rec := postTurn(t, h, `{not json`, true)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListDomains(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/domains", nil)
	req.Header.Set("Authorization", bearer())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out []struct {
		Domain models.Domain `json:"domain"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	seen := make(map[models.Domain]bool)
	for _, d := range out {
		seen[d.Domain] = true
	}
	for _, d := range models.DomainPriority {
		if !seen[d] {
			t.Errorf("domain %s missing from listing", d)
		}
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %q, want health status", rec.Body.String())
	}
}
