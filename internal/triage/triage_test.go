package triage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/internal/triage"
	"github.com/mypetparlor/concierge/internal/turn"
	"github.com/mypetparlor/concierge/pkg/models"
)

// mockScorer returns a fixed score map or error.
type mockScorer struct {
	scores map[models.Domain]float64
	err    error
}

func (m *mockScorer) Score(ctx context.Context, text string, domains []models.Domain) (map[models.Domain]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.scores, nil
}

func testTurn(t *testing.T, text string) turn.Context {
	t.Helper()
	identity := models.Identity{Subject: "u1", Roles: []string{"owner"}, TenantID: "t1"}
	tc, err := turn.New("s1", identity, text)
	if err != nil {
		t.Fatalf("turn.New() error = %v", err)
	}
	return tc
}

func newRouter(s *mockScorer) *triage.Router {
	return triage.NewRouter(s, models.DomainPriority, config.TriageConfig{
		HighConfidence: 0.8,
		LowConfidence:  0.4,
	})
}

func TestRoute_SelectsAllHighConfidence(t *testing.T) {
	r := newRouter(&mockScorer{scores: map[models.Domain]float64{
		models.DomainBooking:  0.92,
		models.DomainCustomer: 0.85,
		models.DomainDocument: 0.30,
	}})

	got := r.Route(context.Background(), testTurn(t, "reschedule the appointment for my client"))

	if len(got) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(got))
	}
	if got[0].Domain != models.DomainBooking || got[1].Domain != models.DomainCustomer {
		t.Errorf("domains = [%s %s], want [booking customer]", got[0].Domain, got[1].Domain)
	}
}

func TestRoute_SingleBestAboveLowThreshold(t *testing.T) {
	r := newRouter(&mockScorer{scores: map[models.Domain]float64{
		models.DomainBooking:  0.55,
		models.DomainCustomer: 0.45,
	}})

	got := r.Route(context.Background(), testTurn(t, "something about a visit"))

	if len(got) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(got))
	}
	if got[0].Domain != models.DomainBooking {
		t.Errorf("domain = %s, want booking", got[0].Domain)
	}
}

func TestRoute_FallsBackBelowLowThreshold(t *testing.T) {
	r := newRouter(&mockScorer{scores: map[models.Domain]float64{
		models.DomainBooking: 0.1,
		models.DomainTenant:  0.2,
	}})

	got := r.Route(context.Background(), testTurn(t, "what is the weather on mars"))

	if len(got) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(got))
	}
	if got[0].Domain != models.DomainSetupGuide {
		t.Errorf("domain = %s, want setup_guide", got[0].Domain)
	}
	if got[0].Confidence != 0 {
		t.Errorf("fallback Confidence = %v, want 0", got[0].Confidence)
	}
}

func TestRoute_ScorerFailureFallsBack(t *testing.T) {
	r := newRouter(&mockScorer{err: errors.New("model unavailable")})

	got := r.Route(context.Background(), testTurn(t, "anything"))

	if len(got) != 1 || got[0].Domain != models.DomainSetupGuide {
		t.Fatalf("matches = %v, want single setup_guide fallback", got)
	}
}

func TestRoute_TieBreaksByPriority(t *testing.T) {
	scores := map[models.Domain]float64{
		models.DomainTenant:   0.9,
		models.DomainBooking:  0.9,
		models.DomainCustomer: 0.9,
	}
	r := newRouter(&mockScorer{scores: scores})

	// Map iteration order varies; selection order must not.
	var first []models.IntentMatch
	for i := 0; i < 10; i++ {
		got := r.Route(context.Background(), testTurn(t, "tied scores"))
		if first == nil {
			first = got
			continue
		}
		if len(got) != len(first) {
			t.Fatalf("run %d: len = %d, want %d", i, len(got), len(first))
		}
		for j := range got {
			if got[j].Domain != first[j].Domain {
				t.Fatalf("run %d: order differs at %d: %s vs %s", i, j, got[j].Domain, first[j].Domain)
			}
		}
	}

	want := []models.Domain{models.DomainBooking, models.DomainCustomer, models.DomainTenant}
	for i, m := range first {
		if m.Domain != want[i] {
			t.Errorf("match[%d] = %s, want %s", i, m.Domain, want[i])
		}
	}
}

func TestRoute_RecordsTriggerTerms(t *testing.T) {
	r := newRouter(&mockScorer{scores: map[models.Domain]float64{
		models.DomainBooking: 0.95,
	}})

	got := r.Route(context.Background(), testTurn(t, "please reschedule my booking"))

	if len(got) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(got))
	}
	found := false
	for _, term := range got[0].Terms {
		if term == "booking" {
			found = true
		}
	}
	if !found {
		t.Errorf("Terms = %v, want to include %q", got[0].Terms, "booking")
	}
}
