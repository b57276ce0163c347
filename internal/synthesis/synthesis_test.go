package synthesis_test

import (
	"strings"
	"testing"

	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/internal/synthesis"
	"github.com/mypetparlor/concierge/pkg/models"
)

func newSynth() *synthesis.Synthesizer {
	return synthesis.New(config.SynthesisConfig{EchoThreshold: 0.9})
}

func ok(d models.Domain, narrative string) models.AgentResponse {
	return models.AgentResponse{
		Domain:    d,
		Narrative: narrative,
		Payload:   map[string]any{"items": []any{map[string]any{"id": "1"}}},
	}
}

func failed(d models.Domain, class models.ErrorClass) models.AgentResponse {
	return models.AgentResponse{
		Domain: d,
		Err:    &models.AgentError{Class: class, Message: "backend unavailable"},
	}
}

func TestSynthesize_OrdersSectionsByPriority(t *testing.T) {
	s := newSynth()

	// Deliberately out of priority order.
	got := s.Synthesize("show everything", []models.AgentResponse{
		ok(models.DomainTenant, "Your subscription renews next month."),
		ok(models.DomainBooking, "Three visits are scheduled tomorrow."),
		ok(models.DomainCustomer, "You have 42 active customers."),
	})

	bookingIdx := strings.Index(got.Narrative, "Three visits")
	customerIdx := strings.Index(got.Narrative, "42 active customers")
	tenantIdx := strings.Index(got.Narrative, "subscription renews")
	if bookingIdx < 0 || customerIdx < 0 || tenantIdx < 0 {
		t.Fatalf("narrative missing sections: %q", got.Narrative)
	}
	if !(bookingIdx < customerIdx && customerIdx < tenantIdx) {
		t.Errorf("sections out of priority order: booking=%d customer=%d tenant=%d", bookingIdx, customerIdx, tenantIdx)
	}
}

func TestSynthesize_SingleSectionHasNoHeader(t *testing.T) {
	s := newSynth()

	got := s.Synthesize("list bookings", []models.AgentResponse{
		ok(models.DomainBooking, "Three visits are scheduled tomorrow."),
	})

	if got.Narrative != "Three visits are scheduled tomorrow." {
		t.Errorf("Narrative = %q, want plain single-domain answer", got.Narrative)
	}
}

func TestSynthesize_SuppressesEcho(t *testing.T) {
	s := newSynth()

	userText := "show me all bookings for tomorrow please"
	got := s.Synthesize(userText, []models.AgentResponse{
		ok(models.DomainBooking, userText),
	})

	if strings.Contains(got.Narrative, userText) {
		t.Errorf("echoed narrative not suppressed: %q", got.Narrative)
	}
	// The structured payload survives suppression.
	if _, found := got.Payloads[models.DomainBooking]; !found {
		t.Error("payload dropped along with suppressed narrative")
	}
	if len(got.Diagnostics) == 0 {
		t.Error("suppression produced no diagnostic")
	}
}

func TestSynthesize_DistinctNarrativeNotSuppressed(t *testing.T) {
	s := newSynth()

	got := s.Synthesize("show me all bookings for tomorrow please", []models.AgentResponse{
		ok(models.DomainBooking, "Tomorrow you have visits at 9:00, 11:30 and 14:00."),
	})

	if !strings.Contains(got.Narrative, "9:00") {
		t.Errorf("distinct narrative was suppressed: %q", got.Narrative)
	}
}

func TestSynthesize_PartialFailureKeepsOtherSections(t *testing.T) {
	s := newSynth()

	got := s.Synthesize("bookings and customers", []models.AgentResponse{
		ok(models.DomainBooking, "Three visits are scheduled tomorrow."),
		failed(models.DomainCustomer, models.ErrClassTransient),
	})

	if !strings.Contains(got.Narrative, "Three visits") {
		t.Errorf("surviving section missing: %q", got.Narrative)
	}
	if len(got.Diagnostics) != 1 {
		t.Fatalf("len(Diagnostics) = %d, want 1", len(got.Diagnostics))
	}
	if !strings.Contains(got.Diagnostics[0], "customer") {
		t.Errorf("diagnostic does not name the failed domain: %q", got.Diagnostics[0])
	}
}

func TestSynthesize_AllFailedYieldsUnableMessage(t *testing.T) {
	s := newSynth()

	got := s.Synthesize("anything", []models.AgentResponse{
		failed(models.DomainBooking, models.ErrClassTransient),
		failed(models.DomainCustomer, models.ErrClassRejected),
	})

	if got.Narrative != synthesis.UnableMessage {
		t.Errorf("Narrative = %q, want %q", got.Narrative, synthesis.UnableMessage)
	}
	if len(got.Diagnostics) != 2 {
		t.Errorf("len(Diagnostics) = %d, want 2", len(got.Diagnostics))
	}
}

func TestSynthesize_DegradedResponseKeepsPayload(t *testing.T) {
	s := newSynth()

	// Narration failed but the tool data arrived.
	resp := models.AgentResponse{
		Domain:  models.DomainBooking,
		Payload: map[string]any{"items": []any{map[string]any{"id": "b1"}}},
		Err:     &models.AgentError{Class: models.ErrClassInternal, Message: "narration failed"},
	}

	got := s.Synthesize("list bookings", []models.AgentResponse{resp})

	if _, found := got.Payloads[models.DomainBooking]; !found {
		t.Error("degraded response payload dropped")
	}
	if len(got.Diagnostics) == 0 {
		t.Error("degraded response produced no diagnostic")
	}
}
