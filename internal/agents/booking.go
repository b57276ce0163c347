package agents

import (
	"context"
	"strings"
	"time"

	"github.com/mypetparlor/concierge/internal/scheduler"
	"github.com/mypetparlor/concierge/internal/turn"
	"github.com/mypetparlor/concierge/internal/weather"
	"github.com/mypetparlor/concierge/pkg/models"
	"github.com/rs/zerolog/log"
)

const bookingPrompt = `You answer questions about bookings and visit schedules using only the fetched data.
When an optimized schedule is present, present the visit order with arrival times, name any bookings that could not be scheduled and why, and mention the total travel time.
Do not repeat the user's question.`

// BookingDeps are the booking agent's extra collaborators: the schedule
// optimizer and the weather forecast source feeding it.
type BookingDeps struct {
	Optimizer *scheduler.Optimizer
	Weather   weather.Source
	Depot     models.LatLng
}

// bookingAgent owns the booking tool subset and is the only caller of
// the schedule optimizer; users cannot reach it directly.
type bookingAgent struct {
	base
	optimizer *scheduler.Optimizer
	weather   weather.Source
	depot     models.LatLng
}

func newBookingAgent(deps Deps) *bookingAgent {
	return &bookingAgent{
		base:      newBase(deps, models.DomainBooking, bookingPrompt),
		optimizer: deps.Booking.Optimizer,
		weather:   deps.Booking.Weather,
		depot:     deps.Booking.Depot,
	}
}

func (a *bookingAgent) Handle(ctx context.Context, tc turn.Context, intent models.IntentMatch) models.AgentResponse {
	res, err := a.invoke(ctx, tc, "booking.list", nil)
	if err != nil {
		return a.fail(tc, err)
	}

	payload := map[string]any{"bookings": res["items"]}
	citations := []string{"booking.list"}

	if wantsSchedule(tc.Text) {
		bookings := parseBookings(res)
		if len(bookings) > 0 {
			solution := a.optimize(ctx, tc, bookings)
			payload["schedule"] = solution
		}
	}

	return a.respond(ctx, tc, payload, citations)
}

// optimize builds the ScheduleRequest from tool results and the weather
// snapshot and runs the optimizer. A forecast failure degrades to
// clear-roads scheduling; it never fails the dispatch.
func (a *bookingAgent) optimize(ctx context.Context, tc turn.Context, bookings []models.Booking) models.ScheduleSolution {
	date := scheduleDate(bookings)

	req := models.ScheduleRequest{
		Bookings: bookings,
		Date:     date,
		Depot:    a.depot,
	}

	day, err := time.Parse("2006-01-02", date)
	if err == nil {
		from := day
		to := day.Add(24 * time.Hour)
		samples, err := a.weather.Forecast(ctx, a.depot, from, to)
		if err != nil {
			log.Warn().
				Str("turn_id", tc.TurnID).
				Err(err).
				Msg("forecast unavailable, scheduling on clear roads")
		} else {
			req.Forecast = samples
		}
	}

	return a.optimizer.Optimize(req)
}

// wantsSchedule detects scheduling intent in the turn text.
func wantsSchedule(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range []string{"schedule", "optimi", "route", "plan my", "order of visits"} {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// scheduleDate picks the optimization date: the earliest booking date,
// falling back to today for a fully undated set.
func scheduleDate(bookings []models.Booking) string {
	best := ""
	for _, b := range bookings {
		d := b.Date
		if d == "" && !b.Window.IsZero() {
			d = b.Window.Start.UTC().Format("2006-01-02")
		}
		if d != "" && (best == "" || d < best) {
			best = d
		}
	}
	if best == "" {
		best = time.Now().UTC().Format("2006-01-02")
	}
	return best
}

// parseBookings converts booking.list items into optimizer bookings.
// Items missing coordinates or an id are skipped; the narrative still
// covers them through the raw payload.
func parseBookings(res map[string]any) []models.Booking {
	items, _ := res["items"].([]any)
	out := make([]models.Booking, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := item["id"].(string)
		lat, latOK := toFloat(item["latitude"])
		lng, lngOK := toFloat(item["longitude"])
		if id == "" || !latOK || !lngOK {
			continue
		}

		b := models.Booking{
			ID:       id,
			Location: models.LatLng{Lat: lat, Lng: lng},
			Duration: 30 * time.Minute,
		}
		if mins, ok := toFloat(item["duration_minutes"]); ok && mins > 0 {
			b.Duration = time.Duration(mins) * time.Minute
		}
		if start, ok := toTime(item["start_time"]); ok {
			if end, ok := toTime(item["end_time"]); ok {
				b.Window = models.TimeWindow{Start: start, End: end}
			}
		}
		if date, ok := item["date"].(string); ok {
			b.Date = date
		}
		out = append(out, b)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func toTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
