// Package scheduler turns a set of bookings into a feasible,
// near-optimal visit sequence under travel-time, time-window, and
// weather constraints.
//
// The optimizer is a pure function of its input: no shared mutable
// state, no clock reads, no network. Identical requests (including the
// weather snapshot) produce identical solutions, which is what makes it
// directly unit-testable and safe to call from inside a concurrent
// dispatch without any locking.
//
// Algorithm, per day:
//  1. Build an initial sequence by nearest-neighbor insertion: each
//     round appends the booking whose earliest feasible start leaves
//     the least slack inside its window.
//  2. Improve with 2-opt segment reversals while total travel strictly
//     decreases and every window stays satisfied, up to an iteration cap.
//  3. Bookings that cannot be placed land in the unscheduled set with a
//     reason code; a partially infeasible day is a valid solution,
//     never a hard failure.
package scheduler

import (
	"math"
	"sort"
	"time"

	"github.com/mypetparlor/concierge/internal/config"
	"github.com/mypetparlor/concierge/pkg/models"
)

const earthRadiusKm = 6371.0

// Optimizer holds the tunables; it carries no per-request state.
type Optimizer struct {
	speedKmh      float64
	transitBuffer time.Duration
	blockFactor   float64
	twoOptMaxIter int
	dayStartHour  int
	dayEndHour    int
}

// New builds an optimizer from configuration.
func New(cfg config.SchedulerConfig) *Optimizer {
	return &Optimizer{
		speedKmh:      cfg.AverageSpeedKmh,
		transitBuffer: time.Duration(cfg.TransitBufferMin) * time.Minute,
		blockFactor:   cfg.BlockFactor,
		twoOptMaxIter: cfg.TwoOptMaxIterations,
		dayStartHour:  cfg.DayStartHour,
		dayEndHour:    cfg.DayEndHour,
	}
}

// Optimize solves the request. Every booking appears exactly once in
// the solution: either as a scheduled visit or in the unscheduled set
// with a reason code.
func (o *Optimizer) Optimize(req models.ScheduleRequest) models.ScheduleSolution {
	sol := models.ScheduleSolution{}

	days := o.partition(req)
	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for _, date := range dates {
		daySol := o.solveDay(req, date, days[date])
		sol.Visits = append(sol.Visits, daySol.Visits...)
		sol.TotalTravel += daySol.TotalTravel
		sol.Unscheduled = append(sol.Unscheduled, daySol.Unscheduled...)
	}
	return sol
}

// partition groups bookings by working day. A booking without an
// explicit date follows its window start, then the request date.
func (o *Optimizer) partition(req models.ScheduleRequest) map[string][]models.Booking {
	days := make(map[string][]models.Booking)
	for _, b := range req.Bookings {
		date := b.Date
		if date == "" && !b.Window.IsZero() {
			date = b.Window.Start.UTC().Format("2006-01-02")
		}
		if date == "" {
			date = req.Date
		}
		days[date] = append(days[date], b)
	}
	// Stable intra-day order for determinism before any scoring runs.
	for d := range days {
		bs := days[d]
		sort.Slice(bs, func(i, j int) bool { return bs[i].ID < bs[j].ID })
	}
	return days
}

// dayContext is the per-day solve state shared by construction and 2-opt.
type dayContext struct {
	req      models.ScheduleRequest
	depot    models.LatLng
	dayStart time.Time
	dayEnd   time.Time
}

func (o *Optimizer) solveDay(req models.ScheduleRequest, date string, bookings []models.Booking) models.ScheduleSolution {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		// Undated bookings with an unparseable request date can only be
		// reported, not placed.
		return allUnscheduled(bookings, models.ReasonNoFeasibleSlot)
	}

	startHour, endHour := o.dayStartHour, o.dayEndHour
	if req.DayStart > 0 {
		startHour = req.DayStart
	}
	if req.DayEnd > 0 {
		endHour = req.DayEnd
	}

	dc := dayContext{
		req:      req,
		depot:    req.Depot,
		dayStart: day.Add(time.Duration(startHour) * time.Hour),
		dayEnd:   day.Add(time.Duration(endHour) * time.Hour),
	}

	route, unscheduled := o.construct(dc, bookings)
	route = o.improve(dc, route)

	visits, total, ok := o.simulate(dc, route)
	if !ok {
		// The constructed route is feasible by construction and 2-opt
		// only accepts feasible swaps; reaching here is a bug guard.
		return allUnscheduled(bookings, models.ReasonNoFeasibleSlot)
	}
	return models.ScheduleSolution{Visits: visits, TotalTravel: total, Unscheduled: unscheduled}
}

// construct builds the initial route by least-slack nearest-neighbor
// insertion. Ties break by earlier window start, then lower booking id.
func (o *Optimizer) construct(dc dayContext, bookings []models.Booking) ([]models.Booking, []models.Unscheduled) {
	remaining := append([]models.Booking(nil), bookings...)
	var route []models.Booking

	cursor := dc.dayStart
	loc := dc.depot

	for len(remaining) > 0 {
		bestIdx := -1
		var bestSlack time.Duration
		var bestStart time.Time

		for i, b := range remaining {
			start, _, slack, feasible := o.evaluate(dc, b, loc, cursor)
			if !feasible {
				continue
			}
			if bestIdx == -1 || less(slack, b, bestSlack, remaining[bestIdx]) {
				bestIdx = i
				bestSlack = slack
				bestStart = start
			}
		}

		if bestIdx == -1 {
			break
		}

		chosen := remaining[bestIdx]
		route = append(route, chosen)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		cursor = bestStart.Add(chosen.Duration)
		loc = chosen.Location
	}

	var unscheduled []models.Unscheduled
	for _, b := range remaining {
		unscheduled = append(unscheduled, models.Unscheduled{BookingID: b.ID, Reason: o.reason(dc, b)})
	}
	sort.Slice(unscheduled, func(i, j int) bool { return unscheduled[i].BookingID < unscheduled[j].BookingID })
	return route, unscheduled
}

// less orders candidate insertions: smaller slack first, then earlier
// window start, then lower booking id.
func less(slack time.Duration, b models.Booking, bestSlack time.Duration, best models.Booking) bool {
	if slack != bestSlack {
		return slack < bestSlack
	}
	bStart, bestStart := windowStartKey(b), windowStartKey(best)
	if !bStart.Equal(bestStart) {
		return bStart.Before(bestStart)
	}
	return b.ID < best.ID
}

// windowStartKey sorts unwindowed bookings after windowed ones.
func windowStartKey(b models.Booking) time.Time {
	if b.Window.IsZero() {
		return time.Unix(1<<40, 0)
	}
	return b.Window.Start
}

// evaluate computes the earliest feasible start for b when departing
// loc at the cursor time, including the weather slowdown on the leg.
func (o *Optimizer) evaluate(dc dayContext, b models.Booking, loc models.LatLng, cursor time.Time) (start time.Time, travel time.Duration, slack time.Duration, feasible bool) {
	factor := o.legFactor(dc.req.Forecast, b.Location, cursor)
	if factor >= o.blockFactor {
		return time.Time{}, 0, 0, false
	}

	travel = o.travelTime(loc, b.Location, factor)
	arrival := cursor.Add(travel)

	winStart, winEnd := o.effectiveWindow(dc, b)
	if winEnd.Sub(winStart) < b.Duration {
		return time.Time{}, 0, 0, false
	}

	start = arrival
	if start.Before(winStart) {
		start = winStart
	}
	latest := winEnd.Add(-b.Duration)
	if start.After(latest) {
		return time.Time{}, 0, 0, false
	}
	return start, travel, latest.Sub(start), true
}

// effectiveWindow intersects the booking's declared window with the
// working day. Unwindowed bookings may go anywhere in the day.
func (o *Optimizer) effectiveWindow(dc dayContext, b models.Booking) (time.Time, time.Time) {
	winStart, winEnd := dc.dayStart, dc.dayEnd
	if !b.Window.IsZero() {
		if b.Window.Start.After(winStart) {
			winStart = b.Window.Start
		}
		if b.Window.End.Before(winEnd) {
			winEnd = b.Window.End
		}
	}
	return winStart, winEnd
}

// reason explains why a booking could not be placed.
func (o *Optimizer) reason(dc dayContext, b models.Booking) models.UnscheduledReason {
	winStart, winEnd := o.effectiveWindow(dc, b)
	if winEnd.Sub(winStart) < b.Duration {
		return models.ReasonWindowTooNarrow
	}
	// Feasible alone on clear roads but not under the forecast means
	// weather is the binding constraint.
	if _, _, _, clear := o.evaluateClear(dc, b); clear {
		if _, _, _, actual := o.evaluate(dc, b, dc.depot, dc.dayStart); !actual {
			return models.ReasonWeatherBlocked
		}
	}
	return models.ReasonNoFeasibleSlot
}

// evaluateClear is evaluate() from the depot at day start with weather
// ignored, used only for reason attribution.
func (o *Optimizer) evaluateClear(dc dayContext, b models.Booking) (time.Time, time.Duration, time.Duration, bool) {
	travel := o.travelTime(dc.depot, b.Location, 1.0)
	arrival := dc.dayStart.Add(travel)

	winStart, winEnd := o.effectiveWindow(dc, b)
	start := arrival
	if start.Before(winStart) {
		start = winStart
	}
	latest := winEnd.Add(-b.Duration)
	if start.After(latest) {
		return time.Time{}, 0, 0, false
	}
	return start, travel, latest.Sub(start), true
}

// improve runs 2-opt segment reversals: accept a reversal only when the
// route stays feasible and total travel strictly decreases. First
// improvement restarts the scan; a fixed iteration cap bounds the work.
func (o *Optimizer) improve(dc dayContext, route []models.Booking) []models.Booking {
	if len(route) < 3 {
		return route
	}

	_, bestTravel, ok := o.simulate(dc, route)
	if !ok {
		return route
	}

	for iter := 0; iter < o.twoOptMaxIter; iter++ {
		improved := false
		for i := 0; i < len(route)-1 && !improved; i++ {
			for j := i + 1; j < len(route); j++ {
				candidate := reverseSegment(route, i, j)
				_, travel, ok := o.simulate(dc, candidate)
				if ok && travel < bestTravel {
					route = candidate
					bestTravel = travel
					improved = true
					break
				}
			}
		}
		if !improved {
			break
		}
	}
	return route
}

func reverseSegment(route []models.Booking, i, j int) []models.Booking {
	out := append([]models.Booking(nil), route...)
	for l, r := i, j; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// simulate walks the route from the depot, producing the visit times.
// Returns ok=false if any window or the working day is violated.
func (o *Optimizer) simulate(dc dayContext, route []models.Booking) ([]models.Visit, time.Duration, bool) {
	visits := make([]models.Visit, 0, len(route))
	var total time.Duration

	cursor := dc.dayStart
	loc := dc.depot

	for _, b := range route {
		factor := o.legFactor(dc.req.Forecast, b.Location, cursor)
		if factor >= o.blockFactor {
			return nil, 0, false
		}
		travel := o.travelTime(loc, b.Location, factor)
		arrival := cursor.Add(travel)

		winStart, winEnd := o.effectiveWindow(dc, b)
		start := arrival
		if start.Before(winStart) {
			start = winStart
		}
		if start.Add(b.Duration).After(winEnd) {
			return nil, 0, false
		}

		departure := start.Add(b.Duration)
		visits = append(visits, models.Visit{
			BookingID: b.ID,
			Arrival:   start,
			Departure: departure,
			Travel:    travel,
		})
		total += travel
		cursor = departure
		loc = b.Location
	}
	return visits, total, true
}

// travelTime converts haversine distance to drive time at the average
// speed, inflated by the weather factor, plus the fixed transit buffer.
// Co-located stops still pay the buffer: two visits can never share an
// occupied interval.
func (o *Optimizer) travelTime(from, to models.LatLng, factor float64) time.Duration {
	if factor < 1 {
		factor = 1
	}
	km := haversineKm(from, to)
	hours := km / o.speedKmh
	return time.Duration(float64(time.Hour)*hours*factor) + o.transitBuffer
}

// legFactor picks the forecast sample closest in time to the departure
// slot, breaking ties by distance to the destination, then by sample
// order. No samples means clear roads.
func (o *Optimizer) legFactor(forecast []models.ForecastSample, dest models.LatLng, departure time.Time) float64 {
	if len(forecast) == 0 {
		return 1.0
	}
	bestIdx := 0
	bestDt := absDuration(forecast[0].At.Sub(departure))
	bestKm := haversineKm(forecast[0].Location, dest)
	for i := 1; i < len(forecast); i++ {
		dt := absDuration(forecast[i].At.Sub(departure))
		km := haversineKm(forecast[i].Location, dest)
		if dt < bestDt || (dt == bestDt && km < bestKm) {
			bestIdx, bestDt, bestKm = i, dt, km
		}
	}
	f := forecast[bestIdx].Slowdown
	if f < 1 {
		return 1.0
	}
	return f
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func haversineKm(a, b models.LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func allUnscheduled(bookings []models.Booking, reason models.UnscheduledReason) models.ScheduleSolution {
	sol := models.ScheduleSolution{}
	for _, b := range bookings {
		sol.Unscheduled = append(sol.Unscheduled, models.Unscheduled{BookingID: b.ID, Reason: reason})
	}
	sort.Slice(sol.Unscheduled, func(i, j int) bool { return sol.Unscheduled[i].BookingID < sol.Unscheduled[j].BookingID })
	return sol
}
