// Package analytics reduces reservation history into the summaries shown on
// the user dashboard and the admin reports. Every function is pure: results
// are recomputed from the reservations passed in on each call.
package analytics

import (
	"math"
	"sort"
	"time"

	"slotly-backend/internal/model"
	"slotly-backend/internal/pricing"
)

const (
	// UserMonths is the length of the spending series on the user dashboard.
	UserMonths = 6
	// SalesMonths is the length of the system-wide sales series.
	SalesMonths = 12

	topLots  = 5
	topHours = 5

	monthLabelLayout = "Jan 2006"
)

// Count is one row of a ranked breakdown.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// HourCount is one row of the hour-of-day breakdown.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// MonthBucket aggregates the completed reservations whose end falls in one
// calendar month.
type MonthBucket struct {
	Label  string    `json:"label"`
	Start  time.Time `json:"start"`
	Amount float64   `json:"amount"`
	Count  int       `json:"count"`
}

// Summary is the per-user (or system-wide) usage summary.
type Summary struct {
	TotalReservations int           `json:"total_reservations"`
	Completed         int           `json:"completed_reservations"`
	Active            int           `json:"active_reservations"`
	TotalSpent        float64       `json:"total_spent"`
	MonthlySpent      float64       `json:"monthly_spent"`
	Months            []MonthBucket `json:"monthly_spending"`
	Days              []Count       `json:"top_days"`
	TopHours          []HourCount   `json:"top_hours"`
	TopLots           []Count       `json:"top_lots"`
	AvgDurationHours  float64       `json:"avg_duration"`
}

// Summarize partitions rs into completed and active reservations and
// derives spending and usage-pattern statistics. Calendar boundaries are
// taken in now's location.
func Summarize(rs []model.Reservation, now time.Time, months int) Summary {
	loc := now.Location()
	completed := completedOnly(rs)

	s := Summary{
		TotalReservations: len(rs),
		Completed:         len(completed),
		Active:            len(rs) - len(completed),
	}

	thisMonth := monthStart(now)
	nextMonth := thisMonth.AddDate(0, 1, 0)

	var total, monthly, hours float64
	days := make(map[time.Weekday]int)
	hourCounts := make(map[int]int)
	lots := make(map[string]int)
	for _, r := range completed {
		cost, _ := pricing.Cost(r)
		total += cost
		if inRange(r.EndTime.In(loc), thisMonth, nextMonth) {
			monthly += cost
		}
		hours += pricing.HoursBetween(r.StartTime, *r.EndTime)

		start := r.StartTime.In(loc)
		days[start.Weekday()]++
		hourCounts[start.Hour()]++
		lots[r.LotName()]++
	}

	s.TotalSpent = pricing.Round(total)
	s.MonthlySpent = pricing.Round(monthly)
	s.Months = monthlySeries(completed, now, months)
	s.Days = rankDays(days)
	s.TopHours = rankHours(hourCounts, topHours)
	s.TopLots = rankLabels(lots, topLots)
	if len(completed) > 0 {
		s.AvgDurationHours = math.Round(hours/float64(len(completed))*10) / 10
	}
	return s
}

// SalesReport is the system-wide revenue view.
type SalesReport struct {
	TotalSales float64             `json:"total_sales_all_time"`
	MonthSales float64             `json:"total_sales_this_month"`
	Months     []MonthBucket       `json:"months"`
	Completed  []model.Reservation `json:"-"`
}

// Sales computes all-time and current-month sales and a twelve month series
// over every completed reservation in rs.
func Sales(rs []model.Reservation, now time.Time) SalesReport {
	completed := completedOnly(rs)
	thisMonth := monthStart(now)
	nextMonth := thisMonth.AddDate(0, 1, 0)

	var total, month float64
	for _, r := range completed {
		cost, _ := pricing.Cost(r)
		total += cost
		if inRange(r.EndTime.In(now.Location()), thisMonth, nextMonth) {
			month += cost
		}
	}

	return SalesReport{
		TotalSales: pricing.Round(total),
		MonthSales: pricing.Round(month),
		Months:     monthlySeries(completed, now, SalesMonths),
		Completed:  completed,
	}
}

// SpotCounts is the number of spots of a lot in each status.
type SpotCounts struct {
	Available int64
	Occupied  int64
}

// LotSummary is one row of the admin occupancy summary.
type LotSummary struct {
	LotID         int64   `json:"lot_id"`
	Name          string  `json:"lot_name"`
	Capacity      int     `json:"total_spots"`
	OpenSpots     int64   `json:"open_spots"`
	OccupiedSpots int64   `json:"reserved_spots"`
	Revenue       float64 `json:"revenue"`
}

// LotOccupancy joins lots with their spot counts and the revenue of their
// completed reservations. rs must have Spot loaded.
func LotOccupancy(lots []model.Lot, counts map[int64]SpotCounts, rs []model.Reservation) []LotSummary {
	revenue := make(map[int64]float64)
	for _, r := range rs {
		if cost, err := pricing.Cost(r); err == nil {
			revenue[r.Spot.LotID] += cost
		}
	}

	out := make([]LotSummary, 0, len(lots))
	for _, lot := range lots {
		c := counts[lot.ID]
		out = append(out, LotSummary{
			LotID:         lot.ID,
			Name:          lot.Name,
			Capacity:      lot.Capacity,
			OpenSpots:     c.Available,
			OccupiedSpots: c.Occupied,
			Revenue:       pricing.Round(revenue[lot.ID]),
		})
	}
	return out
}

func completedOnly(rs []model.Reservation) []model.Reservation {
	out := make([]model.Reservation, 0, len(rs))
	for _, r := range rs {
		if r.Completed() {
			out = append(out, r)
		}
	}
	return out
}

// monthlySeries buckets completed reservations by the calendar month of
// their end time for the n months ending with now's month, oldest first.
func monthlySeries(completed []model.Reservation, now time.Time, n int) []MonthBucket {
	if n <= 0 {
		return nil
	}
	current := monthStart(now)
	buckets := make([]MonthBucket, n)
	for i := range buckets {
		start := current.AddDate(0, i-(n-1), 0)
		buckets[i] = MonthBucket{Label: start.Format(monthLabelLayout), Start: start}
	}

	first := buckets[0].Start
	end := current.AddDate(0, 1, 0)
	for _, r := range completed {
		e := r.EndTime.In(now.Location())
		if !inRange(e, first, end) {
			continue
		}
		idx := (e.Year()-first.Year())*12 + int(e.Month()) - int(first.Month())
		cost, _ := pricing.Cost(r)
		buckets[idx].Amount += cost
		buckets[idx].Count++
	}
	for i := range buckets {
		buckets[i].Amount = pricing.Round(buckets[i].Amount)
	}
	return buckets
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// rankDays lists every weekday that has reservations, most frequent first.
// Ties keep Monday-first order.
func rankDays(counts map[time.Weekday]int) []Count {
	type row struct {
		day   time.Weekday
		count int
	}
	rows := make([]row, 0, len(counts))
	for d, c := range counts {
		rows = append(rows, row{d, c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return mondayFirst(rows[i].day) < mondayFirst(rows[j].day)
	})

	out := make([]Count, len(rows))
	for i, r := range rows {
		out[i] = Count{Label: r.day.String(), Count: r.count}
	}
	return out
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func rankHours(counts map[int]int, k int) []HourCount {
	out := make([]HourCount, 0, len(counts))
	for h, c := range counts {
		out = append(out, HourCount{Hour: h, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Hour < out[j].Hour
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func rankLabels(counts map[string]int, k int) []Count {
	out := make([]Count, 0, len(counts))
	for l, c := range counts {
		out = append(out, Count{Label: l, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
