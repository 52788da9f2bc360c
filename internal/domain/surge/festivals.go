package surge

import "time"

type festivalOffset struct {
	id, name, kind, impact string
	days                   int
	increase               int
}

var upcomingFestivals = []festivalOffset{
	{"fest-1", "Diwali", "religious", "high", 2, 45},
	{"fest-2", "Diwali Weekend", "regional", "high", 3, 35},
	{"fest-3", "Gurunanak Jayanti", "religious", "medium", 17, 20},
	{"fest-4", "Christmas", "national", "high", 29, 40},
}

// FestivalCalendar returns the festivals relevant to forecasts made on today.
type FestivalCalendar func(today time.Time) []Festival

// StaticCalendar places the built-in festival list at fixed offsets from
// today.
func StaticCalendar(today time.Time) []Festival {
	out := make([]Festival, 0, len(upcomingFestivals))
	for _, f := range upcomingFestivals {
		out = append(out, Festival{
			ID:             f.id,
			Name:           f.name,
			Date:           today.AddDate(0, 0, f.days).Format(dateLayout),
			Type:           f.kind,
			ExpectedImpact: f.impact,
			OPDIncrease:    f.increase,
		})
	}
	return out
}
