package surge

import "time"

// HistoryDays is the look-back window for the average daily volume.
const HistoryDays = 30

// HorizonDays is how many dates, starting today, a run predicts.
const HorizonDays = 7

type departmentWeight struct {
	name   string
	weight float64
	// aqiBoost adds this fraction of the AQI impact on top of the total.
	aqiBoost float64
}

var departmentWeights = []departmentWeight{
	{DeptEmergency, 0.3, 0},
	{DeptPulmonology, 0.2, 0.5},
	{DeptCardiology, 0.15, 0},
	{DeptGeneral, 0.35, 0},
}

var defaultStaffing = StaffingNeeds{
	Nurses:       Headcount{Required: 50, Current: 45},
	Doctors:      Headcount{Required: 20, Current: 18},
	SupportStaff: Headcount{Required: 30, Current: 28},
}

// Inputs is everything one forecast run reads.
type Inputs struct {
	City string
	// Today is midnight of the first predicted date in the clinic zone.
	Today time.Time
	// Consultations is the count created in the last HistoryDays days.
	Consultations int
	AQI           AQIReading
	Weather       Weather
	Festivals     []Festival
}

// AQIImpact maps an AQI reading to a percent increase.
func AQIImpact(aqi int) float64 {
	switch {
	case aqi > 300:
		return 60
	case aqi > 200:
		return 40
	case aqi > 150:
		return 20
	default:
		return 0
	}
}

// WeekendImpact is -20 on Saturdays and Sundays.
func WeekendImpact(day time.Time) float64 {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return -20
	default:
		return 0
	}
}

func festivalsOn(all []Festival, date string) []Festival {
	var out []Festival
	for _, f := range all {
		if f.Date == date {
			out = append(out, f)
		}
	}
	return out
}

func supplyNeeds(aqi AQIReading) SupplyNeeds {
	if aqi.AQI > 200 {
		return SupplyNeeds{Respiratory: &RespiratorySupplies{Inhalers: 50, Masks: 200, Nebulizers: 5}}
	}
	return SupplyNeeds{}
}

// Forecast predicts HorizonDays dates starting at in.Today. Volumes are
// truncated toward zero.
func Forecast(in Inputs) []*Prediction {
	base := float64(in.Consultations) / HistoryDays
	aqi := AQIImpact(in.AQI.AQI)

	out := make([]*Prediction, 0, HorizonDays)
	for i := 0; i < HorizonDays; i++ {
		day := in.Today.AddDate(0, 0, i)
		date := day.Format(dateLayout)

		fests := festivalsOn(in.Festivals, date)
		var festival float64
		if len(fests) > 0 {
			festival = float64(fests[0].OPDIncrease)
		}
		total := festival + aqi + WeekendImpact(day)

		depts := make([]DepartmentForecast, 0, len(departmentWeights))
		for _, w := range departmentWeights {
			pct := total + aqi*w.aqiBoost
			depts = append(depts, DepartmentForecast{
				Department:         w.name,
				Baseline:           int(base * w.weight),
				Predicted:          int(base * w.weight * (1 + pct/100)),
				PercentageIncrease: pct,
			})
		}

		if fests == nil {
			fests = []Festival{}
		}
		out = append(out, &Prediction{
			City:           in.City,
			Date:           day,
			BaselineTotal:  int(base),
			PredictedTotal: int(base * (1 + total/100)),
			Departments:    depts,
			AQI:            in.AQI,
			Weather:        in.Weather,
			Festivals:      fests,
			Staffing:       defaultStaffing,
			Supplies:       supplyNeeds(in.AQI),
		})
	}
	return out
}
