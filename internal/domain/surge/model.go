// Package surge forecasts outpatient footfall per city from festival, air
// quality and weekday signals, and stores one prediction per (city, date).
package surge

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("surge prediction not found")

const (
	DeptEmergency   = "Emergency Medicine"
	DeptPulmonology = "Pulmonology"
	DeptCardiology  = "Cardiology"
	DeptGeneral     = "General Medicine"
)

// DepartmentForecast is the baseline/predicted/percent triple for one
// department on one date.
type DepartmentForecast struct {
	Department         string  `json:"department"`
	Baseline           int     `json:"baseline"`
	Predicted          int     `json:"predicted"`
	PercentageIncrease float64 `json:"percentage_increase"`
}

type AQIReading struct {
	AQI              int     `json:"aqi"`
	Category         string  `json:"category"`
	PM25             float64 `json:"pm25"`
	PM10             float64 `json:"pm10"`
	PrimaryPollutant string  `json:"primary_pollutant"`
}

type Weather struct {
	Temperature float64 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	Condition   string  `json:"condition"`
}

type Festival struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Date is YYYY-MM-DD in the clinic time zone.
	Date           string `json:"date"`
	Type           string `json:"type"`
	ExpectedImpact string `json:"expected_impact"`
	// OPDIncrease is the historical outpatient increase in percent.
	OPDIncrease int `json:"historical_opd_increase"`
}

type Headcount struct {
	Required int `json:"required"`
	Current  int `json:"current"`
}

type StaffingNeeds struct {
	Nurses       Headcount `json:"nurses"`
	Doctors      Headcount `json:"doctors"`
	SupportStaff Headcount `json:"support_staff"`
}

type RespiratorySupplies struct {
	Inhalers   int `json:"inhalers"`
	Masks      int `json:"masks"`
	Nebulizers int `json:"nebulizers"`
}

type SupplyNeeds struct {
	Respiratory *RespiratorySupplies `json:"respiratory,omitempty"`
}

// Prediction is the stored forecast for one city and date.
type Prediction struct {
	ID             int64                `json:"id"`
	City           string               `json:"city"`
	Date           time.Time            `json:"-"`
	BaselineTotal  int                  `json:"baseline_total"`
	PredictedTotal int                  `json:"predicted_total"`
	Departments    []DepartmentForecast `json:"departments"`
	AQI            AQIReading           `json:"aqi_data"`
	Weather        Weather              `json:"weather_data"`
	Festivals      []Festival           `json:"festival_events"`
	Staffing       StaffingNeeds        `json:"staffing_needs"`
	Supplies       SupplyNeeds          `json:"supply_needs"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (p Prediction) MarshalJSON() ([]byte, error) {
	type alias Prediction
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias(p), p.DateString()})
}

// DateString formats Date as YYYY-MM-DD.
func (p Prediction) DateString() string { return p.Date.Format(dateLayout) }

// MaxIncrease is the largest absolute department percentage increase.
func (p Prediction) MaxIncrease() float64 {
	var max float64
	for _, d := range p.Departments {
		v := d.PercentageIncrease
		if v < 0 {
			v = -v
		}
		if v > max {
			max = v
		}
	}
	return max
}

const dateLayout = "2006-01-02"
