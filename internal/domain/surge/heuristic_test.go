package surge

import (
	"context"
	"testing"
	"time"
)

// 2025-11-26 is a Wednesday.
var wednesday = time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)

func mockAQI(aqi int) AQIReading {
	r, _ := MockSignals{}.AirQuality(context.Background(), "Delhi")
	r.AQI = aqi
	return r
}

func TestAQIImpact(t *testing.T) {
	tests := []struct {
		aqi  int
		want float64
	}{
		{0, 0}, {150, 0}, {151, 20}, {200, 20}, {201, 40}, {300, 40}, {301, 60}, {500, 60},
	}
	for _, tt := range tests {
		if got := AQIImpact(tt.aqi); got != tt.want {
			t.Errorf("AQIImpact(%d) = %v, want %v", tt.aqi, got, tt.want)
		}
	}
}

func TestWeekendImpact(t *testing.T) {
	for i, want := range []float64{0, 0, 0, -20, -20, 0, 0} {
		day := wednesday.AddDate(0, 0, i)
		if got := WeekendImpact(day); got != want {
			t.Errorf("%s: got %v, want %v", day.Weekday(), got, want)
		}
	}
}

func TestForecast_SevenDays(t *testing.T) {
	preds := Forecast(Inputs{
		City:          "Delhi",
		Today:         wednesday,
		Consultations: 330,
		AQI:           mockAQI(180),
		Festivals:     StaticCalendar(wednesday),
	})
	if len(preds) != HorizonDays {
		t.Fatalf("expected %d predictions, got %d", HorizonDays, len(preds))
	}

	tests := []struct {
		offset    int
		predicted int
		festival  string
		pulmoPct  float64
	}{
		{0, 13, "", 30},
		{2, 18, "Diwali", 75},
		{3, 14, "Diwali Weekend", 45},
		{4, 11, "", 10},
	}
	for _, tt := range tests {
		p := preds[tt.offset]
		if p.DateString() != wednesday.AddDate(0, 0, tt.offset).Format("2006-01-02") {
			t.Errorf("day %d: unexpected date %s", tt.offset, p.DateString())
		}
		if p.BaselineTotal != 11 {
			t.Errorf("day %d: baseline = %d, want 11", tt.offset, p.BaselineTotal)
		}
		if p.PredictedTotal != tt.predicted {
			t.Errorf("day %d: predicted = %d, want %d", tt.offset, p.PredictedTotal, tt.predicted)
		}
		if tt.festival == "" && len(p.Festivals) != 0 {
			t.Errorf("day %d: unexpected festivals %v", tt.offset, p.Festivals)
		}
		if tt.festival != "" && (len(p.Festivals) != 1 || p.Festivals[0].Name != tt.festival) {
			t.Errorf("day %d: expected festival %s, got %v", tt.offset, tt.festival, p.Festivals)
		}
		if p.Departments[1].Department != DeptPulmonology || p.Departments[1].PercentageIncrease != tt.pulmoPct {
			t.Errorf("day %d: pulmonology = %+v, want pct %v", tt.offset, p.Departments[1], tt.pulmoPct)
		}
	}
}

func TestForecast_DepartmentSplitTruncates(t *testing.T) {
	preds := Forecast(Inputs{City: "Delhi", Today: wednesday, Consultations: 330, AQI: mockAQI(180)})
	want := []DepartmentForecast{
		{DeptEmergency, 3, 3, 20},
		{DeptPulmonology, 2, 2, 30},
		{DeptCardiology, 1, 1, 20},
		{DeptGeneral, 3, 4, 20},
	}
	got := preds[0].Departments
	if len(got) != len(want) {
		t.Fatalf("expected %d departments, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("department %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestForecast_WeekendReducesVolume(t *testing.T) {
	preds := Forecast(Inputs{City: "Delhi", Today: wednesday, Consultations: 330, AQI: mockAQI(40)})
	sat := preds[3]
	if sat.PredictedTotal != 8 {
		t.Errorf("expected 8 on Saturday with clean air, got %d", sat.PredictedTotal)
	}
	if sat.MaxIncrease() != 20 {
		t.Errorf("expected absolute max increase 20, got %v", sat.MaxIncrease())
	}
}

func TestForecast_FirstFestivalWins(t *testing.T) {
	date := wednesday.Format("2006-01-02")
	preds := Forecast(Inputs{
		City:          "Delhi",
		Today:         wednesday,
		Consultations: 330,
		AQI:           mockAQI(0),
		Festivals: []Festival{
			{Name: "A", Date: date, OPDIncrease: 10},
			{Name: "B", Date: date, OPDIncrease: 50},
		},
	})
	if got := preds[0].Departments[0].PercentageIncrease; got != 10 {
		t.Errorf("expected first festival impact 10, got %v", got)
	}
	if len(preds[0].Festivals) != 2 {
		t.Errorf("expected both festivals recorded, got %d", len(preds[0].Festivals))
	}
}

func TestForecast_SupplyNeedsFollowAQI(t *testing.T) {
	low := Forecast(Inputs{City: "Delhi", Today: wednesday, AQI: mockAQI(200)})
	if low[0].Supplies.Respiratory != nil {
		t.Error("expected no respiratory supplies at AQI 200")
	}
	high := Forecast(Inputs{City: "Delhi", Today: wednesday, AQI: mockAQI(201)})
	if r := high[0].Supplies.Respiratory; r == nil || r.Masks != 200 {
		t.Errorf("expected respiratory supplies at AQI 201, got %+v", r)
	}
}

func TestForecast_NoHistory(t *testing.T) {
	preds := Forecast(Inputs{City: "Delhi", Today: wednesday, AQI: mockAQI(350)})
	for _, p := range preds {
		if p.PredictedTotal != 0 || p.BaselineTotal != 0 {
			t.Errorf("%s: expected zero volumes, got %d/%d", p.DateString(), p.BaselineTotal, p.PredictedTotal)
		}
	}
}
