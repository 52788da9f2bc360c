package recommendation

import (
	"encoding/json"
	"fmt"

	"github.com/aura/aura/internal/domain/surge"
)

// Department increases above these percentages produce staffing actions.
const (
	staffingHighPct   = 40
	staffingMediumPct = 25
)

// FromPrediction derives the actions a hospital should take for one day's
// surge prediction. The result is ordered department staffing, headcount gap,
// respiratory supplies and advisory, then festivals.
func FromPrediction(hospitalID int64, p *surge.Prediction) []*Recommendation {
	date := p.DateString()
	var out []*Recommendation
	add := func(r *Recommendation) {
		r.HospitalID = hospitalID
		if r.Deadline == nil {
			d := date
			r.Deadline = &d
		}
		if r.ProgressTotal == 0 {
			r.ProgressTotal = 1
		}
		out = append(out, r)
	}

	for _, d := range p.Departments {
		if d.PercentageIncrease <= staffingMediumPct {
			continue
		}
		priority := PriorityMedium
		if d.PercentageIncrease > staffingHighPct {
			priority = PriorityHigh
		}
		dept := d.Department
		desc := fmt.Sprintf("%s expects %d patients against a baseline of %d (%.0f%% increase) on %s.",
			dept, d.Predicted, d.Baseline, d.PercentageIncrease, date)
		add(&Recommendation{
			Title:       "Add cover in " + dept,
			Description: desc,
			Priority:    priority,
			Category:    CategoryStaffing,
			Department:  &dept,
		})
	}

	st := p.Staffing
	doctors := gap(st.Doctors)
	nurses := gap(st.Nurses)
	support := gap(st.SupportStaff)
	if total := doctors + nurses + support; total > 0 {
		extra, _ := json.Marshal(st)
		add(&Recommendation{
			Title:         "Close the staffing gap",
			Description:   fmt.Sprintf("Roster %d more doctor(s), %d nurse(s) and %d support staff.", doctors, nurses, support),
			Priority:      PriorityHigh,
			Category:      CategoryStaffing,
			ProgressTotal: total,
			ExtraData:     extra,
		})
	}

	if sup := p.Supplies.Respiratory; sup != nil {
		priority := PriorityHigh
		if p.AQI.AQI > 300 {
			priority = PriorityCritical
		}
		dept := surge.DeptPulmonology
		extra, _ := json.Marshal(sup)
		desc := fmt.Sprintf("AQI %d (%s). Keep %d inhalers, %d masks and %d nebulizers ready.",
			p.AQI.AQI, p.AQI.Category, sup.Inhalers, sup.Masks, sup.Nebulizers)
		add(&Recommendation{
			Title:         "Stock respiratory supplies",
			Description:   desc,
			Priority:      priority,
			Category:      CategorySupplies,
			Department:    &dept,
			ProgressTotal: 3,
			ExtraData:     extra,
		})
		add(&Recommendation{
			Title:       "Send air-quality advisory",
			Description: fmt.Sprintf("Advise patients with respiratory conditions to limit outdoor exposure while AQI is %d.", p.AQI.AQI),
			Priority:    priority,
			Category:    CategoryCommunication,
		})
	}

	for _, f := range p.Festivals {
		deadline := f.Date
		desc := fmt.Sprintf("%s on %s has historically raised outpatient visits by %d%%.", f.Name, f.Date, f.OPDIncrease)
		add(&Recommendation{
			Title:       "Prepare OPD for " + f.Name,
			Description: desc,
			Priority:    PriorityMedium,
			Category:    CategoryOperations,
			Deadline:    &deadline,
		})
	}
	return out
}

func gap(h surge.Headcount) int {
	if h.Required > h.Current {
		return h.Required - h.Current
	}
	return 0
}
