// Package recommendation tracks operational actions for a hospital:
// staffing, supplies, operations and communication tasks with a priority,
// an optional deadline and progress counters.
package recommendation

import (
	"encoding/json"
	"time"
)

const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

const (
	CategoryStaffing      = "staffing"
	CategorySupplies      = "supplies"
	CategoryOperations    = "operations"
	CategoryCommunication = "communication"
)

var (
	priorities = []interface{}{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	categories = []interface{}{CategoryStaffing, CategorySupplies, CategoryOperations, CategoryCommunication}
)

const dateLayout = "2006-01-02"

type Recommendation struct {
	ID                int64           `json:"id"`
	HospitalID        int64           `json:"hospital_id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Priority          string          `json:"priority"`
	Category          string          `json:"category"`
	Department        *string         `json:"department,omitempty"`
	Deadline          *string         `json:"deadline,omitempty"` // YYYY-MM-DD
	EstimatedCost     *int64          `json:"estimated_cost,omitempty"`
	ProgressCompleted int             `json:"progress_completed"`
	ProgressTotal     int             `json:"progress_total"`
	ExtraData         json.RawMessage `json:"extra_data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (r *Recommendation) Completed() bool { return r.ProgressCompleted >= r.ProgressTotal }

// Filter narrows a hospital's list. Unknown priority or category values are
// ignored rather than rejected.
type Filter struct {
	Priority   string
	Category   string
	Department string // substring, case-insensitive
	Search     string // substring of title or description
}

type Stats struct {
	Total     int `json:"total"`
	Critical  int `json:"critical"`
	High      int `json:"high"`
	Medium    int `json:"medium"`
	Low       int `json:"low"`
	Completed int `json:"completed"`
}
