package documents

import "time"

// Document is metadata for a patient's uploaded record. File bytes are not
// stored here; Summary is the extracted text the agent reads.
type Document struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	Name      string    `json:"name"`
	Summary   *string   `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
