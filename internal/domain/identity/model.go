package identity

import "time"

type Hospital struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a patient, doctor or admin. Doctors and patients belong to at most
// one hospital.
type User struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Role       string    `json:"role"`
	HospitalID *int64    `json:"hospital_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (u *User) IsDoctor() bool { return u.Role == RoleDoctor }

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)
