package patient

import (
	"time"

	"careswitch/agency"
)

// Profile mirrors the patient_profiles table. Profiles are never deleted;
// Archived marks the soft end of the lifecycle.
type Profile struct {
	UserID            string
	FullName          string
	Phone             *string
	PreferredLanguage string
	County            string
	PayerType         agency.PayerType
	CareNeeds         []agency.CareType
	Archived          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
