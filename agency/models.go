package agency

import "time"

// CareType enumerates the kinds of in-home care an agency offers.
type CareType string

const (
	CareHomeHealth CareType = "home_health"
	CareHomeCare   CareType = "home_care"
	CareBoth       CareType = "both"
)

// PayerType enumerates the payment sources an agency accepts.
type PayerType string

const (
	PayerMedicaid     PayerType = "medicaid"
	PayerMedicare     PayerType = "medicare"
	PayerPrivatePay   PayerType = "private_pay"
	PayerLTCInsurance PayerType = "ltc_insurance"
	PayerVABenefits   PayerType = "va_benefits"
)

// Agency is the domain representation of a licensed home-care agency. It
// mirrors the agencies table and carries no JSON annotations so it can be
// reused by different presentation layers.
type Agency struct {
	ID                string
	Name              string
	Address           string
	City              string
	County            string
	PayerTypes        []PayerType
	CareTypes         []CareType
	Languages         []string
	Verified          bool
	AcceptingPatients bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Offers reports whether the agency covers the requested care type. An agency
// flagged "both" covers either specific care type, and a request for "both"
// requires the agency to cover both.
func (a Agency) Offers(ct CareType) bool {
	if ct == CareBoth {
		return a.covers(CareHomeHealth) && a.covers(CareHomeCare)
	}
	return a.covers(ct)
}

func (a Agency) covers(ct CareType) bool {
	for _, have := range a.CareTypes {
		if have == ct || have == CareBoth {
			return true
		}
	}
	return false
}

// Accepts reports whether the agency takes the given payer.
func (a Agency) Accepts(pt PayerType) bool {
	for _, have := range a.PayerTypes {
		if have == pt {
			return true
		}
	}
	return false
}

// Speaks reports whether staff at the agency speak the given language code.
func (a Agency) Speaks(lang string) bool {
	for _, have := range a.Languages {
		if have == lang {
			return true
		}
	}
	return false
}
