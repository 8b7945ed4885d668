package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"careswitch/agency"
	"careswitch/auth"
)

// ErrForbidden signals the actor may not touch this profile.
var ErrForbidden = errors.New("patient: forbidden")

// Store abstracts the repository for the service.
type Store interface {
	Get(ctx context.Context, userID string) (Profile, error)
	Upsert(ctx context.Context, p Profile) (Profile, error)
	Archive(ctx context.Context, userID string) error
}

// Service exposes profile operations. Profiles are owned by their patient;
// platform admins hold read access for support.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// SaveParams carries the patient-editable profile fields.
type SaveParams struct {
	FullName          string
	Phone             *string
	PreferredLanguage string
	County            string
	PayerType         string
	CareNeeds         []string
}

// Save creates or updates the acting patient's own profile.
func (s *Service) Save(ctx context.Context, actor auth.Actor, params SaveParams) (Profile, error) {
	if actor.Role != auth.RolePatient {
		return Profile{}, ErrForbidden
	}
	if strings.TrimSpace(params.FullName) == "" {
		return Profile{}, fmt.Errorf("patient: full name required")
	}
	if strings.TrimSpace(params.County) == "" {
		return Profile{}, fmt.Errorf("patient: county required")
	}

	p := Profile{
		UserID:            actor.ID,
		FullName:          strings.TrimSpace(params.FullName),
		Phone:             params.Phone,
		PreferredLanguage: strings.TrimSpace(params.PreferredLanguage),
		County:            strings.TrimSpace(params.County),
	}
	if p.PreferredLanguage == "" {
		p.PreferredLanguage = "en"
	}

	if pt := strings.TrimSpace(params.PayerType); pt != "" {
		switch agency.PayerType(pt) {
		case agency.PayerMedicaid, agency.PayerMedicare, agency.PayerPrivatePay,
			agency.PayerLTCInsurance, agency.PayerVABenefits:
			p.PayerType = agency.PayerType(pt)
		default:
			return Profile{}, fmt.Errorf("patient: unknown payer type %q", pt)
		}
	}

	for _, c := range params.CareNeeds {
		switch agency.CareType(c) {
		case agency.CareHomeHealth, agency.CareHomeCare, agency.CareBoth:
			p.CareNeeds = append(p.CareNeeds, agency.CareType(c))
		default:
			return Profile{}, fmt.Errorf("patient: unknown care need %q", c)
		}
	}

	return s.store.Upsert(ctx, p)
}

// Get returns a profile, restricted to its owner and platform admins.
func (s *Service) Get(ctx context.Context, actor auth.Actor, userID string) (Profile, error) {
	if actor.Role != auth.RolePlatformAdmin && actor.ID != userID {
		return Profile{}, ErrForbidden
	}
	return s.store.Get(ctx, userID)
}

// Archive soft-retires the acting patient's profile.
func (s *Service) Archive(ctx context.Context, actor auth.Actor) error {
	if actor.Role != auth.RolePatient {
		return ErrForbidden
	}
	return s.store.Archive(ctx, actor.ID)
}
