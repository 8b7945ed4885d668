package agency

import (
	"context"
	"errors"

	"careswitch/auth"
)

// ErrForbidden signals the actor may not mutate the agency.
var ErrForbidden = errors.New("agency: forbidden")

// AdminStore is the write path used by the admin service.
type AdminStore interface {
	GetByID(ctx context.Context, id string) (Agency, error)
	SetAcceptingPatients(ctx context.Context, id string, accepting bool) (Agency, error)
	SetVerified(ctx context.Context, id string, verified bool) (Agency, error)
}

// AdminService mutates the only two mutable Agency fields: the
// accepting-new-patients flag and the verification flag.
type AdminService struct {
	store AdminStore
}

func NewAdminService(store AdminStore) *AdminService {
	return &AdminService{store: store}
}

// Get returns the agency record.
func (s *AdminService) Get(ctx context.Context, id string) (Agency, error) {
	return s.store.GetByID(ctx, id)
}

// SetAcceptingPatients flips the accepting flag. Admins of the agency and
// platform admins only.
func (s *AdminService) SetAcceptingPatients(ctx context.Context, actor auth.Actor, agencyID string, accepting bool) (Agency, error) {
	switch actor.Role {
	case auth.RolePlatformAdmin:
	case auth.RoleAgencyAdmin:
		if actor.AgencyID != agencyID {
			return Agency{}, ErrForbidden
		}
	default:
		return Agency{}, ErrForbidden
	}
	return s.store.SetAcceptingPatients(ctx, agencyID, accepting)
}

// SetVerified flips the verification flag. Platform admins only.
func (s *AdminService) SetVerified(ctx context.Context, actor auth.Actor, agencyID string, verified bool) (Agency, error) {
	if actor.Role != auth.RolePlatformAdmin {
		return Agency{}, ErrForbidden
	}
	return s.store.SetVerified(ctx, agencyID, verified)
}
