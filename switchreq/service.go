package switchreq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"careswitch/audit"
	"careswitch/auth"
	"careswitch/notify"
)

var (
	// ErrInvalidState signals the action is not legal from the current status.
	ErrInvalidState = errors.New("switchreq: invalid state for action")
	// ErrForbidden signals a role or ownership violation.
	ErrForbidden = errors.New("switchreq: forbidden")
	// ErrMissingReason signals a denial without a justification.
	ErrMissingReason = errors.New("switchreq: denial requires a reason")
)

// AuditEmitter records state changes on a best-effort basis. Emission failure
// must never surface to the caller once persistence succeeded.
type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event)
}

// Service is the switch-request state machine. It is stateless: every
// operation is a pure function of the persisted record, the action, and the
// actor, plus explicit collaborator calls. The repository write is the only
// suspension point and the service performs no internal retries.
type Service struct {
	repo     Repository
	auditor  AuditEmitter
	notifier notify.Dispatcher
	log      zerolog.Logger
	idGen    func() string
	now      func() time.Time
}

func NewService(repo Repository, auditor AuditEmitter, notifier notify.Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		auditor:  auditor,
		notifier: notifier,
		log:      log,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams carries the inputs for opening a new draft request.
type CreateParams struct {
	AgencyID     string
	DocumentRefs []string
}

// Create opens a draft switch request for the acting patient. A patient with
// an existing non-terminal request is rejected with ErrActiveRequestExists.
func (s *Service) Create(ctx context.Context, actor auth.Actor, params CreateParams) (Request, error) {
	if actor.Role != auth.RolePatient {
		return Request{}, ErrForbidden
	}
	if params.AgencyID == "" {
		return Request{}, fmt.Errorf("switchreq: missing target agency id")
	}

	active, err := s.repo.HasActive(ctx, actor.ID, "")
	if err != nil {
		return Request{}, err
	}
	if active {
		return Request{}, ErrActiveRequestExists
	}

	now := s.now()
	created, err := s.repo.Create(ctx, Request{
		ID:           s.idGen(),
		PatientID:    actor.ID,
		AgencyID:     params.AgencyID,
		Status:       StatusDraft,
		DocumentRefs: params.DocumentRefs,
		CreatedAt:    now,
	})
	if err != nil {
		return Request{}, err
	}

	s.auditor.Emit(ctx, s.event(actor, ActionCreate, created.ID, "", created.Status))
	return created, nil
}

// Submit moves a draft to submitted.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, requestID string) (Request, error) {
	return s.transition(ctx, actor, requestID, ActionSubmit, nil)
}

// Cancel withdraws the request. Legal from draft, submitted, or under_review.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, requestID string, reason *string) (Request, error) {
	return s.transition(ctx, actor, requestID, ActionCancel, reason)
}

// BeginReview marks a submitted request as being worked by the agency.
func (s *Service) BeginReview(ctx context.Context, actor auth.Actor, requestID string) (Request, error) {
	return s.transition(ctx, actor, requestID, ActionBeginReview, nil)
}

// Accept approves a request under review.
func (s *Service) Accept(ctx context.Context, actor auth.Actor, requestID string) (Request, error) {
	return s.transition(ctx, actor, requestID, ActionAccept, nil)
}

// Deny rejects a request under review. A reason is mandatory.
func (s *Service) Deny(ctx context.Context, actor auth.Actor, requestID string, reason *string) (Request, error) {
	return s.transition(ctx, actor, requestID, ActionDeny, reason)
}

// Complete closes out an accepted request once the switch has happened.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, requestID string) (Request, error) {
	return s.transition(ctx, actor, requestID, ActionComplete, nil)
}

// Get returns a single request, restricted to its patient, the target agency,
// and platform admins.
func (s *Service) Get(ctx context.Context, actor auth.Actor, requestID string) (Request, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if err := s.checkReadAccess(actor, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// ListForPatient returns the acting patient's request history.
func (s *Service) ListForPatient(ctx context.Context, actor auth.Actor) ([]Request, error) {
	if actor.Role != auth.RolePatient {
		return nil, ErrForbidden
	}
	return s.repo.ListByPatient(ctx, actor.ID)
}

// ListForAgency returns a page of requests targeting the actor's agency.
type ListForAgencyParams struct {
	AgencyID string
	Status   Status
	Page     int
	PageSize int
}

func (s *Service) ListForAgency(ctx context.Context, actor auth.Actor, params ListForAgencyParams) ([]Request, int, error) {
	if params.Status != "" && !params.Status.Valid() {
		return nil, 0, fmt.Errorf("switchreq: unknown status %q", params.Status)
	}
	if err := s.checkAgencyAccess(actor, params.AgencyID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListByAgency(ctx, AgencyFilters{
		AgencyID: params.AgencyID,
		Status:   params.Status,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// transition applies one row of the table: role check, reason check, load,
// ownership check, state check, conditional write, then audit and notify.
func (s *Service) transition(ctx context.Context, actor auth.Actor, requestID string, action Action, reason *string) (Request, error) {
	rule, ok := transitions[action]
	if !ok {
		return Request{}, fmt.Errorf("switchreq: unknown action %q", action)
	}

	if !rule.allowsRole(actor.Role) {
		return Request{}, ErrForbidden
	}

	reason = trimReason(reason)
	if rule.requiresReason && reason == nil {
		return Request{}, ErrMissingReason
	}

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return Request{}, err
	}

	if rule.patientOwned && req.PatientID != actor.ID {
		return Request{}, ErrForbidden
	}
	if rule.agencyScoped && actor.Role != auth.RolePlatformAdmin && actor.AgencyID != req.AgencyID {
		return Request{}, ErrForbidden
	}

	if !rule.allowsFrom(req.Status) {
		return Request{}, ErrInvalidState
	}

	if action == ActionSubmit {
		active, err := s.repo.HasActive(ctx, req.PatientID, req.ID)
		if err != nil {
			return Request{}, err
		}
		if active {
			return Request{}, ErrActiveRequestExists
		}
	}

	updated, err := s.repo.UpdateStatusIf(ctx, req.ID, req.Status, rule.to, reason, s.now())
	if err != nil {
		// Persistence failed or lost the race: no audit event, no signal.
		return Request{}, err
	}

	s.auditor.Emit(ctx, s.event(actor, action, updated.ID, req.Status, updated.Status))

	if rule.notifies && s.notifier != nil {
		if err := s.notifier.Notify(ctx, updated.ID, string(action)); err != nil {
			s.log.Warn().
				Err(err).
				Str("request_id", updated.ID).
				Str("action", string(action)).
				Msg("notification dispatch failed")
		}
	}

	return updated, nil
}

func (s *Service) event(actor auth.Actor, action Action, requestID string, before, after Status) audit.Event {
	return audit.Event{
		ActorID:      actor.ID,
		ActorRole:    string(actor.Role),
		Action:       string(action),
		ResourceType: "switch_request",
		ResourceID:   requestID,
		StatusBefore: string(before),
		StatusAfter:  string(after),
		OccurredAt:   s.now(),
	}
}

func (s *Service) checkReadAccess(actor auth.Actor, req Request) error {
	switch actor.Role {
	case auth.RolePlatformAdmin:
		return nil
	case auth.RolePatient:
		if req.PatientID == actor.ID {
			return nil
		}
	case auth.RoleAgencyStaff, auth.RoleAgencyAdmin:
		if req.AgencyID == actor.AgencyID {
			return nil
		}
	}
	return ErrForbidden
}

func (s *Service) checkAgencyAccess(actor auth.Actor, agencyID string) error {
	switch actor.Role {
	case auth.RolePlatformAdmin:
		return nil
	case auth.RoleAgencyStaff, auth.RoleAgencyAdmin:
		if actor.AgencyID == agencyID {
			return nil
		}
	}
	return ErrForbidden
}

func trimReason(reason *string) *string {
	if reason == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*reason)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
