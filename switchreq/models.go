package switchreq

import (
	"time"

	"careswitch/auth"
)

// Status is the lifecycle state of a switch request.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusAccepted,
		StatusRejected, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Action names a state-machine operation.
type Action string

const (
	ActionCreate      Action = "create"
	ActionSubmit      Action = "submit"
	ActionCancel      Action = "cancel"
	ActionBeginReview Action = "begin_review"
	ActionAccept      Action = "accept"
	ActionDeny        Action = "deny"
	ActionComplete    Action = "complete"
)

// Request is a patient-initiated request to switch home-care agencies.
// Document references are owned externally and carried as opaque IDs.
type Request struct {
	ID             string
	PatientID      string
	AgencyID       string
	Status         Status
	Reason         *string
	DocumentRefs   []string
	CreatedAt      time.Time
	TransitionedAt time.Time
}

// rule describes one row of the transition table: which roles may perform the
// action, from which states, and where it lands.
type rule struct {
	from           []Status
	roles          []auth.Role
	to             Status
	requiresReason bool
	patientOwned   bool
	agencyScoped   bool
	notifies       bool
}

func (r rule) allowsRole(role auth.Role) bool {
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}

func (r rule) allowsFrom(s Status) bool {
	for _, from := range r.from {
		if from == s {
			return true
		}
	}
	return false
}

// transitions is the full permission/state table. Platform admins may act
// wherever agency admins may, without the agency-membership check.
var transitions = map[Action]rule{
	ActionSubmit: {
		from:         []Status{StatusDraft},
		roles:        []auth.Role{auth.RolePatient},
		to:           StatusSubmitted,
		patientOwned: true,
		notifies:     true,
	},
	ActionCancel: {
		from:         []Status{StatusDraft, StatusSubmitted, StatusUnderReview},
		roles:        []auth.Role{auth.RolePatient},
		to:           StatusCancelled,
		patientOwned: true,
	},
	ActionBeginReview: {
		from:         []Status{StatusSubmitted},
		roles:        []auth.Role{auth.RoleAgencyStaff, auth.RoleAgencyAdmin, auth.RolePlatformAdmin},
		to:           StatusUnderReview,
		agencyScoped: true,
	},
	ActionAccept: {
		from:         []Status{StatusUnderReview},
		roles:        []auth.Role{auth.RoleAgencyAdmin, auth.RolePlatformAdmin},
		to:           StatusAccepted,
		agencyScoped: true,
		notifies:     true,
	},
	ActionDeny: {
		from:           []Status{StatusUnderReview},
		roles:          []auth.Role{auth.RoleAgencyAdmin, auth.RolePlatformAdmin},
		to:             StatusRejected,
		requiresReason: true,
		agencyScoped:   true,
		notifies:       true,
	},
	ActionComplete: {
		from:         []Status{StatusAccepted},
		roles:        []auth.Role{auth.RoleAgencyAdmin, auth.RolePlatformAdmin},
		to:           StatusCompleted,
		agencyScoped: true,
		notifies:     true,
	},
}
