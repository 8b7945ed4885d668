package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"careswitch/agency"
	"careswitch/auth"
	"careswitch/patient"
	"careswitch/switchreq"
)

// Service interfaces are declared consumer-side so handlers can be exercised
// with stubs in tests.

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Actor, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
}

type searchService interface {
	Search(ctx context.Context, f agency.CanonicalFilter) (agency.SearchResult, error)
}

type agencyAdminService interface {
	Get(ctx context.Context, id string) (agency.Agency, error)
	SetAcceptingPatients(ctx context.Context, actor auth.Actor, agencyID string, accepting bool) (agency.Agency, error)
	SetVerified(ctx context.Context, actor auth.Actor, agencyID string, verified bool) (agency.Agency, error)
}

type profileService interface {
	Save(ctx context.Context, actor auth.Actor, params patient.SaveParams) (patient.Profile, error)
	Get(ctx context.Context, actor auth.Actor, userID string) (patient.Profile, error)
	Archive(ctx context.Context, actor auth.Actor) error
}

type requestService interface {
	Create(ctx context.Context, actor auth.Actor, params switchreq.CreateParams) (switchreq.Request, error)
	Submit(ctx context.Context, actor auth.Actor, requestID string) (switchreq.Request, error)
	Cancel(ctx context.Context, actor auth.Actor, requestID string, reason *string) (switchreq.Request, error)
	BeginReview(ctx context.Context, actor auth.Actor, requestID string) (switchreq.Request, error)
	Accept(ctx context.Context, actor auth.Actor, requestID string) (switchreq.Request, error)
	Deny(ctx context.Context, actor auth.Actor, requestID string, reason *string) (switchreq.Request, error)
	Complete(ctx context.Context, actor auth.Actor, requestID string) (switchreq.Request, error)
	Get(ctx context.Context, actor auth.Actor, requestID string) (switchreq.Request, error)
	ListForPatient(ctx context.Context, actor auth.Actor) ([]switchreq.Request, error)
	ListForAgency(ctx context.Context, actor auth.Actor, params switchreq.ListForAgencyParams) ([]switchreq.Request, int, error)
	AgencyStats(ctx context.Context, actor auth.Actor, agencyID string) (switchreq.Stats, error)
}

type profileReader interface {
	Get(ctx context.Context, userID string) (patient.Profile, error)
}

// Server routes portal requests to the domain services.
type Server struct {
	authService    authService
	searchService  searchService
	agencyService  agencyAdminService
	profileService profileService
	profileStore   profileReader
	requestService requestService
	log            zerolog.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/me", s.withActor(s.handleMe))

	mux.HandleFunc("GET /api/agencies", s.withActor(s.handleSearchAgencies))
	mux.HandleFunc("GET /api/agencies/{id}", s.withActor(s.handleGetAgency))
	mux.HandleFunc("PATCH /api/agencies/{id}/accepting", s.withActor(s.handleSetAccepting))
	mux.HandleFunc("PATCH /api/agencies/{id}/verified", s.withActor(s.handleSetVerified))
	mux.HandleFunc("GET /api/agencies/{id}/requests", s.withActor(s.handleAgencyRequests))
	mux.HandleFunc("GET /api/agencies/{id}/stats", s.withActor(s.handleAgencyStats))

	mux.HandleFunc("GET /api/patients/me/profile", s.withActor(s.handleGetProfile))
	mux.HandleFunc("PUT /api/patients/me/profile", s.withActor(s.handleSaveProfile))
	mux.HandleFunc("DELETE /api/patients/me/profile", s.withActor(s.handleArchiveProfile))

	mux.HandleFunc("POST /api/requests", s.withActor(s.handleCreateRequest))
	mux.HandleFunc("GET /api/requests", s.withActor(s.handleListMyRequests))
	mux.HandleFunc("GET /api/requests/{id}", s.withActor(s.handleGetRequest))
	mux.HandleFunc("POST /api/requests/{id}/submit", s.withActor(s.handleRequestAction(switchreq.ActionSubmit)))
	mux.HandleFunc("POST /api/requests/{id}/cancel", s.withActor(s.handleRequestAction(switchreq.ActionCancel)))
	mux.HandleFunc("POST /api/requests/{id}/begin_review", s.withActor(s.handleRequestAction(switchreq.ActionBeginReview)))
	mux.HandleFunc("POST /api/requests/{id}/accept", s.withActor(s.handleRequestAction(switchreq.ActionAccept)))
	mux.HandleFunc("POST /api/requests/{id}/deny", s.withActor(s.handleRequestAction(switchreq.ActionDeny)))
	mux.HandleFunc("POST /api/requests/{id}/complete", s.withActor(s.handleRequestAction(switchreq.ActionComplete)))

	return mux
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor auth.Actor)

// withActor authenticates the bearer token and hands the resolved actor to
// the wrapped handler.
func (s *Server) withActor(next actorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, actor)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponseFrom(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User:  userResponseFrom(result.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	user, err := s.authService.GetUserByID(r.Context(), actor.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponseFrom(*user))
}

func (s *Server) handleSearchAgencies(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	q := r.URL.Query()
	raw := agency.RawFilter{
		County:       q.Get("county"),
		CareType:     q.Get("care_type"),
		PayerType:    q.Get("payer_type"),
		Language:     q.Get("language"),
		VerifiedOnly: q.Get("verified_only") == "true",
		Query:        q.Get("q"),
	}
	if page := q.Get("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil {
			writeError(w, http.StatusBadRequest, "page must be an integer")
			return
		}
		raw.Page = n
	}
	if size := q.Get("page_size"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			writeError(w, http.StatusBadRequest, "page_size must be an integer")
			return
		}
		raw.PageSize = n
	}

	filter, err := agency.BuildFilter(raw)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	// "Suggested for you": a patient's own county ranks first.
	if actor.Role == auth.RolePatient && s.profileStore != nil {
		if profile, err := s.profileStore.Get(r.Context(), actor.ID); err == nil {
			filter = filter.WithHomeCounty(profile.County)
		}
	}

	result, err := s.searchService.Search(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := searchResponse{
		Agencies: make([]agencyResponse, 0, len(result.Agencies)),
		Total:    result.Total,
	}
	for _, a := range result.Agencies {
		out.Agencies = append(out.Agencies, agencyResponseFrom(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAgency(w http.ResponseWriter, r *http.Request, _ auth.Actor) {
	a, err := s.agencyService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agencyResponseFrom(a))
}

func (s *Server) handleSetAccepting(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	var body struct {
		Accepting bool `json:"accepting"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := s.agencyService.SetAcceptingPatients(r.Context(), actor, r.PathValue("id"), body.Accepting)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agencyResponseFrom(a))
}

func (s *Server) handleSetVerified(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	var body struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := s.agencyService.SetVerified(r.Context(), actor, r.PathValue("id"), body.Verified)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agencyResponseFrom(a))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	profile, err := s.profileService.Get(r.Context(), actor, actor.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponseFrom(profile))
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	var body struct {
		FullName          string   `json:"full_name"`
		Phone             *string  `json:"phone"`
		PreferredLanguage string   `json:"preferred_language"`
		County            string   `json:"county"`
		PayerType         string   `json:"payer_type"`
		CareNeeds         []string `json:"care_needs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	profile, err := s.profileService.Save(r.Context(), actor, patient.SaveParams{
		FullName:          body.FullName,
		Phone:             body.Phone,
		PreferredLanguage: body.PreferredLanguage,
		County:            body.County,
		PayerType:         body.PayerType,
		CareNeeds:         body.CareNeeds,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponseFrom(profile))
}

func (s *Server) handleArchiveProfile(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	if err := s.profileService.Archive(r.Context(), actor); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	var body struct {
		AgencyID     string   `json:"agency_id"`
		DocumentRefs []string `json:"document_refs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := s.requestService.Create(r.Context(), actor, switchreq.CreateParams{
		AgencyID:     body.AgencyID,
		DocumentRefs: body.DocumentRefs,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, requestResponseFrom(req))
}

func (s *Server) handleRequestAction(action switchreq.Action) actorHandler {
	return func(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
		requestID := r.PathValue("id")

		var reason *string
		if action == switchreq.ActionCancel || action == switchreq.ActionDeny {
			var body struct {
				Reason *string `json:"reason"`
			}
			// A body is optional for cancel.
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				reason = body.Reason
			}
		}

		var (
			req switchreq.Request
			err error
		)
		ctx := r.Context()
		switch action {
		case switchreq.ActionSubmit:
			req, err = s.requestService.Submit(ctx, actor, requestID)
		case switchreq.ActionCancel:
			req, err = s.requestService.Cancel(ctx, actor, requestID, reason)
		case switchreq.ActionBeginReview:
			req, err = s.requestService.BeginReview(ctx, actor, requestID)
		case switchreq.ActionAccept:
			req, err = s.requestService.Accept(ctx, actor, requestID)
		case switchreq.ActionDeny:
			req, err = s.requestService.Deny(ctx, actor, requestID, reason)
		case switchreq.ActionComplete:
			req, err = s.requestService.Complete(ctx, actor, requestID)
		default:
			writeError(w, http.StatusNotFound, "unknown action")
			return
		}
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, requestResponseFrom(req))
	}
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	req, err := s.requestService.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponseFrom(req))
}

func (s *Server) handleListMyRequests(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	requests, err := s.requestService.ListForPatient(r.Context(), actor)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, requestResponseFrom(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAgencyRequests(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	requests, total, err := s.requestService.ListForAgency(r.Context(), actor, switchreq.ListForAgencyParams{
		AgencyID: r.PathValue("id"),
		Status:   switchreq.Status(q.Get("status")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := struct {
		Requests []requestResponse `json:"requests"`
		Total    int               `json:"total"`
	}{Requests: make([]requestResponse, 0, len(requests)), Total: total}
	for _, req := range requests {
		out.Requests = append(out.Requests, requestResponseFrom(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAgencyStats(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	stats, err := s.requestService.AgencyStats(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		byStatus[string(status)] = n
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Total:    stats.Total,
		Pending:  stats.Pending,
		ByStatus: byStatus,
	})
}

// writeServiceError maps domain errors onto HTTP statuses with an actionable
// message per error kind.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var filterErr *agency.FilterError
	switch {
	case errors.As(err, &filterErr):
		writeError(w, http.StatusBadRequest, filterErr.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "that email is already registered")
	case errors.Is(err, switchreq.ErrMissingReason):
		writeError(w, http.StatusBadRequest, "a reason is required to deny a request")
	case errors.Is(err, switchreq.ErrInvalidState):
		writeError(w, http.StatusConflict, "this request has already been decided or is not ready for that step")
	case errors.Is(err, switchreq.ErrActiveRequestExists):
		writeError(w, http.StatusConflict, "you already have an open switch request")
	case errors.Is(err, switchreq.ErrConflict):
		writeError(w, http.StatusConflict, "the request changed while you were working; refresh and try again")
	case errors.Is(err, switchreq.ErrForbidden),
		errors.Is(err, agency.ErrForbidden),
		errors.Is(err, patient.ErrForbidden):
		writeError(w, http.StatusForbidden, "you don't have permission to do that")
	case errors.Is(err, switchreq.ErrNotFound),
		errors.Is(err, agency.ErrNotFound),
		errors.Is(err, patient.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, agency.ErrSearchUnavailable):
		writeError(w, http.StatusServiceUnavailable, "search is temporarily unavailable; try again shortly")
	default:
		s.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Response DTOs keep timestamps as RFC3339 strings.

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	AgencyID string `json:"agency_id,omitempty"`
}

func userResponseFrom(u auth.User) userResponse {
	out := userResponse{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     string(u.Role),
	}
	if u.AgencyID != nil {
		out.AgencyID = *u.AgencyID
	}
	return out
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type agencyResponse struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Address           string   `json:"address"`
	City              string   `json:"city"`
	County            string   `json:"county"`
	PayerTypes        []string `json:"payer_types"`
	CareTypes         []string `json:"care_types"`
	Languages         []string `json:"languages"`
	Verified          bool     `json:"verified"`
	AcceptingPatients bool     `json:"accepting_patients"`
	CreatedAt         string   `json:"created_at"`
}

func agencyResponseFrom(a agency.Agency) agencyResponse {
	out := agencyResponse{
		ID:                a.ID,
		Name:              a.Name,
		Address:           a.Address,
		City:              a.City,
		County:            a.County,
		PayerTypes:        make([]string, 0, len(a.PayerTypes)),
		CareTypes:         make([]string, 0, len(a.CareTypes)),
		Languages:         a.Languages,
		Verified:          a.Verified,
		AcceptingPatients: a.AcceptingPatients,
		CreatedAt:         a.CreatedAt.Format(time.RFC3339),
	}
	for _, p := range a.PayerTypes {
		out.PayerTypes = append(out.PayerTypes, string(p))
	}
	for _, c := range a.CareTypes {
		out.CareTypes = append(out.CareTypes, string(c))
	}
	return out
}

type searchResponse struct {
	Agencies []agencyResponse `json:"agencies"`
	Total    int              `json:"total"`
}

type profileResponse struct {
	UserID            string   `json:"user_id"`
	FullName          string   `json:"full_name"`
	Phone             *string  `json:"phone,omitempty"`
	PreferredLanguage string   `json:"preferred_language"`
	County            string   `json:"county"`
	PayerType         string   `json:"payer_type,omitempty"`
	CareNeeds         []string `json:"care_needs"`
}

func profileResponseFrom(p patient.Profile) profileResponse {
	out := profileResponse{
		UserID:            p.UserID,
		FullName:          p.FullName,
		Phone:             p.Phone,
		PreferredLanguage: p.PreferredLanguage,
		County:            p.County,
		PayerType:         string(p.PayerType),
		CareNeeds:         make([]string, 0, len(p.CareNeeds)),
	}
	for _, c := range p.CareNeeds {
		out.CareNeeds = append(out.CareNeeds, string(c))
	}
	return out
}

type statsResponse struct {
	Total    int            `json:"total"`
	Pending  int            `json:"pending"`
	ByStatus map[string]int `json:"by_status"`
}

type requestResponse struct {
	ID             string   `json:"id"`
	PatientID      string   `json:"patient_id"`
	AgencyID       string   `json:"agency_id"`
	Status         string   `json:"status"`
	Reason         *string  `json:"reason,omitempty"`
	DocumentRefs   []string `json:"document_refs"`
	CreatedAt      string   `json:"created_at"`
	TransitionedAt string   `json:"transitioned_at"`
}

func requestResponseFrom(req switchreq.Request) requestResponse {
	return requestResponse{
		ID:             req.ID,
		PatientID:      req.PatientID,
		AgencyID:       req.AgencyID,
		Status:         string(req.Status),
		Reason:         req.Reason,
		DocumentRefs:   req.DocumentRefs,
		CreatedAt:      req.CreatedAt.Format(time.RFC3339),
		TransitionedAt: req.TransitionedAt.Format(time.RFC3339),
	}
}
