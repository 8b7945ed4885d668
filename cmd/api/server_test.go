package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"careswitch/agency"
	"careswitch/auth"
	"careswitch/patient"
	"careswitch/switchreq"
)

type stubAuthService struct {
	registerUser *auth.User
	registerErr  error
	loginResult  auth.LoginResult
	loginErr     error
	actor        auth.Actor
	verifyErr    error
	user         *auth.User
	userErr      error
}

func (s *stubAuthService) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return s.registerUser, s.registerErr
}

func (s *stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubAuthService) VerifyToken(_ string) (auth.Actor, error) {
	return s.actor, s.verifyErr
}

func (s *stubAuthService) GetUserByID(_ context.Context, _ string) (*auth.User, error) {
	return s.user, s.userErr
}

type stubSearchService struct {
	lastFilter agency.CanonicalFilter
	result     agency.SearchResult
	err        error
}

func (s *stubSearchService) Search(_ context.Context, f agency.CanonicalFilter) (agency.SearchResult, error) {
	s.lastFilter = f
	return s.result, s.err
}

type stubAgencyService struct {
	agency agency.Agency
	err    error
}

func (s *stubAgencyService) Get(_ context.Context, _ string) (agency.Agency, error) {
	return s.agency, s.err
}

func (s *stubAgencyService) SetAcceptingPatients(_ context.Context, _ auth.Actor, _ string, _ bool) (agency.Agency, error) {
	return s.agency, s.err
}

func (s *stubAgencyService) SetVerified(_ context.Context, _ auth.Actor, _ string, _ bool) (agency.Agency, error) {
	return s.agency, s.err
}

type stubProfileService struct {
	profile patient.Profile
	err     error
}

func (s *stubProfileService) Save(_ context.Context, _ auth.Actor, _ patient.SaveParams) (patient.Profile, error) {
	return s.profile, s.err
}

func (s *stubProfileService) Get(_ context.Context, _ auth.Actor, _ string) (patient.Profile, error) {
	return s.profile, s.err
}

func (s *stubProfileService) Archive(_ context.Context, _ auth.Actor) error {
	return s.err
}

type stubProfileStore struct {
	profile patient.Profile
	err     error
}

func (s *stubProfileStore) Get(_ context.Context, _ string) (patient.Profile, error) {
	return s.profile, s.err
}

type stubRequestService struct {
	request    switchreq.Request
	err        error
	list       []switchreq.Request
	total      int
	stats      switchreq.Stats
	lastAction switchreq.Action
	lastReason *string
}

func (s *stubRequestService) Create(_ context.Context, _ auth.Actor, _ switchreq.CreateParams) (switchreq.Request, error) {
	return s.request, s.err
}

func (s *stubRequestService) Submit(_ context.Context, _ auth.Actor, _ string) (switchreq.Request, error) {
	s.lastAction = switchreq.ActionSubmit
	return s.request, s.err
}

func (s *stubRequestService) Cancel(_ context.Context, _ auth.Actor, _ string, reason *string) (switchreq.Request, error) {
	s.lastAction, s.lastReason = switchreq.ActionCancel, reason
	return s.request, s.err
}

func (s *stubRequestService) BeginReview(_ context.Context, _ auth.Actor, _ string) (switchreq.Request, error) {
	s.lastAction = switchreq.ActionBeginReview
	return s.request, s.err
}

func (s *stubRequestService) Accept(_ context.Context, _ auth.Actor, _ string) (switchreq.Request, error) {
	s.lastAction = switchreq.ActionAccept
	return s.request, s.err
}

func (s *stubRequestService) Deny(_ context.Context, _ auth.Actor, _ string, reason *string) (switchreq.Request, error) {
	s.lastAction, s.lastReason = switchreq.ActionDeny, reason
	return s.request, s.err
}

func (s *stubRequestService) Complete(_ context.Context, _ auth.Actor, _ string) (switchreq.Request, error) {
	s.lastAction = switchreq.ActionComplete
	return s.request, s.err
}

func (s *stubRequestService) Get(_ context.Context, _ auth.Actor, _ string) (switchreq.Request, error) {
	return s.request, s.err
}

func (s *stubRequestService) ListForPatient(_ context.Context, _ auth.Actor) ([]switchreq.Request, error) {
	return s.list, s.err
}

func (s *stubRequestService) ListForAgency(_ context.Context, _ auth.Actor, _ switchreq.ListForAgencyParams) ([]switchreq.Request, int, error) {
	return s.list, s.total, s.err
}

func (s *stubRequestService) AgencyStats(_ context.Context, _ auth.Actor, _ string) (switchreq.Stats, error) {
	return s.stats, s.err
}

func newTestServer() *Server {
	return &Server{
		authService: &stubAuthService{
			actor: auth.Actor{ID: "patient-1", Role: auth.RolePatient},
		},
		searchService:  &stubSearchService{},
		agencyService:  &stubAgencyService{},
		profileService: &stubProfileService{},
		profileStore:   &stubProfileStore{err: patient.ErrNotFound},
		requestService: &stubRequestService{},
		log:            zerolog.Nop(),
	}
}

func do(server *Server, method, target, body string, authed bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer token")
	}
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)
	return rec
}

func TestRegister_Success(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	server := newTestServer()
	server.authService = &stubAuthService{
		registerUser: &auth.User{ID: "u1", Email: "pat@example.com", FullName: "Pat Doe", Role: auth.RolePatient, CreatedAt: now},
	}

	rec := do(server, http.MethodPost, "/api/auth/register",
		`{"email":"pat@example.com","password":"longenough","full_name":"Pat Doe","role":"patient"}`, false)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "u1" || resp.Role != "patient" || resp.AgencyID != "" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	server := newTestServer()
	server.authService = &stubAuthService{registerErr: auth.ErrDuplicateEmail}

	rec := do(server, http.MethodPost, "/api/auth/register",
		`{"email":"pat@example.com","password":"longenough","full_name":"Pat Doe"}`, false)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	server := newTestServer()
	server.authService = &stubAuthService{loginErr: auth.ErrInvalidCredentials}

	rec := do(server, http.MethodPost, "/api/auth/login",
		`{"email":"pat@example.com","password":"wrong"}`, false)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMe_Success(t *testing.T) {
	server := newTestServer()
	server.authService = &stubAuthService{
		actor: auth.Actor{ID: "u1", Role: auth.RolePatient},
		user:  &auth.User{ID: "u1", Email: "pat@example.com", FullName: "Pat Doe", Role: auth.RolePatient},
	}

	rec := do(server, http.MethodGet, "/api/auth/me", "", true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "u1" || resp.Email != "pat@example.com" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestAuth_MissingBearerToken(t *testing.T) {
	server := newTestServer()

	rec := do(server, http.MethodGet, "/api/requests", "", false)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	server := newTestServer()
	server.authService = &stubAuthService{verifyErr: errors.New("expired")}

	rec := do(server, http.MethodGet, "/api/requests", "", true)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSearchAgencies_Success(t *testing.T) {
	now := time.Now().UTC()
	server := newTestServer()
	search := &stubSearchService{
		result: agency.SearchResult{
			Agencies: []agency.Agency{{
				ID:         "a1",
				Name:       "Sunrise Home Care",
				County:     "Kings",
				PayerTypes: []agency.PayerType{agency.PayerMedicaid},
				CareTypes:  []agency.CareType{agency.CareHomeCare},
				Verified:   true,
				CreatedAt:  now,
			}},
			Total: 1,
		},
	}
	server.searchService = search

	rec := do(server, http.MethodGet, "/api/agencies?county=Kings&payer_type=medicaid", "", true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Agencies) != 1 || resp.Agencies[0].ID != "a1" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.Agencies[0].CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected RFC3339 created_at, got %q", resp.Agencies[0].CreatedAt)
	}
	if search.lastFilter.County != "Kings" || search.lastFilter.PayerType != agency.PayerMedicaid {
		t.Fatalf("filter not forwarded: %+v", search.lastFilter)
	}
}

func TestSearchAgencies_PatientCountyDrivesRanking(t *testing.T) {
	server := newTestServer()
	search := &stubSearchService{}
	server.searchService = search
	server.profileStore = &stubProfileStore{profile: patient.Profile{UserID: "patient-1", County: "Queens"}}

	rec := do(server, http.MethodGet, "/api/agencies", "", true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if search.lastFilter.HomeCounty != "Queens" {
		t.Fatalf("expected home county Queens, got %q", search.lastFilter.HomeCounty)
	}
}

func TestSearchAgencies_StaffGetsNoHomeCounty(t *testing.T) {
	server := newTestServer()
	server.authService = &stubAuthService{
		actor: auth.Actor{ID: "staff-1", Role: auth.RoleAgencyStaff, AgencyID: "a1"},
	}
	search := &stubSearchService{}
	server.searchService = search
	server.profileStore = &stubProfileStore{profile: patient.Profile{County: "Queens"}}

	rec := do(server, http.MethodGet, "/api/agencies", "", true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if search.lastFilter.HomeCounty != "" {
		t.Fatalf("expected no home county for staff, got %q", search.lastFilter.HomeCounty)
	}
}

func TestSearchAgencies_BadFilter(t *testing.T) {
	server := newTestServer()

	rec := do(server, http.MethodGet, "/api/agencies?payer_type=bitcoin", "", true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp["error"], "payer_type") {
		t.Fatalf("expected field name in error, got %q", resp["error"])
	}
}

func TestSearchAgencies_Unavailable(t *testing.T) {
	server := newTestServer()
	server.searchService = &stubSearchService{
		err: agency.ErrSearchUnavailable,
	}

	rec := do(server, http.MethodGet, "/api/agencies", "", true)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRequestAction_DenyForwardsReason(t *testing.T) {
	server := newTestServer()
	server.authService = &stubAuthService{
		actor: auth.Actor{ID: "admin-1", Role: auth.RoleAgencyAdmin, AgencyID: "a1"},
	}
	requests := &stubRequestService{request: switchreq.Request{ID: "r1", Status: switchreq.StatusRejected}}
	server.requestService = requests

	rec := do(server, http.MethodPost, "/api/requests/r1/deny", `{"reason":"no capacity"}`, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if requests.lastAction != switchreq.ActionDeny {
		t.Fatalf("expected deny, got %s", requests.lastAction)
	}
	if requests.lastReason == nil || *requests.lastReason != "no capacity" {
		t.Fatalf("reason not forwarded: %v", requests.lastReason)
	}
}

func TestRequestAction_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"missing reason", switchreq.ErrMissingReason, http.StatusBadRequest},
		{"invalid state", switchreq.ErrInvalidState, http.StatusConflict},
		{"active exists", switchreq.ErrActiveRequestExists, http.StatusConflict},
		{"stale write", switchreq.ErrConflict, http.StatusConflict},
		{"forbidden", switchreq.ErrForbidden, http.StatusForbidden},
		{"not found", switchreq.ErrNotFound, http.StatusNotFound},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer()
			server.requestService = &stubRequestService{err: tc.err}

			rec := do(server, http.MethodPost, "/api/requests/r1/submit", "", true)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestCreateRequest_Success(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	server := newTestServer()
	server.requestService = &stubRequestService{
		request: switchreq.Request{
			ID:             "r1",
			PatientID:      "patient-1",
			AgencyID:       "a1",
			Status:         switchreq.StatusDraft,
			DocumentRefs:   []string{"doc://consent"},
			CreatedAt:      now,
			TransitionedAt: now,
		},
	}

	rec := do(server, http.MethodPost, "/api/requests",
		`{"agency_id":"a1","document_refs":["doc://consent"]}`, true)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp requestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "r1" || resp.Status != "draft" || resp.TransitionedAt != now.Format(time.RFC3339) {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestAgencyRequests_List(t *testing.T) {
	server := newTestServer()
	server.authService = &stubAuthService{
		actor: auth.Actor{ID: "staff-1", Role: auth.RoleAgencyStaff, AgencyID: "a1"},
	}
	server.requestService = &stubRequestService{
		list:  []switchreq.Request{{ID: "r1", AgencyID: "a1", Status: switchreq.StatusSubmitted}},
		total: 7,
	}

	rec := do(server, http.MethodGet, "/api/agencies/a1/requests?status=submitted&page=2", "", true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Requests []requestResponse `json:"requests"`
		Total    int               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Requests) != 1 || payload.Total != 7 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAgencyStats_Success(t *testing.T) {
	server := newTestServer()
	server.authService = &stubAuthService{
		actor: auth.Actor{ID: "admin-1", Role: auth.RoleAgencyAdmin, AgencyID: "a1"},
	}
	server.requestService = &stubRequestService{
		stats: switchreq.Stats{
			Total:   4,
			Pending: 2,
			ByStatus: map[switchreq.Status]int{
				switchreq.StatusSubmitted:   1,
				switchreq.StatusUnderReview: 1,
				switchreq.StatusCompleted:   2,
			},
		},
	}

	rec := do(server, http.MethodGet, "/api/agencies/a1/stats", "", true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 4 || resp.Pending != 2 || resp.ByStatus["completed"] != 2 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestSaveProfile_Success(t *testing.T) {
	server := newTestServer()
	server.profileService = &stubProfileService{
		profile: patient.Profile{
			UserID:            "patient-1",
			FullName:          "Pat Doe",
			PreferredLanguage: "es",
			County:            "Kings",
			PayerType:         agency.PayerMedicaid,
			CareNeeds:         []agency.CareType{agency.CareHomeCare},
		},
	}

	rec := do(server, http.MethodPut, "/api/patients/me/profile",
		`{"full_name":"Pat Doe","preferred_language":"es","county":"Kings","payer_type":"medicaid","care_needs":["home_care"]}`, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp profileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.County != "Kings" || resp.PayerType != "medicaid" || len(resp.CareNeeds) != 1 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestArchiveProfile_Success(t *testing.T) {
	server := newTestServer()

	rec := do(server, http.MethodDelete, "/api/patients/me/profile", "", true)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestSetVerified_Forbidden(t *testing.T) {
	server := newTestServer()
	server.authService = &stubAuthService{
		actor: auth.Actor{ID: "admin-1", Role: auth.RoleAgencyAdmin, AgencyID: "a1"},
	}
	server.agencyService = &stubAgencyService{err: agency.ErrForbidden}

	rec := do(server, http.MethodPatch, "/api/agencies/a1/verified", `{"verified":true}`, true)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetAgency_NotFound(t *testing.T) {
	server := newTestServer()
	server.agencyService = &stubAgencyService{err: agency.ErrNotFound}

	rec := do(server, http.MethodGet, "/api/agencies/missing", "", true)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
