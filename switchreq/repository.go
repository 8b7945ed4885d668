package switchreq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested switch request does not exist.
	ErrNotFound = errors.New("switchreq: not found")
	// ErrConflict signals the request changed between read and write.
	ErrConflict = errors.New("switchreq: concurrent transition conflict")
	// ErrActiveRequestExists signals the patient already has a live request.
	ErrActiveRequestExists = errors.New("switchreq: active request exists")
)

// Repository is the persistence contract for switch requests. UpdateStatusIf
// is the conditional write the state machine's optimistic concurrency relies
// on: the write lands only if the status is unchanged since it was read.
type Repository interface {
	Create(ctx context.Context, req Request) (Request, error)
	GetByID(ctx context.Context, id string) (Request, error)
	UpdateStatusIf(ctx context.Context, id string, expect, next Status, reason *string, at time.Time) (Request, error)
	HasActive(ctx context.Context, patientID, excludeID string) (bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]Request, error)
	ListByAgency(ctx context.Context, filters AgencyFilters) ([]Request, int, error)
}

// AgencyFilters narrows an agency-side request listing.
type AgencyFilters struct {
	AgencyID string
	Status   Status
	Page     int
	PageSize int
}

const requestColumns = `id, patient_id, agency_id, status::text, reason, document_refs, created_at, transitioned_at`

// PGRepository is the pgx-backed Repository implementation.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, req Request) (Request, error) {
	query := fmt.Sprintf(`
		INSERT INTO switch_requests (id, patient_id, agency_id, status, document_refs, created_at, transitioned_at)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4::switch_request_status, $5, $6, $6)
		RETURNING %s`, requestColumns)

	created, err := scanRequest(r.pool.QueryRow(ctx, query,
		req.ID,
		req.PatientID,
		req.AgencyID,
		req.Status,
		req.DocumentRefs,
		req.CreatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Partial unique index on non-terminal requests per patient.
			return Request{}, ErrActiveRequestExists
		}
		return Request{}, fmt.Errorf("switchreq: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM switch_requests WHERE id = $1`, requestColumns)

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("switchreq: get by id: %w", err)
	}
	return req, nil
}

// UpdateStatusIf performs the conditional write: it succeeds only when the
// row's status still equals expect. Zero rows with an existing row means a
// concurrent transition won the race.
func (r *PGRepository) UpdateStatusIf(ctx context.Context, id string, expect, next Status, reason *string, at time.Time) (Request, error) {
	query := fmt.Sprintf(`
		UPDATE switch_requests
		SET status = $3::switch_request_status,
		    reason = COALESCE($4, reason),
		    transitioned_at = $5
		WHERE id = $1 AND status = $2::switch_request_status
		RETURNING %s`, requestColumns)

	updated, err := scanRequest(r.pool.QueryRow(ctx, query, id, expect, next, reason, at))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("switchreq: update status: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM switch_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Request{}, fmt.Errorf("switchreq: verify existence: %w", err)
	}
	if exists {
		return Request{}, ErrConflict
	}
	return Request{}, ErrNotFound
}

func (r *PGRepository) HasActive(ctx context.Context, patientID, excludeID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM switch_requests
			WHERE patient_id = $1
			  AND status NOT IN ('completed', 'rejected', 'cancelled')
			  AND ($2 = '' OR id <> $2::uuid)
		)`

	var active bool
	if err := r.pool.QueryRow(ctx, query, patientID, excludeID).Scan(&active); err != nil {
		return false, fmt.Errorf("switchreq: check active: %w", err)
	}
	return active, nil
}

func (r *PGRepository) ListByPatient(ctx context.Context, patientID string) ([]Request, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM switch_requests
		WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC`, requestColumns)

	rows, err := r.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("switchreq: list by patient: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

func (r *PGRepository) ListByAgency(ctx context.Context, filters AgencyFilters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"agency_id = $1"}
	args := []any{filters.AgencyID}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d::switch_request_status", len(args)+1))
		args = append(args, filters.Status)
	}
	whereClause := strings.Join(where, " AND ")

	query := fmt.Sprintf(`
		SELECT %s FROM switch_requests
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT %d OFFSET %d`,
		requestColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("switchreq: list by agency: %w", err)
	}
	defer rows.Close()

	list, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM switch_requests WHERE %s`, whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("switchreq: count by agency: %w", err)
	}

	return list, total, nil
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("switchreq: iterate requests: %w", err)
	}
	return list, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	return req, row.Scan(
		&req.ID,
		&req.PatientID,
		&req.AgencyID,
		&req.Status,
		&req.Reason,
		&req.DocumentRefs,
		&req.CreatedAt,
		&req.TransitionedAt,
	)
}
