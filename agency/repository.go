package agency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested agency does not exist.
var ErrNotFound = errors.New("agency: not found")

const agencyColumns = `id, name, address, city, county, payer_types::text[], care_types::text[], languages, verified, accepting_patients, created_at, updated_at`

// Repository provides pgx-backed access to the agency catalog.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListAll loads the full catalog ordered by name. The catalog is the set of
// licensed agencies in the service area, small enough that the search engine
// filters and ranks in memory.
func (r *Repository) ListAll(ctx context.Context) ([]Agency, error) {
	query := fmt.Sprintf(`SELECT %s FROM agencies ORDER BY name ASC, id ASC`, agencyColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agency: list catalog: %w", err)
	}
	defer rows.Close()

	agencies := make([]Agency, 0, 64)
	for rows.Next() {
		a, err := scanAgency(rows)
		if err != nil {
			return nil, err
		}
		agencies = append(agencies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agency: iterate catalog: %w", err)
	}
	return agencies, nil
}

// GetByID fetches a single agency.
func (r *Repository) GetByID(ctx context.Context, id string) (Agency, error) {
	query := fmt.Sprintf(`SELECT %s FROM agencies WHERE id = $1`, agencyColumns)

	a, err := scanAgency(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agency{}, ErrNotFound
		}
		return Agency{}, fmt.Errorf("agency: get by id: %w", err)
	}
	return a, nil
}

// Create inserts a new agency record. Used by platform onboarding and seeding.
func (r *Repository) Create(ctx context.Context, a Agency) (Agency, error) {
	query := fmt.Sprintf(`
		INSERT INTO agencies (id, name, address, city, county, payer_types, care_types, languages, verified, accepting_patients)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6::payer_type[], $7::care_type[], $8, $9, $10)
		RETURNING %s`, agencyColumns)

	created, err := scanAgency(r.pool.QueryRow(ctx, query,
		a.ID,
		a.Name,
		a.Address,
		a.City,
		a.County,
		payerStrings(a.PayerTypes),
		careStrings(a.CareTypes),
		a.Languages,
		a.Verified,
		a.AcceptingPatients,
	))
	if err != nil {
		return Agency{}, fmt.Errorf("agency: create: %w", err)
	}
	return created, nil
}

// SetAcceptingPatients flips the accepting-new-patients flag.
func (r *Repository) SetAcceptingPatients(ctx context.Context, id string, accepting bool) (Agency, error) {
	query := fmt.Sprintf(`
		UPDATE agencies
		SET accepting_patients = $2, updated_at = now()
		WHERE id = $1
		RETURNING %s`, agencyColumns)

	a, err := scanAgency(r.pool.QueryRow(ctx, query, id, accepting))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agency{}, ErrNotFound
		}
		return Agency{}, fmt.Errorf("agency: set accepting: %w", err)
	}
	return a, nil
}

// SetVerified flips the verification flag.
func (r *Repository) SetVerified(ctx context.Context, id string, verified bool) (Agency, error) {
	query := fmt.Sprintf(`
		UPDATE agencies
		SET verified = $2, updated_at = now()
		WHERE id = $1
		RETURNING %s`, agencyColumns)

	a, err := scanAgency(r.pool.QueryRow(ctx, query, id, verified))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agency{}, ErrNotFound
		}
		return Agency{}, fmt.Errorf("agency: set verified: %w", err)
	}
	return a, nil
}

func scanAgency(row pgx.Row) (Agency, error) {
	var (
		a      Agency
		payers []string
		cares  []string
	)
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Address,
		&a.City,
		&a.County,
		&payers,
		&cares,
		&a.Languages,
		&a.Verified,
		&a.AcceptingPatients,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Agency{}, err
	}
	for _, p := range payers {
		a.PayerTypes = append(a.PayerTypes, PayerType(p))
	}
	for _, c := range cares {
		a.CareTypes = append(a.CareTypes, CareType(c))
	}
	return a, nil
}

func payerStrings(pts []PayerType) []string {
	out := make([]string, len(pts))
	for i, p := range pts {
		out[i] = string(p)
	}
	return out
}

func careStrings(cts []CareType) []string {
	out := make([]string, len(cts))
	for i, c := range cts {
		out[i] = string(c)
	}
	return out
}
