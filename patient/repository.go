package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"careswitch/agency"
)

// ErrNotFound signals the patient has no profile yet.
var ErrNotFound = errors.New("patient: profile not found")

const profileColumns = `user_id, full_name, phone, preferred_language, county, payer_type::text, care_needs::text[], archived, created_at, updated_at`

// Repository provides pgx-backed access to patient profiles.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, userID string) (Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM patient_profiles WHERE user_id = $1`, profileColumns)

	p, err := scanProfile(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("patient: get profile: %w", err)
	}
	return p, nil
}

// Upsert writes the profile, creating it on first save.
func (r *Repository) Upsert(ctx context.Context, p Profile) (Profile, error) {
	query := fmt.Sprintf(`
		INSERT INTO patient_profiles (user_id, full_name, phone, preferred_language, county, payer_type, care_needs)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::payer_type, $7::care_type[])
		ON CONFLICT (user_id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    phone = EXCLUDED.phone,
		    preferred_language = EXCLUDED.preferred_language,
		    county = EXCLUDED.county,
		    payer_type = EXCLUDED.payer_type,
		    care_needs = EXCLUDED.care_needs,
		    updated_at = now()
		RETURNING %s`, profileColumns)

	careNeeds := make([]string, len(p.CareNeeds))
	for i, c := range p.CareNeeds {
		careNeeds[i] = string(c)
	}

	saved, err := scanProfile(r.pool.QueryRow(ctx, query,
		p.UserID,
		p.FullName,
		p.Phone,
		p.PreferredLanguage,
		p.County,
		string(p.PayerType),
		careNeeds,
	))
	if err != nil {
		return Profile{}, fmt.Errorf("patient: upsert profile: %w", err)
	}
	return saved, nil
}

// Archive soft-retires the profile. Profiles are never deleted.
func (r *Repository) Archive(ctx context.Context, userID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE patient_profiles SET archived = true, updated_at = now() WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("patient: archive profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p         Profile
		payer     *string
		careNeeds []string
	)
	err := row.Scan(
		&p.UserID,
		&p.FullName,
		&p.Phone,
		&p.PreferredLanguage,
		&p.County,
		&payer,
		&careNeeds,
		&p.Archived,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	if payer != nil {
		p.PayerType = agency.PayerType(*payer)
	}
	for _, c := range careNeeds {
		p.CareNeeds = append(p.CareNeeds, agency.CareType(c))
	}
	return p, nil
}
