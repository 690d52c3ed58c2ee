package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dumpster-directory/internal/domain/business"
)

const businessColumns = `id, slug, name, phone, email, website, address, city, state, zip, category,
	rating::float8, review_count, latitude, longitude, hours, services, gallery, description,
	featured, featured_until, claimed, COALESCE(owner_id, ''), lead_credits, created_at, updated_at`

const (
	listBusinessesSQL     = `SELECT ` + businessColumns + ` FROM businesses ORDER BY created_at, id`
	getBusinessSQL        = `SELECT ` + businessColumns + ` FROM businesses WHERE id = $1`
	getBusinessBySlugSQL  = `SELECT ` + businessColumns + ` FROM businesses WHERE slug = $1`
	getBusinessByOwnerSQL = `SELECT ` + businessColumns + ` FROM businesses WHERE owner_id = $1
		ORDER BY created_at LIMIT 1`

	createBusinessSQL = `INSERT INTO businesses (id, slug, name, phone, email, website, address, city,
		state, zip, category, rating, review_count, latitude, longitude, hours, services, gallery,
		description, featured, featured_until, claimed, owner_id, lead_credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24, $25, $26)`

	updateBusinessSQL = `UPDATE businesses SET slug = $2, name = $3, phone = $4, email = $5,
		website = $6, address = $7, city = $8, state = $9, zip = $10, category = $11, rating = $12,
		review_count = $13, latitude = $14, longitude = $15, hours = $16, services = $17,
		gallery = $18, description = $19, updated_at = NOW()
		WHERE id = $1`

	// Ownership, placement and credits are managed elsewhere and survive
	// a re-import.
	upsertBusinessSQL = `INSERT INTO businesses (id, slug, name, phone, email, website, address, city,
		state, zip, category, rating, review_count, latitude, longitude, hours, services, gallery,
		description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), businesses.phone),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), businesses.email),
			website = COALESCE(NULLIF(EXCLUDED.website, ''), businesses.website),
			address = COALESCE(NULLIF(EXCLUDED.address, ''), businesses.address),
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip = COALESCE(NULLIF(EXCLUDED.zip, ''), businesses.zip),
			category = COALESCE(NULLIF(EXCLUDED.category, ''), businesses.category),
			rating = EXCLUDED.rating,
			review_count = EXCLUDED.review_count,
			latitude = COALESCE(EXCLUDED.latitude, businesses.latitude),
			longitude = COALESCE(EXCLUDED.longitude, businesses.longitude),
			hours = COALESCE(NULLIF(EXCLUDED.hours, ''), businesses.hours),
			services = CASE WHEN cardinality(EXCLUDED.services) > 0 THEN EXCLUDED.services ELSE businesses.services END,
			gallery = CASE WHEN cardinality(EXCLUDED.gallery) > 0 THEN EXCLUDED.gallery ELSE businesses.gallery END,
			description = COALESCE(NULLIF(EXCLUDED.description, ''), businesses.description),
			updated_at = NOW()
		RETURNING id, (xmax = 0)`

	deleteBusinessSQL      = `DELETE FROM businesses WHERE id = $1`
	deleteAllBusinessesSQL = `DELETE FROM businesses`
	businessKeyFieldsSQL   = `SELECT name, phone, zip FROM businesses`
)

var _ business.Repository = (*BusinessRepository)(nil)

// BusinessRepository implements business.Repository backed by PostgreSQL.
type BusinessRepository struct {
	pool *pgxpool.Pool
}

// NewBusinessRepository returns a BusinessRepository that uses the given pool.
func NewBusinessRepository(pool *pgxpool.Pool) *BusinessRepository {
	return &BusinessRepository{pool: pool}
}

// List returns every listing in insertion order.
func (r *BusinessRepository) List(ctx context.Context) ([]business.Business, error) {
	return listBusinesses(ctx, r.pool)
}

func listBusinesses(ctx context.Context, q querier) ([]business.Business, error) {
	rows, err := q.Query(ctx, listBusinessesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing businesses: %w", err)
	}
	return pgx.CollectRows(rows, scanBusiness)
}

// Get returns a listing by ID.
func (r *BusinessRepository) Get(ctx context.Context, id string) (*business.Business, error) {
	return r.one(ctx, getBusinessSQL, id)
}

// GetBySlug returns a listing by its URL slug.
func (r *BusinessRepository) GetBySlug(ctx context.Context, slug string) (*business.Business, error) {
	return r.one(ctx, getBusinessBySlugSQL, slug)
}

// GetByOwner returns the listing claimed by the user.
func (r *BusinessRepository) GetByOwner(ctx context.Context, ownerID string) (*business.Business, error) {
	return r.one(ctx, getBusinessByOwnerSQL, ownerID)
}

func (r *BusinessRepository) one(ctx context.Context, sql, arg string) (*business.Business, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting business %q: %w", arg, err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBusiness)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, business.ErrNotFound
		}
		return nil, fmt.Errorf("getting business %q: %w", arg, err)
	}
	return &b, nil
}

// Create inserts a listing. A duplicate slug yields business.ErrSlugTaken.
func (r *BusinessRepository) Create(ctx context.Context, b *business.Business) error {
	_, err := r.pool.Exec(ctx, createBusinessSQL,
		b.ID, b.Slug, b.Name, b.Phone, b.Email, b.Website, b.Address, b.City,
		b.State, b.Zip, b.Category, b.Rating, b.ReviewCount, b.Latitude, b.Longitude, b.Hours,
		orEmpty(b.Services), orEmpty(b.Gallery), b.Description, b.Featured, b.FeaturedUntil,
		b.Claimed, nullString(b.OwnerID), b.LeadCredits, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "businesses_slug_key") {
			return business.ErrSlugTaken
		}
		return fmt.Errorf("creating business %q: %w", b.ID, err)
	}
	return nil
}

// Update overwrites the editable fields of a listing.
func (r *BusinessRepository) Update(ctx context.Context, b *business.Business) error {
	tag, err := r.pool.Exec(ctx, updateBusinessSQL,
		b.ID, b.Slug, b.Name, b.Phone, b.Email, b.Website, b.Address, b.City,
		b.State, b.Zip, b.Category, b.Rating, b.ReviewCount, b.Latitude, b.Longitude, b.Hours,
		orEmpty(b.Services), orEmpty(b.Gallery), b.Description,
	)
	if err != nil {
		if isUniqueViolation(err, "businesses_slug_key") {
			return business.ErrSlugTaken
		}
		return fmt.Errorf("updating business %q: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return business.ErrNotFound
	}
	return nil
}

// Delete removes a listing. Quotes keep their history with the target unset.
func (r *BusinessRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteBusinessSQL, id)
	if err != nil {
		return fmt.Errorf("deleting business %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return business.ErrNotFound
	}
	return nil
}

// Upsert inserts a listing or refreshes the one with the same slug. Empty
// incoming fields keep the stored value.
func (r *BusinessRepository) Upsert(ctx context.Context, b *business.Business) (bool, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	var created bool
	err := r.pool.QueryRow(ctx, upsertBusinessSQL,
		b.ID, b.Slug, b.Name, b.Phone, b.Email, b.Website, b.Address, b.City,
		b.State, b.Zip, b.Category, b.Rating, b.ReviewCount, b.Latitude, b.Longitude, b.Hours,
		orEmpty(b.Services), orEmpty(b.Gallery), b.Description,
	).Scan(&b.ID, &created)
	if err != nil {
		return false, fmt.Errorf("upserting business %q: %w", b.Slug, err)
	}
	return created, nil
}

// ExistingKeys returns business.DedupeKey for every stored listing.
func (r *BusinessRepository) ExistingKeys(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, businessKeyFieldsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing business keys: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var b business.Business
		if err := row.Scan(&b.Name, &b.Phone, &b.Zip); err != nil {
			return "", err
		}
		return business.DedupeKey(&b), nil
	})
}

// DeleteAll removes every listing and reports how many were deleted.
func (r *BusinessRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteAllBusinessesSQL)
	if err != nil {
		return 0, fmt.Errorf("deleting businesses: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanBusiness(row pgx.CollectableRow) (business.Business, error) {
	var b business.Business
	err := row.Scan(
		&b.ID, &b.Slug, &b.Name, &b.Phone, &b.Email, &b.Website, &b.Address, &b.City,
		&b.State, &b.Zip, &b.Category, &b.Rating, &b.ReviewCount, &b.Latitude, &b.Longitude,
		&b.Hours, &b.Services, &b.Gallery, &b.Description, &b.Featured, &b.FeaturedUntil,
		&b.Claimed, &b.OwnerID, &b.LeadCredits, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return business.Business{}, fmt.Errorf("scanning business: %w", err)
	}
	return b, nil
}
