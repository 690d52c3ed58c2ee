package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dumpster-directory/internal/domain/quote"
)

const quoteColumns = `id, COALESCE(business_id, ''), name, email, phone, zip, city, state,
	dumpster_size, project_type, start_date, message, status, source, created_at`

const (
	createQuoteSQL = `INSERT INTO quotes (id, business_id, name, email, phone, zip, city, state,
		dumpster_size, project_type, start_date, message, status, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getQuoteSQL          = `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`
	updateQuoteStatusSQL = `UPDATE quotes SET status = $2 WHERE id = $1`
)

var _ quote.Repository = (*QuoteRepository)(nil)

// QuoteRepository implements quote.Repository backed by PostgreSQL.
type QuoteRepository struct {
	pool *pgxpool.Pool
}

// NewQuoteRepository returns a QuoteRepository that uses the given pool.
func NewQuoteRepository(pool *pgxpool.Pool) *QuoteRepository {
	return &QuoteRepository{pool: pool}
}

// Create persists a new quote request.
func (r *QuoteRepository) Create(ctx context.Context, q *quote.Quote) error {
	_, err := r.pool.Exec(ctx, createQuoteSQL,
		q.ID, nullString(q.BusinessID), q.Name, q.Email, q.Phone, q.Zip, q.City, q.State,
		q.DumpsterSize, q.ProjectType, q.StartDate, q.Message, string(q.Status), q.Source, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating quote %q: %w", q.ID, err)
	}
	return nil
}

// Get returns a quote by ID.
func (r *QuoteRepository) Get(ctx context.Context, id string) (*quote.Quote, error) {
	rows, err := r.pool.Query(ctx, getQuoteSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting quote %q: %w", id, err)
	}
	q, err := pgx.CollectExactlyOneRow(rows, scanQuote)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, quote.ErrNotFound
		}
		return nil, fmt.Errorf("getting quote %q: %w", id, err)
	}
	return &q, nil
}

// List returns quotes matching f, newest first.
func (r *QuoteRepository) List(ctx context.Context, f quote.Filter) ([]quote.Quote, error) {
	var w where
	if f.BusinessID != "" {
		w.add("business_id = ?", f.BusinessID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.State != "" {
		w.add("state = ?", strings.ToUpper(f.State))
	}
	if f.City != "" {
		w.add("lower(city) = lower(?)", f.City)
	}
	if !f.Since.IsZero() {
		w.add("created_at >= ?", f.Since)
	}

	sql := `SELECT ` + quoteColumns + ` FROM quotes` + w.clause() +
		` ORDER BY created_at DESC, id` + w.page(f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, fmt.Errorf("listing quotes: %w", err)
	}
	return pgx.CollectRows(rows, scanQuote)
}

// UpdateStatus sets the status of a quote.
func (r *QuoteRepository) UpdateStatus(ctx context.Context, id string, status quote.Status) error {
	tag, err := r.pool.Exec(ctx, updateQuoteStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating quote %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return quote.ErrNotFound
	}
	return nil
}

func scanQuote(row pgx.CollectableRow) (quote.Quote, error) {
	var (
		q      quote.Quote
		status string
	)
	err := row.Scan(
		&q.ID, &q.BusinessID, &q.Name, &q.Email, &q.Phone, &q.Zip, &q.City, &q.State,
		&q.DumpsterSize, &q.ProjectType, &q.StartDate, &q.Message, &status, &q.Source, &q.CreatedAt,
	)
	if err != nil {
		return quote.Quote{}, fmt.Errorf("scanning quote: %w", err)
	}
	q.Status = quote.Status(status)
	return q, nil
}

// where builds a conjunction of conditions with positional arguments. Each
// "?" in a condition is replaced by the next placeholder.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) page(limit, offset int) string {
	var s string
	if limit > 0 {
		w.args = append(w.args, limit)
		s += " LIMIT $" + strconv.Itoa(len(w.args))
	}
	if offset > 0 {
		w.args = append(w.args, offset)
		s += " OFFSET $" + strconv.Itoa(len(w.args))
	}
	return s
}
