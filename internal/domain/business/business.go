package business

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound is returned when a requested business does not exist.
	ErrNotFound = errors.New("business not found")
	// ErrSlugTaken is returned when a slug is already used by another listing.
	ErrSlugTaken = errors.New("business slug already taken")
)

// Business is a single directory listing.
type Business struct {
	ID            string     `json:"id"`
	Slug          string     `json:"slug"`
	Name          string     `json:"name" validate:"required,max=200"`
	Phone         string     `json:"phone,omitempty"`
	Email         string     `json:"email,omitempty" validate:"omitempty,email"`
	Website       string     `json:"website,omitempty" validate:"omitempty,url"`
	Address       string     `json:"address,omitempty"`
	City          string     `json:"city,omitempty"`
	State         string     `json:"state,omitempty" validate:"omitempty,len=2,alpha"`
	Zip           string     `json:"zip,omitempty" validate:"omitempty,numeric,len=5"`
	Category      string     `json:"category,omitempty"`
	Rating        float64    `json:"rating" validate:"gte=0,lte=5"`
	ReviewCount   int        `json:"review_count" validate:"gte=0"`
	Latitude      *float64   `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude     *float64   `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Hours         string     `json:"hours,omitempty"`
	Services      []string   `json:"services"`
	Gallery       []string   `json:"gallery"`
	Description   string     `json:"description,omitempty"`
	Featured      bool       `json:"featured"`
	FeaturedUntil *time.Time `json:"featured_until,omitempty"`
	Claimed       bool       `json:"claimed"`
	OwnerID       string     `json:"-"`
	LeadCredits   int        `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid business: %s", strings.Join(e.Fields, ", "))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field formats and ranges.
func (b *Business) Validate() error {
	err := validate.Struct(b)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return &ValidationError{Fields: fields}
	}
	return errors.Wrap(err, "validate business")
}

// IsFeatured reports whether the paid placement is active at now.
func (b *Business) IsFeatured(now time.Time) bool {
	if !b.Featured {
		return false
	}
	return b.FeaturedUntil == nil || b.FeaturedUntil.After(now)
}

// Location returns the listing coordinates if both are known.
func (b *Business) Location() (Point, bool) {
	if b.Latitude == nil || b.Longitude == nil {
		return Point{}, false
	}
	return Point{Lat: *b.Latitude, Lng: *b.Longitude}, true
}

// Patch holds optional field updates. Nil fields are left untouched.
type Patch struct {
	Name        *string   `json:"name,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Email       *string   `json:"email,omitempty"`
	Website     *string   `json:"website,omitempty"`
	Address     *string   `json:"address,omitempty"`
	City        *string   `json:"city,omitempty"`
	State       *string   `json:"state,omitempty"`
	Zip         *string   `json:"zip,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	ReviewCount *int      `json:"review_count,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Hours       *string   `json:"hours,omitempty"`
	Services    *[]string `json:"services,omitempty"`
	Gallery     *[]string `json:"gallery,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// Apply copies the set fields of p onto b.
func (p Patch) Apply(b *Business) {
	setString(&b.Name, p.Name)
	setString(&b.Phone, p.Phone)
	setString(&b.Email, p.Email)
	setString(&b.Website, p.Website)
	setString(&b.Address, p.Address)
	setString(&b.City, p.City)
	setString(&b.State, p.State)
	setString(&b.Zip, p.Zip)
	setString(&b.Category, p.Category)
	setString(&b.Hours, p.Hours)
	setString(&b.Description, p.Description)
	if p.Rating != nil {
		b.Rating = *p.Rating
	}
	if p.ReviewCount != nil {
		b.ReviewCount = *p.ReviewCount
	}
	if p.Latitude != nil {
		b.Latitude = p.Latitude
	}
	if p.Longitude != nil {
		b.Longitude = p.Longitude
	}
	if p.Services != nil {
		b.Services = *p.Services
	}
	if p.Gallery != nil {
		b.Gallery = *p.Gallery
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// Repository defines persistence operations for listings.
type Repository interface {
	List(ctx context.Context) ([]Business, error)
	Get(ctx context.Context, id string) (*Business, error)
	GetBySlug(ctx context.Context, slug string) (*Business, error)
	GetByOwner(ctx context.Context, ownerID string) (*Business, error)
	Create(ctx context.Context, b *Business) error
	Update(ctx context.Context, b *Business) error
	Delete(ctx context.Context, id string) error
	// Upsert inserts or updates a listing keyed by slug. It reports whether a
	// new row was created.
	Upsert(ctx context.Context, b *Business) (bool, error)
	// ExistingKeys returns the dedupe key of every stored listing.
	ExistingKeys(ctx context.Context) ([]string, error)
	DeleteAll(ctx context.Context) (int64, error)
}
