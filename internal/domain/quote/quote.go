package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Status is the lifecycle state of a quote request.
type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusQuoted    Status = "quoted"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusSpam      Status = "spam"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusQuoted, StatusWon, StatusLost, StatusSpam:
		return true
	}
	return false
}

// Terminal reports whether dealers may no longer change the status.
func (s Status) Terminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusSpam
}

var (
	// ErrNotFound is returned when a quote does not exist.
	ErrNotFound = errors.New("quote not found")
	// ErrBusinessNotFound is returned when a quote targets an unknown listing.
	ErrBusinessNotFound = errors.New("target business not found")
	// ErrContactRequired is returned when neither email nor phone is given.
	ErrContactRequired = errors.New("email or phone is required")
)

// TransitionError reports a status change the actor may not perform.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change quote status from %s to %s", e.From, e.To)
}

// Quote is a customer-submitted request for a dumpster rental quote.
type Quote struct {
	ID           string     `json:"id"`
	BusinessID   string     `json:"business_id,omitempty"`
	Name         string     `json:"name"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Zip          string     `json:"zip"`
	City         string     `json:"city,omitempty"`
	State        string     `json:"state,omitempty"`
	DumpsterSize string     `json:"dumpster_size,omitempty"`
	ProjectType  string     `json:"project_type,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	Message      string     `json:"message,omitempty"`
	Status       Status     `json:"status"`
	Source       string     `json:"source"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Filter narrows quote listings.
type Filter struct {
	BusinessID string
	Status     Status
	State      string
	City       string
	Since      time.Time
	Limit      int
	Offset     int
}

// Repository defines persistence operations for quotes.
type Repository interface {
	Create(ctx context.Context, q *Quote) error
	Get(ctx context.Context, id string) (*Quote, error)
	List(ctx context.Context, f Filter) ([]Quote, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
}
