// Package lead exposes quote requests to dealers and sells access to their
// contact details for lead credits.
package lead

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/domain/quote"
)

// RevealCost is the number of credits charged to reveal one lead.
const RevealCost = 1

var (
	// ErrInsufficientCredits is returned when a reveal needs more credits
	// than the business holds.
	ErrInsufficientCredits = errors.New("insufficient lead credits")
	// ErrNotVisible is returned when a business asks for a lead it cannot see.
	ErrNotVisible = errors.New("lead not visible to business")
	// ErrInvalidCredits is returned for a non-positive credit grant.
	ErrInvalidCredits = errors.New("credits must be positive")
	// ErrShared is returned when a business tries to change a lead that is
	// offered to every business in its area.
	ErrShared = errors.New("lead is shared with other businesses")
)

// Lead is a quote as seen by one business.
type Lead struct {
	quote.Quote
	Revealed bool `json:"revealed"`
}

// Masked returns a copy with contact details hidden unless revealed.
func (l Lead) Masked() Lead {
	if l.Revealed {
		return l
	}
	l.Email = MaskEmail(l.Email)
	l.Phone = MaskPhone(l.Phone)
	l.Message = ""
	return l
}

// RevealResult is the outcome of a reveal.
type RevealResult struct {
	Lead Lead `json:"lead"`
	// Charged is false when the lead had already been revealed.
	Charged          bool `json:"charged"`
	CreditsRemaining int  `json:"credits_remaining"`
}

// InboxFilter narrows a dealer inbox.
type InboxFilter struct {
	Status quote.Status
	Since  time.Time
	Limit  int
	Offset int
}

// Repository defines lead persistence.
type Repository interface {
	// Inbox returns quotes assigned to b plus unassigned quotes in b's city
	// and state, with their reveal state.
	Inbox(ctx context.Context, b *business.Business, f InboxFilter) ([]Lead, error)
	// Reveal charges cost credits and records the reveal in one
	// transaction. An existing reveal is returned without charging.
	Reveal(ctx context.Context, businessID, quoteID string, cost int) (charged bool, remaining int, err error)
	// Grant adds credits and records the grant.
	Grant(ctx context.Context, businessID string, credits int, reason string) (int, error)
}

// Visible reports whether b may see q.
func Visible(b *business.Business, q *quote.Quote) bool {
	if q.Status == quote.StatusSpam {
		return false
	}
	if q.BusinessID != "" {
		return q.BusinessID == b.ID
	}
	return b.State != "" &&
		strings.EqualFold(q.State, b.State) &&
		strings.EqualFold(strings.TrimSpace(q.City), strings.TrimSpace(b.City))
}

// CheckManage reports whether b may change the status of q. Status is global,
// so only leads sent to b itself qualify.
func CheckManage(b *business.Business, q *quote.Quote) error {
	if !Visible(b, q) {
		return ErrNotVisible
	}
	if q.BusinessID != b.ID {
		return ErrShared
	}
	return nil
}

// MaskEmail hides everything but the first letter of the local part and
// domain label: jane@example.com becomes j***@e***.com.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	local, domain := email[:at], email[at+1:]
	tld := ""
	if dot := strings.LastIndexByte(domain, '.'); dot > 0 {
		domain, tld = domain[:dot], domain[dot:]
	}
	if domain == "" {
		return local[:1] + "***@***"
	}
	return local[:1] + "***@" + domain[:1] + "***" + tld
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	digits := business.NormalizePhone(phone)
	if len(digits) < 4 {
		return ""
	}
	return "***-***-" + digits[len(digits)-4:]
}
