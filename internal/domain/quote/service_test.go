package quote

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/domain/business"
	"github.com/xenking/dumpster-directory/internal/geo"
)

// --- Mock implementations ---

type mockQuoteRepo struct {
	quotes  map[string]*Quote
	created []*Quote
}

func newMockQuoteRepo() *mockQuoteRepo {
	return &mockQuoteRepo{quotes: make(map[string]*Quote)}
}

func (m *mockQuoteRepo) Create(_ context.Context, q *Quote) error {
	cp := *q
	m.quotes[q.ID] = &cp
	m.created = append(m.created, &cp)
	return nil
}

func (m *mockQuoteRepo) Get(_ context.Context, id string) (*Quote, error) {
	q, ok := m.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *mockQuoteRepo) List(_ context.Context, _ Filter) ([]Quote, error) {
	out := make([]Quote, 0, len(m.quotes))
	for _, q := range m.quotes {
		out = append(out, *q)
	}
	return out, nil
}

func (m *mockQuoteRepo) UpdateStatus(_ context.Context, id string, status Status) error {
	q, ok := m.quotes[id]
	if !ok {
		return ErrNotFound
	}
	q.Status = status
	return nil
}

type mockBusinesses map[string]*business.Business

func (m mockBusinesses) Get(_ context.Context, id string) (*business.Business, error) {
	b, ok := m[id]
	if !ok {
		return nil, business.ErrNotFound
	}
	return b, nil
}

type mockLocator struct {
	loc *geo.Location
	err error
}

func (m mockLocator) Lookup(_ context.Context, _ string) (*geo.Location, error) {
	return m.loc, m.err
}

// --- Helpers ---

func newTestService(repo *mockQuoteRepo, loc mockLocator) *Service {
	businesses := mockBusinesses{
		"b1": {ID: "b1", Name: "Rolloff Pros", City: "Round Rock", State: "TX"},
	}
	s := NewService(repo, businesses, loc, zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		Name:         "  Jane Doe ",
		Email:        "Jane@Example.com",
		Zip:          "78701-4455",
		DumpsterSize: "20 yard",
		StartDate:    "2026-03-15",
	}
}

// --- Tests ---

func TestSubmit_FillsLocalityFromZip(t *testing.T) {
	repo := newMockQuoteRepo()
	s := newTestService(repo, mockLocator{loc: &geo.Location{City: "Austin", State: "TX"}})

	q, err := s.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, q.ID)
	assert.Equal(t, "Jane Doe", q.Name)
	assert.Equal(t, "jane@example.com", q.Email)
	assert.Equal(t, "78701", q.Zip)
	assert.Equal(t, "Austin", q.City)
	assert.Equal(t, "TX", q.State)
	assert.Equal(t, StatusNew, q.Status)
	assert.Equal(t, "web", q.Source)
	require.NotNil(t, q.StartDate)
	assert.Equal(t, 15, q.StartDate.Day())
	require.Len(t, repo.created, 1)
}

func TestSubmit_NormalizesPhone(t *testing.T) {
	repo := newMockQuoteRepo()
	s := newTestService(repo, mockLocator{err: geo.ErrNotFound})

	req := validRequest()
	req.Email = ""
	req.Phone = " +1 (512) 555.0100 "
	q, err := s.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "512-555-0100", q.Phone)
	require.Len(t, repo.created, 1)
	assert.Equal(t, "512-555-0100", repo.created[0].Phone)
}

func TestSubmit_TargetBusiness(t *testing.T) {
	t.Run("locality falls back to business", func(t *testing.T) {
		repo := newMockQuoteRepo()
		s := newTestService(repo, mockLocator{err: geo.ErrNotFound})

		req := validRequest()
		req.BusinessID = "b1"
		q, err := s.Submit(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "b1", q.BusinessID)
		assert.Equal(t, "Round Rock", q.City)
	})

	t.Run("unknown business", func(t *testing.T) {
		repo := newMockQuoteRepo()
		s := newTestService(repo, mockLocator{err: geo.ErrNotFound})

		req := validRequest()
		req.BusinessID = "missing"
		_, err := s.Submit(context.Background(), req)
		require.ErrorIs(t, err, ErrBusinessNotFound)
		assert.Empty(t, repo.created)
	})
}

func TestSubmit_Validation(t *testing.T) {
	s := newTestService(newMockQuoteRepo(), mockLocator{err: geo.ErrNotFound})

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"missing name", func(r *SubmitRequest) { r.Name = " " }},
		{"bad email", func(r *SubmitRequest) { r.Email = "not-an-email" }},
		{"bad zip", func(r *SubmitRequest) { r.Zip = "7870" }},
		{"bad start date", func(r *SubmitRequest) { r.StartDate = "15/03/2026" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := s.Submit(context.Background(), req)
			require.Error(t, err)
		})
	}

	t.Run("contact required", func(t *testing.T) {
		req := validRequest()
		req.Email = ""
		req.Phone = "n/a"
		_, err := s.Submit(context.Background(), req)
		require.ErrorIs(t, err, ErrContactRequired)
	})
}

func TestSubmit_HoneypotMarksSpam(t *testing.T) {
	repo := newMockQuoteRepo()
	s := newTestService(repo, mockLocator{err: geo.ErrNotFound})

	req := validRequest()
	req.Honeypot = "http://spam.example"
	q, err := s.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusSpam, q.Status)
}

func TestUpdateStatus(t *testing.T) {
	repo := newMockQuoteRepo()
	repo.quotes["q1"] = &Quote{ID: "q1", Status: StatusNew}
	repo.quotes["q2"] = &Quote{ID: "q2", Status: StatusWon}
	repo.quotes["q3"] = &Quote{ID: "q3", Status: StatusSpam}
	s := newTestService(repo, mockLocator{})

	q, err := s.UpdateStatus(context.Background(), "q1", StatusContacted, ActorDealer)
	require.NoError(t, err)
	assert.Equal(t, StatusContacted, q.Status)
	assert.Equal(t, StatusContacted, repo.quotes["q1"].Status)

	_, err = s.UpdateStatus(context.Background(), "q2", StatusLost, ActorDealer)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusWon, terr.From)

	_, err = s.UpdateStatus(context.Background(), "q3", StatusNew, ActorDealer)
	require.ErrorAs(t, err, &terr)

	_, err = s.UpdateStatus(context.Background(), "q3", StatusNew, ActorAdmin)
	require.NoError(t, err)

	_, err = s.UpdateStatus(context.Background(), "q1", Status("archived"), ActorAdmin)
	require.Error(t, err)

	_, err = s.UpdateStatus(context.Background(), "nope", StatusLost, ActorAdmin)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, CheckTransition(StatusNew, StatusSpam, ActorDealer))
	assert.NoError(t, CheckTransition(StatusQuoted, StatusWon, ActorDealer))
	assert.NoError(t, CheckTransition(StatusLost, StatusLost, ActorDealer))
	assert.Error(t, CheckTransition(StatusLost, StatusQuoted, ActorDealer))
	assert.NoError(t, CheckTransition(StatusLost, StatusQuoted, ActorAdmin))
}
