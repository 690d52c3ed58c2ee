package business

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestSlugify(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"Bob's Dumpsters", "Austin", "TX"}, "bobs-dumpsters-austin-tx"},
		{[]string{"  A&B Roll-Off  "}, "a-b-roll-off"},
		{[]string{"Café Bins", "", "CO"}, "caf-bins-co"},
		{[]string{"---"}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.parts...), "parts=%q", tt.parts)
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "5125550100", NormalizePhone("(512) 555-0100"))
	assert.Equal(t, "5125550100", NormalizePhone("+1 512.555.0100"))
	assert.Equal(t, "555", NormalizePhone("555"))
	assert.Equal(t, "", NormalizePhone(""))
}

func TestFormatPhone(t *testing.T) {
	assert.Equal(t, "512-555-0100", FormatPhone("(512) 555-0100"))
	assert.Equal(t, "512-555-0100", FormatPhone(" +1 512.555.0100 "))
	assert.Equal(t, "555-0100", FormatPhone(" 555-0100 "))
	assert.Equal(t, "", FormatPhone("  "))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "bobs dumpsters", NormalizeName("Bob's Dumpsters, LLC"))
	assert.Equal(t, NormalizeName("The Bin Co."), NormalizeName("bin"))
}

func TestDedupeKey(t *testing.T) {
	a := &Business{Name: "Bob's Dumpsters", Phone: "(512) 555-0100"}
	b := &Business{Name: "Bobs Dumpsters LLC", Phone: "1-512-555-0100"}
	assert.Equal(t, DedupeKey(a), DedupeKey(b))

	c := &Business{Name: "Bob's Dumpsters", Zip: "78701-1234"}
	d := &Business{Name: "bobs dumpsters inc", Zip: "78701"}
	assert.Equal(t, "name:bobs dumpsters|78701", DedupeKey(c))
	assert.Equal(t, DedupeKey(c), DedupeKey(d))
}

func TestNormalize(t *testing.T) {
	b := &Business{
		Name:  " Rolloff Pros ",
		Email: "Info@RollOff.COM ",
		Phone: "512 555 0100",
		City:  "Austin",
		State: "tx",
		Zip:   "78701-0001",
	}
	b.Normalize()

	assert.Equal(t, "Rolloff Pros", b.Name)
	assert.Equal(t, "info@rolloff.com", b.Email)
	assert.Equal(t, "512-555-0100", b.Phone)
	assert.Equal(t, "TX", b.State)
	assert.Equal(t, "78701", b.Zip)
	assert.Equal(t, "rolloff-pros-austin-tx", b.Slug)
	assert.NotNil(t, b.Services)
	assert.NotNil(t, b.Gallery)
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		b := &Business{Name: "Rolloff Pros", State: "TX", Zip: "78701", Rating: 4.5, Email: "a@b.co"}
		require.NoError(t, b.Validate())
	})

	t.Run("invalid fields reported", func(t *testing.T) {
		b := &Business{Rating: 7, State: "Texas", Latitude: ptr(120.0)}
		err := b.Validate()

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		joined := verr.Error()
		assert.Contains(t, joined, "Name")
		assert.Contains(t, joined, "Rating")
		assert.Contains(t, joined, "State")
		assert.Contains(t, joined, "Latitude")
	})
}

func TestPatchApply(t *testing.T) {
	b := &Business{Name: "Old", City: "Austin", Services: []string{"10 yard"}}
	Patch{
		Name:     ptr("  New Name "),
		Rating:   ptr(4.0),
		Services: &[]string{"20 yard", "30 yard"},
	}.Apply(b)

	assert.Equal(t, "New Name", b.Name)
	assert.Equal(t, "Austin", b.City)
	assert.InDelta(t, 4.0, b.Rating, 0.001)
	assert.Equal(t, []string{"20 yard", "30 yard"}, b.Services)
}

func TestIsFeatured(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, (&Business{}).IsFeatured(now))
	assert.True(t, (&Business{Featured: true}).IsFeatured(now))
	assert.True(t, (&Business{Featured: true, FeaturedUntil: ptr(now.Add(time.Hour))}).IsFeatured(now))
	assert.False(t, (&Business{Featured: true, FeaturedUntil: ptr(now.Add(-time.Hour))}).IsFeatured(now))
}

func TestDistance(t *testing.T) {
	austin := Point{Lat: 30.2672, Lng: -97.7431}
	dallas := Point{Lat: 32.7767, Lng: -96.7970}

	d := Distance(austin, dallas)
	assert.InDelta(t, 182, d, 5)
	assert.InDelta(t, 0, Distance(austin, austin), 0.0001)
}

func TestSearch(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []Business{
		{ID: "1", Name: "Alpha Bins", City: "Austin", State: "TX", Rating: 4.0, ReviewCount: 10,
			Category: "Dumpster Rental", Services: []string{"10 Yard"},
			Latitude: ptr(30.27), Longitude: ptr(-97.74)},
		{ID: "2", Name: "Bravo Rolloff", City: "Austin", State: "TX", Rating: 4.8, ReviewCount: 3,
			Category: "Dumpster Rental", Services: []string{"20 Yard", "30 Yard"},
			Latitude: ptr(30.30), Longitude: ptr(-97.70)},
		{ID: "3", Name: "Charlie Waste", City: "Austin", State: "TX", Rating: 3.0, Featured: true,
			Category: "Junk Removal"},
		{ID: "4", Name: "Delta Dumpsters", City: "Dallas", State: "TX", Rating: 5.0,
			Latitude: ptr(32.77), Longitude: ptr(-96.79)},
	}

	t.Run("featured first then rating", func(t *testing.T) {
		res, total := Search(list, Filter{City: "austin", State: "tx"}, now)
		require.Equal(t, 3, total)
		assert.Equal(t, "3", res[0].Business.ID)
		assert.Equal(t, "2", res[1].Business.ID)
		assert.Equal(t, "1", res[2].Business.ID)
	})

	t.Run("service and category", func(t *testing.T) {
		res, total := Search(list, Filter{Service: "30 yard"}, now)
		require.Equal(t, 1, total)
		assert.Equal(t, "2", res[0].Business.ID)

		_, total = Search(list, Filter{Category: "junk removal"}, now)
		assert.Equal(t, 1, total)
	})

	t.Run("query", func(t *testing.T) {
		res, total := Search(list, Filter{Query: "rolloff"}, now)
		require.Equal(t, 1, total)
		assert.Equal(t, "2", res[0].Business.ID)
	})

	t.Run("near orders by distance and drops unlocated", func(t *testing.T) {
		res, total := Search(list, Filter{Near: &Point{Lat: 30.2672, Lng: -97.7431}, RadiusMiles: 10}, now)
		require.Equal(t, 2, total)
		assert.Equal(t, "1", res[0].Business.ID)
		require.NotNil(t, res[0].Distance)
		assert.Less(t, *res[0].Distance, *res[1].Distance)
	})

	t.Run("near combines with zip", func(t *testing.T) {
		zoned := slices.Clone(list)
		zoned[1].Zip = "78702"
		res, total := Search(zoned, Filter{Zip: "78702", Near: &Point{Lat: 30.2672, Lng: -97.7431}, RadiusMiles: 10}, now)
		require.Equal(t, 1, total)
		assert.Equal(t, "2", res[0].Business.ID)
		require.NotNil(t, res[0].Distance)
	})

	t.Run("paging", func(t *testing.T) {
		res, total := Search(list, Filter{State: "TX", Limit: 2, Offset: 2}, now)
		assert.Equal(t, 4, total)
		assert.Len(t, res, 2)

		res, total = Search(list, Filter{State: "TX", Offset: 10}, now)
		assert.Equal(t, 4, total)
		assert.Empty(t, res)
	})
}
