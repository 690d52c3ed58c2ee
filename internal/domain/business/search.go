package business

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"
)

// DefaultLimit and MaxLimit bound search page sizes.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lng float64
}

const earthRadiusMiles = 3958.8

// Distance returns the great-circle distance between a and b in miles.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Filter narrows a directory search. Zero values mean "any".
type Filter struct {
	Query        string
	City         string
	State        string
	Zip          string
	Category     string
	Service      string
	FeaturedOnly bool
	Near         *Point
	RadiusMiles  float64
	Limit        int
	Offset       int
}

// Normalize lowercases text criteria and clamps paging.
func (f Filter) Normalize() Filter {
	f.Query = strings.ToLower(strings.TrimSpace(f.Query))
	f.City = strings.ToLower(strings.TrimSpace(f.City))
	f.State = strings.ToUpper(strings.TrimSpace(f.State))
	f.Zip = NormalizeZip(f.Zip)
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	f.Service = strings.ToLower(strings.TrimSpace(f.Service))
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Near != nil && f.RadiusMiles <= 0 {
		f.RadiusMiles = 25
	}
	return f
}

// Result is a search hit with its distance from Filter.Near when set.
type Result struct {
	Business *Business
	Distance *float64
}

// Match reports whether b satisfies the normalized filter f. The returned
// distance is only meaningful when f.Near is set.
func Match(b *Business, f Filter, now time.Time) (float64, bool) {
	if f.State != "" && !strings.EqualFold(b.State, f.State) {
		return 0, false
	}
	if f.City != "" && strings.ToLower(b.City) != f.City {
		return 0, false
	}
	if f.Zip != "" && b.Zip != f.Zip {
		return 0, false
	}
	if f.Category != "" && strings.ToLower(b.Category) != f.Category {
		return 0, false
	}
	if f.FeaturedOnly && !b.IsFeatured(now) {
		return 0, false
	}
	if f.Service != "" && !slices.ContainsFunc(b.Services, func(s string) bool {
		return strings.Contains(strings.ToLower(s), f.Service)
	}) {
		return 0, false
	}
	if f.Query != "" && !matchesQuery(b, f.Query) {
		return 0, false
	}
	if f.Near != nil {
		loc, ok := b.Location()
		if !ok {
			return 0, false
		}
		d := Distance(*f.Near, loc)
		if d > f.RadiusMiles {
			return 0, false
		}
		return d, true
	}
	return 0, true
}

func matchesQuery(b *Business, q string) bool {
	for _, field := range []string{b.Name, b.City, b.Category, b.Description} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Search filters and ranks listings in a single linear pass. It returns the
// requested page and the total number of matches.
func Search(list []Business, f Filter, now time.Time) ([]Result, int) {
	f = f.Normalize()
	var hits []Result
	for i := range list {
		d, ok := Match(&list[i], f, now)
		if !ok {
			continue
		}
		r := Result{Business: &list[i]}
		if f.Near != nil {
			r.Distance = &d
		}
		hits = append(hits, r)
	}

	slices.SortStableFunc(hits, func(a, b Result) int {
		return compareResults(a, b, now)
	})

	total := len(hits)
	if f.Offset >= total {
		return []Result{}, total
	}
	end := min(f.Offset+f.Limit, total)
	return hits[f.Offset:end], total
}

// compareResults orders featured listings first, then nearest (when a
// distance is known), then best rated, most reviewed, and by name.
func compareResults(a, b Result, now time.Time) int {
	af, bf := a.Business.IsFeatured(now), b.Business.IsFeatured(now)
	if af != bf {
		if af {
			return -1
		}
		return 1
	}
	if a.Distance != nil && b.Distance != nil {
		if c := cmp.Compare(*a.Distance, *b.Distance); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(b.Business.Rating, a.Business.Rating); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Business.ReviewCount, a.Business.ReviewCount); c != 0 {
		return c
	}
	return cmp.Compare(strings.ToLower(a.Business.Name), strings.ToLower(b.Business.Name))
}
