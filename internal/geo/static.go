package geo

import (
	"context"
	"sort"
	"strconv"
)

// prefixRange maps an inclusive range of 3-digit ZIP prefixes to a state and
// a representative city.
type prefixRange struct {
	lo, hi   int
	state    string
	city     string
	lat, lng float64
}

// prefixTable is sorted by lo and has no overlaps.
var prefixTable = []prefixRange{
	{6, 9, "PR", "San Juan", 18.4655, -66.1057},
	{10, 27, "MA", "Boston", 42.3601, -71.0589},
	{28, 29, "RI", "Providence", 41.8240, -71.4128},
	{30, 38, "NH", "Manchester", 42.9956, -71.4548},
	{39, 49, "ME", "Portland", 43.6591, -70.2568},
	{50, 59, "VT", "Burlington", 44.4759, -73.2121},
	{60, 69, "CT", "Hartford", 41.7658, -72.6734},
	{70, 89, "NJ", "Newark", 40.7357, -74.1724},
	{100, 149, "NY", "New York", 40.7128, -74.0060},
	{150, 196, "PA", "Philadelphia", 39.9526, -75.1652},
	{197, 199, "DE", "Wilmington", 39.7391, -75.5398},
	{200, 205, "DC", "Washington", 38.9072, -77.0369},
	{206, 219, "MD", "Baltimore", 39.2904, -76.6122},
	{220, 246, "VA", "Richmond", 37.5407, -77.4360},
	{247, 268, "WV", "Charleston", 38.3498, -81.6326},
	{270, 289, "NC", "Charlotte", 35.2271, -80.8431},
	{290, 299, "SC", "Columbia", 34.0007, -81.0348},
	{300, 319, "GA", "Atlanta", 33.7490, -84.3880},
	{320, 349, "FL", "Orlando", 28.5383, -81.3792},
	{350, 369, "AL", "Birmingham", 33.5186, -86.8104},
	{370, 385, "TN", "Nashville", 36.1627, -86.7816},
	{386, 397, "MS", "Jackson", 32.2988, -90.1848},
	{398, 399, "GA", "Atlanta", 33.7490, -84.3880},
	{400, 427, "KY", "Louisville", 38.2527, -85.7585},
	{430, 459, "OH", "Columbus", 39.9612, -82.9988},
	{460, 479, "IN", "Indianapolis", 39.7684, -86.1581},
	{480, 499, "MI", "Detroit", 42.3314, -83.0458},
	{500, 528, "IA", "Des Moines", 41.5868, -93.6250},
	{530, 549, "WI", "Milwaukee", 43.0389, -87.9065},
	{550, 567, "MN", "Minneapolis", 44.9778, -93.2650},
	{570, 577, "SD", "Sioux Falls", 43.5446, -96.7311},
	{580, 588, "ND", "Fargo", 46.8772, -96.7898},
	{590, 599, "MT", "Billings", 45.7833, -108.5007},
	{600, 629, "IL", "Chicago", 41.8781, -87.6298},
	{630, 658, "MO", "St. Louis", 38.6270, -90.1994},
	{660, 679, "KS", "Wichita", 37.6872, -97.3301},
	{680, 693, "NE", "Omaha", 41.2565, -95.9345},
	{700, 715, "LA", "New Orleans", 29.9511, -90.0715},
	{716, 729, "AR", "Little Rock", 34.7465, -92.2896},
	{730, 749, "OK", "Oklahoma City", 35.4676, -97.5164},
	{750, 799, "TX", "Dallas", 32.7767, -96.7970},
	{800, 816, "CO", "Denver", 39.7392, -104.9903},
	{820, 831, "WY", "Cheyenne", 41.1400, -104.8202},
	{832, 838, "ID", "Boise", 43.6150, -116.2023},
	{840, 847, "UT", "Salt Lake City", 40.7608, -111.8910},
	{850, 865, "AZ", "Phoenix", 33.4484, -112.0740},
	{870, 884, "NM", "Albuquerque", 35.0844, -106.6504},
	{885, 885, "TX", "El Paso", 31.7619, -106.4850},
	{889, 898, "NV", "Las Vegas", 36.1699, -115.1398},
	{900, 961, "CA", "Los Angeles", 34.0522, -118.2437},
	{967, 968, "HI", "Honolulu", 21.3069, -157.8583},
	{970, 979, "OR", "Portland", 45.5152, -122.6784},
	{980, 994, "WA", "Seattle", 47.6062, -122.3321},
	{995, 999, "AK", "Anchorage", 61.2181, -149.9003},
}

// Static resolves ZIP codes from a built-in prefix table. Results are
// approximate: the city is the largest city for the prefix range.
type Static struct{}

func (Static) Name() string { return "static" }

// Lookup implements Provider.
func (Static) Lookup(_ context.Context, zip string) (*Location, error) {
	if !ValidZip(zip) {
		return nil, ErrInvalidZip
	}
	prefix, _ := strconv.Atoi(zip[:3])

	i := sort.Search(len(prefixTable), func(i int) bool { return prefixTable[i].hi >= prefix })
	if i == len(prefixTable) || prefixTable[i].lo > prefix {
		return nil, ErrNotFound
	}
	r := prefixTable[i]
	return &Location{City: r.city, State: r.state, Lat: r.lat, Lng: r.lng}, nil
}
