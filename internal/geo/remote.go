package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const (
	defaultZippopotamURL = "https://api.zippopotam.us"
	defaultNominatimURL  = "https://nominatim.openstreetmap.org"

	maxResponseBytes = 1 << 20
)

// Zippopotam queries the zippopotam.us postal code API.
type Zippopotam struct {
	client  *http.Client
	baseURL string
}

// NewZippopotam creates a Zippopotam provider. An empty baseURL selects the
// public endpoint.
func NewZippopotam(client *http.Client, baseURL string) *Zippopotam {
	if baseURL == "" {
		baseURL = defaultZippopotamURL
	}
	return &Zippopotam{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (z *Zippopotam) Name() string { return "zippopotam" }

// Lookup implements Provider.
func (z *Zippopotam) Lookup(ctx context.Context, zip string) (*Location, error) {
	body, err := get(ctx, z.client, z.baseURL+"/us/"+url.PathEscape(zip), "")
	if err != nil {
		return nil, err
	}
	return decodeZippopotam(body)
}

// decodeZippopotam reads the first entry of "places".
func decodeZippopotam(body []byte) (*Location, error) {
	var (
		loc   Location
		found bool
	)
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "places" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			if found {
				return d.Skip()
			}
			found = true
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "place name":
					loc.City, err = d.Str()
				case "state abbreviation":
					loc.State, err = d.Str()
				case "latitude":
					loc.Lat, err = decodeCoord(d)
				case "longitude":
					loc.Lng, err = decodeCoord(d)
				default:
					err = d.Skip()
				}
				return err
			})
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode zippopotam response")
	}
	if !found || loc.State == "" {
		return nil, ErrNotFound
	}
	return &loc, nil
}

// Nominatim queries the OpenStreetMap Nominatim search API.
type Nominatim struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

// NewNominatim creates a Nominatim provider. Nominatim's usage policy
// requires an identifying User-Agent, so contact should be an email address.
func NewNominatim(client *http.Client, baseURL, contact string) *Nominatim {
	if baseURL == "" {
		baseURL = defaultNominatimURL
	}
	ua := "dumpster-directory"
	if contact != "" {
		ua += " (" + contact + ")"
	}
	return &Nominatim{client: client, baseURL: strings.TrimRight(baseURL, "/"), userAgent: ua}
}

func (n *Nominatim) Name() string { return "nominatim" }

// Lookup implements Provider.
func (n *Nominatim) Lookup(ctx context.Context, zip string) (*Location, error) {
	q := url.Values{
		"postalcode":     {zip},
		"countrycodes":   {"us"},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
		"limit":          {"1"},
	}
	body, err := get(ctx, n.client, n.baseURL+"/search?"+q.Encode(), n.userAgent)
	if err != nil {
		return nil, err
	}
	return decodeNominatim(body)
}

func decodeNominatim(body []byte) (*Location, error) {
	var (
		loc   Location
		found bool
	)
	d := jx.DecodeBytes(body)
	err := d.Arr(func(d *jx.Decoder) error {
		if found {
			return d.Skip()
		}
		found = true
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "lat":
				loc.Lat, err = decodeCoord(d)
			case "lon":
				loc.Lng, err = decodeCoord(d)
			case "address":
				err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					switch string(key) {
					case "city", "town", "village", "hamlet":
						v, err := d.Str()
						if err == nil && loc.City == "" {
							loc.City = v
						}
						return err
					case "ISO3166-2-lvl4":
						v, err := d.Str()
						if err == nil {
							loc.State = strings.TrimPrefix(v, "US-")
						}
						return err
					default:
						return d.Skip()
					}
				})
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode nominatim response")
	}
	if !found || len(loc.State) != 2 {
		return nil, ErrNotFound
	}
	return &loc, nil
}

// decodeCoord accepts a coordinate encoded either as a number or a string.
func decodeCoord(d *jx.Decoder) (float64, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	return d.Float64()
}

func get(ctx context.Context, client *http.Client, rawURL, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}
