// Package bizcsv reads and writes business listings as CSV or JSON for bulk
// import and export.
package bizcsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"

	"github.com/xenking/dumpster-directory/internal/domain/business"
)

// Columns is the canonical export header.
var Columns = []string{
	"name", "phone", "email", "website", "address", "city", "state", "zip",
	"category", "rating", "reviews", "latitude", "longitude", "hours",
	"services", "gallery",
}

// ListSep joins services and gallery entries inside one cell.
const ListSep = "|"

// aliases maps accepted header spellings to canonical column names.
var aliases = map[string]string{
	"business_name": "name",
	"title":         "name",
	"phone_number":  "phone",
	"url":           "website",
	"site":          "website",
	"street":        "address",
	"zipcode":       "zip",
	"zip_code":      "zip",
	"postal_code":   "zip",
	"type":          "category",
	"review_count":  "reviews",
	"reviewcount":   "reviews",
	"lat":           "latitude",
	"lng":           "longitude",
	"lon":           "longitude",
	"images":        "gallery",
	"photos":        "gallery",
}

// Format is an input encoding.
type Format int

const (
	FormatCSV Format = iota
	FormatJSON
)

// RowError is a record that could not be imported.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Result holds the parsed listings and the records that were rejected.
type Result struct {
	Businesses []business.Business
	Errors     []RowError
}

// Open opens path for reading, transparently decompressing a .gz suffix, and
// picks the format from the remaining extension.
func Open(path string) (io.ReadCloser, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrap(err, "open")
	}

	name := strings.ToLower(path)
	var rc io.ReadCloser = f
	if strings.HasSuffix(name, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, 0, errors.Wrap(err, "gzip reader")
		}
		rc = &stackedCloser{Reader: zr, closers: []io.Closer{zr, f}}
		name = strings.TrimSuffix(name, ".gz")
	}

	format := FormatCSV
	if filepath.Ext(name) == ".json" {
		format = FormatJSON
	}
	return rc, format, nil
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Read parses r in the given format.
func Read(r io.Reader, format Format) (*Result, error) {
	if format == FormatJSON {
		return ReadJSON(r)
	}
	return ReadCSV(r)
}

// ReadCSV parses a CSV document with a header row. Header order and case do
// not matter; unknown columns are ignored.
func ReadCSV(r io.Reader) (*Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Result{}, nil
		}
		return nil, errors.Wrap(err, "read header")
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = canonical(h)
	}

	res := &Result{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Errors = append(res.Errors, RowError{Line: perr.Line, Err: perr.Err})
				continue
			}
			return nil, errors.Wrap(err, "read record")
		}

		fields := make(map[string]string, len(cols))
		for i, v := range rec {
			if i < len(cols) && cols[i] != "" {
				fields[cols[i]] = v
			}
		}
		res.add(line, fields)
	}
	return res, nil
}

// ReadJSON parses a JSON array of objects keyed like the CSV columns.
// Numbers may be strings and lists may be arrays or "|"-joined strings.
func ReadJSON(r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}

	res := &Result{}
	line := 0
	d := jx.DecodeBytes(data)
	err = d.Arr(func(d *jx.Decoder) error {
		line++
		fields := make(map[string]string)
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			v, err := scalar(d)
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			fields[canonical(string(key))] = v
			return nil
		}); err != nil {
			return errors.Wrapf(err, "record %d", line)
		}
		res.add(line, fields)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode json")
	}
	return res, nil
}

// scalar flattens a JSON value into the string form a CSV cell would hold.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Bool:
		b, err := d.Bool()
		return strconv.FormatBool(b), err
	case jx.Null:
		return "", d.Null()
	case jx.Array:
		var parts []string
		err := d.Arr(func(d *jx.Decoder) error {
			v, err := scalar(d)
			if err == nil && v != "" {
				parts = append(parts, v)
			}
			return err
		})
		return strings.Join(parts, ListSep), err
	default:
		return "", d.Skip()
	}
}

func canonical(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ReplaceAll(h, " ", "_")
	if a, ok := aliases[h]; ok {
		return a
	}
	return h
}

func (res *Result) add(line int, fields map[string]string) {
	b, err := toBusiness(fields)
	if err != nil {
		res.Errors = append(res.Errors, RowError{Line: line, Err: err})
		return
	}
	res.Businesses = append(res.Businesses, *b)
}

func toBusiness(f map[string]string) (*business.Business, error) {
	b := &business.Business{
		Name:        f["name"],
		Phone:       f["phone"],
		Email:       f["email"],
		Website:     f["website"],
		Address:     f["address"],
		City:        f["city"],
		State:       f["state"],
		Zip:         f["zip"],
		Category:    f["category"],
		Hours:       f["hours"],
		Description: f["description"],
		Services:    splitList(f["services"]),
		Gallery:     splitList(f["gallery"]),
	}

	var err error
	if b.Rating, err = parseFloat(f["rating"]); err != nil {
		return nil, errors.Wrap(err, "rating")
	}
	if v := strings.TrimSpace(strings.ReplaceAll(f["reviews"], ",", "")); v != "" {
		if b.ReviewCount, err = strconv.Atoi(v); err != nil {
			return nil, errors.Wrap(err, "reviews")
		}
	}

	lat, lng := f["latitude"], f["longitude"]
	if c := f["coordinates"]; c != "" && lat == "" && lng == "" {
		var ok bool
		if lat, lng, ok = strings.Cut(strings.ReplaceAll(c, ListSep, ","), ","); !ok {
			return nil, errors.New("coordinates: expected \"lat,lng\"")
		}
	}
	if b.Latitude, err = parseOptFloat(lat); err != nil {
		return nil, errors.Wrap(err, "latitude")
	}
	if b.Longitude, err = parseOptFloat(lng); err != nil {
		return nil, errors.Wrap(err, "longitude")
	}
	if (b.Latitude == nil) != (b.Longitude == nil) {
		b.Latitude, b.Longitude = nil, nil
	}

	b.Normalize()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ListSep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseOptFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
