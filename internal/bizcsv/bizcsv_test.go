package bizcsv

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/dumpster-directory/internal/domain/business"
)

func TestReadCSV(t *testing.T) {
	in := `Zip,NAME,Phone Number,City,State,Rating,Review_Count,Coordinates,Services,Extra
78701,Rolloff Pros,(512) 555-0100,Austin,tx,4.5,"1,204","30.27,-97.74",10 Yard| 20 Yard ,ignored
78702,,512-555-0101,Austin,TX,4,3,,,
78703,Bad Rating,,Austin,TX,high,,,,
78704,Out Of Range,,Austin,TX,9,,,,
`
	res, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, res.Businesses, 1)
	b := res.Businesses[0]
	assert.Equal(t, "Rolloff Pros", b.Name)
	assert.Equal(t, "512-555-0100", b.Phone)
	assert.Equal(t, "TX", b.State)
	assert.Equal(t, "78701", b.Zip)
	assert.Equal(t, 1204, b.ReviewCount)
	assert.InDelta(t, 4.5, b.Rating, 0.001)
	require.NotNil(t, b.Latitude)
	assert.InDelta(t, 30.27, *b.Latitude, 0.0001)
	assert.InDelta(t, -97.74, *b.Longitude, 0.0001)
	assert.Equal(t, []string{"10 Yard", "20 Yard"}, b.Services)
	assert.Equal(t, "rolloff-pros-austin-tx", b.Slug)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, 3, res.Errors[0].Line)
	assert.Equal(t, 4, res.Errors[1].Line)
	assert.Contains(t, res.Errors[1].Error(), "rating")
	assert.Equal(t, 5, res.Errors[2].Line)
}

func TestReadCSV_Empty(t *testing.T) {
	res, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, res.Businesses)
}

func TestReadJSON(t *testing.T) {
	in := `[
		{"name":"Rolloff Pros","city":"Austin","state":"TX","zip":78701,"rating":"4.8","reviews":12,
		 "services":["10 Yard","20 Yard"],"gallery":"a.jpg|b.jpg","lat":30.27,"lng":-97.74,"featured":true,"meta":{"x":1}},
		{"name":null,"city":"Austin"},
		{"title":"Bin There","coordinates":[32.7,-96.8]}
	]`
	res, err := ReadJSON(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, res.Businesses, 2)
	b := res.Businesses[0]
	assert.Equal(t, "78701", b.Zip)
	assert.InDelta(t, 4.8, b.Rating, 0.001)
	assert.Equal(t, 12, b.ReviewCount)
	assert.Equal(t, []string{"10 Yard", "20 Yard"}, b.Services)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, b.Gallery)
	require.NotNil(t, b.Longitude)
	assert.InDelta(t, -97.74, *b.Longitude, 0.0001)

	assert.Equal(t, "Bin There", res.Businesses[1].Name)
	require.NotNil(t, res.Businesses[1].Latitude)
	assert.InDelta(t, 32.7, *res.Businesses[1].Latitude, 0.0001)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Line)
}

func TestReadJSON_Malformed(t *testing.T) {
	_, err := ReadJSON(strings.NewReader(`{"name":"not an array"}`))
	require.Error(t, err)
}

func TestWriterRoundTrip(t *testing.T) {
	lat, lng := 30.27, -97.74
	src := []business.Business{
		{Name: "Rolloff Pros", Phone: "512-555-0100", City: "Austin", State: "TX", Zip: "78701",
			Rating: 4.5, ReviewCount: 10, Latitude: &lat, Longitude: &lng,
			Services: []string{"10 Yard", "20 Yard"}, Gallery: []string{"a.jpg"}},
		{Name: "Bin, There", City: "Dallas", State: "TX"},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf, false)
	for i := range src {
		require.NoError(t, w.Write(&src[i]))
	}
	require.NoError(t, w.Close())
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(Columns, ",")+"\n"))

	res, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Businesses, 2)
	assert.Equal(t, src[0].Services, res.Businesses[0].Services)
	assert.Equal(t, "Bin, There", res.Businesses[1].Name)
	assert.Nil(t, res.Businesses[1].Latitude)
}

func TestWriter_EmptyStillHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf, false).Close())
	assert.Equal(t, strings.Join(Columns, ",")+"\n", buf.String())
}

func TestOpen_GzipJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listings.JSON.gz")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := pgzip.NewWriter(f)
	_, err = zw.Write([]byte(`[{"name":"Rolloff Pros","state":"TX"}]`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	rc, format, err := Open(path)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, FormatJSON, format)

	res, err := Read(rc, format)
	require.NoError(t, err)
	require.Len(t, res.Businesses, 1)
}

func TestOpen_GzipWriterCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.csv.gz")

	f, err := os.Create(path)
	require.NoError(t, err)
	w := NewWriter(f, true)
	require.NoError(t, w.Write(&business.Business{Name: "Rolloff Pros", State: "TX"}))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	rc, format, err := Open(path)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, FormatCSV, format)

	res, err := Read(rc, format)
	require.NoError(t, err)
	require.Len(t, res.Businesses, 1)
	assert.Equal(t, "Rolloff Pros", res.Businesses[0].Name)
}
