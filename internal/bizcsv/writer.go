package bizcsv

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"

	"github.com/xenking/dumpster-directory/internal/domain/business"
)

// Writer streams listings as CSV with the Columns header.
type Writer struct {
	cw     *csv.Writer
	zw     *pgzip.Writer
	header bool
}

// NewWriter creates a Writer. With compress set the output is gzip encoded.
func NewWriter(w io.Writer, compress bool) *Writer {
	wr := &Writer{}
	if compress {
		wr.zw = pgzip.NewWriter(w)
		w = wr.zw
	}
	wr.cw = csv.NewWriter(w)
	return wr
}

// Write appends one listing, emitting the header first.
func (w *Writer) Write(b *business.Business) error {
	if !w.header {
		if err := w.cw.Write(Columns); err != nil {
			return errors.Wrap(err, "write header")
		}
		w.header = true
	}
	return w.cw.Write(record(b))
}

// Close flushes buffered rows and finishes the gzip stream if any. It does
// not close the underlying writer.
func (w *Writer) Close() error {
	if !w.header {
		if err := w.cw.Write(Columns); err != nil {
			return errors.Wrap(err, "write header")
		}
		w.header = true
	}
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return errors.Wrap(err, "flush csv")
	}
	if w.zw != nil {
		return w.zw.Close()
	}
	return nil
}

func record(b *business.Business) []string {
	return []string{
		b.Name,
		b.Phone,
		b.Email,
		b.Website,
		b.Address,
		b.City,
		b.State,
		b.Zip,
		b.Category,
		formatFloat(b.Rating),
		strconv.Itoa(b.ReviewCount),
		formatOptFloat(b.Latitude),
		formatOptFloat(b.Longitude),
		b.Hours,
		strings.Join(b.Services, ListSep),
		strings.Join(b.Gallery, ListSep),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
