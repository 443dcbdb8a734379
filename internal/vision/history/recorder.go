// Package history records per-frame track observations and exports them as CSV.
package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/sequence.report/internal/fsutil"
	"github.com/banshee-data/sequence.report/internal/security"
	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
	"github.com/banshee-data/sequence.report/internal/vision/l2tracks"
)

// ErrExport wraps every failure to write an export.
var ErrExport = errors.New("history: export failed")

// Header is the CSV column order.
var Header = []string{"id", "points", "frame", "label"}

// Record is one (track, frame) observation.
type Record struct {
	ID     int
	Points []l1detect.Point
	Frame  int
	Label  string
}

// Recorder accumulates observations in append order. It is safe for
// concurrent use: the per-frame caller appends while exporters and
// monitors read.
type Recorder struct {
	mu      sync.RWMutex
	records []Record
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append records one row per tracked object for frame, deep-copying points.
func (r *Recorder) Append(frame int, tracked []l2tracks.TrackedObject) []Record {
	rows := make([]Record, 0, len(tracked))
	for _, obj := range tracked {
		rows = append(rows, Record{
			ID:     obj.ID,
			Points: append([]l1detect.Point(nil), obj.Estimate...),
			Frame:  frame,
			Label:  obj.Label,
		})
	}
	r.mu.Lock()
	r.records = append(r.records, rows...)
	r.mu.Unlock()
	return cloneRecords(rows)
}

// Len returns the number of records.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Records returns a deep copy of every record.
func (r *Recorder) Records() []Record {
	return r.Since(0)
}

// Since returns a deep copy of the records from offset onwards, so a
// follower can poll for what it has not yet seen.
func (r *Recorder) Since(offset int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(r.records) {
		return nil
	}
	return cloneRecords(r.records[offset:])
}

func cloneRecords(in []Record) []Record {
	out := make([]Record, len(in))
	for i, rec := range in {
		rec.Points = append([]l1detect.Point(nil), rec.Points...)
		out[i] = rec
	}
	return out
}

// Export writes the header and every record to w.
func (r *Recorder) Export(w io.Writer) error {
	records := r.Records()
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("%w: write header: %w", ErrExport, err)
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.ID),
			FormatPoints(rec.Points),
			strconv.Itoa(rec.Frame),
			rec.Label,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("%w: write row: %w", ErrExport, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrExport, err)
	}
	return nil
}

// ExportFile validates path and writes the export to it through fsys.
// allowedDirs restricts the destination; with none, the temp and working
// directories are allowed. The in-memory records are never modified.
func (r *Recorder) ExportFile(fsys fsutil.FileSystem, path string, allowedDirs ...string) (err error) {
	if err := security.ValidateExportPath(path, allowedDirs...); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: create directory: %w", ErrExport, err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrExport, path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %w", ErrExport, path, cerr)
		}
	}()
	return r.Export(f)
}

// FormatPoints renders points as "[[x1 y1] [x2 y2]]" using the shortest
// decimal form that parses back to the same float64.
func FormatPoints(points []l1detect.Point) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range points {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('[')
		b.WriteString(strconv.FormatFloat(p.X, 'g', -1, 64))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(p.Y, 'g', -1, 64))
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String()
}

// ParsePoints is the inverse of FormatPoints.
func ParsePoints(s string) ([]l1detect.Point, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("points %q: missing outer brackets", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []l1detect.Point{}, nil
	}
	var out []l1detect.Point
	for body != "" {
		if body[0] != '[' {
			return nil, fmt.Errorf("points %q: expected '['", s)
		}
		end := strings.IndexByte(body, ']')
		if end < 0 {
			return nil, fmt.Errorf("points %q: unterminated point", s)
		}
		fields := strings.Fields(body[1:end])
		if len(fields) != 2 {
			return nil, fmt.Errorf("points %q: point needs 2 coordinates, got %d", s, len(fields))
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("points %q: %w", s, err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("points %q: %w", s, err)
		}
		out = append(out, l1detect.Point{X: x, Y: y})
		body = strings.TrimSpace(body[end+1:])
	}
	return out, nil
}

// ReadCSV parses an export produced by Export.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("read csv: missing header")
	}
	for i, col := range Header {
		if rows[0][i] != col {
			return nil, fmt.Errorf("read csv: header column %d is %q, want %q", i, rows[0][i], col)
		}
	}
	out := make([]Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("read csv: row %d id: %w", n+2, err)
		}
		points, err := ParsePoints(row[1])
		if err != nil {
			return nil, fmt.Errorf("read csv: row %d: %w", n+2, err)
		}
		frame, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, fmt.Errorf("read csv: row %d frame: %w", n+2, err)
		}
		out = append(out, Record{ID: id, Points: points, Frame: frame, Label: row[3]})
	}
	return out, nil
}
