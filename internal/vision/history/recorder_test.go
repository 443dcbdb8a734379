package history

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/sequence.report/internal/fsutil"
	"github.com/banshee-data/sequence.report/internal/security"
	"github.com/banshee-data/sequence.report/internal/vision/l1detect"
	"github.com/banshee-data/sequence.report/internal/vision/l2tracks"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tracked(id int, label string, pts ...l1detect.Point) l2tracks.TrackedObject {
	return l2tracks.TrackedObject{ID: id, Label: label, State: l2tracks.TrackConfirmed, Estimate: pts}
}

// scriptedRecorder drives a real tracker through five frames and records
// every active track.
func scriptedRecorder(t *testing.T) *Recorder {
	t.Helper()
	cfg := l2tracks.DefaultTrackerConfig()
	cfg.InitializationDelay = 1
	tr, err := l2tracks.NewTracker(cfg, nil)
	require.NoError(t, err)

	rec := NewRecorder()
	for f := 1; f <= 5; f++ {
		x := float64(f) * 2.5
		dets := []l1detect.Detection{
			{Points: []l1detect.Point{{X: x, Y: 10}, {X: x + 40, Y: 50}}, Scores: []float64{0.9, 0.9}, Label: "cap"},
		}
		if f >= 3 {
			dets = append(dets, l1detect.Detection{
				Points: []l1detect.Point{{X: 300.125, Y: 7}, {X: 340, Y: 47.75}}, Scores: []float64{0.8, 0.8}, Label: "bottle, large",
			})
		}
		rec.Append(f, tr.Update(dets))
	}
	return rec
}

func TestExportRoundTrip(t *testing.T) {
	t.Parallel()

	rec := scriptedRecorder(t)
	require.Equal(t, 8, rec.Len(), "5 frames of cap plus 3 of bottle")

	var buf bytes.Buffer
	require.NoError(t, rec.Export(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 9)
	assert.Equal(t, "id,points,frame,label", lines[0])
	assert.Equal(t, "1,[[2.5 10] [42.5 50]],1,cap", lines[1])
	assert.Equal(t, `2,[[300.125 7] [340 47.75]],3,"bottle, large"`, lines[4])

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(rec.Records(), got); diff != "" {
		t.Errorf("round trip mismatch (-recorded +exported):\n%s", diff)
	}
}

func TestExportOrderIsFrameMajor(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	rec.Append(1, []l2tracks.TrackedObject{tracked(1, "a"), tracked(2, "b")})
	rec.Append(2, []l2tracks.TrackedObject{tracked(1, "a"), tracked(2, "b"), tracked(3, "c")})

	var order []int
	for _, r := range rec.Records() {
		order = append(order, r.Frame*10+r.ID)
	}
	assert.Equal(t, []int{11, 12, 21, 22, 23}, order)
}

func TestAppendDeepCopies(t *testing.T) {
	t.Parallel()

	pts := []l1detect.Point{{X: 1, Y: 2}}
	rec := NewRecorder()
	returned := rec.Append(1, []l2tracks.TrackedObject{tracked(1, "a", pts...)})

	pts[0].X = 100
	returned[0].Points[0].X = 200
	out := rec.Records()
	out[0].Points[0].X = 300

	assert.Equal(t, 1.0, rec.Records()[0].Points[0].X)
}

func TestSince(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	rec.Append(1, []l2tracks.TrackedObject{tracked(1, "a")})
	rec.Append(2, []l2tracks.TrackedObject{tracked(1, "a"), tracked(2, "b")})

	assert.Len(t, rec.Since(0), 3)
	assert.Len(t, rec.Since(-4), 3)
	tail := rec.Since(1)
	require.Len(t, tail, 2)
	assert.Equal(t, 2, tail[0].Frame)
	assert.Nil(t, rec.Since(3))
}

func TestExportFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := scriptedRecorder(t)
	path := filepath.Join(dir, "out", "history.csv")

	require.NoError(t, rec.ExportFile(fsutil.OSFileSystem{}, path, dir))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := ReadCSV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, got, rec.Len())
}

func TestExportFileFailuresLeaveBufferIntact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	boom := errors.New("disk full")

	tests := []struct {
		name  string
		setup func(*fsutil.MemoryFileSystem)
		path  string
		want  error
	}{
		{"create fails", func(m *fsutil.MemoryFileSystem) { m.CreateErr = boom }, filepath.Join(dir, "h.csv"), boom},
		{"write fails", func(m *fsutil.MemoryFileSystem) { m.WriteErr = boom }, filepath.Join(dir, "h.csv"), boom},
		{"path escapes", func(*fsutil.MemoryFileSystem) {}, "/etc/h.csv", security.ErrPathTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := scriptedRecorder(t)
			before := rec.Records()

			mfs := fsutil.NewMemoryFileSystem()
			tt.setup(mfs)
			err := rec.ExportFile(mfs, tt.path, dir)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrExport))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.False(t, mfs.Exists(tt.path))

			if diff := cmp.Diff(before, rec.Records()); diff != "" {
				t.Errorf("records changed after failed export:\n%s", diff)
			}

			// A later export to a healthy sink still succeeds.
			healthy := fsutil.NewMemoryFileSystem()
			require.NoError(t, rec.ExportFile(healthy, filepath.Join(dir, "ok.csv"), dir))
			assert.True(t, healthy.Exists(filepath.Join(dir, "ok.csv")))
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestExportWriterError(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	rec.Append(1, []l2tracks.TrackedObject{tracked(1, "a", l1detect.Point{X: 1, Y: 1})})
	err := rec.Export(failingWriter{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExport))
	assert.Equal(t, 1, rec.Len())
}

func TestFormatParsePoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		points []l1detect.Point
		text   string
	}{
		{[]l1detect.Point{}, "[]"},
		{[]l1detect.Point{{X: 1, Y: 2}}, "[[1 2]]"},
		{[]l1detect.Point{{X: 0.1, Y: -3.5}, {X: 1e21, Y: 640}}, "[[0.1 -3.5] [1e+21 640]]"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.text, FormatPoints(tt.points))
			got, err := ParsePoints(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.points, got)
		})
	}

	// Shortest-form formatting survives a round trip bit for bit.
	v := math.Nextafter(1.0/3.0, 1)
	got, err := ParsePoints(FormatPoints([]l1detect.Point{{X: v, Y: v}}))
	require.NoError(t, err)
	assert.Equal(t, v, got[0].X)
}

func TestParsePointsErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "[[1 2]", "[1 2]", "[[1]]", "[[1 2 3]]", "[[a 2]]", "[[1 b]]", "[[1 2"} {
		_, err := ParsePoints(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestReadCSVErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":      "",
		"bad header": "id,pts,frame,label\n",
		"bad id":     "id,points,frame,label\nx,[],1,a\n",
		"bad frame":  "id,points,frame,label\n1,[],y,a\n",
		"bad points": "id,points,frame,label\n1,[[1]],1,a\n",
		"short row":  "id,points,frame,label\n1,[]\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(body))
			assert.Error(t, err)
		})
	}
}
