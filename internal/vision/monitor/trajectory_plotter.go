package monitor

import (
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"sort"

	"github.com/banshee-data/sequence.report/internal/fsutil"
	"github.com/banshee-data/sequence.report/internal/security"
	"github.com/banshee-data/sequence.report/internal/vision/history"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// TrajectoryPlotter renders the centroid path of each recorded track.
type TrajectoryPlotter struct {
	Width  vg.Length
	Height vg.Length
}

// NewTrajectoryPlotter returns a plotter producing 10x6 inch images.
func NewTrajectoryPlotter() *TrajectoryPlotter {
	return &TrajectoryPlotter{Width: 10 * vg.Inch, Height: 6 * vg.Inch}
}

// trajectory is one track's centroid path in frame order.
type trajectory struct {
	id    int
	label string
	pts   plotter.XYs
}

// trajectories groups records by track id, ascending.
func trajectories(recs []history.Record) []trajectory {
	byID := make(map[int]*trajectory)
	var ids []int
	for _, rec := range recs {
		if len(rec.Points) == 0 {
			continue
		}
		tr := byID[rec.ID]
		if tr == nil {
			tr = &trajectory{id: rec.ID, label: rec.Label}
			byID[rec.ID] = tr
			ids = append(ids, rec.ID)
		}
		var cx, cy float64
		for _, p := range rec.Points {
			cx += p.X
			cy += p.Y
		}
		n := float64(len(rec.Points))
		// Image coordinates grow downwards.
		tr.pts = append(tr.pts, plotter.XY{X: cx / n, Y: -cy / n})
	}
	sort.Ints(ids)
	out := make([]trajectory, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byID[id])
	}
	return out
}

// Plot builds a plot with one line per track.
func (tp *TrajectoryPlotter) Plot(recs []history.Record) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Track trajectories"
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "-y (px)"
	p.Legend.Top = true
	p.Legend.Left = false

	trs := trajectories(recs)
	colors := generateColors(len(trs))
	for i, tr := range trs {
		if err := addTrajectory(p, tr, colors[i]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func addTrajectory(p *plot.Plot, tr trajectory, c color.Color) error {
	line, points, err := plotter.NewLinePoints(tr.pts)
	if err != nil {
		return fmt.Errorf("track %d: %w", tr.id, err)
	}
	line.Color = c
	line.Width = vg.Points(1.5)
	points.GlyphStyle.Color = c
	points.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(line, points)
	p.Legend.Add(fmt.Sprintf("%d %s", tr.id, tr.label), line)
	return nil
}

// WritePNG renders every track into one PNG written to w.
func (tp *TrajectoryPlotter) WritePNG(w io.Writer, recs []history.Record) error {
	p, err := tp.Plot(recs)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(tp.Width, tp.Height, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// SavePerTrack writes track_NNN.png for every track into dir through
// fsys and returns the paths written. dir must be within allowedDirs.
func (tp *TrajectoryPlotter) SavePerTrack(fsys fsutil.FileSystem, dir string, recs []history.Record, allowedDirs ...string) ([]string, error) {
	if err := security.ValidateExportPath(filepath.Join(dir, "track.png"), allowedDirs...); err != nil {
		return nil, err
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create plot directory: %w", err)
	}

	trs := trajectories(recs)
	colors := generateColors(len(trs))
	var paths []string
	for i, tr := range trs {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("Track %d (%s)", tr.id, tr.label)
		p.X.Label.Text = "x (px)"
		p.Y.Label.Text = "-y (px)"
		if err := addTrajectory(p, tr, colors[i]); err != nil {
			return paths, err
		}

		path := filepath.Join(dir, fmt.Sprintf("track_%03d.png", tr.id))
		if err := savePNG(fsys, p, tp.Width, tp.Height, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func savePNG(fsys fsutil.FileSystem, p *plot.Plot, w, h vg.Length, path string) (err error) {
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if _, err := wt.WriteTo(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// generateColors returns n evenly spaced hues.
func generateColors(n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		out[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return out
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return channel(p, q, h+1.0/3.0), channel(p, q, h), channel(p, q, h-1.0/3.0)
}

func channel(p, q, t float64) uint8 {
	switch {
	case t < 0:
		t++
	case t > 1:
		t--
	}
	var v float64
	switch {
	case t < 1.0/6.0:
		v = p + (q-p)*6*t
	case t < 0.5:
		v = q
	case t < 2.0/3.0:
		v = p + (q-p)*(2.0/3.0-t)*6
	default:
		v = p
	}
	return uint8(v * 255)
}
