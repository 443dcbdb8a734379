package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/banshee-data/sequence.report/internal/httputil"
	"github.com/banshee-data/sequence.report/internal/vision/history"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// maxTimelineSeries caps the number of track series drawn.
const maxTimelineSeries = 200

// handleTimeline renders an HTML line chart of track id against frame: one
// series per identity, present on the frames it was recorded.
// Query params:
//   - session_id (optional; a stored session instead of the live one)
func (ws *WebServer) handleTimeline(w http.ResponseWriter, r *http.Request) {
	recs, status, err := ws.records(r)
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return
	}
	if len(recs) == 0 {
		httputil.NotFound(w, "no records yet")
		return
	}

	line := timelineChart(recs)
	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func timelineChart(recs []history.Record) *charts.Line {
	minFrame, maxFrame := recs[0].Frame, recs[0].Frame
	byTrack := make(map[int]map[int]bool)
	labels := make(map[int]string)
	for _, rec := range recs {
		minFrame = min(minFrame, rec.Frame)
		maxFrame = max(maxFrame, rec.Frame)
		if byTrack[rec.ID] == nil {
			byTrack[rec.ID] = make(map[int]bool)
			labels[rec.ID] = rec.Label
		}
		byTrack[rec.ID][rec.Frame] = true
	}

	ids := make([]int, 0, len(byTrack))
	for id := range byTrack {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if len(ids) > maxTimelineSeries {
		ids = ids[:maxTimelineSeries]
	}

	frames := make([]string, 0, maxFrame-minFrame+1)
	for f := minFrame; f <= maxFrame; f++ {
		frames = append(frames, strconv.Itoa(f))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Track timeline", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Track timeline", Subtitle: fmt.Sprintf("tracks=%d frames=%d-%d", len(byTrack), minFrame, maxFrame)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "track id"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(frames)

	for _, id := range ids {
		seen := byTrack[id]
		data := make([]opts.LineData, 0, len(frames))
		for f := minFrame; f <= maxFrame; f++ {
			if seen[f] {
				data = append(data, opts.LineData{Value: id})
			} else {
				data = append(data, opts.LineData{Value: "-"})
			}
		}
		line.AddSeries(fmt.Sprintf("%d %s", id, labels[id]), data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}
