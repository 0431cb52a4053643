package report

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"peoplewatch/internal/pipeline"
)

// Render writes an HTML page with the change score against the threshold
// and the detection interval with the box count, frame by frame
func (t *Telemetry) Render(w io.Writer, title string) error {
	samples := t.Samples()

	frames := make([]uint64, 0, len(samples))
	scores := make([]opts.LineData, 0, len(samples))
	threshold := make([]opts.LineData, 0, len(samples))
	intervals := make([]opts.LineData, 0, len(samples))
	boxes := make([]opts.LineData, 0, len(samples))
	detections := make([]opts.ScatterData, 0)

	for _, s := range samples {
		frames = append(frames, s.Frame)
		scores = append(scores, opts.LineData{Value: s.Score})
		threshold = append(threshold, opts.LineData{Value: uint64(t.threshold)})
		intervals = append(intervals, opts.LineData{Value: s.Interval})
		boxes = append(boxes, opts.LineData{Value: s.Boxes})
		if s.State == pipeline.StateDetecting {
			detections = append(detections, opts.ScatterData{Value: []interface{}{s.Frame, s.Boxes}})
		}
	}

	subtitle := fmt.Sprintf("frames=%d shown=%d", t.Total(), len(samples))

	scoreChart := charts.NewLine()
	scoreChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Change score", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	scoreChart.SetXAxis(frames).
		AddSeries("score", scores).
		AddSeries("threshold", threshold)

	intervalChart := charts.NewLine()
	intervalChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Detection interval and boxes"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	intervalChart.SetXAxis(frames).
		AddSeries("interval", intervals).
		AddSeries("boxes", boxes)

	passChart := charts.NewScatter()
	passChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "240px"}),
		charts.WithTitleOpts(opts.Title{Title: "Detection passes", Subtitle: fmt.Sprintf("count=%d", len(detections))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "boxes"}),
	)
	passChart.AddSeries("detecting", detections, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(scoreChart, intervalChart, passChart)

	return page.Render(w)
}

// WriteFile renders the chart to path
func (t *Telemetry) WriteFile(path, title string) error {
	var buf bytes.Buffer
	if err := t.Render(&buf, title); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}

// ServeHTTP renders the live chart
func (t *Telemetry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := t.Render(&buf, "peoplewatch controller"); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
