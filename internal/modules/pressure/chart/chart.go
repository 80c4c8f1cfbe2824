// Package chart draws the combined blood-pressure and pulse chart as a PNG.
package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"slices"
	"strconv"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/types"
)

const (
	DefaultWidth  = 1600
	DefaultHeight = 800

	barWidth   = 5
	labelGap   = 2
	mmHgMargin = 10
	bpmMargin  = 5
	xPadding   = time.Hour
	labelFmt   = "Jan 02 15:04"

	nightEveningFrom = 18
	nightMorningTo   = 6
)

var (
	colorMorning = drawing.ColorFromHex("ffd52b")
	colorEvening = drawing.ColorFromHex("989dfc")
	colorOther   = drawing.ColorFromHex("b0b0b0")
	colorLabel   = drawing.ColorFromHex("2e7d32")
	colorPulse   = drawing.ColorRed.WithAlpha(102)
	colorNight   = drawing.ColorFromHex("d3d3d3").WithAlpha(77)
	colorBlank   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

type Options struct {
	ShowPulse bool
	ShowNight bool
	// Location is the zone of the axis labels and night bands; nil means UTC.
	Location *time.Location
	// Highlights colors bars; nil groups readings by their own offset.
	Highlights readings.Highlights
	Width      int
	Height     int
}

func (o Options) withDefaults(rs []types.Reading) Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Highlights == nil {
		o.Highlights = readings.NewHighlights(readings.GroupByDay(rs, readings.Zone{Fallback: o.Location}))
	}
	return o
}

// Render writes the chart of rs as a PNG. An empty rs gives a blank image.
func Render(w io.Writer, rs []types.Reading, opts Options) error {
	opts = opts.withDefaults(rs)
	if len(rs) == 0 {
		return writeBlank(w, opts.Width, opts.Height)
	}

	ch := build(rs, opts)
	var buf bytes.Buffer
	if err := ch.Render(gochart.PNG, &buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func writeBlank(w io.Writer, width, height int) error {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, colorBlank)
		}
	}
	return png.Encode(w, img)
}

// SlotColor is the bar color of a highlight slot.
func SlotColor(s types.Slot) drawing.Color {
	switch s {
	case types.SlotMorning:
		return colorMorning
	case types.SlotEvening:
		return colorEvening
	default:
		return colorOther
	}
}

type bounds struct {
	xMin, xMax     time.Time
	mmMin, mmMax   float64
	bpmMin, bpmMax float64
}

func computeBounds(rs []types.Reading) bounds {
	b := bounds{
		xMin: rs[0].Time, xMax: rs[0].Time,
		mmMin: float64(rs[0].Diastolic), mmMax: float64(rs[0].Systolic),
		bpmMin: float64(rs[0].Pulse), bpmMax: float64(rs[0].Pulse),
	}
	for _, r := range rs[1:] {
		if r.Time.Before(b.xMin) {
			b.xMin = r.Time
		}
		if r.Time.After(b.xMax) {
			b.xMax = r.Time
		}
		b.mmMin = min(b.mmMin, float64(r.Diastolic), float64(r.Systolic))
		b.mmMax = max(b.mmMax, float64(r.Diastolic), float64(r.Systolic))
		b.bpmMin = min(b.bpmMin, float64(r.Pulse))
		b.bpmMax = max(b.bpmMax, float64(r.Pulse))
	}
	b.xMin = b.xMin.Add(-xPadding)
	b.xMax = b.xMax.Add(xPadding)
	b.mmMin -= mmHgMargin
	b.mmMax += mmHgMargin
	b.bpmMin -= bpmMargin
	b.bpmMax += bpmMargin
	return b
}

func build(rs []types.Reading, opts Options) gochart.Chart {
	b := computeBounds(rs)

	var series []gochart.Series
	if opts.ShowNight {
		for _, band := range nightBands(rs, opts.Location, b.xMin, b.xMax) {
			series = append(series, bandSeries(band, b.mmMax))
		}
	}
	series = append(series, barSeries(rs, opts.Highlights)...)
	series = append(series, labelSeries(rs))
	if opts.ShowPulse {
		series = append(series, pulseSeries(rs))
	}

	return gochart.Chart{
		Width:      opts.Width,
		Height:     opts.Height,
		Background: gochart.Style{Padding: gochart.Box{Top: 24, Left: 16, Right: 16, Bottom: 16}},
		XAxis: gochart.XAxis{
			Range: &gochart.ContinuousRange{Min: gochart.TimeToFloat64(b.xMin), Max: gochart.TimeToFloat64(b.xMax)},
			Ticks: timeTicks(b.xMin, b.xMax, opts.Location),
			Style: gochart.Style{FontSize: 9},
		},
		YAxis: gochart.YAxis{
			Name:      "mmHg",
			NameStyle: gochart.Style{FontColor: colorLabel},
			Range:     &gochart.ContinuousRange{Min: b.mmMin, Max: b.mmMax},
			Style:     gochart.Style{FontColor: colorLabel},
		},
		YAxisSecondary: gochart.YAxis{
			Name:      "bpm",
			NameStyle: gochart.Style{FontColor: drawing.ColorRed},
			Range:     &gochart.ContinuousRange{Min: b.bpmMin, Max: b.bpmMax},
			Style:     gochart.Style{FontColor: drawing.ColorRed},
		},
		Series: series,
	}
}

// barSeries draws each reading as a thick vertical segment from dia to sys.
func barSeries(rs []types.Reading, h readings.Highlights) []gochart.Series {
	out := make([]gochart.Series, 0, len(rs))
	for _, r := range rs {
		out = append(out, gochart.TimeSeries{
			Name:    r.Key(),
			XValues: []time.Time{r.Time, r.Time},
			YValues: []float64{float64(r.Diastolic), float64(r.Systolic)},
			Style: gochart.Style{
				StrokeColor: SlotColor(h.Classify(r)).WithAlpha(179),
				StrokeWidth: barWidth,
			},
		})
	}
	return out
}

func labelSeries(rs []types.Reading) gochart.AnnotationSeries {
	values := make([]gochart.Value2, 0, 2*len(rs))
	for _, r := range rs {
		x := gochart.TimeToFloat64(r.Time)
		values = append(values,
			gochart.Value2{XValue: x, YValue: float64(r.Systolic + labelGap), Label: strconv.Itoa(r.Systolic)},
			gochart.Value2{XValue: x, YValue: float64(r.Diastolic - labelGap), Label: strconv.Itoa(r.Diastolic)},
		)
	}
	return gochart.AnnotationSeries{
		Name:        "labels",
		Annotations: values,
		Style: gochart.Style{
			FontSize:    7,
			FontColor:   colorLabel,
			FillColor:   drawing.ColorWhite,
			StrokeColor: drawing.ColorWhite,
			StrokeWidth: 1,
		},
	}
}

func pulseSeries(rs []types.Reading) gochart.TimeSeries {
	xs := make([]time.Time, 0, len(rs))
	ys := make([]float64, 0, len(rs))
	for _, r := range rs {
		xs = append(xs, r.Time)
		ys = append(ys, float64(r.Pulse))
	}
	st := gochart.Style{StrokeColor: colorPulse, StrokeWidth: 2}
	if len(rs) == 1 {
		// a lone point has no segment to stroke
		st.DotWidth = 3
		st.DotColor = colorPulse
	}
	return gochart.TimeSeries{
		Name:    "Pulse",
		YAxis:   gochart.YAxisSecondary,
		XValues: xs,
		YValues: ys,
		Style:   st,
	}
}

// band is a half-open shaded interval on the time axis.
type band struct {
	start, end time.Time
}

// nightBands shades 18:00-24:00 of every date present in loc and 00:00-06:00
// of the day after, clipped to [lo, hi]. Bands are ordered by start.
func nightBands(rs []types.Reading, loc *time.Location, lo, hi time.Time) []band {
	seen := make(map[string]bool)
	var dates []time.Time
	for _, r := range rs {
		local := r.Time.In(loc)
		key := local.Format(time.DateOnly)
		if seen[key] {
			continue
		}
		seen[key] = true
		dates = append(dates, time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc))
	}

	var out []band
	for _, d := range dates {
		next := d.AddDate(0, 0, 1)
		for _, b := range []band{
			{start: d.Add(nightEveningFrom * time.Hour), end: next},
			{start: next, end: next.Add(nightMorningTo * time.Hour)},
		} {
			if b.start.Before(lo) {
				b.start = lo
			}
			if b.end.After(hi) {
				b.end = hi
			}
			if b.end.After(b.start) {
				out = append(out, b)
			}
		}
	}
	slices.SortFunc(out, func(a, b band) int { return a.start.Compare(b.start) })
	return out
}

// bandSeries fills the area under a flat line at top, which covers the
// whole plot height.
func bandSeries(b band, top float64) gochart.TimeSeries {
	return gochart.TimeSeries{
		Name:    "night",
		XValues: []time.Time{b.start, b.end},
		YValues: []float64{top, top},
		Style: gochart.Style{
			StrokeColor: colorNight,
			StrokeWidth: 1,
			FillColor:   colorNight,
		},
	}
}

// timeTicks labels the x axis on whole steps of the local clock.
func timeTicks(lo, hi time.Time, loc *time.Location) []gochart.Tick {
	step := tickStep(hi.Sub(lo))
	l := lo.In(loc)
	t := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
	for t.Before(lo) {
		t = advance(t, step)
	}

	var ticks []gochart.Tick
	for ; !t.After(hi); t = advance(t, step) {
		ticks = append(ticks, gochart.Tick{
			Value: gochart.TimeToFloat64(t),
			Label: t.Format(labelFmt),
		})
	}
	return ticks
}

func tickStep(span time.Duration) time.Duration {
	switch {
	case span <= 12*time.Hour:
		return 2 * time.Hour
	case span <= 2*24*time.Hour:
		return 6 * time.Hour
	case span <= 8*24*time.Hour:
		return 24 * time.Hour
	case span <= 60*24*time.Hour:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// advance moves by whole days on the calendar so DST keeps ticks on midnight.
func advance(t time.Time, step time.Duration) time.Time {
	if step%(24*time.Hour) == 0 {
		return t.AddDate(0, 0, int(step/(24*time.Hour)))
	}
	return t.Add(step)
}
