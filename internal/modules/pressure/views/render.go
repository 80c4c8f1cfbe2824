package views

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/url"
	"slices"

	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/types"
)

var pagesTmpl *template.Template

// loadTemplatesFromFS loads page templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	pagesTmpl, err = template.ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	return nil
}

// LoadTemplates loads embedded templates. Call during startup before
// serving requests; if it returns an error, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

var errNotLoaded = errors.New("templates not loaded: call views.LoadTemplates during startup")

// SlotCell is one highlighted reading in the day table.
type SlotCell struct {
	Time  string
	BP    string
	Pulse int
}

type DayRow struct {
	Date    string
	Morning *SlotCell
	Evening *SlotCell
}

type IndexData struct {
	Count     int
	StatusMsg string
	IsError   bool
	// Line is echoed back into the input after a failed submit.
	Line      string
	ChartURL  string
	ShowPulse bool
	ShowNight bool
	Days      []DayRow
}

type EditData struct {
	Content string
	Error   string
	Backup  string
	Count   int
}

// DayRows converts grouped days into table rows, newest first. Times are
// shown in the wall clock of zone.
func DayRows(days []types.Day, zone readings.Zone) []DayRow {
	rows := make([]DayRow, 0, len(days))
	for _, d := range days {
		rows = append(rows, DayRow{
			Date:    d.Date,
			Morning: cell(d.Morning, zone),
			Evening: cell(d.Evening, zone),
		})
	}
	slices.Reverse(rows)
	return rows
}

func cell(r *types.Reading, zone readings.Zone) *SlotCell {
	if r == nil {
		return nil
	}
	return &SlotCell{
		Time:  zone.WallClock(*r).Format("15:04"),
		BP:    fmt.Sprintf("%d/%d", r.Systolic, r.Diastolic),
		Pulse: r.Pulse,
	}
}

// ChartURL points at the chart with the display flags and a cache buster.
func ChartURL(showPulse, showNight bool, version int64) string {
	q := url.Values{}
	q.Set("pulse", flag(showPulse))
	q.Set("night", flag(showNight))
	q.Set("v", fmt.Sprint(version))
	return "/chart/combined.png?" + q.Encode()
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func RenderIndex(w io.Writer, data *IndexData) error {
	if pagesTmpl == nil {
		return errNotLoaded
	}
	return pagesTmpl.ExecuteTemplate(w, "index.html", data)
}

// RenderMainPartial executes only the main panel into w.
// Use for HTMX fragment refresh after a submit.
func RenderMainPartial(w io.Writer, data *IndexData) error {
	if pagesTmpl == nil {
		return errNotLoaded
	}
	return pagesTmpl.ExecuteTemplate(w, "partials/main.html", data)
}

func RenderEdit(w io.Writer, data *EditData) error {
	if pagesTmpl == nil {
		return errNotLoaded
	}
	return pagesTmpl.ExecuteTemplate(w, "edit.html", data)
}
