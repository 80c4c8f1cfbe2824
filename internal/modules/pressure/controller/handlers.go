package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"bplog/internal/modules/pressure/chart"
	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/types"
	"bplog/internal/modules/pressure/views"
	"bplog/internal/utils"
)

func (c *pressureControllerImpl) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	showPulse := utils.QueryFlag(r, "pulse", true)
	showNight := utils.QueryFlag(r, "night", true)

	data, err := c.indexData(r, showPulse, showNight)
	if err != nil {
		c.logger.Error("index: load readings failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	data.StatusMsg = r.URL.Query().Get("status_msg")
	data.IsError = strings.HasPrefix(data.StatusMsg, "Error")

	if err := utils.WriteHTML(w, http.StatusOK, func(out io.Writer) error {
		return views.RenderIndex(out, data)
	}); err != nil {
		c.logger.Error("index template render failed", "error", err)
	}
}

func (c *pressureControllerImpl) indexData(r *http.Request, showPulse, showNight bool) (*views.IndexData, error) {
	o, err := c.service.Overview(r.Context())
	if err != nil {
		return nil, err
	}
	return &views.IndexData{
		Count:     len(o.Readings),
		ChartURL:  views.ChartURL(showPulse, showNight, c.now().Unix()),
		ShowPulse: showPulse,
		ShowNight: showNight,
		Days:      views.DayRows(o.Days, c.service.Zone()),
	}, nil
}

func (c *pressureControllerImpl) handleAdd(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid form")
		return
	}
	showPulse := formFlag(r, "pulse_chart")
	showNight := formFlag(r, "night_chart")
	line := strings.TrimSpace(r.PostFormValue("line"))

	rec, err := c.add(r, line)
	status, isError := "", false
	switch {
	case err == nil:
		status = savedMessage(rec)
	case errors.Is(err, readings.ErrInvalidInput):
		status, isError = errorMessage(err), true
		c.logger.Info("add: rejected input", "line", line, "error", err)
	default:
		c.logger.Error("add: store reading failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}

	if !utils.IsHTMX(r) {
		http.Redirect(w, r, indexRedirect(status, showPulse, showNight), http.StatusSeeOther)
		return
	}

	data, err := c.indexData(r, showPulse, showNight)
	if err != nil {
		c.logger.Error("add: reload readings failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	data.StatusMsg = status
	data.IsError = isError
	if isError {
		data.Line = line
	}
	if err := utils.WriteHTML(w, http.StatusOK, func(out io.Writer) error {
		return views.RenderMainPartial(out, data)
	}); err != nil {
		c.logger.Error("main partial render failed", "error", err)
	}
}

// add stores the free-text line when given, the separate fields otherwise.
func (c *pressureControllerImpl) add(r *http.Request, line string) (types.Reading, error) {
	if line != "" {
		return c.service.AddLine(r.Context(), line)
	}
	sys, dia, pulse, ok, err := formFields(r)
	if err != nil {
		return types.Reading{}, err
	}
	if !ok {
		return c.service.AddLine(r.Context(), "")
	}
	return c.service.AddValues(r.Context(), sys, dia, pulse)
}

func (c *pressureControllerImpl) handleChart(w http.ResponseWriter, r *http.Request) {
	o, err := c.service.Overview(r.Context())
	if err != nil {
		c.logger.Error("chart: load readings failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}

	var buf bytes.Buffer
	err = chart.Render(&buf, o.Readings, chart.Options{
		ShowPulse:  utils.QueryFlag(r, "pulse", true),
		ShowNight:  utils.QueryFlag(r, "night", true),
		Location:   c.chartTZ,
		Highlights: readings.NewHighlights(o.Days),
	})
	if err != nil {
		c.logger.Error("chart: render failed", "readings", len(o.Readings), "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render chart")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	utils.WriteBytes(w, http.StatusOK, "image/png", buf.Bytes())
}

func (c *pressureControllerImpl) handleJSON(w http.ResponseWriter, r *http.Request) {
	o, err := c.service.Overview(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, nonNil(o.Readings))
}

func (c *pressureControllerImpl) handleDump(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := c.service.Dump(r.Context(), &buf); err != nil {
		c.logger.Error("dump failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to read store")
		return
	}
	utils.WriteBytes(w, http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

func (c *pressureControllerImpl) handleEditForm(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := c.service.Dump(r.Context(), &buf); err != nil {
		c.logger.Error("edit: dump failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to read store")
		return
	}
	c.renderEdit(w, http.StatusOK, &views.EditData{Content: buf.String()})
}

func (c *pressureControllerImpl) handleEditSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 32*maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid form")
		return
	}
	content := r.PostFormValue("content")

	res, err := c.service.Edit(r.Context(), content)
	switch {
	case err == nil:
	case errors.Is(err, readings.ErrInvalidInput):
		c.renderEdit(w, http.StatusUnprocessableEntity, &views.EditData{Content: content, Error: err.Error()})
		return
	default:
		c.logger.Error("edit: replace failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to save readings")
		return
	}
	c.logger.Info("store edited", "readings", res.Count, "backup", res.Backup)

	var buf bytes.Buffer
	if err := c.service.Dump(r.Context(), &buf); err != nil {
		c.logger.Error("edit: dump failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to read store")
		return
	}
	c.renderEdit(w, http.StatusOK, &views.EditData{Content: buf.String(), Backup: res.Backup, Count: res.Count})
}

func (c *pressureControllerImpl) renderEdit(w http.ResponseWriter, status int, data *views.EditData) {
	if err := utils.WriteHTML(w, status, func(out io.Writer) error {
		return views.RenderEdit(out, data)
	}); err != nil {
		c.logger.Error("edit template render failed", "error", err)
	}
}

func (c *pressureControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := parseReadingsQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rs, err := c.service.Filter(r.Context(), from, to, limit)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, nonNil(rs))
}

type createReadingRequest struct {
	Line  string `json:"line"`
	Sys   *int   `json:"sys"`
	Dia   *int   `json:"dia"`
	Pulse *int   `json:"pulse"`
}

func (c *pressureControllerImpl) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createReadingRequest
	if err := dec.Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	var (
		rec types.Reading
		err error
	)
	switch {
	case strings.TrimSpace(req.Line) != "":
		rec, err = c.service.AddLine(r.Context(), req.Line)
	case req.Sys != nil && req.Dia != nil && req.Pulse != nil:
		rec, err = c.service.AddValues(r.Context(), *req.Sys, *req.Dia, *req.Pulse)
	default:
		utils.WriteError(w, http.StatusBadRequest, "need three values: sys, dia, pulse")
		return
	}
	if errors.Is(err, readings.ErrInvalidInput) {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		c.logger.Error("api: store reading failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}
	utils.WriteJSON(w, http.StatusCreated, rec)
}

func (c *pressureControllerImpl) handleDays(w http.ResponseWriter, r *http.Request) {
	o, err := c.service.Overview(r.Context())
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, nonNil(o.Days))
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
