package controller

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/service"
	"bplog/internal/modules/pressure/types"
)

// PressureService is what the HTTP layer needs from the service.
type PressureService interface {
	AddLine(ctx context.Context, line string) (types.Reading, error)
	AddValues(ctx context.Context, sys, dia, pulse int) (types.Reading, error)
	Overview(ctx context.Context) (service.Overview, error)
	Filter(ctx context.Context, from, to time.Time, limit int) ([]types.Reading, error)
	Dump(ctx context.Context, w io.Writer) error
	Edit(ctx context.Context, doc string) (service.EditResult, error)
	Zone() readings.Zone
}

type PressureController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type Options struct {
	// ChartTZ is the zone of the chart axis and night bands.
	ChartTZ *time.Location
	Logger  *slog.Logger
	Now     func() time.Time
}

type pressureControllerImpl struct {
	service PressureService
	chartTZ *time.Location
	logger  *slog.Logger
	now     func() time.Time
}

func NewPressureController(service PressureService, opts Options) PressureController {
	c := &pressureControllerImpl{
		service: service,
		chartTZ: opts.ChartTZ,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if c.chartTZ == nil {
		c.chartTZ = time.UTC
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *pressureControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", c.handleIndex)
	mux.HandleFunc("POST /add", c.handleAdd)
	mux.HandleFunc("GET /chart/combined.png", c.handleChart)
	mux.HandleFunc("GET /json", c.handleJSON)
	mux.HandleFunc("GET /dump", c.handleDump)
	mux.HandleFunc("GET /edit", c.handleEditForm)
	mux.HandleFunc("POST /edit", c.handleEditSubmit)

	mux.HandleFunc("GET /api/v1/readings", c.handleReadings)
	mux.HandleFunc("POST /api/v1/readings", c.handleCreateReading)
	mux.HandleFunc("GET /api/v1/days", c.handleDays)
}
