package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/repository"
	"bplog/internal/modules/pressure/types"
)

type Options struct {
	// InputTZ stamps new readings; defaults to UTC.
	InputTZ *time.Location
	// GroupTZ converts readings before day grouping. When nil each reading is
	// grouped in its own local_tz, falling back to InputTZ.
	GroupTZ *time.Location
	Logger  *slog.Logger
	Now     func() time.Time
}

type Service struct {
	repository repository.ReadingRepository
	inputTZ    *time.Location
	zone       readings.Zone
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(repository repository.ReadingRepository, opts Options) *Service {
	s := &Service{
		repository: repository,
		inputTZ:    opts.InputTZ,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.inputTZ == nil {
		s.inputTZ = time.UTC
	}
	s.zone = readings.Zone{Fixed: opts.GroupTZ, Fallback: s.inputTZ}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// AddLine stores the median of one or more "SYS DIA PULSE" triples.
func (s *Service) AddLine(ctx context.Context, line string) (types.Reading, error) {
	t, err := readings.ParseLine(line)
	if err != nil {
		return types.Reading{}, err
	}
	return s.store(ctx, t, time.Time{}, line)
}

// AddValues stores a single measurement entered field by field.
func (s *Service) AddValues(ctx context.Context, sys, dia, pulse int) (types.Reading, error) {
	t := readings.Triple{Systolic: sys, Diastolic: dia, Pulse: pulse}
	if err := t.Validate(); err != nil {
		return types.Reading{}, err
	}
	raw := fmt.Sprintf("sys_bp=%d dia_bp=%d pulse=%d", sys, dia, pulse)
	return s.store(ctx, t, time.Time{}, raw)
}

// Record stores a measurement reported by a device. A zero at means now.
func (s *Service) Record(ctx context.Context, t readings.Triple, at time.Time, raw string) (types.Reading, error) {
	if err := t.Validate(); err != nil {
		return types.Reading{}, err
	}
	return s.store(ctx, t, at, raw)
}

func (s *Service) store(ctx context.Context, t readings.Triple, at time.Time, raw string) (types.Reading, error) {
	if at.IsZero() {
		at = s.now()
	}
	rec := types.Reading{
		Time:      at.In(s.inputTZ).Truncate(time.Second),
		Systolic:  t.Systolic,
		Diastolic: t.Diastolic,
		Pulse:     t.Pulse,
		Raw:       raw,
		LocalTZ:   s.inputTZ.String(),
	}
	if err := s.repository.Append(ctx, rec); err != nil {
		return types.Reading{}, fmt.Errorf("append reading: %w", err)
	}
	s.logger.Info("reading stored",
		"t", rec.Time.Format(types.StampLayout),
		"sys", rec.Systolic,
		"dia", rec.Diastolic,
		"pulse", rec.Pulse,
	)
	return rec, nil
}

func (s *Service) List(ctx context.Context) ([]types.Reading, error) {
	return s.repository.ReadAll(ctx)
}

// Filter returns readings in [from, to] (zero bounds are open), newest last,
// keeping at most the latest limit when limit > 0.
func (s *Service) Filter(ctx context.Context, from, to time.Time, limit int) ([]types.Reading, error) {
	all, err := s.repository.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Reading, 0, len(all))
	for _, r := range all {
		if !from.IsZero() && r.Time.Before(from) {
			continue
		}
		if !to.IsZero() && r.Time.After(to) {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Overview is everything the index page and chart need from one read.
type Overview struct {
	Readings []types.Reading
	Days     []types.Day
}

func (s *Service) Overview(ctx context.Context) (Overview, error) {
	rs, err := s.repository.ReadAll(ctx)
	if err != nil {
		return Overview{}, err
	}
	return Overview{Readings: rs, Days: readings.GroupByDay(rs, s.zone)}, nil
}

func (s *Service) Days(ctx context.Context) ([]types.Day, error) {
	o, err := s.Overview(ctx)
	return o.Days, err
}

// Zone is the wall clock days are grouped and shown in.
func (s *Service) Zone() readings.Zone {
	return s.zone
}

func (s *Service) Dump(ctx context.Context, w io.Writer) error {
	return s.repository.Dump(ctx, w)
}

type EditResult struct {
	Count  int
	Backup string
}

// Edit replaces the whole store with the NDJSON document doc. Nothing is
// written unless every line parses and validates.
func (s *Service) Edit(ctx context.Context, doc string) (EditResult, error) {
	rs, err := ParseDocument(doc)
	if err != nil {
		return EditResult{}, err
	}
	backup, err := s.repository.Replace(ctx, rs)
	if err != nil {
		return EditResult{}, fmt.Errorf("replace readings: %w", err)
	}
	return EditResult{Count: len(rs), Backup: backup}, nil
}

// ParseDocument strictly parses an NDJSON document of readings.
func ParseDocument(doc string) ([]types.Reading, error) {
	var out []types.Reading
	sc := bufio.NewScanner(strings.NewReader(doc))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		r, err := types.DecodeLine([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", readings.ErrInvalidInput, lineNo, err)
		}
		if err := readings.Check(r); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", readings.ErrInvalidInput, err)
	}
	return out, nil
}
