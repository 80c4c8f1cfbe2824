package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/types"
)

type memRepo struct {
	rs        []types.Reading
	appendErr error
	replaced  [][]types.Reading
}

func (m *memRepo) ReadAll(context.Context) ([]types.Reading, error) {
	return append([]types.Reading(nil), m.rs...), nil
}

func (m *memRepo) Append(_ context.Context, r types.Reading) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.rs = append(m.rs, r)
	return nil
}

func (m *memRepo) Dump(_ context.Context, w io.Writer) error {
	for _, r := range m.rs {
		line, err := types.EncodeLine(r)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRepo) Replace(_ context.Context, rs []types.Reading) (string, error) {
	m.replaced = append(m.replaced, rs)
	m.rs = rs
	return "mem.bak", nil
}

func (m *memRepo) Ping(context.Context) error { return nil }

var shanghai = time.FixedZone("CST", 8*3600)

func newTestService(repo *memRepo, now time.Time) *Service {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = shanghai
	}
	return NewService(repo, Options{
		InputTZ: loc,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return now },
	})
}

func TestAddLine(t *testing.T) {
	now := time.Date(2025, 11, 17, 1, 19, 42, 500, time.UTC)
	repo := &memRepo{}
	s := newTestService(repo, now)

	got, err := s.AddLine(context.Background(), "120 80 70 130 85 72 125 90 68")
	if err != nil {
		t.Fatalf("AddLine() error = %v", err)
	}
	if got.Systolic != 125 || got.Diastolic != 85 || got.Pulse != 70 {
		t.Errorf("AddLine() = %d/%d/%d, want 125/85/70", got.Systolic, got.Diastolic, got.Pulse)
	}
	if want := "2025-11-17T09:19:42+08:00"; got.Time.Format(types.StampLayout) != want {
		t.Errorf("Time = %s, want %s", got.Time.Format(types.StampLayout), want)
	}
	if got.Raw != "120 80 70 130 85 72 125 90 68" {
		t.Errorf("Raw = %q", got.Raw)
	}
	if len(repo.rs) != 1 {
		t.Fatalf("stored %d readings, want 1", len(repo.rs))
	}
}

func TestAddLine_invalidStoresNothing(t *testing.T) {
	repo := &memRepo{}
	s := newTestService(repo, time.Now())

	for _, line := range []string{"", "120 80", "300 80 70", "80 120 70", "a b c"} {
		_, err := s.AddLine(context.Background(), line)
		if !errors.Is(err, readings.ErrInvalidInput) {
			t.Errorf("AddLine(%q) error = %v, want ErrInvalidInput", line, err)
		}
	}
	if len(repo.rs) != 0 {
		t.Errorf("stored %d readings, want 0", len(repo.rs))
	}
}

func TestAddValues(t *testing.T) {
	repo := &memRepo{}
	s := newTestService(repo, time.Date(2025, 11, 17, 13, 0, 0, 0, time.UTC))

	got, err := s.AddValues(context.Background(), 118, 76, 64)
	if err != nil {
		t.Fatalf("AddValues() error = %v", err)
	}
	if got.Raw != "sys_bp=118 dia_bp=76 pulse=64" {
		t.Errorf("Raw = %q", got.Raw)
	}

	if _, err := s.AddValues(context.Background(), 118, 40, 300); !errors.Is(err, readings.ErrInvalidInput) {
		t.Errorf("AddValues(pulse 300) error = %v, want ErrInvalidInput", err)
	}
	if len(repo.rs) != 1 {
		t.Errorf("stored %d readings, want 1", len(repo.rs))
	}
}

func TestRecord(t *testing.T) {
	now := time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC)
	repo := &memRepo{}
	s := newTestService(repo, now)
	triple := readings.Triple{Systolic: 120, Diastolic: 80, Pulse: 60}

	got, err := s.Record(context.Background(), triple, time.Time{}, "mqtt")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !got.Time.Equal(now) {
		t.Errorf("Time = %v, want now %v", got.Time, now)
	}

	at := time.Date(2025, 11, 16, 22, 30, 0, 0, time.UTC)
	got, err = s.Record(context.Background(), triple, at, "mqtt")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !got.Time.Equal(at) {
		t.Errorf("Time = %v, want %v", got.Time, at)
	}
	if _, offset := got.Time.Zone(); offset != 8*3600 {
		t.Errorf("offset = %d, want +08:00", offset)
	}
}

func TestAdd_repositoryError(t *testing.T) {
	boom := errors.New("disk full")
	s := newTestService(&memRepo{appendErr: boom}, time.Now())

	_, err := s.AddLine(context.Background(), "120 80 70")
	if !errors.Is(err, boom) {
		t.Fatalf("AddLine() error = %v, want wrapped %v", err, boom)
	}
	if errors.Is(err, readings.ErrInvalidInput) {
		t.Error("storage failure reported as invalid input")
	}
}

func reading(day, hour, sys int) types.Reading {
	return types.Reading{
		Time:      time.Date(2025, 11, day, hour, 0, 0, 0, shanghai),
		Systolic:  sys,
		Diastolic: 80,
		Pulse:     70,
	}
}

func TestFilter(t *testing.T) {
	repo := &memRepo{rs: []types.Reading{
		reading(1, 8, 120), reading(2, 8, 121), reading(3, 8, 122), reading(4, 8, 123),
	}}
	s := newTestService(repo, time.Now())

	tests := []struct {
		name     string
		from, to time.Time
		limit    int
		want     []int
	}{
		{name: "all", want: []int{120, 121, 122, 123}},
		{name: "from", from: reading(2, 8, 0).Time, want: []int{121, 122, 123}},
		{name: "to", to: reading(2, 8, 0).Time, want: []int{120, 121}},
		{name: "limit keeps latest", limit: 2, want: []int{122, 123}},
		{name: "window and limit", from: reading(2, 0, 0).Time, to: reading(3, 23, 0).Time, limit: 1, want: []int{122}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Filter(context.Background(), tt.from, tt.to, tt.limit)
			if err != nil {
				t.Fatalf("Filter() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Filter() returned %d readings, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.Systolic != tt.want[i] {
					t.Errorf("got[%d].Systolic = %d, want %d", i, r.Systolic, tt.want[i])
				}
			}
		})
	}
}

func TestOverview(t *testing.T) {
	repo := &memRepo{rs: []types.Reading{
		reading(1, 8, 120), reading(1, 22, 130), reading(2, 14, 125),
	}}
	s := newTestService(repo, time.Now())

	o, err := s.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if len(o.Readings) != 3 {
		t.Errorf("Readings = %d, want 3", len(o.Readings))
	}
	if len(o.Days) != 2 {
		t.Fatalf("Days = %d, want 2", len(o.Days))
	}
	first := o.Days[0]
	if first.Morning == nil || first.Morning.Systolic != 120 {
		t.Errorf("day 1 morning = %+v, want 120", first.Morning)
	}
	if first.Evening == nil || first.Evening.Systolic != 130 {
		t.Errorf("day 1 evening = %+v, want 130", first.Evening)
	}
	if o.Days[1].Morning != nil || o.Days[1].Evening != nil {
		t.Errorf("day 2 = %+v, want no highlights", o.Days[1])
	}
}

func TestOverview_legacyRowsUseInputZone(t *testing.T) {
	repo := &memRepo{rs: []types.Reading{
		{Time: time.Date(2025, 11, 17, 1, 19, 21, 0, time.UTC), Systolic: 131, Diastolic: 86, Pulse: 70},
		{Time: time.Date(2025, 11, 17, 14, 13, 31, 0, time.UTC), Systolic: 125, Diastolic: 82, Pulse: 66},
	}}
	s := newTestService(repo, time.Now())

	o, err := s.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if len(o.Days) != 1 || o.Days[0].Date != "2025-11-17" {
		t.Fatalf("Days = %+v, want one 2025-11-17", o.Days)
	}
	if m := o.Days[0].Morning; m == nil || m.Systolic != 131 {
		t.Errorf("morning = %+v, want the 09:19 local reading", m)
	}
	if e := o.Days[0].Evening; e == nil || e.Systolic != 125 {
		t.Errorf("evening = %+v, want the 22:13 local reading", e)
	}
	if got := s.Zone().WallClock(repo.rs[0]).Format("15:04"); got != "09:19" {
		t.Errorf("Zone().WallClock = %s, want 09:19", got)
	}
}

func TestDump(t *testing.T) {
	repo := &memRepo{rs: []types.Reading{reading(1, 8, 120)}}
	s := newTestService(repo, time.Now())

	var buf bytes.Buffer
	if err := s.Dump(context.Background(), &buf); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), `{"t":"2025-11-01T08:00:00+08:00","sys":120`) {
		t.Errorf("Dump() = %q", buf.String())
	}
}

func TestEdit(t *testing.T) {
	repo := &memRepo{rs: []types.Reading{reading(1, 8, 120)}}
	s := newTestService(repo, time.Now())

	doc := `{"t":"2025-11-02T08:00:00+08:00","sys":118,"dia":75,"pulse":62}

{"t":"2025-11-02T22:00:00+08:00","sys":128,"dia":82,"pulse":66,"raw":"128 82 66"}
`
	res, err := s.Edit(context.Background(), doc)
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if res.Count != 2 || res.Backup != "mem.bak" {
		t.Errorf("Edit() = %+v, want 2 readings, mem.bak", res)
	}
	if len(repo.rs) != 2 || repo.rs[1].Raw != "128 82 66" {
		t.Errorf("store = %+v", repo.rs)
	}
}

func TestEdit_rejectsWholeDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "bad json",
			doc:     "{\"t\":\"2025-11-02T08:00:00+08:00\",\"sys\":118,\"dia\":75,\"pulse\":62}\n{oops\n",
			wantMsg: "line 2",
		},
		{
			name:    "missing timestamp",
			doc:     `{"sys":118,"dia":75,"pulse":62}`,
			wantMsg: "line 1: missing timestamp",
		},
		{
			name:    "out of range",
			doc:     "\n\n" + `{"t":"2025-11-02T08:00:00+08:00","sys":118,"dia":75,"pulse":12}`,
			wantMsg: "line 3: pulse out of range 30-220",
		},
		{
			name:    "dia above sys",
			doc:     `{"t":"2025-11-02T08:00:00+08:00","sys":90,"dia":100,"pulse":62}`,
			wantMsg: "diastolic cannot be greater than systolic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memRepo{rs: []types.Reading{reading(1, 8, 120)}}
			s := newTestService(repo, time.Now())

			_, err := s.Edit(context.Background(), tt.doc)
			if !errors.Is(err, readings.ErrInvalidInput) {
				t.Fatalf("Edit() error = %v, want ErrInvalidInput", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Edit() error = %q, want it to contain %q", err, tt.wantMsg)
			}
			if len(repo.replaced) != 0 {
				t.Error("store replaced despite invalid document")
			}
		})
	}
}

func TestEdit_emptyDocumentClearsStore(t *testing.T) {
	repo := &memRepo{rs: []types.Reading{reading(1, 8, 120)}}
	s := newTestService(repo, time.Now())

	res, err := s.Edit(context.Background(), "\n  \n")
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if res.Count != 0 || len(repo.rs) != 0 {
		t.Errorf("Edit() = %+v, store %d, want empty", res, len(repo.rs))
	}
}
