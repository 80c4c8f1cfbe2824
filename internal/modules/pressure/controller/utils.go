package controller

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/types"
)

const (
	defaultReadingsLimit = 100
	maxReadingsLimit     = 1000
	maxBodyBytes         = 1 << 20
)

func parseReadingsQuery(r *http.Request) (from time.Time, to time.Time, limit int, err error) {
	q := r.URL.Query()

	if s := q.Get("from"); s != "" {
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	if s := q.Get("to"); s != "" {
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, 0, errors.New("'from' must be <= 'to'")
	}

	limit = defaultReadingsLimit
	if s := q.Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return time.Time{}, time.Time{}, 0, errors.New("'limit' must be > 0")
		}
		if n > maxReadingsLimit {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("'limit' must be <= %d", maxReadingsLimit)
		}
		limit = n
	}

	return from, to, limit, nil
}

// formFields reads the separate sys_bp, dia_bp and pulse inputs. ok is false
// when none of them was sent.
func formFields(r *http.Request) (sys, dia, pulse int, ok bool, err error) {
	names := [3]string{"sys_bp", "dia_bp", "pulse"}
	var raw [3]string
	present := 0
	for i, name := range names {
		raw[i] = strings.TrimSpace(r.PostFormValue(name))
		if raw[i] != "" {
			present++
		}
	}
	if present == 0 {
		return 0, 0, 0, false, nil
	}
	if present < len(names) {
		return 0, 0, 0, true, fmt.Errorf("%w: need three values: sys, dia, pulse", readings.ErrInvalidInput)
	}
	var vals [3]int
	for i, s := range raw {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return 0, 0, 0, true, fmt.Errorf("%w: %s %q is not a whole number", readings.ErrInvalidInput, names[i], s)
		}
		vals[i] = n
	}
	return vals[0], vals[1], vals[2], true, nil
}

// formFlag reads a 0/1 hidden input, defaulting to on.
func formFlag(r *http.Request, name string) bool {
	return strings.TrimSpace(r.PostFormValue(name)) != "0"
}

func savedMessage(rec types.Reading) string {
	return fmt.Sprintf("Saved %d/%d pulse %d", rec.Systolic, rec.Diastolic, rec.Pulse)
}

func errorMessage(err error) string {
	return "Error: " + err.Error()
}

// indexRedirect is the post/redirect/get target carrying the status and the
// chart flags.
func indexRedirect(status string, showPulse, showNight bool) string {
	q := url.Values{}
	q.Set("status_msg", status)
	if !showPulse {
		q.Set("pulse", "0")
	}
	if !showNight {
		q.Set("night", "0")
	}
	return "/?" + q.Encode()
}
