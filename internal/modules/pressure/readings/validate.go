// Package readings holds the rules applied to blood-pressure readings:
// range validation, free-text input parsing and day grouping.
package readings

import (
	"errors"
	"fmt"

	"bplog/internal/modules/pressure/types"
)

const (
	SystolicMin, SystolicMax   = 70, 250
	DiastolicMin, DiastolicMax = 40, 150
	PulseMin, PulseMax         = 30, 220
)

// ErrInvalidInput is matched by every error caused by user supplied values.
var ErrInvalidInput = errors.New("invalid input")

// inputError is a fixed validation message that matches ErrInvalidInput.
type inputError string

func (e inputError) Error() string { return string(e) }

func (e inputError) Unwrap() error { return ErrInvalidInput }

var (
	// ErrDiastolicAboveSystolic is returned when dia > sys.
	ErrDiastolicAboveSystolic error = inputError("diastolic cannot be greater than systolic")
	// ErrMissingTimestamp is returned for a decoded reading without "t".
	ErrMissingTimestamp error = inputError("missing timestamp")
)

// RangeError reports the bound a value fell outside of.
type RangeError struct {
	Field    string
	Value    int
	Min, Max int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s out of range %d-%d", e.Field, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrInvalidInput }

// Triple is one systolic/diastolic/pulse measurement.
type Triple struct {
	Systolic  int
	Diastolic int
	Pulse     int
}

// Validate checks the physiological ranges first, then dia <= sys.
func Validate(sys, dia, pulse int) error {
	if sys < SystolicMin || sys > SystolicMax {
		return &RangeError{Field: "systolic", Value: sys, Min: SystolicMin, Max: SystolicMax}
	}
	if dia < DiastolicMin || dia > DiastolicMax {
		return &RangeError{Field: "diastolic", Value: dia, Min: DiastolicMin, Max: DiastolicMax}
	}
	if pulse < PulseMin || pulse > PulseMax {
		return &RangeError{Field: "pulse", Value: pulse, Min: PulseMin, Max: PulseMax}
	}
	if dia > sys {
		return ErrDiastolicAboveSystolic
	}
	return nil
}

// Check validates a decoded reading: it needs a timestamp and values that
// pass Validate.
func Check(r types.Reading) error {
	if r.Time.IsZero() {
		return ErrMissingTimestamp
	}
	return Validate(r.Systolic, r.Diastolic, r.Pulse)
}

func (t Triple) Validate() error {
	return Validate(t.Systolic, t.Diastolic, t.Pulse)
}
