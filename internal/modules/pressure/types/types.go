package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// StampLayout is how new readings are written: wall clock plus numeric offset.
const StampLayout = "2006-01-02T15:04:05-07:00"

// Reading is one stored blood-pressure measurement.
type Reading struct {
	Time      time.Time `json:"t"`
	Systolic  int       `json:"sys"`
	Diastolic int       `json:"dia"`
	Pulse     int       `json:"pulse"`
	Raw       string    `json:"raw,omitempty"`
	LocalTZ   string    `json:"local_tz,omitempty"`
}

// Key identifies a reading by its instant, independent of the recorded offset.
func (r Reading) Key() string {
	return r.Time.UTC().Format(time.RFC3339Nano)
}

// Day holds the highlighted readings of one calendar date.
type Day struct {
	Date    string   `json:"date"`
	Morning *Reading `json:"morning"`
	Evening *Reading `json:"evening"`
}

// Slot is the highlight class of a reading.
type Slot int

const (
	SlotOther Slot = iota
	SlotMorning
	SlotEvening
)

func (s Slot) String() string {
	switch s {
	case SlotMorning:
		return "morning"
	case SlotEvening:
		return "evening"
	default:
		return "other"
	}
}

// EncodeLine renders r as one NDJSON line including the trailing newline.
func EncodeLine(r Reading) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeLine parses one NDJSON line. The timestamp must be RFC 3339.
func DecodeLine(line []byte) (Reading, error) {
	var r Reading
	err := json.Unmarshal(line, &r)
	return r, err
}
