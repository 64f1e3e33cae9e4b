// Package consent holds the consent artefact as this service sees it and the
// decision that gates every data flow request against it.
package consent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusGranted   Status = "GRANTED"
	StatusRequested Status = "REQUESTED"
	StatusDenied    Status = "DENIED"
	StatusRevoked   Status = "REVOKED"
	StatusExpired   Status = "EXPIRED"
)

// Time is a UTC instant that also decodes zone-less ISO-8601 values, as sent
// by participants that stamp local date-times.
type Time struct {
	time.Time
}

func At(t time.Time) Time { return Time{t.UTC()} }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime reads RFC3339 with or without a zone; zone-less values are UTC.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseTime(raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

type DateRange struct {
	From Time `json:"from" validate:"required"`
	To   Time `json:"to" validate:"required"`
}

func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: At(from), To: At(to)}
}

// Within reports from >= outer.from, to <= outer.to and from < to.
func (r DateRange) Within(outer DateRange) bool {
	return !r.From.Before(outer.From.Time) &&
		!r.To.After(outer.To.Time) &&
		r.From.Before(r.To.Time)
}

type Reference struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Frequency struct {
	Unit    string `json:"unit"`
	Value   int    `json:"value"`
	Repeats int    `json:"repeats"`
}

type Permission struct {
	AccessMode  string    `json:"accessMode"`
	DateRange   DateRange `json:"dateRange"`
	DataEraseAt Time      `json:"dataEraseAt"`
	Frequency   Frequency `json:"frequency"`
}

type CareContext struct {
	PatientReference     string `json:"patientReference"`
	CareContextReference string `json:"careContextReference"`
}

type Detail struct {
	ConsentID    string        `json:"consentId"`
	CreatedAt    Time          `json:"createdAt"`
	Patient      Reference     `json:"patient"`
	HIP          Reference     `json:"hip"`
	HIU          Reference     `json:"hiu"`
	HITypes      []string      `json:"hiTypes,omitempty"`
	Permission   Permission    `json:"permission"`
	CareContexts []CareContext `json:"careContexts,omitempty"`
}

// ArtefactRepresentation is a signed consent artefact. The signature is
// carried as an opaque string.
type ArtefactRepresentation struct {
	ConsentDetail Detail `json:"consentDetail"`
	Status        Status `json:"status"`
	Signature     string `json:"signature"`
}
