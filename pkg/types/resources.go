package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// The views below model only the fields that are denormalized into indexed
// columns. Everything else in a body is carried opaquely.

// Reference points at another resource.
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Coding is a single code from a terminology.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept is a set of codings plus free text.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Meta carries resource metadata.
type Meta struct {
	LastUpdated string `json:"lastUpdated,omitempty"`
}

// Period is a time interval; either bound may be absent.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// AuditEvent is the indexed view of an audit event.
type AuditEvent struct {
	ID             string            `json:"id,omitempty"`
	Meta           *Meta             `json:"meta,omitempty"`
	Period         *Period           `json:"period,omitempty"`
	Agent          []AuditAgent      `json:"agent,omitempty"`
	Source         *AuditSource      `json:"source,omitempty"`
	Entity         []AuditEntity     `json:"entity,omitempty"`
	PurposeOfEvent []CodeableConcept `json:"purposeOfEvent,omitempty"`
}

// AuditAgent is an actor taking part in an audit event.
type AuditAgent struct {
	Name string `json:"name,omitempty"`
}

// AuditSource describes the reporter of an audit event.
type AuditSource struct {
	Site string `json:"site,omitempty"`
}

// AuditEntity is a data or object used by an audit event.
type AuditEntity struct {
	Type *Coding `json:"type,omitempty"`
	Name string  `json:"name,omitempty"`
}

// Task is the indexed view of a task.
type Task struct {
	ID       string           `json:"id,omitempty"`
	Status   string           `json:"status,omitempty"`
	Code     *CodeableConcept `json:"code,omitempty"`
	Location *Reference       `json:"location,omitempty"`
	PartOf   []Reference      `json:"partOf,omitempty"`
	BasedOn  []Reference      `json:"basedOn,omitempty"`
	Owner    *Reference       `json:"owner,omitempty"`
	Focus    *Reference       `json:"focus,omitempty"`
}

// Device is the indexed view of a device.
type Device struct {
	ID           string           `json:"id,omitempty"`
	Status       string           `json:"status,omitempty"`
	Type         *CodeableConcept `json:"type,omitempty"`
	Manufacturer string           `json:"manufacturer,omitempty"`
	ModelNumber  string           `json:"modelNumber,omitempty"`
	Owner        *Reference       `json:"owner,omitempty"`
	Location     *Reference       `json:"location,omitempty"`
}

// DeviceMetric is the indexed view of a device metric.
type DeviceMetric struct {
	ID     string           `json:"id,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	Unit   *CodeableConcept `json:"unit,omitempty"`
	Source *Reference       `json:"source,omitempty"`
	Parent *Reference       `json:"parent,omitempty"`
}

// CapabilityStatement has no indexed fields.
type CapabilityStatement struct {
	ID string `json:"id,omitempty"`
}

// DecodeView unmarshals a record body into the given view.
func DecodeView(r *Record, v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s %q: %w", r.Kind, r.ID, err)
	}
	return nil
}

// instantLayouts are the dateTime forms accepted in bodies, most precise first.
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseInstant parses a dateTime value. Values without a zone are UTC.
func ParseInstant(s string) (time.Time, error) {
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized dateTime %q", s)
}
