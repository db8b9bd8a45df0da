// Package types provides the core record types for hestia.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a record kind. Each kind is persisted in its own table.
type Kind string

const (
	KindAuditEvent          Kind = "AuditEvent"
	KindTask                Kind = "Task"
	KindDevice              Kind = "Device"
	KindDeviceMetric        Kind = "DeviceMetric"
	KindCapabilityStatement Kind = "CapabilityStatement"
)

// ErrUnknownKind is returned when a kind name is not recognized.
var ErrUnknownKind = errors.New("unknown record kind")

// ErrKindMismatch is returned when a body declares a different resourceType
// than the kind it is submitted as.
var ErrKindMismatch = errors.New("resourceType does not match record kind")

// AllKinds returns every supported kind in a stable order.
func AllKinds() []Kind {
	return []Kind{
		KindAuditEvent,
		KindTask,
		KindDevice,
		KindDeviceMetric,
		KindCapabilityStatement,
	}
}

// ParseKind resolves a kind name case-insensitively.
func ParseKind(name string) (Kind, error) {
	for _, k := range AllKinds() {
		if strings.EqualFold(string(k), name) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Record is a single persisted object: an identifier, its kind and the full
// serialized JSON body.
type Record struct {
	// ID is the row key. It is stored as the raw bytes of the string.
	ID string `json:"id"`

	// Kind selects the table and codec used for the record.
	Kind Kind `json:"kind"`

	// Body is the full serialized record, returned verbatim on read.
	Body []byte `json:"body"`
}

// resourceHeader is the part of a body every kind shares.
type resourceHeader struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
}

// NewRecord builds a record from a JSON body, taking the id from the body's
// "id" field. A body whose resourceType names another kind is rejected.
func NewRecord(kind Kind, body []byte) (*Record, error) {
	var h resourceHeader
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", kind, err)
	}
	if h.ResourceType != "" && h.ResourceType != string(kind) {
		return nil, fmt.Errorf("%w: body is %q, expected %q", ErrKindMismatch, h.ResourceType, kind)
	}
	return &Record{ID: strings.TrimSpace(h.ID), Kind: kind, Body: body}, nil
}

// SetID assigns the record id and rewrites the body so that its "id" field
// agrees with the row key.
func (r *Record) SetID(id string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Body, &fields); err != nil {
		return fmt.Errorf("decode %s body: %w", r.Kind, err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	fields["id"] = raw
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", r.Kind, err)
	}
	r.ID = id
	r.Body = body
	return nil
}
