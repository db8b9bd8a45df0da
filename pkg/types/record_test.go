package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
		ok    bool
	}{
		{"AuditEvent", KindAuditEvent, true},
		{"auditevent", KindAuditEvent, true},
		{"Task", KindTask, true},
		{"DEVICEMETRIC", KindDeviceMetric, true},
		{"CapabilityStatement", KindCapabilityStatement, true},
		{"Patient", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.input)
		if tt.ok {
			require.NoError(t, err, tt.input)
			assert.Equal(t, tt.want, got)
		} else {
			assert.True(t, errors.Is(err, ErrUnknownKind), tt.input)
		}
	}
}

func TestNewRecord(t *testing.T) {
	body := []byte(`{"resourceType":"Task","id":" t-1 ","status":"ready"}`)
	r, err := NewRecord(KindTask, body)
	require.NoError(t, err)
	assert.Equal(t, "t-1", r.ID)
	assert.Equal(t, KindTask, r.Kind)
	assert.Equal(t, body, r.Body)
}

func TestNewRecord_KindMismatch(t *testing.T) {
	_, err := NewRecord(KindTask, []byte(`{"resourceType":"AuditEvent","id":"a"}`))
	assert.True(t, errors.Is(err, ErrKindMismatch))
}

func TestNewRecord_InvalidJSON(t *testing.T) {
	_, err := NewRecord(KindTask, []byte(`{not json`))
	assert.Error(t, err)
}

func TestRecord_SetID(t *testing.T) {
	r, err := NewRecord(KindDevice, []byte(`{"resourceType":"Device","status":"active"}`))
	require.NoError(t, err)
	assert.Empty(t, r.ID)

	require.NoError(t, r.SetID("dev-9"))
	assert.Equal(t, "dev-9", r.ID)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(r.Body, &fields))
	assert.Equal(t, "dev-9", fields["id"])
	assert.Equal(t, "active", fields["status"])
}

func TestDecodeView(t *testing.T) {
	r := &Record{ID: "a1", Kind: KindAuditEvent, Body: []byte(`{
		"resourceType": "AuditEvent",
		"id": "a1",
		"agent": [{"name": ""}, {"name": "dr-who"}],
		"source": {"site": "ward-1"},
		"entity": [{"type": {"code": "2"}, "name": "Ward (A)"}],
		"period": {"start": "2021-03-04T10:15:00Z"}
	}`)}

	var ev AuditEvent
	require.NoError(t, DecodeView(r, &ev))
	require.Len(t, ev.Agent, 2)
	assert.Equal(t, "dr-who", ev.Agent[1].Name)
	assert.Equal(t, "ward-1", ev.Source.Site)
	assert.Equal(t, "2", ev.Entity[0].Type.Code)
	assert.Equal(t, "2021-03-04T10:15:00Z", ev.Period.Start)
	assert.Empty(t, ev.Period.End)
}

func TestParseInstant(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2021-03-04T10:15:30.250+10:00", time.Date(2021, 3, 4, 0, 15, 30, 250000000, time.UTC)},
		{"2021-03-04T10:15:30Z", time.Date(2021, 3, 4, 10, 15, 30, 0, time.UTC)},
		{"2021-03-04T10:15:30", time.Date(2021, 3, 4, 10, 15, 30, 0, time.UTC)},
		{"2021-03-04T10:15", time.Date(2021, 3, 4, 10, 15, 0, 0, time.UTC)},
		{"2021-03-04", time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := ParseInstant(tt.input)
		require.NoError(t, err, tt.input)
		assert.True(t, tt.want.Equal(got), "%s: got %v, want %v", tt.input, got, tt.want)
	}

	_, err := ParseInstant("yesterday")
	assert.Error(t, err)
}
