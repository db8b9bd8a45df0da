package query

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pegacorn/hestia/internal/codec"
	herrors "github.com/pegacorn/hestia/internal/errors"
	"github.com/pegacorn/hestia/internal/store"
	"github.com/pegacorn/hestia/pkg/types"
)

func row(cols map[string][]byte) *store.Result {
	r := &store.Result{Row: []byte("r")}
	for q, v := range cols {
		r.Cells = append(r.Cells, store.Cell{Family: codec.FamilyInfo, Qualifier: q, Value: v})
	}
	return r
}

func text(q, v string) *store.Result {
	return row(map[string][]byte{q: []byte(v)})
}

func interval(start, end time.Time) *store.Result {
	return row(map[string][]byte{
		codec.AuditPeriodStart: codec.EncodeMillis(start.UnixMilli()),
		codec.AuditPeriodEnd:   codec.EncodeMillis(end.UnixMilli()),
	})
}

func TestEscapeRegex(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Ward (A)", `Ward \(A\)`},
		{"v1.2", `v1\.2`},
		{"plain", "plain"},
		{"a*b", "a*b"}, // only ( ) . are escaped
	}
	for _, tt := range tests {
		if got := EscapeRegex(tt.input); got != tt.want {
			t.Errorf("EscapeRegex(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestExact_LiteralMetacharacters(t *testing.T) {
	f, err := Exact(codec.FamilyInfo, codec.AuditEntityName, "Ward (A)")
	require.NoError(t, err)

	assert.True(t, f.Matches(text(codec.AuditEntityName, "Ward (A)")))
	assert.False(t, f.Matches(text(codec.AuditEntityName, "Ward XA")))
	assert.False(t, f.Matches(text(codec.AuditEntityName, "Ward (A) annex")))
	assert.False(t, f.Matches(text(codec.AuditEntityName, "x Ward (A)")))
	assert.False(t, f.Matches(text(codec.AuditAgentName, "Ward (A)")))
}

func TestPrefix(t *testing.T) {
	f, err := Prefix(codec.FamilyInfo, codec.AuditAgentName, "dr.")
	require.NoError(t, err)

	assert.True(t, f.Matches(text(codec.AuditAgentName, "dr.who")))
	assert.True(t, f.Matches(text(codec.AuditAgentName, "dr.")))
	assert.False(t, f.Matches(text(codec.AuditAgentName, "drx")))
	assert.False(t, f.Matches(text(codec.AuditAgentName, "the dr.who")))
}

func TestPrefix_InvalidPattern(t *testing.T) {
	_, err := Prefix(codec.FamilyInfo, codec.AuditAgentName, "[unclosed")
	assert.True(t, herrors.IsInvalidParameter(err))
	assert.Equal(t, herrors.CodeInvalidPattern, herrors.GetCode(err))
}

func TestParseProbe(t *testing.T) {
	start, end, err := ParseProbe("2021-03-04T10:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 4, 10, 15, 0, 0, time.UTC), start)
	assert.Equal(t, time.Minute, end.Sub(start))

	for _, bad := range []string{"2021-03-04", "2021-03-04T10:15:00", "04/03/2021 10:15", "soon"} {
		_, _, err := ParseProbe(bad)
		assert.True(t, herrors.IsInvalidParameter(err), bad)
		assert.Equal(t, herrors.CodeInvalidDate, herrors.GetCode(err), bad)
	}
}

func TestOverlap_Boundaries(t *testing.T) {
	d := time.Date(2021, 3, 4, 10, 15, 0, 0, time.UTC)
	f := Overlap(codec.FamilyInfo, codec.AuditPeriodStart, codec.AuditPeriodEnd, d, d.Add(time.Minute))

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"start at window end is excluded", d.Add(time.Minute), d.Add(time.Hour), false},
		{"end at window start is included", d.Add(-time.Hour), d, true},
		{"covers the window", d.Add(-time.Hour), d.Add(time.Hour), true},
		{"inside the window", d.Add(10 * time.Second), d.Add(20 * time.Second), true},
		{"ends before the window", d.Add(-time.Hour), d.Add(-time.Millisecond), false},
		{"starts just before window end", d.Add(time.Minute - time.Millisecond), d.Add(time.Hour), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Matches(interval(tt.start, tt.end)), tt.name)
	}

	onlyStart := row(map[string][]byte{codec.AuditPeriodStart: codec.EncodeMillis(d.UnixMilli())})
	assert.False(t, f.Matches(onlyStart), "row without END must be excluded")
}

func TestProperty_OverlapMatchesIntervalArithmetic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	base := time.Date(2021, 3, 4, 10, 0, 0, 0, time.UTC).UnixMilli()

	properties.Property("selected iff S < D+1min and E >= D", prop.ForAll(
		func(sOff, eOff, dMin int64) bool {
			s := base + sOff
			e := base + eOff
			d := time.UnixMilli(base + dMin*60000).UTC()
			f := Overlap(codec.FamilyInfo, codec.AuditPeriodStart, codec.AuditPeriodEnd, d, d.Add(time.Minute))
			got := f.Matches(interval(time.UnixMilli(s), time.UnixMilli(e)))
			want := s < d.Add(time.Minute).UnixMilli() && e >= d.UnixMilli()
			return got == want
		},
		gen.Int64Range(-600000, 600000),
		gen.Int64Range(-600000, 600000),
		gen.Int64Range(-10, 10),
	))

	properties.TestingRun(t)
}

func TestParseLimit(t *testing.T) {
	n, err := ParseLimit(" 5 ")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = ParseLimit("0")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, bad := range []string{"-1", "five", "2.5", ""} {
		_, err := ParseLimit(bad)
		assert.True(t, herrors.IsInvalidParameter(err), bad)
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(Params{"agent-name": "x"})
	require.NoError(t, err)
	assert.Equal(t, Options{}, opts)

	opts, err = ParseOptions(Params{ParamLimit: "2"})
	require.NoError(t, err)
	assert.Equal(t, Options{Limit: 2, Reverse: true}, opts)

	opts, err = ParseOptions(Params{ParamLimit: "  "})
	require.NoError(t, err)
	assert.Equal(t, Options{}, opts)

	_, err = ParseOptions(Params{ParamLimit: "lots"})
	assert.Equal(t, herrors.CodeInvalidLimit, herrors.GetCode(err))
}

func TestParseOptions_ZeroLimit(t *testing.T) {
	opts, err := ParseOptions(Params{ParamLimit: "0"})
	require.NoError(t, err)
	assert.Equal(t, Options{Limit: 0, Reverse: true}, opts)

	_, err = ParseOptions(Params{ParamLimit: "-1"})
	assert.Equal(t, herrors.CodeInvalidLimit, herrors.GetCode(err))
}

func TestFilterSpec_Build(t *testing.T) {
	spec := AuditEventSpec()

	list, used, err := spec.Build(Params{
		"agent-name": "dr",
		"site":       "ward-1",
		"unknown":    "ignored",
		"entity":     " ",
		"limit":      "3",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-name", "site"}, used)
	assert.Equal(t, 2, list.Len())

	match := row(map[string][]byte{codec.AuditAgentName: []byte("dr-who"), codec.AuditSourceSite: []byte("ward-1")})
	assert.True(t, list.Matches(match))
	wrongSite := row(map[string][]byte{codec.AuditAgentName: []byte("dr-who"), codec.AuditSourceSite: []byte("ward-10")})
	assert.False(t, list.Matches(wrongSite))
}

func TestFilterSpec_EmptyParams(t *testing.T) {
	for _, kind := range types.AllKinds() {
		list, used, err := SpecFor(kind).Build(Params{"agent-name": "  ", "limit": "5"})
		require.NoError(t, err)
		assert.Empty(t, used, kind)
		assert.Equal(t, 0, list.Len(), kind)
	}
}

func TestFilterSpec_BadDate(t *testing.T) {
	_, _, err := AuditEventSpec().Build(Params{"date": "yesterday"})
	assert.True(t, herrors.IsInvalidParameter(err))
}

func TestSpecFor_Names(t *testing.T) {
	assert.Equal(t, []string{"agent-name", "date", "entity-name", "entity-type", "site"}, SpecFor(types.KindAuditEvent).Names())
	assert.Equal(t, []string{"based-on", "code", "focus", "location", "owner", "part-of", "status"}, SpecFor(types.KindTask).Names())
	assert.Equal(t, []string{"location", "manufacturer", "model", "owner", "status", "type"}, SpecFor(types.KindDevice).Names())
	assert.Equal(t, []string{"parent", "source", "type", "unit"}, SpecFor(types.KindDeviceMetric).Names())
	assert.Empty(t, SpecFor(types.KindCapabilityStatement).Names())
	assert.Nil(t, SpecFor("Patient"))
}
