package query

import (
	"sort"
	"strings"

	"github.com/pegacorn/hestia/internal/codec"
	"github.com/pegacorn/hestia/internal/store"
	"github.com/pegacorn/hestia/pkg/types"
)

// ParamLimit caps the result count and implies most-recent-first order.
const ParamLimit = "limit"

// Params is a set of named search parameters. Absent and blank values are
// equivalent.
type Params map[string]string

// Value returns the trimmed value of a parameter.
func (p Params) Value(name string) string {
	return strings.TrimSpace(p[name])
}

// Has reports whether a parameter is present and non-blank.
func (p Params) Has(name string) bool {
	return p.Value(name) != ""
}

// Options are the ordering and limit of a search.
type Options struct {
	// Limit caps the number of results. Zero means no cap.
	Limit int

	// Reverse returns the most recently written rows first.
	Reverse bool
}

// ParseOptions reads the limit parameter. A limit, when given, also turns on
// reverse order so that the newest matches are the ones kept. limit=0 is
// valid and means every match, newest first.
func ParseOptions(p Params) (Options, error) {
	if !p.Has(ParamLimit) {
		return Options{}, nil
	}
	n, err := ParseLimit(p.Value(ParamLimit))
	if err != nil {
		return Options{}, err
	}
	return Options{Limit: n, Reverse: true}, nil
}

// Builder turns one parameter value into a filter.
type Builder func(value string) (store.Filter, error)

// FilterSpec maps the recognized parameter names of one kind to builders.
type FilterSpec struct {
	kind     types.Kind
	builders map[string]Builder
}

// NewFilterSpec creates an empty spec for a kind.
func NewFilterSpec(kind types.Kind) *FilterSpec {
	return &FilterSpec{kind: kind, builders: make(map[string]Builder)}
}

// Kind returns the kind the parameters belong to.
func (s *FilterSpec) Kind() types.Kind { return s.kind }

// Param registers a builder for a parameter name.
func (s *FilterSpec) Param(name string, b Builder) *FilterSpec {
	s.builders[name] = b
	return s
}

// PrefixParam registers a prefix match on an INFO column.
func (s *FilterSpec) PrefixParam(name, qualifier string) *FilterSpec {
	return s.Param(name, func(v string) (store.Filter, error) {
		return Prefix(codec.FamilyInfo, qualifier, v)
	})
}

// ExactParam registers an exact match on an INFO column.
func (s *FilterSpec) ExactParam(name, qualifier string) *FilterSpec {
	return s.Param(name, func(v string) (store.Filter, error) {
		return Exact(codec.FamilyInfo, qualifier, v)
	})
}

// OverlapParam registers a date parameter tested for overlap against the
// interval held in two INFO timestamp columns.
func (s *FilterSpec) OverlapParam(name, startQualifier, endQualifier string) *FilterSpec {
	return s.Param(name, func(v string) (store.Filter, error) {
		start, end, err := ParseProbe(v)
		if err != nil {
			return nil, err
		}
		return Overlap(codec.FamilyInfo, startQualifier, endQualifier, start, end), nil
	})
}

// Names returns the recognized parameter names, sorted.
func (s *FilterSpec) Names() []string {
	names := make([]string, 0, len(s.builders))
	for n := range s.builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build ANDs the filters of every recognized, non-blank parameter. The
// returned names are the parameters that contributed, sorted. Unrecognized
// names are ignored. An empty list means the search must not run.
func (s *FilterSpec) Build(p Params) (*store.FilterList, []string, error) {
	list := store.NewFilterList(store.MustPassAll)
	var used []string
	for _, name := range s.Names() {
		if !p.Has(name) {
			continue
		}
		f, err := s.builders[name](p.Value(name))
		if err != nil {
			return nil, nil, err
		}
		list.Add(f)
		used = append(used, name)
	}
	return list, used, nil
}

// AuditEventSpec: agent-name (prefix), entity-type, entity-name and site
// (exact), date (overlap with the event period).
func AuditEventSpec() *FilterSpec {
	return NewFilterSpec(types.KindAuditEvent).
		PrefixParam("agent-name", codec.AuditAgentName).
		ExactParam("entity-type", codec.AuditEntityType).
		ExactParam("entity-name", codec.AuditEntityName).
		ExactParam("site", codec.AuditSourceSite).
		OverlapParam("date", codec.AuditPeriodStart, codec.AuditPeriodEnd)
}

// TaskSpec matches every parameter by prefix.
func TaskSpec() *FilterSpec {
	return NewFilterSpec(types.KindTask).
		PrefixParam("location", codec.TaskLocation).
		PrefixParam("code", codec.TaskCode).
		PrefixParam("part-of", codec.TaskPartOf).
		PrefixParam("based-on", codec.TaskBasedOn).
		PrefixParam("status", codec.TaskStatus).
		PrefixParam("owner", codec.TaskOwner).
		PrefixParam("focus", codec.TaskFocus)
}

// DeviceSpec matches every parameter by prefix.
func DeviceSpec() *FilterSpec {
	return NewFilterSpec(types.KindDevice).
		PrefixParam("type", codec.DeviceType).
		PrefixParam("status", codec.DeviceStatus).
		PrefixParam("manufacturer", codec.DeviceManufacturer).
		PrefixParam("model", codec.DeviceModel).
		PrefixParam("owner", codec.DeviceOwner).
		PrefixParam("location", codec.DeviceLocation)
}

// DeviceMetricSpec matches every parameter by prefix.
func DeviceMetricSpec() *FilterSpec {
	return NewFilterSpec(types.KindDeviceMetric).
		PrefixParam("type", codec.MetricType).
		PrefixParam("unit", codec.MetricUnit).
		PrefixParam("source", codec.MetricSource).
		PrefixParam("parent", codec.MetricParent)
}

// CapabilityStatementSpec recognizes no parameters, so every search of the
// kind is empty.
func CapabilityStatementSpec() *FilterSpec {
	return NewFilterSpec(types.KindCapabilityStatement)
}

// SpecFor returns the filter spec of a kind, or nil if the kind is unknown.
func SpecFor(kind types.Kind) *FilterSpec {
	switch kind {
	case types.KindAuditEvent:
		return AuditEventSpec()
	case types.KindTask:
		return TaskSpec()
	case types.KindDevice:
		return DeviceSpec()
	case types.KindDeviceMetric:
		return DeviceMetricSpec()
	case types.KindCapabilityStatement:
		return CapabilityStatementSpec()
	}
	return nil
}
