package store

import (
	"bytes"
	"fmt"
	"regexp"
)

// Filter restricts the rows a scan returns. Backends either evaluate a filter
// against each row with Matches or compile it into a native restriction; both
// paths must select the same rows.
type Filter interface {
	// Matches reports whether the row passes the filter.
	Matches(r *Result) bool
}

// CompareOp is a comparison operator used by column value filters.
type CompareOp int

const (
	OpEqual CompareOp = iota
	OpNotEqual
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
)

// String returns the operator symbol.
func (op CompareOp) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessOrEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterOrEqual:
		return ">="
	default:
		return fmt.Sprintf("CompareOp(%d)", int(op))
	}
}

// Comparator compares a stored column value against a literal.
type Comparator interface {
	comparator()
}

// BinaryComparator orders values lexicographically by raw bytes. Big-endian
// encoded integers therefore compare numerically.
type BinaryComparator struct {
	Value []byte
}

func (BinaryComparator) comparator() {}

// RegexComparator matches the stored value, read as text, against a regular
// expression. Only OpEqual and OpNotEqual are meaningful with it.
type RegexComparator struct {
	Pattern string
	re      *regexp.Regexp
}

func (*RegexComparator) comparator() {}

// NewRegexComparator compiles a pattern.
func NewRegexComparator(pattern string) (*RegexComparator, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("store: invalid regex %q: %w", pattern, err)
	}
	return &RegexComparator{Pattern: pattern, re: re}, nil
}

// Match reports whether the value matches the pattern.
func (c *RegexComparator) Match(value []byte) bool {
	return c.re.Match(value)
}

// ColumnValueFilter selects rows whose (Family, Qualifier) cell compares
// against the comparator with Op. Rows lacking the cell never match.
type ColumnValueFilter struct {
	Family     string
	Qualifier  string
	Op         CompareOp
	Comparator Comparator
}

// Matches implements Filter.
func (f *ColumnValueFilter) Matches(r *Result) bool {
	value, ok := r.Value(f.Family, f.Qualifier)
	if !ok {
		return false
	}
	switch c := f.Comparator.(type) {
	case BinaryComparator:
		return compareResult(f.Op, bytes.Compare(value, c.Value))
	case *BinaryComparator:
		return compareResult(f.Op, bytes.Compare(value, c.Value))
	case *RegexComparator:
		switch f.Op {
		case OpEqual:
			return c.Match(value)
		case OpNotEqual:
			return !c.Match(value)
		}
	}
	return false
}

func compareResult(op CompareOp, cmp int) bool {
	switch op {
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpLess:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	}
	return false
}

// ListOperator combines the filters of a FilterList.
type ListOperator int

const (
	// MustPassAll is a logical AND.
	MustPassAll ListOperator = iota
	// MustPassOne is a logical OR.
	MustPassOne
)

// FilterList combines filters. An empty MustPassAll list selects every row;
// an empty MustPassOne list selects none.
type FilterList struct {
	Operator ListOperator
	Filters  []Filter
}

// NewFilterList creates a list with the given operator.
func NewFilterList(op ListOperator, filters ...Filter) *FilterList {
	return &FilterList{Operator: op, Filters: filters}
}

// Add appends a filter.
func (l *FilterList) Add(f Filter) {
	l.Filters = append(l.Filters, f)
}

// Len returns the number of filters.
func (l *FilterList) Len() int {
	return len(l.Filters)
}

// Matches implements Filter.
func (l *FilterList) Matches(r *Result) bool {
	if l.Operator == MustPassOne {
		for _, f := range l.Filters {
			if f.Matches(r) {
				return true
			}
		}
		return false
	}
	for _, f := range l.Filters {
		if !f.Matches(r) {
			return false
		}
	}
	return true
}
