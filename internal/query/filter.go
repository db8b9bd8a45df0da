// Package query builds store filters from named search parameters.
//
// Attribute parameters become anchored regular expressions over the raw
// column text: a prefix match "^value" or an exact match "^value$". Only the
// characters '(', ')' and '.' in the literal are escaped; any other regex
// metacharacter in a search value keeps its pattern meaning. The date
// parameter becomes an interval overlap test over a pair of timestamp
// columns. All predicates of one search are combined with AND.
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pegacorn/hestia/internal/codec"
	herrors "github.com/pegacorn/hestia/internal/errors"
	"github.com/pegacorn/hestia/internal/store"
)

// DateLayout is the accepted date parameter format, minute precision, UTC.
const DateLayout = "2006-01-02T15:04"

// ProbeWidth is the width of the interval a date parameter expands to.
const ProbeWidth = time.Minute

var regexEscaper = strings.NewReplacer(`(`, `\(`, `)`, `\)`, `.`, `\.`)

// EscapeRegex escapes '(', ')' and '.' so they match literally.
func EscapeRegex(s string) string {
	return regexEscaper.Replace(s)
}

// Prefix selects rows whose column starts with value.
func Prefix(family, qualifier, value string) (store.Filter, error) {
	return regexColumn(family, qualifier, "^"+EscapeRegex(value))
}

// Exact selects rows whose column equals value.
func Exact(family, qualifier, value string) (store.Filter, error) {
	return regexColumn(family, qualifier, "^"+EscapeRegex(value)+"$")
}

func regexColumn(family, qualifier, pattern string) (store.Filter, error) {
	cmp, err := store.NewRegexComparator(pattern)
	if err != nil {
		return nil, herrors.NewInvalidParameterError(herrors.CodeInvalidPattern,
			fmt.Sprintf("search value for %s is not a valid pattern: %v", qualifier, err))
	}
	return &store.ColumnValueFilter{
		Family:     family,
		Qualifier:  qualifier,
		Op:         store.OpEqual,
		Comparator: cmp,
	}, nil
}

// ParseProbe parses a date parameter into the probe interval [t, t+1min).
func ParseProbe(date string) (start, end time.Time, err error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, time.Time{}, herrors.NewInvalidParameterError(herrors.CodeInvalidDate,
			fmt.Sprintf("date %q does not match %s", date, DateLayout))
	}
	return t, t.Add(ProbeWidth), nil
}

// Overlap selects rows whose stored interval [startQ, endQ] intersects the
// probe [start, end): stored start < end AND stored end >= start. Rows missing
// either bound are excluded.
func Overlap(family, startQualifier, endQualifier string, start, end time.Time) store.Filter {
	return store.NewFilterList(store.MustPassAll,
		&store.ColumnValueFilter{
			Family:     family,
			Qualifier:  startQualifier,
			Op:         store.OpLess,
			Comparator: store.BinaryComparator{Value: codec.EncodeMillis(end.UnixMilli())},
		},
		&store.ColumnValueFilter{
			Family:     family,
			Qualifier:  endQualifier,
			Op:         store.OpGreaterOrEqual,
			Comparator: store.BinaryComparator{Value: codec.EncodeMillis(start.UnixMilli())},
		},
	)
}

// ParseLimit parses the limit parameter. It must be a non-negative integer.
func ParseLimit(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, herrors.NewInvalidParameterError(herrors.CodeInvalidLimit,
			fmt.Sprintf("limit %q must be a non-negative integer", s))
	}
	return n, nil
}
