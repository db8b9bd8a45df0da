package store

import (
	"container/list"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// errNotCompilable marks a filter the SQLite backend cannot push down. The
// scanner then evaluates it client-side.
var errNotCompilable = errors.New("store: filter cannot be compiled to SQL")

// cellExists selects rows of the outer hestia_rows alias r that carry the
// column with a value satisfying the trailing predicate.
const cellExists = `EXISTS (SELECT 1 FROM hestia_cells c
    WHERE c.table_name = r.table_name AND c.row_key = r.row_key
    AND c.family = ? AND c.qualifier = ? AND %s)`

// compileFilter renders a filter as a SQL boolean expression over the
// hestia_rows alias r. BLOB comparison in SQLite is memcmp followed by
// length, the same order as bytes.Compare.
func compileFilter(f Filter) (string, []interface{}, error) {
	switch f := f.(type) {
	case nil:
		return "1", nil, nil
	case *FilterList:
		return compileList(f)
	case *ColumnValueFilter:
		return compileColumn(f)
	default:
		return "", nil, fmt.Errorf("%w: %T", errNotCompilable, f)
	}
}

func compileList(l *FilterList) (string, []interface{}, error) {
	if len(l.Filters) == 0 {
		if l.Operator == MustPassOne {
			return "0", nil, nil
		}
		return "1", nil, nil
	}
	joiner := " AND "
	if l.Operator == MustPassOne {
		joiner = " OR "
	}
	parts := make([]string, 0, len(l.Filters))
	var args []interface{}
	for _, sub := range l.Filters {
		expr, subArgs, err := compileFilter(sub)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, expr)
		args = append(args, subArgs...)
	}
	return "(" + strings.Join(parts, joiner) + ")", args, nil
}

func compileColumn(f *ColumnValueFilter) (string, []interface{}, error) {
	args := []interface{}{f.Family, f.Qualifier}

	switch c := f.Comparator.(type) {
	case BinaryComparator:
		return compileBinary(f.Op, c.Value, args)
	case *BinaryComparator:
		return compileBinary(f.Op, c.Value, args)
	case *RegexComparator:
		switch f.Op {
		case OpEqual:
			return fmt.Sprintf(cellExists, "hestia_regexp(?, c.value)"), append(args, c.Pattern), nil
		case OpNotEqual:
			return fmt.Sprintf(cellExists, "NOT hestia_regexp(?, c.value)"), append(args, c.Pattern), nil
		}
		return "", nil, fmt.Errorf("store: regex comparator does not support %s", f.Op)
	}
	return "", nil, fmt.Errorf("%w: comparator %T", errNotCompilable, f.Comparator)
}

func compileBinary(op CompareOp, value []byte, args []interface{}) (string, []interface{}, error) {
	var sqlOp string
	switch op {
	case OpEqual:
		sqlOp = "="
	case OpNotEqual:
		sqlOp = "<>"
	case OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		sqlOp = op.String()
	default:
		return "", nil, fmt.Errorf("store: unknown operator %s", op)
	}
	if value == nil {
		value = []byte{}
	}
	return fmt.Sprintf(cellExists, "c.value "+sqlOp+" ?"), append(args, value), nil
}

// regexCacheSize bounds the compiled patterns kept by sqlRegexp. Search
// values are user input, so the set of patterns is unbounded.
const regexCacheSize = 256

var regexCache = newRegexLRU(regexCacheSize)

// sqlRegexp backs the hestia_regexp SQL function.
func sqlRegexp(pattern string, value []byte) (bool, error) {
	re, err := regexCache.compile(pattern)
	if err != nil {
		return false, err
	}
	return re.Match(value), nil
}

// regexLRU is a fixed-size cache of compiled patterns, evicting the least
// recently used.
type regexLRU struct {
	mu    sync.Mutex
	max   int
	items map[string]*list.Element // pattern -> element holding *regexEntry
	order *list.List               // front = most recently used
}

type regexEntry struct {
	pattern string
	re      *regexp.Regexp
}

func newRegexLRU(size int) *regexLRU {
	return &regexLRU{
		max:   size,
		items: make(map[string]*list.Element, size),
		order: list.New(),
	}
}

func (c *regexLRU) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	if elem, ok := c.items[pattern]; ok {
		c.order.MoveToFront(elem)
		re := elem.Value.(*regexEntry).re
		c.mu.Unlock()
		return re, nil
	}
	c.mu.Unlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[pattern]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*regexEntry).re, nil
	}
	c.items[pattern] = c.order.PushFront(&regexEntry{pattern: pattern, re: re})
	for c.order.Len() > c.max {
		back := c.order.Back()
		c.order.Remove(back)
		delete(c.items, back.Value.(*regexEntry).pattern)
	}
	return re, nil
}

func (c *regexLRU) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
