// Package codec maps records to wide-column rows and back.
//
// Every kind uses two column families: INFO holds the indexed attributes and
// DATA holds exactly one column, BODY, with the full serialized record. The
// indexed columns are rebuilt from the body on every write.
package codec

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	herrors "github.com/pegacorn/hestia/internal/errors"
	"github.com/pegacorn/hestia/internal/store"
	"github.com/pegacorn/hestia/pkg/types"
)

// Column families and the body qualifier shared by every kind.
const (
	FamilyInfo    = "INFO"
	FamilyData    = "DATA"
	QualifierBody = "BODY"
)

// Codec encodes records of one kind into puts and extracts bodies from rows.
type Codec interface {
	Kind() types.Kind

	// Table is the name of the table holding the kind.
	Table() string

	// Families is the column family set the table is created with.
	Families() []string

	// Descriptor is the table descriptor passed to store.EnsureTable.
	Descriptor() store.TableDescriptor

	// Encode builds the full-row put for a record.
	Encode(r *types.Record) (*store.Put, error)

	// Decode returns the body of a stored row. An empty row or one without
	// a body is a not-found error.
	Decode(res *store.Result) (string, error)
}

// indexFunc adds a kind's indexed columns for a record.
type indexFunc func(r *types.Record, cols *columns) error

type kindCodec struct {
	kind  types.Kind
	table string
	index indexFunc
}

func (c *kindCodec) Kind() types.Kind { return c.kind }

func (c *kindCodec) Table() string { return c.table }

func (c *kindCodec) Families() []string { return []string{FamilyInfo, FamilyData} }

func (c *kindCodec) Descriptor() store.TableDescriptor {
	return store.TableDescriptor{Name: c.table, Families: c.Families()}
}

func (c *kindCodec) Encode(r *types.Record) (*store.Put, error) {
	if r == nil {
		return nil, herrors.NewInvalidParameterError(herrors.CodeInvalidRecord, "record is nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		return nil, herrors.NewInvalidParameterError(herrors.CodeInvalidRecord,
			fmt.Sprintf("%s record has no id", c.kind))
	}
	if len(r.Body) == 0 {
		return nil, herrors.NewInvalidParameterError(herrors.CodeInvalidRecord,
			fmt.Sprintf("%s %q has an empty body", c.kind, r.ID))
	}

	put := store.NewPut([]byte(r.ID))
	if c.index != nil {
		if err := c.index(r, &columns{put: put}); err != nil {
			return nil, herrors.NewInvalidParameterError(herrors.CodeInvalidRecord,
				fmt.Sprintf("%s %q: %v", c.kind, r.ID, err))
		}
	}
	put.AddColumn(FamilyData, QualifierBody, r.Body)
	return put, nil
}

func (c *kindCodec) Decode(res *store.Result) (string, error) {
	if res.IsEmpty() {
		return "", herrors.NewNotFoundError(herrors.CodeRowNotFound,
			fmt.Sprintf("%s row %q not found", c.kind, rowKey(res)))
	}
	body, ok := res.Value(FamilyData, QualifierBody)
	if !ok {
		return "", herrors.NewNotFoundError(herrors.CodeBodyNotFound,
			fmt.Sprintf("%s row %q has no body", c.kind, rowKey(res)))
	}
	return string(body), nil
}

func rowKey(res *store.Result) string {
	if res == nil {
		return ""
	}
	return string(res.Row)
}

// columns accumulates INFO cells. Blank values are skipped so that an absent
// attribute omits its column.
type columns struct {
	put *store.Put
}

func (c *columns) text(qualifier, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	c.put.AddColumn(FamilyInfo, qualifier, []byte(value))
}

// first stores the first non-blank value.
func (c *columns) first(qualifier string, values ...string) {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			c.put.AddColumn(FamilyInfo, qualifier, []byte(v))
			return
		}
	}
}

// joined stores the non-blank values separated by commas. A value that itself
// contains a comma cannot be told apart from two values; searches match the
// joined string as a whole.
func (c *columns) joined(qualifier string, values []string) {
	kept := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) > 0 {
		c.put.AddColumn(FamilyInfo, qualifier, []byte(strings.Join(kept, ",")))
	}
}

// instant stores a dateTime as 8-byte big-endian epoch milliseconds.
func (c *columns) instant(qualifier, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	t, err := types.ParseInstant(value)
	if err != nil {
		return fmt.Errorf("%s: %w", qualifier, err)
	}
	c.put.AddColumn(FamilyInfo, qualifier, EncodeMillis(t.UnixMilli()))
	return nil
}

// EncodeMillis encodes epoch milliseconds as 8 big-endian bytes.
func EncodeMillis(ms int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ms))
	return b
}

// DecodeMillis is the inverse of EncodeMillis.
func DecodeMillis(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("codec: timestamp must be 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Registry resolves codecs by kind.
type Registry struct {
	codecs map[types.Kind]Codec
}

// NewRegistry builds a registry from the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[types.Kind]Codec, len(codecs))}
	for _, c := range codecs {
		r.codecs[c.Kind()] = c
	}
	return r
}

// DefaultRegistry holds a codec for every supported kind.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewAuditEventCodec(),
		NewTaskCodec(),
		NewDeviceCodec(),
		NewDeviceMetricCodec(),
		NewCapabilityStatementCodec(),
	)
}

// Get returns the codec for a kind.
func (r *Registry) Get(kind types.Kind) (Codec, error) {
	c, ok := r.codecs[kind]
	if !ok {
		return nil, herrors.NewSchemaError(herrors.CodeUnknownKind,
			fmt.Sprintf("no codec for kind %q", kind), nil)
	}
	return c, nil
}

// Kinds returns the registered kinds in name order.
func (r *Registry) Kinds() []types.Kind {
	kinds := make([]types.Kind, 0, len(r.codecs))
	for k := range r.codecs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
