package repository

import (
	"fmt"

	"github.com/pegacorn/hestia/internal/codec"
	herrors "github.com/pegacorn/hestia/internal/errors"
	"github.com/pegacorn/hestia/internal/query"
	"github.com/pegacorn/hestia/internal/store"
	"github.com/pegacorn/hestia/pkg/types"
)

// Set holds one repository per registered kind, all sharing a connection.
type Set struct {
	repos map[types.Kind]*Repository
	kinds []types.Kind
}

// NewSet builds a repository for every kind in the registry.
func NewSet(conn store.Conn, registry *codec.Registry, opts ...Option) (*Set, error) {
	s := &Set{repos: make(map[types.Kind]*Repository)}
	for _, kind := range registry.Kinds() {
		c, err := registry.Get(kind)
		if err != nil {
			return nil, err
		}
		spec := query.SpecFor(kind)
		if spec == nil {
			return nil, fmt.Errorf("no search parameters defined for kind %s", kind)
		}
		s.repos[kind] = New(conn, c, spec, opts...)
		s.kinds = append(s.kinds, kind)
	}
	return s, nil
}

// Get returns the repository of a kind.
func (s *Set) Get(kind types.Kind) (*Repository, error) {
	r, ok := s.repos[kind]
	if !ok {
		return nil, herrors.NewNotFoundError(herrors.CodeUnknownKind, fmt.Sprintf("unknown record kind %q", kind))
	}
	return r, nil
}

// Lookup parses a kind name and returns its repository.
func (s *Set) Lookup(name string) (*Repository, error) {
	kind, err := types.ParseKind(name)
	if err != nil {
		return nil, herrors.NewNotFoundError(herrors.CodeUnknownKind, err.Error())
	}
	return s.Get(kind)
}

// Kinds returns the kinds in the set, sorted.
func (s *Set) Kinds() []types.Kind {
	return append([]types.Kind(nil), s.kinds...)
}
