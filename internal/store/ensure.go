package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	herrors "github.com/pegacorn/hestia/internal/errors"
)

// EnsureTable makes sure a table exists with exactly the descriptor's
// families. It is idempotent and tolerates a concurrent creator: a create that
// loses the race with ErrTableExists counts as success. A table that exists
// with a different family set is a schema error. Other store failures are
// connectivity errors.
func EnsureTable(ctx context.Context, admin Admin, desc TableDescriptor) error {
	if err := ValidateDescriptor(desc); err != nil {
		return err
	}

	exists, err := admin.TableExists(ctx, desc.Name)
	if err != nil {
		return herrors.NewConnectivityError(fmt.Sprintf("check table %s", desc.Name), err)
	}
	if !exists {
		err = admin.CreateTable(ctx, desc)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrTableExists):
			// Created concurrently; fall through to the family check.
		case herrors.HasCategory(err, herrors.ErrCategorySchema):
			return err
		default:
			return herrors.NewConnectivityError(fmt.Sprintf("create table %s", desc.Name), err)
		}
	}

	existing, err := admin.DescribeTable(ctx, desc.Name)
	if err != nil {
		return herrors.NewConnectivityError(fmt.Sprintf("describe table %s", desc.Name), err)
	}
	if !sameFamilies(existing.Families, desc.Families) {
		return herrors.NewSchemaError(herrors.CodeFamilyMismatch,
			fmt.Sprintf("table %s has families [%s], want [%s]", desc.Name,
				strings.Join(existing.Families, ","), strings.Join(desc.Families, ",")), nil)
	}
	return nil
}

// ValidateDescriptor rejects descriptors the store cannot create: an empty
// name, no families, blank or duplicate family names.
func ValidateDescriptor(desc TableDescriptor) error {
	if strings.TrimSpace(desc.Name) == "" {
		return herrors.NewSchemaError(herrors.CodeInvalidFamilies, "table name is empty", nil)
	}
	if len(desc.Families) == 0 {
		return herrors.NewSchemaError(herrors.CodeInvalidFamilies,
			fmt.Sprintf("table %s has no column families", desc.Name), nil)
	}
	seen := make(map[string]struct{}, len(desc.Families))
	for _, f := range desc.Families {
		if strings.TrimSpace(f) == "" || strings.Contains(f, ",") {
			return herrors.NewSchemaError(herrors.CodeInvalidFamilies,
				fmt.Sprintf("table %s: invalid family name %q", desc.Name, f), nil)
		}
		if _, dup := seen[f]; dup {
			return herrors.NewSchemaError(herrors.CodeInvalidFamilies,
				fmt.Sprintf("table %s: duplicate family %q", desc.Name, f), nil)
		}
		seen[f] = struct{}{}
	}
	return nil
}

func sameFamilies(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
