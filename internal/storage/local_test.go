package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	st, err := NewLocalStorage(filepath.Join(t.TempDir(), "export"))
	require.NoError(t, err)
	return st
}

func TestLocalStorage_PutGetOverwrite(t *testing.T) {
	st := newLocal(t)
	ctx := context.Background()

	const objectPath = "data/AuditEvent/ae-1.json"
	require.NoError(t, st.PutObject(ctx, objectPath, []byte(`{"id":"ae-1"}`)))

	got, err := st.GetObject(ctx, objectPath)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"ae-1"}`, string(got))

	require.NoError(t, st.PutObject(ctx, objectPath, []byte("v2")))
	got, err = st.GetObject(ctx, objectPath)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	_, err = os.Stat(filepath.Join(st.Root(), "data", "AuditEvent", "ae-1.json"))
	assert.NoError(t, err)
}

func TestLocalStorage_GetNotFound(t *testing.T) {
	_, err := newLocal(t).GetObject(context.Background(), "nonexistent/object.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorage_ListObjects(t *testing.T) {
	st := newLocal(t)
	ctx := context.Background()

	for _, p := range []string{"a/Task/t2.json", "a/Task/t1.json", "a/Device/d1.json", "b/x.json"} {
		require.NoError(t, st.PutObject(ctx, p, []byte("{}")))
	}
	// A leftover temporary file from an interrupted write is not an object.
	require.NoError(t, os.WriteFile(filepath.Join(st.Root(), "a", "Task", tempPrefix+"123"), nil, 0o644))

	got, err := st.ListObjects(ctx, "a/Task")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/Task/t1.json", "a/Task/t2.json"}, got)

	got, err = st.ListObjects(ctx, "")
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = st.ListObjects(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalStorage_RejectsParentSegments(t *testing.T) {
	st := newLocal(t)
	ctx := context.Background()

	for _, p := range []string{"../outside.json", "a/../../outside.json", ".."} {
		assert.ErrorIs(t, st.PutObject(ctx, p, []byte("x")), ErrInvalidPath, p)
		_, err := st.GetObject(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	st := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, st.PutObject(ctx, "x.json", []byte("x")), context.Canceled)
	_, err := st.ListObjects(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"data/Task/t-1.json":    "application/json",
		"data/Task/t-1.json.sz": "application/x-snappy-framed",
		"data/Task/README":      "application/octet-stream",
	}
	for p, want := range tests {
		assert.Equal(t, want, ContentType(p), p)
	}
}

func TestBatchFetcher_Fetch(t *testing.T) {
	st := newLocal(t)
	ctx := context.Background()

	var paths []string
	for i := range 10 {
		p := fmt.Sprintf("obj%d.json", i)
		require.NoError(t, st.PutObject(ctx, p, []byte(p)))
		paths = append(paths, p)
	}
	paths = append(paths, "missing.json")

	result, err := NewBatchFetcher(st, 3).Fetch(ctx, paths)
	require.NoError(t, err)
	assert.Len(t, result.Objects, 10)
	for p, data := range result.Objects {
		assert.Equal(t, p, string(data))
	}
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors["missing.json"], ErrObjectNotFound)
}

func TestBatchFetcher_Empty(t *testing.T) {
	result, err := NewBatchFetcher(newLocal(t), 0).Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Objects)
	assert.Empty(t, result.Errors)
}

func TestBatchFetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewBatchFetcher(newLocal(t), 2).Fetch(ctx, []string{"a.json", "b.json"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, result.Errors, 2)
	assert.Empty(t, result.Objects)
}
