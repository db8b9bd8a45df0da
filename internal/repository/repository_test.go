package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pegacorn/hestia/internal/codec"
	herrors "github.com/pegacorn/hestia/internal/errors"
	"github.com/pegacorn/hestia/internal/query"
	"github.com/pegacorn/hestia/internal/store"
	"github.com/pegacorn/hestia/pkg/types"
)

// countingConn records every call that reaches the store.
type countingConn struct {
	store.Conn
	calls atomic.Int64
}

func (c *countingConn) Admin() store.Admin {
	c.calls.Add(1)
	return c.Conn.Admin()
}

func (c *countingConn) Table(ctx context.Context, name string) (store.Table, error) {
	c.calls.Add(1)
	return c.Conn.Table(ctx, name)
}

// failingConn fails every table access.
type failingConn struct {
	store.Conn
	err error
}

func (c failingConn) Table(ctx context.Context, name string) (store.Table, error) {
	return nil, c.err
}

type recordingObserver struct {
	mu       sync.Mutex
	writes   map[Status]int
	searches []string
	results  int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{writes: make(map[Status]int)}
}

func (o *recordingObserver) ObserveWrite(kind types.Kind, status Status, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[status] += n
}

func (o *recordingObserver) ObserveSearch(kind types.Kind, params []string, status string, d time.Duration, results int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.searches = append(o.searches, status)
	o.results += results
}

func auditBody(id, agent, site, start, end string) []byte {
	return []byte(fmt.Sprintf(`{"resourceType":"AuditEvent","id":%q,"agent":[{"name":%q}],"source":{"site":%q},"period":{"start":%q,"end":%q}}`,
		id, agent, site, start, end))
}

func auditRecord(id, agent, site string) *types.Record {
	return &types.Record{
		ID:   id,
		Kind: types.KindAuditEvent,
		Body: auditBody(id, agent, site, "2021-03-04T10:00:00Z", "2021-03-04T10:30:00Z"),
	}
}

func newAuditRepo(t *testing.T, conn store.Conn, opts ...Option) *Repository {
	t.Helper()
	return New(conn, codec.NewAuditEventCodec(), query.AuditEventSpec(), opts...)
}

func collect(t *testing.T, r *Repository, params query.Params) []string {
	t.Helper()
	bodies, err := r.SearchAll(context.Background(), params)
	require.NoError(t, err)
	return bodies
}

func ids(t *testing.T, bodies []string) []string {
	t.Helper()
	out := make([]string, len(bodies))
	for i, b := range bodies {
		rec, err := types.NewRecord(types.KindAuditEvent, []byte(b))
		require.NoError(t, err)
		out[i] = rec.ID
	}
	return out
}

func TestRepository_CreateRead(t *testing.T) {
	ctx := context.Background()
	conn := store.NewMemoryConn()
	repo := newAuditRepo(t, conn)

	rec := auditRecord("ae-1", "dr-who", "ward-1")
	out, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, Outcome{ID: "ae-1", Kind: types.KindAuditEvent, Status: StatusSuccess}, out)

	body, err := repo.Read(ctx, "ae-1")
	require.NoError(t, err)
	assert.Equal(t, string(rec.Body), body)
}

func TestRepository_CreateAssignsID(t *testing.T) {
	ctx := context.Background()
	repo := newAuditRepo(t, store.NewMemoryConn(), WithIDGenerator(func() string { return "generated" }))

	rec := &types.Record{Kind: types.KindAuditEvent, Body: []byte(`{"resourceType":"AuditEvent","agent":[{"name":"x"}]}`)}
	out, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "generated", out.ID)

	body, err := repo.Read(ctx, "generated")
	require.NoError(t, err)
	assert.Contains(t, body, `"id":"generated"`)
}

func TestRepository_UpdateRequiresID(t *testing.T) {
	repo := newAuditRepo(t, store.NewMemoryConn())
	rec := &types.Record{Kind: types.KindAuditEvent, Body: []byte(`{"resourceType":"AuditEvent"}`)}
	out, err := repo.Update(context.Background(), rec)
	assert.True(t, herrors.IsInvalidParameter(err))
	assert.Equal(t, StatusInvalid, out.Status)
}

func TestRepository_UpdateOverwrites(t *testing.T) {
	ctx := context.Background()
	repo := newAuditRepo(t, store.NewMemoryConn())

	_, err := repo.Create(ctx, auditRecord("ae-1", "dr-who", "ward-1"))
	require.NoError(t, err)
	_, err = repo.Update(ctx, auditRecord("ae-1", "dr-who", "ward-2"))
	require.NoError(t, err)

	assert.Empty(t, collect(t, repo, query.Params{"site": "ward-1"}))
	assert.Equal(t, []string{"ae-1"}, ids(t, collect(t, repo, query.Params{"site": "ward-2"})))
}

func TestRepository_ReadMissing(t *testing.T) {
	ctx := context.Background()
	conn := store.NewMemoryConn()
	repo := newAuditRepo(t, conn)

	// Table does not exist yet.
	_, err := repo.Read(ctx, "nope")
	assert.True(t, herrors.IsNotFound(err))

	_, err = repo.Create(ctx, auditRecord("ae-1", "a", "s"))
	require.NoError(t, err)

	_, err = repo.Read(ctx, "nope")
	assert.True(t, herrors.IsNotFound(err))
	assert.Equal(t, herrors.CodeRowNotFound, herrors.GetCode(err))

	_, err = repo.Read(ctx, " ")
	assert.True(t, herrors.IsNotFound(err))
}

func TestRepository_DeleteUnsupported(t *testing.T) {
	conn := &countingConn{Conn: store.NewMemoryConn()}
	repo := newAuditRepo(t, conn)

	err := repo.Delete(context.Background(), "ae-1")
	assert.True(t, herrors.IsUnsupported(err))
	assert.Zero(t, conn.calls.Load())
}

func TestRepository_SearchEmptyParamsSkipsStore(t *testing.T) {
	conn := &countingConn{Conn: store.NewMemoryConn()}
	obs := newRecordingObserver()
	repo := newAuditRepo(t, conn, WithObserver(obs))

	for _, params := range []query.Params{nil, {}, {"agent-name": "  "}, {"unknown": "x"}, {"limit": "3"}} {
		bodies, err := repo.SearchAll(context.Background(), params)
		require.NoError(t, err)
		assert.Empty(t, bodies)
	}
	assert.Zero(t, conn.calls.Load())
	assert.Equal(t, []string{SearchEmpty, SearchEmpty, SearchEmpty, SearchEmpty, SearchEmpty}, obs.searches)
}

func TestRepository_SearchInvalidParams(t *testing.T) {
	conn := &countingConn{Conn: store.NewMemoryConn()}
	repo := newAuditRepo(t, conn)

	_, err := repo.Search(context.Background(), query.Params{"site": "x", "limit": "-2"})
	assert.Equal(t, herrors.CodeInvalidLimit, herrors.GetCode(err))

	_, err = repo.Search(context.Background(), query.Params{"date": "2021-03-04"})
	assert.Equal(t, herrors.CodeInvalidDate, herrors.GetCode(err))

	assert.Zero(t, conn.calls.Load())
}

func TestRepository_SearchBeforeTableExists(t *testing.T) {
	repo := newAuditRepo(t, store.NewMemoryConn())
	assert.Empty(t, collect(t, repo, query.Params{"site": "ward-1"}))
}

func TestRepository_SearchLimitNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newAuditRepo(t, store.NewMemoryConn())

	for i := 1; i <= 5; i++ {
		_, err := repo.Create(ctx, auditRecord(fmt.Sprintf("R%d", i), "dr-who", "ward-1"))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"R5", "R4"}, ids(t, collect(t, repo, query.Params{"agent-name": "dr", "limit": "2"})))
	assert.Equal(t, []string{"R1", "R2", "R3", "R4", "R5"}, ids(t, collect(t, repo, query.Params{"agent-name": "dr"})))

	// An overwrite makes the row the most recent.
	_, err := repo.Update(ctx, auditRecord("R2", "dr-who", "ward-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"R2"}, ids(t, collect(t, repo, query.Params{"agent-name": "dr", "limit": "1"})))
}

func TestRepository_SearchZeroLimit(t *testing.T) {
	ctx := context.Background()
	repo := newAuditRepo(t, store.NewMemoryConn())
	for i := 1; i <= 3; i++ {
		_, err := repo.Create(ctx, auditRecord(fmt.Sprintf("R%d", i), "dr", "ward-1"))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"R3", "R2", "R1"}, ids(t, collect(t, repo, query.Params{"site": "ward-1", "limit": "0"})))
}

func TestRepository_SearchWithOptions(t *testing.T) {
	ctx := context.Background()
	repo := newAuditRepo(t, store.NewMemoryConn())
	for i := 1; i <= 3; i++ {
		_, err := repo.Create(ctx, auditRecord(fmt.Sprintf("R%d", i), "dr", "ward-1"))
		require.NoError(t, err)
	}

	seq, err := repo.SearchWithOptions(ctx, query.Params{"site": "ward-1", "limit": "1"}, query.Options{Reverse: true})
	require.NoError(t, err)
	var got []string
	for body, err := range seq {
		require.NoError(t, err)
		got = append(got, body)
	}
	assert.Equal(t, []string{"R3", "R2", "R1"}, ids(t, got))
}

func TestRepository_SearchSemantics(t *testing.T) {
	ctx := context.Background()
	repo := newAuditRepo(t, store.NewMemoryConn())

	records := []*types.Record{
		{ID: "a", Kind: types.KindAuditEvent, Body: auditBody("a", "dr.who", "Ward (A)", "2021-03-04T10:00:00Z", "2021-03-04T10:15:00Z")},
		{ID: "b", Kind: types.KindAuditEvent, Body: auditBody("b", "drx", "Ward XA", "2021-03-04T10:16:00Z", "2021-03-04T11:00:00Z")},
		{ID: "c", Kind: types.KindAuditEvent, Body: []byte(`{"resourceType":"AuditEvent","id":"c","agent":[{"name":"dr.no"}]}`)},
	}
	outcomes, err := repo.CreateBatch(ctx, records)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, StatusSuccess, o.Status)
	}

	tests := []struct {
		params query.Params
		want   []string
	}{
		{query.Params{"agent-name": "dr."}, []string{"a", "c"}},
		{query.Params{"site": "Ward (A)"}, []string{"a"}},
		{query.Params{"site": "Ward"}, nil},
		{query.Params{"date": "2021-03-04T10:15"}, []string{"a"}},
		{query.Params{"date": "2021-03-04T10:16"}, []string{"b"}},
		{query.Params{"date": "2021-03-04T10:15", "agent-name": "drx"}, nil},
	}
	for _, tt := range tests {
		got := ids(t, collect(t, repo, tt.params))
		if tt.want == nil {
			assert.Empty(t, got, "%v", tt.params)
			continue
		}
		assert.Equal(t, tt.want, got, "%v", tt.params)
	}
}

func TestRepository_SequenceSingleUse(t *testing.T) {
	ctx := context.Background()
	repo := newAuditRepo(t, store.NewMemoryConn())
	_, err := repo.Create(ctx, auditRecord("R1", "dr", "ward-1"))
	require.NoError(t, err)

	seq, err := repo.Search(ctx, query.Params{"site": "ward-1"})
	require.NoError(t, err)

	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)

	var second error
	for _, err := range seq {
		second = err
	}
	assert.True(t, herrors.IsQuery(second))
	assert.Equal(t, herrors.CodeSequenceReused, herrors.GetCode(second))

	empty, err := repo.Search(ctx, query.Params{})
	require.NoError(t, err)
	for range empty {
	}
	second = nil
	for _, err := range empty {
		second = err
	}
	assert.Equal(t, herrors.CodeSequenceReused, herrors.GetCode(second))
}

func TestRepository_SearchEarlyStop(t *testing.T) {
	ctx := context.Background()
	repo := newAuditRepo(t, store.NewMemoryConn())
	for i := 0; i < 4; i++ {
		_, err := repo.Create(ctx, auditRecord(fmt.Sprintf("R%d", i), "dr", "w"))
		require.NoError(t, err)
	}

	seq, err := repo.Search(ctx, query.Params{"site": "w"})
	require.NoError(t, err)
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestRepository_ScanFailureIsQueryError(t *testing.T) {
	cause := herrors.NewConnectivityError("store down", errors.New("refused"))
	repo := newAuditRepo(t, failingConn{Conn: store.NewMemoryConn(), err: store.ErrClosed})

	_, err := repo.SearchAll(context.Background(), query.Params{"site": "x"})
	assert.True(t, herrors.IsQuery(err))
	assert.True(t, herrors.IsConnectivity(err))
	assert.Equal(t, herrors.CodeScanFailed, herrors.GetCode(err))

	repo = newAuditRepo(t, failingConn{Conn: store.NewMemoryConn(), err: cause})
	_, err = repo.Read(context.Background(), "x")
	assert.True(t, herrors.IsConnectivity(err))
}

func TestRepository_WriteFailures(t *testing.T) {
	ctx := context.Background()
	conn := store.NewMemoryConn()
	require.NoError(t, conn.Close())

	obs := newRecordingObserver()
	repo := newAuditRepo(t, conn, WithObserver(obs))
	out, err := repo.Create(ctx, auditRecord("ae-1", "a", "s"))
	assert.True(t, herrors.IsConnectivity(err))
	assert.Equal(t, StatusConnectivity, out.Status)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, 1, obs.writes[StatusConnectivity])
}

func TestRepository_FamilyMismatch(t *testing.T) {
	ctx := context.Background()
	conn := store.NewMemoryConn()
	require.NoError(t, conn.Admin().CreateTable(ctx, store.TableDescriptor{
		Name:     codec.TableAuditEvent,
		Families: []string{"OTHER"},
	}))

	repo := newAuditRepo(t, conn)
	out, err := repo.Create(ctx, auditRecord("ae-1", "a", "s"))
	assert.True(t, herrors.IsSchema(err))
	assert.Equal(t, StatusFailed, out.Status)
}

func TestRepository_CreateBatchMixed(t *testing.T) {
	ctx := context.Background()
	obs := newRecordingObserver()
	repo := newAuditRepo(t, store.NewMemoryConn(), WithObserver(obs))

	recs := []*types.Record{
		auditRecord("ok-1", "a", "s"),
		{ID: "bad", Kind: types.KindAuditEvent, Body: []byte(`{"period":{"start":"never"}}`)},
		auditRecord("ok-2", "a", "s"),
	}
	outcomes, err := repo.CreateBatch(ctx, recs)
	assert.True(t, herrors.IsInvalidParameter(err))
	require.Len(t, outcomes, 3)
	assert.Equal(t, StatusSuccess, outcomes[0].Status)
	assert.Equal(t, StatusInvalid, outcomes[1].Status)
	assert.Equal(t, StatusSuccess, outcomes[2].Status)
	assert.Equal(t, 2, obs.writes[StatusSuccess])
	assert.Equal(t, 1, obs.writes[StatusInvalid])

	_, err = repo.Read(ctx, "bad")
	assert.True(t, herrors.IsNotFound(err))
}

func TestRepository_ScanAll(t *testing.T) {
	ctx := context.Background()
	repo := newAuditRepo(t, store.NewMemoryConn())

	var got []string
	for e, err := range repo.ScanAll(ctx) {
		require.NoError(t, err)
		got = append(got, e.ID)
	}
	assert.Empty(t, got)

	for _, id := range []string{"x", "y", "z"} {
		_, err := repo.Create(ctx, auditRecord(id, "a", "s"))
		require.NoError(t, err)
	}
	for e, err := range repo.ScanAll(ctx) {
		require.NoError(t, err)
		assert.Contains(t, e.Body, e.ID)
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"x", "y", "z"}, got)
}

func TestRepository_SQLiteBackend(t *testing.T) {
	ctx := context.Background()
	conn, err := store.NewSQLiteConn(ctx, store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "hestia.db")})
	require.NoError(t, err)
	defer conn.Close()

	repo := newAuditRepo(t, conn)
	for i := 1; i <= 5; i++ {
		_, err := repo.Create(ctx, auditRecord(fmt.Sprintf("R%d", i), "dr-who", "Ward (A)"))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"R5", "R4"}, ids(t, collect(t, repo, query.Params{"site": "Ward (A)", "limit": "2"})))
	assert.Equal(t, []string{"R5", "R4", "R3", "R2", "R1"},
		ids(t, collect(t, repo, query.Params{"agent-name": "dr", "date": "2021-03-04T10:30", "limit": "5"})))
	assert.Empty(t, collect(t, repo, query.Params{"date": "2021-03-04T10:31"}))
}

func TestSet(t *testing.T) {
	set, err := NewSet(store.NewMemoryConn(), codec.DefaultRegistry())
	require.NoError(t, err)
	assert.Len(t, set.Kinds(), 5)

	r, err := set.Lookup("auditevent")
	require.NoError(t, err)
	assert.Equal(t, types.KindAuditEvent, r.Kind())
	assert.Equal(t, []string{"agent-name", "date", "entity-name", "entity-type", "site"}, r.Params())

	_, err = set.Lookup("Patient")
	assert.True(t, herrors.IsNotFound(err))
}
