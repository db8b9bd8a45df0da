package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	herrors "github.com/pegacorn/hestia/internal/errors"
	"github.com/pegacorn/hestia/internal/query"
	"github.com/pegacorn/hestia/internal/repository"
	"github.com/pegacorn/hestia/pkg/types"
)

// MaxBodyBytes caps the size of a request body.
const MaxBodyBytes = 8 << 20

// BatchResponse is the result of a batch create.
type BatchResponse struct {
	Outcomes  []repository.Outcome `json:"outcomes"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
}

// RecordHandler serves reads, searches and writes of every record kind.
type RecordHandler struct {
	repos *repository.Set
}

// NewRecordHandler creates a record handler over a repository set.
func NewRecordHandler(repos *repository.Set) *RecordHandler {
	return &RecordHandler{repos: repos}
}

// Register adds the record routes to mux.
func (h *RecordHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{kind}", h.Search)
	mux.HandleFunc("POST /{kind}", h.Create)
	mux.HandleFunc("POST /{kind}/$batch", h.CreateBatch)
	mux.HandleFunc("GET /{kind}/{id}", h.Read)
	mux.HandleFunc("PUT /{kind}/{id}", h.Update)
	mux.HandleFunc("DELETE /{kind}/{id}", h.Delete)
}

// Search handles GET /{kind}?param=value. The response is a JSON array of
// bodies; a request without recognized parameters returns an empty array.
func (h *RecordHandler) Search(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repos.Lookup(r.PathValue("kind"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	bodies, err := repo.SearchAll(r.Context(), searchParams(r.URL.Query()))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	out := make([]json.RawMessage, len(bodies))
	for i, b := range bodies {
		out[i] = json.RawMessage(b)
	}
	writeJSON(w, http.StatusOK, out)
}

// Read handles GET /{kind}/{id} and returns the stored body verbatim.
func (h *RecordHandler) Read(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repos.Lookup(r.PathValue("kind"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	body, err := repo.Read(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

// Create handles POST /{kind}. An id is generated when the body has none.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	repo, rec, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}

	outcome, err := repo.Create(r.Context(), rec)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Location", "/"+string(repo.Kind())+"/"+url.PathEscape(outcome.ID))
	writeJSON(w, http.StatusCreated, outcome)
}

// Update handles PUT /{kind}/{id}. The id in the path replaces any id in
// the body.
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	repo, rec, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if rec.ID != id {
		if err := rec.SetID(id); err != nil {
			writeFailure(w, r, herrors.NewInvalidParameterError(herrors.CodeInvalidRecord, err.Error()))
			return
		}
	}

	outcome, err := repo.Update(r.Context(), rec)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Delete handles DELETE /{kind}/{id}. Records are never removed, so this
// always answers 405.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repos.Lookup(r.PathValue("kind"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Allow", "GET, PUT")
	writeFailure(w, r, repo.Delete(r.Context(), r.PathValue("id")))
}

// CreateBatch handles POST /{kind}/$batch with a JSON array of bodies. The
// response carries one outcome per element, in request order. It is 200
// when every element was written and 207 otherwise.
func (h *RecordHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repos.Lookup(r.PathValue("kind"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	var elems []json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&elems); err != nil {
		writeFailure(w, r, herrors.NewInvalidParameterError(herrors.CodeInvalidRecord,
			fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	outcomes := make([]repository.Outcome, len(elems))
	recs := make([]*types.Record, 0, len(elems))
	index := make([]int, 0, len(elems))
	for i, elem := range elems {
		rec, err := types.NewRecord(repo.Kind(), elem)
		if err != nil {
			outcomes[i] = repository.Outcome{Kind: repo.Kind(), Status: repository.StatusInvalid, Error: err.Error()}
			continue
		}
		recs = append(recs, rec)
		index = append(index, i)
	}

	if len(recs) > 0 {
		written, _ := repo.CreateBatch(r.Context(), recs)
		for j, i := range index {
			outcomes[i] = written[j]
		}
	}

	resp := BatchResponse{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Status == repository.StatusSuccess {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

// decodeRecord resolves the kind and reads the request body into a record.
// It writes the failure response itself and reports false on error.
func (h *RecordHandler) decodeRecord(w http.ResponseWriter, r *http.Request) (*repository.Repository, *types.Record, bool) {
	repo, err := h.repos.Lookup(r.PathValue("kind"))
	if err != nil {
		writeFailure(w, r, err)
		return nil, nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", GetRequestID(r.Context()))
			return nil, nil, false
		}
		writeFailure(w, r, herrors.NewInvalidParameterError(herrors.CodeInvalidRecord,
			fmt.Sprintf("read request body: %v", err)))
		return nil, nil, false
	}

	rec, err := types.NewRecord(repo.Kind(), body)
	if err != nil {
		writeFailure(w, r, herrors.NewInvalidParameterError(herrors.CodeInvalidRecord, err.Error()))
		return nil, nil, false
	}
	return repo, rec, true
}

// searchParams takes the first value of every query parameter.
func searchParams(values url.Values) query.Params {
	params := make(query.Params, len(values))
	for name, vs := range values {
		if len(vs) > 0 {
			params[name] = vs[0]
		}
	}
	return params
}
