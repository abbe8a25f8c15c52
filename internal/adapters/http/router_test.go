package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/smart-notes/internal/config"
	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/observability/metrics"
)

type indexerFake struct {
	lastReq domain.IndexRequest
	err     error
	deleted string
}

func (f *indexerFake) Index(_ context.Context, req domain.IndexRequest) (*domain.Note, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	id := req.NoteID
	if id == "" {
		id = "generated"
	}
	return &domain.Note{ID: id, RawText: req.Text, Tags: req.Tags, Status: domain.StatusProcessed}, nil
}

func (f *indexerFake) Delete(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = id
	return nil
}

type readerFake struct {
	notes      map[string]*domain.Note
	lastCursor string
	lastLimit  int
}

func (f *readerFake) Get(_ context.Context, id string) (*domain.Note, error) {
	note, ok := f.notes[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNoteNotFound, "get note", errors.New("id="+id))
	}
	return note, nil
}

func (f *readerFake) List(_ context.Context, cursor string, limit int) (domain.NotePage, error) {
	f.lastCursor, f.lastLimit = cursor, limit
	return domain.NotePage{}, nil
}

type searcherFake struct {
	lastFilter domain.SearchFilter
	err        error
}

func (f *searcherFake) SearchVector(_ context.Context, _ string, _ int, filter domain.SearchFilter) ([]domain.RetrievedNote, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []domain.RetrievedNote{{NoteID: "n1", Score: 0.9}}, nil
}

func (f *searcherFake) SearchTags(context.Context, []string, int) ([]domain.NoteRef, error) {
	return nil, nil
}

type tagServiceFake struct {
	suggested domain.StructuredNote
}

func (f *tagServiceFake) SuggestTags(_ context.Context, structured domain.StructuredNote, _ int) ([]string, error) {
	f.suggested = structured
	return []string{"travel"}, nil
}

func (f *tagServiceFake) ProcessTag(_ context.Context, label string) (domain.TagResolution, error) {
	return domain.TagResolution{Original: label, Tag: domain.Tag{Label: "travel", UsageCount: 2}}, nil
}

func (f *tagServiceFake) ListTags(context.Context) ([]domain.Tag, error) {
	return nil, nil
}

type extractorFake struct {
	calls int
}

func (f *extractorFake) Extract(_ context.Context, text string) (domain.StructuredNote, error) {
	f.calls++
	return domain.StructuredNote{Title: text, Sections: []domain.Section{{Label: "body", Text: text}}, Confidence: 0.9}, nil
}

type answererFake struct {
	err     error
	lastTop int
}

func (f *answererFake) Answer(_ context.Context, question string, topK int) (*domain.Answer, error) {
	f.lastTop = topK
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Answer{Text: "answer to " + question, Citations: []domain.Citation{{Marker: 1, NoteID: "n1"}}}, nil
}

type statusFake struct {
	status domain.IndexStatus
	err    error
}

func (f *statusFake) Status(context.Context) (domain.IndexStatus, error) {
	return f.status, f.err
}

type testServices struct {
	indexer   *indexerFake
	reader    *readerFake
	searcher  *searcherFake
	tags      *tagServiceFake
	extractor *extractorFake
	answerer  *answererFake
	status    *statusFake
}

func newTestHandler(t *testing.T) (http.Handler, *testServices) {
	t.Helper()
	fakes := &testServices{
		indexer:   &indexerFake{},
		reader:    &readerFake{notes: map[string]*domain.Note{"n1": {ID: "n1", Status: domain.StatusProcessed}}},
		searcher:  &searcherFake{},
		tags:      &tagServiceFake{},
		extractor: &extractorFake{},
		answerer:  &answererFake{},
		status:    &statusFake{status: domain.IndexStatus{Notes: 3, Processed: 2, Failed: 1, Vectors: 3}},
	}
	router, err := NewRouter(config.Config{RAGTopK: 5}, Services{
		Indexer:   fakes.indexer,
		Notes:     fakes.reader,
		Searcher:  fakes.searcher,
		Tags:      fakes.tags,
		Extractor: fakes.extractor,
		Answerer:  fakes.answerer,
		Status:    fakes.status,
	}, metrics.NewHTTPServerMetrics(serviceName))
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router.Handler(), fakes
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestIndexNoteReturns201(t *testing.T) {
	handler, fakes := newTestHandler(t)
	res := doJSON(t, handler, http.MethodPost, "/v1/notes", map[string]any{"text": "Trip to Paris", "tags": []string{"travel"}})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if fakes.indexer.lastReq.Text != "Trip to Paris" || len(fakes.indexer.lastReq.Tags) != 1 {
		t.Fatalf("unexpected index request: %+v", fakes.indexer.lastReq)
	}
}

func TestIndexNoteRejectsMissingTextBeforeCore(t *testing.T) {
	handler, fakes := newTestHandler(t)
	res := doJSON(t, handler, http.MethodPost, "/v1/notes", map[string]any{"tags": []string{"x"}})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if fakes.indexer.lastReq.Text != "" {
		t.Fatalf("indexer must not be called for invalid request")
	}
}

func TestReindexUsesPathID(t *testing.T) {
	handler, fakes := newTestHandler(t)
	res := doJSON(t, handler, http.MethodPut, "/v1/notes/n42", map[string]any{"text": "updated"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if fakes.indexer.lastReq.NoteID != "n42" {
		t.Fatalf("expected path id to be used, got %+v", fakes.indexer.lastReq)
	}
}

func TestIndexConflictMapsTo409(t *testing.T) {
	handler, fakes := newTestHandler(t)
	fakes.indexer.err = domain.WrapError(domain.ErrConflict, "index note", errors.New("in flight"))
	res := doJSON(t, handler, http.MethodPost, "/v1/notes", map[string]any{"text": "x"})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestGetNoteReturns404ForNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)
	res := doJSON(t, handler, http.MethodGet, "/v1/notes/missing", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	res = doJSON(t, handler, http.MethodGet, "/v1/notes/n1", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestDeleteNoteReturns204(t *testing.T) {
	handler, fakes := newTestHandler(t)
	res := doJSON(t, handler, http.MethodDelete, "/v1/notes/n1", nil)
	if res.Code != http.StatusNoContent || fakes.indexer.deleted != "n1" {
		t.Fatalf("expected 204 and delete of n1, got %d / %q", res.Code, fakes.indexer.deleted)
	}
}

func TestListNotesBindsQueryParameters(t *testing.T) {
	handler, fakes := newTestHandler(t)
	res := doJSON(t, handler, http.MethodGet, "/v1/notes?cursor=n1&limit=10", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if fakes.reader.lastCursor != "n1" || fakes.reader.lastLimit != 10 {
		t.Fatalf("unexpected binding: %q %d", fakes.reader.lastCursor, fakes.reader.lastLimit)
	}

	res = doJSON(t, handler, http.MethodGet, "/v1/notes?limit=abc", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed limit, got %d", res.Code)
	}
}

func TestSearchVectorPassesTagFilter(t *testing.T) {
	handler, fakes := newTestHandler(t)
	res := doJSON(t, handler, http.MethodPost, "/v1/search/vector", map[string]any{"query": "paris", "tags": []string{"travel"}})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(fakes.searcher.lastFilter.Tags) != 1 {
		t.Fatalf("expected tag filter, got %+v", fakes.searcher.lastFilter)
	}

	fakes.searcher.err = domain.WrapError(domain.ErrRetrieval, "search", errors.New("index down"))
	res = doJSON(t, handler, http.MethodPost, "/v1/search/vector", map[string]any{"query": "paris"})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestSuggestTagsExtractsRawText(t *testing.T) {
	handler, fakes := newTestHandler(t)
	res := doJSON(t, handler, http.MethodPost, "/v1/tags/suggest", map[string]any{"text": "Trip to Paris"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if fakes.extractor.calls != 1 || fakes.tags.suggested.Title != "Trip to Paris" {
		t.Fatalf("expected extraction before suggestion, got %d calls / %+v", fakes.extractor.calls, fakes.tags.suggested)
	}

	res = doJSON(t, handler, http.MethodPost, "/v1/tags/suggest", map[string]any{})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without text or structured, got %d", res.Code)
	}
}

func TestProcessTagReturnsResolution(t *testing.T) {
	handler, _ := newTestHandler(t)
	res := doJSON(t, handler, http.MethodPost, "/v1/tags/process", map[string]any{"tag": "Travelling"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resolution map[string]any
	_ = json.Unmarshal(res.Body.Bytes(), &resolution)
	if resolution["original_tag"] != "Travelling" || resolution["is_new"] != false {
		t.Fatalf("unexpected resolution: %v", resolution)
	}
}

func TestAnswerDefaultsTopKAndMapsErrors(t *testing.T) {
	handler, fakes := newTestHandler(t)
	res := doJSON(t, handler, http.MethodPost, "/v1/qa", map[string]any{"question": "Paris?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if fakes.answerer.lastTop != 5 {
		t.Fatalf("expected default top k 5, got %d", fakes.answerer.lastTop)
	}

	fakes.answerer.err = domain.WrapError(domain.ErrAnswering, "answer", errors.New("llm failed twice"))
	res = doJSON(t, handler, http.MethodPost, "/v1/qa", map[string]any{"question": "Paris?"})
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.Code)
	}
}

func TestMetricsEndpointExposesRequests(t *testing.T) {
	handler, _ := newTestHandler(t)
	_ = doJSON(t, handler, http.MethodGet, "/healthz", nil)
	res := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "notes_http_requests_total") {
		t.Fatalf("expected prometheus output, got %d", res.Code)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrExtraction, "extract", domain.WrapError(domain.ErrInvalidInput, "extract", errors.New("empty"))), http.StatusBadRequest},
		{domain.WrapError(domain.ErrExtraction, "extract", errors.New("bad json")), http.StatusUnprocessableEntity},
		{domain.WrapError(domain.ErrExtraction, "extract", domain.WrapError(domain.ErrTemporary, "ollama", errors.New("503"))), http.StatusServiceUnavailable},
		{domain.WrapError(domain.ErrTagSuggestion, "tags", errors.New("x")), http.StatusBadGateway},
		{domain.WrapError(domain.ErrIndexConsistency, "commit", errors.New("x")), http.StatusInternalServerError},
		{domain.WrapError(domain.ErrConflict, "index", errors.New("x")), http.StatusConflict},
		{errors.New("unknown"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusReportsNoteAndVectorCounts(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got domain.IndexStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Notes != 3 || got.Processed != 2 || got.Failed != 1 || got.Vectors != 3 {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestStatusMapsStoreFailure(t *testing.T) {
	handler, fakes := newTestHandler(t)
	fakes.status.err = domain.WrapError(domain.ErrRetrieval, "list notes", errors.New("db down"))

	rec := doJSON(t, handler, http.MethodGet, "/v1/status", nil)
	if rec.Code < http.StatusInternalServerError {
		t.Fatalf("status = %d, want 5xx", rec.Code)
	}
}
