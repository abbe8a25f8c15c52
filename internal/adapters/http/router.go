package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/smart-notes/internal/config"
	"github.com/kirillkom/smart-notes/internal/core/domain"
	"github.com/kirillkom/smart-notes/internal/core/ports"
	"github.com/kirillkom/smart-notes/internal/observability/metrics"
)

const serviceName = "api"

// Services groups the inbound ports served over HTTP.
type Services struct {
	Indexer   ports.NoteIndexer
	Notes     ports.NoteReader
	Searcher  ports.NoteSearcher
	Tags      ports.TagService
	Extractor ports.StructureExtractor
	Answerer  ports.QuestionAnswerer
	Status    ports.StatusReporter
}

type Router struct {
	cfg       config.Config
	svc       Services
	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator
}

// NewRouter fails only if the embedded OpenAPI document is invalid. m may be nil.
func NewRouter(cfg config.Config, svc Services, m *metrics.HTTPServerMetrics) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	return &Router{cfg: cfg, svc: svc, metrics: m, validator: validator}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/notes", rt.indexNote)
	mux.HandleFunc("GET /v1/notes", rt.listNotes)
	mux.HandleFunc("GET /v1/notes/{id}", rt.getNote)
	mux.HandleFunc("PUT /v1/notes/{id}", rt.reindexNote)
	mux.HandleFunc("DELETE /v1/notes/{id}", rt.deleteNote)
	mux.HandleFunc("POST /v1/search/vector", rt.searchVector)
	mux.HandleFunc("POST /v1/search/tags", rt.searchTags)
	mux.HandleFunc("GET /v1/tags", rt.listTags)
	mux.HandleFunc("POST /v1/tags/process", rt.processTag)
	mux.HandleFunc("POST /v1/tags/suggest", rt.suggestTags)
	mux.HandleFunc("POST /v1/qa", rt.answer)
	mux.HandleFunc("GET /v1/status", rt.status)

	var handler http.Handler = mux
	handler = rt.validator.middleware(handler)
	handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, 50*time.Millisecond, rt.onReject)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, rt.onReject)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onReject(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type indexNoteRequest struct {
	NoteID string   `json:"note_id"`
	Text   string   `json:"text"`
	Tags   []string `json:"tags"`
}

func (rt *Router) indexNote(w http.ResponseWriter, r *http.Request) {
	var req indexNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rt.runIndex(w, r, domain.IndexRequest{NoteID: req.NoteID, Text: req.Text, Tags: req.Tags}, http.StatusCreated)
}

func (rt *Router) reindexNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req indexNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rt.runIndex(w, r, domain.IndexRequest{NoteID: id, Text: req.Text, Tags: req.Tags}, http.StatusOK)
}

func (rt *Router) runIndex(w http.ResponseWriter, r *http.Request, req domain.IndexRequest, status int) {
	start := time.Now()
	note, err := rt.svc.Indexer.Index(r.Context(), req)
	if rt.metrics != nil {
		rt.metrics.RecordIndex(serviceName, indexOutcome(err), time.Since(start))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, note)
}

func (rt *Router) listNotes(w http.ResponseWriter, r *http.Request) {
	var cursor string
	limit := 50
	if err := runtime.BindQueryParameter("form", true, false, "cursor", r.URL.Query(), &cursor); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	page, err := rt.svc.Notes.List(r.Context(), cursor, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page.Notes == nil {
		page.Notes = []*domain.Note{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (rt *Router) getNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	note, err := rt.svc.Notes.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (rt *Router) deleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := rt.svc.Indexer.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) searchVector(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string   `json:"query"`
		TopK  int      `json:"top_k"`
		Tags  []string `json:"tags"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	results, err := rt.svc.Searcher.SearchVector(r.Context(), req.Query, req.TopK, domain.SearchFilter{Tags: req.Tags})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []domain.RetrievedNote{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (rt *Router) searchTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags  []string `json:"tags"`
		Limit int      `json:"limit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	refs, err := rt.svc.Searcher.SearchTags(r.Context(), req.Tags, req.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if refs == nil {
		refs = []domain.NoteRef{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": refs})
}

func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	status, err := rt.svc.Status.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := rt.svc.Tags.ListTags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tags == nil {
		tags = []domain.Tag{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (rt *Router) processTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	resolution, err := rt.svc.Tags.ProcessTag(r.Context(), req.Tag)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordTagResolution(serviceName, resolution.Created)
	}
	writeJSON(w, http.StatusOK, resolution)
}

func (rt *Router) suggestTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text       string                 `json:"text"`
		Structured *domain.StructuredNote `json:"structured"`
		MaxTags    int                    `json:"max_tags"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	var structured domain.StructuredNote
	switch {
	case req.Structured != nil:
		structured = *req.Structured
	case strings.TrimSpace(req.Text) != "":
		extracted, err := rt.svc.Extractor.Extract(r.Context(), req.Text)
		if err != nil {
			writeError(w, r, err)
			return
		}
		structured = extracted
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "either structured or text is required"})
		return
	}

	tags, err := rt.svc.Tags.SuggestTags(r.Context(), structured, req.MaxTags)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TopK <= 0 {
		req.TopK = rt.cfg.RAGTopK
	}

	start := time.Now()
	answer, err := rt.svc.Answerer.Answer(r.Context(), req.Question, req.TopK)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRAGObservation(serviceName, "qa", len(answer.Sources), time.Since(start))
	}
	writeJSON(w, http.StatusOK, answer)
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil || strings.TrimSpace(id) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "note id is required"})
		return "", false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func indexOutcome(err error) string {
	switch {
	case err == nil:
		return "processed"
	case domain.IsKind(err, domain.ErrConflict):
		return "conflict"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid"
	case domain.IsKind(err, domain.ErrIndexConsistency):
		return "inconsistent"
	default:
		return "failed"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
