package httpadapter

import (
	"net/http"

	"github.com/kirillkom/smart-notes/internal/core/domain"
)

// mapErrorToHTTPStatus checks the most specific kinds first; a pipeline
// error may wrap several.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNoteNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrIndexConsistency):
		return http.StatusInternalServerError
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrExtraction):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTagSuggestion), domain.IsKind(err, domain.ErrAnswering):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrRetrieval):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
