package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrTenantNotFound), domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrGenerationTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrBackendUnavailable),
		domain.IsKind(err, domain.ErrNoModelAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"operation", operation,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}
