package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

var (
	transient = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	rejected  = resilience.ErrorClassification{}
	broken    = resilience.ErrorClassification{RecordFailure: true}
)

// classifyOllamaError decides retries for embeddings and catalog lookups.
// A 4xx means the request itself was wrong, so it neither retries nor
// counts against the model server's breaker.
func classifyOllamaError(err error) resilience.ErrorClassification {
	var statusErr *HTTPStatusError
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return rejected
	case resilience.IsCircuitOpen(err):
		return transient
	case errors.As(err, &statusErr):
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return transient
		}
		return rejected
	case errors.As(err, &netErr):
		return transient
	default:
		return broken
	}
}

// classifyGenerationError never retries inside one attempt budget except
// for refused connections; model fallback is decided by the caller.
func classifyGenerationError(err error) resilience.ErrorClassification {
	class := classifyOllamaError(err)
	if !class.Retryable {
		return class
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) || isTimeout(err) {
		class.Retryable = false
	}
	return class
}

// wrapBackendError maps transport failures onto domain kinds: deadline
// overruns become generation timeouts, unreachable or failing servers
// become backend unavailability.
func wrapBackendError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return domain.WrapError(domain.ErrGenerationTimeout, operation, err)
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrBackendUnavailable, operation, err)
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode >= 500 || isRetryableHTTPStatus(statusErr.StatusCode) {
			return domain.WrapError(domain.ErrBackendUnavailable, operation, err)
		}
		return domain.WrapError(domain.ErrInvalidInput, operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrBackendUnavailable, operation, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
