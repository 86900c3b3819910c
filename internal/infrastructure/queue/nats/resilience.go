package nats

import (
	"context"
	"errors"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

var (
	retryable = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	permanent = resilience.ErrorClassification{RecordFailure: true}
)

func publishOperation(subject string) string {
	return "nats.publish." + subject
}

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrReconnectBufExceeded):
		return retryable
	default:
		return permanent
	}
}

// publishError maps a failed publish onto the domain error kinds. Lost
// connectivity and an open breaker are temporary, an oversized or
// malformed message is a caller problem.
func publishError(subject string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	op := "publish " + subject
	switch {
	case resilience.IsCircuitOpen(err), classifyPublishError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, op, err)
	case errors.Is(err, nats.ErrMaxPayload), errors.Is(err, nats.ErrBadSubject):
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	default:
		return err
	}
}
