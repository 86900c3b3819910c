package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/resilience"
)

const workerQueueGroup = "workers"

type Queue struct {
	conn     *nats.Conn
	subjects Subjects
	executor *resilience.Executor
}

// Subjects names the two tenant streams. Reindex requests are consumed by one
// worker per message; indexed notices fan out to every api replica.
type Subjects struct {
	Reindex string
	Indexed string
}

func DefaultSubjects() Subjects {
	return Subjects{Reindex: "tenants.reindex", Indexed: "tenants.indexed"}
}

type Options struct {
	ClientName           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string, subjects Subjects) (*Queue, error) {
	return NewWithOptions(url, subjects, Options{})
}

func NewWithOptions(url string, subjects Subjects, options Options) (*Queue, error) {
	def := DefaultSubjects()
	if subjects.Reindex == "" {
		subjects.Reindex = def.Reindex
	}
	if subjects.Indexed == "" {
		subjects.Indexed = def.Indexed
	}
	clientName := options.ClientName
	if clientName == "" {
		clientName = "tenant-rag"
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name(clientName),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subjects: subjects,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishTenantEvent(ctx context.Context, event domain.TenantEvent) error {
	payload, err := encodeTenantEvent(event)
	if err != nil {
		return err
	}
	return q.publish(ctx, q.subjects.Reindex, payload)
}

func (q *Queue) PublishTenantIndexed(ctx context.Context, tenantID string) error {
	payload, err := encodeTenantEvent(domain.TenantEvent{TenantID: tenantID, Kind: domain.EventTenantIndexed})
	if err != nil {
		return err
	}
	return q.publish(ctx, q.subjects.Indexed, payload)
}

// SubscribeTenantEvents blocks until ctx is done, handing each reindex request
// to handler. Messages are load-balanced across workers.
func (q *Queue) SubscribeTenantEvents(ctx context.Context, handler func(context.Context, domain.TenantEvent) error) error {
	return q.subscribe(ctx, q.subjects.Reindex, workerQueueGroup, func(msgCtx context.Context, data []byte) {
		event, err := decodeTenantEvent(data)
		if err != nil {
			slog.Error("tenant_event_decode_failed", "error", err)
			return
		}
		if err := handler(msgCtx, event); err != nil {
			slog.Error("tenant_event_failed", "tenant_id", event.TenantID, "document_id", event.DocumentID, "kind", event.Kind, "error", err)
		}
	})
}

// SubscribeTenantIndexed blocks until ctx is done. Every subscriber sees
// every notice.
func (q *Queue) SubscribeTenantIndexed(ctx context.Context, handler func(context.Context, string) error) error {
	return q.subscribe(ctx, q.subjects.Indexed, "", func(msgCtx context.Context, data []byte) {
		event, err := decodeTenantEvent(data)
		if err != nil {
			slog.Error("tenant_indexed_decode_failed", "error", err)
			return
		}
		if err := handler(msgCtx, event.TenantID); err != nil {
			slog.Error("tenant_indexed_failed", "tenant_id", event.TenantID, "error", err)
		}
	})
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, publishOperation(subject), call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	return publishError(subject, err)
}

func (q *Queue) subscribe(ctx context.Context, subject, group string, handle func(context.Context, []byte)) error {
	callback := func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		msgCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		handle(msgCtx, msg.Data)
	}

	var sub *nats.Subscription
	var err error
	if group != "" {
		sub, err = q.conn.QueueSubscribe(subject, group, callback)
	} else {
		sub, err = q.conn.Subscribe(subject, callback)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
