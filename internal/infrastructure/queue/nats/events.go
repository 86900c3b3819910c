package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

func encodeTenantEvent(event domain.TenantEvent) ([]byte, error) {
	if strings.TrimSpace(event.TenantID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode tenant event", fmt.Errorf("tenant id is required"))
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal tenant event: %w", err)
	}
	return payload, nil
}

func decodeTenantEvent(data []byte) (domain.TenantEvent, error) {
	var event domain.TenantEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.TenantEvent{}, fmt.Errorf("unmarshal tenant event: %w", err)
	}
	if strings.TrimSpace(event.TenantID) == "" {
		return domain.TenantEvent{}, fmt.Errorf("tenant event without tenant id")
	}
	return event, nil
}
