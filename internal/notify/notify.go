// Package notify delivers batch run results to an external system.
package notify

import (
	"context"
	"time"

	"github.com/kursadbilgin/payout-engine/internal/domain"
)

// Notifier is the outbound result delivery port.
type Notifier interface {
	NotifyResult(ctx context.Context, event ResultEvent) error
}

// ResultEvent describes how a payout run ended. Result is nil when the run was
// rejected before dispatch; Error then carries the reason.
type ResultEvent struct {
	BatchID        string              `json:"batchId"`
	CorrelationID  string              `json:"correlationId,omitempty"`
	Status         string              `json:"status"`
	FundingAddress string              `json:"fundingAddress,omitempty"`
	Result         *domain.BatchResult `json:"result,omitempty"`
	Total          int                 `json:"total,omitempty"`
	Error          string              `json:"error,omitempty"`
	OccurredAt     time.Time           `json:"occurredAt"`
}

// Event statuses that are not terminal batch statuses.
const (
	StatusRejected = "REJECTED"
)

// NopNotifier drops every event. It is used when no webhook is configured.
type NopNotifier struct{}

func (NopNotifier) NotifyResult(context.Context, ResultEvent) error { return nil }
