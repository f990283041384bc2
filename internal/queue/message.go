package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PayoutMessage is the broker payload asking a worker to run a batch.
type PayoutMessage struct {
	BatchID       string    `json:"batchId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	RequestedAt   time.Time `json:"requestedAt"`
}

func (m PayoutMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if _, err := uuid.Parse(m.BatchID); err != nil {
		return fmt.Errorf("invalid batchId %q: %w", m.BatchID, err)
	}
	return nil
}
