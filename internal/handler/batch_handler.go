package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/payout-engine/internal/domain"
	"github.com/kursadbilgin/payout-engine/internal/service"
	"github.com/shopspring/decimal"
)

type BatchService interface {
	Create(ctx context.Context, requests []service.PaymentRequest) (*domain.Batch, error)
	Get(ctx context.Context, id string) (*domain.Batch, error)
	RequestPayout(ctx context.Context, id string, correlationID string) error
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches/:batchId", h.GetBatch)
	v1.Post("/batches/:batchId/payout", h.RequestPayout)

	return nil
}

type paymentRequest struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
}

type createBatchRequest struct {
	Payments []paymentRequest `json:"payments"`
}

type paymentResponse struct {
	ID          string  `json:"id"`
	Sequence    int     `json:"sequence"`
	Destination string  `json:"destination"`
	Amount      string  `json:"amount"`
	Status      string  `json:"status"`
	TxHash      *string `json:"txHash,omitempty"`
	FeeDrops    *int64  `json:"feeDrops,omitempty"`
}

type batchResultResponse struct {
	Successes      int  `json:"successes"`
	Failures       int  `json:"failures"`
	Skipped        int  `json:"skipped"`
	MaxFeeExceeded bool `json:"maxFeeExceeded"`
}

type batchResponse struct {
	BatchID     string               `json:"batchId"`
	Status      string               `json:"status"`
	Finished    bool                 `json:"finished"`
	TotalCount  int                  `json:"totalCount"`
	TotalAmount string               `json:"totalAmount"`
	Result      *batchResultResponse `json:"result,omitempty"`
	Payments    []paymentResponse    `json:"payments"`
	CreatedAt   time.Time            `json:"createdAt,omitempty"`
	UpdatedAt   time.Time            `json:"updatedAt,omitempty"`
}

type payoutAcceptedResponse struct {
	BatchID       string `json:"batchId"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Payments) == 0 {
		return toHTTPError(fmt.Errorf("%w: payments is required", domain.ErrValidation))
	}

	requests := make([]service.PaymentRequest, 0, len(req.Payments))
	for _, p := range req.Payments {
		requests = append(requests, service.PaymentRequest{
			Destination: strings.TrimSpace(p.Destination),
			Amount:      p.Amount,
		})
	}

	batch, err := h.service.Create(c.Context(), requests)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	batch, err := h.service.Get(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) RequestPayout(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	correlationID := requestCorrelationID(c)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if err := h.service.RequestPayout(c.Context(), batchID, correlationID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(payoutAcceptedResponse{
		BatchID:       batchID,
		Status:        domain.BatchStatusQueued.String(),
		CorrelationID: correlationID,
	})
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	total := decimal.Zero
	payments := make([]paymentResponse, 0, len(b.Payments))
	for _, p := range b.Payments {
		total = total.Add(p.Amount)
		payments = append(payments, paymentResponse{
			ID:          p.ID,
			Sequence:    p.Sequence,
			Destination: p.Destination,
			Amount:      p.Amount.String(),
			Status:      p.Status.String(),
			TxHash:      p.TxHash,
			FeeDrops:    p.FeeDrops,
		})
	}

	resp := batchResponse{
		BatchID:     b.ID,
		Status:      b.Status.String(),
		Finished:    b.Finished,
		TotalCount:  len(b.Payments),
		TotalAmount: total.String(),
		Payments:    payments,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if b.Result != nil {
		resp.Result = &batchResultResponse{
			Successes:      b.Result.Successes,
			Failures:       b.Result.Failures,
			Skipped:        b.Result.Skipped,
			MaxFeeExceeded: b.Result.MaxFeeExceeded,
		}
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBatchFinished), errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
