package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	apperrors "github.com/articurated/orderflow/pkg/errors"
	"github.com/articurated/orderflow/pkg/httpclient"
)

// Gateway calls the external payment provider to issue refunds. All calls go
// through a circuit breaker so a degraded provider sheds load quickly instead
// of tying up refund workers.
type Gateway struct {
	http    *httpclient.CircuitBreakerClient
	baseURL string
	logger  *slog.Logger
}

// NewGateway creates a payment gateway client for the given base URL.
func NewGateway(client *httpclient.CircuitBreakerClient, baseURL string, logger *slog.Logger) *Gateway {
	return &Gateway{
		http:    client,
		baseURL: baseURL,
		logger:  logger,
	}
}

// RefundRequest is the payload sent to the provider's refund endpoint.
type RefundRequest struct {
	ReturnRequestID string `json:"return_request_id"`
	OrderID         string `json:"order_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// RefundResult is the provider's response for an accepted refund.
type RefundResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// Refund issues a refund with the provider. Provider rejections (4xx) come
// back as PAYMENT_ERROR and are permanent; connectivity failures and open
// circuits come back as RETRYABLE_ERROR so the job system retries them.
func (g *Gateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal refund request: %w", err)
	}

	url := g.baseURL + "/v1/refunds"
	// The breaker turns 5xx responses, network failures, and an open circuit
	// into errors; all of those are transient from the worker's perspective.
	resp, err := g.http.Post(ctx, url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Retryable("payment provider request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		parseErr := httpclient.ParseResponseError(resp, "payment-gateway")
		if httpclient.IsClientError(resp.StatusCode) {
			return nil, apperrors.PaymentFailed(parseErr.Error())
		}
		return nil, apperrors.Retryable(
			fmt.Sprintf("payment provider returned status %d", resp.StatusCode), parseErr)
	}

	var result RefundResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode refund response: %w", err)
	}
	if result.TransactionID == "" {
		return nil, apperrors.PaymentFailed("payment provider returned no transaction id")
	}

	g.logger.InfoContext(ctx, "refund issued",
		slog.String("return_request_id", req.ReturnRequestID),
		slog.String("transaction_id", result.TransactionID),
		slog.Int64("amount", req.Amount),
	)

	return &result, nil
}
