package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// HTTPClient submits transactions to a ledger gateway over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient constructs a client for the gateway at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SubmitRequest is the gateway request body.
type SubmitRequest struct {
	TransactionID   string    `json:"transactionId"`
	Topic           string    `json:"topic"`
	IdempotencyKey  string    `json:"idempotencyKey"`
	Message         []byte    `json:"message"`
	ValidStart      time.Time `json:"validStart"`
	ValidDurationMs int64     `json:"validDurationMs"`
}

// SubmitResponse is the gateway success body.
type SubmitResponse struct {
	TransactionID  string    `json:"transactionId"`
	SequenceNumber uint64    `json:"sequenceNumber"`
	CommittedAt    time.Time `json:"committedAt"`
}

// ErrorResponse is the gateway failure body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Execute implements Client.
func (c *HTTPClient) Execute(ctx context.Context, tx *Transaction) (models.LedgerReceipt, error) {
	if c == nil {
		return models.LedgerReceipt{}, fmt.Errorf("ledger client not initialised")
	}
	if c.baseURL == "" {
		return models.LedgerReceipt{}, fmt.Errorf("ledger base URL not configured")
	}

	payload := SubmitRequest{
		TransactionID:   tx.ID,
		Topic:           tx.Topic,
		IdempotencyKey:  tx.IdempotencyKey,
		Message:         tx.Message,
		ValidStart:      tx.ValidStart,
		ValidDurationMs: tx.ValidDuration.Milliseconds(),
	}
	var response SubmitResponse
	if err := c.postJSON(ctx, c.baseURL+"/v1/transactions", payload, &response); err != nil {
		return models.LedgerReceipt{}, err
	}
	return models.LedgerReceipt{
		TransactionID:  response.TransactionID,
		SequenceNumber: response.SequenceNumber,
		CommittedAt:    response.CommittedAt,
	}, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &failure)
		if failure.Code == ExpiredCode {
			return fmt.Errorf("ledger gateway: %s: %w", failure.Message, ErrTransactionExpired)
		}
		if failure.Code != "" {
			return fmt.Errorf("ledger gateway returned %s: %s: %s", resp.Status, failure.Code, failure.Message)
		}
		return fmt.Errorf("ledger gateway returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
