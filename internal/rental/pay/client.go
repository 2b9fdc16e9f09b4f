// Package pay talks to the payment provider on the paid, canceled and
// paid_out transitions. Amounts are opaque to the reservation core.
package pay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rentalBack/internal/rental/models"
)

// Operation names a provider call.
type Operation string

const (
	OpCapture Operation = "capture"
	OpRefund  Operation = "refund"
	OpPayout  Operation = "payout"
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	Op         Operation
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pay: %s: unexpected status %s", e.Op, e.Status)
}

// Client is a minimal payment provider client.
type Client struct {
	httpClient *http.Client
	merchantID string
	secret     string
	baseURL    string
}

// NewClient constructs a Client.
func NewClient(httpClient *http.Client, baseURL, merchantID, secret string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		merchantID: merchantID,
		secret:     secret,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type request struct {
	MerchantID    string        `json:"merchant_id"`
	ReservationID string        `json:"reservation_id"`
	PaymentRef    string        `json:"payment_ref,omitempty"`
	PayerUID      string        `json:"payer_uid,omitempty"`
	PayeeUID      string        `json:"payee_uid,omitempty"`
	Amount        models.Amount `json:"amount"`
	Method        string        `json:"method,omitempty"`
}

// Capture charges the renter.
func (c *Client) Capture(ctx context.Context, r models.Reservation) error {
	return c.call(ctx, OpCapture, r, request{PayerUID: r.RenterUID, PayeeUID: r.ItemOwnerUID})
}

// Refund returns the captured amount to the renter.
func (c *Client) Refund(ctx context.Context, r models.Reservation) error {
	return c.call(ctx, OpRefund, r, request{PayeeUID: r.RenterUID})
}

// Payout releases the held amount to the owner.
func (c *Client) Payout(ctx context.Context, r models.Reservation) error {
	return c.call(ctx, OpPayout, r, request{PayeeUID: r.ItemOwnerUID})
}

// idempotencyKey scopes provider calls to one capture attempt, so a
// losing attempt's refund cannot touch the winning charge.
func idempotencyKey(op Operation, r models.Reservation) string {
	if r.PaymentRef == "" {
		return string(op) + ":" + r.ID
	}
	return string(op) + ":" + r.ID + ":" + r.PaymentRef
}

func (c *Client) call(ctx context.Context, op Operation, r models.Reservation, req request) error {
	if r.IsFree || r.Total.IsZero() {
		return nil
	}
	req.MerchantID = c.merchantID
	req.ReservationID = r.ID
	req.PaymentRef = r.PaymentRef
	req.Amount = r.Total
	if r.PaymentMethodType != nil {
		req.Method = *r.PaymentMethodType
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+string(op), bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Signature", Sign(body, c.secret))
	httpReq.Header.Set("Idempotency-Key", idempotencyKey(op, r))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if sig := resp.Header.Get("X-Signature"); sig != "" && !VerifyHMAC(raw, sig, c.secret) {
		return fmt.Errorf("pay: %s: invalid response signature", op)
	}
	var apiResp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return err
	}
	if !apiResp.Success {
		return fmt.Errorf("pay: %s: unsuccessful response: %s", op, apiResp.Message)
	}
	return nil
}
