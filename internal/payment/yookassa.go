package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultYooKassaURL is the production API endpoint.
const DefaultYooKassaURL = "https://api.yookassa.ru/v3"

// YooKassaProvider implements Provider against the YooKassa v3 JSON API.
// Requests authenticate with HTTP basic auth (shop id / secret key) and
// mutations carry an Idempotence-Key header.
type YooKassaProvider struct {
	baseURL   string
	shopID    string
	secretKey string
	client    *http.Client
	logger    *slog.Logger
}

// NewYooKassaProvider creates a YooKassa gateway adapter. baseURL falls
// back to the production API when empty.
func NewYooKassaProvider(baseURL, shopID, secretKey string, logger *slog.Logger) (*YooKassaProvider, error) {
	if shopID == "" || secretKey == "" {
		return nil, ErrMissingCredentials
	}
	if baseURL == "" {
		baseURL = DefaultYooKassaURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &YooKassaProvider{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		shopID:    shopID,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}, nil
}

type yooAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type yooPayment struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	Amount       yooAmount        `json:"amount"`
	Confirmation *yooConfirmation `json:"confirmation,omitempty"`
}

type yooError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// OpenPayment creates a redirect-confirmation payment with automatic
// capture.
func (p *YooKassaProvider) OpenPayment(ctx context.Context, params OpenPaymentParams) (*Payment, error) {
	body := map[string]any{
		"amount": yooAmount{
			Value:    formatYooAmount(params.AmountMinor),
			Currency: "RUB",
		},
		"capture": true,
		"confirmation": yooConfirmation{
			Type:      "redirect",
			ReturnURL: params.ReturnURL,
		},
		"description": params.Description,
		"metadata": map[string]string{
			"order_number": params.OrderNumber,
		},
	}

	var pay yooPayment
	if _, err := p.request(ctx, http.MethodPost, "/payments", body, &pay); err != nil {
		return nil, err
	}
	if pay.ID == "" || pay.Confirmation == nil || pay.Confirmation.ConfirmationURL == "" {
		return nil, Unavailable("payment created without confirmation url", nil)
	}

	return &Payment{
		ProviderOrderID: pay.ID,
		RedirectURL:     pay.Confirmation.ConfirmationURL,
	}, nil
}

// QueryPayment fetches the payment and maps the lifecycle status onto
// the normalized set.
func (p *YooKassaProvider) QueryPayment(ctx context.Context, providerOrderID string) (*State, error) {
	var pay yooPayment
	raw, err := p.request(ctx, http.MethodGet, "/payments/"+providerOrderID, nil, &pay)
	if err != nil {
		return nil, err
	}

	minor, err := parseYooAmount(pay.Amount.Value)
	if err != nil {
		return nil, Unavailable("unparseable amount in payment", err)
	}

	return &State{
		Status:      mapYooKassaStatus(pay.Status),
		AmountMinor: minor,
		Raw:         raw,
	}, nil
}

// RefundPayment creates a refund. YooKassa requires an explicit amount,
// so a full refund (amountMinor == 0) first queries the payment for its
// captured amount.
func (p *YooKassaProvider) RefundPayment(ctx context.Context, providerOrderID string, amountMinor int64) error {
	if amountMinor == 0 {
		state, err := p.QueryPayment(ctx, providerOrderID)
		if err != nil {
			return err
		}
		amountMinor = state.AmountMinor
	}

	body := map[string]any{
		"payment_id": providerOrderID,
		"amount": yooAmount{
			Value:    formatYooAmount(amountMinor),
			Currency: "RUB",
		},
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if _, err := p.request(ctx, http.MethodPost, "/refunds", body, &out); err != nil {
		return err
	}
	if out.Status == "canceled" {
		return Rejected("refund was canceled by the gateway", "")
	}
	return nil
}

func (p *YooKassaProvider) request(ctx context.Context, method, path string, body any, out any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, Unavailable("failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, Unavailable("failed to build request", err)
	}
	req.SetBasicAuth(p.shopID, p.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotence-Key", uuid.NewString())
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Unavailable(method+" "+path+" request failed", err)
	}
	defer resp.Body.Close()

	p.logger.Debug("yookassa request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Unavailable("failed to read response body", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, Unavailable(fmt.Sprintf("%s returned HTTP %d", path, resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPaymentNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		var apiErr yooError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Description != "" {
			return nil, Rejected(apiErr.Description, apiErr.Code)
		}
		return nil, Rejected(fmt.Sprintf("%s returned HTTP %d", path, resp.StatusCode), "")
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, Unavailable("failed to decode response", err)
	}
	return raw, nil
}

// mapYooKassaStatus converts the payment lifecycle status:
// pending, waiting_for_capture, succeeded, canceled.
func mapYooKassaStatus(status string) RemoteStatus {
	switch status {
	case "pending":
		return StatusCreated
	case "waiting_for_capture":
		return StatusPreauth
	case "succeeded":
		return StatusPaid
	case "canceled":
		return StatusCanceled
	default:
		return StatusUnknown
	}
}

// formatYooAmount renders minor units as the API's decimal string,
// e.g. 25050 -> "250.50".
func formatYooAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// parseYooAmount converts the API's decimal string back to minor units.
func parseYooAmount(value string) (int64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return MinorUnits(f), nil
}
