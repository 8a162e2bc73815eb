package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSberbankURL is the acquiring sandbox endpoint.
const DefaultSberbankURL = "https://3dsec.sberbank.ru"

// SberbankProvider implements Provider against the Sberbank acquiring
// REST API (register.do / getOrderStatusExtended.do / refund.do).
// Credentials travel in the form body; amounts are kopeks.
type SberbankProvider struct {
	baseURL  string
	login    string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// NewSberbankProvider creates a Sberbank gateway adapter. baseURL falls
// back to the sandbox when empty.
func NewSberbankProvider(baseURL, login, password string, logger *slog.Logger) (*SberbankProvider, error) {
	if login == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	if baseURL == "" {
		baseURL = DefaultSberbankURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SberbankProvider{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		login:    login,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}, nil
}

// sberCode tolerates the API returning error codes as either a JSON
// string or a number.
type sberCode string

func (c *sberCode) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	*c = sberCode(s)
	return nil
}

func (c sberCode) ok() bool {
	return c == "" || c == "0"
}

type sberRegisterResponse struct {
	OrderID      string   `json:"orderId"`
	FormURL      string   `json:"formUrl"`
	ErrorCode    sberCode `json:"errorCode"`
	ErrorMessage string   `json:"errorMessage"`
}

type sberStatusResponse struct {
	OrderStatus  int      `json:"orderStatus"`
	ActionCode   int      `json:"actionCode"`
	Amount       int64    `json:"amount"`
	Currency     string   `json:"currency"`
	ErrorCode    sberCode `json:"errorCode"`
	ErrorMessage string   `json:"errorMessage"`
}

type sberRefundResponse struct {
	ErrorCode    sberCode `json:"errorCode"`
	ErrorMessage string   `json:"errorMessage"`
}

// OpenPayment registers the payment (register.do) and returns the
// gateway order id plus the hosted form URL.
func (p *SberbankProvider) OpenPayment(ctx context.Context, params OpenPaymentParams) (*Payment, error) {
	form := url.Values{
		"orderNumber": {params.OrderNumber},
		"amount":      {strconv.FormatInt(params.AmountMinor, 10)},
		"returnUrl":   {params.ReturnURL},
		"failUrl":     {params.ReturnURL},
		"description": {params.Description},
		"language":    {"ru"},
	}

	var resp sberRegisterResponse
	raw, err := p.request(ctx, "register.do", form, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ErrorCode.ok() {
		return nil, Rejected(resp.ErrorMessage, string(resp.ErrorCode))
	}
	if resp.OrderID == "" || resp.FormURL == "" {
		return nil, Unavailable("register.do returned no order id", fmt.Errorf("body: %s", truncate(raw, 256)))
	}

	return &Payment{
		ProviderOrderID: resp.OrderID,
		RedirectURL:     resp.FormURL,
	}, nil
}

// QueryPayment fetches the extended order status and maps the numeric
// gateway status onto the normalized set.
func (p *SberbankProvider) QueryPayment(ctx context.Context, providerOrderID string) (*State, error) {
	form := url.Values{"orderId": {providerOrderID}}

	var resp sberStatusResponse
	raw, err := p.request(ctx, "getOrderStatusExtended.do", form, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ErrorCode.ok() {
		// errorCode 6 means the gateway does not know this order.
		if resp.ErrorCode == "6" {
			return nil, ErrPaymentNotFound
		}
		return nil, Rejected(resp.ErrorMessage, string(resp.ErrorCode))
	}

	return &State{
		Status:      mapSberbankStatus(resp.OrderStatus),
		AmountMinor: resp.Amount,
		Raw:         raw,
	}, nil
}

// RefundPayment issues refund.do. amountMinor == 0 requests a full
// refund per gateway semantics.
func (p *SberbankProvider) RefundPayment(ctx context.Context, providerOrderID string, amountMinor int64) error {
	form := url.Values{"orderId": {providerOrderID}}
	if amountMinor > 0 {
		form.Set("amount", strconv.FormatInt(amountMinor, 10))
	}

	var resp sberRefundResponse
	if _, err := p.request(ctx, "refund.do", form, &resp); err != nil {
		return err
	}
	if !resp.ErrorCode.ok() {
		return Rejected(resp.ErrorMessage, string(resp.ErrorCode))
	}
	return nil
}

// request posts a form to the acquiring API and decodes the JSON body.
// Transport failures and 5xx responses come back as Unavailable.
func (p *SberbankProvider) request(ctx context.Context, endpoint string, form url.Values, out any) (json.RawMessage, error) {
	form.Set("userName", p.login)
	form.Set("password", p.password)

	reqURL := p.baseURL + "/payment/rest/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, Unavailable("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Unavailable(endpoint+" request failed", err)
	}
	defer resp.Body.Close()

	p.logger.Debug("sberbank request",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, Unavailable(fmt.Sprintf("%s returned HTTP %d", endpoint, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Unavailable("failed to read response body", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, Unavailable("failed to decode response", err)
	}

	return body, nil
}

// mapSberbankStatus converts the gateway's numeric order status:
// 0=created, 1=preauthorized, 2=paid, 3=canceled, 4=refunded, 6=rejected.
func mapSberbankStatus(code int) RemoteStatus {
	switch code {
	case 0:
		return StatusCreated
	case 1:
		return StatusPreauth
	case 2:
		return StatusPaid
	case 3:
		return StatusCanceled
	case 4:
		return StatusRefunded
	case 6:
		return StatusRejected
	default:
		return StatusUnknown
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
