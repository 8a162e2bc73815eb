package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/vazaro/shop/internal/domain"
)

// TelegramConfig holds bot credentials for the staff channel.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Configured reports whether the sink has enough configuration to send.
func (c TelegramConfig) Configured() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// TelegramSink posts order events to a staff chat via the Bot API.
type TelegramSink struct {
	config  TelegramConfig
	baseURL string
	client  *http.Client
}

// NewTelegramSink creates a Telegram notification sink.
func NewTelegramSink(config TelegramConfig) *TelegramSink {
	return &TelegramSink{
		config:  config,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Notify(ctx context.Context, event Event, order *domain.Order) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    s.config.ChatID,
		"text":       renderTelegram(event, order),
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sendMessage returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func renderTelegram(event Event, order *domain.Order) string {
	var b strings.Builder

	switch event {
	case EventOrderCreated:
		fmt.Fprintf(&b, "🛒 New order <b>%s</b>\n", order.OrderNumber)
	case EventPaymentConfirmed:
		fmt.Fprintf(&b, "✅ Payment confirmed for <b>%s</b>\n", order.OrderNumber)
	case EventOrderShipped:
		fmt.Fprintf(&b, "📦 Order <b>%s</b> shipped\n", order.OrderNumber)
	case EventOrderDelivered:
		fmt.Fprintf(&b, "🏠 Order <b>%s</b> delivered\n", order.OrderNumber)
	case EventOrderRefunded:
		fmt.Fprintf(&b, "↩️ Order <b>%s</b> refunded\n", order.OrderNumber)
	default:
		fmt.Fprintf(&b, "Order <b>%s</b>: %s\n", order.OrderNumber, event)
	}

	// Customer-supplied strings go through html.EscapeString: the
	// message is sent with parse_mode HTML, and an unescaped "<" in a
	// name either injects markup into the staff chat or makes the Bot
	// API reject the whole message.
	fmt.Fprintf(&b, "Customer: %s %s (%s)\n",
		html.EscapeString(order.Customer.FirstName),
		html.EscapeString(order.Customer.LastName),
		html.EscapeString(order.Customer.Phone))
	fmt.Fprintf(&b, "Shipping: %s, %s\n",
		shippingMethodName(order.Shipping.Method),
		html.EscapeString(order.Shipping.City))
	for _, item := range order.Items {
		fmt.Fprintf(&b, "• %s x%d\n", html.EscapeString(item.Name), item.Quantity)
	}
	fmt.Fprintf(&b, "Total: %.2f", order.TotalAmount)

	return b.String()
}

func shippingMethodName(method domain.ShippingMethod) string {
	switch method {
	case domain.ShippingMethodPickupPoint:
		return "Pickup point"
	case domain.ShippingMethodCourier:
		return "Courier"
	case domain.ShippingMethodPost:
		return "Post"
	default:
		return string(method)
	}
}
