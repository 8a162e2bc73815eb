package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/vazaro/shop/internal/domain"
)

// EmailConfig holds SMTP connection parameters.
type EmailConfig struct {
	Host     string
	Port     int
	Username string // optional - some servers allow unauthenticated relay
	Password string
	From     string
	AdminTo  string // staff copy of each notification, optional
}

// Configured reports whether the sink has enough configuration to send.
func (c EmailConfig) Configured() bool {
	return c.Host != "" && c.From != ""
}

// EmailSink sends order notifications over SMTP using go-mail. The
// customer receives a message on every event; the admin address, when
// configured, gets a copy.
type EmailSink struct {
	config EmailConfig
}

// NewEmailSink creates an SMTP-backed notification sink.
func NewEmailSink(config EmailConfig) *EmailSink {
	return &EmailSink{config: config}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Notify(ctx context.Context, event Event, order *domain.Order) error {
	subject, body := renderEmail(event, order)

	if err := s.send(ctx, order.Customer.Email, subject, body); err != nil {
		return fmt.Errorf("customer email: %w", err)
	}

	if s.config.AdminTo != "" {
		adminSubject := fmt.Sprintf("[%s] %s", order.OrderNumber, subject)
		if err := s.send(ctx, s.config.AdminTo, adminSubject, body); err != nil {
			return fmt.Errorf("admin email: %w", err)
		}
	}
	return nil
}

func (s *EmailSink) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.config.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(s.config.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// clientOptions picks the TLS mode from the port: 465 implicit TLS, 587
// mandatory STARTTLS, anything else opportunistic.
func (s *EmailSink) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTimeout(30 * time.Second),
	}

	switch s.config.Port {
	case 465:
		opts = append(opts, mail.WithSSL())
	case 587:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if s.config.Username != "" && s.config.Password != "" {
		opts = append(opts,
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}

	return opts
}

func renderEmail(event Event, order *domain.Order) (subject, body string) {
	switch event {
	case EventOrderCreated:
		subject = fmt.Sprintf("Order %s received", order.OrderNumber)
	case EventPaymentConfirmed:
		subject = fmt.Sprintf("Payment for order %s confirmed", order.OrderNumber)
	case EventOrderShipped:
		subject = fmt.Sprintf("Order %s has shipped", order.OrderNumber)
	case EventOrderDelivered:
		subject = fmt.Sprintf("Order %s was delivered", order.OrderNumber)
	case EventOrderRefunded:
		subject = fmt.Sprintf("Order %s was refunded", order.OrderNumber)
	default:
		subject = fmt.Sprintf("Order %s update", order.OrderNumber)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", order.Customer.FirstName)
	fmt.Fprintf(&b, "%s\n\n", subject)
	fmt.Fprintf(&b, "Order number: %s\n", order.OrderNumber)
	fmt.Fprintf(&b, "Status: %s / payment %s\n\n", order.OrderStatus, order.PaymentStatus)

	for _, item := range order.Items {
		fmt.Fprintf(&b, "  %s x%d - %.2f\n", item.Name, item.Quantity, item.Price)
	}
	if order.Shipping.Cost > 0 {
		fmt.Fprintf(&b, "  Shipping (%s) - %.2f\n", order.Shipping.Method, order.Shipping.Cost)
	}
	fmt.Fprintf(&b, "\nTotal: %.2f\n", order.TotalAmount)

	return subject, b.String()
}
