package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/advogo/billingcore/pkg/errorx"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider over the Paddle SDK. Checkouts are
// created as catalog-price transactions carrying the correlation metadata as
// custom data, which Paddle echoes back on every webhook for the object.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a Paddle provider for the configured environment.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// CreateCheckoutSession opens a hosted checkout for a catalog price.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.PriceRef == "" {
		return nil, ErrMissingPriceRef
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceRef,
		Quantity: 1,
	})

	custom := make(paddle.CustomData, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		custom[k] = v
	}
	if req.CustomerEmail != "" {
		custom["email"] = req.CustomerEmail
	}

	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, errorx.NewUpstream("paddle.create_transaction", err)
	}

	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &Checkout{
		URL:       *tx.Checkout.URL,
		SessionID: tx.ID,
		// Paddle checkout links expire after 24 hours.
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// webhookEnvelope is the subset of Paddle's webhook payload the core needs.
type webhookEnvelope struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       struct {
		ID                   string         `json:"id"`
		Status               string         `json:"status"`
		SubscriptionID       string         `json:"subscription_id"`
		CustomData           map[string]any `json:"custom_data"`
		CurrentBillingPeriod *struct {
			EndsAt time.Time `json:"ends_at"`
		} `json:"current_billing_period"`
	} `json:"data"`
}

// DecodeWebhook verifies the Paddle signature and normalizes the payload.
// Signature mismatches return a SignatureError and must never be retried.
func (p *PaddleProvider) DecodeWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, errorx.NewUpstream("paddle.verify_webhook", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errorx.NewSignature(err)
	}
	if !ok {
		return nil, errorx.NewSignature(fmt.Errorf("paddle signature mismatch"))
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode paddle webhook: %w", err)
	}

	ev := &Event{
		Type:       normalizeEventType(env.EventType),
		ObjectID:   env.Data.ID,
		Status:     env.Data.Status,
		Metadata:   stringifyCustomData(env.Data.CustomData),
		OccurredAt: env.OccurredAt,
	}
	if env.Data.CurrentBillingPeriod != nil {
		ev.PeriodEnd = env.Data.CurrentBillingPeriod.EndsAt
	}

	if strings.HasPrefix(env.EventType, "subscription.") {
		ev.SubscriptionID = env.Data.ID
	} else {
		ev.SubscriptionID = env.Data.SubscriptionID
	}

	return ev, nil
}

// normalizeEventType maps Paddle event names to the normalized vocabulary.
// Every subscription lifecycle event folds into subscription.updated; the
// carried status tells the state machine what actually happened.
func normalizeEventType(paddleType string) EventType {
	switch paddleType {
	case "transaction.completed":
		return EventCheckoutCompleted
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.activated", "subscription.canceled",
		"subscription.paused", "subscription.resumed", "subscription.past_due":
		return EventSubscriptionUpdated
	case "transaction.payment_failed":
		return EventInvoicePaymentFailed
	default:
		return EventType(paddleType)
	}
}

func stringifyCustomData(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
