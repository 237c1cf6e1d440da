package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/droplink-app/droplink-service/internal/configuration"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeService wraps the payment provider. The API client is constructed
// once and injected; no package-level key.
type StripeService struct {
	api            *client.API
	webhookSecret  string
	proPriceID     string
	linkPriceCents int64
	currency       string
	baseURL        string
}

func NewStripeService(cfg configuration.StripeConfig, baseURL string) *StripeService {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeService{
		api:            api,
		webhookSecret:  cfg.WebhookSecret,
		proPriceID:     cfg.ProPriceID,
		linkPriceCents: cfg.LinkPriceCents,
		currency:       cfg.Currency,
		baseURL:        strings.TrimRight(baseURL, "/"),
	}
}

// Webhook payload shapes. Decoded from the verified envelope only; the
// reconciler re-fetches anything authoritative.
type checkoutSessionPayload struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

type invoicePayload struct {
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

type subscriptionPayload struct {
	ID string `json:"id"`
}

// ParseEvent verifies the provider signature before the body is treated as
// trusted data, then decodes it once into the typed union. A decode failure
// on a verified body is a data-shape problem the provider cannot fix by
// retrying, so the event comes back as ignored rather than as an error.
func (s *StripeService) ParseEvent(payload []byte, sigHeader string) (*ProviderEvent, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return nil, ErrBadSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	ev := &ProviderEvent{ID: event.ID, Type: string(event.Type)}

	switch event.Type {
	case "checkout.session.completed":
		var cs checkoutSessionPayload
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			log.Printf("[Stripe] event %s: undecodable checkout session: %v", event.ID, err)
			return ev, nil
		}
		email := cs.CustomerEmail
		if email == "" {
			email = cs.CustomerDetails.Email
		}
		ev.Checkout = &CheckoutPayload{
			SessionID:      cs.ID,
			Mode:           cs.Mode,
			SubscriptionID: cs.Subscription,
			CustomerEmail:  email,
			Metadata:       cs.Metadata,
		}
	case "invoice.paid":
		var inv invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			log.Printf("[Stripe] event %s: undecodable invoice: %v", event.ID, err)
			return ev, nil
		}
		subID := inv.Subscription
		if subID == "" {
			subID = inv.Parent.SubscriptionDetails.Subscription
		}
		ev.Invoice = &InvoicePayload{SubscriptionID: subID}
	case "customer.subscription.updated", "customer.subscription.deleted":
		var sp subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sp); err != nil {
			log.Printf("[Stripe] event %s: undecodable subscription: %v", event.ID, err)
			return ev, nil
		}
		ev.Subscription = &SubscriptionPayload{SubscriptionID: sp.ID}
	}

	return ev, nil
}

func (s *StripeService) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		if isMissing(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch checkout session %s: %w", id, err)
	}

	cs := &CheckoutSession{
		ID:            sess.ID,
		Mode:          string(sess.Mode),
		Paid:          sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		CustomerEmail: sess.CustomerEmail,
		Metadata:      sess.Metadata,
	}
	if sess.Subscription != nil {
		cs.SubscriptionID = sess.Subscription.ID
	}
	if sess.Customer != nil {
		cs.CustomerID = sess.Customer.ID
	}
	if cs.CustomerEmail == "" && sess.CustomerDetails != nil {
		cs.CustomerEmail = sess.CustomerDetails.Email
	}
	if sess.PaymentIntent != nil {
		cs.PaymentIntentMetadata = sess.PaymentIntent.Metadata
	}
	return cs, nil
}

func (s *StripeService) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := s.api.Subscriptions.Get(id, params)
	if err != nil {
		if isMissing(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch subscription %s: %w", id, err)
	}

	ps := &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		ps.CustomerID = sub.Customer.ID
	}
	if end := subscriptionPeriodEnd(sub); !end.IsZero() {
		ps.CurrentPeriodEnd = &end
	}
	return ps, nil
}

// subscriptionPeriodEnd reads the period end from the subscription items,
// where the current API reports it.
func subscriptionPeriodEnd(sub *stripe.Subscription) time.Time {
	if sub.Items == nil {
		return time.Time{}
	}
	var end int64
	for _, item := range sub.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

// EnsureCustomer returns a customer id that resolves upstream. A stored id
// that no longer exists is replaced rather than surfaced as a failure.
func (s *StripeService) EnsureCustomer(ctx context.Context, userID, storedCustomerID string) (string, error) {
	if storedCustomerID != "" {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		cust, err := s.api.Customers.Get(storedCustomerID, params)
		if err == nil && !cust.Deleted {
			return storedCustomerID, nil
		}
		if err != nil && !isMissing(err) {
			return "", fmt.Errorf("verify customer %s: %w", storedCustomerID, err)
		}
		log.Printf("[Stripe] customer %s no longer resolves, creating replacement for user %s", storedCustomerID, userID)
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	cust, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cust.ID, nil
}

func (s *StripeService) NewLinkCheckout(ctx context.Context, code string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.baseURL + "/claim?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.baseURL + "/l/" + code),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				UnitAmount: stripe.Int64(s.linkPriceCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("File download " + code),
				},
			},
		}},
		// Mirror the code onto the payment intent so the webhook can still
		// resolve it when session metadata propagation lags.
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"code": code},
		},
	}
	params.Context = ctx
	params.AddMetadata("code", code)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create link checkout: %w", err)
	}
	return sess.URL, nil
}

func (s *StripeService) NewProCheckout(ctx context.Context, userID, customerID string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(s.baseURL + "/account?upgraded=1"),
		CancelURL:  stripe.String(s.baseURL + "/account"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(s.proPriceID),
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create pro checkout: %w", err)
	}
	return sess.URL, nil
}

func (s *StripeService) NewPortalSession(ctx context.Context, customerID string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.baseURL + "/account"),
	}
	params.Context = ctx

	sess, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

func isMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}
