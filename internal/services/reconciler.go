package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/droplink-app/droplink-service/internal/models"
)

// internalSessionPrefix marks a finalize call that never went through the
// provider: a pro subscriber unlocking their own link.
const internalSessionPrefix = "pro_"

// Reconciler turns provider events and finalize calls into at most one
// entitlement mutation each.
type Reconciler struct {
	store    Store
	provider PaymentProvider
	notifier Notifier
	baseURL  string
}

func NewReconciler(store Store, provider PaymentProvider, notifier Notifier, baseURL string) *Reconciler {
	return &Reconciler{
		store:    store,
		provider: provider,
		notifier: notifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

type WebhookResult struct {
	EventID   string
	EventType string
	Duplicate bool
}

type FinalizeResult struct {
	Paid bool   `json:"paid"`
	Code string `json:"code,omitempty"`
}

// HandleWebhook verifies, dedupes and applies one provider event.
//
// The ledger insert happens before the entitlement mutation: a crash in
// between loses the update (reconciled manually) instead of double-crediting
// a payment on redelivery.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error) {
	event, err := r.provider.ParseEvent(payload, sigHeader)
	if err != nil {
		return nil, err
	}

	res := &WebhookResult{EventID: event.ID, EventType: event.Type}

	inserted, err := r.store.InsertProcessedEvent(ctx, event.ID, event.Type)
	if err != nil {
		return nil, fmt.Errorf("record event %s: %w", event.ID, err)
	}
	if !inserted {
		log.Printf("[Webhook] event %s (%s) already processed", event.ID, event.Type)
		res.Duplicate = true
		return res, nil
	}

	switch event.Type {
	case "checkout.session.completed":
		err = r.handleCheckoutCompleted(ctx, event.Checkout)
	case "invoice.paid":
		err = r.handleInvoicePaid(ctx, event.Invoice)
	case "customer.subscription.updated":
		err = r.handleSubscriptionUpdated(ctx, event.Subscription)
	case "customer.subscription.deleted":
		err = r.handleSubscriptionDeleted(ctx, event.Subscription)
	case "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
		// Reserved for delayed payment methods.
		log.Printf("[Webhook] %s for event %s, no state change", event.Type, event.ID)
	default:
		log.Printf("[Webhook] ignoring event %s of type %s", event.ID, event.Type)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, c *CheckoutPayload) error {
	if c == nil {
		return nil
	}
	if c.Mode == "subscription" || c.SubscriptionID != "" || c.Metadata["user_id"] != "" {
		return r.completeSubscriptionCheckout(ctx, c)
	}
	return r.completeLinkCheckout(ctx, c)
}

func (r *Reconciler) completeLinkCheckout(ctx context.Context, c *CheckoutPayload) error {
	code := c.Metadata["code"]
	if code == "" {
		// Session metadata can lag; the payment intent carries a copy.
		sess, err := r.provider.GetCheckoutSession(ctx, c.SessionID)
		if err != nil {
			return fmt.Errorf("resolve code for session %s: %w", c.SessionID, err)
		}
		code = sess.Metadata["code"]
		if code == "" {
			code = sess.PaymentIntentMetadata["code"]
		}
	}
	if code == "" {
		// Data-shape problem the provider cannot fix by retrying; ack it.
		log.Printf("[Webhook] session %s has no resolvable code, acknowledging", c.SessionID)
		return nil
	}

	updated, err := r.store.MarkPaid(ctx, code)
	if err != nil {
		return fmt.Errorf("mark %s paid: %w", code, err)
	}
	if !updated {
		log.Printf("[Webhook] link %s missing or deleted, payment not applied", code)
		return nil
	}

	r.notifier.Send(EmailJob{
		Kind:        EmailLinkPaid,
		To:          c.CustomerEmail,
		Code:        code,
		DownloadURL: r.baseURL + "/l/" + code,
	})
	return nil
}

func (r *Reconciler) completeSubscriptionCheckout(ctx context.Context, c *CheckoutPayload) error {
	userID := c.Metadata["user_id"]
	if userID == "" {
		// A subscription checkout is always initiated with user context.
		log.Printf("[Webhook] subscription session %s missing user_id, acknowledging", c.SessionID)
		return nil
	}

	subID := c.SubscriptionID
	if subID == "" {
		sess, err := r.provider.GetCheckoutSession(ctx, c.SessionID)
		if err != nil {
			return fmt.Errorf("resolve subscription for session %s: %w", c.SessionID, err)
		}
		subID = sess.SubscriptionID
	}
	if subID == "" {
		log.Printf("[Webhook] subscription session %s has no subscription id, acknowledging", c.SessionID)
		return nil
	}

	// Period end and cancellation schedule come from the live subscription,
	// not from session-level snapshots.
	provSub, err := r.provider.GetSubscription(ctx, subID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", subID, err)
	}

	sub := provSub.ToSubscription(userID)
	if err := r.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("upsert subscription for %s: %w", userID, err)
	}

	r.notifier.Send(EmailJob{
		Kind:   EmailSubscriptionActivated,
		To:     c.CustomerEmail,
		UserID: userID,
	})
	return nil
}

// handleInvoicePaid resyncs on renewal. No email: a renewal alongside
// checkout.session.completed would double up "activated" mail.
func (r *Reconciler) handleInvoicePaid(ctx context.Context, inv *InvoicePayload) error {
	if inv == nil || inv.SubscriptionID == "" {
		return nil
	}
	_, err := r.Resync(ctx, inv.SubscriptionID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("[Webhook] invoice.paid for unknown subscription %s", inv.SubscriptionID)
		return nil
	}
	return err
}

func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, p *SubscriptionPayload) error {
	if p == nil || p.SubscriptionID == "" {
		return nil
	}
	sub, err := r.Resync(ctx, p.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("[Webhook] subscription.updated for unknown subscription %s", p.SubscriptionID)
			return nil
		}
		return err
	}

	// Classified from the current flag value only; there is no diff against
	// the previously stored state.
	if sub.Entitled() {
		kind := EmailReactivated
		if sub.CancelAtPeriodEnd {
			kind = EmailCancelScheduled
		}
		r.notifier.Send(EmailJob{Kind: kind, UserID: sub.UserID})
	}
	return nil
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, p *SubscriptionPayload) error {
	if p == nil || p.SubscriptionID == "" {
		return nil
	}
	sub, err := r.Resync(ctx, p.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("[Webhook] subscription.deleted for unknown subscription %s", p.SubscriptionID)
			return nil
		}
		return err
	}
	r.notifier.Send(EmailJob{Kind: EmailSubscriptionCanceled, UserID: sub.UserID})
	return nil
}

// Resync refetches a subscription from the provider and folds status, plan,
// period end and cancellation schedule into the stored row. The same
// derivation runs on every path so plan can never stay pro with an inactive
// status.
func (r *Reconciler) Resync(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	row, err := r.store.GetSubscriptionByStripeID(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	provSub, err := r.provider.GetSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	sub := provSub.ToSubscription(row.UserID)
	if sub.StripeCustomerID == "" {
		sub.StripeCustomerID = row.StripeCustomerID
	}
	if err := r.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("upsert subscription for %s: %w", row.UserID, err)
	}
	return sub, nil
}

// Finalize handles the synchronous confirmation path after a checkout
// redirect. Idempotent by construction: re-applying an already-paid session
// repeats the same single-row upsert.
func (r *Reconciler) Finalize(ctx context.Context, sessionID, callerUserID string) (*FinalizeResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrValidation)
	}

	if code, ok := strings.CutPrefix(sessionID, internalSessionPrefix); ok {
		return r.finalizeInternal(ctx, code, callerUserID)
	}

	sess, err := r.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Paid {
		return &FinalizeResult{Paid: false}, nil
	}

	code := sess.Metadata["code"]
	if code == "" {
		code = sess.PaymentIntentMetadata["code"]
	}
	if code == "" {
		return nil, fmt.Errorf("%w: paid session %s carries no code", ErrValidation, sessionID)
	}

	updated, err := r.store.MarkPaid(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("mark %s paid: %w", code, err)
	}
	if !updated {
		if _, lookupErr := r.store.GetFileLink(ctx, code); errors.Is(lookupErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrGone
	}
	return &FinalizeResult{Paid: true, Code: code}, nil
}

// finalizeInternal is the subscriber self-service unlock. The marker used to
// be trusted outright; it now requires the authenticated creator of the link
// holding an active pro subscription.
func (r *Reconciler) finalizeInternal(ctx context.Context, code, callerUserID string) (*FinalizeResult, error) {
	if callerUserID == "" {
		return nil, ErrForbidden
	}
	link, err := r.store.GetFileLink(ctx, code)
	if err != nil {
		return nil, err
	}
	if link.DeletedAt != nil {
		return nil, ErrGone
	}
	if link.CreatedByUserID == "" || link.CreatedByUserID != callerUserID {
		return nil, ErrForbidden
	}
	sub, err := r.store.GetSubscription(ctx, callerUserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if !sub.Entitled() {
		return nil, ErrForbidden
	}

	updated, err := r.store.MarkPaid(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("mark %s paid: %w", code, err)
	}
	if !updated {
		// Soft-deleted between the lookup and the update.
		return nil, ErrGone
	}
	return &FinalizeResult{Paid: true, Code: code}, nil
}
