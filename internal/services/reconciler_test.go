package services

import (
	"context"
	"testing"
	"time"

	"github.com/droplink-app/droplink-service/internal/models"
	"github.com/stretchr/testify/require"
)

const testSig = "t=1,v1=deadbeef"

func newTestReconciler() (*Reconciler, *memStore, *fakeProvider, *fakeNotifier) {
	store := newMemStore()
	provider := newFakeProvider()
	notifier := &fakeNotifier{}
	return NewReconciler(store, provider, notifier, "https://droplink.example"), store, provider, notifier
}

func seedLink(t *testing.T, store *memStore, code string, mut func(*models.FileLink)) *models.FileLink {
	t.Helper()
	link := &models.FileLink{
		Code:      code,
		FilePath:  "links/" + code + ".bin",
		FileBytes: 1024,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if mut != nil {
		mut(link)
	}
	require.NoError(t, store.CreateFileLink(context.Background(), link))
	return link
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	r, store, _, _ := newTestReconciler()

	_, err := r.HandleWebhook(context.Background(), []byte("{}"), "")
	require.ErrorIs(t, err, ErrBadSignature)
	require.Empty(t, store.events, "no ledger entry before verification")
}

func TestWebhookCheckoutCompletedOneTime(t *testing.T) {
	r, store, provider, notifier := newTestReconciler()
	seedLink(t, store, "AB12CD34", nil)
	provider.event = &ProviderEvent{
		ID:   "evt_1",
		Type: "checkout.session.completed",
		Checkout: &CheckoutPayload{
			SessionID:     "cs_1",
			Mode:          "payment",
			CustomerEmail: "payer@example.com",
			Metadata:      map[string]string{"code": "AB12CD34"},
		},
	}

	res, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	link, err := store.GetFileLink(context.Background(), "AB12CD34")
	require.NoError(t, err)
	require.True(t, link.Paid)
	require.NotNil(t, link.PaidAt)

	require.Equal(t, []string{EmailLinkPaid}, notifier.kinds())
	require.Equal(t, "https://droplink.example/l/AB12CD34", notifier.jobs[0].DownloadURL)
}

func TestWebhookDuplicateEventAppliesOnce(t *testing.T) {
	r, store, provider, notifier := newTestReconciler()
	seedLink(t, store, "AB12CD34", nil)
	provider.event = &ProviderEvent{
		ID:   "evt_dup",
		Type: "checkout.session.completed",
		Checkout: &CheckoutPayload{
			SessionID: "cs_1",
			Mode:      "payment",
			Metadata:  map[string]string{"code": "AB12CD34"},
		},
	}

	res1, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)
	require.False(t, res1.Duplicate)

	first, err := store.GetFileLink(context.Background(), "AB12CD34")
	require.NoError(t, err)
	paidAt := *first.PaidAt

	res2, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)
	require.True(t, res2.Duplicate)

	second, err := store.GetFileLink(context.Background(), "AB12CD34")
	require.NoError(t, err)
	require.Equal(t, paidAt, *second.PaidAt, "paid_at must not move on replay")
	require.Len(t, notifier.kinds(), 1, "one email for one logical event")
}

func TestWebhookCheckoutCodeFallbackToPaymentIntent(t *testing.T) {
	r, store, provider, _ := newTestReconciler()
	seedLink(t, store, "EF56GH78", nil)
	provider.event = &ProviderEvent{
		ID:   "evt_2",
		Type: "checkout.session.completed",
		Checkout: &CheckoutPayload{
			SessionID: "cs_lagged",
			Mode:      "payment",
		},
	}
	provider.sessions["cs_lagged"] = &CheckoutSession{
		ID:                    "cs_lagged",
		Paid:                  true,
		PaymentIntentMetadata: map[string]string{"code": "EF56GH78"},
	}

	_, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)

	link, err := store.GetFileLink(context.Background(), "EF56GH78")
	require.NoError(t, err)
	require.True(t, link.Paid)
}

func TestWebhookCheckoutNoResolvableCodeIsAcked(t *testing.T) {
	r, store, provider, notifier := newTestReconciler()
	provider.event = &ProviderEvent{
		ID:   "evt_3",
		Type: "checkout.session.completed",
		Checkout: &CheckoutPayload{
			SessionID: "cs_empty",
			Mode:      "payment",
		},
	}
	provider.sessions["cs_empty"] = &CheckoutSession{ID: "cs_empty", Paid: true}

	res, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err, "data-shape problems are acknowledged, not retried")
	require.False(t, res.Duplicate)
	require.Empty(t, notifier.kinds())
	require.Contains(t, store.events, "evt_3")
}

func TestWebhookCheckoutCompletedSubscription(t *testing.T) {
	r, store, provider, notifier := newTestReconciler()
	end := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	provider.subs["sub_1"] = &ProviderSubscription{
		ID:               "sub_1",
		CustomerID:       "cus_1",
		Status:           "active",
		CurrentPeriodEnd: &end,
	}
	provider.event = &ProviderEvent{
		ID:   "evt_4",
		Type: "checkout.session.completed",
		Checkout: &CheckoutPayload{
			SessionID:      "cs_sub",
			Mode:           "subscription",
			SubscriptionID: "sub_1",
			CustomerEmail:  "owner@example.com",
			Metadata:       map[string]string{"user_id": "user-1"},
		},
	}

	_, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)

	sub, err := store.GetSubscription(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, models.PlanPro, sub.Plan)
	require.Equal(t, models.StatusActive, sub.Status)
	require.Equal(t, "cus_1", sub.StripeCustomerID)
	require.Equal(t, "sub_1", sub.StripeSubscriptionID)
	require.Equal(t, end, sub.CurrentPeriodEnd.UTC())

	require.Equal(t, []string{EmailSubscriptionActivated}, notifier.kinds())
}

func TestWebhookSubscriptionCheckoutMissingUserIsAcked(t *testing.T) {
	r, store, provider, notifier := newTestReconciler()
	provider.event = &ProviderEvent{
		ID:   "evt_5",
		Type: "checkout.session.completed",
		Checkout: &CheckoutPayload{
			SessionID:      "cs_sub",
			Mode:           "subscription",
			SubscriptionID: "sub_1",
		},
	}

	_, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)
	require.Empty(t, store.subs)
	require.Empty(t, notifier.kinds())
}

func TestWebhookInvoicePaidResyncsSilently(t *testing.T) {
	r, store, provider, notifier := newTestReconciler()
	oldEnd := time.Now().Add(-time.Hour)
	require.NoError(t, store.UpsertSubscription(context.Background(), &models.Subscription{
		UserID:               "user-1",
		Plan:                 models.PlanPro,
		Status:               models.StatusActive,
		StripeSubscriptionID: "sub_1",
		CurrentPeriodEnd:     &oldEnd,
	}))
	newEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	provider.subs["sub_1"] = &ProviderSubscription{
		ID:               "sub_1",
		Status:           "active",
		CurrentPeriodEnd: &newEnd,
	}
	provider.event = &ProviderEvent{
		ID:      "evt_6",
		Type:    "invoice.paid",
		Invoice: &InvoicePayload{SubscriptionID: "sub_1"},
	}

	_, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)

	sub, err := store.GetSubscription(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, newEnd, sub.CurrentPeriodEnd.UTC())
	require.Empty(t, notifier.kinds(), "renewal is silent")
}

func TestWebhookSubscriptionUpdatedCancelScheduled(t *testing.T) {
	r, store, provider, notifier := newTestReconciler()
	require.NoError(t, store.UpsertSubscription(context.Background(), &models.Subscription{
		UserID:               "user-1",
		Plan:                 models.PlanPro,
		Status:               models.StatusActive,
		StripeSubscriptionID: "sub_1",
	}))
	provider.subs["sub_1"] = &ProviderSubscription{
		ID:                "sub_1",
		Status:            "active",
		CancelAtPeriodEnd: true,
	}
	provider.event = &ProviderEvent{
		ID:           "evt_7",
		Type:         "customer.subscription.updated",
		Subscription: &SubscriptionPayload{SubscriptionID: "sub_1"},
	}

	_, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)

	sub, err := store.GetSubscription(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, sub.Status, "scheduled cancellation is not yet terminal")
	require.Equal(t, models.PlanPro, sub.Plan)
	require.True(t, sub.CancelAtPeriodEnd)

	require.Equal(t, []string{EmailCancelScheduled}, notifier.kinds())
}

func TestWebhookSubscriptionUpdatedPastDueRevokesPlan(t *testing.T) {
	r, store, provider, notifier := newTestReconciler()
	require.NoError(t, store.UpsertSubscription(context.Background(), &models.Subscription{
		UserID:               "user-1",
		Plan:                 models.PlanPro,
		Status:               models.StatusActive,
		StripeSubscriptionID: "sub_1",
	}))
	provider.subs["sub_1"] = &ProviderSubscription{ID: "sub_1", Status: "past_due"}
	provider.event = &ProviderEvent{
		ID:           "evt_8",
		Type:         "customer.subscription.updated",
		Subscription: &SubscriptionPayload{SubscriptionID: "sub_1"},
	}

	_, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)

	sub, err := store.GetSubscription(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPastDue, sub.Status)
	require.Equal(t, models.PlanFree, sub.Plan, "plan must never stay pro with an inactive status")
	require.Empty(t, notifier.kinds(), "no transition email for a non-active status")
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	r, store, provider, notifier := newTestReconciler()
	require.NoError(t, store.UpsertSubscription(context.Background(), &models.Subscription{
		UserID:               "user-1",
		Plan:                 models.PlanPro,
		Status:               models.StatusActive,
		StripeSubscriptionID: "sub_1",
	}))
	provider.subs["sub_1"] = &ProviderSubscription{ID: "sub_1", Status: "canceled"}
	provider.event = &ProviderEvent{
		ID:           "evt_9",
		Type:         "customer.subscription.deleted",
		Subscription: &SubscriptionPayload{SubscriptionID: "sub_1"},
	}

	_, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)

	sub, err := store.GetSubscription(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCanceled, sub.Status)
	require.Equal(t, models.PlanFree, sub.Plan)
	require.Equal(t, []string{EmailSubscriptionCanceled}, notifier.kinds())
}

func TestWebhookUnknownTypeIsAcked(t *testing.T) {
	r, store, provider, _ := newTestReconciler()
	provider.event = &ProviderEvent{ID: "evt_10", Type: "charge.refunded"}

	res, err := r.HandleWebhook(context.Background(), []byte("{}"), testSig)
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Contains(t, store.events, "evt_10")
}

func TestFinalizePaidSession(t *testing.T) {
	r, store, provider, _ := newTestReconciler()
	seedLink(t, store, "AB12CD34", nil)
	provider.sessions["cs_paid"] = &CheckoutSession{
		ID:       "cs_paid",
		Paid:     true,
		Metadata: map[string]string{"code": "AB12CD34"},
	}

	res, err := r.Finalize(context.Background(), "cs_paid", "")
	require.NoError(t, err)
	require.True(t, res.Paid)
	require.Equal(t, "AB12CD34", res.Code)

	link, err := store.GetFileLink(context.Background(), "AB12CD34")
	require.NoError(t, err)
	require.True(t, link.Paid)
}

func TestFinalizeUnpaidSession(t *testing.T) {
	r, _, provider, _ := newTestReconciler()
	provider.sessions["cs_open"] = &CheckoutSession{ID: "cs_open", Paid: false}

	res, err := r.Finalize(context.Background(), "cs_open", "")
	require.NoError(t, err, "an unpaid session is an expected state, not an error")
	require.False(t, res.Paid)
}

func TestFinalizeRepeatedCallsAreIdempotent(t *testing.T) {
	r, store, provider, _ := newTestReconciler()
	seedLink(t, store, "AB12CD34", nil)
	provider.sessions["cs_paid"] = &CheckoutSession{
		ID:       "cs_paid",
		Paid:     true,
		Metadata: map[string]string{"code": "AB12CD34"},
	}

	_, err := r.Finalize(context.Background(), "cs_paid", "")
	require.NoError(t, err)
	link, err := store.GetFileLink(context.Background(), "AB12CD34")
	require.NoError(t, err)
	paidAt := *link.PaidAt

	res, err := r.Finalize(context.Background(), "cs_paid", "")
	require.NoError(t, err)
	require.True(t, res.Paid)

	link, err = store.GetFileLink(context.Background(), "AB12CD34")
	require.NoError(t, err)
	require.Equal(t, paidAt, *link.PaidAt)
}

func TestFinalizeProBypassRequiresOwner(t *testing.T) {
	r, store, _, _ := newTestReconciler()
	seedLink(t, store, "AB12CD34", func(l *models.FileLink) {
		l.CreatedByUserID = "owner-1"
	})
	require.NoError(t, store.UpsertSubscription(context.Background(), &models.Subscription{
		UserID: "owner-1",
		Plan:   models.PlanPro,
		Status: models.StatusActive,
	}))

	_, err := r.Finalize(context.Background(), "pro_AB12CD34", "")
	require.ErrorIs(t, err, ErrForbidden, "anonymous bypass must be rejected")

	_, err = r.Finalize(context.Background(), "pro_AB12CD34", "someone-else")
	require.ErrorIs(t, err, ErrForbidden, "only the creator may self-unlock")

	res, err := r.Finalize(context.Background(), "pro_AB12CD34", "owner-1")
	require.NoError(t, err)
	require.True(t, res.Paid)
	require.Equal(t, "AB12CD34", res.Code)

	link, err := store.GetFileLink(context.Background(), "AB12CD34")
	require.NoError(t, err)
	require.True(t, link.Paid)
}

// staleLinkStore serves reads that do not yet see a concurrent soft delete,
// while the conditional update underneath does.
type staleLinkStore struct {
	*memStore
}

func (s *staleLinkStore) GetFileLink(ctx context.Context, code string) (*models.FileLink, error) {
	link, err := s.memStore.GetFileLink(ctx, code)
	if err != nil {
		return nil, err
	}
	link.DeletedAt = nil
	return link, nil
}

func TestFinalizeProBypassLosesRaceWithDelete(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(&staleLinkStore{store}, newFakeProvider(), &fakeNotifier{}, "https://droplink.example")
	seedLink(t, store, "AB12CD34", func(l *models.FileLink) {
		l.CreatedByUserID = "owner-1"
	})
	require.NoError(t, store.UpsertSubscription(context.Background(), &models.Subscription{
		UserID: "owner-1",
		Plan:   models.PlanPro,
		Status: models.StatusActive,
	}))

	won, err := store.SoftDeleteFileLink(context.Background(), "AB12CD34", "creator_deleted")
	require.NoError(t, err)
	require.True(t, won)

	_, err = r.Finalize(context.Background(), "pro_AB12CD34", "owner-1")
	require.ErrorIs(t, err, ErrGone, "a deleted row must never report paid")

	link := store.links["AB12CD34"]
	require.False(t, link.Paid)
}

func TestFinalizeProBypassRequiresActiveSubscription(t *testing.T) {
	r, store, _, _ := newTestReconciler()
	seedLink(t, store, "AB12CD34", func(l *models.FileLink) {
		l.CreatedByUserID = "owner-1"
	})
	require.NoError(t, store.UpsertSubscription(context.Background(), &models.Subscription{
		UserID: "owner-1",
		Plan:   models.PlanFree,
		Status: models.StatusCanceled,
	}))

	_, err := r.Finalize(context.Background(), "pro_AB12CD34", "owner-1")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestFinalizeValidation(t *testing.T) {
	r, _, _, _ := newTestReconciler()

	_, err := r.Finalize(context.Background(), "  ", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = r.Finalize(context.Background(), "cs_unknown", "")
	require.ErrorIs(t, err, ErrNotFound)
}
