package services

import (
	"context"
	"time"

	"github.com/droplink-app/droplink-service/internal/models"
)

// Store is the persistence boundary for links, subscriptions and the
// processed-event ledger. Implemented by PostgresStore; tests use in-memory
// fakes.
type Store interface {
	CreateFileLink(ctx context.Context, link *models.FileLink) error
	GetFileLink(ctx context.Context, code string) (*models.FileLink, error)
	// MarkPaid flips paid=true and stamps paid_at exactly once. It refuses
	// soft-deleted rows and reports whether a row was updated.
	MarkPaid(ctx context.Context, code string) (bool, error)
	// SoftDeleteFileLink transitions active → soft-deleted. Only the caller
	// that finds deleted_at still null wins.
	SoftDeleteFileLink(ctx context.Context, code, reason string) (bool, error)
	MarkStorageDeleted(ctx context.Context, code string) error
	// HardDeleteFileLink removes the row, guarded on storage_deleted=true at
	// delete time.
	HardDeleteFileLink(ctx context.Context, code string) (bool, error)
	ListExpiredLinks(ctx context.Context, onlySoftDeleted bool, limit int) ([]*models.FileLink, error)
	CountExpiredLinks(ctx context.Context, onlySoftDeleted bool) (int, int64, error)
	ListLinksByCreator(ctx context.Context, userID string, limit, offset int) ([]*models.FileLink, error)
	CreatorLinkStats(ctx context.Context, userID string) (*LinkStats, error)
	LinkStats(ctx context.Context) (*LinkStats, error)

	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error

	// InsertProcessedEvent returns false when the event id was already
	// recorded; the duplicate-key conflict is the signal, not an error.
	InsertProcessedEvent(ctx context.Context, id, eventType string) (bool, error)
}

// ObjectStore is the object-storage boundary. RemoveObject must treat an
// already-absent object as success.
type ObjectStore interface {
	UploadFile(ctx context.Context, localPath, objectKey, contentType string) error
	PresignedDownloadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
	RemoveObject(ctx context.Context, objectKey string) error
	CheckConnection(ctx context.Context) error
}

// PaymentProvider is the payment-processor boundary.
type PaymentProvider interface {
	// ParseEvent verifies the signature and decodes the envelope once into a
	// typed event. Returns ErrBadSignature on a missing or invalid signature.
	ParseEvent(payload []byte, sigHeader string) (*ProviderEvent, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)
	// EnsureCustomer verifies a stored customer id still resolves upstream and
	// creates a replacement when it does not.
	EnsureCustomer(ctx context.Context, userID, storedCustomerID string) (string, error)
	NewLinkCheckout(ctx context.Context, code string) (string, error)
	NewProCheckout(ctx context.Context, userID, customerID string) (string, error)
	NewPortalSession(ctx context.Context, customerID string) (string, error)
}

// Notifier dispatches best-effort notification jobs. Implementations must
// never return delivery failures into the request path.
type Notifier interface {
	Send(job EmailJob)
}

// EmailJob is the payload published to the notification queue. The consumer
// resolves addresses for user-scoped jobs.
type EmailJob struct {
	Kind        string `json:"kind"`
	To          string `json:"to,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Code        string `json:"code,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

const (
	EmailLinkPaid              = "link_paid"
	EmailSubscriptionActivated = "subscription_activated"
	EmailCancelScheduled       = "subscription_cancel_scheduled"
	EmailReactivated           = "subscription_reactivated"
	EmailSubscriptionCanceled  = "subscription_canceled"
)

// ProviderEvent is the closed union decoded from a verified webhook body.
// Exactly one variant is non-nil for recognized event types; all variants nil
// means the event is acknowledged and ignored.
type ProviderEvent struct {
	ID           string
	Type         string
	Checkout     *CheckoutPayload
	Invoice      *InvoicePayload
	Subscription *SubscriptionPayload
}

// CheckoutPayload carries the checkout-session fields the reconciler uses.
type CheckoutPayload struct {
	SessionID      string
	Mode           string
	SubscriptionID string
	CustomerEmail  string
	Metadata       map[string]string
}

type InvoicePayload struct {
	SubscriptionID string
}

type SubscriptionPayload struct {
	SubscriptionID string
}

// CheckoutSession is an authoritative session fetched from the provider.
type CheckoutSession struct {
	ID                    string
	Mode                  string
	Paid                  bool
	SubscriptionID        string
	CustomerID            string
	CustomerEmail         string
	Metadata              map[string]string
	PaymentIntentMetadata map[string]string
}

// ProviderSubscription is an authoritative subscription fetched from the
// provider; status is the raw provider value.
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
}

// LinkStats aggregates link rows for reporting.
type LinkStats struct {
	TotalLinks int64 `json:"total_links"`
	PaidLinks  int64 `json:"paid_links"`
	TotalBytes int64 `json:"total_bytes"`
}

// ToSubscription folds provider state into the stored row, recomputing the
// plan so it can never stay pro with an inactive status.
func (p *ProviderSubscription) ToSubscription(userID string) *models.Subscription {
	status := models.DeriveStatus(p.Status)
	return &models.Subscription{
		UserID:               userID,
		Plan:                 models.PlanFor(status),
		Status:               status,
		StripeCustomerID:     p.CustomerID,
		StripeSubscriptionID: p.ID,
		CurrentPeriodEnd:     p.CurrentPeriodEnd,
		CancelAtPeriodEnd:    p.CancelAtPeriodEnd,
	}
}
