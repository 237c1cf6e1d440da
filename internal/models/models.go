package models

import (
	"time"
)

// Plan is the internal subscription tier.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// SubStatus is the internal subscription status.
type SubStatus string

const (
	StatusActive     SubStatus = "active"
	StatusCanceled   SubStatus = "canceled"
	StatusIncomplete SubStatus = "incomplete"
	StatusPastDue    SubStatus = "past_due"
	StatusUnknown    SubStatus = "unknown"
)

// DeriveStatus maps a provider-reported subscription status to the internal
// one. Unrecognized statuses pass through verbatim.
func DeriveStatus(providerStatus string) SubStatus {
	switch providerStatus {
	case "active", "trialing":
		return StatusActive
	case "canceled":
		return StatusCanceled
	case "incomplete", "incomplete_expired":
		return StatusIncomplete
	case "past_due", "unpaid":
		return StatusPastDue
	case "":
		return StatusUnknown
	default:
		return SubStatus(providerStatus)
	}
}

// PlanFor keeps plan and status coupled: pro iff active.
func PlanFor(status SubStatus) Plan {
	if status == StatusActive {
		return PlanPro
	}
	return PlanFree
}

// FileLink is one shareable, payable download.
type FileLink struct {
	Code            string     `json:"code"`
	FilePath        string     `json:"file_path"`
	FileBytes       int64      `json:"file_bytes"`
	Paid            bool       `json:"paid"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	ExpiresAt       time.Time  `json:"expires_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	DeletedReason   string     `json:"deleted_reason,omitempty"`
	StorageDeleted  bool       `json:"storage_deleted"`
	CreatedByUserID string     `json:"created_by_user_id,omitempty"`
	Flagged         bool       `json:"flagged"`
	FlagReason      string     `json:"flag_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Subscription is at most one per user, upserted on every sync.
type Subscription struct {
	UserID               string     `json:"user_id"`
	Plan                 Plan       `json:"plan"`
	Status               SubStatus  `json:"status"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Entitled reports whether the subscription currently unlocks downloads.
func (s *Subscription) Entitled() bool {
	return s != nil && s.Plan == PlanPro && s.Status == StatusActive
}

// ProcessedEvent is one row of the append-only idempotency ledger.
type ProcessedEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	ProcessedAt time.Time `json:"processed_at"`
}
