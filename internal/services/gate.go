package services

import (
	"context"
	"errors"
	"time"

	"github.com/droplink-app/droplink-service/internal/models"
)

// Gate answers the download-gating predicate. Every call re-reads the store;
// no cached decision is ever trusted.
type Gate struct {
	store   Store
	sweeper *Sweeper
	now     func() time.Time
}

func NewGate(store Store, sweeper *Sweeper) *Gate {
	return &Gate{store: store, sweeper: sweeper, now: time.Now}
}

// Check resolves a code to an entitled link or one of the sentinel errors:
// ErrNotFound, ErrGone, ErrPaymentRequired. An expired link is swept lazily
// before the terminal answer.
func (g *Gate) Check(ctx context.Context, code string) (*models.FileLink, error) {
	link, err := g.store.GetFileLink(ctx, code)
	if err != nil {
		return nil, err
	}
	if link.DeletedAt != nil {
		return nil, ErrGone
	}
	if g.now().After(link.ExpiresAt) {
		g.sweeper.SweepOne(ctx, link)
		return nil, ErrGone
	}
	if link.Paid {
		return link, nil
	}
	if link.CreatedByUserID != "" {
		sub, err := g.store.GetSubscription(ctx, link.CreatedByUserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if sub.Entitled() {
			return link, nil
		}
	}
	return nil, ErrPaymentRequired
}
