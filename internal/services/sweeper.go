package services

import (
	"context"
	"log"

	"github.com/droplink-app/droplink-service/internal/models"
)

const (
	reasonExpired        = "expired"
	reasonAccountDeleted = "account_deleted"

	// MaxCleanupLimit caps one bulk batch.
	MaxCleanupLimit     = 500
	DefaultCleanupLimit = 100
)

// Sweeper reclaims storage and rows for expired links in two modes: lazily
// for a single link at access time, and in bulk when an administrator asks.
type Sweeper struct {
	store   Store
	objects ObjectStore
}

func NewSweeper(store Store, objects ObjectStore) *Sweeper {
	return &Sweeper{store: store, objects: objects}
}

type CleanupOptions struct {
	Limit            int
	IncludeNotMarked bool
}

func (o CleanupOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultCleanupLimit
	}
	if o.Limit > MaxCleanupLimit {
		return MaxCleanupLimit
	}
	return o.Limit
}

// CleanupReport aggregates one bulk run. Per-item failures increment Failed
// and never abort the batch.
type CleanupReport struct {
	Found          int   `json:"found"`
	TotalBytes     int64 `json:"total_bytes"`
	StorageDeleted int   `json:"storage_deleted"`
	RowsDeleted    int   `json:"rows_deleted"`
	Failed         int   `json:"failed"`
}

type CleanupPreview struct {
	Found      int                `json:"found"`
	TotalBytes int64              `json:"total_bytes"`
	Sample     []*models.FileLink `json:"sample"`
}

// SweepOne is the lazy path, invoked inline the first time an expired link
// is accessed. It soft-deletes, best-effort removes the object, and never
// hard-deletes: the row stays behind for review.
func (s *Sweeper) SweepOne(ctx context.Context, link *models.FileLink) {
	if link.DeletedAt == nil {
		won, err := s.store.SoftDeleteFileLink(ctx, link.Code, reasonExpired)
		if err != nil {
			log.Printf("[Sweeper] soft delete %s: %v", link.Code, err)
			return
		}
		if !won {
			// A concurrent access already transitioned it.
			return
		}
	}
	if link.StorageDeleted {
		return
	}
	if err := s.objects.RemoveObject(ctx, link.FilePath); err != nil {
		log.Printf("[Sweeper] remove object for %s: %v", link.Code, err)
		return
	}
	if err := s.store.MarkStorageDeleted(ctx, link.Code); err != nil {
		log.Printf("[Sweeper] mark storage deleted %s: %v", link.Code, err)
	}
}

// Preview reports what a bulk run would touch without mutating anything.
func (s *Sweeper) Preview(ctx context.Context, opts CleanupOptions) (*CleanupPreview, error) {
	onlySoftDeleted := !opts.IncludeNotMarked
	found, bytes, err := s.store.CountExpiredLinks(ctx, onlySoftDeleted)
	if err != nil {
		return nil, err
	}
	sampleLimit := opts.limit()
	if sampleLimit > 10 {
		sampleLimit = 10
	}
	sample, err := s.store.ListExpiredLinks(ctx, onlySoftDeleted, sampleLimit)
	if err != nil {
		return nil, err
	}
	return &CleanupPreview{Found: found, TotalBytes: bytes, Sample: sample}, nil
}

// Run executes one bulk batch. Rows are hard-deleted only once their object
// is confirmed gone, and the storage_deleted guard is re-evaluated by the
// store at delete time so a concurrent sweep cannot slip a row through.
func (s *Sweeper) Run(ctx context.Context, opts CleanupOptions) (*CleanupReport, error) {
	onlySoftDeleted := !opts.IncludeNotMarked
	links, err := s.store.ListExpiredLinks(ctx, onlySoftDeleted, opts.limit())
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{Found: len(links)}
	for _, link := range links {
		report.TotalBytes += link.FileBytes

		if !link.StorageDeleted {
			if err := s.objects.RemoveObject(ctx, link.FilePath); err != nil {
				log.Printf("[Sweeper] remove object for %s: %v", link.Code, err)
				report.Failed++
				continue
			}
			if err := s.store.MarkStorageDeleted(ctx, link.Code); err != nil {
				log.Printf("[Sweeper] mark storage deleted %s: %v", link.Code, err)
				report.Failed++
				continue
			}
			report.StorageDeleted++
		}

		deleted, err := s.store.HardDeleteFileLink(ctx, link.Code)
		if err != nil {
			log.Printf("[Sweeper] hard delete %s: %v", link.Code, err)
			report.Failed++
			continue
		}
		if deleted {
			report.RowsDeleted++
		}
	}
	return report, nil
}

// SweepUserLinks soft-deletes and storage-sweeps every live link a deleted
// account owns. Used by the account-deletion consumer.
func (s *Sweeper) SweepUserLinks(ctx context.Context, userID string) int {
	links, err := s.store.ListLinksByCreator(ctx, userID, MaxCleanupLimit, 0)
	if err != nil {
		log.Printf("[Sweeper] list links for user %s: %v", userID, err)
		return 0
	}
	swept := 0
	for _, link := range links {
		won, err := s.store.SoftDeleteFileLink(ctx, link.Code, reasonAccountDeleted)
		if err != nil || !won {
			continue
		}
		if err := s.objects.RemoveObject(ctx, link.FilePath); err != nil {
			log.Printf("[Sweeper] remove object for %s: %v", link.Code, err)
			continue
		}
		if err := s.store.MarkStorageDeleted(ctx, link.Code); err != nil {
			log.Printf("[Sweeper] mark storage deleted %s: %v", link.Code, err)
			continue
		}
		swept++
	}
	return swept
}
