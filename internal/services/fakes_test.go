package services

import (
	"context"
	"sync"
	"time"

	"github.com/droplink-app/droplink-service/internal/models"
)

// In-memory fakes for the store, object storage, provider and notifier.

type memStore struct {
	mu     sync.Mutex
	links  map[string]*models.FileLink
	subs   map[string]*models.Subscription
	events map[string]string

	markPaidErr    error
	softDeleteErr  error
	storageMarkErr error
	hardDeleteErr  error
}

func newMemStore() *memStore {
	return &memStore{
		links:  make(map[string]*models.FileLink),
		subs:   make(map[string]*models.Subscription),
		events: make(map[string]string),
	}
}

func (m *memStore) CreateFileLink(ctx context.Context, link *models.FileLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link.Code == "" {
		code, err := NewCode()
		if err != nil {
			return err
		}
		link.Code = code
	}
	if _, ok := m.links[link.Code]; ok {
		return ErrCodeTaken
	}
	link.CreatedAt = time.Now()
	m.links[link.Code] = link
	return nil
}

func (m *memStore) GetFileLink(ctx context.Context, code string) (*models.FileLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (m *memStore) MarkPaid(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markPaidErr != nil {
		return false, m.markPaidErr
	}
	link, ok := m.links[code]
	if !ok || link.DeletedAt != nil {
		return false, nil
	}
	link.Paid = true
	if link.PaidAt == nil {
		now := time.Now()
		link.PaidAt = &now
	}
	return true, nil
}

func (m *memStore) SoftDeleteFileLink(ctx context.Context, code, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.softDeleteErr != nil {
		return false, m.softDeleteErr
	}
	link, ok := m.links[code]
	if !ok || link.DeletedAt != nil {
		return false, nil
	}
	now := time.Now()
	link.DeletedAt = &now
	link.DeletedReason = reason
	return true, nil
}

func (m *memStore) MarkStorageDeleted(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storageMarkErr != nil {
		return m.storageMarkErr
	}
	if link, ok := m.links[code]; ok {
		link.StorageDeleted = true
	}
	return nil
}

func (m *memStore) HardDeleteFileLink(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hardDeleteErr != nil {
		return false, m.hardDeleteErr
	}
	link, ok := m.links[code]
	if !ok || !link.StorageDeleted {
		return false, nil
	}
	delete(m.links, code)
	return true, nil
}

func (m *memStore) ListExpiredLinks(ctx context.Context, onlySoftDeleted bool, limit int) ([]*models.FileLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FileLink
	now := time.Now()
	for _, link := range m.links {
		if len(out) >= limit {
			break
		}
		if !link.ExpiresAt.Before(now) {
			continue
		}
		if onlySoftDeleted && link.DeletedAt == nil {
			continue
		}
		cp := *link
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) CountExpiredLinks(ctx context.Context, onlySoftDeleted bool) (int, int64, error) {
	links, err := m.ListExpiredLinks(ctx, onlySoftDeleted, 1<<30)
	if err != nil {
		return 0, 0, err
	}
	var bytes int64
	for _, link := range links {
		bytes += link.FileBytes
	}
	return len(links), bytes, nil
}

func (m *memStore) ListLinksByCreator(ctx context.Context, userID string, limit, offset int) ([]*models.FileLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FileLink
	for _, link := range m.links {
		if link.CreatedByUserID == userID && link.DeletedAt == nil {
			cp := *link
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreatorLinkStats(ctx context.Context, userID string) (*LinkStats, error) {
	links, err := m.ListLinksByCreator(ctx, userID, 1<<30, 0)
	if err != nil {
		return nil, err
	}
	stats := &LinkStats{}
	for _, link := range links {
		stats.TotalLinks++
		stats.TotalBytes += link.FileBytes
		if link.Paid {
			stats.PaidLinks++
		}
	}
	return stats, nil
}

func (m *memStore) LinkStats(ctx context.Context) (*LinkStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &LinkStats{}
	for _, link := range m.links {
		if link.DeletedAt != nil {
			continue
		}
		stats.TotalLinks++
		stats.TotalBytes += link.FileBytes
		if link.Paid {
			stats.PaidLinks++
		}
	}
	return stats, nil
}

func (m *memStore) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.StripeSubscriptionID == stripeSubscriptionID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	cp.UpdatedAt = time.Now()
	m.subs[sub.UserID] = &cp
	return nil
}

func (m *memStore) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	if !ok {
		sub = &models.Subscription{UserID: userID, Plan: models.PlanFree, Status: models.StatusUnknown}
		m.subs[userID] = sub
	}
	sub.StripeCustomerID = customerID
	return nil
}

func (m *memStore) InsertProcessedEvent(ctx context.Context, id, eventType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; ok {
		return false, nil
	}
	m.events[id] = eventType
	return true, nil
}

type fakeObjects struct {
	mu        sync.Mutex
	removed   map[string]int
	removeErr map[string]error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{removed: make(map[string]int), removeErr: make(map[string]error)}
}

func (f *fakeObjects) UploadFile(ctx context.Context, localPath, objectKey, contentType string) error {
	return nil
}

func (f *fakeObjects) PresignedDownloadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	return "https://storage.example/" + objectKey + "?signed", nil
}

func (f *fakeObjects) RemoveObject(ctx context.Context, objectKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[objectKey]; err != nil {
		return err
	}
	f.removed[objectKey]++
	return nil
}

func (f *fakeObjects) CheckConnection(ctx context.Context) error { return nil }

func (f *fakeObjects) removeCount(objectKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed[objectKey]
}

type fakeProvider struct {
	event    *ProviderEvent
	sessions map[string]*CheckoutSession
	subs     map[string]*ProviderSubscription

	customers    map[string]bool
	createdCount int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sessions:  make(map[string]*CheckoutSession),
		subs:      make(map[string]*ProviderSubscription),
		customers: make(map[string]bool),
	}
}

func (f *fakeProvider) ParseEvent(payload []byte, sigHeader string) (*ProviderEvent, error) {
	if sigHeader == "" {
		return nil, ErrBadSignature
	}
	return f.event, nil
}

func (f *fakeProvider) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub, nil
}

func (f *fakeProvider) EnsureCustomer(ctx context.Context, userID, storedCustomerID string) (string, error) {
	if storedCustomerID != "" && f.customers[storedCustomerID] {
		return storedCustomerID, nil
	}
	f.createdCount++
	id := "cus_new_" + userID
	f.customers[id] = true
	return id, nil
}

func (f *fakeProvider) NewLinkCheckout(ctx context.Context, code string) (string, error) {
	return "https://pay.example/c/" + code, nil
}

func (f *fakeProvider) NewProCheckout(ctx context.Context, userID, customerID string) (string, error) {
	return "https://pay.example/pro/" + userID, nil
}

func (f *fakeProvider) NewPortalSession(ctx context.Context, customerID string) (string, error) {
	return "https://pay.example/portal/" + customerID, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	jobs []EmailJob
}

func (f *fakeNotifier) Send(job EmailJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.Kind)
	}
	return out
}
