package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fileshare/internal/model"
	"fileshare/internal/quota"
	"fileshare/internal/repository"
	"fileshare/internal/storage"

	"github.com/google/uuid"
)

var (
	_ repository.UserRepository         = (*memDB)(nil)
	_ repository.SubscriptionRepository = (*memDB)(nil)
	_ repository.UploadRepository       = (*memDB)(nil)
	_ repository.UsageRepository        = (*memDB)(nil)
	_ repository.WorkspaceRepository    = (*memDB)(nil)
	_ repository.InvoiceRepository      = (*memDB)(nil)
	_ repository.CampaignRepository     = (*memDB)(nil)
	_ storage.ObjectStore               = (*memStore)(nil)
)

// memDB is an in-memory stand-in for every repository the services use.
// Conditional writes follow the SQL in internal/repository.
type memDB struct {
	mu         sync.Mutex
	users      map[string]*model.User
	workspaces map[string]*model.Workspace
	uploads    map[string]*model.Upload
	invoices   []model.Invoice
	campaigns  map[string]*model.Campaign
}

func newMemDB() *memDB {
	return &memDB{
		users:      map[string]*model.User{},
		workspaces: map[string]*model.Workspace{},
		uploads:    map[string]*model.Upload{},
		campaigns:  map[string]*model.Campaign{},
	}
}

// addUser inserts a free user with a default workspace.
func (db *memDB) addUser(email string) *model.User {
	u := &model.User{
		ID:       uuid.NewString(),
		Identity: model.Identity{Email: email, FullName: "Test " + email},
		Quota:    model.FreeQuota(),
	}
	if err := db.CreateUser(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

// addUpload stores an upload directly.
func (db *memDB) addUpload(u model.Upload) *model.Upload {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := u
	db.uploads[u.ID] = &cp
	return &cp
}

func (db *memDB) upload(id string) *model.Upload {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.uploads[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (db *memDB) user(id string) *model.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// UserRepository

func (db *memDB) CreateUser(ctx context.Context, u *model.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Quota == (model.QuotaState{}) {
		u.Quota = model.FreeQuota()
	}
	ws := &model.Workspace{ID: uuid.NewString(), UserID: u.ID, Name: "Default", IsDefault: true}
	db.workspaces[ws.ID] = ws
	u.DefaultWorkspaceID = ws.ID
	cp := *u
	db.users[u.ID] = &cp
	return nil
}

func (db *memDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.user(id), nil
}

func (db *memDB) findUser(match func(*model.User) bool) *model.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, u := range db.users {
		if match(u) {
			cp := *u
			return &cp
		}
	}
	return nil
}

func (db *memDB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.findUser(func(u *model.User) bool { return strings.EqualFold(u.Identity.Email, email) }), nil
}

func (db *memDB) GetUserByCustomerID(ctx context.Context, provider model.Provider, customerID string) (*model.User, error) {
	return db.findUser(func(u *model.User) bool {
		return u.PaymentMethod.Provider == provider && u.PaymentMethod.CustomerID == customerID
	}), nil
}

func (db *memDB) GetUserBySubscriptionID(ctx context.Context, provider model.Provider, subscriptionID string) (*model.User, error) {
	return db.findUser(func(u *model.User) bool {
		return u.Subscription.Provider == provider && u.Subscription.SubscriptionID == subscriptionID
	}), nil
}

func (db *memDB) SetCustomerID(ctx context.Context, userID string, provider model.Provider, customerID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.users[userID]; ok {
		u.PaymentMethod.Provider = provider
		u.PaymentMethod.CustomerID = customerID
	}
	return nil
}

func (db *memDB) UpdatePaymentMethod(ctx context.Context, userID string, pm model.PaymentMethod, eventKey string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok || (eventKey != "" && u.PaymentMethod.WebhookEventKey == eventKey) {
		return false, nil
	}
	customerID, key := u.PaymentMethod.CustomerID, u.PaymentMethod.WebhookEventKey
	if pm.CustomerID != "" {
		customerID = pm.CustomerID
	}
	if eventKey != "" {
		key = eventKey
	}
	pm.CustomerID, pm.WebhookEventKey = customerID, key
	u.PaymentMethod = pm
	return true, nil
}

func (db *memDB) UpdateBilling(ctx context.Context, userID string, b model.BillingDetails) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.users[userID]; ok {
		u.Billing = b
	}
	return nil
}

// SubscriptionRepository

func (db *memDB) UpdateSubscription(ctx context.Context, userID string, sub model.SubscriptionState, q *model.QuotaState) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok || (sub.WebhookEventKey != "" && u.Subscription.WebhookEventKey == sub.WebhookEventKey) {
		return false, nil
	}
	if sub.WebhookEventKey == "" {
		sub.WebhookEventKey = u.Subscription.WebhookEventKey
	}
	u.Subscription = sub
	if q != nil {
		u.Quota = *q
	}
	return true, nil
}

func (db *memDB) ApplyDowngradeIfDue(ctx context.Context, userID string, now time.Time) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok || !u.Subscription.DowngradeDue(now) {
		return false, nil
	}
	u.Quota = model.FreeQuota()
	u.Subscription.Status = model.StatusCanceled
	u.Subscription.Tier = model.TierNone
	u.Subscription.DowngradesAt = nil
	at := now
	u.Subscription.CanceledAt = &at
	return true, nil
}

func (db *memDB) RevertToFree(ctx context.Context, userID string, now time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u, ok := db.users[userID]; ok {
		u.Quota = model.FreeQuota()
		u.Subscription.Status = model.StatusCanceled
		u.Subscription.Tier = model.TierNone
		u.Subscription.DowngradesAt = nil
		at := now
		u.Subscription.CanceledAt = &at
		u.Subscription.InvoiceLink = ""
	}
	return nil
}

func (db *memDB) ListDueDowngrades(ctx context.Context, now time.Time, limit int) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var ids []string
	for id, u := range db.users {
		if u.Subscription.DowngradeDue(now) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// UploadRepository

func (db *memDB) CreateUpload(ctx context.Context, u *model.Upload) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.uploads[u.ID]; ok {
		return fmt.Errorf("duplicate upload %s", u.ID)
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	cp.Files = append([]model.FileDescriptor(nil), u.Files...)
	db.uploads[u.ID] = &cp
	return nil
}

func (db *memDB) GetUploadByID(ctx context.Context, id string) (*model.Upload, error) {
	return db.upload(id), nil
}

func (db *memDB) ConfirmUpload(ctx context.Context, id string, files []model.FileDescriptor, size int64, at time.Time) (*model.Upload, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.uploads[id]
	if !ok {
		return nil, nil
	}
	u.Files = append([]model.FileDescriptor(nil), files...)
	u.SizeInBytes = size
	u.IsValid = true
	if u.ConfirmedAt == nil {
		t := at
		u.ConfirmedAt = &t
	}
	cp := *u
	return &cp, nil
}

func (db *memDB) SetZipLocation(ctx context.Context, id, location string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.uploads[id]
	if !ok || u.ZipLocation != "" {
		return false, nil
	}
	u.ZipLocation = location
	return true, nil
}

func (db *memDB) IncrementDownloads(ctx context.Context, id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.uploads[id]
	if !ok {
		return false, nil
	}
	u.Downloads++
	return true, nil
}

func (db *memDB) DeleteUpload(ctx context.Context, id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.uploads[id]; !ok {
		return false, nil
	}
	delete(db.uploads, id)
	return true, nil
}

func (db *memDB) filterUploads(match func(*model.Upload) bool) []model.Upload {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.Upload
	for _, u := range db.uploads {
		if match(u) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (db *memDB) ListUploadsByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]model.Upload, error) {
	all := db.filterUploads(func(u *model.Upload) bool { return u.WorkspaceID == workspaceID && u.IsValid })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (db *memDB) ListValidUploadsByUser(ctx context.Context, userID string) ([]model.Upload, error) {
	return db.filterUploads(func(u *model.Upload) bool {
		return u.UserID == userID && u.WorkspaceID != "" && u.IsValid
	}), nil
}

func firstIDs(uploads []model.Upload, limit int) []string {
	var out []string
	for _, u := range uploads {
		if len(out) == limit {
			break
		}
		out = append(out, u.ID)
	}
	return out
}

func (db *memDB) ListAnonymousPendingBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return firstIDs(db.filterUploads(func(u *model.Upload) bool {
		return u.UserID == "" && !u.IsValid && u.CreatedAt.Before(before)
	}), limit), nil
}

func (db *memDB) ListAnonymousConfirmedBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return firstIDs(db.filterUploads(func(u *model.Upload) bool {
		if u.UserID != "" || !u.IsValid {
			return false
		}
		at := u.CreatedAt
		if u.ConfirmedAt != nil {
			at = *u.ConfirmedAt
		}
		return at.Before(before)
	}), limit), nil
}

// UsageRepository

func (db *memDB) ListUploadSizes(ctx context.Context, userID string) ([]quota.UploadSize, error) {
	var out []quota.UploadSize
	for _, u := range db.filterUploads(func(u *model.Upload) bool { return u.UserID == userID && u.WorkspaceID != "" }) {
		out = append(out, quota.UploadSize{SizeInBytes: u.SizeInBytes, IsValid: u.IsValid})
	}
	return out, nil
}

func (db *memDB) ListLapsedOverLimit(ctx context.Context, canceledBefore time.Time, limitBytes int64, max int) ([]string, error) {
	db.mu.Lock()
	var candidates []string
	for id, u := range db.users {
		s := u.Subscription
		if s.Status == model.StatusCanceled && s.Tier == model.TierNone && s.CanceledAt != nil && s.CanceledAt.Before(canceledBefore) {
			candidates = append(candidates, id)
		}
	}
	db.mu.Unlock()

	var out []string
	for _, id := range candidates {
		sizes, _ := db.ListUploadSizes(ctx, id)
		if quota.Consumed(sizes) > limitBytes && len(out) < max {
			out = append(out, id)
		}
	}
	return out, nil
}

// WorkspaceRepository

func (db *memDB) CreateWorkspace(ctx context.Context, w *model.Workspace, maxWorkspaces int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, existing := range db.workspaces {
		if existing.UserID == w.UserID {
			n++
		}
	}
	if n >= maxWorkspaces {
		return repository.ErrWorkspaceLimitReached
	}
	w.ID = uuid.NewString()
	w.CreatedAt = time.Now()
	cp := *w
	db.workspaces[w.ID] = &cp
	return nil
}

func (db *memDB) GetWorkspaceByID(ctx context.Context, id string) (*model.Workspace, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	w, ok := db.workspaces[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (db *memDB) ListWorkspacesByUser(ctx context.Context, userID string) ([]model.Workspace, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.Workspace
	for _, w := range db.workspaces {
		if w.UserID == userID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IsDefault && !out[j].IsDefault })
	return out, nil
}

func (db *memDB) RenameWorkspace(ctx context.Context, id, userID, name string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	w, ok := db.workspaces[id]
	if !ok || w.UserID != userID {
		return false, nil
	}
	w.Name = name
	return true, nil
}

func (db *memDB) DeleteWorkspace(ctx context.Context, id, userID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	w, ok := db.workspaces[id]
	if !ok || w.UserID != userID || w.IsDefault {
		return false, nil
	}
	delete(db.workspaces, id)
	for _, u := range db.uploads {
		if u.WorkspaceID == id {
			u.WorkspaceID = ""
		}
	}
	return true, nil
}

// InvoiceRepository

func (db *memDB) CreateInvoice(ctx context.Context, inv *model.Invoice) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, existing := range db.invoices {
		if existing.Provider == inv.Provider && existing.ServiceID == inv.ServiceID {
			return false, nil
		}
	}
	inv.ID = uuid.NewString()
	db.invoices = append(db.invoices, *inv)
	return true, nil
}

func (db *memDB) ListInvoicesByUser(ctx context.Context, userID string, limit, offset int) ([]model.Invoice, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.Invoice
	for _, inv := range db.invoices {
		if inv.UserID == userID {
			out = append(out, inv)
		}
	}
	return out, nil
}

// CampaignRepository

func (db *memDB) GetCampaignByID(ctx context.Context, id string) (*model.Campaign, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (db *memDB) UpdatePayment(ctx context.Context, id string, p model.CampaignPayment, eventKey string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.campaigns[id]
	if !ok || (eventKey != "" && c.Payment.WebhookEventKey == eventKey) {
		return false, nil
	}
	if eventKey == "" {
		eventKey = c.Payment.WebhookEventKey
	}
	p.WebhookEventKey = eventKey
	c.Payment = p
	return true, nil
}

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu         sync.Mutex
	objects    map[string]bool
	sizes      map[string]int64
	deleted    []string
	existsHits int
	failIssue  error
	failDelete error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]bool{}, sizes: map[string]int64{}}
}

func objectKey(bucket, name string) string { return bucket + "/" + name }

func (s *memStore) put(bucket, name string) {
	s.putSized(bucket, name, 0)
}

// putSized stores an object as if a client had written size bytes to it.
func (s *memStore) putSized(bucket, name string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(bucket, name)] = true
	s.sizes[objectKey(bucket, name)] = size
}

func (s *memStore) has(bucket, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[objectKey(bucket, name)]
}

func (s *memStore) IssueUploadTarget(ctx context.Context, filename string, size int64, bucket, prefix string) (storage.UploadTarget, error) {
	if s.failIssue != nil {
		return storage.UploadTarget{}, s.failIssue
	}
	name := storage.ObjectName(prefix, filename)
	s.putSized(bucket, name, size)
	return storage.UploadTarget{URL: "https://s3.test/" + bucket + "/" + name + "?sig=put", ObjectName: name}, nil
}

func (s *memStore) IssueDownloadURL(ctx context.Context, bucket, name string, ttl time.Duration) (string, error) {
	return "https://s3.test/" + bucket + "/" + name + "?sig=get", nil
}

func (s *memStore) DeleteObject(ctx context.Context, bucket, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != nil {
		return s.failDelete
	}
	key := objectKey(bucket, name)
	if !s.objects[key] {
		return storage.ErrObjectNotFound
	}
	delete(s.objects, key)
	delete(s.sizes, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStore) ObjectExists(ctx context.Context, bucket, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existsHits++
	return s.objects[objectKey(bucket, name)], nil
}

func (s *memStore) ObjectSize(ctx context.Context, bucket, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := objectKey(bucket, name)
	if !s.objects[key] {
		return 0, storage.ErrObjectNotFound
	}
	return s.sizes[key], nil
}

func (s *memStore) MakePublic(ctx context.Context, bucket, name string) error { return nil }

func (s *memStore) PublicURL(bucket, name string) string {
	return "https://public.test/" + bucket + "/" + name
}

// recordingPublisher captures published payloads per topic.
type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{messages: map[string][][]byte{}}
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages[topic] = append(p.messages[topic], payload)
	return fmt.Sprintf("msg-%d", len(p.messages[topic])), nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[topic])
}

type sentMail struct {
	Template  string
	Recipient string
	Payload   map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, template, recipient string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{template, recipient, payload})
	return nil
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		out = append(out, m.Template)
	}
	return out
}

// inlineQueue runs tasks synchronously and remembers their names.
type inlineQueue struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (q *inlineQueue) Enqueue(name string, fn func(ctx context.Context) error) bool {
	err := fn(context.Background())
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	q.errs = append(q.errs, err)
	return true
}

var errStoreDown = errors.New("object store unavailable")
