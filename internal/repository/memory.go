package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
)

// MemoryStore keeps everything in process memory. A gated unit of work holds
// the store lock for its whole duration and restores a snapshot when it fails.
type MemoryStore struct {
	mu sync.Mutex
	st *memState
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

type memState struct {
	vendors    map[string]model.Vendor
	categories map[string]model.Category
	entries    map[string]model.WaitlistEntry
}

func newMemState() *memState {
	return &memState{
		vendors:    make(map[string]model.Vendor),
		categories: make(map[string]model.Category),
		entries:    make(map[string]model.WaitlistEntry),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.vendors {
		c.vendors[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

// WithGate runs fn with exclusive access; fn's writes are discarded if it
// returns an error.
func (m *MemoryStore) WithGate(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	if err := fn(memQueries{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() {}

func (m *MemoryStore) CountActiveVendors(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.CountActiveVendors(ctx)
}

func (m *MemoryStore) CountActiveVendorsByCategory(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.CountActiveVendorsByCategory(ctx)
}

func (m *MemoryStore) GetVendor(ctx context.Context, id string) (*model.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.GetVendor(ctx, id)
}

func (m *MemoryStore) VendorEmailExists(ctx context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.VendorEmailExists(ctx, email)
}

func (m *MemoryStore) InsertVendor(ctx context.Context, v *model.Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.InsertVendor(ctx, v)
}

func (m *MemoryStore) SetVendorActive(ctx context.Context, id string, active bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.SetVendorActive(ctx, id, active, at)
}

func (m *MemoryStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.ListCategories(ctx)
}

func (m *MemoryStore) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.GetCategory(ctx, id)
}

func (m *MemoryStore) InsertCategory(ctx context.Context, c *model.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.InsertCategory(ctx, c)
}

func (m *MemoryStore) InsertWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.InsertWaitlistEntry(ctx, e)
}

func (m *MemoryStore) GetWaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.GetWaitlistEntry(ctx, id)
}

func (m *MemoryStore) ActiveWaitlistEntryByEmail(ctx context.Context, email string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.ActiveWaitlistEntryByEmail(ctx, email)
}

func (m *MemoryStore) OldestWaiting(ctx context.Context, categoryID string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.OldestWaiting(ctx, categoryID)
}

func (m *MemoryStore) ListWaitlist(ctx context.Context, filter model.WaitlistFilter) ([]model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.ListWaitlist(ctx, filter)
}

func (m *MemoryStore) CountOpenClaims(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.CountOpenClaims(ctx, now)
}

func (m *MemoryStore) TransitionWaitlistEntry(ctx context.Context, id string, from, to model.Status, at time.Time, expiresAt *time.Time) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.TransitionWaitlistEntry(ctx, id, from, to, at, expiresAt)
}

func (m *MemoryStore) ExpireNotified(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{st: m.st}.ExpireNotified(ctx, now)
}

// memQueries operates on state the caller has already locked.
type memQueries struct {
	st *memState
}

func (q memQueries) CountActiveVendors(context.Context) (int, error) {
	n := 0
	for _, v := range q.st.vendors {
		if v.IsActive {
			n++
		}
	}
	return n, nil
}

func (q memQueries) CountActiveVendorsByCategory(context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, v := range q.st.vendors {
		if v.IsActive {
			counts[v.CategoryID]++
		}
	}
	return counts, nil
}

func (q memQueries) GetVendor(_ context.Context, id string) (*model.Vendor, error) {
	v, ok := q.st.vendors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (q memQueries) VendorEmailExists(_ context.Context, email string) (bool, error) {
	for _, v := range q.st.vendors {
		if strings.EqualFold(v.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (q memQueries) InsertVendor(ctx context.Context, v *model.Vendor) error {
	if exists, _ := q.VendorEmailExists(ctx, v.Email); exists {
		return ErrDuplicate
	}
	if _, ok := q.st.vendors[v.ID]; ok {
		return ErrDuplicate
	}
	q.st.vendors[v.ID] = *v
	return nil
}

func (q memQueries) SetVendorActive(_ context.Context, id string, active bool, at time.Time) error {
	v, ok := q.st.vendors[id]
	if !ok {
		return ErrNotFound
	}
	v.IsActive = active
	v.UpdatedAt = at
	q.st.vendors[id] = v
	return nil
}

func (q memQueries) ListCategories(context.Context) ([]model.Category, error) {
	categories := make([]model.Category, 0, len(q.st.categories))
	for _, c := range q.st.categories {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (q memQueries) GetCategory(_ context.Context, id string) (*model.Category, error) {
	c, ok := q.st.categories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (q memQueries) InsertCategory(_ context.Context, c *model.Category) error {
	for _, existing := range q.st.categories {
		if existing.Slug == c.Slug || existing.ID == c.ID {
			return ErrDuplicate
		}
	}
	q.st.categories[c.ID] = *c
	return nil
}

func (q memQueries) InsertWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	if _, err := q.ActiveWaitlistEntryByEmail(ctx, e.Email); err == nil {
		return ErrDuplicate
	}
	if _, ok := q.st.entries[e.ID]; ok {
		return ErrDuplicate
	}
	stored := *e
	stored.Position = 0
	q.st.entries[e.ID] = stored
	return nil
}

// withPosition returns a copy of e with its FIFO rank filled in.
func (q memQueries) withPosition(e model.WaitlistEntry) model.WaitlistEntry {
	e.Position = 0
	if e.Status != model.StatusWaiting {
		return e
	}
	e.Position = 1
	for _, other := range q.st.entries {
		if other.Status == model.StatusWaiting && other.Before(&e) {
			e.Position++
		}
	}
	return e
}

func (q memQueries) GetWaitlistEntry(_ context.Context, id string) (*model.WaitlistEntry, error) {
	e, ok := q.st.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	e = q.withPosition(e)
	return &e, nil
}

func (q memQueries) ActiveWaitlistEntryByEmail(_ context.Context, email string) (*model.WaitlistEntry, error) {
	for _, e := range q.st.entries {
		if strings.EqualFold(e.Email, email) && !e.Status.Terminal() {
			e = q.withPosition(e)
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (q memQueries) OldestWaiting(_ context.Context, categoryID string) (*model.WaitlistEntry, error) {
	var head *model.WaitlistEntry
	for _, e := range q.st.entries {
		if e.Status != model.StatusWaiting {
			continue
		}
		if categoryID != "" && e.CategoryID != categoryID {
			continue
		}
		if head == nil || e.Before(head) {
			e := e
			head = &e
		}
	}
	if head == nil {
		return nil, ErrNotFound
	}
	found := q.withPosition(*head)
	return &found, nil
}

func (q memQueries) ListWaitlist(_ context.Context, filter model.WaitlistFilter) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	for _, e := range q.st.entries {
		if !filter.Status.IsZero() && e.Status != filter.Status {
			continue
		}
		if filter.CategoryID != "" && e.CategoryID != filter.CategoryID {
			continue
		}
		entries = append(entries, q.withPosition(e))
	}
	sort.Slice(entries, func(i, j int) bool {
		ri, rj := waitlistStatusRank(entries[i].Status), waitlistStatusRank(entries[j].Status)
		if ri != rj {
			return ri < rj
		}
		return entries[i].Before(&entries[j])
	})
	return entries, nil
}

func (q memQueries) CountOpenClaims(_ context.Context, now time.Time) (int, error) {
	n := 0
	for _, e := range q.st.entries {
		if e.ClaimOpen(now) {
			n++
		}
	}
	return n, nil
}

func (q memQueries) TransitionWaitlistEntry(ctx context.Context, id string, from, to model.Status, at time.Time, expiresAt *time.Time) (*model.WaitlistEntry, error) {
	if err := checkTransition(from, to, expiresAt); err != nil {
		return nil, err
	}
	e, ok := q.st.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != from {
		return nil, ErrStaleTransition
	}
	e.Status = to
	e.UpdatedAt = at
	if to == model.StatusNotified {
		notifiedAt, exp := at, *expiresAt
		e.NotifiedAt = &notifiedAt
		e.ExpiresAt = &exp
	}
	q.st.entries[id] = e
	return q.GetWaitlistEntry(ctx, id)
}

func (q memQueries) ExpireNotified(_ context.Context, now time.Time) ([]string, error) {
	var ids []string
	for id, e := range q.st.entries {
		if e.Status != model.StatusNotified || e.ExpiresAt == nil || !e.ExpiresAt.Before(now) {
			continue
		}
		e.Status = model.StatusExpired
		e.UpdatedAt = now
		q.st.entries[id] = e
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
