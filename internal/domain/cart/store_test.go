package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

// --- Mock implementations ---

type mockLineRepo struct {
	mu    sync.Mutex
	lines map[string][]Line
}

func newMockLineRepo() *mockLineRepo {
	return &mockLineRepo{lines: make(map[string][]Line)}
}

func (m *mockLineRepo) Lines(_ context.Context, userID string) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Line(nil), m.lines[userID]...), nil
}

func (m *mockLineRepo) AddQuantity(_ context.Context, userID string, line Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines[userID] {
		if m.lines[userID][i].ProductID == line.ProductID {
			if m.lines[userID][i].Quantity > MaxQuantity-line.Quantity {
				return ErrQuantityLimit
			}
			m.lines[userID][i].Quantity += line.Quantity
			return nil
		}
	}
	m.lines[userID] = append(m.lines[userID], line)
	return nil
}

func (m *mockLineRepo) SetQuantity(_ context.Context, userID, productID string, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines[userID] {
		if m.lines[userID][i].ProductID == productID {
			m.lines[userID][i].Quantity = qty
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLineRepo) RemoveLine(_ context.Context, userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.lines[userID][:0]
	for _, l := range m.lines[userID] {
		if l.ProductID != productID {
			kept = append(kept, l)
		}
	}
	m.lines[userID] = kept
	return nil
}

func (m *mockLineRepo) ClearLines(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lines, userID)
	return nil
}

type mockProductRepo struct {
	byID map[string]product.Product
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockUserRepo struct {
	ids map[string]bool
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*user.User, error) {
	if !m.ids[id] {
		return nil, user.ErrNotFound
	}
	return &user.User{ID: id}, nil
}

func (m *mockUserRepo) CountJoinedBetween(context.Context, time.Time, time.Time) (int, error) {
	return 0, nil
}

type mockCache struct {
	mu       sync.Mutex
	entries  map[string][]Line
	versions map[string]int64
	getErr   error
	deletes  int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]Line), versions: make(map[string]int64)}
}

func (m *mockCache) Get(_ context.Context, userID string) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	lines, ok := m.entries[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return lines, nil
}

func (m *mockCache) Version(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[userID], nil
}

func (m *mockCache) Set(_ context.Context, userID string, version int64, lines []Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[userID] == version {
		m.entries[userID] = lines
	}
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	m.versions[userID]++
	delete(m.entries, userID)
	return nil
}

// --- Helpers ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(cache Cache) (*Store, *mockLineRepo) {
	lines := newMockLineRepo()
	products := &mockProductRepo{byID: map[string]product.Product{
		"p1": {ID: "p1", Name: "Widget"},
		"p2": {ID: "p2", Name: "Gadget"},
	}}
	users := &mockUserRepo{ids: map[string]bool{"u1": true, "u2": true}}
	s := NewStore(lines, products, users, cache)
	s.now = func() time.Time { return fixedNow }
	return s, lines
}

// --- Tests ---

func TestStore_AddIncrementsExistingLine(t *testing.T) {
	s, _ := newTestStore(nil)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	got, err := s.Add(ctx, "u1", "p1", 3)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ProductID)
	assert.Equal(t, 5, got[0].Quantity)
	assert.Equal(t, fixedNow, got[0].AddedAt)
}

func TestStore_AddValidation(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		productID string
		qty       int
		wantErr   error
		wantKind  domain.Kind
	}{
		{
			name:      "zero quantity",
			userID:    "u1",
			productID: "p1",
			qty:       0,
			wantErr:   ErrInvalidQuantity,
			wantKind:  domain.KindInvalidArgument,
		},
		{
			name:      "unknown product",
			userID:    "u1",
			productID: "missing",
			qty:       1,
			wantErr:   product.ErrNotFound,
			wantKind:  domain.KindNotFound,
		},
		{
			name:      "unknown user",
			userID:    "nobody",
			productID: "p1",
			qty:       1,
			wantErr:   user.ErrNotFound,
			wantKind:  domain.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, lines := newTestStore(nil)

			_, err := s.Add(context.Background(), tt.userID, tt.productID, tt.qty)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
			assert.Empty(t, lines.lines[tt.userID])
		})
	}
}

func TestStore_QuantityLimit(t *testing.T) {
	tests := []struct {
		name     string
		existing int
		op       func(s *Store) ([]Line, error)
		wantErr  error
		wantQty  int
	}{
		{
			name:    "add above the limit",
			op:      func(s *Store) ([]Line, error) { return s.Add(context.Background(), "u1", "p1", MaxQuantity+1) },
			wantErr: ErrQuantityLimit,
		},
		{
			name:    "add exactly the limit",
			op:      func(s *Store) ([]Line, error) { return s.Add(context.Background(), "u1", "p1", MaxQuantity) },
			wantQty: MaxQuantity,
		},
		{
			name:     "increment past the limit",
			existing: MaxQuantity,
			op:       func(s *Store) ([]Line, error) { return s.Add(context.Background(), "u1", "p1", 1) },
			wantErr:  ErrQuantityLimit,
			wantQty:  MaxQuantity,
		},
		{
			name:     "increment up to the limit",
			existing: MaxQuantity - 1,
			op:       func(s *Store) ([]Line, error) { return s.Add(context.Background(), "u1", "p1", 1) },
			wantQty:  MaxQuantity,
		},
		{
			name:     "update above the limit",
			existing: 3,
			op:       func(s *Store) ([]Line, error) { return s.Update(context.Background(), "u1", "p1", MaxQuantity+1) },
			wantErr:  ErrQuantityLimit,
			wantQty:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, lines := newTestStore(nil)
			if tt.existing > 0 {
				lines.lines["u1"] = []Line{{ProductID: "p1", Quantity: tt.existing}}
			}

			_, err := tt.op(s)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
			} else {
				require.NoError(t, err)
			}

			got := lines.lines["u1"]
			if tt.wantQty == 0 {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantQty, got[0].Quantity)
		})
	}
}

func TestStore_Update(t *testing.T) {
	s, _ := newTestStore(nil)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", "p1", 2)
	require.NoError(t, err)

	got, err := s.Update(ctx, "u1", "p1", 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].Quantity)

	_, err = s.Update(ctx, "u1", "p1", 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = s.Update(ctx, "u1", "p2", 1)
	require.ErrorIs(t, err, ErrLineNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	got, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, got[0].Quantity)
}

func TestStore_RemoveAbsentLineIsNoop(t *testing.T) {
	s, _ := newTestStore(nil)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	got, err := s.Remove(ctx, "u1", "p2")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.Remove(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Clear(t *testing.T) {
	s, _ := newTestStore(nil)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	_, err = s.Add(ctx, "u1", "p2", 1)
	require.NoError(t, err)
	_, err = s.Add(ctx, "u2", "p1", 4)
	require.NoError(t, err)

	got, err := s.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := s.Get(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, 4, other[0].Quantity)
}

func TestStore_CacheInvalidatedOnMutation(t *testing.T) {
	cache := newMockCache()
	s, _ := newTestStore(cache)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, cache.entries, "u1")

	_, err = s.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	assert.NotContains(t, cache.entries, "u1")

	got, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, got[0].Quantity)
}

func TestStore_CacheErrorFallsBackToRepository(t *testing.T) {
	cache := newMockCache()
	cache.getErr = errors.New("redis down")
	s, _ := newTestStore(cache)
	ctx := context.Background()

	_, err := s.Add(ctx, "u1", "p2", 3)
	require.NoError(t, err)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Quantity)
}

func TestStore_ConcurrentAddsAreNotLost(t *testing.T) {
	s, _ := newTestStore(nil)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, "u1", "p1", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, workers, got[0].Quantity)
}

func TestStore_LockBlocksMutations(t *testing.T) {
	s, _ := newTestStore(nil)
	ctx := context.Background()

	release := s.Lock(ctx, "u1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Add(ctx, "u1", "p1", 1)
	}()

	select {
	case <-done:
		t.Fatal("mutation completed while cart was locked")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mutation did not complete after release")
	}
}
