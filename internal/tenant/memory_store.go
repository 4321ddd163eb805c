package tenant

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]*Tenant // by ID
	slugs       map[string]string  // slug → ID
	connections map[string]*PSPConnection
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]*Tenant),
		slugs:       make(map[string]string),
		connections: make(map[string]*PSPConnection),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[t.Slug]; exists {
		return ErrSlugTaken
	}

	cp := *t
	m.tenants[t.ID] = &cp
	m.slugs[t.Slug] = t.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrTenantNotFound
	}
	t := m.tenants[id]
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[t.ID]; !ok {
		return ErrTenantNotFound
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateConnection(_ context.Context, conn *PSPConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conn.TenantID + "|" + conn.ID
	if _, exists := m.connections[key]; exists {
		return ErrConnectionExists
	}
	cp := *conn
	m.connections[key] = &cp
	return nil
}

func (m *MemoryStore) GetConnection(_ context.Context, tenantID, connectionID string) (*PSPConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.connections[tenantID+"|"+connectionID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	cp := *conn
	return &cp, nil
}

func (m *MemoryStore) ListConnections(_ context.Context, tenantID string) ([]*PSPConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*PSPConnection
	for _, conn := range m.connections {
		if conn.TenantID == tenantID {
			cp := *conn
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
