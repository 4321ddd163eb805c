package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tenant := &Tenant{
		ID:           "t_1",
		Name:         "Acme Gaming",
		Slug:         "acme",
		BaseCurrency: "USD",
		Status:       StatusActive,
		Settings:     DefaultSettings(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	// Create
	err := store.Create(ctx, tenant)
	require.NoError(t, err)

	// Get by ID
	got, err := store.Get(ctx, "t_1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Gaming", got.Name)
	assert.Equal(t, "USD", got.BaseCurrency)

	// Get by slug
	got, err = store.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "t_1", got.ID)

	// Update
	got.Name = "Acme Inc"
	err = store.Update(ctx, got)
	require.NoError(t, err)

	got2, _ := store.Get(ctx, "t_1")
	assert.Equal(t, "Acme Inc", got2.Name)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	_, err = store.GetBySlug(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	err = store.Update(ctx, &Tenant{ID: "nonexistent"})
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryStore_DuplicateSlug(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Create(ctx, &Tenant{ID: "t_1", Slug: "acme"})
	err := store.Create(ctx, &Tenant{ID: "t_2", Slug: "acme"})
	assert.ErrorIs(t, err, ErrSlugTaken)
}

func TestMemoryStore_Connections(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Create(ctx, &Tenant{ID: "t_1", Slug: "acme"})

	err := store.CreateConnection(ctx, &PSPConnection{ID: "stripe_main", TenantID: "t_1", Provider: "stripe", Active: true})
	require.NoError(t, err)
	err = store.CreateConnection(ctx, &PSPConnection{ID: "adyen_eu", TenantID: "t_1", Provider: "adyen", Active: true})
	require.NoError(t, err)

	// Duplicate connection id for the same tenant is rejected
	err = store.CreateConnection(ctx, &PSPConnection{ID: "stripe_main", TenantID: "t_1", Provider: "stripe"})
	assert.ErrorIs(t, err, ErrConnectionExists)

	// Same id under a different tenant is fine
	err = store.CreateConnection(ctx, &PSPConnection{ID: "stripe_main", TenantID: "t_2", Provider: "stripe"})
	require.NoError(t, err)

	conns, err := store.ListConnections(ctx, "t_1")
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "adyen_eu", conns[0].ID) // sorted by id

	got, err := store.GetConnection(ctx, "t_1", "stripe_main")
	require.NoError(t, err)
	assert.Equal(t, "stripe", got.Provider)

	_, err = store.GetConnection(ctx, "t_1", "missing")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestSettings_Normalize(t *testing.T) {
	// Zero settings pick up all defaults
	s := Settings{}.Normalize()
	assert.Equal(t, DefaultSettings(), s)

	// Explicit values survive
	s = Settings{AmountTolerancePct: 0.01, HighValueThreshold: 500_000}.Normalize()
	assert.Equal(t, 0.01, s.AmountTolerancePct)
	assert.Equal(t, int64(500_000), s.HighValueThreshold)
	assert.Equal(t, DefaultSettings().DateWindowDays, s.DateWindowDays)
	assert.Equal(t, DefaultSettings().ApprovalThreshold, s.ApprovalThreshold)
}
