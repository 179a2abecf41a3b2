package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/club-activator/internal/model"
	"github.com/nhle/club-activator/internal/store"
)

// NewTestStore opens an in-memory sqlite account store with every
// migration applied. The store is closed when the test ends.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "opening test store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedAccount inserts an account for login with the given status. The
// address is login@example.com.
func SeedAccount(
	t *testing.T,
	s store.Store,
	login, password string,
	status model.ActivationStatus,
) *model.Account {
	t.Helper()
	ctx := context.Background()

	acc, err := s.Insert(ctx, login, password, login+"@example.com")
	require.NoError(t, err, "seeding %s", login)

	if status != model.ActivationPending {
		at := time.Now().UTC()
		require.NoError(t, s.UpdateActivation(ctx, acc.ID, status, at))
		acc.Activated = status
		acc.UpdatedAt = at
	}
	return acc
}
