package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumbh-rakshak/kr-backend/internal/identity/domain"
)

func TestFlowForState(t *testing.T) {
	assert.Equal(t, FlowUserTypeSelection, FlowForState(StateUnauthenticated))
	assert.Equal(t, FlowUserTypeSelection, FlowForState(StateLoggingOut))
	assert.Equal(t, FlowLoading, FlowForState(StateAuthenticating))
	assert.Equal(t, FlowMain, FlowForState(StateAuthenticated))
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("never registered shows user-type selection", func(t *testing.T) {
		rec, _, _ := setupReconciler(t)
		flow, err := rec.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, FlowUserTypeSelection, flow)
	})

	t.Run("authenticated session shows the main experience", func(t *testing.T) {
		rec, _, _ := setupReconciler(t)
		register(t, rec, "a@x.com", domain.RoleGeneralUser)

		flow, err := rec.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, FlowMain, flow)
	})

	t.Run("cold start offline with a cached session still reaches main", func(t *testing.T) {
		rec, dir, store := setupReconciler(t)
		register(t, rec, "a@x.com", domain.RoleVolunteer)

		dir.setOffline(true)
		cold := NewReconciler(dir, store, Config{AllowDegradedVolunteer: true})
		flow, err := cold.Bootstrap(ctx)
		require.NoError(t, err)
		assert.Equal(t, FlowMain, flow)
	})
}
