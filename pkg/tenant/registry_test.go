package tenant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := NewRegistry(store, "master-secret", true)
	require.NoError(t, err)
	return reg
}

func TestAuthenticateMaster(t *testing.T) {
	reg := newTestRegistry(t)

	app, err := reg.Authenticate("master-secret")
	require.NoError(t, err)
	assert.True(t, app.IsMaster())
}

func TestAuthenticateMissingAndInvalid(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Authenticate("")
	assert.Equal(t, apierr.CodeMissingAPIKey, apierr.CodeOf(err))

	_, err = reg.Authenticate("hutch_bogus")
	assert.Equal(t, apierr.CodeInvalidAPIKey, apierr.CodeOf(err))
}

func TestAuthDisabledGrantsMaster(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := NewRegistry(store, "", false)
	require.NoError(t, err)

	app, err := reg.Authenticate("")
	require.NoError(t, err)
	assert.True(t, app.IsMaster())
}

func TestCreateAndAuthenticate(t *testing.T) {
	reg := newTestRegistry(t)

	app, key, err := reg.Create("billing", types.ApplicationSettings{
		AllowedQueues: []string{"email", "webhook"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "hutch_"))
	assert.NotEmpty(t, app.ID)
	assert.Equal(t, HashKey(key), app.KeyHash)

	got, err := reg.Authenticate(key)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)
	assert.False(t, got.IsMaster())
}

func TestAuthorize(t *testing.T) {
	reg := newTestRegistry(t)

	app := &types.Application{
		ID: "app-1",
		Settings: types.ApplicationSettings{
			AllowedQueues: []string{"email", "reports-*"},
		},
	}

	assert.NoError(t, reg.Authorize(app, "email"))
	assert.NoError(t, reg.Authorize(app, "reports-daily"))

	err := reg.Authorize(app, "payments")
	assert.Equal(t, apierr.CodeQueueAccessDenied, apierr.CodeOf(err))

	assert.NoError(t, reg.Authorize(Master(), "payments"))

	wildcard := &types.Application{
		ID:       "app-2",
		Settings: types.ApplicationSettings{AllowedQueues: []string{"*"}},
	}
	assert.NoError(t, reg.Authorize(wildcard, "anything"))
}

func TestAllowedQueuesFilter(t *testing.T) {
	reg := newTestRegistry(t)

	app := &types.Application{
		ID:       "app-1",
		Settings: types.ApplicationSettings{AllowedQueues: []string{"email"}},
	}

	allowed := reg.AllowedQueues(app, []string{"email", "payments", "webhook"})
	assert.Equal(t, []string{"email"}, allowed)
}

func TestUpdateAndDelete(t *testing.T) {
	reg := newTestRegistry(t)

	app, key, err := reg.Create("old-name", types.ApplicationSettings{})
	require.NoError(t, err)

	newName := "new-name"
	updated, err := reg.Update(app.ID, &newName, nil)
	require.NoError(t, err)
	assert.Equal(t, "new-name", updated.Name)

	// Key still resolves after update
	_, err = reg.Authenticate(key)
	require.NoError(t, err)

	require.NoError(t, reg.Delete(app.ID))
	_, err = reg.Authenticate(key)
	assert.Equal(t, apierr.CodeInvalidAPIKey, apierr.CodeOf(err))

	err = reg.Delete(app.ID)
	assert.Equal(t, apierr.CodeApplicationNotFound, apierr.CodeOf(err))
}
