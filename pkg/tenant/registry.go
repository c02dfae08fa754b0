package tenant

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/apierr"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

const keyPrefix = "hutch_"

// Registry maps API keys to application records and enforces the
// allowed-queue policy. Reads go through an in-memory cache keyed by key
// hash; mutations write through to the store and rebuild the cache.
type Registry struct {
	store       storage.Store
	authEnabled bool
	masterHash  []byte

	mu     sync.RWMutex
	byHash map[string]*types.Application

	logger zerolog.Logger
}

// NewRegistry creates a registry backed by the given store. masterKey is
// the configured master identity key; authEnabled=false turns every
// request into a master request (development mode).
func NewRegistry(store storage.Store, masterKey string, authEnabled bool) (*Registry, error) {
	r := &Registry{
		store:       store,
		authEnabled: authEnabled,
		masterHash:  []byte(HashKey(masterKey)),
		logger:      log.WithComponent("tenant"),
	}
	if err := r.reload(); err != nil {
		return nil, fmt.Errorf("failed to load applications: %w", err)
	}
	return r, nil
}

// HashKey returns the hex SHA-256 of an API key. Keys are stored hashed;
// the plaintext is only ever returned once, at creation time.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey creates a new random API key
func GenerateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}

// Master returns the synthetic master application
func Master() *types.Application {
	return &types.Application{
		ID:   types.MasterApplicationID,
		Name: "master",
		Settings: types.ApplicationSettings{
			AllowedQueues: []string{"*"},
		},
	}
}

// Authenticate resolves an API key to an application
func (r *Registry) Authenticate(key string) (*types.Application, error) {
	if !r.authEnabled {
		return Master(), nil
	}
	if key == "" {
		return nil, apierr.MissingAPIKey()
	}

	hash := HashKey(key)
	if subtle.ConstantTimeCompare([]byte(hash), r.masterHash) == 1 {
		return Master(), nil
	}

	r.mu.RLock()
	app, ok := r.byHash[hash]
	r.mu.RUnlock()
	if !ok {
		return nil, apierr.InvalidAPIKey()
	}
	return app, nil
}

// Authorize checks the allowed-queue policy of an application against a
// queue name. Patterns use glob syntax; "*" grants everything.
func (r *Registry) Authorize(app *types.Application, queue string) error {
	if app.IsMaster() {
		return nil
	}
	for _, pattern := range app.Settings.AllowedQueues {
		if pattern == "*" {
			return nil
		}
		if ok, err := doublestar.Match(pattern, queue); err == nil && ok {
			return nil
		}
	}
	return apierr.QueueAccessDenied(queue)
}

// AllowedQueues filters queue names down to those the application may use
func (r *Registry) AllowedQueues(app *types.Application, queues []string) []string {
	allowed := make([]string, 0, len(queues))
	for _, q := range queues {
		if r.Authorize(app, q) == nil {
			allowed = append(allowed, q)
		}
	}
	return allowed
}

// Create registers a new application and returns it together with the
// plaintext API key. The key cannot be recovered later.
func (r *Registry) Create(name string, settings types.ApplicationSettings) (*types.Application, string, error) {
	if name == "" {
		return nil, "", apierr.New(apierr.CodeValidation, "application name is required")
	}
	if len(settings.AllowedQueues) == 0 {
		settings.AllowedQueues = []string{"*"}
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	app := &types.Application{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   HashKey(key),
		KeyHint:   key[:len(keyPrefix)+6],
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.CreateApplication(app); err != nil {
		return nil, "", fmt.Errorf("failed to persist application: %w", err)
	}
	if err := r.reload(); err != nil {
		return nil, "", err
	}

	r.logger.Info().Str("application_id", app.ID).Str("name", name).Msg("application created")
	return app, key, nil
}

// Get returns an application by id
func (r *Registry) Get(id string) (*types.Application, error) {
	app, err := r.store.GetApplication(id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, apierr.New(apierr.CodeApplicationNotFound, "application %q not found", id)
		}
		return nil, err
	}
	return app, nil
}

// List returns all applications
func (r *Registry) List() ([]*types.Application, error) {
	return r.store.ListApplications()
}

// Update mutates name and settings of an application
func (r *Registry) Update(id string, name *string, settings *types.ApplicationSettings) (*types.Application, error) {
	app, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		app.Name = *name
	}
	if settings != nil {
		app.Settings = *settings
	}
	app.UpdatedAt = time.Now()

	if err := r.store.UpdateApplication(app); err != nil {
		return nil, fmt.Errorf("failed to update application: %w", err)
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return app, nil
}

// Delete removes an application
func (r *Registry) Delete(id string) error {
	if err := r.store.DeleteApplication(id); err != nil {
		if storage.IsNotFound(err) {
			return apierr.New(apierr.CodeApplicationNotFound, "application %q not found", id)
		}
		return err
	}
	return r.reload()
}

func (r *Registry) reload() error {
	apps, err := r.store.ListApplications()
	if err != nil {
		return err
	}
	byHash := make(map[string]*types.Application, len(apps))
	for _, app := range apps {
		if app.KeyHash != "" {
			byHash[app.KeyHash] = app
		}
	}
	r.mu.Lock()
	r.byHash = byHash
	r.mu.Unlock()
	return nil
}
