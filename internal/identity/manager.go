// Package identity resolves users, their settings and the shared master
// configuration, and derives per-turn tool permissions from them.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/mira/internal/storage"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrMasterConfigNotFound = errors.New("master config not loaded")
)

// Master config keys in storage.
const (
	keyPersona        = "persona"
	keyGoal           = "goal"
	keyImmutableRules = "immutable_rules"
	keyAdminUserIDs   = "admin_user_ids"
	keyWorkforceTeam  = "workforce_team"
	keyRevision       = "revision" // written last by SetMasterConfig
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetUser(ctx context.Context, id string) (storage.User, error)
	UpdateUserSettings(ctx context.Context, id, settings string) error
	SetMasterKey(key, value string) error
	GetMasterKey(ctx context.Context, key string) (string, error)
	GetAllMasterKeys(ctx context.Context) (map[string]string, error)
}

// Manager reads identities from storage. Users and their settings are read
// fresh on every call. The master config is cached against its stored
// revision, which is checked on every call, so a write from any process
// (including `mira master load`) applies to the very next turn.
type Manager struct {
	store Store

	mu        sync.RWMutex
	cached    *MasterConfig
	cachedRev string
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) GetUser(ctx context.Context, id string) (User, error) {
	u, err := m.store.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return User{}, fmt.Errorf("loading user %s: %w", id, err)
	}
	return User{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     u.Role,
		UserType: u.UserType,
		Settings: decodeSettings(u.ID, u.Settings),
	}, nil
}

func decodeSettings(userID, raw string) Settings {
	var s Settings
	if raw == "" {
		return s
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		slog.Warn("malformed user settings, using defaults", "user_id", userID, "error", err)
		return Settings{}
	}
	return s
}

// UpdateSettings applies patch to the stored settings and returns the result.
func (m *Manager) UpdateSettings(ctx context.Context, id string, patch SettingsPatch) (Settings, error) {
	u, err := m.GetUser(ctx, id)
	if err != nil {
		return Settings{}, err
	}
	next := u.Settings.apply(patch)
	b, err := json.Marshal(next)
	if err != nil {
		return Settings{}, fmt.Errorf("encoding settings: %w", err)
	}
	if err := m.store.UpdateUserSettings(ctx, id, string(b)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Settings{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return Settings{}, fmt.Errorf("saving settings for %s: %w", id, err)
	}
	return next, nil
}

// GetMasterConfig returns the master config. Every call reads the stored
// revision; the full config is refetched only when it changed.
func (m *Manager) GetMasterConfig(ctx context.Context) (MasterConfig, error) {
	rev, err := m.store.GetMasterKey(ctx, keyRevision)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return MasterConfig{}, fmt.Errorf("loading master config revision: %w", err)
	}

	m.mu.RLock()
	if m.cached != nil && rev != "" && rev == m.cachedRev {
		mc := copyMaster(m.cached)
		m.mu.RUnlock()
		return mc, nil
	}
	m.mu.RUnlock()

	keys, err := m.store.GetAllMasterKeys(ctx)
	if err != nil {
		return MasterConfig{}, fmt.Errorf("loading master config: %w", err)
	}
	if len(keys) == 0 {
		return MasterConfig{}, ErrMasterConfigNotFound
	}
	mc := buildMaster(keys)

	m.mu.Lock()
	m.cached = &mc
	m.cachedRev = keys[keyRevision]
	m.mu.Unlock()
	return copyMaster(&mc), nil
}

func buildMaster(keys map[string]string) MasterConfig {
	mc := MasterConfig{
		Persona:       keys[keyPersona],
		Goal:          keys[keyGoal],
		WorkforceTeam: keys[keyWorkforceTeam],
	}
	unmarshalKey(keys, keyImmutableRules, &mc.ImmutableRules)
	unmarshalKey(keys, keyAdminUserIDs, &mc.AdminUserIDs)
	return mc
}

func unmarshalKey(keys map[string]string, key string, target any) {
	v, ok := keys[key]
	if !ok || v == "" {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed master config key, skipping", "key", key, "error", err)
	}
}

func copyMaster(mc *MasterConfig) MasterConfig {
	cp := *mc
	cp.ImmutableRules = append([]string(nil), mc.ImmutableRules...)
	cp.AdminUserIDs = append([]string(nil), mc.AdminUserIDs...)
	return cp
}

// SetMasterConfig stores mc and bumps the revision so every Manager on the
// same store refetches.
func (m *Manager) SetMasterConfig(mc MasterConfig) error {
	if strings.TrimSpace(mc.Persona) == "" {
		return fmt.Errorf("master config requires a persona")
	}
	rules, err := json.Marshal(nonNil(mc.ImmutableRules))
	if err != nil {
		return err
	}
	admins, err := json.Marshal(nonNil(mc.AdminUserIDs))
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range [][2]string{
		{keyPersona, mc.Persona},
		{keyGoal, mc.Goal},
		{keyImmutableRules, string(rules)},
		{keyAdminUserIDs, string(admins)},
		{keyWorkforceTeam, mc.WorkforceTeam},
		{keyRevision, uuid.NewString()},
	} {
		if err := m.store.SetMasterKey(kv[0], kv[1]); err != nil {
			return fmt.Errorf("setting master key %q: %w", kv[0], err)
		}
	}
	m.cached = nil
	return nil
}

// LoadMasterFile reads a YAML master config from path and stores it.
func (m *Manager) LoadMasterFile(path string) (MasterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MasterConfig{}, fmt.Errorf("reading master config: %w", err)
	}
	var mc MasterConfig
	if err := yaml.Unmarshal(data, &mc); err != nil {
		return MasterConfig{}, fmt.Errorf("parsing master config %s: %w", path, err)
	}
	if err := m.SetMasterConfig(mc); err != nil {
		return MasterConfig{}, err
	}
	return mc, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
