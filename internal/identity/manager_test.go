package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kalambet/mira/internal/storage"
)

// countingStore wraps a real store and counts master config reads.
type countingStore struct {
	*storage.Store
	mu          sync.Mutex
	masterReads int
}

func (s *countingStore) GetAllMasterKeys(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	s.masterReads++
	s.mu.Unlock()
	return s.Store.GetAllMasterKeys(ctx)
}

func newTestManager(t *testing.T) (*Manager, *countingStore) {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cs := &countingStore{Store: st}
	return NewManager(cs), cs
}

func TestGetUser(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	st.CreateUser(ctx, storage.User{ID: "u1", Name: "Sam", Role: RoleMember, UserType: TypeEngineer,
		Settings: `{"personal_prompt":"be brief","web_search":true}`})

	u, err := m.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.UserType != TypeEngineer || u.Settings.PersonalPrompt != "be brief" || !u.Settings.WebSearch {
		t.Errorf("GetUser = %+v", u)
	}

	if _, err := m.GetUser(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUser(ghost) = %v, want ErrUserNotFound", err)
	}
}

func TestGetUser_MalformedSettings(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	st.CreateUser(ctx, storage.User{ID: "u1", Settings: `{not json`})

	u, err := m.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Settings != (Settings{}) {
		t.Errorf("Settings = %+v, want zero", u.Settings)
	}
}

func TestUpdateSettings(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	st.CreateUser(ctx, storage.User{ID: "u1", Settings: `{"personal_prompt":"hi","lights_connected":true}`})

	on := true
	got, err := m.UpdateSettings(ctx, "u1", SettingsPatch{WebSearch: &on})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if !got.WebSearch || !got.LightsConnected || got.PersonalPrompt != "hi" {
		t.Errorf("UpdateSettings = %+v", got)
	}

	u, _ := m.GetUser(ctx, "u1")
	if !u.Settings.WebSearch {
		t.Error("settings change not visible on next read")
	}

	if _, err := m.UpdateSettings(ctx, "ghost", SettingsPatch{}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdateSettings(ghost) = %v", err)
	}
}

func TestGetMasterConfig_Missing(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.GetMasterConfig(context.Background()); !errors.Is(err, ErrMasterConfigNotFound) {
		t.Errorf("GetMasterConfig = %v, want ErrMasterConfigNotFound", err)
	}
}

func TestGetMasterConfig_CachedUntilRevisionChanges(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	if err := m.SetMasterConfig(MasterConfig{Persona: "Mira", ImmutableRules: []string{"no medical advice"}}); err != nil {
		t.Fatalf("SetMasterConfig: %v", err)
	}

	for i := 0; i < 3; i++ {
		mc, err := m.GetMasterConfig(ctx)
		if err != nil {
			t.Fatalf("GetMasterConfig: %v", err)
		}
		if mc.Persona != "Mira" || len(mc.ImmutableRules) != 1 {
			t.Errorf("GetMasterConfig = %+v", mc)
		}
		mc.ImmutableRules[0] = "mutated"
	}
	if st.masterReads != 1 {
		t.Errorf("master reads = %d, want 1 (cached)", st.masterReads)
	}

	mc, _ := m.GetMasterConfig(ctx)
	if mc.ImmutableRules[0] != "no medical advice" {
		t.Error("cached master config was mutated through a returned copy")
	}

	if err := m.SetMasterConfig(MasterConfig{Persona: "Mira 2"}); err != nil {
		t.Fatalf("SetMasterConfig: %v", err)
	}
	mc, _ = m.GetMasterConfig(ctx)
	if mc.Persona != "Mira 2" || st.masterReads != 2 {
		t.Errorf("after rewrite: persona %q, reads %d; want Mira 2, 2", mc.Persona, st.masterReads)
	}
}

func TestGetMasterConfig_AdminRemovedByOtherManager(t *testing.T) {
	server, st := newTestManager(t)
	ctx := context.Background()
	st.CreateUser(ctx, storage.User{ID: "u1", Role: RoleMember, UserType: TypeCompanion})

	if err := server.SetMasterConfig(MasterConfig{Persona: "Mira", AdminUserIDs: []string{"u1"}}); err != nil {
		t.Fatalf("SetMasterConfig: %v", err)
	}
	u, _ := server.GetUser(ctx, "u1")
	mc, err := server.GetMasterConfig(ctx)
	if err != nil {
		t.Fatalf("GetMasterConfig: %v", err)
	}
	if !Derive(u, mc).IsAdmin {
		t.Fatal("u1 should be admin while listed")
	}

	// A separate manager on the same store, as `mira master load` uses.
	cli := NewManager(st.Store)
	if err := cli.SetMasterConfig(MasterConfig{Persona: "Mira"}); err != nil {
		t.Fatalf("SetMasterConfig: %v", err)
	}

	mc, err = server.GetMasterConfig(ctx)
	if err != nil {
		t.Fatalf("GetMasterConfig: %v", err)
	}
	if Derive(u, mc).IsAdmin {
		t.Error("admin grant survived removal on the next turn")
	}
}

func TestLoadMasterFile(t *testing.T) {
	m, _ := newTestManager(t)
	path := filepath.Join(t.TempDir(), "master.yaml")
	yamlDoc := `persona: You are Mira, a warm voice companion.
goal: Help the user through their day.
immutable_rules:
  - Never give medical dosage advice.
  - Never share one user's data with another.
admin_user_ids: [ops-1]
workforce_team: team-core
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	mc, err := m.LoadMasterFile(path)
	if err != nil {
		t.Fatalf("LoadMasterFile: %v", err)
	}
	if len(mc.ImmutableRules) != 2 || mc.AdminUserIDs[0] != "ops-1" {
		t.Errorf("parsed = %+v", mc)
	}

	got, err := m.GetMasterConfig(context.Background())
	if err != nil {
		t.Fatalf("GetMasterConfig: %v", err)
	}
	if got.WorkforceTeam != "team-core" || got.Goal == "" {
		t.Errorf("stored = %+v", got)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("goal: no persona\n"), 0o644)
	if _, err := m.LoadMasterFile(bad); err == nil {
		t.Error("expected error for master config without persona")
	}
}
