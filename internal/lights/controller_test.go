package lights

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type mockAPI struct {
	manifest    Manifest
	manifestErr error
	live        []Resource
	liveQueries []string

	lightCalls []string
	groupCalls []string
	scenes     []string
	setErr     error
}

func (m *mockAPI) Manifest(ctx context.Context) (Manifest, error) {
	return m.manifest, m.manifestErr
}

func (m *mockAPI) FindLights(ctx context.Context, name string) ([]Resource, error) {
	m.liveQueries = append(m.liveQueries, name)
	return m.live, nil
}

func (m *mockAPI) SetLightState(ctx context.Context, id string, s State) error {
	m.lightCalls = append(m.lightCalls, id)
	return m.setErr
}

func (m *mockAPI) SetGroupState(ctx context.Context, id string, s State) error {
	m.groupCalls = append(m.groupCalls, id)
	return m.setErr
}

func (m *mockAPI) RecallScene(ctx context.Context, groupID, scene string) error {
	m.scenes = append(m.scenes, groupID+":"+scene)
	return m.setErr
}

func boolPtr(b bool) *bool { return &b }

func testManifest() Manifest {
	return Manifest{
		Rooms:  []Resource{{ID: "r1", Name: "Living Room"}, {ID: "r2", Name: "Kitchen"}},
		Zones:  []Resource{{ID: "z1", Name: "Downstairs"}},
		Lights: []Resource{{ID: "l1", Name: "Desk Lamp"}, {ID: "l2", Name: "Kitchen Pendant"}},
	}
}

func TestApply_DirectID(t *testing.T) {
	api := &mockAPI{manifestErr: errors.New("must not be called")}
	c := NewController(api)

	out, err := c.Apply(context.Background(), Command{TargetType: TargetLight, TargetID: "abc", State: State{On: boolPtr(true)}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(api.lightCalls) != 1 || api.lightCalls[0] != "abc" {
		t.Errorf("lightCalls = %v, want [abc]", api.lightCalls)
	}
	if !strings.Contains(out.Describe(), "turned on") {
		t.Errorf("Describe = %q", out.Describe())
	}
}

func TestApply_ResolutionOrder(t *testing.T) {
	tests := []struct {
		name      string
		wantType  string
		wantID    string
		wantGroup bool
	}{
		{"kitchen", TargetRoom, "r2", true},     // room beats the "Kitchen Pendant" light
		{"downstairs", TargetZone, "z1", true},  // zones after rooms
		{"desk", TargetLight, "l1", false},      // manifest light by substring
		{"LIVING room", TargetRoom, "r1", true}, // case-insensitive
	}
	for _, tt := range tests {
		api := &mockAPI{manifest: testManifest()}
		out, err := NewController(api).Apply(context.Background(), Command{TargetName: tt.name, State: State{On: boolPtr(false)}})
		if err != nil {
			t.Fatalf("Apply(%q): %v", tt.name, err)
		}
		if out.TargetType != tt.wantType || out.TargetID != tt.wantID {
			t.Errorf("Apply(%q) = %s/%s, want %s/%s", tt.name, out.TargetType, out.TargetID, tt.wantType, tt.wantID)
		}
		if tt.wantGroup && len(api.groupCalls) != 1 {
			t.Errorf("Apply(%q) groupCalls = %v", tt.name, api.groupCalls)
		}
		if !tt.wantGroup && len(api.lightCalls) != 1 {
			t.Errorf("Apply(%q) lightCalls = %v", tt.name, api.lightCalls)
		}
		if len(api.liveQueries) != 0 {
			t.Errorf("Apply(%q) made live query on a manifest hit", tt.name)
		}
	}
}

func TestApply_LiveQueryFallback(t *testing.T) {
	api := &mockAPI{manifest: testManifest(), live: []Resource{{ID: "l9", Name: "Porch"}}}

	out, err := NewController(api).Apply(context.Background(), Command{TargetName: "porch", State: State{On: boolPtr(true)}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(api.liveQueries) != 1 || api.liveQueries[0] != "porch" {
		t.Errorf("liveQueries = %v", api.liveQueries)
	}
	if out.TargetID != "l9" {
		t.Errorf("TargetID = %q, want l9", out.TargetID)
	}
}

func TestApply_NotFound(t *testing.T) {
	api := &mockAPI{manifest: testManifest()}

	_, err := NewController(api).Apply(context.Background(), Command{TargetName: "garage", State: State{On: boolPtr(true)}})
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
	if len(api.lightCalls)+len(api.groupCalls) != 0 {
		t.Error("no state change expected on NOT_FOUND")
	}
}

func TestApply_PropagatesBridgeError(t *testing.T) {
	api := &mockAPI{setErr: newError(KindRateLimited)}

	_, err := NewController(api).Apply(context.Background(), Command{TargetID: "abc", State: State{On: boolPtr(true)}})
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindRateLimited {
		t.Fatalf("err = %v, want RATE_LIMITED", err)
	}
}

func TestScene(t *testing.T) {
	api := &mockAPI{manifest: testManifest()}

	out, err := NewController(api).Scene(context.Background(), "living", "Relax")
	if err != nil {
		t.Fatalf("Scene: %v", err)
	}
	if out.TargetID != "r1" || len(api.scenes) != 1 || api.scenes[0] != "r1:Relax" {
		t.Errorf("Scene out=%+v scenes=%v", out, api.scenes)
	}

	if _, err := NewController(api).Scene(context.Background(), "attic", "Relax"); err == nil {
		t.Error("expected NOT_FOUND for unknown group")
	}
}

func TestOutcomeDescribe(t *testing.T) {
	b := 40
	tests := []struct {
		o    Outcome
		want string
	}{
		{Outcome{TargetType: TargetLight, TargetID: "abc", State: State{On: boolPtr(true)}}, "I've turned on the abc light."},
		{Outcome{TargetType: TargetRoom, TargetName: "Kitchen", State: State{On: boolPtr(false)}}, "I've turned off the Kitchen lights."},
		{Outcome{TargetType: TargetZone, TargetName: "Downstairs", State: State{On: boolPtr(true), Brightness: &b, Color: "blue"}}, "I've turned on the Downstairs lights at 40% brightness in blue."},
		{Outcome{TargetType: TargetLight, TargetName: "Desk Light", State: State{Brightness: &b}}, "I've set the Desk Light to 40% brightness."},
	}
	for _, tt := range tests {
		if got := tt.o.Describe(); got != tt.want {
			t.Errorf("Describe = %q, want %q", got, tt.want)
		}
	}
}
