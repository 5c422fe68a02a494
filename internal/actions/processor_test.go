package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/mira/internal/identity"
	"github.com/kalambet/mira/internal/lights"
	"github.com/kalambet/mira/internal/memory"
	"github.com/kalambet/mira/internal/schedule"
	"github.com/kalambet/mira/internal/storage"
)

type mockScheduler struct {
	reqs []schedule.Request
	err  error
}

func (m *mockScheduler) Create(_ context.Context, userID string, req schedule.Request) (storage.Reminder, error) {
	if m.err != nil {
		return storage.Reminder{}, m.err
	}
	m.reqs = append(m.reqs, req)
	r := storage.Reminder{ID: "r1", UserID: userID, Title: req.Title, At: req.At, CronExpr: req.Cron, Kind: schedule.KindAt}
	if req.Cron != "" {
		r.Kind = schedule.KindCron
	}
	return r, nil
}

type mockDevices struct {
	applied []lights.Command
	scenes  []string
	err     error
}

func (m *mockDevices) Apply(_ context.Context, cmd lights.Command) (lights.Outcome, error) {
	if m.err != nil {
		return lights.Outcome{}, m.err
	}
	m.applied = append(m.applied, cmd)
	return lights.Outcome{TargetType: cmd.TargetType, TargetID: cmd.TargetID, TargetName: cmd.TargetName, State: cmd.State}, nil
}

func (m *mockDevices) Scene(_ context.Context, group, scene string) (lights.Outcome, error) {
	if m.err != nil {
		return lights.Outcome{}, m.err
	}
	m.scenes = append(m.scenes, group+"/"+scene)
	return lights.Outcome{TargetType: lights.TargetRoom, TargetName: group}, nil
}

type loggedTurn struct {
	userID, role, content string
	meta                  memory.Meta
}

type mockLog struct {
	turns []loggedTurn
	err   error
}

func (m *mockLog) AppendTurn(_ context.Context, userID, role, content string, meta memory.Meta) error {
	m.turns = append(m.turns, loggedTurn{userID, role, content, meta})
	return m.err
}

func newTestProcessor() (*Processor, *mockScheduler, *mockDevices, *mockLog) {
	s, d, l := &mockScheduler{}, &mockDevices{}, &mockLog{}
	p := NewProcessor(s, d, l)
	p.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return p, s, d, l
}

func TestProcess_NoBlocks(t *testing.T) {
	p, _, _, _ := newTestProcessor()
	for _, text := range []string{
		"Just a normal reply.",
		"Here is some code:\n```go\nfmt.Println(1)\n```",
		"Data:\n```json\n{\"temperature\": 21}\n```",
	} {
		if res := p.Process(context.Background(), text, "u1", identity.Settings{}); res != nil {
			t.Errorf("Process(%q) = %+v, want nil", text, res)
		}
	}
}

func TestProcess_LightsConfirmationReplacesText(t *testing.T) {
	p, _, d, l := newTestProcessor()
	text := "```json\n{\"action\":\"control_lights\",\"targetType\":\"light\",\"targetId\":\"abc\",\"state\":\"on\"}\n```\nThere you go, enjoy the light!"

	res := p.Process(context.Background(), text, "u1", identity.Settings{})
	if res == nil {
		t.Fatal("Process returned nil")
	}
	if !strings.Contains(res.ActionConfirmation, "turned on") {
		t.Errorf("confirmation = %q", res.ActionConfirmation)
	}
	if res.CleanedResponse != res.ActionConfirmation {
		t.Errorf("cleaned = %q, want confirmation %q", res.CleanedResponse, res.ActionConfirmation)
	}
	if len(d.applied) != 1 || d.applied[0].TargetID != "abc" || !*d.applied[0].State.On {
		t.Errorf("applied = %+v", d.applied)
	}
	if len(l.turns) != 1 {
		t.Fatalf("logged turns = %d", len(l.turns))
	}
	lt := l.turns[0]
	if lt.role != "system" || strings.Join(lt.meta.Tags, ",") != "action,lights" {
		t.Errorf("logged turn = %+v", lt)
	}
}

func TestProcess_Reminder(t *testing.T) {
	p, s, _, l := newTestProcessor()
	text := "Sure!\n```action\n{\"action\":\"create_reminder\",\"title\":\"stretch\",\"time\":\"in 30 minutes\"}\n```"

	res := p.Process(context.Background(), text, "u1", identity.Settings{Timezone: "UTC"})
	if res.Succeeded != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(s.reqs) != 1 || !s.reqs[0].At.Equal(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("requests = %+v", s.reqs)
	}
	if !strings.Contains(res.CleanedResponse, "stretch") || !strings.Contains(res.CleanedResponse, "9:30 AM") {
		t.Errorf("cleaned = %q", res.CleanedResponse)
	}
	if strings.Join(l.turns[0].meta.Tags, ",") != "action,reminder" {
		t.Errorf("tags = %v", l.turns[0].meta.Tags)
	}
}

func TestProcess_RecurringAlias(t *testing.T) {
	p, s, _, _ := newTestProcessor()
	text := "```\n{\"action\":\"schedule\",\"title\":\"standup\",\"cron\":\"0 9 * * 1-5\"}\n```"
	res := p.Process(context.Background(), text, "u1", identity.Settings{})
	if res == nil || res.Succeeded != 1 || s.reqs[0].Cron != "0 9 * * 1-5" {
		t.Fatalf("result = %+v, reqs = %+v", res, s.reqs)
	}
	if !strings.Contains(res.CleanedResponse, "recurring") {
		t.Errorf("cleaned = %q", res.CleanedResponse)
	}
}

func TestProcess_FailureContinues(t *testing.T) {
	p, _, d, l := newTestProcessor()
	text := "```action\n{not json}\n```\n" +
		"```action\n{\"action\":\"create_reminder\",\"title\":\"x\",\"time\":\"whenever\"}\n```\n" +
		"```action\n{\"action\":\"lights\",\"targetName\":\"kitchen\",\"state\":\"off\"}\n```"

	res := p.Process(context.Background(), text, "u1", identity.Settings{})
	if res.Succeeded != 1 || res.Failed != 2 {
		t.Errorf("succeeded = %d, failed = %d", res.Succeeded, res.Failed)
	}
	if len(d.applied) != 1 || d.applied[0].TargetName != "kitchen" {
		t.Errorf("applied = %+v", d.applied)
	}
	if !strings.Contains(res.CleanedResponse, "Sorry, I couldn't set that reminder") || !strings.Contains(res.CleanedResponse, "turned off") {
		t.Errorf("cleaned = %q", res.CleanedResponse)
	}
	if len(l.turns) != 1 {
		t.Errorf("only the successful action should be logged, got %d", len(l.turns))
	}
}

func TestProcess_DeviceErrorApology(t *testing.T) {
	p, _, d, l := newTestProcessor()
	d.err = &lights.Error{Kind: lights.KindNotFound, Message: "I couldn't find those lights"}
	text := "```action\n{\"action\":\"control_lights\",\"targetName\":\"garage\",\"state\":\"on\"}\n```"

	res := p.Process(context.Background(), text, "u1", identity.Settings{})
	if res.CleanedResponse != "Sorry, I couldn't find those lights." {
		t.Errorf("cleaned = %q", res.CleanedResponse)
	}
	if strings.Contains(res.CleanedResponse, "NOT_FOUND") {
		t.Error("error kind prefix leaked")
	}
	if len(l.turns) != 0 {
		t.Error("failed action was logged")
	}
}

func TestProcess_Scene(t *testing.T) {
	p, _, d, _ := newTestProcessor()
	text := "```action\n{\"action\":\"control_lights\",\"targetName\":\"living room\",\"scene\":\"relax\"}\n```"
	res := p.Process(context.Background(), text, "u1", identity.Settings{})
	if len(d.scenes) != 1 || d.scenes[0] != "living room/relax" {
		t.Errorf("scenes = %v", d.scenes)
	}
	if !strings.Contains(res.CleanedResponse, "relax scene") {
		t.Errorf("cleaned = %q", res.CleanedResponse)
	}
}

func TestProcess_AlwaysStripsFences(t *testing.T) {
	p, s, _, _ := newTestProcessor()
	s.err = errors.New("db locked")

	for n := 1; n <= 4; n++ {
		var b strings.Builder
		b.WriteString("Intro.\n")
		for i := range n {
			fmt.Fprintf(&b, "```action\n{\"action\":\"create_reminder\",\"title\":\"t%d\",\"time\":\"in 5 minutes\"}\n```\nmiddle %d\n", i, i)
		}
		res := p.Process(context.Background(), b.String(), "u1", identity.Settings{})
		if res == nil {
			t.Fatalf("n=%d: nil result", n)
		}
		if strings.Contains(res.CleanedResponse, "```") {
			t.Errorf("n=%d: fence left in %q", n, res.CleanedResponse)
		}
		if res.Failed != n {
			t.Errorf("n=%d: failed = %d", n, res.Failed)
		}
	}
}

func TestProcess_MalformedOnlyKeepsProse(t *testing.T) {
	p, _, _, _ := newTestProcessor()
	res := p.Process(context.Background(), "Okay!\n```action\n{\"oops\":true}\n```\nAnything else?", "u1", identity.Settings{})
	if res == nil || res.ActionConfirmation != "" {
		t.Fatalf("result = %+v", res)
	}
	if res.CleanedResponse != "Okay!\n\nAnything else?" {
		t.Errorf("cleaned = %q", res.CleanedResponse)
	}
}

func TestProcess_NilCollaborators(t *testing.T) {
	p := NewProcessor(nil, nil, nil)
	res := p.Process(context.Background(), "```action\n{\"action\":\"lights\",\"targetName\":\"x\",\"state\":\"on\"}\n```", "u1", identity.Settings{})
	if res.Failed != 1 || !strings.HasPrefix(res.CleanedResponse, "Sorry,") {
		t.Errorf("result = %+v", res)
	}
}
