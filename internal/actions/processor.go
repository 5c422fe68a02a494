// Package actions executes the structured command blocks a model embeds in
// its reply and strips them from what the user sees.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/mira/internal/identity"
	"github.com/kalambet/mira/internal/lights"
	"github.com/kalambet/mira/internal/memory"
	"github.com/kalambet/mira/internal/schedule"
	"github.com/kalambet/mira/internal/storage"
)

// Action discriminants. The short forms are accepted as aliases.
const (
	ActionCreateReminder = "create_reminder"
	ActionControlLights  = "control_lights"

	aliasSchedule = "schedule"
	aliasLights   = "lights"
)

const (
	kindReminder = "reminder"
	kindLights   = "lights"
)

const defaultActionTimeout = 10 * time.Second

// fence matches ```action, ```json and bare ``` blocks.
var fence = regexp.MustCompile("(?s)```[ \t]*(action|json)?[ \t]*\r?\n?(.*?)```")

type Scheduler interface {
	Create(ctx context.Context, userID string, req schedule.Request) (storage.Reminder, error)
}

type DeviceController interface {
	Apply(ctx context.Context, cmd lights.Command) (lights.Outcome, error)
	Scene(ctx context.Context, group, scene string) (lights.Outcome, error)
}

// TurnLogger records executed actions in the conversation log.
type TurnLogger interface {
	AppendTurn(ctx context.Context, userID, role, content string, meta memory.Meta) error
}

// Command is the decoded body of one block.
type Command struct {
	Action string `json:"action"`

	// Reminders.
	Title string `json:"title"`
	Time  string `json:"time"`
	Cron  string `json:"cron"`

	// Lights.
	lights.Request
	Scene string `json:"scene"`
}

// Result is the outcome of processing one response.
type Result struct {
	CleanedResponse    string
	ActionConfirmation string
	Succeeded          int
	Failed             int
}

type Processor struct {
	scheduler Scheduler
	devices   DeviceController
	log       TurnLogger
	logger    *slog.Logger
	now       func() time.Time

	// Timeout bounds each block's side effect.
	Timeout time.Duration
}

// NewProcessor wires the processor. Any collaborator may be nil; blocks that
// need a missing one fail with an apology.
func NewProcessor(scheduler Scheduler, devices DeviceController, log TurnLogger) *Processor {
	return &Processor{
		scheduler: scheduler,
		devices:   devices,
		log:       log,
		logger:    slog.Default(),
		now:       time.Now,
		Timeout:   defaultActionTimeout,
	}
}

type block struct {
	start, end int
	cmd        Command
	err        error
}

// findBlocks returns the command blocks in text. A tagged ```action block is
// always a command; ```json and bare blocks are commands only when their
// body is a JSON object with an "action" field.
func findBlocks(text string) []block {
	var out []block
	for _, m := range fence.FindAllStringSubmatchIndex(text, -1) {
		tag := ""
		if m[2] >= 0 {
			tag = text[m[2]:m[3]]
		}
		body := strings.TrimSpace(text[m[4]:m[5]])

		var cmd Command
		err := json.Unmarshal([]byte(body), &cmd)
		if tag != "action" && (err != nil || cmd.Action == "") {
			continue
		}
		if err == nil && cmd.Action == "" {
			err = errors.New("missing action field")
		}
		out = append(out, block{start: m[0], end: m[1], cmd: cmd, err: err})
	}
	return out
}

// Process executes every command block in text. It returns nil when text
// has no blocks. Blocks are always stripped from the cleaned response; when
// any block produced a confirmation, the confirmation replaces the text.
func (p *Processor) Process(ctx context.Context, text, userID string, settings identity.Settings) *Result {
	blocks := findBlocks(text)
	if len(blocks) == 0 {
		return nil
	}

	res := &Result{}
	var confirmations []string
	var stripped strings.Builder
	last := 0
	for _, b := range blocks {
		stripped.WriteString(text[last:b.start])
		last = b.end

		if b.err != nil {
			res.Failed++
			p.logger.Warn("skipping malformed action block", "user_id", userID, "error", b.err)
			continue
		}
		msg, ok := p.execute(ctx, b.cmd, userID, settings)
		if ok {
			res.Succeeded++
		} else {
			res.Failed++
		}
		if msg != "" {
			confirmations = append(confirmations, msg)
		}
	}
	stripped.WriteString(text[last:])

	res.ActionConfirmation = strings.Join(confirmations, " ")
	if res.ActionConfirmation != "" {
		res.CleanedResponse = res.ActionConfirmation
	} else {
		res.CleanedResponse = strings.TrimSpace(stripped.String())
	}
	return res
}

func (p *Processor) execute(ctx context.Context, cmd Command, userID string, settings identity.Settings) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	switch strings.ToLower(cmd.Action) {
	case ActionCreateReminder, aliasSchedule:
		msg, err := p.reminder(ctx, cmd, userID, settings)
		if err != nil {
			p.logger.Warn("reminder action failed", "user_id", userID, "error", err)
			return reminderApology(err), false
		}
		p.record(ctx, userID, kindReminder, msg)
		return msg, true
	case ActionControlLights, aliasLights:
		msg, err := p.lights(ctx, cmd)
		if err != nil {
			p.logger.Warn("lights action failed", "user_id", userID, "error", err)
			return "Sorry, " + lights.UserMessage(err) + ".", false
		}
		p.record(ctx, userID, kindLights, msg)
		return msg, true
	default:
		p.logger.Warn("unknown action", "user_id", userID, "action", cmd.Action)
		return "", false
	}
}

func (p *Processor) reminder(ctx context.Context, cmd Command, userID string, settings identity.Settings) (string, error) {
	if p.scheduler == nil {
		return "", errors.New("no scheduler configured")
	}
	loc := location(settings.Timezone)
	req := schedule.Request{Title: cmd.Title, Cron: cmd.Cron}
	if strings.TrimSpace(cmd.Time) != "" {
		at, err := schedule.ParseWhen(cmd.Time, p.now(), loc)
		if err != nil {
			return "", fmt.Errorf("%w: %v", schedule.ErrInvalidRequest, err)
		}
		req.At = at
	}
	r, err := p.scheduler.Create(ctx, userID, req)
	if err != nil {
		return "", err
	}
	if r.Kind == schedule.KindCron {
		return fmt.Sprintf("I've set a recurring reminder: %s.", r.Title), nil
	}
	return fmt.Sprintf("I've set a reminder for %s: %s.", r.At.In(loc).Format("Mon Jan 2 at 3:04 PM"), r.Title), nil
}

func reminderApology(err error) string {
	if errors.Is(err, schedule.ErrInvalidRequest) {
		return "Sorry, I couldn't set that reminder because I didn't understand when it should go off."
	}
	return "Sorry, I couldn't set that reminder right now."
}

func (p *Processor) lights(ctx context.Context, cmd Command) (string, error) {
	if p.devices == nil {
		return "", &lights.Error{Kind: lights.KindGeneric, Message: "the lights aren't connected"}
	}
	if cmd.Scene != "" {
		out, err := p.devices.Scene(ctx, cmd.TargetName, cmd.Scene)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("I've set the %s scene in the %s.", cmd.Scene, out.TargetName), nil
	}
	lc, err := cmd.Request.Command()
	if err != nil {
		return "", &lights.Error{Kind: lights.KindGeneric, Message: "I didn't understand which lights to change"}
	}
	out, err := p.devices.Apply(ctx, lc)
	if err != nil {
		return "", err
	}
	return out.Describe(), nil
}

// record logs a successful action as a tagged system turn. Failures are
// logged only; the action already happened.
func (p *Processor) record(ctx context.Context, userID, kind, msg string) {
	if p.log == nil {
		return
	}
	err := p.log.AppendTurn(context.WithoutCancel(ctx), userID, "system", "Action taken: "+msg, memory.Meta{
		Tags:  []string{"action", kind},
		Topic: kind,
	})
	if err != nil {
		p.logger.Warn("logging action failed", "user_id", userID, "kind", kind, "error", err)
	}
}

func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
