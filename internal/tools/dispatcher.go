package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/mira/internal/identity"
	"github.com/kalambet/mira/internal/lights"
	"github.com/kalambet/mira/internal/llm"
	"github.com/kalambet/mira/internal/memory"
	"github.com/kalambet/mira/internal/search"
)

// RefusalText is returned, with no side effects, when the caller lacks the
// permission a tool's category requires.
const RefusalText = "This action is not available for this account, so I can't do it. Let the user know and continue without it."

const defaultToolTimeout = 20 * time.Second

// Recorder stores a summary of each successful call for later recall.
type Recorder interface {
	RecordTool(ctx context.Context, userID, tool, input, summary string) error
}

// Auditor durably records privileged calls.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry) error
}

type Dispatcher struct {
	registry *Registry
	recorder Recorder
	audit    Auditor
	writes   *memory.WriteSet
	logger   *slog.Logger

	// Timeout bounds each tool body.
	Timeout time.Duration
}

// NewDispatcher wires the dispatcher. recorder and audit may be nil.
// writes tracks memory recordings made through Invoke; turns pass their
// own write set to Executor instead.
func NewDispatcher(registry *Registry, recorder Recorder, audit Auditor, writes *memory.WriteSet) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		recorder: recorder,
		audit:    audit,
		writes:   writes,
		logger:   slog.Default(),
		Timeout:  defaultToolTimeout,
	}
}

func (d *Dispatcher) Schemas(p identity.Permissions) []llm.ToolSchema {
	return d.registry.Schemas(p)
}

// Invoke runs the named tool for p and returns the text injected back into
// the generation stream. It never returns an error: refusals and failures
// are folded into the text.
func (d *Dispatcher) Invoke(ctx context.Context, name string, input json.RawMessage, p identity.Permissions) string {
	return d.invoke(ctx, name, input, p, d.writes)
}

// Executor adapts the dispatcher to the generation tool loop, recording
// memory writes into ws.
func (d *Dispatcher) Executor(p identity.Permissions, ws *memory.WriteSet) llm.ExecuteFunc {
	return func(ctx context.Context, call llm.ToolCall) string {
		return d.invoke(ctx, call.Name, json.RawMessage(call.Arguments), p, ws)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, name string, input json.RawMessage, p identity.Permissions, ws *memory.WriteSet) string {
	t, ok := d.registry.Lookup(name)
	if !ok {
		return fmt.Sprintf("There is no tool called %q.", name)
	}
	if !t.Category.Allowed(p) {
		d.logger.Info("tool refused", "tool", name, "category", t.Category.String(), "user_id", p.UserID)
		return RefusalText
	}

	runCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	result, err := t.Run(runCtx, Call{Perms: p, Args: input})
	cancel()

	if t.Category.Privileged() {
		d.auditCall(ctx, t, p, input, err)
	}
	if err != nil {
		d.logger.Warn("tool failed", "tool", name, "user_id", p.UserID, "error", err)
		return failureText(name, err)
	}

	// A superseded or interrupted turn keeps no memory of late results.
	if ctx.Err() != nil {
		d.logger.Debug("dropping tool result after turn cancelled", "tool", name, "user_id", p.UserID)
		return result
	}
	if d.recorder != nil && ws != nil {
		in := string(input)
		ws.Go("record_tool:"+name, func(ctx context.Context) error {
			return d.recorder.RecordTool(ctx, p.UserID, name, in, result)
		})
	}
	return result
}

// auditCall writes on a context detached from the turn so an interrupt
// cannot drop the entry.
func (d *Dispatcher) auditCall(ctx context.Context, t Tool, p identity.Permissions, input json.RawMessage, runErr error) {
	if d.audit == nil {
		return
	}
	outcome := "ok"
	if runErr != nil {
		outcome = "error"
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := d.audit.Record(actx, AuditEntry{
		UserID:   p.UserID,
		Tool:     t.Name,
		Category: t.Category.String(),
		Input:    string(input),
		Outcome:  outcome,
	})
	if err != nil {
		d.logger.Error("audit write failed", "tool", t.Name, "user_id", p.UserID, "error", err)
	}
}

// failureText renders err for the model without leaking provider details.
func failureText(name string, err error) string {
	var argErr *ArgError
	var lightErr *lights.Error
	switch {
	case errors.As(err, &argErr):
		return fmt.Sprintf("The %s call had %s. Fix the arguments and try again.", name, argErr.Error())
	case errors.As(err, &lightErr):
		return lights.UserMessage(err)
	case errors.Is(err, search.ErrRateLimited):
		return "Web search is receiving too many requests right now. Answer from what you know and say results may be out of date."
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("The %s tool took too long to respond.", name)
	default:
		var safe *SafeError
		if errors.As(err, &safe) {
			return safe.Message
		}
		return fmt.Sprintf("The %s tool failed. Tell the user it is unavailable right now.", name)
	}
}

// SafeError carries a message written for the model.
type SafeError struct {
	Message string
}

func (e *SafeError) Error() string { return e.Message }
