// Package tools is the tool dispatcher: a closed set of tool categories,
// each with its own authorization predicate, and a registry of typed
// handlers keyed by tool name.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/mira/internal/identity"
	"github.com/kalambet/mira/internal/llm"
)

// Category groups tools that share an authorization predicate.
type Category int

const (
	CategorySearch Category = iota
	CategoryWorkspaceRead
	CategoryWorkspaceWrite
	CategoryDeviceControl
	CategorySprintRead
	CategorySprintWrite
	CategoryBacklogWrite
	CategoryAdminScan
)

func (c Category) String() string {
	switch c {
	case CategorySearch:
		return "search"
	case CategoryWorkspaceRead:
		return "workspace-read"
	case CategoryWorkspaceWrite:
		return "workspace-write"
	case CategoryDeviceControl:
		return "device-control"
	case CategorySprintRead:
		return "sprint-read"
	case CategorySprintWrite:
		return "sprint-write"
	case CategoryBacklogWrite:
		return "backlog-write"
	case CategoryAdminScan:
		return "admin-scan"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Allowed reports whether p grants c. Grants are independent: holding one
// never implies another. Unknown categories are denied.
func (c Category) Allowed(p identity.Permissions) bool {
	switch c {
	case CategorySearch:
		return p.CanSearchWeb
	case CategoryWorkspaceRead:
		return p.WorkspaceConnected
	case CategoryWorkspaceWrite:
		return p.WorkspaceConnected
	case CategoryDeviceControl:
		return p.LightsConnected
	case CategorySprintRead:
		return p.CanReadSprint
	case CategorySprintWrite:
		return p.CanWriteSprint
	case CategoryBacklogWrite:
		return p.CanWriteBacklog
	case CategoryAdminScan:
		return p.IsAdmin
	default:
		return false
	}
}

// Privileged categories get a durable audit entry on every authorized call.
func (c Category) Privileged() bool {
	switch c {
	case CategorySprintWrite, CategoryBacklogWrite, CategoryAdminScan:
		return true
	default:
		return false
	}
}

// Call is what a handler receives.
type Call struct {
	Perms identity.Permissions
	Args  json.RawMessage
}

// Bind decodes the call arguments into v.
func (c Call) Bind(v any) error {
	args := c.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return &ArgError{Err: err}
	}
	return nil
}

// ArgError reports malformed tool arguments. Its message is safe to show
// the model.
type ArgError struct {
	Err error
}

func (e *ArgError) Error() string { return "invalid arguments: " + e.Err.Error() }
func (e *ArgError) Unwrap() error { return e.Err }

// Handler runs one tool and returns the text fed back to the model.
type Handler func(ctx context.Context, call Call) (string, error)

type Tool struct {
	Name     string
	Category Category
	Schema   llm.ToolSchema
	Run      Handler
}

// Registry maps tool names to handlers, preserving registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("tool needs a name and a handler")
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	t.Schema.Name = t.Name
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schemas lists the tools p may call, in registration order.
func (r *Registry) Schemas(p identity.Permissions) []llm.ToolSchema {
	var out []llm.ToolSchema
	for _, name := range r.order {
		t := r.tools[name]
		if t.Category.Allowed(p) {
			out = append(out, t.Schema)
		}
	}
	return out
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
