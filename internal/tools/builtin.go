package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/mira/internal/identity"
	"github.com/kalambet/mira/internal/lights"
	"github.com/kalambet/mira/internal/llm"
	"github.com/kalambet/mira/internal/memory"
	"github.com/kalambet/mira/internal/search"
	"github.com/kalambet/mira/internal/workspace"
)

type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// Notes is the workspace provider surface.
type Notes interface {
	Search(ctx context.Context, owner, query string, limit int) ([]workspace.Entry, error)
	Get(ctx context.Context, owner, id string) (workspace.Entry, error)
	Create(ctx context.Context, e workspace.Entry) (workspace.Entry, error)
	Update(ctx context.Context, owner, id string, p workspace.Patch) (workspace.Entry, error)
	Changes(ctx context.Context, owner string, since time.Time) ([]workspace.Entry, error)
	ListByKind(ctx context.Context, owner, kind string) ([]workspace.Entry, error)
}

type Devices interface {
	Apply(ctx context.Context, cmd lights.Command) (lights.Outcome, error)
	Scene(ctx context.Context, group, scene string) (lights.Outcome, error)
}

type FeedbackSource interface {
	ScanFeedback(ctx context.Context, opts memory.ScanOptions) ([]memory.Snippet, error)
}

type MasterSource interface {
	GetMasterConfig(ctx context.Context) (identity.MasterConfig, error)
}

// Deps are the providers behind the built-in tools. A nil provider leaves
// its tools unregistered.
type Deps struct {
	Search     WebSearcher
	Workspace  Notes
	Lights     Devices
	Feedback   FeedbackSource
	Classifier llm.Generator
	Master     MasterSource
}

// RegisterDefaults registers every built-in tool whose provider is set.
func RegisterDefaults(r *Registry, d Deps) error {
	var all []Tool
	if d.Search != nil {
		all = append(all, webSearchTool(d.Search))
	}
	if d.Workspace != nil {
		all = append(all, workspaceTools(d.Workspace)...)
		if d.Master != nil {
			all = append(all, teamTools(d.Workspace, d.Master)...)
		}
	}
	if d.Lights != nil {
		all = append(all, lightsTools(d.Lights)...)
	}
	if d.Feedback != nil {
		all = append(all, feedbackTool(d.Feedback, d.Classifier))
	}
	for _, t := range all {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func webSearchTool(s WebSearcher) Tool {
	return Tool{
		Name:     "web_search",
		Category: CategorySearch,
		Schema: llm.ToolSchema{
			Description: "Search the web for current information.",
			Params: map[string]llm.Param{
				"query": {Type: "string", Description: "What to search for"},
				"limit": {Type: "integer", Description: "Maximum results (default 5)"},
			},
			Required: []string{"query"},
		},
		Run: func(ctx context.Context, c Call) (string, error) {
			var args struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := c.Bind(&args); err != nil {
				return "", err
			}
			if strings.TrimSpace(args.Query) == "" {
				return "", &ArgError{Err: errors.New("query is required")}
			}
			results, err := s.Search(ctx, args.Query, args.Limit)
			if err != nil {
				return "", err
			}
			return search.Format(args.Query, results), nil
		},
	}
}

func formatEntries(header string, entries []workspace.Entry) string {
	if len(entries) == 0 {
		return header + ": none."
	}
	var b strings.Builder
	b.WriteString(header + ":\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s", e.ID, e.Title)
		if e.Status != "" {
			fmt.Fprintf(&b, " (%s)", e.Status)
		}
		if body := firstLine(e.Body, 160); body != "" {
			b.WriteString(": " + body)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > n {
		s = string(r[:n]) + "..."
	}
	return s
}

func notFound(err error, what string) error {
	if errors.Is(err, workspace.ErrNotFound) {
		return &SafeError{Message: "No " + what + " with that id exists."}
	}
	return err
}

func workspaceTools(n Notes) []Tool {
	return []Tool{
		{
			Name:     "workspace_search",
			Category: CategoryWorkspaceRead,
			Schema: llm.ToolSchema{
				Description: "Search the user's workspace notes.",
				Params: map[string]llm.Param{
					"query": {Type: "string"},
					"limit": {Type: "integer"},
				},
				Required: []string{"query"},
			},
			Run: func(ctx context.Context, c Call) (string, error) {
				var args struct {
					Query string `json:"query"`
					Limit int    `json:"limit"`
				}
				if err := c.Bind(&args); err != nil {
					return "", err
				}
				entries, err := n.Search(ctx, c.Perms.UserID, args.Query, args.Limit)
				if err != nil {
					return "", err
				}
				return formatEntries(fmt.Sprintf("Notes matching %q", args.Query), entries), nil
			},
		},
		{
			Name:     "workspace_read",
			Category: CategoryWorkspaceRead,
			Schema: llm.ToolSchema{
				Description: "Read one workspace note in full.",
				Params:      map[string]llm.Param{"id": {Type: "string"}},
				Required:    []string{"id"},
			},
			Run: func(ctx context.Context, c Call) (string, error) {
				var args struct {
					ID string `json:"id"`
				}
				if err := c.Bind(&args); err != nil {
					return "", err
				}
				e, err := n.Get(ctx, c.Perms.UserID, args.ID)
				if err != nil {
					return "", notFound(err, "note")
				}
				return fmt.Sprintf("%s\n\n%s", e.Title, e.Body), nil
			},
		},
		{
			Name:     "workspace_create",
			Category: CategoryWorkspaceWrite,
			Schema: llm.ToolSchema{
				Description: "Create a workspace note.",
				Params: map[string]llm.Param{
					"title": {Type: "string"},
					"body":  {Type: "string"},
				},
				Required: []string{"title"},
			},
			Run: func(ctx context.Context, c Call) (string, error) {
				var args struct {
					Title string `json:"title"`
					Body  string `json:"body"`
				}
				if err := c.Bind(&args); err != nil {
					return "", err
				}
				e, err := n.Create(ctx, workspace.Entry{
					OwnerUserID: c.Perms.UserID,
					Kind:        workspace.KindNote,
					Title:       args.Title,
					Body:        args.Body,
					Source:      "assistant",
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Created note %q (id %s).", e.Title, e.ID), nil
			},
		},
		{
			Name:     "workspace_update",
			Category: CategoryWorkspaceWrite,
			Schema: llm.ToolSchema{
				Description: "Update a workspace note. Omitted fields are kept.",
				Params: map[string]llm.Param{
					"id":    {Type: "string"},
					"title": {Type: "string"},
					"body":  {Type: "string"},
				},
				Required: []string{"id"},
			},
			Run: func(ctx context.Context, c Call) (string, error) {
				var args struct {
					ID string `json:"id"`
					workspace.Patch
				}
				if err := c.Bind(&args); err != nil {
					return "", err
				}
				args.Patch.Status = nil
				e, err := n.Update(ctx, c.Perms.UserID, args.ID, args.Patch)
				if err != nil {
					return "", notFound(err, "note")
				}
				return fmt.Sprintf("Updated note %q.", e.Title), nil
			},
		},
		{
			Name:     "workspace_changes",
			Category: CategoryWorkspaceRead,
			Schema: llm.ToolSchema{
				Description: "List notes changed recently.",
				Params: map[string]llm.Param{
					"since": {Type: "string", Description: "Go duration such as 24h or an RFC 3339 time (default 24h)"},
				},
			},
			Run: func(ctx context.Context, c Call) (string, error) {
				var args struct {
					Since string `json:"since"`
				}
				if err := c.Bind(&args); err != nil {
					return "", err
				}
				since, err := parseSince(args.Since, time.Now())
				if err != nil {
					return "", &ArgError{Err: err}
				}
				entries, err := n.Changes(ctx, c.Perms.UserID, since)
				if err != nil {
					return "", err
				}
				return formatEntries("Notes changed since "+since.Format(time.RFC3339), entries), nil
			},
		},
	}
}

func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Add(-24 * time.Hour), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("since %q is neither a duration nor an RFC 3339 time", s)
	}
	return t, nil
}

// teamOwner is the workspace owner of the shared sprint and backlog.
func teamOwner(ctx context.Context, m MasterSource) (string, error) {
	mc, err := m.GetMasterConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading master config: %w", err)
	}
	if mc.WorkforceTeam == "" {
		return "", &SafeError{Message: "No workforce team is configured."}
	}
	return "team:" + mc.WorkforceTeam, nil
}

func teamTools(n Notes, m MasterSource) []Tool {
	return []Tool{
		{
			Name:     "sprint_read",
			Category: CategorySprintRead,
			Schema:   llm.ToolSchema{Description: "List the current sprint items."},
			Run: func(ctx context.Context, c Call) (string, error) {
				owner, err := teamOwner(ctx, m)
				if err != nil {
					return "", err
				}
				entries, err := n.ListByKind(ctx, owner, workspace.KindSprint)
				if err != nil {
					return "", err
				}
				return formatEntries("Sprint items", entries), nil
			},
		},
		{
			Name:     "sprint_update",
			Category: CategorySprintWrite,
			Schema: llm.ToolSchema{
				Description: "Change the status of a sprint item.",
				Params: map[string]llm.Param{
					"id":     {Type: "string"},
					"status": {Type: "string", Enum: []string{"todo", "in_progress", "blocked", "done"}},
				},
				Required: []string{"id", "status"},
			},
			Run: func(ctx context.Context, c Call) (string, error) {
				var args struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				}
				if err := c.Bind(&args); err != nil {
					return "", err
				}
				owner, err := teamOwner(ctx, m)
				if err != nil {
					return "", err
				}
				e, err := n.Update(ctx, owner, args.ID, workspace.Patch{Status: &args.Status})
				if err != nil {
					return "", notFound(err, "sprint item")
				}
				return fmt.Sprintf("Sprint item %q is now %s.", e.Title, e.Status), nil
			},
		},
		{
			Name:     "backlog_create",
			Category: CategoryBacklogWrite,
			Schema: llm.ToolSchema{
				Description: "File a new backlog item for the team.",
				Params: map[string]llm.Param{
					"title": {Type: "string"},
					"body":  {Type: "string"},
				},
				Required: []string{"title"},
			},
			Run: func(ctx context.Context, c Call) (string, error) {
				var args struct {
					Title string `json:"title"`
					Body  string `json:"body"`
				}
				if err := c.Bind(&args); err != nil {
					return "", err
				}
				owner, err := teamOwner(ctx, m)
				if err != nil {
					return "", err
				}
				e, err := n.Create(ctx, workspace.Entry{
					OwnerUserID: owner,
					Kind:        workspace.KindBacklog,
					Title:       args.Title,
					Body:        args.Body,
					Status:      "new",
					Source:      c.Perms.UserID,
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Filed backlog item %q (id %s).", e.Title, e.ID), nil
			},
		},
	}
}

func lightsTools(d Devices) []Tool {
	return []Tool{
		{
			Name:     "lights_control",
			Category: CategoryDeviceControl,
			Schema: llm.ToolSchema{
				Description: "Change a light, room or zone. Address the target by id or by name.",
				Params: map[string]llm.Param{
					"targetType": {Type: "string", Enum: []string{lights.TargetLight, lights.TargetRoom, lights.TargetZone}},
					"targetId":   {Type: "string"},
					"targetName": {Type: "string"},
					"state":      {Type: "string", Enum: []string{"on", "off"}},
					"brightness": {Type: "integer", Description: "0 to 100"},
					"color":      {Type: "string"},
				},
			},
			Run: func(ctx context.Context, c Call) (string, error) {
				var args lights.Request
				if err := c.Bind(&args); err != nil {
					return "", err
				}
				cmd, err := args.Command()
				if err != nil {
					return "", &ArgError{Err: err}
				}
				out, err := d.Apply(ctx, cmd)
				if err != nil {
					return "", err
				}
				return out.Describe(), nil
			},
		},
		{
			Name:     "lights_scene",
			Category: CategoryDeviceControl,
			Schema: llm.ToolSchema{
				Description: "Recall a lighting scene in a room or zone.",
				Params: map[string]llm.Param{
					"group": {Type: "string", Description: "Room or zone name"},
					"scene": {Type: "string"},
				},
				Required: []string{"group", "scene"},
			},
			Run: func(ctx context.Context, c Call) (string, error) {
				var args struct {
					Group string `json:"group"`
					Scene string `json:"scene"`
				}
				if err := c.Bind(&args); err != nil {
					return "", err
				}
				out, err := d.Scene(ctx, args.Group, args.Scene)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("I've set the %s scene in the %s.", args.Scene, out.TargetName), nil
			},
		},
	}
}
