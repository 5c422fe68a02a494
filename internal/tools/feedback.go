package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/mira/internal/llm"
	"github.com/kalambet/mira/internal/memory"
)

// ClassificationFailed prefixes the raw scan results when the classifier
// output cannot be used.
const ClassificationFailed = "Raw results available, classification failed."

const classifierPrompt = `You group product feedback. You receive numbered user messages.
Reply with JSON only, no prose, in this shape:
{"themes":[{"theme":"short name","sentiment":"positive|negative|mixed","count":1,"examples":[1,2]}]}
"examples" lists message numbers.`

// Theme is one classified feedback group.
type Theme struct {
	Theme     string `json:"theme"`
	Sentiment string `json:"sentiment"`
	Count     int    `json:"count"`
	Examples  []int  `json:"examples"`
}

func feedbackTool(src FeedbackSource, classifier llm.Generator) Tool {
	return Tool{
		Name:     "feedback_scan",
		Category: CategoryAdminScan,
		Schema: llm.ToolSchema{
			Description: "Collect product feedback from conversations across all users and group it by theme.",
			Params: map[string]llm.Param{
				"days":     {Type: "integer", Description: "How many days back to scan (default 7)"},
				"keywords": {Type: "string", Description: "Optional comma-separated keywords"},
				"limit":    {Type: "integer", Description: "Maximum messages (default 50)"},
			},
		},
		Run: func(ctx context.Context, c Call) (string, error) {
			var args struct {
				Days     int    `json:"days"`
				Keywords string `json:"keywords"`
				Limit    int    `json:"limit"`
			}
			if err := c.Bind(&args); err != nil {
				return "", err
			}
			if args.Days <= 0 {
				args.Days = 7
			}
			var keywords []string
			for _, k := range strings.Split(args.Keywords, ",") {
				if k = strings.TrimSpace(k); k != "" {
					keywords = append(keywords, k)
				}
			}

			snippets, err := src.ScanFeedback(ctx, memory.ScanOptions{
				Since:    time.Now().Add(-time.Duration(args.Days) * 24 * time.Hour),
				Keywords: keywords,
				Limit:    args.Limit,
			})
			if err != nil {
				return "", err
			}
			if len(snippets) == 0 {
				return fmt.Sprintf("No feedback found in the last %d days.", args.Days), nil
			}
			return classify(ctx, classifier, snippets), nil
		},
	}
}

// classify runs the second stage of the scan. Any classifier failure
// degrades to the raw list.
func classify(ctx context.Context, g llm.Generator, snippets []memory.Snippet) string {
	raw := formatSnippets(snippets)
	if g == nil {
		return ClassificationFailed + "\n" + raw
	}
	out, err := g.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: classifierPrompt},
		{Role: llm.RoleUser, Content: raw},
	})
	if err != nil {
		slog.Warn("feedback classification failed", "error", err)
		return ClassificationFailed + "\n" + raw
	}
	themes, err := parseThemes(out)
	if err != nil {
		slog.Warn("feedback classifier returned malformed output", "error", err)
		return ClassificationFailed + "\n" + raw
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Feedback from %d messages, %d themes:\n", len(snippets), len(themes))
	for _, t := range themes {
		fmt.Fprintf(&b, "- %s (%s, %d)", t.Theme, t.Sentiment, t.Count)
		for _, n := range t.Examples {
			if n >= 1 && n <= len(snippets) {
				fmt.Fprintf(&b, "\n    e.g. %q", firstLine(snippets[n-1].Text, 120))
				break
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSnippets(snippets []memory.Snippet) string {
	var b strings.Builder
	for i, s := range snippets {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, s.CreatedAt.Format("2006-01-02"), firstLine(s.Text, 300))
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseThemes accepts the classifier JSON, optionally wrapped in a code fence.
func parseThemes(out string) ([]Theme, error) {
	s := strings.TrimSpace(out)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var resp struct {
		Themes []Theme `json:"themes"`
	}
	if err := json.Unmarshal([]byte(s), &resp); err != nil {
		return nil, err
	}
	if len(resp.Themes) == 0 {
		return nil, fmt.Errorf("no themes in classifier output")
	}
	return resp.Themes, nil
}
