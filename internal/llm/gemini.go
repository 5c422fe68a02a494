package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

var _ Provider = (*Gemini)(nil)

// Gemini generates with the Google Gen AI SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Generate(ctx context.Context, msgs []Message) (string, error) {
	contents, system := toContents(msgs)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: system,
	})
	if err != nil {
		return "", classifyGeminiError(err)
	}
	return resp.Text(), nil
}

func (g *Gemini) StreamWithTools(ctx context.Context, msgs []Message, tools []ToolSchema, exec ExecuteFunc) iter.Seq2[Token, error] {
	return runToolLoop(ctx, msgs, tools, exec, g.round)
}

func (g *Gemini) round(ctx context.Context, msgs []Message, tools []ToolSchema, emit func(string) bool) ([]ToolCall, string, error) {
	contents, system := toContents(msgs)
	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if len(tools) > 0 {
		config.Tools = toGenaiTools(tools)
	}

	var text strings.Builder
	var calls []ToolCall
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if err != nil {
			return nil, text.String(), classifyGeminiError(err)
		}
		if resp == nil {
			continue
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
					if !emit(part.Text) {
						return nil, text.String(), nil
					}
				}
				if fc := part.FunctionCall; fc != nil {
					args, err := json.Marshal(fc.Args)
					if err != nil {
						args = []byte("{}")
					}
					id := fc.ID
					if id == "" {
						id = "call-" + uuid.New().String()
					}
					calls = append(calls, ToolCall{ID: id, Name: fc.Name, Arguments: string(args)})
				}
			}
		}
	}
	return calls, text.String(), nil
}

// toContents converts messages to genai contents. System messages are
// joined into the system instruction in order.
func toContents(msgs []Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system []string
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: map[string]any{"result": m.Content},
				}}},
			})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	return contents, instruction
}

var genaiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"integer": genai.TypeInteger,
	"number":  genai.TypeNumber,
	"boolean": genai.TypeBoolean,
}

func toGenaiTools(tools []ToolSchema) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]*genai.Schema, len(t.Params))
		for name, p := range t.Params {
			typ, ok := genaiTypes[p.Type]
			if !ok {
				typ = genai.TypeString
			}
			props[name] = &genai.Schema{Type: typ, Description: p.Description, Enum: p.Enum}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   t.Required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// classifyGeminiError maps quota exhaustion onto ErrRateLimited.
func classifyGeminiError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("gemini: %w", &RateLimitError{Status: 429})
	}
	return fmt.Errorf("gemini: %w", err)
}
